package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aviz85/purim/internal/archive"
	appconfig "github.com/aviz85/purim/internal/config"
	"github.com/aviz85/purim/internal/database"
	"github.com/aviz85/purim/internal/enhancer"
	"github.com/aviz85/purim/internal/generation"
	"github.com/aviz85/purim/internal/job"
	"github.com/aviz85/purim/internal/memq"
	"github.com/aviz85/purim/internal/poller"
	"github.com/aviz85/purim/internal/redis"
	"github.com/aviz85/purim/internal/repository"
	"github.com/aviz85/purim/internal/server"
	"github.com/aviz85/purim/internal/storage"
	"github.com/aviz85/purim/internal/suno"
	httpapi "github.com/aviz85/purim/internal/transport/http"
	"github.com/aviz85/purim/internal/workers"
	"github.com/aviz85/purim/internal/ws"
)

func main() {
	cfg := appconfig.Load()
	slog.Info("starting purim", "addr", cfg.HTTPAddr, "workers", cfg.QueueWorkers)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	repo := repository.New(db)
	if err := repo.Migrate(ctx); err != nil {
		slog.Error("failed to run migrations", "err", err)
		os.Exit(1)
	}

	redisService, err := redis.New(cfg.RedisURL)
	if err != nil {
		slog.Error("failed to connect to Redis", "err", err)
		os.Exit(1)
	}
	defer redisService.Close()

	storageService, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize storage", "err", err)
		os.Exit(1)
	}
	slog.Info("storage initialized", "type", storage.GetStorageType(cfg))

	q := memq.NewMemoryQueue(cfg.QueueBuf, cfg.JobMaxDuration)
	archiver := archive.NewArchiver(storageService, nil)
	archiveHandler := workers.NewArchiveHandler(repo, archiver)

	q.StartConsumers(ctx, cfg.QueueWorkers, func(ctx context.Context, j *job.Job) error {
		switch j.Type {
		case job.TypeArchiveAudio:
			return archiveHandler.HandleArchiveJob(ctx, j)
		default:
			return fmt.Errorf("unknown job type: %s", j.Type)
		}
	})

	var enh enhancer.Enhancer = enhancer.Noop{}
	if cfg.OpenAIAPIKey != "" {
		enh = enhancer.NewOpenAI(cfg.OpenAIAPIKey)
		slog.Info("prompt enhancer enabled")
	}

	sunoClient := suno.NewClient(suno.Options{
		BaseURL: cfg.SunoBaseURL,
		APIKey:  cfg.SunoAPIKey,
	})

	service := generation.NewService(generation.Config{
		PublicBaseURL:    cfg.PublicBaseURL,
		CallbackSecret:   cfg.CallbackSecret,
		CallbackTokenTTL: cfg.CallbackTokenTTL,
		Poll: poller.Config{
			Interval:      cfg.PollInterval,
			MaxAttempts:   cfg.PollMaxAttempts,
			StopOnFailure: cfg.PollStopOnFailure,
		},
	}, sunoClient, repo, redisService, q, enh)

	hub := ws.NewHub()
	go hub.Run()
	redisService.SubscribeUpdates(ctx, hub.Broadcast)

	handlers := &httpapi.Handlers{
		Service: service,
		Hub:     hub,
		Repo:    repo,
		Redis:   redisService,
		Queue:   q,
		Config:  cfg,
	}
	r := server.NewRouter(handlers)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  90 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	<-ch
	slog.Info("shutting down")

	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	_ = srv.Shutdown(shCtx)
	service.Close()
	cancel()
}
