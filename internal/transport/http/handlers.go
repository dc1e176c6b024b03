package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/aviz85/purim/internal/auth"
	"github.com/aviz85/purim/internal/common"
	"github.com/aviz85/purim/internal/config"
	"github.com/aviz85/purim/internal/memq"
	redisx "github.com/aviz85/purim/internal/redis"
	"github.com/aviz85/purim/internal/repository"
	"github.com/aviz85/purim/internal/song"
	"github.com/aviz85/purim/internal/suno"
	"github.com/aviz85/purim/internal/validation"
	"github.com/aviz85/purim/internal/ws"
)

// GenerationService is the slice of the generation service the handlers
// call into.
type GenerationService interface {
	Submit(ctx context.Context, req validation.GenerateRequest) (*suno.Envelope, error)
	CheckStatus(ctx context.Context, taskID string) (*suno.RecordInfo, error)
	HandleCallback(ctx context.Context, payload suno.CallbackPayload) error
	Recent(ctx context.Context, limit int) ([]song.Song, error)
}

type Handlers struct {
	Service GenerationService
	Hub     ws.Hub
	Repo    *repository.Repository
	Redis   *redisx.Service
	Queue   memq.JobQueue
	Config  config.Config
}

func (h *Handlers) Routers(r chi.Router) {
	// Submission is the only endpoint that spends upstream credits.
	r.With(httprate.LimitByIP(10, time.Minute)).Post("/generate", h.generate)
	r.Get("/status/{taskId}", h.status)
	r.Post("/callback", h.callback)
	r.Get("/songs", h.songs)
	r.Get("/ws", h.websocket)
	r.Get("/healthz", h.Health)
	r.Get("/readyz", h.Ready)

	// local archive serving
	if h.Config.StorageMode == "local" || h.Config.StorageMode == "filesystem" || h.Config.StorageMode == "" {
		r.Get("/files/*", h.serveFiles)
	}
}

func (h *Handlers) generate(w http.ResponseWriter, r *http.Request) {
	var req validation.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := validation.ValidateGenerateRequest(req); err != nil {
		var fields validation.FieldErrors
		if errors.As(err, &fields) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":   "validation failed",
				"details": fields,
			})
			return
		}
		writeError(w, http.StatusBadRequest, "validation failed")
		return
	}

	env, err := h.Service.Submit(r.Context(), req)
	if err != nil {
		slog.Error("submission failed", "title", req.Title, "err", err)
		writeError(w, http.StatusInternalServerError, errorMessage(err))
		return
	}

	writeJSON(w, http.StatusOK, env)
}

func (h *Handlers) status(w http.ResponseWriter, r *http.Request) {
	taskID := strings.TrimSpace(chi.URLParam(r, "taskId"))
	if taskID == "" {
		writeError(w, http.StatusBadRequest, "Task ID is required")
		return
	}

	info, err := h.Service.CheckStatus(r.Context(), taskID)
	if err != nil {
		slog.Error("status check failed", "task_id", taskID, "err", err)
		writeError(w, http.StatusInternalServerError, errorMessage(err))
		return
	}

	writeJSON(w, http.StatusOK, info.Envelope)
}

func (h *Handlers) callback(w http.ResponseWriter, r *http.Request) {
	if err := auth.VerifyCallbackToken(h.Config.CallbackSecret, r.URL.Query().Get("token")); err != nil {
		slog.Warn("rejected callback", "err", err)
		writeError(w, http.StatusUnauthorized, "invalid callback token")
		return
	}

	var payload suno.CallbackPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	slog.Info("callback received",
		"task_id", payload.Data.TaskID,
		"type", payload.Data.CallbackType,
		"results", len(payload.Data.Items))

	if err := h.Service.HandleCallback(r.Context(), payload); err != nil {
		slog.Error("callback handling failed", "task_id", payload.Data.TaskID, "err", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handlers) songs(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	songs, err := h.Service.Recent(r.Context(), limit)
	if err != nil {
		slog.Error("failed to list songs", "err", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if songs == nil {
		songs = []song.Song{}
	}

	writeJSON(w, http.StatusOK, songs)
}

func (h *Handlers) websocket(w http.ResponseWriter, r *http.Request) {
	feed := strings.TrimSpace(r.URL.Query().Get("taskId"))

	upgrader := ws.Upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "err", err)
		return
	}

	client := ws.NewClient(h.Hub, conn, feed)
	h.Hub.RegisterClient(client)
	client.StartPumps()
}

func (h *Handlers) serveFiles(w http.ResponseWriter, r *http.Request) {
	filePath := strings.TrimPrefix(r.URL.Path, "/files/")
	if filePath == "" {
		writeError(w, http.StatusBadRequest, "file path required")
		return
	}

	if strings.Contains(filePath, "..") {
		writeError(w, http.StatusBadRequest, "invalid file path")
		return
	}

	fullPath := filepath.Join(h.Config.LocalStorageDir, filePath)
	http.ServeFile(w, r, fullPath)
}

// errorMessage maps an error to the user-facing string: upstream errors
// carry upstream's msg, everything else stays generic.
func errorMessage(err error) string {
	if common.IsUpstream(err) {
		return err.Error()
	}
	return "Internal server error"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
