package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aviz85/purim/internal/auth"
	"github.com/aviz85/purim/internal/common"
	"github.com/aviz85/purim/internal/enhancer"
	"github.com/aviz85/purim/internal/job"
	"github.com/aviz85/purim/internal/memq"
	"github.com/aviz85/purim/internal/poller"
	"github.com/aviz85/purim/internal/song"
	"github.com/aviz85/purim/internal/suno"
	"github.com/aviz85/purim/internal/validation"
)

// Upstream is the slice of the generation API client the service uses.
type Upstream interface {
	Generate(ctx context.Context, req suno.GenerateRequest) (*suno.GenerateResult, error)
	RecordInfo(ctx context.Context, taskID string) (*suno.RecordInfo, error)
}

// SongStore is the persistence surface the service writes observations
// through.
type SongStore interface {
	CreatePending(ctx context.Context, s *song.Song) error
	UpsertStatus(ctx context.Context, taskID string, status song.Status, track *song.Track) (bool, error)
	GetByTaskID(ctx context.Context, taskID string) (*song.Song, error)
	ListRecent(ctx context.Context, limit int) ([]song.Song, error)
}

// Publisher fans a persisted change out to the realtime view.
type Publisher interface {
	PublishUpdate(ctx context.Context, u song.Update) error
}

type Config struct {
	PublicBaseURL    string
	CallbackSecret   string
	CallbackTokenTTL time.Duration // 0 means 30 minutes
	Poll             poller.Config
}

// Service owns the submit / status-check / callback flows and the race
// policy between them. All durable state lives in the store; the
// service itself only holds the active poll sessions.
type Service struct {
	upstream  Upstream
	repo      SongStore
	publisher Publisher
	queue     memq.JobQueue
	enhance   enhancer.Enhancer
	pollers   *poller.Manager
	cfg       Config
}

func NewService(cfg Config, upstream Upstream, repo SongStore, publisher Publisher, queue memq.JobQueue, enh enhancer.Enhancer) *Service {
	if enh == nil {
		enh = enhancer.Noop{}
	}
	s := &Service{
		upstream:  upstream,
		repo:      repo,
		publisher: publisher,
		queue:     queue,
		enhance:   enh,
		cfg:       cfg,
	}
	s.pollers = poller.NewManager(cfg.Poll, s.pollFetch)
	return s
}

// Submit sends the generation request upstream, records the PENDING row
// and starts a poll session for the returned task id. The upstream
// envelope is handed back to the caller. Persistence failures after a
// successful submission are logged, not surfaced: the job is already
// running and its task id must reach the caller.
func (s *Service) Submit(ctx context.Context, req validation.GenerateRequest) (*suno.Envelope, error) {
	prompt := req.Prompt
	if enhanced, err := s.enhance.Enhance(ctx, req.Prompt, req.Style); err != nil {
		slog.Warn("prompt enhancement failed, using original", "err", err)
	} else {
		prompt = enhanced
	}

	callbackURL, err := s.callbackURL()
	if err != nil {
		return nil, common.WrapInternal("build callback url", err)
	}

	result, err := s.upstream.Generate(ctx, suno.GenerateRequest{
		Prompt:       prompt,
		Style:        req.Style,
		Title:        req.Title,
		CustomMode:   true,
		Instrumental: req.InstrumentalOrDefault(),
		Model:        req.ModelOrDefault(),
		CallBackURL:  callbackURL,
	})
	if err != nil {
		return nil, err
	}

	newSong := &song.Song{
		TaskID: result.TaskID,
		Prompt: prompt,
		Style:  req.Style,
		Title:  req.Title,
		Status: song.StatusPending,
	}
	if err := s.repo.CreatePending(ctx, newSong); err != nil {
		slog.Error("failed to persist pending song", "task_id", result.TaskID, "err", err)
	} else {
		s.publish(ctx, song.NewUpdate(result.TaskID, song.StatusPending, nil))
	}

	started := s.pollers.Start(context.Background(), result.TaskID, nil)
	slog.Info("generation submitted",
		"task_id", result.TaskID,
		"title", req.Title,
		"poll_started", started)

	return &result.Envelope, nil
}

// CheckStatus performs one status observation: fetch, then best-effort
// persist and fan out. A failed write never fails the check; the caller
// still gets the fresh envelope.
func (s *Service) CheckStatus(ctx context.Context, taskID string) (*suno.RecordInfo, error) {
	info, err := s.upstream.RecordInfo(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if info.Status != "" {
		s.record(ctx, taskID, info.Status, info.Track)
	}
	return info, nil
}

// HandleCallback applies the generation API's asynchronous completion
// notification. Only "complete" callbacks with at least one result
// mutate state; everything else is acknowledged and dropped.
func (s *Service) HandleCallback(ctx context.Context, payload suno.CallbackPayload) error {
	data := payload.Data
	if data.TaskID == "" {
		return fmt.Errorf("callback without task_id: %w", common.ErrBadRequest)
	}
	if data.CallbackType != suno.CallbackTypeComplete {
		slog.Info("ignoring non-complete callback", "task_id", data.TaskID, "type", data.CallbackType)
		return nil
	}

	tracks := data.Tracks()
	if len(tracks) == 0 {
		slog.Warn("complete callback without results", "task_id", data.TaskID)
		return nil
	}

	first := tracks[0]
	s.record(ctx, data.TaskID, song.StatusSuccess, &first)

	// The poll session has nothing left to learn.
	s.pollers.Cancel(data.TaskID)
	return nil
}

// Song returns one persisted row.
func (s *Service) Song(ctx context.Context, taskID string) (*song.Song, error) {
	return s.repo.GetByTaskID(ctx, taskID)
}

// Recent returns the rows seeding the realtime view.
func (s *Service) Recent(ctx context.Context, limit int) ([]song.Song, error) {
	return s.repo.ListRecent(ctx, limit)
}

// Close cancels every active poll session and waits for them.
func (s *Service) Close() {
	s.pollers.Shutdown()
}

// Polling reports whether a session is active for the task.
func (s *Service) Polling(taskID string) bool {
	return s.pollers.Active(taskID)
}

// record persists one observation and, when the row actually changed,
// publishes it and kicks off archiving on terminal success. Write
// failures are logged only.
func (s *Service) record(ctx context.Context, taskID string, status song.Status, track *song.Track) {
	var alreadyDone bool
	if status == song.StatusSuccess {
		if prior, err := s.repo.GetByTaskID(ctx, taskID); err == nil {
			alreadyDone = prior.Status == song.StatusSuccess
		}
	}

	written, err := s.repo.UpsertStatus(ctx, taskID, status, track)
	if err != nil {
		slog.Error("failed to persist song status", "task_id", taskID, "status", status, "err", err)
		return
	}
	if !written {
		slog.Debug("stale status observation skipped", "task_id", taskID, "status", status)
		return
	}

	s.publish(ctx, song.NewUpdate(taskID, status, track))

	if status == song.StatusSuccess && !alreadyDone && track != nil && track.AudioURL != "" {
		s.enqueueArchive(ctx, taskID, track.AudioURL)
	}
}

func (s *Service) publish(ctx context.Context, u song.Update) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishUpdate(ctx, u); err != nil {
		slog.Warn("failed to publish song update", "task_id", u.TaskID, "err", err)
	}
}

func (s *Service) enqueueArchive(ctx context.Context, taskID, audioURL string) {
	if s.queue == nil {
		return
	}

	title := taskID
	if existing, err := s.repo.GetByTaskID(ctx, taskID); err == nil && existing.Title != "" {
		title = existing.Title
	}

	payload, err := json.Marshal(job.ArchivePayload{
		TaskID:   taskID,
		AudioURL: audioURL,
		Title:    title,
	})
	if err != nil {
		slog.Error("failed to marshal archive payload", "task_id", taskID, "err", err)
		return
	}

	if _, err := s.queue.Enqueue(ctx, &job.Job{Type: job.TypeArchiveAudio, Payload: payload}); err != nil {
		slog.Error("failed to enqueue archive job", "task_id", taskID, "err", err)
		return
	}
	slog.Info("archive job enqueued", "task_id", taskID)
}

// pollFetch adapts CheckStatus for the poll state machine.
func (s *Service) pollFetch(ctx context.Context, taskID string) (song.Status, error) {
	info, err := s.CheckStatus(ctx, taskID)
	if err != nil {
		return "", err
	}
	return info.Status, nil
}

func (s *Service) callbackURL() (string, error) {
	ttl := s.cfg.CallbackTokenTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	token, err := auth.NewCallbackToken(s.cfg.CallbackSecret, ttl)
	if err != nil {
		return "", err
	}
	base := strings.TrimRight(s.cfg.PublicBaseURL, "/")
	return fmt.Sprintf("%s/callback?token=%s", base, token), nil
}
