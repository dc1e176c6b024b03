package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/aviz85/purim/internal/auth"
	"github.com/aviz85/purim/internal/common"
	"github.com/aviz85/purim/internal/job"
	"github.com/aviz85/purim/internal/memq"
	"github.com/aviz85/purim/internal/poller"
	"github.com/aviz85/purim/internal/song"
	"github.com/aviz85/purim/internal/suno"
	"github.com/aviz85/purim/internal/validation"
)

// completeCallback builds a "complete" callback the way the generation
// API posts it, snake_case track fields included.
func completeCallback(t *testing.T, taskID, audioURL string) suno.CallbackPayload {
	t.Helper()
	raw := fmt.Sprintf(`{"data":{"task_id":%q,"callbackType":"complete","data":[{"audio_url":%q}]}}`, taskID, audioURL)
	var p suno.CallbackPayload
	require.NoError(t, json.Unmarshal([]byte(raw), &p))
	return p
}

type fakeUpstream struct {
	mu          sync.Mutex
	generateReq suno.GenerateRequest
	generateErr error
	taskID      string

	statuses []song.Status
	track    *song.Track
	calls    int
}

func (f *fakeUpstream) Generate(ctx context.Context, req suno.GenerateRequest) (*suno.GenerateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generateReq = req
	if f.generateErr != nil {
		return nil, f.generateErr
	}
	return &suno.GenerateResult{
		TaskID:   f.taskID,
		Envelope: suno.Envelope{Code: 200, Msg: "success", Data: suno.GenerateData{TaskID: f.taskID}},
	}, nil
}

func (f *fakeUpstream) RecordInfo(ctx context.Context, taskID string) (*suno.RecordInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status := f.statuses[len(f.statuses)-1]
	if f.calls < len(f.statuses) {
		status = f.statuses[f.calls]
	}
	f.calls++
	return &suno.RecordInfo{
		TaskID:   taskID,
		Status:   status,
		Track:    f.track,
		Envelope: suno.Envelope{Code: 200, Msg: "success", Data: suno.RecordData{TaskID: taskID, Status: status}},
	}, nil
}

type fakeStore struct {
	mu    sync.Mutex
	songs map[string]*song.Song
}

func newFakeStore() *fakeStore {
	return &fakeStore{songs: make(map[string]*song.Song)}
}

func (f *fakeStore) CreatePending(ctx context.Context, s *song.Song) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.songs[s.TaskID]; ok {
		return nil
	}
	cp := *s
	f.songs[s.TaskID] = &cp
	return nil
}

func (f *fakeStore) UpsertStatus(ctx context.Context, taskID string, status song.Status, track *song.Track) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.songs[taskID]
	if !ok {
		existing = &song.Song{TaskID: taskID, Status: song.StatusPending}
		f.songs[taskID] = existing
	}
	// Same rank guard the SQL upsert applies.
	if existing.Status.Rank() > status.Rank() {
		return false, nil
	}
	if existing.Status == status && track == nil {
		existing.Status = status
		return true, nil
	}
	existing.Status = status
	if track != nil {
		if track.AudioURL != "" {
			existing.AudioURL = track.AudioURL
		}
		if track.StreamAudioURL != "" {
			existing.StreamAudioURL = track.StreamAudioURL
		}
		if track.ImageURL != "" {
			existing.ImageURL = track.ImageURL
		}
	}
	return true, nil
}

func (f *fakeStore) GetByTaskID(ctx context.Context, taskID string) (*song.Song, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.songs[taskID]
	if !ok {
		return nil, common.ErrSongNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeStore) ListRecent(ctx context.Context, limit int) ([]song.Song, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]song.Song, 0, len(f.songs))
	for _, s := range f.songs {
		out = append(out, *s)
	}
	return out, nil
}

type fakePublisher struct {
	mu      sync.Mutex
	updates []song.Update
}

func (f *fakePublisher) PublishUpdate(ctx context.Context, u song.Update) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, u)
	return nil
}

func (f *fakePublisher) all() []song.Update {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]song.Update, len(f.updates))
	copy(out, f.updates)
	return out
}

type fakeQueue struct {
	mu   sync.Mutex
	jobs []*job.Job
}

func (f *fakeQueue) Enqueue(ctx context.Context, j *job.Job) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, j)
	return uuid.New(), nil
}

func (f *fakeQueue) Status(ctx context.Context, id uuid.UUID) (*job.Job, bool) { return nil, false }

func (f *fakeQueue) StartConsumers(ctx context.Context, n int, handler memq.JobHandler) {}
func (f *fakeQueue) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs)
}
func (f *fakeQueue) Close() error { return nil }

func testConfig() Config {
	return Config{
		PublicBaseURL:  "http://localhost:8080",
		CallbackSecret: "test-secret",
		Poll:           poller.Config{Interval: 5 * time.Millisecond, MaxAttempts: 50, StopOnFailure: true},
	}
}

func validReq() validation.GenerateRequest {
	return validation.GenerateRequest{Prompt: "a song", Style: "pop", Title: "Hello"}
}

func TestSubmit_HappyPath(t *testing.T) {
	up := &fakeUpstream{taskID: "task-1", statuses: []song.Status{song.StatusPending}}
	store := newFakeStore()
	pub := &fakePublisher{}
	svc := NewService(testConfig(), up, store, pub, &fakeQueue{}, nil)
	defer svc.Close()

	env, err := svc.Submit(context.Background(), validReq())
	require.NoError(t, err)

	data, ok := env.Data.(suno.GenerateData)
	require.True(t, ok, "envelope should carry GenerateData")
	require.Equal(t, "task-1", data.TaskID)

	stored, err := store.GetByTaskID(context.Background(), "task-1")
	require.NoError(t, err)
	require.Equal(t, song.StatusPending, stored.Status)
	require.Equal(t, "Hello", stored.Title)

	updates := pub.all()
	require.NotEmpty(t, updates)
	require.Equal(t, song.StatusPending, updates[0].Status)
}

func TestSubmit_CallbackURLCarriesVerifiableToken(t *testing.T) {
	up := &fakeUpstream{taskID: "task-1", statuses: []song.Status{song.StatusPending}}
	svc := NewService(testConfig(), up, newFakeStore(), &fakePublisher{}, &fakeQueue{}, nil)
	defer svc.Close()

	_, err := svc.Submit(context.Background(), validReq())
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(up.generateReq.CallBackURL, "http://localhost:8080/callback?token="))
	u, err := url.Parse(up.generateReq.CallBackURL)
	require.NoError(t, err)
	require.NoError(t, auth.VerifyCallbackToken("test-secret", u.Query().Get("token")))
}

func TestSubmit_AppliesRequestDefaults(t *testing.T) {
	up := &fakeUpstream{taskID: "task-1", statuses: []song.Status{song.StatusPending}}
	svc := NewService(testConfig(), up, newFakeStore(), &fakePublisher{}, &fakeQueue{}, nil)
	defer svc.Close()

	_, err := svc.Submit(context.Background(), validReq())
	require.NoError(t, err)

	require.True(t, up.generateReq.CustomMode)
	require.True(t, up.generateReq.Instrumental)
	require.Equal(t, "V3_5", up.generateReq.Model)
}

func TestSubmit_UpstreamErrorSurfaces(t *testing.T) {
	up := &fakeUpstream{generateErr: common.NewUpstreamError(429, "insufficient credits", "")}
	store := newFakeStore()
	svc := NewService(testConfig(), up, store, &fakePublisher{}, &fakeQueue{}, nil)
	defer svc.Close()

	_, err := svc.Submit(context.Background(), validReq())
	require.ErrorIs(t, err, common.ErrUpstream)
	require.Empty(t, store.songs, "no row should be written on failed submission")
}

func TestSubmit_StartsPolling(t *testing.T) {
	up := &fakeUpstream{taskID: "task-1", statuses: []song.Status{song.StatusPending, song.StatusSuccess}}
	store := newFakeStore()
	svc := NewService(testConfig(), up, store, &fakePublisher{}, &fakeQueue{}, nil)
	defer svc.Close()

	_, err := svc.Submit(context.Background(), validReq())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s, err := store.GetByTaskID(context.Background(), "task-1")
		return err == nil && s.Status == song.StatusSuccess
	}, 2*time.Second, 10*time.Millisecond, "poll session should drive the row to SUCCESS")

	require.Eventually(t, func() bool {
		return !svc.Polling("task-1")
	}, 2*time.Second, 10*time.Millisecond, "session should end after SUCCESS")
}

func TestCheckStatus_PersistsAndPublishes(t *testing.T) {
	track := &song.Track{StreamAudioURL: "http://cdn/stream.mp3"}
	up := &fakeUpstream{statuses: []song.Status{song.StatusFirstSuccess}, track: track}
	store := newFakeStore()
	pub := &fakePublisher{}
	svc := NewService(testConfig(), up, store, pub, &fakeQueue{}, nil)
	defer svc.Close()

	info, err := svc.CheckStatus(context.Background(), "task-9")
	require.NoError(t, err)
	require.Equal(t, song.StatusFirstSuccess, info.Status)

	stored, err := store.GetByTaskID(context.Background(), "task-9")
	require.NoError(t, err)
	require.Equal(t, song.StatusFirstSuccess, stored.Status)
	require.Equal(t, "http://cdn/stream.mp3", stored.StreamAudioURL)

	updates := pub.all()
	require.Len(t, updates, 1)
	require.Equal(t, 66, updates[0].Percent)
}

func TestCheckStatus_StaleObservationNotPublished(t *testing.T) {
	store := newFakeStore()
	store.songs["task-9"] = &song.Song{TaskID: "task-9", Status: song.StatusSuccess}

	up := &fakeUpstream{statuses: []song.Status{song.StatusFirstSuccess}}
	pub := &fakePublisher{}
	svc := NewService(testConfig(), up, store, pub, &fakeQueue{}, nil)
	defer svc.Close()

	_, err := svc.CheckStatus(context.Background(), "task-9")
	require.NoError(t, err)

	stored, _ := store.GetByTaskID(context.Background(), "task-9")
	require.Equal(t, song.StatusSuccess, stored.Status, "SUCCESS must not regress")
	require.Empty(t, pub.all(), "stale writes must not fan out")
}

func TestHandleCallback_RecordsSuccessAndEnqueuesArchive(t *testing.T) {
	store := newFakeStore()
	store.songs["task-5"] = &song.Song{TaskID: "task-5", Status: song.StatusFirstSuccess, Title: "Hello"}

	pub := &fakePublisher{}
	q := &fakeQueue{}
	up := &fakeUpstream{statuses: []song.Status{song.StatusFirstSuccess}}
	svc := NewService(testConfig(), up, store, pub, q, nil)
	defer svc.Close()

	payload := completeCallback(t, "task-5", "http://cdn/final.mp3")

	require.NoError(t, svc.HandleCallback(context.Background(), payload))

	stored, err := store.GetByTaskID(context.Background(), "task-5")
	require.NoError(t, err)
	require.Equal(t, song.StatusSuccess, stored.Status)
	require.Equal(t, "http://cdn/final.mp3", stored.AudioURL)

	require.Equal(t, 1, q.Len(), "archive job should be enqueued once")
	updates := pub.all()
	require.Len(t, updates, 1)
	require.Equal(t, song.StatusSuccess, updates[0].Status)
}

func TestHandleCallback_MissingTaskID(t *testing.T) {
	svc := NewService(testConfig(), &fakeUpstream{}, newFakeStore(), &fakePublisher{}, &fakeQueue{}, nil)
	defer svc.Close()

	err := svc.HandleCallback(context.Background(), suno.CallbackPayload{})
	require.ErrorIs(t, err, common.ErrBadRequest)
}

func TestHandleCallback_NonCompleteIgnored(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	svc := NewService(testConfig(), &fakeUpstream{}, store, pub, &fakeQueue{}, nil)
	defer svc.Close()

	payload := suno.CallbackPayload{Data: suno.CallbackData{TaskID: "task-5", CallbackType: "text"}}
	require.NoError(t, svc.HandleCallback(context.Background(), payload))
	require.Empty(t, store.songs)
	require.Empty(t, pub.all())
}

func TestHandleCallback_RepeatDoesNotReEnqueueArchive(t *testing.T) {
	store := newFakeStore()
	store.songs["task-5"] = &song.Song{TaskID: "task-5", Status: song.StatusFirstSuccess}

	q := &fakeQueue{}
	svc := NewService(testConfig(), &fakeUpstream{}, store, &fakePublisher{}, q, nil)
	defer svc.Close()

	payload := completeCallback(t, "task-5", "http://cdn/final.mp3")

	require.NoError(t, svc.HandleCallback(context.Background(), payload))
	require.NoError(t, svc.HandleCallback(context.Background(), payload))
	require.Equal(t, 1, q.Len(), "second callback for a finished song must not enqueue again")
}

func TestHandleCallback_CancelsPollSession(t *testing.T) {
	up := &fakeUpstream{taskID: "task-1", statuses: []song.Status{song.StatusPending}}
	store := newFakeStore()
	cfg := testConfig()
	cfg.Poll = poller.Config{Interval: 10 * time.Millisecond, MaxAttempts: 1000}
	svc := NewService(cfg, up, store, &fakePublisher{}, &fakeQueue{}, nil)
	defer svc.Close()

	_, err := svc.Submit(context.Background(), validReq())
	require.NoError(t, err)
	require.True(t, svc.Polling("task-1"))

	payload := completeCallback(t, "task-1", "http://cdn/final.mp3")
	require.NoError(t, svc.HandleCallback(context.Background(), payload))

	require.Eventually(t, func() bool {
		return !svc.Polling("task-1")
	}, 2*time.Second, 10*time.Millisecond, "callback should stop the poll session")
}

type failingEnhancer struct{}

func (failingEnhancer) Enhance(ctx context.Context, prompt, style string) (string, error) {
	return "", errors.New("enhancer down")
}

type upperEnhancer struct{}

func (upperEnhancer) Enhance(ctx context.Context, prompt, style string) (string, error) {
	return strings.ToUpper(prompt), nil
}

func TestSubmit_EnhancerFailureFallsBackToOriginalPrompt(t *testing.T) {
	up := &fakeUpstream{taskID: "task-1", statuses: []song.Status{song.StatusPending}}
	svc := NewService(testConfig(), up, newFakeStore(), &fakePublisher{}, &fakeQueue{}, failingEnhancer{})
	defer svc.Close()

	_, err := svc.Submit(context.Background(), validReq())
	require.NoError(t, err)
	require.Equal(t, "a song", up.generateReq.Prompt)
}

func TestSubmit_EnhancedPromptUsed(t *testing.T) {
	up := &fakeUpstream{taskID: "task-1", statuses: []song.Status{song.StatusPending}}
	svc := NewService(testConfig(), up, newFakeStore(), &fakePublisher{}, &fakeQueue{}, upperEnhancer{})
	defer svc.Close()

	_, err := svc.Submit(context.Background(), validReq())
	require.NoError(t, err)
	require.Equal(t, "A SONG", up.generateReq.Prompt)
}
