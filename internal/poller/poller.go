package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aviz85/purim/internal/common"
	"github.com/aviz85/purim/internal/song"
)

// FetchFunc performs one status check for a task. A nil error with the
// observed status advances the session; an error makes the tick
// inconclusive and the session keeps going.
type FetchFunc func(ctx context.Context, taskID string) (song.Status, error)

type Config struct {
	// Interval between ticks. Defaults to 1s, which together with the
	// default MaxAttempts of 300 gives a 5 minute ceiling.
	Interval    time.Duration
	MaxAttempts int
	// StopOnFailure stops the session when a terminal failure status is
	// observed instead of polling until timeout. The original behavior
	// (false) only stopped early on SUCCESS.
	StopOnFailure bool
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 300
	}
	return c
}

// Outcome says how a session ended.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailed
	OutcomeTimeout
	OutcomeCanceled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailed:
		return "failed"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeCanceled:
		return "canceled"
	}
	return "unknown"
}

// Result is the final state of a completed session.
type Result struct {
	Outcome    Outcome
	LastStatus song.Status
	Attempts   int
	Progress   []song.ProgressEntry
}

// Poll drives repeated status checks for one task until SUCCESS, a
// terminal failure (when configured), the attempt ceiling, or ctx
// cancellation. One tick is outstanding at a time; cancellation is
// honored at the top of each tick. The timeout outcome carries
// common.ErrPollTimeout.
func Poll(ctx context.Context, cfg Config, taskID string, fetch FetchFunc) (*Result, error) {
	cfg = cfg.withDefaults()

	var (
		attempts int
		last     song.Status
		log      song.ProgressLog
	)

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for attempts < cfg.MaxAttempts {
		if err := ctx.Err(); err != nil {
			return &Result{Outcome: OutcomeCanceled, LastStatus: last, Attempts: attempts, Progress: log.Entries()}, err
		}

		status, err := fetch(ctx, taskID)
		attempts++
		if err != nil {
			// Inconclusive tick: transient fetch failures burn an
			// attempt but never abort the session.
			slog.Warn("status check failed", "task_id", taskID, "attempt", attempts, "err", err)
		} else {
			last = status
			log.Observe(status)

			if status == song.StatusSuccess {
				return &Result{Outcome: OutcomeSuccess, LastStatus: last, Attempts: attempts, Progress: log.Entries()}, nil
			}
			if cfg.StopOnFailure && status.Failed() {
				return &Result{Outcome: OutcomeFailed, LastStatus: last, Attempts: attempts, Progress: log.Entries()}, nil
			}
		}

		if attempts >= cfg.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return &Result{Outcome: OutcomeCanceled, LastStatus: last, Attempts: attempts, Progress: log.Entries()}, ctx.Err()
		case <-ticker.C:
		}
	}

	return &Result{Outcome: OutcomeTimeout, LastStatus: last, Attempts: attempts, Progress: log.Entries()}, common.ErrPollTimeout
}

// Manager runs at most one poll session per task id and owns their
// cancellation handles.
type Manager struct {
	cfg   Config
	fetch FetchFunc

	mu       sync.Mutex
	sessions map[string]context.CancelFunc
	wg       sync.WaitGroup
}

func NewManager(cfg Config, fetch FetchFunc) *Manager {
	return &Manager{
		cfg:      cfg.withDefaults(),
		fetch:    fetch,
		sessions: make(map[string]context.CancelFunc),
	}
}

// Start launches a poll session for the task unless one is already
// running. done, when non-nil, receives the final result.
func (m *Manager) Start(ctx context.Context, taskID string, done func(*Result)) bool {
	m.mu.Lock()
	if _, running := m.sessions[taskID]; running {
		m.mu.Unlock()
		return false
	}
	sessCtx, cancel := context.WithCancel(ctx)
	m.sessions[taskID] = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			cancel()
			m.mu.Lock()
			delete(m.sessions, taskID)
			m.mu.Unlock()
		}()

		result, err := Poll(sessCtx, m.cfg, taskID, m.fetch)
		switch result.Outcome {
		case OutcomeSuccess, OutcomeFailed:
			slog.Info("poll session finished", "task_id", taskID, "outcome", result.Outcome.String(), "status", result.LastStatus, "attempts", result.Attempts)
		case OutcomeTimeout:
			slog.Warn("poll session timed out", "task_id", taskID, "attempts", result.Attempts)
		case OutcomeCanceled:
			slog.Info("poll session canceled", "task_id", taskID, "attempts", result.Attempts, "err", err)
		}
		if done != nil {
			done(result)
		}
	}()
	return true
}

// Cancel stops the session for the task, if any.
func (m *Manager) Cancel(taskID string) bool {
	m.mu.Lock()
	cancel, ok := m.sessions[taskID]
	m.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Active reports whether a session is running for the task.
func (m *Manager) Active(taskID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[taskID]
	return ok
}

// Shutdown cancels every session and waits for them to drain.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	for _, cancel := range m.sessions {
		cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}
