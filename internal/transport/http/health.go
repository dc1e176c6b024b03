package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"
)

type HealthStatus struct {
	Status    string           `json:"status"`
	Timestamp string           `json:"timestamp"`
	Checks    map[string]Check `json:"checks,omitempty"`
	System    *SystemInfo      `json:"system,omitempty"`
}

type Check struct {
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

type SystemInfo struct {
	GoVersion    string `json:"go_version"`
	NumGoroutine int    `json:"num_goroutine"`
	NumCPU       int    `json:"num_cpu"`
	MemAlloc     uint64 `json:"mem_alloc_mb"`
}

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusDegraded  = "degraded"
)

// Health is the liveness probe: process is up, nothing else checked.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready checks the dependencies a submission actually needs. Postgres
// down means no song rows, so it is unhealthy; Redis down only degrades
// the realtime view.
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]Check)
	overall := StatusHealthy

	dbCheck := timedCheck(func() error { return h.Repo.DB().Pool().Ping(ctx) })
	checks["database"] = dbCheck
	if dbCheck.Status != StatusHealthy {
		overall = StatusUnhealthy
	}

	redisCheck := timedCheck(func() error { return h.Redis.Client().Ping(ctx).Err() })
	checks["redis"] = redisCheck
	if redisCheck.Status != StatusHealthy && overall == StatusHealthy {
		overall = StatusDegraded
	}

	queueCheck := Check{Status: StatusHealthy}
	if n := h.Queue.Len(); n > 500 {
		queueCheck = Check{Status: StatusDegraded, Message: fmt.Sprintf("archive backlog (pending: %d)", n)}
		if overall == StatusHealthy {
			overall = StatusDegraded
		}
	}
	checks["archive_queue"] = queueCheck

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	status := HealthStatus{
		Status:    overall,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
		System: &SystemInfo{
			GoVersion:    runtime.Version(),
			NumGoroutine: runtime.NumGoroutine(),
			NumCPU:       runtime.NumCPU(),
			MemAlloc:     memStats.Alloc / 1024 / 1024,
		},
	}

	code := http.StatusOK
	if overall == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}

func timedCheck(ping func() error) Check {
	start := time.Now()
	err := ping()
	d := time.Since(start).String()
	if err != nil {
		return Check{Status: StatusUnhealthy, Message: err.Error(), Duration: d}
	}
	return Check{Status: StatusHealthy, Message: "connection successful", Duration: d}
}
