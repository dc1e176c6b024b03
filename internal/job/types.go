package job

import (
	"time"

	uuid "github.com/google/uuid"
)

type Type string

const (
	// TypeArchiveAudio downloads a finished song's audio and stores a
	// durable copy.
	TypeArchiveAudio Type = "archive_audio"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

type Job struct {
	ID       uuid.UUID  `json:"id"`
	Type     Type       `json:"type"`
	Payload  []byte     `json:"payload"`
	Status   Status     `json:"status"`
	Error    string     `json:"error,omitempty"`
	Enqueued time.Time  `json:"enqueued_at"`
	Started  *time.Time `json:"started_at,omitempty"`
	Finished *time.Time `json:"finished_at,omitempty"`
}

// ArchivePayload is the TypeArchiveAudio job body.
type ArchivePayload struct {
	TaskID   string `json:"task_id"`
	AudioURL string `json:"audio_url"`
	Title    string `json:"title"`
}
