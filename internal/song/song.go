package song

import "time"

// Song is one submitted generation request. The generation API's task id
// is the identity; prompt, style and title never change after creation.
type Song struct {
	TaskID         string    `json:"taskId"`
	Prompt         string    `json:"prompt"`
	Style          string    `json:"style"`
	Title          string    `json:"title"`
	Status         Status    `json:"status"`
	AudioURL       string    `json:"audioUrl,omitempty"`
	StreamAudioURL string    `json:"streamAudioUrl,omitempty"`
	ImageURL       string    `json:"imageUrl,omitempty"`
	ArchiveURL     string    `json:"archiveUrl,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Track holds the asset URLs of one generated result.
type Track struct {
	AudioURL       string `json:"audioUrl"`
	StreamAudioURL string `json:"streamAudioUrl"`
	ImageURL       string `json:"imageUrl"`
}

// Empty reports whether the track carries no URLs at all.
func (t Track) Empty() bool {
	return t.AudioURL == "" && t.StreamAudioURL == "" && t.ImageURL == ""
}

// Update is the realtime message fanned out to browser clients whenever
// a song row changes.
type Update struct {
	TaskID    string    `json:"taskId"`
	Status    Status    `json:"status"`
	Percent   int       `json:"percent"`
	Track     *Track    `json:"track,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewUpdate builds an Update for the given observation.
func NewUpdate(taskID string, status Status, track *Track) Update {
	return Update{
		TaskID:    taskID,
		Status:    status,
		Percent:   Percent(status),
		Track:     track,
		Timestamp: time.Now(),
	}
}
