package suno

import (
	"encoding/json"

	"github.com/aviz85/purim/internal/song"
)

// Envelope is the generation API's standard response wrapper. Data is
// typed per endpoint; the canonical field casing emitted by this service
// is camelCase, matching the upstream's current revision.
type Envelope struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data any    `json:"data,omitempty"`
}

// GenerateData is the submission endpoint's data payload.
type GenerateData struct {
	TaskID string `json:"taskId"`
}

// RecordData is the record-info endpoint's data payload.
type RecordData struct {
	TaskID   string          `json:"taskId"`
	Status   song.Status     `json:"status"`
	Response *RecordResponse `json:"response,omitempty"`
}

// RecordResponse nests the generated tracks.
type RecordResponse struct {
	SunoData []song.Track `json:"sunoData"`
}

// Older upstream revisions used snake_case field names. Everything is
// normalized here, once, at the boundary; nothing past this package sees
// both spellings.

type wireTrack struct {
	AudioURL            string `json:"audioUrl"`
	AudioURLSnake       string `json:"audio_url"`
	StreamAudioURL      string `json:"streamAudioUrl"`
	StreamAudioURLSnake string `json:"stream_audio_url"`
	ImageURL            string `json:"imageUrl"`
	ImageURLSnake       string `json:"image_url"`
}

func (w wireTrack) normalize() song.Track {
	return song.Track{
		AudioURL:       firstNonEmpty(w.AudioURL, w.AudioURLSnake),
		StreamAudioURL: firstNonEmpty(w.StreamAudioURL, w.StreamAudioURLSnake),
		ImageURL:       firstNonEmpty(w.ImageURL, w.ImageURLSnake),
	}
}

type wireEnvelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type wireGenerateData struct {
	TaskID      string `json:"taskId"`
	TaskIDSnake string `json:"task_id"`
}

type wireRecordData struct {
	TaskID      string `json:"taskId"`
	TaskIDSnake string `json:"task_id"`
	Status      string `json:"status"`
	Response    *struct {
		SunoData []wireTrack `json:"sunoData"`
	} `json:"response"`
}

// CallbackPayload is the asynchronous completion POST the generation
// API sends to /callback.
type CallbackPayload struct {
	Data CallbackData `json:"data"`
}

type CallbackData struct {
	TaskID       string      `json:"task_id"`
	CallbackType string      `json:"callbackType"`
	Items        []wireTrack `json:"data"`
}

// CallbackTypeComplete marks the terminal callback carrying results.
const CallbackTypeComplete = "complete"

// Tracks returns the normalized result tracks carried by the callback.
func (d CallbackData) Tracks() []song.Track {
	tracks := make([]song.Track, 0, len(d.Items))
	for _, item := range d.Items {
		tracks = append(tracks, item.normalize())
	}
	return tracks
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
