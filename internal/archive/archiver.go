package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/aviz85/purim/internal/storage"
)

// maxAudioSize caps a single archived download at 100MB.
const maxAudioSize = 100 << 20

// Archiver downloads a finished song's audio from the generation API's
// CDN and stores a durable copy, so a song outlives the upstream's
// retention window.
type Archiver struct {
	httpClient *http.Client
	storage    storage.Storage
}

func NewArchiver(storageService storage.Storage, httpClient *http.Client) *Archiver {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Archiver{
		httpClient: httpClient,
		storage:    storageService,
	}
}

// Archive fetches audioURL and stores it, returning the stored copy's
// URL. The content type is sniffed from the bytes, never trusted from
// the CDN.
func (a *Archiver) Archive(ctx context.Context, taskID, title, audioURL string) (string, error) {
	if audioURL == "" {
		return "", fmt.Errorf("no audio url for task %s", taskID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build download request: %w", err)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download audio: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("audio download returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioSize+1))
	if err != nil {
		return "", fmt.Errorf("failed to read audio body: %w", err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("audio download for task %s was empty", taskID)
	}
	if len(data) > maxAudioSize {
		return "", fmt.Errorf("audio download for task %s exceeds size limit", taskID)
	}

	mtype := mimetype.Detect(data)
	filename := archiveFilename(taskID, title, mtype.Extension())

	result, err := a.storage.UploadFile(ctx, filename, bytes.NewReader(data), mtype.String())
	if err != nil {
		return "", fmt.Errorf("failed to store archived audio: %w", err)
	}
	return result.URL, nil
}

func archiveFilename(taskID, title, ext string) string {
	if ext == "" {
		ext = ".mp3"
	}
	base := strings.TrimSpace(title)
	if base == "" {
		base = taskID
	}
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r == ' ':
			return '_'
		}
		return -1
	}, base)
	if base == "" {
		base = taskID
	}
	return base + ext
}
