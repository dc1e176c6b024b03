package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aviz85/purim/internal/archive"
	"github.com/aviz85/purim/internal/job"
	"github.com/aviz85/purim/internal/repository"
)

type ArchiveHandler struct {
	repo     *repository.Repository
	archiver *archive.Archiver
}

func NewArchiveHandler(repo *repository.Repository, archiver *archive.Archiver) *ArchiveHandler {
	return &ArchiveHandler{
		repo:     repo,
		archiver: archiver,
	}
}

func (h *ArchiveHandler) HandleArchiveJob(ctx context.Context, j *job.Job) error {
	if j.Type != job.TypeArchiveAudio {
		return fmt.Errorf("unexpected job type: %s", j.Type)
	}

	var payload job.ArchivePayload
	if err := json.Unmarshal(j.Payload, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal job payload: %w", err)
	}

	archiveURL, err := h.archiver.Archive(ctx, payload.TaskID, payload.Title, payload.AudioURL)
	if err != nil {
		return fmt.Errorf("archiving failed: %w", err)
	}

	if err := h.repo.SetArchiveURL(ctx, payload.TaskID, archiveURL); err != nil {
		return fmt.Errorf("failed to record archive url: %w", err)
	}

	slog.Info("song audio archived",
		"task_id", payload.TaskID,
		"archive_url", archiveURL,
	)
	return nil
}
