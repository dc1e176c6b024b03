package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/aviz85/purim/internal/common"
	"github.com/aviz85/purim/internal/database"
	"github.com/aviz85/purim/internal/song"
)

type Repository struct {
	db *database.DB
}

func New(db *database.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) DB() *database.DB {
	return r.db
}

// statusRank mirrors song.Status.Rank for the row's current status, so
// the guard can be evaluated inside the single upsert statement.
const statusRank = `CASE songs.status
	WHEN 'PENDING' THEN 0
	WHEN 'TEXT_SUCCESS' THEN 1
	WHEN 'FIRST_SUCCESS' THEN 2
	WHEN 'SUCCESS' THEN 4
	ELSE 3
END`

// Migrate creates the songs table when it does not exist yet.
func (r *Repository) Migrate(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS songs (
			task_id          TEXT PRIMARY KEY,
			prompt           TEXT NOT NULL DEFAULT '',
			style            TEXT NOT NULL DEFAULT '',
			title            TEXT NOT NULL DEFAULT '',
			status           TEXT NOT NULL DEFAULT 'PENDING',
			audio_url        TEXT NOT NULL DEFAULT '',
			stream_audio_url TEXT NOT NULL DEFAULT '',
			image_url        TEXT NOT NULL DEFAULT '',
			archive_url      TEXT NOT NULL DEFAULT '',
			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`
	_, err := r.db.Pool().Exec(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to create songs table: %w", err)
	}
	return nil
}

// CreatePending inserts a new PENDING row at submission time. A repeat
// submission of the same task id leaves the existing row untouched.
func (r *Repository) CreatePending(ctx context.Context, s *song.Song) error {
	query := `
		INSERT INTO songs (task_id, prompt, style, title, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (task_id) DO NOTHING
	`
	_, err := r.db.Pool().Exec(ctx, query, s.TaskID, s.Prompt, s.Style, s.Title, song.StatusPending)
	return err
}

// UpsertStatus records an observed status (and any asset URLs) for the
// task, inserting the row when it is missing. The write is a single
// atomic statement and never replaces a strictly more advanced status,
// so racing writers (poll vs callback) settle on the most advanced of
// the two. URL fields only ever move from empty to set. Returns whether
// the row was actually written.
func (r *Repository) UpsertStatus(ctx context.Context, taskID string, status song.Status, track *song.Track) (bool, error) {
	var audio, stream, image string
	if track != nil {
		audio, stream, image = track.AudioURL, track.StreamAudioURL, track.ImageURL
	}

	query := `
		INSERT INTO songs (task_id, status, audio_url, stream_audio_url, image_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (task_id) DO UPDATE SET
			status           = EXCLUDED.status,
			audio_url        = COALESCE(NULLIF(EXCLUDED.audio_url, ''), songs.audio_url),
			stream_audio_url = COALESCE(NULLIF(EXCLUDED.stream_audio_url, ''), songs.stream_audio_url),
			image_url        = COALESCE(NULLIF(EXCLUDED.image_url, ''), songs.image_url),
			updated_at       = NOW()
		WHERE ` + statusRank + ` <= $6
	`
	tag, err := r.db.Pool().Exec(ctx, query, taskID, status, audio, stream, image, status.Rank())
	if err != nil {
		return false, fmt.Errorf("failed to upsert song status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// SetArchiveURL records the durable archived copy of the audio.
func (r *Repository) SetArchiveURL(ctx context.Context, taskID, archiveURL string) error {
	query := `UPDATE songs SET archive_url = $1, updated_at = NOW() WHERE task_id = $2`
	tag, err := r.db.Pool().Exec(ctx, query, archiveURL, taskID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return common.ErrSongNotFound
	}
	return nil
}

func (r *Repository) GetByTaskID(ctx context.Context, taskID string) (*song.Song, error) {
	query := `
		SELECT task_id, prompt, style, title, status, audio_url, stream_audio_url, image_url, archive_url, created_at, updated_at
		FROM songs
		WHERE task_id = $1
	`
	var s song.Song
	err := r.db.Pool().QueryRow(ctx, query, taskID).Scan(
		&s.TaskID,
		&s.Prompt,
		&s.Style,
		&s.Title,
		&s.Status,
		&s.AudioURL,
		&s.StreamAudioURL,
		&s.ImageURL,
		&s.ArchiveURL,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.ErrSongNotFound
		}
		return nil, err
	}
	return &s, nil
}

// ListRecent returns the newest rows, most recently updated first.
func (r *Repository) ListRecent(ctx context.Context, limit int) ([]song.Song, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT task_id, prompt, style, title, status, audio_url, stream_audio_url, image_url, archive_url, created_at, updated_at
		FROM songs
		ORDER BY updated_at DESC
		LIMIT $1
	`
	rows, err := r.db.Pool().Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var songs []song.Song
	for rows.Next() {
		var s song.Song
		err := rows.Scan(
			&s.TaskID,
			&s.Prompt,
			&s.Style,
			&s.Title,
			&s.Status,
			&s.AudioURL,
			&s.StreamAudioURL,
			&s.ImageURL,
			&s.ArchiveURL,
			&s.CreatedAt,
			&s.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		songs = append(songs, s)
	}

	return songs, rows.Err()
}
