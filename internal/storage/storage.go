package storage

import (
	"context"
	"io"
)

// Storage persists archived song audio. Local filesystem for
// development, S3 for production; selected by STORAGE_MODE.
type Storage interface {
	UploadFile(ctx context.Context, filename string, content io.Reader, contentType string) (*UploadResult, error)
}

type UploadResult struct {
	Key string
	URL string
}
