// Package storage provides per-job scratch space on local disk and optional
// S3 archiving of finished video notes.
package storage

import (
	"context"
	"io"
)

// Storage defines the interface for temporary and persistent file storage.
type Storage interface {
	// CreateWorkDir creates a fresh, uniquely named directory for one job.
	// The name parameter is used as a prefix for the directory name.
	CreateWorkDir(ctx context.Context, name string) (dir string, err error)

	// SaveTemp saves data to a new file in dir and returns its path.
	// The pattern follows os.CreateTemp: the last "*" is replaced by a random string.
	// An empty dir means the storage root.
	SaveTemp(ctx context.Context, dir, pattern string, data io.Reader) (path string, err error)

	// LoadTemp reads a temporary file and returns a reader.
	// The caller is responsible for closing the returned ReadCloser.
	LoadTemp(ctx context.Context, path string) (io.ReadCloser, error)

	// CleanupTemp removes the specified files and empty directories in order.
	// It continues cleanup even if some paths fail to delete.
	CleanupTemp(ctx context.Context, paths []string) error

	// UploadToS3 uploads data to S3 and returns the object URL.
	// Returns ErrS3NotConfigured if S3 is not configured.
	UploadToS3(ctx context.Context, key string, data io.Reader) (url string, err error)
}
