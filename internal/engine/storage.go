package engine

import (
	"context"
	"time"
)

// BackupFile is a handle to a snapshot previously uploaded to the storage
// provider. The provider owns its lifecycle; the engine only references it.
type BackupFile struct {
	ID        string
	Name      string
	CreatedAt time.Time
	SizeBytes int64
}

// Storage speaks the remote storage provider's wire protocol. Implementations
// are stateless: the caller supplies a valid access token on every call and
// token lifecycle stays with the TokenManager.
type Storage interface {
	// Upload writes content under the given file name and returns the new
	// file's handle. Repeated calls create distinct files; callers use
	// timestamped names to avoid collisions.
	Upload(ctx context.Context, token, name string, content []byte) (*BackupFile, error)

	// List returns this application's non-trashed backup files, newest
	// first, capped to a bounded page size.
	List(ctx context.Context, token string) ([]*BackupFile, error)

	// Download fetches the raw content of one file by id.
	Download(ctx context.Context, token, fileID string) ([]byte, error)
}
