package testutil

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"ledgerback/internal/engine"
)

// FakeStorage is an in-memory engine.Storage. A token listed in RejectTokens
// makes every call fail with a 401 TransportError, which is how tests drive
// the refresh-and-retry path.
type FakeStorage struct {
	mu     sync.Mutex
	nextID int
	files  map[string]*storedFile

	rejectTokens map[string]bool

	UploadCalls   int
	ListCalls     int
	DownloadCalls int

	// TokensSeen records the bearer token of every call in order.
	TokensSeen []string
}

type storedFile struct {
	file    engine.BackupFile
	content []byte
}

func NewFakeStorage() *FakeStorage {
	return &FakeStorage{
		files:        make(map[string]*storedFile),
		rejectTokens: make(map[string]bool),
	}
}

// RejectToken makes calls carrying token fail with status 401.
func (s *FakeStorage) RejectToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectTokens[token] = true
}

// Content returns the stored bytes of a file.
func (s *FakeStorage) Content(fileID string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[fileID]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), f.content...), true
}

func (s *FakeStorage) check(op, token string) error {
	s.TokensSeen = append(s.TokensSeen, token)
	if s.rejectTokens[token] {
		return &engine.TransportError{Op: op, Status: http.StatusUnauthorized, Message: "invalid credentials"}
	}
	return nil
}

func (s *FakeStorage) Upload(ctx context.Context, token, name string, content []byte) (*engine.BackupFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.UploadCalls++
	if err := s.check("upload", token); err != nil {
		return nil, err
	}

	s.nextID++
	id := fmt.Sprintf("file-%d", s.nextID)
	f := &storedFile{
		file: engine.BackupFile{
			ID:        id,
			Name:      name,
			CreatedAt: time.Now().UTC(),
			SizeBytes: int64(len(content)),
		},
		content: append([]byte(nil), content...),
	}
	s.files[id] = f
	out := f.file
	return &out, nil
}

func (s *FakeStorage) List(ctx context.Context, token string) ([]*engine.BackupFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ListCalls++
	if err := s.check("list", token); err != nil {
		return nil, err
	}

	out := make([]*engine.BackupFile, 0, len(s.files))
	for _, f := range s.files {
		cp := f.file
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *FakeStorage) Download(ctx context.Context, token, fileID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.DownloadCalls++
	if err := s.check("download", token); err != nil {
		return nil, err
	}

	f, ok := s.files[fileID]
	if !ok {
		return nil, &engine.TransportError{Op: "download", Status: http.StatusNotFound, Message: "file not found"}
	}
	return append([]byte(nil), f.content...), nil
}

var _ engine.Storage = (*FakeStorage)(nil)
