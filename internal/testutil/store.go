package testutil

import (
	"sync"
	"time"

	"ledgerback/internal/engine"
)

// MemoryCredentialStore is an in-memory engine.CredentialStore for tests.
// Safe for concurrent use.
type MemoryCredentialStore struct {
	mu      sync.Mutex
	current *engine.Credential
	legacy  *engine.Credential

	PutCalls   int
	ClearCalls int
}

func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{}
}

func (s *MemoryCredentialStore) Get() (*engine.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyCred(s.current), nil
}

func (s *MemoryCredentialStore) Put(c *engine.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PutCalls++
	s.current = copyCred(c)
	return nil
}

func (s *MemoryCredentialStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ClearCalls++
	s.current = nil
	return nil
}

func (s *MemoryCredentialStore) GetLegacy() (*engine.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyCred(s.legacy), nil
}

func (s *MemoryCredentialStore) ClearLegacy() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.legacy = nil
	return nil
}

// SetLegacy seeds a pre-1.0 format credential.
func (s *MemoryCredentialStore) SetLegacy(c *engine.Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.legacy = copyCred(c)
}

func copyCred(c *engine.Credential) *engine.Credential {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

var _ engine.CredentialStore = (*MemoryCredentialStore)(nil)

// MemorySettings is an in-memory engine.SettingsStore for tests.
type MemorySettings struct {
	mu      sync.Mutex
	enabled bool
	lastDay string
}

func NewMemorySettings() *MemorySettings {
	return &MemorySettings{}
}

func (s *MemorySettings) AutoBackupEnabled() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled, nil
}

func (s *MemorySettings) SetAutoBackupEnabled(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = enabled
	return nil
}

func (s *MemorySettings) LastAutoBackupDay() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastDay, nil
}

func (s *MemorySettings) SetLastAutoBackupDay(day string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastDay = day
	return nil
}

var _ engine.SettingsStore = (*MemorySettings)(nil)

// MemoryOperationLog records operations in memory for tests.
type MemoryOperationLog struct {
	mu     sync.Mutex
	nextID int64
	ops    []*engine.Operation
}

func NewMemoryOperationLog() *MemoryOperationLog {
	return &MemoryOperationLog{}
}

func (l *MemoryOperationLog) CreateOperation(operation string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	l.ops = append(l.ops, &engine.Operation{
		ID:        l.nextID,
		Operation: operation,
		Status:    "running",
		StartedAt: time.Now().UTC(),
	})
	return l.nextID, nil
}

func (l *MemoryOperationLog) FinishOperation(id int64, status string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, op := range l.ops {
		if op.ID == id {
			now := time.Now().UTC()
			op.Status = status
			op.FinishedAt = &now
		}
	}
	return nil
}

func (l *MemoryOperationLog) ListOperations(limit int) ([]*engine.Operation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*engine.Operation, 0, len(l.ops))
	for i := len(l.ops) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *l.ops[i]
		out = append(out, &cp)
	}
	return out, nil
}

var _ engine.OperationLog = (*MemoryOperationLog)(nil)
