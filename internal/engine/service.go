package engine

import (
	"bytes"
	"context"
	"fmt"
	"time"
)

// Operation is one recorded backup or restore run.
type Operation struct {
	ID         int64
	Operation  string
	Status     string // "running", "success" or "error"
	StartedAt  time.Time
	FinishedAt *time.Time
}

// OperationLog records backup and restore runs for the history view.
type OperationLog interface {
	CreateOperation(operation string) (int64, error)
	FinishOperation(id int64, status string) error
	ListOperations(limit int) ([]*Operation, error)
}

// ageHeader is the first bytes of every age-encrypted file; used to detect
// whether a downloaded backup needs decryption.
var ageHeader = []byte("age-encryption.org/")

// Service is the orchestration layer that coordinates token lifecycle,
// snapshot codec, storage transport and restore for the CLI and the
// scheduler.
type Service struct {
	tokens    *TokenManager
	storage   Storage
	dataset   Dataset
	restorer  *Restorer
	encryptor Encryptor
	oplog     OperationLog
	logger    Logger
	clock     Clock
	ids       IDGenerator

	appID      string
	filePrefix string
}

// NewService creates a Service. appID identifies this install in snapshot
// metadata; filePrefix is the remote file naming convention shared with
// Storage.List's filter; ids disambiguates file names minted within the same
// second.
func NewService(tokens *TokenManager, storage Storage, dataset Dataset, encryptor Encryptor, oplog OperationLog, logger Logger, clock Clock, ids IDGenerator, appID, filePrefix string) *Service {
	return &Service{
		tokens:     tokens,
		storage:    storage,
		dataset:    dataset,
		restorer:   NewRestorer(dataset, logger),
		encryptor:  encryptor,
		oplog:      oplog,
		logger:     logger,
		clock:      clock,
		ids:        ids,
		appID:      appID,
		filePrefix: filePrefix,
	}
}

// Tokens exposes the token manager for the connect/disconnect/status surface.
func (s *Service) Tokens() *TokenManager { return s.tokens }

// withAuthRetry obtains a valid access token, runs op, and on an
// auth-classified transport failure invalidates the local token and retries
// exactly once after a refresh. Every other failure is returned immediately;
// nothing here loops.
func (s *Service) withAuthRetry(ctx context.Context, op func(ctx context.Context, token string) error) error {
	token, err := s.tokens.EnsureValid(ctx)
	if err != nil {
		return err
	}

	err = op(ctx, token)
	if err == nil || !IsAuthFailure(err) {
		return err
	}

	s.logger.Info("storage provider rejected token, refreshing and retrying once")
	if invErr := s.tokens.Invalidate(); invErr != nil {
		return invErr
	}
	token, err = s.tokens.EnsureValid(ctx)
	if err != nil {
		return err
	}
	return op(ctx, token)
}

// BackupNow exports the full dataset and uploads it as a new timestamped
// backup file. The export runs inside the retry wrapper, so a retried upload
// re-exports rather than re-sending a possibly stale document.
func (s *Service) BackupNow(ctx context.Context, progress ProgressFunc) (*BackupFile, error) {
	// A disconnected state is not an attempt: check for a credential before
	// recording anything, so scheduler passes while signed out leave no
	// failed rows in the history.
	if _, err := s.tokens.EnsureValid(ctx); err != nil {
		return nil, err
	}

	opID, err := s.oplog.CreateOperation("backup")
	if err != nil {
		return nil, fmt.Errorf("recording operation: %w", err)
	}

	var file *BackupFile
	err = s.withAuthRetry(ctx, func(ctx context.Context, token string) error {
		snap, err := ExportSnapshot(ctx, s.dataset, s.appID, s.clock, progress)
		if err != nil {
			return err
		}

		content, err := snap.Encode()
		if err != nil {
			return err
		}

		// Timestamp first so names stay monotonically sortable; the
		// generated suffix keeps two exports within one second distinct.
		name := fmt.Sprintf("%s-%s-%s.json", s.filePrefix, s.clock.Now().UTC().Format("20060102T150405Z"), s.ids.New())
		if s.encryptor != nil && s.encryptor.IsConfigured() {
			var buf bytes.Buffer
			if err := s.encryptor.Encrypt(bytes.NewReader(content), &buf); err != nil {
				return fmt.Errorf("encrypting snapshot: %w", err)
			}
			content = buf.Bytes()
			name += ".age"
		}

		file, err = s.storage.Upload(ctx, token, name, content)
		return err
	})

	s.finishOperation(opID, err)
	if err != nil {
		return nil, err
	}
	s.logger.Info("backup uploaded", "file", file.Name, "bytes", file.SizeBytes)
	return file, nil
}

// ListBackups returns this application's remote backup files, newest first.
func (s *Service) ListBackups(ctx context.Context) ([]*BackupFile, error) {
	var files []*BackupFile
	err := s.withAuthRetry(ctx, func(ctx context.Context, token string) error {
		var err error
		files, err = s.storage.List(ctx, token)
		return err
	})
	return files, err
}

// FetchSnapshot downloads and parses one backup file, decrypting it first
// when the content is age-encrypted. decrypt may be nil for unencrypted
// backups; an encrypted backup without a DecryptionContext is an error.
func (s *Service) FetchSnapshot(ctx context.Context, fileID string, decrypt DecryptionContext) (*Snapshot, error) {
	var raw []byte
	err := s.withAuthRetry(ctx, func(ctx context.Context, token string) error {
		var err error
		raw, err = s.storage.Download(ctx, token, fileID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if bytes.HasPrefix(raw, ageHeader) {
		if decrypt == nil {
			return nil, fmt.Errorf("backup is encrypted: passphrase required")
		}
		var buf bytes.Buffer
		if err := decrypt.Decrypt(bytes.NewReader(raw), &buf); err != nil {
			return nil, fmt.Errorf("decrypting backup: %w", err)
		}
		raw = buf.Bytes()
	}

	return ParseSnapshot(raw)
}

// LiveStats returns the current dataset's per-collection row counts, for the
// before/after comparison ahead of a restore.
func (s *Service) LiveStats(ctx context.Context) ([]CollectionStats, error) {
	cols := AllCollections()
	out := make([]CollectionStats, 0, len(cols))
	for _, c := range cols {
		ids, err := s.dataset.SelectAllIDs(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("counting %s: %w", c, err)
		}
		out = append(out, CollectionStats{Collection: c, Records: len(ids)})
	}
	return out, nil
}

// RestoreBackup downloads a backup file and applies it to the live dataset,
// skipping the excluded collections in both restore phases.
func (s *Service) RestoreBackup(ctx context.Context, fileID string, exclude map[Collection]bool, decrypt DecryptionContext, progress ProgressFunc) (*RestoreResult, error) {
	snap, err := s.FetchSnapshot(ctx, fileID, decrypt)
	if err != nil {
		return nil, err
	}
	return s.RestoreSnapshot(ctx, snap, exclude, progress)
}

// RestoreSnapshot applies an already-parsed snapshot.
func (s *Service) RestoreSnapshot(ctx context.Context, snap *Snapshot, exclude map[Collection]bool, progress ProgressFunc) (*RestoreResult, error) {
	for c := range exclude {
		if !ValidCollection(c) {
			return nil, fmt.Errorf("unknown collection in exclusion set: %s", c)
		}
	}

	opID, err := s.oplog.CreateOperation("restore")
	if err != nil {
		return nil, fmt.Errorf("recording operation: %w", err)
	}

	result, err := s.restorer.Apply(ctx, snap, exclude, progress)
	s.finishOperation(opID, err)
	return result, err
}

// History returns the most recent recorded operations.
func (s *Service) History(limit int) ([]*Operation, error) {
	return s.oplog.ListOperations(limit)
}

func (s *Service) finishOperation(opID int64, opErr error) {
	status := "success"
	if opErr != nil {
		status = "error"
	}
	if err := s.oplog.FinishOperation(opID, status); err != nil {
		s.logger.Error("finishing operation record failed", "id", opID, "error", err)
	}
}
