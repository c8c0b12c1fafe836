package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// SnapshotVersion is the document format version written into every export.
const SnapshotVersion = "1.0"

// SnapshotMeta identifies a snapshot document.
type SnapshotMeta struct {
	Version string    `json:"version"`
	Date    time.Time `json:"date"`
	App     string    `json:"app"`
}

// Snapshot is an immutable point-in-time copy of every business collection.
// It is produced by ExportSnapshot and consumed, never mutated, by restore.
type Snapshot struct {
	Meta SnapshotMeta            `json:"meta"`
	Data map[Collection][]Record `json:"data"`
}

// CollectionStats is a per-collection row count, used for the operator-facing
// before/after comparison ahead of a destructive restore.
type CollectionStats struct {
	Collection Collection
	Records    int
}

// ProgressFunc receives a monotonically increasing 0-100 completion signal.
// The weighting per step is not meaningful, only monotonic progress.
type ProgressFunc func(percent int)

// ExportSnapshot fetches every collection from the dataset in parallel,
// excluding soft-deleted rows, and wraps them with a version tag and
// timestamp. progress may be nil.
func ExportSnapshot(ctx context.Context, ds Dataset, app string, clock Clock, progress ProgressFunc) (*Snapshot, error) {
	cols := AllCollections()
	data := make(map[Collection][]Record, len(cols))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
		done     int
	)

	for _, c := range cols {
		wg.Add(1)
		go func(c Collection) {
			defer wg.Done()
			records, err := ds.SelectAll(ctx, c)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("exporting %s: %w", c, err)
				}
				return
			}
			data[c] = records
			done++
			if progress != nil {
				progress(done * 100 / len(cols))
			}
		}(c)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}

	return &Snapshot{
		Meta: SnapshotMeta{
			Version: SnapshotVersion,
			Date:    clock.Now().UTC(),
			App:     app,
		},
		Data: data,
	}, nil
}

// ParseSnapshot decodes a snapshot document. Documents missing the data
// section are rejected; individual missing collections are tolerated and read
// as empty. Unknown collections in the document are dropped.
func ParseSnapshot(raw []byte) (*Snapshot, error) {
	var doc struct {
		Meta SnapshotMeta            `json:"meta"`
		Data map[Collection][]Record `json:"data"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	if doc.Data == nil {
		return nil, fmt.Errorf("%w: missing data section", ErrInvalidSnapshot)
	}

	data := make(map[Collection][]Record, len(AllCollections()))
	for _, c := range AllCollections() {
		data[c] = doc.Data[c]
	}
	return &Snapshot{Meta: doc.Meta, Data: data}, nil
}

// Encode serializes the snapshot to its wire format.
func (s *Snapshot) Encode() ([]byte, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	return raw, nil
}

// Stats returns per-collection row counts in upsert order.
func (s *Snapshot) Stats() []CollectionStats {
	cols := AllCollections()
	out := make([]CollectionStats, 0, len(cols))
	for _, c := range cols {
		out = append(out, CollectionStats{Collection: c, Records: len(s.Data[c])})
	}
	return out
}
