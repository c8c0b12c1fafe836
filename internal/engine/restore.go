package engine

import (
	"context"
	"sync"
)

// RestoreStatus is the outcome of a restore.
type RestoreStatus string

const (
	RestoreSuccess RestoreStatus = "success"
	RestorePartial RestoreStatus = "partial_success"
	RestoreFailed  RestoreStatus = "failed"
)

// RestoreResult reports the outcome of a restore. Warnings holds the prune
// failures of a partial success.
type RestoreResult struct {
	Status   RestoreStatus
	Warnings []PruneWarning
}

// Restorer applies a snapshot to the live dataset. A restore is a replace,
// not a merge, per included collection.
type Restorer struct {
	dataset Dataset
	logger  Logger
}

func NewRestorer(dataset Dataset, logger Logger) *Restorer {
	return &Restorer{dataset: dataset, logger: logger}
}

// Apply runs the two-phase restore:
//
//  1. Upsert phase, parent-to-child order, so every child record finds its
//     referenced parent already present.
//  2. Prune phase, child-to-parent order, deleting live records absent from
//     the snapshot, so dangling children go before their parents.
//
// Collections in exclude are untouched in both phases. Within a phase the
// parent group and the child group each run their collections concurrently;
// the groups themselves, and the two phases, are separated by barriers.
//
// An upsert failure aborts the restore with a RestoreError; the dataset may
// then hold a mix of old and new records across collections (restore is not
// transactional across collections). Prune failures are collected as
// warnings: after the upsert phase the dataset is FK-consistent regardless of
// pruning completeness.
func (r *Restorer) Apply(ctx context.Context, snap *Snapshot, exclude map[Collection]bool, progress ProgressFunc) (*RestoreResult, error) {
	included := 0
	for _, c := range AllCollections() {
		if !exclude[c] {
			included++
		}
	}

	steps := included * 2 // each included collection is upserted then pruned
	done := 0
	tick := func() {
		done++
		if progress != nil && steps > 0 {
			progress(done * 100 / steps)
		}
	}

	for _, group := range [][]Collection{ParentCollections, ChildCollections} {
		if err := r.upsertGroup(ctx, snap, group, exclude, tick); err != nil {
			return &RestoreResult{Status: RestoreFailed}, err
		}
	}

	var warnings []PruneWarning
	for _, group := range [][]Collection{ChildCollections, ParentCollections} {
		warnings = append(warnings, r.pruneGroup(ctx, snap, group, exclude, tick)...)
	}

	result := &RestoreResult{Status: RestoreSuccess, Warnings: warnings}
	if len(warnings) > 0 {
		result.Status = RestorePartial
		for _, w := range warnings {
			r.logger.Warn("prune incomplete", "collection", w.Collection, "error", w.Err)
		}
	}
	r.logger.Info("restore applied", "status", string(result.Status), "collections", included)
	return result, nil
}

// upsertGroup writes all included collections of one dependency level
// concurrently and returns the first failure.
func (r *Restorer) upsertGroup(ctx context.Context, snap *Snapshot, group []Collection, exclude map[Collection]bool, tick func()) error {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)

	for _, c := range group {
		if exclude[c] {
			continue
		}
		wg.Add(1)
		go func(c Collection) {
			defer wg.Done()
			err := r.dataset.Upsert(ctx, c, snap.Data[c])

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = &RestoreError{Collection: c, Err: err}
				}
				return
			}
			tick()
		}(c)
	}
	wg.Wait()
	return firstErr
}

// pruneGroup deletes, for each included collection of one dependency level,
// the live records whose ids are absent from the snapshot. Failures become
// warnings.
func (r *Restorer) pruneGroup(ctx context.Context, snap *Snapshot, group []Collection, exclude map[Collection]bool, tick func()) []PruneWarning {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		warnings []PruneWarning
	)

	for _, c := range group {
		if exclude[c] {
			continue
		}
		wg.Add(1)
		go func(c Collection) {
			defer wg.Done()
			err := r.pruneCollection(ctx, snap, c)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				warnings = append(warnings, PruneWarning{Collection: c, Err: err})
				return
			}
			tick()
		}(c)
	}
	wg.Wait()
	return warnings
}

func (r *Restorer) pruneCollection(ctx context.Context, snap *Snapshot, c Collection) error {
	liveIDs, err := r.dataset.SelectAllIDs(ctx, c)
	if err != nil {
		return err
	}

	keep := make(map[string]bool, len(snap.Data[c]))
	for _, rec := range snap.Data[c] {
		keep[rec.ID()] = true
	}

	var extra []string
	for _, id := range liveIDs {
		if !keep[id] {
			extra = append(extra, id)
		}
	}
	if len(extra) == 0 {
		return nil
	}
	return r.dataset.DeleteByIDs(ctx, c, extra)
}
