package testutil

import (
	"context"
	"fmt"
	"sync"

	"ledgerback/internal/engine"
)

// FakeDataset is an in-memory engine.Dataset that records every call, so
// tests can assert restore ordering and exclusion. Safe for concurrent use.
type FakeDataset struct {
	mu      sync.Mutex
	records map[engine.Collection]map[string]engine.Record

	// Calls lists every mutating and reading call in issue order, formatted
	// "upsert:customers", "ids:transactions", "delete:expenses".
	Calls []string

	// UpsertErr and DeleteErr inject failures per collection.
	UpsertErr map[engine.Collection]error
	DeleteErr map[engine.Collection]error
	SelectErr map[engine.Collection]error
}

func NewFakeDataset() *FakeDataset {
	return &FakeDataset{
		records:   make(map[engine.Collection]map[string]engine.Record),
		UpsertErr: make(map[engine.Collection]error),
		DeleteErr: make(map[engine.Collection]error),
		SelectErr: make(map[engine.Collection]error),
	}
}

// Seed inserts records without recording a call.
func (d *FakeDataset) Seed(c engine.Collection, records ...engine.Record) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ensure(c)
	for _, rec := range records {
		d.records[c][rec.ID()] = rec
	}
}

// Count returns the number of stored records in a collection.
func (d *FakeDataset) Count(c engine.Collection) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.records[c])
}

// CallsFor returns the recorded calls with the given prefix, e.g. "upsert:".
func (d *FakeDataset) CallsFor(prefix string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for _, call := range d.Calls {
		if len(call) >= len(prefix) && call[:len(prefix)] == prefix {
			out = append(out, call)
		}
	}
	return out
}

func (d *FakeDataset) ensure(c engine.Collection) {
	if d.records[c] == nil {
		d.records[c] = make(map[string]engine.Record)
	}
}

func (d *FakeDataset) SelectAll(ctx context.Context, c engine.Collection) ([]engine.Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Calls = append(d.Calls, "select:"+string(c))
	if err := d.SelectErr[c]; err != nil {
		return nil, err
	}
	var out []engine.Record
	for _, rec := range d.records[c] {
		out = append(out, rec)
	}
	return out, nil
}

func (d *FakeDataset) Upsert(ctx context.Context, c engine.Collection, records []engine.Record) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Calls = append(d.Calls, "upsert:"+string(c))
	if err := d.UpsertErr[c]; err != nil {
		return err
	}
	d.ensure(c)
	for _, rec := range records {
		if rec.ID() == "" {
			return fmt.Errorf("record in %s has no id", c)
		}
		d.records[c][rec.ID()] = rec
	}
	return nil
}

func (d *FakeDataset) SelectAllIDs(ctx context.Context, c engine.Collection) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Calls = append(d.Calls, "ids:"+string(c))
	var out []string
	for id := range d.records[c] {
		out = append(out, id)
	}
	return out, nil
}

func (d *FakeDataset) DeleteByIDs(ctx context.Context, c engine.Collection, ids []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Calls = append(d.Calls, "delete:"+string(c))
	if err := d.DeleteErr[c]; err != nil {
		return err
	}
	for _, id := range ids {
		delete(d.records[c], id)
	}
	return nil
}

var _ engine.Dataset = (*FakeDataset)(nil)
