package ingest

import (
	"context"
	"sync"

	"cloudscope/internal/schema"
)

// MemorySink collects normalized events in memory instead of a store,
// for export paths that never touch persistence.
type MemorySink struct {
	mu     sync.Mutex
	events []*schema.Event
}

// NewMemorySink creates an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// BulkInsert appends the batch. It never fails.
func (s *MemorySink) BulkInsert(_ context.Context, batch *schema.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, batch.Events...)
	return nil
}

// Events returns every collected event. Call after Run has returned.
func (s *MemorySink) Events() []*schema.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events
}
