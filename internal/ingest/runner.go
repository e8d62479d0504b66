// Package ingest runs collection pipelines: raw provider records are
// normalized concurrently, batched through a bounded queue and
// persisted by a single writer.
package ingest

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"cloudscope/internal/queue"
	"cloudscope/internal/schema"
)

// Raw is one raw provider record plus its collection context.
type Raw struct {
	Data     []byte
	Region   string
	FileName string
}

// Normalizer maps one raw payload to a canonical event.
type Normalizer func(caseID string, raw []byte) (*schema.Event, error)

// Source drives a collector, handing raw batches to emit. It returns
// when the window is exhausted or emit fails.
type Source func(ctx context.Context, emit func([]Raw) error) error

// Inserter persists one batch atomically.
type Inserter interface {
	BulkInsert(ctx context.Context, batch *schema.Batch) error
}

// RunSpec describes one ingestion run.
type RunSpec struct {
	CaseID    string
	Provider  schema.CloudProvider
	Normalize Normalizer
	Source    Source
}

// Stats aggregates one ingestion run. Batches are independent, so a
// failed batch drops its events without affecting the others.
type Stats struct {
	Received      uint64        `json:"received"`
	Normalized    uint64        `json:"normalized"`
	Dropped       uint64        `json:"dropped"`
	Inserted      uint64        `json:"inserted"`
	FailedBatches uint64        `json:"failed_batches"`
	Duration      time.Duration `json:"duration"`
}

// Runner executes ingestion runs against one event store.
type Runner struct {
	inserter  Inserter
	validator *schema.Validator
	workers   int
	depth     int
}

// NewRunner creates a Runner. workers bounds concurrent normalization,
// depth bounds the batch queue.
func NewRunner(inserter Inserter, workers, depth int) *Runner {
	if workers <= 0 {
		workers = 4
	}
	return &Runner{
		inserter:  inserter,
		validator: schema.NewValidator(),
		workers:   workers,
		depth:     depth,
	}
}

// Run pulls raw batches from the source, normalizes them on the worker
// pool and persists them through a single writer. Events that fail to
// normalize or validate are dropped with a logged reason; only a
// source failure or context cancellation aborts the run.
func (r *Runner) Run(ctx context.Context, spec RunSpec) (*Stats, error) {
	started := time.Now()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	log := slog.With("case_id", spec.CaseID, "cloud", spec.Provider)
	log.Info("starting ingestion run", "workers", r.workers)

	var stats Stats
	q := queue.NewBatchQueue(r.depth)
	rawCh := make(chan []Raw, r.workers)

	// Single writer keeps batch inserts ordered and bounds memory to
	// the queue depth.
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			batch, err := q.PopBlocking()
			if err != nil {
				return
			}
			if err := r.inserter.BulkInsert(runCtx, batch); err != nil {
				log.Error("batch insert failed, events dropped",
					"events", batch.Len(),
					"error", err,
				)
				atomic.AddUint64(&stats.FailedBatches, 1)
				atomic.AddUint64(&stats.Dropped, uint64(batch.Len()))
				continue
			}
			atomic.AddUint64(&stats.Inserted, uint64(batch.Len()))
		}
	}()

	// Raw batches are distributed over the workers, so batches split
	// from one file can reach the writer out of source order. Stored
	// row order carries no meaning; reads order by event time.
	var wg sync.WaitGroup
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for raws := range rawCh {
				batch := r.normalizeBatch(spec, raws, &stats)
				if batch.Len() == 0 {
					continue
				}
				if err := q.PushBlocking(batch); err != nil {
					return
				}
			}
		}()
	}

	sourceErr := spec.Source(runCtx, func(raws []Raw) error {
		atomic.AddUint64(&stats.Received, uint64(len(raws)))
		select {
		case rawCh <- raws:
			return nil
		case <-runCtx.Done():
			return runCtx.Err()
		}
	})

	close(rawCh)
	wg.Wait()
	q.Close()
	<-writerDone

	stats.Duration = time.Since(started)
	log.Info("ingestion run finished",
		"received", stats.Received,
		"normalized", stats.Normalized,
		"inserted", stats.Inserted,
		"dropped", stats.Dropped,
		"failed_batches", stats.FailedBatches,
		"duration", stats.Duration,
	)

	if sourceErr != nil {
		return &stats, sourceErr
	}
	return &stats, nil
}

// normalizeBatch maps raw records to a canonical batch, stamping the
// collection context the normalizer cannot see.
func (r *Runner) normalizeBatch(spec RunSpec, raws []Raw, stats *Stats) *schema.Batch {
	now := time.Now().UTC()
	batch := &schema.Batch{Events: make([]*schema.Event, 0, len(raws))}

	for _, raw := range raws {
		event, err := spec.Normalize(spec.CaseID, raw.Data)
		if err != nil {
			slog.Warn("dropping event that failed to normalize",
				"case_id", spec.CaseID,
				"file", raw.FileName,
				"error", err,
			)
			atomic.AddUint64(&stats.Dropped, 1)
			continue
		}

		if event.Region == "" {
			event.Region = raw.Region
		}
		event.FileName = raw.FileName
		event.IngestedAt = now

		if err := r.validator.Validate(event); err != nil {
			slog.Warn("dropping event that failed validation",
				"case_id", spec.CaseID,
				"event_id", event.EventID,
				"error", err,
			)
			atomic.AddUint64(&stats.Dropped, 1)
			continue
		}

		batch.Events = append(batch.Events, event)
		atomic.AddUint64(&stats.Normalized, 1)
	}

	return batch
}
