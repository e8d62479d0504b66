package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"cloudscope/internal/schema"
)

type mockInserter struct {
	mu      sync.Mutex
	batches []*schema.Batch
	failAll bool
}

func (m *mockInserter) BulkInsert(_ context.Context, batch *schema.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return errors.New("clickhouse down")
	}
	m.batches = append(m.batches, batch)
	return nil
}

func (m *mockInserter) events() []*schema.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*schema.Event
	for _, b := range m.batches {
		all = append(all, b.Events...)
	}
	return all
}

// testNormalize builds a minimal event from {"id": "..."} payloads.
func testNormalize(caseID string, raw []byte) (*schema.Event, error) {
	var rec struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return &schema.Event{
		CaseID:   caseID,
		Provider: schema.ProviderAWS,
		EventID:  rec.ID,
		Raw:      json.RawMessage(raw),
	}, nil
}

func rawBatch(region string, ids ...string) []Raw {
	raws := make([]Raw, 0, len(ids))
	for _, id := range ids {
		raws = append(raws, Raw{
			Data:     []byte(fmt.Sprintf(`{"id": %q}`, id)),
			Region:   region,
			FileName: "trail.json.gz",
		})
	}
	return raws
}

func TestRunner_Run(t *testing.T) {
	inserter := &mockInserter{}
	runner := NewRunner(inserter, 2, 4)

	stats, err := runner.Run(context.Background(), RunSpec{
		CaseID:    "case-1",
		Provider:  schema.ProviderAWS,
		Normalize: testNormalize,
		Source: func(_ context.Context, emit func([]Raw) error) error {
			if err := emit(rawBatch("us-east-1", "1", "2")); err != nil {
				return err
			}
			return emit(rawBatch("eu-west-1", "3"))
		},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if stats.Received != 3 || stats.Normalized != 3 || stats.Inserted != 3 {
		t.Errorf("stats = %+v, want 3 received, normalized and inserted", stats)
	}
	if stats.Dropped != 0 {
		t.Errorf("Dropped = %d, want 0", stats.Dropped)
	}

	events := inserter.events()
	if len(events) != 3 {
		t.Fatalf("persisted %d events, want 3", len(events))
	}
	for _, event := range events {
		if event.CaseID != "case-1" {
			t.Errorf("CaseID = %q", event.CaseID)
		}
		if event.Region == "" {
			t.Error("collection region should be stamped onto the event")
		}
		if event.FileName != "trail.json.gz" {
			t.Errorf("FileName = %q", event.FileName)
		}
		if event.IngestedAt.IsZero() {
			t.Error("IngestedAt should be set")
		}
	}
}

func TestRunner_Run_KeepsNormalizerRegion(t *testing.T) {
	inserter := &mockInserter{}
	runner := NewRunner(inserter, 1, 0)

	normalize := func(caseID string, raw []byte) (*schema.Event, error) {
		return &schema.Event{
			CaseID:   caseID,
			Provider: schema.ProviderAWS,
			EventID:  "evt-1",
			Region:   "ap-southeast-2",
		}, nil
	}

	_, err := runner.Run(context.Background(), RunSpec{
		CaseID:    "case-1",
		Provider:  schema.ProviderAWS,
		Normalize: normalize,
		Source: func(_ context.Context, emit func([]Raw) error) error {
			return emit([]Raw{{Data: []byte(`{}`), Region: "us-east-1"}})
		},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	events := inserter.events()
	if len(events) != 1 || events[0].Region != "ap-southeast-2" {
		t.Errorf("the record's own region must win over the collection region: %+v", events)
	}
}

func TestRunner_Run_DropsUnparseable(t *testing.T) {
	inserter := &mockInserter{}
	runner := NewRunner(inserter, 1, 0)

	stats, err := runner.Run(context.Background(), RunSpec{
		CaseID:    "case-1",
		Provider:  schema.ProviderAWS,
		Normalize: testNormalize,
		Source: func(_ context.Context, emit func([]Raw) error) error {
			return emit([]Raw{
				{Data: []byte(`{"id": "good"}`)},
				{Data: []byte(`not json`)},
			})
		},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if stats.Normalized != 1 || stats.Dropped != 1 {
		t.Errorf("stats = %+v, want 1 normalized and 1 dropped", stats)
	}
	if len(inserter.events()) != 1 {
		t.Errorf("persisted %d events, want 1", len(inserter.events()))
	}
}

func TestRunner_Run_FailedBatchDoesNotAbort(t *testing.T) {
	inserter := &mockInserter{failAll: true}
	runner := NewRunner(inserter, 1, 0)

	stats, err := runner.Run(context.Background(), RunSpec{
		CaseID:    "case-1",
		Provider:  schema.ProviderAWS,
		Normalize: testNormalize,
		Source: func(_ context.Context, emit func([]Raw) error) error {
			if err := emit(rawBatch("us-east-1", "1")); err != nil {
				return err
			}
			return emit(rawBatch("us-east-1", "2"))
		},
	})
	if err != nil {
		t.Fatalf("Run() error = %v, insert failures must not abort the run", err)
	}

	if stats.FailedBatches != 2 {
		t.Errorf("FailedBatches = %d, want 2", stats.FailedBatches)
	}
	if stats.Inserted != 0 || stats.Dropped != 2 {
		t.Errorf("stats = %+v, want 0 inserted and 2 dropped", stats)
	}
}

func TestRunner_Run_SourceErrorSurfaces(t *testing.T) {
	inserter := &mockInserter{}
	runner := NewRunner(inserter, 1, 0)

	boom := errors.New("bucket listing failed")
	_, err := runner.Run(context.Background(), RunSpec{
		CaseID:    "case-1",
		Provider:  schema.ProviderAWS,
		Normalize: testNormalize,
		Source: func(context.Context, func([]Raw) error) error {
			return boom
		},
	})
	if !errors.Is(err, boom) {
		t.Errorf("Run() error = %v, want the source error", err)
	}
}

func TestRunner_Run_ValidationDrop(t *testing.T) {
	inserter := &mockInserter{}
	runner := NewRunner(inserter, 1, 0)

	normalize := func(string, []byte) (*schema.Event, error) {
		// Missing case id fails canonical validation.
		return &schema.Event{Provider: schema.ProviderAWS}, nil
	}

	stats, err := runner.Run(context.Background(), RunSpec{
		CaseID:    "case-1",
		Provider:  schema.ProviderAWS,
		Normalize: normalize,
		Source: func(_ context.Context, emit func([]Raw) error) error {
			return emit([]Raw{{Data: []byte(`{}`)}})
		},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if stats.Dropped != 1 || stats.Normalized != 0 {
		t.Errorf("stats = %+v, want the invalid event dropped", stats)
	}
}

func TestRunner_Run_MemorySink(t *testing.T) {
	sink := NewMemorySink()
	runner := NewRunner(sink, 2, 4)

	stats, err := runner.Run(context.Background(), RunSpec{
		CaseID:    "case-1",
		Provider:  schema.ProviderAWS,
		Normalize: testNormalize,
		Source: func(_ context.Context, emit func([]Raw) error) error {
			if err := emit(rawBatch("us-east-1", "1", "2")); err != nil {
				return err
			}
			return emit(rawBatch("eu-west-1", "3"))
		},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if stats.Inserted != 3 {
		t.Errorf("Inserted = %d, want 3", stats.Inserted)
	}

	events := sink.Events()
	if len(events) != 3 {
		t.Fatalf("collected %d events, want 3", len(events))
	}
	ids := map[string]bool{}
	for _, e := range events {
		if e.CaseID != "case-1" {
			t.Errorf("CaseID = %q, want case-1", e.CaseID)
		}
		ids[e.EventID] = true
	}
	for _, id := range []string{"1", "2", "3"} {
		if !ids[id] {
			t.Errorf("event %s missing from the sink", id)
		}
	}
}
