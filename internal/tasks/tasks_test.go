package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"cloudscope/internal/config"
	"cloudscope/internal/schema"
)

func TestNewTask(t *testing.T) {
	payload := IngestS3Payload{
		Bucket: "trail-bucket",
		Start:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:    time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
	}

	task, err := NewTask(KindIngestS3, "case-1", payload)
	if err != nil {
		t.Fatalf("NewTask() error = %v", err)
	}

	if task.ID == "" {
		t.Error("task should get an id")
	}
	if task.SubmittedAt.IsZero() {
		t.Error("SubmittedAt should be set")
	}

	var decoded IngestS3Payload
	if err := task.DecodePayload(&decoded); err != nil {
		t.Fatalf("DecodePayload() error = %v", err)
	}
	if decoded.Bucket != "trail-bucket" || !decoded.Start.Equal(payload.Start) {
		t.Errorf("payload round trip = %+v", decoded)
	}
}

func TestNewTask_Invalid(t *testing.T) {
	if _, err := NewTask(Kind("reticulate_splines"), "case-1", nil); err == nil {
		t.Error("unknown kind should be rejected")
	}
	if _, err := NewTask(KindRunDetection, "", nil); err == nil {
		t.Error("missing case id should be rejected")
	}
}

func TestTask_JSONRoundTrip(t *testing.T) {
	task, err := NewTask(KindRunDetection, "case-1", DetectionPayload{Cloud: string(schema.ProviderAWS)})
	if err != nil {
		t.Fatal(err)
	}

	data, err := json.Marshal(task)
	if err != nil {
		t.Fatal(err)
	}

	var decoded Task
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.ID != task.ID || decoded.Kind != KindRunDetection || decoded.CaseID != "case-1" {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestConsumer_Dispatch(t *testing.T) {
	var handled []*Task
	c := &Consumer{
		handler: func(_ context.Context, task *Task) error {
			handled = append(handled, task)
			return nil
		},
		maxRetries: 2,
		backoff:    time.Millisecond,
	}

	task, _ := NewTask(KindRunDetection, "case-1", nil)
	data, _ := json.Marshal(task)

	c.dispatch(context.Background(), data)

	if len(handled) != 1 {
		t.Fatalf("handled %d tasks, want 1", len(handled))
	}
	if handled[0].ID != task.ID {
		t.Errorf("handled task %q, want %q", handled[0].ID, task.ID)
	}
}

func TestConsumer_Dispatch_Retries(t *testing.T) {
	attempts := 0
	c := &Consumer{
		handler: func(context.Context, *Task) error {
			attempts++
			if attempts < 3 {
				return errors.New("transient")
			}
			return nil
		},
		maxRetries: 3,
		backoff:    time.Millisecond,
	}

	task, _ := NewTask(KindIngestAPI, "case-1", nil)
	data, _ := json.Marshal(task)

	c.dispatch(context.Background(), data)

	if attempts != 3 {
		t.Errorf("attempts = %d, want success on the third", attempts)
	}
}

func TestConsumer_Dispatch_GivesUp(t *testing.T) {
	attempts := 0
	c := &Consumer{
		handler: func(context.Context, *Task) error {
			attempts++
			return errors.New("permanent")
		},
		maxRetries: 2,
		backoff:    time.Millisecond,
	}

	task, _ := NewTask(KindIngestS3, "case-1", nil)
	data, _ := json.Marshal(task)

	c.dispatch(context.Background(), data)

	if attempts != 3 {
		t.Errorf("attempts = %d, want initial try plus 2 retries", attempts)
	}
}

func TestConsumer_Dispatch_DropsPoisonMessages(t *testing.T) {
	called := false
	c := &Consumer{
		handler: func(context.Context, *Task) error {
			called = true
			return nil
		},
		maxRetries: 2,
		backoff:    time.Millisecond,
	}

	c.dispatch(context.Background(), []byte("not json"))
	c.dispatch(context.Background(), []byte(`{"id": "x", "kind": "reticulate_splines", "case_id": "case-1"}`))

	if called {
		t.Error("handler should not run for undecodable or unknown tasks")
	}
}

func TestNewConsumer_Timeouts(t *testing.T) {
	cfg := config.Tasks{
		Brokers:       []string{"localhost:9092"},
		Topic:         "tasks",
		ConsumerGroup: "workers",
		MaxRetries:    2,
		RetryBackoff:  time.Second,
		CommitTimeout: 3 * time.Second,
	}

	c, err := NewConsumer(cfg, func(context.Context, *Task) error { return nil })
	if err != nil {
		t.Fatalf("NewConsumer() error = %v", err)
	}
	defer c.Close()

	if c.backoff != time.Second {
		t.Errorf("backoff = %v, want 1s", c.backoff)
	}
	if c.commitTimeout != 3*time.Second {
		t.Errorf("commitTimeout = %v, want 3s", c.commitTimeout)
	}

	cfg.RetryBackoff = 0
	cfg.CommitTimeout = 0
	c2, err := NewConsumer(cfg, func(context.Context, *Task) error { return nil })
	if err != nil {
		t.Fatalf("NewConsumer() error = %v", err)
	}
	defer c2.Close()

	if c2.backoff != 5*time.Second {
		t.Errorf("default backoff = %v, want 5s", c2.backoff)
	}
	if c2.commitTimeout != 10*time.Second {
		t.Errorf("default commitTimeout = %v, want 10s", c2.commitTimeout)
	}
}
