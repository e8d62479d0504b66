// Package tasks submits and executes background units of work over
// Kafka. Every task kind is idempotent, so redelivery after a consumer
// crash is safe.
package tasks

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind identifies what a task does.
type Kind string

const (
	KindIngestS3     Kind = "ingest_s3"
	KindIngestAPI    Kind = "ingest_api"
	KindIngestAzure  Kind = "ingest_azure"
	KindRunDetection Kind = "run_detection"
)

// IsValid checks if the kind is a known value.
func (k Kind) IsValid() bool {
	switch k {
	case KindIngestS3, KindIngestAPI, KindIngestAzure, KindRunDetection:
		return true
	}
	return false
}

// Task is one unit of work in flight.
type Task struct {
	ID          string          `json:"id"`
	Kind        Kind            `json:"kind"`
	CaseID      string          `json:"case_id"`
	SubmittedAt time.Time       `json:"submitted_at"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// IngestS3Payload parameterizes an S3 trail ingestion task.
type IngestS3Payload struct {
	Bucket  string    `json:"bucket"`
	Prefix  string    `json:"prefix,omitempty"`
	Regions []string  `json:"regions,omitempty"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
}

// IngestAPIPayload parameterizes a management API ingestion task,
// for AWS LookupEvents and the Azure Activity Log alike.
type IngestAPIPayload struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// DetectionPayload parameterizes a detection run task.
type DetectionPayload struct {
	Cloud string `json:"cloud"`
}

// NewTask builds a task envelope around a payload.
func NewTask(kind Kind, caseID string, payload any) (*Task, error) {
	if !kind.IsValid() {
		return nil, fmt.Errorf("tasks: unknown kind %q", kind)
	}
	if caseID == "" {
		return nil, fmt.Errorf("tasks: case id is required")
	}

	task := &Task{
		ID:          uuid.NewString(),
		Kind:        kind,
		CaseID:      caseID,
		SubmittedAt: time.Now().UTC(),
	}

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("tasks: encoding payload: %w", err)
		}
		task.Payload = data
	}
	return task, nil
}

// DecodePayload unmarshals the task payload into v.
func (t *Task) DecodePayload(v any) error {
	if len(t.Payload) == 0 {
		return fmt.Errorf("tasks: task %s has no payload", t.ID)
	}
	return json.Unmarshal(t.Payload, v)
}
