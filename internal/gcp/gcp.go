// Package gcp reserves the GCP audit log provider. Collection and
// normalization are not implemented yet; every operation reports
// errs.ErrNotSupported so callers can branch on it.
package gcp

import (
	"context"
	"fmt"
	"time"

	"cloudscope/internal/errs"
	"cloudscope/internal/schema"
)

// Credentials holds the service account used to query a project.
type Credentials struct {
	ProjectID          string `yaml:"project_id"`
	ServiceAccountJSON string `yaml:"service_account_json"`
}

// CollectRequest describes one audit log collection window.
type CollectRequest struct {
	Start time.Time
	End   time.Time
}

// RawRecord is one raw audit log entry payload.
type RawRecord struct {
	Data []byte
}

// Collector is a placeholder for the GCP audit log collector.
type Collector struct{}

// NewCollector creates a Collector.
func NewCollector(creds Credentials) *Collector {
	return &Collector{}
}

// Collect is not implemented.
func (c *Collector) Collect(_ context.Context, _ CollectRequest, _ func([]RawRecord) error) error {
	return fmt.Errorf("gcp.Collect: %w", errs.ErrNotSupported)
}

// Normalize is not implemented.
func Normalize(_ string, _ []byte) (*schema.Event, error) {
	return nil, fmt.Errorf("gcp.Normalize: %w", errs.ErrNotSupported)
}
