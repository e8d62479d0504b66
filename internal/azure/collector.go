package azure

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/monitor/armmonitor"

	"cloudscope/internal/errs"
)

// defaultRetention is how far back the Activity Log API serves
// events. Requests beyond the retention window fail, so older start
// dates are clamped. One day inside the provider's 90-day limit.
const defaultRetention = 89 * 24 * time.Hour

// ActivityLogsAPI is the slice of the monitor client the collector
// needs.
type ActivityLogsAPI interface {
	NewListPager(filter string, options *armmonitor.ActivityLogsClientListOptions) *runtime.Pager[armmonitor.ActivityLogsClientListResponse]
}

// RawRecord is one raw Activity Log event payload.
type RawRecord struct {
	Data []byte
}

// CollectRequest describes one Activity Log collection window.
type CollectRequest struct {
	Start time.Time
	End   time.Time
	// Filter is appended verbatim to the timestamp filter when set,
	// e.g. "and resourceGroupName eq 'prod'".
	Filter string
}

// Collector pages Activity Log events out of the monitor API.
type Collector struct {
	api       ActivityLogsAPI
	batchSize int
	retention time.Duration
}

// NewCollector creates a Collector. batchSize bounds how many raw
// records are buffered before the callback fires; retention bounds
// how far back start dates may reach before they are clamped.
func NewCollector(api ActivityLogsAPI, batchSize int, retention time.Duration) *Collector {
	if batchSize <= 0 {
		batchSize = 1000
	}
	if retention <= 0 {
		retention = defaultRetention
	}
	return &Collector{api: api, batchSize: batchSize, retention: retention}
}

// Collect pages through the Activity Log for the requested window and
// hands raw event payloads to fn in batches. A start before the
// provider's retention window is clamped forward with a warning rather
// than rejected. Events that fail to encode are logged and skipped.
func (c *Collector) Collect(ctx context.Context, req CollectRequest, fn func([]RawRecord) error) error {
	start := req.Start.UTC()
	end := req.End.UTC()

	oldest := time.Now().UTC().Add(-c.retention)
	if start.Before(oldest) {
		slog.Warn("start date beyond activity log retention, clamping",
			"requested", start.Format("2006-01-02"),
			"clamped", oldest.Format("2006-01-02"),
			"retention", c.retention,
		)
		start = oldest
	}

	filter := fmt.Sprintf("eventTimestamp ge '%s' and eventTimestamp le '%s'",
		start.Format(time.RFC3339), end.Format(time.RFC3339))
	if req.Filter != "" {
		filter += " " + req.Filter
	}

	slog.Info("collecting activity log events",
		"start", start.Format(time.RFC3339),
		"end", end.Format(time.RFC3339),
	)

	batch := make([]RawRecord, 0, c.batchSize)
	total := 0

	pager := c.api.NewListPager(filter, nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return errs.Transport("azure.Collect", filter, err)
		}

		for _, event := range page.Value {
			data, err := json.Marshal(event)
			if err != nil {
				slog.Warn("failed to encode activity log event, skipping", "error", err)
				continue
			}

			batch = append(batch, RawRecord{Data: data})
			total++
			if len(batch) >= c.batchSize {
				if err := fn(batch); err != nil {
					return err
				}
				batch = make([]RawRecord, 0, c.batchSize)
			}
		}
	}

	if len(batch) > 0 {
		if err := fn(batch); err != nil {
			return err
		}
	}

	slog.Info("activity log collection finished", "events", total)
	return nil
}
