package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"cloudscope/internal/config"
	"cloudscope/internal/schema"
)

// EventRepository persists and reads canonical events.
type EventRepository struct {
	client *Client
	insert config.Insert
}

// NewEventRepository creates an EventRepository.
func NewEventRepository(client *Client, cfg config.Insert) *EventRepository {
	return &EventRepository{client: client, insert: cfg}
}

// BulkInsert persists a batch of events. The batch goes down as a
// single insert with retries; either every event in it lands or the
// whole batch fails.
func (r *EventRepository) BulkInsert(ctx context.Context, batch *schema.Batch) error {
	if batch.Len() == 0 {
		return nil
	}

	var lastErr error
	for attempt := 0; attempt <= r.insert.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.insert.RetryDelay * time.Duration(attempt)):
			}
		}

		if err := r.insertBatch(ctx, batch.Events); err != nil {
			lastErr = err
			slog.Warn("batch insert failed, retrying",
				"attempt", attempt+1,
				"max_retries", r.insert.MaxRetries,
				"error", err,
			)
			continue
		}

		slog.Debug("batch inserted", "count", batch.Len())
		return nil
	}

	return WrapInsertError("BulkInsert", "events", lastErr, r.insert.MaxRetries)
}

func (r *EventRepository) insertBatch(ctx context.Context, events []*schema.Event) error {
	ctx, cancel := context.WithTimeout(ctx, r.insert.Timeout)
	defer cancel()

	batch, err := r.client.PrepareBatch(ctx, `
		INSERT INTO events (
			case_id, cloud, event_ref, event_id, event_time,
			event_source, event_name, event_type, username, region,
			source_ip, user_agent, resources, raw_payload, file_name,
			ingested_at
		)
	`)
	if err != nil {
		return err
	}

	for _, event := range events {
		resources, _ := json.Marshal(event.Resources)

		ingestedAt := event.IngestedAt
		if ingestedAt.IsZero() {
			ingestedAt = time.Now().UTC()
		}

		err := batch.Append(
			event.CaseID,
			string(event.Provider),
			event.Ref(),
			event.EventID,
			event.EventTime,
			event.EventSource,
			event.EventName,
			event.EventType,
			event.Actor,
			event.Region,
			event.SourceIP,
			event.UserAgent,
			string(resources),
			string(event.Raw),
			event.FileName,
			ingestedAt,
		)
		if err != nil {
			return err
		}
	}

	return batch.Send()
}

// FindByCase streams a case's events in event_time order, events with
// no timestamp last. fn is invoked once per event; returning an error
// stops the scan.
func (r *EventRepository) FindByCase(ctx context.Context, caseID string, fn func(*schema.Event) error) error {
	rows, err := r.client.Query(ctx, `
		SELECT
			case_id, cloud, event_ref, event_id, event_time,
			event_source, event_name, event_type, username, region,
			source_ip, user_agent, resources, raw_payload, file_name,
			ingested_at
		FROM events
		WHERE case_id = ?
		ORDER BY event_time ASC NULLS LAST
	`, caseID)
	if err != nil {
		return WrapQueryError("FindByCase", "events", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			event     schema.Event
			cloud     string
			ref       string
			resources string
			raw       string
		)
		if err := rows.Scan(
			&event.CaseID,
			&cloud,
			&ref,
			&event.EventID,
			&event.EventTime,
			&event.EventSource,
			&event.EventName,
			&event.EventType,
			&event.Actor,
			&event.Region,
			&event.SourceIP,
			&event.UserAgent,
			&resources,
			&raw,
			&event.FileName,
			&event.IngestedAt,
		); err != nil {
			return WrapQueryError("FindByCase", "events", err)
		}

		event.Provider = schema.CloudProvider(cloud)
		if resources != "" && resources != "null" {
			if err := json.Unmarshal([]byte(resources), &event.Resources); err != nil {
				slog.Warn("unreadable resources column, skipping",
					"case_id", caseID,
					"event_ref", ref,
					"error", err,
				)
			}
		}
		if raw != "" {
			event.Raw = json.RawMessage(raw)
		}

		if err := fn(&event); err != nil {
			return err
		}
	}

	return rows.Err()
}

// CountByCase returns the number of stored event rows for a case.
func (r *EventRepository) CountByCase(ctx context.Context, caseID string) (uint64, error) {
	rows, err := r.client.Query(ctx,
		"SELECT count() FROM events WHERE case_id = ?", caseID)
	if err != nil {
		return 0, WrapQueryError("CountByCase", "events", err)
	}
	defer rows.Close()

	var count uint64
	if rows.Next() {
		if err := rows.Scan(&count); err != nil {
			return 0, WrapQueryError("CountByCase", "events", err)
		}
	}
	return count, rows.Err()
}
