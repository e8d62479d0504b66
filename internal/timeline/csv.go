package timeline

import (
	"encoding/csv"
	"io"
	"time"

	"cloudscope/internal/schema"
)

// csvHeader is the fixed export column set.
var csvHeader = []string{
	"event_time",
	"event_name",
	"event_source",
	"username",
	"aws_region",
	"source_ip",
	"user_agent",
	"event_id",
}

// CSVWriter writes events as CSV rows. The header is written once,
// before the first row.
type CSVWriter struct {
	w           *csv.Writer
	wroteHeader bool
}

// NewCSVWriter creates a CSVWriter on w.
func NewCSVWriter(w io.Writer) *CSVWriter {
	return &CSVWriter{w: csv.NewWriter(w)}
}

// WriteBatch appends one batch of events.
func (c *CSVWriter) WriteBatch(events []*schema.Event) error {
	if !c.wroteHeader {
		if err := c.w.Write(csvHeader); err != nil {
			return err
		}
		c.wroteHeader = true
	}

	for _, event := range events {
		if err := c.w.Write(csvRow(event)); err != nil {
			return err
		}
	}
	c.w.Flush()
	return c.w.Error()
}

// Close flushes buffered rows. An export with no events still gets
// the header.
func (c *CSVWriter) Close() error {
	if !c.wroteHeader {
		if err := c.w.Write(csvHeader); err != nil {
			return err
		}
		c.wroteHeader = true
	}
	c.w.Flush()
	return c.w.Error()
}

func csvRow(event *schema.Event) []string {
	eventTime := ""
	if event.EventTime != nil {
		eventTime = event.EventTime.UTC().Format(time.RFC3339)
	}
	return []string{
		eventTime,
		event.EventName,
		event.EventSource,
		event.Actor,
		event.Region,
		event.SourceIP,
		event.UserAgent,
		event.EventID,
	}
}
