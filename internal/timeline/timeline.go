// Package timeline sorts canonical events and serializes them to
// CSV, JSON or a styled terminal table for offline review.
package timeline

import (
	"fmt"
	"io"
	"sort"
	"time"

	"cloudscope/internal/schema"
)

// maxTime sorts events without a timestamp after every dated event.
var maxTime = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)

// SortEvents orders events ascending by event time. Events with no
// timestamp keep their relative order at the end.
func SortEvents(events []*schema.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return sortKey(events[i]).Before(sortKey(events[j]))
	})
}

func sortKey(e *schema.Event) time.Time {
	if e.EventTime == nil {
		return maxTime
	}
	return *e.EventTime
}

// Writer serializes event batches incrementally: batches append to
// prior output without re-reading it, and Close finalizes the stream.
type Writer interface {
	WriteBatch(events []*schema.Event) error
	Close() error
}

// NewWriter returns an incremental writer for the format, one of
// "csv" or "json".
func NewWriter(format string, w io.Writer) (Writer, error) {
	switch format {
	case "csv":
		return NewCSVWriter(w), nil
	case "json":
		return NewJSONWriter(w), nil
	default:
		return nil, fmt.Errorf("timeline: unknown format %q", format)
	}
}

// Export sorts a complete in-memory collection and writes it out in
// one shot.
func Export(events []*schema.Event, format string, w io.Writer) error {
	writer, err := NewWriter(format, w)
	if err != nil {
		return err
	}
	SortEvents(events)
	if err := writer.WriteBatch(events); err != nil {
		return err
	}
	return writer.Close()
}
