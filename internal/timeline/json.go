package timeline

import (
	"encoding/json"
	"io"

	"cloudscope/internal/schema"
)

// JSONWriter writes events as one JSON array, element by element. The
// opening bracket is written before the first event and Close writes
// the closing one, so batches can be appended without re-reading
// earlier output.
type JSONWriter struct {
	w      io.Writer
	opened bool
	count  int
}

// NewJSONWriter creates a JSONWriter on w.
func NewJSONWriter(w io.Writer) *JSONWriter {
	return &JSONWriter{w: w}
}

// WriteBatch appends one batch of events.
func (j *JSONWriter) WriteBatch(events []*schema.Event) error {
	if err := j.open(); err != nil {
		return err
	}

	for _, event := range events {
		data, err := json.Marshal(event)
		if err != nil {
			return err
		}

		sep := ",\n  "
		if j.count == 0 {
			sep = "\n  "
		}
		if _, err := io.WriteString(j.w, sep); err != nil {
			return err
		}
		if _, err := j.w.Write(data); err != nil {
			return err
		}
		j.count++
	}
	return nil
}

// Close terminates the array. An export with no events yields "[]".
func (j *JSONWriter) Close() error {
	if err := j.open(); err != nil {
		return err
	}
	closing := "]"
	if j.count > 0 {
		closing = "\n]"
	}
	_, err := io.WriteString(j.w, closing)
	return err
}

func (j *JSONWriter) open() error {
	if j.opened {
		return nil
	}
	if _, err := io.WriteString(j.w, "["); err != nil {
		return err
	}
	j.opened = true
	return nil
}
