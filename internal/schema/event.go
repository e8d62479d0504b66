// Package schema defines the canonical event schema for cloudscope.
// Raw provider audit records are normalized to this structure before
// storage and detection.
package schema

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CloudProvider identifies the cloud an event was collected from.
type CloudProvider string

const (
	ProviderAWS   CloudProvider = "aws"
	ProviderAzure CloudProvider = "azure"
	ProviderGCP   CloudProvider = "gcp"
)

// IsValid checks if the provider is a known value.
func (p CloudProvider) IsValid() bool {
	switch p {
	case ProviderAWS, ProviderAzure, ProviderGCP:
		return true
	}
	return false
}

// Event represents the canonical audit event format.
// All collected provider events are normalized to this structure.
type Event struct {
	// Required fields
	CaseID   string        `json:"case_id" validate:"required"`
	Provider CloudProvider `json:"cloud" validate:"required,oneof=aws azure gcp"`

	// Provider fields. EventID is the provider-native id and is not
	// guaranteed unique or present; EventTime is nil when the raw
	// timestamp was absent or malformed. EventSource is the emitting
	// service, e.g. signin.amazonaws.com.
	EventID     string     `json:"event_id,omitempty" validate:"max=1000"`
	EventTime   *time.Time `json:"event_time"`
	EventSource string     `json:"event_source,omitempty" validate:"max=1000"`
	EventName   string     `json:"event_name,omitempty" validate:"max=1000"`
	EventType   string     `json:"event_type,omitempty" validate:"max=1000"`
	Actor       string     `json:"username,omitempty" validate:"max=1000"`
	Region      string     `json:"region,omitempty" validate:"max=1000"`
	SourceIP    string     `json:"source_ip,omitempty" validate:"omitempty,ip"`
	UserAgent   string     `json:"user_agent,omitempty" validate:"max=3000"`

	// Resources is the ordered list of resource references touched by
	// the event. May be empty.
	Resources []ResourceRef `json:"resources,omitempty"`

	// Raw is the original provider payload, preserved verbatim for the
	// audit trail.
	Raw json.RawMessage `json:"raw_payload,omitempty"`

	// Tags holds tag slugs. Mutated only additively after creation.
	Tags []string `json:"tags,omitempty"`

	// Internal fields (set by the pipeline)
	FileName   string    `json:"file_name,omitempty"`
	IngestedAt time.Time `json:"ingested_at"`
}

// ResourceRef is a structured reference to a cloud resource touched by
// an event. Either the identity fields are set (explicit provider
// resources) or Request/Response carry the synthesized parameter blobs,
// never both.
type ResourceRef struct {
	ID    string `json:"resource_id,omitempty"`
	Type  string `json:"resource_type,omitempty"`
	Name  string `json:"resource_name,omitempty"`
	Group string `json:"resource_group,omitempty"`

	Request  json.RawMessage `json:"request_parameters,omitempty"`
	Response json.RawMessage `json:"response_elements,omitempty"`
}

// refNamespace seeds the deterministic fallback ref for events that
// carry no provider event id.
var refNamespace = uuid.MustParse("5ca3a4f2-7d69-4a2e-9c1f-0d8b1c6e4a21")

// Ref returns the identity used to key detection results for this
// event: the provider event id when present, otherwise a deterministic
// UUID derived from the canonical fields so that re-normalizing the
// same raw event yields the same ref.
func (e *Event) Ref() string {
	if e.EventID != "" {
		return e.EventID
	}

	var b strings.Builder
	b.WriteString(e.CaseID)
	b.WriteByte('|')
	b.WriteString(string(e.Provider))
	b.WriteByte('|')
	b.WriteString(e.EventSource)
	b.WriteByte('|')
	b.WriteString(e.EventName)
	b.WriteByte('|')
	if e.EventTime != nil {
		b.WriteString(e.EventTime.UTC().Format(time.RFC3339))
	}
	b.WriteByte('|')
	b.WriteString(e.Actor)
	b.WriteByte('|')
	b.Write(e.Raw)

	return uuid.NewSHA1(refNamespace, []byte(b.String())).String()
}

// HasTag reports whether the event already carries the tag slug.
func (e *Event) HasTag(slug string) bool {
	for _, t := range e.Tags {
		if t == slug {
			return true
		}
	}
	return false
}

// AddTags unions the given tag slugs into the event's tag set.
// Existing tags are never removed.
func (e *Event) AddTags(slugs ...string) {
	for _, s := range slugs {
		if s == "" || e.HasTag(s) {
			continue
		}
		e.Tags = append(e.Tags, s)
	}
}

// Tag is a label referenced by events and detection rules.
// Slugs are globally unique.
type Tag struct {
	Name string `json:"name" yaml:"name"`
	Slug string `json:"slug" yaml:"slug"`
}

// NewTag builds a Tag from a display name, deriving the slug.
func NewTag(name string) Tag {
	return Tag{Name: name, Slug: Slugify(name)}
}

// Slugify lowercases a tag name and replaces spaces with hyphens.
func Slugify(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "-")
}

// Batch is one unit of events handed from a fetcher to the store.
// A batch is persisted atomically; batches are independent.
type Batch struct {
	Events []*Event
}

// Len returns the number of events in the batch.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Events)
}
