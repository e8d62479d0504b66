package schema

import "time"

// Severity ranks how serious a detection rule's findings are.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// IsValid checks if the severity is a known value.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// DetectionRule describes a pattern of interest over canonical events.
// Rules are identified by Name; loading a bundle with an existing name
// updates that rule in place.
type DetectionRule struct {
	Name          string        `json:"name" yaml:"name"`
	Description   string        `json:"description,omitempty" yaml:"description"`
	Cloud         CloudProvider `json:"cloud" yaml:"cloud"`
	DetectionType string        `json:"detection_type,omitempty" yaml:"detection_type"`
	Severity      Severity      `json:"severity" yaml:"severity"`

	// Filter fields. An empty field matches every event.
	EventSource string `json:"event_source,omitempty" yaml:"event_source"`
	EventName   string `json:"event_name,omitempty" yaml:"event_name"`
	EventType   string `json:"event_type,omitempty" yaml:"event_type"`

	// AdditionalCriteria maps criterion kind to its argument, e.g.
	// raw_data_contains, ip_address, user_identity.
	AdditionalCriteria map[string]string `json:"additional_criteria,omitempty" yaml:"additional_criteria"`

	// AutoTags are tag display names applied to matched events.
	AutoTags []string `json:"auto_tags,omitempty" yaml:"auto_tags"`

	Enabled   bool      `json:"enabled" yaml:"enabled"`
	UpdatedAt time.Time `json:"updated_at,omitempty" yaml:"-"`
}

// DetectionResult records that a rule matched an event within a case.
// The (CaseID, RuleName, EventRef) triple is the identity; re-running
// detection never produces a second result for the same triple.
type DetectionResult struct {
	CaseID    string    `json:"case_id"`
	RuleName  string    `json:"rule_name"`
	EventRef  string    `json:"event_ref"`
	MatchedAt time.Time `json:"matched_at"`
}
