package schema

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/go-playground/validator/v10"
)

// Validator handles validation of events against the canonical schema.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{validate: validator.New()}
}

// Validate validates an event against the canonical schema.
// Returns an error if validation fails.
func (v *Validator) Validate(event *Event) error {
	if err := v.validate.Struct(event); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	if event.CaseID == "" {
		return fmt.Errorf("case_id is required")
	}

	if !event.Provider.IsValid() {
		return fmt.Errorf("unknown cloud provider: %q", event.Provider)
	}

	return nil
}

// ValidIP reports whether s is a syntactically valid IPv4 or IPv6
// address. Normalizers use it to null out malformed source IPs.
func ValidIP(s string) bool {
	_, err := netip.ParseAddr(s)
	return err == nil
}

// ParseTimestamp parses a timestamp string against the given layouts in
// order. Absent, "N/A", "not_supported" and unparseable values all
// yield nil rather than an error.
func ParseTimestamp(s string, layouts ...string) *time.Time {
	if s == "" || s == "N/A" || s == "not_supported" {
		return nil
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
