// Package detect evaluates detection rules against stored canonical
// events, recording matches and applying auto-tags idempotently.
package detect

import (
	"log/slog"
	"strings"

	"cloudscope/internal/schema"
)

// Criterion kinds understood by the matcher. Anything else in a rule's
// additional criteria is dropped at compile time.
const (
	CriterionRawContains  = "raw_data_contains"
	CriterionIPAddress    = "ip_address"
	CriterionUserIdentity = "user_identity"
)

// criterion is one compiled additional predicate.
type criterion struct {
	kind  string
	value string
}

// CompiledRule is a detection rule prepared for matching: filter
// fields are lowercased once and unknown criterion kinds are removed.
type CompiledRule struct {
	Rule schema.DetectionRule

	eventSource string
	eventName   string
	eventType   string
	criteria    []criterion

	// TagSlugs are the rule's auto-tags, slugified.
	TagSlugs []string
}

// Compile prepares a rule for matching. Unknown criterion kinds are
// logged and ignored.
func Compile(rule schema.DetectionRule) *CompiledRule {
	compiled := &CompiledRule{
		Rule:        rule,
		eventSource: strings.ToLower(rule.EventSource),
		eventName:   strings.ToLower(rule.EventName),
		eventType:   strings.ToLower(rule.EventType),
	}

	for kind, value := range rule.AdditionalCriteria {
		switch kind {
		case CriterionRawContains, CriterionIPAddress, CriterionUserIdentity:
			compiled.criteria = append(compiled.criteria, criterion{kind: kind, value: value})
		default:
			slog.Warn("ignoring unknown criterion kind",
				"rule", rule.Name,
				"kind", kind,
			)
		}
	}

	for _, name := range rule.AutoTags {
		if slug := schema.Slugify(name); slug != "" {
			compiled.TagSlugs = append(compiled.TagSlugs, slug)
		}
	}

	return compiled
}

// Matches reports whether the event satisfies every filter the rule
// sets. Empty filter fields match everything.
func (r *CompiledRule) Matches(event *schema.Event) bool {
	if r.eventName != "" && strings.ToLower(event.EventName) != r.eventName {
		return false
	}
	if r.eventSource != "" && strings.ToLower(event.EventSource) != r.eventSource {
		return false
	}
	if r.eventType != "" && strings.ToLower(event.EventType) != r.eventType {
		return false
	}

	for _, c := range r.criteria {
		switch c.kind {
		case CriterionRawContains:
			if !strings.Contains(strings.ToLower(string(event.Raw)), strings.ToLower(c.value)) {
				return false
			}
		case CriterionIPAddress:
			if event.SourceIP != c.value {
				return false
			}
		case CriterionUserIdentity:
			if event.Actor != c.value {
				return false
			}
		}
	}

	return true
}

// CompileAll compiles a rule list, keeping the input order.
func CompileAll(rules []schema.DetectionRule) []*CompiledRule {
	compiled := make([]*CompiledRule, 0, len(rules))
	for _, rule := range rules {
		compiled = append(compiled, Compile(rule))
	}
	return compiled
}
