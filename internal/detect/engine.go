package detect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloudscope/internal/schema"
	"cloudscope/internal/store"
)

// ErrRunInProgress is returned when another detection run already
// holds the case's run lock.
var ErrRunInProgress = errors.New("detect: run already in progress for case")

// EventSource streams a case's stored events.
type EventSource interface {
	FindByCase(ctx context.Context, caseID string, fn func(*schema.Event) error) error
}

// RuleSource loads the enabled rules for a cloud.
type RuleSource interface {
	Enabled(ctx context.Context, cloud schema.CloudProvider) ([]schema.DetectionRule, error)
}

// ResultStore records detection results.
type ResultStore interface {
	Existing(ctx context.Context, caseID string) (map[store.ResultKey]bool, error)
	Insert(ctx context.Context, results []schema.DetectionResult) error
}

// TagStore maintains the tag catalog and event tag assignments.
type TagStore interface {
	Ensure(ctx context.Context, tags []schema.Tag) error
	Assign(ctx context.Context, caseID, eventRef string, slugs []string) error
}

// Locker serializes runs per case. A nil Locker disables locking.
type Locker interface {
	TryLock(ctx context.Context, caseID string) (bool, error)
	Unlock(ctx context.Context, caseID string) error
}

// Summary aggregates one detection run. Persistence failures for
// individual events are counted, not fatal, so the totals are
// best-effort.
type Summary struct {
	CaseID         string         `json:"case_id"`
	Cloud          string         `json:"cloud"`
	RulesEvaluated int            `json:"rules_evaluated"`
	EventsScanned  int            `json:"events_scanned"`
	Matches        int            `json:"matches"`
	NewResults     int            `json:"new_results"`
	TaggedEvents   int            `json:"tagged_events"`
	Failures       int            `json:"failures"`
	PerRule        map[string]int `json:"per_rule"`
	Duration       time.Duration  `json:"duration"`
}

// Engine runs detection rules over a case's stored events.
type Engine struct {
	events  EventSource
	rules   RuleSource
	results ResultStore
	tags    TagStore
	lock    Locker
}

// NewEngine wires the engine to its stores. lock may be nil.
func NewEngine(events EventSource, rules RuleSource, results ResultStore, tags TagStore, lock Locker) *Engine {
	return &Engine{
		events:  events,
		rules:   rules,
		results: results,
		tags:    tags,
		lock:    lock,
	}
}

// Run evaluates every enabled rule for the cloud against the case's
// events in a single pass. Results and tags are recorded idempotently:
// a triple that already has a result is skipped, and tag assignment is
// a set union. Per-event persistence failures are logged and counted
// but do not abort the run.
func (e *Engine) Run(ctx context.Context, caseID string, cloud schema.CloudProvider) (*Summary, error) {
	started := time.Now()

	if e.lock != nil {
		ok, err := e.lock.TryLock(ctx, caseID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrRunInProgress, caseID)
		}
		defer func() {
			if err := e.lock.Unlock(context.WithoutCancel(ctx), caseID); err != nil {
				slog.Warn("failed to release run lock", "case_id", caseID, "error", err)
			}
		}()
	}

	summary := &Summary{
		CaseID:  caseID,
		Cloud:   string(cloud),
		PerRule: map[string]int{},
	}

	ruleSet, err := e.rules.Enabled(ctx, cloud)
	if err != nil {
		return nil, err
	}
	compiled := CompileAll(ruleSet)
	summary.RulesEvaluated = len(compiled)
	for _, rule := range compiled {
		summary.PerRule[rule.Rule.Name] = 0
	}

	if len(compiled) == 0 {
		slog.Info("no enabled rules for cloud", "case_id", caseID, "cloud", cloud)
		summary.Duration = time.Since(started)
		return summary, nil
	}

	if err := e.ensureTags(ctx, compiled); err != nil {
		return nil, err
	}

	existing, err := e.results.Existing(ctx, caseID)
	if err != nil {
		return nil, err
	}

	slog.Info("starting detection run",
		"case_id", caseID,
		"cloud", cloud,
		"rules", len(compiled),
		"existing_results", len(existing),
	)

	err = e.events.FindByCase(ctx, caseID, func(event *schema.Event) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if event.Provider != cloud {
			return nil
		}
		summary.EventsScanned++

		e.evaluateEvent(ctx, event, compiled, existing, summary)
		return nil
	})
	if err != nil {
		return nil, err
	}

	summary.Duration = time.Since(started)
	slog.Info("detection run finished",
		"case_id", caseID,
		"cloud", cloud,
		"events", summary.EventsScanned,
		"matches", summary.Matches,
		"new_results", summary.NewResults,
		"failures", summary.Failures,
		"duration", summary.Duration,
	)
	return summary, nil
}

// evaluateEvent applies every rule to one event and persists new
// results and tags.
func (e *Engine) evaluateEvent(ctx context.Context, event *schema.Event, rules []*CompiledRule, existing map[store.ResultKey]bool, summary *Summary) {
	ref := event.Ref()

	var pending []schema.DetectionResult
	tagSlugs := map[string]bool{}

	for _, rule := range rules {
		if !rule.Matches(event) {
			continue
		}
		summary.Matches++
		summary.PerRule[rule.Rule.Name]++

		for _, slug := range rule.TagSlugs {
			tagSlugs[slug] = true
		}

		key := store.ResultKey{RuleName: rule.Rule.Name, EventRef: ref}
		if existing[key] {
			continue
		}
		pending = append(pending, schema.DetectionResult{
			CaseID:   event.CaseID,
			RuleName: rule.Rule.Name,
			EventRef: ref,
		})
	}

	if len(pending) > 0 {
		if err := e.results.Insert(ctx, pending); err != nil {
			slog.Error("failed to record detection results, skipping event",
				"case_id", event.CaseID,
				"event_ref", ref,
				"error", err,
			)
			summary.Failures++
			return
		}
		for _, result := range pending {
			existing[store.ResultKey{RuleName: result.RuleName, EventRef: result.EventRef}] = true
		}
		summary.NewResults += len(pending)
	}

	if len(tagSlugs) > 0 {
		slugs := make([]string, 0, len(tagSlugs))
		for slug := range tagSlugs {
			slugs = append(slugs, slug)
		}
		if err := e.tags.Assign(ctx, event.CaseID, ref, slugs); err != nil {
			slog.Error("failed to tag matched event",
				"case_id", event.CaseID,
				"event_ref", ref,
				"error", err,
			)
			summary.Failures++
			return
		}
		summary.TaggedEvents++
	}
}

// ensureTags registers every auto-tag referenced by the rule set.
func (e *Engine) ensureTags(ctx context.Context, rules []*CompiledRule) error {
	bySlug := map[string]schema.Tag{}
	for _, rule := range rules {
		for _, name := range rule.Rule.AutoTags {
			tag := schema.NewTag(name)
			if tag.Slug != "" {
				bySlug[tag.Slug] = tag
			}
		}
	}
	if len(bySlug) == 0 {
		return nil
	}

	tags := make([]schema.Tag, 0, len(bySlug))
	for _, tag := range bySlug {
		tags = append(tags, tag)
	}
	return e.tags.Ensure(ctx, tags)
}
