package detect

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"cloudscope/internal/schema"
	"cloudscope/internal/store"
)

type mockEvents struct {
	events []*schema.Event
}

func (m *mockEvents) FindByCase(_ context.Context, caseID string, fn func(*schema.Event) error) error {
	for _, event := range m.events {
		if event.CaseID != caseID {
			continue
		}
		if err := fn(event); err != nil {
			return err
		}
	}
	return nil
}

type mockRules struct {
	rules []schema.DetectionRule
}

func (m *mockRules) Enabled(_ context.Context, cloud schema.CloudProvider) ([]schema.DetectionRule, error) {
	var out []schema.DetectionRule
	for _, rule := range m.rules {
		if rule.Enabled && rule.Cloud == cloud {
			out = append(out, rule)
		}
	}
	return out, nil
}

type mockResults struct {
	existing  map[store.ResultKey]bool
	inserted  []schema.DetectionResult
	insertErr error
}

func (m *mockResults) Existing(_ context.Context, _ string) (map[store.ResultKey]bool, error) {
	out := map[store.ResultKey]bool{}
	for k, v := range m.existing {
		out[k] = v
	}
	return out, nil
}

func (m *mockResults) Insert(_ context.Context, results []schema.DetectionResult) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	m.inserted = append(m.inserted, results...)
	for _, r := range results {
		if m.existing == nil {
			m.existing = map[store.ResultKey]bool{}
		}
		m.existing[store.ResultKey{RuleName: r.RuleName, EventRef: r.EventRef}] = true
	}
	return nil
}

type mockTags struct {
	ensured  []schema.Tag
	assigned map[string][]string // event ref -> slugs
}

func (m *mockTags) Ensure(_ context.Context, tags []schema.Tag) error {
	m.ensured = append(m.ensured, tags...)
	return nil
}

func (m *mockTags) Assign(_ context.Context, _ string, eventRef string, slugs []string) error {
	if m.assigned == nil {
		m.assigned = map[string][]string{}
	}
	m.assigned[eventRef] = append(m.assigned[eventRef], slugs...)
	return nil
}

type mockLock struct {
	held     bool
	acquired int
	released int
}

func (m *mockLock) TryLock(_ context.Context, _ string) (bool, error) {
	if m.held {
		return false, nil
	}
	m.held = true
	m.acquired++
	return true, nil
}

func (m *mockLock) Unlock(_ context.Context, _ string) error {
	m.held = false
	m.released++
	return nil
}

func consoleLoginEvent(id, mfa string) *schema.Event {
	return &schema.Event{
		CaseID:      "case-1",
		Provider:    schema.ProviderAWS,
		EventID:     id,
		EventSource: "signin.amazonaws.com",
		EventName:   "ConsoleLogin",
		Actor:       "alice",
		Raw:         json.RawMessage(`{"additionalEventData": {"MFAUsed": "` + mfa + `"}}`),
	}
}

func noMFARule() schema.DetectionRule {
	return schema.DetectionRule{
		Name:        "console-login-no-mfa",
		Cloud:       schema.ProviderAWS,
		Severity:    schema.SeverityHigh,
		EventSource: "signin.amazonaws.com",
		EventName:   "ConsoleLogin",
		AdditionalCriteria: map[string]string{
			CriterionRawContains: `"MFAUsed": "No"`,
		},
		AutoTags: []string{"Suspicious"},
		Enabled:  true,
	}
}

func TestEngine_Run(t *testing.T) {
	events := &mockEvents{events: []*schema.Event{
		consoleLoginEvent("evt-1", "No"),
		consoleLoginEvent("evt-2", "Yes"),
		{CaseID: "case-1", Provider: schema.ProviderAzure, EventID: "evt-3", EventName: "ConsoleLogin"},
		{CaseID: "case-2", Provider: schema.ProviderAWS, EventID: "evt-4", EventName: "ConsoleLogin"},
	}}
	rules := &mockRules{rules: []schema.DetectionRule{noMFARule()}}
	results := &mockResults{}
	tags := &mockTags{}

	engine := NewEngine(events, rules, results, tags, nil)
	summary, err := engine.Run(context.Background(), "case-1", schema.ProviderAWS)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if summary.RulesEvaluated != 1 {
		t.Errorf("RulesEvaluated = %d, want 1", summary.RulesEvaluated)
	}
	if summary.EventsScanned != 2 {
		t.Errorf("EventsScanned = %d, want 2 aws events in case", summary.EventsScanned)
	}
	if summary.Matches != 1 || summary.NewResults != 1 {
		t.Errorf("Matches = %d, NewResults = %d, want 1 and 1", summary.Matches, summary.NewResults)
	}
	if summary.PerRule["console-login-no-mfa"] != 1 {
		t.Errorf("PerRule = %v", summary.PerRule)
	}

	if len(results.inserted) != 1 {
		t.Fatalf("inserted %d results, want 1", len(results.inserted))
	}
	result := results.inserted[0]
	if result.CaseID != "case-1" || result.RuleName != "console-login-no-mfa" || result.EventRef != "evt-1" {
		t.Errorf("unexpected result %+v", result)
	}

	if len(tags.ensured) != 1 || tags.ensured[0].Slug != "suspicious" {
		t.Errorf("ensured tags = %v", tags.ensured)
	}
	if got := tags.assigned["evt-1"]; len(got) != 1 || got[0] != "suspicious" {
		t.Errorf("assigned tags = %v", tags.assigned)
	}
}

func TestEngine_Run_Idempotent(t *testing.T) {
	events := &mockEvents{events: []*schema.Event{consoleLoginEvent("evt-1", "No")}}
	rules := &mockRules{rules: []schema.DetectionRule{noMFARule()}}
	results := &mockResults{}
	tags := &mockTags{}

	engine := NewEngine(events, rules, results, tags, nil)

	first, err := engine.Run(context.Background(), "case-1", schema.ProviderAWS)
	if err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	second, err := engine.Run(context.Background(), "case-1", schema.ProviderAWS)
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}

	if first.NewResults != 1 {
		t.Errorf("first NewResults = %d, want 1", first.NewResults)
	}
	if second.NewResults != 0 {
		t.Errorf("second NewResults = %d, want 0", second.NewResults)
	}
	if second.Matches != 1 {
		t.Errorf("second Matches = %d, the rule still matches", second.Matches)
	}
	if len(results.inserted) != 1 {
		t.Errorf("inserted %d results across two runs, want 1", len(results.inserted))
	}
}

func TestEngine_Run_WildcardRule(t *testing.T) {
	events := &mockEvents{events: []*schema.Event{
		consoleLoginEvent("evt-1", "Yes"),
		consoleLoginEvent("evt-2", "No"),
	}}
	rules := &mockRules{rules: []schema.DetectionRule{
		{Name: "match-all", Cloud: schema.ProviderAWS, Enabled: true},
	}}
	results := &mockResults{}

	engine := NewEngine(events, rules, results, &mockTags{}, nil)
	summary, err := engine.Run(context.Background(), "case-1", schema.ProviderAWS)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if summary.Matches != 2 {
		t.Errorf("Matches = %d, an empty rule matches every event", summary.Matches)
	}
}

func TestEngine_Run_DisabledAndOtherCloudRulesExcluded(t *testing.T) {
	disabled := noMFARule()
	disabled.Name = "disabled"
	disabled.Enabled = false

	azure := noMFARule()
	azure.Name = "azure-rule"
	azure.Cloud = schema.ProviderAzure

	events := &mockEvents{events: []*schema.Event{consoleLoginEvent("evt-1", "No")}}
	rules := &mockRules{rules: []schema.DetectionRule{disabled, azure}}

	engine := NewEngine(events, rules, &mockResults{}, &mockTags{}, nil)
	summary, err := engine.Run(context.Background(), "case-1", schema.ProviderAWS)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if summary.RulesEvaluated != 0 || summary.Matches != 0 {
		t.Errorf("summary = %+v, want no rules evaluated", summary)
	}
}

func TestEngine_Run_PersistenceFailureSkipsEvent(t *testing.T) {
	events := &mockEvents{events: []*schema.Event{
		consoleLoginEvent("evt-1", "No"),
		consoleLoginEvent("evt-2", "No"),
	}}
	rules := &mockRules{rules: []schema.DetectionRule{noMFARule()}}
	results := &mockResults{insertErr: errors.New("clickhouse down")}
	tags := &mockTags{}

	engine := NewEngine(events, rules, results, tags, nil)
	summary, err := engine.Run(context.Background(), "case-1", schema.ProviderAWS)
	if err != nil {
		t.Fatalf("Run() error = %v, persistence failures must not abort the run", err)
	}

	if summary.Failures != 2 {
		t.Errorf("Failures = %d, want 2", summary.Failures)
	}
	if summary.NewResults != 0 {
		t.Errorf("NewResults = %d, want 0", summary.NewResults)
	}
	if len(tags.assigned) != 0 {
		t.Errorf("events with failed results should not be tagged, got %v", tags.assigned)
	}
}

func TestEngine_Run_LockHeld(t *testing.T) {
	lock := &mockLock{held: true}
	engine := NewEngine(&mockEvents{}, &mockRules{}, &mockResults{}, &mockTags{}, lock)

	_, err := engine.Run(context.Background(), "case-1", schema.ProviderAWS)
	if !errors.Is(err, ErrRunInProgress) {
		t.Errorf("Run() error = %v, want ErrRunInProgress", err)
	}
}

func TestEngine_Run_ReleasesLock(t *testing.T) {
	lock := &mockLock{}
	engine := NewEngine(&mockEvents{}, &mockRules{}, &mockResults{}, &mockTags{}, lock)

	if _, err := engine.Run(context.Background(), "case-1", schema.ProviderAWS); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if lock.acquired != 1 || lock.released != 1 {
		t.Errorf("acquired = %d, released = %d, want 1 and 1", lock.acquired, lock.released)
	}
}
