package azure

import (
	"encoding/json"
	"fmt"

	"cloudscope/internal/schema"
)

// timestampLayouts are tried in order: fractional seconds first, then
// whole seconds.
var timestampLayouts = []string{
	"2006-01-02T15:04:05.999999999Z",
	"2006-01-02T15:04:05Z",
}

// localizable is the value/localizedValue pair used throughout the
// Activity Log schema.
type localizable struct {
	Value          string `json:"value"`
	LocalizedValue string `json:"localizedValue"`
}

// rawActivity mirrors the Activity Log event fields the canonical
// schema cares about.
type rawActivity struct {
	EventDataID          string            `json:"eventDataId"`
	EventTimestamp       string            `json:"eventTimestamp"`
	Caller               string            `json:"caller"`
	Claims               map[string]string `json:"claims"`
	OperationName        localizable       `json:"operationName"`
	ResourceProviderName localizable       `json:"resourceProviderName"`
	ResourceID           string            `json:"resourceId"`
	ResourceGroupName    string            `json:"resourceGroupName"`
}

// Normalize maps one raw Activity Log event to a canonical event.
// Field-level problems (bad timestamp, invalid IP) leave that field
// empty; only a payload that is not a JSON object at all fails.
func Normalize(caseID string, raw []byte) (*schema.Event, error) {
	var rec rawActivity
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("azure: not an activity log event: %w", err)
	}

	sourceIP := rec.Claims["ipaddr"]
	if sourceIP != "" && !schema.ValidIP(sourceIP) {
		sourceIP = ""
	}

	event := &schema.Event{
		CaseID:      caseID,
		Provider:    schema.ProviderAzure,
		EventID:     rec.EventDataID,
		EventTime:   schema.ParseTimestamp(rec.EventTimestamp, timestampLayouts...),
		EventSource: rec.ResourceProviderName.Value,
		EventName:   rec.OperationName.Value,
		EventType:   rec.OperationName.LocalizedValue,
		Actor:       actorName(rec),
		SourceIP:    sourceIP,
		Resources:   resourceRefs(rec),
		Raw:         json.RawMessage(raw),
	}

	return event, nil
}

// actorName resolves the acting identity. Precedence: the name claim,
// then the caller field.
func actorName(rec rawActivity) string {
	if name := rec.Claims["name"]; name != "" {
		return name
	}
	if rec.Caller != "" {
		return rec.Caller
	}
	return "Unknown"
}

// resourceRefs builds a single reference to the resource the operation
// targeted, when the event names one.
func resourceRefs(rec rawActivity) []schema.ResourceRef {
	if rec.ResourceID == "" && rec.ResourceGroupName == "" {
		return nil
	}
	return []schema.ResourceRef{{
		ID:    rec.ResourceID,
		Type:  rec.ResourceProviderName.Value,
		Group: rec.ResourceGroupName,
	}}
}
