package awstrail

import (
	"bytes"
	"encoding/json"
	"fmt"

	"cloudscope/internal/schema"
)

// timestampLayout is the fixed CloudTrail eventTime format.
const timestampLayout = "2006-01-02T15:04:05Z"

// rawRecord mirrors the CloudTrail record fields the canonical schema
// cares about. Everything else stays in the raw payload.
type rawRecord struct {
	EventID         string `json:"eventID"`
	EventTime       string `json:"eventTime"`
	EventSource     string `json:"eventSource"`
	EventName       string `json:"eventName"`
	EventType       string `json:"eventType"`
	AWSRegion       string `json:"awsRegion"`
	SourceIPAddress string `json:"sourceIPAddress"`
	UserAgent       string `json:"userAgent"`

	UserIdentity struct {
		UserName       string `json:"userName"`
		Type           string `json:"type"`
		InvokedBy      string `json:"invokedBy"`
		SessionContext struct {
			SessionIssuer struct {
				UserName string `json:"userName"`
			} `json:"sessionIssuer"`
		} `json:"sessionContext"`
	} `json:"userIdentity"`

	Resources []struct {
		ARN          string `json:"ARN"`
		Type         string `json:"type"`
		ResourceType string `json:"resourceType"`
		ResourceName string `json:"resourceName"`
	} `json:"resources"`

	RequestParameters json.RawMessage `json:"requestParameters"`
	ResponseElements  json.RawMessage `json:"responseElements"`
}

// Normalize maps one raw CloudTrail record to a canonical event.
// Field-level problems (bad timestamp, invalid IP) leave that field
// empty; only a payload that is not a JSON object at all fails.
//
// Two envelope shapes unwrap before mapping: a {"Records": [...]}
// document (the first record is taken), and a LookupEvents result
// whose actual record is a JSON string under CloudTrailEvent.
func Normalize(caseID string, raw []byte) (*schema.Event, error) {
	raw = unwrap(raw)

	var rec rawRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("awstrail: not a cloudtrail record: %w", err)
	}

	sourceIP := rec.SourceIPAddress
	if sourceIP != "" && !schema.ValidIP(sourceIP) {
		sourceIP = ""
	}

	event := &schema.Event{
		CaseID:      caseID,
		Provider:    schema.ProviderAWS,
		EventID:     rec.EventID,
		EventTime:   schema.ParseTimestamp(rec.EventTime, timestampLayout),
		EventSource: rec.EventSource,
		EventName:   rec.EventName,
		EventType:   rec.EventType,
		Actor:       actorName(rec),
		Region:      rec.AWSRegion,
		SourceIP:    sourceIP,
		UserAgent:   rec.UserAgent,
		Resources:   resourceRefs(rec),
		Raw:         json.RawMessage(raw),
	}

	return event, nil
}

// unwrap strips the CloudTrail envelopes around a single record.
func unwrap(raw []byte) []byte {
	var envelope struct {
		Records []json.RawMessage `json:"Records"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && len(envelope.Records) > 0 {
		raw = envelope.Records[0]
	}

	var lookup struct {
		CloudTrailEvent string `json:"CloudTrailEvent"`
	}
	if err := json.Unmarshal(raw, &lookup); err == nil && lookup.CloudTrailEvent != "" {
		if json.Valid([]byte(lookup.CloudTrailEvent)) {
			raw = []byte(lookup.CloudTrailEvent)
		}
	}

	return raw
}

// actorName resolves the acting identity. Precedence: the IAM user
// name, then the assumed role's issuer, then the invoking service,
// then the bare identity type.
func actorName(rec rawRecord) string {
	id := rec.UserIdentity
	switch {
	case id.UserName != "":
		return id.UserName
	case id.SessionContext.SessionIssuer.UserName != "":
		return id.SessionContext.SessionIssuer.UserName
	case id.InvokedBy != "":
		return id.InvokedBy
	case id.Type != "":
		return id.Type
	}
	return "Unknown"
}

// resourceRefs maps the record's resource list. When the record names
// no resources, the request parameters and response elements are kept
// as one synthesized reference so the touched resources can still be
// reconstructed later.
func resourceRefs(rec rawRecord) []schema.ResourceRef {
	if len(rec.Resources) > 0 {
		refs := make([]schema.ResourceRef, 0, len(rec.Resources))
		for _, r := range rec.Resources {
			ref := schema.ResourceRef{
				ID:   r.ARN,
				Type: r.Type,
				Name: r.ResourceName,
			}
			if ref.Type == "" {
				ref.Type = r.ResourceType
			}
			refs = append(refs, ref)
		}
		return refs
	}

	request := presentJSON(rec.RequestParameters)
	response := presentJSON(rec.ResponseElements)
	if request == nil && response == nil {
		return nil
	}
	return []schema.ResourceRef{{Request: request, Response: response}}
}

// presentJSON filters out absent and JSON-null values.
func presentJSON(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	return raw
}
