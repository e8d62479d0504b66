package store

import (
	"context"
	"encoding/json"
	"time"

	"cloudscope/internal/schema"
)

// RuleRepository persists detection rules.
type RuleRepository struct {
	client *Client
}

// NewRuleRepository creates a RuleRepository.
func NewRuleRepository(client *Client) *RuleRepository {
	return &RuleRepository{client: client}
}

// Upsert writes rules keyed by name. Loading a rule whose name already
// exists replaces the stored definition.
func (r *RuleRepository) Upsert(ctx context.Context, rules []schema.DetectionRule) error {
	if len(rules) == 0 {
		return nil
	}

	batch, err := r.client.PrepareBatch(ctx, `
		INSERT INTO detection_rules (
			name, description, cloud, detection_type, severity,
			event_source, event_name, event_type,
			additional_criteria, auto_tags, enabled, updated_at
		)
	`)
	if err != nil {
		return WrapQueryError("Upsert", "detection_rules", err)
	}

	now := time.Now().UTC()
	for _, rule := range rules {
		criteria, _ := json.Marshal(rule.AdditionalCriteria)

		enabled := uint8(0)
		if rule.Enabled {
			enabled = 1
		}

		if err := batch.Append(
			rule.Name,
			rule.Description,
			string(rule.Cloud),
			rule.DetectionType,
			string(rule.Severity),
			rule.EventSource,
			rule.EventName,
			rule.EventType,
			string(criteria),
			rule.AutoTags,
			enabled,
			now,
		); err != nil {
			return WrapQueryError("Upsert", "detection_rules", err)
		}
	}

	if err := batch.Send(); err != nil {
		return WrapQueryError("Upsert", "detection_rules", err)
	}
	return nil
}

// Enabled returns the enabled rules for a cloud provider.
func (r *RuleRepository) Enabled(ctx context.Context, cloud schema.CloudProvider) ([]schema.DetectionRule, error) {
	return r.query(ctx, `
		SELECT
			name, description, cloud, detection_type, severity,
			event_source, event_name, event_type,
			additional_criteria, auto_tags, enabled, updated_at
		FROM detection_rules FINAL
		WHERE enabled = 1 AND cloud = ?
		ORDER BY name
	`, string(cloud))
}

// List returns every stored rule.
func (r *RuleRepository) List(ctx context.Context) ([]schema.DetectionRule, error) {
	return r.query(ctx, `
		SELECT
			name, description, cloud, detection_type, severity,
			event_source, event_name, event_type,
			additional_criteria, auto_tags, enabled, updated_at
		FROM detection_rules FINAL
		ORDER BY name
	`)
}

func (r *RuleRepository) query(ctx context.Context, q string, args ...any) ([]schema.DetectionRule, error) {
	rows, err := r.client.Query(ctx, q, args...)
	if err != nil {
		return nil, WrapQueryError("Query", "detection_rules", err)
	}
	defer rows.Close()

	var rules []schema.DetectionRule
	for rows.Next() {
		var (
			rule     schema.DetectionRule
			cloud    string
			severity string
			criteria string
			enabled  uint8
		)
		if err := rows.Scan(
			&rule.Name,
			&rule.Description,
			&cloud,
			&rule.DetectionType,
			&severity,
			&rule.EventSource,
			&rule.EventName,
			&rule.EventType,
			&criteria,
			&rule.AutoTags,
			&enabled,
			&rule.UpdatedAt,
		); err != nil {
			return nil, WrapQueryError("Scan", "detection_rules", err)
		}

		rule.Cloud = schema.CloudProvider(cloud)
		rule.Severity = schema.Severity(severity)
		rule.Enabled = enabled == 1
		if criteria != "" && criteria != "null" {
			if err := json.Unmarshal([]byte(criteria), &rule.AdditionalCriteria); err != nil {
				return nil, WrapQueryError("Scan", "detection_rules", err)
			}
		}

		rules = append(rules, rule)
	}

	return rules, rows.Err()
}
