package store

import (
	"context"
	"time"

	"cloudscope/internal/schema"
)

// ResultKey identifies a detection result within a case.
type ResultKey struct {
	RuleName string
	EventRef string
}

// ResultRepository persists detection results.
type ResultRepository struct {
	client *Client
}

// NewResultRepository creates a ResultRepository.
func NewResultRepository(client *Client) *ResultRepository {
	return &ResultRepository{client: client}
}

// Existing returns the set of result keys already recorded for a case.
// The detection engine uses this to report new versus repeated matches;
// storage itself collapses duplicate keys regardless.
func (r *ResultRepository) Existing(ctx context.Context, caseID string) (map[ResultKey]bool, error) {
	rows, err := r.client.Query(ctx, `
		SELECT rule_name, event_ref
		FROM detection_results FINAL
		WHERE case_id = ?
	`, caseID)
	if err != nil {
		return nil, WrapQueryError("Existing", "detection_results", err)
	}
	defer rows.Close()

	existing := make(map[ResultKey]bool)
	for rows.Next() {
		var key ResultKey
		if err := rows.Scan(&key.RuleName, &key.EventRef); err != nil {
			return nil, WrapQueryError("Existing", "detection_results", err)
		}
		existing[key] = true
	}

	return existing, rows.Err()
}

// Insert records detection results. Re-inserting a (case, rule, event)
// triple that already exists collapses to a single row on merge.
func (r *ResultRepository) Insert(ctx context.Context, results []schema.DetectionResult) error {
	if len(results) == 0 {
		return nil
	}

	batch, err := r.client.PrepareBatch(ctx,
		"INSERT INTO detection_results (case_id, rule_name, event_ref, matched_at)")
	if err != nil {
		return WrapQueryError("Insert", "detection_results", err)
	}

	for _, result := range results {
		matchedAt := result.MatchedAt
		if matchedAt.IsZero() {
			matchedAt = time.Now().UTC()
		}

		if err := batch.Append(result.CaseID, result.RuleName, result.EventRef, matchedAt); err != nil {
			return WrapQueryError("Insert", "detection_results", err)
		}
	}

	if err := batch.Send(); err != nil {
		return WrapQueryError("Insert", "detection_results", err)
	}
	return nil
}

// ForCase returns all results recorded for a case.
func (r *ResultRepository) ForCase(ctx context.Context, caseID string) ([]schema.DetectionResult, error) {
	rows, err := r.client.Query(ctx, `
		SELECT case_id, rule_name, event_ref, matched_at
		FROM detection_results FINAL
		WHERE case_id = ?
		ORDER BY matched_at
	`, caseID)
	if err != nil {
		return nil, WrapQueryError("ForCase", "detection_results", err)
	}
	defer rows.Close()

	var results []schema.DetectionResult
	for rows.Next() {
		var result schema.DetectionResult
		if err := rows.Scan(&result.CaseID, &result.RuleName, &result.EventRef, &result.MatchedAt); err != nil {
			return nil, WrapQueryError("ForCase", "detection_results", err)
		}
		results = append(results, result)
	}

	return results, rows.Err()
}
