package store

import (
	"context"
	"time"

	"cloudscope/internal/schema"
)

// TagRepository persists the tag catalog and event tag assignments.
type TagRepository struct {
	client *Client
}

// NewTagRepository creates a TagRepository.
func NewTagRepository(client *Client) *TagRepository {
	return &TagRepository{client: client}
}

// Ensure upserts catalog entries for the given tags. Re-ensuring an
// existing slug is a no-op after merge.
func (r *TagRepository) Ensure(ctx context.Context, tags []schema.Tag) error {
	if len(tags) == 0 {
		return nil
	}

	batch, err := r.client.PrepareBatch(ctx, "INSERT INTO tags (slug, name, created_at)")
	if err != nil {
		return WrapQueryError("Ensure", "tags", err)
	}

	now := time.Now().UTC()
	for _, tag := range tags {
		if err := batch.Append(tag.Slug, tag.Name, now); err != nil {
			return WrapQueryError("Ensure", "tags", err)
		}
	}

	if err := batch.Send(); err != nil {
		return WrapQueryError("Ensure", "tags", err)
	}
	return nil
}

// Assign records tag slugs against an event. Assignments are additive;
// assigning a slug the event already carries collapses to one row.
func (r *TagRepository) Assign(ctx context.Context, caseID, eventRef string, slugs []string) error {
	if len(slugs) == 0 {
		return nil
	}

	batch, err := r.client.PrepareBatch(ctx, "INSERT INTO event_tags (case_id, event_ref, tag_slug, tagged_at)")
	if err != nil {
		return WrapQueryError("Assign", "event_tags", err)
	}

	now := time.Now().UTC()
	for _, slug := range slugs {
		if err := batch.Append(caseID, eventRef, slug, now); err != nil {
			return WrapQueryError("Assign", "event_tags", err)
		}
	}

	if err := batch.Send(); err != nil {
		return WrapQueryError("Assign", "event_tags", err)
	}
	return nil
}

// ForCase returns the tag slugs assigned to each event ref in a case.
func (r *TagRepository) ForCase(ctx context.Context, caseID string) (map[string][]string, error) {
	rows, err := r.client.Query(ctx, `
		SELECT event_ref, groupUniqArray(tag_slug)
		FROM event_tags FINAL
		WHERE case_id = ?
		GROUP BY event_ref
	`, caseID)
	if err != nil {
		return nil, WrapQueryError("ForCase", "event_tags", err)
	}
	defer rows.Close()

	tags := make(map[string][]string)
	for rows.Next() {
		var ref string
		var slugs []string
		if err := rows.Scan(&ref, &slugs); err != nil {
			return nil, WrapQueryError("ForCase", "event_tags", err)
		}
		tags[ref] = slugs
	}

	return tags, rows.Err()
}
