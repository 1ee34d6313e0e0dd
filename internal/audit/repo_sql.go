package audit

import (
	"context"
	"fmt"

	"inventory-platform/internal/db"
	"inventory-platform/internal/schema"
)

// SQLStore writes entries through the caller's session, so they commit or
// roll back with the change they describe.
type SQLStore struct{}

func (SQLStore) Append(ctx context.Context, s *db.Session, log *schema.Entity, e *Entry) error {
	values := map[string]any{
		"created_at":    e.CreatedAt,
		"request_id":    e.RequestID,
		"actor_user_id": e.ActorUserID,
		"action":        string(e.Action),
		"parent_id":     e.ParentID,
	}
	if e.Diff != nil {
		values["diff"] = e.Diff
	}
	if e.PostChange != nil {
		values["post_change"] = e.PostChange
	}
	if err := s.Insert(ctx, log, values, e); err != nil {
		return fmt.Errorf("audit: append %s: %w", log.Table, err)
	}
	return nil
}

func (SQLStore) List(ctx context.Context, s *db.Session, log *schema.Entity, parentID string) ([]Entry, error) {
	d := s.Dialect()
	q := db.Select(log.Table, log.Columns()...).
		Where(d.Quote("parent_id")+" = ?", parentID).
		OrderBy(d.Quote("created_at"), true).
		OrderBy(d.Quote("id"), true)
	rows, err := s.Select(ctx, log, q)
	if err != nil {
		return nil, fmt.Errorf("audit: list %s: %w", log.Table, err)
	}
	out := make([]Entry, len(rows))
	for i, row := range rows {
		out[i] = *row.(*Entry)
	}
	return out, nil
}
