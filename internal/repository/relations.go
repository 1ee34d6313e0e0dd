package repository

import (
	"context"
	"fmt"

	"inventory-platform/internal/db"
	"inventory-platform/internal/schema"
)

// RelatedIDs returns the target ids currently attached to obj through
// relation, in ascending order.
func (r *Repository[T]) RelatedIDs(ctx context.Context, s *db.Session, obj *T, relation string) ([]any, error) {
	rel, err := r.relation(relation)
	if err != nil {
		return nil, err
	}
	pk, err := r.entity.PKValue(obj)
	if err != nil {
		return nil, err
	}
	pairs, err := r.members(ctx, s, rel, []any{pk})
	if err != nil {
		return nil, err
	}
	return pairs[keyOf(pk)], nil
}

// UpdateRelationshipField reconciles relation so that obj is attached to
// exactly targetIDs. Members not in targetIDs are detached; new ones are
// fetched (NotFound if any is missing) and attached. nil or an empty list
// clears the collection.
func (r *Repository[T]) UpdateRelationshipField(ctx context.Context, s *db.Session, obj *T, relation string, targetIDs []any) error {
	rel, err := r.relation(relation)
	if err != nil {
		return err
	}
	pk, err := r.entity.PKValue(obj)
	if err != nil {
		return err
	}
	d := s.Dialect()
	join := d.Quote(rel.JoinTable)
	owner := d.Quote(rel.OwnerColumn)
	target := d.Quote(rel.TargetColumn)

	if len(targetIDs) == 0 {
		if _, err := s.ExecContext(ctx, "DELETE FROM "+join+" WHERE "+owner+" = ?", pk); err != nil {
			return fmt.Errorf("clear %s: %w", rel.JoinTable, err)
		}
		return nil
	}

	targets, err := fetchMulti(ctx, s, rel.Target, targetIDs)
	if err != nil {
		return err
	}
	want := map[string]any{}
	for _, t := range targets {
		id, err := rel.Target.PKValue(t)
		if err != nil {
			return err
		}
		want[keyOf(id)] = id
	}

	current, err := r.RelatedIDs(ctx, s, obj, relation)
	if err != nil {
		return err
	}
	have := map[string]bool{}
	var stale []any
	for _, id := range current {
		k := keyOf(id)
		have[k] = true
		if _, keep := want[k]; !keep {
			stale = append(stale, id)
		}
	}

	if len(stale) > 0 {
		args := append([]any{pk}, stale...)
		query := "DELETE FROM " + join + " WHERE " + owner + " = ? AND " + target + " IN (" + placeholders(len(stale)) + ")"
		if _, err := s.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("detach %s: %w", rel.JoinTable, err)
		}
	}

	insert := "INSERT INTO " + join + " (" + owner + ", " + target + ") VALUES (?, ?)"
	for _, t := range targets {
		id, _ := rel.Target.PKValue(t)
		k := keyOf(id)
		if have[k] {
			continue
		}
		have[k] = true
		if _, err := s.ExecContext(ctx, insert, pk, id); err != nil {
			return fmt.Errorf("attach %s: %w", rel.JoinTable, err)
		}
	}
	return nil
}

func (r *Repository[T]) relation(name string) (*schema.Relation, error) {
	rel, ok := r.entity.Relation(name)
	if !ok {
		return nil, fmt.Errorf("repository: %s has no relation %q", r.entity.Name, name)
	}
	return rel, nil
}

// preload hands each row its member ids for relation.
func (r *Repository[T]) preload(ctx context.Context, s *db.Session, relation string, rows []any) error {
	if len(rows) == 0 {
		return nil
	}
	rel, err := r.relation(relation)
	if err != nil {
		return err
	}
	pks := make([]any, len(rows))
	for i, row := range rows {
		pk, err := r.entity.PKValue(row)
		if err != nil {
			return err
		}
		pks[i] = pk
	}
	members, err := r.members(ctx, s, rel, pks)
	if err != nil {
		return err
	}
	for i, row := range rows {
		if setter, ok := row.(schema.RelatedSetter); ok {
			ids := members[keyOf(pks[i])]
			if ids == nil {
				ids = []any{}
			}
			setter.SetRelated(relation, ids)
		}
	}
	return nil
}

// members loads target ids per owner key for the given owners.
func (r *Repository[T]) members(ctx context.Context, s *db.Session, rel *schema.Relation, owners []any) (map[string][]any, error) {
	d := s.Dialect()
	owner := d.Quote(rel.OwnerColumn)
	target := d.Quote(rel.TargetColumn)
	query := "SELECT " + owner + ", " + target + " FROM " + d.Quote(rel.JoinTable) +
		" WHERE " + owner + " IN (" + placeholders(len(owners)) + ") ORDER BY " + owner + ", " + target

	rows, err := s.QueryContext(ctx, query, owners...)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", rel.JoinTable, err)
	}
	defer rows.Close() //nolint:errcheck

	out := map[string][]any{}
	for rows.Next() {
		var rawOwner, rawTarget any
		if err := rows.Scan(&rawOwner, &rawTarget); err != nil {
			return nil, fmt.Errorf("scan %s: %w", rel.JoinTable, err)
		}
		o, err := r.entity.PK.Coerce(rawOwner)
		if err != nil {
			return nil, err
		}
		t, err := rel.Target.PK.Coerce(rawTarget)
		if err != nil {
			return nil, err
		}
		out[keyOf(o)] = append(out[keyOf(o)], t)
	}
	return out, rows.Err()
}
