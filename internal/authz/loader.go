package authz

import (
	"context"
	"fmt"

	"inventory-platform/internal/db"
)

// SQLLoader reads grants from the role_permissions join table.
type SQLLoader struct {
	engine *db.Engine
}

func NewSQLLoader(engine *db.Engine) *SQLLoader { return &SQLLoader{engine: engine} }

func (l *SQLLoader) Permissions(ctx context.Context, roleID string) ([]string, error) {
	rows, err := l.engine.QueryContext(ctx,
		`SELECT permission_id FROM role_permissions WHERE role_id = ? ORDER BY permission_id`, roleID)
	if err != nil {
		return nil, fmt.Errorf("query role_permissions: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan role_permissions: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
