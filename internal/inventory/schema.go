package inventory

import (
	"context"
	"embed"
	"fmt"

	"inventory-platform/internal/db"
)

//go:embed sql/*.sql
var ddl embed.FS

// Verbs granted per resource. Permission ids are "<table>.<verb>".
var Verbs = []string{"view", "add", "change", "delete"}

// PermissionID names the permission required for verb on table.
func PermissionID(table, verb string) string {
	return table + "." + verb
}

// ApplySchema creates the inventory tables for the engine's dialect.
func ApplySchema(ctx context.Context, engine *db.Engine) error {
	script, err := ddl.ReadFile("sql/" + engine.Dialect().Name() + ".sql")
	if err != nil {
		return fmt.Errorf("inventory: no schema for dialect %s: %w", engine.Dialect().Name(), err)
	}
	return engine.ExecScript(ctx, string(script))
}

// SeedPermissions inserts every "<table>.<verb>" permission and an admin role
// holding all of them. Existing rows are left untouched.
func SeedPermissions(ctx context.Context, engine *db.Engine, adminRole string) error {
	return engine.Tx(ctx, func(ctx context.Context, s *db.Session) error {
		if _, err := s.ExecContext(ctx,
			`INSERT INTO roles (id, name) VALUES (?, ?) ON CONFLICT DO NOTHING`, adminRole, adminRole); err != nil {
			return fmt.Errorf("seed role: %w", err)
		}
		for _, e := range Registry().All() {
			for _, verb := range Verbs {
				id := PermissionID(e.Table, verb)
				if _, err := s.ExecContext(ctx,
					`INSERT INTO permissions (id, description) VALUES (?, ?) ON CONFLICT DO NOTHING`,
					id, verb+" "+e.Name); err != nil {
					return fmt.Errorf("seed permission %s: %w", id, err)
				}
				if _, err := s.ExecContext(ctx,
					`INSERT INTO role_permissions (role_id, permission_id) VALUES (?, ?) ON CONFLICT DO NOTHING`,
					adminRole, id); err != nil {
					return fmt.Errorf("grant %s: %w", id, err)
				}
			}
		}
		return nil
	})
}
