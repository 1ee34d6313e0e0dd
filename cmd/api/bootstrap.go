package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"inventory-platform/internal/inventory"
	"inventory-platform/internal/rbac"
)

func newBootstrapCmd() *cobra.Command {
	var adminRole string
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Create inventory and audit tables and seed permissions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := inventory.ApplySchema(ctx, a.engine); err != nil {
				return fmt.Errorf("apply schema: %w", err)
			}
			if err := a.trail.EnsureTables(ctx, a.engine); err != nil {
				return err
			}
			if err := inventory.SeedPermissions(ctx, a.engine, adminRole); err != nil {
				return err
			}
			a.log.Info("bootstrap complete",
				"dialect", a.engine.Dialect().Name(),
				"audit_tables", len(a.trail.Tables()),
				"admin_role", adminRole)
			return nil
		},
	}
	cmd.Flags().StringVar(&adminRole, "admin-role", rbac.RoleAdmin, "role granted every permission")
	return cmd
}
