package rbac

// RoleAdmin is seeded at bootstrap with every permission. Keep it stable;
// tokens issued for it reference this id.
const RoleAdmin = "admin"

// ResourcePermission names the permission guarding verb on a resource table.
func ResourcePermission(table, verb string) string { return table + "." + verb }
