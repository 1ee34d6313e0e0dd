// Package inventory declares the persisted resource types served by the API.
package inventory

import (
	"time"

	"github.com/google/uuid"

	"inventory-platform/internal/schema"
)

type Site struct {
	ID          int64             `db:"id" schema:"pk" json:"id"`
	Name        string            `db:"name" schema:"search" json:"name"`
	Slug        string            `db:"slug" schema:"search" json:"slug"`
	Description *string           `db:"description" json:"description"`
	Label       map[string]string `db:"label" schema:"i18n" json:"label"`
	CreatedAt   time.Time         `db:"created_at" schema:"readonly" json:"created_at"`
}

type Rack struct {
	ID      int64  `db:"id" schema:"pk" json:"id"`
	SiteID  int64  `db:"site_id" json:"site_id"`
	Name    string `db:"name" schema:"search" json:"name"`
	UHeight int    `db:"u_height" json:"u_height"`
}

type Device struct {
	ID           uuid.UUID         `db:"id" schema:"pk" json:"id"`
	Name         string            `db:"name" schema:"search" json:"name"`
	Serial       *string           `db:"serial" schema:"search" json:"serial"`
	RackID       *int64            `db:"rack_id" json:"rack_id"`
	Status       string            `db:"status" json:"status"`
	Label        map[string]string `db:"label" schema:"i18n" json:"label"`
	CustomFields any               `db:"custom_fields" schema:"mutable,search" json:"custom_fields"`
	CreatedAt    time.Time         `db:"created_at" schema:"readonly" json:"created_at"`

	Tags []int64 `json:"tags,omitempty"`
}

func (d *Device) SetRelated(relation string, ids []any) {
	if relation != "tags" {
		return
	}
	d.Tags = make([]int64, 0, len(ids))
	for _, id := range ids {
		if n, ok := id.(int64); ok {
			d.Tags = append(d.Tags, n)
		}
	}
}

type Tag struct {
	ID    int64  `db:"id" schema:"pk" json:"id"`
	Name  string `db:"name" schema:"search" json:"name"`
	Color string `db:"color" json:"color"`
}

type Permission struct {
	ID          string `db:"id" schema:"pk" json:"id"`
	Description string `db:"description" schema:"search" json:"description"`
}

type Role struct {
	ID   string `db:"id" schema:"pk" json:"id"`
	Name string `db:"name" schema:"search" json:"name"`

	Permissions []string `json:"permissions,omitempty"`
}

func (r *Role) SetRelated(relation string, ids []any) {
	if relation != "permissions" {
		return
	}
	r.Permissions = make([]string, 0, len(ids))
	for _, id := range ids {
		if s, ok := id.(string); ok {
			r.Permissions = append(r.Permissions, s)
		}
	}
}

type User struct {
	ID        int64     `db:"id" schema:"pk" json:"id"`
	Username  string    `db:"username" schema:"search" json:"username"`
	Email     string    `db:"email" schema:"search" json:"email"`
	RoleID    *string   `db:"role_id" json:"role_id"`
	CreatedAt time.Time `db:"created_at" schema:"readonly" json:"created_at"`
}

var (
	Sites = schema.MustNew[Site]("Site", "sites", schema.Audited())
	Racks = schema.MustNew[Rack]("Rack", "racks", schema.Audited())
	Tags  = schema.MustNew[Tag]("Tag", "tags", schema.Audited())

	Devices = schema.MustNew[Device]("Device", "devices", schema.Audited(),
		schema.WithRelation("tags", "device_tags", "device_id", "tag_id", Tags))

	Permissions = schema.MustNew[Permission]("Permission", "permissions")

	Roles = schema.MustNew[Role]("Role", "roles", schema.Audited(),
		schema.WithRelation("permissions", "role_permissions", "role_id", "permission_id", Permissions))

	Users = schema.MustNew[User]("User", "users", schema.Audited())
)

// Registry returns every inventory entity, parents before dependents.
func Registry() *schema.Registry {
	r := schema.NewRegistry()
	if err := r.Register(Sites, Racks, Tags, Devices, Permissions, Roles, Users); err != nil {
		panic(err)
	}
	return r
}
