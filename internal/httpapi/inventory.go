package httpapi

import (
	"github.com/gin-gonic/gin"

	"inventory-platform/internal/filter"
	"inventory-platform/internal/introspect"
	"inventory-platform/internal/inventory"
	"inventory-platform/internal/repository"
)

// Repositories holds one repository per inventory type.
type Repositories struct {
	Sites       *repository.Repository[inventory.Site]
	Racks       *repository.Repository[inventory.Rack]
	Tags        *repository.Repository[inventory.Tag]
	Devices     *repository.Repository[inventory.Device]
	Permissions *repository.Repository[inventory.Permission]
	Roles       *repository.Repository[inventory.Role]
	Users       *repository.Repository[inventory.User]
}

func NewRepositories(inspector *introspect.Introspector, compiler *filter.Compiler) Repositories {
	return Repositories{
		Sites:       repository.MustNew[inventory.Site](inventory.Sites, inspector, compiler),
		Racks:       repository.MustNew[inventory.Rack](inventory.Racks, inspector, compiler),
		Tags:        repository.MustNew[inventory.Tag](inventory.Tags, inspector, compiler),
		Devices:     repository.MustNew[inventory.Device](inventory.Devices, inspector, compiler),
		Permissions: repository.MustNew[inventory.Permission](inventory.Permissions, inspector, compiler),
		Roles:       repository.MustNew[inventory.Role](inventory.Roles, inspector, compiler),
		Users:       repository.MustNew[inventory.User](inventory.Users, inspector, compiler),
	}
}

// Mount registers every inventory resource on g.
func (r Repositories) Mount(g *gin.RouterGroup, deps Deps) {
	NewResource(r.Sites, deps).Register(g)
	NewResource(r.Racks, deps).Register(g)
	NewResource(r.Tags, deps).Register(g)
	NewResource(r.Devices, deps).Register(g)
	NewResource(r.Permissions, deps).Register(g)
	NewResource(r.Roles, deps).Register(g)
	NewResource(r.Users, deps).Register(g)
}
