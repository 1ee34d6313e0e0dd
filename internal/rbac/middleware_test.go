package rbac

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"inventory-platform/internal/auth"
	"inventory-platform/internal/authz"
	"inventory-platform/internal/cache"
)

type staticLoader map[string][]string

func (l staticLoader) Permissions(_ context.Context, roleID string) ([]string, error) {
	if roleID == "broken" {
		return nil, errors.New("store down")
	}
	return l[roleID], nil
}

func serve(t *testing.T, role string, perms ...string) int {
	t.Helper()
	gin.SetMode(gin.TestMode)

	c := authz.NewCache(cache.NewMemoryStore(), staticLoader{
		RoleAdmin: {"sites.view", "sites.add"},
		"viewer":  {"sites.view"},
	})

	r := gin.New()
	r.GET("/x", func(c *gin.Context) {
		if role != "" {
			ctx := auth.WithIdentity(c.Request.Context(), "u", role)
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	}, RequirePermission(c, perms...), func(c *gin.Context) {
		c.Status(200)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	r.ServeHTTP(w, req)
	return w.Code
}

func TestRequirePermission_Granted(t *testing.T) {
	if code := serve(t, RoleAdmin, "sites.view", "sites.add"); code != 200 {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequirePermission_Missing(t *testing.T) {
	if code := serve(t, "viewer", ResourcePermission("sites", "add")); code != 403 {
		t.Fatalf("expected 403, got %d", code)
	}
}

func TestRequirePermission_EmptyRoleDenied(t *testing.T) {
	if code := serve(t, "nobody", "sites.view"); code != 403 {
		t.Fatalf("expected 403, got %d", code)
	}
}

func TestRequirePermission_RoleRequired(t *testing.T) {
	if code := serve(t, "", "sites.view"); code != 401 {
		t.Fatalf("expected 401, got %d", code)
	}
}

func TestRequirePermission_LookupFailure(t *testing.T) {
	if code := serve(t, "broken", "sites.view"); code != 500 {
		t.Fatalf("expected 500, got %d", code)
	}
}
