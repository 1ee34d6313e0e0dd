// Package httpapi exposes every inventory entity as a JSON resource.
//
// Handlers stay thin: parse input, open one transaction, call the generic
// repository, render the result or the mapped domain error.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"inventory-platform/internal/apperr"
	"inventory-platform/internal/audit"
	"inventory-platform/internal/authz"
	"inventory-platform/internal/db"
	"inventory-platform/internal/filter"
	"inventory-platform/internal/rbac"
	"inventory-platform/internal/repository"
)

// expandParam names relations to preload on list and get.
const expandParam = "expand"

// Deps are shared by every resource.
type Deps struct {
	Engine   *db.Engine
	Trail    *audit.Trail
	Authz    *authz.Cache
	PageSize int
}

// Resource serves one entity type.
type Resource[T any] struct {
	repo *repository.Repository[T]
	deps Deps
}

func NewResource[T any](repo *repository.Repository[T], deps Deps) *Resource[T] {
	return &Resource[T]{repo: repo, deps: deps}
}

// Register mounts the resource under /<table>.
func (h *Resource[T]) Register(g *gin.RouterGroup) {
	table := h.repo.Entity().Table
	perm := func(verb string) gin.HandlerFunc {
		return rbac.RequirePermission(h.deps.Authz, rbac.ResourcePermission(table, verb))
	}

	rg := g.Group("/" + table)
	rg.GET("", perm("view"), h.List)
	rg.POST("", perm("add"), h.Create)
	rg.GET("/:id", perm("view"), h.Get)
	rg.PATCH("/:id", perm("change"), h.Update)
	rg.DELETE("/:id", perm("delete"), h.Delete)
	rg.PUT("/:id/relations/:relation", perm("change"), h.SetRelation)
	rg.GET("/:id/changes", perm("view"), h.Changes)
}

type listResponse[T any] struct {
	Total int  `json:"total"`
	Items []*T `json:"items"`
}

func (h *Resource[T]) List(c *gin.Context) {
	values := c.Request.URL.Query()
	expand := values[expandParam]
	values.Del(expandParam)

	spec, err := filter.ParseQuery(values)
	if err != nil {
		writeError(c, err)
		return
	}
	if spec.Limit == 0 && h.deps.PageSize > 0 {
		spec.Limit = h.deps.PageSize
	}
	opts := make([]repository.ListOption, 0, len(expand))
	for _, rel := range expand {
		if _, ok := h.repo.Entity().Relation(rel); !ok {
			writeError(c, fmt.Errorf("%w: unknown relation %q", apperr.ErrInvalid, rel))
			return
		}
		opts = append(opts, repository.Preload(rel))
	}

	var out listResponse[T]
	err = h.tx(c, func(ctx context.Context, s *db.Session) error {
		total, items, err := h.repo.ListAndCount(ctx, s, spec, opts...)
		out.Total, out.Items = total, items
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}
	if out.Items == nil {
		out.Items = []*T{}
	}
	c.JSON(http.StatusOK, out)
}

func (h *Resource[T]) Get(c *gin.Context) {
	pk, err := h.pk(c)
	if err != nil {
		writeError(c, err)
		return
	}
	var obj *T
	err = h.tx(c, func(ctx context.Context, s *db.Session) error {
		obj, err = h.repo.GetOneOr404(ctx, s, pk)
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, obj)
}

func (h *Resource[T]) Create(c *gin.Context) {
	input, err := decodeObject(c)
	if err != nil {
		writeError(c, err)
		return
	}
	var obj *T
	err = h.tx(c, func(ctx context.Context, s *db.Session) error {
		obj, err = h.repo.Create(ctx, s, input)
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, obj)
}

func (h *Resource[T]) Update(c *gin.Context) {
	pk, err := h.pk(c)
	if err != nil {
		writeError(c, err)
		return
	}
	input, err := decodeObject(c)
	if err != nil {
		writeError(c, err)
		return
	}
	var obj *T
	err = h.tx(c, func(ctx context.Context, s *db.Session) error {
		cur, err := h.repo.GetOneOr404(ctx, s, pk)
		if err != nil {
			return err
		}
		obj, err = h.repo.Update(ctx, s, cur, input)
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, obj)
}

func (h *Resource[T]) Delete(c *gin.Context) {
	pk, err := h.pk(c)
	if err != nil {
		writeError(c, err)
		return
	}
	err = h.tx(c, func(ctx context.Context, s *db.Session) error {
		obj, err := h.repo.GetOneOr404(ctx, s, pk)
		if err != nil {
			return err
		}
		return h.repo.Delete(ctx, s, obj)
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type relationRequest struct {
	IDs []any `json:"ids"`
}

// SetRelation replaces the members of a collection. A null or empty ids list
// clears it.
func (h *Resource[T]) SetRelation(c *gin.Context) {
	relation := c.Param("relation")
	if _, ok := h.repo.Entity().Relation(relation); !ok {
		writeError(c, apperr.NotFound(h.repo.Entity().Name, "relation", relation))
		return
	}
	pk, err := h.pk(c)
	if err != nil {
		writeError(c, err)
		return
	}
	var req relationRequest
	if err := decodeJSON(c, &req); err != nil {
		writeError(c, err)
		return
	}

	var ids []any
	err = h.tx(c, func(ctx context.Context, s *db.Session) error {
		obj, err := h.repo.GetOneOr404(ctx, s, pk)
		if err != nil {
			return err
		}
		if err := h.repo.UpdateRelationshipField(ctx, s, obj, relation, req.IDs); err != nil {
			return err
		}
		ids, err = h.repo.RelatedIDs(ctx, s, obj, relation)
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}
	if ids == nil {
		ids = []any{}
	}
	c.JSON(http.StatusOK, gin.H{"ids": ids})
}

// Changes lists the audit history of one row, newest first. History outlives
// the row, so a deleted id still answers.
func (h *Resource[T]) Changes(c *gin.Context) {
	if h.deps.Trail == nil {
		writeError(c, audit.ErrNotAudited)
		return
	}
	pk, err := h.pk(c)
	if err != nil {
		writeError(c, err)
		return
	}
	var entries []audit.Entry
	err = h.tx(c, func(ctx context.Context, s *db.Session) error {
		entries, err = h.deps.Trail.Entries(ctx, s, h.repo.Entity(), pk)
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"items": entries})
}

func (h *Resource[T]) tx(c *gin.Context, fn func(ctx context.Context, s *db.Session) error) error {
	return h.deps.Engine.Tx(c.Request.Context(), fn)
}

func (h *Resource[T]) pk(c *gin.Context) (any, error) {
	e := h.repo.Entity()
	raw := c.Param("id")
	v, err := e.PK.Coerce(raw)
	if err != nil {
		return nil, &apperr.InvalidError{Entity: e.Name, Field: e.PK.Name, Value: raw, Err: err}
	}
	return v, nil
}

func decodeObject(c *gin.Context) (repository.Values, error) {
	var input repository.Values
	if err := decodeJSON(c, &input); err != nil {
		return nil, err
	}
	if input == nil {
		return nil, fmt.Errorf("%w: body must be a JSON object", apperr.ErrInvalid)
	}
	return input, nil
}

// decodeJSON keeps numbers as json.Number so integer ids survive intact.
func decodeJSON(c *gin.Context, dst any) error {
	dec := json.NewDecoder(c.Request.Body)
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid json: %v", apperr.ErrInvalid, err)
	}
	return nil
}
