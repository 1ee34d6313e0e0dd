// Package authz resolves a role's permission set through a read-through cache.
//
// Entries are written once on a miss and never expire or get invalidated: a
// grant or revoke made after a role's set was cached is not seen until the
// key is cleared externally. An empty set is never cached, so a role with no
// permissions picks up its first grant on the next lookup.
package authz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"inventory-platform/internal/apperr"
	"inventory-platform/internal/cache"
	"inventory-platform/pkg/logger"
)

// Loader reads a role's permissions from the durable store.
type Loader interface {
	Permissions(ctx context.Context, roleID string) ([]string, error)
}

// Set is a role's permission ids.
type Set map[string]struct{}

func NewSet(ids ...string) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s Set) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the ids in ascending order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

type Cache struct {
	store  cache.Store
	loader Loader
}

func NewCache(store cache.Store, loader Loader) *Cache {
	return &Cache{store: store, loader: loader}
}

// Key is the cache key holding roleID's permission set.
func Key(roleID string) string { return "authz:role:" + roleID }

// PermissionsFor returns roleID's permission set, loading it on a miss.
func (c *Cache) PermissionsFor(ctx context.Context, roleID string) (Set, error) {
	key := Key(roleID)
	raw, err := c.store.Get(ctx, key)
	switch {
	case err == nil:
		var ids []string
		if jerr := json.Unmarshal([]byte(raw), &ids); jerr == nil {
			return NewSet(ids...), nil
		}
		logger.From(ctx).Debug("authz cache entry undecodable", slog.String("role_id", roleID))
	case errors.Is(err, cache.ErrMiss):
		logger.From(ctx).Debug("authz cache miss", slog.String("role_id", roleID))
	default:
		return nil, fmt.Errorf("authz: read cache: %w", err)
	}
	corrupt := err == nil

	ids, err := c.loader.Permissions(ctx, roleID)
	if err != nil {
		return nil, fmt.Errorf("authz: load %s: %w", roleID, err)
	}
	set := NewSet(ids...)
	if len(set) == 0 {
		return set, nil
	}

	b, err := json.Marshal(set.Sorted())
	if err != nil {
		return nil, err
	}
	if corrupt {
		err = c.store.Set(ctx, key, string(b))
	} else {
		// A concurrent filler may win; the loaded set is returned either way.
		_, err = c.store.SetNX(ctx, key, string(b))
	}
	if err != nil {
		return nil, fmt.Errorf("authz: fill cache: %w", err)
	}
	return set, nil
}

// Authorize fails with a PermissionDeniedError unless roleID holds every
// required permission. An empty set denies everything.
func (c *Cache) Authorize(ctx context.Context, roleID string, required ...string) error {
	set, err := c.PermissionsFor(ctx, roleID)
	if err != nil {
		return err
	}
	if len(set) == 0 {
		return apperr.PermissionDenied(roleID, firstOr(required, ""))
	}
	for _, p := range required {
		if !set.Has(p) {
			return apperr.PermissionDenied(roleID, p)
		}
	}
	return nil
}

func firstOr(s []string, def string) string {
	if len(s) > 0 {
		return s[0]
	}
	return def
}
