package auth

import (
	"context"
	"errors"
)

type identityKey struct{}

type identity struct {
	userID string
	roleID string
}

var ErrNoIdentity = errors.New("auth: no identity in context")

// WithIdentity returns ctx carrying the authenticated caller.
func WithIdentity(ctx context.Context, userID, roleID string) context.Context {
	return context.WithValue(ctx, identityKey{}, identity{userID: userID, roleID: roleID})
}

func UserID(ctx context.Context) (string, error) {
	id, _ := ctx.Value(identityKey{}).(identity)
	if id.userID == "" {
		return "", ErrNoIdentity
	}
	return id.userID, nil
}

func RoleID(ctx context.Context) (string, error) {
	id, _ := ctx.Value(identityKey{}).(identity)
	if id.roleID == "" {
		return "", ErrNoIdentity
	}
	return id.roleID, nil
}
