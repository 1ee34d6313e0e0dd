package auth

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

var (
	ErrTokenType    = errors.New("auth: unexpected token type")
	ErrMissingClaim = errors.New("auth: required claim missing")
)

// Claims identify a caller. Only the role id travels in the token; the
// permissions it grants are resolved server-side on every request, so a
// grant change takes effect without reissuing tokens.
type Claims struct {
	jwt.RegisteredClaims

	UserID    string    `json:"user_id"`
	RoleID    string    `json:"role_id,omitempty"`
	TokenType TokenType `json:"token_type"`
}

// Validate is called by the jwt parser after the registered claims pass.
func (c Claims) Validate() error {
	switch c.TokenType {
	case TokenTypeAccess:
		if c.RoleID == "" {
			return errors.Join(ErrMissingClaim, errors.New("role_id"))
		}
	case TokenTypeRefresh:
	default:
		return ErrTokenType
	}
	if c.UserID == "" {
		return errors.Join(ErrMissingClaim, errors.New("user_id"))
	}
	return nil
}
