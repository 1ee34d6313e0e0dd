package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"inventory-platform/internal/apperr"
	"inventory-platform/internal/auth"
	"inventory-platform/internal/db"
	"inventory-platform/internal/filter"
	"inventory-platform/internal/inventory"
	"inventory-platform/internal/repository"
)

// Tokens issues token pairs for users stored in the inventory. The role
// placed in an access token is always read from the user row at issue time.
type Tokens struct {
	Auth   *auth.Manager
	Engine *db.Engine
	Users  *repository.Repository[inventory.User]
}

type loginRequest struct {
	Username string `json:"username"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Login issues a pair for a known username.
//
// NOTE: credentials are not checked. Mount it only outside production, behind
// an identity provider that has already authenticated the caller.
func (h Tokens) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Username == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "username required"})
		return
	}

	var user *inventory.User
	err := h.Engine.Tx(c.Request.Context(), func(ctx context.Context, s *db.Session) error {
		_, users, err := h.Users.ListAndCount(ctx, s, filter.Spec{
			Fields: map[string]any{"username": req.Username},
			Limit:  1,
		})
		if len(users) > 0 {
			user = users[0]
		}
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}
	h.issue(c, user)
}

// Refresh exchanges a refresh token for a new pair. A user whose role was
// changed or removed since the last issue gets the current role or a 401.
func (h Tokens) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "refresh_token required"})
		return
	}
	claims, err := h.Auth.Verify(req.RefreshToken, auth.TokenTypeRefresh, time.Now())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	id, err := strconv.ParseInt(claims.UserID, 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}

	var user *inventory.User
	err = h.Engine.Tx(c.Request.Context(), func(ctx context.Context, s *db.Session) error {
		var err error
		user, err = h.Users.GetOneOr404(ctx, s, id)
		return err
	})
	var nf *apperr.NotFoundError
	if errors.As(err, &nf) {
		user, err = nil, nil
	}
	if err != nil {
		writeError(c, err)
		return
	}
	h.issue(c, user)
}

func (h Tokens) issue(c *gin.Context, u *inventory.User) {
	if u == nil || u.RoleID == nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown user"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), strconv.FormatInt(u.ID, 10), *u.RoleID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, pair)
}
