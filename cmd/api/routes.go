package main

import (
	"github.com/gin-gonic/gin"

	"inventory-platform/internal/auth"
	"inventory-platform/internal/authz"
	"inventory-platform/internal/filter"
	"inventory-platform/internal/httpapi"
	"inventory-platform/internal/introspect"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, a *app, authManager *auth.Manager, authzCache *authz.Cache) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	repos := httpapi.NewRepositories(
		introspect.New(a.engine),
		filter.NewCompiler(a.engine.Dialect(), a.cfg.Catalog.Locales),
	)

	tokens := httpapi.Tokens{Auth: authManager, Engine: a.engine, Users: repos.Users}
	if !a.cfg.IsProduction() {
		r.POST("/v1/auth/login", tokens.Login)
	}
	r.POST("/v1/auth/refresh", tokens.Refresh)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(httpapi.RateLimit(a.cfg.HTTP.RateLimitRPS, a.cfg.HTTP.RateLimitBurst))
	v1.Use(auth.RequireAccessToken(authManager))

	// Echoes the caller identity carried by the access token.
	v1.GET("/me", func(c *gin.Context) {
		uid, _ := auth.UserID(c.Request.Context())
		role, _ := auth.RoleID(c.Request.Context())
		c.JSON(200, gin.H{"user_id": uid, "role_id": role})
	})

	repos.Mount(v1, httpapi.Deps{
		Engine:   a.engine,
		Trail:    a.trail,
		Authz:    authzCache,
		PageSize: a.cfg.Catalog.DefaultPageSize,
	})
}
