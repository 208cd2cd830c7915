package main

import (
	"database/sql"
	"time"

	"support-signaling/internal/auth"
	"support-signaling/internal/httpapi"
	"support-signaling/internal/rbac"
	"support-signaling/internal/ws"
	"support-signaling/pkg/utils"

	"github.com/gin-gonic/gin"
)

type registerDeps struct {
	db        *sql.DB
	handlers  httpapi.Handlers
	wsHandler *ws.Handler
	authMW    gin.HandlerFunc
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, deps registerDeps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), deps.db, 2*time.Second); err != nil {
			c.JSON(503, gin.H{"status": "degraded"})
			return
		}
		c.JSON(200, gin.H{"status": "ok"})
	})

	// The signaling socket authenticates itself from the ?token query param
	// (browsers cannot set headers on websocket handshakes), so it sits
	// outside the auth middleware group.
	r.GET("/ws", deps.wsHandler.Serve)

	v1 := r.Group("/v1")

	// AUTH routes (token issuance).
	// NOTE: This is a placeholder login route; real credential validation is not implemented.
	v1.POST("/auth/login", deps.handlers.Login)

	// protected API group
	protected := v1.Group("")
	protected.Use(deps.authMW)
	{
		// Placeholder route to demonstrate identity extraction via context.
		protected.GET("/me", func(c *gin.Context) {
			uid, _ := auth.UserID(c.Request.Context())
			name := auth.DisplayName(c.Request.Context())
			role, _ := auth.Role(c.Request.Context())
			c.JSON(200, gin.H{"user_id": uid, "display_name": name, "role": role})
		})

		// CALLS routes: ledger history, live snapshot, and aggregates.
		// Admin-only; customers only see their own calls through the socket.
		calls := protected.Group("/calls")
		calls.Use(rbac.RequireAnyRole(rbac.RoleAdmin))
		{
			calls.GET("/history", deps.handlers.CallHistory)
			calls.GET("/active", deps.handlers.ActiveCalls)
			calls.GET("/summary", deps.handlers.CallsSummary)
		}
	}
}
