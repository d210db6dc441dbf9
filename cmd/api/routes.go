package main

import (
	"github.com/gin-gonic/gin"

	"roofcrm/internal/httpapi"
	"roofcrm/internal/rbac"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Token issuance.
	// NOTE: placeholder credential handling; real deployments validate a
	// password or SSO assertion before issuing tokens.
	r.POST("/auth/login", h.Login)
	r.POST("/auth/refresh", h.Refresh)

	// Provider webhooks (public). Twilio routes events to the operator
	// session encoded in the callback URL.
	// NOTE: protect with Twilio signature validation in production.
	r.POST("/webhooks/twilio/voice", h.TwilioVoice)
	r.POST("/webhooks/twilio/status", h.TwilioStatus)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		v1.GET("/me", h.Me)

		// CALL routes: owner, office staff and sales reps run the phones.
		calls := v1.Group("/calls")
		calls.Use(rbac.RequireWorkspace())
		calls.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleOffice, rbac.RoleSales, rbac.RoleSuperAdmin))
		{
			calls.POST("/dial", h.Dial)
			calls.POST("/answer", h.Answer)
			calls.POST("/hangup", h.Hangup)
			calls.POST("/mute", h.ToggleMute)
			calls.GET("/state", h.State)
			calls.GET("/stream", h.StateStream)
			calls.POST("/media/offer", h.MediaOffer)
			calls.GET("/history", h.History)
		}
	}
}
