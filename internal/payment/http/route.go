package http

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts the payment endpoints.
func RegisterRoutes(g *gin.RouterGroup, h *Handler, authMiddleware, adminMiddleware, webhookLimiter gin.HandlerFunc) {
	bookings := g.Group("/bookings/:reference")
	bookings.Use(authMiddleware)
	{
		bookings.GET("/payments", h.List)
		bookings.POST("/payments", h.Initiate)
		bookings.POST("/refunds", h.Refund)
	}

	// === Processor callbacks (signed, no user auth) ===
	g.POST("/webhooks/payments", webhookLimiter, h.Webhook)

	admin := g.Group("/admin/reconciliation-exceptions")
	admin.Use(authMiddleware, adminMiddleware)
	{
		admin.GET("", h.ListExceptions)
		admin.POST("/:id/resolve", h.ResolveException)
	}
}
