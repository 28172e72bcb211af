package http

import (
	"github.com/gin-gonic/gin"

	"github.com/nekogravitycat/rental-booking-backend/internal/booking"
)

// RegisterRoutes mounts booking routes. createLimiter guards the admission path.
func RegisterRoutes(g *gin.RouterGroup, h *Handler, authMiddleware, createLimiter gin.HandlerFunc) {
	group := g.Group("/bookings")

	// === Authenticated Routes ===
	group.Use(authMiddleware)
	{
		group.GET("", h.List)
		group.POST("", createLimiter, h.Create)
		group.GET("/:reference", h.Get)
		group.POST("/:reference/cancel", h.Transition(booking.EventCancel))
		group.POST("/:reference/check-in", h.Transition(booking.EventCheckIn))
		group.POST("/:reference/check-out", h.Transition(booking.EventCheckOut))
		group.POST("/:reference/finalize", h.Transition(booking.EventFinalize))
	}
}
