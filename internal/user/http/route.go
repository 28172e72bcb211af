package http

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers the identity routes.
func RegisterRoutes(g *gin.RouterGroup, h *UserHandler, authMiddleware gin.HandlerFunc) {
	g.GET("/me", authMiddleware, h.Me)
}
