package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nekogravitycat/rental-booking-backend/internal/pkg/apperror"
	"github.com/nekogravitycat/rental-booking-backend/internal/pkg/response"
)

var (
	errMissingHeader = apperror.New(http.StatusUnauthorized, apperror.KindUnauthorized, "missing Authorization header")
	errHeaderFormat  = apperror.New(http.StatusUnauthorized, apperror.KindUnauthorized, "invalid Authorization header format")
	errInvalidToken  = apperror.New(http.StatusUnauthorized, apperror.KindUnauthorized, "invalid or expired token")
)

// AuthRequired is a Gin middleware that validates JWT from Authorization: Bearer <token>
func AuthRequired(jwtManager *JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			abort(c, errMissingHeader)
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			abort(c, errHeaderFormat)
			return
		}

		claims, err := jwtManager.ParseAndValidate(parts[1])
		if err != nil {
			abort(c, errInvalidToken)
			return
		}

		// Store user info into Gin context for later handlers.
		c.Set(userIDKey, claims.UserID)
		c.Set(userEmailKey, claims.Email)

		c.Next()
	}
}

func abort(c *gin.Context, err error) {
	response.Error(c, err)
	c.Abort()
}
