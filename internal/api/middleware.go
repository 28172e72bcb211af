package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nekogravitycat/rental-booking-backend/internal/auth"
	"github.com/nekogravitycat/rental-booking-backend/internal/pkg/apperror"
	"github.com/nekogravitycat/rental-booking-backend/internal/pkg/response"
	"github.com/nekogravitycat/rental-booking-backend/internal/user"
)

var (
	errUnauthorized = apperror.New(http.StatusUnauthorized, apperror.KindUnauthorized, "unauthorized")
	errAdminOnly    = apperror.New(http.StatusForbidden, apperror.KindForbidden, "forbidden: system admin access required")
)

// RequireSystemAdmin ensures the authenticated user is an active system admin.
// It MUST be used after auth.AuthRequired middleware.
func RequireSystemAdmin(userService user.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := auth.GetUserID(c)
		if userID == "" {
			response.Error(c, errUnauthorized)
			c.Abort()
			return
		}

		u, err := userService.GetByID(c.Request.Context(), userID)
		if errors.Is(err, user.ErrNotFound) {
			response.Error(c, errUnauthorized.WithMessage("user not found"))
			c.Abort()
			return
		}
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		if !u.IsSystemAdmin || !u.IsActive {
			response.Error(c, errAdminOnly)
			c.Abort()
			return
		}

		c.Next()
	}
}
