package user

import (
	"net/http"
	"time"

	"github.com/nekogravitycat/rental-booking-backend/internal/pkg/apperror"
)

var (
	ErrNotFound     = apperror.New(http.StatusNotFound, apperror.KindNotFound, "user not found")
	ErrInactiveUser = apperror.New(http.StatusUnprocessableEntity, "USER_NOT_ACTIVE", "user is inactive")
)

// User is the identity view the booking core needs. Profile management lives elsewhere.
type User struct {
	ID            string // UUID
	Email         string
	DisplayName   *string
	IsActive      bool
	IsSystemAdmin bool
	CreatedAt     time.Time
}
