package response

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nekogravitycat/rental-booking-backend/internal/db"
	"github.com/nekogravitycat/rental-booking-backend/internal/pkg/apperror"
)

// ErrorResponse defines the JSON structure for error responses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Error sends a JSON error response.
// AppErrors carry their own status code and kind; transient ledger errors map to 503;
// anything else is logged and reported as 500.
func Error(c *gin.Context, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		c.JSON(appErr.Code, ErrorResponse{Error: appErr.Kind, Message: appErr.Message})
		return
	}

	if db.IsTransient(err) {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   apperror.KindUnavailable,
			Message: "ledger temporarily unavailable, retry later",
		})
		return
	}

	log.Printf("%s %s: internal error: %v", c.Request.Method, c.FullPath(), err)
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: apperror.KindInternal, Message: "internal server error"})
}

// BindError reports a request that failed binding or validation.
func BindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:   apperror.KindValidation,
		Message: "invalid request",
		Details: err.Error(),
	})
}
