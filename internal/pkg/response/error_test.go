package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nekogravitycat/rental-booking-backend/internal/pkg/apperror"
)

func render(t *testing.T, err error) (int, ErrorResponse) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	Error(c, err)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body
}

func TestErrorMapsAppError(t *testing.T) {
	code, body := render(t, fmt.Errorf("wrapped: %w", apperror.New(http.StatusConflict, "RANGE_UNAVAILABLE", "dates taken")))
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "RANGE_UNAVAILABLE", body.Error)
	assert.Equal(t, "dates taken", body.Message)
}

func TestErrorMapsTransientToUnavailable(t *testing.T) {
	code, body := render(t, &pgconn.PgError{Code: pgerrcode.SerializationFailure})
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, apperror.KindUnavailable, body.Error)
}

func TestErrorHidesUnknownErrors(t *testing.T) {
	code, body := render(t, errors.New("secret detail"))
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "internal server error", body.Message)
}
