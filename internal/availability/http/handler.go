package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nekogravitycat/rental-booking-backend/internal/availability"
	"github.com/nekogravitycat/rental-booking-backend/internal/pkg/dates"
	"github.com/nekogravitycat/rental-booking-backend/internal/pkg/response"
)

type Handler struct {
	service availability.Service
}

func NewHandler(service availability.Service) *Handler {
	return &Handler{service: service}
}

// Check quotes a stay without reserving it.
func (h *Handler) Check(c *gin.Context) {
	var req CheckAvailabilityRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BindError(c, err)
		return
	}

	stay, err := dates.ParseRange(req.CheckIn, req.CheckOut)
	if err != nil {
		response.BindError(c, err)
		return
	}

	q, err := h.service.CheckAvailability(c.Request.Context(), availability.Request{
		PropertyID: req.PropertyID,
		CheckIn:    stay.CheckIn,
		CheckOut:   stay.CheckOut,
		GuestCount: req.Guests,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, NewQuoteResponse(q))
}
