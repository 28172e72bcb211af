package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nekogravitycat/rental-booking-backend/internal/auth"
	"github.com/nekogravitycat/rental-booking-backend/internal/booking"
	"github.com/nekogravitycat/rental-booking-backend/internal/pkg/dates"
	"github.com/nekogravitycat/rental-booking-backend/internal/pkg/request"
	"github.com/nekogravitycat/rental-booking-backend/internal/pkg/response"
)

type Handler struct {
	service booking.Service
}

func NewHandler(service booking.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) List(c *gin.Context) {
	var req ListBookingsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BindError(c, err)
		return
	}
	req.Normalize()

	filter := booking.Filter{
		PropertyID: req.PropertyID,
		GuestID:    req.GuestID,
		Status:     booking.Status(req.Status),
		Page:       req.Page,
		PageSize:   req.PageSize,
	}

	bookings, total, err := h.service.List(c.Request.Context(), filter, booking.UserActor(auth.GetUserID(c)))
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]BookingResponse, len(bookings))
	for i, b := range bookings {
		items[i] = NewBookingResponse(b)
	}

	c.JSON(http.StatusOK, response.NewPageResponse(items, req.Page, req.PageSize, total))
}

func (h *Handler) Create(c *gin.Context) {
	var req CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}

	stay, err := dates.ParseRange(req.CheckIn, req.CheckOut)
	if err != nil {
		response.BindError(c, err)
		return
	}

	b, err := h.service.Create(c.Request.Context(), booking.CreateRequest{
		GuestID:    auth.GetUserID(c),
		PropertyID: req.PropertyID,
		CheckIn:    stay.CheckIn,
		CheckOut:   stay.CheckOut,
		GuestCount: req.Guests,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	c.JSON(http.StatusCreated, NewBookingResponse(b))
}

func (h *Handler) Get(c *gin.Context) {
	var uri request.ByReferenceRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		response.BindError(c, err)
		return
	}

	b, err := h.service.Get(c.Request.Context(), uri.Reference, booking.UserActor(auth.GetUserID(c)))
	if err != nil {
		response.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, NewBookingResponse(b))
}

// Transition returns a handler applying ev on behalf of the authenticated user.
func (h *Handler) Transition(ev booking.Event) gin.HandlerFunc {
	return func(c *gin.Context) {
		var uri request.ByReferenceRequest
		if err := c.ShouldBindUri(&uri); err != nil {
			response.BindError(c, err)
			return
		}

		var body TransitionRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&body); err != nil {
				response.BindError(c, err)
				return
			}
		}

		b, err := h.service.Transition(c.Request.Context(), uri.Reference, ev, booking.UserActor(auth.GetUserID(c)), body.Reason)
		if err != nil {
			response.Error(c, err)
			return
		}

		c.JSON(http.StatusOK, NewBookingResponse(b))
	}
}
