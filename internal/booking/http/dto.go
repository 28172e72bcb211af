package http

import (
	"time"

	"github.com/nekogravitycat/rental-booking-backend/internal/booking"
	"github.com/nekogravitycat/rental-booking-backend/internal/pkg/dates"
	"github.com/nekogravitycat/rental-booking-backend/internal/pkg/request"
)

// ListBookingsRequest defines query parameters for listing bookings.
type ListBookingsRequest struct {
	request.ListParams
	PropertyID string `form:"property_id" binding:"omitempty,uuid"`
	GuestID    string `form:"guest_id" binding:"omitempty,uuid"`
	Status     string `form:"status" binding:"omitempty,oneof=PENDING CONFIRMED CHECKED_IN CHECKED_OUT COMPLETED CANCELLED"`
}

type CreateBookingRequest struct {
	PropertyID string `json:"property_id" binding:"required,uuid"`
	CheckIn    string `json:"check_in" binding:"required,isodate"`
	CheckOut   string `json:"check_out" binding:"required,isodate"`
	Guests     int    `json:"guests" binding:"required,min=1"`
}

// TransitionRequest is the optional body of lifecycle actions.
type TransitionRequest struct {
	Reason string `json:"reason" binding:"omitempty,max=500"`
}

type PropertyTag struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type BookingResponse struct {
	Reference          string      `json:"reference"`
	Property           PropertyTag `json:"property"`
	GuestID            string      `json:"guest_id"`
	CheckIn            string      `json:"check_in"`
	CheckOut           string      `json:"check_out"`
	Nights             int         `json:"nights"`
	Guests             int         `json:"guests"`
	NightlyRate        int64       `json:"nightly_rate"`
	CleaningFee        int64       `json:"cleaning_fee"`
	ServiceFee         int64       `json:"service_fee"`
	SecurityDeposit    int64       `json:"security_deposit"`
	Total              int64       `json:"total"`
	Currency           string      `json:"currency"`
	Status             string      `json:"status"`
	CancellationReason *string     `json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

func NewBookingResponse(b *booking.Booking) BookingResponse {
	return BookingResponse{
		Reference:          b.Reference,
		Property:           PropertyTag{ID: b.PropertyID, Title: b.PropertyTitle},
		GuestID:            b.GuestID,
		CheckIn:            dates.Format(b.CheckIn),
		CheckOut:           dates.Format(b.CheckOut),
		Nights:             b.Nights(),
		Guests:             b.GuestCount,
		NightlyRate:        b.NightlyRate,
		CleaningFee:        b.CleaningFee,
		ServiceFee:         b.ServiceFee,
		SecurityDeposit:    b.SecurityDeposit,
		Total:              b.TotalAmount,
		Currency:           b.Currency,
		Status:             string(b.Status),
		CancellationReason: b.CancellationReason,
		CreatedAt:          b.CreatedAt,
		UpdatedAt:          b.UpdatedAt,
	}
}
