package http

import (
	"github.com/nekogravitycat/rental-booking-backend/internal/availability"
	"github.com/nekogravitycat/rental-booking-backend/internal/pkg/dates"
)

// CheckAvailabilityRequest defines query parameters for an availability quote.
type CheckAvailabilityRequest struct {
	PropertyID string `form:"property_id" binding:"required,uuid"`
	CheckIn    string `form:"check_in" binding:"required,isodate"`
	CheckOut   string `form:"check_out" binding:"required,isodate"`
	Guests     int    `form:"guests" binding:"required,min=1"`
}

// QuoteResponse is the priced, admitted stay. Amounts are in minor units.
type QuoteResponse struct {
	Available       bool   `json:"available"`
	PropertyID      string `json:"property_id"`
	CheckIn         string `json:"check_in"`
	CheckOut        string `json:"check_out"`
	Nights          int    `json:"nights"`
	Guests          int    `json:"guests"`
	NightlyRate     int64  `json:"nightly_rate"`
	CleaningFee     int64  `json:"cleaning_fee"`
	ServiceFee      int64  `json:"service_fee"`
	Subtotal        int64  `json:"subtotal"`
	Total           int64  `json:"total"`
	SecurityDeposit int64  `json:"security_deposit"`
	Currency        string `json:"currency"`
}

func NewQuoteResponse(q *availability.Quote) QuoteResponse {
	return QuoteResponse{
		Available:       true,
		PropertyID:      q.PropertyID,
		CheckIn:         dates.Format(q.CheckIn),
		CheckOut:        dates.Format(q.CheckOut),
		Nights:          q.Nights,
		Guests:          q.GuestCount,
		NightlyRate:     q.NightlyRate,
		CleaningFee:     q.CleaningFee,
		ServiceFee:      q.ServiceFee,
		Subtotal:        q.Subtotal,
		Total:           q.Total,
		SecurityDeposit: q.SecurityDeposit,
		Currency:        q.Currency,
	}
}
