package http

import (
	"time"

	"github.com/nekogravitycat/rental-booking-backend/internal/payment"
	"github.com/nekogravitycat/rental-booking-backend/internal/pkg/request"
)

type InitiatePaymentRequest struct {
	Amount   int64  `json:"amount" binding:"required,min=1"`
	Currency string `json:"currency" binding:"required,iso4217"`
}

type RefundRequest struct {
	Amount int64  `json:"amount" binding:"required,min=1"`
	Reason string `json:"reason" binding:"omitempty,max=500"`
}

// ProviderEventRequest is the webhook payload sent by the payment processor.
type ProviderEventRequest struct {
	TransactionID       string    `json:"transaction_id" binding:"required"`
	Type                string    `json:"type" binding:"required,oneof=capture.completed capture.denied refund.completed"`
	OrderID             string    `json:"order_id"`
	BookingReference    string    `json:"booking_reference"`
	ParentTransactionID string    `json:"parent_transaction_id"`
	Amount              int64     `json:"amount" binding:"required,min=1"`
	Currency            string    `json:"currency" binding:"required,len=3"`
	OccurredAt          time.Time `json:"occurred_at"`
}

func (r ProviderEventRequest) Event() payment.ProviderEvent {
	return payment.ProviderEvent{
		TransactionID:       r.TransactionID,
		Type:                payment.EventType(r.Type),
		OrderID:             r.OrderID,
		BookingReference:    r.BookingReference,
		ParentTransactionID: r.ParentTransactionID,
		Amount:              r.Amount,
		Currency:            r.Currency,
		OccurredAt:          r.OccurredAt,
	}
}

type ListExceptionsRequest struct {
	request.ListParams
	BookingID string `form:"booking_id" binding:"omitempty,uuid"`
	Kind      string `form:"kind"`
	Resolved  *bool  `form:"resolved"`
}

type ResolveExceptionRequest struct {
	Note string `json:"note" binding:"required,max=1000"`
}

type RecordResponse struct {
	ID              string    `json:"id"`
	Direction       string    `json:"direction"`
	Status          string    `json:"status"`
	Amount          int64     `json:"amount"`
	Currency        string    `json:"currency"`
	ProviderTxID    *string   `json:"provider_tx_id,omitempty"`
	ProviderOrderID *string   `json:"provider_order_id,omitempty"`
	ParentID        *string   `json:"parent_id,omitempty"`
	Note            *string   `json:"note,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func NewRecordResponse(r *payment.Record) RecordResponse {
	return RecordResponse{
		ID:              r.ID,
		Direction:       string(r.Direction),
		Status:          string(r.Status),
		Amount:          r.Amount,
		Currency:        r.Currency,
		ProviderTxID:    r.ProviderTxID,
		ProviderOrderID: r.ProviderOrderID,
		ParentID:        r.ParentID,
		Note:            r.Note,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

type ExceptionResponse struct {
	ID             string     `json:"id"`
	BookingID      *string    `json:"booking_id,omitempty"`
	ProviderTxID   string     `json:"provider_tx_id"`
	EventType      string     `json:"event_type"`
	Kind           string     `json:"kind"`
	Detail         string     `json:"detail"`
	Amount         int64      `json:"amount"`
	Currency       string     `json:"currency"`
	Resolved       bool       `json:"resolved"`
	ResolutionNote *string    `json:"resolution_note,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
}

func NewExceptionResponse(e *payment.Exception) ExceptionResponse {
	return ExceptionResponse{
		ID:             e.ID,
		BookingID:      e.BookingID,
		ProviderTxID:   e.ProviderTxID,
		EventType:      string(e.EventType),
		Kind:           e.Kind,
		Detail:         e.Detail,
		Amount:         e.Amount,
		Currency:       e.Currency,
		Resolved:       e.Resolved,
		ResolutionNote: e.ResolutionNote,
		CreatedAt:      e.CreatedAt,
		ResolvedAt:     e.ResolvedAt,
	}
}
