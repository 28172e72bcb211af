package payment

import (
	"net/http"
	"time"

	"github.com/nekogravitycat/rental-booking-backend/internal/pkg/apperror"
)

const (
	KindRefundExceedsCharge = "REFUND_EXCEEDS_CHARGE"
	KindAmountMismatch      = "AMOUNT_MISMATCH"
	KindBookingNotPayable   = "BOOKING_NOT_PAYABLE"
	KindNoCompletedCharge   = "NO_COMPLETED_CHARGE"
	KindProcessorFailed     = "PROCESSOR_UNAVAILABLE"
	KindInvalidSignature    = "INVALID_SIGNATURE"
)

var (
	ErrNotFound            = apperror.New(http.StatusNotFound, apperror.KindNotFound, "payment record not found")
	ErrExceptionNotFound   = apperror.New(http.StatusNotFound, apperror.KindNotFound, "reconciliation exception not found")
	ErrRefundExceedsCharge = apperror.New(http.StatusUnprocessableEntity, KindRefundExceedsCharge, "refund would exceed the completed charge")
	ErrAmountMismatch      = apperror.New(http.StatusUnprocessableEntity, KindAmountMismatch, "amount or currency does not match the booking total")
	ErrBookingNotPayable   = apperror.New(http.StatusConflict, KindBookingNotPayable, "booking is not awaiting payment")
	ErrNoCompletedCharge   = apperror.New(http.StatusUnprocessableEntity, KindNoCompletedCharge, "booking has no completed charge")
	ErrProcessor           = apperror.New(http.StatusBadGateway, KindProcessorFailed, "payment processor unavailable, retry later")
	ErrInvalidEvent        = apperror.Validation("invalid provider event")
	ErrInvalidSignature    = apperror.New(http.StatusUnauthorized, KindInvalidSignature, "webhook signature mismatch")
)

type Direction string

const (
	DirectionCharge Direction = "CHARGE"
	DirectionRefund Direction = "REFUND"
)

type Status string

const (
	StatusInitiated Status = "INITIATED"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	// StatusRefunded marks a charge whose completed refunds add up to its amount.
	StatusRefunded Status = "REFUNDED"
)

// Record is one money movement attempt for a booking. Amounts are in minor units.
type Record struct {
	ID              string
	BookingID       string
	Direction       Direction
	Status          Status
	Amount          int64
	Currency        string
	ProviderTxID    *string // idempotency key for provider events
	ProviderOrderID *string // processor order id (charges) or refund request id (refunds)
	ParentID        *string // refunds point at their charge
	Note            *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Provider event types.
type EventType string

const (
	EventCaptureCompleted EventType = "capture.completed"
	EventCaptureDenied    EventType = "capture.denied"
	EventRefundCompleted  EventType = "refund.completed"
)

func (t EventType) Valid() bool {
	switch t {
	case EventCaptureCompleted, EventCaptureDenied, EventRefundCompleted:
		return true
	}
	return false
}

// ProviderEvent is an asynchronous notification from the payment processor.
// Delivery is at-least-once and unordered across bookings.
type ProviderEvent struct {
	TransactionID       string    `json:"transaction_id"`
	Type                EventType `json:"type"`
	OrderID             string    `json:"order_id,omitempty"`
	BookingReference    string    `json:"booking_reference,omitempty"`
	ParentTransactionID string    `json:"parent_transaction_id,omitempty"`
	Amount              int64     `json:"amount"`
	Currency            string    `json:"currency"`
	OccurredAt          time.Time `json:"occurred_at"`
}

// Reconciliation exception kinds.
const (
	ExceptionBookingNotEligible  = "BOOKING_NOT_ELIGIBLE"
	ExceptionUnknownBooking      = "UNKNOWN_BOOKING"
	ExceptionRefundExceedsCharge = "REFUND_EXCEEDS_CHARGE"
	ExceptionRefundWithoutCharge = "REFUND_WITHOUT_CHARGE"
	ExceptionConflictingEvent    = "CONFLICTING_EVENT"
	ExceptionAmountMismatch      = "AMOUNT_MISMATCH"
	ExceptionDuplicateCharge     = "DUPLICATE_CHARGE"
)

// Exception is a provider fact the ledger could not apply automatically.
// Unresolved exceptions count as open disputes on their booking.
type Exception struct {
	ID             string
	BookingID      *string
	ProviderTxID   string
	EventType      EventType
	Kind           string
	Detail         string
	Amount         int64
	Currency       string
	Resolved       bool
	ResolutionNote *string
	CreatedAt      time.Time
	ResolvedAt     *time.Time
}

type ExceptionFilter struct {
	BookingID string
	Kind      string
	Resolved  *bool
	Page      int
	PageSize  int
}
