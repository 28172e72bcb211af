package payment

import (
	"context"
	"log"

	"github.com/nekogravitycat/rental-booking-backend/internal/booking"
)

// BookingHooks lets the booking lifecycle queue refunds and check disputes
// without depending on the payment service.
type BookingHooks struct {
	repo Repository
}

func NewBookingHooks(repo Repository) *BookingHooks {
	return &BookingHooks{repo: repo}
}

// RequestCancellationRefund queues the policy refund of a cancelled booking.
// It runs inside the cancelling transaction. Bookings that were never charged
// are skipped and the amount is capped at what remains refundable.
func (h *BookingHooks) RequestCancellationRefund(ctx context.Context, b *booking.Booking, amount int64, reason string) error {
	if amount <= 0 {
		return nil
	}
	rec, err := queueRefund(ctx, h.repo, b, amount, reason, false)
	if err != nil {
		return err
	}
	if rec != nil {
		log.Printf("payment: queued refund %s of %d %s for %s", rec.ID, rec.Amount, rec.Currency, b.Reference)
	}
	return nil
}

// HasOpenDisputes reports unresolved reconciliation exceptions on the booking.
func (h *BookingHooks) HasOpenDisputes(ctx context.Context, bookingID string) (bool, error) {
	n, err := h.repo.CountOpenExceptions(ctx, bookingID)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
