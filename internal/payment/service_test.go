package payment

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nekogravitycat/rental-booking-backend/internal/booking"
	"github.com/nekogravitycat/rental-booking-backend/internal/pkg/apperror"
)

const total int64 = 33000

func TestRecordChargeInitiated(t *testing.T) {
	f := newFixture()
	b := f.bookings.add("BK-AAAAAAAAAAAA", booking.StatusPending, total)
	ctx := context.Background()

	rec, err := f.svc.RecordChargeInitiated(ctx, b.Reference, total, "eur", booking.UserActor(guestID))
	require.NoError(t, err)
	assert.Equal(t, StatusInitiated, rec.Status)
	assert.Equal(t, DirectionCharge, rec.Direction)
	assert.Equal(t, "EUR", rec.Currency)
	require.NotNil(t, rec.ProviderOrderID)
	assert.Equal(t, "order-"+rec.ID, *rec.ProviderOrderID)

	require.Len(t, f.processor.orders, 1)
	assert.Equal(t, b.Reference, f.processor.orders[0].BookingReference)
	assert.Equal(t, rec.ID, f.processor.orders[0].IdempotencyKey)

	again, err := f.svc.RecordChargeInitiated(ctx, b.Reference, total, "EUR", booking.UserActor(guestID))
	require.NoError(t, err)
	assert.Equal(t, rec.ID, again.ID)
	assert.Len(t, f.processor.orders, 1, "existing order is reused")
}

func TestRecordChargeInitiatedRejects(t *testing.T) {
	f := newFixture()
	pending := f.bookings.add("BK-AAAAAAAAAAAA", booking.StatusPending, total)
	confirmed := f.bookings.add("BK-BBBBBBBBBBBB", booking.StatusConfirmed, total)
	ctx := context.Background()

	_, err := f.svc.RecordChargeInitiated(ctx, pending.Reference, total-1, "EUR", booking.UserActor(guestID))
	assert.ErrorIs(t, err, ErrAmountMismatch)

	_, err = f.svc.RecordChargeInitiated(ctx, pending.Reference, total, "USD", booking.UserActor(guestID))
	assert.ErrorIs(t, err, ErrAmountMismatch)

	_, err = f.svc.RecordChargeInitiated(ctx, confirmed.Reference, total, "EUR", booking.UserActor(guestID))
	assert.ErrorIs(t, err, ErrBookingNotPayable)

	_, err = f.svc.RecordChargeInitiated(ctx, pending.Reference, total, "EUR", booking.UserActor(hostID))
	assert.ErrorIs(t, err, booking.ErrForbidden)

	records, _ := f.repo.ListByBooking(ctx, pending.ID)
	assert.Empty(t, records)
}

func TestRecordChargeInitiatedProcessorDown(t *testing.T) {
	f := newFixture()
	b := f.bookings.add("BK-AAAAAAAAAAAA", booking.StatusPending, total)
	ctx := context.Background()

	f.processor.fail = errors.New("connection refused")
	_, err := f.svc.RecordChargeInitiated(ctx, b.Reference, total, "EUR", booking.UserActor(guestID))
	require.Error(t, err)
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, KindProcessorFailed, appErr.Kind)

	// The record survives so the retry reuses its idempotency key.
	records, _ := f.repo.ListByBooking(ctx, b.ID)
	require.Len(t, records, 1)
	assert.Nil(t, records[0].ProviderOrderID)

	f.processor.fail = nil
	rec, err := f.svc.RecordChargeInitiated(ctx, b.Reference, total, "EUR", booking.UserActor(guestID))
	require.NoError(t, err)
	assert.Equal(t, records[0].ID, rec.ID)
	require.Len(t, f.processor.orders, 2)
	assert.Equal(t, f.processor.orders[0].IdempotencyKey, f.processor.orders[1].IdempotencyKey)
}

func TestCaptureAppliedOnceUnderRedelivery(t *testing.T) {
	f := newFixture()
	b := f.bookings.add("BK-AAAAAAAAAAAA", booking.StatusPending, total)
	ctx := context.Background()

	rec, err := f.svc.RecordChargeInitiated(ctx, b.Reference, total, "EUR", booking.UserActor(guestID))
	require.NoError(t, err)

	ev := capture("cap-1", *rec.ProviderOrderID, "", total)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.svc.OnProviderEvent(ctx, ev)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, booking.StatusConfirmed, f.bookings.status(b.ID))
	assert.Equal(t, 1, f.bookings.transitionCount(booking.EventPaymentCompleted))

	records, _ := f.repo.ListByBooking(ctx, b.ID)
	require.Len(t, records, 1)
	assert.Equal(t, rec.ID, records[0].ID, "initiated charge is completed in place")
	assert.Equal(t, StatusCompleted, records[0].Status)
	assert.Equal(t, "cap-1", *records[0].ProviderTxID)
	assert.Empty(t, f.repo.exceptionsOfKind(ExceptionConflictingEvent))
}

func TestCaptureRacingAheadOfInitiation(t *testing.T) {
	f := newFixture()
	b := f.bookings.add("BK-AAAAAAAAAAAA", booking.StatusPending, total)
	ctx := context.Background()

	require.NoError(t, f.svc.OnProviderEvent(ctx, capture("cap-1", "", b.Reference, total)))

	assert.Equal(t, booking.StatusConfirmed, f.bookings.status(b.ID))
	records, _ := f.repo.ListByBooking(ctx, b.ID)
	require.Len(t, records, 1)
	assert.Equal(t, StatusCompleted, records[0].Status)

	// A late initiation finds the booking already paid.
	_, err := f.svc.RecordChargeInitiated(ctx, b.Reference, total, "EUR", booking.UserActor(guestID))
	assert.ErrorIs(t, err, ErrBookingNotPayable)
}

func TestCaptureForCancelledBookingIsRecordedAsException(t *testing.T) {
	f := newFixture()
	b := f.bookings.add("BK-AAAAAAAAAAAA", booking.StatusCancelled, total)
	ctx := context.Background()

	require.NoError(t, f.svc.OnProviderEvent(ctx, capture("cap-1", "", b.Reference, total)))
	require.NoError(t, f.svc.OnProviderEvent(ctx, capture("cap-1", "", b.Reference, total)))

	assert.Equal(t, booking.StatusCancelled, f.bookings.status(b.ID))
	records, _ := f.repo.ListByBooking(ctx, b.ID)
	require.Len(t, records, 1)
	assert.Equal(t, StatusCompleted, records[0].Status, "the payment fact is kept")

	exceptions := f.repo.exceptionsOfKind(ExceptionBookingNotEligible)
	require.Len(t, exceptions, 1)
	assert.Equal(t, b.ID, *exceptions[0].BookingID)

	open, err := NewBookingHooks(f.repo).HasOpenDisputes(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, open)

	resolved, err := f.svc.ResolveException(ctx, exceptions[0].ID, "refunded manually")
	require.NoError(t, err)
	assert.True(t, resolved.Resolved)

	open, err = NewBookingHooks(f.repo).HasOpenDisputes(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, open)
}

func TestCaptureAmountMismatchDoesNotConfirm(t *testing.T) {
	f := newFixture()
	b := f.bookings.add("BK-AAAAAAAAAAAA", booking.StatusPending, total)
	ctx := context.Background()

	require.NoError(t, f.svc.OnProviderEvent(ctx, capture("cap-1", "", b.Reference, total-100)))

	assert.Equal(t, booking.StatusPending, f.bookings.status(b.ID))
	assert.Len(t, f.repo.exceptionsOfKind(ExceptionAmountMismatch), 1)
}

func TestTimedOutBookingWithMismatchedChargeIsRefunded(t *testing.T) {
	f := newFixture()
	b := f.bookings.add("BK-AAAAAAAAAAAA", booking.StatusPending, total)
	ctx := context.Background()

	require.NoError(t, f.svc.OnProviderEvent(ctx, capture("cap-1", "", b.Reference, total-100)))
	require.Equal(t, booking.StatusPending, f.bookings.status(b.ID))

	_, err := f.bookings.Transition(ctx, b.Reference, booking.EventPaymentTimeout, booking.SystemActor(), "")
	require.NoError(t, err)

	completed, pending, err := f.repo.RefundTotals(ctx, b.ID)
	require.NoError(t, err)
	assert.Zero(t, completed)
	assert.Equal(t, total-100, pending, "refund is capped at the captured amount")
}

func TestSecondCaptureIsDuplicateCharge(t *testing.T) {
	f := newFixture()
	b := f.bookings.add("BK-AAAAAAAAAAAA", booking.StatusPending, total)
	ctx := context.Background()

	require.NoError(t, f.svc.OnProviderEvent(ctx, capture("cap-1", "", b.Reference, total)))
	require.NoError(t, f.svc.OnProviderEvent(ctx, capture("cap-2", "", b.Reference, total)))

	records, _ := f.repo.ListByBooking(ctx, b.ID)
	assert.Len(t, records, 1)
	assert.Len(t, f.repo.exceptionsOfKind(ExceptionDuplicateCharge), 1)
}

func TestConflictingOutcomeForSameTransaction(t *testing.T) {
	f := newFixture()
	b := f.bookings.add("BK-AAAAAAAAAAAA", booking.StatusPending, total)
	ctx := context.Background()

	require.NoError(t, f.svc.OnProviderEvent(ctx, capture("cap-1", "", b.Reference, total)))

	denied := capture("cap-1", "", b.Reference, total)
	denied.Type = EventCaptureDenied
	require.NoError(t, f.svc.OnProviderEvent(ctx, denied))

	assert.Equal(t, booking.StatusConfirmed, f.bookings.status(b.ID))
	assert.Len(t, f.repo.exceptionsOfKind(ExceptionConflictingEvent), 1)
}

func TestDeniedCaptureCancelsPendingBooking(t *testing.T) {
	f := newFixture()
	b := f.bookings.add("BK-AAAAAAAAAAAA", booking.StatusPending, total)
	ctx := context.Background()

	rec, err := f.svc.RecordChargeInitiated(ctx, b.Reference, total, "EUR", booking.UserActor(guestID))
	require.NoError(t, err)

	ev := capture("cap-9", *rec.ProviderOrderID, "", total)
	ev.Type = EventCaptureDenied
	require.NoError(t, f.svc.OnProviderEvent(ctx, ev))
	require.NoError(t, f.svc.OnProviderEvent(ctx, ev))

	assert.Equal(t, booking.StatusCancelled, f.bookings.status(b.ID))
	assert.Equal(t, 1, f.bookings.transitionCount(booking.EventPaymentFailed))

	got, err := f.repo.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
}

func TestUnknownBookingEvent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	ev := capture("cap-x", "order-unknown", "BK-ZZZZZZZZZZZZ", total)
	require.NoError(t, f.svc.OnProviderEvent(ctx, ev))
	require.NoError(t, f.svc.OnProviderEvent(ctx, ev))

	exceptions := f.repo.exceptionsOfKind(ExceptionUnknownBooking)
	require.Len(t, exceptions, 1)
	assert.Nil(t, exceptions[0].BookingID)
	assert.Equal(t, "cap-x", exceptions[0].ProviderTxID)
}

func TestInvalidProviderEvent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	tests := []struct {
		name string
		ev   ProviderEvent
	}{
		{"missing tx id", ProviderEvent{Type: EventCaptureCompleted, Amount: 1, Currency: "EUR"}},
		{"unknown type", ProviderEvent{TransactionID: "t", Type: "capture.pending", Amount: 1, Currency: "EUR"}},
		{"zero amount", ProviderEvent{TransactionID: "t", Type: EventCaptureCompleted, Currency: "EUR"}},
		{"bad currency", ProviderEvent{TransactionID: "t", Type: EventCaptureCompleted, Amount: 1, Currency: "EU"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, f.svc.OnProviderEvent(ctx, tt.ev), ErrInvalidEvent)
		})
	}

	assert.ErrorIs(t, f.svc.HandleMessage(ctx, []byte("{not json")), ErrInvalidEvent)
}

func TestHandleMessageAppliesEvent(t *testing.T) {
	f := newFixture()
	b := f.bookings.add("BK-AAAAAAAAAAAA", booking.StatusPending, total)

	body := []byte(`{"transaction_id":"cap-1","type":"capture.completed","booking_reference":"BK-AAAAAAAAAAAA","amount":33000,"currency":"EUR"}`)
	require.NoError(t, f.svc.HandleMessage(context.Background(), body))
	assert.Equal(t, booking.StatusConfirmed, f.bookings.status(b.ID))
}

func settledBooking(t *testing.T, f *fixture, ref string) *booking.Booking {
	t.Helper()
	b := f.bookings.add(ref, booking.StatusPending, total)
	require.NoError(t, f.svc.OnProviderEvent(context.Background(), capture("cap-"+ref, "", ref, total)))
	require.Equal(t, booking.StatusConfirmed, f.bookings.status(b.ID))
	return b
}

func TestRequestRefundNeverExceedsCharge(t *testing.T) {
	f := newFixture()
	b := settledBooking(t, f, "BK-AAAAAAAAAAAA")
	ctx := context.Background()

	first, err := f.svc.RequestRefund(ctx, b.Reference, 20000, "broken heating", booking.UserActor(hostID))
	require.NoError(t, err)
	assert.Equal(t, StatusInitiated, first.Status)
	assert.Equal(t, int64(20000), first.Amount)

	_, err = f.svc.RequestRefund(ctx, b.Reference, 15000, "", booking.UserActor(adminID))
	assert.ErrorIs(t, err, ErrRefundExceedsCharge)

	_, err = f.svc.RequestRefund(ctx, b.Reference, 13000, "", booking.UserActor(adminID))
	require.NoError(t, err)

	_, err = f.svc.RequestRefund(ctx, b.Reference, 1, "", booking.UserActor(adminID))
	assert.ErrorIs(t, err, ErrRefundExceedsCharge)
}

func TestRequestRefundRejects(t *testing.T) {
	f := newFixture()
	unpaid := f.bookings.add("BK-BBBBBBBBBBBB", booking.StatusPending, total)
	paid := settledBooking(t, f, "BK-AAAAAAAAAAAA")
	ctx := context.Background()

	_, err := f.svc.RequestRefund(ctx, paid.Reference, 100, "", booking.UserActor(guestID))
	assert.ErrorIs(t, err, booking.ErrForbidden)

	_, err = f.svc.RequestRefund(ctx, paid.Reference, 0, "", booking.UserActor(hostID))
	assert.ErrorIs(t, err, apperror.Validation(""))

	_, err = f.svc.RequestRefund(ctx, unpaid.Reference, 100, "", booking.UserActor(hostID))
	assert.ErrorIs(t, err, ErrNoCompletedCharge)
}

func TestRefundDispatchAndCompletion(t *testing.T) {
	f := newFixture()
	b := settledBooking(t, f, "BK-AAAAAAAAAAAA")
	ctx := context.Background()

	refund, err := f.svc.RequestRefund(ctx, b.Reference, total, "host cancelled", booking.UserActor(hostID))
	require.NoError(t, err)

	sent, err := f.svc.DispatchRefunds(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	require.Len(t, f.processor.refunds, 1)
	assert.Equal(t, "cap-"+b.Reference, f.processor.refunds[0].CaptureID)
	assert.Equal(t, refund.ID, f.processor.refunds[0].IdempotencyKey)
	assert.Equal(t, "host cancelled", f.processor.refunds[0].Reason)

	// Dispatched refunds are not sent twice.
	sent, err = f.svc.DispatchRefunds(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, sent)

	ev := ProviderEvent{
		TransactionID:       "ref-1",
		Type:                EventRefundCompleted,
		OrderID:             "refund-" + refund.ID,
		ParentTransactionID: "cap-" + b.Reference,
		Amount:              total,
		Currency:            "EUR",
	}
	require.NoError(t, f.svc.OnProviderEvent(ctx, ev))
	require.NoError(t, f.svc.OnProviderEvent(ctx, ev))

	got, err := f.repo.GetByID(ctx, refund.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)

	charge, err := f.repo.GetCompletedCharge(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRefunded, charge.Status)
	assert.Equal(t, booking.StatusConfirmed, f.bookings.status(b.ID), "refunds leave the booking alone")

	extra := ev
	extra.TransactionID = "ref-2"
	extra.OrderID = ""
	extra.Amount = 1
	require.NoError(t, f.svc.OnProviderEvent(ctx, extra))
	assert.Len(t, f.repo.exceptionsOfKind(ExceptionRefundExceedsCharge), 1)

	completed, _, err := f.repo.RefundTotals(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, total, completed)
}

func TestRefundCallbackBeforeDispatchStoresID(t *testing.T) {
	f := newFixture()
	b := settledBooking(t, f, "BK-AAAAAAAAAAAA")
	ctx := context.Background()

	f.processor.onRefund = func(req RefundRequest, res *RefundResult) {
		assert.NoError(t, f.svc.OnProviderEvent(ctx, ProviderEvent{
			TransactionID:       "ref-early",
			Type:                EventRefundCompleted,
			OrderID:             res.ID,
			ParentTransactionID: req.CaptureID,
			Amount:              req.Amount,
			Currency:            req.Currency,
		}))
	}

	refund, err := f.svc.RequestRefund(ctx, b.Reference, 10000, "", booking.UserActor(hostID))
	require.NoError(t, err)
	sent, err := f.svc.DispatchRefunds(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	got, err := f.repo.GetByID(ctx, refund.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.ProviderOrderID)
	assert.Equal(t, "refund-"+refund.ID, *got.ProviderOrderID)

	records, err := f.repo.ListByBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, records, 2, "the charge and one refund")

	completed, pending, err := f.repo.RefundTotals(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), completed)
	assert.Zero(t, pending)

	_, err = f.svc.RequestRefund(ctx, b.Reference, total-10000, "", booking.UserActor(hostID))
	assert.NoError(t, err)
}

func TestRefundWithoutCharge(t *testing.T) {
	f := newFixture()
	b := f.bookings.add("BK-AAAAAAAAAAAA", booking.StatusPending, total)

	ev := ProviderEvent{TransactionID: "ref-1", Type: EventRefundCompleted, BookingReference: b.Reference, Amount: 100, Currency: "EUR"}
	require.NoError(t, f.svc.OnProviderEvent(context.Background(), ev))
	assert.Len(t, f.repo.exceptionsOfKind(ExceptionRefundWithoutCharge), 1)
}

func TestDispatchRefundsKeepsFailedForRetry(t *testing.T) {
	f := newFixture()
	b := settledBooking(t, f, "BK-AAAAAAAAAAAA")
	ctx := context.Background()

	_, err := f.svc.RequestRefund(ctx, b.Reference, 500, "", booking.UserActor(hostID))
	require.NoError(t, err)

	f.processor.fail = errors.New("503")
	sent, err := f.svc.DispatchRefunds(ctx, 10)
	assert.Error(t, err)
	assert.Zero(t, sent)

	f.processor.fail = nil
	sent, err = f.svc.DispatchRefunds(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
}

func TestCancellationHook(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	hooks := NewBookingHooks(f.repo)

	unpaid := f.bookings.add("BK-BBBBBBBBBBBB", booking.StatusConfirmed, total)
	require.NoError(t, hooks.RequestCancellationRefund(ctx, unpaid, total, "cancelled by guest"))
	records, _ := f.repo.ListByBooking(ctx, unpaid.ID)
	assert.Empty(t, records, "nothing to refund without a charge")

	paid := settledBooking(t, f, "BK-AAAAAAAAAAAA")
	_, err := f.svc.RequestRefund(ctx, paid.Reference, 30000, "", booking.UserActor(hostID))
	require.NoError(t, err)

	// The cancellation refund is capped at what is left.
	require.NoError(t, hooks.RequestCancellationRefund(ctx, paid, total, "cancelled by host"))
	_, pending, err := f.repo.RefundTotals(ctx, paid.ID)
	require.NoError(t, err)
	assert.Equal(t, total, pending)

	require.NoError(t, hooks.RequestCancellationRefund(ctx, paid, 0, "cancelled by guest"))
}

func TestListByBookingAccess(t *testing.T) {
	f := newFixture()
	b := settledBooking(t, f, "BK-AAAAAAAAAAAA")
	ctx := context.Background()

	records, err := f.svc.ListByBooking(ctx, b.Reference, booking.UserActor(guestID))
	require.NoError(t, err)
	assert.Len(t, records, 1)

	_, err = f.svc.ListByBooking(ctx, b.Reference, booking.UserActor("44444444-4444-4444-4444-444444444444"))
	assert.ErrorIs(t, err, booking.ErrForbidden)
}

func TestResolveExceptionRequiresNote(t *testing.T) {
	f := newFixture()
	_, err := f.svc.ResolveException(context.Background(), "any", "  ")
	assert.ErrorIs(t, err, apperror.Validation(""))

	_, err = f.svc.ResolveException(context.Background(), "missing", "done")
	assert.ErrorIs(t, err, ErrExceptionNotFound)
}
