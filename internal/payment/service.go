package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/nekogravitycat/rental-booking-backend/internal/booking"
	"github.com/nekogravitycat/rental-booking-backend/internal/db"
	"github.com/nekogravitycat/rental-booking-backend/internal/pkg/apperror"
)

// Bookings is the part of the booking service reconciliation drives.
type Bookings interface {
	GetByReference(ctx context.Context, reference string) (*booking.Booking, error)
	RolesFor(ctx context.Context, b *booking.Booking, actor booking.Actor) ([]booking.Role, error)
	LockByID(ctx context.Context, id string) (*booking.Booking, error)
	LockByReference(ctx context.Context, reference string) (*booking.Booking, error)
	Transition(ctx context.Context, reference string, ev booking.Event, actor booking.Actor, reason string) (*booking.Booking, error)
}

type Service interface {
	// RecordChargeInitiated opens a processor order for a PENDING booking and
	// persists an INITIATED charge. A second call returns the existing charge.
	RecordChargeInitiated(ctx context.Context, reference string, amount int64, currency string, actor booking.Actor) (*Record, error)
	// OnProviderEvent applies a processor notification exactly once per transaction id.
	OnProviderEvent(ctx context.Context, ev ProviderEvent) error
	// HandleMessage decodes a provider event delivered over the message queue.
	HandleMessage(ctx context.Context, body []byte) error
	RequestRefund(ctx context.Context, reference string, amount int64, reason string, actor booking.Actor) (*Record, error)
	// DispatchRefunds sends queued refunds to the processor and returns how many were accepted.
	DispatchRefunds(ctx context.Context, limit int) (int, error)
	ListByBooking(ctx context.Context, reference string, actor booking.Actor) ([]*Record, error)
	ListExceptions(ctx context.Context, filter ExceptionFilter) ([]*Exception, int, error)
	ResolveException(ctx context.Context, id, note string) (*Exception, error)
}

type service struct {
	repo      Repository
	tx        db.TxManager
	bookings  Bookings
	processor Processor
}

func NewService(repo Repository, tx db.TxManager, bookings Bookings, processor Processor) Service {
	return &service{repo: repo, tx: tx, bookings: bookings, processor: processor}
}

var errUnattributable = errors.New("event matches no booking")

func (s *service) RecordChargeInitiated(ctx context.Context, reference string, amount int64, currency string, actor booking.Actor) (*Record, error) {
	var (
		rec *Record
		b   *booking.Booking
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		b, err = s.bookings.LockByReference(ctx, reference)
		if err != nil {
			return err
		}
		roles, err := s.bookings.RolesFor(ctx, b, actor)
		if err != nil {
			return err
		}
		if !hasAnyRole(roles, booking.RoleGuest, booking.RoleAdmin, booking.RoleSystem) {
			return booking.ErrForbidden
		}
		if b.Status != booking.StatusPending {
			return ErrBookingNotPayable.WithMessage(fmt.Sprintf("booking is %s, not awaiting payment", b.Status))
		}
		if amount != b.TotalAmount || !strings.EqualFold(currency, b.Currency) {
			return ErrAmountMismatch.WithMessage(fmt.Sprintf("booking total is %d %s", b.TotalAmount, b.Currency))
		}

		existing, err := s.repo.GetInitiated(ctx, b.ID, DirectionCharge)
		switch {
		case err == nil:
			rec = existing
			return nil
		case !errors.Is(err, ErrNotFound):
			return err
		}

		rec = &Record{
			BookingID: b.ID,
			Direction: DirectionCharge,
			Status:    StatusInitiated,
			Amount:    b.TotalAmount,
			Currency:  b.Currency,
		}
		return s.repo.Create(ctx, rec)
	})
	if err != nil {
		return nil, err
	}

	if rec.ProviderOrderID != nil {
		return rec, nil
	}

	// The processor call stays outside the booking lock. The record id doubles
	// as the idempotency key so a retry reopens the same order.
	order, err := s.processor.CreateOrder(ctx, OrderRequest{
		IdempotencyKey:   rec.ID,
		BookingReference: b.Reference,
		Amount:           rec.Amount,
		Currency:         rec.Currency,
	})
	if err != nil {
		log.Printf("payment: create order for %s failed: %v", b.Reference, err)
		return nil, apperror.Wrap(err, http.StatusBadGateway, KindProcessorFailed, ErrProcessor.Message)
	}
	if err := s.repo.SetOrderID(ctx, rec.ID, order.ID); err != nil {
		return nil, err
	}
	rec.ProviderOrderID = &order.ID
	return rec, nil
}

func (s *service) HandleMessage(ctx context.Context, body []byte) error {
	var ev ProviderEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return ErrInvalidEvent.WithMessage("malformed provider event: " + err.Error())
	}
	return s.OnProviderEvent(ctx, ev)
}

func (s *service) OnProviderEvent(ctx context.Context, ev ProviderEvent) error {
	if err := ev.validate(); err != nil {
		return err
	}
	ev.Currency = strings.ToUpper(ev.Currency)

	bookingID, err := s.resolveBooking(ctx, ev)
	if errors.Is(err, errUnattributable) {
		return s.raise(ctx, nil, ev, ExceptionUnknownBooking, "no booking matches the event")
	}
	if err != nil {
		return err
	}

	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		// The row lock serializes every event of this booking.
		b, err := s.bookings.LockByID(ctx, bookingID)
		if err != nil {
			return err
		}
		if ev.Type == EventRefundCompleted {
			return s.applyRefund(ctx, b, ev)
		}
		return s.applyCapture(ctx, b, ev)
	})
}

func (ev ProviderEvent) validate() error {
	switch {
	case strings.TrimSpace(ev.TransactionID) == "":
		return ErrInvalidEvent.WithMessage("transaction_id is required")
	case !ev.Type.Valid():
		return ErrInvalidEvent.WithMessage(fmt.Sprintf("unsupported event type %q", ev.Type))
	case ev.Amount <= 0:
		return ErrInvalidEvent.WithMessage("amount must be positive")
	case len(ev.Currency) != 3:
		return ErrInvalidEvent.WithMessage("currency must be a 3-letter code")
	}
	return nil
}

// resolveBooking finds the owning booking by transaction id, then order id,
// then parent transaction id, then booking reference.
func (s *service) resolveBooking(ctx context.Context, ev ProviderEvent) (string, error) {
	lookups := []struct {
		key string
		get func(context.Context, string) (*Record, error)
	}{
		{ev.TransactionID, s.repo.GetByProviderTxID},
		{ev.OrderID, s.repo.GetByOrderID},
		{ev.ParentTransactionID, s.repo.GetByProviderTxID},
	}
	for _, l := range lookups {
		if l.key == "" {
			continue
		}
		rec, err := l.get(ctx, l.key)
		if err == nil {
			return rec.BookingID, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return "", err
		}
	}

	if ev.BookingReference != "" {
		b, err := s.bookings.GetByReference(ctx, ev.BookingReference)
		if err == nil {
			return b.ID, nil
		}
		if !errors.Is(err, booking.ErrNotFound) {
			return "", err
		}
	}
	return "", errUnattributable
}

func (s *service) applyCapture(ctx context.Context, b *booking.Booking, ev ProviderEvent) error {
	target := StatusCompleted
	if ev.Type == EventCaptureDenied {
		target = StatusFailed
	}

	existing, err := s.repo.GetByProviderTxID(ctx, ev.TransactionID)
	switch {
	case err == nil:
		if existing.Direction != DirectionCharge {
			return s.raise(ctx, &b.ID, ev, ExceptionConflictingEvent, "transaction already recorded as a refund")
		}
		if existing.Status == target || (target == StatusCompleted && existing.Status == StatusRefunded) {
			log.Printf("payment: duplicate %s for tx %s ignored", ev.Type, ev.TransactionID)
			return nil
		}
		return s.raise(ctx, &b.ID, ev, ExceptionConflictingEvent, fmt.Sprintf("transaction already %s", existing.Status))
	case !errors.Is(err, ErrNotFound):
		return err
	}

	if target == StatusCompleted {
		charge, err := s.repo.GetCompletedCharge(ctx, b.ID)
		switch {
		case err == nil:
			return s.raise(ctx, &b.ID, ev, ExceptionDuplicateCharge,
				fmt.Sprintf("booking already settled by record %s", charge.ID))
		case !errors.Is(err, ErrNotFound):
			return err
		}
	}

	rec, err := s.pendingRecord(ctx, b.ID, DirectionCharge, ev.OrderID)
	if err != nil {
		return err
	}
	if err := s.settle(ctx, rec, b.ID, DirectionCharge, target, ev); err != nil {
		return err
	}

	if target == StatusFailed {
		if b.Status != booking.StatusPending {
			log.Printf("payment: capture denied for %s while %s, booking unchanged", b.Reference, b.Status)
			return nil
		}
		_, err := s.bookings.Transition(ctx, b.Reference, booking.EventPaymentFailed, booking.SystemActor(), "")
		if errors.Is(err, booking.ErrInvalidTransition) {
			return nil
		}
		return err
	}

	if ev.Amount != b.TotalAmount || ev.Currency != b.Currency {
		return s.raise(ctx, &b.ID, ev, ExceptionAmountMismatch,
			fmt.Sprintf("captured %d %s, booking total is %d %s", ev.Amount, ev.Currency, b.TotalAmount, b.Currency))
	}
	if b.Status != booking.StatusPending {
		return s.raise(ctx, &b.ID, ev, ExceptionBookingNotEligible, fmt.Sprintf("payment captured while booking is %s", b.Status))
	}

	_, err = s.bookings.Transition(ctx, b.Reference, booking.EventPaymentCompleted, booking.SystemActor(), "")
	if errors.Is(err, booking.ErrInvalidTransition) {
		return s.raise(ctx, &b.ID, ev, ExceptionBookingNotEligible, err.Error())
	}
	return err
}

func (s *service) applyRefund(ctx context.Context, b *booking.Booking, ev ProviderEvent) error {
	existing, err := s.repo.GetByProviderTxID(ctx, ev.TransactionID)
	switch {
	case err == nil:
		if existing.Direction == DirectionRefund && existing.Status == StatusCompleted {
			log.Printf("payment: duplicate %s for tx %s ignored", ev.Type, ev.TransactionID)
			return nil
		}
		return s.raise(ctx, &b.ID, ev, ExceptionConflictingEvent,
			fmt.Sprintf("transaction already recorded as %s %s", existing.Direction, existing.Status))
	case !errors.Is(err, ErrNotFound):
		return err
	}

	charge, err := s.repo.GetCompletedCharge(ctx, b.ID)
	if errors.Is(err, ErrNotFound) {
		return s.raise(ctx, &b.ID, ev, ExceptionRefundWithoutCharge, "booking has no completed charge")
	}
	if err != nil {
		return err
	}
	if ev.Currency != charge.Currency {
		return s.raise(ctx, &b.ID, ev, ExceptionAmountMismatch,
			fmt.Sprintf("refund in %s, charge in %s", ev.Currency, charge.Currency))
	}

	completed, _, err := s.repo.RefundTotals(ctx, b.ID)
	if err != nil {
		return err
	}
	if completed+ev.Amount > charge.Amount {
		return s.raise(ctx, &b.ID, ev, ExceptionRefundExceedsCharge,
			fmt.Sprintf("refunds would total %d of a %d charge", completed+ev.Amount, charge.Amount))
	}

	rec, err := s.pendingRecord(ctx, b.ID, DirectionRefund, ev.OrderID)
	if err != nil {
		return err
	}
	if rec == nil {
		// The callback can beat dispatch to storing the processor id.
		rec, err = s.repo.GetInitiatedRefund(ctx, charge.ID, ev.Amount)
		switch {
		case errors.Is(err, ErrNotFound):
			rec = &Record{ParentID: &charge.ID}
		case err != nil:
			return err
		}
	}
	if err := s.settle(ctx, rec, b.ID, DirectionRefund, StatusCompleted, ev); err != nil {
		return err
	}

	if completed+ev.Amount == charge.Amount {
		charge.Status = StatusRefunded
		return s.repo.Update(ctx, charge)
	}
	return nil
}

// pendingRecord returns the INITIATED record the event settles, or nil when
// the event raced ahead of it. Charges fall back to the booking's latest
// INITIATED charge; refunds fall back in applyRefund.
func (s *service) pendingRecord(ctx context.Context, bookingID string, dir Direction, orderID string) (*Record, error) {
	if orderID != "" {
		rec, err := s.repo.GetByOrderID(ctx, orderID)
		switch {
		case err == nil:
			if rec.BookingID == bookingID && rec.Direction == dir && rec.Status == StatusInitiated {
				return rec, nil
			}
		case !errors.Is(err, ErrNotFound):
			return nil, err
		}
	}
	if dir != DirectionCharge {
		return nil, nil
	}

	rec, err := s.repo.GetInitiated(ctx, bookingID, dir)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return rec, err
}

// settle writes the event's outcome onto rec, inserting it when it is new.
func (s *service) settle(ctx context.Context, rec *Record, bookingID string, dir Direction, status Status, ev ProviderEvent) error {
	if rec == nil {
		rec = &Record{}
	}
	txID := ev.TransactionID
	rec.BookingID = bookingID
	rec.Direction = dir
	rec.Status = status
	rec.Amount = ev.Amount
	rec.Currency = ev.Currency
	rec.ProviderTxID = &txID
	if ev.OrderID != "" && rec.ProviderOrderID == nil {
		orderID := ev.OrderID
		rec.ProviderOrderID = &orderID
	}

	if rec.ID == "" {
		return s.repo.Create(ctx, rec)
	}
	return s.repo.Update(ctx, rec)
}

// raise records a reconciliation exception once per transaction id and kind.
func (s *service) raise(ctx context.Context, bookingID *string, ev ProviderEvent, kind, detail string) error {
	e := &Exception{
		BookingID:    bookingID,
		ProviderTxID: ev.TransactionID,
		EventType:    ev.Type,
		Kind:         kind,
		Detail:       detail,
		Amount:       ev.Amount,
		Currency:     ev.Currency,
	}
	created, err := s.repo.CreateException(ctx, e)
	if err != nil {
		return err
	}
	if created {
		log.Printf("payment: reconciliation exception %s for tx %s: %s", kind, ev.TransactionID, detail)
	}
	return nil
}

func (s *service) RequestRefund(ctx context.Context, reference string, amount int64, reason string, actor booking.Actor) (*Record, error) {
	if amount <= 0 {
		return nil, apperror.Validation("refund amount must be positive")
	}

	var rec *Record
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		b, err := s.bookings.LockByReference(ctx, reference)
		if err != nil {
			return err
		}
		roles, err := s.bookings.RolesFor(ctx, b, actor)
		if err != nil {
			return err
		}
		if !hasAnyRole(roles, booking.RoleHost, booking.RoleAdmin, booking.RoleSystem) {
			return booking.ErrForbidden
		}
		rec, err = queueRefund(ctx, s.repo, b, amount, reason, true)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// queueRefund persists an INITIATED refund against the booking's completed charge.
// When strict is false the amount is capped at what remains refundable and a
// booking without a completed charge is skipped.
func queueRefund(ctx context.Context, repo Repository, b *booking.Booking, amount int64, reason string, strict bool) (*Record, error) {
	charge, err := repo.GetCompletedCharge(ctx, b.ID)
	if errors.Is(err, ErrNotFound) {
		if strict {
			return nil, ErrNoCompletedCharge
		}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	completed, pending, err := repo.RefundTotals(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	remaining := charge.Amount - completed - pending
	if amount > remaining {
		if strict {
			return nil, ErrRefundExceedsCharge.WithMessage(
				fmt.Sprintf("at most %d %s can still be refunded", max(remaining, 0), charge.Currency))
		}
		amount = remaining
	}
	if amount <= 0 {
		return nil, nil
	}

	rec := &Record{
		BookingID: b.ID,
		Direction: DirectionRefund,
		Status:    StatusInitiated,
		Amount:    amount,
		Currency:  charge.Currency,
		ParentID:  &charge.ID,
	}
	if reason != "" {
		rec.Note = &reason
	}
	if err := repo.Create(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *service) DispatchRefunds(ctx context.Context, limit int) (int, error) {
	pending, err := s.repo.ListUndispatchedRefunds(ctx, limit)
	if err != nil {
		return 0, err
	}

	sent := 0
	var firstErr error
	for _, rec := range pending {
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}
		if err := s.dispatch(ctx, rec); err != nil {
			log.Printf("payment: dispatch refund %s failed: %v", rec.ID, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		sent++
	}
	return sent, firstErr
}

func (s *service) dispatch(ctx context.Context, rec *Record) error {
	if rec.ParentID == nil {
		return fmt.Errorf("refund %s has no parent charge", rec.ID)
	}
	charge, err := s.repo.GetByID(ctx, *rec.ParentID)
	if err != nil {
		return err
	}
	if charge.ProviderTxID == nil {
		return fmt.Errorf("charge %s has no provider transaction", charge.ID)
	}

	req := RefundRequest{
		IdempotencyKey: rec.ID,
		CaptureID:      *charge.ProviderTxID,
		Amount:         rec.Amount,
		Currency:       rec.Currency,
	}
	if rec.Note != nil {
		req.Reason = *rec.Note
	}
	res, err := s.processor.Refund(ctx, req)
	if err != nil {
		return err
	}
	return s.repo.SetOrderID(ctx, rec.ID, res.ID)
}

func (s *service) ListByBooking(ctx context.Context, reference string, actor booking.Actor) ([]*Record, error) {
	b, err := s.bookings.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	roles, err := s.bookings.RolesFor(ctx, b, actor)
	if err != nil {
		return nil, err
	}
	if len(roles) == 0 {
		return nil, booking.ErrForbidden
	}
	return s.repo.ListByBooking(ctx, b.ID)
}

func (s *service) ListExceptions(ctx context.Context, filter ExceptionFilter) ([]*Exception, int, error) {
	return s.repo.ListExceptions(ctx, filter)
}

func (s *service) ResolveException(ctx context.Context, id, note string) (*Exception, error) {
	if strings.TrimSpace(note) == "" {
		return nil, apperror.Validation("resolution note is required")
	}
	return s.repo.ResolveException(ctx, id, note)
}

func hasAnyRole(roles []booking.Role, want ...booking.Role) bool {
	for _, r := range roles {
		for _, w := range want {
			if r == w {
				return true
			}
		}
	}
	return false
}
