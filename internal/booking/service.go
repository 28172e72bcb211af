package booking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/nekogravitycat/rental-booking-backend/internal/availability"
	"github.com/nekogravitycat/rental-booking-backend/internal/db"
	"github.com/nekogravitycat/rental-booking-backend/internal/event"
	"github.com/nekogravitycat/rental-booking-backend/internal/pkg/dates"
	"github.com/nekogravitycat/rental-booking-backend/internal/property"
	"github.com/nekogravitycat/rental-booking-backend/internal/user"
)

const maxReferenceAttempts = 5

// Actor identifies who asks for a transition. Roles are derived per booking.
type Actor struct {
	UserID string
	System bool
}

// SystemActor is used by payment reconciliation and scheduled jobs.
func SystemActor() Actor { return Actor{System: true} }

func UserActor(userID string) Actor { return Actor{UserID: userID} }

func (a Actor) String() string {
	if a.System {
		return string(RoleSystem)
	}
	return a.UserID
}

type CreateRequest struct {
	GuestID    string
	PropertyID string
	CheckIn    time.Time
	CheckOut   time.Time
	GuestCount int
}

type PropertyDirectory interface {
	GetByID(ctx context.Context, id string) (*property.Property, error)
}

type UserDirectory interface {
	GetByID(ctx context.Context, id string) (*user.User, error)
	GetActive(ctx context.Context, id string) (*user.User, error)
}

// RefundRequester queues a refund when a confirmed booking is cancelled.
// It runs inside the cancelling transaction.
type RefundRequester interface {
	RequestCancellationRefund(ctx context.Context, b *Booking, amount int64, reason string) error
}

// DisputeChecker reports unresolved payment disputes that block finalization.
type DisputeChecker interface {
	HasOpenDisputes(ctx context.Context, bookingID string) (bool, error)
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Booking, error)
	// Transition applies ev to the booking under a row lock. reason is stored on cancellation.
	Transition(ctx context.Context, reference string, ev Event, actor Actor, reason string) (*Booking, error)
	// Get returns the booking if actor is its guest, its host or an admin.
	Get(ctx context.Context, reference string, actor Actor) (*Booking, error)
	List(ctx context.Context, filter Filter, actor Actor) ([]*Booking, int, error)
	RolesFor(ctx context.Context, b *Booking, actor Actor) ([]Role, error)
	GetByReference(ctx context.Context, reference string) (*Booking, error)
	LockByID(ctx context.Context, id string) (*Booking, error)
	LockByReference(ctx context.Context, reference string) (*Booking, error)
	// ExpireUnpaid cancels PENDING bookings created before cutoff.
	ExpireUnpaid(ctx context.Context, cutoff time.Time, limit int) (int, error)
	// FinalizeCheckedOut completes CHECKED_OUT bookings whose check-out is on or before cutoff.
	FinalizeCheckedOut(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

type Option func(*service)

func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

func WithRefunds(r RefundRequester) Option {
	return func(s *service) { s.refunds = r }
}

func WithDisputes(d DisputeChecker) Option {
	return func(s *service) { s.disputes = d }
}

type service struct {
	repo         Repository
	tx           db.TxManager
	availability availability.Service
	properties   PropertyDirectory
	users        UserDirectory
	publisher    event.Publisher
	refunds      RefundRequester
	disputes     DisputeChecker
	now          func() time.Time
}

func NewService(
	repo Repository,
	tx db.TxManager,
	avail availability.Service,
	properties PropertyDirectory,
	users UserDirectory,
	publisher event.Publisher,
	opts ...Option,
) Service {
	s := &service{
		repo:         repo,
		tx:           tx,
		availability: avail,
		properties:   properties,
		users:        users,
		publisher:    publisher,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) Create(ctx context.Context, req CreateRequest) (*Booking, error) {
	if _, err := s.users.GetActive(ctx, req.GuestID); err != nil {
		return nil, err
	}

	var created *Booking
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.LockProperty(ctx, req.PropertyID); err != nil {
			return err
		}

		// Everything below re-reads the ledger under the property lock.
		p, err := s.properties.GetByID(ctx, req.PropertyID)
		if err != nil {
			return err
		}

		quote, err := s.availability.Decide(ctx, p, availability.Request{
			PropertyID: p.ID,
			CheckIn:    req.CheckIn,
			CheckOut:   req.CheckOut,
			GuestCount: req.GuestCount,
		})
		if availability.IsRejection(err) {
			log.Printf("booking: admission refused for property %s: %v", p.ID, err)
		}
		if err != nil {
			return err
		}

		b := &Booking{
			PropertyID:      p.ID,
			PropertyTitle:   p.Title,
			GuestID:         req.GuestID,
			CheckIn:         quote.CheckIn,
			CheckOut:        quote.CheckOut,
			GuestCount:      quote.GuestCount,
			NightlyRate:     quote.NightlyRate,
			CleaningFee:     quote.CleaningFee,
			ServiceFee:      quote.ServiceFee,
			SecurityDeposit: quote.SecurityDeposit,
			TotalAmount:     quote.Total,
			Currency:        quote.Currency,
			Status:          StatusPending,
		}
		if err := s.insert(ctx, b); err != nil {
			return err
		}

		created = b
		s.publish(ctx, event.BookingCreated, b, UserActor(req.GuestID))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *service) insert(ctx context.Context, b *Booking) error {
	for attempt := 0; attempt < maxReferenceAttempts; attempt++ {
		b.Reference = NewReference()
		err := s.repo.Create(ctx, b)
		if !errors.Is(err, errReferenceTaken) {
			return err
		}
		log.Printf("booking: reference %s collided, retrying", b.Reference)
	}
	return fmt.Errorf("could not allocate a unique booking reference after %d attempts", maxReferenceAttempts)
}

func (s *service) Transition(ctx context.Context, reference string, ev Event, actor Actor, reason string) (*Booking, error) {
	var out *Booking
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		b, err := s.repo.LockByReference(ctx, reference)
		if err != nil {
			return err
		}

		roles, err := s.RolesFor(ctx, b, actor)
		if err != nil {
			return err
		}

		to, err := Next(b.Status, ev, roles)
		if err != nil {
			return err
		}
		if err := s.checkGuards(ctx, b, ev); err != nil {
			return err
		}

		from := b.Status
		b.Status = to
		if to == StatusCancelled {
			r := cancellationReason(ev, reason, roles)
			b.CancellationReason = &r
		}
		if err := s.repo.UpdateStatus(ctx, b); err != nil {
			return err
		}

		if to == StatusCancelled && s.refunds != nil {
			amount, err := s.refundFor(ctx, b, from, roles)
			if err != nil {
				return err
			}
			if err := s.refunds.RequestCancellationRefund(ctx, b, amount, *b.CancellationReason); err != nil {
				return fmt.Errorf("queue cancellation refund: %w", err)
			}
		}

		s.publish(ctx, eventForStatus(to), b, actor)
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *service) checkGuards(ctx context.Context, b *Booking, ev Event) error {
	today := dates.Day(s.now())

	switch {
	case ev == EventCancel && b.Status == StatusConfirmed:
		if !today.Before(b.CheckIn) {
			return ErrInvalidTransition.WithMessage("confirmed bookings cannot be cancelled on or after the check-in date")
		}
	case ev == EventCheckIn:
		if today.Before(b.CheckIn) {
			return ErrInvalidTransition.WithMessage("check-in is not possible before " + dates.Format(b.CheckIn))
		}
	case ev == EventCheckOut:
		if today.Before(b.CheckOut) {
			return ErrInvalidTransition.WithMessage("check-out is not possible before " + dates.Format(b.CheckOut))
		}
	case ev == EventFinalize && s.disputes != nil:
		open, err := s.disputes.HasOpenDisputes(ctx, b.ID)
		if err != nil {
			return fmt.Errorf("check disputes: %w", err)
		}
		if open {
			return ErrInvalidTransition.WithMessage("booking has unresolved payment disputes")
		}
	}
	return nil
}

// refundFor applies the property's cancellation policy when the guest cancels a
// confirmed stay. Anything else refunds in full; the hook skips uncharged bookings.
func (s *service) refundFor(ctx context.Context, b *Booking, from Status, roles []Role) (int64, error) {
	if from != StatusConfirmed || hasRole(roles, RoleHost) || hasRole(roles, RoleAdmin) {
		return b.TotalAmount, nil
	}
	p, err := s.properties.GetByID(ctx, b.PropertyID)
	if err != nil {
		return 0, err
	}
	daysBefore := dates.DaysBetween(s.now(), b.CheckIn)
	return p.CancellationPolicy.RefundAmount(b.TotalAmount, daysBefore), nil
}

func cancellationReason(ev Event, reason string, roles []Role) string {
	if reason != "" {
		return reason
	}
	switch ev {
	case EventPaymentFailed:
		return "payment failed"
	case EventPaymentTimeout:
		return "payment not received in time"
	}
	if len(roles) > 0 {
		return "cancelled by " + string(roles[0])
	}
	return "cancelled"
}

func (s *service) RolesFor(ctx context.Context, b *Booking, actor Actor) ([]Role, error) {
	if actor.System {
		return []Role{RoleSystem}, nil
	}
	if actor.UserID == "" {
		return nil, nil
	}

	var roles []Role
	if b.GuestID == actor.UserID {
		roles = append(roles, RoleGuest)
	}

	p, err := s.properties.GetByID(ctx, b.PropertyID)
	if err != nil {
		return nil, err
	}
	if p.HostID == actor.UserID {
		roles = append(roles, RoleHost)
	}

	u, err := s.users.GetByID(ctx, actor.UserID)
	switch {
	case errors.Is(err, user.ErrNotFound):
	case err != nil:
		return nil, err
	case u.IsSystemAdmin && u.IsActive:
		roles = append(roles, RoleAdmin)
	}
	return roles, nil
}

func (s *service) Get(ctx context.Context, reference string, actor Actor) (*Booking, error) {
	b, err := s.repo.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	roles, err := s.RolesFor(ctx, b, actor)
	if err != nil {
		return nil, err
	}
	if len(roles) == 0 {
		return nil, ErrForbidden
	}
	return b, nil
}

func (s *service) List(ctx context.Context, filter Filter, actor Actor) ([]*Booking, int, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, ErrInvalidStatus
	}
	if !actor.System {
		u, err := s.users.GetByID(ctx, actor.UserID)
		if err != nil {
			return nil, 0, err
		}
		if !u.IsSystemAdmin {
			filter.VisibleTo = actor.UserID
		}
	}
	return s.repo.List(ctx, filter)
}

func (s *service) GetByReference(ctx context.Context, reference string) (*Booking, error) {
	return s.repo.GetByReference(ctx, reference)
}

func (s *service) LockByID(ctx context.Context, id string) (*Booking, error) {
	return s.repo.LockByID(ctx, id)
}

func (s *service) LockByReference(ctx context.Context, reference string) (*Booking, error) {
	return s.repo.LockByReference(ctx, reference)
}

func (s *service) ExpireUnpaid(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	return s.sweep(ctx, StaleFilter{Status: StatusPending, CreatedBefore: &cutoff, Limit: limit}, EventPaymentTimeout)
}

func (s *service) FinalizeCheckedOut(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	day := dates.Day(cutoff)
	return s.sweep(ctx, StaleFilter{Status: StatusCheckedOut, CheckOutBefore: &day, Limit: limit}, EventFinalize)
}

// sweep applies ev to each matching booking in its own transaction, a page of
// filter.Limit at a time. Bookings that cannot move are skipped and paged past,
// so they never starve the rest of the queue.
func (s *service) sweep(ctx context.Context, filter StaleFilter, ev Event) (int, error) {
	done, skipped := 0, 0
	for {
		filter.Offset = skipped
		refs, err := s.repo.ListStale(ctx, filter)
		if err != nil {
			return done, err
		}

		for _, ref := range refs {
			if ctx.Err() != nil {
				return done, ctx.Err()
			}
			_, err := s.Transition(ctx, ref, ev, SystemActor(), "")
			switch {
			case err == nil:
				done++
			case errors.Is(err, ErrInvalidTransition):
				log.Printf("booking: %s skipped for %s: %v", ev, ref, err)
				skipped++
			default:
				return done, fmt.Errorf("%s %s: %w", ev, ref, err)
			}
		}

		if filter.Limit <= 0 || len(refs) < filter.Limit {
			return done, nil
		}
	}
}

func (s *service) publish(ctx context.Context, eventType string, b *Booking, actor Actor) {
	if s.publisher == nil {
		return
	}
	ev := event.Event{
		Type:             eventType,
		BookingID:        b.ID,
		BookingReference: b.Reference,
		PropertyID:       b.PropertyID,
		GuestID:          b.GuestID,
		Status:           string(b.Status),
		Actor:            actor.String(),
		OccurredAt:       s.now().UTC(),
	}
	if b.CancellationReason != nil {
		ev.Reason = *b.CancellationReason
	}
	// Listeners only hear about committed state.
	db.AfterCommit(ctx, func() {
		s.publisher.Publish(context.WithoutCancel(ctx), ev)
	})
}

func eventForStatus(st Status) string {
	switch st {
	case StatusConfirmed:
		return event.BookingConfirmed
	case StatusCheckedIn:
		return event.BookingCheckedIn
	case StatusCheckedOut:
		return event.BookingCheckedOut
	case StatusCompleted:
		return event.BookingCompleted
	case StatusCancelled:
		return event.BookingCancelled
	default:
		return event.BookingCreated
	}
}

func hasRole(roles []Role, r Role) bool {
	for _, have := range roles {
		if have == r {
			return true
		}
	}
	return false
}
