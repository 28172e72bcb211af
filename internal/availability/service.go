package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nekogravitycat/rental-booking-backend/internal/pkg/dates"
	"github.com/nekogravitycat/rental-booking-backend/internal/property"
)

// OccupancyReader returns the ranges held by occupying bookings of a property
// that intersect within.
type OccupancyReader interface {
	OccupiedRanges(ctx context.Context, propertyID string, within dates.Range) ([]dates.Range, error)
}

// PropertyGetter reads listing policy from the property directory.
type PropertyGetter interface {
	GetByID(ctx context.Context, id string) (*property.Property, error)
}

type Request struct {
	PropertyID string
	CheckIn    time.Time
	CheckOut   time.Time
	GuestCount int
}

type Service interface {
	// CheckAvailability re-reads the property and ledger and evaluates the request.
	// A refusal is returned as an *apperror.AppError with the rejection kind.
	CheckAvailability(ctx context.Context, req Request) (*Quote, error)
	// Decide evaluates an already-loaded property against the ledger. Callers that hold
	// the property lock use it to admit and insert atomically.
	Decide(ctx context.Context, p *property.Property, req Request) (*Quote, error)
}

type Option func(*service)

// WithClock overrides the source of "today".
func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

type service struct {
	properties PropertyGetter
	occupancy  OccupancyReader
	now        func() time.Time
}

func NewService(properties PropertyGetter, occupancy OccupancyReader, opts ...Option) Service {
	s := &service{
		properties: properties,
		occupancy:  occupancy,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) CheckAvailability(ctx context.Context, req Request) (*Quote, error) {
	p, err := s.properties.GetByID(ctx, req.PropertyID)
	if err != nil {
		return nil, err
	}
	return s.Decide(ctx, p, req)
}

func (s *service) Decide(ctx context.Context, p *property.Property, req Request) (*Quote, error) {
	stay := dates.NewRange(req.CheckIn, req.CheckOut)

	var occupied []dates.Range
	if stay.Valid() {
		var err error
		occupied, err = s.occupancy.OccupiedRanges(ctx, p.ID, stay)
		if err != nil {
			return nil, fmt.Errorf("read occupancy: %w", err)
		}
	}

	quote, rej := Evaluate(p, stay, req.GuestCount, s.now(), occupied)
	if rej != nil {
		return nil, rej.AppError()
	}
	return quote, nil
}

// IsRejection reports whether err is one of the availability refusals.
func IsRejection(err error) bool {
	for _, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
