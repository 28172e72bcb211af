package booking

import (
	"net/http"
	"time"

	"github.com/nekogravitycat/rental-booking-backend/internal/pkg/apperror"
	"github.com/nekogravitycat/rental-booking-backend/internal/pkg/dates"
)

const KindInvalidTransition = "INVALID_TRANSITION"

var (
	ErrNotFound          = apperror.New(http.StatusNotFound, apperror.KindNotFound, "booking not found")
	ErrInvalidTransition = apperror.New(http.StatusConflict, KindInvalidTransition, "transition is not allowed from the current state")
	ErrForbidden         = apperror.New(http.StatusForbidden, apperror.KindForbidden, "not allowed to act on this booking")
	ErrInvalidStatus     = apperror.Validation("invalid booking status")
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusConfirmed  Status = "CONFIRMED"
	StatusCheckedIn  Status = "CHECKED_IN"
	StatusCheckedOut Status = "CHECKED_OUT"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
)

// Statuses lists every lifecycle state.
var Statuses = []Status{
	StatusPending, StatusConfirmed, StatusCheckedIn, StatusCheckedOut, StatusCompleted, StatusCancelled,
}

// OccupyingStatuses hold a property's dates.
var OccupyingStatuses = []Status{StatusPending, StatusConfirmed, StatusCheckedIn}

func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

func (s Status) Occupying() bool {
	for _, v := range OccupyingStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Booking is a reservation of a property for [CheckIn, CheckOut).
// Property and dates never change after creation. Money is in minor units.
type Booking struct {
	ID                 string
	Reference          string
	PropertyID         string
	PropertyTitle      string
	GuestID            string
	CheckIn            time.Time
	CheckOut           time.Time
	GuestCount         int
	NightlyRate        int64
	CleaningFee        int64
	ServiceFee         int64
	SecurityDeposit    int64
	TotalAmount        int64
	Currency           string
	Status             Status
	CancellationReason *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (b *Booking) Range() dates.Range {
	return dates.NewRange(b.CheckIn, b.CheckOut)
}

func (b *Booking) Nights() int {
	return b.Range().Nights()
}

type Filter struct {
	GuestID    string
	PropertyID string
	Status     Status
	// VisibleTo restricts results to bookings where the user is the guest or the host.
	VisibleTo string
	Page      int
	PageSize  int
}

// StaleFilter selects bookings for background sweeps.
type StaleFilter struct {
	Status         Status
	CreatedBefore  *time.Time
	CheckOutBefore *time.Time
	Limit          int
	Offset         int
}
