package availability

import (
	"net/http"
	"time"

	"github.com/nekogravitycat/rental-booking-backend/internal/pkg/apperror"
)

// Rejection kinds.
const (
	KindPropertyNotActive  = "PROPERTY_NOT_ACTIVE"
	KindDateRangeInvalid   = "DATE_RANGE_INVALID"
	KindGuestCountExceeded = "GUEST_COUNT_EXCEEDED"
	KindRangeUnavailable   = "RANGE_UNAVAILABLE"
)

var (
	ErrPropertyNotActive  = apperror.New(http.StatusUnprocessableEntity, KindPropertyNotActive, "property is not accepting bookings")
	ErrDateRangeInvalid   = apperror.New(http.StatusUnprocessableEntity, KindDateRangeInvalid, "date range is invalid")
	ErrGuestCountExceeded = apperror.New(http.StatusUnprocessableEntity, KindGuestCountExceeded, "guest count is not allowed")
	ErrRangeUnavailable   = apperror.New(http.StatusConflict, KindRangeUnavailable, "dates are not available")
)

// Rejection is the typed outcome of a refused availability check.
type Rejection struct {
	Kind   string
	Reason string
}

func (r *Rejection) Error() string {
	return r.Kind + ": " + r.Reason
}

var sentinels = map[string]*apperror.AppError{
	KindPropertyNotActive:  ErrPropertyNotActive,
	KindDateRangeInvalid:   ErrDateRangeInvalid,
	KindGuestCountExceeded: ErrGuestCountExceeded,
	KindRangeUnavailable:   ErrRangeUnavailable,
}

// AppError converts the rejection into the transport error carrying the same kind.
func (r *Rejection) AppError() *apperror.AppError {
	return sentinels[r.Kind].WithMessage(r.Reason)
}

// Quote is an admitted stay with its computed price. Amounts are in minor units.
type Quote struct {
	PropertyID      string
	CheckIn         time.Time
	CheckOut        time.Time
	Nights          int
	GuestCount      int
	NightlyRate     int64
	CleaningFee     int64
	ServiceFee      int64
	Subtotal        int64 // nights x nightly rate
	Total           int64 // subtotal + fees, excluding the deposit
	SecurityDeposit int64
	Currency        string
}
