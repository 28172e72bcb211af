package property

import (
	"net/http"
	"time"

	"github.com/nekogravitycat/rental-booking-backend/internal/pkg/apperror"
)

var ErrNotFound = apperror.New(http.StatusNotFound, apperror.KindNotFound, "property not found")

// BookingMode is how a property accepts reservations. Both modes enter PENDING.
type BookingMode string

const (
	BookingModeInstant BookingMode = "instant"
	BookingModeRequest BookingMode = "request"
)

// Property holds the listing policy the booking core reads. Money is in minor units.
type Property struct {
	ID                 string
	HostID             string
	Title              string
	IsActive           bool
	MaxGuests          int
	MinimumStay        int
	MaximumStay        int // 0 means no upper bound
	NightlyRate        int64
	CleaningFee        int64
	ServiceFee         int64
	SecurityDeposit    int64
	Currency           string
	CancellationPolicy CancellationPolicy
	SameDayCheckIn     bool
	BookingMode        BookingMode
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
