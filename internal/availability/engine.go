package availability

import (
	"fmt"
	"math"
	"time"

	"github.com/nekogravitycat/rental-booking-backend/internal/pkg/dates"
	"github.com/nekogravitycat/rental-booking-backend/internal/property"
)

// Evaluate decides whether stay can be admitted for p given the ranges already
// occupied on the property. It has no side effects.
//
// Checks run in a fixed order so the reported kind is deterministic:
// property status, dates, guest count, then overlap.
func Evaluate(p *property.Property, stay dates.Range, guests int, today time.Time, occupied []dates.Range) (*Quote, *Rejection) {
	if !p.IsActive {
		return nil, &Rejection{Kind: KindPropertyNotActive, Reason: "property is not active"}
	}

	if rej := checkDates(p, stay, dates.Day(today)); rej != nil {
		return nil, rej
	}

	if guests < 1 {
		return nil, &Rejection{Kind: KindGuestCountExceeded, Reason: "at least one guest is required"}
	}
	if guests > p.MaxGuests {
		return nil, &Rejection{
			Kind:   KindGuestCountExceeded,
			Reason: fmt.Sprintf("property accepts at most %d guests", p.MaxGuests),
		}
	}

	for _, r := range occupied {
		if stay.Overlaps(r) {
			return nil, &Rejection{
				Kind:   KindRangeUnavailable,
				Reason: fmt.Sprintf("property is already booked for %s", r),
			}
		}
	}

	return price(p, stay, guests), nil
}

func checkDates(p *property.Property, stay dates.Range, today time.Time) *Rejection {
	if !stay.Valid() {
		return &Rejection{Kind: KindDateRangeInvalid, Reason: "check-out must be after check-in"}
	}

	if stay.CheckIn.Before(today) {
		return &Rejection{Kind: KindDateRangeInvalid, Reason: "check-in is in the past"}
	}
	if stay.CheckIn.Equal(today) && !p.SameDayCheckIn {
		return &Rejection{Kind: KindDateRangeInvalid, Reason: "same-day check-in is not allowed for this property"}
	}

	nights := stay.Nights()
	if nights < p.MinimumStay {
		return &Rejection{
			Kind:   KindDateRangeInvalid,
			Reason: fmt.Sprintf("minimum stay is %d nights", p.MinimumStay),
		}
	}
	if p.MaximumStay > 0 && nights > p.MaximumStay {
		return &Rejection{
			Kind:   KindDateRangeInvalid,
			Reason: fmt.Sprintf("maximum stay is %d nights", p.MaximumStay),
		}
	}
	if !priceable(p, nights) {
		return &Rejection{Kind: KindDateRangeInvalid, Reason: "stay is too long to be priced"}
	}
	return nil
}

// priceable reports whether nights × rate plus fees fits in int64 minor units.
func priceable(p *property.Property, nights int) bool {
	if p.CleaningFee < 0 || p.ServiceFee < 0 || p.CleaningFee > math.MaxInt64-p.ServiceFee {
		return false
	}
	fees := p.CleaningFee + p.ServiceFee
	if p.NightlyRate <= 0 {
		return true
	}
	return int64(nights) <= (math.MaxInt64-fees)/p.NightlyRate
}

func price(p *property.Property, stay dates.Range, guests int) *Quote {
	nights := stay.Nights()
	subtotal := int64(nights) * p.NightlyRate
	return &Quote{
		PropertyID:      p.ID,
		CheckIn:         stay.CheckIn,
		CheckOut:        stay.CheckOut,
		Nights:          nights,
		GuestCount:      guests,
		NightlyRate:     p.NightlyRate,
		CleaningFee:     p.CleaningFee,
		ServiceFee:      p.ServiceFee,
		Subtotal:        subtotal,
		Total:           subtotal + p.CleaningFee + p.ServiceFee,
		SecurityDeposit: p.SecurityDeposit,
		Currency:        p.Currency,
	}
}
