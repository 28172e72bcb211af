package property

// CancellationPolicy decides how much of a confirmed booking is refunded on guest cancellation.
type CancellationPolicy string

const (
	PolicyFlexible CancellationPolicy = "flexible"
	PolicyModerate CancellationPolicy = "moderate"
	PolicyStrict   CancellationPolicy = "strict"
)

type refundTier struct {
	minDaysBefore int
	percent       int64
}

// Tiers are ordered from the most generous.
var refundTiers = map[CancellationPolicy][]refundTier{
	PolicyFlexible: {{minDaysBefore: 1, percent: 100}},
	PolicyModerate: {{minDaysBefore: 5, percent: 100}, {minDaysBefore: 1, percent: 50}},
	PolicyStrict:   {{minDaysBefore: 7, percent: 50}},
}

// Valid reports whether p is a known policy.
func (p CancellationPolicy) Valid() bool {
	_, ok := refundTiers[p]
	return ok
}

// RefundPercent returns the share of the paid amount refunded when a guest cancels
// daysBefore days ahead of check-in.
func (p CancellationPolicy) RefundPercent(daysBefore int) int64 {
	for _, tier := range refundTiers[p] {
		if daysBefore >= tier.minDaysBefore {
			return tier.percent
		}
	}
	return 0
}

// RefundAmount applies RefundPercent to paid, rounding down to the minor unit.
func (p CancellationPolicy) RefundAmount(paid int64, daysBefore int) int64 {
	return paid * p.RefundPercent(daysBefore) / 100
}
