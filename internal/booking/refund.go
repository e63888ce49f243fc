package booking

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// RefundTier grants Percent of the amount paid when the cancellation
// happens at least MinLead before departure.
type RefundTier struct {
	MinLead time.Duration
	Percent int
}

// RefundPolicy picks the first tier, by descending lead time, whose
// MinLead the cancellation satisfies.  No matching tier means no refund.
type RefundPolicy struct {
	tiers []RefundTier
}

// DefaultRefundTiers is 100% a day ahead, 50% six hours ahead, nothing after.
const DefaultRefundTiers = "24h:100,6h:50,0s:0"

// NewRefundPolicy sorts tiers by descending lead time.
func NewRefundPolicy(tiers []RefundTier) RefundPolicy {
	t := append([]RefundTier(nil), tiers...)
	sort.SliceStable(t, func(i, j int) bool { return t[i].MinLead > t[j].MinLead })
	return RefundPolicy{tiers: t}
}

// ParseRefundTiers reads "lead:percent" pairs separated by commas, for
// example "24h:100,6h:50,0s:0".
func ParseRefundTiers(s string) (RefundPolicy, error) {
	var tiers []RefundTier
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lead, pct, ok := strings.Cut(part, ":")
		if !ok {
			return RefundPolicy{}, fmt.Errorf("refund tier %q: want lead:percent", part)
		}
		d, err := time.ParseDuration(strings.TrimSpace(lead))
		if err != nil || d < 0 {
			return RefundPolicy{}, fmt.Errorf("refund tier %q: bad lead time", part)
		}
		p, err := strconv.Atoi(strings.TrimSpace(pct))
		if err != nil || p < 0 || p > 100 {
			return RefundPolicy{}, fmt.Errorf("refund tier %q: percent must be 0-100", part)
		}
		tiers = append(tiers, RefundTier{MinLead: d, Percent: p})
	}
	return NewRefundPolicy(tiers), nil
}

// Tiers returns a copy of the tiers in evaluation order.
func (p RefundPolicy) Tiers() []RefundTier { return append([]RefundTier(nil), p.tiers...) }

// Refund computes the refund for paid at now for a departure.
func (p RefundPolicy) Refund(paid int64, departure, now time.Time) int64 {
	lead := departure.Sub(now)
	for _, t := range p.tiers {
		if lead >= t.MinLead {
			return paid * int64(t.Percent) / 100
		}
	}
	return 0
}
