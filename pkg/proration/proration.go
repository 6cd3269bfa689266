// Package proration computes the one-time adjustment shown when a tenant's
// committed monthly cost changes in the middle of a billing cycle.
//
// The result is informational. The revised recurring amount takes effect at the
// next cycle through the provider quantity; no out-of-band charge is issued.
package proration

import (
	"errors"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/platinummonkey/shiftbill/pkg/pricing"
)

// ErrInactiveSubscription is returned when proration is requested without an active subscription
var ErrInactiveSubscription = errors.New("proration requires an active subscription")

const day = 24 * time.Hour

// Input describes the subscription being changed
type Input struct {
	Previous pricing.CostBreakdown
	Next     pricing.CostBreakdown
	Active   bool
	Cycle    pricing.Cycle
	// Anchor is the last activation or renewal time
	Anchor time.Time
	Now    time.Time
}

// Result is the proration outcome. ProratedDifferenceCents is never negative.
type Result struct {
	IsUpgrade               bool            `json:"is_upgrade"`
	ProratedDifferenceCents int64           `json:"prorated_difference_cents"`
	ProratedDifference      decimal.Decimal `json:"prorated_difference"`
	DaysRemaining           int             `json:"days_remaining"`
	DaysInCycle             int             `json:"days_in_cycle"`
	CycleStart              time.Time       `json:"cycle_start"`
	CycleEnd                time.Time       `json:"cycle_end"`
}

// Calculate computes the prorated difference between two cost breakdowns
func Calculate(in Input) (*Result, error) {
	if !in.Active || in.Anchor.IsZero() {
		return nil, ErrInactiveSubscription
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}

	start, end := CurrentCycle(in.Anchor, in.Cycle, now)
	daysInCycle := int(math.Round(end.Sub(start).Hours() / 24))
	daysRemaining := int(math.Ceil(float64(end.Sub(now)) / float64(day)))
	if daysRemaining < 0 {
		daysRemaining = 0
	}
	if daysRemaining > daysInCycle {
		daysRemaining = daysInCycle
	}

	result := &Result{
		IsUpgrade:          in.Next.MonthlyTotalCents > in.Previous.MonthlyTotalCents,
		ProratedDifference: decimal.Zero,
		DaysRemaining:      daysRemaining,
		DaysInCycle:        daysInCycle,
		CycleStart:         start,
		CycleEnd:           end,
	}
	if !result.IsUpgrade || daysInCycle == 0 {
		return result, nil
	}

	diff := pricing.Amount(in.Next.MonthlyTotalCents - in.Previous.MonthlyTotalCents)
	prorated := diff.
		Mul(decimal.NewFromInt(int64(daysRemaining))).
		Div(decimal.NewFromInt(int64(daysInCycle))).
		Round(2)

	result.ProratedDifference = prorated
	result.ProratedDifferenceCents = pricing.Cents(prorated)
	return result, nil
}

// CurrentCycle returns the billing cycle containing now, advancing the anchor
// by whole cycles. An anchor in the future is treated as the cycle start.
func CurrentCycle(anchor time.Time, cycle pricing.Cycle, now time.Time) (time.Time, time.Time) {
	start := anchor
	end := advance(start, cycle, 1)
	for n := 1; !end.After(now); n++ {
		start = advance(anchor, cycle, n)
		end = advance(anchor, cycle, n+1)
	}
	return start, end
}

// advance adds n cycles to the anchor, computed from the anchor to avoid month-end drift
func advance(anchor time.Time, cycle pricing.Cycle, n int) time.Time {
	if cycle == pricing.CycleYearly {
		return anchor.AddDate(n, 0, 0)
	}
	return anchor.AddDate(0, n, 0)
}
