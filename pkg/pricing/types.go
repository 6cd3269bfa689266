package pricing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Tier represents a pricing tier
type Tier string

const (
	TierFree       Tier = "free"
	TierStandard   Tier = "standard"
	TierEnterprise Tier = "enterprise"
)

// Cycle represents a billing cycle
type Cycle string

const (
	CycleMonthly Cycle = "monthly"
	CycleYearly  Cycle = "yearly"
)

// ParseCycle parses a billing cycle, defaulting to monthly when empty
func ParseCycle(s string) (Cycle, error) {
	switch Cycle(strings.ToLower(strings.TrimSpace(s))) {
	case "", CycleMonthly:
		return CycleMonthly, nil
	case CycleYearly:
		return CycleYearly, nil
	default:
		return "", fmt.Errorf("invalid billing cycle: %q", s)
	}
}

// Params holds the pricing model. Amounts are in cents.
type Params struct {
	Currency                  string
	DefaultFreeWorkerLimit    int
	PricePerWorkerCents       int64
	PricePerShopCents         int64
	EnterpriseWorkerThreshold int
	EnterpriseMonthlyCents    int64
	YearlyMonthsBilled        int64 // months charged for a yearly term
}

// DefaultParams returns the default pricing model
func DefaultParams() Params {
	return Params{
		Currency:                  "USD",
		DefaultFreeWorkerLimit:    4,
		PricePerWorkerCents:       200,  // $2/worker/month
		PricePerShopCents:         1500, // $15/shop/month
		EnterpriseWorkerThreshold: 100,
		EnterpriseMonthlyCents:    29900, // $299/month
		YearlyMonthsBilled:        10,
	}
}

// Validate checks the pricing model for impossible values
func (p Params) Validate() error {
	if p.Currency == "" {
		return fmt.Errorf("currency is required")
	}
	if p.DefaultFreeWorkerLimit < 0 {
		return fmt.Errorf("free worker limit must not be negative")
	}
	if p.PricePerWorkerCents < 0 || p.PricePerShopCents < 0 || p.EnterpriseMonthlyCents < 0 {
		return fmt.Errorf("prices must not be negative")
	}
	if p.EnterpriseWorkerThreshold <= p.DefaultFreeWorkerLimit {
		return fmt.Errorf("enterprise threshold (%d) must exceed the free worker limit (%d)",
			p.EnterpriseWorkerThreshold, p.DefaultFreeWorkerLimit)
	}
	if p.YearlyMonthsBilled <= 0 || p.YearlyMonthsBilled > monthsPerYear {
		return fmt.Errorf("yearly months billed must be between 1 and %d", monthsPerYear)
	}
	return nil
}

// CostBreakdown is the result of a cost calculation. Cent amounts are exact;
// MonthlyEquivalent is rounded to two decimal places for display.
type CostBreakdown struct {
	Tier              Tier            `json:"tier"`
	Cycle             Cycle           `json:"cycle"`
	Currency          string          `json:"currency"`
	BillableWorkers   int             `json:"billable_workers"`
	BillableShops     int             `json:"billable_shops"`
	WorkerCostCents   int64           `json:"worker_cost_cents"`
	ShopCostCents     int64           `json:"shop_cost_cents"`
	TotalCents        int64           `json:"total_cents"`
	MonthlyTotalCents int64           `json:"monthly_total_cents"`
	SavingsCents      int64           `json:"savings_cents"`
	MonthlyEquivalent decimal.Decimal `json:"monthly_equivalent"`
}

// Total returns the amount charged per cycle
func (c CostBreakdown) Total() decimal.Decimal {
	return Amount(c.TotalCents)
}

// MonthlyTotal returns the undiscounted monthly amount
func (c CostBreakdown) MonthlyTotal() decimal.Decimal {
	return Amount(c.MonthlyTotalCents)
}

// Savings returns the yearly discount compared to twelve monthly payments
func (c CostBreakdown) Savings() decimal.Decimal {
	return Amount(c.SavingsCents)
}

// Amount converts cents to a decimal currency amount
func Amount(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// Cents converts a decimal currency amount to cents, rounding half away from zero
func Cents(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
