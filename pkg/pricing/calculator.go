package pricing

import "github.com/shopspring/decimal"

const monthsPerYear = 12

// Calculator computes costs for a pricing model
type Calculator struct {
	params Params
}

// NewCalculator creates a new Calculator
func NewCalculator(params Params) *Calculator {
	return &Calculator{params: params}
}

// Params returns the pricing model used by the calculator
func (c *Calculator) Params() Params {
	return c.params
}

// FreeLimit resolves the effective free worker limit for a tenant
func (c *Calculator) FreeLimit(override *int) int {
	if override != nil && *override >= 0 {
		return *override
	}
	return c.params.DefaultFreeWorkerLimit
}

// TierFor selects the tier for a worker count
func (c *Calculator) TierFor(workerCount int, freeLimit *int) Tier {
	workerCount = clamp(workerCount)
	switch {
	case workerCount <= c.FreeLimit(freeLimit):
		return TierFree
	case workerCount >= c.params.EnterpriseWorkerThreshold:
		return TierEnterprise
	default:
		return TierStandard
	}
}

// CalculateCost computes the cost breakdown for the given usage.
// Negative counts are treated as zero.
func (c *Calculator) CalculateCost(workerCount, shopCount int, cycle Cycle, freeLimit *int) CostBreakdown {
	workerCount = clamp(workerCount)
	shopCount = clamp(shopCount)
	if cycle != CycleYearly {
		cycle = CycleMonthly
	}

	cost := CostBreakdown{
		Tier:     c.TierFor(workerCount, freeLimit),
		Cycle:    cycle,
		Currency: c.params.Currency,
	}

	switch cost.Tier {
	case TierFree:
		// nothing billable
	case TierEnterprise:
		cost.MonthlyTotalCents = c.params.EnterpriseMonthlyCents
	case TierStandard:
		cost.BillableWorkers = clamp(workerCount - c.FreeLimit(freeLimit))
		cost.BillableShops = clamp(shopCount - 1) // first shop is free
		cost.WorkerCostCents = int64(cost.BillableWorkers) * c.params.PricePerWorkerCents
		cost.ShopCostCents = int64(cost.BillableShops) * c.params.PricePerShopCents
		cost.MonthlyTotalCents = cost.WorkerCostCents + cost.ShopCostCents
	}

	if cycle == CycleYearly {
		cost.TotalCents = cost.MonthlyTotalCents * c.params.YearlyMonthsBilled
		cost.SavingsCents = cost.MonthlyTotalCents*monthsPerYear - cost.TotalCents
		cost.MonthlyEquivalent = Amount(cost.TotalCents).
			Div(decimal.NewFromInt(monthsPerYear)).
			Round(2)
	} else {
		cost.TotalCents = cost.MonthlyTotalCents
		cost.MonthlyEquivalent = Amount(cost.TotalCents)
	}

	return cost
}

// SubscriptionQuantity returns the provider quantity for the given usage: the
// monthly total in cents. Yearly plans carry a unit price ten times the monthly
// one, so the same quantity is used for both cycles.
func (c *Calculator) SubscriptionQuantity(workerCount, shopCount int, freeLimit *int) int64 {
	return c.CalculateCost(workerCount, shopCount, CycleMonthly, freeLimit).MonthlyTotalCents
}

func clamp(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
