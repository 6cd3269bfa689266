package billing

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/platinummonkey/shiftbill/pkg/pricing"
)

// PlanVersion is the provider plan generation this build expects
const PlanVersion = 2

var planVersionPattern = regexp.MustCompile(`\bv(\d+)\b`)

// PlanSpec describes a provider plan to create
type PlanSpec struct {
	Name         string
	Description  string
	Cycle        pricing.Cycle
	IntervalUnit string
	UnitPrice    decimal.Decimal
	Currency     string
}

// DefaultPlanSpecs returns the plans backing the quantity encoding: one cent per
// unit for monthly plans, and ten months' worth per unit for yearly plans.
func DefaultPlanSpecs(params pricing.Params) []PlanSpec {
	unit := pricing.Amount(1)
	return []PlanSpec{
		{
			Name:         fmt.Sprintf("Shift Scheduling Standard v%d (Monthly)", PlanVersion),
			Description:  "Quantity equals the monthly total in cents",
			Cycle:        pricing.CycleMonthly,
			IntervalUnit: "MONTH",
			UnitPrice:    unit,
			Currency:     params.Currency,
		},
		{
			Name:         fmt.Sprintf("Shift Scheduling Standard v%d (Yearly)", PlanVersion),
			Description:  "Quantity equals the monthly total in cents, billed for ten months",
			Cycle:        pricing.CycleYearly,
			IntervalUnit: "YEAR",
			UnitPrice:    unit.Mul(decimal.NewFromInt(params.YearlyMonthsBilled)),
			Currency:     params.Currency,
		},
	}
}

// ProviderPlan is a plan as listed by the provider
type ProviderPlan struct {
	ID          string `json:"id"`
	ProductID   string `json:"product_id"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
}

// Version extracts the plan generation from the plan name
func (p ProviderPlan) Version() (int, bool) {
	return PlanVersionOf(p.Name)
}

// PlanVersionOf parses a "vN" marker from a plan name
func PlanVersionOf(name string) (int, bool) {
	m := planVersionPattern.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	v, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return v, true
}

type planList struct {
	Plans []ProviderPlan `json:"plans"`
}

// ListPlans lists the plans attached to a product
func (s *Session) ListPlans(ctx context.Context, productID string) (*Result, []ProviderPlan, error) {
	query := url.Values{}
	query.Set("page_size", "20")
	if productID != "" {
		query.Set("product_id", productID)
	}

	res, err := s.do(ctx, "list_plans", http.MethodGet, "/v1/billing/plans?"+query.Encode(), nil)
	if err != nil || !res.OK {
		return res, nil, err
	}

	var list planList
	if err := res.Decode(&list); err != nil {
		return res, nil, fmt.Errorf("failed to decode plan list: %w", err)
	}
	return res, list.Plans, nil
}

// CreateProduct creates the catalog product plans are attached to
func (s *Session) CreateProduct(ctx context.Context, name, description string) (*Result, string, error) {
	res, err := s.do(ctx, "create_product", http.MethodPost, "/v1/catalogs/products", map[string]string{
		"name":        name,
		"description": description,
		"type":        "SERVICE",
		"category":    "SOFTWARE",
	})
	if err != nil || !res.OK {
		return res, "", err
	}

	var product struct {
		ID string `json:"id"`
	}
	if err := res.Decode(&product); err != nil {
		return res, "", fmt.Errorf("failed to decode product: %w", err)
	}
	return res, product.ID, nil
}

// CreatePlan creates a quantity-enabled recurring plan
func (s *Session) CreatePlan(ctx context.Context, productID string, spec PlanSpec) (*Result, error) {
	if productID == "" {
		return nil, fmt.Errorf("product id is required")
	}
	body := map[string]any{
		"product_id":  productID,
		"name":        spec.Name,
		"description": spec.Description,
		"status":      "ACTIVE",
		"billing_cycles": []map[string]any{{
			"frequency": map[string]any{
				"interval_unit":  spec.IntervalUnit,
				"interval_count": 1,
			},
			"tenure_type":  "REGULAR",
			"sequence":     1,
			"total_cycles": 0,
			"pricing_scheme": map[string]any{
				"fixed_price": map[string]string{
					"value":         spec.UnitPrice.StringFixed(2),
					"currency_code": spec.Currency,
				},
			},
		}},
		"payment_preferences": map[string]any{
			"auto_bill_outstanding":     true,
			"payment_failure_threshold": 3,
		},
		"quantity_supported": true,
	}
	return s.do(ctx, "create_plan", http.MethodPost, "/v1/billing/plans", body)
}

// PlanCatalog manages provider-side plan definitions
type PlanCatalog interface {
	ListPlans(ctx context.Context, productID string) (*Result, []ProviderPlan, error)
	CreateProduct(ctx context.Context, name, description string) (*Result, string, error)
	CreatePlan(ctx context.Context, productID string, spec PlanSpec) (*Result, error)
}

// Catalog starts a session for a batch of plan management calls
func (c *Client) Catalog(ctx context.Context) PlanCatalog {
	return c.NewSession(ctx)
}

var _ PlanCatalog = (*Session)(nil)
