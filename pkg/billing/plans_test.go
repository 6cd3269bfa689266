package billing

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/shiftbill/pkg/pricing"
)

func TestPlanVersionOf(t *testing.T) {
	tests := []struct {
		name   string
		want   int
		wantOK bool
	}{
		{"Shift Scheduling Standard v2 (Monthly)", 2, true},
		{"Shift Scheduling Standard v10 (Yearly)", 10, true},
		{"Legacy plan", 0, false},
		{"Planv3", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := PlanVersionOf(tt.name)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDefaultPlanSpecs(t *testing.T) {
	specs := DefaultPlanSpecs(pricing.DefaultParams())
	require.Len(t, specs, 2)

	assert.Equal(t, pricing.CycleMonthly, specs[0].Cycle)
	assert.Equal(t, "0.01", specs[0].UnitPrice.StringFixed(2))
	assert.Equal(t, "MONTH", specs[0].IntervalUnit)

	assert.Equal(t, pricing.CycleYearly, specs[1].Cycle)
	assert.Equal(t, "0.10", specs[1].UnitPrice.StringFixed(2))
	assert.Equal(t, "YEAR", specs[1].IntervalUnit)

	for _, spec := range specs {
		v, ok := PlanVersionOf(spec.Name)
		require.True(t, ok)
		assert.Equal(t, PlanVersion, v)
	}
}

func TestListAndCreatePlans(t *testing.T) {
	stub, srv := newProviderStub(t, func(w http.ResponseWriter, r *http.Request, body []byte) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/billing/plans":
			assert.Equal(t, "PROD-1", r.URL.Query().Get("product_id"))
			_, _ = w.Write([]byte(`{"plans":[{"id":"P-OLD","product_id":"PROD-1","name":"Standard v1","status":"ACTIVE"}]}`))
		case r.Method == http.MethodPost && r.URL.Path == "/v1/billing/plans":
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":"P-NEW","status":"ACTIVE"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/v1/catalogs/products":
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":"PROD-2"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	client := newTestClient(srv.URL, "", nil)
	ctx := context.Background()
	session := client.NewSession(ctx)

	res, plans, err := session.ListPlans(ctx, "PROD-1")
	require.NoError(t, err)
	assert.True(t, res.OK)
	require.Len(t, plans, 1)
	v, ok := plans[0].Version()
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, productID, err := session.CreateProduct(ctx, "Shift Scheduling", "Staff scheduling subscription")
	require.NoError(t, err)
	assert.Equal(t, "PROD-2", productID)

	spec := DefaultPlanSpecs(pricing.DefaultParams())[1]
	res, err = session.CreatePlan(ctx, "PROD-1", spec)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, res.Status)

	var sent map[string]any
	require.NoError(t, json.Unmarshal(stub.body("POST /v1/billing/plans"), &sent))
	assert.Equal(t, true, sent["quantity_supported"])
	cycles := sent["billing_cycles"].([]any)
	scheme := cycles[0].(map[string]any)["pricing_scheme"].(map[string]any)
	price := scheme["fixed_price"].(map[string]any)
	assert.Equal(t, "0.10", price["value"])
	assert.Equal(t, "USD", price["currency_code"])

	assert.Equal(t, 1, stub.tokens())
}

func TestCreatePlanRequiresProduct(t *testing.T) {
	client := newTestClient("http://127.0.0.1:1", "", nil)
	_, err := client.NewSession(context.Background()).CreatePlan(context.Background(), "", PlanSpec{})
	assert.Error(t, err)
}
