package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/shiftbill/pkg/billing"
	"github.com/platinummonkey/shiftbill/pkg/orgs"
	"github.com/platinummonkey/shiftbill/pkg/subscriptions"
)

// mockBillingService implements BillingService for testing
type mockBillingService struct {
	handleWebhookFunc   func(ctx context.Context, headers billing.WebhookHeaders, body []byte) (*subscriptions.WebhookOutcome, error)
	applyActionFunc     func(ctx context.Context, req subscriptions.SyncRequest) (*billing.Result, error)
	cancelFunc          func(ctx context.Context, subscriptionID, reason string) (*billing.Result, error)
	ensurePlansFunc     func(ctx context.Context) (*subscriptions.EnsureResult, error)
	quoteFunc           func(ctx context.Context, req subscriptions.QuoteRequest) (*subscriptions.Quote, error)
	registerFunc        func(ctx context.Context, req subscriptions.RegisterRequest) (*orgs.Organization, error)
	getOrganizationFunc func(ctx context.Context, orgID string) (*orgs.Organization, error)
	addMemberFunc       func(ctx context.Context, orgID string, req subscriptions.AddMemberRequest) (*orgs.Member, error)
	startCheckoutFunc   func(ctx context.Context, orgID string, req subscriptions.CheckoutRequest) (*orgs.Organization, error)
	syncUsageFunc       func(ctx context.Context, orgID string, workers, shops int) (*subscriptions.UsageSync, error)
	downgradeFunc       func(ctx context.Context, orgID, reason string) (*billing.Result, error)
}

var errNotImplemented = errors.New("not implemented")

func (m *mockBillingService) HandleWebhook(ctx context.Context, headers billing.WebhookHeaders, body []byte) (*subscriptions.WebhookOutcome, error) {
	if m.handleWebhookFunc != nil {
		return m.handleWebhookFunc(ctx, headers, body)
	}
	return nil, errNotImplemented
}

func (m *mockBillingService) ApplyAction(ctx context.Context, req subscriptions.SyncRequest) (*billing.Result, error) {
	if m.applyActionFunc != nil {
		return m.applyActionFunc(ctx, req)
	}
	return nil, errNotImplemented
}

func (m *mockBillingService) Cancel(ctx context.Context, subscriptionID, reason string) (*billing.Result, error) {
	if m.cancelFunc != nil {
		return m.cancelFunc(ctx, subscriptionID, reason)
	}
	return nil, errNotImplemented
}

func (m *mockBillingService) EnsurePlans(ctx context.Context) (*subscriptions.EnsureResult, error) {
	if m.ensurePlansFunc != nil {
		return m.ensurePlansFunc(ctx)
	}
	return nil, errNotImplemented
}

func (m *mockBillingService) Quote(ctx context.Context, req subscriptions.QuoteRequest) (*subscriptions.Quote, error) {
	if m.quoteFunc != nil {
		return m.quoteFunc(ctx, req)
	}
	return nil, errNotImplemented
}

func (m *mockBillingService) Register(ctx context.Context, req subscriptions.RegisterRequest) (*orgs.Organization, error) {
	if m.registerFunc != nil {
		return m.registerFunc(ctx, req)
	}
	return nil, errNotImplemented
}

func (m *mockBillingService) GetOrganization(ctx context.Context, orgID string) (*orgs.Organization, error) {
	if m.getOrganizationFunc != nil {
		return m.getOrganizationFunc(ctx, orgID)
	}
	return nil, errNotImplemented
}

func (m *mockBillingService) AddMember(ctx context.Context, orgID string, req subscriptions.AddMemberRequest) (*orgs.Member, error) {
	if m.addMemberFunc != nil {
		return m.addMemberFunc(ctx, orgID, req)
	}
	return nil, errNotImplemented
}

func (m *mockBillingService) StartCheckout(ctx context.Context, orgID string, req subscriptions.CheckoutRequest) (*orgs.Organization, error) {
	if m.startCheckoutFunc != nil {
		return m.startCheckoutFunc(ctx, orgID, req)
	}
	return nil, errNotImplemented
}

func (m *mockBillingService) SyncUsage(ctx context.Context, orgID string, workers, shops int) (*subscriptions.UsageSync, error) {
	if m.syncUsageFunc != nil {
		return m.syncUsageFunc(ctx, orgID, workers, shops)
	}
	return nil, errNotImplemented
}

func (m *mockBillingService) Downgrade(ctx context.Context, orgID, reason string) (*billing.Result, error) {
	if m.downgradeFunc != nil {
		return m.downgradeFunc(ctx, orgID, reason)
	}
	return nil, errNotImplemented
}

type mockLookup struct {
	getSubscriptionFunc func(ctx context.Context, id string) (*billing.Result, error)
}

func (m *mockLookup) GetSubscription(ctx context.Context, id string) (*billing.Result, error) {
	return m.getSubscriptionFunc(ctx, id)
}

// envelope mirrors httputil.Envelope with raw data for assertions
type envelope struct {
	OK     bool            `json:"ok"`
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  string          `json:"error"`
	Detail json.RawMessage `json:"detail"`
}

func doRequest(t *testing.T, h http.Handler, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	case []byte:
		reader = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 && rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func newTestServer(svc BillingService) *Server {
	return NewServer(Deps{Service: svc, Provider: &mockLookup{
		getSubscriptionFunc: func(_ context.Context, id string) (*billing.Result, error) {
			return billing.NewResult(http.StatusOK, []byte(`{"id":"`+id+`","status":"ACTIVE"}`)), nil
		},
	}})
}
