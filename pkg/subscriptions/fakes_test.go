package subscriptions

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/shiftbill/pkg/billing"
	"github.com/platinummonkey/shiftbill/pkg/orgs"
	"github.com/platinummonkey/shiftbill/pkg/pricing"
)

type gatewayCall struct {
	op             string
	subscriptionID string
	quantity       int64
	reason         string
}

type fakeGateway struct {
	mu        sync.Mutex
	calls     []gatewayCall
	verified  bool
	verifyErr error
	status    int
	body      string
	err       error
	catalog   *fakeCatalog
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{verified: true, status: http.StatusOK, body: `{}`, catalog: &fakeCatalog{}}
}

func (g *fakeGateway) result(op, subscriptionID string, quantity int64, reason string) (*billing.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, gatewayCall{op, subscriptionID, quantity, reason})
	if g.err != nil {
		return nil, g.err
	}
	return resultFor(g.status, g.body), nil
}

func (g *fakeGateway) ReviseQuantity(_ context.Context, id string, q int64) (*billing.Result, error) {
	return g.result("revise", id, q, "")
}

func (g *fakeGateway) Suspend(_ context.Context, id, reason string) (*billing.Result, error) {
	return g.result("suspend", id, 0, reason)
}

func (g *fakeGateway) Activate(_ context.Context, id, reason string) (*billing.Result, error) {
	return g.result("activate", id, 0, reason)
}

func (g *fakeGateway) Cancel(_ context.Context, id, reason string) (*billing.Result, error) {
	return g.result("cancel", id, 0, reason)
}

func (g *fakeGateway) VerifyWebhookSignature(context.Context, billing.WebhookHeaders, []byte) (bool, error) {
	return g.verified, g.verifyErr
}

func (g *fakeGateway) Catalog(context.Context) billing.PlanCatalog {
	return g.catalog
}

func (g *fakeGateway) recorded() []gatewayCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]gatewayCall(nil), g.calls...)
}

type fakeCatalog struct {
	mu         sync.Mutex
	plans      []billing.ProviderPlan
	listStatus int
	created    []billing.PlanSpec
	products   int
	listCalls  int
	delay      time.Duration
}

func (c *fakeCatalog) ListPlans(ctx context.Context, productID string) (*billing.Result, []billing.ProviderPlan, error) {
	time.Sleep(c.delay)
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listCalls++
	status := c.listStatus
	if status == 0 {
		status = http.StatusOK
	}
	if status != http.StatusOK {
		return resultFor(status, `{"name":"INTERNAL_SERVER_ERROR"}`), nil, nil
	}
	return resultFor(status, `{}`), append([]billing.ProviderPlan(nil), c.plans...), nil
}

func (c *fakeCatalog) CreateProduct(context.Context, string, string) (*billing.Result, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products++
	return resultFor(http.StatusCreated, `{"id":"PROD-NEW"}`), "PROD-NEW", nil
}

func (c *fakeCatalog) CreatePlan(ctx context.Context, productID string, spec billing.PlanSpec) (*billing.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.created = append(c.created, spec)
	id := fmt.Sprintf("P-%s-%d", spec.Cycle, len(c.created))
	c.plans = append(c.plans, billing.ProviderPlan{ID: id, ProductID: productID, Name: spec.Name, Status: "ACTIVE"})
	return resultFor(http.StatusCreated, fmt.Sprintf(`{"id":%q,"status":"ACTIVE"}`, id)), nil
}

func resultFor(status int, body string) *billing.Result {
	return billing.NewResult(status, []byte(body))
}

type recordingMetrics struct {
	mu       sync.Mutex
	webhooks map[string]int
	fanOuts  int
	syncs    map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{webhooks: map[string]int{}, syncs: map[string]int{}}
}

func (m *recordingMetrics) RecordWebhook(eventType, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.webhooks[eventType+"/"+outcome]++
}

func (m *recordingMetrics) RecordFanOut(int, int, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fanOuts++
}

func (m *recordingMetrics) RecordUsageSync(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncs[outcome]++
}

type harness struct {
	sync    *Synchronizer
	store   *orgs.MemoryStore
	gateway *fakeGateway
	metrics *recordingMetrics
	now     time.Time
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	h := &harness{
		store:   orgs.NewMemoryStore(),
		gateway: newFakeGateway(),
		metrics: newRecordingMetrics(),
		now:     time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC),
	}
	opts.Logger = logger
	opts.Metrics = h.metrics
	if opts.Now == nil {
		opts.Now = func() time.Time { return h.now }
	}
	h.sync = New(h.store, h.gateway, pricing.NewCalculator(pricing.DefaultParams()), opts)
	return h
}

// seedOrg registers a tenant with members and the given billing state
func (h *harness) seedOrg(t *testing.T, members int, update *orgs.BillingUpdate) *orgs.Organization {
	t.Helper()
	ctx := context.Background()
	org := &orgs.Organization{Name: "Corner Bakery"}
	require.NoError(t, h.store.CreateOrganization(ctx, org))
	for i := 0; i < members; i++ {
		require.NoError(t, h.store.AddMember(ctx, &orgs.Member{
			OrganizationID: org.ID,
			Email:          fmt.Sprintf("member%d@example.com", i),
		}))
	}
	if update != nil {
		require.NoError(t, h.store.UpdateBilling(ctx, org.ID, update))
	}
	got, err := h.store.GetOrganization(ctx, org.ID)
	require.NoError(t, err)
	return got
}

func (h *harness) memberStatuses(t *testing.T, orgID string) []orgs.SubscriptionStatus {
	t.Helper()
	members, err := h.store.ListMembers(context.Background(), orgID)
	require.NoError(t, err)
	out := make([]orgs.SubscriptionStatus, 0, len(members))
	for _, m := range members {
		out = append(out, m.SubscriptionStatus)
	}
	return out
}

func ptr[T any](v T) *T {
	return &v
}
