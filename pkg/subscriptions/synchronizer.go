package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/shiftbill/pkg/billing"
	"github.com/platinummonkey/shiftbill/pkg/orgs"
	"github.com/platinummonkey/shiftbill/pkg/pricing"
	"github.com/platinummonkey/shiftbill/pkg/proration"
)

var (
	// ErrInvalidSignature is returned when a webhook fails signature verification
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrValidation is returned for malformed or incomplete input
	ErrValidation = errors.New("validation failed")
)

const defaultFanOutConcurrency = 8

// ProviderError carries a failed provider response
type ProviderError struct {
	Operation string
	Result    *billing.Result
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s", e.Operation, e.Result)
}

// Gateway is the provider surface the synchronizer depends on
type Gateway interface {
	ReviseQuantity(ctx context.Context, subscriptionID string, quantity int64) (*billing.Result, error)
	Suspend(ctx context.Context, subscriptionID, reason string) (*billing.Result, error)
	Activate(ctx context.Context, subscriptionID, reason string) (*billing.Result, error)
	Cancel(ctx context.Context, subscriptionID, reason string) (*billing.Result, error)
	VerifyWebhookSignature(ctx context.Context, headers billing.WebhookHeaders, body []byte) (bool, error)
	Catalog(ctx context.Context) billing.PlanCatalog
}

// Recorder receives synchronizer metrics
type Recorder interface {
	RecordWebhook(eventType, outcome string)
	RecordFanOut(members, failed int, d time.Duration)
	RecordUsageSync(outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RecordWebhook(string, string)         {}
func (nopRecorder) RecordFanOut(int, int, time.Duration) {}
func (nopRecorder) RecordUsageSync(string)               {}

// Options configures a Synchronizer
type Options struct {
	// ProductID is the provider catalog product; EnsurePlans creates one when empty
	ProductID   string
	ProductName string
	Promos      pricing.PromoCodes
	Deduper     EventDeduper
	Logger      logrus.FieldLogger
	Metrics     Recorder
	// FanOutConcurrency bounds concurrent member updates
	FanOutConcurrency int
	Now               func() time.Time
}

// Synchronizer reconciles provider subscriptions with tenant entitlements
type Synchronizer struct {
	store   orgs.Store
	gateway Gateway
	calc    *pricing.Calculator
	promos  pricing.PromoCodes
	dedup   EventDeduper
	logger  logrus.FieldLogger
	metrics Recorder
	fanOut  int
	now     func() time.Time

	productMu   sync.Mutex
	productID   string
	productName string
	plans       singleflight.Group
}

// New creates a Synchronizer
func New(store orgs.Store, gateway Gateway, calc *pricing.Calculator, opts Options) *Synchronizer {
	s := &Synchronizer{
		store:       store,
		gateway:     gateway,
		calc:        calc,
		promos:      opts.Promos,
		dedup:       opts.Deduper,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		fanOut:      opts.FanOutConcurrency,
		now:         opts.Now,
		productID:   opts.ProductID,
		productName: opts.ProductName,
	}
	if s.logger == nil {
		s.logger = logrus.StandardLogger()
	}
	s.logger = s.logger.WithField("component", "subscriptions")
	if s.metrics == nil {
		s.metrics = nopRecorder{}
	}
	if s.fanOut <= 0 {
		s.fanOut = defaultFanOutConcurrency
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.productName == "" {
		s.productName = "Shift Scheduling"
	}
	return s
}

// RegisterRequest registers a new tenant
type RegisterRequest struct {
	Name      string `json:"name"`
	PromoCode string `json:"promo_code,omitempty"`
}

// Register creates a tenant on the free plan, applying a promo code's free worker limit
func (s *Synchronizer) Register(ctx context.Context, req RegisterRequest) (*orgs.Organization, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	org := &orgs.Organization{Name: name}
	if req.PromoCode != "" {
		limit, ok := s.promos.Lookup(req.PromoCode)
		if !ok {
			return nil, fmt.Errorf("%w: unknown promo code", ErrValidation)
		}
		org.FreeWorkerLimit = &limit
	}
	if err := s.store.CreateOrganization(ctx, org); err != nil {
		return nil, err
	}
	s.logger.WithField("org_id", org.ID).Info("organization registered")
	return org, nil
}

// GetOrganization returns a tenant
func (s *Synchronizer) GetOrganization(ctx context.Context, orgID string) (*orgs.Organization, error) {
	return s.store.GetOrganization(ctx, orgID)
}

// AddMemberRequest adds a member to a tenant
type AddMemberRequest struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// AddMember adds a member, mirroring the tenant's current subscription status
func (s *Synchronizer) AddMember(ctx context.Context, orgID string, req AddMemberRequest) (*orgs.Member, error) {
	email := strings.TrimSpace(req.Email)
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", ErrValidation)
	}
	org, err := s.store.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	member := &orgs.Member{
		OrganizationID:     org.ID,
		Email:              email,
		Name:               req.Name,
		SubscriptionStatus: org.SubscriptionStatus,
	}
	if err := s.store.AddMember(ctx, member); err != nil {
		return nil, err
	}
	return member, nil
}

// QuoteRequest asks for the cost of a usage level
type QuoteRequest struct {
	OrgID     string        `json:"org_id,omitempty"`
	Workers   int           `json:"workers"`
	Shops     int           `json:"shops"`
	Cycle     pricing.Cycle `json:"cycle,omitempty"`
	PromoCode string        `json:"promo_code,omitempty"`
}

// Quote is a priced usage level
type Quote struct {
	Cost            pricing.CostBreakdown `json:"cost"`
	Quantity        int64                 `json:"quantity"`
	FreeWorkerLimit int                   `json:"free_worker_limit"`
	Proration       *proration.Result     `json:"proration,omitempty"`
}

// Quote prices a usage level. For a tenant with an active subscription the
// prorated difference against its committed monthly cost is included.
func (s *Synchronizer) Quote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	if req.Workers < 0 || req.Shops < 0 {
		return nil, fmt.Errorf("%w: workers and shops must not be negative", ErrValidation)
	}

	var (
		org       *orgs.Organization
		freeLimit *int
	)
	if req.OrgID != "" {
		var err error
		org, err = s.store.GetOrganization(ctx, req.OrgID)
		if err != nil {
			return nil, err
		}
		freeLimit = org.FreeWorkerLimit
		if req.Cycle == "" {
			req.Cycle = org.SubscriptionCycle
		}
	} else if req.PromoCode != "" {
		limit, ok := s.promos.Lookup(req.PromoCode)
		if !ok {
			return nil, fmt.Errorf("%w: unknown promo code", ErrValidation)
		}
		freeLimit = &limit
	}

	cycle, err := pricing.ParseCycle(string(req.Cycle))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	cost := s.calc.CalculateCost(req.Workers, req.Shops, cycle, freeLimit)
	quote := &Quote{
		Cost:            cost,
		Quantity:        s.calc.SubscriptionQuantity(req.Workers, req.Shops, freeLimit),
		FreeWorkerLimit: s.calc.FreeLimit(freeLimit),
	}

	if org != nil {
		result, err := proration.Calculate(proration.Input{
			Previous: pricing.CostBreakdown{MonthlyTotalCents: org.MonthlyCostCents},
			Next:     cost,
			Active:   org.SubscriptionStatus == orgs.StatusActive,
			Cycle:    org.SubscriptionCycle,
			Anchor:   org.CycleAnchor(),
			Now:      s.now(),
		})
		switch {
		case err == nil:
			quote.Proration = result
		case !errors.Is(err, proration.ErrInactiveSubscription):
			return nil, err
		}
	}
	return quote, nil
}

// CheckoutRequest records a subscription started by the client
type CheckoutRequest struct {
	SubscriptionID string        `json:"subscription_id"`
	Cycle          pricing.Cycle `json:"cycle"`
	Workers        int           `json:"workers"`
	Shops          int           `json:"shops"`
}

// StartCheckout stores a pending subscription id with the plan and cost
// baseline it was created for. It becomes authoritative on activation.
func (s *Synchronizer) StartCheckout(ctx context.Context, orgID string, req CheckoutRequest) (*orgs.Organization, error) {
	if req.SubscriptionID == "" {
		return nil, fmt.Errorf("%w: subscription_id is required", ErrValidation)
	}
	cycle, err := pricing.ParseCycle(string(req.Cycle))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	org, err := s.store.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if org.SubscriptionStatus == orgs.StatusActive && org.SubscriptionID != "" && org.SubscriptionID != req.SubscriptionID {
		return nil, fmt.Errorf("%w: organization already has an active subscription", ErrValidation)
	}

	cost := s.calc.CalculateCost(req.Workers, req.Shops, cycle, org.FreeWorkerLimit)
	if cost.Tier == pricing.TierFree {
		return nil, fmt.Errorf("%w: usage is within the free tier", ErrValidation)
	}

	update := &orgs.BillingUpdate{
		PendingSubscriptionID: &req.SubscriptionID,
		Cycle:                 &cycle,
		Plan:                  &cost.Tier,
		MonthlyCostCents:      &cost.MonthlyTotalCents,
	}
	if err := s.store.UpdateBilling(ctx, org.ID, update); err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"org_id":          org.ID,
		"subscription_id": req.SubscriptionID,
		"cycle":           cycle,
	}).Info("checkout started")
	return s.store.GetOrganization(ctx, org.ID)
}

// UsageSync is the outcome of a best-effort quantity push
type UsageSync struct {
	Synced   bool                  `json:"synced"`
	Quantity int64                 `json:"quantity"`
	Cost     pricing.CostBreakdown `json:"cost"`
	Reason   string                `json:"reason,omitempty"`
	Detail   any                   `json:"detail,omitempty"`
}

// SyncUsage recomputes the quantity for new usage and revises the provider
// subscription. Provider failures are logged and reported, never returned.
func (s *Synchronizer) SyncUsage(ctx context.Context, orgID string, workers, shops int) (*UsageSync, error) {
	org, err := s.store.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	cost := s.calc.CalculateCost(workers, shops, org.SubscriptionCycle, org.FreeWorkerLimit)
	out := &UsageSync{
		Cost:     cost,
		Quantity: s.calc.SubscriptionQuantity(workers, shops, org.FreeWorkerLimit),
	}
	log := s.logger.WithFields(logrus.Fields{"org_id": org.ID, "subscription_id": org.SubscriptionID})

	switch {
	case org.SubscriptionID == "" || org.SubscriptionStatus != orgs.StatusActive:
		out.Reason = "no active subscription"
		s.metrics.RecordUsageSync("skipped")
		return out, nil
	case cost.Tier == pricing.TierFree:
		out.Reason = "usage is within the free tier; downgrade to stop billing"
		s.metrics.RecordUsageSync("skipped")
		return out, nil
	}

	res, err := s.gateway.ReviseQuantity(ctx, org.SubscriptionID, out.Quantity)
	if err != nil {
		log.WithError(err).Warn("quantity sync failed")
		out.Reason = "provider unavailable"
		out.Detail = err.Error()
		s.metrics.RecordUsageSync("failed")
		return out, nil
	}
	if !res.OK {
		log.WithField("status", res.Status).Warn("quantity sync rejected by provider")
		out.Reason = "provider rejected quantity"
		out.Detail = res.Data
		s.metrics.RecordUsageSync("failed")
		return out, nil
	}

	out.Synced = true
	s.metrics.RecordUsageSync("synced")
	err = s.store.UpdateBilling(ctx, org.ID, &orgs.BillingUpdate{
		Plan:             &cost.Tier,
		MonthlyCostCents: &cost.MonthlyTotalCents,
	})
	if err != nil {
		log.WithError(err).Warn("failed to store new cost baseline")
	}
	log.WithField("quantity", out.Quantity).Info("quantity synced")
	return out, nil
}

// Downgrade suspends the tenant's subscription and moves it to the free plan.
// A nil result means there was no subscription to suspend.
func (s *Synchronizer) Downgrade(ctx context.Context, orgID, reason string) (*billing.Result, error) {
	org, err := s.store.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}

	var res *billing.Result
	if org.SubscriptionID != "" && org.SubscriptionStatus == orgs.StatusActive {
		res, err = s.gateway.Suspend(ctx, org.SubscriptionID, reason)
		if err != nil {
			return nil, err
		}
		if !res.OK {
			return res, nil
		}
	}

	now := s.now().UTC()
	free := pricing.TierFree
	var zero int64
	update := &orgs.BillingUpdate{Plan: &free, MonthlyCostCents: &zero}
	status := org.SubscriptionStatus
	if res != nil {
		status = orgs.StatusSuspended
		update.Status = &status
		update.SuspendedAt = &now
	}
	if err := s.store.UpdateBilling(ctx, org.ID, update); err != nil {
		return res, err
	}
	if res != nil {
		if err := s.fanOutStatus(ctx, org.ID, status); err != nil {
			return res, err
		}
	}
	s.logger.WithField("org_id", org.ID).Info("organization downgraded to free")
	return res, nil
}

// SyncAction is a provider command requested by a client
type SyncAction string

const (
	ActionUpdateQuantity SyncAction = "update_quantity"
	ActionSuspend        SyncAction = "suspend"
	ActionActivate       SyncAction = "activate"
)

// SyncRequest is the body of the subscription sync endpoint
type SyncRequest struct {
	SubscriptionID string     `json:"subscriptionId"`
	Action         SyncAction `json:"action"`
	Quantity       *int64     `json:"quantity,omitempty"`
	Reason         string     `json:"reason,omitempty"`
}

// Validate checks required fields
func (r SyncRequest) Validate() error {
	if r.SubscriptionID == "" {
		return fmt.Errorf("%w: subscriptionId is required", ErrValidation)
	}
	switch r.Action {
	case ActionUpdateQuantity:
		if r.Quantity == nil {
			return fmt.Errorf("%w: quantity is required for update_quantity", ErrValidation)
		}
		if *r.Quantity < 0 {
			return fmt.Errorf("%w: quantity must not be negative", ErrValidation)
		}
	case ActionSuspend, ActionActivate:
	default:
		return fmt.Errorf("%w: unsupported action %q", ErrValidation, r.Action)
	}
	return nil
}

// ApplyAction forwards a sync command to the provider. Successful suspend and
// activate commands are mirrored onto the owning tenant when it is known.
func (s *Synchronizer) ApplyAction(ctx context.Context, req SyncRequest) (*billing.Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var (
		res *billing.Result
		err error
	)
	switch req.Action {
	case ActionUpdateQuantity:
		res, err = s.gateway.ReviseQuantity(ctx, req.SubscriptionID, *req.Quantity)
	case ActionSuspend:
		res, err = s.gateway.Suspend(ctx, req.SubscriptionID, req.Reason)
	case ActionActivate:
		res, err = s.gateway.Activate(ctx, req.SubscriptionID, req.Reason)
	}
	if err != nil || !res.OK {
		return res, err
	}

	switch req.Action {
	case ActionSuspend:
		s.mirrorStatus(ctx, req.SubscriptionID, orgs.StatusSuspended)
	case ActionActivate:
		s.mirrorStatus(ctx, req.SubscriptionID, orgs.StatusActive)
	}
	return res, nil
}

// Cancel cancels a subscription at the provider and mirrors it locally
func (s *Synchronizer) Cancel(ctx context.Context, subscriptionID, reason string) (*billing.Result, error) {
	if subscriptionID == "" {
		return nil, fmt.Errorf("%w: subscriptionId is required", ErrValidation)
	}
	res, err := s.gateway.Cancel(ctx, subscriptionID, reason)
	if err != nil || !res.OK {
		return res, err
	}
	s.mirrorStatus(ctx, subscriptionID, orgs.StatusCancelled)
	return res, nil
}

// mirrorStatus applies a provider command's effect locally. The webhook that
// follows is authoritative, so failures are only logged.
func (s *Synchronizer) mirrorStatus(ctx context.Context, subscriptionID string, status orgs.SubscriptionStatus) {
	log := s.logger.WithFields(logrus.Fields{"subscription_id": subscriptionID, "status": status})
	org, _, err := s.resolve(ctx, subscriptionID)
	if errors.Is(err, orgs.ErrNotFound) {
		log.Debug("no organization for subscription; skipping local update")
		return
	}
	if err != nil {
		log.WithError(err).Warn("failed to resolve organization")
		return
	}

	now := s.now().UTC()
	update := &orgs.BillingUpdate{Status: &status}
	switch status {
	case orgs.StatusSuspended:
		update.SuspendedAt = &now
	case orgs.StatusCancelled:
		update.CancelledAt = &now
	}
	if err := s.store.UpdateBilling(ctx, org.ID, update); err != nil {
		log.WithError(err).Warn("failed to update organization status")
		return
	}
	if err := s.fanOutStatus(ctx, org.ID, status); err != nil {
		log.WithError(err).Warn("failed to update member status")
	}
}

// resolve finds the tenant for a subscription id, falling back to the pending id.
// The boolean reports whether the match was on the pending id.
func (s *Synchronizer) resolve(ctx context.Context, subscriptionID string) (*orgs.Organization, bool, error) {
	org, err := s.store.FindBySubscriptionID(ctx, subscriptionID)
	if err == nil {
		return org, false, nil
	}
	if !errors.Is(err, orgs.ErrNotFound) {
		return nil, false, err
	}
	org, err = s.store.FindByPendingSubscriptionID(ctx, subscriptionID)
	if err != nil {
		return nil, false, err
	}
	return org, true, nil
}

// fanOutStatus copies a status to every member of a tenant. All members are
// attempted; the first error is returned.
func (s *Synchronizer) fanOutStatus(ctx context.Context, orgID string, status orgs.SubscriptionStatus) error {
	start := time.Now()
	members, err := s.store.ListMembers(ctx, orgID)
	if err != nil {
		return fmt.Errorf("failed to list members: %w", err)
	}

	var (
		g      errgroup.Group
		failed atomic.Int32
	)
	g.SetLimit(s.fanOut)
	for _, m := range members {
		if m.SubscriptionStatus == status {
			continue
		}
		g.Go(func() error {
			if err := s.store.UpdateMemberStatus(ctx, m.ID, status); err != nil {
				failed.Add(1)
				return fmt.Errorf("member %s: %w", m.ID, err)
			}
			return nil
		})
	}
	err = g.Wait()
	s.metrics.RecordFanOut(len(members), int(failed.Load()), time.Since(start))
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"org_id": orgID,
			"failed": failed.Load(),
		}).WithError(err).Warn("member fan-out incomplete")
		return err
	}
	return nil
}
