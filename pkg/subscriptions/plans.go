package subscriptions

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/shiftbill/pkg/billing"
)

// EnsureResult reports what EnsurePlans found and created
type EnsureResult struct {
	ProductID      string   `json:"product_id"`
	ProductCreated bool     `json:"product_created"`
	Existing       []string `json:"existing,omitempty"`
	Created        []string `json:"created,omitempty"`
}

// EnsurePlans makes sure a current-version plan exists for every billing
// cycle. It only ever adds plans. Concurrent callers share one run.
func (s *Synchronizer) EnsurePlans(ctx context.Context) (*EnsureResult, error) {
	// the shared run outlives any single caller's cancellation
	shared := context.WithoutCancel(ctx)
	v, err, _ := s.plans.Do("ensure", func() (any, error) {
		return s.ensurePlans(shared)
	})
	if err != nil {
		return nil, err
	}
	return v.(*EnsureResult), nil
}

func (s *Synchronizer) ensurePlans(ctx context.Context) (*EnsureResult, error) {
	catalog := s.gateway.Catalog(ctx)
	result := &EnsureResult{}

	s.productMu.Lock()
	productID := s.productID
	s.productMu.Unlock()

	var existing []billing.ProviderPlan
	if productID == "" {
		res, id, err := catalog.CreateProduct(ctx, s.productName, "Staff scheduling subscription")
		if err != nil {
			return nil, err
		}
		if !res.OK {
			return nil, &ProviderError{Operation: "create product", Result: res}
		}
		productID = id
		result.ProductCreated = true
		s.productMu.Lock()
		s.productID = id
		s.productMu.Unlock()
		s.logger.WithField("product_id", id).Warn("created provider product; configure it to avoid creating another on restart")
	} else {
		res, plans, err := catalog.ListPlans(ctx, productID)
		switch {
		case err != nil:
			s.logger.WithError(err).Warn("plan listing failed; attempting creation")
		case !res.OK:
			s.logger.WithField("status", res.Status).Warn("plan listing rejected; attempting creation")
		default:
			existing = plans
		}
	}
	result.ProductID = productID

	for _, spec := range billing.DefaultPlanSpecs(s.calc.Params()) {
		if plan, ok := currentPlan(existing, spec); ok {
			result.Existing = append(result.Existing, plan.ID)
			continue
		}
		res, err := catalog.CreatePlan(ctx, productID, spec)
		if err != nil {
			return nil, err
		}
		if !res.OK {
			return nil, &ProviderError{Operation: fmt.Sprintf("create %s plan", spec.Cycle), Result: res}
		}
		var created billing.ProviderPlan
		if err := res.Decode(&created); err != nil {
			return nil, fmt.Errorf("failed to decode created plan: %w", err)
		}
		result.Created = append(result.Created, created.ID)
		s.logger.WithFields(logrus.Fields{"plan_id": created.ID, "cycle": spec.Cycle}).Info("created provider plan")
	}
	return result, nil
}

// currentPlan finds an active plan for the requested cycle at or above the current version
func currentPlan(plans []billing.ProviderPlan, spec billing.PlanSpec) (billing.ProviderPlan, bool) {
	for _, p := range plans {
		if p.Status != "" && !strings.EqualFold(p.Status, "ACTIVE") {
			continue
		}
		v, ok := p.Version()
		if !ok || v < billing.PlanVersion {
			continue
		}
		if strings.Contains(strings.ToLower(p.Name), string(spec.Cycle)) {
			return p, true
		}
	}
	return billing.ProviderPlan{}, false
}
