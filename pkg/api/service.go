package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/platinummonkey/shiftbill/pkg/billing"
	"github.com/platinummonkey/shiftbill/pkg/httputil"
	"github.com/platinummonkey/shiftbill/pkg/observability"
	"github.com/platinummonkey/shiftbill/pkg/orgs"
	"github.com/platinummonkey/shiftbill/pkg/subscriptions"
)

// BillingService is the subscription synchronizer surface the handlers use
type BillingService interface {
	HandleWebhook(ctx context.Context, headers billing.WebhookHeaders, body []byte) (*subscriptions.WebhookOutcome, error)
	ApplyAction(ctx context.Context, req subscriptions.SyncRequest) (*billing.Result, error)
	Cancel(ctx context.Context, subscriptionID, reason string) (*billing.Result, error)
	EnsurePlans(ctx context.Context) (*subscriptions.EnsureResult, error)
	Quote(ctx context.Context, req subscriptions.QuoteRequest) (*subscriptions.Quote, error)

	Register(ctx context.Context, req subscriptions.RegisterRequest) (*orgs.Organization, error)
	GetOrganization(ctx context.Context, orgID string) (*orgs.Organization, error)
	AddMember(ctx context.Context, orgID string, req subscriptions.AddMemberRequest) (*orgs.Member, error)
	StartCheckout(ctx context.Context, orgID string, req subscriptions.CheckoutRequest) (*orgs.Organization, error)
	SyncUsage(ctx context.Context, orgID string, workers, shops int) (*subscriptions.UsageSync, error)
	Downgrade(ctx context.Context, orgID, reason string) (*billing.Result, error)
}

// SubscriptionLookup fetches a subscription from the provider for diagnostics
type SubscriptionLookup interface {
	GetSubscription(ctx context.Context, subscriptionID string) (*billing.Result, error)
}

var _ BillingService = (*subscriptions.Synchronizer)(nil)

// writeServiceError maps service errors onto status codes
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var providerErr *subscriptions.ProviderError
	switch {
	case errors.Is(err, subscriptions.ErrValidation):
		httputil.WriteBadRequest(w, err.Error())
	case errors.Is(err, subscriptions.ErrInvalidSignature):
		httputil.WriteUnauthorized(w, err.Error())
	case errors.Is(err, orgs.ErrNotFound):
		httputil.WriteNotFound(w, "organization not found")
	case errors.Is(err, orgs.ErrAlreadyExists):
		httputil.WriteConflict(w, err.Error())
	case errors.As(err, &providerErr):
		observability.FromContext(r.Context()).WithError(err).Warn("provider request failed")
		httputil.WriteErrorDetail(w, http.StatusInternalServerError, providerErr.Operation+" failed", providerErr.Result.Data)
	default:
		observability.FromContext(r.Context()).WithError(err).Error("request failed")
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, "internal error")
	}
}

// writeProviderResult answers with the provider's response. Failures keep the
// provider body in the detail field for operators.
func writeProviderResult(w http.ResponseWriter, r *http.Request, res *billing.Result) {
	if res.OK {
		_ = httputil.WriteSuccess(w, res.Data)
		return
	}
	observability.FromContext(r.Context()).WithField("provider_status", res.Status).Warn("provider rejected request")
	httputil.WriteErrorDetail(w, http.StatusInternalServerError, "provider request failed", res.Data)
}
