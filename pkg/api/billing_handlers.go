package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/shiftbill/pkg/billing"
	"github.com/platinummonkey/shiftbill/pkg/httputil"
	"github.com/platinummonkey/shiftbill/pkg/observability"
	"github.com/platinummonkey/shiftbill/pkg/subscriptions"
)

// BillingHandlers handles provider-facing billing requests
type BillingHandlers struct {
	service BillingService
	lookup  SubscriptionLookup
}

// NewBillingHandlers creates a new BillingHandlers. lookup may be nil.
func NewBillingHandlers(service BillingService, lookup SubscriptionLookup) *BillingHandlers {
	return &BillingHandlers{
		service: service,
		lookup:  lookup,
	}
}

// RegisterRoutes registers billing routes
func (h *BillingHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/billing/webhook", h.HandleWebhook).Methods("POST")
	router.HandleFunc("/api/billing/subscription/sync", h.SyncSubscription).Methods("POST")
	router.HandleFunc("/api/billing/subscription/cancel", h.CancelSubscription).Methods("POST")
	router.HandleFunc("/api/billing/plans/ensure", h.EnsurePlans).Methods("POST")
	router.HandleFunc("/api/billing/quote", h.Quote).Methods("POST")
	if h.lookup != nil {
		router.HandleFunc("/api/billing/subscription/{id}", h.GetSubscription).Methods("GET")
	}
}

type webhookResponse struct {
	Received bool              `json:"received"`
	EventID  string            `json:"event_id,omitempty"`
	Type     billing.EventType `json:"event_type,omitempty"`
	OrgID    string            `json:"org_id,omitempty"`
	Action   string            `json:"action,omitempty"`
	Skipped  bool              `json:"skipped"`
	Reason   string            `json:"reason,omitempty"`
}

// HandleWebhook verifies and applies a provider event. The raw body is passed
// through untouched for signature verification.
func (h *BillingHandlers) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := httputil.ReadBody(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if len(body) == 0 {
		httputil.WriteBadRequest(w, "empty webhook body")
		return
	}

	outcome, err := h.service.HandleWebhook(r.Context(), billing.HeadersFromRequest(r.Header), body)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	observability.FromContext(r.Context()).WithFields(logrus.Fields{
		"event_id":   outcome.EventID,
		"event_type": outcome.EventType,
		"skipped":    outcome.Skipped,
		"reason":     outcome.Reason,
	}).Debug("webhook acknowledged")

	_ = httputil.WriteSuccess(w, webhookResponse{
		Received: true,
		EventID:  outcome.EventID,
		Type:     outcome.EventType,
		OrgID:    outcome.OrgID,
		Action:   outcome.Action,
		Skipped:  outcome.Skipped,
		Reason:   outcome.Reason,
	})
}

// SyncSubscription forwards a quantity or lifecycle command to the provider
func (h *BillingHandlers) SyncSubscription(w http.ResponseWriter, r *http.Request) {
	var req subscriptions.SyncRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	res, err := h.service.ApplyAction(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeProviderResult(w, r, res)
}

type cancelRequest struct {
	SubscriptionID string `json:"subscriptionId"`
	Reason         string `json:"reason,omitempty"`
}

// CancelSubscription cancels a subscription at the provider
func (h *BillingHandlers) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	res, err := h.service.Cancel(r.Context(), req.SubscriptionID, req.Reason)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeProviderResult(w, r, res)
}

// EnsurePlans creates any missing current-version plans. Safe to call repeatedly.
func (h *BillingHandlers) EnsurePlans(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.EnsurePlans(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, result)
}

// Quote prices a usage level
func (h *BillingHandlers) Quote(w http.ResponseWriter, r *http.Request) {
	var req subscriptions.QuoteRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	quote, err := h.service.Quote(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, quote)
}

// GetSubscription returns the provider's view of a subscription
func (h *BillingHandlers) GetSubscription(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	res, err := h.lookup.GetSubscription(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeProviderResult(w, r, res)
}
