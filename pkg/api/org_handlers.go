package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/shiftbill/pkg/httputil"
	"github.com/platinummonkey/shiftbill/pkg/subscriptions"
)

// OrgHandlers handles tenant-facing subscription requests
type OrgHandlers struct {
	service BillingService
}

// NewOrgHandlers creates a new OrgHandlers
func NewOrgHandlers(service BillingService) *OrgHandlers {
	return &OrgHandlers{service: service}
}

// RegisterRoutes registers organization routes
func (h *OrgHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/orgs", h.CreateOrganization).Methods("POST")
	router.HandleFunc("/api/orgs/{id}", h.GetOrganization).Methods("GET")
	router.HandleFunc("/api/orgs/{id}/members", h.AddMember).Methods("POST")
	router.HandleFunc("/api/orgs/{id}/checkout", h.StartCheckout).Methods("POST")
	router.HandleFunc("/api/orgs/{id}/usage", h.SyncUsage).Methods("POST")
	router.HandleFunc("/api/orgs/{id}/downgrade", h.Downgrade).Methods("POST")
}

// CreateOrganization registers a tenant on the free plan
func (h *OrgHandlers) CreateOrganization(w http.ResponseWriter, r *http.Request) {
	var req subscriptions.RegisterRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	org, err := h.service.Register(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = httputil.WriteCreated(w, org)
}

// GetOrganization returns a tenant and its billing state
func (h *OrgHandlers) GetOrganization(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	org, err := h.service.GetOrganization(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, org)
}

// AddMember adds a member to a tenant
func (h *OrgHandlers) AddMember(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var req subscriptions.AddMemberRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	member, err := h.service.AddMember(r.Context(), id, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = httputil.WriteCreated(w, member)
}

// StartCheckout records the subscription the client just created
func (h *OrgHandlers) StartCheckout(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var req subscriptions.CheckoutRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	org, err := h.service.StartCheckout(r.Context(), id, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, org)
}

type usageRequest struct {
	Workers int `json:"workers"`
	Shops   int `json:"shops"`
}

// SyncUsage pushes a new usage level to the provider. Provider failures are
// reported in the body, never as an error status.
func (h *OrgHandlers) SyncUsage(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var req usageRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Workers < 0 || req.Shops < 0 {
		httputil.WriteBadRequest(w, "workers and shops must not be negative")
		return
	}

	out, err := h.service.SyncUsage(r.Context(), id, req.Workers, req.Shops)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, out)
}

type downgradeRequest struct {
	Reason string `json:"reason,omitempty"`
}

type downgradeResponse struct {
	Downgraded bool        `json:"downgraded"`
	Suspended  bool        `json:"suspended"`
	Provider   interface{} `json:"provider,omitempty"`
}

// Downgrade suspends the tenant's subscription and moves it to the free plan
func (h *OrgHandlers) Downgrade(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var req downgradeRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	res, err := h.service.Downgrade(r.Context(), id, req.Reason)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if res == nil {
		_ = httputil.WriteSuccess(w, downgradeResponse{Downgraded: true})
		return
	}
	if !res.OK {
		writeProviderResult(w, r, res)
		return
	}
	_ = httputil.WriteSuccess(w, downgradeResponse{Downgraded: true, Suspended: true, Provider: res.Data})
}
