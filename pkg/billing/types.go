package billing

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Result is the outcome of a provider command
type Result struct {
	OK     bool   `json:"ok"`
	Status int    `json:"status"`
	Data   any    `json:"data,omitempty"`
	raw    []byte
}

// Decode unmarshals the raw provider payload into v
func (r *Result) Decode(v any) error {
	if len(r.raw) == 0 {
		return fmt.Errorf("empty provider response")
	}
	return json.Unmarshal(r.raw, v)
}

// String describes the result for logs and wrapped errors
func (r *Result) String() string {
	return fmt.Sprintf("provider returned status %d: %s", r.Status, strings.TrimSpace(string(r.raw)))
}

// NewResult builds a Result from a provider response, keeping the body parsed
// when it is JSON and raw otherwise
func NewResult(status int, body []byte) *Result {
	res := &Result{
		OK:     status >= 200 && status < 300,
		Status: status,
		raw:    body,
	}
	if len(body) == 0 {
		return res
	}
	var parsed any
	if err := json.Unmarshal(body, &parsed); err == nil {
		res.Data = parsed
	} else {
		res.Data = string(body)
	}
	return res
}

// Action is a subscription lifecycle command
type Action string

const (
	ActionSuspend  Action = "suspend"
	ActionActivate Action = "activate"
	ActionCancel   Action = "cancel"
)

// Provider webhook header names
const (
	HeaderAuthAlgo         = "Paypal-Auth-Algo"
	HeaderCertURL          = "Paypal-Cert-Url"
	HeaderTransmissionID   = "Paypal-Transmission-Id"
	HeaderTransmissionSig  = "Paypal-Transmission-Sig"
	HeaderTransmissionTime = "Paypal-Transmission-Time"
)

// WebhookHeaders carries the signature headers of an inbound webhook
type WebhookHeaders struct {
	AuthAlgo         string
	CertURL          string
	TransmissionID   string
	TransmissionSig  string
	TransmissionTime string
}

// HeadersFromRequest reads the signature headers case-insensitively
func HeadersFromRequest(h http.Header) WebhookHeaders {
	return WebhookHeaders{
		AuthAlgo:         h.Get(HeaderAuthAlgo),
		CertURL:          h.Get(HeaderCertURL),
		TransmissionID:   h.Get(HeaderTransmissionID),
		TransmissionSig:  h.Get(HeaderTransmissionSig),
		TransmissionTime: h.Get(HeaderTransmissionTime),
	}
}

// Complete reports whether every signature header is present
func (h WebhookHeaders) Complete() bool {
	return h.AuthAlgo != "" && h.CertURL != "" && h.TransmissionID != "" &&
		h.TransmissionSig != "" && h.TransmissionTime != ""
}

// EventType is a provider webhook event type
type EventType string

const (
	EventSubscriptionActivated   EventType = "BILLING.SUBSCRIPTION.ACTIVATED"
	EventSubscriptionReactivated EventType = "BILLING.SUBSCRIPTION.RE-ACTIVATED"
	EventSubscriptionCancelled   EventType = "BILLING.SUBSCRIPTION.CANCELLED"
	EventSubscriptionSuspended   EventType = "BILLING.SUBSCRIPTION.SUSPENDED"
	EventPaymentFailed           EventType = "BILLING.SUBSCRIPTION.PAYMENT.FAILED"
	EventPaymentCompleted        EventType = "PAYMENT.SALE.COMPLETED"
)

// WebhookEvent is an inbound provider event
type WebhookEvent struct {
	ID           string          `json:"id"`
	EventType    EventType       `json:"event_type"`
	CreateTime   string          `json:"create_time"`
	ResourceType string          `json:"resource_type"`
	Summary      string          `json:"summary,omitempty"`
	Resource     json.RawMessage `json:"resource"`
}

// EventResource holds the resource fields used for reconciliation
type EventResource struct {
	ID                 string      `json:"id"`
	BillingAgreementID string      `json:"billing_agreement_id,omitempty"`
	Status             string      `json:"status,omitempty"`
	State              string      `json:"state,omitempty"` // sales report their status here
	StatusChangeNote   string      `json:"status_change_note,omitempty"`
	PaymentMode        string      `json:"payment_mode,omitempty"`
	Amount             *SaleAmount `json:"amount,omitempty"`
	CreateTime         string      `json:"create_time,omitempty"`
}

// SaleAmount is the amount of a completed sale
type SaleAmount struct {
	Total    string `json:"total"`
	Currency string `json:"currency"`
}

// ParseWebhookEvent parses a raw webhook body
func ParseWebhookEvent(body []byte) (*WebhookEvent, error) {
	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("failed to parse webhook event: %w", err)
	}
	if event.EventType == "" {
		return nil, fmt.Errorf("webhook event is missing event_type")
	}
	return &event, nil
}

// ParsedResource decodes the event resource
func (e *WebhookEvent) ParsedResource() (*EventResource, error) {
	var res EventResource
	if len(e.Resource) == 0 {
		return &res, nil
	}
	if err := json.Unmarshal(e.Resource, &res); err != nil {
		return nil, fmt.Errorf("failed to parse event resource: %w", err)
	}
	return &res, nil
}

// SubscriptionID returns the subscription the event refers to. Sale events
// reference it through the billing agreement id.
func (e *WebhookEvent) SubscriptionID() string {
	res, err := e.ParsedResource()
	if err != nil {
		return ""
	}
	if strings.HasPrefix(string(e.EventType), "PAYMENT.SALE.") {
		return res.BillingAgreementID
	}
	return res.ID
}

// OccurredAt returns the event creation time, zero when absent or malformed
func (e *WebhookEvent) OccurredAt() time.Time {
	if e.CreateTime == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, e.CreateTime)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
