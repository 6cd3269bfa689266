package orgs

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/platinummonkey/shiftbill/pkg/pricing"
)

var (
	// ErrNotFound is returned when an organization or member does not exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned on a uniqueness conflict
	ErrAlreadyExists = errors.New("already exists")
	// ErrStaleEvent is returned when an update is older than the last applied event
	ErrStaleEvent = errors.New("stale event")
)

// SubscriptionStatus is the tenant-side view of the provider subscription
type SubscriptionStatus string

const (
	StatusNone      SubscriptionStatus = "none"
	StatusActive    SubscriptionStatus = "active"
	StatusSuspended SubscriptionStatus = "suspended"
	StatusCancelled SubscriptionStatus = "cancelled"
)

// Valid reports whether s is a known status
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case StatusNone, StatusActive, StatusSuspended, StatusCancelled:
		return true
	}
	return false
}

// Organization is a billed tenant
type Organization struct {
	ID                    string             `json:"id"`
	Name                  string             `json:"name"`
	Slug                  string             `json:"slug"`
	Plan                  pricing.Tier       `json:"plan"`
	FreeWorkerLimit       *int               `json:"free_worker_limit,omitempty"`
	SubscriptionID        string             `json:"subscription_id,omitempty"`
	PendingSubscriptionID string             `json:"pending_subscription_id,omitempty"`
	SubscriptionStatus    SubscriptionStatus `json:"subscription_status"`
	SubscriptionCycle     pricing.Cycle      `json:"subscription_cycle"`
	MonthlyCostCents      int64              `json:"monthly_cost_cents"`
	ActivatedAt           *time.Time         `json:"activated_at,omitempty"`
	CancelledAt           *time.Time         `json:"cancelled_at,omitempty"`
	SuspendedAt           *time.Time         `json:"suspended_at,omitempty"`
	LastPaymentAt         *time.Time         `json:"last_payment_at,omitempty"`
	LastPaymentCents      int64              `json:"last_payment_cents,omitempty"`
	LastPaymentCurrency   string             `json:"last_payment_currency,omitempty"`
	LastPaymentFailedAt   *time.Time         `json:"last_payment_failed_at,omitempty"`
	LastEventAt           *time.Time         `json:"last_event_at,omitempty"`
	CreatedAt             time.Time          `json:"created_at"`
	UpdatedAt             time.Time          `json:"updated_at"`
}

// CycleAnchor returns the start of the current billing period: the later of
// activation and last payment. Zero when neither happened.
func (o *Organization) CycleAnchor() time.Time {
	var anchor time.Time
	if o.ActivatedAt != nil {
		anchor = *o.ActivatedAt
	}
	if o.LastPaymentAt != nil && o.LastPaymentAt.After(anchor) {
		anchor = *o.LastPaymentAt
	}
	return anchor
}

// AppliedAfter reports whether an event at t is older than the last applied one
func (o *Organization) AppliedAfter(t time.Time) bool {
	return !t.IsZero() && o.LastEventAt != nil && o.LastEventAt.After(t)
}

// Member is a user profile belonging to one organization
type Member struct {
	ID                 string             `json:"id"`
	OrganizationID     string             `json:"organization_id"`
	Email              string             `json:"email"`
	Name               string             `json:"name,omitempty"`
	SubscriptionStatus SubscriptionStatus `json:"subscription_status"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// PaymentRecord is an append-only entry for one completed charge
type PaymentRecord struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	SubscriptionID string    `json:"subscription_id"`
	TransactionID  string    `json:"transaction_id"`
	AmountCents    int64     `json:"amount_cents"`
	Currency       string    `json:"currency"`
	Period         string    `json:"period"`
	Status         string    `json:"status"`
	Method         string    `json:"method"`
	CreatedAt      time.Time `json:"created_at"`
}

// PaymentPeriod returns the year-month bucket of t
func PaymentPeriod(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// BillingUpdate is a field-level update of an organization's billing state.
// Nil fields are left untouched.
type BillingUpdate struct {
	Plan                  *pricing.Tier
	FreeWorkerLimit       *int
	SubscriptionID        *string
	PendingSubscriptionID *string
	// ClearPending clears the pending subscription id; it wins over PendingSubscriptionID
	ClearPending        bool
	Status              *SubscriptionStatus
	Cycle               *pricing.Cycle
	MonthlyCostCents    *int64
	ActivatedAt         *time.Time
	CancelledAt         *time.Time
	SuspendedAt         *time.Time
	// LastPaymentAt, when set, only replaces an older recorded payment and
	// carries LastPaymentCents and LastPaymentCurrency with it
	LastPaymentAt       *time.Time
	LastPaymentCents    *int64
	LastPaymentCurrency *string
	LastPaymentFailedAt *time.Time
	// EventAt enables the ordering guard and is recorded as the last event time
	EventAt *time.Time
}

// IsEmpty reports whether the update changes nothing
func (u *BillingUpdate) IsEmpty() bool {
	return u == nil || (u.Plan == nil && u.FreeWorkerLimit == nil && u.SubscriptionID == nil &&
		u.PendingSubscriptionID == nil && !u.ClearPending && u.Status == nil && u.Cycle == nil &&
		u.MonthlyCostCents == nil && u.ActivatedAt == nil && u.CancelledAt == nil &&
		u.SuspendedAt == nil && u.LastPaymentAt == nil && u.LastPaymentCents == nil &&
		u.LastPaymentCurrency == nil && u.LastPaymentFailedAt == nil && u.EventAt == nil)
}

// apply copies the update onto org, used by the in-memory store
func (u *BillingUpdate) apply(org *Organization) {
	if u.Plan != nil {
		org.Plan = *u.Plan
	}
	if u.FreeWorkerLimit != nil {
		v := *u.FreeWorkerLimit
		org.FreeWorkerLimit = &v
	}
	if u.SubscriptionID != nil {
		org.SubscriptionID = *u.SubscriptionID
	}
	if u.PendingSubscriptionID != nil {
		org.PendingSubscriptionID = *u.PendingSubscriptionID
	}
	if u.ClearPending {
		org.PendingSubscriptionID = ""
	}
	if u.Status != nil {
		org.SubscriptionStatus = *u.Status
	}
	if u.Cycle != nil {
		org.SubscriptionCycle = *u.Cycle
	}
	if u.MonthlyCostCents != nil {
		org.MonthlyCostCents = *u.MonthlyCostCents
	}
	org.ActivatedAt = pickTime(u.ActivatedAt, org.ActivatedAt)
	org.CancelledAt = pickTime(u.CancelledAt, org.CancelledAt)
	org.SuspendedAt = pickTime(u.SuspendedAt, org.SuspendedAt)
	org.LastPaymentFailedAt = pickTime(u.LastPaymentFailedAt, org.LastPaymentFailedAt)
	org.LastEventAt = pickTime(u.EventAt, org.LastEventAt)
	if !u.newerPayment(org.LastPaymentAt) {
		return
	}
	org.LastPaymentAt = pickTime(u.LastPaymentAt, org.LastPaymentAt)
	if u.LastPaymentCents != nil {
		org.LastPaymentCents = *u.LastPaymentCents
	}
	if u.LastPaymentCurrency != nil {
		org.LastPaymentCurrency = *u.LastPaymentCurrency
	}
}

// newerPayment reports whether the update's payment fields should replace the
// recorded ones. The latest payment wins regardless of delivery order.
func (u *BillingUpdate) newerPayment(current *time.Time) bool {
	return u.LastPaymentAt == nil || current == nil || !current.After(*u.LastPaymentAt)
}

func pickTime(next, current *time.Time) *time.Time {
	if next == nil {
		return current
	}
	t := next.UTC()
	return &t
}

// Store persists tenants, members and payment records
type Store interface {
	CreateOrganization(ctx context.Context, org *Organization) error
	GetOrganization(ctx context.Context, id string) (*Organization, error)
	FindBySubscriptionID(ctx context.Context, subscriptionID string) (*Organization, error)
	FindByPendingSubscriptionID(ctx context.Context, subscriptionID string) (*Organization, error)
	UpdateBilling(ctx context.Context, id string, update *BillingUpdate) error

	ListMembers(ctx context.Context, orgID string) ([]*Member, error)
	AddMember(ctx context.Context, member *Member) error
	UpdateMemberStatus(ctx context.Context, memberID string, status SubscriptionStatus) error

	// CreatePaymentRecord appends a payment. A record whose transaction id was
	// already stored is not written again and created is false.
	CreatePaymentRecord(ctx context.Context, record *PaymentRecord) (created bool, err error)
	ListPaymentRecords(ctx context.Context, orgID string) ([]*PaymentRecord, error)

	Ping(ctx context.Context) error
}

// newOrganization fills registration defaults
func newOrganization(org *Organization) {
	if org.Slug == "" {
		org.Slug = generateSlug(org.Name)
	}
	if org.Plan == "" {
		org.Plan = pricing.TierFree
	}
	if org.SubscriptionStatus == "" {
		org.SubscriptionStatus = StatusNone
	}
	if org.SubscriptionCycle == "" {
		org.SubscriptionCycle = pricing.CycleMonthly
	}
}

// generateSlug derives a URL-safe slug from an organization name
func generateSlug(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = strings.ReplaceAll(slug, " ", "-")
	slug = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			return r
		}
		return -1
	}, slug)
	return slug
}
