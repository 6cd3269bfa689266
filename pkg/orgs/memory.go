package orgs

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a process-local Store. Each method locks once, so every
// write is atomic like a single-row update.
type MemoryStore struct {
	mu       sync.RWMutex
	orgs     map[string]*Organization
	members  map[string]*Member
	payments map[string]*PaymentRecord // keyed by transaction id
	now      func() time.Time
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orgs:     make(map[string]*Organization),
		members:  make(map[string]*Member),
		payments: make(map[string]*PaymentRecord),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateOrganization registers a tenant on the free plan
func (s *MemoryStore) CreateOrganization(_ context.Context, org *Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if org.ID == "" {
		org.ID = uuid.NewString()
	}
	if _, ok := s.orgs[org.ID]; ok {
		return fmt.Errorf("organization %s: %w", org.ID, ErrAlreadyExists)
	}
	newOrganization(org)
	now := s.now()
	org.CreatedAt, org.UpdatedAt = now, now
	s.orgs[org.ID] = cloneOrg(org)
	return nil
}

// GetOrganization retrieves an organization by ID
func (s *MemoryStore) GetOrganization(_ context.Context, id string) (*Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	org, ok := s.orgs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneOrg(org), nil
}

// FindBySubscriptionID resolves the tenant owning a confirmed subscription
func (s *MemoryStore) FindBySubscriptionID(_ context.Context, subscriptionID string) (*Organization, error) {
	return s.find(func(o *Organization) bool {
		return subscriptionID != "" && o.SubscriptionID == subscriptionID
	})
}

// FindByPendingSubscriptionID resolves the tenant with an in-flight checkout
func (s *MemoryStore) FindByPendingSubscriptionID(_ context.Context, subscriptionID string) (*Organization, error) {
	return s.find(func(o *Organization) bool {
		return subscriptionID != "" && o.PendingSubscriptionID == subscriptionID
	})
}

func (s *MemoryStore) find(match func(*Organization) bool) (*Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *Organization
	for _, org := range s.orgs {
		if match(org) && (found == nil || org.UpdatedAt.After(found.UpdatedAt)) {
			found = org
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return cloneOrg(found), nil
}

// UpdateBilling applies a field-level update
func (s *MemoryStore) UpdateBilling(_ context.Context, id string, update *BillingUpdate) error {
	if update.IsEmpty() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	org, ok := s.orgs[id]
	if !ok {
		return ErrNotFound
	}
	if update.EventAt != nil && org.AppliedAfter(*update.EventAt) {
		return ErrStaleEvent
	}
	if update.SubscriptionID != nil && *update.SubscriptionID != "" {
		for otherID, other := range s.orgs {
			if otherID != id && other.SubscriptionID == *update.SubscriptionID {
				return fmt.Errorf("subscription already linked to another organization: %w", ErrAlreadyExists)
			}
		}
	}

	update.apply(org)
	org.UpdatedAt = s.now()
	return nil
}

// ListMembers retrieves all members of an organization
func (s *MemoryStore) ListMembers(_ context.Context, orgID string) ([]*Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var members []*Member
	for _, m := range s.members {
		if m.OrganizationID == orgID {
			c := *m
			members = append(members, &c)
		}
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].CreatedAt.Equal(members[j].CreatedAt) {
			return members[i].ID < members[j].ID
		}
		return members[i].CreatedAt.Before(members[j].CreatedAt)
	})
	return members, nil
}

// AddMember adds a member to an organization
func (s *MemoryStore) AddMember(_ context.Context, member *Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orgs[member.OrganizationID]; !ok {
		return fmt.Errorf("organization %s: %w", member.OrganizationID, ErrNotFound)
	}
	for _, m := range s.members {
		if m.OrganizationID == member.OrganizationID && strings.EqualFold(m.Email, member.Email) {
			return fmt.Errorf("member %s: %w", member.Email, ErrAlreadyExists)
		}
	}
	if member.ID == "" {
		member.ID = uuid.NewString()
	}
	if member.SubscriptionStatus == "" {
		member.SubscriptionStatus = StatusNone
	}
	now := s.now()
	member.CreatedAt, member.UpdatedAt = now, now
	c := *member
	s.members[member.ID] = &c
	return nil
}

// UpdateMemberStatus sets a member's denormalized subscription status
func (s *MemoryStore) UpdateMemberStatus(_ context.Context, memberID string, status SubscriptionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.members[memberID]
	if !ok {
		return ErrNotFound
	}
	m.SubscriptionStatus = status
	m.UpdatedAt = s.now()
	return nil
}

// CreatePaymentRecord appends a payment, skipping transaction ids already stored
func (s *MemoryStore) CreatePaymentRecord(_ context.Context, record *PaymentRecord) (bool, error) {
	if record.TransactionID == "" {
		return false, fmt.Errorf("transaction id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.payments[record.TransactionID]; ok {
		return false, nil
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	record.CreatedAt = s.now()
	c := *record
	s.payments[record.TransactionID] = &c
	return true, nil
}

// ListPaymentRecords lists an organization's payments, oldest first
func (s *MemoryStore) ListPaymentRecords(_ context.Context, orgID string) ([]*PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []*PaymentRecord
	for _, r := range s.payments {
		if r.OrganizationID == orgID {
			c := *r
			records = append(records, &c)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

// Ping always succeeds
func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

func cloneOrg(org *Organization) *Organization {
	c := *org
	if org.FreeWorkerLimit != nil {
		v := *org.FreeWorkerLimit
		c.FreeWorkerLimit = &v
	}
	c.ActivatedAt = copyTime(org.ActivatedAt)
	c.CancelledAt = copyTime(org.CancelledAt)
	c.SuspendedAt = copyTime(org.SuspendedAt)
	c.LastPaymentAt = copyTime(org.LastPaymentAt)
	c.LastPaymentFailedAt = copyTime(org.LastPaymentFailedAt)
	c.LastEventAt = copyTime(org.LastEventAt)
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

var _ Store = (*MemoryStore)(nil)
