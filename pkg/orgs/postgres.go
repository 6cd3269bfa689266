package orgs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

const orgColumns = `id, name, slug, plan, free_worker_limit, subscription_id, pending_subscription_id,
		       subscription_status, subscription_cycle, monthly_cost_cents, activated_at, cancelled_at,
		       suspended_at, last_payment_at, last_payment_cents, last_payment_currency,
		       last_payment_failed_at, last_event_at, created_at, updated_at`

const (
	insertOrgQuery = `
		INSERT INTO organizations (id, name, slug, plan, free_worker_limit, subscription_status, subscription_cycle)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`
	selectOrgByIDQuery      = `SELECT ` + orgColumns + ` FROM organizations WHERE id = $1`
	selectOrgBySubQuery     = `SELECT ` + orgColumns + ` FROM organizations WHERE subscription_id = $1`
	selectOrgByPendingQuery = `SELECT ` + orgColumns + ` FROM organizations WHERE pending_subscription_id = $1 ORDER BY updated_at DESC LIMIT 1`
	orgExistsQuery          = `SELECT EXISTS(SELECT 1 FROM organizations WHERE id = $1)`

	listMembersQuery = `
		SELECT id, organization_id, email, name, subscription_status, created_at, updated_at
		FROM members
		WHERE organization_id = $1
		ORDER BY created_at ASC
	`
	insertMemberQuery = `
		INSERT INTO members (id, organization_id, email, name, subscription_status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`
	updateMemberStatusQuery = `UPDATE members SET subscription_status = $1, updated_at = NOW() WHERE id = $2`

	insertPaymentQuery = `
		INSERT INTO payment_records (id, organization_id, subscription_id, transaction_id, amount_cents,
		                             currency, period, status, method)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (transaction_id) DO NOTHING
		RETURNING created_at
	`
	listPaymentsQuery = `
		SELECT id, organization_id, subscription_id, transaction_id, amount_cents, currency, period,
		       status, method, created_at
		FROM payment_records
		WHERE organization_id = $1
		ORDER BY created_at ASC
	`
)

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// CreateOrganization registers a tenant on the free plan
func (s *PostgresStore) CreateOrganization(ctx context.Context, org *Organization) error {
	if org.ID == "" {
		org.ID = uuid.NewString()
	}
	newOrganization(org)

	var limit sql.NullInt64
	if org.FreeWorkerLimit != nil {
		limit = sql.NullInt64{Int64: int64(*org.FreeWorkerLimit), Valid: true}
	}

	err := s.db.QueryRowContext(ctx, insertOrgQuery, org.ID, org.Name, org.Slug, org.Plan, limit,
		org.SubscriptionStatus, org.SubscriptionCycle).Scan(&org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("organization %s: %w", org.ID, ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create organization: %w", err)
	}
	return nil
}

// GetOrganization retrieves an organization by ID
func (s *PostgresStore) GetOrganization(ctx context.Context, id string) (*Organization, error) {
	return s.queryOrg(ctx, selectOrgByIDQuery, id)
}

// FindBySubscriptionID resolves the tenant owning a confirmed subscription
func (s *PostgresStore) FindBySubscriptionID(ctx context.Context, subscriptionID string) (*Organization, error) {
	if subscriptionID == "" {
		return nil, ErrNotFound
	}
	return s.queryOrg(ctx, selectOrgBySubQuery, subscriptionID)
}

// FindByPendingSubscriptionID resolves the tenant with an in-flight checkout
func (s *PostgresStore) FindByPendingSubscriptionID(ctx context.Context, subscriptionID string) (*Organization, error) {
	if subscriptionID == "" {
		return nil, ErrNotFound
	}
	return s.queryOrg(ctx, selectOrgByPendingQuery, subscriptionID)
}

func (s *PostgresStore) queryOrg(ctx context.Context, query string, arg any) (*Organization, error) {
	org, err := scanOrganization(s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return org, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrganization(row rowScanner) (*Organization, error) {
	org := &Organization{}
	var (
		limit                                                    sql.NullInt64
		subID, pendingID                                         sql.NullString
		activated, cancelled, suspended, paid, failed, lastEvent sql.NullTime
	)
	err := row.Scan(
		&org.ID, &org.Name, &org.Slug, &org.Plan, &limit, &subID, &pendingID,
		&org.SubscriptionStatus, &org.SubscriptionCycle, &org.MonthlyCostCents,
		&activated, &cancelled, &suspended, &paid, &org.LastPaymentCents, &org.LastPaymentCurrency,
		&failed, &lastEvent, &org.CreatedAt, &org.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if limit.Valid {
		v := int(limit.Int64)
		org.FreeWorkerLimit = &v
	}
	org.SubscriptionID = subID.String
	org.PendingSubscriptionID = pendingID.String
	org.ActivatedAt = timePtr(activated)
	org.CancelledAt = timePtr(cancelled)
	org.SuspendedAt = timePtr(suspended)
	org.LastPaymentAt = timePtr(paid)
	org.LastPaymentFailedAt = timePtr(failed)
	org.LastEventAt = timePtr(lastEvent)
	return org, nil
}

// UpdateBilling applies a field-level update in a single statement
func (s *PostgresStore) UpdateBilling(ctx context.Context, id string, update *BillingUpdate) error {
	if update.IsEmpty() {
		return nil
	}
	b := &updateBuilder{}
	if update.Plan != nil {
		b.set("plan", *update.Plan)
	}
	if update.FreeWorkerLimit != nil {
		b.set("free_worker_limit", *update.FreeWorkerLimit)
	}
	if update.SubscriptionID != nil {
		b.set("subscription_id", nullString(*update.SubscriptionID))
	}
	if update.ClearPending {
		b.raw("pending_subscription_id = NULL")
	} else if update.PendingSubscriptionID != nil {
		b.set("pending_subscription_id", nullString(*update.PendingSubscriptionID))
	}
	if update.Status != nil {
		b.set("subscription_status", *update.Status)
	}
	if update.Cycle != nil {
		b.set("subscription_cycle", *update.Cycle)
	}
	if update.MonthlyCostCents != nil {
		b.set("monthly_cost_cents", *update.MonthlyCostCents)
	}
	b.setTime("activated_at", update.ActivatedAt)
	b.setTime("cancelled_at", update.CancelledAt)
	b.setTime("suspended_at", update.SuspendedAt)
	if update.LastPaymentAt != nil {
		// only a newer payment replaces the recorded one; SET sees the old row
		n := b.arg(update.LastPaymentAt.UTC())
		newer := fmt.Sprintf("last_payment_at IS NULL OR last_payment_at <= $%d", n)
		b.raw(fmt.Sprintf("last_payment_at = GREATEST(last_payment_at, $%d)", n))
		if update.LastPaymentCents != nil {
			b.raw(fmt.Sprintf("last_payment_cents = CASE WHEN %s THEN $%d ELSE last_payment_cents END",
				newer, b.arg(*update.LastPaymentCents)))
		}
		if update.LastPaymentCurrency != nil {
			b.raw(fmt.Sprintf("last_payment_currency = CASE WHEN %s THEN $%d ELSE last_payment_currency END",
				newer, b.arg(*update.LastPaymentCurrency)))
		}
	} else {
		if update.LastPaymentCents != nil {
			b.set("last_payment_cents", *update.LastPaymentCents)
		}
		if update.LastPaymentCurrency != nil {
			b.set("last_payment_currency", *update.LastPaymentCurrency)
		}
	}
	b.setTime("last_payment_failed_at", update.LastPaymentFailedAt)
	b.setTime("last_event_at", update.EventAt)
	b.raw("updated_at = NOW()")

	query, args := b.build(id, update.EventAt)
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("subscription already linked to another organization: %w", ErrAlreadyExists)
		}
		return fmt.Errorf("failed to update billing: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}
	if update.EventAt == nil {
		return ErrNotFound
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, orgExistsQuery, id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check organization: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrStaleEvent
}

type updateBuilder struct {
	clauses []string
	args    []any
}

func (b *updateBuilder) set(column string, value any) {
	b.clauses = append(b.clauses, fmt.Sprintf("%s = $%d", column, b.arg(value)))
}

// arg binds a value and returns its placeholder number
func (b *updateBuilder) arg(value any) int {
	b.args = append(b.args, value)
	return len(b.args)
}

func (b *updateBuilder) setTime(column string, t *time.Time) {
	if t != nil {
		b.set(column, t.UTC())
	}
}

func (b *updateBuilder) raw(clause string) {
	b.clauses = append(b.clauses, clause)
}

// build renders the UPDATE, guarding on the last event time when eventAt is set
func (b *updateBuilder) build(id string, eventAt *time.Time) (string, []any) {
	args := append(b.args, id)
	query := fmt.Sprintf("UPDATE organizations SET %s WHERE id = $%d", strings.Join(b.clauses, ", "), len(args))
	if eventAt != nil {
		args = append(args, eventAt.UTC())
		query += fmt.Sprintf(" AND (last_event_at IS NULL OR last_event_at <= $%d)", len(args))
	}
	return query, args
}

// ListMembers retrieves all members of an organization
func (s *PostgresStore) ListMembers(ctx context.Context, orgID string) ([]*Member, error) {
	rows, err := s.db.QueryContext(ctx, listMembersQuery, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []*Member
	for rows.Next() {
		m := &Member{}
		if err := rows.Scan(&m.ID, &m.OrganizationID, &m.Email, &m.Name, &m.SubscriptionStatus,
			&m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	return members, nil
}

// AddMember adds a member to an organization
func (s *PostgresStore) AddMember(ctx context.Context, member *Member) error {
	if member.ID == "" {
		member.ID = uuid.NewString()
	}
	if member.SubscriptionStatus == "" {
		member.SubscriptionStatus = StatusNone
	}
	err := s.db.QueryRowContext(ctx, insertMemberQuery, member.ID, member.OrganizationID, member.Email,
		member.Name, member.SubscriptionStatus).Scan(&member.CreatedAt, &member.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("member %s: %w", member.Email, ErrAlreadyExists)
		}
		return fmt.Errorf("failed to add member: %w", err)
	}
	return nil
}

// UpdateMemberStatus sets a member's denormalized subscription status
func (s *PostgresStore) UpdateMemberStatus(ctx context.Context, memberID string, status SubscriptionStatus) error {
	result, err := s.db.ExecContext(ctx, updateMemberStatusQuery, status, memberID)
	if err != nil {
		return fmt.Errorf("failed to update member status: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreatePaymentRecord appends a payment, skipping transaction ids already stored
func (s *PostgresStore) CreatePaymentRecord(ctx context.Context, record *PaymentRecord) (bool, error) {
	if record.TransactionID == "" {
		return false, fmt.Errorf("transaction id is required")
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	err := s.db.QueryRowContext(ctx, insertPaymentQuery, record.ID, record.OrganizationID,
		record.SubscriptionID, record.TransactionID, record.AmountCents, record.Currency,
		record.Period, record.Status, record.Method).Scan(&record.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to create payment record: %w", err)
	}
	return true, nil
}

// ListPaymentRecords lists an organization's payments, oldest first
func (s *PostgresStore) ListPaymentRecords(ctx context.Context, orgID string) ([]*PaymentRecord, error) {
	rows, err := s.db.QueryContext(ctx, listPaymentsQuery, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payment records: %w", err)
	}
	defer rows.Close()

	var records []*PaymentRecord
	for rows.Next() {
		r := &PaymentRecord{}
		if err := rows.Scan(&r.ID, &r.OrganizationID, &r.SubscriptionID, &r.TransactionID,
			&r.AmountCents, &r.Currency, &r.Period, &r.Status, &r.Method, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list payment records: %w", err)
	}
	return records, nil
}

// Ping checks database connectivity
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

var _ Store = (*PostgresStore)(nil)
