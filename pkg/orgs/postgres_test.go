package orgs

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/shiftbill/pkg/pricing"
)

// Test helper to create a new mock store
func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock, *sql.DB) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return NewPostgresStore(db), mock, db
}

var orgColumnNames = []string{
	"id", "name", "slug", "plan", "free_worker_limit", "subscription_id", "pending_subscription_id",
	"subscription_status", "subscription_cycle", "monthly_cost_cents", "activated_at", "cancelled_at",
	"suspended_at", "last_payment_at", "last_payment_cents", "last_payment_currency",
	"last_payment_failed_at", "last_event_at", "created_at", "updated_at",
}

func TestPostgresCreateOrganization(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()
	ctx := context.Background()

	t.Run("defaults and promo limit", func(t *testing.T) {
		now := time.Now()
		limit := 10
		org := &Organization{ID: "org-1", Name: "Corner Bakery", FreeWorkerLimit: &limit}

		mock.ExpectQuery(regexp.QuoteMeta(insertOrgQuery)).
			WithArgs("org-1", "Corner Bakery", "corner-bakery", pricing.TierFree, int64(10), StatusNone, pricing.CycleMonthly).
			WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

		require.NoError(t, store.CreateOrganization(ctx, org))
		assert.Equal(t, pricing.TierFree, org.Plan)
		assert.Equal(t, StatusNone, org.SubscriptionStatus)
		assert.Equal(t, now, org.CreatedAt)
	})

	t.Run("generates id", func(t *testing.T) {
		now := time.Now()
		org := &Organization{Name: "Night Shift"}

		mock.ExpectQuery(regexp.QuoteMeta(insertOrgQuery)).
			WithArgs(sqlmock.AnyArg(), "Night Shift", "night-shift", pricing.TierFree, nil, StatusNone, pricing.CycleMonthly).
			WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

		require.NoError(t, store.CreateOrganization(ctx, org))
		assert.NotEmpty(t, org.ID)
	})

	t.Run("duplicate id", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(insertOrgQuery)).
			WillReturnError(&pq.Error{Code: "23505"})

		err := store.CreateOrganization(ctx, &Organization{ID: "org-1", Name: "Again"})
		assert.ErrorIs(t, err, ErrAlreadyExists)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetOrganization(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
		rows := sqlmock.NewRows(orgColumnNames).AddRow(
			"org-1", "Corner Bakery", "corner-bakery", "standard", int64(8), "I-SUB1", nil,
			"active", "yearly", int64(1900), now, nil,
			nil, now, int64(19000), "USD",
			nil, now, now, now,
		)
		mock.ExpectQuery(regexp.QuoteMeta(selectOrgByIDQuery)).WithArgs("org-1").WillReturnRows(rows)

		org, err := store.GetOrganization(ctx, "org-1")
		require.NoError(t, err)
		assert.Equal(t, pricing.TierStandard, org.Plan)
		require.NotNil(t, org.FreeWorkerLimit)
		assert.Equal(t, 8, *org.FreeWorkerLimit)
		assert.Equal(t, "I-SUB1", org.SubscriptionID)
		assert.Empty(t, org.PendingSubscriptionID)
		assert.Equal(t, StatusActive, org.SubscriptionStatus)
		assert.Equal(t, pricing.CycleYearly, org.SubscriptionCycle)
		require.NotNil(t, org.ActivatedAt)
		assert.Nil(t, org.CancelledAt)
		assert.Equal(t, now, org.CycleAnchor())
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(selectOrgByIDQuery)).WithArgs("missing").WillReturnError(sql.ErrNoRows)

		_, err := store.GetOrganization(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresFindBySubscription(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()
	ctx := context.Background()
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(selectOrgBySubQuery)).WithArgs("I-SUB1").WillReturnError(sql.ErrNoRows)
	_, err := store.FindBySubscriptionID(ctx, "I-SUB1")
	assert.ErrorIs(t, err, ErrNotFound)

	rows := sqlmock.NewRows(orgColumnNames).AddRow(
		"org-1", "Corner Bakery", "corner-bakery", "free", nil, nil, "I-SUB1",
		"none", "monthly", int64(0), nil, nil,
		nil, nil, int64(0), "",
		nil, nil, now, now,
	)
	mock.ExpectQuery(regexp.QuoteMeta(selectOrgByPendingQuery)).WithArgs("I-SUB1").WillReturnRows(rows)
	org, err := store.FindByPendingSubscriptionID(ctx, "I-SUB1")
	require.NoError(t, err)
	assert.Equal(t, "I-SUB1", org.PendingSubscriptionID)
	assert.Nil(t, org.FreeWorkerLimit)

	// empty ids never hit the database
	_, err = store.FindBySubscriptionID(ctx, "")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateBilling(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()
	ctx := context.Background()

	t.Run("activation clears pending and guards on event time", func(t *testing.T) {
		status := StatusActive
		subID := "I-SUB1"
		at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

		mock.ExpectExec(regexp.QuoteMeta(
			"UPDATE organizations SET subscription_id = $1, pending_subscription_id = NULL, subscription_status = $2, "+
				"activated_at = $3, last_event_at = $4, updated_at = NOW() "+
				"WHERE id = $5 AND (last_event_at IS NULL OR last_event_at <= $6)")).
			WithArgs("I-SUB1", "active", at, at, "org-1", at).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := store.UpdateBilling(ctx, "org-1", &BillingUpdate{
			SubscriptionID: &subID,
			ClearPending:   true,
			Status:         &status,
			ActivatedAt:    &at,
			EventAt:        &at,
		})
		require.NoError(t, err)
	})

	t.Run("stale event", func(t *testing.T) {
		status := StatusSuspended
		at := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

		mock.ExpectExec(regexp.QuoteMeta("UPDATE organizations SET subscription_status = $1")).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(regexp.QuoteMeta(orgExistsQuery)).WithArgs("org-1").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		err := store.UpdateBilling(ctx, "org-1", &BillingUpdate{Status: &status, SuspendedAt: &at, EventAt: &at})
		assert.ErrorIs(t, err, ErrStaleEvent)
	})

	t.Run("missing organization with event time", func(t *testing.T) {
		status := StatusSuspended
		at := time.Now()

		mock.ExpectExec(regexp.QuoteMeta("UPDATE organizations SET subscription_status = $1")).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(regexp.QuoteMeta(orgExistsQuery)).WithArgs("ghost").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		err := store.UpdateBilling(ctx, "ghost", &BillingUpdate{Status: &status, EventAt: &at})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("missing organization without event time", func(t *testing.T) {
		cost := int64(1900)
		mock.ExpectExec(regexp.QuoteMeta("UPDATE organizations SET monthly_cost_cents = $1, updated_at = NOW() WHERE id = $2")).
			WithArgs(int64(1900), "ghost").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := store.UpdateBilling(ctx, "ghost", &BillingUpdate{MonthlyCostCents: &cost})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("payment fields only replace an older payment", func(t *testing.T) {
		paid := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
		cents := int64(1900)
		currency := "USD"

		mock.ExpectExec(regexp.QuoteMeta(
			"UPDATE organizations SET last_payment_at = GREATEST(last_payment_at, $1), "+
				"last_payment_cents = CASE WHEN last_payment_at IS NULL OR last_payment_at <= $1 THEN $2 ELSE last_payment_cents END, "+
				"last_payment_currency = CASE WHEN last_payment_at IS NULL OR last_payment_at <= $1 THEN $3 ELSE last_payment_currency END, "+
				"updated_at = NOW() WHERE id = $4")).
			WithArgs(paid, int64(1900), "USD", "org-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := store.UpdateBilling(ctx, "org-1", &BillingUpdate{
			LastPaymentAt:       &paid,
			LastPaymentCents:    &cents,
			LastPaymentCurrency: &currency,
		})
		require.NoError(t, err)
	})

	t.Run("empty update is a no-op", func(t *testing.T) {
		require.NoError(t, store.UpdateBilling(ctx, "org-1", &BillingUpdate{}))
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMembers(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()
	ctx := context.Background()
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(insertMemberQuery)).
		WithArgs("m-1", "org-1", "ana@example.com", "Ana", StatusNone).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	require.NoError(t, store.AddMember(ctx, &Member{ID: "m-1", OrganizationID: "org-1", Email: "ana@example.com", Name: "Ana"}))

	mock.ExpectQuery(regexp.QuoteMeta(insertMemberQuery)).WillReturnError(&pq.Error{Code: "23505"})
	err := store.AddMember(ctx, &Member{ID: "m-2", OrganizationID: "org-1", Email: "ana@example.com"})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	mock.ExpectQuery(regexp.QuoteMeta(listMembersQuery)).WithArgs("org-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "organization_id", "email", "name", "subscription_status", "created_at", "updated_at"}).
			AddRow("m-1", "org-1", "ana@example.com", "Ana", "active", now, now).
			AddRow("m-3", "org-1", "bo@example.com", "", "active", now, now))
	members, err := store.ListMembers(ctx, "org-1")
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, StatusActive, members[1].SubscriptionStatus)

	mock.ExpectExec(regexp.QuoteMeta(updateMemberStatusQuery)).WithArgs("cancelled", "m-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.UpdateMemberStatus(ctx, "m-1", StatusCancelled))

	mock.ExpectExec(regexp.QuoteMeta(updateMemberStatusQuery)).WithArgs("cancelled", "gone").
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, store.UpdateMemberStatus(ctx, "gone", StatusCancelled), ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCreatePaymentRecord(t *testing.T) {
	store, mock, db := newMockStore(t)
	defer db.Close()
	ctx := context.Background()

	record := func() *PaymentRecord {
		return &PaymentRecord{
			ID:             "pay-1",
			OrganizationID: "org-1",
			SubscriptionID: "I-SUB1",
			TransactionID:  "SALE-9",
			AmountCents:    1900,
			Currency:       "USD",
			Period:         "2026-03",
			Status:         "completed",
			Method:         "paypal",
		}
	}

	mock.ExpectQuery(regexp.QuoteMeta(insertPaymentQuery)).
		WithArgs("pay-1", "org-1", "I-SUB1", "SALE-9", int64(1900), "USD", "2026-03", "completed", "paypal").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	created, err := store.CreatePaymentRecord(ctx, record())
	require.NoError(t, err)
	assert.True(t, created)

	// ON CONFLICT DO NOTHING returns no row for a redelivered transaction
	mock.ExpectQuery(regexp.QuoteMeta(insertPaymentQuery)).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}))
	created, err = store.CreatePaymentRecord(ctx, record())
	require.NoError(t, err)
	assert.False(t, created)

	_, err = store.CreatePaymentRecord(ctx, &PaymentRecord{OrganizationID: "org-1"})
	assert.Error(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGenerateSlug(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "simple name", input: "Bakery", expected: "bakery"},
		{name: "name with spaces", input: "Corner Bakery", expected: "corner-bakery"},
		{name: "name with invalid chars", input: "Joe's Diner!", expected: "joes-diner"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, generateSlug(tt.input))
		})
	}
}
