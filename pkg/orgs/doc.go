// Package orgs stores tenant entitlement state for the billing subsystem.
//
// # Overview
//
// An Organization is a billed tenant. Besides its name it carries the plan tier,
// an optional free worker override granted by a promo code, and the fields that
// mirror the provider-side subscription: the confirmed subscription id, the
// pending id of an in-flight checkout, status, cycle and the committed monthly
// cost used as the proration baseline.
//
// Members belong to exactly one organization and carry a denormalized copy of
// the organization's subscription status so gate checks never need a join.
//
// Payment records are append-only. The provider transaction id is unique, which
// makes CreatePaymentRecord safe under webhook redelivery.
//
// # Writes
//
// Every Store write touches a single row. UpdateBilling applies only the
// non-nil fields of a BillingUpdate. When the update carries an event time it
// is rejected with ErrStaleEvent if the organization already applied a newer
// event, so delayed deliveries cannot roll status back.
//
// # Implementations
//
//   - PostgresStore: database/sql with lib/pq, schema managed by Migrate
//   - MemoryStore: process-local, for development and tests
//
// # Usage Example
//
//	store := orgs.NewPostgresStore(db)
//	org := &orgs.Organization{Name: "Corner Bakery"}
//	if err := store.CreateOrganization(ctx, org); err != nil {
//		return err
//	}
//
//	status := orgs.StatusActive
//	err := store.UpdateBilling(ctx, org.ID, &orgs.BillingUpdate{
//		Status:       &status,
//		ClearPending: true,
//	})
package orgs
