// Package subscriptions keeps provider-side recurring subscriptions and local
// tenant entitlements in sync.
//
// The Synchronizer pushes usage changes to the provider as quantity revisions,
// issues explicit lifecycle commands, and reconciles provider webhook events
// into tenant state. Events are signed, delivered at least once and in no
// particular order, so every write sets an absolute, event-derived value:
//
//	BILLING.SUBSCRIPTION.ACTIVATED       status=active, pending id promoted
//	BILLING.SUBSCRIPTION.RE-ACTIVATED    status=active
//	PAYMENT.SALE.COMPLETED               payment appended, status=active
//	BILLING.SUBSCRIPTION.CANCELLED       status=cancelled
//	BILLING.SUBSCRIPTION.SUSPENDED       status=suspended
//	BILLING.SUBSCRIPTION.PAYMENT.FAILED  status=suspended
//
// Members mirror the tenant status and are updated after the tenant row.
// Payment records are keyed by provider transaction id, and events older than
// the last applied one do not change status. An optional EventDeduper skips
// redeliveries early but correctness never depends on it.
package subscriptions
