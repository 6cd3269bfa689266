package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/shiftbill/pkg/billing"
	"github.com/platinummonkey/shiftbill/pkg/orgs"
	"github.com/platinummonkey/shiftbill/pkg/pricing"
)

const paymentMethod = "paypal"

// WebhookOutcome describes how an event was handled. Skipped events are
// acknowledged without changing state.
type WebhookOutcome struct {
	EventID   string            `json:"event_id"`
	EventType billing.EventType `json:"event_type"`
	OrgID     string            `json:"org_id,omitempty"`
	Action    string            `json:"action,omitempty"`
	Skipped   bool              `json:"skipped"`
	Reason    string            `json:"reason,omitempty"`
}

func (o *WebhookOutcome) skip(reason string) *WebhookOutcome {
	o.Skipped = true
	o.Reason = reason
	return o
}

// HandleWebhook verifies, parses and applies a provider event.
//
// ErrInvalidSignature and ErrValidation are returned for deliveries that must
// be rejected. Other errors are transient; the provider redelivers and the
// event is applied again idempotently.
func (s *Synchronizer) HandleWebhook(ctx context.Context, headers billing.WebhookHeaders, body []byte) (*WebhookOutcome, error) {
	ok, err := s.gateway.VerifyWebhookSignature(ctx, headers, body)
	if err != nil {
		s.metrics.RecordWebhook("", "error")
		return nil, fmt.Errorf("signature verification failed: %w", err)
	}
	if !ok {
		s.metrics.RecordWebhook("", "rejected")
		return nil, ErrInvalidSignature
	}

	event, err := billing.ParseWebhookEvent(body)
	if err != nil {
		s.metrics.RecordWebhook("", "invalid")
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	outcome, err := s.applyEvent(ctx, event)
	label := "applied"
	switch {
	case err != nil:
		label = "error"
	case outcome.Skipped:
		label = "skipped"
	}
	s.metrics.RecordWebhook(string(event.EventType), label)
	return outcome, err
}

func (s *Synchronizer) applyEvent(ctx context.Context, event *billing.WebhookEvent) (*WebhookOutcome, error) {
	outcome := &WebhookOutcome{EventID: event.ID, EventType: event.EventType}
	log := s.logger.WithFields(logrus.Fields{"event_id": event.ID, "event_type": event.EventType})

	if s.dedup != nil && event.ID != "" {
		seen, err := s.dedup.Seen(ctx, event.ID)
		if err != nil {
			log.WithError(err).Warn("event dedup lookup failed")
		} else if seen {
			log.Debug("duplicate event delivery")
			return outcome.skip("duplicate event"), nil
		}
	}

	if !handledEvent(event.EventType) {
		log.Debug("ignoring unhandled event type")
		return outcome.skip("unhandled event type"), nil
	}

	subscriptionID := event.SubscriptionID()
	if subscriptionID == "" {
		log.Warn("event has no subscription id")
		return outcome.skip("event has no subscription id"), nil
	}
	log = log.WithField("subscription_id", subscriptionID)

	org, viaPending, err := s.resolve(ctx, subscriptionID)
	if errors.Is(err, orgs.ErrNotFound) {
		log.Info("no organization matches subscription; event discarded")
		return outcome.skip("no matching organization"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve organization: %w", err)
	}
	outcome.OrgID = org.ID
	log = log.WithField("org_id", org.ID)

	occurred := event.OccurredAt()
	stamp := occurred
	if stamp.IsZero() {
		stamp = s.now().UTC()
	}

	update := &orgs.BillingUpdate{}
	if !occurred.IsZero() {
		update.EventAt = &occurred
	}

	var status orgs.SubscriptionStatus
	switch event.EventType {
	case billing.EventSubscriptionActivated:
		status = orgs.StatusActive
		update.ActivatedAt = &stamp
		outcome.Action = "activated"
	case billing.EventSubscriptionReactivated:
		status = orgs.StatusActive
		outcome.Action = "reactivated"
	case billing.EventPaymentCompleted:
		status = orgs.StatusActive
		outcome.Action = "payment_recorded"
		if err := s.recordPayment(ctx, event, org, subscriptionID, stamp, update, log); err != nil {
			return nil, err
		}
	case billing.EventSubscriptionCancelled:
		status = orgs.StatusCancelled
		update.CancelledAt = &stamp
		outcome.Action = "cancelled"
	case billing.EventSubscriptionSuspended:
		status = orgs.StatusSuspended
		update.SuspendedAt = &stamp
		outcome.Action = "suspended"
	case billing.EventPaymentFailed:
		status = orgs.StatusSuspended
		update.LastPaymentFailedAt = &stamp
		outcome.Action = "payment_failed"
	}
	update.Status = &status

	// an active-making event confirms an in-flight checkout
	if viaPending && status == orgs.StatusActive {
		update.SubscriptionID = &subscriptionID
		update.ClearPending = true
	}

	err = s.store.UpdateBilling(ctx, org.ID, update)
	if errors.Is(err, orgs.ErrStaleEvent) {
		log.Info("event is older than the last applied event; status unchanged")
		if event.EventType == billing.EventPaymentCompleted {
			// the payment itself still happened
			if err := s.store.UpdateBilling(ctx, org.ID, &orgs.BillingUpdate{
				LastPaymentAt:       update.LastPaymentAt,
				LastPaymentCents:    update.LastPaymentCents,
				LastPaymentCurrency: update.LastPaymentCurrency,
			}); err != nil {
				return nil, fmt.Errorf("failed to record last payment: %w", err)
			}
			s.markProcessed(ctx, event.ID, log)
			return outcome, nil
		}
		s.markProcessed(ctx, event.ID, log)
		return outcome.skip("stale event"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update organization: %w", err)
	}

	if err := s.fanOutStatus(ctx, org.ID, status); err != nil {
		return nil, err
	}

	s.markProcessed(ctx, event.ID, log)
	log.WithField("status", status).Info("webhook event applied")
	return outcome, nil
}

// recordPayment appends the payment record and adds last-payment fields to update
func (s *Synchronizer) recordPayment(ctx context.Context, event *billing.WebhookEvent, org *orgs.Organization,
	subscriptionID string, at time.Time, update *orgs.BillingUpdate, log logrus.FieldLogger) error {
	resource, err := event.ParsedResource()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if resource.Amount == nil {
		return fmt.Errorf("%w: sale event has no amount", ErrValidation)
	}
	amount, err := decimal.NewFromString(resource.Amount.Total)
	if err != nil {
		return fmt.Errorf("%w: invalid sale amount %q", ErrValidation, resource.Amount.Total)
	}
	cents := pricing.Cents(amount)
	currency := strings.ToUpper(resource.Amount.Currency)

	transactionID := resource.ID
	if transactionID == "" {
		transactionID = event.ID
	}
	status := strings.ToLower(resource.State)
	if status == "" {
		status = strings.ToLower(resource.Status)
	}
	if status == "" {
		status = "completed"
	}

	created, err := s.store.CreatePaymentRecord(ctx, &orgs.PaymentRecord{
		OrganizationID: org.ID,
		SubscriptionID: subscriptionID,
		TransactionID:  transactionID,
		AmountCents:    cents,
		Currency:       currency,
		Period:         orgs.PaymentPeriod(at),
		Status:         status,
		Method:         paymentMethod,
	})
	if err != nil {
		return fmt.Errorf("failed to record payment: %w", err)
	}
	if !created {
		log.WithField("transaction_id", transactionID).Debug("payment already recorded")
	}

	update.LastPaymentAt = &at
	update.LastPaymentCents = &cents
	update.LastPaymentCurrency = &currency
	return nil
}

func (s *Synchronizer) markProcessed(ctx context.Context, eventID string, log logrus.FieldLogger) {
	if s.dedup == nil || eventID == "" {
		return
	}
	if err := s.dedup.MarkProcessed(ctx, eventID); err != nil {
		log.WithError(err).Warn("failed to mark event processed")
	}
}

func handledEvent(t billing.EventType) bool {
	switch t {
	case billing.EventSubscriptionActivated, billing.EventSubscriptionReactivated,
		billing.EventPaymentCompleted, billing.EventSubscriptionCancelled,
		billing.EventSubscriptionSuspended, billing.EventPaymentFailed:
		return true
	}
	return false
}
