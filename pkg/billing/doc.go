// Package billing is the gateway to the external recurring-billing provider.
//
// # Overview
//
// The provider exposes a PayPal-style REST API. Every request is authenticated
// with a bearer token obtained through a client-credentials exchange. A token is
// only reused within one Session; nothing is cached across requests.
//
// Commands return a Result carrying the provider's raw status and payload. A Go
// error is only returned when the call could not be completed (transport or
// encoding failures). Nothing is retried here; callers decide.
//
// # Usage Example
//
// Revise the quantity of a subscription:
//
//	client := billing.NewClient(cfg, logger, metrics)
//	res, err := client.ReviseQuantity(ctx, "I-BW452GLLEP1G", 1900)
//	if err != nil {
//		return err
//	}
//	if !res.OK {
//		log.Printf("provider refused: %d %v", res.Status, res.Data)
//	}
//
// Verify an inbound webhook:
//
//	ok, err := client.VerifyWebhookSignature(ctx, billing.HeadersFromRequest(r.Header), body)
//
// When no webhook id is configured verification is skipped and every event is
// trusted. This is meant for local development only.
//
// # Related Packages
//
//   - pkg/subscriptions: Orchestrates gateway calls and webhook reconciliation
package billing
