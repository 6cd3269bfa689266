package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

const verificationSuccess = "SUCCESS"

type verifyRequest struct {
	AuthAlgo         string          `json:"auth_algo"`
	CertURL          string          `json:"cert_url"`
	TransmissionID   string          `json:"transmission_id"`
	TransmissionSig  string          `json:"transmission_sig"`
	TransmissionTime string          `json:"transmission_time"`
	WebhookID        string          `json:"webhook_id"`
	WebhookEvent     json.RawMessage `json:"webhook_event"`
}

type verifyResponse struct {
	VerificationStatus string `json:"verification_status"`
}

// VerifyWebhookSignature asks the provider to verify a webhook signature.
// Verification is skipped, and the event trusted, when no webhook id is configured.
// An error means verification could not be performed and the delivery should be retried.
func (c *Client) VerifyWebhookSignature(ctx context.Context, headers WebhookHeaders, body []byte) (bool, error) {
	if !c.VerificationEnabled() {
		c.logger.Debug("webhook signature verification skipped: no webhook id configured")
		return true, nil
	}
	if !headers.Complete() {
		c.logger.Warn("webhook rejected: signature headers missing")
		return false, nil
	}
	if !json.Valid(body) {
		return false, nil
	}

	res, err := c.NewSession(ctx).do(ctx, "verify_webhook", http.MethodPost,
		"/v1/notifications/verify-webhook-signature", verifyRequest{
			AuthAlgo:         headers.AuthAlgo,
			CertURL:          headers.CertURL,
			TransmissionID:   headers.TransmissionID,
			TransmissionSig:  headers.TransmissionSig,
			TransmissionTime: headers.TransmissionTime,
			WebhookID:        c.cfg.WebhookID,
			WebhookEvent:     json.RawMessage(body),
		})
	if err != nil {
		return false, err
	}
	if rejectedVerification(res.Status) {
		// the provider refused the payload itself, so a retry cannot succeed
		c.logger.WithField("status", res.Status).Warn("webhook rejected: provider refused verification request")
		return false, nil
	}
	if !res.OK {
		return false, fmt.Errorf("webhook verification unavailable: %s", res)
	}

	var out verifyResponse
	if err := res.Decode(&out); err != nil {
		return false, fmt.Errorf("failed to decode verification response: %w", err)
	}
	return out.VerificationStatus == verificationSuccess, nil
}

// rejectedVerification reports a client error from the verify endpoint.
// Timeouts and throttling stay retryable.
func rejectedVerification(status int) bool {
	if status == http.StatusRequestTimeout || status == http.StatusTooManyRequests {
		return false
	}
	return status >= 400 && status < 500
}
