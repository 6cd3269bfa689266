package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const maxResponseBytes = 1 << 20

// Config holds provider credentials and endpoints
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	// WebhookID identifies the registered webhook for signature verification.
	// Empty disables verification.
	WebhookID string
	// ProductID is the catalog product plans are attached to
	ProductID string
	Timeout   time.Duration
}

// CallRecorder records provider call outcomes
type CallRecorder interface {
	RecordProviderCall(operation string, status int, duration time.Duration)
}

// Client issues commands to the billing provider
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     logrus.FieldLogger
	recorder   CallRecorder
}

// NewClient creates a new provider client. recorder may be nil.
func NewClient(cfg Config, logger logrus.FieldLogger, recorder CallRecorder) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger = logger.WithField("component", "billing_gateway")
	if cfg.WebhookID == "" {
		logger.Warn("webhook id is not configured: webhook signatures will NOT be verified; set it before production use")
	}

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger:   logger,
		recorder: recorder,
	}
}

// Config returns the client configuration
func (c *Client) Config() Config {
	return c.cfg
}

// VerificationEnabled reports whether webhook signatures are verified
func (c *Client) VerificationEnabled() bool {
	return c.cfg.WebhookID != ""
}

// Session is a batch of calls sharing one access token
type Session struct {
	client *Client
	http   *http.Client
}

// NewSession starts a call batch. The token is fetched lazily on the first call
// and discarded with the session.
func (c *Client) NewSession(ctx context.Context) *Session {
	cc := &clientcredentials.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		TokenURL:     c.cfg.BaseURL + "/v1/oauth2/token",
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	// token requests go through the same instrumented transport
	tokenCtx := context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	authed := cc.Client(tokenCtx)
	authed.Timeout = c.cfg.Timeout

	return &Session{client: c, http: authed}
}

// ReviseQuantity revises the quantity of a subscription
func (c *Client) ReviseQuantity(ctx context.Context, subscriptionID string, quantity int64) (*Result, error) {
	return c.NewSession(ctx).ReviseQuantity(ctx, subscriptionID, quantity)
}

// Suspend suspends a subscription
func (c *Client) Suspend(ctx context.Context, subscriptionID, reason string) (*Result, error) {
	return c.NewSession(ctx).Lifecycle(ctx, subscriptionID, ActionSuspend, reason)
}

// Activate reactivates a suspended subscription
func (c *Client) Activate(ctx context.Context, subscriptionID, reason string) (*Result, error) {
	return c.NewSession(ctx).Lifecycle(ctx, subscriptionID, ActionActivate, reason)
}

// Cancel cancels a subscription
func (c *Client) Cancel(ctx context.Context, subscriptionID, reason string) (*Result, error) {
	return c.NewSession(ctx).Lifecycle(ctx, subscriptionID, ActionCancel, reason)
}

// GetSubscription fetches a subscription
func (c *Client) GetSubscription(ctx context.Context, subscriptionID string) (*Result, error) {
	return c.NewSession(ctx).do(ctx, "get_subscription", http.MethodGet,
		"/v1/billing/subscriptions/"+url.PathEscape(subscriptionID), nil)
}

// ReviseQuantity revises the quantity of a subscription
func (s *Session) ReviseQuantity(ctx context.Context, subscriptionID string, quantity int64) (*Result, error) {
	if subscriptionID == "" {
		return nil, fmt.Errorf("subscription id is required")
	}
	if quantity < 0 {
		return nil, fmt.Errorf("quantity must not be negative")
	}
	body := map[string]string{"quantity": strconv.FormatInt(quantity, 10)}
	return s.do(ctx, "revise_quantity", http.MethodPost,
		"/v1/billing/subscriptions/"+url.PathEscape(subscriptionID)+"/revise", body)
}

// Lifecycle issues a suspend, activate or cancel command
func (s *Session) Lifecycle(ctx context.Context, subscriptionID string, action Action, reason string) (*Result, error) {
	if subscriptionID == "" {
		return nil, fmt.Errorf("subscription id is required")
	}
	switch action {
	case ActionSuspend, ActionActivate, ActionCancel:
	default:
		return nil, fmt.Errorf("unsupported action: %s", action)
	}
	if reason == "" {
		reason = defaultReason(action)
	}
	return s.do(ctx, string(action), http.MethodPost,
		"/v1/billing/subscriptions/"+url.PathEscape(subscriptionID)+"/"+string(action),
		map[string]string{"reason": reason})
}

func defaultReason(action Action) string {
	switch action {
	case ActionSuspend:
		return "Suspended by account owner"
	case ActionActivate:
		return "Reactivated by account owner"
	default:
		return "Cancelled by account owner"
	}
}

func (s *Session) do(ctx context.Context, operation, method, path string, body any) (*Result, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to encode request: %w", operation, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.client.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to build request: %w", operation, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := s.http.Do(req)
	if err != nil {
		var tokenErr *oauth2.RetrieveError
		if errors.As(err, &tokenErr) && tokenErr.Response != nil {
			s.client.record("token", tokenErr.Response.StatusCode, time.Since(start))
			s.client.logger.WithField("status", tokenErr.Response.StatusCode).Warn("provider token exchange failed")
			return NewResult(tokenErr.Response.StatusCode, tokenErr.Body), nil
		}
		s.client.record(operation, 0, time.Since(start))
		return nil, fmt.Errorf("%s: provider request failed: %w", operation, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	s.client.record(operation, resp.StatusCode, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read provider response: %w", operation, err)
	}

	result := NewResult(resp.StatusCode, raw)
	if !result.OK {
		s.client.logger.WithFields(logrus.Fields{
			"operation": operation,
			"status":    resp.StatusCode,
		}).Warn("provider call failed")
	}
	return result, nil
}

func (c *Client) record(operation string, status int, d time.Duration) {
	if c.recorder != nil {
		c.recorder.RecordProviderCall(operation, status, d)
	}
}
