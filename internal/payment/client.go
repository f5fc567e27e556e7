// Package payment requests checkout sessions from the payment service.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"orders-service/internal/model"

	"github.com/rs/zerolog"
)

const sessionsPath = "/payments/sessions"

// maxSessionBytes caps the provider payload we are willing to relay.
const maxSessionBytes = 1 << 20

// Client is the payment gateway client.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a payment client. A nil httpClient uses a default client.
func NewClient(baseURL string, timeout time.Duration, httpClient *http.Client, logger zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		timeout:    timeout,
		httpClient: httpClient,
		logger:     logger.With().Str("component", "payment-client").Logger(),
	}
}

// CreateSession asks the payment service for a checkout session and returns its
// payload verbatim.
func (c *Client) CreateSession(ctx context.Context, req model.PaymentSessionRequest) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payment session request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+sessionsPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build payment session request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Error().
			Err(err).
			Str("order_id", req.OrderID.String()).
			Bool("timeout", errors.Is(err, context.DeadlineExceeded)).
			Msg("payment session request failed")
		return nil, model.NewDependencyError(model.ErrCodePaymentUnavailable, "payment service unreachable", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxSessionBytes))
	if err != nil {
		return nil, model.NewDependencyError(model.ErrCodePaymentUnavailable, "failed to read payment session", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Error().
			Str("order_id", req.OrderID.String()).
			Int("status", resp.StatusCode).
			Str("body", truncate(payload, 512)).
			Msg("payment service rejected session request")
		return nil, model.NewDependencyError(model.ErrCodePaymentUnavailable,
			fmt.Sprintf("payment service returned status %d", resp.StatusCode), nil)
	}

	if !json.Valid(payload) {
		return nil, model.NewDependencyError(model.ErrCodePaymentUnavailable, "invalid payment session payload", nil)
	}

	c.logger.Info().
		Str("order_id", req.OrderID.String()).
		Msg("payment session created")

	return json.RawMessage(payload), nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n])
	}
	return string(b)
}
