/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package billing talks to the external subscription provider and applies
// its webhook notifications to subscriber records. Plan strings cross this
// boundary raw and are normalized at read time, never here.
package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/mimir_news/internal/telemetry"
)

// Client calls the billing provider's REST API.
type Client struct {
	baseURL string
	http    *http.Client
	logger  zerolog.Logger
}

// NewClient creates a billing API client.
func NewClient(baseURL string, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout:   15 * time.Second,
			Transport: telemetry.InstrumentedTransport(nil),
		},
		logger: logger.With().Str("component", "billing").Logger(),
	}
}

// CheckoutSession is a hosted checkout page created for a subscriber.
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CreateCheckout opens a checkout session for the given plan.
func (c *Client) CreateCheckout(ctx context.Context, email, plan string) (*CheckoutSession, error) {
	var session CheckoutSession
	err := c.post(ctx, "/v1/checkout/sessions", map[string]string{
		"email": email,
		"plan":  plan,
	}, &session)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// PortalURL opens a self-service portal session for managing the
// subscription.
func (c *Client) PortalURL(ctx context.Context, email string) (string, error) {
	var session CheckoutSession
	err := c.post(ctx, "/v1/portal/sessions", map[string]string{"email": email}, &session)
	if err != nil {
		return "", err
	}
	return session.URL, nil
}

// CancelSubscription cancels at the provider. The resulting plan change
// arrives asynchronously through the webhook.
func (c *Client) CancelSubscription(ctx context.Context, subscriptionID string) error {
	path := fmt.Sprintf("/v1/subscriptions/%s/cancel", subscriptionID)
	return c.post(ctx, path, nil, nil)
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, payload)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("billing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn().Int("status", resp.StatusCode).Str("path", path).Msg("billing API error")
		return fmt.Errorf("billing API returned %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
