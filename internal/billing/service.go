/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/friendsincode/mimir_news/internal/entitlement"
	"github.com/friendsincode/mimir_news/internal/events"
	"github.com/friendsincode/mimir_news/internal/models"
)

// ErrCancelRestricted is returned while the trial has not reached its
// billing start date.
var ErrCancelRestricted = errors.New("cancellation restricted until the billing start date")

// ErrNoSubscription is returned when the subscriber has nothing to cancel.
var ErrNoSubscription = errors.New("no active subscription")

// Service applies billing state to subscriber records.
type Service struct {
	db     *gorm.DB
	client *Client
	bus    *events.Bus
	secret string
	logger zerolog.Logger
}

// NewService creates a billing service. client may be nil when checkout is
// disabled; the webhook path still works.
func NewService(db *gorm.DB, client *Client, bus *events.Bus, secret string, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		client: client,
		bus:    bus,
		secret: secret,
		logger: logger.With().Str("component", "billing").Logger(),
	}
}

// Checkout opens a checkout session for the subscriber.
func (s *Service) Checkout(ctx context.Context, email, plan string) (*CheckoutSession, error) {
	if s.client == nil {
		return nil, fmt.Errorf("billing provider not configured")
	}
	return s.client.CreateCheckout(ctx, email, plan)
}

// Portal opens a self-service portal session.
func (s *Service) Portal(ctx context.Context, email string) (string, error) {
	if s.client == nil {
		return "", fmt.Errorf("billing provider not configured")
	}
	return s.client.PortalURL(ctx, email)
}

// Cancel requests cancellation at the provider. During a trial, cancellation
// is held back until the billing start date has passed; the restriction
// compares calendar dates, ignoring time of day.
func (s *Service) Cancel(ctx context.Context, email string) error {
	var sub models.Subscriber
	if err := s.db.WithContext(ctx).First(&sub, "email = ?", email).Error; err != nil {
		return fmt.Errorf("load subscriber: %w", err)
	}

	if entitlement.CancelRestricted(time.Now(), sub.TrialStartFrom) {
		return ErrCancelRestricted
	}
	if sub.SubscriptionID == "" {
		return ErrNoSubscription
	}
	if s.client == nil {
		return fmt.Errorf("billing provider not configured")
	}
	return s.client.CancelSubscription(ctx, sub.SubscriptionID)
}

// WebhookEvent is the notification body sent by the billing provider.
type WebhookEvent struct {
	Type string `json:"type"`
	Data struct {
		Email          string `json:"email"`
		Name           string `json:"name"`
		Plan           string `json:"plan"`
		PlanExpireDate string `json:"plan_expire_date"`
		TrialStartFrom string `json:"trial_start_from"`
		SubscriptionID string `json:"subscription_id"`
	} `json:"data"`
}

// SignatureHeader carries the webhook HMAC.
const SignatureHeader = "X-Mimir-Signature"

// Sign computes the signature for a payload. Exported for tests and for the
// provider simulator.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

// WebhookHandler verifies and applies provider notifications.
func (s *Service) WebhookHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			http.Error(w, "read body", http.StatusBadRequest)
			return
		}

		if s.secret != "" {
			sig := r.Header.Get(SignatureHeader)
			if !hmac.Equal([]byte(sig), []byte(Sign(body, s.secret))) {
				s.logger.Warn().Msg("webhook signature mismatch")
				http.Error(w, "invalid signature", http.StatusUnauthorized)
				return
			}
		}

		var event WebhookEvent
		if err := json.Unmarshal(body, &event); err != nil {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}

		if err := s.Apply(r.Context(), event); err != nil {
			s.logger.Error().Err(err).Str("type", event.Type).Msg("failed to apply webhook")
			http.Error(w, "apply failed", http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusOK)
	}
}

// Apply mutates the subscriber record according to the event and announces
// the plan change.
func (s *Service) Apply(ctx context.Context, event WebhookEvent) error {
	if event.Data.Email == "" {
		return fmt.Errorf("webhook event without email")
	}

	sub := models.Subscriber{
		Email:          event.Data.Email,
		Name:           event.Data.Name,
		Plan:           event.Data.Plan,
		PlanExpireDate: event.Data.PlanExpireDate,
		TrialStartFrom: event.Data.TrialStartFrom,
		SubscriptionID: event.Data.SubscriptionID,
	}

	switch event.Type {
	case "subscription.created", "subscription.updated", "subscription.trial_started":
		// Attributes applied as sent.
	case "subscription.cancelled", "subscription.expired":
		sub.Plan = "free"
		sub.SubscriptionID = ""
		sub.TrialStartFrom = ""
	default:
		s.logger.Debug().Str("type", event.Type).Msg("ignoring unknown webhook event")
		return nil
	}

	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "email"}},
		UpdateAll: true,
	}).Create(&sub).Error; err != nil {
		return fmt.Errorf("upsert subscriber: %w", err)
	}

	s.logger.Info().Str("email", sub.Email).Str("plan", sub.Plan).Str("type", event.Type).Msg("plan updated")
	s.bus.Publish(events.EventPlanChanged, events.Payload{
		"email": sub.Email,
		"plan":  string(models.NormalizePlan(sub.Plan)),
	})
	return nil
}
