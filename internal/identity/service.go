/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package identity

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/mimir_news/internal/entitlement"
	"github.com/friendsincode/mimir_news/internal/events"
	"github.com/friendsincode/mimir_news/internal/models"
)

// Profile is the account view returned to the frontend.
type Profile struct {
	Email            string      `json:"email"`
	Name             string      `json:"name"`
	Plan             models.Plan `json:"plan"`
	PlanExpireDate   string      `json:"plan_expire_date,omitempty"`
	TrialStartFrom   string      `json:"trial_start_from,omitempty"`
	SubscriptionID   string      `json:"subscription_id,omitempty"`
	CancelRestricted bool        `json:"cancel_restricted"`
}

// Service maintains the latest entitlement snapshot. The playback engine
// reads it on every gating decision; it is refreshed whenever a request
// carries new session state or the billing webhook changes a plan.
type Service struct {
	db     *gorm.DB
	head   func() string
	bus    *events.Bus
	logger zerolog.Logger

	mu      sync.RWMutex
	current models.EntitlementContext
	email   string
	session string
}

// NewService creates an identity service. head supplies the current
// playlist head id for the guest sampling rule.
func NewService(db *gorm.DB, head func() string, bus *events.Bus, logger zerolog.Logger) *Service {
	if head == nil {
		head = func() string { return "" }
	}
	return &Service{
		db:     db,
		head:   head,
		bus:    bus,
		logger: logger.With().Str("component", "identity").Logger(),
	}
}

// Refresh rebuilds the snapshot from the claims carried by ctx and stores
// it as current. Guests produce an unauthenticated free snapshot.
func (s *Service) Refresh(ctx context.Context) models.EntitlementContext {
	snapshot := models.EntitlementContext{Plan: models.PlanFree, PlaylistHeadID: s.head()}
	email, session := "", ""

	if claims, ok := ClaimsFromContext(ctx); ok {
		snapshot.Authenticated = true
		email = claims.Email
		session = claims.ID
		if sub, err := s.subscriber(ctx, claims.Email); err == nil {
			snapshot.Plan = models.NormalizePlan(sub.Plan)
		}
	}

	s.mu.Lock()
	s.current = snapshot
	s.email = email
	s.session = session
	s.mu.Unlock()
	return snapshot
}

// Current returns the latest snapshot with a fresh playlist head.
func (s *Service) Current() models.EntitlementContext {
	s.mu.RLock()
	snapshot := s.current
	s.mu.RUnlock()
	snapshot.PlaylistHeadID = s.head()
	return snapshot
}

// SessionID returns the listening session id of the current session, empty
// for guests.
func (s *Service) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// Profile builds the account view for the session carried by ctx.
func (s *Service) Profile(ctx context.Context) (*Profile, error) {
	claims, ok := ClaimsFromContext(ctx)
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	sub, err := s.subscriber(ctx, claims.Email)
	if err != nil {
		return nil, err
	}
	return &Profile{
		Email:            sub.Email,
		Name:             sub.Name,
		Plan:             models.NormalizePlan(sub.Plan),
		PlanExpireDate:   sub.PlanExpireDate,
		TrialStartFrom:   sub.TrialStartFrom,
		SubscriptionID:   sub.SubscriptionID,
		CancelRestricted: entitlement.CancelRestricted(time.Now(), sub.TrialStartFrom),
	}, nil
}

func (s *Service) subscriber(ctx context.Context, email string) (*models.Subscriber, error) {
	if s.db == nil {
		return nil, gorm.ErrRecordNotFound
	}
	var sub models.Subscriber
	if err := s.db.WithContext(ctx).First(&sub, "email = ?", email).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

// Start watches for plan changes pushed by the billing webhook and refreshes
// the snapshot when they concern the active session.
func (s *Service) Start(ctx context.Context) error {
	if s.bus == nil {
		<-ctx.Done()
		return ctx.Err()
	}

	changes := s.bus.Subscribe(events.EventPlanChanged)
	defer s.bus.Unsubscribe(events.EventPlanChanged, changes)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload := <-changes:
			email, _ := payload["email"].(string)
			if email == "" {
				continue
			}
			s.mu.RLock()
			active := s.email == email
			s.mu.RUnlock()
			if !active {
				continue
			}
			if sub, err := s.subscriber(ctx, email); err == nil {
				s.mu.Lock()
				s.current.Plan = models.NormalizePlan(sub.Plan)
				s.mu.Unlock()
				s.logger.Info().Str("email", email).Str("plan", sub.Plan).Msg("entitlement snapshot refreshed")
			}
		}
	}
}
