/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/mimir_news/internal/events"
	"github.com/friendsincode/mimir_news/internal/models"
)

const testWebhookSecret = "whsec-test"

func openBillingTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.Subscriber{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func postWebhook(t *testing.T, svc *Service, event WebhookEvent, sign bool) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", bytes.NewReader(body))
	if sign {
		req.Header.Set(SignatureHeader, Sign(body, testWebhookSecret))
	}
	rec := httptest.NewRecorder()
	svc.WebhookHandler()(rec, req)
	return rec
}

func upgradeEvent(email, plan string) WebhookEvent {
	var ev WebhookEvent
	ev.Type = "subscription.created"
	ev.Data.Email = email
	ev.Data.Plan = plan
	ev.Data.SubscriptionID = "sub_123"
	return ev
}

func TestWebhookAppliesPlanChange(t *testing.T) {
	db := openBillingTestDB(t)
	bus := events.NewBus()
	changes := bus.Subscribe(events.EventPlanChanged)
	svc := NewService(db, nil, bus, testWebhookSecret, zerolog.Nop())

	rec := postWebhook(t, svc, upgradeEvent("ada@example.com", "vip"), true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var sub models.Subscriber
	if err := db.First(&sub, "email = ?", "ada@example.com").Error; err != nil {
		t.Fatalf("load subscriber: %v", err)
	}
	if sub.Plan != "vip" || sub.SubscriptionID != "sub_123" {
		t.Errorf("subscriber = %+v", sub)
	}

	select {
	case payload := <-changes:
		if payload["email"] != "ada@example.com" || payload["plan"] != "paid" {
			t.Errorf("plan change payload = %v", payload)
		}
	case <-time.After(time.Second):
		t.Error("no plan change event published")
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	db := openBillingTestDB(t)
	svc := NewService(db, nil, events.NewBus(), testWebhookSecret, zerolog.Nop())

	rec := postWebhook(t, svc, upgradeEvent("ada@example.com", "vip"), false)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unsigned webhook status = %d, want 401", rec.Code)
	}

	var count int64
	db.Model(&models.Subscriber{}).Count(&count)
	if count != 0 {
		t.Error("unsigned webhook must not mutate subscribers")
	}
}

func TestWebhookCancellationClearsPlan(t *testing.T) {
	db := openBillingTestDB(t)
	svc := NewService(db, nil, events.NewBus(), testWebhookSecret, zerolog.Nop())

	if rec := postWebhook(t, svc, upgradeEvent("ada@example.com", "vip"), true); rec.Code != http.StatusOK {
		t.Fatalf("setup webhook failed: %d", rec.Code)
	}

	var cancel WebhookEvent
	cancel.Type = "subscription.cancelled"
	cancel.Data.Email = "ada@example.com"
	if rec := postWebhook(t, svc, cancel, true); rec.Code != http.StatusOK {
		t.Fatalf("cancel webhook failed: %d", rec.Code)
	}

	var sub models.Subscriber
	if err := db.First(&sub, "email = ?", "ada@example.com").Error; err != nil {
		t.Fatalf("load subscriber: %v", err)
	}
	if models.NormalizePlan(sub.Plan) != models.PlanFree || sub.SubscriptionID != "" {
		t.Errorf("cancelled subscriber = %+v", sub)
	}
}

func TestWebhookIgnoresUnknownEvents(t *testing.T) {
	db := openBillingTestDB(t)
	svc := NewService(db, nil, events.NewBus(), testWebhookSecret, zerolog.Nop())

	var ev WebhookEvent
	ev.Type = "invoice.finalized"
	ev.Data.Email = "ada@example.com"
	if rec := postWebhook(t, svc, ev, true); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var count int64
	db.Model(&models.Subscriber{}).Count(&count)
	if count != 0 {
		t.Error("unknown event should not create subscribers")
	}
}

func TestCancelRestrictedDuringTrial(t *testing.T) {
	db := openBillingTestDB(t)
	future := time.Now().AddDate(0, 0, 2).Format("2006-01-02")
	if err := db.Create(&models.Subscriber{
		Email:          "trial@example.com",
		Plan:           "vip-trial",
		TrialStartFrom: future,
		SubscriptionID: "sub_456",
	}).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	svc := NewService(db, nil, events.NewBus(), testWebhookSecret, zerolog.Nop())
	err := svc.Cancel(context.Background(), "trial@example.com")
	if !errors.Is(err, ErrCancelRestricted) {
		t.Errorf("err = %v, want ErrCancelRestricted", err)
	}
}

func TestCancelCallsProvider(t *testing.T) {
	var gotPath string
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer provider.Close()

	db := openBillingTestDB(t)
	past := time.Now().AddDate(0, 0, -10).Format("2006-01-02")
	if err := db.Create(&models.Subscriber{
		Email:          "ada@example.com",
		Plan:           "vip",
		TrialStartFrom: past,
		SubscriptionID: "sub_789",
	}).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	client := NewClient(provider.URL, zerolog.Nop())
	svc := NewService(db, client, events.NewBus(), testWebhookSecret, zerolog.Nop())

	if err := svc.Cancel(context.Background(), "ada@example.com"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if gotPath != "/v1/subscriptions/sub_789/cancel" {
		t.Errorf("provider path = %q", gotPath)
	}
}
