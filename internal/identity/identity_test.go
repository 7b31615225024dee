/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package identity

import (
	"context"
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

var testSecret = []byte("test-secret")

func openIdentityTestDB(t *testing.T) *gorm.DB {
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

func TestIssueAndParse(t *testing.T) {
	token, err := Issue(testSecret, Claims{Email: "ada@example.com", Name: "Ada"}, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims, err := Parse(testSecret, token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Email != "ada@example.com" || claims.Name != "Ada" {
		t.Errorf("claims = %+v", claims)
	}
	if claims.ID == "" {
		t.Error("token should carry a session id")
	}

	if _, err := Parse([]byte("wrong-secret"), token); err == nil {
		t.Error("wrong secret should fail validation")
	}
}

func TestMiddlewareGuestPassesThrough(t *testing.T) {
	var gotClaims *Claims
	handler := Middleware(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotClaims, _ = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/playlist", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("guest request status = %d", rec.Code)
	}
	if gotClaims != nil {
		t.Error("guest request should carry no claims")
	}
}

func TestMiddlewareAttachesClaims(t *testing.T) {
	token, err := Issue(testSecret, Claims{Email: "ada@example.com"}, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	var gotClaims *Claims
	handler := Middleware(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotClaims, _ = ClaimsFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/playlist", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if gotClaims == nil || gotClaims.Email != "ada@example.com" {
		t.Errorf("claims = %+v", gotClaims)
	}
}

func TestRequireAuthRejectsGuests(t *testing.T) {
	handler := RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/billing/cancel", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("guest status = %d, want 401", rec.Code)
	}
}

func TestRefreshBuildsSnapshot(t *testing.T) {
	db := openIdentityTestDB(t)
	if err := db.Create(&models.Subscriber{Email: "vip@example.com", Plan: "vip"}).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	svc := NewService(db, func() string { return "audio_2026_03_10" }, events.NewBus(), zerolog.Nop())

	// Guest snapshot.
	snap := svc.Refresh(context.Background())
	if snap.Authenticated || snap.Plan != models.PlanFree {
		t.Errorf("guest snapshot = %+v", snap)
	}
	if snap.PlaylistHeadID != "audio_2026_03_10" {
		t.Errorf("head id = %q", snap.PlaylistHeadID)
	}

	// Authenticated paid subscriber.
	ctx := WithClaims(context.Background(), &Claims{Email: "vip@example.com"})
	snap = svc.Refresh(ctx)
	if !snap.Authenticated || snap.Plan != models.PlanPaid {
		t.Errorf("vip snapshot = %+v", snap)
	}

	// Authenticated but unknown subscriber falls back to free.
	ctx = WithClaims(context.Background(), &Claims{Email: "ghost@example.com"})
	snap = svc.Refresh(ctx)
	if !snap.Authenticated || snap.Plan != models.PlanFree {
		t.Errorf("unknown subscriber snapshot = %+v", snap)
	}
}

func TestProfileCancelRestriction(t *testing.T) {
	db := openIdentityTestDB(t)
	future := time.Now().AddDate(0, 0, 3).Format("2006-01-02")
	if err := db.Create(&models.Subscriber{Email: "trial@example.com", Plan: "vip-trial", TrialStartFrom: future}).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	svc := NewService(db, nil, events.NewBus(), zerolog.Nop())
	ctx := WithClaims(context.Background(), &Claims{Email: "trial@example.com"})
	profile, err := svc.Profile(ctx)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if profile.Plan != models.PlanTrial {
		t.Errorf("plan = %q", profile.Plan)
	}
	if !profile.CancelRestricted {
		t.Error("cancellation should be restricted before the billing start date")
	}
}
