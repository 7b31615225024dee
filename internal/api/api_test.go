/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/mimir_news/internal/billing"
	"github.com/friendsincode/mimir_news/internal/catalog"
	"github.com/friendsincode/mimir_news/internal/console"
	"github.com/friendsincode/mimir_news/internal/events"
	"github.com/friendsincode/mimir_news/internal/identity"
	"github.com/friendsincode/mimir_news/internal/loader"
	"github.com/friendsincode/mimir_news/internal/models"
	"github.com/friendsincode/mimir_news/internal/player"
)

var apiTestSecret = []byte("api-test-secret")

type fakeDevice struct {
	events chan player.DeviceEvent
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{events: make(chan player.DeviceEvent, 32)}
}

func (d *fakeDevice) SetSource(handle *loader.Handle)   {}
func (d *fakeDevice) Load()                             {}
func (d *fakeDevice) Play(ctx context.Context) error    { return nil }
func (d *fakeDevice) Pause()                            {}
func (d *fakeDevice) Seek(seconds float64)              {}
func (d *fakeDevice) Duration() float64                 { return 0 }
func (d *fakeDevice) SetRate(rate float64)              {}
func (d *fakeDevice) Events() <-chan player.DeviceEvent { return d.events }

type apiFixture struct {
	api     *API
	router  chi.Router
	db      *gorm.DB
	catalog *catalog.Service
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.CatalogItem{},
		&models.CompanionAudio{},
		&models.Subscriber{},
		&models.PlayHistory{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	bus := events.NewBus()
	loc, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	cat := catalog.NewService(db, nil, bus, zerolog.Nop(), catalog.Config{
		Days:         3,
		Location:     loc,
		BoundaryHour: 5,
		PathPrefix:   "https://cdn.example/audio-files/",
	})
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, loc)
	if err := cat.Refresh(context.Background(), now); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if err := cat.RegisterCompanion(context.Background(), models.CompanionInfo{
		ParentID: "audio_2026_03_10",
		MediaRef: "https://cdn.example/audio-files/audio_2026_03_10_description.mp3",
	}); err != nil {
		t.Fatalf("register companion: %v", err)
	}

	idSvc := identity.NewService(db, cat.HeadID, bus, zerolog.Nop())
	billSvc := billing.NewService(db, nil, bus, "whsec", zerolog.Nop())

	ldr := loader.New(nil, loader.NewProbe(loader.DefaultConstrainedWidth), zerolog.Nop())
	engine := player.NewEngine(newFakeDevice(), nil, ldr, idSvc.Current, nil, bus, zerolog.Nop(), player.Options{
		AutoAdvanceDelay: 10 * time.Millisecond,
	})
	engine.SetPlaylist(cat.Playlist())

	runCtx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go engine.Run(runCtx)

	a := New(engine, console.New(engine), cat, idSvc, billSvc, bus, zerolog.Nop())
	router := chi.NewRouter()
	router.Use(identity.Middleware(apiTestSecret))
	a.Routes(router)

	return &apiFixture{api: a, router: router, db: db, catalog: cat}
}

func (f *apiFixture) request(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var payload *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		payload = bytes.NewReader(data)
	} else {
		payload = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, payload)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func issueToken(t *testing.T, email string) string {
	t.Helper()
	token, err := identity.Issue(apiTestSecret, identity.Claims{Email: email}, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func TestPlaylistGuestEntitlements(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.request(t, http.MethodGet, "/api/v1/playlist", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp struct {
		Items []struct {
			ID       string `json:"id"`
			Kind     string `json:"kind"`
			Playable bool   `json:"playable"`
			Reason   string `json:"reason"`
		} `json:"items"`
		HeadID string `json:"head_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.HeadID != "audio_2026_03_10" {
		t.Errorf("head id = %q", resp.HeadID)
	}
	if len(resp.Items) != 4 { // 3 primaries + 1 companion
		t.Fatalf("items = %d", len(resp.Items))
	}
	for _, item := range resp.Items {
		wantPlayable := item.ID == resp.HeadID
		if item.Playable != wantPlayable {
			t.Errorf("item %s playable = %v, want %v", item.ID, item.Playable, wantPlayable)
		}
		if !item.Playable && item.Reason == "" {
			t.Errorf("item %s denied without reason", item.ID)
		}
	}
}

func TestPlaylistPaidSubscriberEntitlements(t *testing.T) {
	f := newAPIFixture(t)
	if err := f.db.Create(&models.Subscriber{Email: "vip@example.com", Plan: "vip"}).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := f.request(t, http.MethodGet, "/api/v1/playlist", nil, issueToken(t, "vip@example.com"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp struct {
		Items []struct {
			ID       string `json:"id"`
			Playable bool   `json:"playable"`
		} `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, item := range resp.Items {
		if !item.Playable {
			t.Errorf("item %s should be playable for a paid subscriber", item.ID)
		}
	}
}

func TestTransitionDeniedForGuestCompanion(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.request(t, http.MethodPost, "/api/v1/player/transition",
		map[string]string{"item_id": "audio_2026_03_10_companion"}, "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403: %s", rec.Code, rec.Body.String())
	}
}

func TestSelectUnknownItem(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.request(t, http.MethodPost, "/api/v1/player/select",
		map[string]any{"item_id": "audio_1999_01_01", "auto_start": false}, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestGuestSelectsHeadItem(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.request(t, http.MethodPost, "/api/v1/player/select",
		map[string]any{"item_id": "audio_2026_03_10", "auto_start": false}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var state models.PlaybackState
	if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if state.CurrentItem == nil || state.CurrentItem.ID != "audio_2026_03_10" {
		t.Errorf("current item = %+v", state.CurrentItem)
	}
}

func TestInvalidPlaybackRateRejected(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.request(t, http.MethodPost, "/api/v1/player/rate", map[string]float64{"rate": 3.0}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	rec = f.request(t, http.MethodPost, "/api/v1/player/rate", map[string]float64{"rate": 1.25}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var state models.PlaybackState
	if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if state.PlaybackRate != 1.25 {
		t.Errorf("rate = %v", state.PlaybackRate)
	}
}

func TestAccountEndpointsRequireAuth(t *testing.T) {
	f := newAPIFixture(t)

	for _, path := range []string{"/api/v1/me", "/api/v1/billing/cancel"} {
		rec := f.request(t, http.MethodPost, path, nil, "")
		if path == "/api/v1/me" {
			rec = f.request(t, http.MethodGet, path, nil, "")
		}
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s status = %d, want 401", path, rec.Code)
		}
	}
}

func TestCompanionRegistrationUpdatesPlaylist(t *testing.T) {
	f := newAPIFixture(t)
	if err := f.db.Create(&models.Subscriber{Email: "vip@example.com", Plan: "vip"}).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}
	token := issueToken(t, "vip@example.com")

	rec := f.request(t, http.MethodPost, "/api/v1/catalog/companions", map[string]string{
		"parent_id": "audio_2026_03_09",
		"media_ref": "https://cdn.example/audio-files/audio_2026_03_09_description.mp3",
	}, token)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = f.request(t, http.MethodGet, "/api/v1/playlist", nil, token)
	var resp struct {
		Items []struct {
			ID string `json:"id"`
		} `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	found := false
	for _, item := range resp.Items {
		if item.ID == "audio_2026_03_09_companion" {
			found = true
		}
	}
	if !found {
		t.Error("registered companion missing from playlist")
	}
}
