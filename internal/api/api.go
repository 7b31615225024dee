/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api exposes the HTTP surface: playlist browsing, player control,
// scrub-bar gestures, account and billing endpoints, and the state stream.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/mimir_news/internal/billing"
	"github.com/friendsincode/mimir_news/internal/catalog"
	"github.com/friendsincode/mimir_news/internal/console"
	"github.com/friendsincode/mimir_news/internal/entitlement"
	"github.com/friendsincode/mimir_news/internal/events"
	"github.com/friendsincode/mimir_news/internal/identity"
	"github.com/friendsincode/mimir_news/internal/models"
	"github.com/friendsincode/mimir_news/internal/player"
	"github.com/friendsincode/mimir_news/internal/version"
)

// API exposes HTTP handlers.
type API struct {
	engine   *player.Engine
	console  *console.Console
	catalog  *catalog.Service
	identity *identity.Service
	billing  *billing.Service
	bus      *events.Bus
	logger   zerolog.Logger

	device    *player.RemoteDevice
	cueDevice *player.RemoteDevice
}

// SetRemoteDevices attaches the remote playback surface bridges, enabling
// the device event injection endpoint. cue may be nil.
func (a *API) SetRemoteDevices(dev, cue *player.RemoteDevice) {
	a.device = dev
	a.cueDevice = cue
}

// New creates the API router wrapper.
func New(engine *player.Engine, cons *console.Console, cat *catalog.Service, id *identity.Service, bill *billing.Service, bus *events.Bus, logger zerolog.Logger) *API {
	return &API{
		engine:   engine,
		console:  cons,
		catalog:  cat,
		identity: id,
		billing:  bill,
		bus:      bus,
		logger:   logger.With().Str("component", "api").Logger(),
	}
}

// Routes mounts API routes on the provided router.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)
		r.Get("/version", a.handleVersion)

		r.Get("/playlist", a.handlePlaylist)

		r.Route("/player", func(r chi.Router) {
			r.Get("/state", a.handlePlayerState)
			r.Get("/stream", a.handlePlayerStream)
			r.Post("/select", a.handlePlayerSelect)
			r.Post("/transition", a.handlePlayerTransition)
			r.Post("/play", a.handlePlayerPlay)
			r.Post("/pause", a.handlePlayerPause)
			r.Post("/stop", a.handlePlayerStop)
			r.Post("/seek", a.handlePlayerSeek)
			r.Post("/rate", a.handlePlayerRate)
			r.Post("/next", a.handlePlayerNext)
			r.Post("/previous", a.handlePlayerPrevious)
			r.Post("/device/events", a.handleDeviceEvent)
		})

		r.Route("/console", func(r chi.Router) {
			r.Post("/drag", a.handleConsoleDrag)
			r.Post("/click", a.handleConsoleClick)
			r.Post("/key", a.handleConsoleKey)
		})

		r.Group(func(r chi.Router) {
			r.Use(identity.RequireAuth)
			r.Get("/me", a.handleMe)
			r.Post("/billing/checkout", a.handleBillingCheckout)
			r.Post("/billing/portal", a.handleBillingPortal)
			r.Post("/billing/cancel", a.handleBillingCancel)
			r.Post("/catalog/refresh", a.handleCatalogRefresh)
			r.Post("/catalog/companions", a.handleCompanionRegister)
		})
	})

	r.Post("/webhooks/billing", a.billing.WebhookHandler())
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": version.Version})
}

// playlistEntry decorates an item with the caller's entitlement verdict so
// the frontend can render lock badges without re-deriving the rules.
type playlistEntry struct {
	models.PlayableItem
	Playable bool   `json:"playable"`
	Reason   string `json:"reason,omitempty"`
}

func (a *API) handlePlaylist(w http.ResponseWriter, r *http.Request) {
	snapshot := a.identity.Refresh(r.Context())
	items := a.catalog.Playlist()

	entries := make([]playlistEntry, len(items))
	for i, item := range items {
		allowed, reason := entitlement.Evaluate(item, snapshot)
		entries[i] = playlistEntry{PlayableItem: item, Playable: allowed}
		if !allowed {
			entries[i].Reason = string(reason)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items":   entries,
		"head_id": a.catalog.HeadID(),
	})
}

func (a *API) handlePlayerState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.engine.Snapshot())
}

type selectRequest struct {
	ItemID    string `json:"item_id"`
	AutoStart bool   `json:"auto_start"`
}

func (a *API) handlePlayerSelect(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	item, ok := a.lookupItem(req.ItemID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown_item")
		return
	}

	a.identity.Refresh(r.Context())
	if err := a.engine.SelectItem(r.Context(), item, req.AutoStart); err != nil {
		a.writePlayerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.engine.Snapshot())
}

type transitionRequest struct {
	ItemID string `json:"item_id"`
}

func (a *API) handlePlayerTransition(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	item, ok := a.lookupItem(req.ItemID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown_item")
		return
	}

	a.identity.Refresh(r.Context())
	if err := a.engine.TransitionTo(r.Context(), item); err != nil {
		a.writePlayerError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, a.engine.Snapshot())
}

func (a *API) handlePlayerPlay(w http.ResponseWriter, r *http.Request) {
	a.identity.Refresh(r.Context())
	if err := a.engine.Play(r.Context()); err != nil {
		a.writePlayerError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, a.engine.Snapshot())
}

func (a *API) handlePlayerPause(w http.ResponseWriter, r *http.Request) {
	a.engine.Pause()
	writeJSON(w, http.StatusOK, a.engine.Snapshot())
}

func (a *API) handlePlayerStop(w http.ResponseWriter, r *http.Request) {
	a.engine.Stop()
	writeJSON(w, http.StatusOK, a.engine.Snapshot())
}

type seekRequest struct {
	Time float64 `json:"time"`
}

func (a *API) handlePlayerSeek(w http.ResponseWriter, r *http.Request) {
	var req seekRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	a.engine.SeekTo(req.Time)
	writeJSON(w, http.StatusOK, a.engine.Snapshot())
}

type rateRequest struct {
	Rate float64 `json:"rate"`
}

func (a *API) handlePlayerRate(w http.ResponseWriter, r *http.Request) {
	var req rateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if !models.ValidPlaybackRate(req.Rate) {
		writeError(w, http.StatusBadRequest, "invalid_rate")
		return
	}
	a.engine.SetPlaybackRate(req.Rate)
	writeJSON(w, http.StatusOK, a.engine.Snapshot())
}

func (a *API) handlePlayerNext(w http.ResponseWriter, r *http.Request) {
	a.identity.Refresh(r.Context())
	if err := a.engine.PlayNext(r.Context()); err != nil {
		a.writePlayerError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, a.engine.Snapshot())
}

func (a *API) handlePlayerPrevious(w http.ResponseWriter, r *http.Request) {
	a.identity.Refresh(r.Context())
	if err := a.engine.PlayPrevious(r.Context()); err != nil {
		a.writePlayerError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, a.engine.Snapshot())
}

type dragRequest struct {
	Action  string  `json:"action"` // begin, update, end
	Percent float64 `json:"percent"`
}

func (a *API) handleConsoleDrag(w http.ResponseWriter, r *http.Request) {
	var req dragRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	switch req.Action {
	case "begin":
		a.console.BeginDrag(req.Percent)
	case "update":
		a.console.UpdateDrag(req.Percent)
	case "end":
		a.console.EndDrag()
	default:
		writeError(w, http.StatusBadRequest, "invalid_action")
		return
	}
	writeJSON(w, http.StatusOK, a.engine.Snapshot())
}

type clickRequest struct {
	X          float64 `json:"x"`
	TrackLeft  float64 `json:"track_left"`
	TrackWidth float64 `json:"track_width"`
}

func (a *API) handleConsoleClick(w http.ResponseWriter, r *http.Request) {
	var req clickRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	a.console.ClickSeek(req.X, req.TrackLeft, req.TrackWidth)
	writeJSON(w, http.StatusOK, a.engine.Snapshot())
}

type keyRequest struct {
	Key string `json:"key"`
}

func (a *API) handleConsoleKey(w http.ResponseWriter, r *http.Request) {
	var req keyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	a.console.HandleKey(req.Key)
	writeJSON(w, http.StatusOK, a.engine.Snapshot())
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	a.identity.Refresh(r.Context())
	profile, err := a.identity.Profile(r.Context())
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "unknown_subscriber")
			return
		}
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

type checkoutRequest struct {
	Plan string `json:"plan"`
}

func (a *API) handleBillingCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	claims, _ := identity.ClaimsFromContext(r.Context())
	session, err := a.billing.Checkout(r.Context(), claims.Email, req.Plan)
	if err != nil {
		a.logger.Error().Err(err).Msg("checkout failed")
		writeError(w, http.StatusBadGateway, "billing_unavailable")
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (a *API) handleBillingPortal(w http.ResponseWriter, r *http.Request) {
	claims, _ := identity.ClaimsFromContext(r.Context())
	url, err := a.billing.Portal(r.Context(), claims.Email)
	if err != nil {
		a.logger.Error().Err(err).Msg("portal session failed")
		writeError(w, http.StatusBadGateway, "billing_unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (a *API) handleBillingCancel(w http.ResponseWriter, r *http.Request) {
	claims, _ := identity.ClaimsFromContext(r.Context())
	err := a.billing.Cancel(r.Context(), claims.Email)
	switch {
	case errors.Is(err, billing.ErrCancelRestricted):
		writeError(w, http.StatusConflict, "cancel_restricted")
	case errors.Is(err, billing.ErrNoSubscription):
		writeError(w, http.StatusConflict, "no_subscription")
	case errors.Is(err, gorm.ErrRecordNotFound):
		writeError(w, http.StatusNotFound, "unknown_subscriber")
	case err != nil:
		a.logger.Error().Err(err).Msg("cancel failed")
		writeError(w, http.StatusBadGateway, "billing_unavailable")
	default:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancellation_requested"})
	}
}

func (a *API) handleCatalogRefresh(w http.ResponseWriter, r *http.Request) {
	if err := a.catalog.Refresh(r.Context(), timeNow()); err != nil {
		a.logger.Error().Err(err).Msg("catalog refresh failed")
		writeError(w, http.StatusInternalServerError, "refresh_failed")
		return
	}
	a.engine.SetPlaylist(a.catalog.Playlist())
	writeJSON(w, http.StatusOK, map[string]any{"items": len(a.catalog.Playlist())})
}

type companionRequest struct {
	ParentID             string   `json:"parent_id"`
	MediaRef             string   `json:"media_ref"`
	Title                string   `json:"title"`
	DisplayDuration      string   `json:"display_duration"`
	ExactDurationSeconds *float64 `json:"exact_duration_seconds"`
}

func (a *API) handleCompanionRegister(w http.ResponseWriter, r *http.Request) {
	var req companionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	err := a.catalog.RegisterCompanion(r.Context(), models.CompanionInfo{
		ParentID:             req.ParentID,
		MediaRef:             req.MediaRef,
		Title:                req.Title,
		DisplayDuration:      req.DisplayDuration,
		ExactDurationSeconds: req.ExactDurationSeconds,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_companion")
		return
	}
	a.engine.SetPlaylist(a.catalog.Playlist())
	writeJSON(w, http.StatusCreated, map[string]string{
		"item_id": models.CompanionID(req.ParentID),
	})
}

type deviceEventRequest struct {
	Channel  string  `json:"channel"`
	Kind     string  `json:"kind"`
	Position float64 `json:"position"`
	Duration float64 `json:"duration"`
	Error    string  `json:"error"`
}

// handleDeviceEvent accepts playback signals reported by the remote surface
// (ready, time, metadata, ended, error) and feeds them into the engine.
func (a *API) handleDeviceEvent(w http.ResponseWriter, r *http.Request) {
	if a.device == nil {
		writeError(w, http.StatusConflict, "no_remote_device")
		return
	}
	var req deviceEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	target := a.device
	if req.Channel != "" && req.Channel != target.Channel() {
		if a.cueDevice == nil || req.Channel != a.cueDevice.Channel() {
			writeError(w, http.StatusBadRequest, "unknown_channel")
			return
		}
		target = a.cueDevice
	}

	ev := player.DeviceEvent{
		Kind:     player.DeviceEventKind(req.Kind),
		Position: req.Position,
		Duration: req.Duration,
	}
	switch ev.Kind {
	case player.DeviceReady, player.DeviceTime, player.DeviceMetadata, player.DeviceEnded, player.DeviceError:
	default:
		writeError(w, http.StatusBadRequest, "invalid_kind")
		return
	}
	if req.Error != "" {
		ev.Err = errors.New(req.Error)
	}

	if !target.Inject(ev) {
		a.logger.Warn().Str("kind", req.Kind).Str("channel", target.Channel()).Msg("device event dropped, consumer backlogged")
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *API) lookupItem(id string) (models.PlayableItem, bool) {
	for _, item := range a.catalog.Playlist() {
		if item.ID == id {
			return item, true
		}
	}
	return models.PlayableItem{}, false
}

// writePlayerError maps engine errors onto HTTP statuses. Entitlement
// denials are 403 with the denial reason already surfaced as a notice.
func (a *API) writePlayerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, player.ErrNotEntitled):
		writeError(w, http.StatusForbidden, "not_entitled")
	case errors.Is(err, player.ErrNoCurrentItem):
		writeError(w, http.StatusConflict, "no_current_item")
	default:
		writeError(w, http.StatusInternalServerError, "player_error")
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

// timeNow is stubbed in tests.
var timeNow = func() time.Time { return time.Now() }
