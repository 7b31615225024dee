/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package player

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/mimir_news/internal/entitlement"
	"github.com/friendsincode/mimir_news/internal/events"
	"github.com/friendsincode/mimir_news/internal/loader"
	"github.com/friendsincode/mimir_news/internal/models"
	"github.com/friendsincode/mimir_news/internal/playlist"
	"github.com/friendsincode/mimir_news/internal/telemetry"
)

// DefaultAutoAdvanceDelay separates an item's natural end from the start of
// the next one, letting the end settle instead of cutting straight over.
const DefaultAutoAdvanceDelay = 500 * time.Millisecond

var (
	// ErrNotEntitled is returned when entitlement evaluation denies a
	// transition. It is a gating outcome, not a fault.
	ErrNotEntitled = errors.New("item not entitled for playback")

	// ErrNoCurrentItem is returned by operations that need a selected item.
	ErrNoCurrentItem = errors.New("no current item selected")
)

// Options tunes engine behavior.
type Options struct {
	// AutoAdvanceDelay overrides DefaultAutoAdvanceDelay. Tests shrink it.
	AutoAdvanceDelay time.Duration
	// Profile describes the listening client, deciding the loader's
	// prefetch strategy.
	Profile loader.Profile
}

// Engine owns the playback device and drives the state machine. All state
// lives behind one mutex; asynchronous continuations carry a generation
// token and abandon themselves when a newer operation has superseded them.
//
// Device implementations must not call back into the engine; signals flow
// only through the event channel consumed by Run.
type Engine struct {
	device   Device
	cue      CueDevice
	loader   *loader.Loader
	profile  loader.Profile
	snapshot func() models.EntitlementContext
	notifier Notifier
	bus      *events.Bus
	logger   zerolog.Logger

	autoAdvanceDelay time.Duration

	mu            sync.Mutex
	items         []models.PlayableItem
	state         models.PlaybackState
	generation    uint64
	cancelLoad    context.CancelFunc
	loaded        bool
	pendingPlay   bool
	awaitingReady bool
	advanceTimer  *time.Timer
}

// NewEngine creates a playback engine. snapshot must return the latest
// entitlement context on every call; the engine never caches it. cue and
// notifier may be nil.
func NewEngine(device Device, cue CueDevice, ldr *loader.Loader, snapshot func() models.EntitlementContext, notifier Notifier, bus *events.Bus, logger zerolog.Logger, opts Options) *Engine {
	if cue == nil {
		cue = NopCue{}
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if bus == nil {
		bus = events.NewBus()
	}
	delay := opts.AutoAdvanceDelay
	if delay == 0 {
		delay = DefaultAutoAdvanceDelay
	}
	return &Engine{
		device:           device,
		cue:              cue,
		loader:           ldr,
		profile:          opts.Profile,
		snapshot:         snapshot,
		notifier:         notifier,
		bus:              bus,
		logger:           logger.With().Str("component", "player").Logger(),
		autoAdvanceDelay: delay,
		state:            models.PlaybackState{PlaybackRate: 1},
	}
}

// Run consumes device events until ctx is cancelled or the device closes
// its event channel.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info().Msg("playback engine started")
	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("playback engine stopped")
			return ctx.Err()
		case ev, ok := <-e.device.Events():
			if !ok {
				return nil
			}
			e.handleDeviceEvent(ev)
		}
	}
}

// SetPlaylist installs the composed playlist consulted by next/previous and
// auto-advance.
func (e *Engine) SetPlaylist(items []models.PlayableItem) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.items = append([]models.PlayableItem(nil), items...)
}

// Playlist returns a copy of the installed playlist.
func (e *Engine) Playlist() []models.PlayableItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.PlayableItem(nil), e.items...)
}

// Snapshot returns a copy of the current playback state.
func (e *Engine) Snapshot() models.PlaybackState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// SelectItem makes item current, cancelling any in-flight load and resetting
// the playhead. With autoStart false no media is fetched; the item is shown
// in its metadata-only state. With autoStart true the item is gated and
// loaded, and playback begins once the device reports ready.
func (e *Engine) SelectItem(ctx context.Context, item models.PlayableItem, autoStart bool) error {
	e.mu.Lock()
	if autoStart {
		if allowed, reason := entitlement.Evaluate(item, e.snapshot()); !allowed {
			e.denyLocked(item, reason)
			e.mu.Unlock()
			return ErrNotEntitled
		}
	}
	e.supersedeLocked()
	e.resetToItemLocked(item)
	if !autoStart {
		e.state.IsLoading = false
		e.publishStateLocked()
		e.mu.Unlock()
		return nil
	}
	e.startLoadLocked(ctx, e.generation, item, true)
	e.mu.Unlock()
	return nil
}

// TransitionTo moves playback to item: entitlement gate, synchronous pause
// of whatever is sounding, lead-in cue, then load and play. Used for both
// explicit item clicks and auto-advance.
func (e *Engine) TransitionTo(ctx context.Context, item models.PlayableItem) error {
	e.mu.Lock()
	if allowed, reason := entitlement.Evaluate(item, e.snapshot()); !allowed {
		e.denyLocked(item, reason)
		e.mu.Unlock()
		return ErrNotEntitled
	}
	e.supersedeLocked()
	gen := e.generation
	e.device.Pause()
	e.resetToItemLocked(item)
	e.state.LeadInActive = true
	e.state.LeadInItemID = item.ID
	e.publishStateLocked()
	e.bus.Publish(events.EventLeadInStarted, events.Payload{"item_id": item.ID, "kind": string(item.Kind)})
	e.mu.Unlock()

	go e.runLeadIn(ctx, gen, item)
	return nil
}

// Play starts the current item. Unloaded media is fetched first and played
// on ready; loaded media plays directly.
func (e *Engine) Play(ctx context.Context) error {
	e.mu.Lock()
	cur := e.state.CurrentItem
	if cur == nil {
		e.mu.Unlock()
		return ErrNoCurrentItem
	}
	item := *cur
	if allowed, reason := entitlement.Evaluate(item, e.snapshot()); !allowed {
		e.denyLocked(item, reason)
		e.mu.Unlock()
		return ErrNotEntitled
	}
	if e.loaded {
		gen := e.generation
		e.mu.Unlock()
		go e.playDevice(ctx, gen, item)
		return nil
	}
	if e.state.IsLoading {
		e.pendingPlay = true
		e.mu.Unlock()
		return nil
	}
	e.supersedeLocked()
	e.startLoadLocked(ctx, e.generation, item, true)
	e.mu.Unlock()
	return nil
}

// Pause halts playback synchronously and cancels any in-flight load.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.supersedeLocked()
	e.device.Pause()
	e.state.IsPlaying = false
	e.state.IsLoading = false
	e.publishStateLocked()
}

// Stop pauses and rewinds to the start of the current item.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.supersedeLocked()
	e.device.Pause()
	e.device.Seek(0)
	e.state.IsPlaying = false
	e.state.IsLoading = false
	e.state.CurrentTime = 0
	e.publishStateLocked()
}

// SeekTo moves the playhead. No-op while duration is unknown or when t is
// not a finite non-negative number; otherwise clamped to [0, duration] and
// applied to device and state together.
func (e *Engine) SeekTo(t float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d := e.state.Duration
	if !validDuration(d) {
		return
	}
	if math.IsNaN(t) || math.IsInf(t, 0) || t < 0 {
		return
	}
	if t > d {
		t = d
	}
	e.device.Seek(t)
	e.state.CurrentTime = t
	e.publishStateLocked()
}

// SetPlaybackRate applies a rate to device and state immediately.
func (e *Engine) SetPlaybackRate(rate float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.device.SetRate(rate)
	e.state.PlaybackRate = rate
	e.publishStateLocked()
}

// PlayNext transitions to the item after the current one. No wraparound.
func (e *Engine) PlayNext(ctx context.Context) error {
	next, ok := e.neighbor(playlist.Next)
	if !ok {
		return nil
	}
	return e.TransitionTo(ctx, next)
}

// PlayPrevious transitions to the item before the current one. No wraparound.
func (e *Engine) PlayPrevious(ctx context.Context) error {
	prev, ok := e.neighbor(playlist.Previous)
	if !ok {
		return nil
	}
	return e.TransitionTo(ctx, prev)
}

func (e *Engine) neighbor(pick func([]models.PlayableItem, string) (models.PlayableItem, bool)) (models.PlayableItem, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.CurrentItem == nil {
		return models.PlayableItem{}, false
	}
	return pick(e.items, e.state.CurrentItem.ID)
}

// supersedeLocked invalidates every outstanding asynchronous continuation:
// the in-flight load, the pending auto-advance timer, and any lead-in or
// ready callback still carrying an old generation.
func (e *Engine) supersedeLocked() {
	e.generation++
	if e.cancelLoad != nil {
		e.cancelLoad()
		e.cancelLoad = nil
	}
	if e.advanceTimer != nil {
		e.advanceTimer.Stop()
		e.advanceTimer = nil
	}
	e.state.PendingAutoAdvanceID = ""
	e.pendingPlay = false
	e.awaitingReady = false
	// A superseded lead-in continuation will never run its clearing code.
	e.state.LeadInActive = false
	e.state.LeadInItemID = ""
}

func (e *Engine) resetToItemLocked(item models.PlayableItem) {
	it := item
	e.state.CurrentItem = &it
	e.state.CurrentTime = 0
	e.state.Duration = 0
	e.state.IsPlaying = false
	e.state.LastError = models.ErrorNone
	e.state.LeadInActive = false
	e.state.LeadInItemID = ""
	e.loaded = false
	e.awaitingReady = false
}

// startLoadLocked enters Loading and resolves media asynchronously. The
// load context is detached from the caller so a finished HTTP request does
// not abort it; cancellation happens only through supersession.
func (e *Engine) startLoadLocked(ctx context.Context, gen uint64, item models.PlayableItem, playWhenReady bool) {
	e.state.IsLoading = true
	e.state.IsPlaying = false
	e.pendingPlay = playWhenReady
	e.publishStateLocked()

	loadCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.cancelLoad = cancel
	go e.runLoad(loadCtx, gen, item)
}

func (e *Engine) runLoad(ctx context.Context, gen uint64, item models.PlayableItem) {
	handle, err := e.loader.Resolve(ctx, item.MediaRef, e.profile)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.generation != gen {
		return
	}
	if err != nil {
		kind := loader.Classify(err)
		if kind == models.ErrorNone {
			// Superseded mid-flight; the winner already owns the state.
			return
		}
		e.failLocked(item, kind, err)
		return
	}
	e.device.SetSource(handle)
	e.device.Load()
	e.awaitingReady = true
}

func (e *Engine) runLeadIn(ctx context.Context, gen uint64, item models.PlayableItem) {
	cueCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.cue.Play(cueCtx); err != nil {
		// Cue failure never blocks progression.
		e.logger.Debug().Err(err).Msg("lead-in cue failed")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.generation != gen {
		return
	}
	e.state.LeadInActive = false
	e.state.LeadInItemID = ""
	e.startLoadLocked(ctx, gen, item, true)
}

func (e *Engine) playDevice(ctx context.Context, gen uint64, item models.PlayableItem) {
	err := e.device.Play(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.generation != gen {
		return
	}
	if err != nil {
		e.failLocked(item, models.ErrorPlaybackRejected, err)
		return
	}
	e.state.IsPlaying = true
	e.state.IsLoading = false
	e.state.LastError = models.ErrorNone
	e.publishStateLocked()
	telemetry.PlaysStarted.WithLabelValues(string(item.Kind)).Inc()
	e.bus.Publish(events.EventNowPlaying, events.Payload{
		"item_id":    item.ID,
		"title":      item.Title,
		"kind":       string(item.Kind),
		"group_date": item.GroupDate,
	})
}

func (e *Engine) handleDeviceEvent(ev DeviceEvent) {
	switch ev.Kind {
	case DeviceReady, DeviceMetadata:
		e.handleDurationEvent(ev)
	case DeviceTime:
		e.handleTimeEvent(ev)
	case DeviceEnded:
		e.handleEnded()
	case DeviceError:
		e.handleDeviceError(ev)
	}
}

func (e *Engine) handleDurationEvent(ev DeviceEvent) {
	e.mu.Lock()
	cur := e.state.CurrentItem
	if cur == nil {
		e.mu.Unlock()
		return
	}
	// Duration signals are only meaningful once the device was pointed at
	// the current source. Anything earlier is a leftover from a previous
	// source and must not complete the in-flight load.
	if !e.awaitingReady && !e.loaded {
		e.mu.Unlock()
		return
	}
	dev := ev.Duration
	if dev == 0 {
		dev = e.device.Duration()
	}
	e.state.Duration = ReconcileDuration(cur.ExactDurationSeconds, dev)

	if ev.Kind != DeviceReady {
		e.publishStateLocked()
		e.mu.Unlock()
		return
	}

	e.loaded = true
	e.awaitingReady = false
	e.state.IsLoading = false
	start := e.pendingPlay
	e.pendingPlay = false
	gen := e.generation
	item := *cur
	e.publishStateLocked()
	e.mu.Unlock()

	if start {
		go e.playDevice(context.Background(), gen, item)
	}
}

func (e *Engine) handleTimeEvent(ev DeviceEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t := ev.Position
	if t < 0 || math.IsNaN(t) {
		return
	}
	if validDuration(e.state.Duration) && t > e.state.Duration {
		t = e.state.Duration
	}
	e.state.CurrentTime = t
	e.publishStateLocked()
}

func (e *Engine) handleEnded() {
	e.mu.Lock()
	cur := e.state.CurrentItem
	if cur == nil {
		e.mu.Unlock()
		return
	}
	e.state.IsPlaying = false
	if validDuration(e.state.Duration) {
		e.state.CurrentTime = e.state.Duration
	}
	item := *cur
	e.bus.Publish(events.EventPlaybackEnded, events.Payload{
		"item_id":   item.ID,
		"kind":      string(item.Kind),
		"completed": true,
	})

	next, ok := playlist.Next(e.items, item.ID)
	if !ok {
		e.publishStateLocked()
		e.mu.Unlock()
		return
	}

	e.state.PendingAutoAdvanceID = next.ID
	gen := e.generation
	e.publishStateLocked()
	e.advanceTimer = time.AfterFunc(e.autoAdvanceDelay, func() {
		e.autoAdvance(gen, next)
	})
	e.mu.Unlock()
}

func (e *Engine) autoAdvance(gen uint64, next models.PlayableItem) {
	e.mu.Lock()
	e.state.PendingAutoAdvanceID = ""
	e.publishStateLocked()
	if e.generation != gen {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	telemetry.AutoAdvances.Inc()
	e.bus.Publish(events.EventAutoAdvance, events.Payload{"item_id": next.ID, "kind": string(next.Kind)})
	if err := e.TransitionTo(context.Background(), next); err != nil {
		e.logger.Debug().Err(err).Str("item", next.ID).Msg("auto-advance transition declined")
	}
}

func (e *Engine) handleDeviceError(ev DeviceEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cur := e.state.CurrentItem
	if cur == nil {
		return
	}
	e.failLocked(*cur, models.ErrorDecodeFailure, ev.Err)
}

// failLocked resolves a failed load or play. Loading never sticks: every
// failure path lands with isLoading false.
func (e *Engine) failLocked(item models.PlayableItem, kind models.ErrorKind, err error) {
	e.state.IsLoading = false
	e.state.IsPlaying = false
	e.state.LeadInActive = false
	e.state.LeadInItemID = ""
	e.pendingPlay = false
	e.awaitingReady = false
	e.state.LastError = kind
	e.publishStateLocked()

	e.logger.Warn().Err(err).Str("item", item.ID).Str("kind", string(kind)).Msg("playback failure")
	telemetry.PlaybackFailures.WithLabelValues(string(kind)).Inc()
	e.bus.Publish(events.EventPlaybackError, events.Payload{
		"item_id": item.ID,
		"error":   string(kind),
	})

	title, message := failureNotice(kind)
	if message != "" {
		e.notifier.Notify("error", title, message)
	}
}

func failureNotice(kind models.ErrorKind) (title, message string) {
	switch kind {
	case models.ErrorNetworkFailure:
		return "Playback problem", "Could not load the audio. Check your connection and try again."
	case models.ErrorDecodeFailure:
		return "Playback problem", "This audio could not be played."
	case models.ErrorPlaybackRejected:
		return "Playback blocked", "Your device refused to start playback."
	default:
		return "", ""
	}
}

// denyLocked surfaces an entitlement denial as a warning notice. Denials
// are normal gating outcomes and are never logged as errors.
func (e *Engine) denyLocked(item models.PlayableItem, reason entitlement.Reason) {
	notice := entitlement.DenialNotice(reason)
	e.notifier.Notify("warning", notice.Title, notice.Message)
	e.logger.Info().Str("item", item.ID).Str("reason", string(reason)).Msg("playback denied")
	telemetry.EntitlementDenials.WithLabelValues(string(reason)).Inc()
	e.bus.Publish(events.EventEntitlementDenied, events.Payload{
		"item_id": item.ID,
		"reason":  string(reason),
	})
}

func (e *Engine) snapshotLocked() models.PlaybackState {
	snap := e.state
	if e.state.CurrentItem != nil {
		it := *e.state.CurrentItem
		snap.CurrentItem = &it
	}
	return snap
}

func (e *Engine) publishStateLocked() {
	e.state.UpdatedAt = time.Now().UTC()
	snap := e.snapshotLocked()
	e.bus.Publish(events.EventPlaybackState, events.Payload{"state": snap})
}
