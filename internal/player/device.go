/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package player implements the playback state machine. A single Engine
// exclusively owns one playback Device; every transition is gated by
// entitlement evaluation and serialized through the engine's lock.
package player

import (
	"context"

	"github.com/friendsincode/mimir_news/internal/loader"
)

// DeviceEventKind enumerates signals emitted by a playback device.
type DeviceEventKind string

const (
	DeviceReady    DeviceEventKind = "ready"
	DeviceTime     DeviceEventKind = "time"
	DeviceMetadata DeviceEventKind = "metadata"
	DeviceEnded    DeviceEventKind = "ended"
	DeviceError    DeviceEventKind = "error"
)

// DeviceEvent is a single signal from the playback device. Position is set
// for time events, Duration for ready and metadata events, Err for error
// events.
type DeviceEvent struct {
	Kind     DeviceEventKind
	Position float64
	Duration float64
	Err      error
}

// Device abstracts the platform audio element. Implementations must be safe
// for calls from the engine goroutine and must deliver events on the channel
// returned by Events until closed.
type Device interface {
	// SetSource points the device at a resolved media handle, discarding
	// any previously loaded media.
	SetSource(handle *loader.Handle)
	// Load begins fetching/decoding the current source. Completion is
	// signaled by a ready event.
	Load()
	// Play starts playback. Returns an error when the platform rejects
	// the play request.
	Play(ctx context.Context) error
	// Pause halts playback synchronously.
	Pause()
	// Seek moves the playhead to the given position in seconds.
	Seek(seconds float64)
	// Duration reports the natively derived duration, 0 when unknown.
	Duration() float64
	// SetRate applies a playback rate multiplier.
	SetRate(rate float64)
	// Events yields device signals in emission order.
	Events() <-chan DeviceEvent
}

// CueDevice plays the short fixed lead-in cue. It is separate from the main
// Device so cue playback never disturbs the loaded source.
type CueDevice interface {
	// Play blocks until the cue finishes or fails. Failures are ignored
	// by the engine; the cue is cosmetic.
	Play(ctx context.Context) error
}

// Notifier delivers transient user-facing notices. Fire-and-forget.
type Notifier interface {
	Notify(severity, title, message string)
}

// NopNotifier discards all notices.
type NopNotifier struct{}

func (NopNotifier) Notify(severity, title, message string) {}
