/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package player

import (
	"context"
	"sync"

	"github.com/friendsincode/mimir_news/internal/events"
	"github.com/friendsincode/mimir_news/internal/loader"
)

// Device command operations sent to the remote playback surface.
const (
	CommandSetSource = "set_source"
	CommandLoad      = "load"
	CommandPlay      = "play"
	CommandPause     = "pause"
	CommandSeek      = "seek"
	CommandSetRate   = "set_rate"
)

// RemoteDevice bridges the engine to a playback surface running elsewhere,
// typically a browser connected over the state stream. Engine commands are
// published on the bus as device command events; the surface reports back
// by injecting device events through the API.
//
// Prefetched blobs cannot cross the wire, so SetSource forwards the media
// reference and the surface fetches it with its own loader.
type RemoteDevice struct {
	bus     *events.Bus
	channel string
	ch      chan DeviceEvent

	mu       sync.Mutex
	ref      string
	duration float64
}

// NewRemoteDevice creates the main playback device bridged over the bus.
func NewRemoteDevice(bus *events.Bus) *RemoteDevice {
	return NewRemoteDeviceChannel(bus, "main")
}

// NewRemoteDeviceChannel creates a bridged device on a named channel. The
// lead-in cue uses a separate channel so its commands never collide with the
// main source.
func NewRemoteDeviceChannel(bus *events.Bus, channel string) *RemoteDevice {
	return &RemoteDevice{
		bus:     bus,
		channel: channel,
		ch:      make(chan DeviceEvent, 64),
	}
}

// Channel returns the channel label commands are tagged with.
func (d *RemoteDevice) Channel() string {
	return d.channel
}

func (d *RemoteDevice) publish(op string, payload events.Payload) {
	if payload == nil {
		payload = events.Payload{}
	}
	payload["op"] = op
	payload["channel"] = d.channel
	d.bus.Publish(events.EventDeviceCommand, payload)
}

// SetSource records the media reference for the surface to fetch.
func (d *RemoteDevice) SetSource(handle *loader.Handle) {
	d.mu.Lock()
	d.ref = handle.Ref
	d.mu.Unlock()
	d.publish(CommandSetSource, events.Payload{"ref": handle.Ref})
}

// Load asks the surface to begin loading the current source.
func (d *RemoteDevice) Load() {
	d.publish(CommandLoad, nil)
}

// Play asks the surface to start playback. A refusal arrives later as an
// injected error event rather than a synchronous return.
func (d *RemoteDevice) Play(ctx context.Context) error {
	d.publish(CommandPlay, nil)
	return nil
}

// Pause asks the surface to pause.
func (d *RemoteDevice) Pause() {
	d.publish(CommandPause, nil)
}

// Seek asks the surface to seek to an absolute position.
func (d *RemoteDevice) Seek(seconds float64) {
	d.publish(CommandSeek, events.Payload{"seconds": seconds})
}

// SetRate asks the surface to change the playback rate.
func (d *RemoteDevice) SetRate(rate float64) {
	d.publish(CommandSetRate, events.Payload{"rate": rate})
}

// Duration returns the last duration the surface reported.
func (d *RemoteDevice) Duration() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.duration
}

// Events returns the channel the engine consumes.
func (d *RemoteDevice) Events() <-chan DeviceEvent {
	return d.ch
}

// Inject feeds a surface-reported event into the engine. Events are dropped
// when the engine falls behind rather than blocking the HTTP handler.
func (d *RemoteDevice) Inject(ev DeviceEvent) bool {
	if ev.Kind == DeviceReady || ev.Kind == DeviceTime || ev.Kind == DeviceMetadata {
		d.mu.Lock()
		if ev.Duration > 0 {
			d.duration = ev.Duration
		}
		d.mu.Unlock()
	}
	select {
	case d.ch <- ev:
		return true
	default:
		return false
	}
}
