/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package console bridges frontend progress-bar gestures to engine seeks.
// Drag state is local to the bridge; the engine is only touched on release,
// so a drag in progress never fights the time events streaming underneath.
package console

import (
	"math"
	"sync"

	"github.com/friendsincode/mimir_news/internal/models"
)

// SeekStep is the keyboard arrow increment in seconds.
const SeekStep = 10.0

// Transport is the slice of the playback engine the console needs.
type Transport interface {
	Snapshot() models.PlaybackState
	SeekTo(t float64)
}

// Console tracks one client's scrub gesture.
type Console struct {
	transport Transport

	mu          sync.Mutex
	dragging    bool
	dragPercent float64
}

// New creates a console bound to a playback engine.
func New(transport Transport) *Console {
	return &Console{transport: transport}
}

// BeginDrag starts a scrub gesture at the given track percentage.
func (c *Console) BeginDrag(percent float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dragging = true
	c.dragPercent = clampPercent(percent)
}

// UpdateDrag moves the scrub position. Ignored outside a gesture.
func (c *Console) UpdateDrag(percent float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dragging {
		return
	}
	c.dragPercent = clampPercent(percent)
}

// EndDrag finishes the gesture and converts the final percentage into an
// absolute seek against the engine's current duration.
func (c *Console) EndDrag() {
	c.mu.Lock()
	if !c.dragging {
		c.mu.Unlock()
		return
	}
	c.dragging = false
	percent := c.dragPercent
	c.mu.Unlock()

	d := c.transport.Snapshot().Duration
	if !seekable(d) {
		return
	}
	c.transport.SeekTo(percent / 100 * d)
}

// Dragging reports whether a gesture is active and its current percentage.
func (c *Console) Dragging() (bool, float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dragging, c.dragPercent
}

// ClickSeek handles a non-drag click at pointer position x within a track
// spanning [trackLeft, trackLeft+trackWidth).
func (c *Console) ClickSeek(x, trackLeft, trackWidth float64) {
	if trackWidth <= 0 {
		return
	}
	percent := clampPercent((x - trackLeft) / trackWidth * 100)

	d := c.transport.Snapshot().Duration
	if !seekable(d) {
		return
	}
	c.transport.SeekTo(percent / 100 * d)
}

// Key names accepted by HandleKey.
const (
	KeyArrowLeft  = "ArrowLeft"
	KeyArrowRight = "ArrowRight"
	KeyHome       = "Home"
	KeyEnd        = "End"
)

// HandleKey applies a keyboard seek binding. Unknown keys are ignored, as is
// every binding while duration is unknown.
func (c *Console) HandleKey(key string) {
	snap := c.transport.Snapshot()
	if !seekable(snap.Duration) {
		return
	}

	switch key {
	case KeyArrowLeft:
		c.transport.SeekTo(math.Max(0, snap.CurrentTime-SeekStep))
	case KeyArrowRight:
		c.transport.SeekTo(math.Min(snap.Duration, snap.CurrentTime+SeekStep))
	case KeyHome:
		c.transport.SeekTo(0)
	case KeyEnd:
		target := snap.Duration - 1
		if target <= 0 || math.IsInf(target, 0) || math.IsNaN(target) {
			return
		}
		c.transport.SeekTo(target)
	}
}

// DisplayPercent is the progress percentage the frontend should render: the
// drag position while a gesture is active, the engine playhead otherwise.
func (c *Console) DisplayPercent() float64 {
	c.mu.Lock()
	if c.dragging {
		p := c.dragPercent
		c.mu.Unlock()
		return p
	}
	c.mu.Unlock()

	snap := c.transport.Snapshot()
	if !seekable(snap.Duration) {
		return 0
	}
	return clampPercent(snap.CurrentTime / snap.Duration * 100)
}

func clampPercent(p float64) float64 {
	if math.IsNaN(p) || p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

func seekable(d float64) bool {
	return d > 0 && !math.IsInf(d, 0) && !math.IsNaN(d)
}
