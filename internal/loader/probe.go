/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package loader resolves a playable item's media reference into something
// the playback device can consume.
package loader

import "regexp"

// mobilePattern matches user agents of bandwidth-constrained clients.
var mobilePattern = regexp.MustCompile(`(?i)Android|webOS|iPhone|iPad|iPod|BlackBerry|IEMobile|Opera Mini`)

// DefaultConstrainedWidth is the viewport width at or below which a client
// is treated as bandwidth-constrained.
const DefaultConstrainedWidth = 768

// Profile describes the requesting client, as reported by the frontend.
type Profile struct {
	UserAgent     string
	ViewportWidth int
}

// Probe classifies clients for the prefetch decision.
type Probe struct {
	ConstrainedWidth int
}

// NewProbe creates a probe. A non-positive width falls back to the default.
func NewProbe(constrainedWidth int) Probe {
	if constrainedWidth <= 0 {
		constrainedWidth = DefaultConstrainedWidth
	}
	return Probe{ConstrainedWidth: constrainedWidth}
}

// Constrained reports whether the client should receive a full prefetch
// instead of progressive streaming. Progressive range-request streaming
// stalls under poor mobile network conditions; trading startup latency for
// continuity is the better default there.
func (p Probe) Constrained(profile Profile) bool {
	if mobilePattern.MatchString(profile.UserAgent) {
		return true
	}
	return profile.ViewportWidth > 0 && profile.ViewportWidth <= p.ConstrainedWidth
}
