/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"strings"
	"time"
)

// ItemKind distinguishes main news entries from their explainer companions.
type ItemKind string

const (
	KindPrimary   ItemKind = "primary"
	KindCompanion ItemKind = "companion"
)

// CompanionIDSuffix is appended to a primary item id to derive its companion id.
const CompanionIDSuffix = "_companion"

// PlayableItem is a single entry of the composed playlist.
type PlayableItem struct {
	ID                   string   `json:"id"`
	GroupDate            string   `json:"group_date"`
	Title                string   `json:"title"`
	MediaRef             string   `json:"media_ref"`
	DisplayDuration      string   `json:"display_duration"`
	ExactDurationSeconds *float64 `json:"exact_duration_seconds,omitempty"`
	Kind                 ItemKind `json:"kind"`
	ParentID             string   `json:"parent_id,omitempty"`
}

// IsCompanion reports whether the item is an explainer companion.
func (p PlayableItem) IsCompanion() bool {
	return p.Kind == KindCompanion
}

// CompanionID derives the companion id for a primary item id.
func CompanionID(primaryID string) string {
	return primaryID + CompanionIDSuffix
}

// CompanionInfo describes a registered explainer audio for a primary item.
// Fields left empty inherit from the primary at composition time.
type CompanionInfo struct {
	ParentID             string   `json:"parent_id"`
	Title                string   `json:"title,omitempty"`
	MediaRef             string   `json:"media_ref"`
	DisplayDuration      string   `json:"display_duration,omitempty"`
	ExactDurationSeconds *float64 `json:"exact_duration_seconds,omitempty"`
}

// Plan enumerates subscription tiers. External collaborator strings are
// mapped here at ingestion time and never cross into player logic raw.
type Plan string

const (
	PlanFree  Plan = "free"
	PlanTrial Plan = "trial"
	PlanPaid  Plan = "paid"
)

// NormalizePlan maps the identity collaborator's plan attribute to a Plan.
// Unknown or missing values default to Free.
func NormalizePlan(raw string) Plan {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "vip", "paid":
		return PlanPaid
	case "vip-trial", "trial":
		return PlanTrial
	default:
		return PlanFree
	}
}

// Elevated reports whether the plan unlocks companion audio.
func (p Plan) Elevated() bool {
	return p == PlanTrial || p == PlanPaid
}

// EntitlementContext is a read-only snapshot passed to every gating decision.
type EntitlementContext struct {
	Authenticated  bool   `json:"authenticated"`
	Plan           Plan   `json:"plan"`
	PlaylistHeadID string `json:"playlist_head_id,omitempty"`
}

// ErrorKind classifies player failures.
type ErrorKind string

const (
	ErrorNone                ErrorKind = ""
	ErrorEntitlementDenied   ErrorKind = "entitlement_denied"
	ErrorNetworkFailure      ErrorKind = "network_failure"
	ErrorDecodeFailure       ErrorKind = "decode_failure"
	ErrorPlaybackRejected    ErrorKind = "playback_rejected"
	ErrorMetadataUnavailable ErrorKind = "metadata_unavailable"
)

// PlaybackRates is the closed set of rates the device accepts.
var PlaybackRates = []float64{0.5, 0.75, 1, 1.25, 1.5, 2}

// ValidPlaybackRate reports whether rate belongs to PlaybackRates.
func ValidPlaybackRate(rate float64) bool {
	for _, r := range PlaybackRates {
		if r == rate {
			return true
		}
	}
	return false
}

// PlaybackState mirrors the engine's authoritative state. Snapshots of it are
// published to frontends; only the engine mutates the live copy.
type PlaybackState struct {
	CurrentItem          *PlayableItem `json:"current_item,omitempty"`
	IsPlaying            bool          `json:"is_playing"`
	IsLoading            bool          `json:"is_loading"`
	CurrentTime          float64       `json:"current_time"`
	Duration             float64       `json:"duration"`
	PlaybackRate         float64       `json:"playback_rate"`
	LeadInActive         bool          `json:"lead_in_active"`
	LeadInItemID         string        `json:"lead_in_item_id,omitempty"`
	PendingAutoAdvanceID string        `json:"pending_auto_advance_id,omitempty"`
	LastError            ErrorKind     `json:"last_error,omitempty"`
	UpdatedAt            time.Time     `json:"updated_at"`
}
