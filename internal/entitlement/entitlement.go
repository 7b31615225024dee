/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package entitlement decides whether a listener may play a given item.
package entitlement

import (
	"github.com/friendsincode/mimir_news/internal/models"
)

// Reason explains a gating decision. Denials are normal outcomes, not faults.
type Reason string

const (
	ReasonAllowed                  Reason = "allowed"
	ReasonCompanionRequiresUpgrade Reason = "companion_requires_upgrade"
	ReasonGuestRequiresLogin       Reason = "guest_requires_login"
	ReasonPlanRequiresUpgrade      Reason = "plan_requires_upgrade"
)

// CanPlay reports whether the item is playable under ctx. Pure and total.
func CanPlay(item models.PlayableItem, ctx models.EntitlementContext) bool {
	allowed, _ := Evaluate(item, ctx)
	return allowed
}

// Evaluate gates an item and reports the reason for a denial.
//
// Companion items are playable only on elevated plans; a plan implies an
// authenticated session, so the authentication flag is not consulted.
// Guests may sample only the head of the playlist. Any authenticated
// listener may play primary items regardless of plan.
func Evaluate(item models.PlayableItem, ctx models.EntitlementContext) (bool, Reason) {
	if item.IsCompanion() {
		if ctx.Plan.Elevated() {
			return true, ReasonAllowed
		}
		return false, ReasonCompanionRequiresUpgrade
	}

	if !ctx.Authenticated {
		if ctx.PlaylistHeadID != "" && item.ID == ctx.PlaylistHeadID {
			return true, ReasonAllowed
		}
		return false, ReasonGuestRequiresLogin
	}

	return true, ReasonAllowed
}

// Notice is the user-facing text for a denial.
type Notice struct {
	Title   string
	Message string
}

// DenialNotice maps a denial reason to its transient notice.
func DenialNotice(reason Reason) Notice {
	switch reason {
	case ReasonCompanionRequiresUpgrade:
		return Notice{Title: "Members only", Message: "Explainer audio is available on paid plans."}
	case ReasonGuestRequiresLogin:
		return Notice{Title: "Sign in required", Message: "Sign in to listen to this audio."}
	case ReasonPlanRequiresUpgrade:
		return Notice{Title: "Members only", Message: "This content is available on paid plans."}
	default:
		return Notice{}
	}
}
