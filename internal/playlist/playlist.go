/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package playlist composes the ordered playback sequence from daily news
// items and their registered explainer companions.
package playlist

import (
	"github.com/friendsincode/mimir_news/internal/models"
)

// Compose interleaves companions into the primary sequence: each primary is
// emitted in source order, immediately followed by its companion when one is
// registered. Deterministic for identical inputs; companions resolving after
// primaries are already playing recompose into the same relative order.
func Compose(primaries []models.PlayableItem, companions map[string]models.CompanionInfo) []models.PlayableItem {
	out := make([]models.PlayableItem, 0, len(primaries)+len(companions))
	for _, primary := range primaries {
		out = append(out, primary)
		if info, ok := companions[primary.ID]; ok {
			out = append(out, synthesizeCompanion(primary, info))
		}
	}
	return out
}

// synthesizeCompanion builds the companion entry, inheriting the primary's
// date and fallback duration unless the registration supplies its own.
func synthesizeCompanion(primary models.PlayableItem, info models.CompanionInfo) models.PlayableItem {
	item := models.PlayableItem{
		ID:                   models.CompanionID(primary.ID),
		GroupDate:            primary.GroupDate,
		Title:                info.Title,
		MediaRef:             info.MediaRef,
		DisplayDuration:      info.DisplayDuration,
		ExactDurationSeconds: info.ExactDurationSeconds,
		Kind:                 models.KindCompanion,
		ParentID:             primary.ID,
	}
	if item.Title == "" {
		item.Title = primary.Title + " (explainer)"
	}
	if item.DisplayDuration == "" {
		item.DisplayDuration = primary.DisplayDuration
	}
	return item
}

// IndexOf locates id in the composed sequence, or -1.
func IndexOf(items []models.PlayableItem, id string) int {
	for i, item := range items {
		if item.ID == id {
			return i
		}
	}
	return -1
}

// Next returns the item after id, if any. No wraparound.
func Next(items []models.PlayableItem, id string) (models.PlayableItem, bool) {
	idx := IndexOf(items, id)
	if idx == -1 || idx >= len(items)-1 {
		return models.PlayableItem{}, false
	}
	return items[idx+1], true
}

// Previous returns the item before id, if any. No wraparound.
func Previous(items []models.PlayableItem, id string) (models.PlayableItem, bool) {
	idx := IndexOf(items, id)
	if idx <= 0 {
		return models.PlayableItem{}, false
	}
	return items[idx-1], true
}

// HeadID returns the id of the first primary item, used by the guest
// single-item entitlement rule.
func HeadID(primaries []models.PlayableItem) string {
	if len(primaries) == 0 {
		return ""
	}
	return primaries[0].ID
}
