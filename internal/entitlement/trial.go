/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package entitlement

import "time"

// dateLayouts accepted for the collaborator's calendar-date attributes.
var dateLayouts = []string{"2006-01-02", time.RFC3339, "2006/01/02"}

// parseCalendarDate parses raw and truncates it to a calendar date.
func parseCalendarDate(raw string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			y, m, d := parsed.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

// CancelRestricted reports whether subscription cancellation is blocked
// because the trial-continuation start date has not yet passed. Both sides
// are treated as calendar dates; time of day is ignored. An absent or
// unparseable start date never restricts.
func CancelRestricted(today time.Time, trialStartFrom string) bool {
	if trialStartFrom == "" {
		return false
	}
	start, ok := parseCalendarDate(trialStartFrom)
	if !ok {
		return false
	}
	y, m, d := today.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return !day.After(start)
}

// TrialContinued reports whether a trial plan has a continuation scheduled
// in the future, i.e. the paid period has not started yet.
func TrialContinued(now time.Time, trialStartFrom string) bool {
	if trialStartFrom == "" {
		return false
	}
	start, ok := parseCalendarDate(trialStartFrom)
	if !ok {
		return false
	}
	y, m, d := now.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return start.After(day)
}
