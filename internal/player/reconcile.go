/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package player

import "math"

const (
	// DurationTolerance is the maximum gap, in seconds, at which an
	// externally supplied duration is still trusted over the device's
	// own reading.
	DurationTolerance = 5.0

	// DefaultDuration is assumed when neither source yields a usable
	// duration, so progress display never sits at zero indefinitely.
	DefaultDuration = 300.0
)

// ReconcileDuration merges an externally supplied exact duration with the
// device's natively derived one. The external value is sub-second precise
// and wins when the two agree within tolerance; a larger divergence means
// the external value is stale and the device wins.
func ReconcileDuration(external *float64, device float64) float64 {
	extValid := external != nil && validDuration(*external)
	devValid := validDuration(device)

	switch {
	case extValid && devValid:
		if math.Abs(*external-device) < DurationTolerance {
			return *external
		}
		return device
	case extValid:
		return *external
	case devValid:
		return device
	default:
		return DefaultDuration
	}
}

func validDuration(d float64) bool {
	return !math.IsNaN(d) && !math.IsInf(d, 0) && d > 0
}
