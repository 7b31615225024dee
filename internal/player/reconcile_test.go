/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package player

import (
	"math"
	"testing"
)

func TestReconcileDuration(t *testing.T) {
	f := func(v float64) *float64 { return &v }

	cases := []struct {
		name     string
		external *float64
		device   float64
		want     float64
	}{
		{"within tolerance prefers external", f(130.0), 128.5, 130.0},
		{"beyond tolerance prefers device", f(130.0), 50.0, 50.0},
		{"external only", f(95.2), 0, 95.2},
		{"device only", nil, 200.0, 200.0},
		{"neither", nil, 0, DefaultDuration},
		{"external NaN falls back to device", f(math.NaN()), 200.0, 200.0},
		{"device infinite falls back to external", f(130.0), math.Inf(1), 130.0},
		{"both invalid", f(-1), math.NaN(), DefaultDuration},
		{"exactly at tolerance prefers device", f(125.0), 120.0, 120.0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ReconcileDuration(tc.external, tc.device); got != tc.want {
				t.Errorf("ReconcileDuration = %v, want %v", got, tc.want)
			}
		})
	}
}
