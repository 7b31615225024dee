package models

import "testing"

func TestNormalizePlan(t *testing.T) {
	cases := []struct {
		raw  string
		want Plan
	}{
		{"vip", PlanPaid},
		{"VIP", PlanPaid},
		{"vip-trial", PlanTrial},
		{" vip-trial ", PlanTrial},
		{"free", PlanFree},
		{"", PlanFree},
		{"unknown-tier", PlanFree},
	}

	for _, tc := range cases {
		if got := NormalizePlan(tc.raw); got != tc.want {
			t.Errorf("NormalizePlan(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}

func TestPlanElevated(t *testing.T) {
	if PlanFree.Elevated() {
		t.Error("free plan must not be elevated")
	}
	if !PlanTrial.Elevated() || !PlanPaid.Elevated() {
		t.Error("trial and paid plans must be elevated")
	}
}

func TestCompanionID(t *testing.T) {
	if got := CompanionID("n1"); got != "n1_companion" {
		t.Errorf("CompanionID = %q", got)
	}
}
