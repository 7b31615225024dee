package playlist

import (
	"reflect"
	"testing"

	"github.com/friendsincode/mimir_news/internal/models"
)

func primaries(ids ...string) []models.PlayableItem {
	items := make([]models.PlayableItem, 0, len(ids))
	for _, id := range ids {
		items = append(items, models.PlayableItem{
			ID:              id,
			GroupDate:       "2026-03-10",
			Title:           "News " + id,
			MediaRef:        "https://cdn.example.com/audio_" + id + ".mp3",
			DisplayDuration: "5:44",
			Kind:            models.KindPrimary,
		})
	}
	return items
}

func ids(items []models.PlayableItem) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.ID)
	}
	return out
}

func TestComposeInterleavesCompanions(t *testing.T) {
	companions := map[string]models.CompanionInfo{
		"n1": {ParentID: "n1", MediaRef: "https://cdn.example.com/explainer_n1.mp3"},
	}

	composed := Compose(primaries("n1", "n2", "n3"), companions)

	want := []string{"n1", "n1_companion", "n2", "n3"}
	if !reflect.DeepEqual(ids(composed), want) {
		t.Fatalf("composed order = %v, want %v", ids(composed), want)
	}
	if composed[1].Kind != models.KindCompanion || composed[1].ParentID != "n1" {
		t.Fatalf("companion entry malformed: %+v", composed[1])
	}
}

func TestComposeIsIdempotent(t *testing.T) {
	src := primaries("n1", "n2")
	companions := map[string]models.CompanionInfo{
		"n2": {ParentID: "n2", MediaRef: "https://cdn.example.com/explainer_n2.mp3"},
	}

	first := Compose(src, companions)
	second := Compose(src, companions)

	if !reflect.DeepEqual(first, second) {
		t.Fatal("compose must be deterministic for identical inputs")
	}
}

func TestComposePreservesOrderWhenCompanionResolvesLate(t *testing.T) {
	src := primaries("n1", "n2", "n3")

	before := Compose(src, nil)
	after := Compose(src, map[string]models.CompanionInfo{
		"n2": {ParentID: "n2", MediaRef: "https://cdn.example.com/explainer_n2.mp3"},
	})

	// All previously composed entries keep their relative order; the new
	// companion slots in directly after its primary.
	if !reflect.DeepEqual(ids(before), []string{"n1", "n2", "n3"}) {
		t.Fatalf("before = %v", ids(before))
	}
	if !reflect.DeepEqual(ids(after), []string{"n1", "n2", "n2_companion", "n3"}) {
		t.Fatalf("after = %v", ids(after))
	}
}

func TestCompanionInheritsDateAndDuration(t *testing.T) {
	src := primaries("n1")
	composed := Compose(src, map[string]models.CompanionInfo{
		"n1": {ParentID: "n1", MediaRef: "ref"},
	})

	companion := composed[1]
	if companion.GroupDate != src[0].GroupDate {
		t.Errorf("companion date = %q", companion.GroupDate)
	}
	if companion.DisplayDuration != src[0].DisplayDuration {
		t.Errorf("companion duration = %q", companion.DisplayDuration)
	}
	if companion.Title == "" {
		t.Error("companion title fallback missing")
	}
}

func TestCompanionOwnFieldsWin(t *testing.T) {
	exact := 123.4
	composed := Compose(primaries("n1"), map[string]models.CompanionInfo{
		"n1": {
			ParentID:             "n1",
			Title:                "Deep dive",
			MediaRef:             "ref",
			DisplayDuration:      "2:03",
			ExactDurationSeconds: &exact,
		},
	})

	companion := composed[1]
	if companion.Title != "Deep dive" || companion.DisplayDuration != "2:03" {
		t.Fatalf("companion fields not honored: %+v", companion)
	}
	if companion.ExactDurationSeconds == nil || *companion.ExactDurationSeconds != exact {
		t.Fatal("companion exact duration not honored")
	}
}

func TestNeighborsNoWraparound(t *testing.T) {
	composed := Compose(primaries("n1", "n2"), nil)

	if _, ok := Next(composed, "n2"); ok {
		t.Error("Next on last item must not wrap")
	}
	if _, ok := Previous(composed, "n1"); ok {
		t.Error("Previous on first item must not wrap")
	}
	next, ok := Next(composed, "n1")
	if !ok || next.ID != "n2" {
		t.Fatalf("Next(n1) = %v, %v", next.ID, ok)
	}
	prev, ok := Previous(composed, "n2")
	if !ok || prev.ID != "n1" {
		t.Fatalf("Previous(n2) = %v, %v", prev.ID, ok)
	}
}

func TestIndexOfUnknown(t *testing.T) {
	if idx := IndexOf(Compose(primaries("n1"), nil), "missing"); idx != -1 {
		t.Fatalf("IndexOf = %d", idx)
	}
}

func TestHeadID(t *testing.T) {
	if HeadID(nil) != "" {
		t.Error("empty list head must be empty")
	}
	if HeadID(primaries("n1", "n2")) != "n1" {
		t.Error("head must be first primary")
	}
}
