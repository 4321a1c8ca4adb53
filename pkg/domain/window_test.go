package domain

import (
	"testing"
	"time"
)

func TestParseWindow(t *testing.T) {
	for in, want := range map[string]Window{"": WindowAll, "all": WindowAll, "24h": Window24h, "7d": Window7d, "30d": Window30d} {
		got, err := ParseWindow(in)
		if err != nil || got != want {
			t.Fatalf("ParseWindow(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseWindow("1y"); err == nil {
		t.Fatalf("expected error for unsupported window")
	}
}

func TestWindowFilter(t *testing.T) {
	now := time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)
	readings := []Reading{
		{Temperature: 1, ObservedAt: now.AddDate(0, 0, -40)},
		{Temperature: 2, ObservedAt: now.AddDate(0, 0, -20)},
		{Temperature: 3, ObservedAt: now.AddDate(0, 0, -3)},
		{Temperature: 4, ObservedAt: now.Add(-24 * time.Hour)},
		{Temperature: 5, ObservedAt: now.Add(-time.Hour)},
	}
	cases := map[Window]int{WindowAll: 5, Window30d: 4, Window7d: 3, Window24h: 2}
	for w, want := range cases {
		got := w.Filter(readings, now)
		if len(got) != want {
			t.Fatalf("%s kept %d readings, want %d", w, len(got), want)
		}
		if got[len(got)-1].Temperature != 5 {
			t.Fatalf("%s lost ordering", w)
		}
	}
}
