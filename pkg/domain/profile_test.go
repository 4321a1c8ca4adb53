package domain

import (
	"errors"
	"testing"
)

func TestInQuietHours(t *testing.T) {
	cases := []struct {
		name       string
		start, end int
		hour       int
		want       bool
	}{
		{"wrapping window late", 22, 7, 23, true},
		{"wrapping window start inclusive", 22, 7, 22, true},
		{"wrapping window early", 22, 7, 3, true},
		{"wrapping window end exclusive", 22, 7, 7, false},
		{"wrapping window day", 22, 7, 10, false},
		{"plain window inside", 9, 17, 12, true},
		{"plain window outside", 9, 17, 18, false},
		{"empty window", 5, 5, 5, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := ThresholdProfile{QuietHoursStart: tc.start, QuietHoursEnd: tc.end}
			if got := p.InQuietHours(tc.hour); got != tc.want {
				t.Fatalf("InQuietHours(%d) = %v, want %v", tc.hour, got, tc.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	if err := DefaultThresholdProfile().Validate(); err != nil {
		t.Fatalf("default profile invalid: %v", err)
	}
	cases := []struct {
		field  string
		mutate func(*ThresholdProfile)
	}{
		{"temperature", func(p *ThresholdProfile) { p.MinTemperature = 30 }},
		{"ph", func(p *ThresholdProfile) { p.MaxPH = 6 }},
		{"oxygen", func(p *ThresholdProfile) { p.MinOxygen = 13 }},
		{"water_level", func(p *ThresholdProfile) { p.MaxWaterLevel = 10 }},
		{"quiet_hours_start", func(p *ThresholdProfile) { p.QuietHoursStart = 24 }},
		{"quiet_hours_end", func(p *ThresholdProfile) { p.QuietHoursEnd = -1 }},
	}
	for _, tc := range cases {
		p := DefaultThresholdProfile()
		tc.mutate(&p)
		var verr ValidationError
		if err := p.Validate(); !errors.As(err, &verr) || verr.Field != tc.field {
			t.Fatalf("%s: got %v", tc.field, err)
		}
	}
}

func TestBoundsPerMetric(t *testing.T) {
	p := DefaultThresholdProfile()
	for _, m := range Metrics {
		lo, hi := p.Bounds(m)
		if lo >= hi {
			t.Fatalf("%s bounds = %g..%g", m, lo, hi)
		}
	}
	if lo, hi := p.Bounds(Metric("salinity")); lo != 0 || hi != 0 {
		t.Fatalf("unknown metric bounds = %g..%g", lo, hi)
	}
}
