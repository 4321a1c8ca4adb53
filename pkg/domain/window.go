package domain

import (
	"fmt"
	"time"
)

// Window selects a trailing range of history.
type Window string

// Supported history windows.
const (
	Window24h Window = "24h"
	Window7d  Window = "7d"
	Window30d Window = "30d"
	WindowAll Window = "all"
)

// ParseWindow validates s. The empty string selects WindowAll.
func ParseWindow(s string) (Window, error) {
	switch w := Window(s); w {
	case "":
		return WindowAll, nil
	case Window24h, Window7d, Window30d, WindowAll:
		return w, nil
	default:
		return "", ValidationError{Field: "window", Reason: fmt.Sprintf("unsupported value %q", s)}
	}
}

// Since returns the inclusive lower bound of the window relative to now.
func (w Window) Since(now time.Time) (time.Time, bool) {
	switch w {
	case Window24h:
		return now.Add(-24 * time.Hour), true
	case Window7d:
		return now.AddDate(0, 0, -7), true
	case Window30d:
		return now.AddDate(0, 0, -30), true
	default:
		return time.Time{}, false
	}
}

// Filter returns the readings observed within the window, preserving order.
func (w Window) Filter(readings []Reading, now time.Time) []Reading {
	since, bounded := w.Since(now)
	if !bounded {
		return append([]Reading(nil), readings...)
	}
	out := make([]Reading, 0, len(readings))
	for _, r := range readings {
		if !r.ObservedAt.Before(since) {
			out = append(out, r)
		}
	}
	return out
}
