package domain

// ThresholdProfile holds the per-user acceptable bounds and quiet hours.
type ThresholdProfile struct {
	MinTemperature  float64 `json:"min_temperature"`
	MaxTemperature  float64 `json:"max_temperature"`
	MinPH           float64 `json:"min_ph"`
	MaxPH           float64 `json:"max_ph"`
	MinOxygen       float64 `json:"min_oxygen"`
	MaxOxygen       float64 `json:"max_oxygen"`
	MinWaterLevel   float64 `json:"min_water_level"`
	MaxWaterLevel   float64 `json:"max_water_level"`
	QuietHoursStart int     `json:"quiet_hours_start"`
	QuietHoursEnd   int     `json:"quiet_hours_end"`
}

// DefaultThresholdProfile returns the bounds used when a user has no profile
// on record: a typical freshwater tank with quiet hours from 22:00 to 07:00.
func DefaultThresholdProfile() ThresholdProfile {
	return ThresholdProfile{
		MinTemperature:  22,
		MaxTemperature:  28,
		MinPH:           6.5,
		MaxPH:           7.5,
		MinOxygen:       5,
		MaxOxygen:       12,
		MinWaterLevel:   80,
		MaxWaterLevel:   100,
		QuietHoursStart: 22,
		QuietHoursEnd:   7,
	}
}

// Bounds returns the min and max for the metric.
func (p ThresholdProfile) Bounds(m Metric) (float64, float64) {
	switch m {
	case MetricTemperature:
		return p.MinTemperature, p.MaxTemperature
	case MetricPH:
		return p.MinPH, p.MaxPH
	case MetricOxygen:
		return p.MinOxygen, p.MaxOxygen
	case MetricWaterLevel:
		return p.MinWaterLevel, p.MaxWaterLevel
	default:
		return 0, 0
	}
}

// InQuietHours reports whether hour (0-23) falls in [QuietHoursStart, QuietHoursEnd).
// The window wraps past midnight when end < start; start == end is an empty window.
func (p ThresholdProfile) InQuietHours(hour int) bool {
	start, end := p.QuietHoursStart, p.QuietHoursEnd
	switch {
	case start == end:
		return false
	case start < end:
		return hour >= start && hour < end
	default:
		return hour >= start || hour < end
	}
}

// Validate checks bound ordering and the quiet hour range.
func (p ThresholdProfile) Validate() error {
	for _, m := range Metrics {
		lo, hi := p.Bounds(m)
		if lo > hi {
			return ValidationError{Field: string(m), Reason: "min exceeds max"}
		}
	}
	if p.QuietHoursStart < 0 || p.QuietHoursStart > 23 {
		return ValidationError{Field: "quiet_hours_start", Reason: "must be within 0..23"}
	}
	if p.QuietHoursEnd < 0 || p.QuietHoursEnd > 23 {
		return ValidationError{Field: "quiet_hours_end", Reason: "must be within 0..23"}
	}
	return nil
}
