// Package domain defines the readings, tanks, threshold profiles and alert
// events shared by the live session and the background rechecker, together
// with the persistence contracts both sides depend on.
package domain

import (
	"fmt"
	"time"
)

// Metric identifies one measured quantity of a tank.
type Metric string

// Supported metrics.
const (
	MetricTemperature Metric = "temperature"
	MetricPH          Metric = "ph"
	MetricOxygen      Metric = "oxygen"
	MetricWaterLevel  Metric = "water_level"
)

// Metrics lists every metric in evaluation order.
var Metrics = []Metric{MetricTemperature, MetricPH, MetricOxygen, MetricWaterLevel}

// Label returns the human readable metric name used in alert titles.
func (m Metric) Label() string {
	switch m {
	case MetricTemperature:
		return "Temperature"
	case MetricPH:
		return "pH"
	case MetricOxygen:
		return "Oxygen"
	case MetricWaterLevel:
		return "Water Level"
	default:
		return string(m)
	}
}

// Reading is one timestamped set of sensor values. Readings are values and
// never mutated after construction.
type Reading struct {
	Temperature float64   `json:"temperature"`
	PH          float64   `json:"ph"`
	Oxygen      float64   `json:"oxygen"`
	WaterLevel  float64   `json:"water_level"`
	ObservedAt  time.Time `json:"observed_at"`
}

// Value returns the reading's value for the metric.
func (r Reading) Value(m Metric) float64 {
	switch m {
	case MetricTemperature:
		return r.Temperature
	case MetricPH:
		return r.PH
	case MetricOxygen:
		return r.Oxygen
	case MetricWaterLevel:
		return r.WaterLevel
	default:
		return 0
	}
}

// ReadingKey identifies a reading across the live and persisted paths.
type ReadingKey struct {
	ObservedAt  int64
	Temperature float64
	PH          float64
	Oxygen      float64
	WaterLevel  float64
}

// Key returns the reconciliation key of the reading.
func (r Reading) Key() ReadingKey {
	return ReadingKey{
		ObservedAt:  r.ObservedAt.UnixNano(),
		Temperature: r.Temperature,
		PH:          r.PH,
		Oxygen:      r.Oxygen,
		WaterLevel:  r.WaterLevel,
	}
}

func (r Reading) String() string {
	return fmt.Sprintf("temperature=%g ph=%g oxygen=%g water_level=%g observed_at=%s",
		r.Temperature, r.PH, r.Oxygen, r.WaterLevel, r.ObservedAt.Format(time.RFC3339))
}

// ConnectionStatus reports the reading source connectivity.
type ConnectionStatus string

// Connection states.
const (
	StatusConnected    ConnectionStatus = "connected"
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusReconnecting ConnectionStatus = "reconnecting"
)

// Identity is the current session's authentication state. The zero value is
// the anonymous identity.
type Identity struct {
	userID string
}

// Anonymous returns the unauthenticated identity.
func Anonymous() Identity { return Identity{} }

// Authenticated returns the identity for userID. An empty id yields Anonymous.
func Authenticated(userID string) Identity { return Identity{userID: userID} }

// UserID returns the authenticated user id.
func (i Identity) UserID() (string, bool) { return i.userID, i.userID != "" }

// IsAuthenticated reports whether the identity carries a user id.
func (i Identity) IsAuthenticated() bool { return i.userID != "" }

func (i Identity) String() string {
	if i.userID == "" {
		return "anonymous"
	}
	return "user:" + i.userID
}

// TankProfile describes one monitored tank.
type TankProfile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// Target is the owner and tank a reading is persisted under.
type Target struct {
	UserID string
	TankID string
}

// Valid reports whether both parts of the target are set.
func (t Target) Valid() bool { return t.UserID != "" && t.TankID != "" }

// Severity classifies which bound an alert violated.
type Severity string

// Alert severities.
const (
	SeverityLow  Severity = "low"
	SeverityHigh Severity = "high"
)

// AlertEvent is a derived, never persisted, threshold violation.
type AlertEvent struct {
	Metric     Metric    `json:"metric"`
	Severity   Severity  `json:"severity"`
	Message    string    `json:"message"`
	Value      float64   `json:"value"`
	Bound      float64   `json:"bound"`
	TankID     string    `json:"tank_id,omitempty"`
	TankName   string    `json:"tank_name,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
}

// Title returns the notification title for the event, e.g. "High Temperature Alert!".
func (e AlertEvent) Title() string {
	prefix := "Low"
	if e.Severity == SeverityHigh {
		prefix = "High"
	}
	return fmt.Sprintf("%s %s Alert!", prefix, e.Metric.Label())
}
