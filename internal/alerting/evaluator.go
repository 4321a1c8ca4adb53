// Package alerting turns readings into threshold alerts and delivers them to
// a notification sink outside quiet hours.
package alerting

import (
	"fmt"

	"aquawatch/pkg/domain"
)

// boundRule flags one metric that falls outside its profile bounds.
type boundRule struct {
	metric domain.Metric
}

func (r boundRule) Name() string { return "bounds_" + string(r.metric) }

func (r boundRule) Evaluate(reading domain.Reading, profile domain.ThresholdProfile) []domain.AlertEvent {
	value := reading.Value(r.metric)
	lo, hi := profile.Bounds(r.metric)
	switch {
	case value < lo:
		return []domain.AlertEvent{r.event(reading, domain.SeverityLow, value, lo)}
	case value > hi:
		return []domain.AlertEvent{r.event(reading, domain.SeverityHigh, value, hi)}
	default:
		return nil
	}
}

func (r boundRule) event(reading domain.Reading, severity domain.Severity, value, bound float64) domain.AlertEvent {
	word, limit := "below", "minimum"
	if severity == domain.SeverityHigh {
		word, limit = "above", "maximum"
	}
	return domain.AlertEvent{
		Metric:     r.metric,
		Severity:   severity,
		Message:    fmt.Sprintf("%s %g is %s the %s of %g", r.metric.Label(), value, word, limit, bound),
		Value:      value,
		Bound:      bound,
		ObservedAt: reading.ObservedAt,
	}
}

// NewEngine returns a rules engine with one bound rule per metric, in
// evaluation order.
func NewEngine() *domain.RulesEngine {
	engine := domain.NewRulesEngine()
	for _, m := range domain.Metrics {
		engine.Register(boundRule{metric: m})
	}
	return engine
}

var defaultEngine = NewEngine()

// Evaluate compares every metric of reading against profile. Each metric
// yields at most one event; the result is ordered temperature, pH, oxygen,
// water level.
func Evaluate(reading domain.Reading, profile domain.ThresholdProfile) []domain.AlertEvent {
	return defaultEngine.Evaluate(reading, profile)
}

// ForTank stamps events with the tank they were raised for.
func ForTank(events []domain.AlertEvent, tank domain.TankProfile) []domain.AlertEvent {
	for i := range events {
		events[i].TankID = tank.ID
		events[i].TankName = tank.DisplayName
	}
	return events
}
