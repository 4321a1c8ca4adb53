package domain

// AlertRule inspects a reading against a threshold profile.
type AlertRule interface {
	Name() string
	Evaluate(reading Reading, profile ThresholdProfile) []AlertEvent
}

// RulesEngine orchestrates rule evaluation in registration order.
type RulesEngine struct {
	rules []AlertRule
}

// NewRulesEngine constructs an engine with the supplied rules.
func NewRulesEngine(rules ...AlertRule) *RulesEngine {
	return &RulesEngine{rules: append([]AlertRule(nil), rules...)}
}

// Register appends a rule to the engine.
func (e *RulesEngine) Register(rule AlertRule) {
	e.rules = append(e.rules, rule)
}

// Rules returns the registered rule names.
func (e *RulesEngine) Rules() []string {
	names := make([]string, 0, len(e.rules))
	for _, r := range e.rules {
		names = append(names, r.Name())
	}
	return names
}

// Evaluate executes all registered rules and concatenates their events.
func (e *RulesEngine) Evaluate(reading Reading, profile ThresholdProfile) []AlertEvent {
	var events []AlertEvent
	for _, rule := range e.rules {
		events = append(events, rule.Evaluate(reading, profile)...)
	}
	return events
}
