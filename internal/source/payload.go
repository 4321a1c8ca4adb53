package source

import (
	"encoding/json"
	"fmt"
	"time"

	"aquawatch/pkg/domain"
)

type payload struct {
	Temperature *float64   `json:"temperature"`
	PH          *float64   `json:"ph"`
	Oxygen      *float64   `json:"oxygen"`
	WaterLevel  *float64   `json:"water_level"`
	ObservedAt  *time.Time `json:"observed_at"`
}

// DecodeReading parses a feed message. All four metrics are required; a
// missing observed_at is stamped with received.
func DecodeReading(data []byte, received time.Time) (domain.Reading, error) {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.Reading{}, fmt.Errorf("decode reading: %w", err)
	}
	switch {
	case p.Temperature == nil:
		return domain.Reading{}, domain.ValidationError{Field: "temperature", Reason: "missing"}
	case p.PH == nil:
		return domain.Reading{}, domain.ValidationError{Field: "ph", Reason: "missing"}
	case p.Oxygen == nil:
		return domain.Reading{}, domain.ValidationError{Field: "oxygen", Reason: "missing"}
	case p.WaterLevel == nil:
		return domain.Reading{}, domain.ValidationError{Field: "water_level", Reason: "missing"}
	}
	observed := received
	if p.ObservedAt != nil && !p.ObservedAt.IsZero() {
		observed = *p.ObservedAt
	}
	return domain.Reading{
		Temperature: *p.Temperature,
		PH:          *p.PH,
		Oxygen:      *p.Oxygen,
		WaterLevel:  *p.WaterLevel,
		ObservedAt:  observed,
	}, nil
}
