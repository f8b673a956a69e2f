package agent

import (
	"math"
	"math/rand/v2"

	"github.com/anicoll/relay-bridge/internal/pkg/model"
)

const overloadKW = 33

type measurements struct {
	Voltage     float64 `json:"voltage"`
	Current     float64 `json:"current"`
	TotalLoad   float64 `json:"total_load"`
	Temperature float64 `json:"temperature"`
	Frequency   float64 `json:"frequency"`
	Status      string  `json:"status"`
}

type telemetry struct {
	Measurements measurements `json:"measurements"`
	RelayStates  string       `json:"relay_states"`
}

// Classify reports the supply status for a reading. Total load is in watts.
func Classify(voltage, totalLoad float64) model.Status {
	switch {
	case voltage > 240:
		return model.StatusOvervoltage
	case voltage < 150:
		return model.StatusUndervoltage
	case totalLoad/1000 > overloadKW:
		return model.StatusOverload
	default:
		return model.StatusGood
	}
}

func measure(r *rand.Rand) measurements {
	voltage := round(uniform(r, 220, 240), 2)
	current := round(uniform(r, 0.5, 120), 2)
	load := voltage * current
	return measurements{
		Voltage:     voltage,
		Current:     current,
		TotalLoad:   load,
		Temperature: round(uniform(r, 25, 50), 1),
		Frequency:   math.Round(uniform(r, 49, 50)),
		Status:      string(Classify(voltage, load)),
	}
}

func uniform(r *rand.Rand, lo, hi float64) float64 {
	return lo + r.Float64()*(hi-lo)
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
