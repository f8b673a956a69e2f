package model

import "time"

// Measurements is the normalized reading set forwarded to clients. Power is
// the total load as reported by the device; it is never recomputed here.
type Measurements struct {
	Voltage     float64 `json:"voltage"`
	Current     float64 `json:"current"`
	Power       float64 `json:"power"`
	Status      string  `json:"status"`
	Frequency   float64 `json:"frequency"`
	Temperature float64 `json:"temperature"`
}

type TelemetrySample struct {
	DeviceID     string       `json:"device_id"`
	Measurements Measurements `json:"measurements"`
	RelayStates  string       `json:"relay_states,omitempty"`
	ReceivedAt   time.Time    `json:"received_at"`
}

type HardwareUpdatePayload struct {
	Measurements Measurements `json:"measurements"`
	RelayStates  string       `json:"relay_states,omitempty"`
	ReceivedAt   time.Time    `json:"received_at"`
}

// Normalize applies the permissive defaults: missing or unparsable numbers
// become zero and a missing or non-scalar status becomes the empty string. The returned
// field names are those that had to be defaulted.
func (m RawMeasurements) Normalize() (Measurements, []string) {
	var defaulted []string
	read := func(name string, r *Reading) float64 {
		if r == nil || !r.Valid {
			defaulted = append(defaulted, name)
			return 0
		}
		return r.Value
	}
	out := Measurements{
		Voltage:     read("voltage", m.Voltage),
		Current:     read("current", m.Current),
		Power:       read("total_load", m.TotalLoad),
		Frequency:   read("frequency", m.Frequency),
		Temperature: read("temperature", m.Temperature),
	}
	if m.Status != nil && m.Status.Valid {
		out.Status = m.Status.Value
	} else {
		defaulted = append(defaulted, "status")
	}
	return out, defaulted
}
