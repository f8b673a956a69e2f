package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Envelope is the frame carried over the device channel in both directions.
type Envelope struct {
	Event     Event           `json:"event"`
	DeviceID  string          `json:"device_id,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func NewEnvelope(event Event, deviceID string, data any) (Envelope, error) {
	env := Envelope{Event: event, DeviceID: deviceID}
	if data == nil {
		return env, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	env.Data = raw
	return env, nil
}

// ################################
// Flexible wire types

// RoomList accepts either a comma-joined string or an array of labels.
type RoomList []string

func (r *RoomList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*r = list
		return nil
	}
	var joined string
	if err := json.Unmarshal(data, &joined); err != nil {
		return fmt.Errorf("rooms must be a string or a list of strings: %w", err)
	}
	*r = SplitRooms(joined)
	return nil
}

func (r RoomList) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r RoomList) String() string {
	return strings.Join(r, ",")
}

func SplitRooms(joined string) RoomList {
	if joined == "" {
		return RoomList{}
	}
	return strings.Split(joined, ",")
}

// RelayStates accepts "10100000" as well as ["1","0","1",...].
type RelayStates string

func (s *RelayStates) UnmarshalJSON(data []byte) error {
	var bits string
	if err := json.Unmarshal(data, &bits); err == nil {
		*s = RelayStates(bits)
		return nil
	}
	var chars []string
	if err := json.Unmarshal(data, &chars); err != nil {
		return fmt.Errorf("relay_states must be a string or a list of strings: %w", err)
	}
	*s = RelayStates(strings.Join(chars, ""))
	return nil
}

func (s RelayStates) String() string {
	return string(s)
}

// Reading is a permissive float: numbers and numeric strings are accepted,
// anything else decodes to zero and marks the reading invalid.
type Reading struct {
	Value float64
	Valid bool
}

func (r *Reading) UnmarshalJSON(data []byte) error {
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		*r = Reading{Value: f, Valid: true}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			*r = Reading{Value: f, Valid: true}
			return nil
		}
	}
	*r = Reading{}
	return nil
}

func (r Reading) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Value)
}

// Text is a permissive string: numbers and booleans keep their literal form,
// anything else decodes to empty and marks the text invalid.
type Text struct {
	Value string
	Valid bool
}

func (t *Text) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = Text{Value: s, Valid: true}
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*t = Text{Value: n.String(), Valid: true}
		return nil
	}
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*t = Text{Value: strconv.FormatBool(b), Valid: true}
		return nil
	}
	*t = Text{}
	return nil
}

func (t Text) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Value)
}

// ################################
// Device -> server payloads

type RawMeasurements struct {
	Voltage     *Reading `json:"voltage"`
	Current     *Reading `json:"current"`
	TotalLoad   *Reading `json:"total_load"`
	Frequency   *Reading `json:"frequency"`
	Temperature *Reading `json:"temperature"`
	Status      *Text    `json:"status"`
}

// UnmarshalJSON never fails: a measurements value that is not an object
// leaves every field unset.
func (m *RawMeasurements) UnmarshalJSON(data []byte) error {
	type plain RawMeasurements
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		*m = RawMeasurements{}
		return nil
	}
	*m = RawMeasurements(p)
	return nil
}

// TelemetryMessage keeps relay_states raw so a bad value can be dropped
// without losing the measurements.
type TelemetryMessage struct {
	Measurements RawMeasurements `json:"measurements"`
	RelayStates  json.RawMessage `json:"relay_states,omitempty"`
}

// ParseTelemetry decodes data leniently. The error reports a payload that was
// not an object; the returned message is still usable and holds defaults.
func ParseTelemetry(data []byte) (TelemetryMessage, error) {
	var msg TelemetryMessage
	if len(data) == 0 {
		return msg, errors.New("empty telemetry payload")
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return TelemetryMessage{}, err
	}
	return msg, nil
}

// RelayState returns the reported relay state. ok is false when none was sent.
func (m TelemetryMessage) RelayState() (state string, ok bool, err error) {
	if len(m.RelayStates) == 0 || string(m.RelayStates) == "null" {
		return "", false, nil
	}
	var rs RelayStates
	if err := json.Unmarshal(m.RelayStates, &rs); err != nil {
		return "", true, err
	}
	return rs.String(), true, nil
}

type RoomsReplyMessage struct {
	RoomsSaved RoomList `json:"rooms_saved"`
}

type RelayStateReplyMessage struct {
	RelayStates RelayStates `json:"relay_states"`
}

type ToggleAckMessage struct {
	Updates     map[string]bool `json:"updates,omitempty"`
	RelayStates *RelayStates    `json:"relay_states,omitempty"`
}

// ################################
// Client <-> server payloads

type ToggleRequestMessage struct {
	Updates map[string]bool `json:"updates"`
}

type ToggleCommand struct {
	Updates     map[string]bool `json:"updates"`
	RelayStates string          `json:"relay_states"`
}

type ToggleUpdatePayload struct {
	Updates map[string]bool `json:"updates"`
}

type SaveRoomsCommand struct {
	Rooms string `json:"rooms"`
}

type BridgeRequest struct {
	Request bool `json:"request"`
}

type Presence struct {
	DeviceID string    `json:"device_id"`
	Online   bool      `json:"online"`
	At       time.Time `json:"at"`
}

type ErrorMessage struct {
	Event   Event  `json:"event,omitempty"`
	Message string `json:"message"`
}

type ConnectedMessagePayload struct {
	Data string `json:"data"`
}
