package model

type Event string

func (e Event) String() string {
	return string(e)
}

const (
	// device -> server
	DeviceOnline    Event = "device_online"
	RoomsReply      Event = "rooms_reply"
	RelayStateReply Event = "relay_state_reply"
	Telemetry       Event = "telemetry"
	ToggleAck       Event = "toggle_ack"

	// client -> server, server -> device
	ToggleRequest Event = "toggle_request"

	// server -> device
	GetRooms       Event = "get_rooms"
	GetRelayStates Event = "get_relay_states"
	SaveRooms      Event = "save_rooms"

	// server -> room
	HardwareUpdate  Event = "hardware_update"
	ToggleUpdate    Event = "toggle_update"
	ToggleAckUpdate Event = "toggle_ack_update"
	PresenceChange  Event = "presence_change"

	// server -> sender
	ConnectedMessage Event = "connected_message"
	Error            Event = "error"
)

// legacyEvents maps event names used by older firmware onto the canonical ones.
var legacyEvents = map[Event]Event{
	"esp32_connected":       DeviceOnline,
	"hardware_data":         Telemetry,
	"rooms_response":        RoomsReply,
	"relay_states_response": RelayStateReply,
	"toggle_update":         ToggleRequest,
}

// Canonical resolves legacy event names. Only inbound names are rewritten, so
// toggle_update is treated as a toggle request when it arrives from a socket.
func (e Event) Canonical() Event {
	if c, ok := legacyEvents[e]; ok {
		return c
	}
	return e
}

type Role string

const (
	RoleDevice Role = "device"
	RoleClient Role = "client"
)

func (r Role) String() string {
	return string(r)
}

func ParseRole(s string) Role {
	if Role(s) == RoleDevice {
		return RoleDevice
	}
	return RoleClient
}

type Status string

const (
	StatusGood         Status = "Good"
	StatusOvervoltage  Status = "Overvoltage"
	StatusUndervoltage Status = "Undervoltage"
	StatusOverload     Status = "Overload"
)
