package server

import "github.com/anicoll/relay-bridge/internal/pkg/model"

type errorResponse struct {
	Error string `json:"error"`
}

type roomsResponse struct {
	RoomsSaved string `json:"rooms_saved"`
}

type relayStatesResponse struct {
	RelayStates map[string]bool `json:"relay_states"`
}

type saveRoomsRequest struct {
	Rooms model.RoomList `json:"rooms"`
}

type saveRoomsResponse struct {
	Success    bool   `json:"success"`
	RoomsSaved string `json:"rooms_saved"`
}

type devicesResponse struct {
	Devices []string `json:"devices"`
}

type telemetryResponse struct {
	Telemetry []model.TelemetrySample `json:"telemetry"`
}
