// Package storage defines where per-device state lives between requests and
// provides the in-memory variant.
package storage

import (
	"context"
	"errors"

	"github.com/anicoll/relay-bridge/internal/pkg/model"
)

const DefaultHistorySize = 10

var ErrNotFound = errors.New("not found")

type Store interface {
	RelayState(ctx context.Context, deviceID string) (string, error)
	SaveRelayState(ctx context.Context, deviceID, state string) error
	Rooms(ctx context.Context, deviceID string) (model.RoomList, error)
	SaveRooms(ctx context.Context, deviceID string, rooms model.RoomList) error
	AppendTelemetry(ctx context.Context, sample model.TelemetrySample) error
	// TelemetryHistory returns the retained samples, oldest first.
	TelemetryHistory(ctx context.Context, deviceID string) ([]model.TelemetrySample, error)
}
