package storage

import (
	"context"
	"slices"
	"sync"

	"github.com/anicoll/relay-bridge/internal/pkg/model"
)

var _ Store = (*Memory)(nil)

type device struct {
	relayState string
	rooms      model.RoomList
	hasRooms   bool
	history    []model.TelemetrySample
}

// Memory keeps everything in process; state is lost on restart.
type Memory struct {
	mu          sync.RWMutex
	devices     map[string]*device
	historySize int
}

func NewMemory(historySize int) *Memory {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &Memory{
		devices:     make(map[string]*device),
		historySize: historySize,
	}
}

func (m *Memory) get(deviceID string) *device {
	d, ok := m.devices[deviceID]
	if !ok {
		d = &device{}
		m.devices[deviceID] = d
	}
	return d
}

func (m *Memory) RelayState(_ context.Context, deviceID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[deviceID]
	if !ok || d.relayState == "" {
		return "", ErrNotFound
	}
	return d.relayState, nil
}

func (m *Memory) SaveRelayState(_ context.Context, deviceID, state string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.get(deviceID).relayState = state
	return nil
}

func (m *Memory) Rooms(_ context.Context, deviceID string) (model.RoomList, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[deviceID]
	if !ok || !d.hasRooms {
		return nil, ErrNotFound
	}
	return slices.Clone(d.rooms), nil
}

func (m *Memory) SaveRooms(_ context.Context, deviceID string, rooms model.RoomList) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.get(deviceID)
	d.rooms = slices.Clone(rooms)
	d.hasRooms = true
	return nil
}

func (m *Memory) AppendTelemetry(_ context.Context, sample model.TelemetrySample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.get(sample.DeviceID)
	d.history = append(d.history, sample)
	if over := len(d.history) - m.historySize; over > 0 {
		d.history = slices.Clone(d.history[over:])
	}
	return nil
}

func (m *Memory) TelemetryHistory(_ context.Context, deviceID string) ([]model.TelemetrySample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[deviceID]
	if !ok {
		return []model.TelemetrySample{}, nil
	}
	return slices.Clone(d.history), nil
}
