// Package hub groups socket clients into rooms, one room per device id, and
// broadcasts events to a room.
package hub

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/anicoll/relay-bridge/internal/pkg/model"
	"github.com/anicoll/relay-bridge/internal/pkg/registry"
	"github.com/anicoll/relay-bridge/pkg/sockets"
)

// Client is one socket connection bound to a device room.
type Client struct {
	id       string
	deviceID string
	role     model.Role
	conn     sockets.Connection
}

var _ registry.Session = (*Client)(nil)

func NewClient(deviceID string, role model.Role, conn sockets.Connection) *Client {
	return &Client{
		id:       uuid.NewString(),
		deviceID: deviceID,
		role:     role,
		conn:     conn,
	}
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) DeviceID() string {
	return c.deviceID
}

func (c *Client) Role() model.Role {
	return c.role
}

func (c *Client) Send(env model.Envelope) error {
	return c.conn.SendJSON(env)
}

func (c *Client) Close() error {
	return c.conn.Close()
}

type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[*Client]struct{}
	logger *zap.Logger
}

func New() *Hub {
	return &Hub{
		rooms:  make(map[string]map[*Client]struct{}),
		logger: zap.L(),
	}
}

func (h *Hub) Join(c *Client) {
	h.mu.Lock()
	room, ok := h.rooms[c.deviceID]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[c.deviceID] = room
	}
	room[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("client joined room",
		zap.String("device_id", c.deviceID),
		zap.String("session", c.id),
		zap.String("role", c.role.String()))
}

func (h *Hub) Leave(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[c.deviceID]
	if !ok {
		return
	}
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, c.deviceID)
	}
}

// Broadcast sends event to every member of room and returns how many
// accepted it. A member with a full send buffer misses the event.
func (h *Hub) Broadcast(room string, event model.Event, payload any) int {
	env, err := model.NewEnvelope(event, room, payload)
	if err != nil {
		h.logger.Error("failed to build broadcast", zap.Error(err), zap.String("event", event.String()))
		return 0
	}
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("failed to marshal broadcast", zap.Error(err), zap.String("event", event.String()))
		return 0
	}

	// snapshot so no lock is held while writing
	h.mu.RLock()
	members := make([]*Client, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		members = append(members, c)
	}
	h.mu.RUnlock()

	sent := 0
	for _, c := range members {
		if err := c.conn.Send(data); err != nil {
			if errors.Is(err, sockets.ErrSendBufferFull) {
				h.logger.Warn("dropping broadcast for slow client",
					zap.String("device_id", room),
					zap.String("session", c.id),
					zap.String("event", event.String()))
			}
			continue
		}
		sent++
	}
	if sent > 0 {
		h.logger.Debug("broadcast sent", zap.String("device_id", room), zap.String("event", event.String()), zap.Int("recipients", sent))
	}
	return sent
}

func (h *Hub) Members(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// CloseAll disconnects every client.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	var all []*Client
	for _, room := range h.rooms {
		for c := range room {
			all = append(all, c)
		}
	}
	h.rooms = make(map[string]map[*Client]struct{})
	h.mu.Unlock()

	for _, c := range all {
		_ = c.Close()
	}
}
