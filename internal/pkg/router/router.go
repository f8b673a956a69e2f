// Package router dispatches inbound channel envelopes by event and owns every
// side effect they have: storage, publishing, replies and room broadcasts.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/anicoll/relay-bridge/internal/pkg/hub"
	"github.com/anicoll/relay-bridge/internal/pkg/model"
	"github.com/anicoll/relay-bridge/internal/pkg/pending"
	"github.com/anicoll/relay-bridge/internal/pkg/registry"
	"github.com/anicoll/relay-bridge/internal/pkg/schema"
	"github.com/anicoll/relay-bridge/internal/pkg/storage"
)

const DefaultRelayCount = 8

var (
	ErrMalformedPayload = errors.New("malformed payload")
	ErrUnknownEvent     = errors.New("unknown event")
	ErrDeviceMismatch   = errors.New("envelope device does not match session")
	ErrDeviceOffline    = errors.New("device offline")
	ErrNotDevice        = errors.New("sender is not the device session")
)

type sessions interface {
	Register(deviceID string, s registry.Session) registry.Session
	Lookup(deviceID string) (registry.Session, bool)
	Unregister(deviceID string, s registry.Session) bool
}

type rooms interface {
	Join(c *hub.Client)
	Leave(c *hub.Client)
	Broadcast(room string, event model.Event, payload any) int
}

type publisher interface {
	PublishTelemetry(ctx context.Context, sample model.TelemetrySample) error
	PublishRelayState(ctx context.Context, deviceID, state string) error
}

type validator interface {
	Validate(name string, data []byte) error
}

type Router struct {
	sessions   sessions
	pending    *pending.Store
	rooms      rooms
	store      storage.Store
	publisher  publisher
	validator  validator
	relayCount int
	now        func() time.Time
	logger     *zap.Logger
}

type Option func(*Router)

// WithPublisher fans telemetry and relay state out after they are stored.
func WithPublisher(p publisher) Option {
	return func(r *Router) {
		r.publisher = p
	}
}

func WithRelayCount(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.relayCount = n
		}
	}
}

func New(s sessions, p *pending.Store, rm rooms, store storage.Store, v validator, opts ...Option) *Router {
	r := &Router{
		sessions:   s,
		pending:    p,
		rooms:      rm,
		store:      store,
		validator:  v,
		relayCount: DefaultRelayCount,
		now:        time.Now,
		logger:     zap.L(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Connect joins c to its device room. A device-role connection becomes the
// device's canonical session straight away.
func (r *Router) Connect(ctx context.Context, c *hub.Client) {
	r.rooms.Join(c)
	r.reply(c, model.ConnectedMessage, model.ConnectedMessagePayload{Data: fmt.Sprintf("id: %s is connected", c.ID())})
	if c.Role() == model.RoleDevice {
		r.deviceOnline(c)
	}
}

// Disconnect removes c from its room. Only the device's current session
// takes the device offline.
func (r *Router) Disconnect(ctx context.Context, c *hub.Client) {
	r.rooms.Leave(c)
	if !r.sessions.Unregister(c.DeviceID(), c) {
		return
	}
	r.logger.Info("device offline", zap.String("device_id", c.DeviceID()), zap.String("session", c.ID()))
	r.rooms.Broadcast(c.DeviceID(), model.PresenceChange, model.Presence{DeviceID: c.DeviceID(), Online: false, At: r.now()})
}

// Handle dispatches one raw envelope received from c.
func (r *Router) Handle(ctx context.Context, c *hub.Client, raw []byte) error {
	if err := r.validator.Validate(schema.Envelope, raw); err != nil {
		r.logger.Warn("dropping malformed envelope", zap.Error(err), zap.String("device_id", c.DeviceID()))
		r.replyError(c, "", "malformed envelope")
		return fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	var env model.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		r.replyError(c, "", "malformed envelope")
		return fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	if env.DeviceID != "" && env.DeviceID != c.DeviceID() {
		r.logger.Warn("envelope addressed to another device",
			zap.String("device_id", c.DeviceID()),
			zap.String("envelope_device_id", env.DeviceID),
			zap.String("event", env.Event.String()))
		r.replyError(c, env.Event, "device_id does not match connection")
		return ErrDeviceMismatch
	}

	event := env.Event.Canonical()
	switch event {
	case model.ToggleAck, model.RoomsReply, model.RelayStateReply:
		if !r.fromDevice(c) {
			r.logger.Warn("dropping device event from non-device session",
				zap.String("device_id", c.DeviceID()),
				zap.String("session", c.ID()),
				zap.String("event", env.Event.String()))
			r.replyError(c, env.Event, "only the device session may send this event")
			return ErrNotDevice
		}
	}

	switch event {
	case model.Telemetry:
		return r.handleTelemetry(ctx, c, env)
	case model.ToggleRequest:
		return r.handleToggleRequest(ctx, c, env)
	case model.ToggleAck:
		return r.handleToggleAck(ctx, c, env)
	case model.RoomsReply:
		return r.handleRoomsReply(ctx, c, env)
	case model.RelayStateReply:
		return r.handleRelayStateReply(ctx, c, env)
	case model.DeviceOnline:
		r.deviceOnline(c)
		return nil
	default:
		r.logger.Warn("unknown event", zap.String("event", env.Event.String()), zap.String("device_id", c.DeviceID()))
		r.replyError(c, env.Event, "unknown event")
		return fmt.Errorf("%w: %s", ErrUnknownEvent, env.Event)
	}
}

// SaveRooms stores rooms and forwards them to everything in the device room.
func (r *Router) SaveRooms(ctx context.Context, deviceID string, rooms model.RoomList) error {
	if err := r.store.SaveRooms(ctx, deviceID, rooms); err != nil {
		return err
	}
	r.rooms.Broadcast(deviceID, model.SaveRooms, model.SaveRoomsCommand{Rooms: rooms.String()})
	return nil
}

func (r *Router) deviceOnline(c *hub.Client) {
	r.sessions.Register(c.DeviceID(), c)
	r.logger.Info("device online", zap.String("device_id", c.DeviceID()), zap.String("session", c.ID()))
	presence := model.Presence{DeviceID: c.DeviceID(), Online: true, At: r.now()}
	r.rooms.Broadcast(c.DeviceID(), model.DeviceOnline, presence)
	r.rooms.Broadcast(c.DeviceID(), model.PresenceChange, presence)
}

// fromDevice reports whether c is the device's current session.
func (r *Router) fromDevice(c *hub.Client) bool {
	s, ok := r.sessions.Lookup(c.DeviceID())
	return ok && s == registry.Session(c)
}

func (r *Router) reply(c *hub.Client, event model.Event, payload any) {
	env, err := model.NewEnvelope(event, c.DeviceID(), payload)
	if err != nil {
		r.logger.Error("failed to build reply", zap.Error(err))
		return
	}
	if err := c.Send(env); err != nil {
		r.logger.Debug("reply not delivered", zap.Error(err), zap.String("session", c.ID()), zap.String("event", event.String()))
	}
}

func (r *Router) replyError(c *hub.Client, event model.Event, message string) {
	r.reply(c, model.Error, model.ErrorMessage{Event: event, Message: message})
}

func decode[T any](v validator, name string, data json.RawMessage) (T, error) {
	var out T
	if err := v.Validate(name, data); err != nil {
		return out, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	return out, nil
}
