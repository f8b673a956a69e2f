// Package agent is a device-side client of the bridge. It reports telemetry,
// answers bridge requests and drives relays on toggle commands. Without a
// Modbus controller it doubles as a hardware simulator.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/url"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/anicoll/relay-bridge/internal/pkg/codec"
	"github.com/anicoll/relay-bridge/internal/pkg/config"
	"github.com/anicoll/relay-bridge/internal/pkg/model"
	"github.com/anicoll/relay-bridge/pkg/sockets"
)

var ErrDisconnected = errors.New("disconnected from bridge")

type Agent struct {
	cfg    *config.AgentConfig
	relays RelayDriver
	rand   *rand.Rand
	logger *zap.Logger

	mu    sync.Mutex
	state string
	rooms model.RoomList
}

type Option func(*Agent)

func WithRelayDriver(d RelayDriver) Option {
	return func(a *Agent) {
		a.relays = d
	}
}

func WithRand(r *rand.Rand) Option {
	return func(a *Agent) {
		a.rand = r
	}
}

func New(cfg *config.AgentConfig, opts ...Option) *Agent {
	a := &Agent{
		cfg:    cfg,
		rand:   rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		logger: zap.L(),
		rooms:  slices.Clone(model.RoomList(cfg.Rooms)),
	}
	for _, o := range opts {
		o(a)
	}
	if a.relays == nil {
		a.relays = NewMemoryDriver(cfg.RelayCount)
	}

	a.state = codec.Off(cfg.RelayCount)
	if state, err := a.relays.Read(cfg.RelayCount); err != nil {
		a.logger.Warn("could not read relays, assuming all off", zap.Error(err))
	} else {
		a.state = state
	}
	return a
}

// State returns the relay state as last applied.
func (a *Agent) State() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Agent) Rooms() model.RoomList {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.rooms)
}

// Run keeps a session with the bridge open until ctx ends, reconnecting after
// every disconnect.
func (a *Agent) Run(ctx context.Context) error {
	for {
		err := a.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.logger.Warn("bridge session ended", zap.Error(err), zap.Duration("retry_in", a.cfg.ReconnectDelay))
		select {
		case <-time.After(a.cfg.ReconnectDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (a *Agent) session(ctx context.Context) error {
	u, err := a.url()
	if err != nil {
		return err
	}

	conn := sockets.New(
		sockets.OnConnected(a.onConnected),
		sockets.OnMessage(func(msg []byte, c sockets.Connection) {
			a.onMessage(ctx, msg, c)
		}),
		sockets.OnError(func(err error) {
			a.logger.Warn("bridge connection error", zap.Error(err))
		}),
	)
	if err := conn.Dial(ctx, u); err != nil {
		return err
	}
	defer conn.Close()
	a.logger.Info("connected to bridge", zap.String("url", u), zap.String("device_id", a.cfg.DeviceID))

	ticker := time.NewTicker(a.cfg.TelemetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-conn.Done():
			return ErrDisconnected
		case <-ticker.C:
			a.sendTelemetry(conn)
		}
	}
}

func (a *Agent) url() (string, error) {
	u, err := url.Parse(a.cfg.ServerURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	q := u.Query()
	q.Set("device_id", a.cfg.DeviceID)
	q.Set("role", model.RoleDevice.String())
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (a *Agent) onConnected(c sockets.Connection) {
	a.send(c, model.DeviceOnline, "", model.Presence{DeviceID: a.cfg.DeviceID, Online: true, At: time.Now()})
	a.sendTelemetry(c)
}

func (a *Agent) onMessage(ctx context.Context, msg []byte, c sockets.Connection) {
	var env model.Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		a.logger.Warn("dropping malformed frame", zap.Error(err))
		return
	}

	switch env.Event {
	case model.ToggleRequest:
		a.handleToggle(ctx, env, c)
	case model.GetRooms:
		a.send(c, model.RoomsReply, env.RequestID, map[string]string{"rooms_saved": a.Rooms().String()})
	case model.GetRelayStates:
		a.send(c, model.RelayStateReply, env.RequestID, map[string]string{"relay_states": a.State()})
	case model.SaveRooms:
		var cmd model.SaveRoomsCommand
		if err := json.Unmarshal(env.Data, &cmd); err != nil {
			a.logger.Warn("dropping malformed save_rooms", zap.Error(err))
			return
		}
		a.mu.Lock()
		a.rooms = model.SplitRooms(cmd.Rooms)
		a.mu.Unlock()
		a.logger.Info("rooms saved", zap.String("rooms", cmd.Rooms))
	case model.Error:
		a.logger.Warn("bridge reported an error", zap.ByteString("data", env.Data))
	default:
		// room broadcasts are not for us
		a.logger.Debug("ignoring event", zap.String("event", env.Event.String()))
	}
}

func (a *Agent) handleToggle(ctx context.Context, env model.Envelope, c sockets.Connection) {
	var cmd model.ToggleRequestMessage
	if err := json.Unmarshal(env.Data, &cmd); err != nil || len(cmd.Updates) == 0 {
		a.logger.Warn("dropping malformed toggle request", zap.Error(err))
		return
	}

	a.mu.Lock()
	next, err := codec.Encode(a.state, cmd.Updates)
	if err != nil {
		a.mu.Unlock()
		a.logger.Warn("rejecting toggle request", zap.Error(err))
		return
	}
	for key, on := range cmd.Updates {
		idx, _ := codec.Index(key, len(next))
		if err := a.relays.Set(idx, on); err != nil {
			a.logger.Error("failed to drive relay", zap.Error(err), zap.Int("relay", idx+1))
		}
	}
	a.state = next
	a.mu.Unlock()

	// acks are delayed like a real board settling, off the read loop
	go func() {
		if a.cfg.AckDelayMax > 0 {
			select {
			case <-time.After(rand.N(a.cfg.AckDelayMax)):
			case <-ctx.Done():
				return
			}
		}
		a.send(c, model.ToggleAck, env.RequestID, model.ToggleCommand{Updates: cmd.Updates, RelayStates: next})
	}()
}

func (a *Agent) sendTelemetry(c sockets.Connection) {
	a.mu.Lock()
	sample := telemetry{Measurements: measure(a.rand), RelayStates: a.state}
	a.mu.Unlock()
	a.send(c, model.Telemetry, "", sample)
}

func (a *Agent) send(c sockets.Connection, event model.Event, requestID string, payload any) {
	env, err := model.NewEnvelope(event, a.cfg.DeviceID, payload)
	if err != nil {
		a.logger.Error("failed to build envelope", zap.Error(err), zap.String("event", event.String()))
		return
	}
	env.RequestID = requestID
	if err := c.SendJSON(env); err != nil {
		a.logger.Warn("failed to send", zap.Error(err), zap.String("event", event.String()))
	}
}

func (a *Agent) Close() error {
	return a.relays.Close()
}
