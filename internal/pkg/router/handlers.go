package router

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/anicoll/relay-bridge/internal/pkg/codec"
	"github.com/anicoll/relay-bridge/internal/pkg/contxt"
	"github.com/anicoll/relay-bridge/internal/pkg/hub"
	"github.com/anicoll/relay-bridge/internal/pkg/model"
	"github.com/anicoll/relay-bridge/internal/pkg/schema"
	"github.com/anicoll/relay-bridge/internal/pkg/storage"
)

const publishTimeout = 5 * time.Second

func (r *Router) handleTelemetry(ctx context.Context, c *hub.Client, env model.Envelope) error {
	// intake never rejects: shape problems are logged and defaulted
	if err := r.validator.Validate(schema.Telemetry, env.Data); err != nil {
		r.logger.Warn("telemetry does not match schema", zap.Error(err), zap.String("device_id", c.DeviceID()))
	}
	msg, err := model.ParseTelemetry(env.Data)
	if err != nil {
		r.logger.Debug("telemetry payload unreadable", zap.Error(err), zap.String("device_id", c.DeviceID()))
	}

	measurements, defaulted := msg.Measurements.Normalize()
	if len(defaulted) > 0 {
		r.logger.Warn("telemetry fields defaulted", zap.String("device_id", c.DeviceID()), zap.Strings("fields", defaulted))
	}
	sample := model.TelemetrySample{
		DeviceID:     c.DeviceID(),
		Measurements: measurements,
		ReceivedAt:   r.now(),
	}
	if state, ok, err := msg.RelayState(); ok {
		if err == nil {
			err = codec.Validate(state)
		}
		if err != nil {
			r.logger.Warn("ignoring relay state in telemetry", zap.Error(err), zap.String("device_id", c.DeviceID()))
		} else {
			sample.RelayStates = state
			if err := r.store.SaveRelayState(ctx, c.DeviceID(), state); err != nil {
				r.logger.Error("failed to store relay state", zap.Error(err), zap.String("device_id", c.DeviceID()))
			}
		}
	}
	if err := r.store.AppendTelemetry(ctx, sample); err != nil {
		r.logger.Error("failed to store telemetry", zap.Error(err), zap.String("device_id", c.DeviceID()))
	}

	r.publish(ctx, func(ctx context.Context, p publisher) {
		_ = p.PublishTelemetry(ctx, sample)
		if sample.RelayStates != "" {
			_ = p.PublishRelayState(ctx, sample.DeviceID, sample.RelayStates)
		}
	})

	r.rooms.Broadcast(c.DeviceID(), model.HardwareUpdate, model.HardwareUpdatePayload{
		Measurements: sample.Measurements,
		RelayStates:  sample.RelayStates,
		ReceivedAt:   sample.ReceivedAt,
	})
	return nil
}

func (r *Router) handleToggleRequest(ctx context.Context, c *hub.Client, env model.Envelope) error {
	msg, err := decode[model.ToggleRequestMessage](r.validator, schema.ToggleRequest, env.Data)
	if err != nil {
		r.logger.Warn("rejecting malformed toggle request", zap.Error(err), zap.String("device_id", c.DeviceID()))
		r.replyError(c, model.ToggleRequest, "malformed toggle request")
		return err
	}
	if len(msg.Updates) == 0 {
		return nil
	}

	current, err := r.store.RelayState(ctx, c.DeviceID())
	switch {
	case errors.Is(err, storage.ErrNotFound):
		current = codec.Off(r.relayCount)
	case err != nil:
		r.logger.Error("failed to load relay state", zap.Error(err), zap.String("device_id", c.DeviceID()))
		r.replyError(c, model.ToggleRequest, "relay state unavailable")
		return err
	}

	next, err := codec.Encode(current, msg.Updates)
	if err != nil {
		r.logger.Warn("rejecting toggle request", zap.Error(err), zap.String("device_id", c.DeviceID()))
		r.replyError(c, model.ToggleRequest, err.Error())
		return err
	}

	device, ok := r.sessions.Lookup(c.DeviceID())
	if !ok {
		r.replyError(c, model.ToggleRequest, ErrDeviceOffline.Error())
		return ErrDeviceOffline
	}
	cmd, err := model.NewEnvelope(model.ToggleRequest, c.DeviceID(), model.ToggleCommand{Updates: msg.Updates, RelayStates: next})
	if err != nil {
		return err
	}
	if err := device.Send(cmd); err != nil {
		r.logger.Warn("toggle not delivered", zap.Error(err), zap.String("device_id", c.DeviceID()))
		r.replyError(c, model.ToggleRequest, "device unreachable")
		return err
	}
	// optimistic until the ack or the next telemetry confirms it
	if err := r.store.SaveRelayState(ctx, c.DeviceID(), next); err != nil {
		r.logger.Error("failed to store relay state", zap.Error(err), zap.String("device_id", c.DeviceID()))
	}

	r.rooms.Broadcast(c.DeviceID(), model.ToggleUpdate, model.ToggleUpdatePayload{Updates: msg.Updates})
	return nil
}

func (r *Router) handleToggleAck(ctx context.Context, c *hub.Client, env model.Envelope) error {
	msg, err := decode[model.ToggleAckMessage](r.validator, schema.ToggleAck, env.Data)
	if err != nil {
		r.logger.Warn("dropping malformed toggle ack", zap.Error(err), zap.String("device_id", c.DeviceID()))
		return err
	}

	if msg.RelayStates != nil {
		state := msg.RelayStates.String()
		if err := codec.Validate(state); err != nil {
			r.logger.Warn("ignoring relay state in toggle ack", zap.Error(err), zap.String("device_id", c.DeviceID()))
		} else {
			if err := r.store.SaveRelayState(ctx, c.DeviceID(), state); err != nil {
				r.logger.Error("failed to store relay state", zap.Error(err), zap.String("device_id", c.DeviceID()))
			}
			deviceID := c.DeviceID()
			r.publish(ctx, func(ctx context.Context, p publisher) {
				_ = p.PublishRelayState(ctx, deviceID, state)
			})
		}
	}

	r.rooms.Broadcast(c.DeviceID(), model.ToggleAckUpdate, env.Data)
	return nil
}

func (r *Router) handleRoomsReply(ctx context.Context, c *hub.Client, env model.Envelope) error {
	msg, err := decode[model.RoomsReplyMessage](r.validator, schema.RoomsReply, env.Data)
	if err != nil {
		r.logger.Warn("dropping malformed rooms reply", zap.Error(err), zap.String("device_id", c.DeviceID()))
		return err
	}
	if n := r.pending.Deliver(c.DeviceID(), model.RoomsReply, env.RequestID, env.Data); n == 0 {
		r.logger.Debug("rooms reply had no waiter", zap.String("device_id", c.DeviceID()), zap.String("request_id", env.RequestID))
	}
	if err := r.store.SaveRooms(ctx, c.DeviceID(), msg.RoomsSaved); err != nil {
		r.logger.Error("failed to store rooms", zap.Error(err), zap.String("device_id", c.DeviceID()))
	}
	return nil
}

func (r *Router) handleRelayStateReply(ctx context.Context, c *hub.Client, env model.Envelope) error {
	msg, err := decode[model.RelayStateReplyMessage](r.validator, schema.RelayStateReply, env.Data)
	if err != nil {
		r.logger.Warn("dropping malformed relay state reply", zap.Error(err), zap.String("device_id", c.DeviceID()))
		return err
	}
	// the waiter decides what to do with a malformed state
	if n := r.pending.Deliver(c.DeviceID(), model.RelayStateReply, env.RequestID, env.Data); n == 0 {
		r.logger.Debug("relay state reply had no waiter", zap.String("device_id", c.DeviceID()), zap.String("request_id", env.RequestID))
	}

	state := msg.RelayStates.String()
	if err := codec.Validate(state); err != nil {
		r.logger.Warn("device reported malformed relay state", zap.Error(err), zap.String("device_id", c.DeviceID()))
		return nil
	}
	if err := r.store.SaveRelayState(ctx, c.DeviceID(), state); err != nil {
		r.logger.Error("failed to store relay state", zap.Error(err), zap.String("device_id", c.DeviceID()))
	}
	return nil
}

func (r *Router) publish(ctx context.Context, fn func(ctx context.Context, p publisher)) {
	if r.publisher == nil {
		return
	}
	go func() {
		ctx, cancel := contxt.Detached(ctx, publishTimeout)
		defer cancel()
		fn(ctx, r.publisher)
	}()
}
