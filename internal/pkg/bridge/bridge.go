// Package bridge turns the asynchronous device channel into request/response
// calls with a bounded wait.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/anicoll/relay-bridge/internal/pkg/model"
	"github.com/anicoll/relay-bridge/internal/pkg/pending"
	"github.com/anicoll/relay-bridge/internal/pkg/registry"
)

const DefaultTimeout = time.Second

var (
	ErrDeviceUnknown = errors.New("device unknown")
	ErrTimedOut      = errors.New("device not responding")
)

type sessions interface {
	Lookup(deviceID string) (registry.Session, bool)
	Await(ctx context.Context, deviceID string) (registry.Session, error)
}

type Bridge struct {
	sessions sessions
	pending  *pending.Store
	timeout  time.Duration
	newID    func() string
	logger   *zap.Logger
}

func New(s sessions, p *pending.Store, timeout time.Duration) *Bridge {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Bridge{
		sessions: s,
		pending:  p,
		timeout:  timeout,
		newID:    uuid.NewString,
		logger:   zap.L(),
	}
}

func (b *Bridge) Timeout() time.Duration {
	return b.timeout
}

// RequestAndWait sends request to a registered device and waits for its reply
// of kind reply. An unregistered device fails immediately with ErrDeviceUnknown.
func (b *Bridge) RequestAndWait(ctx context.Context, deviceID string, request, reply model.Event, payload any) (json.RawMessage, error) {
	s, ok := b.sessions.Lookup(deviceID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceUnknown, deviceID)
	}

	ctx, cancel := context.WithTimeoutCause(ctx, b.timeout, ErrTimedOut)
	defer cancel()
	return b.exchange(ctx, s, deviceID, request, reply, payload)
}

// Call waits for the device to come online and then performs the request, all
// within a single timeout window. A device that never shows up yields an error
// matching both ErrTimedOut and ErrDeviceUnknown.
func (b *Bridge) Call(ctx context.Context, deviceID string, request, reply model.Event, payload any) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeoutCause(ctx, b.timeout, ErrTimedOut)
	defer cancel()

	s, err := b.sessions.Await(ctx, deviceID)
	if err != nil {
		if errors.Is(context.Cause(ctx), ErrTimedOut) {
			return nil, fmt.Errorf("%w: %w: %s", ErrTimedOut, ErrDeviceUnknown, deviceID)
		}
		return nil, err
	}
	return b.exchange(ctx, s, deviceID, request, reply, payload)
}

func (b *Bridge) exchange(ctx context.Context, s registry.Session, deviceID string, request, reply model.Event, payload any) (json.RawMessage, error) {
	env, err := model.NewEnvelope(request, deviceID, payload)
	if err != nil {
		return nil, err
	}
	env.RequestID = b.newID()

	// the waiter must exist before the device can possibly answer
	ch, done := b.pending.Await(deviceID, reply, env.RequestID)
	defer done()

	if err := s.Send(env); err != nil {
		return nil, fmt.Errorf("send %s to %s: %w", request, deviceID, err)
	}
	b.logger.Debug("request sent",
		zap.String("device_id", deviceID),
		zap.String("event", request.String()),
		zap.String("request_id", env.RequestID))

	select {
	case data := <-ch:
		return data, nil
	case <-ctx.Done():
		if errors.Is(context.Cause(ctx), ErrTimedOut) {
			b.logger.Warn("device did not reply in time",
				zap.String("device_id", deviceID),
				zap.String("event", request.String()),
				zap.String("request_id", env.RequestID),
				zap.Duration("timeout", b.timeout))
			return nil, fmt.Errorf("%w: %s", ErrTimedOut, deviceID)
		}
		return nil, ctx.Err()
	}
}
