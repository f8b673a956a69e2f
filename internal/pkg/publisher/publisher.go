package publisher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/anicoll/relay-bridge/internal/pkg/model"
)

var ErrAlreadyRegistered = errors.New("publisher already registered")

type publisher interface {
	// PublishTelemetry forwards one normalized sample to the adapter
	PublishTelemetry(ctx context.Context, sample model.TelemetrySample) error
	PublishRelayState(ctx context.Context, deviceID, state string) error
}

// Registry fans telemetry and relay state out to every registered adapter.
type Registry struct {
	mu         sync.RWMutex
	publishers map[string]publisher
	states     sync.Map
	logger     *zap.Logger
}

func New() *Registry {
	return &Registry{
		publishers: make(map[string]publisher),
		logger:     zap.L(),
	}
}

func (r *Registry) Register(name string, p publisher) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.publishers[name]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, name)
	}
	r.publishers[name] = p
	return nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.publishers))
	for name := range r.publishers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) snapshot() map[string]publisher {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]publisher, len(r.publishers))
	for name, p := range r.publishers {
		out[name] = p
	}
	return out
}

// PublishTelemetry sends sample to every adapter. A failing adapter is logged
// and does not stop the others; the joined error is returned.
func (r *Registry) PublishTelemetry(ctx context.Context, sample model.TelemetrySample) error {
	var errs []error
	for name, p := range r.snapshot() {
		if err := p.PublishTelemetry(ctx, sample); err != nil {
			r.logger.Error("failed to publish telemetry", zap.Error(err), zap.String("publisher", name), zap.String("device_id", sample.DeviceID))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		r.logger.Debug("published telemetry", zap.String("publisher", name), zap.String("device_id", sample.DeviceID))
	}
	return errors.Join(errs...)
}

// PublishRelayState sends state only when it differs from the last published value.
func (r *Registry) PublishRelayState(ctx context.Context, deviceID, state string) error {
	if !r.shouldUpdate(deviceID, state) {
		return nil
	}
	var errs []error
	for name, p := range r.snapshot() {
		if err := p.PublishRelayState(ctx, deviceID, state); err != nil {
			r.logger.Error("failed to publish relay state", zap.Error(err), zap.String("publisher", name), zap.String("device_id", deviceID))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if len(errs) > 0 {
		// retry on the next report
		r.states.Delete(deviceID)
	}
	return errors.Join(errs...)
}

func (r *Registry) shouldUpdate(deviceID, state string) bool {
	old, exists := r.states.Load(deviceID)
	if exists && old.(string) == state {
		return false
	}
	if !exists {
		r.logger.Info("first relay state for device", zap.String("device_id", deviceID), zap.String("relay_states", state))
	}
	r.states.Store(deviceID, state)
	return true
}
