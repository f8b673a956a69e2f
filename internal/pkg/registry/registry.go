// Package registry tracks the live channel session of every connected device.
package registry

import (
	"context"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/anicoll/relay-bridge/internal/pkg/model"
)

// Session is a live connection that can carry envelopes to a device.
type Session interface {
	ID() string
	Send(env model.Envelope) error
}

type Registry struct {
	mu       sync.RWMutex
	sessions map[string]Session
	// changed is closed and replaced on every Register so Await can block without polling.
	changed chan struct{}
	logger  *zap.Logger
}

func New() *Registry {
	return &Registry{
		sessions: make(map[string]Session),
		changed:  make(chan struct{}),
		logger:   zap.L(),
	}
}

// Register binds deviceID to s and returns the session it replaced, if any.
// The last registration always wins.
func (r *Registry) Register(deviceID string, s Session) Session {
	r.mu.Lock()
	prev := r.sessions[deviceID]
	r.sessions[deviceID] = s
	close(r.changed)
	r.changed = make(chan struct{})
	r.mu.Unlock()

	if prev != nil && prev.ID() != s.ID() {
		r.logger.Info("device session superseded",
			zap.String("device_id", deviceID),
			zap.String("previous_session", prev.ID()),
			zap.String("session", s.ID()))
	}
	return prev
}

func (r *Registry) Lookup(deviceID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[deviceID]
	return s, ok
}

// Unregister removes the binding only while it still points at s, so a
// late disconnect of a superseded session cannot evict its replacement.
func (r *Registry) Unregister(deviceID string, s Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.sessions[deviceID]
	if !ok || current.ID() != s.ID() {
		return false
	}
	delete(r.sessions, deviceID)
	return true
}

// Await returns the device's session, blocking until one registers or ctx ends.
func (r *Registry) Await(ctx context.Context, deviceID string) (Session, error) {
	for {
		r.mu.RLock()
		s, ok := r.sessions[deviceID]
		changed := r.changed
		r.mu.RUnlock()
		if ok {
			return s, nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Devices returns the registered device ids in sorted order.
func (r *Registry) Devices() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	slices.Sort(ids)
	return ids
}
