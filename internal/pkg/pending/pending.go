// Package pending holds the reply waiters of in-flight device requests.
package pending

import (
	"encoding/json"
	"sync"

	"github.com/anicoll/relay-bridge/internal/pkg/model"
)

type key struct {
	deviceID string
	kind     model.Event
}

// Store correlates device replies with the requests waiting for them. A waiter
// exists only while its request is in flight.
type Store struct {
	mu      sync.Mutex
	waiters map[key]map[string]chan json.RawMessage
}

func New() *Store {
	return &Store{waiters: make(map[key]map[string]chan json.RawMessage)}
}

// Await registers a one-shot waiter for the reply of kind to requestID. The
// returned func removes the waiter and must be called once the caller stops waiting.
func (s *Store) Await(deviceID string, kind model.Event, requestID string) (<-chan json.RawMessage, func()) {
	k := key{deviceID: deviceID, kind: kind}
	ch := make(chan json.RawMessage, 1)

	s.mu.Lock()
	byID, ok := s.waiters[k]
	if !ok {
		byID = make(map[string]chan json.RawMessage)
		s.waiters[k] = byID
	}
	byID[requestID] = ch
	s.mu.Unlock()

	return ch, func() { s.remove(k, requestID, ch) }
}

func (s *Store) remove(k key, requestID string, ch chan json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID, ok := s.waiters[k]
	if !ok || byID[requestID] != ch {
		return
	}
	delete(byID, requestID)
	if len(byID) == 0 {
		delete(s.waiters, k)
	}
}

// Deliver hands payload to the waiter of requestID and returns how many
// waiters received it. A reply whose request is no longer waiting is dropped.
// Replies without a request id come from firmware that does not echo ids and
// go to every waiter of that device and kind.
func (s *Store) Deliver(deviceID string, kind model.Event, requestID string, payload json.RawMessage) int {
	k := key{deviceID: deviceID, kind: kind}

	s.mu.Lock()
	defer s.mu.Unlock()
	byID, ok := s.waiters[k]
	if !ok {
		return 0
	}

	if requestID != "" {
		ch, ok := byID[requestID]
		if !ok {
			return 0
		}
		delete(byID, requestID)
		if len(byID) == 0 {
			delete(s.waiters, k)
		}
		ch <- payload
		return 1
	}

	n := 0
	for id, ch := range byID {
		ch <- payload
		delete(byID, id)
		n++
	}
	delete(s.waiters, k)
	return n
}

// Waiting reports the number of in-flight waiters for a device and reply kind.
func (s *Store) Waiting(deviceID string, kind model.Event) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.waiters[key{deviceID: deviceID, kind: kind}])
}
