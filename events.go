package auth

import (
	"sync"

	"github.com/google/uuid"
)

// Event names emitted by the Manager. Every payload is a state snapshot.
const (
	// EventStateChange fires after every state mutation.
	EventStateChange = "auth:state-change"
	// EventLogin fires only on successful logins.
	EventLogin = "auth:login"
	// EventLogout fires only on successful logouts.
	EventLogout = "auth:logout"
	// EventError fires on any failed mutating operation; the snapshot already
	// carries the Error field.
	EventError = "auth:error"
)

// EventHandler receives a state snapshot. Handlers run on the emitting
// goroutine; a panicking handler is isolated and logged, it cannot take the
// manager down or starve other listeners.
type EventHandler func(state AuthState)

// dispatcher is the manager's private event fan-out. The Manager composes it
// rather than embedding it so the public surface stays On/Off only.
type dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]map[string]EventHandler
	logger   Logger
}

func newDispatcher(logger Logger) *dispatcher {
	if logger == nil {
		logger = defLogger{}
	}
	return &dispatcher{
		handlers: map[string]map[string]EventHandler{},
		logger:   logger,
	}
}

func (d *dispatcher) on(event string, handler EventHandler) string {
	if handler == nil {
		return ""
	}
	id := uuid.NewString()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handlers[event] == nil {
		d.handlers[event] = map[string]EventHandler{}
	}
	d.handlers[event][id] = handler
	return id
}

func (d *dispatcher) off(event, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.handlers[event], id)
}

func (d *dispatcher) emit(event string, state AuthState) {
	// Snapshot the listener list before iterating so a handler registering or
	// removing listeners mid-emission cannot corrupt the walk.
	d.mu.RLock()
	handlers := make([]EventHandler, 0, len(d.handlers[event]))
	for _, h := range d.handlers[event] {
		handlers = append(handlers, h)
	}
	d.mu.RUnlock()

	for _, handler := range handlers {
		d.safeCall(event, handler, state)
	}
}

func (d *dispatcher) safeCall(event string, handler EventHandler, state AuthState) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event handler panic on %s: %v", event, r)
		}
	}()
	handler(state)
}
