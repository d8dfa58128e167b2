package session

import (
	"sync"

	"github.com/nerrad567/gray-logic-nodeserver/internal/device"
)

// EventKind identifies a lifecycle or data event.
type EventKind string

// Event kinds.
const (
	EventConnected       EventKind = "connected"
	EventReconnecting    EventKind = "reconnecting"
	EventOffline         EventKind = "offline"
	EventClosed          EventKind = "closed"
	EventEnded           EventKind = "ended"
	EventMessageReceived EventKind = "messageReceived"
	EventMessageSent     EventKind = "messageSent"
	EventConfig          EventKind = "config"
	EventPoll            EventKind = "poll"
	EventStatus          EventKind = "status"
	EventStop            EventKind = "stop"
	EventDelete          EventKind = "delete"
)

// Event is delivered to handlers registered with Session.On.
//
// Only the fields relevant to Kind are set.
type Event struct {
	Kind EventKind

	// Message is the decoded envelope for messageReceived and messageSent.
	Message map[string]any

	// Config is set for config events.
	Config *ConfigEvent

	// Long distinguishes longPoll from shortPoll.
	Long bool

	// Payload is the raw status payload for status events.
	Payload []byte

	// Err is the disconnect cause for offline events, when known.
	Err error
}

// ConfigEvent carries the registry state after a reconciled snapshot.
type ConfigEvent struct {
	Devices       []*device.Device
	ParamsChanged bool
	CustomParams  map[string]any
	Notices       device.Notices
	Added         []string
	Removed       []string
}

// EventHandler receives events. Handlers run synchronously on the goroutine
// that processed the triggering message and must not block for long.
type EventHandler func(Event)

// emitter is the registration table of event handlers.
type emitter struct {
	mu       sync.RWMutex
	handlers map[EventKind][]EventHandler
}

func newEmitter() *emitter {
	return &emitter{handlers: make(map[EventKind][]EventHandler)}
}

func (e *emitter) on(kind EventKind, fn EventHandler) {
	e.mu.Lock()
	e.handlers[kind] = append(e.handlers[kind], fn)
	e.mu.Unlock()
}

func (e *emitter) emit(ev Event) {
	e.mu.RLock()
	handlers := e.handlers[ev.Kind]
	e.mu.RUnlock()

	for _, fn := range handlers {
		fn(ev)
	}
}
