package core

import "sync"

// EventContext carries a small payload with an event.
type EventContext struct {
	Data struct {
		U64 [2]uint64
		F64 [2]float64
		C   [2]string
	}
}

// System internal event codes. Application should use codes beyond 255.
type SystemEventCode int

const (
	// Stops the run loop before the next frame.
	EVENT_CODE_APPLICATION_QUIT SystemEventCode = 0x01

	// A shader blob was replaced.
	/* Context usage:
	 * name := data.Data.C[0]
	 * version := data.Data.U64[0]
	 */
	EVENT_CODE_SHADER_RELOADED SystemEventCode = 0x02

	// The render device was lost. Every later GPU call fails.
	/* Context usage:
	 * frame := data.Data.U64[0]
	 */
	EVENT_CODE_DEVICE_LOST SystemEventCode = 0x03

	// A frame was handed to the GPU.
	/* Context usage:
	 * frame := data.Data.U64[0]
	 * seconds := data.Data.F64[0]
	 */
	EVENT_CODE_FRAME_ENDED SystemEventCode = 0x04

	MAX_EVENT_CODE SystemEventCode = 0xFF
)

// This should be more than enough codes...
const MAX_MESSAGE_CODES = 16384

// Should return true if handled.
type FnOnEvent func(code SystemEventCode, sender interface{}, listener interface{}, data EventContext) bool

type registeredEvent struct {
	listener interface{}
	callback FnOnEvent
}

// EventBus dispatches events synchronously, in registration order.
type EventBus struct {
	mu         sync.RWMutex
	registered map[SystemEventCode][]registeredEvent
}

func NewEventBus() *EventBus {
	return &EventBus{registered: make(map[SystemEventCode][]registeredEvent)}
}

// Register listens for code. A listener can register once per code; a
// duplicate returns false.
func (b *EventBus) Register(code SystemEventCode, listener interface{}, onEvent FnOnEvent) bool {
	if code < 0 || code >= MAX_MESSAGE_CODES || onEvent == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.registered[code] {
		if e.listener == listener {
			LogWarn("listener already registered for event code %d", code)
			return false
		}
	}
	b.registered[code] = append(b.registered[code], registeredEvent{listener: listener, callback: onEvent})
	return true
}

// Unregister removes listener from code. Returns false if it was not registered.
func (b *EventBus) Unregister(code SystemEventCode, listener interface{}) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	events := b.registered[code]
	for i, e := range events {
		if e.listener == listener {
			b.registered[code] = append(events[:i:i], events[i+1:]...)
			return true
		}
	}
	return false
}

// Fire calls the listeners of code until one reports the event handled.
// Listeners may register or fire from inside a callback.
func (b *EventBus) Fire(code SystemEventCode, sender interface{}, context EventContext) bool {
	b.mu.RLock()
	events := append([]registeredEvent(nil), b.registered[code]...)
	b.mu.RUnlock()
	for _, e := range events {
		if e.callback(code, sender, e.listener, context) {
			return true
		}
	}
	return false
}

// Shutdown drops every registration.
func (b *EventBus) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.registered)
}
