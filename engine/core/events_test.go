package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventBusDispatchesInOrderUntilHandled(t *testing.T) {
	bus := NewEventBus()
	var calls []string
	first, second, third := "first", "second", "third"

	assert.True(t, bus.Register(EVENT_CODE_SHADER_RELOADED, &first, func(_ SystemEventCode, _, _ interface{}, data EventContext) bool {
		calls = append(calls, "first:"+data.Data.C[0])
		return false
	}))
	assert.True(t, bus.Register(EVENT_CODE_SHADER_RELOADED, &second, func(SystemEventCode, interface{}, interface{}, EventContext) bool {
		calls = append(calls, "second")
		return true
	}))
	assert.True(t, bus.Register(EVENT_CODE_SHADER_RELOADED, &third, func(SystemEventCode, interface{}, interface{}, EventContext) bool {
		calls = append(calls, "third")
		return false
	}))

	var ctx EventContext
	ctx.Data.C[0] = "standard.frag"
	assert.True(t, bus.Fire(EVENT_CODE_SHADER_RELOADED, nil, ctx))
	assert.Equal(t, []string{"first:standard.frag", "second"}, calls)
}

func TestEventBusRejectsDuplicatesAndUnregisters(t *testing.T) {
	bus := NewEventBus()
	listener := new(int)
	fired := 0
	cb := func(SystemEventCode, interface{}, interface{}, EventContext) bool {
		fired++
		return false
	}

	assert.True(t, bus.Register(EVENT_CODE_APPLICATION_QUIT, listener, cb))
	assert.False(t, bus.Register(EVENT_CODE_APPLICATION_QUIT, listener, cb))
	assert.False(t, bus.Register(MAX_MESSAGE_CODES, listener, cb))

	assert.False(t, bus.Fire(EVENT_CODE_APPLICATION_QUIT, nil, EventContext{}))
	assert.Equal(t, 1, fired)

	assert.True(t, bus.Unregister(EVENT_CODE_APPLICATION_QUIT, listener))
	assert.False(t, bus.Unregister(EVENT_CODE_APPLICATION_QUIT, listener))
	bus.Fire(EVENT_CODE_APPLICATION_QUIT, nil, EventContext{})
	assert.Equal(t, 1, fired)
}

func TestEventBusAllowsFireFromCallback(t *testing.T) {
	bus := NewEventBus()
	quit := false
	bus.Register(EVENT_CODE_DEVICE_LOST, "engine", func(_ SystemEventCode, _, _ interface{}, _ EventContext) bool {
		bus.Fire(EVENT_CODE_APPLICATION_QUIT, nil, EventContext{})
		return true
	})
	bus.Register(EVENT_CODE_APPLICATION_QUIT, "engine", func(SystemEventCode, interface{}, interface{}, EventContext) bool {
		quit = true
		return true
	})
	bus.Fire(EVENT_CODE_DEVICE_LOST, nil, EventContext{})
	assert.True(t, quit)

	bus.Shutdown()
	assert.False(t, bus.Fire(EVENT_CODE_APPLICATION_QUIT, nil, EventContext{}))
}
