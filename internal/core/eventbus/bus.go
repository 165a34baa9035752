package eventbus

import (
	"context"
	"sync"
)

type envelope struct {
	event   Event
	payload any
}

// EventBus delivers published events to subscribers on a single dispatch
// goroutine started with Start. Publishing never blocks: when the buffer is
// full the event is dropped and OnDrop hooks fire.
//
// A nil *EventBus is valid and discards everything.
type EventBus struct {
	ch chan envelope

	mu   sync.RWMutex
	subs map[Event][]func(any)

	hooks hooks
}

// hooks holds the lifecycle hook state for the EventBus.
type hooks struct {
	mu        sync.RWMutex
	onPublish []func(Event, any)
	onDrop    []func(Event, any)
	onPanic   []func(Event, any, any)
}

// New creates a bus with the given buffer size.
func New(buffer int) *EventBus {
	return &EventBus{
		ch:   make(chan envelope, buffer),
		subs: make(map[Event][]func(any)),
	}
}

// Start dispatches events until ctx is cancelled.
func (bus *EventBus) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-bus.ch:
			bus.dispatch(env)
		}
	}
}

// OnPublish registers a hook that fires after an event is successfully enqueued.
func (bus *EventBus) OnPublish(fn func(Event, any)) {
	bus.hooks.mu.Lock()
	bus.hooks.onPublish = append(bus.hooks.onPublish, fn)
	bus.hooks.mu.Unlock()
}

// OnDrop registers a hook that fires when an event is dropped due to a full buffer.
func (bus *EventBus) OnDrop(fn func(Event, any)) {
	bus.hooks.mu.Lock()
	bus.hooks.onDrop = append(bus.hooks.onDrop, fn)
	bus.hooks.mu.Unlock()
}

// OnPanic registers a hook that fires when a subscriber panics.
func (bus *EventBus) OnPanic(fn func(Event, any, any)) {
	bus.hooks.mu.Lock()
	bus.hooks.onPanic = append(bus.hooks.onPanic, fn)
	bus.hooks.mu.Unlock()
}

func (bus *EventBus) subscribe(event Event, fn func(any)) {
	if bus == nil {
		return
	}
	bus.mu.Lock()
	bus.subs[event] = append(bus.subs[event], fn)
	bus.mu.Unlock()
}

func (bus *EventBus) send(event Event, payload any) {
	if bus == nil {
		return
	}
	select {
	case bus.ch <- envelope{event: event, payload: payload}:
		bus.runHooks(func(h *hooks) []func(Event, any) { return h.onPublish }, event, payload)
	default:
		bus.runHooks(func(h *hooks) []func(Event, any) { return h.onDrop }, event, payload)
	}
}

func (bus *EventBus) dispatch(env envelope) {
	bus.mu.RLock()
	subs := make([]func(any), len(bus.subs[env.event]))
	copy(subs, bus.subs[env.event])
	bus.mu.RUnlock()

	for _, fn := range subs {
		bus.deliver(env, fn)
	}
}

// deliver runs one subscriber, isolating panics so one bad subscriber does
// not stop dispatch.
func (bus *EventBus) deliver(env envelope, fn func(any)) {
	defer func() {
		if r := recover(); r != nil {
			bus.hooks.mu.RLock()
			panicHooks := make([]func(Event, any, any), len(bus.hooks.onPanic))
			copy(panicHooks, bus.hooks.onPanic)
			bus.hooks.mu.RUnlock()
			for _, h := range panicHooks {
				h(env.event, env.payload, r)
			}
		}
	}()
	fn(env.payload)
}

func (bus *EventBus) runHooks(pick func(*hooks) []func(Event, any), event Event, payload any) {
	bus.hooks.mu.RLock()
	list := pick(&bus.hooks)
	fns := make([]func(Event, any), len(list))
	copy(fns, list)
	bus.hooks.mu.RUnlock()
	for _, fn := range fns {
		fn(event, payload)
	}
}
