package event

import (
	"reflect"
	"sync"
)

// Verdict is a synchronous listener's answer to a vetoable event.
type Verdict uint8

const (
	Accept Verdict = iota
	Veto
)

func (v Verdict) String() string {
	if v == Veto {
		return "veto"
	}
	return "accept"
}

// Bus carries two kinds of traffic. Queued events (Emit/Subscribe) are double
// buffered: emitted in tick N, delivered in tick N+1 after SwapBuffers.
// Vetoable events (Fire/Listen) are delivered synchronously and every
// listener answers with a Verdict.
type Bus struct {
	mu        sync.Mutex // only protects handler registration
	front     map[reflect.Type][]any
	back      map[reflect.Type][]any
	handlers  map[reflect.Type][]any
	listeners map[reflect.Type][]any
}

func NewBus() *Bus {
	return &Bus{
		front:     make(map[reflect.Type][]any),
		back:      make(map[reflect.Type][]any),
		handlers:  make(map[reflect.Type][]any),
		listeners: make(map[reflect.Type][]any),
	}
}

func typeKey[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// Emit queues an event into the back buffer (readable next tick).
func Emit[T any](b *Bus, event T) {
	t := typeKey[T]()
	b.back[t] = append(b.back[t], event)
}

// Subscribe registers a handler for queued events of type T.
func Subscribe[T any](b *Bus, fn func(T)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := typeKey[T]()
	b.handlers[t] = append(b.handlers[t], fn)
}

// Listen registers a synchronous listener for vetoable events of type T.
func Listen[T any](b *Bus, fn func(T) Verdict) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := typeKey[T]()
	b.listeners[t] = append(b.listeners[t], fn)
}

// Fire delivers event to every listener in registration order. One veto is
// enough to veto the event; later listeners still see it.
func Fire[T any](b *Bus, event T) Verdict {
	b.mu.Lock()
	ls := b.listeners[typeKey[T]()]
	b.mu.Unlock()
	verdict := Accept
	for _, l := range ls {
		if l.(func(T) Verdict)(event) == Veto {
			verdict = Veto
		}
	}
	return verdict
}

// SwapBuffers rotates back to front and clears the new back buffer.
// Called once at tick start.
func (b *Bus) SwapBuffers() {
	b.front, b.back = b.back, b.front
	for k := range b.back {
		b.back[k] = b.back[k][:0]
	}
}

// DispatchAll delivers all front-buffer events to their handlers and returns
// how many events were delivered.
func (b *Bus) DispatchAll() int {
	n := 0
	for t, events := range b.front {
		handlers := b.handlers[t]
		for _, ev := range events {
			for _, h := range handlers {
				callHandler(h, ev)
			}
		}
		n += len(events)
	}
	return n
}

// Pending returns the number of events waiting in the back buffer.
func (b *Bus) Pending() int {
	n := 0
	for _, events := range b.back {
		n += len(events)
	}
	return n
}

func callHandler(handler any, event any) {
	reflect.ValueOf(handler).Call([]reflect.Value{reflect.ValueOf(event)})
}

// DispatchSideEffect fires ev to the SideEffect listeners.
func (b *Bus) DispatchSideEffect(ev SideEffect) Verdict {
	return Fire(b, ev)
}

// Journal queues a committed transition for next-tick consumers.
func (b *Bus) Journal(ev TransitionCommitted) {
	Emit(b, ev)
}
