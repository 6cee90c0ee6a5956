package conn

import (
	"sync"

	"marketstream/internal/model"
)

// EventBus is the typed publish/subscribe surface of the Manager. Each
// subscription returns an unsubscribe func. Listeners run synchronously on
// the emitting goroutine, in subscription order is not guaranteed.
type EventBus struct {
	mu     sync.RWMutex
	nextID int

	connected    map[int]func()
	disconnected map[int]func(reason string)
	data         map[int]func(model.DataPacket)
	errs         map[int]func(error)
	status       map[int]func(State)
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{
		connected:    make(map[int]func()),
		disconnected: make(map[int]func(reason string)),
		data:         make(map[int]func(model.DataPacket)),
		errs:         make(map[int]func(error)),
		status:       make(map[int]func(State)),
	}
}

// OnConnected registers a listener for successful connections.
func (b *EventBus) OnConnected(fn func()) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.connected[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.connected, id)
	}
}

// OnDisconnected registers a listener for connection loss with a reason.
func (b *EventBus) OnDisconnected(fn func(reason string)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.disconnected[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.disconnected, id)
	}
}

// OnData registers a listener for validated packets.
func (b *EventBus) OnData(fn func(model.DataPacket)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.data[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.data, id)
	}
}

// OnError registers a listener for transport errors.
func (b *EventBus) OnError(fn func(error)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.errs[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.errs, id)
	}
}

// OnStatusChanged registers a listener for state transitions.
func (b *EventBus) OnStatusChanged(fn func(State)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.status[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.status, id)
	}
}

func (b *EventBus) emitConnected() {
	for _, fn := range b.snapshotConnected() {
		fn()
	}
}

func (b *EventBus) emitDisconnected(reason string) {
	b.mu.RLock()
	fns := make([]func(string), 0, len(b.disconnected))
	for _, fn := range b.disconnected {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()
	for _, fn := range fns {
		fn(reason)
	}
}

func (b *EventBus) emitData(p model.DataPacket) {
	b.mu.RLock()
	fns := make([]func(model.DataPacket), 0, len(b.data))
	for _, fn := range b.data {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()
	for _, fn := range fns {
		fn(p)
	}
}

func (b *EventBus) emitError(err error) {
	b.mu.RLock()
	fns := make([]func(error), 0, len(b.errs))
	for _, fn := range b.errs {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()
	for _, fn := range fns {
		fn(err)
	}
}

func (b *EventBus) emitStatus(s State) {
	b.mu.RLock()
	fns := make([]func(State), 0, len(b.status))
	for _, fn := range b.status {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()
	for _, fn := range fns {
		fn(s)
	}
}

func (b *EventBus) snapshotConnected() []func() {
	b.mu.RLock()
	defer b.mu.RUnlock()
	fns := make([]func(), 0, len(b.connected))
	for _, fn := range b.connected {
		fns = append(fns, fn)
	}
	return fns
}
