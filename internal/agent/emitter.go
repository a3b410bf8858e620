package agent

import (
	"sync"

	"github.com/adskit/ads/pkg/protocol"
)

// Emitter fans canonical events out to a set of subscribers. Subscribing
// returns an unsubscribe handle; handlers run synchronously in subscription
// order.
type Emitter struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]Handler
}

// NewEmitter creates an empty emitter.
func NewEmitter() *Emitter {
	return &Emitter{handlers: make(map[int]Handler)}
}

// Subscribe registers a handler and returns its unsubscribe func.
func (e *Emitter) Subscribe(h Handler) func() {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.handlers[id] = h
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.handlers, id)
		e.mu.Unlock()
	}
}

// Emit delivers the event to every subscriber.
func (e *Emitter) Emit(ev *protocol.Event) {
	e.mu.RLock()
	handlers := make([]Handler, 0, len(e.handlers))
	for i := 0; i < e.nextID; i++ {
		if h, ok := e.handlers[i]; ok {
			handlers = append(handlers, h)
		}
	}
	e.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

// Len returns the number of subscribers.
func (e *Emitter) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.handlers)
}
