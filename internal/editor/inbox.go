package editor

import (
	"log/slog"
	"sync"
)

// PayloadHandler receives one serialized inbound payload.
type PayloadHandler func(payload string)

// Inbox is the inbound notification stream from a preview surface to the
// editor. Payloads are delivered to subscribers synchronously and in the
// order they are posted.
type Inbox struct {
	mu       sync.RWMutex
	handlers map[uint64]PayloadHandler
	nextID   uint64
	logger   *slog.Logger
}

// NewInbox creates an empty inbox.
func NewInbox(logger *slog.Logger) *Inbox {
	return &Inbox{
		handlers: make(map[uint64]PayloadHandler),
		logger:   logger,
	}
}

// Subscribe registers a handler and returns a function that detaches it.
func (ib *Inbox) Subscribe(h PayloadHandler) func() {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	id := ib.nextID
	ib.nextID++
	ib.handlers[id] = h
	return func() {
		ib.mu.Lock()
		defer ib.mu.Unlock()
		delete(ib.handlers, id)
	}
}

// Post delivers payload to every subscriber. A panicking subscriber is
// recovered and logged.
func (ib *Inbox) Post(payload string) {
	ib.mu.RLock()
	handlers := make([]PayloadHandler, 0, len(ib.handlers))
	for _, h := range ib.handlers {
		handlers = append(handlers, h)
	}
	ib.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					ib.logger.Error("inbox handler panic", "panic", r)
				}
			}()
			h(payload)
		}()
	}
}

// Subscribers returns the number of attached handlers.
func (ib *Inbox) Subscribers() int {
	ib.mu.RLock()
	defer ib.mu.RUnlock()
	return len(ib.handlers)
}
