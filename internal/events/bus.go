// Package events is a small in-process publish/subscribe bus used to
// fan breaker, signal, position and campaign events out to the ops
// metrics and any other interested subscriber, without coupling those
// components to each other directly.
package events

import (
	"sync"

	"go.uber.org/zap"
)

// Type identifies what kind of event a payload carries.
type Type string

const (
	TypeBreaker  Type = "breaker"
	TypeSignal   Type = "signal"
	TypeOrder    Type = "order"
	TypePosition Type = "position"
	TypeCampaign Type = "campaign"
)

// Event is one published occurrence; Payload's concrete type depends on
// Type (e.g. types.BreakerEvent for TypeBreaker).
type Event struct {
	Type    Type
	Payload any
}

// Handler receives published events; handlers run one at a time on a
// dedicated dispatch goroutine, so a slow handler cannot block Publish
// (it delays later events, and once the queue is full Publish drops them).
type Handler func(Event)

// Bus is safe for concurrent use.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Type][]Handler
	queue    chan Event
	logger   *zap.Logger
}

// New starts a Bus with a bounded dispatch queue.
func New(queueSize int, logger *zap.Logger) *Bus {
	b := &Bus{
		handlers: make(map[Type][]Handler),
		queue:    make(chan Event, queueSize),
		logger:   logger.Named("events"),
	}
	go b.dispatchLoop()
	return b
}

// Subscribe registers handler for every event of the given type.
func (b *Bus) Subscribe(t Type, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], handler)
}

// Publish enqueues an event for dispatch, dropping it with a warning log
// if the queue is full rather than blocking the caller indefinitely.
func (b *Bus) Publish(e Event) {
	select {
	case b.queue <- e:
	default:
		b.logger.Warn("event queue full, dropping event", zap.String("type", string(e.Type)))
	}
}

func (b *Bus) dispatchLoop() {
	for e := range b.queue {
		b.mu.RLock()
		handlers := append([]Handler(nil), b.handlers[e.Type]...)
		b.mu.RUnlock()
		for _, h := range handlers {
			h(e)
		}
	}
}
