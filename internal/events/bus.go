// Package events is an in-process publish/subscribe bus keyed by topic name.
// It has no knowledge of weather data; typed topic descriptors live in topics.go.
package events

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kjstillabower/city-weather/internal/observability"
)

// Handler receives the payload of one emission.
type Handler func(payload any)

// CancelFunc removes a subscription. Calling it more than once is a no-op.
type CancelFunc func()

// ErrorHook receives failures raised by handlers during Emit.
type ErrorHook func(topic string, err error)

type subscription struct {
	id      uint64
	handler Handler
}

// Bus delivers payloads synchronously to the handlers registered for a topic,
// in registration order. Safe for concurrent use; Emit iterates over a snapshot
// so handlers may subscribe or unsubscribe while an emission is in progress.
type Bus struct {
	mu     sync.RWMutex
	topics map[string][]subscription
	nextID uint64
	onErr  ErrorHook
}

// NewBus returns a Bus that reports handler panics to logger. A nil logger discards them.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		topics: make(map[string][]subscription),
		onErr: func(topic string, err error) {
			logger.Error("event handler failed", zap.String("topic", topic), zap.Error(err))
		},
	}
}

// SetErrorHook replaces the hook that receives handler failures.
func (b *Bus) SetErrorHook(hook ErrorHook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onErr = hook
}

// Subscribe registers h for topic. Topics need not be declared in advance.
func (b *Bus) Subscribe(topic string, h Handler) CancelFunc {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.topics[topic] = append(b.topics[topic], subscription{id: id, handler: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(topic, id) })
	}
}

func (b *Bus) remove(topic string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.topics[topic]
	for i, s := range subs {
		if s.id != id {
			continue
		}
		// Copy so snapshots held by in-progress emissions stay intact.
		next := make([]subscription, 0, len(subs)-1)
		next = append(next, subs[:i]...)
		next = append(next, subs[i+1:]...)
		if len(next) == 0 {
			delete(b.topics, topic)
		} else {
			b.topics[topic] = next
		}
		return
	}
}

// Emit calls every handler registered for topic with payload. A handler panic is
// recovered and reported to the error hook; remaining handlers still run.
func (b *Bus) Emit(topic string, payload any) {
	b.mu.RLock()
	subs := b.topics[topic]
	hook := b.onErr
	b.mu.RUnlock()

	if len(subs) == 0 {
		return
	}
	observability.EventsEmittedTotal.WithLabelValues(topic).Inc()
	for _, s := range subs {
		if err := deliver(s.handler, payload); err != nil {
			observability.EventHandlerPanicsTotal.WithLabelValues(topic).Inc()
			if hook != nil {
				hook(topic, err)
			}
		}
	}
}

func deliver(h Handler, payload any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	h(payload)
	return nil
}

// Clear removes all handlers for the given topics, or for every topic when none are given.
func (b *Bus) Clear(topics ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(topics) == 0 {
		b.topics = make(map[string][]subscription)
		return
	}
	for _, t := range topics {
		delete(b.topics, t)
	}
}

// SubscriberCount returns the number of handlers registered for topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}
