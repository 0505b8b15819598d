// Package pubsub fans telemetry updates out to the controller and any other
// consumer of the poll loop. Delivery is latest-value: each subscriber holds
// at most one pending update, and a newer update replaces one that has not
// been consumed yet. A consumer that falls behind the poll interval skips
// straight to the freshest reading instead of working through a backlog of
// stale power measurements, which would have it issuing commands on
// conditions that no longer hold.
package pubsub

import (
	"log/slog"
	"sync"
)

// Publisher fans out published values to all subscribed channels.
type Publisher[T any] struct {
	subscribers map[chan T]struct{}
	logger      *slog.Logger
	lock        sync.RWMutex
}

func New[T any](logger *slog.Logger) *Publisher[T] {
	return &Publisher[T]{
		subscribers: make(map[chan T]struct{}),
		logger:      logger,
	}
}

// Subscribe returns a channel carrying the most recent update published
// after the call. The channel holds one update; it is never closed.
func (p *Publisher[T]) Subscribe() chan T {
	p.lock.Lock()
	defer p.lock.Unlock()
	ch := make(chan T, 1)
	p.subscribers[ch] = struct{}{}
	p.logger.Debug("subscriber added", slog.Int("subscribers", len(p.subscribers)))
	return ch
}

// Unsubscribe deregisters the channel. The channel is not closed.
func (p *Publisher[T]) Unsubscribe(ch chan T) {
	p.lock.Lock()
	defer p.lock.Unlock()
	delete(p.subscribers, ch)
	p.logger.Debug("subscriber removed", slog.Int("subscribers", len(p.subscribers)))
}

// Publish sends the update to all subscribers without blocking. A subscriber
// that still holds an unconsumed update has it replaced by this one.
func (p *Publisher[T]) Publish(update T) {
	p.lock.RLock()
	defer p.lock.RUnlock()
	for ch := range p.subscribers {
		select {
		case ch <- update:
			continue
		default:
		}
		// drop the stale pending update and try again. If the subscriber
		// drained the channel in between, the second send lands directly.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- update:
		default:
			p.logger.Debug("subscriber lagging, update dropped")
		}
	}
}

// Subscribers returns the number of registered subscribers.
func (p *Publisher[T]) Subscribers() int {
	p.lock.RLock()
	defer p.lock.RUnlock()
	return len(p.subscribers)
}
