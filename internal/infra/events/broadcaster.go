// Package events carries invalidation messages from the write path to
// connected dashboard clients.
package events

import (
	"sync"
	"time"

	"github.com/boddenberg/cashflow-bfa-go/internal/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// subscriberBuffer is the number of events queued per subscriber before
// new events are dropped for it.
const subscriberBuffer = 16

// Broadcaster fans events out to subscribers. A slow subscriber never blocks
// Publish: when its buffer is full the event is dropped for it.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan domain.Event]string // channel -> resource filter
	logger      *zap.Logger
	onPublish   func(domain.Event)
}

// NewBroadcaster creates a broadcaster. onPublish, if set, is called once per
// published event (used for metrics).
func NewBroadcaster(logger *zap.Logger, onPublish func(domain.Event)) *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[chan domain.Event]string),
		logger:      logger.With(zap.String("component", "event_broadcaster")),
		onPublish:   onPublish,
	}
}

// Subscribe registers a subscriber. An empty resource receives every event;
// otherwise only events for that resource (and events without one).
func (b *Broadcaster) Subscribe(resource string) chan domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan domain.Event, subscriberBuffer)
	b.subscribers[ch] = resource

	b.logger.Debug("subscriber added",
		zap.String("resource", resource),
		zap.Int("total_subscribers", len(b.subscribers)),
	)
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(ch chan domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[ch]; !ok {
		return
	}
	delete(b.subscribers, ch)
	close(ch)

	b.logger.Debug("subscriber removed", zap.Int("total_subscribers", len(b.subscribers)))
}

// Publish delivers evt to every matching subscriber. ID and Timestamp are
// filled in when empty.
func (b *Broadcaster) Publish(evt domain.Event) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch, resource := range b.subscribers {
		if resource != "" && evt.Resource != "" && resource != evt.Resource {
			continue
		}
		select {
		case ch <- evt:
		default:
			b.logger.Warn("subscriber channel full, event dropped",
				zap.String("event_type", evt.Type),
				zap.String("resource", resource),
			)
		}
	}

	if b.onPublish != nil {
		b.onPublish(evt)
	}
}

// Subscribers returns the number of active subscribers.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
