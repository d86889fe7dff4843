package events

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/squares/pkg/types"
	"github.com/google/uuid"
)

// EventType names a state change
type EventType string

const (
	EventReactionsCommitted  EventType = "reactions.committed"
	EventMessageCached       EventType = "message.cached"
	EventMessageEvicted      EventType = "message.evicted"
	EventSquareboardInserted EventType = "squareboard.inserted"
	EventSquareboardAmended  EventType = "squareboard.amended"
	EventSquareboardDeleted  EventType = "squareboard.deleted"
)

const (
	queueSize      = 256
	subscriberSize = 50
)

// Event is a state change of one message
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	MessageID string
	Message   string

	// Before and After hold the pair tallies around a commit, in the same
	// order. Only set on EventReactionsCommitted.
	Before []types.PairTally
	After  []types.PairTally
}

// NewEvent creates an event with a fresh id
func NewEvent(eventType EventType, messageID, message string) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		MessageID: messageID,
		Message:   message,
	}
}

// Subscriber receives events. The broker closes it on Unsubscribe or Stop.
type Subscriber chan *Event

// Broker fans events out to subscribers from a single goroutine
type Broker struct {
	mu          sync.RWMutex
	subscribers map[Subscriber][]EventType
	queue       chan *Event
	stopCh      chan struct{}
	stopOnce    sync.Once
	dropped     atomic.Uint64
}

// NewBroker creates a broker. Call Start to begin delivery.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber][]EventType),
		queue:       make(chan *Event, queueSize),
		stopCh:      make(chan struct{}),
	}
}

func (b *Broker) Start() {
	go b.run()
}

// Stop ends delivery and closes every remaining subscriber. It is safe to
// call more than once.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)

		b.mu.Lock()
		defer b.mu.Unlock()
		for sub := range b.subscribers {
			close(sub)
		}
		clear(b.subscribers)
	})
}

// Subscribe registers a subscriber for the given event types, or for every
// type when none are given
func (b *Broker) Subscribe(filter ...EventType) Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, subscriberSize)
	b.subscribers[sub] = filter
	return sub
}

// Unsubscribe removes and closes a subscriber
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub]; !ok {
		return
	}
	delete(b.subscribers, sub)
	close(sub)
}

// Publish queues an event without blocking. The event is dropped and
// counted when the queue is full.
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case <-b.stopCh:
		return
	default:
	}

	select {
	case b.queue <- event:
	default:
		b.dropped.Add(1)
	}
}

// Dropped returns how many deliveries were discarded because the broker
// queue or a subscriber buffer was full
func (b *Broker) Dropped() uint64 {
	return b.dropped.Load()
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.queue:
			b.deliver(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) deliver(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub, filter := range b.subscribers {
		if len(filter) > 0 && !slices.Contains(filter, event.Type) {
			continue
		}
		select {
		case sub <- event:
		default:
			b.dropped.Add(1)
		}
	}
}
