package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of observability event
type EventType string

const (
	EventExecutiveStartedSingleShot EventType = "executive.started.single_shot"
	EventExecutiveStarted           EventType = "executive.started"
	EventExecutiveStopped           EventType = "executive.stopped"
	EventExecutiveFinished          EventType = "executive.finished"
	EventExecutiveReset             EventType = "executive.reset"
	EventExecutivePaused            EventType = "executive.paused"
	EventExecutiveResumed           EventType = "executive.resumed"
	EventExecutiveAborted           EventType = "executive.aborted"
	EventClockAboutToChange         EventType = "clock.about_to_change"
	EventAboutToFire                EventType = "event.about_to_fire"
	EventHasCompleted               EventType = "event.has_completed"
	EventRolledBack                 EventType = "executive.rolled_back"
)

// Event represents a kernel observability event
type Event struct {
	ID        string
	Type      EventType
	Executive string
	When      time.Time // virtual time the event refers to
	Timestamp time.Time // wall-clock publication time
	Message   string
	Metadata  map[string]string
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker manages event subscriptions and distribution
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100), // Buffer up to 100 events
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50) // Buffer per subscriber
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes an event to all subscribers
func (b *Broker) Publish(event *Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
