package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventType names a lifecycle change
type EventType string

// Registry events
const (
	EventParameterCreated EventType = "parameter.created"
	EventParameterDeleted EventType = "parameter.deleted"
	EventSubscribed       EventType = "parameter.subscribed"
	EventUnsubscribed     EventType = "parameter.unsubscribed"
	EventNotifyFailed     EventType = "parameter.notify_failed"
)

// Scheduler events
const (
	EventTimerAdded   EventType = "timer.added"
	EventTimerRemoved EventType = "timer.removed"
)

const (
	// queueDepth bounds the events waiting for distribution
	queueDepth = 100
	// watcherDepth bounds each watcher channel; a full watcher misses events
	watcherDepth = 50
)

// Event describes one lifecycle change. Parameter and Loop are names, not
// handles, so watchers never hold references into the registry.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Parameter string
	Loop      string
	Message   string
	Metadata  map[string]string
}

// Subscriber is the receive side of one watcher
type Subscriber chan *Event

// Broker fans lifecycle events out to watchers. It is a side channel for
// observability; parameter values never travel through it.
type Broker struct {
	mu       sync.RWMutex
	watchers map[Subscriber]struct{}
	queue    chan *Event
	stopCh   chan struct{}
	stopOnce sync.Once
	dropped  atomic.Uint64
}

// NewBroker creates an unstarted broker
func NewBroker() *Broker {
	return &Broker{
		watchers: make(map[Subscriber]struct{}),
		queue:    make(chan *Event, queueDepth),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the distribution goroutine
func (b *Broker) Start() {
	go b.run()
}

// Stop ends distribution and closes every watcher channel, so watchers
// ranging over their Subscriber return. Safe to call more than once.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)

		b.mu.Lock()
		defer b.mu.Unlock()
		for w := range b.watchers {
			close(w)
			delete(b.watchers, w)
		}
	})
}

// Subscribe registers a watcher. After Stop the returned channel is already
// closed.
func (b *Broker) Subscribe() Subscriber {
	w := make(Subscriber, watcherDepth)

	b.mu.Lock()
	defer b.mu.Unlock()
	select {
	case <-b.stopCh:
		close(w)
	default:
		b.watchers[w] = struct{}{}
	}
	return w
}

// Unsubscribe removes a watcher and closes its channel
func (b *Broker) Unsubscribe(w Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.watchers[w]; ok {
		delete(b.watchers, w)
		close(w)
	}
}

// Publish queues an event without waiting. When the queue is full the event
// is dropped and counted.
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

// Dropped counts events lost to a full queue
func (b *Broker) Dropped() uint64 {
	return b.dropped.Load()
}

// SubscriberCount returns the number of registered watchers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.watchers)
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.queue:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for w := range b.watchers {
		select {
		case w <- event:
		default:
		}
	}
}
