// Package bus is the in-process event bus connecting resources to
// replicators, coordination subscribers, and caller listeners.
//
// Delivery model: Emit never blocks the emitting operation. Each
// subscriber owns a buffered queue drained by its own goroutine, so one
// slow subscriber cannot stall another, and each subscriber observes its
// events in emission order. A full queue drops the oldest pending event
// for that subscriber and logs a warning.
package bus

import (
	"sync"
	"time"

	"github.com/s3db-io/s3db/internal/logger"
)

// Event names emitted by the core.
const (
	EventConnected         = "connected"
	EventDisconnected      = "disconnected"
	EventResourceCreated   = "resourceCreated"
	EventInserted          = "inserted"
	EventUpdated           = "updated"
	EventDeleted           = "deleted"
	EventMetadataHealed    = "metadataHealed"
	EventHookFailed        = "hookFailed"
	EventOrphansRemoved    = "orphanedPartitionsRemoved"
	EventLeaderChanged     = "leader:changed"
	EventReplicatorQueued  = "replicator.queued"
	EventReplicatorSuccess = "replicator.success"
	EventReplicatorFailed  = "replicator.failed"
)

// Event is one bus message.
type Event struct {
	Name     string
	Resource string
	ID       string
	Payload  any
	Time     time.Time
}

// Handler processes events sequentially for one subscription.
type Handler func(Event)

// subscriberQueueSize bounds each subscriber's backlog.
const subscriberQueueSize = 256

type subscription struct {
	name    string // event filter; "" means all
	handler Handler
	queue   chan Event
	done    chan struct{}
}

// Bus is the event bus. The zero value is not usable; call New.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*subscription
	nextID int
	closed bool
	wg     sync.WaitGroup
}

// New returns a running bus.
func New() *Bus {
	return &Bus{subs: make(map[int]*subscription)}
}

// Subscribe registers a handler for one event name. The returned function
// cancels the subscription and waits for its queue to drain.
func (b *Bus) Subscribe(name string, h Handler) (unsubscribe func()) {
	return b.subscribe(name, h)
}

// SubscribeAll registers a handler for every event.
func (b *Bus) SubscribeAll(h Handler) (unsubscribe func()) {
	return b.subscribe("", h)
}

func (b *Bus) subscribe(name string, h Handler) func() {
	sub := &subscription{
		name:    name,
		handler: h,
		queue:   make(chan Event, subscriberQueueSize),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case ev := <-sub.queue:
				sub.handler(ev)
			case <-sub.done:
				// Drain what was queued before cancellation.
				for {
					select {
					case ev := <-sub.queue:
						sub.handler(ev)
					default:
						return
					}
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(sub.done)
		})
	}
}

// Emit dispatches an event to every matching subscriber without blocking.
func (b *Bus) Emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for _, sub := range b.subs {
		if sub.name != "" && sub.name != ev.Name {
			continue
		}
		select {
		case sub.queue <- ev:
		default:
			// Shed the oldest event to keep the stream moving.
			select {
			case dropped := <-sub.queue:
				logger.Warn("event bus subscriber backlog full, dropping oldest event",
					"event", dropped.Name, "resource", dropped.Resource)
			default:
			}
			select {
			case sub.queue <- ev:
			default:
			}
		}
	}
}

// Close cancels every subscription and waits for queues to drain.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = make(map[int]*subscription)
	b.mu.Unlock()

	for _, sub := range subs {
		close(sub.done)
	}
	b.wg.Wait()
}
