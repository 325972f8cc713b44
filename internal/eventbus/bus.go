package eventbus

import (
	"sync"

	"github.com/google/uuid"

	"github.com/wilsonge/no8s-operator/internal/metrics"
)

// DefaultQueueSize is the per-subscriber channel capacity used when a
// subscriber doesn't request a specific size.
const DefaultQueueSize = 256

// Filter reports whether a subscriber wants to receive the given event.
// Per spec.md §4.2, delivery itself is non-selective — every publish
// reaches every subscriber's raw queue regardless of its filter — and
// the filter is evaluated consumer-side, silently dropping events that
// don't match rather than ever affecting what Publish enqueues.
type Filter func(ResourceEvent) bool

// subscription is one subscriber's raw (unfiltered) queue plus the
// goroutine-fed, filtered channel actually handed back to the caller.
// slots holds one token for every event Publish has accepted and the
// forwarding goroutine has not yet handed over or filtered out, so no
// more than the queue size is ever held for one subscriber.
type subscription struct {
	raw    chan ResourceEvent
	out    chan ResourceEvent
	slots  chan struct{}
	filter Filter
}

// Bus is an in-process event bus. The zero value is not usable; create
// one with New.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string]*subscription
	metrics *metrics.Collectors
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subs: map[string]*subscription{}}
}

// SetMetrics attaches a Collectors instance that Subscribe/Unsubscribe/
// Publish report into. Optional; a Bus with no Collectors set simply
// skips metric updates.
func (b *Bus) SetMetrics(c *metrics.Collectors) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metrics = c
}

// Subscribe registers a new subscriber with a bounded queue and an
// optional filter (nil means "receive everything"), returning an id to
// pass to Unsubscribe later.
func (b *Bus) Subscribe(filter Filter) (string, <-chan ResourceEvent) {
	return b.SubscribeWithQueueSize(filter, DefaultQueueSize)
}

// SubscribeWithQueueSize is Subscribe with an explicit queue capacity.
// A forwarding goroutine drains the raw (non-selective) queue and
// applies the filter before handing events to the caller's channel, so
// the filter never influences what Publish enqueues or what counts as
// a back-pressure drop. At most queueSize events are held for the
// subscriber at once, including the one the forwarding goroutine is
// waiting to hand over; Publish drops anything beyond that.
func (b *Bus) SubscribeWithQueueSize(filter Filter, queueSize int) (string, <-chan ResourceEvent) {
	id := uuid.NewString()
	sub := &subscription{
		raw:    make(chan ResourceEvent, queueSize),
		out:    make(chan ResourceEvent),
		slots:  make(chan struct{}, queueSize),
		filter: filter,
	}

	b.mu.Lock()
	b.subs[id] = sub
	if b.metrics != nil {
		b.metrics.EventBusSubscribers.Set(float64(len(b.subs)))
	}
	b.mu.Unlock()

	go sub.forward()

	return id, sub.out
}

// forward drains raw and applies the filter consumer-side, silently
// dropping non-matching events (spec.md §4.2: "filtering drops events
// silently"), forwarding the rest to out.
func (s *subscription) forward() {
	defer close(s.out)
	for ev := range s.raw {
		if s.filter != nil && !s.filter(ev) {
			<-s.slots
			continue
		}
		s.out <- ev
		<-s.slots
	}
}

// Unsubscribe removes a subscriber and closes its raw channel, which
// terminates its forwarding goroutine and closes its consumer-facing
// channel in turn. Unsubscribing an unknown id is a no-op.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
		if b.metrics != nil {
			b.metrics.EventBusSubscribers.Set(float64(len(b.subs)))
		}
	}
	b.mu.Unlock()
	if ok {
		close(sub.raw)
	}
}

// Publish broadcasts an event to every subscriber's raw queue, without
// regard to filter (spec.md §4.2: "delivery is non-selective"). Publish
// never blocks and never returns an error: a subscriber that already
// holds a full queue of undelivered events simply misses the event.
func (b *Bus) Publish(event ResourceEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		select {
		case sub.slots <- struct{}{}:
			sub.raw <- event
		default:
			// Queue full: drop. Publishers never block on a slow subscriber.
			if b.metrics != nil {
				b.metrics.EventBusDropped.Inc()
			}
		}
	}
}

// SubscriberCount returns the number of currently registered subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
