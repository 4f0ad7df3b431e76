package bus

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/stayhub/hotel-reservation-backend/internal/config"
	"github.com/stayhub/hotel-reservation-backend/internal/models"
)

// Bus is the in-process notification bus. Each topic gets its own dispatcher
// goroutine and bounded queue, so ordering is FIFO within a topic and topics
// never block each other.
//
// Critical event kinds (transition lifecycle, workflow errors) apply
// backpressure to publishers when a queue is full; all other kinds drop the
// oldest queued event instead.
type Bus struct {
	mu     sync.RWMutex
	topics map[string]*topic
	closed bool

	cfg    config.BusConfig
	logger *logrus.Logger

	nextSubID uint64
	dropped   uint64
	published uint64
}

type topic struct {
	name string
	in   chan models.Event
	done chan struct{}

	mu   sync.RWMutex
	subs map[uint64]*Subscription
}

// Subscription is one consumer's view of the bus. Events arrive on C in
// per-topic FIFO order. Cancel releases the subscription and closes C.
type Subscription struct {
	C <-chan models.Event

	id     uint64
	ch     chan models.Event
	done   chan struct{}
	bus    *Bus
	topics []string

	cancelOnce sync.Once
	cancelled  atomic.Bool
}

// New creates a bus with the given queue sizes
func New(cfg config.BusConfig, logger *logrus.Logger) *Bus {
	if cfg.TopicBufferSize <= 0 {
		cfg.TopicBufferSize = 256
	}
	if cfg.SubscriberBufferSize <= 0 {
		cfg.SubscriberBufferSize = 64
	}
	return &Bus{
		topics: make(map[string]*topic),
		cfg:    cfg,
		logger: logger,
	}
}

// Publish routes an event to its topic queue. Critical kinds block until the
// queue accepts the event; other kinds evict the oldest queued event when the
// queue is full.
func (b *Bus) Publish(event models.Event) {
	t := b.getOrCreateTopic(event.Topic)
	if t == nil {
		return
	}

	atomic.AddUint64(&b.published, 1)

	if event.Kind.IsCritical() {
		select {
		case t.in <- event:
		case <-t.done:
		}
		return
	}

	for {
		select {
		case t.in <- event:
			return
		case <-t.done:
			return
		default:
		}
		// Queue full: evict the oldest event and retry
		select {
		case old := <-t.in:
			atomic.AddUint64(&b.dropped, 1)
			b.logger.WithFields(logrus.Fields{
				"topic": t.name,
				"kind":  old.Kind,
			}).Warn("Notification queue full, dropping oldest event")
		default:
		}
	}
}

// Subscribe registers a consumer on one or more topics
func (b *Bus) Subscribe(topics ...string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSubID++
	sub := &Subscription{
		id:     b.nextSubID,
		ch:     make(chan models.Event, b.cfg.SubscriberBufferSize),
		done:   make(chan struct{}),
		bus:    b,
		topics: topics,
	}
	sub.C = sub.ch

	if b.closed {
		sub.cancelOnce.Do(func() {
			sub.cancelled.Store(true)
			close(sub.done)
			close(sub.ch)
		})
		return sub
	}

	for _, name := range topics {
		t := b.getOrCreateTopicLocked(name)
		t.mu.Lock()
		t.subs[sub.id] = sub
		t.mu.Unlock()
	}

	return sub
}

// Cancel removes the subscription from all its topics and closes C
func (s *Subscription) Cancel() {
	s.cancelOnce.Do(func() {
		s.cancelled.Store(true)
		// Unblocks any dispatcher mid-send to this subscription
		close(s.done)

		s.bus.mu.RLock()
		for _, name := range s.topics {
			if t, ok := s.bus.topics[name]; ok {
				t.mu.Lock()
				delete(t.subs, s.id)
				t.mu.Unlock()
			}
		}
		s.bus.mu.RUnlock()

		// Safe: dispatchers only send while holding the topic read lock and
		// the subscription is still registered
		close(s.ch)
	})
}

// Close shuts down all topic dispatchers and cancels all subscriptions
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	topics := make([]*topic, 0, len(b.topics))
	for _, t := range b.topics {
		topics = append(topics, t)
	}
	b.mu.Unlock()

	for _, t := range topics {
		close(t.done)
	}
}

// Stats returns the published and dropped event counters
func (b *Bus) Stats() (published, dropped uint64) {
	return atomic.LoadUint64(&b.published), atomic.LoadUint64(&b.dropped)
}

func (b *Bus) getOrCreateTopic(name string) *topic {
	b.mu.RLock()
	t, ok := b.topics[name]
	closed := b.closed
	b.mu.RUnlock()
	if ok {
		return t
	}
	if closed {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	return b.getOrCreateTopicLocked(name)
}

// getOrCreateTopicLocked requires b.mu held for writing
func (b *Bus) getOrCreateTopicLocked(name string) *topic {
	if t, ok := b.topics[name]; ok {
		return t
	}

	t := &topic{
		name: name,
		in:   make(chan models.Event, b.cfg.TopicBufferSize),
		done: make(chan struct{}),
		subs: make(map[uint64]*Subscription),
	}
	b.topics[name] = t
	go b.dispatch(t)
	return t
}

// dispatch delivers queued events to every subscriber of the topic in order
func (b *Bus) dispatch(t *topic) {
	for {
		select {
		case event := <-t.in:
			b.deliver(t, event)
		case <-t.done:
			// Drain what was queued before shutdown
			for {
				select {
				case event := <-t.in:
					b.deliver(t, event)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) deliver(t *topic, event models.Event) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, sub := range t.subs {
		if sub.cancelled.Load() {
			continue
		}
		if event.Kind.IsCritical() {
			select {
			case sub.ch <- event:
			case <-sub.done:
			}
			continue
		}
		for {
			select {
			case sub.ch <- event:
			case <-sub.done:
			default:
				// Slow consumer: evict its oldest event and retry
				select {
				case <-sub.ch:
					atomic.AddUint64(&b.dropped, 1)
				default:
				}
				continue
			}
			break
		}
	}
}
