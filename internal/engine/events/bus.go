package events

import (
	"sync"
)

// Bus delivers a task's events to subscribers.
//
// Each subscriber has its own queue of Capacity events. When a queue is full a
// ProgressMsg replaces the oldest queued ProgressMsg (or is dropped if there
// is none); every other event is appended past the capacity. Publish
// therefore never blocks the recording loop and never loses a structural
// event.
//
// Events published before the first Subscribe are kept and handed to that
// subscriber, so a caller subscribing right after Start still sees StartedMsg.
type Bus struct {
	mu       sync.Mutex
	capacity int
	closed   bool
	claimed  bool
	backlog  []Event
	subs     map[*subscription]struct{}
	dropped  int64
}

type subscription struct {
	queue  []Event
	out    chan Event
	notify chan struct{}
	quit   chan struct{}
	once   sync.Once
}

// NewBus creates a bus with the given per-subscriber capacity.
func NewBus(capacity int) *Bus {
	if capacity <= 0 {
		capacity = 1
	}
	return &Bus{
		capacity: capacity,
		subs:     make(map[*subscription]struct{}),
	}
}

// Publish queues ev for every subscriber. It is a no-op after Close.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	if !b.claimed {
		b.backlog = b.enqueue(b.backlog, ev)
		return
	}
	for s := range b.subs {
		s.queue = b.enqueue(s.queue, ev)
		s.wake()
	}
}

func (b *Bus) enqueue(q []Event, ev Event) []Event {
	if _, ok := ev.(ProgressMsg); !ok || len(q) < b.capacity {
		return append(q, ev)
	}
	for i, queued := range q {
		if _, ok := queued.(ProgressMsg); ok {
			copy(q[i:], q[i+1:])
			q[len(q)-1] = ev
			return q
		}
	}
	b.dropped++
	return q
}

// Subscribe returns a channel of events and a cancel func. The channel is
// closed after Close once all queued events were received, or on cancel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	s := &subscription{
		out:    make(chan Event),
		notify: make(chan struct{}, 1),
		quit:   make(chan struct{}),
	}

	b.mu.Lock()
	if !b.claimed {
		b.claimed = true
		s.queue = b.backlog
		b.backlog = nil
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go b.pump(s)

	cancel := func() {
		s.once.Do(func() {
			b.mu.Lock()
			delete(b.subs, s)
			b.mu.Unlock()
			close(s.quit)
		})
	}
	return s.out, cancel
}

func (b *Bus) pump(s *subscription) {
	defer close(s.out)
	for {
		b.mu.Lock()
		if len(s.queue) == 0 {
			closed := b.closed
			b.mu.Unlock()
			if closed {
				return
			}
			select {
			case <-s.notify:
				continue
			case <-s.quit:
				return
			}
		}
		ev := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		b.mu.Unlock()

		select {
		case s.out <- ev:
		case <-s.quit:
			return
		}
	}
}

func (s *subscription) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Close stops accepting events. Subscribers drain what is queued.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		s.wake()
	}
}

// Dropped returns how many progress events were discarded.
func (b *Bus) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Pending returns the number of events queued but not yet received by the
// busiest subscriber (or held in the backlog).
func (b *Bus) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.backlog)
	for s := range b.subs {
		if len(s.queue) > n {
			n = len(s.queue)
		}
	}
	return n
}
