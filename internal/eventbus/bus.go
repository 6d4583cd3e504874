// Package eventbus is the in-process wiring between services. The chores
// service publishes "chores.completed", "chores.invalidated",
// "chores.assigned" and "chores.reassigned"; the notifier publishes
// "notify.queued", "notify.sent", "notify.deduped", "notify.dropped" and
// "notify.failed"; the scheduler publishes "scheduler.run" after each job.
package eventbus

import (
	"sync"
	"time"
)

// Event is a small fire-and-forget record. Data is whatever the publisher
// chose to attach, typically a map or one of the service event structs.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event. Subscribers that need every event
// must size their buffer accordingly.
type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory Bus with no background goroutines.
func New() Bus {
	return &fanout{}
}

type subscriber struct {
	ch     chan Event
	closed bool
}

type fanout struct {
	mu   sync.Mutex
	subs []*subscriber
}

func (f *fanout) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.subs {
		if s.closed {
			continue
		}
		select {
		case s.ch <- e:
		default:
			// Subscriber buffer full, drop.
		}
	}
}

func (f *fanout) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &subscriber{ch: make(chan Event, buffer)}

	f.mu.Lock()
	f.subs = append(f.subs, s)
	f.mu.Unlock()

	unsub := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if s.closed {
			return
		}
		s.closed = true
		for i, cur := range f.subs {
			if cur == s {
				f.subs = append(f.subs[:i], f.subs[i+1:]...)
				break
			}
		}
		close(s.ch)
	}
	return s.ch, unsub
}
