package ledger

import (
	"sync"

	"github.com/cloudx-io/clearauction/auction"
)

// EventLog is a ledger-wide append-only event record with live subscriptions.
type EventLog struct {
	mu     sync.Mutex
	events []auction.Event
	subs   map[int]chan auction.Event
	nextID int
}

// NewEventLog creates an empty log.
func NewEventLog() *EventLog {
	return &EventLog{subs: make(map[int]chan auction.Event)}
}

// Append records an event and fans it out to subscribers. A subscriber whose
// buffer is full misses the event rather than blocking the machine.
func (l *EventLog) Append(e auction.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	for _, ch := range l.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Events returns a snapshot of all recorded events in order.
func (l *EventLog) Events() []auction.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]auction.Event, len(l.events))
	copy(out, l.events)
	return out
}

// Subscribe registers a live event channel with the given buffer. The cancel
// function removes the subscription and closes the channel.
func (l *EventLog) Subscribe(buffer int) (<-chan auction.Event, func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.nextID
	l.nextID++
	ch := make(chan auction.Event, buffer)
	l.subs[id] = ch

	cancel := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if _, ok := l.subs[id]; ok {
			delete(l.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}
