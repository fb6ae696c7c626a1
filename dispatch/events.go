package dispatch

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type EventKind string

const (
	EventFacilityAdded       EventKind = "facility.added"
	EventFacilityRemoved     EventKind = "facility.removed"
	EventFacilityShown       EventKind = "facility.shown"
	EventFacilityHidden      EventKind = "facility.hidden"
	EventFacilitySaturated   EventKind = "facility.saturated"
	EventFacilityDesaturated EventKind = "facility.desaturated"
	EventIncidentCreated     EventKind = "incident.created"
	EventIncidentRemoved     EventKind = "incident.removed"
	EventIncidentDropped     EventKind = "incident.dropped"
	EventIncidentRejected    EventKind = "incident.rejected"
	EventIncidentsRecomputed EventKind = "incidents.recomputed"
)

// Event is an id-keyed state change for the sidebar and map collaborators.
type Event struct {
	ID         string    `json:"id"`
	Kind       EventKind `json:"kind"`
	FacilityID int       `json:"facilityId,omitempty"`
	IncidentID int       `json:"incidentId,omitempty"`
	Count      int       `json:"count,omitempty"`
	Message    string    `json:"message,omitempty"`
	At         time.Time `json:"at"`
}

func newEvent(kind EventKind, at time.Time) Event {
	return Event{ID: uuid.NewString(), Kind: kind, At: at}
}

type Notifier interface {
	Publish(Event)
}

type nopNotifier struct{}

func (nopNotifier) Publish(Event) {}

// Broker fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event.
type Broker struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[int]chan Event)}
}

func (b *Broker) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe returns a channel of future events and a func that closes it.
func (b *Broker) Subscribe(buffer int) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, buffer)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
