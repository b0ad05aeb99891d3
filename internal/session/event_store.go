package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/meridian-robotics/areatrack/internal/tracker"
)

// NoEventSentinel is returned by DisplayString before any event has arrived.
const NoEventSentinel = "no event received"

// EventStore retains the single most recent module event. It has its own
// mutex, independent of the pose store, so a slow event reader never delays
// pose ingestion.
type EventStore struct {
	mu         sync.Mutex
	latest     tracker.Event
	receivedAt time.Time
	seen       bool
}

// NewEventStore returns an empty store.
func NewEventStore() *EventStore {
	return &EventStore{}
}

// UpdateEvent overwrites the retained event.
func (s *EventStore) UpdateEvent(e tracker.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = e
	s.receivedAt = time.Now()
	s.seen = true
}

// Latest returns the retained event and whether one has arrived yet.
func (s *EventStore) Latest() (tracker.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.seen
}

// Reset clears the retained event.
func (s *EventStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = tracker.Event{}
	s.receivedAt = time.Time{}
	s.seen = false
}

// DisplayString renders the retained event, or the sentinel before the first
// event arrives.
func (s *EventStore) DisplayString() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.seen {
		return NoEventSentinel
	}
	return fmt.Sprintf("%.3f: %s %s=%s", s.latest.Timestamp, s.latest.Type, s.latest.Key, s.latest.Value)
}
