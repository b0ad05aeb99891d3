// Package progress fans save-progress percentages out to multiple consumers.
// A single reporter sits between the event ingestor and any number of
// subscribers (SSE streams, CLI watchers, the journal recorder).
package progress

import (
	crand "crypto/rand"
	"encoding/hex"
	"sync"
	"sync/atomic"

	"github.com/meridian-robotics/areatrack/internal/monitoring"
)

const defaultBuffer = 8

// Reporter broadcasts integer percentages to subscribed channels. Report
// never blocks: a subscriber whose buffer is full loses that update and the
// drop is counted. The most recent value is retained so late subscribers can
// seed their display.
type Reporter struct {
	subscribers  map[string]chan int
	subscriberMu sync.Mutex
	buffer       int
	closed       bool

	last    int
	hasLast bool

	dropped atomic.Uint64
}

// NewReporter returns a reporter whose subscriber channels buffer up to
// buffer updates. Zero or negative means the default of 8.
func NewReporter(buffer int) *Reporter {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Reporter{
		subscribers: make(map[string]chan int),
		buffer:      buffer,
	}
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe creates a new channel for receiving progress updates. The ID
// identifies the channel when unsubscribing. After Close, the returned
// channel is already closed.
func (r *Reporter) Subscribe() (string, chan int) {
	id := randomID()
	ch := make(chan int, r.buffer)
	r.subscriberMu.Lock()
	defer r.subscriberMu.Unlock()
	if r.closed {
		close(ch)
		return id, ch
	}
	r.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (r *Reporter) Unsubscribe(id string) {
	r.subscriberMu.Lock()
	defer r.subscriberMu.Unlock()
	if ch, ok := r.subscribers[id]; ok {
		close(ch)
		delete(r.subscribers, id)
	}
}

// Report broadcasts pct to all subscribers without blocking and retains it
// as the last observed value.
func (r *Reporter) Report(pct int) {
	r.subscriberMu.Lock()
	defer r.subscriberMu.Unlock()
	if r.closed {
		return
	}
	r.last = pct
	r.hasLast = true
	for id, ch := range r.subscribers {
		select {
		case ch <- pct:
		default:
			r.dropped.Add(1)
			monitoring.Logf("[ProgressReporter] subscriber %s full, dropped update %d%%", id, pct)
		}
	}
}

// Last returns the most recent reported percentage and whether one exists.
func (r *Reporter) Last() (int, bool) {
	r.subscriberMu.Lock()
	defer r.subscriberMu.Unlock()
	return r.last, r.hasLast
}

// Dropped returns how many updates have been discarded across all
// subscribers.
func (r *Reporter) Dropped() uint64 {
	return r.dropped.Load()
}

// Subscribers returns the current subscriber count.
func (r *Reporter) Subscribers() int {
	r.subscriberMu.Lock()
	defer r.subscriberMu.Unlock()
	return len(r.subscribers)
}

// Close closes every subscriber channel. Further Report calls are dropped
// and further Subscribe calls return closed channels.
func (r *Reporter) Close() {
	r.subscriberMu.Lock()
	defer r.subscriberMu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for id, ch := range r.subscribers {
		close(ch)
		delete(r.subscribers, id)
	}
}
