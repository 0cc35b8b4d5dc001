package events

import "sync"

// RingBuffer keeps the most recent events in emission order.
type RingBuffer struct {
	mu     sync.RWMutex
	size   int
	events []Event
	next   int
	full   bool
	total  uint64
}

// NewRingBuffer holds up to size events; size < 1 is treated as 1.
func NewRingBuffer(size int) *RingBuffer {
	if size < 1 {
		size = 1
	}
	return &RingBuffer{size: size, events: make([]Event, size)}
}

// Add stores e, overwriting the oldest event once the buffer is full.
func (rb *RingBuffer) Add(e Event) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.events[rb.next] = e
	rb.next = (rb.next + 1) % rb.size
	rb.full = rb.full || rb.next == 0
	rb.total++
}

// Clear drops all buffered events and resets the total count.
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.events = make([]Event, rb.size)
	rb.next = 0
	rb.full = false
	rb.total = 0
}

// Total returns the number of events added since the last Clear.
func (rb *RingBuffer) Total() uint64 {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.total
}

func (rb *RingBuffer) lenLocked() int {
	if rb.full {
		return rb.size
	}
	return rb.next
}

// at returns the i-th buffered event, oldest first.
func (rb *RingBuffer) at(i int) Event {
	if !rb.full {
		return rb.events[i]
	}
	return rb.events[(rb.next+i)%rb.size]
}

// Snapshot returns the buffered events, oldest first.
func (rb *RingBuffer) Snapshot() []Event {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	n := rb.lenLocked()
	out := make([]Event, n)
	for i := range out {
		out[i] = rb.at(i)
	}
	return out
}

// Last returns up to n of the newest events accepted by keep, oldest
// first. n <= 0 means no bound; a nil keep accepts everything.
func (rb *RingBuffer) Last(n int, keep func(Event) bool) []Event {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var rev []Event
	for i := rb.lenLocked() - 1; i >= 0; i-- {
		if n > 0 && len(rev) == n {
			break
		}
		if e := rb.at(i); keep == nil || keep(e) {
			rev = append(rev, e)
		}
	}
	out := make([]Event, len(rev))
	for i, e := range rev {
		out[len(rev)-1-i] = e
	}
	return out
}
