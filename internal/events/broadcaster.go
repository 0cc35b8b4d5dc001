package events

import (
	"strings"
	"sync"
)

// Subscriber represents a channel that receives events.
type Subscriber chan Event

// Filter selects events by name prefix, as in "modelcheck." or
// "engine.query". An empty filter matches every event.
type Filter []string

// Match reports whether name passes the filter.
func (f Filter) Match(name string) bool {
	if len(f) == 0 {
		return true
	}
	for _, p := range f {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// Apply returns the events of es that pass the filter.
func (f Filter) Apply(es []Event) []Event {
	if len(f) == 0 {
		return es
	}
	out := make([]Event, 0, len(es))
	for _, e := range es {
		if f.Match(e.Name) {
			out = append(out, e)
		}
	}
	return out
}

// ParseFilter splits a comma separated prefix list, dropping empty entries.
func ParseFilter(s string) Filter {
	var f Filter
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			f = append(f, p)
		}
	}
	return f
}

// Broadcaster fans events out to live subscribers.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]Filter
}

var broadcaster = &Broadcaster{
	subscribers: make(map[Subscriber]Filter),
}

// Subscribe adds a subscriber receiving the events that match prefixes.
// The channel has a buffer to prevent blocking on slow clients.
func Subscribe(prefixes ...string) Subscriber {
	ch := make(Subscriber, 64)
	broadcaster.mu.Lock()
	broadcaster.subscribers[ch] = Filter(prefixes)
	broadcaster.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
// Unsubscribing twice is a no-op.
func Unsubscribe(sub Subscriber) {
	broadcaster.mu.Lock()
	defer broadcaster.mu.Unlock()
	if _, ok := broadcaster.subscribers[sub]; !ok {
		return
	}
	delete(broadcaster.subscribers, sub)
	close(sub)
}

// CloseAllSubscribers closes every subscriber channel. Used on shutdown.
func CloseAllSubscribers() {
	broadcaster.mu.Lock()
	defer broadcaster.mu.Unlock()
	for sub := range broadcaster.subscribers {
		delete(broadcaster.subscribers, sub)
		close(sub)
	}
}

// broadcast never blocks: a subscriber with a full buffer misses e.
func broadcast(e Event) {
	broadcaster.mu.RLock()
	defer broadcaster.mu.RUnlock()

	for sub, f := range broadcaster.subscribers {
		if !f.Match(e.Name) {
			continue
		}
		select {
		case sub <- e:
		default:
		}
	}
}

// SubscriberCount returns the current number of subscribers.
func SubscriberCount() int {
	broadcaster.mu.RLock()
	defer broadcaster.mu.RUnlock()
	return len(broadcaster.subscribers)
}

// RecentEvents returns the last n buffered events matching prefixes.
// n <= 0 returns all of them.
func RecentEvents(n int, prefixes ...string) []Event {
	f := Filter(prefixes)
	return buffer.Last(n, func(e Event) bool { return f.Match(e.Name) })
}

// TotalCount returns the number of events emitted since the last Clear.
func TotalCount() uint64 {
	return buffer.Total()
}
