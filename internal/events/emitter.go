// Package events is the structured event log of the runtime. Every event
// goes to an in-memory ring buffer, to live subscribers, and to the
// configured Store.
package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

var buffer = NewRingBuffer(256)

// Store persists emitted events. *postgres.Client implements it.
type Store interface {
	Append(ts time.Time, level, event, msg string, fields map[string]interface{}, jobID string) error
}

var (
	storeMu     sync.RWMutex
	store       Store
	storeFailed bool
)

// SetStore mirrors every later event to s. A nil s stops mirroring.
func SetStore(s Store) {
	storeMu.Lock()
	defer storeMu.Unlock()
	store = s
	storeFailed = false
}

type Event struct {
	Timestamp string                 `json:"ts"`
	Level     string                 `json:"level"`
	Name      string                 `json:"event"`
	Message   string                 `json:"msg,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Emit records an event and returns its JSON encoding. Unknown event
// names are rejected.
func Emit(level, name, msg string, fields map[string]interface{}) ([]byte, error) {
	if err := Validate(name); err != nil {
		return nil, err
	}

	ts := time.Now().UTC()
	e := Event{
		Timestamp: ts.Format(time.RFC3339Nano),
		Level:     level,
		Name:      name,
		Message:   msg,
		Fields:    fields,
	}

	buffer.Add(e)
	broadcast(e)
	persist(ts, e)

	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return b, nil
}

// persist appends e to the store. The first failure is reported once as
// system.error, added to the buffer only so a failing store cannot recurse.
func persist(ts time.Time, e Event) {
	storeMu.RLock()
	s := store
	storeMu.RUnlock()
	if s == nil {
		return
	}

	err := s.Append(ts, e.Level, e.Name, e.Message, e.Fields, jobOf(e.Fields))
	if err == nil {
		return
	}

	storeMu.Lock()
	first := !storeFailed
	storeFailed = true
	storeMu.Unlock()
	if first {
		buffer.Add(Event{
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			Level:     "error",
			Name:      "system.error",
			Message:   "event store append failed",
			Fields:    map[string]interface{}{"error": err.Error()},
		})
	}
}

// Snapshot returns the buffered events matching prefixes, oldest first.
func Snapshot(prefixes ...string) []Event {
	return Filter(prefixes).Apply(buffer.Snapshot())
}

// Clear resets the event buffer. Used for testing.
func Clear() {
	buffer.Clear()
}

// jobOf returns the model-check job an event belongs to, if any.
func jobOf(fields map[string]interface{}) string {
	if id, ok := fields["job"].(string); ok {
		return id
	}
	return ""
}
