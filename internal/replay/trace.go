// Package replay re-executes a recorded trace against a live state space
// and reports how each recorded step maps onto the current model.
package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// PersistentTransition is one recorded step of a trace.
type PersistentTransition struct {
	Name      string            `json:"name"`
	Params    map[string]string `json:"params,omitempty"`
	Results   map[string]string `json:"results,omitempty"`
	DestState map[string]string `json:"destState,omitempty"`
}

// Equal reports whether t and o record the same step.
func (t PersistentTransition) Equal(o PersistentTransition) bool {
	return t.Name == o.Name &&
		sameMap(t.Params, o.Params) &&
		sameMap(t.Results, o.Results) &&
		sameMap(t.DestState, o.DestState)
}

func (t PersistentTransition) String() string {
	if len(t.Params) == 0 {
		return t.Name
	}
	return t.Name + "(" + canonical(t.Params) + ")"
}

func (t PersistentTransition) clone() PersistentTransition {
	return PersistentTransition{
		Name:      t.Name,
		Params:    cloneMap(t.Params),
		Results:   cloneMap(t.Results),
		DestState: cloneMap(t.DestState),
	}
}

// traceFile is the subset of a persisted trace file the replay consumes.
type traceFile struct {
	TransitionList []PersistentTransition `json:"transitionList"`
}

// ParseTrace decodes the transition list of a trace file.
func ParseTrace(data []byte) ([]PersistentTransition, error) {
	var f traceFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse trace: %w", err)
	}
	if f.TransitionList == nil {
		return nil, fmt.Errorf("parse trace: missing transitionList")
	}
	for i, t := range f.TransitionList {
		if t.Name == "" {
			return nil, fmt.Errorf("parse trace: transition %d has no name", i)
		}
	}
	return f.TransitionList, nil
}

// LoadTrace reads a trace file from disk.
func LoadTrace(path string) ([]PersistentTransition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read trace: %w", err)
	}
	return ParseTrace(data)
}

func sameMap(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if w, ok := b[k]; !ok || w != v {
			return false
		}
	}
	return true
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// SnapshotKey identifies a variable snapshot in a Result. Values are
// quoted, so B values containing "," or "=" cannot collide. An empty
// snapshot has the empty key.
func SnapshotKey(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	// Map keys are marshalled in sorted order.
	data, err := json.Marshal(m)
	if err != nil {
		return canonical(m)
	}
	return string(data)
}

// canonical renders m as k=v pairs sorted by key, for display.
func canonical(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + m[k]
	}
	return strings.Join(parts, ",")
}
