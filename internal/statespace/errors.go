package statespace

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoPath is returned by Trace when the explored graph does not connect
// the root to the target.
var ErrNoPath = errors.New("statespace: no path from root")

// ErrNoTransition marks a targeted search that found no transition.
var ErrNoTransition = errors.New("statespace: no matching transition")

// UnknownStateError is returned for operations on a state that is not a
// vertex of the graph.
type UnknownStateError struct {
	ID string
}

func (e *UnknownStateError) Error() string {
	return "statespace: unknown state " + e.ID
}

// UnknownOperationError is returned for operation ids without an edge.
type UnknownOperationError struct {
	ID string
}

func (e *UnknownOperationError) Error() string {
	return "statespace: unknown operation " + e.ID
}

// TransitionNotFoundError describes a failed OpFromPredicate search.
type TransitionNotFoundError struct {
	State     string
	Name      string
	Predicate string
	Reasons   []string
}

func (e *TransitionNotFoundError) Error() string {
	msg := fmt.Sprintf("statespace: no transition %s from %s satisfies %q", e.Name, e.State, e.Predicate)
	if len(e.Reasons) > 0 {
		msg += ": " + strings.Join(e.Reasons, "; ")
	}
	return msg
}

func (e *TransitionNotFoundError) Unwrap() error {
	return ErrNoTransition
}
