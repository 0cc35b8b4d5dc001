package engine

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoSolution is the classification of a negative answer.
	ErrNoSolution = errors.New("engine: query has no solution")
	// ErrInterrupted is the classification of an interrupted answer.
	// It is never a failure: callers may resume.
	ErrInterrupted = errors.New("engine: query was interrupted")
	// ErrReportedErrors marks an affirmative answer that carried diagnostics.
	ErrReportedErrors = errors.New("engine: errors were reported")
	// ErrEngineException marks an uncaught engine-side exception.
	ErrEngineException = errors.New("engine: exception")
	// ErrClosed is returned after the channel was closed.
	ErrClosed = errors.New("engine: channel closed")
)

// QueryError carries the classification of a failed query together with
// the engine's diagnostics.
type QueryError struct {
	Kind   error
	Query  string
	Errors []ErrorItem
}

func (e *QueryError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.Error())
	if len(e.Errors) > 0 {
		msgs := make([]string, len(e.Errors))
		for i, item := range e.Errors {
			msgs[i] = item.String()
		}
		sb.WriteString(": ")
		sb.WriteString(strings.Join(msgs, "; "))
	}
	return sb.String()
}

func (e *QueryError) Unwrap() error {
	return e.Kind
}

// ProtocolError indicates a malformed exchange on the wire.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("engine protocol error: %s: %v", e.Reason, e.Err)
	}
	return "engine protocol error: " + e.Reason
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// IsInterrupted reports whether err is an interruption rather than a failure.
func IsInterrupted(err error) bool {
	return errors.Is(err, ErrInterrupted)
}
