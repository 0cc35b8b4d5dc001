// Package engine is the client side of the engine term protocol. A Command
// writes one query term and consumes the bindings of the answer; a Channel
// executes commands one at a time over a connection.
package engine

import (
	"context"
	"fmt"

	"github.com/AaronLay10/StateSpace/internal/prolog"
)

// Command is one unit of protocol interaction.
type Command interface {
	// WriteQuery serializes the query. The channel appends the end marker.
	WriteQuery(o *prolog.Output)
	// OnSuccess consumes the bindings of an affirmative answer.
	OnSuccess(b prolog.Bindings) error
}

// Composite is implemented by commands that can be decomposed into
// sub-commands for diagnostics. Decomposition never changes the outcome
// of executing the parent.
type Composite interface {
	SubCommands() []Command
}

// ProgressHandler receives progress notifications sent before the
// terminal answer. It must not block.
type ProgressHandler interface {
	OnProgress(info prolog.Term)
}

// CallbackHandler answers callback requests the channel does not know.
// It returns false to decline.
type CallbackHandler interface {
	OnCallback(request prolog.Term) (prolog.Term, bool)
}

// ErrorHandler overrides the default classification of failed answers.
// It is called for No, Interrupted, Exception, and for Yes answers that
// carried errors (after OnSuccess). Returning nil accepts the answer.
type ErrorHandler interface {
	OnError(a Answer, err *QueryError) error
}

// Executor runs commands in order, stopping at the first error.
type Executor interface {
	Execute(ctx context.Context, cmds ...Command) error
}

// Query is a command built from literal query text. Bindings of the
// affirmative answer are kept in Result.
type Query struct {
	term   prolog.Term
	Result prolog.Bindings
}

// NewQuery parses text as a single query term.
func NewQuery(text string) (*Query, error) {
	t, err := prolog.Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse query: %w", err)
	}
	return &Query{term: t}, nil
}

func (q *Query) WriteQuery(o *prolog.Output) {
	o.PrintTerm(q.term)
}

func (q *Query) OnSuccess(b prolog.Bindings) error {
	q.Result = b
	return nil
}

func (q *Query) String() string {
	return q.term.String()
}
