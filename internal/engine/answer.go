package engine

import (
	"fmt"

	"github.com/AaronLay10/StateSpace/internal/prolog"
)

// Answer is one message read from the engine while a query is running.
// It is a closed variant: Progress, CallbackRequest, Yes, No, Interrupted,
// Exception. Only the last four are terminal.
type Answer interface {
	Terminal() bool
	isAnswer()
}

// Progress is an informational notification sent before the terminal answer.
type Progress struct {
	Info prolog.Term
}

// CallbackRequest asks the client for a synchronous reply.
type CallbackRequest struct {
	Request prolog.Term
}

// Yes is an affirmative answer. Errors may be non-empty.
type Yes struct {
	Bindings prolog.Bindings
	Errors   []ErrorItem
}

// No is a negative answer: the query has no solution.
type No struct {
	Errors []ErrorItem
}

// Interrupted means the engine aborted the query on request.
type Interrupted struct {
	Errors []ErrorItem
}

// Exception means the engine raised an uncaught error.
type Exception struct {
	Message string
}

func (Progress) Terminal() bool        { return false }
func (CallbackRequest) Terminal() bool { return false }
func (Yes) Terminal() bool             { return true }
func (No) Terminal() bool              { return true }
func (Interrupted) Terminal() bool     { return true }
func (Exception) Terminal() bool       { return true }

func (Progress) isAnswer()        {}
func (CallbackRequest) isAnswer() {}
func (Yes) isAnswer()             {}
func (No) isAnswer()              {}
func (Interrupted) isAnswer()     {}
func (Exception) isAnswer()       {}

// ErrorItem is one diagnostic reported by the engine.
type ErrorItem struct {
	Message   string
	Type      string
	Locations []string
}

func (e ErrorItem) String() string {
	if e.Type == "" {
		return e.Message
	}
	return e.Type + ": " + e.Message
}

// DecodeAnswer classifies an answer term.
func DecodeAnswer(t prolog.Term) (Answer, error) {
	switch {
	case prolog.HasFunctor(t, "yes", 2):
		args := t.(*prolog.Compound).Args
		b, err := prolog.BindingsFromList(args[0])
		if err != nil {
			return nil, fmt.Errorf("decode yes answer: %w", err)
		}
		errs, err := decodeErrors(args[1])
		if err != nil {
			return nil, err
		}
		return Yes{Bindings: b, Errors: errs}, nil
	case prolog.HasFunctor(t, "yes", 1):
		b, err := prolog.BindingsFromList(t.(*prolog.Compound).Args[0])
		if err != nil {
			return nil, fmt.Errorf("decode yes answer: %w", err)
		}
		return Yes{Bindings: b}, nil
	case prolog.HasFunctor(t, "no", 0):
		return No{}, nil
	case prolog.HasFunctor(t, "no", 1):
		errs, err := decodeErrors(t.(*prolog.Compound).Args[0])
		if err != nil {
			return nil, err
		}
		return No{Errors: errs}, nil
	case prolog.HasFunctor(t, "interrupted", 0):
		return Interrupted{}, nil
	case prolog.HasFunctor(t, "interrupted", 1):
		errs, err := decodeErrors(t.(*prolog.Compound).Args[0])
		if err != nil {
			return nil, err
		}
		return Interrupted{Errors: errs}, nil
	case prolog.HasFunctor(t, "progress", 1):
		return Progress{Info: t.(*prolog.Compound).Args[0]}, nil
	case prolog.HasFunctor(t, "call_back", 1):
		return CallbackRequest{Request: t.(*prolog.Compound).Args[0]}, nil
	case prolog.HasFunctor(t, "exception", 1):
		arg := t.(*prolog.Compound).Args[0]
		msg, err := prolog.AtomString(arg)
		if err != nil {
			msg = arg.String()
		}
		return Exception{Message: msg}, nil
	}
	return nil, fmt.Errorf("unknown answer %s", t)
}

// decodeErrors reads a list of error(Message, Type, Locations) or
// error(Message, Locations) terms. Bare atoms are accepted as messages.
func decodeErrors(t prolog.Term) ([]ErrorItem, error) {
	l, err := prolog.ListOf(t)
	if err != nil {
		return nil, fmt.Errorf("decode error list: %w", err)
	}
	if len(l) == 0 {
		return nil, nil
	}
	items := make([]ErrorItem, 0, len(l))
	for _, e := range l {
		var item ErrorItem
		switch {
		case prolog.HasFunctor(e, "error", 3):
			args := e.(*prolog.Compound).Args
			item.Message = textOf(args[0])
			item.Type = textOf(args[1])
			item.Locations = locationsOf(args[2])
		case prolog.HasFunctor(e, "error", 2):
			args := e.(*prolog.Compound).Args
			item.Message = textOf(args[0])
			item.Locations = locationsOf(args[1])
		default:
			item.Message = textOf(e)
		}
		items = append(items, item)
	}
	return items, nil
}

func textOf(t prolog.Term) string {
	if s, err := prolog.AtomString(t); err == nil {
		return s
	}
	return t.String()
}

func locationsOf(t prolog.Term) []string {
	l, err := prolog.ListOf(t)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(l))
	for _, loc := range l {
		out = append(out, textOf(loc))
	}
	return out
}
