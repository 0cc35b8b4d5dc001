package formula

import (
	"fmt"
	"sort"
	"strings"

	"github.com/AaronLay10/StateSpace/internal/prolog"
)

// Engine error categories carried by errors(Type, Messages) results.
const (
	errorTypeWellDefinedness = "NOT-WELL-DEFINED"
	errorTypeUnknown         = "UNKNOWN"
	errorTypeNotInitialised  = "IDENTIFIER(S) NOT YET INITIALISED; INITIALISE MACHINE FIRST"
)

// Result is the outcome of evaluating one formula in one state.
// Variants: *EvalResult, ComputationNotCompleted, WDError, UnknownResult,
// IdentifierNotInitialised, EnumerationWarning.
type Result interface {
	String() string
	isResult()
}

// EvalResult is a completed evaluation. Solutions holds the values found
// for free identifiers of a predicate.
type EvalResult struct {
	Value     string
	Solutions map[string]string
}

func (r *EvalResult) IsTrue() bool  { return r.Value == "TRUE" }
func (r *EvalResult) IsFalse() bool { return r.Value == "FALSE" }

func (r *EvalResult) String() string {
	if len(r.Solutions) == 0 {
		return r.Value
	}
	names := make([]string, 0, len(r.Solutions))
	for name := range r.Solutions {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + " = " + r.Solutions[name]
	}
	return r.Value + " (" + strings.Join(parts, " & ") + ")"
}

// ComputationNotCompleted means the engine gave up evaluating Code.
type ComputationNotCompleted struct {
	Code   string
	Reason string
}

func (r ComputationNotCompleted) String() string {
	return "not completed: " + r.Reason
}

// WDError means the formula is not well-defined in the state.
type WDError struct{ Errors []string }

func (r WDError) String() string { return "not well-defined: " + strings.Join(r.Errors, ", ") }

// UnknownResult means the engine could not determine a value.
type UnknownResult struct{ Errors []string }

func (r UnknownResult) String() string { return "unknown: " + strings.Join(r.Errors, ", ") }

// IdentifierNotInitialised means the state has no values yet.
type IdentifierNotInitialised struct{ Errors []string }

func (r IdentifierNotInitialised) String() string {
	return "not initialised: " + strings.Join(r.Errors, ", ")
}

// EnumerationWarning means the result may be incomplete due to enumeration bounds.
type EnumerationWarning struct{}

func (EnumerationWarning) String() string { return "enumeration warning" }

func (*EvalResult) isResult()              {}
func (ComputationNotCompleted) isResult()  {}
func (WDError) isResult()                  {}
func (UnknownResult) isResult()            {}
func (IdentifierNotInitialised) isResult() {}
func (EnumerationWarning) isResult()       {}

// Decode translates one evaluation result term. Completed results are
// interned through in.
func Decode(t prolog.Term, in *Interner) (Result, error) {
	if l, err := prolog.ListOf(t); err == nil {
		strs, err := prolog.AtomStrings(l)
		if err != nil || len(strs) == 0 {
			return ComputationNotCompleted{Reason: t.String()}, nil
		}
		return ComputationNotCompleted{Code: strs[0], Reason: strings.Join(strs[1:], ",")}, nil
	}

	switch {
	case prolog.HasFunctor(t, "result", 2):
		args := t.(*prolog.Compound).Args
		return decodeResult(args[0], args[1], in)
	case prolog.HasFunctor(t, "errors", 2):
		args := t.(*prolog.Compound).Args
		kind, err := prolog.AtomString(args[0])
		if err != nil {
			return nil, fmt.Errorf("decode errors result: %w", err)
		}
		msgs, err := prolog.AtomStrings(args[1])
		if err != nil {
			return nil, fmt.Errorf("decode errors result: %w", err)
		}
		switch kind {
		case errorTypeWellDefinedness:
			return WDError{Errors: msgs}, nil
		case errorTypeUnknown:
			return UnknownResult{Errors: msgs}, nil
		case errorTypeNotInitialised:
			return IdentifierNotInitialised{Errors: msgs}, nil
		}
		return nil, fmt.Errorf("unknown error type %q", kind)
	case prolog.HasFunctor(t, "enum_warning", 0), prolog.HasFunctor(t, "enum_warning", 1):
		return EnumerationWarning{}, nil
	}
	return nil, fmt.Errorf("unknown result %s", t)
}

func decodeResult(v, sols prolog.Term, in *Interner) (Result, error) {
	var value string
	if c, err := prolog.CompoundOf(v, 2); err == nil && c.Name == "v" {
		// v(Pretty, Internal): keep the pretty-printed form.
		value, err = prolog.AtomString(c.Args[0])
		if err != nil {
			return nil, fmt.Errorf("decode value: %w", err)
		}
	} else {
		value, err = prolog.AtomString(v)
		if err != nil {
			return nil, fmt.Errorf("decode value: %w", err)
		}
	}

	l, err := prolog.ListOf(sols)
	if err != nil {
		return nil, fmt.Errorf("decode solutions: %w", err)
	}
	var solutions map[string]string
	if len(l) > 0 {
		solutions = make(map[string]string, len(l))
		for _, s := range l {
			c, ok := s.(*prolog.Compound)
			if !ok || c.Name != "bind" || len(c.Args) < 2 {
				return nil, fmt.Errorf("malformed solution %s", s)
			}
			name, err := prolog.AtomString(c.Args[0])
			if err != nil {
				return nil, fmt.Errorf("decode solution name: %w", err)
			}
			// bind(Name, Value, Pretty) carries a pretty print as the last argument.
			val, err := prolog.AtomString(c.Args[len(c.Args)-1])
			if err != nil {
				val = c.Args[len(c.Args)-1].String()
			}
			solutions[name] = val
		}
	}

	if in == nil {
		return &EvalResult{Value: value, Solutions: solutions}, nil
	}
	return in.Intern(value, solutions), nil
}
