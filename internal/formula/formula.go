// Package formula holds the evaluable elements sent to the engine and the
// results it returns for them.
package formula

import (
	"fmt"
	"strings"

	"github.com/AaronLay10/StateSpace/internal/prolog"
)

// Kind distinguishes predicates from expressions.
type Kind int

const (
	Expression Kind = iota
	Predicate
)

func (k Kind) String() string {
	if k == Predicate {
		return "predicate"
	}
	return "expression"
}

// Formula is anything the engine can evaluate in a state.
type Formula interface {
	Code() string
	Kind() Kind
	WriteTerm(o *prolog.Output)
}

// ParseError reports a formula rejected before it reached the engine.
type ParseError struct {
	Code   string
	Reason string
	Pos    int
}

func (e *ParseError) Error() string {
	if e.Pos >= 0 {
		return fmt.Sprintf("formula %q: %s at offset %d", e.Code, e.Reason, e.Pos)
	}
	return fmt.Sprintf("formula %q: %s", e.Code, e.Reason)
}

// ClassicalB is a formula in classical B syntax, sent to the engine as text.
type ClassicalB struct {
	code string
	kind Kind
}

// New checks code for well-formedness and infers its kind.
func New(code string) (*ClassicalB, error) {
	code = strings.TrimSpace(code)
	if err := check(code); err != nil {
		return nil, err
	}
	kind := Expression
	if looksLikePredicate(code) {
		kind = Predicate
	}
	return &ClassicalB{code: code, kind: kind}, nil
}

// NewPredicate is New with the kind forced to Predicate.
func NewPredicate(code string) (*ClassicalB, error) {
	f, err := New(code)
	if err != nil {
		return nil, err
	}
	f.kind = Predicate
	return f, nil
}

// MustNew is New that panics on error. For constants in tests and tools.
func MustNew(code string) *ClassicalB {
	f, err := New(code)
	if err != nil {
		panic(err)
	}
	return f
}

func (f *ClassicalB) Code() string   { return f.code }
func (f *ClassicalB) Kind() Kind     { return f.kind }
func (f *ClassicalB) String() string { return f.code }

// WriteTerm writes classical_b(Code).
func (f *ClassicalB) WriteTerm(o *prolog.Output) {
	o.OpenTerm("classical_b").PrintString(f.code).CloseTerm()
}

var closers = map[rune]rune{')': '(', ']': '[', '}': '{'}

// binaryOps cannot start or end a formula.
var binaryOps = []string{"&", "or", "=>", "<=>", "=", "/=", "<=", ">=", ":", "+", "*", "/", ",", "|"}

func check(code string) error {
	if code == "" {
		return &ParseError{Code: code, Reason: "empty formula", Pos: -1}
	}

	var stack []rune
	var positions []int
	inString, escaped := false, false
	for i, r := range code {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}
		if r == '"' {
			inString = true
			continue
		}
		switch r {
		case '(', '[', '{':
			stack = append(stack, r)
			positions = append(positions, i)
		case ')', ']', '}':
			if len(stack) == 0 || stack[len(stack)-1] != closers[r] {
				return &ParseError{Code: code, Reason: fmt.Sprintf("unexpected %q", r), Pos: i}
			}
			stack = stack[:len(stack)-1]
			positions = positions[:len(positions)-1]
		}
	}
	if inString {
		return &ParseError{Code: code, Reason: "unterminated string", Pos: -1}
	}
	if len(stack) > 0 {
		return &ParseError{Code: code, Reason: fmt.Sprintf("unclosed %q", stack[len(stack)-1]), Pos: positions[len(positions)-1]}
	}

	for _, op := range binaryOps {
		if strings.HasSuffix(code, op) && !isWordSuffix(code, op) {
			return &ParseError{Code: code, Reason: fmt.Sprintf("dangling operator %q", op), Pos: len(code) - len(op)}
		}
		if op != "/" && strings.HasPrefix(code, op) && !isWordPrefix(code, op) {
			return &ParseError{Code: code, Reason: fmt.Sprintf("leading operator %q", op), Pos: 0}
		}
	}
	return nil
}

// isWordSuffix reports whether an alphabetic operator at the end of code is
// really the tail of a longer identifier, as in "floor".
func isWordSuffix(code, op string) bool {
	if !isIdentByte(op[0]) {
		return false
	}
	i := len(code) - len(op) - 1
	return i >= 0 && isIdentByte(code[i])
}

func isWordPrefix(code, op string) bool {
	if !isIdentByte(op[0]) {
		return false
	}
	return len(code) > len(op) && isIdentByte(code[len(op)])
}

func isIdentByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

var predicateMarkers = []string{"=", "<", ">", "&", ":", "#", "!", "not(", " or ", "TRUE", "FALSE", "btrue", "bfalse"}

func looksLikePredicate(code string) bool {
	for _, m := range predicateMarkers {
		if strings.Contains(code, m) {
			return true
		}
	}
	return false
}
