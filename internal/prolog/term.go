// Package prolog implements the term model exchanged with the verification
// engine: atoms, integers, compound terms, lists, and variables.
package prolog

import (
	"fmt"
	"strconv"
	"strings"
)

// Term is a value exchanged over the term channel.
// Implementations: Atom, Integer, *Compound, List, Variable.
type Term interface {
	// Functor returns the principal functor name. Lists report ".".
	Functor() string
	// Arity returns the number of arguments of a compound term, 0 otherwise.
	Arity() int
	// String renders the term in engine syntax.
	String() string
	isTerm()
}

// Atom is a constant symbol.
type Atom string

func (a Atom) Functor() string { return string(a) }
func (a Atom) Arity() int      { return 0 }
func (a Atom) String() string  { return quoteAtom(string(a)) }
func (Atom) isTerm()           {}

// Integer is an integral number.
type Integer int64

func (i Integer) Functor() string { return strconv.FormatInt(int64(i), 10) }
func (i Integer) Arity() int      { return 0 }
func (i Integer) String() string  { return strconv.FormatInt(int64(i), 10) }
func (Integer) isTerm()           {}

// Variable is an unbound query variable.
type Variable string

func (v Variable) Functor() string { return string(v) }
func (v Variable) Arity() int      { return 0 }
func (v Variable) String() string  { return string(v) }
func (Variable) isTerm()           {}

// Compound is a functor applied to positional arguments.
type Compound struct {
	Name string
	Args []Term
}

// NewCompound builds a compound term. A compound with no arguments is
// returned as an Atom.
func NewCompound(name string, args ...Term) Term {
	if len(args) == 0 {
		return Atom(name)
	}
	return &Compound{Name: name, Args: args}
}

func (c *Compound) Functor() string { return c.Name }
func (c *Compound) Arity() int      { return len(c.Args) }
func (*Compound) isTerm()           {}

func (c *Compound) String() string {
	parts := make([]string, len(c.Args))
	for i, a := range c.Args {
		parts[i] = a.String()
	}
	return quoteAtom(c.Name) + "(" + strings.Join(parts, ",") + ")"
}

// List is a proper list of terms.
type List []Term

func (l List) Functor() string { return "." }
func (l List) Arity() int {
	if len(l) == 0 {
		return 0
	}
	return 2
}
func (List) isTerm() {}

func (l List) String() string {
	parts := make([]string, len(l))
	for i, t := range l {
		parts[i] = t.String()
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// Arg returns the i-th argument (1-based) of a compound term.
func Arg(t Term, i int) (Term, error) {
	c, ok := t.(*Compound)
	if !ok {
		return nil, fmt.Errorf("term %s has no arguments", t)
	}
	if i < 1 || i > len(c.Args) {
		return nil, fmt.Errorf("argument %d out of range for %s/%d", i, c.Name, len(c.Args))
	}
	return c.Args[i-1], nil
}

// HasFunctor reports whether t has the given name and arity.
func HasFunctor(t Term, name string, arity int) bool {
	if t == nil {
		return false
	}
	if _, isList := t.(List); isList {
		return false
	}
	return t.Functor() == name && t.Arity() == arity
}

// AtomString returns the text of an atomic term (atom, integer).
func AtomString(t Term) (string, error) {
	switch v := t.(type) {
	case Atom:
		return string(v), nil
	case Integer:
		return v.String(), nil
	default:
		return "", fmt.Errorf("expected atomic term, got %s", t)
	}
}

// AtomStrings converts every element of a list to its atomic text.
func AtomStrings(t Term) ([]string, error) {
	l, err := ListOf(t)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(l))
	for _, e := range l {
		s, err := AtomString(e)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// ListOf returns t as a list. The empty-list atom [] is accepted.
func ListOf(t Term) (List, error) {
	switch v := t.(type) {
	case List:
		return v, nil
	case Atom:
		if v == "[]" {
			return List{}, nil
		}
	}
	return nil, fmt.Errorf("expected list, got %s", t)
}

// IntOf returns the value of an integer term.
func IntOf(t Term) (int64, error) {
	i, ok := t.(Integer)
	if !ok {
		return 0, fmt.Errorf("expected integer, got %s", t)
	}
	return int64(i), nil
}

// CompoundOf returns t as a compound term with the given arity.
func CompoundOf(t Term, arity int) (*Compound, error) {
	c, ok := t.(*Compound)
	if !ok || len(c.Args) != arity {
		return nil, fmt.Errorf("expected compound term of arity %d, got %s", arity, t)
	}
	return c, nil
}

// quoteAtom quotes an atom unless it is a plain lower-case identifier,
// a symbol sequence, or the empty list.
func quoteAtom(s string) string {
	if s == "[]" || s == "{}" || s == "!" || s == ";" {
		return s
	}
	if isPlainAtom(s) || isSymbolAtom(s) {
		return s
	}
	var sb strings.Builder
	sb.WriteByte('\'')
	for _, r := range s {
		switch r {
		case '\'':
			sb.WriteString("\\'")
		case '\\':
			sb.WriteString("\\\\")
		case '\n':
			sb.WriteString("\\n")
		case '\t':
			sb.WriteString("\\t")
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteByte('\'')
	return sb.String()
}

func isPlainAtom(s string) bool {
	if s == "" || s[0] < 'a' || s[0] > 'z' {
		return false
	}
	for i := 1; i < len(s); i++ {
		if !isAlnum(s[i]) {
			return false
		}
	}
	return true
}

const symbolChars = "+-*/\\^<>=~:.?@#&$"

func isSymbolAtom(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !strings.ContainsRune(symbolChars, rune(s[i])) {
			return false
		}
	}
	// A lone "." would be read back as an end marker.
	return s != "."
}

func isAlnum(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
