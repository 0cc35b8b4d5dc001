package prolog

import (
	"errors"
	"strconv"
	"strings"
)

// ErrUnbalancedOutput is returned by Output.FullStop when terms or lists
// were left open.
var ErrUnbalancedOutput = errors.New("prolog: unbalanced term output")

type frameKind int

const (
	frameTerm frameKind = iota
	frameList
)

type frame struct {
	kind  frameKind
	count int
}

// Output builds a query term incrementally. Argument separators are
// inserted automatically.
type Output struct {
	sb     strings.Builder
	stack  []frame
	closed bool
	err    error
}

// NewOutput returns an empty term output.
func NewOutput() *Output {
	return &Output{}
}

func (o *Output) sep() {
	if len(o.stack) == 0 {
		return
	}
	top := &o.stack[len(o.stack)-1]
	if top.count > 0 {
		o.sb.WriteByte(',')
	}
	top.count++
}

// OpenTerm starts a compound term. Close it with CloseTerm.
func (o *Output) OpenTerm(functor string) *Output {
	o.sep()
	o.sb.WriteString(quoteAtom(functor))
	o.sb.WriteByte('(')
	o.stack = append(o.stack, frame{kind: frameTerm})
	return o
}

// CloseTerm closes the innermost compound term.
func (o *Output) CloseTerm() *Output {
	o.pop(frameTerm, ')')
	return o
}

// OpenList starts a list. Close it with CloseList.
func (o *Output) OpenList() *Output {
	o.sep()
	o.sb.WriteByte('[')
	o.stack = append(o.stack, frame{kind: frameList})
	return o
}

// CloseList closes the innermost list.
func (o *Output) CloseList() *Output {
	o.pop(frameList, ']')
	return o
}

// EmptyList prints [].
func (o *Output) EmptyList() *Output {
	o.sep()
	o.sb.WriteString("[]")
	return o
}

func (o *Output) pop(kind frameKind, closer byte) {
	n := len(o.stack)
	if n == 0 || o.stack[n-1].kind != kind {
		o.err = ErrUnbalancedOutput
		return
	}
	if kind == frameTerm && o.stack[n-1].count == 0 {
		// f() is not valid syntax; the caller meant an atom.
		o.err = ErrUnbalancedOutput
	}
	o.stack = o.stack[:n-1]
	o.sb.WriteByte(closer)
}

// PrintAtom prints an atom, quoting as needed.
func (o *Output) PrintAtom(a string) *Output {
	o.sep()
	o.sb.WriteString(quoteAtom(a))
	return o
}

// PrintString prints text as a quoted atom regardless of its shape.
func (o *Output) PrintString(s string) *Output {
	o.sep()
	if isPlainAtom(s) {
		o.sb.WriteString(s)
		return o
	}
	q := quoteAtom(s)
	if !strings.HasPrefix(q, "'") {
		q = "'" + q + "'"
	}
	o.sb.WriteString(q)
	return o
}

// PrintNumber prints an integer.
func (o *Output) PrintNumber(n int64) *Output {
	o.sep()
	o.sb.WriteString(strconv.FormatInt(n, 10))
	return o
}

// PrintVariable prints a query variable. Names must start with an
// upper-case letter or underscore.
func (o *Output) PrintVariable(name string) *Output {
	o.sep()
	o.sb.WriteString(name)
	return o
}

// PrintTerm prints an already constructed term.
func (o *Output) PrintTerm(t Term) *Output {
	o.sep()
	o.sb.WriteString(t.String())
	return o
}

// FullStop terminates the query. It fails if any term or list is open.
func (o *Output) FullStop() error {
	if o.err != nil {
		return o.err
	}
	if len(o.stack) != 0 {
		return ErrUnbalancedOutput
	}
	if !o.closed {
		o.sb.WriteByte('.')
		o.closed = true
	}
	return nil
}

// String returns the text written so far.
func (o *Output) String() string {
	return o.sb.String()
}

// Write renders t followed by an end marker.
func Write(t Term) string {
	return t.String() + "."
}
