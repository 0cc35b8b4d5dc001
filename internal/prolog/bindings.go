package prolog

import "fmt"

// ResultError indicates an answer that does not have the expected shape.
// It always points at a bug or a version mismatch with the engine.
type ResultError struct {
	Variable string
	Reason   string
}

func (e *ResultError) Error() string {
	return fmt.Sprintf("unexpected result for %s: %s", e.Variable, e.Reason)
}

// Bindings maps query variable names to the terms the engine bound them to.
type Bindings map[string]Term

// BindingsFromList decodes a list of '='(Name, Value) terms.
func BindingsFromList(t Term) (Bindings, error) {
	l, err := ListOf(t)
	if err != nil {
		return nil, err
	}
	b := make(Bindings, len(l))
	for _, e := range l {
		c, err := CompoundOf(e, 2)
		if err != nil || c.Name != "=" {
			return nil, fmt.Errorf("malformed binding %s", e)
		}
		name, err := AtomString(c.Args[0])
		if err != nil {
			if v, ok := c.Args[0].(Variable); ok {
				name = string(v)
			} else {
				return nil, fmt.Errorf("malformed binding name %s", c.Args[0])
			}
		}
		b[name] = c.Args[1]
	}
	return b, nil
}

// Get returns the term bound to name.
func (b Bindings) Get(name string) (Term, error) {
	t, ok := b[name]
	if !ok {
		return nil, &ResultError{Variable: name, Reason: "not bound"}
	}
	return t, nil
}

// Atom returns the atomic text bound to name.
func (b Bindings) Atom(name string) (string, error) {
	t, err := b.Get(name)
	if err != nil {
		return "", err
	}
	s, err := AtomString(t)
	if err != nil {
		return "", &ResultError{Variable: name, Reason: err.Error()}
	}
	return s, nil
}

// List returns the list bound to name.
func (b Bindings) List(name string) (List, error) {
	t, err := b.Get(name)
	if err != nil {
		return nil, err
	}
	l, err := ListOf(t)
	if err != nil {
		return nil, &ResultError{Variable: name, Reason: err.Error()}
	}
	return l, nil
}

// Int returns the integer bound to name.
func (b Bindings) Int(name string) (int64, error) {
	t, err := b.Get(name)
	if err != nil {
		return 0, err
	}
	n, err := IntOf(t)
	if err != nil {
		return 0, &ResultError{Variable: name, Reason: err.Error()}
	}
	return n, nil
}

// Compound returns the compound term of the given arity bound to name.
func (b Bindings) Compound(name string, arity int) (*Compound, error) {
	t, err := b.Get(name)
	if err != nil {
		return nil, err
	}
	c, err := CompoundOf(t, arity)
	if err != nil {
		return nil, &ResultError{Variable: name, Reason: err.Error()}
	}
	return c, nil
}
