package statespace

import (
	"fmt"
	"strconv"

	"github.com/AaronLay10/StateSpace/internal/engine"
	"github.com/AaronLay10/StateSpace/internal/formula"
	"github.com/AaronLay10/StateSpace/internal/prolog"
)

// ExploreCommand asks for the enabled operations, invariant status and
// diagnostics of one state.
type ExploreCommand struct {
	State string `json:"state"`

	Operations  []*OpInfo    `json:"operations"`
	InvariantOK bool         `json:"invariantOk"`
	TimedOut    bool         `json:"timedOut"`
	Errors      []StateError `json:"errors,omitempty"`
}

func (c *ExploreCommand) WriteQuery(o *prolog.Output) {
	o.OpenTerm("explore_state").
		PrintAtom(c.State).
		PrintVariable("Operations").
		PrintVariable("Invariant").
		PrintVariable("TimedOut").
		PrintVariable("Errors").
		CloseTerm()
}

func (c *ExploreCommand) OnSuccess(b prolog.Bindings) error {
	ops, err := b.List("Operations")
	if err != nil {
		return err
	}
	if c.Operations, err = decodeOps(ops); err != nil {
		return err
	}
	inv, err := b.Atom("Invariant")
	if err != nil {
		return err
	}
	c.InvariantOK = inv == "true"
	timeout, err := b.Atom("TimedOut")
	if err != nil {
		return err
	}
	c.TimedOut = timeout == "true"
	errs, err := b.List("Errors")
	if err != nil {
		return err
	}
	c.Errors, err = decodeStateErrors(errs)
	return err
}

// GetOperationByPredicateCommand asks for up to Max transitions named Name
// from State that satisfy Predicate.
type GetOperationByPredicateCommand struct {
	State     string          `json:"state"`
	Name      string          `json:"name"`
	Predicate formula.Formula `json:"-"`
	Max       int             `json:"max"`

	Operations []*OpInfo `json:"operations"`
	Errors     []string  `json:"errors,omitempty"`
}

func (c *GetOperationByPredicateCommand) WriteQuery(o *prolog.Output) {
	o.OpenTerm("get_operation_by_predicate").
		PrintAtom(c.State).
		PrintAtom(c.Name)
	c.Predicate.WriteTerm(o)
	o.PrintNumber(int64(c.Max)).
		PrintVariable("Operations").
		PrintVariable("Errors").
		CloseTerm()
}

func (c *GetOperationByPredicateCommand) OnSuccess(b prolog.Bindings) error {
	ops, err := b.List("Operations")
	if err != nil {
		return err
	}
	if c.Operations, err = decodeOps(ops); err != nil {
		return err
	}
	errTerm, err := b.Get("Errors")
	if err != nil {
		return err
	}
	c.Errors, err = prolog.AtomStrings(errTerm)
	if err != nil {
		return &prolog.ResultError{Variable: "Errors", Reason: err.Error()}
	}
	return nil
}

// EvaluateFormulasCommand evaluates formulas in one state. Results keep
// the order of Formulas.
type EvaluateFormulasCommand struct {
	State    string            `json:"state"`
	Formulas []formula.Formula `json:"-"`

	Results []formula.Result `json:"-"`

	interner *formula.Interner
}

func (c *EvaluateFormulasCommand) WriteQuery(o *prolog.Output) {
	o.OpenTerm("evaluate_formulas").PrintAtom(c.State).OpenList()
	for _, f := range c.Formulas {
		f.WriteTerm(o)
	}
	o.CloseList().PrintVariable("Results").CloseTerm()
}

func (c *EvaluateFormulasCommand) OnSuccess(b prolog.Bindings) error {
	l, err := b.List("Results")
	if err != nil {
		return err
	}
	if len(l) != len(c.Formulas) {
		return &prolog.ResultError{
			Variable: "Results",
			Reason:   fmt.Sprintf("expected %d results, got %d", len(c.Formulas), len(l)),
		}
	}
	c.Results = make([]formula.Result, len(l))
	for i, t := range l {
		r, err := formula.Decode(t, c.interner)
		if err != nil {
			return &prolog.ResultError{Variable: "Results", Reason: err.Error()}
		}
		c.Results[i] = r
	}
	return nil
}

// GetStateValuesCommand reads the variable values of a state.
type GetStateValuesCommand struct {
	State string `json:"state"`

	Values map[string]string `json:"values"`
}

func (c *GetStateValuesCommand) WriteQuery(o *prolog.Output) {
	o.OpenTerm("get_state_values").PrintAtom(c.State).PrintVariable("Values").CloseTerm()
}

func (c *GetStateValuesCommand) OnSuccess(b prolog.Bindings) error {
	l, err := b.List("Values")
	if err != nil {
		return err
	}
	c.Values, err = decodeBinds(l)
	if err != nil {
		return &prolog.ResultError{Variable: "Values", Reason: err.Error()}
	}
	return nil
}

// StartTransactionCommand opens the engine's transaction bracket.
type StartTransactionCommand struct{}

func (StartTransactionCommand) WriteQuery(o *prolog.Output) { o.PrintAtom("start_transaction") }

func (StartTransactionCommand) OnSuccess(prolog.Bindings) error { return nil }

// EndTransactionCommand closes the engine's transaction bracket.
type EndTransactionCommand struct{}

func (EndTransactionCommand) WriteQuery(o *prolog.Output) { o.PrintAtom("end_transaction") }

func (EndTransactionCommand) OnSuccess(prolog.Bindings) error { return nil }

// MachineInfoCommand reads the identifiers of the loaded machine.
type MachineInfoCommand struct {
	Info MachineInfo `json:"info"`
}

func (c *MachineInfoCommand) WriteQuery(o *prolog.Output) {
	o.OpenTerm("machine_info").
		PrintVariable("Variables").
		PrintVariable("Constants").
		PrintVariable("Sets").
		PrintVariable("Operations").
		CloseTerm()
}

func (c *MachineInfoCommand) OnSuccess(b prolog.Bindings) error {
	var err error
	for name, dst := range map[string]*[]string{
		"Variables": &c.Info.Variables,
		"Constants": &c.Info.Constants,
		"Sets":      &c.Info.Sets,
	} {
		t, gerr := b.Get(name)
		if gerr != nil {
			return gerr
		}
		if *dst, err = prolog.AtomStrings(t); err != nil {
			return &prolog.ResultError{Variable: name, Reason: err.Error()}
		}
	}

	ops, err := b.List("Operations")
	if err != nil {
		return err
	}
	c.Info.Operations = make(map[string]OperationInfo, len(ops))
	for _, t := range ops {
		op, err := prolog.CompoundOf(t, 3)
		if err != nil || op.Name != "operation" {
			return &prolog.ResultError{Variable: "Operations", Reason: fmt.Sprintf("malformed operation %s", t)}
		}
		name, err := prolog.AtomString(op.Args[0])
		if err != nil {
			return &prolog.ResultError{Variable: "Operations", Reason: err.Error()}
		}
		params, perr := prolog.AtomStrings(op.Args[1])
		outputs, oerr := prolog.AtomStrings(op.Args[2])
		if perr != nil || oerr != nil {
			return &prolog.ResultError{Variable: "Operations", Reason: fmt.Sprintf("malformed operation %s", t)}
		}
		c.Info.Operations[name] = OperationInfo{Name: name, Params: params, Outputs: outputs}
	}
	return nil
}

// decodeOps reads op(Id, Name, Src, Dest, Params, Returns) terms. The
// four-argument form without parameters is accepted too.
func decodeOps(l prolog.List) ([]*OpInfo, error) {
	ops := make([]*OpInfo, 0, len(l))
	for _, t := range l {
		c, ok := t.(*prolog.Compound)
		if !ok || c.Name != "op" || (len(c.Args) != 4 && len(c.Args) != 6) {
			return nil, &prolog.ResultError{Variable: "Operations", Reason: fmt.Sprintf("malformed operation %s", t)}
		}
		var fields [4]string
		for i := range fields {
			s, err := prolog.AtomString(c.Args[i])
			if err != nil {
				return nil, &prolog.ResultError{Variable: "Operations", Reason: err.Error()}
			}
			fields[i] = s
		}
		op := &OpInfo{ID: fields[0], Name: fields[1], Source: fields[2], Dest: fields[3]}
		if len(c.Args) == 6 {
			op.Params = valueStrings(c.Args[4])
			op.Returns = valueStrings(c.Args[5])
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// valueStrings renders list elements as text; non-atomic values are kept
// in term syntax.
func valueStrings(t prolog.Term) []string {
	l, err := prolog.ListOf(t)
	if err != nil || len(l) == 0 {
		return nil
	}
	out := make([]string, len(l))
	for i, e := range l {
		if s, err := prolog.AtomString(e); err == nil {
			out[i] = s
		} else {
			out[i] = e.String()
		}
	}
	return out
}

func decodeStateErrors(l prolog.List) ([]StateError, error) {
	if len(l) == 0 {
		return nil, nil
	}
	out := make([]StateError, 0, len(l))
	for _, t := range l {
		c, ok := t.(*prolog.Compound)
		if !ok || c.Name != "state_error" || len(c.Args) < 2 {
			return nil, &prolog.ResultError{Variable: "Errors", Reason: fmt.Sprintf("malformed state error %s", t)}
		}
		strs := valueStrings(prolog.List(c.Args))
		se := StateError{Event: strs[0], ShortDescription: strs[1]}
		if len(strs) > 2 {
			se.LongDescription = strs[2]
		}
		out = append(out, se)
	}
	return out, nil
}

func decodeBinds(l prolog.List) (map[string]string, error) {
	out := make(map[string]string, len(l))
	for _, t := range l {
		c, ok := t.(*prolog.Compound)
		if !ok || (c.Name != "bind" && c.Name != "=") || len(c.Args) != 2 {
			return nil, fmt.Errorf("malformed value %s", t)
		}
		name, err := prolog.AtomString(c.Args[0])
		if err != nil {
			return nil, err
		}
		if v, err := prolog.AtomString(c.Args[1]); err == nil {
			out[name] = v
		} else {
			out[name] = c.Args[1].String()
		}
	}
	return out, nil
}

// RegisterCommands adds the graph's commands to r under their query names.
func RegisterCommands(r *engine.Registry) error {
	stateArg := func(name string, args []string) (string, error) {
		if len(args) < 1 {
			return "", fmt.Errorf("%s: missing state id", name)
		}
		return args[0], nil
	}

	factories := map[string]engine.CommandFactory{
		"explore_state": func(args []string) (engine.Command, error) {
			s, err := stateArg("explore_state", args)
			if err != nil {
				return nil, err
			}
			return &ExploreCommand{State: s}, nil
		},
		"get_state_values": func(args []string) (engine.Command, error) {
			s, err := stateArg("get_state_values", args)
			if err != nil {
				return nil, err
			}
			return &GetStateValuesCommand{State: s}, nil
		},
		"evaluate_formulas": func(args []string) (engine.Command, error) {
			s, err := stateArg("evaluate_formulas", args)
			if err != nil {
				return nil, err
			}
			cmd := &EvaluateFormulasCommand{State: s}
			for _, code := range args[1:] {
				f, err := formula.New(code)
				if err != nil {
					return nil, err
				}
				cmd.Formulas = append(cmd.Formulas, f)
			}
			return cmd, nil
		},
		"get_operation_by_predicate": func(args []string) (engine.Command, error) {
			if len(args) < 3 {
				return nil, fmt.Errorf("get_operation_by_predicate: want state, name, predicate [max]")
			}
			pred, err := formula.NewPredicate(args[2])
			if err != nil {
				return nil, err
			}
			max := 1
			if len(args) > 3 {
				if max, err = strconv.Atoi(args[3]); err != nil {
					return nil, fmt.Errorf("get_operation_by_predicate: invalid max %q", args[3])
				}
			}
			return &GetOperationByPredicateCommand{State: args[0], Name: args[1], Predicate: pred, Max: max}, nil
		},
		"start_transaction": func([]string) (engine.Command, error) { return StartTransactionCommand{}, nil },
		"end_transaction":   func([]string) (engine.Command, error) { return EndTransactionCommand{}, nil },
		"machine_info":      func([]string) (engine.Command, error) { return &MachineInfoCommand{}, nil },
	}
	for name, f := range factories {
		if err := r.Register(name, f); err != nil {
			return err
		}
	}
	return nil
}
