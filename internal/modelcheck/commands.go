package modelcheck

import (
	"fmt"
	"strconv"
	"time"

	"github.com/AaronLay10/StateSpace/internal/engine"
	"github.com/AaronLay10/StateSpace/internal/formula"
	"github.com/AaronLay10/StateSpace/internal/prolog"
)

// StepCommand asks the engine to extend the state space for at most
// Timeout, processing at most MaxNodes states when MaxNodes > 0.
type StepCommand struct {
	MaxNodes int
	Timeout  time.Duration
	Flags    []string

	Status  Status
	Finding Finding
	StateID string
	Message string
	Stats   Stats
}

func (c *StepCommand) WriteQuery(o *prolog.Output) {
	o.OpenTerm("do_modelchecking")
	if c.MaxNodes > 0 {
		o.PrintNumber(int64(c.MaxNodes))
	}
	o.PrintNumber(c.Timeout.Milliseconds())
	o.OpenList()
	for _, f := range c.Flags {
		o.PrintAtom(f)
	}
	o.CloseList()
	o.PrintVariable("Result").PrintVariable("Stats").CloseTerm()
}

func (c *StepCommand) OnSuccess(b prolog.Bindings) error {
	res, err := b.Get("Result")
	if err != nil {
		return err
	}
	if err := c.decodeResult(res); err != nil {
		return err
	}
	st, err := b.Get("Stats")
	if err != nil {
		return err
	}
	c.Stats, err = decodeStats(st)
	if err != nil {
		return &prolog.ResultError{Variable: "Stats", Reason: err.Error()}
	}
	return nil
}

var findings = map[string]Finding{
	"goal_found":          FindingGoal,
	"deadlock":            FindingDeadlock,
	"invariant_violation": FindingInvariantViolation,
	"assertion_violation": FindingAssertionViolation,
}

func (c *StepCommand) decodeResult(t prolog.Term) error {
	switch {
	case prolog.HasFunctor(t, "not_yet_finished", 0), prolog.HasFunctor(t, "not_yet_finished", 1):
		c.Status = StatusNotYetFinished
		return nil
	case prolog.HasFunctor(t, "ok", 0):
		c.Status = StatusFinishedExhaustive
		return nil
	case prolog.HasFunctor(t, "ok_not_all_nodes_considered", 0):
		c.Status = StatusLimitReached
		c.Message = "not all states were considered"
		return nil
	case prolog.HasFunctor(t, "interrupted", 0):
		c.Status = StatusInterrupted
		return nil
	case prolog.HasFunctor(t, "state_error", 1):
		c.Status = StatusError
		c.StateID, _ = prolog.AtomString(t.(*prolog.Compound).Args[0])
		c.Message = "error in state " + c.StateID
		return nil
	}
	if cp, ok := t.(*prolog.Compound); ok && len(cp.Args) == 1 {
		if f, ok := findings[cp.Name]; ok {
			id, err := prolog.AtomString(cp.Args[0])
			if err != nil {
				return &prolog.ResultError{Variable: "Result", Reason: err.Error()}
			}
			c.Status = StatusFinishedGoal
			c.Finding = f
			c.StateID = id
			return nil
		}
	}
	return &prolog.ResultError{Variable: "Result", Reason: fmt.Sprintf("unknown model check result %s", t)}
}

// decodeStats reads stats(StatesFound, StatesProcessed, TransitionsFound).
func decodeStats(t prolog.Term) (Stats, error) {
	c, err := prolog.CompoundOf(t, 3)
	if err != nil || c.Name != "stats" {
		return Stats{}, fmt.Errorf("malformed stats %s", t)
	}
	var n [3]int64
	for i, a := range c.Args {
		if n[i], err = prolog.IntOf(a); err != nil {
			return Stats{}, err
		}
	}
	s := Stats{StatesFound: int(n[0]), StatesProcessed: int(n[1]), TransitionsFound: int(n[2])}
	s.StatesLeft = s.StatesFound - s.StatesProcessed
	return s, nil
}

// StatsCommand reads the current coverage of the state space.
type StatsCommand struct {
	Stats Stats
}

func (c *StatsCommand) WriteQuery(o *prolog.Output) {
	o.OpenTerm("get_statespace_stats").PrintVariable("Stats").CloseTerm()
}

func (c *StatsCommand) OnSuccess(b prolog.Bindings) error {
	t, err := b.Get("Stats")
	if err != nil {
		return err
	}
	if c.Stats, err = decodeStats(t); err != nil {
		return &prolog.ResultError{Variable: "Stats", Reason: err.Error()}
	}
	return nil
}

// SetGoalCommand installs Goal as the target predicate of later steps.
type SetGoalCommand struct {
	Goal formula.Formula
}

func (c *SetGoalCommand) WriteQuery(o *prolog.Output) {
	o.OpenTerm("set_goal")
	c.Goal.WriteTerm(o)
	o.CloseTerm()
}

func (c *SetGoalCommand) OnSuccess(prolog.Bindings) error { return nil }

// RegisterCommands adds the model-check commands to r:
//
//	do_modelchecking <timeout_ms> [max_nodes] [flag...]
//	get_statespace_stats
//	set_goal <predicate>
func RegisterCommands(r *engine.Registry) error {
	factories := map[string]engine.CommandFactory{
		"do_modelchecking": func(args []string) (engine.Command, error) {
			if len(args) < 1 {
				return nil, fmt.Errorf("do_modelchecking: missing timeout")
			}
			ms, err := strconv.Atoi(args[0])
			if err != nil || ms <= 0 {
				return nil, fmt.Errorf("do_modelchecking: invalid timeout %q", args[0])
			}
			cmd := &StepCommand{Timeout: time.Duration(ms) * time.Millisecond}
			rest := args[1:]
			if len(rest) > 0 {
				if n, err := strconv.Atoi(rest[0]); err == nil {
					cmd.MaxNodes = n
					rest = rest[1:]
				}
			}
			cmd.Flags = append(cmd.Flags, rest...)
			return cmd, nil
		},
		"get_statespace_stats": func([]string) (engine.Command, error) { return &StatsCommand{}, nil },
		"set_goal": func(args []string) (engine.Command, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("set_goal: want one predicate")
			}
			goal, err := formula.NewPredicate(args[0])
			if err != nil {
				return nil, err
			}
			return &SetGoalCommand{Goal: goal}, nil
		},
	}
	for name, f := range factories {
		if err := r.Register(name, f); err != nil {
			return err
		}
	}
	return nil
}
