package modelcheck

import (
	"time"

	"github.com/AaronLay10/StateSpace/internal/formula"
)

// DefaultStepTimeout bounds a single step so interruption is observed promptly.
const DefaultStepTimeout = 500 * time.Millisecond

// Options configures a run. Zero limits mean unlimited.
type Options struct {
	StateLimit int
	TimeLimit  time.Duration
	// CustomGoal is installed as the target predicate before stepping.
	CustomGoal formula.Formula

	FindDeadlocks           bool
	FindInvariantViolations bool
	FindAssertionViolations bool
	// RecheckExisting also re-inspects states processed before this run.
	// It only applies to the first step.
	RecheckExisting bool

	StepTimeout time.Duration
}

// DefaultOptions finds invariant violations and deadlocks without limits.
func DefaultOptions() Options {
	return Options{
		FindDeadlocks:           true,
		FindInvariantViolations: true,
		StepTimeout:             DefaultStepTimeout,
	}
}

func (o Options) stepTimeout() time.Duration {
	if o.StepTimeout <= 0 {
		return DefaultStepTimeout
	}
	return o.StepTimeout
}

// flags returns the option atoms of a step query.
func (o Options) flags(first bool) []string {
	var out []string
	if o.FindDeadlocks {
		out = append(out, "find_deadlocks")
	}
	if o.FindInvariantViolations {
		out = append(out, "find_invariant_violations")
	}
	if o.FindAssertionViolations {
		out = append(out, "find_assertion_violations")
	}
	if o.CustomGoal != nil {
		out = append(out, "find_goal")
	}
	if o.RecheckExisting && first {
		out = append(out, "inspect_existing_nodes")
	}
	return out
}
