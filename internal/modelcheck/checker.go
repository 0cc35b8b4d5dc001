// Package modelcheck drives the engine's model checker step by step
// under a node and time budget.
package modelcheck

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/AaronLay10/StateSpace/internal/engine"
	"github.com/AaronLay10/StateSpace/internal/events"
	"github.com/AaronLay10/StateSpace/internal/formula"
	"github.com/AaronLay10/StateSpace/internal/metrics"
)

// Space is the part of a state-space graph the checker needs.
// *statespace.Graph implements it.
type Space interface {
	engine.Executor
	StartTransaction(ctx context.Context) error
	EndTransaction(ctx context.Context) error
}

// Checker runs one model-check job. It is not reusable.
type Checker struct {
	id          string
	space       Space
	opts        Options
	listener    Listener
	interrupter func()
	reset       func()
	log         *zap.SugaredLogger

	interrupted atomic.Bool
}

// CheckerOption configures a Checker.
type CheckerOption func(*Checker)

// WithJobID sets the id reported to listeners.
func WithJobID(id string) CheckerOption {
	return func(c *Checker) { c.id = id }
}

// WithListener sets the progress listener.
func WithListener(l Listener) CheckerOption {
	return func(c *Checker) { c.listener = l }
}

// WithInterrupter sets a function called by Interrupt to abort the step
// in flight, typically (*engine.Channel).SendInterrupt.
func WithInterrupter(f func()) CheckerOption {
	return func(c *Checker) { c.interrupter = f }
}

// EngineInterrupter is the interrupt side of an engine connection.
// *engine.Channel implements it.
type EngineInterrupter interface {
	SendInterrupt()
	ResetInterrupt()
}

// WithEngine delivers Interrupt to the engine and discards any interrupt
// left pending on the connection when the run starts and when it ends.
func WithEngine(e EngineInterrupter) CheckerOption {
	return func(c *Checker) {
		c.interrupter = e.SendInterrupt
		c.reset = e.ResetInterrupt
	}
}

// WithLogger sets the operational logger.
func WithLogger(l *zap.SugaredLogger) CheckerOption {
	return func(c *Checker) { c.log = l }
}

// NewChecker returns a checker over space.
func NewChecker(space Space, opts Options, options ...CheckerOption) *Checker {
	c := &Checker{space: space, opts: opts}
	for _, o := range options {
		o(c)
	}
	if c.log == nil {
		c.log = zap.NewNop().Sugar()
	}
	return c
}

// ID returns the job id.
func (c *Checker) ID() string {
	return c.id
}

// Interrupt asks the run to stop. The flag is checked between steps; the
// interrupter, if any, aborts the current step on the engine side.
func (c *Checker) Interrupt() {
	if c.interrupted.Swap(true) {
		return
	}
	if c.interrupter != nil {
		c.interrupter()
	}
}

func (c *Checker) stopRequested(ctx context.Context) bool {
	return c.interrupted.Load() || ctx.Err() != nil
}

// Run checks until the engine reports a terminal result, a limit is hit
// or the run is interrupted. It always returns a result carrying the last
// coverage; failures are reported as StatusError, cancellation as
// StatusInterrupted.
func (c *Checker) Run(ctx context.Context) Result {
	limits := NewLimitConfiguration(c.opts.StateLimit, c.opts.TimeLimit, c.opts.stepTimeout())
	if c.reset != nil {
		c.reset()
		defer c.reset()
	}
	metrics.RunningChecks.Inc()
	defer metrics.RunningChecks.Dec()

	c.emit("info", "modelcheck.started", map[string]interface{}{
		"job":        c.id,
		"stateLimit": c.opts.StateLimit,
		"timeLimit":  c.opts.TimeLimit.String(),
	})

	r, ok := c.installGoal(ctx)
	if ok {
		r = c.check(ctx, limits)
	}
	r.JobID = c.id
	r.Elapsed = limits.Elapsed()
	c.finish(r)
	return r
}

// installGoal sends the custom goal, if any. A goal that is not a
// predicate is rejected without contacting the engine. ok is false when
// the run must end with the returned result.
func (c *Checker) installGoal(ctx context.Context) (r Result, ok bool) {
	goal := c.opts.CustomGoal
	if goal == nil {
		return Result{}, true
	}
	if goal.Kind() != formula.Predicate {
		return Result{Status: StatusError, Message: "type error in specified goal: " + goal.Code() + " is not a predicate"}, false
	}
	if err := c.space.Execute(ctx, &SetGoalCommand{Goal: goal}); err != nil {
		if c.stopRequested(ctx) || engine.IsInterrupted(err) {
			return Result{Status: StatusInterrupted}, false
		}
		c.log.Warnw("goal rejected", "job", c.id, "goal", goal.Code(), "error", err)
		return Result{Status: StatusError, Message: "type error in specified goal: " + err.Error()}, false
	}
	return Result{}, true
}

func (c *Checker) check(ctx context.Context, limits *LimitConfiguration) (r Result) {
	if err := c.space.StartTransaction(ctx); err != nil {
		return Result{Status: StatusError, Message: err.Error()}
	}
	defer func() {
		// An interrupt sent for the last step must not abort the bracket.
		if c.reset != nil {
			c.reset()
		}
		if err := c.space.EndTransaction(context.WithoutCancel(ctx)); err != nil {
			c.log.Warnw("end transaction", "job", c.id, "error", err)
			if r.Status != StatusError {
				r.Message = "end transaction: " + err.Error()
			}
		}
	}()

	var coverage StatsCommand
	if err := c.space.Execute(ctx, &coverage); err != nil {
		if c.stopRequested(ctx) || engine.IsInterrupted(err) {
			return Result{Status: StatusInterrupted}
		}
		return Result{Status: StatusError, Message: err.Error()}
	}
	limits.SetBaseline(coverage.Stats.StatesProcessed)
	r.Stats = coverage.Stats

	for first := true; ; first = false {
		if c.stopRequested(ctx) {
			r.Status = StatusInterrupted
			return r
		}

		step := &StepCommand{Timeout: limits.StepTimeout(), Flags: c.opts.flags(first)}
		if limits.NodesLimitSet() {
			step.MaxNodes = limits.NodesLeft()
		}
		err := c.space.Execute(ctx, step)
		r.Steps++
		metrics.CheckSteps.Inc()
		if err != nil {
			if c.stopRequested(ctx) || engine.IsInterrupted(err) {
				r.Status = StatusInterrupted
				return r
			}
			r.Status = StatusError
			r.Message = err.Error()
			return r
		}

		r.Stats = step.Stats
		limits.Update(step.Stats)
		if c.listener != nil {
			c.listener.OnUpdate(c.id, step.Stats, step.Status)
		}
		c.emit("debug", "modelcheck.step", map[string]interface{}{
			"job":       c.id,
			"status":    string(step.Status),
			"processed": step.Stats.StatesProcessed,
			"left":      step.Stats.StatesLeft,
		})
		if c.stopRequested(ctx) {
			r.Status = StatusInterrupted
			return r
		}

		if step.Status.Terminal() {
			r.Status = step.Status
			r.Finding = step.Finding
			r.StateID = step.StateID
			r.Message = step.Message
			return r
		}
		if limits.Finished() {
			r.Status = StatusLimitReached
			return r
		}
	}
}

func (c *Checker) finish(r Result) {
	metrics.CheckRuns.WithLabelValues(string(r.Status)).Inc()
	fields := map[string]interface{}{
		"job":       c.id,
		"status":    string(r.Status),
		"steps":     r.Steps,
		"processed": r.Stats.StatesProcessed,
		"elapsed":   r.Elapsed.String(),
	}
	if r.StateID != "" {
		fields["state"] = r.StateID
		fields["finding"] = string(r.Finding)
	}
	switch r.Status {
	case StatusInterrupted:
		c.emit("info", "modelcheck.interrupted", fields)
	case StatusError:
		fields["error"] = r.Message
		c.emit("error", "modelcheck.failed", fields)
	default:
		c.emit("info", "modelcheck.finished", fields)
	}
	if c.listener != nil {
		c.listener.OnFinished(c.id, r)
	}
}

func (c *Checker) emit(level, name string, fields map[string]interface{}) {
	if _, err := events.Emit(level, name, "", fields); err != nil {
		c.log.Warnw("emit event", "event", name, "error", err)
	}
}
