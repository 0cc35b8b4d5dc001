package modelcheck

import "time"

// LimitConfiguration tracks the node and time budget of one run.
type LimitConfiguration struct {
	stateLimit  int
	timeLimit   time.Duration
	stepTimeout time.Duration
	start       time.Time
	now         func() time.Time

	baseline  int
	processed int
}

// NewLimitConfiguration starts the clock. Zero limits mean unlimited.
func NewLimitConfiguration(stateLimit int, timeLimit, stepTimeout time.Duration) *LimitConfiguration {
	return newLimits(stateLimit, timeLimit, stepTimeout, time.Now)
}

func newLimits(stateLimit int, timeLimit, stepTimeout time.Duration, now func() time.Time) *LimitConfiguration {
	if stepTimeout <= 0 {
		stepTimeout = DefaultStepTimeout
	}
	return &LimitConfiguration{
		stateLimit:  stateLimit,
		timeLimit:   timeLimit,
		stepTimeout: stepTimeout,
		start:       now(),
		now:         now,
	}
}

// SetBaseline records the states processed before the run started, so
// only states processed by this run count against the limit.
func (l *LimitConfiguration) SetBaseline(processed int) {
	l.baseline = processed
	l.processed = processed
}

// Update records the coverage after a step.
func (l *LimitConfiguration) Update(s Stats) {
	l.processed = s.StatesProcessed
}

// NodesLimitSet reports whether a state limit was configured.
func (l *LimitConfiguration) NodesLimitSet() bool {
	return l.stateLimit > 0
}

// NodesLeft is the number of states this run may still process.
func (l *LimitConfiguration) NodesLeft() int {
	left := l.stateLimit - (l.processed - l.baseline)
	if left < 0 {
		return 0
	}
	return left
}

// Elapsed is the wall time since the run started.
func (l *LimitConfiguration) Elapsed() time.Duration {
	return l.now().Sub(l.start)
}

// StepTimeout is the budget for the next step: the per-step timeout,
// shortened to the time left if a time limit is set.
func (l *LimitConfiguration) StepTimeout() time.Duration {
	t := l.stepTimeout
	if l.timeLimit > 0 {
		if left := l.timeLimit - l.Elapsed(); left < t {
			t = left
		}
	}
	if t < time.Millisecond {
		t = time.Millisecond
	}
	return t
}

// Finished reports whether the node or time budget is exhausted.
func (l *LimitConfiguration) Finished() bool {
	if l.NodesLimitSet() && l.NodesLeft() == 0 {
		return true
	}
	return l.timeLimit > 0 && l.Elapsed() >= l.timeLimit
}
