package modelcheck

import (
	"fmt"
	"time"
)

// Status is the tag reported after every step and at the end of a run.
type Status string

const (
	StatusNotYetFinished     Status = "not-yet-finished"
	StatusFinishedExhaustive Status = "finished-exhaustive"
	StatusFinishedGoal       Status = "finished-goal"
	StatusLimitReached       Status = "limit-reached"
	StatusInterrupted        Status = "interrupted"
	StatusError              Status = "error"
)

// Terminal reports whether s ends a run.
func (s Status) Terminal() bool {
	return s != StatusNotYetFinished
}

// Finding names what a finished-goal run found.
type Finding string

const (
	FindingGoal               Finding = "goal"
	FindingDeadlock           Finding = "deadlock"
	FindingInvariantViolation Finding = "invariant-violation"
	FindingAssertionViolation Finding = "assertion-violation"
)

// Stats is the coverage reported by the engine after a step.
type Stats struct {
	StatesFound      int `json:"statesFound"`
	StatesProcessed  int `json:"statesProcessed"`
	StatesLeft       int `json:"statesLeft"`
	TransitionsFound int `json:"transitionsFound"`
}

// Result is the final outcome of a run. Stats holds the last coverage
// reported, also when the run was interrupted or failed.
type Result struct {
	JobID   string        `json:"jobId"`
	Status  Status        `json:"status"`
	Finding Finding       `json:"finding,omitempty"`
	StateID string        `json:"stateId,omitempty"`
	Message string        `json:"message,omitempty"`
	Stats   Stats         `json:"stats"`
	Steps   int           `json:"steps"`
	Elapsed time.Duration `json:"elapsed"`
}

func (r Result) String() string {
	switch {
	case r.Finding != "" && r.StateID != "":
		return fmt.Sprintf("%s: %s in state %s", r.Status, r.Finding, r.StateID)
	case r.Message != "":
		return fmt.Sprintf("%s: %s", r.Status, r.Message)
	}
	return string(r.Status)
}

// Listener receives progress of a run. Calls happen on the worker
// goroutine, between steps.
type Listener interface {
	OnUpdate(jobID string, stats Stats, status Status)
	OnFinished(jobID string, result Result)
}
