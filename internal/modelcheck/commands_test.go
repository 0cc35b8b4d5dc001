package modelcheck

import (
	"testing"
	"time"

	"github.com/AaronLay10/StateSpace/internal/engine"
)

func TestRegisterCommands(t *testing.T) {
	r := engine.NewRegistry()
	if err := RegisterCommands(r); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := RegisterCommands(r); err == nil {
		t.Error("registering twice should fail")
	}

	c, err := r.New("do_modelchecking", []string{"250", "100", "find_deadlocks"})
	if err != nil {
		t.Fatal(err)
	}
	step := c.(*StepCommand)
	if step.Timeout != 250*time.Millisecond || step.MaxNodes != 100 || len(step.Flags) != 1 || step.Flags[0] != "find_deadlocks" {
		t.Errorf("unexpected step %+v", step)
	}

	c, err = r.New("do_modelchecking", []string{"500", "find_goal"})
	if err != nil {
		t.Fatal(err)
	}
	if step := c.(*StepCommand); step.MaxNodes != 0 || len(step.Flags) != 1 {
		t.Errorf("flags without a node limit: %+v", step)
	}

	if _, err := r.New("do_modelchecking", nil); err == nil {
		t.Error("expected missing timeout to fail")
	}
	if _, err := r.New("set_goal", []string{"x + 1 ="}); err == nil {
		t.Error("expected malformed goal to fail")
	}
	if _, err := r.New("get_statespace_stats", nil); err != nil {
		t.Errorf("stats: %v", err)
	}
}
