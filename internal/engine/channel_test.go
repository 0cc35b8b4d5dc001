package engine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/AaronLay10/StateSpace/internal/engine"
	"github.com/AaronLay10/StateSpace/internal/engine/enginetest"
	"github.com/AaronLay10/StateSpace/internal/prolog"
)

type recordingCommand struct {
	functor   string
	bindings  prolog.Bindings
	successes int
	progress  []string
}

func (c *recordingCommand) WriteQuery(o *prolog.Output) {
	o.OpenTerm(c.functor).PrintAtom("root").PrintVariable("Result").CloseTerm()
}

func (c *recordingCommand) OnSuccess(b prolog.Bindings) error {
	c.bindings = b
	c.successes++
	return nil
}

func (c *recordingCommand) OnProgress(info prolog.Term) {
	c.progress = append(c.progress, info.String())
}

func TestExecuteAffirmative(t *testing.T) {
	ch, stub := enginetest.Start(t, func(x *enginetest.Exchange) {
		x.Yes("['='('Result', 42)]")
	})

	cmd := &recordingCommand{functor: "ping"}
	if err := ch.Execute(context.Background(), cmd); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n, err := cmd.bindings.Int("Result"); err != nil || n != 42 {
		t.Errorf("Result = %d, %v", n, err)
	}
	if q := stub.Queries(); len(q) != 1 || q[0] != "ping(root,Result)." {
		t.Errorf("unexpected queries: %v", q)
	}
}

func TestExecuteNegative(t *testing.T) {
	ch, _ := enginetest.Start(t, func(x *enginetest.Exchange) { x.No() })

	cmd := &recordingCommand{functor: "ping"}
	err := ch.Execute(context.Background(), cmd)
	if !errors.Is(err, engine.ErrNoSolution) {
		t.Fatalf("expected ErrNoSolution, got %v", err)
	}
	if engine.IsInterrupted(err) {
		t.Error("negative answer must not classify as interrupted")
	}
	if cmd.successes != 0 {
		t.Error("OnSuccess must not run on a negative answer")
	}
}

func TestExecuteInterrupted(t *testing.T) {
	ch, _ := enginetest.Start(t, func(x *enginetest.Exchange) { x.Interrupted() })

	err := ch.Execute(context.Background(), &recordingCommand{functor: "ping"})
	if !engine.IsInterrupted(err) {
		t.Fatalf("expected interruption, got %v", err)
	}
	if errors.Is(err, engine.ErrNoSolution) {
		t.Error("interruption must be distinct from failure")
	}
}

func TestExecuteReportedErrorsAfterSuccess(t *testing.T) {
	ch, _ := enginetest.Start(t, func(x *enginetest.Exchange) {
		x.Send("yes(['='('Result', 1)],[error('type mismatch',['line 3'])])")
	})

	cmd := &recordingCommand{functor: "ping"}
	err := ch.Execute(context.Background(), cmd)
	if !errors.Is(err, engine.ErrReportedErrors) {
		t.Fatalf("expected ErrReportedErrors, got %v", err)
	}
	if cmd.successes != 1 {
		t.Fatalf("OnSuccess should have run once before the failure, ran %d", cmd.successes)
	}
	var qerr *engine.QueryError
	if !errors.As(err, &qerr) {
		t.Fatalf("expected *QueryError, got %T", err)
	}
	if len(qerr.Errors) != 1 || qerr.Errors[0].Message != "type mismatch" || qerr.Errors[0].Locations[0] != "line 3" {
		t.Errorf("unexpected diagnostics: %+v", qerr.Errors)
	}
}

func TestExecuteException(t *testing.T) {
	ch, _ := enginetest.Start(t, func(x *enginetest.Exchange) {
		x.Send("exception('existence error')")
	})

	err := ch.Execute(context.Background(), &recordingCommand{functor: "ping"})
	if !errors.Is(err, engine.ErrEngineException) {
		t.Fatalf("expected ErrEngineException, got %v", err)
	}
}

func TestProgressBeforeTerminal(t *testing.T) {
	ch, _ := enginetest.Start(t, func(x *enginetest.Exchange) {
		x.Progress("step(1)")
		x.Progress("step(2)")
		x.Yes("[]")
	})

	cmd := &recordingCommand{functor: "ping"}
	if err := ch.Execute(context.Background(), cmd); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cmd.progress) != 2 || cmd.progress[1] != "step(2)" {
		t.Errorf("unexpected progress: %v", cmd.progress)
	}
}

func TestInterruptCallback(t *testing.T) {
	var replies []prolog.Term
	ch, _ := enginetest.Start(t, func(x *enginetest.Exchange) {
		replies = append(replies, x.Callback("interrupt_requested"))
		replies = append(replies, x.Callback("interrupt_requested"))
		x.Interrupted()
	})

	ch.SendInterrupt()
	err := ch.Execute(context.Background(), &recordingCommand{functor: "ping"})
	if !engine.IsInterrupted(err) {
		t.Fatalf("expected interruption, got %v", err)
	}
	if len(replies) != 2 {
		t.Fatalf("expected two callback replies, got %d", len(replies))
	}
	if replies[0].String() != engine.ReplyInterruptIsRequested {
		t.Errorf("first reply = %s", replies[0])
	}
	if replies[1].String() != engine.ReplyNotRequested {
		t.Errorf("flag should be cleared after delivery, second reply = %s", replies[1])
	}
}

func TestUnknownCallback(t *testing.T) {
	var reply prolog.Term
	ch, _ := enginetest.Start(t, func(x *enginetest.Exchange) {
		reply = x.Callback("ask_user(q)")
		x.Yes("[]")
	})

	if err := ch.Execute(context.Background(), &recordingCommand{functor: "ping"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply == nil || reply.String() != engine.ReplyNotSupported {
		t.Errorf("reply = %v", reply)
	}
}

type answeringCommand struct {
	recordingCommand
}

func (c *answeringCommand) OnCallback(req prolog.Term) (prolog.Term, bool) {
	if prolog.HasFunctor(req, "ask_user", 1) {
		return prolog.Atom("ok"), true
	}
	return nil, false
}

func TestCommandCallbackHandler(t *testing.T) {
	var reply prolog.Term
	ch, _ := enginetest.Start(t, func(x *enginetest.Exchange) {
		reply = x.Callback("ask_user(q)")
		x.Yes("[]")
	})

	cmd := &answeringCommand{recordingCommand{functor: "ping"}}
	if err := ch.Execute(context.Background(), cmd); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply == nil || reply.String() != "ok" {
		t.Errorf("reply = %v", reply)
	}
}

type compositeCommand struct {
	recordingCommand
}

func (c *compositeCommand) SubCommands() []engine.Command {
	return []engine.Command{&recordingCommand{functor: "part_a"}, &recordingCommand{functor: "part_b"}}
}

func TestCompositeDoesNotChangeOutcome(t *testing.T) {
	ch, stub := enginetest.Start(t, func(x *enginetest.Exchange) { x.No() })

	err := ch.Execute(context.Background(), &compositeCommand{recordingCommand{functor: "ping"}})
	if !errors.Is(err, engine.ErrNoSolution) {
		t.Fatalf("expected ErrNoSolution, got %v", err)
	}
	if stub.Calls() != 1 {
		t.Errorf("sub-commands must not be sent, got %d queries", stub.Calls())
	}
}

type acceptingCommand struct {
	recordingCommand
	seen engine.Answer
}

func (c *acceptingCommand) OnError(a engine.Answer, _ *engine.QueryError) error {
	c.seen = a
	return nil
}

func TestErrorHandlerOverridesClassification(t *testing.T) {
	ch, _ := enginetest.Start(t, func(x *enginetest.Exchange) { x.No() })

	cmd := &acceptingCommand{recordingCommand: recordingCommand{functor: "ping"}}
	if err := ch.Execute(context.Background(), cmd); err != nil {
		t.Fatalf("expected handler to accept the answer, got %v", err)
	}
	if _, ok := cmd.seen.(engine.No); !ok {
		t.Errorf("handler saw %T", cmd.seen)
	}
}

type unbalancedCommand struct{}

func (unbalancedCommand) WriteQuery(o *prolog.Output)      { o.OpenTerm("broken").PrintAtom("a") }
func (unbalancedCommand) OnSuccess(prolog.Bindings) error { return nil }

func TestUnbalancedQueryNeverSent(t *testing.T) {
	ch, stub := enginetest.Start(t, func(x *enginetest.Exchange) { x.Yes("[]") })

	err := ch.Execute(context.Background(), unbalancedCommand{})
	if !errors.Is(err, prolog.ErrUnbalancedOutput) {
		t.Fatalf("expected ErrUnbalancedOutput, got %v", err)
	}
	if stub.Calls() != 0 {
		t.Errorf("expected no queries, got %d", stub.Calls())
	}
}

func TestExecuteStopsAtFirstError(t *testing.T) {
	ch, stub := enginetest.Start(t, enginetest.Dispatch(map[string]enginetest.Handler{
		"first":  func(x *enginetest.Exchange) { x.No() },
		"second": func(x *enginetest.Exchange) { x.Yes("[]") },
	}))

	err := ch.Execute(context.Background(),
		&recordingCommand{functor: "first"},
		&recordingCommand{functor: "second"})
	if !errors.Is(err, engine.ErrNoSolution) {
		t.Fatalf("expected ErrNoSolution, got %v", err)
	}
	if stub.CallsTo("second") != 0 {
		t.Error("second command must not run after a failure")
	}
}

func TestExecuteCancelledContext(t *testing.T) {
	ch, stub := enginetest.Start(t, func(x *enginetest.Exchange) { x.Yes("[]") })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := ch.Execute(ctx, &recordingCommand{functor: "ping"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if stub.Calls() != 0 {
		t.Errorf("expected no queries, got %d", stub.Calls())
	}
}

func TestExecuteAfterClose(t *testing.T) {
	ch, _ := enginetest.Start(t, func(x *enginetest.Exchange) { x.Yes("[]") })
	ch.Close()

	if err := ch.Execute(context.Background(), &recordingCommand{functor: "ping"}); !errors.Is(err, engine.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestRawQuery(t *testing.T) {
	ch, _ := enginetest.Start(t, func(x *enginetest.Exchange) {
		if !prolog.HasFunctor(x.Query, "version", 1) {
			x.No()
			return
		}
		x.Yes("['='('V','1.12.0')]")
	})

	q, err := engine.NewQuery("version(V)")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ch.Execute(context.Background(), q); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v, _ := q.Result.Atom("V"); v != "1.12.0" {
		t.Errorf("V = %q", v)
	}
}
