package statespace_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/AaronLay10/StateSpace/internal/engine"
	"github.com/AaronLay10/StateSpace/internal/formula"
	"github.com/AaronLay10/StateSpace/internal/statespace"
	"github.com/AaronLay10/StateSpace/internal/statespace/statespacetest"
)

// counterModel: 1 --inc--> 2, and 2 is a deadlock.
func counterModel() *statespacetest.Model {
	return &statespacetest.Model{
		Root: "1",
		States: map[string]map[string]string{
			"1": {"x": "0"},
			"2": {"x": "1"},
		},
		Transitions: []statespacetest.Transition{
			{ID: "o1", Name: "inc", Source: "1", Dest: "2"},
		},
	}
}

// diamondModel: root -a-> s1 -c-> s3, root -b-> s2 -d-> s3, s3 -e-> s4.
func diamondModel() *statespacetest.Model {
	return &statespacetest.Model{
		Root: "root",
		States: map[string]map[string]string{
			"root": {"n": "0"}, "s1": {"n": "1"}, "s2": {"n": "2"}, "s3": {"n": "3"}, "s4": {"n": "4"},
		},
		Transitions: []statespacetest.Transition{
			{ID: "a", Name: "left", Source: "root", Dest: "s1"},
			{ID: "b", Name: "right", Source: "root", Dest: "s2"},
			{ID: "c", Name: "join", Source: "s1", Dest: "s3"},
			{ID: "d", Name: "join", Source: "s2", Dest: "s3"},
			{ID: "e", Name: "step", Source: "s3", Dest: "s4"},
			{ID: "f", Name: "loop", Source: "s4", Dest: "s4"},
		},
	}
}

func TestExploreRootScenario(t *testing.T) {
	ctx := context.Background()
	g, _ := statespacetest.NewGraph(t, counterModel())

	info, err := g.Explore(ctx, "1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !info.Explored || !info.InvariantOK {
		t.Errorf("unexpected state info: %+v", info)
	}
	if !g.HasState("1") || !g.HasState("2") {
		t.Fatal("expected vertices 1 and 2")
	}
	c := g.Counts()
	if c.States != 2 || c.Transitions != 1 {
		t.Errorf("counts = %+v", c)
	}
	op, err := g.Op("o1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if op.Name != "inc" || op.Source != "1" || op.Dest != "2" {
		t.Errorf("unexpected edge %+v", op)
	}

	dead, err := g.IsDeadlock(ctx, "2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !dead {
		t.Error("state 2 has no operations and should be a deadlock")
	}
	if dead, _ := g.IsDeadlock(ctx, "1"); dead {
		t.Error("state 1 is not a deadlock")
	}
}

func TestExploreIsIdempotent(t *testing.T) {
	ctx := context.Background()
	g, stub := statespacetest.NewGraph(t, diamondModel())

	var notified []string
	g.AddListener(statespace.TransitionListenerFunc(func(opID string, _ bool) error {
		notified = append(notified, opID)
		return nil
	}))

	if _, err := g.Explore(ctx, "root"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first := g.Counts()
	if _, err := g.Explore(ctx, "root"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.Counts() != first {
		t.Errorf("re-exploring changed the graph: %+v -> %+v", first, g.Counts())
	}
	out, _ := g.Outgoing("root")
	if len(out) != 2 {
		t.Errorf("expected 2 outgoing edges, got %d", len(out))
	}
	if len(notified) != 2 {
		t.Errorf("listeners should be notified once per edge, got %v", notified)
	}
	if stub.CallsTo("explore_state") != 2 {
		t.Errorf("expected 2 explore queries, got %d", stub.CallsTo("explore_state"))
	}
}

func TestListenerSeesDestinationNewness(t *testing.T) {
	ctx := context.Background()
	g, _ := statespacetest.NewGraph(t, diamondModel())

	newness := map[string]bool{}
	g.AddListener(statespace.TransitionListenerFunc(func(opID string, destNew bool) error {
		newness[opID] = destNew
		return nil
	}))

	for _, s := range []string{"root", "s1", "s2"} {
		if _, err := g.Explore(ctx, s); err != nil {
			t.Fatalf("explore %s: %v", s, err)
		}
	}
	if !newness["c"] {
		t.Error("c should create s3")
	}
	if newness["d"] {
		t.Error("d leads to the already known s3")
	}
}

func TestListenerErrorPropagates(t *testing.T) {
	g, _ := statespacetest.NewGraph(t, counterModel())
	boom := errors.New("listener failed")
	remove := g.AddListener(statespace.TransitionListenerFunc(func(string, bool) error { return boom }))

	if _, err := g.Explore(context.Background(), "1"); !errors.Is(err, boom) {
		t.Fatalf("expected listener error, got %v", err)
	}
	if !g.HasState("2") {
		t.Error("the edge should be added before listeners run")
	}

	remove()
	if _, err := g.Explore(context.Background(), "2"); err != nil {
		t.Fatalf("removed listener still ran: %v", err)
	}
}

func TestUnknownState(t *testing.T) {
	ctx := context.Background()
	g, stub := statespacetest.NewGraph(t, counterModel())

	var unknown *statespace.UnknownStateError
	if _, err := g.Explore(ctx, "99"); !errors.As(err, &unknown) || unknown.ID != "99" {
		t.Errorf("Explore: expected UnknownStateError for 99, got %v", err)
	}
	if _, err := g.Eval(ctx, "99", nil); !errors.As(err, &unknown) {
		t.Errorf("Eval: expected UnknownStateError, got %v", err)
	}
	if _, err := g.OpFromPredicate(ctx, "99", "inc", "1=1", 1); !errors.As(err, &unknown) {
		t.Errorf("OpFromPredicate: expected UnknownStateError, got %v", err)
	}
	var unknownOp *statespace.UnknownOperationError
	if _, err := g.Op("o7"); !errors.As(err, &unknownOp) || unknownOp.ID != "o7" {
		t.Errorf("Op: expected UnknownOperationError, got %v", err)
	}
	if stub.Calls() != 0 {
		t.Errorf("unknown entities must fail without queries, got %d", stub.Calls())
	}
}

func TestOpFromPredicate(t *testing.T) {
	ctx := context.Background()
	m := &statespacetest.Model{
		Root:   "root",
		States: map[string]map[string]string{"root": {"x": "0"}, "a": {"x": "1"}, "b": {"x": "2"}},
		Transitions: []statespacetest.Transition{
			{ID: "t1", Name: "set", Source: "root", Dest: "a", Params: map[string]string{"v": "1"}},
			{ID: "t2", Name: "set", Source: "root", Dest: "b", Params: map[string]string{"v": "2"}},
		},
	}
	g, _ := statespacetest.NewGraph(t, m)

	ops, err := g.OpFromPredicate(ctx, "root", "set", "v = 2", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ops) != 1 || ops[0].ID != "t2" || ops[0].Params[0] != "2" {
		t.Fatalf("unexpected ops %+v", ops)
	}
	if g.IsExplored("root") {
		t.Error("a targeted search must not mark the state explored")
	}
	if g.Counts().Transitions != 1 {
		t.Errorf("expected only the found edge, got %d", g.Counts().Transitions)
	}

	_, err = g.OpFromPredicate(ctx, "root", "set", "v = 3", 1)
	if !errors.Is(err, statespace.ErrNoTransition) {
		t.Errorf("expected ErrNoTransition, got %v", err)
	}
}

func TestOpFromPredicateRejectsBadPredicate(t *testing.T) {
	g, stub := statespacetest.NewGraph(t, counterModel())

	_, err := g.OpFromPredicate(context.Background(), "1", "inc", "x = (1", 1)
	var perr *formula.ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *formula.ParseError, got %v", err)
	}
	if stub.Calls() != 0 {
		t.Errorf("expected no queries, got %d", stub.Calls())
	}
}

func TestEvalEmptyMakesNoCall(t *testing.T) {
	g, stub := statespacetest.NewGraph(t, counterModel())

	results, err := g.Eval(context.Background(), "1", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results == nil || len(results) != 0 {
		t.Errorf("expected empty non-nil results, got %v", results)
	}
	if stub.Calls() != 0 {
		t.Errorf("expected no queries, got %d", stub.Calls())
	}
}

func TestEvalPreservesOrder(t *testing.T) {
	g, stub := statespacetest.NewGraph(t, counterModel())

	results, err := g.Eval(context.Background(), "1", []formula.Formula{
		formula.MustNew("x"),
		formula.MustNew("x = 0"),
		formula.MustNew("x = 5"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].String() != "0" || results[1].String() != "TRUE" || results[2].String() != "FALSE" {
		t.Errorf("unexpected results %v", results)
	}
	if stub.CallsTo("evaluate_formulas") != 1 {
		t.Errorf("expected one batched query, got %d", stub.CallsTo("evaluate_formulas"))
	}
}

func TestEvalSharesInternedBooleans(t *testing.T) {
	g, _ := statespacetest.NewGraph(t, counterModel())
	ctx := context.Background()

	a, _ := g.Eval(ctx, "1", []formula.Formula{formula.MustNew("x = 0")})
	b, _ := g.Eval(ctx, "1", []formula.Formula{formula.MustNew("x = 0")})
	if a[0] != b[0] {
		t.Error("TRUE results of one graph should share representation")
	}
}

func TestSubscribedEvaluationSkipsUnsubscribed(t *testing.T) {
	ctx := context.Background()
	g, stub := statespacetest.NewGraph(t, counterModel())

	watched := formula.MustNew("x")
	idle := formula.MustNew("x = 0")
	g.AddUserFormula(idle)

	values, err := g.EvaluateSubscribed(ctx, "1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(values) != 0 || stub.Calls() != 0 {
		t.Fatalf("nothing is subscribed: values=%v calls=%d", values, stub.Calls())
	}

	if !g.Subscribe("panel", watched) {
		t.Error("first subscription should be new")
	}
	if g.Subscribe("panel", watched) {
		t.Error("duplicate subscription should not be new")
	}
	values, err = g.EvaluateSubscribed(ctx, "1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := values["x = 0"]; ok {
		t.Error("formula without subscribers was evaluated")
	}
	if values["x"] == nil || values["x"].String() != "0" {
		t.Errorf("unexpected values %v", values)
	}
	for _, q := range stub.Queries() {
		if strings.Contains(q, "x = 0") {
			t.Errorf("formula without subscribers was sent: %s", q)
		}
	}

	g.Unsubscribe("panel", watched)
	if g.IsSubscribed(watched) {
		t.Error("expected no subscribers after unsubscribe")
	}
	before := stub.Calls()
	if _, err := g.EvaluateSubscribed(ctx, "1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stub.Calls() != before {
		t.Error("no query expected after the last subscriber left")
	}
	if g.Values("1")["x"] == nil {
		t.Error("cached values should survive unsubscription")
	}
}

func TestStateValuesCached(t *testing.T) {
	g, stub := statespacetest.NewGraph(t, counterModel())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		v, err := g.StateValues(ctx, "1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if v["x"] != "0" {
			t.Errorf("x = %q", v["x"])
		}
	}
	if stub.CallsTo("get_state_values") != 1 {
		t.Errorf("expected one query, got %d", stub.CallsTo("get_state_values"))
	}
}

func TestMachineInfo(t *testing.T) {
	g, stub := statespacetest.NewGraph(t, diamondModel())
	ctx := context.Background()

	info, err := g.MachineInfo(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(info.Variables) != 1 || info.Variables[0] != "n" {
		t.Errorf("variables = %v", info.Variables)
	}
	if _, ok := info.Operations["join"]; !ok {
		t.Errorf("operations = %v", info.Operations)
	}
	if _, err := g.MachineInfo(ctx); err != nil {
		t.Fatal(err)
	}
	if stub.CallsTo("machine_info") != 1 {
		t.Errorf("machine info should be read once, got %d", stub.CallsTo("machine_info"))
	}
}

func TestTransactionBracket(t *testing.T) {
	g, stub := statespacetest.NewGraph(t, counterModel())
	ctx := context.Background()

	if err := g.StartTransaction(ctx); err != nil {
		t.Fatal(err)
	}
	if err := g.EndTransaction(ctx); err != nil {
		t.Fatal(err)
	}
	if got := stub.Queries(); len(got) != 2 || got[0] != "start_transaction." || got[1] != "end_transaction." {
		t.Errorf("queries = %v", got)
	}
}

func TestEngineExceptionIsClassified(t *testing.T) {
	g, _ := statespacetest.NewGraph(t, counterModel())

	q, err := engine.NewQuery("reset_model")
	if err != nil {
		t.Fatal(err)
	}
	err = g.Execute(context.Background(), &statespace.StartTransactionCommand{}, q)
	if !errors.Is(err, engine.ErrEngineException) {
		t.Fatalf("expected engine exception, got %v", err)
	}
}
