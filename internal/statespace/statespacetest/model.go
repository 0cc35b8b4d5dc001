// Package statespacetest simulates a loaded model behind the stub engine,
// answering the queries issued by statespace.Graph.
package statespacetest

import (
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/AaronLay10/StateSpace/internal/engine"
	"github.com/AaronLay10/StateSpace/internal/engine/enginetest"
	"github.com/AaronLay10/StateSpace/internal/prolog"
	"github.com/AaronLay10/StateSpace/internal/statespace"
)

// Transition is one operation of the simulated model.
type Transition struct {
	ID      string
	Name    string
	Source  string
	Dest    string
	Params  map[string]string
	Returns map[string]string
}

// Model is a fully known transition system. States map to their variable values.
type Model struct {
	Root        string
	States      map[string]map[string]string
	Transitions []Transition
	// Violations lists states whose invariant does not hold.
	Violations map[string]bool
	// Extra handles queries the model does not know, by functor.
	Extra map[string]enginetest.Handler

	mu sync.Mutex
}

// Start connects a channel to a stub engine simulating m.
func Start(tb testing.TB, m *Model) (*engine.Channel, *enginetest.Engine) {
	tb.Helper()
	return enginetest.Start(tb, m.Handler())
}

// NewGraph returns a graph over m rooted at m.Root.
func NewGraph(tb testing.TB, m *Model, opts ...statespace.Option) (*statespace.Graph, *enginetest.Engine) {
	tb.Helper()
	ch, stub := Start(tb, m)
	opts = append([]statespace.Option{statespace.WithRootID(m.Root)}, opts...)
	return statespace.New(ch, opts...), stub
}

// Handler answers graph queries from the model.
func (m *Model) Handler() enginetest.Handler {
	handlers := map[string]enginetest.Handler{
		"explore_state":              m.explore,
		"get_operation_by_predicate": m.byPredicate,
		"evaluate_formulas":          m.evaluate,
		"get_state_values":           m.values,
		"machine_info":               m.machineInfo,
		"start_transaction":          func(x *enginetest.Exchange) { x.Yes("[]") },
		"end_transaction":            func(x *enginetest.Exchange) { x.Yes("[]") },
	}
	for name, h := range m.Extra {
		handlers[name] = h
	}
	return enginetest.Dispatch(handlers)
}

// AddTransition appends a transition while the model is in use.
func (m *Model) AddTransition(t Transition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Transitions = append(m.Transitions, t)
}

func (m *Model) from(state string) []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Transition
	for _, t := range m.Transitions {
		if t.Source == state {
			out = append(out, t)
		}
	}
	return out
}

func (m *Model) explore(x *enginetest.Exchange) {
	state := x.ArgString(1)
	ops := make([]string, 0)
	for _, t := range m.from(state) {
		ops = append(ops, opTerm(t))
	}
	inv := "true"
	if m.Violations[state] {
		inv = "false"
	}
	x.Yes("['='('Operations',[" + strings.Join(ops, ",") + "]),'='('Invariant'," + inv +
		"),'='('TimedOut',false),'='('Errors',[])]")
}

func (m *Model) byPredicate(x *enginetest.Exchange) {
	state := x.ArgString(1)
	name := x.ArgString(2)
	pred, _ := prolog.AtomString(argOf(x.Arg(3), 1))
	max, _ := prolog.IntOf(x.Arg(4))

	var ops []string
	for _, t := range m.from(state) {
		if t.Name != name {
			continue
		}
		if m.holds(pred, t) {
			ops = append(ops, opTerm(t))
			if int64(len(ops)) >= max {
				break
			}
		}
	}
	errs := "[]"
	if len(ops) == 0 {
		errs = "['Could not execute operation " + name + "']"
	}
	x.Yes("['='('Operations',[" + strings.Join(ops, ",") + "]),'='('Errors'," + errs + ")]")
}

func (m *Model) evaluate(x *enginetest.Exchange) {
	state := x.ArgString(1)
	list, _ := prolog.ListOf(x.Arg(2))
	vars := m.States[state]

	results := make([]string, len(list))
	for i, f := range list {
		code, _ := prolog.AtomString(argOf(f, 1))
		switch {
		case strings.Contains(code, "="):
			v := "'FALSE'"
			if equalitiesHold(code, vars) {
				v = "'TRUE'"
			}
			results[i] = "result(" + v + ",[])"
		case vars[code] != "":
			results[i] = "result(" + prolog.Atom(vars[code]).String() + ",[])"
		default:
			results[i] = "errors('UNKNOWN',['unknown identifier " + code + "'])"
		}
	}
	x.Yes("['='('Results',[" + strings.Join(results, ",") + "])]")
}

func (m *Model) values(x *enginetest.Exchange) {
	vars := m.States[x.ArgString(1)]
	x.Yes("['='('Values',[" + strings.Join(bindTerms(vars), ",") + "])]")
}

func (m *Model) machineInfo(x *enginetest.Exchange) {
	varSet := map[string]struct{}{}
	for _, vars := range m.States {
		for name := range vars {
			varSet[name] = struct{}{}
		}
	}
	ops := map[string]Transition{}
	m.mu.Lock()
	for _, t := range m.Transitions {
		ops[t.Name] = t
	}
	m.mu.Unlock()

	var opTerms []string
	for _, name := range sortedKeys(ops) {
		t := ops[name]
		opTerms = append(opTerms, "operation("+prolog.Atom(name).String()+",["+
			atoms(sortedKeys(t.Params))+"],["+atoms(sortedKeys(t.Returns))+"])")
	}
	x.Yes("['='('Variables',[" + atoms(sortedKeys(varSet)) + "]),'='('Constants',[]),'='('Sets',[])," +
		"'='('Operations',[" + strings.Join(opTerms, ",") + "])]")
}

// holds evaluates a conjunction of equalities against the parameters,
// results, and destination values of t.
func (m *Model) holds(pred string, t Transition) bool {
	env := map[string]string{}
	for k, v := range m.States[t.Dest] {
		env[k] = v
	}
	for k, v := range t.Returns {
		env[k] = v
	}
	for k, v := range t.Params {
		env[k] = v
	}
	return equalitiesHold(pred, env)
}

func equalitiesHold(pred string, env map[string]string) bool {
	if strings.TrimSpace(pred) == "1=1" {
		return true
	}
	for _, conj := range strings.Split(pred, " & ") {
		parts := strings.SplitN(conj, " = ", 2)
		if len(parts) != 2 {
			return false
		}
		v, ok := env[strings.TrimSpace(parts[0])]
		if !ok || v != strings.TrimSpace(parts[1]) {
			return false
		}
	}
	return true
}

func opTerm(t Transition) string {
	return "op(" + strings.Join([]string{
		prolog.Atom(t.ID).String(),
		prolog.Atom(t.Name).String(),
		prolog.Atom(t.Source).String(),
		prolog.Atom(t.Dest).String(),
	}, ",") + ",[" + values(t.Params) + "],[" + values(t.Returns) + "])"
}

// values renders map values ordered by key, matching machine_info.
func values(m map[string]string) string {
	keys := sortedKeys(m)
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = prolog.Atom(m[k]).String()
	}
	return strings.Join(out, ",")
}

func bindTerms(m map[string]string) []string {
	keys := sortedKeys(m)
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = "bind(" + prolog.Atom(k).String() + "," + prolog.Atom(m[k]).String() + ")"
	}
	return out
}

func atoms(names []string) string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = prolog.Atom(n).String()
	}
	return strings.Join(out, ",")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func argOf(t prolog.Term, i int) prolog.Term {
	a, err := prolog.Arg(t, i)
	if err != nil {
		return prolog.Atom("")
	}
	return a
}
