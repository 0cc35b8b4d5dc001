package replay

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/AaronLay10/StateSpace/internal/events"
	"github.com/AaronLay10/StateSpace/internal/metrics"
	"github.com/AaronLay10/StateSpace/internal/statespace"
)

const (
	// DefaultLookahead is the number of intermediate operations tried
	// when a recorded step cannot be matched directly.
	DefaultLookahead = 1
	// DefaultMaxBranches bounds the candidate continuations kept at once.
	DefaultMaxBranches = 8
)

// Graph is the part of a state-space graph the replay needs.
// *statespace.Graph implements it.
type Graph interface {
	Root() string
	Explore(ctx context.Context, id string) (*statespace.StateInfo, error)
	IsExplored(id string) bool
	Outgoing(id string) ([]*statespace.OpInfo, error)
	OpFromPredicate(ctx context.Context, id, name, predicate string, max int) ([]*statespace.OpInfo, error)
	StateValues(ctx context.Context, id string) (map[string]string, error)
	MachineInfo(ctx context.Context) (*statespace.MachineInfo, error)
}

// PersistenceDelta maps one recorded step to the live steps replacing it.
// New is empty for an infeasible step, holds the match for a direct
// match or rename, and holds the inserted operations followed by the
// match when the step was split.
type PersistenceDelta struct {
	Old        PersistentTransition   `json:"old"`
	New        []PersistentTransition `json:"new"`
	Infeasible bool                   `json:"infeasible,omitempty"`
}

// Unchanged reports whether the step replayed as recorded.
func (d PersistenceDelta) Unchanged() bool {
	return !d.Infeasible && len(d.New) == 1 && d.New[0].Name == d.Old.Name
}

// Branch is one complete or partial replay of the trace.
type Branch struct {
	// State is the live state the branch ended in.
	State    string             `json:"state"`
	Snapshot map[string]string  `json:"snapshot"`
	Deltas   []PersistenceDelta `json:"deltas"`
	// Complete is false when a step was infeasible.
	Complete bool `json:"complete"`
}

// Result maps the SnapshotKey of each final state's variables to the
// branch that reached it. Branches ending in the same snapshot are
// merged, keeping the first found.
type Result map[string]*Branch

// Explorer replays traces. The zero value uses a lookahead of zero,
// so no intermediate operations are tried; use NewExplorer for defaults.
type Explorer struct {
	Options     *Options
	Lookahead   int
	MaxBranches int
	Log         *zap.SugaredLogger
}

// NewExplorer returns an explorer with the default bounds.
func NewExplorer(opts *Options) *Explorer {
	return &Explorer{Options: opts, Lookahead: DefaultLookahead, MaxBranches: DefaultMaxBranches}
}

type cursor struct {
	state  string
	deltas []PersistenceDelta
	done   bool
	failed bool
}

func (c *cursor) extend(state string, d PersistenceDelta) *cursor {
	deltas := make([]PersistenceDelta, len(c.deltas), len(c.deltas)+1)
	copy(deltas, c.deltas)
	return &cursor{state: state, deltas: append(deltas, d)}
}

// run is the state of one Replay call.
type run struct {
	e        *Explorer
	g        Graph
	opts     *Options
	trace    []PersistentTransition
	recorded map[string]bool
	machine  *statespace.MachineInfo
}

// Replay maps every step of trace onto g, starting at the root.
// Infeasible steps are reported in the result; the error is only set
// when the engine fails or ctx is done.
func (e *Explorer) Replay(ctx context.Context, g Graph, trace []PersistentTransition) (Result, error) {
	log := e.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	opts := e.Options
	if opts == nil {
		opts = DefaultOptions()
	}
	machine, err := g.MachineInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	r := &run{e: e, g: g, opts: opts, trace: trace, recorded: make(map[string]bool), machine: machine}
	for _, t := range trace {
		r.recorded[t.Name] = true
	}

	emit(log, "info", "replay.started", map[string]interface{}{"steps": len(trace)})

	active := []*cursor{{state: g.Root()}}
	var ended []*cursor
	for i := range trace {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var next []*cursor
		for _, c := range active {
			out, err := r.step(ctx, c, i)
			if err != nil {
				return nil, err
			}
			for _, n := range out {
				if n.failed {
					ended = append(ended, n)
					continue
				}
				next = append(next, n)
			}
		}
		if max := e.maxBranches(); len(next) > max {
			log.Debugw("pruning replay branches", "step", i, "kept", max, "dropped", len(next)-max)
			next = next[:max]
		}
		active = next
		if len(active) == 0 {
			break
		}
	}
	for _, c := range active {
		c.done = true
	}

	res := make(Result)
	for _, c := range append(active, ended...) {
		b, err := r.branch(ctx, c)
		if err != nil {
			return nil, err
		}
		key := SnapshotKey(b.Snapshot)
		if key == "" {
			key = "state:" + b.State
		}
		if _, dup := res[key]; !dup {
			res[key] = b
		}
	}
	emit(log, "info", "replay.completed", map[string]interface{}{
		"steps":    len(trace),
		"branches": len(res),
	})
	return res, nil
}

func (e *Explorer) maxBranches() int {
	if e.MaxBranches <= 0 {
		return DefaultMaxBranches
	}
	return e.MaxBranches
}

func (r *run) branch(ctx context.Context, c *cursor) (*Branch, error) {
	snap, err := r.g.StateValues(ctx, c.state)
	if err != nil {
		return nil, fmt.Errorf("replay: values of %s: %w", c.state, err)
	}
	return &Branch{State: c.state, Snapshot: snap, Deltas: c.deltas, Complete: c.done && !c.failed}, nil
}

// step matches trace[i] from c and returns the continuations.
func (r *run) step(ctx context.Context, c *cursor, i int) ([]*cursor, error) {
	old := r.trace[i]

	op, err := r.match(ctx, c.state, old)
	if err != nil {
		return nil, err
	}
	if op != nil {
		live, err := r.live(ctx, op)
		if err != nil {
			return nil, err
		}
		r.record(i, "match", old.Name)
		return []*cursor{c.extend(op.Dest, PersistenceDelta{Old: old.clone(), New: []PersistentTransition{live}})}, nil
	}

	out, err := r.splice(ctx, c, i)
	if err != nil {
		return nil, err
	}
	if len(out) > 0 {
		return out, nil
	}

	r.record(i, "infeasible", old.Name)
	failed := c.extend(c.state, PersistenceDelta{Old: old.clone(), Infeasible: true})
	failed.failed = true
	return []*cursor{failed}, nil
}

// match finds a transition for t from state. A missing transition is
// not an error.
func (r *run) match(ctx context.Context, state string, t PersistentTransition) (*statespace.OpInfo, error) {
	ops, err := r.g.OpFromPredicate(ctx, state, t.Name, r.opts.Predicate(t), 1)
	if errors.Is(err, statespace.ErrNoTransition) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("replay %s from %s: %w", t.Name, state, err)
	}
	return ops[0], nil
}

type path struct {
	ops []*statespace.OpInfo
	end string
}

// splice tries paths of operations that do not occur in the recording.
// From the end of a path either the step itself matches, meaning it was
// split by inserted operations, or the path reproduces the recorded
// destination and the following step matches, meaning it was renamed.
func (r *run) splice(ctx context.Context, c *cursor, i int) ([]*cursor, error) {
	old := r.trace[i]
	paths, err := r.intermediates(ctx, c.state)
	if err != nil {
		return nil, err
	}

	var out []*cursor
	for _, p := range paths {
		if len(out) >= r.e.maxBranches() {
			break
		}
		steps, err := r.liveAll(ctx, p.ops)
		if err != nil {
			return nil, err
		}

		op, err := r.match(ctx, p.end, old)
		if err != nil {
			return nil, err
		}
		if op != nil {
			live, err := r.live(ctx, op)
			if err != nil {
				return nil, err
			}
			r.record(i, "split", old.Name)
			out = append(out, c.extend(op.Dest, PersistenceDelta{Old: old.clone(), New: append(steps, live)}))
			continue
		}

		ok, err := r.renamed(ctx, p.end, i)
		if err != nil {
			return nil, err
		}
		if ok {
			r.record(i, "rename", old.Name)
			out = append(out, c.extend(p.end, PersistenceDelta{Old: old.clone(), New: steps}))
		}
	}
	return out, nil
}

// renamed reports whether end can stand in for the destination of
// trace[i]: the compared variables agree and trace[i+1], if any, matches
// from there. Without any compared variable the next step is required.
func (r *run) renamed(ctx context.Context, end string, i int) (bool, error) {
	vars := r.opts.Mapping(r.trace[i])[Variables]
	last := i+1 == len(r.trace)
	if len(vars) == 0 && last {
		return false, nil
	}
	if len(vars) > 0 {
		values, err := r.g.StateValues(ctx, end)
		if err != nil {
			return false, fmt.Errorf("replay: values of %s: %w", end, err)
		}
		for k, v := range vars {
			if values[k] != v {
				return false, nil
			}
		}
	}
	if last {
		return true, nil
	}
	op, err := r.match(ctx, end, r.trace[i+1])
	return op != nil, err
}

// intermediates returns the cycle-free paths of up to Lookahead operations
// from state whose names are not recorded, shortest first.
func (r *run) intermediates(ctx context.Context, state string) ([]path, error) {
	var out []path
	frontier := []path{{end: state}}
	for depth := 0; depth < r.e.Lookahead && len(frontier) > 0; depth++ {
		var next []path
		for _, p := range frontier {
			if !r.g.IsExplored(p.end) {
				if _, err := r.g.Explore(ctx, p.end); err != nil {
					return nil, fmt.Errorf("replay: %w", err)
				}
			}
			ops, err := r.g.Outgoing(p.end)
			if err != nil {
				return nil, err
			}
			for _, op := range ops {
				if r.recorded[op.Name] || visits(p, state, op.Dest) {
					continue
				}
				ext := make([]*statespace.OpInfo, len(p.ops), len(p.ops)+1)
				copy(ext, p.ops)
				next = append(next, path{ops: append(ext, op), end: op.Dest})
			}
		}
		out = append(out, next...)
		frontier = next
	}
	return out, nil
}

func visits(p path, start, state string) bool {
	if state == start {
		return true
	}
	for _, op := range p.ops {
		if op.Dest == state {
			return true
		}
	}
	return false
}

// live converts an edge into a transition record named after the machine's
// parameter and output identifiers.
func (r *run) live(ctx context.Context, op *statespace.OpInfo) (PersistentTransition, error) {
	dest, err := r.g.StateValues(ctx, op.Dest)
	if err != nil {
		return PersistentTransition{}, fmt.Errorf("replay: values of %s: %w", op.Dest, err)
	}
	info := r.machine.Operations[op.Name]
	return PersistentTransition{
		Name:      op.Name,
		Params:    zip(info.Params, op.Params),
		Results:   zip(info.Outputs, op.Returns),
		DestState: dest,
	}, nil
}

func (r *run) liveAll(ctx context.Context, ops []*statespace.OpInfo) ([]PersistentTransition, error) {
	out := make([]PersistentTransition, 0, len(ops)+1)
	for _, op := range ops {
		t, err := r.live(ctx, op)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func zip(names, values []string) map[string]string {
	n := len(names)
	if len(values) < n {
		n = len(values)
	}
	if n == 0 {
		return nil
	}
	m := make(map[string]string, n)
	for i := 0; i < n; i++ {
		m[names[i]] = values[i]
	}
	return m
}

func (r *run) record(i int, kind, name string) {
	metrics.ReplayDeltas.WithLabelValues(kind).Inc()
	level, event := "debug", "replay.step"
	if kind == "infeasible" {
		level, event = "warn", "replay.infeasible"
	}
	emit(r.e.Log, level, event, map[string]interface{}{
		"step":      i,
		"operation": name,
		"kind":      kind,
	})
}

func emit(log *zap.SugaredLogger, level, name string, fields map[string]interface{}) {
	if _, err := events.Emit(level, name, "", fields); err != nil && log != nil {
		log.Warnw("emit event", "event", name, "error", err)
	}
}
