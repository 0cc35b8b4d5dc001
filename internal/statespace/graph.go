// Package statespace maintains the lazily explored graph of states and
// operations of one loaded model. Vertices and edges are discovered by
// asking the engine; the graph only grows.
package statespace

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/AaronLay10/StateSpace/internal/engine"
	"github.com/AaronLay10/StateSpace/internal/events"
	"github.com/AaronLay10/StateSpace/internal/formula"
	"github.com/AaronLay10/StateSpace/internal/metrics"
)

// TransitionListener is notified once for every edge added to the graph.
type TransitionListener interface {
	OnNewTransition(opID string, destinationIsNew bool) error
}

// TransitionListenerFunc adapts a function to TransitionListener.
type TransitionListenerFunc func(opID string, destinationIsNew bool) error

func (f TransitionListenerFunc) OnNewTransition(opID string, destinationIsNew bool) error {
	return f(opID, destinationIsNew)
}

// Graph is a directed multigraph of states and operations.
//
// All maps are guarded by mu. Engine commands run without holding it;
// listeners are called after the mutation, on the caller's goroutine.
type Graph struct {
	exec   engine.Executor
	rootID string
	log    *zap.SugaredLogger

	mu        sync.RWMutex
	states    map[string]*StateInfo
	edges     map[string]*OpInfo
	outgoing  map[string][]string
	incoming  map[string][]string
	explored  map[string]struct{}
	listeners []listenerEntry
	nextID    int

	subscriptions map[string]*subscription
	values        map[string]map[string]formula.Result
	stateValues   map[string]map[string]string
	machine       *MachineInfo

	interner *formula.Interner
}

// Option configures a Graph.
type Option func(*config)

type config struct {
	rootID     string
	internSize int
	log        *zap.SugaredLogger
	listeners  []TransitionListener
}

// WithRootID names the root vertex. The default is RootID.
func WithRootID(id string) Option {
	return func(c *config) { c.rootID = id }
}

// WithInternSize bounds the evaluation result memo.
func WithInternSize(n int) Option {
	return func(c *config) { c.internSize = n }
}

// WithLogger sets the operational logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(c *config) { c.log = l }
}

// WithListener registers a transition listener at construction.
func WithListener(l TransitionListener) Option {
	return func(c *config) { c.listeners = append(c.listeners, l) }
}

// New creates a graph holding only the root vertex.
func New(exec engine.Executor, opts ...Option) *Graph {
	cfg := config{rootID: RootID}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.rootID == "" {
		cfg.rootID = RootID
	}
	if cfg.log == nil {
		cfg.log = zap.NewNop().Sugar()
	}

	g := &Graph{
		exec:          exec,
		rootID:        cfg.rootID,
		log:           cfg.log,
		states:        make(map[string]*StateInfo),
		edges:         make(map[string]*OpInfo),
		outgoing:      make(map[string][]string),
		incoming:      make(map[string][]string),
		explored:      make(map[string]struct{}),
		subscriptions: make(map[string]*subscription),
		values:        make(map[string]map[string]formula.Result),
		stateValues:   make(map[string]map[string]string),
		interner:      formula.NewInterner(cfg.internSize),
	}
	for _, l := range cfg.listeners {
		g.AddListener(l)
	}
	g.states[g.rootID] = &StateInfo{ID: g.rootID, InvariantOK: true}
	metrics.StatesDiscovered.Inc()
	g.emit("info", "statespace.created", map[string]interface{}{"root": g.rootID})
	return g
}

// Root returns the id of the root vertex.
func (g *Graph) Root() string {
	return g.rootID
}

// Execute runs commands on the graph's engine. It lets collaborators such
// as the model checker share the graph's connection.
func (g *Graph) Execute(ctx context.Context, cmds ...engine.Command) error {
	return g.exec.Execute(ctx, cmds...)
}

type listenerEntry struct {
	id int
	l  TransitionListener
}

// AddListener registers l and returns a function that unregisters it.
// Listeners are called in registration order.
func (g *Graph) AddListener(l TransitionListener) (remove func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	id := g.nextID
	g.listeners = append(g.listeners, listenerEntry{id: id, l: l})
	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		for i, e := range g.listeners {
			if e.id == id {
				g.listeners = append(g.listeners[:i:i], g.listeners[i+1:]...)
				return
			}
		}
	}
}

func (g *Graph) listenersLocked() []TransitionListener {
	out := make([]TransitionListener, len(g.listeners))
	for i, e := range g.listeners {
		out[i] = e.l
	}
	return out
}

// HasState reports whether id is a vertex.
func (g *Graph) HasState(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.states[id]
	return ok
}

// State returns a copy of what is known about id.
func (g *Graph) State(id string) (*StateInfo, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s, ok := g.states[id]
	if !ok {
		return nil, &UnknownStateError{ID: id}
	}
	return s.clone(), nil
}

// IsExplored reports whether the outgoing operations of id were computed.
func (g *Graph) IsExplored(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.explored[id]
	return ok
}

// Op returns the edge with the given id.
func (g *Graph) Op(id string) (*OpInfo, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	op, ok := g.edges[id]
	if !ok {
		return nil, &UnknownOperationError{ID: id}
	}
	return op, nil
}

// Outgoing returns the known edges leaving id in discovery order.
func (g *Graph) Outgoing(id string) ([]*OpInfo, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, ok := g.states[id]; !ok {
		return nil, &UnknownStateError{ID: id}
	}
	return g.edgesLocked(g.outgoing[id]), nil
}

// Incoming returns the known edges entering id in discovery order.
func (g *Graph) Incoming(id string) ([]*OpInfo, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, ok := g.states[id]; !ok {
		return nil, &UnknownStateError{ID: id}
	}
	return g.edgesLocked(g.incoming[id]), nil
}

func (g *Graph) edgesLocked(ids []string) []*OpInfo {
	out := make([]*OpInfo, len(ids))
	for i, id := range ids {
		out[i] = g.edges[id]
	}
	return out
}

// Counts returns the current size of the graph.
func (g *Graph) Counts() Counts {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return Counts{States: len(g.states), Transitions: len(g.edges), Explored: len(g.explored)}
}

// Explore asks the engine for every enabled operation of id, adds the
// edges that are new, and marks id explored. Re-exploring refreshes the
// state's diagnostics and never duplicates edges.
func (g *Graph) Explore(ctx context.Context, id string) (*StateInfo, error) {
	if !g.HasState(id) {
		return nil, &UnknownStateError{ID: id}
	}

	cmd := &ExploreCommand{State: id}
	if err := g.exec.Execute(ctx, cmd); err != nil {
		return nil, fmt.Errorf("explore %s: %w", id, err)
	}

	g.mu.Lock()
	added := g.addOpsLocked(cmd.Operations)
	s := g.states[id]
	s.InvariantOK = cmd.InvariantOK
	s.TimedOut = cmd.TimedOut
	s.Errors = cmd.Errors
	_, wasExplored := g.explored[id]
	g.explored[id] = struct{}{}
	s.Explored = true
	info := s.clone()
	listeners := g.listenersLocked()
	g.mu.Unlock()

	if !wasExplored {
		metrics.StatesExplored.Inc()
	}
	g.emit("info", "statespace.explored", map[string]interface{}{
		"state":       id,
		"operations":  len(cmd.Operations),
		"new":         len(added),
		"invariantOk": info.InvariantOK,
	})
	if err := g.notify(listeners, added); err != nil {
		return info, err
	}
	return info, nil
}

// OpFromPredicate asks the engine for up to max transitions named name
// from id that satisfy predicate. Found edges are added like in Explore,
// but id is not marked explored. An unparsable predicate fails before the
// engine is contacted.
func (g *Graph) OpFromPredicate(ctx context.Context, id, name, predicate string, max int) ([]*OpInfo, error) {
	if !g.HasState(id) {
		return nil, &UnknownStateError{ID: id}
	}
	pred, err := formula.NewPredicate(predicate)
	if err != nil {
		return nil, err
	}
	if max < 1 {
		max = 1
	}

	cmd := &GetOperationByPredicateCommand{State: id, Name: name, Predicate: pred, Max: max}
	if err := g.exec.Execute(ctx, cmd); err != nil {
		if errors.Is(err, engine.ErrNoSolution) {
			return nil, &TransitionNotFoundError{State: id, Name: name, Predicate: pred.Code()}
		}
		return nil, fmt.Errorf("find %s from %s: %w", name, id, err)
	}
	if len(cmd.Operations) == 0 {
		return nil, &TransitionNotFoundError{State: id, Name: name, Predicate: pred.Code(), Reasons: cmd.Errors}
	}

	g.mu.Lock()
	added := g.addOpsLocked(cmd.Operations)
	ops := make([]*OpInfo, len(cmd.Operations))
	for i, op := range cmd.Operations {
		ops[i] = g.edges[op.ID]
	}
	listeners := g.listenersLocked()
	g.mu.Unlock()

	if err := g.notify(listeners, added); err != nil {
		return ops, err
	}
	return ops, nil
}

// IsDeadlock explores id if needed and reports whether no operation leaves it.
func (g *Graph) IsDeadlock(ctx context.Context, id string) (bool, error) {
	if !g.IsExplored(id) {
		if _, err := g.Explore(ctx, id); err != nil {
			return false, err
		}
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.outgoing[id]) == 0, nil
}

// StateValues returns the variable values of id. Values of a state never
// change, so they are read from the engine once.
func (g *Graph) StateValues(ctx context.Context, id string) (map[string]string, error) {
	g.mu.RLock()
	_, known := g.states[id]
	cached, ok := g.stateValues[id]
	g.mu.RUnlock()
	if !known {
		return nil, &UnknownStateError{ID: id}
	}
	if ok {
		return copyStrings(cached), nil
	}

	cmd := &GetStateValuesCommand{State: id}
	if err := g.exec.Execute(ctx, cmd); err != nil {
		return nil, fmt.Errorf("values of %s: %w", id, err)
	}
	g.mu.Lock()
	g.stateValues[id] = cmd.Values
	g.mu.Unlock()
	return copyStrings(cmd.Values), nil
}

// StartTransaction opens the engine's transaction bracket.
func (g *Graph) StartTransaction(ctx context.Context) error {
	return g.exec.Execute(ctx, StartTransactionCommand{})
}

// EndTransaction closes the engine's transaction bracket.
func (g *Graph) EndTransaction(ctx context.Context) error {
	return g.exec.Execute(ctx, EndTransactionCommand{})
}

// MachineInfo returns the identifiers of the loaded machine, read once.
func (g *Graph) MachineInfo(ctx context.Context) (*MachineInfo, error) {
	g.mu.RLock()
	m := g.machine
	g.mu.RUnlock()
	if m != nil {
		return m, nil
	}

	cmd := &MachineInfoCommand{}
	if err := g.exec.Execute(ctx, cmd); err != nil {
		return nil, fmt.Errorf("machine info: %w", err)
	}
	g.mu.Lock()
	if g.machine == nil {
		g.machine = &cmd.Info
	}
	m = g.machine
	g.mu.Unlock()
	return m, nil
}

type newEdge struct {
	opID    string
	destNew bool
}

// addOpsLocked adds the edges not yet present and returns them in order.
func (g *Graph) addOpsLocked(ops []*OpInfo) []newEdge {
	var added []newEdge
	for _, op := range ops {
		if _, exists := g.edges[op.ID]; exists {
			continue
		}
		if _, ok := g.states[op.Source]; !ok {
			g.states[op.Source] = &StateInfo{ID: op.Source, InvariantOK: true}
			metrics.StatesDiscovered.Inc()
		}
		_, destKnown := g.states[op.Dest]
		if !destKnown {
			g.states[op.Dest] = &StateInfo{ID: op.Dest, InvariantOK: true}
			metrics.StatesDiscovered.Inc()
		}
		g.edges[op.ID] = op
		g.outgoing[op.Source] = append(g.outgoing[op.Source], op.ID)
		g.incoming[op.Dest] = append(g.incoming[op.Dest], op.ID)
		metrics.TransitionsAdded.Inc()
		added = append(added, newEdge{opID: op.ID, destNew: !destKnown})
	}
	return added
}

// notify calls every listener for every added edge. The first listener
// error stops notification and is returned.
func (g *Graph) notify(listeners []TransitionListener, added []newEdge) error {
	for _, e := range added {
		g.emit("debug", "statespace.transition", map[string]interface{}{
			"op":      e.opID,
			"destNew": e.destNew,
		})
		for _, l := range listeners {
			if err := l.OnNewTransition(e.opID, e.destNew); err != nil {
				return fmt.Errorf("transition listener for %s: %w", e.opID, err)
			}
		}
	}
	return nil
}

func (g *Graph) emit(level, name string, fields map[string]interface{}) {
	if _, err := events.Emit(level, name, "", fields); err != nil {
		g.log.Warnw("emit event", "event", name, "error", err)
	}
}

func copyStrings(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
