package statespace

import (
	"context"
	"fmt"
	"sort"

	"github.com/AaronLay10/StateSpace/internal/formula"
)

type subscription struct {
	f           formula.Formula
	subscribers map[string]struct{}
}

// Eval evaluates formulas in id with one batched query. Results keep the
// order of formulas. An empty list is answered without contacting the engine.
func (g *Graph) Eval(ctx context.Context, id string, formulas []formula.Formula) ([]formula.Result, error) {
	if !g.HasState(id) {
		return nil, &UnknownStateError{ID: id}
	}
	if len(formulas) == 0 {
		return []formula.Result{}, nil
	}

	cmd := &EvaluateFormulasCommand{State: id, Formulas: formulas, interner: g.interner}
	if err := g.exec.Execute(ctx, cmd); err != nil {
		return nil, fmt.Errorf("evaluate in %s: %w", id, err)
	}
	return cmd.Results, nil
}

// AddUserFormula registers f without subscribers. It is evaluated only
// on demand until someone subscribes.
func (g *Graph) AddUserFormula(f formula.Formula) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subscriptionLocked(f)
}

// Subscribe registers subscriber's interest in f. It reports whether the
// subscription is new.
func (g *Graph) Subscribe(subscriber string, f formula.Formula) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.subscriptionLocked(f)
	if _, ok := s.subscribers[subscriber]; ok {
		return false
	}
	s.subscribers[subscriber] = struct{}{}
	return true
}

// Unsubscribe removes subscriber's interest in f. The formula stays
// registered with its remaining subscribers.
func (g *Graph) Unsubscribe(subscriber string, f formula.Formula) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if s, ok := g.subscriptions[f.Code()]; ok {
		delete(s.subscribers, subscriber)
	}
}

// IsSubscribed reports whether f has at least one subscriber.
func (g *Graph) IsSubscribed(f formula.Formula) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s, ok := g.subscriptions[f.Code()]
	return ok && len(s.subscribers) > 0
}

func (g *Graph) subscriptionLocked(f formula.Formula) *subscription {
	s, ok := g.subscriptions[f.Code()]
	if !ok {
		s = &subscription{f: f, subscribers: make(map[string]struct{})}
		g.subscriptions[f.Code()] = s
	}
	return s
}

// subscribedFormulas returns the formulas with subscribers, sorted by code.
func (g *Graph) subscribedFormulas() []formula.Formula {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []formula.Formula
	for _, s := range g.subscriptions {
		if len(s.subscribers) > 0 {
			out = append(out, s.f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code() < out[j].Code() })
	return out
}

// EvaluateSubscribed is the state-change step: it evaluates every formula
// that has subscribers in id and caches the values. Formulas without
// subscribers are never sent.
func (g *Graph) EvaluateSubscribed(ctx context.Context, id string) (map[string]formula.Result, error) {
	formulas := g.subscribedFormulas()
	if len(formulas) == 0 {
		if !g.HasState(id) {
			return nil, &UnknownStateError{ID: id}
		}
		return g.Values(id), nil
	}

	results, err := g.Eval(ctx, id, formulas)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	cache := g.values[id]
	if cache == nil {
		cache = make(map[string]formula.Result, len(formulas))
		g.values[id] = cache
	}
	for i, f := range formulas {
		cache[f.Code()] = results[i]
	}
	g.mu.Unlock()

	g.emit("debug", "statespace.evaluated", map[string]interface{}{
		"state":    id,
		"formulas": len(formulas),
	})
	return g.Values(id), nil
}

// Values returns the cached subscribed values of id, keyed by formula code.
func (g *Graph) Values(id string) map[string]formula.Result {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[string]formula.Result, len(g.values[id]))
	for code, r := range g.values[id] {
		out[code] = r
	}
	return out
}
