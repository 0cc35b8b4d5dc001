package statespace

import "fmt"

// History is a path of operations starting at the root. It only grows.
type History struct {
	g       *Graph
	ops     []string
	current string
}

// NewHistory returns an empty history positioned at the root.
func (g *Graph) NewHistory() *History {
	return &History{g: g, current: g.rootID}
}

// Add appends an operation leaving the current state.
func (h *History) Add(opID string) error {
	op, err := h.g.Op(opID)
	if err != nil {
		return err
	}
	if op.Source != h.current {
		return fmt.Errorf("operation %s leaves %s, not the current state %s", opID, op.Source, h.current)
	}
	h.ops = append(h.ops, opID)
	h.current = op.Dest
	return nil
}

// Current returns the state the history ends in.
func (h *History) Current() string {
	return h.current
}

// Ops returns the operation ids in order.
func (h *History) Ops() []string {
	return append([]string(nil), h.ops...)
}

// Len returns the number of operations.
func (h *History) Len() int {
	return len(h.ops)
}

// Trace returns a shortest path from the root to target over the edges
// discovered so far. It never explores.
func (g *Graph) Trace(target string) (*History, error) {
	path, err := g.shortestPath(target)
	if err != nil {
		return nil, err
	}
	h := g.NewHistory()
	for _, opID := range path {
		if err := h.Add(opID); err != nil {
			return nil, err
		}
	}
	g.emit("debug", "statespace.trace", map[string]interface{}{
		"target": target,
		"length": len(path),
	})
	return h, nil
}

// shortestPath runs a breadth-first search, which is shortest by edge count.
func (g *Graph) shortestPath(target string) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.states[target]; !ok {
		return nil, &UnknownStateError{ID: target}
	}
	if target == g.rootID {
		return nil, nil
	}

	via := map[string]string{g.rootID: ""}
	queue := []string{g.rootID}
	for len(queue) > 0 {
		s := queue[0]
		queue = queue[1:]
		for _, opID := range g.outgoing[s] {
			dest := g.edges[opID].Dest
			if _, seen := via[dest]; seen {
				continue
			}
			via[dest] = opID
			if dest == target {
				return g.unwindLocked(via, target), nil
			}
			queue = append(queue, dest)
		}
	}
	return nil, fmt.Errorf("%w to %s", ErrNoPath, target)
}

func (g *Graph) unwindLocked(via map[string]string, target string) []string {
	var rev []string
	for s := target; s != g.rootID; {
		opID := via[s]
		rev = append(rev, opID)
		s = g.edges[opID].Source
	}
	path := make([]string, len(rev))
	for i, opID := range rev {
		path[len(rev)-1-i] = opID
	}
	return path
}
