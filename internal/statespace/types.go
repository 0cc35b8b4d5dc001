package statespace

// RootID is the identifier of the root vertex unless WithRootID overrides it.
const RootID = "root"

// OpInfo is one edge of the graph: an operation leading from Source to Dest.
type OpInfo struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Source  string   `json:"src"`
	Dest    string   `json:"dest"`
	Params  []string `json:"params,omitempty"`
	Returns []string `json:"returns,omitempty"`
}

// StateError is a diagnostic the engine attached to a state.
type StateError struct {
	Event            string `json:"event"`
	ShortDescription string `json:"short"`
	LongDescription  string `json:"long,omitempty"`
}

// StateInfo is what the graph knows about one vertex.
type StateInfo struct {
	ID          string       `json:"id"`
	Explored    bool         `json:"explored"`
	InvariantOK bool         `json:"invariantOk"`
	TimedOut    bool         `json:"timedOut"`
	Errors      []StateError `json:"errors,omitempty"`
}

func (s *StateInfo) clone() *StateInfo {
	c := *s
	c.Errors = append([]StateError(nil), s.Errors...)
	return &c
}

// OperationInfo describes an operation of the loaded machine.
type OperationInfo struct {
	Name    string   `json:"name"`
	Params  []string `json:"params,omitempty"`
	Outputs []string `json:"outputs,omitempty"`
}

// MachineInfo lists the identifiers of the loaded machine.
type MachineInfo struct {
	Variables  []string                 `json:"variables"`
	Constants  []string                 `json:"constants"`
	Sets       []string                 `json:"sets"`
	Operations map[string]OperationInfo `json:"operations"`
}

// Counts summarizes the size of a graph.
type Counts struct {
	States      int `json:"states"`
	Transitions int `json:"transitions"`
	Explored    int `json:"explored"`
}
