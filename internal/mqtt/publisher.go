package mqtt

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/AaronLay10/StateSpace/internal/modelcheck"
	"github.com/AaronLay10/StateSpace/internal/statespace"
)

// OpLookup resolves an edge id to its operation.
type OpLookup func(id string) (*statespace.OpInfo, error)

// ProgressPublisher mirrors model-check progress and graph growth to the
// broker. Publish failures are logged and never fail the caller.
type ProgressPublisher struct {
	pub    Publisher
	topics Topics
	log    *zap.SugaredLogger
	lookup OpLookup
}

// NewProgressPublisher creates a publisher. A nil lookup publishes bare
// edge ids.
func NewProgressPublisher(pub Publisher, topics Topics, lookup OpLookup, log *zap.SugaredLogger) *ProgressPublisher {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &ProgressPublisher{pub: pub, topics: topics, lookup: lookup, log: log}
}

// Watch mirrors every new transition of g. Call the returned func to stop.
func Watch(g *statespace.Graph, pub Publisher, topics Topics, log *zap.SugaredLogger) (*ProgressPublisher, func()) {
	p := NewProgressPublisher(pub, topics, g.Op, log)
	return p, g.AddListener(p)
}

// ProgressMessage is the payload of a progress topic.
type ProgressMessage struct {
	JobID     string            `json:"job"`
	Status    modelcheck.Status `json:"status"`
	Stats     modelcheck.Stats  `json:"stats"`
	Timestamp time.Time         `json:"ts"`
}

// ResultMessage is the payload of a result topic.
type ResultMessage struct {
	modelcheck.Result
	ElapsedMs int64     `json:"elapsed_ms"`
	Timestamp time.Time `json:"ts"`
}

// TransitionMessage is the payload of the transitions topic.
type TransitionMessage struct {
	ID        string   `json:"id"`
	Name      string   `json:"name,omitempty"`
	Source    string   `json:"src,omitempty"`
	Dest      string   `json:"dest,omitempty"`
	Params    []string `json:"params,omitempty"`
	Returns   []string `json:"returns,omitempty"`
	DestIsNew bool     `json:"dest_new"`
}

func (p *ProgressPublisher) OnUpdate(jobID string, stats modelcheck.Stats, status modelcheck.Status) {
	p.send(p.topics.Progress(jobID), false, ProgressMessage{
		JobID:     jobID,
		Status:    status,
		Stats:     stats,
		Timestamp: time.Now().UTC(),
	})
}

func (p *ProgressPublisher) OnFinished(jobID string, r modelcheck.Result) {
	p.send(p.topics.Result(jobID), true, ResultMessage{
		Result:    r,
		ElapsedMs: r.Elapsed.Milliseconds(),
		Timestamp: time.Now().UTC(),
	})
}

func (p *ProgressPublisher) OnNewTransition(opID string, destinationIsNew bool) error {
	msg := TransitionMessage{ID: opID, DestIsNew: destinationIsNew}
	if p.lookup != nil {
		if op, err := p.lookup(opID); err == nil {
			msg.Name = op.Name
			msg.Source = op.Source
			msg.Dest = op.Dest
			msg.Params = op.Params
			msg.Returns = op.Returns
		}
	}
	p.send(p.topics.Transitions(), false, msg)
	return nil
}

func (p *ProgressPublisher) send(topic string, retained bool, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		p.log.Errorw("mqtt encode failed", "topic", topic, "error", err)
		return
	}
	if err := p.pub.Publish(topic, payload, retained); err != nil {
		p.log.Warnw("mqtt publish failed", "topic", topic, "error", err)
	}
}
