package mqtt

import "strings"

// DefaultPrefix is the root of every topic unless configured otherwise.
const DefaultPrefix = "statespace"

// Topics builds the topic names of one instance.
type Topics struct {
	Prefix string
}

func (t Topics) root() string {
	if t.Prefix == "" {
		return DefaultPrefix
	}
	return strings.TrimSuffix(t.Prefix, "/")
}

// Progress carries per-step coverage of a job.
func (t Topics) Progress(jobID string) string {
	return t.root() + "/modelcheck/" + jobID + "/progress"
}

// Result carries the final result of a job. It is retained.
func (t Topics) Result(jobID string) string {
	return t.root() + "/modelcheck/" + jobID + "/result"
}

// Interrupt is where clients ask a job to stop.
func (t Topics) Interrupt(jobID string) string {
	return t.root() + "/modelcheck/" + jobID + "/interrupt"
}

// InterruptFilter matches the interrupt topic of every job.
func (t Topics) InterruptFilter() string {
	return t.Interrupt("+")
}

// Transitions carries every edge added to a watched graph.
func (t Topics) Transitions() string {
	return t.root() + "/statespace/transitions"
}

// Status carries the periodic instance snapshot. It is retained.
func (t Topics) Status() string {
	return t.root() + "/status"
}

// JobFromInterrupt extracts the job id of an interrupt topic.
func (t Topics) JobFromInterrupt(topic string) (string, bool) {
	prefix := t.root() + "/modelcheck/"
	if !strings.HasPrefix(topic, prefix) || !strings.HasSuffix(topic, "/interrupt") {
		return "", false
	}
	id := strings.TrimSuffix(strings.TrimPrefix(topic, prefix), "/interrupt")
	if id == "" || strings.Contains(id, "/") || id == "+" {
		return "", false
	}
	return id, true
}
