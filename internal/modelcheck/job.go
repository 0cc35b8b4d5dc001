package modelcheck

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"go.uber.org/zap"
)

// Job lifecycle states.
const (
	JobCreated     = "created"
	JobRunning     = "running"
	JobFinished    = "finished"
	JobInterrupted = "interrupted"
	JobFailed      = "failed"
)

const (
	eventStart     = "start"
	eventFinish    = "finish"
	eventInterrupt = "interrupt"
	eventFail      = "fail"
)

var (
	// ErrUnknownJob is returned for job ids the manager does not know.
	ErrUnknownJob = errors.New("modelcheck: unknown job")
	// ErrBusy is returned when a job is already running on the space.
	// Jobs on one space share its engine connection and coverage.
	ErrBusy = errors.New("modelcheck: state space is busy")
)

// Job is a checker running on its own goroutine.
type Job struct {
	id      string
	checker *Checker
	created time.Time
	log     *zap.SugaredLogger

	mu      sync.Mutex
	fsm     *fsm.FSM
	result  *Result
	done    chan struct{}
	release func()
}

// JobInfo is a snapshot of a job for listings.
type JobInfo struct {
	ID      string    `json:"id"`
	State   string    `json:"state"`
	Created time.Time `json:"created"`
	Result  *Result   `json:"result,omitempty"`
}

func newJob(id string, c *Checker, log *zap.SugaredLogger) *Job {
	j := &Job{id: id, checker: c, created: time.Now().UTC(), log: log, done: make(chan struct{})}
	j.fsm = fsm.NewFSM(
		JobCreated,
		fsm.Events{
			{Name: eventStart, Src: []string{JobCreated}, Dst: JobRunning},
			{Name: eventFinish, Src: []string{JobRunning}, Dst: JobFinished},
			{Name: eventInterrupt, Src: []string{JobRunning}, Dst: JobInterrupted},
			{Name: eventFail, Src: []string{JobRunning}, Dst: JobFailed},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				log.Debugw("job state", "job", id, "from", e.Src, "to", e.Dst)
			},
		},
	)
	return j
}

// ID returns the job id.
func (j *Job) ID() string { return j.id }

// State returns the lifecycle state.
func (j *Job) State() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.fsm.Current()
}

// Interrupt asks the job to stop. It is a no-op once the job has ended.
func (j *Job) Interrupt() {
	j.checker.Interrupt()
}

// Done is closed when the job has ended.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job ends or ctx is done.
func (j *Job) Wait(ctx context.Context) (Result, error) {
	select {
	case <-j.done:
		r, _ := j.Result()
		return r, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Result returns the final result once the job has ended.
func (j *Job) Result() (Result, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.result == nil {
		return Result{}, false
	}
	return *j.result, true
}

// Info returns a snapshot of the job.
func (j *Job) Info() JobInfo {
	j.mu.Lock()
	defer j.mu.Unlock()
	info := JobInfo{ID: j.id, State: j.fsm.Current(), Created: j.created}
	if j.result != nil {
		r := *j.result
		info.Result = &r
	}
	return info
}

func (j *Job) transition(ctx context.Context, event string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.fsm.Event(ctx, event); err != nil {
		j.log.Warnw("job transition", "job", j.id, "event", event, "error", err)
	}
}

func (j *Job) run(ctx context.Context) {
	defer close(j.done)
	j.transition(ctx, eventStart)

	r := j.checker.Run(ctx)

	event := eventFinish
	switch r.Status {
	case StatusInterrupted:
		event = eventInterrupt
	case StatusError:
		event = eventFail
	}
	j.mu.Lock()
	j.result = &r
	j.mu.Unlock()
	j.transition(context.WithoutCancel(ctx), event)
	if j.release != nil {
		j.release()
	}
}

// Manager keeps track of model-check jobs by id. At most one job runs
// on a space at a time.
type Manager struct {
	log       *zap.SugaredLogger
	listeners []Listener

	mu      sync.RWMutex
	jobs    map[string]*Job
	running map[Space]*Job
	engine  EngineInterrupter
}

// NewManager returns a manager reporting every job to listeners.
func NewManager(log *zap.SugaredLogger, listeners ...Listener) *Manager {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Manager{
		log:       log,
		listeners: listeners,
		jobs:      make(map[string]*Job),
		running:   make(map[Space]*Job),
	}
}

// SetEngine makes every job started afterwards deliver interrupts to e,
// the connection its spaces run on.
func (m *Manager) SetEngine(e EngineInterrupter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.engine = e
}

// Start creates a job checking space and runs it in the background.
// The job stops when ctx is cancelled. Space must be comparable, as
// pointer types are. Starting while another job runs on the same space
// fails with ErrBusy.
func (m *Manager) Start(ctx context.Context, space Space, opts Options, options ...CheckerOption) (*Job, error) {
	if space == nil {
		return nil, fmt.Errorf("modelcheck: nil state space")
	}
	id := uuid.NewString()

	m.mu.Lock()
	defer m.mu.Unlock()
	if other, busy := m.running[space]; busy {
		return nil, fmt.Errorf("%w: job %s is running", ErrBusy, other.id)
	}

	base := []CheckerOption{WithJobID(id), WithLogger(m.log)}
	if m.engine != nil {
		base = append(base, WithEngine(m.engine))
	}
	c := NewChecker(space, opts, append(base, options...)...)
	if len(m.listeners) > 0 {
		ls := append(fanout(nil), m.listeners...)
		if c.listener != nil {
			ls = append(ls, c.listener)
		}
		c.listener = ls
	}
	j := newJob(id, c, m.log)
	j.release = func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.running[space] == j {
			delete(m.running, space)
		}
	}
	m.jobs[id] = j
	m.running[space] = j

	m.log.Infow("model check started", "job", id)
	go j.run(ctx)
	return j, nil
}

// Get returns the job with the given id.
func (m *Manager) Get(id string) (*Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	return j, ok
}

// Interrupt interrupts the job with the given id.
func (m *Manager) Interrupt(id string) error {
	j, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}
	j.Interrupt()
	return nil
}

// List returns a snapshot of every job, oldest first.
func (m *Manager) List() []JobInfo {
	m.mu.RLock()
	jobs := make([]*Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		jobs = append(jobs, j)
	}
	m.mu.RUnlock()

	out := make([]JobInfo, len(jobs))
	for i, j := range jobs {
		out[i] = j.Info()
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Created.Equal(out[b].Created) {
			return out[a].ID < out[b].ID
		}
		return out[a].Created.Before(out[b].Created)
	})
	return out
}

// fanout forwards to several listeners in order.
type fanout []Listener

func (f fanout) OnUpdate(jobID string, stats Stats, status Status) {
	for _, l := range f {
		l.OnUpdate(jobID, stats, status)
	}
}

func (f fanout) OnFinished(jobID string, result Result) {
	for _, l := range f {
		l.OnFinished(jobID, result)
	}
}
