package modelcheck

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/AaronLay10/StateSpace/internal/storage/postgres"
)

// RunStore persists finished runs. *postgres.Client implements it.
type RunStore interface {
	AppendCheckRun(ctx context.Context, r postgres.CheckRunRow) error
}

// RunRecorder is a Listener storing every finished run.
type RunRecorder struct {
	store   RunStore
	log     *zap.SugaredLogger
	timeout time.Duration
}

// NewRunRecorder returns a recorder writing to store.
func NewRunRecorder(store RunStore, log *zap.SugaredLogger) *RunRecorder {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &RunRecorder{store: store, log: log, timeout: 5 * time.Second}
}

func (r *RunRecorder) OnUpdate(string, Stats, Status) {}

func (r *RunRecorder) OnFinished(jobID string, res Result) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	row := postgres.CheckRunRow{
		JobID:            jobID,
		Status:           string(res.Status),
		Finding:          string(res.Finding),
		StateID:          res.StateID,
		Message:          res.Message,
		StatesFound:      res.Stats.StatesFound,
		StatesProcessed:  res.Stats.StatesProcessed,
		TransitionsFound: res.Stats.TransitionsFound,
		Steps:            res.Steps,
		ElapsedMillis:    res.Elapsed.Milliseconds(),
		FinishedAt:       time.Now().UTC(),
	}
	if err := r.store.AppendCheckRun(ctx, row); err != nil {
		r.log.Errorw("store check run", "job", jobID, "error", err)
	}
}
