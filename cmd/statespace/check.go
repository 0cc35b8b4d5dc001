package main

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/AaronLay10/StateSpace/internal/formula"
	"github.com/AaronLay10/StateSpace/internal/logger"
	"github.com/AaronLay10/StateSpace/internal/modelcheck"
)

var (
	checkStateLimit   int
	checkTimeLimit    time.Duration
	checkGoal         string
	checkNoDeadlocks  bool
	checkNoInvariants bool
	checkAssertions   bool
	checkRecheck      bool

	checkCmd = &cobra.Command{
		Use:   "check",
		Short: "Run a bounded model check and print the result",
		Long: `check explores the state space of the loaded model until every state is
processed, a finding is reported or a limit is hit. Ctrl-C interrupts the
running step; the coverage reached so far is still printed.`,
		Args: cobra.NoArgs,
		RunE: runCheck,
	}
)

func init() {
	f := checkCmd.Flags()
	f.IntVar(&checkStateLimit, "state-limit", 0, "stop after this many new states (0 = unlimited)")
	f.DurationVar(&checkTimeLimit, "time-limit", 0, "stop after this long (0 = unlimited)")
	f.StringVar(&checkGoal, "goal", "", "predicate to search for")
	f.BoolVar(&checkNoDeadlocks, "no-deadlocks", false, "do not report deadlocks")
	f.BoolVar(&checkNoInvariants, "no-invariants", false, "do not report invariant violations")
	f.BoolVar(&checkAssertions, "assertions", false, "report assertion violations")
	f.BoolVar(&checkRecheck, "recheck", false, "re-inspect states processed before this run")
}

func checkOptions() (modelcheck.Options, error) {
	opts := modelcheck.DefaultOptions()
	opts.StateLimit = checkStateLimit
	opts.TimeLimit = checkTimeLimit
	opts.FindDeadlocks = !checkNoDeadlocks
	opts.FindInvariantViolations = !checkNoInvariants
	opts.FindAssertionViolations = checkAssertions
	opts.RecheckExisting = checkRecheck
	if d := cfg.StepTimeout(); d > 0 {
		opts.StepTimeout = d
	}
	if checkGoal != "" {
		goal, err := formula.NewPredicate(checkGoal)
		if err != nil {
			return opts, err
		}
		opts.CustomGoal = goal
	}
	return opts, nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	opts, err := checkOptions()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := openSession(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	log := logger.For(logger.ComponentModelCheck)
	c := modelcheck.NewChecker(s.graph, opts,
		modelcheck.WithLogger(log),
		modelcheck.WithEngine(s.channel),
		modelcheck.WithListener(progressLogger{log}),
	)
	r := c.Run(ctx)

	out, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	if r.Status == modelcheck.StatusError {
		return fmt.Errorf("model check failed: %s", r.Message)
	}
	return nil
}

// progressLogger reports coverage on the operational log.
type progressLogger struct {
	log *zap.SugaredLogger
}

func (p progressLogger) OnUpdate(jobID string, stats modelcheck.Stats, status modelcheck.Status) {
	p.log.Infow("progress", "job", jobID, "found", stats.StatesFound, "processed", stats.StatesProcessed, "left", stats.StatesLeft)
}

func (p progressLogger) OnFinished(jobID string, r modelcheck.Result) {
	p.log.Infow("finished", "job", jobID, "result", r.String(), "steps", r.Steps, "elapsed", r.Elapsed)
}
