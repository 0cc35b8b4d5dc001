package main

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AaronLay10/StateSpace/internal/logger"
	"github.com/AaronLay10/StateSpace/internal/replay"
)

var (
	replayIgnore      []string
	replayBlacklist   []string
	replayLookahead   int
	replayMaxBranches int

	replayCmd = &cobra.Command{
		Use:   "replay <trace.json>",
		Short: "Replay a recorded trace against the loaded model",
		Long: `replay walks a persisted trace through the current model. Steps that
no longer match are searched for renamed operations or inserted
intermediate steps; every reachable outcome is printed with its deltas.`,
		Args: cobra.ExactArgs(1),
		RunE: runReplay,
	}
)

func init() {
	f := replayCmd.Flags()
	f.StringSliceVar(&replayIgnore, "ignore", nil, "categories not compared: variables, input, output")
	f.StringSliceVar(&replayBlacklist, "blacklist", nil, "identifiers never compared")
	f.IntVar(&replayLookahead, "lookahead", replay.DefaultLookahead, "intermediate operations tried per step")
	f.IntVar(&replayMaxBranches, "max-branches", replay.DefaultMaxBranches, "candidate branches kept")
}

func parseCategories(names []string) (replay.FlagSet, error) {
	var flags []replay.Flag
	for _, name := range names {
		fl, ok := replay.ParseFlag(name)
		if !ok {
			return 0, fmt.Errorf("unknown category %q", name)
		}
		flags = append(flags, fl)
	}
	return replay.Flags(flags...), nil
}

// replayOptions merges the command line with the config file. Flags given
// on the command line replace the configured global lists; per-operation
// overrides come from the config only.
func replayOptions() (*replay.Options, error) {
	ignore, blacklist := cfg.Replay.Ignore, cfg.Replay.Blacklist
	if len(replayIgnore) > 0 {
		ignore = replayIgnore
	}
	if len(replayBlacklist) > 0 {
		blacklist = replayBlacklist
	}
	global, err := parseCategories(ignore)
	if err != nil {
		return nil, err
	}

	opFlags := make(map[string]replay.FlagSet, len(cfg.Replay.Operations))
	opBlacklist := make(map[string][]string, len(cfg.Replay.Operations))
	for op, o := range cfg.Replay.Operations {
		fs, err := parseCategories(o.Ignore)
		if err != nil {
			return nil, fmt.Errorf("replay.operations.%s: %w", op, err)
		}
		opFlags[op] = fs
		opBlacklist[op] = o.Blacklist
	}
	return replay.NewOptions(global, blacklist, opFlags, opBlacklist)
}

func replayExplorer(cmd *cobra.Command) (*replay.Explorer, error) {
	opts, err := replayOptions()
	if err != nil {
		return nil, err
	}

	e := replay.NewExplorer(opts)
	e.Log = logger.For(logger.ComponentReplay)
	e.Lookahead = replayLookahead
	if n, ok := cfg.Lookahead(); ok && !cmd.Flags().Changed("lookahead") {
		e.Lookahead = n
	}
	e.MaxBranches = replayMaxBranches
	if cfg.Replay.MaxBranches > 0 && !cmd.Flags().Changed("max-branches") {
		e.MaxBranches = cfg.Replay.MaxBranches
	}
	return e, nil
}

// replayReport is the printed form of a replay result.
type replayReport struct {
	Steps    int              `json:"steps"`
	Branches []*replay.Branch `json:"branches"`
}

func runReplay(cmd *cobra.Command, args []string) error {
	trace, err := replay.LoadTrace(args[0])
	if err != nil {
		return err
	}
	explorer, err := replayExplorer(cmd)
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

	result, err := explorer.Replay(ctx, s.graph, trace)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(result))
	for k := range result {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	report := replayReport{Steps: len(trace)}
	for _, k := range keys {
		report.Branches = append(report.Branches, result[k])
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
