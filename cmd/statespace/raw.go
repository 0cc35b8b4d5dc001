package main

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AaronLay10/StateSpace/internal/engine"
	"github.com/AaronLay10/StateSpace/internal/modelcheck"
	"github.com/AaronLay10/StateSpace/internal/statespace"
)

var rawCmd = &cobra.Command{
	Use:   "raw <command> [args...]",
	Short: "Run one registered engine command and print what it decoded",
	Long: `raw builds a command by name, sends it to the engine and prints the
decoded result. "query" sends its arguments as literal query text.
Run "raw list" for the registered names.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRaw,
}

func init() {
	rootCmd.AddCommand(rawCmd)
}

// commandRegistry holds every command the CLI can build by name.
func commandRegistry() (*engine.Registry, error) {
	r := engine.NewRegistry()
	if err := statespace.RegisterCommands(r); err != nil {
		return nil, err
	}
	if err := modelcheck.RegisterCommands(r); err != nil {
		return nil, err
	}
	return r, nil
}

func runRaw(cmd *cobra.Command, args []string) error {
	reg, err := commandRegistry()
	if err != nil {
		return err
	}
	if args[0] == "list" {
		for _, name := range reg.Names() {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	}
	c, err := reg.New(args[0], args[1:])
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

	if err := s.graph.Execute(ctx, c); err != nil {
		return err
	}
	return printCommand(cmd, c)
}

func printCommand(cmd *cobra.Command, c engine.Command) error {
	if q, ok := c.(*engine.Query); ok {
		names := make([]string, 0, len(q.Result))
		for name := range q.Result {
			names = append(names, name)
		}
		sort.Strings(names)
		if len(names) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "yes")
		}
		for _, name := range names {
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", name, q.Result[name])
		}
		return nil
	}
	out, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
