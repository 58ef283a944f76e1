// Package main implements ml, the memlog CLI. One file per command group,
// following the teacher's cmd/bd layout: one cobra.Command var per command,
// a shared root carrying persistent flags, and a thin JSON/human output
// switch per command rather than a templating layer.
// Grounded on bd/cmd/bd/*.go's per-command-file convention and its
// FatalErrorRespectJSON-style error exit.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/memlogd/memlog/internal/config"
	"github.com/memlogd/memlog/internal/engine"
	"github.com/memlogd/memlog/internal/logging"
	"github.com/memlogd/memlog/internal/ops"
)

var (
	flagDB      string
	flagLogFile string
	flagJSON    bool

	cfg *config.Config
	eng *engine.Engine
)

var rootCmd = &cobra.Command{
	Use:           "ml",
	Short:         "memlog: an episodic memory store for agent episodes",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "init" {
			return nil
		}
		loaded, err := config.Load(config.Config{DBPath: flagDB, LogFile: flagLogFile})
		if err != nil {
			return err
		}
		cfg = loaded

		overrides, err := config.LoadGateOverrides(cfg.ConfigDir)
		if err != nil {
			return err
		}

		e, err := engine.Open(cmd.Context(), cfg.DBPath, gateThresholdsFromOverrides(overrides))
		if err != nil {
			return err
		}
		eng = e
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if eng == nil {
			return nil
		}
		return eng.Close()
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "log", Title: "Event log:"},
		&cobra.Group{ID: "consolidation", Title: "Consolidation:"},
		&cobra.Group{ID: "retrieval", Title: "Retrieval:"},
		&cobra.Group{ID: "disputes", Title: "Disputes and outcomes:"},
		&cobra.Group{ID: "ops", Title: "Operations:"},
	)

	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "path to the memlog SQLite database (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagLogFile, "log-file", "", "path to a rotating log file (default: stderr)")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", true, "emit machine-readable JSON instead of a human summary")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		exitWithError(err)
	}
}

// exitWithError renders err as {"error": "..."} (or a plain line in human
// mode) and exits with the code engine.ExitCode assigns its kind.
func exitWithError(err error) {
	if flagJSON {
		_ = json.NewEncoder(os.Stderr).Encode(map[string]string{"error": err.Error()})
	} else {
		fmt.Fprintln(os.Stderr, "error:", err)
	}
	os.Exit(engine.ExitCode(err))
}

// emit writes v as pretty JSON on the success path (spec.md §6: JSON on
// success is the default, unconditionally on stdout).
func emit(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// humanRequested reports whether the caller asked for (or a TTY implies)
// the rendered human view instead of raw JSON.
func humanRequested() bool {
	return !flagJSON && isatty.IsTerminal(os.Stdout.Fd())
}

func commandLogger() *logging.Options {
	return &logging.Options{LogFile: flagLogFile, JSON: true}
}

// gateThresholdsFromOverrides adapts the on-disk gates.toml shape to the
// ops package's threshold struct; a nil/zero-value overrides file yields a
// nil *ops.GateThresholds so every field falls back to the policy defaults.
func gateThresholdsFromOverrides(o *config.GateOverrides) *ops.GateThresholds {
	if o == nil || *o == (config.GateOverrides{}) {
		return nil
	}
	return &ops.GateThresholds{
		MinEpisodesWithOutcomes: o.MinEpisodesWithOutcomes,
		MinPrecisionProxy:       o.MinPrecisionProxy,
		MaxCorrectionRate:       o.MaxCorrectionRate,
		MinOutcomesPerHalf:      o.MinOutcomesPerHalf,
		MaxSuccessRateDrift:     o.MaxSuccessRateDrift,
		MinEventsLast7Days:      o.MinEventsLast7Days,
	}
}
