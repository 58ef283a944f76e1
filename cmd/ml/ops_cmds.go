package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "ops",
	Short:   "Summarize recent event volume and rollout-gate readiness",
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")
		report, err := eng.Status(cmd.Context(), days)
		if err != nil {
			return err
		}
		if humanRequested() {
			if err := renderGateReport(report.Gates); err != nil {
				return err
			}
			return renderHealthReport(report.Health)
		}
		return emit(report)
	},
}

var recoverCmd = &cobra.Command{
	Use:     "recover",
	GroupID: "ops",
	Short:   "Repair partial-write artifacts left by a crashed ingest/consolidate",
	RunE: func(cmd *cobra.Command, args []string) error {
		noConsolidation, _ := cmd.Flags().GetBool("no-consolidation")
		res, err := eng.Recover(cmd.Context(), !noConsolidation)
		if err != nil {
			return err
		}
		return emit(res)
	},
}

var verifyIdempotencyCmd = &cobra.Command{
	Use:     "verify-idempotency",
	GroupID: "ops",
	Short:   "Count idempotency_key collisions across the event log",
	RunE: func(cmd *cobra.Command, args []string) error {
		sample, _ := cmd.Flags().GetInt("sample-events")
		count, err := eng.VerifyIdempotency(cmd.Context())
		if err != nil {
			return err
		}
		result := map[string]int{"duplicate_idempotency_keys": count}
		if sample > 0 {
			result["sample_events"] = sample
		}
		return emit(result)
	},
}

var fullRebuildCmd = &cobra.Command{
	Use:     "full-rebuild",
	GroupID: "ops",
	Short:   "Truncate every projection and replay the event log from scratch",
	RunE: func(cmd *cobra.Command, args []string) error {
		verifyStability, _ := cmd.Flags().GetBool("verify-stability")
		res, err := eng.FullRebuild(cmd.Context(), verifyStability)
		if err != nil {
			return err
		}
		return emit(res)
	},
}

var replayCmd = &cobra.Command{
	Use:     "replay",
	GroupID: "ops",
	Short:   "Replay the event log through the reducer from scratch",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := eng.Replay(cmd.Context())
		if err != nil {
			return err
		}
		return emit(res)
	},
}

var migrateEmbeddingsCmd = &cobra.Command{
	Use:     "migrate-embeddings",
	GroupID: "ops",
	Short:   "Recompute card embeddings under a new model tag",
	RunE: func(cmd *cobra.Command, args []string) error {
		toModel, _ := cmd.Flags().GetString("to-model")
		fromModel, _ := cmd.Flags().GetString("from-model")
		dim, _ := cmd.Flags().GetInt("dim")
		if toModel == "" {
			return fmt.Errorf("migrate-embeddings: --to-model is required")
		}
		res, err := eng.MigrateEmbeddings(cmd.Context(), toModel, fromModel, dim)
		if err != nil {
			return err
		}
		return emit(res)
	},
}

var gatesCmd = &cobra.Command{
	Use:     "gates",
	GroupID: "ops",
	Short:   "Evaluate the four causal-instrumentation rollout gates",
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")
		report, err := eng.Gates(cmd.Context(), days)
		if err != nil {
			return err
		}
		if humanRequested() {
			return renderGateReport(report)
		}
		return emit(report)
	},
}

var exportCmd = &cobra.Command{
	Use:     "export",
	GroupID: "ops",
	Short:   "Export one episode's event log, or one card's evidentiary trail with --card-id",
	RunE: func(cmd *cobra.Command, args []string) error {
		episodeID, _ := cmd.Flags().GetString("episode")
		cardID, _ := cmd.Flags().GetString("card-id")
		if episodeID == "" && cardID == "" {
			return fmt.Errorf("export: --episode or --card-id is required")
		}
		if cardID != "" {
			res, err := eng.ExportCard(cmd.Context(), cardID)
			if err != nil {
				return err
			}
			return emit(res)
		}
		events, err := eng.ExportEvents(cmd.Context(), episodeID)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		for _, ev := range events {
			if err := enc.Encode(ev); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().Int("days", 30, "trailing window size in days")
	rootCmd.AddCommand(statusCmd)

	recoverCmd.Flags().Bool("no-consolidation", false, "skip re-running consolidation for episodes missing consolidation_triggered")
	rootCmd.AddCommand(recoverCmd)

	verifyIdempotencyCmd.Flags().Int("sample-events", 0, "echoed back in the report; the full log is always checked")
	rootCmd.AddCommand(verifyIdempotencyCmd)

	fullRebuildCmd.Flags().Bool("verify-stability", false, "replay twice and confirm the projection digest is identical")
	rootCmd.AddCommand(fullRebuildCmd)

	rootCmd.AddCommand(replayCmd)

	migrateEmbeddingsCmd.Flags().String("to-model", "", "new embedding model tag (required)")
	migrateEmbeddingsCmd.Flags().String("from-model", "", "restrict to cards currently tagged with this model")
	migrateEmbeddingsCmd.Flags().Int("dim", 0, "resize vectors to this dimension (0 keeps the default)")
	rootCmd.AddCommand(migrateEmbeddingsCmd)

	gatesCmd.Flags().Int("days", 30, "trailing window size in days")
	rootCmd.AddCommand(gatesCmd)

	exportCmd.Flags().String("episode", "", "episode id")
	exportCmd.Flags().String("card-id", "", "card id")
	rootCmd.AddCommand(exportCmd)
}
