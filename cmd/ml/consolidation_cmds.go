package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var consolidateCmd = &cobra.Command{
	Use:     "consolidate",
	GroupID: "consolidation",
	Short:   "Run the candidate/gate pipeline for one episode",
	RunE: func(cmd *cobra.Command, args []string) error {
		episodeID, _ := cmd.Flags().GetString("episode")
		if episodeID == "" {
			return fmt.Errorf("consolidate: --episode is required")
		}
		res, err := eng.Consolidate(cmd.Context(), episodeID)
		if err != nil {
			return err
		}
		return emit(res)
	},
}

var ledgerCmd = &cobra.Command{
	Use:     "ledger",
	GroupID: "consolidation",
	Short:   "Show one episode's consolidation ledger row",
	RunE: func(cmd *cobra.Command, args []string) error {
		episodeID, _ := cmd.Flags().GetString("episode")
		if episodeID == "" {
			return fmt.Errorf("ledger: --episode is required")
		}
		res, err := eng.Ledger(cmd.Context(), episodeID)
		if err != nil {
			return err
		}
		return emit(res)
	},
}

var dedupCmd = &cobra.Command{
	Use:     "dedup",
	GroupID: "consolidation",
	Short:   "Run the daily cross-episode deduplication sweep",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := eng.Dedup(cmd.Context())
		if err != nil {
			return err
		}
		return emit(res)
	},
}

var explainConsolidationCmd = &cobra.Command{
	Use:     "explain-consolidation",
	GroupID: "consolidation",
	Short:   "Show every consolidation decision for one episode, in order",
	RunE: func(cmd *cobra.Command, args []string) error {
		episodeID, _ := cmd.Flags().GetString("episode")
		if episodeID == "" {
			return fmt.Errorf("explain-consolidation: --episode is required")
		}
		decisions, err := eng.ExplainConsolidation(cmd.Context(), episodeID)
		if err != nil {
			return err
		}
		if humanRequested() {
			return renderConsolidationExplanation(episodeID, decisions)
		}
		return emit(decisions)
	},
}

func init() {
	consolidateCmd.Flags().String("episode", "", "episode id (required)")
	rootCmd.AddCommand(consolidateCmd)

	ledgerCmd.Flags().String("episode", "", "episode id (required)")
	rootCmd.AddCommand(ledgerCmd)

	rootCmd.AddCommand(dedupCmd)

	explainConsolidationCmd.Flags().String("episode", "", "episode id (required)")
	rootCmd.AddCommand(explainConsolidationCmd)
}
