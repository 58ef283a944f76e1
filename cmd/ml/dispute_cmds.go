package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/memlogd/memlog/internal/types"
)

var recordDisputeCmd = &cobra.Command{
	Use:     "record-dispute",
	GroupID: "disputes",
	Short:   "Log one evidence-weighted dispute against a card",
	RunE: func(cmd *cobra.Command, args []string) error {
		episodeID, _ := cmd.Flags().GetString("episode")
		cardID, _ := cmd.Flags().GetString("card-id")
		evidenceRefID, _ := cmd.Flags().GetString("evidence-ref-id")
		if episodeID == "" || cardID == "" || evidenceRefID == "" {
			return fmt.Errorf("record-dispute: --episode, --card-id, and --evidence-ref-id are required")
		}
		res, err := eng.RecordDispute(cmd.Context(), episodeID, cardID, evidenceRefID)
		if err != nil {
			return err
		}
		return emit(res)
	},
}

var recordOutcomeCmd = &cobra.Command{
	Use:     "record-outcome",
	GroupID: "disputes",
	Short:   "Record one terminal outcome for an episode's exposures",
	RunE: func(cmd *cobra.Command, args []string) error {
		episodeID, _ := cmd.Flags().GetString("episode")
		outcomeType, _ := cmd.Flags().GetString("type")
		evidenceRefIDsRaw, _ := cmd.Flags().GetString("evidence-ref-ids")
		metadata, _ := cmd.Flags().GetString("metadata")
		if episodeID == "" || outcomeType == "" {
			return fmt.Errorf("record-outcome: --episode and --type are required")
		}
		var refIDs []string
		if evidenceRefIDsRaw != "" {
			for _, id := range strings.Split(evidenceRefIDsRaw, ",") {
				id = strings.TrimSpace(id)
				if id != "" {
					refIDs = append(refIDs, id)
				}
			}
		}
		if metadata == "" {
			metadata = "{}"
		}
		res, err := eng.RecordOutcome(cmd.Context(), episodeID, types.OutcomeType(outcomeType), refIDs, metadata)
		if err != nil {
			return err
		}
		return emit(res)
	},
}

func init() {
	recordDisputeCmd.Flags().String("episode", "", "episode id (required)")
	recordDisputeCmd.Flags().String("card-id", "", "card id (required)")
	recordDisputeCmd.Flags().String("evidence-ref-id", "", "evidence ref id backing the dispute (required)")
	rootCmd.AddCommand(recordDisputeCmd)

	recordOutcomeCmd.Flags().String("episode", "", "episode id (required)")
	recordOutcomeCmd.Flags().String("type", "", "outcome type: tool_success, tool_failure, user_confirmed_helpful, user_corrected (required)")
	recordOutcomeCmd.Flags().String("evidence-ref-ids", "", "comma-separated evidence ref ids this outcome is attributed to")
	recordOutcomeCmd.Flags().String("metadata", "", "JSON metadata object")
	rootCmd.AddCommand(recordOutcomeCmd)
}
