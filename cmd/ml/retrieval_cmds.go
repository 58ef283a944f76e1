package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/memlogd/memlog/internal/retrieval"
	"github.com/memlogd/memlog/internal/types"
)

var searchCmd = &cobra.Command{
	Use:     "search",
	GroupID: "retrieval",
	Short:   "Rank cards against a query without recording a pack snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		query, _ := cmd.Flags().GetString("query")
		episodeID, _ := cmd.Flags().GetString("episode")
		limit, _ := cmd.Flags().GetInt("limit")
		includeArchived, _ := cmd.Flags().GetBool("include-archived")
		if query == "" {
			return fmt.Errorf("search: --query is required")
		}

		in := retrieval.PackInput{
			EpisodeID:   episodeID,
			QueryText:   query,
			DesiredTier: types.ScopeTier(cfg.ScopeTier),
			ScopeID:     cfg.ScopeID,
			Channel:     types.ChannelSearch,
		}
		results, err := eng.Search(cmd.Context(), in, limit, includeArchived)
		if err != nil {
			return err
		}
		return emit(results)
	},
}

var packCmd = &cobra.Command{
	Use:     "pack",
	GroupID: "retrieval",
	Short:   "Build and record a ranked, slot-capped context pack",
	RunE: func(cmd *cobra.Command, args []string) error {
		episodeID, _ := cmd.Flags().GetString("episode")
		query, _ := cmd.Flags().GetString("query")
		channel, _ := cmd.Flags().GetString("channel")
		if episodeID == "" || query == "" {
			return fmt.Errorf("pack: --episode and --query are required")
		}
		if channel == "" {
			channel = string(types.ChannelAutoPack)
		}

		res, err := eng.Pack(cmd.Context(), retrieval.PackInput{
			EpisodeID:   episodeID,
			QueryText:   query,
			DesiredTier: types.ScopeTier(cfg.ScopeTier),
			ScopeID:     cfg.ScopeID,
			Channel:     types.Channel(channel),
		})
		if err != nil {
			return err
		}

		render, _ := cmd.Flags().GetBool("render")
		if render {
			return renderMarkdown(retrieval.RenderContextBlock(res))
		}
		return emit(res)
	},
}

var explainPackCmd = &cobra.Command{
	Use:     "explain-pack",
	GroupID: "retrieval",
	Short:   "Show a recorded pack snapshot's ranked and selected cards",
	RunE: func(cmd *cobra.Command, args []string) error {
		episodeID, _ := cmd.Flags().GetString("episode")
		packID, _ := cmd.Flags().GetString("pack-id")
		if episodeID == "" && packID == "" {
			return fmt.Errorf("explain-pack: --episode or --pack-id is required")
		}
		snap, err := eng.ExplainPack(cmd.Context(), episodeID, packID)
		if err != nil {
			return err
		}
		return emit(snap)
	},
}

func init() {
	searchCmd.Flags().String("query", "", "query text (required)")
	searchCmd.Flags().String("episode", "", "episode id for scope context")
	searchCmd.Flags().Int("limit", 20, "maximum number of ranked cards to return")
	searchCmd.Flags().Bool("include-archived", false, "include deprecated/archived cards")
	rootCmd.AddCommand(searchCmd)

	packCmd.Flags().String("episode", "", "episode id (required)")
	packCmd.Flags().String("query", "", "query text (required)")
	packCmd.Flags().String("channel", "", "pack channel: auto_pack, search, explicit_read, check")
	packCmd.Flags().Bool("render", false, "render the selected cards as a context block instead of JSON")
	rootCmd.AddCommand(packCmd)

	explainPackCmd.Flags().String("episode", "", "episode id")
	explainPackCmd.Flags().String("pack-id", "", "pack id (defaults to the episode's most recent pack)")
	rootCmd.AddCommand(explainPackCmd)
}
