package reducer

import (
	"context"
	"database/sql"
	"sort"

	"github.com/memlogd/memlog/internal/storage/sqlite"
	"github.com/memlogd/memlog/internal/types"
)

// recomputeUtility clears and fully re-derives the utility projection from
// the exposure/outcome history (spec.md §4.6). Step 2 gives every exposed
// tactic card a reuse count regardless of channel; step 3 attributes
// wins/losses to the top-2 auto_pack tactic exposures preceding each
// episode's earliest outcome. Invoked synchronously after every
// exposure_recorded/outcome_recorded event, so the projection is always a
// pure function of the current exposure/outcome tables rather than an
// incremental counter that can drift from them.
func recomputeUtility(ctx context.Context, tx *sql.Tx) error {
	if err := sqlite.ClearUtilityStats(ctx, tx); err != nil {
		return err
	}

	cards, err := sqlite.ListAllCards(ctx, tx)
	if err != nil {
		return err
	}
	isTactic := make(map[string]bool, len(cards))
	for _, card := range cards {
		isTactic[card.CardID] = card.Kind == types.KindTactic
	}

	stats := map[string]*types.UtilityStats{}
	for _, card := range cards {
		if card.Kind != types.KindTactic {
			continue
		}
		exposures, err := sqlite.ListExposuresByCard(ctx, tx, card.CardID)
		if err != nil {
			return err
		}
		if len(exposures) == 0 {
			continue
		}
		var maxEventID int64
		for _, e := range exposures {
			if e.SourceEventID > maxEventID {
				maxEventID = e.SourceEventID
			}
		}
		stats[card.CardID] = &types.UtilityStats{
			CardID:         card.CardID,
			Reuse:          len(exposures),
			UpdatedEventID: maxEventID,
		}
	}

	outcomes, err := sqlite.ListAllOutcomes(ctx, tx)
	if err != nil {
		return err
	}
	byEpisode := map[string][]*types.Outcome{}
	for _, o := range outcomes {
		byEpisode[o.EpisodeID] = append(byEpisode[o.EpisodeID], o)
	}
	episodeIDs := make([]string, 0, len(byEpisode))
	for id := range byEpisode {
		episodeIDs = append(episodeIDs, id)
	}
	sort.Strings(episodeIDs)

	for _, episodeID := range episodeIDs {
		epOutcomes := byEpisode[episodeID]

		var hasEvidenced bool
		var earliestTerminal *types.Outcome
		var successSignal, failureSignal bool
		for _, o := range epOutcomes {
			if len(o.EvidenceRefIDs) > 0 {
				hasEvidenced = true
			}
			if earliestTerminal == nil || o.SeqNo < earliestTerminal.SeqNo {
				earliestTerminal = o
			}
			if o.OutcomeType.IsSuccess() {
				successSignal = true
			}
			if o.OutcomeType.IsFailure() {
				failureSignal = true
			}
		}
		// Every OutcomeType is terminal by construction; the remaining
		// admissibility requirement is at least one evidence-anchored
		// outcome (spec.md §4.6).
		if !hasEvidenced || earliestTerminal == nil {
			continue
		}

		preOutcome, err := sqlite.ExposuresForEpisodeBeforeEvent(ctx, tx, episodeID, earliestTerminal.SourceEventID, types.ChannelAutoPack)
		if err != nil {
			return err
		}
		sort.Slice(preOutcome, func(i, j int) bool {
			a, b := preOutcome[i], preOutcome[j]
			if a.RankPosition != b.RankPosition {
				return a.RankPosition < b.RankPosition
			}
			if a.ScoreTotal != b.ScoreTotal {
				return a.ScoreTotal > b.ScoreTotal
			}
			return a.CardID < b.CardID
		})

		var attributed []*types.Exposure
		for _, e := range preOutcome {
			if !isTactic[e.CardID] {
				continue
			}
			attributed = append(attributed, e)
			if len(attributed) == 2 {
				break
			}
		}

		for _, e := range attributed {
			s, ok := stats[e.CardID]
			if !ok {
				s = &types.UtilityStats{CardID: e.CardID}
				stats[e.CardID] = s
			}
			if successSignal {
				s.Wins++
			}
			if failureSignal {
				s.Losses++
			}
			if earliestTerminal.SourceEventID > s.UpdatedEventID {
				s.UpdatedEventID = earliestTerminal.SourceEventID
			}
		}
	}

	cardIDs := make([]string, 0, len(stats))
	for id := range stats {
		cardIDs = append(cardIDs, id)
	}
	sort.Strings(cardIDs)
	for _, id := range cardIDs {
		if err := sqlite.UpsertUtilityStats(ctx, tx, stats[id]); err != nil {
			return err
		}
	}
	return nil
}
