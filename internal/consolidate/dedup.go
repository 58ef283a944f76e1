package consolidate

import (
	"context"
	"fmt"
	"sort"

	"github.com/memlogd/memlog/internal/eventlog"
	"github.com/memlogd/memlog/internal/hashutil"
	"github.com/memlogd/memlog/internal/policy"
	"github.com/memlogd/memlog/internal/storage/sqlite"
	"github.com/memlogd/memlog/internal/types"
)

// DedupResult summarizes one daily dedup sweep.
type DedupResult struct {
	Buckets int
	Merged  []MergedPair
}

// MergedPair is one winner/loser resolution from the sweep.
type MergedPair struct {
	WinnerCardID string
	LoserCardID  string
}

type bucketKey struct {
	Kind      types.CardKind
	ScopeTier types.ScopeTier
	ScopeID   string
}

// DailyDedup groups every active/needs_recheck card by (kind, scope_tier,
// scope_id), picks one winner per bucket, and merges/archives any other
// member whose statement is a near-duplicate of the winner's (spec.md §4.4
// "daily dedup sweep"). Distinct from the per-episode admission pipeline:
// this sweep catches duplicate cards admitted across different episodes
// that never shared a single Consolidate call to compare against.
func (c *Consolidator) DailyDedup(ctx context.Context) (*DedupResult, error) {
	cards, err := sqlite.ListCardsByStatus(ctx, c.store.DB(), []types.CardStatus{types.StatusActive, types.StatusNeedsRecheck})
	if err != nil {
		return nil, fmt.Errorf("consolidate: failed to list cards for dedup: %w", err)
	}

	buckets := map[bucketKey][]*types.Card{}
	for _, card := range cards {
		key := bucketKey{Kind: card.Kind, ScopeTier: card.ScopeTier, ScopeID: card.ScopeID}
		buckets[key] = append(buckets[key], card)
	}

	res := &DedupResult{}
	// Iterate bucket keys in a stable order so repeated sweeps over an
	// unchanged store emit events in the same sequence.
	keys := make([]bucketKey, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Kind != keys[j].Kind {
			return keys[i].Kind < keys[j].Kind
		}
		if keys[i].ScopeTier != keys[j].ScopeTier {
			return keys[i].ScopeTier < keys[j].ScopeTier
		}
		return keys[i].ScopeID < keys[j].ScopeID
	})

	for _, key := range keys {
		members := buckets[key]
		if len(members) < 2 {
			continue
		}
		res.Buckets++

		evidenceCounts := make(map[string]int, len(members))
		for _, m := range members {
			n, err := sqlite.CountCardEvidence(ctx, c.store.DB(), m.CardID)
			if err != nil {
				return nil, fmt.Errorf("consolidate: failed to count evidence for %s: %w", m.CardID, err)
			}
			evidenceCounts[m.CardID] = n
		}

		sort.Slice(members, func(i, j int) bool {
			a, b := members[i], members[j]
			if evidenceCounts[a.CardID] != evidenceCounts[b.CardID] {
				return evidenceCounts[a.CardID] > evidenceCounts[b.CardID]
			}
			if a.UpdatedEventID != b.UpdatedEventID {
				return a.UpdatedEventID > b.UpdatedEventID
			}
			return a.CardID < b.CardID
		})
		winner := members[0]

		attributedEpisodeID, err := c.attributedEpisode(ctx, winner)
		if err != nil {
			return nil, err
		}

		for _, loser := range members[1:] {
			lex := hashutil.Jaccard(winner.Statement, loser.Statement)
			cos := hashutil.CosineText(winner.Statement, loser.Statement)
			if lex < policy.DuplicateLexThreshold || cos < policy.DuplicateCosThreshold {
				continue
			}

			evidenceRefIDs, err := sqlite.ListCardEvidence(ctx, c.store.DB(), loser.CardID)
			if err != nil {
				return nil, fmt.Errorf("consolidate: failed to list evidence for %s: %w", loser.CardID, err)
			}

			if _, err := c.log.Append(ctx, eventlog.AppendInput{
				EpisodeID: attributedEpisodeID,
				EventType: types.EventCardMerged,
				Payload: types.CardMergedPayload{
					EpisodeID:           attributedEpisodeID,
					TargetCardID:        winner.CardID,
					EvidenceRefIDs:      evidenceRefIDs,
					ReasonCode:          "daily_dedup_merge",
					AttributedEpisodeID: attributedEpisodeID,
				},
				IdempotencyKey: fmt.Sprintf("card_merged:daily_dedup:%s:%s", loser.CardID, winner.CardID),
				Producer:       producer,
				RuleVersion:    ruleVersion,
				Apply:          true,
			}); err != nil {
				return nil, fmt.Errorf("consolidate: failed to merge %s into %s: %w", loser.CardID, winner.CardID, err)
			}

			if _, err := c.log.Append(ctx, eventlog.AppendInput{
				EpisodeID: attributedEpisodeID,
				EventType: types.EventCardArchived,
				Payload: types.CardArchivedPayload{
					CardID:              loser.CardID,
					ReasonCode:          "daily_dedup_archived_duplicate",
					AttributedEpisodeID: attributedEpisodeID,
				},
				IdempotencyKey: fmt.Sprintf("card_archived:daily_dedup:%s", loser.CardID),
				Producer:       producer,
				RuleVersion:    ruleVersion,
				Apply:          true,
			}); err != nil {
				return nil, fmt.Errorf("consolidate: failed to archive %s: %w", loser.CardID, err)
			}

			res.Merged = append(res.Merged, MergedPair{WinnerCardID: winner.CardID, LoserCardID: loser.CardID})
		}
	}

	return res, nil
}

// attributedEpisode resolves the episode that most recently updated card,
// via the event that stamped its updated_event_id. Falls back to the
// card's created_event_id's episode if the updated event can't be found,
// and finally to the card_id itself (never empty: event_log requires a
// non-empty episode_id on every append).
func (c *Consolidator) attributedEpisode(ctx context.Context, card *types.Card) (string, error) {
	event, err := sqlite.GetEventByID(ctx, c.store.DB(), card.UpdatedEventID)
	if err != nil {
		return "", fmt.Errorf("consolidate: failed to resolve attributed episode for %s: %w", card.CardID, err)
	}
	if event != nil {
		return event.EpisodeID, nil
	}
	event, err = sqlite.GetEventByID(ctx, c.store.DB(), card.CreatedEventID)
	if err != nil {
		return "", fmt.Errorf("consolidate: failed to resolve fallback attributed episode for %s: %w", card.CardID, err)
	}
	if event != nil {
		return event.EpisodeID, nil
	}
	return card.CardID, nil
}
