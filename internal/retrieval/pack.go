package retrieval

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/memlogd/memlog/internal/eventlog"
	"github.com/memlogd/memlog/internal/hashutil"
	"github.com/memlogd/memlog/internal/idgen"
	"github.com/memlogd/memlog/internal/policy"
	"github.com/memlogd/memlog/internal/storage/sqlite"
	"github.com/memlogd/memlog/internal/types"
)

// Retriever runs scoring, packing, and exposure emission against a
// store/log pair.
type Retriever struct {
	store *sqlite.Store
	log   *eventlog.Log
}

// New constructs a Retriever.
func New(store *sqlite.Store, log *eventlog.Log) *Retriever {
	return &Retriever{store: store, log: log}
}

// PackInput is the caller-supplied query context for one retrieval call.
type PackInput struct {
	EpisodeID   string
	QueryText   string
	DesiredTier types.ScopeTier
	ScopeID     string
	Channel     types.Channel
}

// PackResult is what one Pack call returns: the ranked top-100 (for
// explain-pack) and the selected, slot/topic-capped subset actually packed.
type PackResult struct {
	PackID   string
	Ranked   []ScoredCard
	Selected []ScoredCard
}

// ScoredCard pairs a card with its computed score components, carrying
// enough of the row to drive both packing decisions and rendering.
type ScoredCard struct {
	Card           *types.Card
	Components     types.ScoreComponents
	EvidenceRefIDs []string
}

const rankedSnapshotLimit = 100

// topicCount/slotCount are small local accounting maps used while greedily
// filling a pack; kept as named types only for readability at call sites.
type topicCount = map[string]int
type slotCount = map[string]int

// Pack scores every eligible card against in, selects a slot/topic-capped
// subset (spec.md §4.5 "Packing"), and records a pack snapshot plus a
// single exposure_recorded event for the selection.
func (r *Retriever) Pack(ctx context.Context, in PackInput) (*PackResult, error) {
	if err := r.archiveHygiene(ctx); err != nil {
		return nil, fmt.Errorf("retrieval: archive hygiene sweep failed: %w", err)
	}

	scored, err := r.rank(ctx, in, in.Channel != types.ChannelAutoPack)
	if err != nil {
		return nil, err
	}

	ranked := scored
	if len(ranked) > rankedSnapshotLimit {
		ranked = ranked[:rankedSnapshotLimit]
	}

	selected, err := r.selectForPack(ctx, in, scored)
	if err != nil {
		return nil, err
	}

	packID := "pack_" + uuid.NewString()
	if err := r.recordSnapshot(ctx, in, packID, ranked, selected); err != nil {
		return nil, err
	}

	return &PackResult{PackID: packID, Ranked: ranked, Selected: selected}, nil
}

// Search ranks cards against a query without writing a pack snapshot or
// exposure events -- a read-only lookup for the `search` CLI command, as
// opposed to `pack`'s recorded, slot-capped selection. limit truncates the
// ranked list (0 means unlimited, capped at rankedSnapshotLimit regardless).
func (r *Retriever) Search(ctx context.Context, in PackInput, limit int, includeArchived bool) ([]ScoredCard, error) {
	scored, err := r.rank(ctx, in, includeArchived)
	if err != nil {
		return nil, err
	}
	if len(scored) > rankedSnapshotLimit {
		scored = scored[:rankedSnapshotLimit]
	}
	if limit > 0 && limit < len(scored) {
		scored = scored[:limit]
	}
	return scored, nil
}

// rank scores every eligible card against in and returns them sorted by
// total score descending (kind priority, recency, and card_id breaking
// ties), shared by Pack's snapshot-recording path and Search's read-only one.
func (r *Retriever) rank(ctx context.Context, in PackInput, includeArchived bool) ([]ScoredCard, error) {
	statuses := []types.CardStatus{types.StatusActive, types.StatusNeedsRecheck}
	if includeArchived {
		statuses = []types.CardStatus{types.StatusActive, types.StatusNeedsRecheck, types.StatusDeprecated, types.StatusArchived}
	}
	cards, err := sqlite.ListCardsByStatus(ctx, r.store.DB(), statuses)
	if err != nil {
		return nil, fmt.Errorf("retrieval: failed to list cards: %w", err)
	}

	maxEventID, err := sqlite.MaxEventID(ctx, r.store.DB())
	if err != nil {
		return nil, fmt.Errorf("retrieval: failed to read max event id: %w", err)
	}
	embeddings, err := sqlite.ListAllCardEmbeddings(ctx, r.store.DB())
	if err != nil {
		return nil, fmt.Errorf("retrieval: failed to load embeddings: %w", err)
	}
	utilities, err := sqlite.ListAllUtilityStats(ctx, r.store.DB())
	if err != nil {
		return nil, fmt.Errorf("retrieval: failed to load utility stats: %w", err)
	}
	queryEmbedding := hashutil.PseudoEmbedding(in.QueryText, policy.DefaultEmbeddingModel)

	scored := make([]ScoredCard, 0, len(cards))
	for _, card := range cards {
		var vec []float64
		if e := embeddings[card.CardID]; e != nil {
			vec = e.Vector
		}
		components := Score(ScoreInput{
			Card:           card,
			Embedding:      vec,
			Utility:        utilities[card.CardID],
			MaxEventID:     maxEventID,
			QueryText:      in.QueryText,
			QueryEmbedding: queryEmbedding,
			DesiredTier:    in.DesiredTier,
			DesiredScopeID: in.ScopeID,
			Mode:           in.Channel,
		})
		refIDs, err := sqlite.ListCardEvidence(ctx, r.store.DB(), card.CardID)
		if err != nil {
			return nil, fmt.Errorf("retrieval: failed to list evidence for %s: %w", card.CardID, err)
		}
		scored = append(scored, ScoredCard{Card: card, Components: components, EvidenceRefIDs: refIDs})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.Components.Total != b.Components.Total {
			return a.Components.Total > b.Components.Total
		}
		pa, pb := policy.KindPriority[a.Card.Kind], policy.KindPriority[b.Card.Kind]
		if pa != pb {
			return pa < pb
		}
		if a.Card.UpdatedEventID != b.Card.UpdatedEventID {
			return a.Card.UpdatedEventID > b.Card.UpdatedEventID
		}
		return a.Card.CardID < b.Card.CardID
	})

	return scored, nil
}

// selectForPack implements the greedy slot/topic-capped selection, with the
// tool_failure negative_result pre-selection rule run first.
func (r *Retriever) selectForPack(ctx context.Context, in PackInput, ranked []ScoredCard) ([]ScoredCard, error) {
	slots := slotCount{}
	topics := topicCount{}
	var selected []ScoredCard
	chosen := map[string]bool{}

	take := func(sc ScoredCard) bool {
		slot := policy.PackSlot(sc.Card.Kind)
		if slots[slot] >= policy.SlotCap(slot) {
			return false
		}
		if topics[sc.Card.TopicKey] >= policy.PackTopicCap {
			return false
		}
		selected = append(selected, sc)
		chosen[sc.Card.CardID] = true
		slots[slot]++
		topics[sc.Card.TopicKey]++
		return true
	}

	if in.EpisodeID != "" {
		hasToolFailure, err := episodeHasToolFailure(ctx, r.store, in.EpisodeID)
		if err != nil {
			return nil, err
		}
		if hasToolFailure {
			for _, sc := range ranked {
				if sc.Card.Kind == types.KindNegativeResult {
					take(sc)
					break
				}
			}
		}
	}

	for _, sc := range ranked {
		if len(selected) >= policy.PackTotalCap {
			break
		}
		if chosen[sc.Card.CardID] {
			continue
		}
		take(sc)
	}

	return selected, nil
}

func episodeHasToolFailure(ctx context.Context, store *sqlite.Store, episodeID string) (bool, error) {
	outcomes, err := sqlite.ListOutcomesByEpisode(ctx, store.DB(), episodeID)
	if err != nil {
		return false, fmt.Errorf("retrieval: failed to list outcomes: %w", err)
	}
	for _, o := range outcomes {
		if o.OutcomeType == types.OutcomeToolFailure {
			return true, nil
		}
	}
	return false, nil
}

func (r *Retriever) recordSnapshot(ctx context.Context, in PackInput, packID string, ranked, selected []ScoredCard) error {
	rankedPayload := make([]types.RankedCardPayload, 0, len(ranked))
	for _, sc := range ranked {
		rankedPayload = append(rankedPayload, types.RankedCardPayload{
			CardID:     sc.Card.CardID,
			Kind:       string(sc.Card.Kind),
			Status:     string(sc.Card.Status),
			TopicKey:   sc.Card.TopicKey,
			Components: sc.Components,
		})
	}
	selectedPayload := make([]types.RankedCardPayload, 0, len(selected))
	for _, sc := range selected {
		selectedPayload = append(selectedPayload, types.RankedCardPayload{
			CardID:         sc.Card.CardID,
			Kind:           string(sc.Card.Kind),
			Status:         string(sc.Card.Status),
			TopicKey:       sc.Card.TopicKey,
			Components:     sc.Components,
			EvidenceRefIDs: sc.EvidenceRefIDs,
		})
	}

	episodeID := in.EpisodeID
	if episodeID == "" {
		episodeID = packID
	}

	result, err := r.log.Append(ctx, eventlog.AppendInput{
		EpisodeID: episodeID,
		EventType: types.EventExposureRecorded,
		Payload: types.ExposureRecordedPayload{
			PackID:        packID,
			EpisodeID:     in.EpisodeID,
			QueryText:     in.QueryText,
			Channel:       string(in.Channel),
			PolicyVersion: policy.CurrentRuleVersion,
			Ranked:        rankedPayload,
			Selected:      selectedPayload,
		},
		IdempotencyKey: fmt.Sprintf("exposure_recorded:%s", packID),
		Producer:       "retrieval",
		RuleVersion:    policy.CurrentRuleVersion,
		Apply:          true,
	})
	if err != nil {
		return fmt.Errorf("retrieval: failed to record exposure: %w", err)
	}
	_ = result
	return nil
}

// archiveHygiene implements spec.md §4.5's pre-pack sweep: an active card
// with zero dispute mass, non-positive utility, and a last exposure older
// than the hygiene window is archived. Never-exposed cards are exempt.
func (r *Retriever) archiveHygiene(ctx context.Context) error {
	cards, err := sqlite.ListCardsByStatus(ctx, r.store.DB(), []types.CardStatus{types.StatusActive})
	if err != nil {
		return fmt.Errorf("failed to list active cards: %w", err)
	}
	for _, card := range cards {
		lastExposure, err := sqlite.LastExposureTime(ctx, r.store.DB(), card.CardID)
		if err != nil {
			return err
		}
		if !lastExposure.Valid {
			continue
		}
		if daysSince(lastExposure.Time) < policy.ArchiveHygieneWindowDays {
			continue
		}
		mass, err := sqlite.SumDisputeWeight(ctx, r.store.DB(), card.CardID)
		if err != nil {
			return err
		}
		if mass != 0 {
			continue
		}
		utility, err := sqlite.GetUtilityStats(ctx, r.store.DB(), card.CardID)
		if err != nil {
			return err
		}
		score := float64(utility.Wins-utility.Losses) + 0.1*float64(utility.Reuse)
		if score > 0 {
			continue
		}
		if _, err := r.log.Append(ctx, eventlog.AppendInput{
			EpisodeID: card.CardID,
			EventType: types.EventCardArchived,
			Payload: types.CardArchivedPayload{
				CardID:     card.CardID,
				ReasonCode: "archive_hygiene_low_signal",
			},
			IdempotencyKey: fmt.Sprintf("card_archived:archive_hygiene:%s", card.CardID),
			Producer:       "retrieval",
			RuleVersion:    policy.CurrentRuleVersion,
			Apply:          true,
		}); err != nil {
			return fmt.Errorf("failed to archive %s for low signal: %w", card.CardID, err)
		}
	}
	return nil
}

// RenderContextBlock formats a pack's selected cards as plain text suitable
// for inclusion in an assistant's context window, grouped by slot in the
// same order packing fills them.
func RenderContextBlock(pack *PackResult) string {
	if pack == nil || len(pack.Selected) == 0 {
		return ""
	}
	groups := []string{"constraints_commitments", "negative_result", "tactic", "fact"}
	titles := map[string]string{
		"constraints_commitments": "Constraints & commitments",
		"negative_result":         "Known failures",
		"tactic":                  "Tactics",
		"fact":                    "Facts",
	}
	bySlot := map[string][]ScoredCard{}
	for _, sc := range pack.Selected {
		slot := policy.PackSlot(sc.Card.Kind)
		bySlot[slot] = append(bySlot[slot], sc)
	}

	var out []byte
	for _, slot := range groups {
		members := bySlot[slot]
		if len(members) == 0 {
			continue
		}
		out = append(out, []byte(titles[slot]+":\n")...)
		for _, sc := range members {
			out = append(out, []byte(fmt.Sprintf("- %s\n", sc.Card.Statement))...)
		}
	}
	return string(out)
}

// daysSince returns the whole days elapsed between t and now. Only the
// archive hygiene sweep reads wall-clock time: it's an operational trigger
// for emitting a decision, not part of replay-derived projection state.
func daysSince(t time.Time) int {
	return int(time.Since(t).Hours() / 24)
}
