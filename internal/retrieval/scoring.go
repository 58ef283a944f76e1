// Package retrieval implements query-time card scoring and packing
// (spec.md §4.5): a seven-component weighted score, slot/topic-capped
// selection, and a deterministic pack snapshot plus exposure emission.
// Grounded on the teacher's internal/queries/search.go hybrid scored search
// (FTS + structural signal blending) and internal/ui/search_render.go for
// the ranked-list shape.
package retrieval

import (
	"github.com/memlogd/memlog/internal/hashutil"
	"github.com/memlogd/memlog/internal/policy"
	"github.com/memlogd/memlog/internal/types"
)

// ScoreInput bundles everything scoring needs about one candidate card plus
// the caller's query context, so Score itself stays a pure function of its
// inputs (no DB access, easy to test in isolation).
type ScoreInput struct {
	Card           *types.Card
	Embedding      []float64 // nil if never computed
	Utility        *types.UtilityStats
	MaxEventID     int64
	QueryText      string
	QueryEmbedding []float64
	DesiredTier    types.ScopeTier
	DesiredScopeID string
	Mode           types.Channel
}

// Score computes the seven weighted components plus score_total for one
// card (spec.md §4.5). Mode == ChannelAutoPack selects the auto_pack truth
// table and applies the needs_recheck penalty; every other channel uses the
// broader truth table and skips the penalty.
func Score(in ScoreInput) types.ScoreComponents {
	lexical := hashutil.Jaccard(in.QueryText, in.Card.Statement)

	var semantic float64
	if in.Embedding != nil && in.QueryEmbedding != nil {
		semantic = hashutil.CosineVec(in.QueryEmbedding, in.Embedding)
	}

	scope := ScopeComponent(in.DesiredTier, in.DesiredScopeID, in.Card.ScopeTier, in.Card.ScopeID)
	kindPrior := policy.KindPrior[in.Card.Kind]

	var truth float64
	if in.Mode == types.ChannelAutoPack {
		truth = policy.TruthAutoPack[in.Card.Status]
	} else {
		truth = policy.TruthOther[in.Card.Status]
	}

	var utility float64
	if in.Card.Kind == types.KindTactic && in.Utility != nil {
		wins, losses, reuse := float64(in.Utility.Wins), float64(in.Utility.Losses), float64(in.Utility.Reuse)
		denom := wins + losses
		if denom < 1 {
			denom = 1
		}
		reuseTerm := reuse / 10
		if reuseTerm > 1.0 {
			reuseTerm = 1.0
		}
		utility = (wins-losses)/denom + reuseTerm
	}

	var recency float64
	if in.MaxEventID > 0 {
		recency = float64(in.Card.UpdatedEventID) / float64(in.MaxEventID)
	}

	total := policy.WeightLexical*lexical +
		policy.WeightSemantic*semantic +
		policy.WeightScope*scope +
		policy.WeightKindPrior*kindPrior +
		policy.WeightTruth*truth +
		policy.WeightUtility*utility +
		policy.WeightRecency*recency

	if in.Mode == types.ChannelAutoPack && in.Card.Status == types.StatusNeedsRecheck {
		total *= policy.NeedsRecheckPenalty
	}

	return types.ScoreComponents{
		Lexical:   lexical,
		Semantic:  semantic,
		Scope:     scope,
		KindPrior: kindPrior,
		Truth:     truth,
		Utility:   utility,
		Recency:   recency,
		Total:     total,
	}
}

// ScopeComponent implements spec.md §4.5's scope-match scoring: 1.0 on an
// exact (tier, scope_id) match; 0.2 when the card is narrower than the
// desired tier (too specific to generalize up); 0.8 when the tiers match
// but the scope_id differs; otherwise a breadth-dependent constant for a
// card broader than desired.
func ScopeComponent(desiredTier types.ScopeTier, desiredScopeID string, cardTier types.ScopeTier, cardScopeID string) float64 {
	if cardTier == desiredTier && cardScopeID == desiredScopeID {
		return 1.0
	}
	if cardTier.Rank() < desiredTier.Rank() {
		return 0.2
	}
	if cardTier.Rank() == desiredTier.Rank() {
		return 0.8
	}
	switch cardTier {
	case types.ScopeGlobal:
		return 0.6
	case types.ScopeDomain:
		return 0.7
	default:
		return 0.5
	}
}
