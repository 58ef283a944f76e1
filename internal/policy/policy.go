// Package policy holds every tunable named in spec.md as a process-wide
// constant table keyed by rule_version (§9 "Global state"). Changing any
// number here means minting a new RuleVersion so the log records which
// policy produced which decision -- never mutate CurrentRuleVersion's table
// in place.
package policy

import "github.com/memlogd/memlog/internal/types"

// CurrentRuleVersion is the rule_version tag written to every event and pack
// snapshot by this build.
const CurrentRuleVersion = "v1"

// KindPriority orders cards for tie-breaking during consolidation sort and
// pack ranking; lower sorts first.
var KindPriority = map[types.CardKind]int{
	types.KindConstraint:     0,
	types.KindCommitment:     1,
	types.KindPreference:     2,
	types.KindNegativeResult: 3,
	types.KindTactic:         4,
	types.KindFact:           5,
}

// EpisodeKindCap bounds admitted-card counts per kind within one episode.
var EpisodeKindCap = map[types.CardKind]int{
	types.KindFact:           4,
	types.KindTactic:         2,
	types.KindNegativeResult: 2,
	types.KindPreference:     2,
	types.KindConstraint:     1,
	types.KindCommitment:     1,
}

// EpisodeSoftCap is the total admitted-card ceiling per episode.
const EpisodeSoftCap = 12

// DuplicateLexThreshold / DuplicateCosThreshold gate exact-duplicate detection.
const (
	DuplicateLexThreshold = 0.80
	DuplicateCosThreshold = 0.92
)

// NoveltyLexThreshold / NoveltyCosThreshold gate below-threshold rejection.
const (
	NoveltyLexThreshold = 0.65
	NoveltyCosThreshold = 0.78
)

// BudgetMatrix bounds active+needs_recheck card counts per (scope_tier, kind).
var BudgetMatrix = map[types.ScopeTier]map[types.CardKind]int{
	types.ScopeRepo: {
		types.KindPreference:     80,
		types.KindConstraint:     120,
		types.KindCommitment:     120,
		types.KindFact:           300,
		types.KindTactic:         120,
		types.KindNegativeResult: 120,
	},
	types.ScopeDomain: {
		types.KindPreference:     40,
		types.KindConstraint:     60,
		types.KindCommitment:     60,
		types.KindFact:           180,
		types.KindTactic:         80,
		types.KindNegativeResult: 80,
	},
	types.ScopeGlobal: {
		types.KindPreference:     20,
		types.KindConstraint:     30,
		types.KindCommitment:     30,
		types.KindFact:           100,
		types.KindTactic:         40,
		types.KindNegativeResult: 40,
	},
}

// Budget returns the active+needs_recheck cap for a (scopeTier, kind) pair.
func Budget(tier types.ScopeTier, kind types.CardKind) int {
	if byKind, ok := BudgetMatrix[tier]; ok {
		if v, ok := byKind[kind]; ok {
			return v
		}
	}
	return 0
}

// KindPrior is the scoring prior per card kind (§4.5).
var KindPrior = map[types.CardKind]float64{
	types.KindConstraint:     1.0,
	types.KindCommitment:     0.9,
	types.KindNegativeResult: 0.85,
	types.KindPreference:     0.8,
	types.KindTactic:         0.8,
	types.KindFact:           0.75,
}

// TruthAutoPack is the truth-by-status table for auto_pack mode.
var TruthAutoPack = map[types.CardStatus]float64{
	types.StatusActive:       1.0,
	types.StatusNeedsRecheck: 0.35,
	types.StatusDeprecated:   0.15,
	types.StatusArchived:     0.1,
}

// TruthOther is the truth-by-status table for non-auto_pack modes.
var TruthOther = map[types.CardStatus]float64{
	types.StatusActive:       1.0,
	types.StatusNeedsRecheck: 0.8,
	types.StatusDeprecated:   0.65,
	types.StatusArchived:     0.6,
}

// NeedsRecheckPenalty multiplies auto_pack score_total for needs_recheck cards.
const NeedsRecheckPenalty = 0.35

// Scoring coefficients for score_total (§4.5).
const (
	WeightLexical   = 0.35
	WeightSemantic  = 0.25
	WeightScope     = 0.15
	WeightKindPrior = 0.10
	WeightTruth     = 0.10
	WeightUtility   = 0.05
	WeightRecency   = 0.02
)

// Pack caps (§4.5).
const (
	PackTotalCap       = 8
	PackTopicCap       = 2
	SlotConstraintsCap = 3
	SlotNegativeCap    = 2
	SlotTacticCap      = 2
	SlotFactCap        = 3
)

// PackSlot returns the slot a card kind consumes.
func PackSlot(kind types.CardKind) string {
	switch kind {
	case types.KindPreference, types.KindConstraint, types.KindCommitment:
		return "constraints_commitments"
	case types.KindNegativeResult:
		return "negative_result"
	case types.KindTactic:
		return "tactic"
	case types.KindFact:
		return "fact"
	default:
		return "fact"
	}
}

// SlotCap returns the max cards a slot may contribute to a pack.
func SlotCap(slot string) int {
	switch slot {
	case "constraints_commitments":
		return SlotConstraintsCap
	case "negative_result":
		return SlotNegativeCap
	case "tactic":
		return SlotTacticCap
	case "fact":
		return SlotFactCap
	default:
		return 0
	}
}

// DisputeWeight is the per-evidence-kind weight used in dispute mass (§4.6).
var DisputeWeight = map[types.RefKind]float64{
	types.RefToolOutput: 1.0,
	types.RefDocSpan:    0.7,
	types.RefUserSpan:   0.4,
}

// DisputeThreshold is the scope-dependent mass needed to flip a card to
// needs_recheck (§4.6).
var DisputeThreshold = map[types.ScopeTier]float64{
	types.ScopeRepo:   2.0,
	types.ScopeDomain: 3.0,
	types.ScopeGlobal: 4.0,
}

// ArchiveHygieneWindowDays is the minimum age (days) since last exposure before a
// low-signal active card is eligible for archive-hygiene archival (§4.5).
const ArchiveHygieneWindowDays = 30

// Rollout gate thresholds (§8).
const (
	GateMinEpisodesWithOutcomes = 10
	GateMinPrecisionProxy       = 0.65
	GateMaxCorrectionRate       = 0.30
	GateMinOutcomesPerHalf      = 10
	GateMaxSuccessRateDrift     = 0.05
	GateMinEventsLast7Days      = 100
)

// StoreBoundednessGrowth computes the max allowed net 7-day growth for a
// given active-card count.
func StoreBoundednessGrowth(activeCards int) int {
	v := int(0.20 * float64(activeCards))
	if v < 5 {
		return 5
	}
	return v
}

// DefaultEmbeddingModel is the pseudo-embedding salt/tag written to new
// cards until an operator runs migrate-embeddings (§4.7/§9 "Similarity").
const DefaultEmbeddingModel = "pseudo-v1"
