package consolidate

import (
	"strings"

	"github.com/memlogd/memlog/internal/types"
)

var userSpanPreferenceKeywords = []string{"prefer", "i like", "please use", "verbosity"}
var userSpanConstraintKeywords = []string{"must", "do not", "don't", "never", "always", "only"}
var userSpanCommitmentKeywords = []string{"i will", "i'll", "we will", "plan to", "going to"}

var toolOutputFailureKeywords = []string{"error", "failed", "exception", "traceback", "non-zero", "timeout", "panic"}
var toolOutputTacticKeywords = []string{"run ", "command", "steps", "procedure", "workflow"}

var docSpanTacticKeywords = []string{"run ", "steps", "procedure", "how to"}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// HasFailureSignal reports whether a statement contains one of the
// negative-result failure keywords (spec.md §4.4 classification + §4.4
// gate 1 negative_result invariant).
func HasFailureSignal(statement string) bool {
	return containsAny(strings.ToLower(statement), toolOutputFailureKeywords)
}

// ClassifyKind implements spec.md §4.4's case-insensitive keyword scan,
// dispatched on the evidence ref's kind.
func ClassifyKind(refKind types.RefKind, excerpt string) types.CardKind {
	lower := strings.ToLower(excerpt)
	switch refKind {
	case types.RefUserSpan:
		switch {
		case containsAny(lower, userSpanConstraintKeywords):
			return types.KindConstraint
		case containsAny(lower, userSpanCommitmentKeywords):
			return types.KindCommitment
		case containsAny(lower, userSpanPreferenceKeywords):
			return types.KindPreference
		default:
			return types.KindFact
		}
	case types.RefToolOutput:
		switch {
		case containsAny(lower, toolOutputFailureKeywords):
			return types.KindNegativeResult
		case containsAny(lower, toolOutputTacticKeywords):
			return types.KindTactic
		default:
			return types.KindFact
		}
	case types.RefDocSpan:
		if containsAny(lower, docSpanTacticKeywords) {
			return types.KindTactic
		}
		return types.KindFact
	default:
		return types.KindFact
	}
}

// Reason codes for card_rejected events (spec.md §4.4, §8 scenarios).
const (
	ReasonEvidenceInvariant       = "evidence_invariant_violation"
	ReasonNegativeResultNoFailure = "negative_result_requires_failure_signal"
	ReasonDuplicateOfExisting     = "duplicate_of_existing_card"
	ReasonBelowNoveltyThreshold   = "below_novelty_threshold"
	ReasonEpisodeKindCapExceeded  = "episode_kind_cap_exceeded"
	ReasonEpisodeSoftCapExceeded  = "episode_soft_cap_exceeded"
	ReasonScopeKindBudgetExceeded = "scope_kind_budget_exceeded"
)

// CheckEvidenceInvariant implements gate 1 (spec.md §4.4): which ref_kind(s)
// may anchor each card kind, plus the negative_result failure-signal
// requirement. Takes the classified kind directly so it can be exercised
// standalone (spec.md §8 scenario 3 describes testing this gate against an
// evidence ref "classified as negative_result" independent of whether
// ordinary keyword classification would have produced that kind).
func CheckEvidenceInvariant(kind types.CardKind, refKind types.RefKind, statement string) (bool, string) {
	switch kind {
	case types.KindPreference, types.KindConstraint, types.KindCommitment:
		if refKind != types.RefUserSpan {
			return false, ReasonEvidenceInvariant
		}
	case types.KindTactic:
		if refKind != types.RefToolOutput && refKind != types.RefDocSpan {
			return false, ReasonEvidenceInvariant
		}
	case types.KindNegativeResult:
		if refKind != types.RefToolOutput {
			return false, ReasonEvidenceInvariant
		}
		if !HasFailureSignal(statement) {
			return false, ReasonNegativeResultNoFailure
		}
	case types.KindFact:
		// any anchor is admissible
	}
	return true, ""
}
