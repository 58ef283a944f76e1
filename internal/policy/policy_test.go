package policy_test

import (
	"testing"

	"github.com/memlogd/memlog/internal/policy"
	"github.com/memlogd/memlog/internal/types"
)

func TestBudgetKnownPairReturnsConfiguredCap(t *testing.T) {
	got := policy.Budget(types.ScopeRepo, types.KindFact)
	if got != 300 {
		t.Fatalf("expected repo/fact budget 300, got %d", got)
	}
}

func TestBudgetUnknownPairReturnsZero(t *testing.T) {
	got := policy.Budget(types.ScopeTier("nonexistent"), types.KindFact)
	if got != 0 {
		t.Fatalf("expected 0 for an unknown scope tier, got %d", got)
	}
}

func TestPackSlotGroupsConstraintsPreferenceAndCommitment(t *testing.T) {
	slots := map[types.CardKind]string{
		types.KindPreference:     "constraints_commitments",
		types.KindConstraint:     "constraints_commitments",
		types.KindCommitment:     "constraints_commitments",
		types.KindNegativeResult: "negative_result",
		types.KindTactic:         "tactic",
		types.KindFact:           "fact",
	}
	for kind, want := range slots {
		if got := policy.PackSlot(kind); got != want {
			t.Fatalf("PackSlot(%v) = %q, want %q", kind, got, want)
		}
	}
}

func TestSlotCapMatchesConfiguredConstants(t *testing.T) {
	cases := map[string]int{
		"constraints_commitments": policy.SlotConstraintsCap,
		"negative_result":         policy.SlotNegativeCap,
		"tactic":                  policy.SlotTacticCap,
		"fact":                    policy.SlotFactCap,
		"unknown_slot":            0,
	}
	for slot, want := range cases {
		if got := policy.SlotCap(slot); got != want {
			t.Fatalf("SlotCap(%q) = %d, want %d", slot, got, want)
		}
	}
}

func TestStoreBoundednessGrowthHasAFloorOfFive(t *testing.T) {
	if got := policy.StoreBoundednessGrowth(0); got != 5 {
		t.Fatalf("expected a floor of 5 for zero active cards, got %d", got)
	}
	if got := policy.StoreBoundednessGrowth(10); got != 5 {
		t.Fatalf("expected floor of 5 when 20%% of active cards is below it, got %d", got)
	}
}

func TestStoreBoundednessGrowthScalesWithActiveCards(t *testing.T) {
	got := policy.StoreBoundednessGrowth(1000)
	if got != 200 {
		t.Fatalf("expected 20%% of 1000 = 200, got %d", got)
	}
}

func TestDisputeThresholdIncreasesWithScopeBreadth(t *testing.T) {
	repo := policy.DisputeThreshold[types.ScopeRepo]
	domain := policy.DisputeThreshold[types.ScopeDomain]
	global := policy.DisputeThreshold[types.ScopeGlobal]
	if !(repo < domain && domain < global) {
		t.Fatalf("expected dispute thresholds to increase repo < domain < global, got %v, %v, %v", repo, domain, global)
	}
}

func TestScoringWeightsSumToOnePointZeroTwo(t *testing.T) {
	sum := policy.WeightLexical + policy.WeightSemantic + policy.WeightScope +
		policy.WeightKindPrior + policy.WeightTruth + policy.WeightUtility + policy.WeightRecency
	if diff := sum - 1.02; diff > 0.0001 || diff < -0.0001 {
		t.Fatalf("expected scoring weights to sum to 1.02, got %v", sum)
	}
}

func TestEveryCardKindHasAKindPriorityAndPrior(t *testing.T) {
	kinds := []types.CardKind{
		types.KindConstraint, types.KindCommitment, types.KindPreference,
		types.KindNegativeResult, types.KindTactic, types.KindFact,
	}
	for _, k := range kinds {
		if _, ok := policy.KindPriority[k]; !ok {
			t.Fatalf("expected KindPriority to cover %v", k)
		}
		if _, ok := policy.KindPrior[k]; !ok {
			t.Fatalf("expected KindPrior to cover %v", k)
		}
		if _, ok := policy.EpisodeKindCap[k]; !ok {
			t.Fatalf("expected EpisodeKindCap to cover %v", k)
		}
	}
}
