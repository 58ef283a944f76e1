package ops_test

import (
	"context"
	"testing"
	"time"

	"github.com/memlogd/memlog/internal/ops"
	"github.com/memlogd/memlog/internal/types"
)

func TestGatesNotReadyOnFreshStore(t *testing.T) {
	store, log := newHarness(t)
	seedEpisode(t, store, log, "ep_gates_empty", "always pin the dependency versions")

	report, err := ops.Gates(context.Background(), store, 30, time.Now(), nil)
	if err != nil {
		t.Fatalf("gates: %v", err)
	}
	if report.ReadyForCausalInstrumentation {
		t.Fatalf("a fresh store with no terminal outcomes must not be ready for causal instrumentation")
	}
	if report.RetrievalStabilityPass {
		t.Fatalf("retrieval stability must fail with zero terminal outcomes")
	}
	if report.EventVolumePass {
		t.Fatalf("event volume gate must fail with far fewer than 100 events in 7 days")
	}
}

func TestGatesRetrievalStabilityPassesWithEnoughCleanOutcomes(t *testing.T) {
	store, log := newHarness(t)
	now := time.Now()

	for i := 0; i < 12; i++ {
		episodeID, _ := seedEpisode(t, store, log, fakeEpisodeID(i), fakeStatement(i))
		recordTerminalOutcome(t, store, log, episodeID, types.OutcomeToolSuccess, "ev_"+episodeID)
	}

	report, err := ops.Gates(context.Background(), store, 30, now, nil)
	if err != nil {
		t.Fatalf("gates: %v", err)
	}
	if report.EpisodesWithTerminalOutcomes != 12 {
		t.Fatalf("expected 12 episodes with terminal outcomes, got %d", report.EpisodesWithTerminalOutcomes)
	}
	if report.PrecisionProxy != 1.0 {
		t.Fatalf("expected precision_proxy 1.0 with all-success outcomes, got %v", report.PrecisionProxy)
	}
	if report.CorrectionRate != 0 {
		t.Fatalf("expected correction_rate 0, got %v", report.CorrectionRate)
	}
	if !report.RetrievalStabilityPass {
		t.Fatalf("expected retrieval stability to pass: %+v", report)
	}
}

func fakeEpisodeID(i int) string {
	return "ep_gates_" + string(rune('a'+i))
}

func fakeStatement(i int) string {
	statements := []string{
		"always pin the dependency versions",
		"never hardcode the staging credentials",
		"always run migrations before deploy",
		"never skip the integration test suite",
		"always rotate the access keys quarterly",
		"never merge without a passing build",
		"always tag releases with semver",
		"never deploy on a friday afternoon",
		"always back up the database before migrating",
		"never disable the linter in ci",
		"always review the changelog before release",
		"never push directly to the main branch",
	}
	return statements[i%len(statements)]
}
