package dispute_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/memlogd/memlog/internal/consolidate"
	"github.com/memlogd/memlog/internal/dispute"
	"github.com/memlogd/memlog/internal/eventlog"
	"github.com/memlogd/memlog/internal/ingest"
	"github.com/memlogd/memlog/internal/reducer"
	"github.com/memlogd/memlog/internal/storage/sqlite"
	"github.com/memlogd/memlog/internal/types"
)

func newHarness(t *testing.T) (*sqlite.Store, *eventlog.Log) {
	t.Helper()
	ctx := context.Background()
	store, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "memlog.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	log := eventlog.New(store, reducer.New())
	return store, log
}

// seedCard ingests one episode with a user-span evidence ref stating
// "always set the staging flag before deploying", consolidates it into a
// constraint card, and returns the episode and card IDs.
func seedCard(t *testing.T, store *sqlite.Store, log *eventlog.Log) (episodeID, cardID string) {
	t.Helper()
	ctx := context.Background()

	ig := ingest.New(store, log)
	res, err := ig.Ingest(ctx, ingest.EpisodeInput{
		EpisodeID:     "ep_dispute_test",
		UserText:      "please retry the deploy with the staging flag set",
		AssistantText: "ran the deploy",
		ScopeTier:     string(types.ScopeRepo),
		ScopeID:       "repo_1",
		EvidenceRefs: []ingest.EvidenceRefInput{
			{
				EvidenceRefID: "ev_1",
				RefKind:       string(types.RefUserSpan),
				TargetID:      "turn_1",
				ExcerptText:   "always set the staging flag before deploying",
			},
		},
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	co := consolidate.New(store, log)
	cres, err := co.Consolidate(ctx, res.EpisodeID)
	if err != nil {
		t.Fatalf("consolidate: %v", err)
	}
	if len(cres.Admitted) != 1 {
		t.Fatalf("expected exactly one admitted card, got %d (%v)", len(cres.Admitted), cres.Admitted)
	}
	return res.EpisodeID, cres.Admitted[0]
}

func TestRecordDisputeBelowThresholdLeavesCardActive(t *testing.T) {
	store, log := newHarness(t)
	episodeID, cardID := seedCard(t, store, log)

	d := dispute.New(store, log)
	res, err := d.RecordDispute(context.Background(), episodeID, cardID, "ev_1")
	if err != nil {
		t.Fatalf("record dispute: %v", err)
	}
	if res.Weight != 0.4 {
		t.Fatalf("expected user_span weight 0.4, got %v", res.Weight)
	}
	if res.ThresholdCrossed {
		t.Fatalf("single user_span dispute (0.4) should not cross the repo threshold (2.0)")
	}

	card, err := sqlite.GetCard(context.Background(), store.DB(), cardID)
	if err != nil {
		t.Fatalf("get card: %v", err)
	}
	if card.Status != types.StatusActive {
		t.Fatalf("expected card to remain active, got %s", card.Status)
	}
}

func TestRecordDisputeCrossingThresholdFlipsToNeedsRecheck(t *testing.T) {
	store, log := newHarness(t)
	episodeID, cardID := seedCard(t, store, log)
	d := dispute.New(store, log)
	ctx := context.Background()

	// Matches spec example 6: tool_output (1.0) then doc_span (0.7) leaves
	// mass at 1.7, below the repo threshold of 2.0; a second tool_output
	// dispute brings it to 2.7 and crosses.
	_, err := sqlite.InsertEvidenceRefIfAbsent(ctx, store.DB(), &types.EvidenceRef{
		EvidenceRefID: "ev_tool_1",
		EpisodeID:     episodeID,
		RefKind:       types.RefToolOutput,
		TargetID:      "tool_1",
		ExcerptText:   "build failed",
		RefHash:       "hash_tool_1",
	})
	if err != nil {
		t.Fatalf("insert tool evidence ref: %v", err)
	}
	_, err = sqlite.InsertEvidenceRefIfAbsent(ctx, store.DB(), &types.EvidenceRef{
		EvidenceRefID: "ev_doc_1",
		EpisodeID:     episodeID,
		RefKind:       types.RefDocSpan,
		TargetID:      "doc_1",
		ExcerptText:   "contradicted by the runbook",
		RefHash:       "hash_doc_1",
	})
	if err != nil {
		t.Fatalf("insert doc evidence ref: %v", err)
	}
	_, err = sqlite.InsertEvidenceRefIfAbsent(ctx, store.DB(), &types.EvidenceRef{
		EvidenceRefID: "ev_tool_2",
		EpisodeID:     episodeID,
		RefKind:       types.RefToolOutput,
		TargetID:      "tool_2",
		ExcerptText:   "build failed again",
		RefHash:       "hash_tool_2",
	})
	if err != nil {
		t.Fatalf("insert second tool evidence ref: %v", err)
	}

	if _, err := d.RecordDispute(ctx, episodeID, cardID, "ev_tool_1"); err != nil {
		t.Fatalf("dispute 1: %v", err)
	}
	res2, err := d.RecordDispute(ctx, episodeID, cardID, "ev_doc_1")
	if err != nil {
		t.Fatalf("dispute 2: %v", err)
	}
	if res2.ThresholdCrossed {
		t.Fatalf("mass 1.7 should not cross threshold 2.0")
	}

	res3, err := d.RecordDispute(ctx, episodeID, cardID, "ev_tool_2")
	if err != nil {
		t.Fatalf("dispute 3: %v", err)
	}
	if !res3.ThresholdCrossed {
		t.Fatalf("mass 2.7 should cross threshold 2.0, got mass=%v threshold=%v", res3.Mass, res3.Threshold)
	}

	card, err := sqlite.GetCard(ctx, store.DB(), cardID)
	if err != nil {
		t.Fatalf("get card: %v", err)
	}
	if card.Status != types.StatusNeedsRecheck {
		t.Fatalf("expected card status needs_recheck, got %s", card.Status)
	}

	// A further dispute against an already needs_recheck card must not
	// re-emit the transition (exactly once per crossing).
	res4, err := d.RecordDispute(ctx, episodeID, cardID, "ev_1")
	if err != nil {
		t.Fatalf("dispute 4: %v", err)
	}
	if res4.ThresholdCrossed {
		t.Fatalf("transition must fire exactly once per crossing")
	}
}

func TestRecordDisputeIsIdempotent(t *testing.T) {
	store, log := newHarness(t)
	episodeID, cardID := seedCard(t, store, log)
	d := dispute.New(store, log)
	ctx := context.Background()

	res1, err := d.RecordDispute(ctx, episodeID, cardID, "ev_1")
	if err != nil {
		t.Fatalf("dispute 1: %v", err)
	}
	res2, err := d.RecordDispute(ctx, episodeID, cardID, "ev_1")
	if err != nil {
		t.Fatalf("dispute 2: %v", err)
	}
	if res1.DisputeID != res2.DisputeID {
		t.Fatalf("expected stable dispute_id, got %s vs %s", res1.DisputeID, res2.DisputeID)
	}
	mass, err := sqlite.SumDisputeWeight(ctx, store.DB(), cardID)
	if err != nil {
		t.Fatalf("sum dispute weight: %v", err)
	}
	if mass != 0.4 {
		t.Fatalf("re-recording the same (card, evidence_ref) dispute must not double the mass, got %v", mass)
	}
}

func TestRecordDisputeUnknownCardFails(t *testing.T) {
	store, log := newHarness(t)
	_, _ = seedCard(t, store, log)
	d := dispute.New(store, log)
	if _, err := d.RecordDispute(context.Background(), "ep_dispute_test", "card_does_not_exist", "ev_1"); err == nil {
		t.Fatalf("expected an error for an unknown card")
	}
}

func TestRecordOutcomeRejectsUnknownType(t *testing.T) {
	store, log := newHarness(t)
	episodeID, _ := seedCard(t, store, log)
	d := dispute.New(store, log)
	if _, err := d.RecordOutcome(context.Background(), episodeID, types.OutcomeType("not_a_real_type"), nil, ""); err == nil {
		t.Fatalf("expected an error for an unknown outcome type")
	}
}

func TestRecordOutcomeIsIdempotentAndOrdered(t *testing.T) {
	store, log := newHarness(t)
	episodeID, _ := seedCard(t, store, log)
	d := dispute.New(store, log)
	ctx := context.Background()

	o1, err := d.RecordOutcome(ctx, episodeID, types.OutcomeToolFailure, []string{"ev_1"}, "")
	if err != nil {
		t.Fatalf("record outcome 1: %v", err)
	}
	if o1.SeqNo != 1 {
		t.Fatalf("expected first outcome seq_no 1, got %d", o1.SeqNo)
	}

	o1Again, err := d.RecordOutcome(ctx, episodeID, types.OutcomeToolFailure, []string{"ev_1"}, "")
	if err != nil {
		t.Fatalf("record outcome 1 again: %v", err)
	}
	if o1Again.OutcomeID != o1.OutcomeID || o1Again.SeqNo != o1.SeqNo {
		t.Fatalf("re-recording an identical outcome must be idempotent: %+v vs %+v", o1, o1Again)
	}

	o2, err := d.RecordOutcome(ctx, episodeID, types.OutcomeUserConfirmedHelpful, []string{"ev_1"}, `{"note":"second"}`)
	if err != nil {
		t.Fatalf("record outcome 2: %v", err)
	}
	if o2.SeqNo != 2 {
		t.Fatalf("expected second distinct outcome seq_no 2, got %d", o2.SeqNo)
	}

	outcomes, err := sqlite.ListOutcomesByEpisode(ctx, store.DB(), episodeID)
	if err != nil {
		t.Fatalf("list outcomes: %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("expected 2 distinct outcomes recorded, got %d", len(outcomes))
	}
}
