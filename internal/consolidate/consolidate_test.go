package consolidate_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/memlogd/memlog/internal/consolidate"
	"github.com/memlogd/memlog/internal/eventlog"
	"github.com/memlogd/memlog/internal/ingest"
	"github.com/memlogd/memlog/internal/reducer"
	"github.com/memlogd/memlog/internal/storage/sqlite"
	"github.com/memlogd/memlog/internal/types"
)

type harness struct {
	store *sqlite.Store
	log   *eventlog.Log
	ing   *ingest.Ingester
	cons  *consolidate.Consolidator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "memlog.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	log := eventlog.New(store, reducer.New())
	return &harness{
		store: store,
		log:   log,
		ing:   ingest.New(store, log),
		cons:  consolidate.New(store, log),
	}
}

func (h *harness) recordEpisode(t *testing.T, episodeID, excerpt string) *ingest.Result {
	t.Helper()
	res, err := h.ing.Ingest(context.Background(), ingest.EpisodeInput{
		EpisodeID:     episodeID,
		UserText:      "a turn worth remembering",
		AssistantText: "acknowledged",
		ScopeTier:     string(types.ScopeRepo),
		ScopeID:       "repo_1",
		EvidenceRefs: []ingest.EvidenceRefInput{
			{
				EvidenceRefID: "ev_" + episodeID,
				RefKind:       string(types.RefUserSpan),
				TargetID:      "turn_1",
				ExcerptText:   excerpt,
			},
		},
	})
	if err != nil {
		t.Fatalf("record-episode %s: %v", episodeID, err)
	}
	return res
}

func TestConsolidateAdmitsOneCardFromOneEvidenceRef(t *testing.T) {
	h := newHarness(t)
	res := h.recordEpisode(t, "ep_1", "always pin dependency versions in lockfiles")

	cres, err := h.cons.Consolidate(context.Background(), res.EpisodeID)
	if err != nil {
		t.Fatalf("consolidate: %v", err)
	}
	if len(cres.Admitted) != 1 {
		t.Fatalf("expected exactly one admitted card, got %+v", cres)
	}
	if cres.Proposed != 1 {
		t.Fatalf("expected exactly one proposed candidate, got %d", cres.Proposed)
	}
}

func TestConsolidateIsIdempotentAcrossRepeatCalls(t *testing.T) {
	h := newHarness(t)
	res := h.recordEpisode(t, "ep_1", "never hardcode credentials in source")

	first, err := h.cons.Consolidate(context.Background(), res.EpisodeID)
	if err != nil {
		t.Fatalf("first consolidate: %v", err)
	}
	second, err := h.cons.Consolidate(context.Background(), res.EpisodeID)
	if err != nil {
		t.Fatalf("second consolidate: %v", err)
	}
	if len(second.Admitted) != 0 {
		t.Fatalf("expected a repeat consolidate to admit nothing new, got %+v", second.Admitted)
	}
	if len(first.Admitted) != 1 {
		t.Fatalf("expected the first consolidate to admit one card, got %+v", first.Admitted)
	}
}

func TestConsolidateRejectsExactRestatementAcrossEpisodesAsDuplicate(t *testing.T) {
	h := newHarness(t)
	first := h.recordEpisode(t, "ep_1", "always pin dependency versions in lockfiles")
	if _, err := h.cons.Consolidate(context.Background(), first.EpisodeID); err != nil {
		t.Fatalf("consolidate ep_1: %v", err)
	}

	second := h.recordEpisode(t, "ep_2", "always pin dependency versions in lockfiles")
	cres, err := h.cons.Consolidate(context.Background(), second.EpisodeID)
	if err != nil {
		t.Fatalf("consolidate ep_2: %v", err)
	}
	if len(cres.Admitted) != 0 {
		t.Fatalf("expected the exact restatement not to mint a new card, got admitted=%+v", cres.Admitted)
	}
	if len(cres.Rejected) != 1 || cres.Rejected[0].ReasonCode != consolidate.ReasonDuplicateOfExisting {
		t.Fatalf("expected exactly one duplicate_of_existing_card rejection, got %+v", cres)
	}
}

func TestConsolidateUnknownEpisodeErrors(t *testing.T) {
	h := newHarness(t)
	if _, err := h.cons.Consolidate(context.Background(), "ep_does_not_exist"); err == nil {
		t.Fatal("expected an error for an unknown episode id")
	}
}

func TestConsolidateReAdmitsExactRestatementOfDeprecatedCard(t *testing.T) {
	h := newHarness(t)
	first := h.recordEpisode(t, "ep_1", "always pin dependency versions in lockfiles")
	firstRes, err := h.cons.Consolidate(context.Background(), first.EpisodeID)
	if err != nil {
		t.Fatalf("consolidate ep_1: %v", err)
	}
	if len(firstRes.Admitted) != 1 {
		t.Fatalf("expected the first episode to admit one card, got %+v", firstRes)
	}
	cardID := firstRes.Admitted[0]

	// Simulate the card having since been superseded (spec.md §8 scenario 2's
	// shape): it's now deprecated rather than active.
	card, err := sqlite.GetCard(context.Background(), h.store.DB(), cardID)
	if err != nil {
		t.Fatalf("get card: %v", err)
	}
	card.Status = types.StatusDeprecated
	if err := sqlite.UpsertCard(context.Background(), h.store.DB(), card); err != nil {
		t.Fatalf("deprecate card: %v", err)
	}

	// Re-stating the exact same statement must not be rejected as a
	// duplicate of, or merged into, the now-deprecated card.
	second := h.recordEpisode(t, "ep_2", "always pin dependency versions in lockfiles")
	secondRes, err := h.cons.Consolidate(context.Background(), second.EpisodeID)
	if err != nil {
		t.Fatalf("consolidate ep_2: %v", err)
	}
	if len(secondRes.Rejected) != 0 {
		t.Fatalf("expected no rejections for the restatement, got %+v", secondRes.Rejected)
	}
	if len(secondRes.Merged) != 0 {
		t.Fatalf("expected the restatement not to merge into the deprecated card, got merged=%+v", secondRes.Merged)
	}
	if len(secondRes.Admitted) != 1 {
		t.Fatalf("expected the restatement to admit a live card, got %+v", secondRes)
	}

	got, err := sqlite.GetCard(context.Background(), h.store.DB(), secondRes.Admitted[0])
	if err != nil {
		t.Fatalf("get admitted card: %v", err)
	}
	if got.Status != types.StatusActive {
		t.Fatalf("expected the re-admitted card to be active, got %v", got.Status)
	}
}

func TestConsolidateRejectsBelowNoveltyRestatement(t *testing.T) {
	h := newHarness(t)
	first := h.recordEpisode(t, "ep_1", "always pin dependency versions in the project lockfile")
	if _, err := h.cons.Consolidate(context.Background(), first.EpisodeID); err != nil {
		t.Fatalf("consolidate ep_1: %v", err)
	}

	// A near-identical but not byte-identical restatement should be caught
	// by the duplicate/novelty gates rather than minting a second card.
	second := h.recordEpisode(t, "ep_2", "always pin the dependency versions in project lockfiles")
	cres, err := h.cons.Consolidate(context.Background(), second.EpisodeID)
	if err != nil {
		t.Fatalf("consolidate ep_2: %v", err)
	}
	if len(cres.Admitted) != 0 {
		t.Fatalf("expected the near-duplicate restatement not to admit a distinct new card, got %+v", cres.Admitted)
	}
}
