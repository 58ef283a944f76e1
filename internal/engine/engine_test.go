package engine_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/memlogd/memlog/internal/engine"
	"github.com/memlogd/memlog/internal/ingest"
	"github.com/memlogd/memlog/internal/retrieval"
	"github.com/memlogd/memlog/internal/types"
)

func openEngine(t *testing.T) *engine.Engine {
	t.Helper()
	e, err := engine.Open(context.Background(), filepath.Join(t.TempDir(), "memlog.db"), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func recordEpisode(t *testing.T, e *engine.Engine, episodeID, excerpt string) *ingest.Result {
	t.Helper()
	res, err := e.RecordEpisode(context.Background(), ingest.EpisodeInput{
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
		t.Fatalf("record-episode: %v", err)
	}
	return res
}

// TestEngineOpenTakesSingleWriterLock exercises the flock-backed guard
// (SPEC_FULL.md §5): a second Open against the same db path must fail fast
// instead of blocking, since a CLI invocation never waits.
func TestEngineOpenTakesSingleWriterLock(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "memlog.db")
	first, err := engine.Open(context.Background(), dbPath, nil)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	defer first.Close()

	_, err = engine.Open(context.Background(), dbPath, nil)
	if err == nil {
		t.Fatal("expected second Open against a locked db to fail")
	}
	if engine.KindOf(err) != engine.KindPersistenceFailure {
		t.Fatalf("expected KindPersistenceFailure, got %v", engine.KindOf(err))
	}
}

// TestRecordEpisodeThenConsolidateAdmitsCard runs scenario 1 from spec.md §8:
// one fresh episode with a single evidence ref admits exactly one card.
func TestRecordEpisodeThenConsolidateAdmitsCard(t *testing.T) {
	e := openEngine(t)
	res := recordEpisode(t, e, "ep_1", "always pin dependency versions")

	cres, err := e.Consolidate(context.Background(), res.EpisodeID)
	if err != nil {
		t.Fatalf("consolidate: %v", err)
	}
	if len(cres.Admitted) != 1 {
		t.Fatalf("expected one admitted card, got %d", len(cres.Admitted))
	}

	ledger, err := e.Ledger(context.Background(), res.EpisodeID)
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	if ledger == nil {
		t.Fatal("expected a recorded ledger row")
	}
}

// TestConsolidateUnknownEpisodeIsNotFound confirms the façade classifies a
// missing episode id as KindNotFound rather than a generic failure.
func TestConsolidateUnknownEpisodeIsNotFound(t *testing.T) {
	e := openEngine(t)
	_, err := e.Consolidate(context.Background(), "ep_does_not_exist")
	if err == nil {
		t.Fatal("expected an error for an unknown episode")
	}
	if engine.KindOf(err) != engine.KindNotFound {
		t.Fatalf("expected KindNotFound, got %v", engine.KindOf(err))
	}
	if engine.ExitCode(err) != 1 {
		t.Fatalf("expected exit code 1, got %d", engine.ExitCode(err))
	}
}

// TestRecordOutcomeRejectsUnknownType confirms RecordOutcome validates
// against the closed OutcomeType set and maps a bad value to exit code 2.
func TestRecordOutcomeRejectsUnknownType(t *testing.T) {
	e := openEngine(t)
	res := recordEpisode(t, e, "ep_2", "never hardcode credentials")

	_, err := e.RecordOutcome(context.Background(), res.EpisodeID, types.OutcomeType("not_a_real_outcome"), nil, "{}")
	if err == nil {
		t.Fatal("expected an error for an invalid outcome type")
	}
	if engine.KindOf(err) != engine.KindInvalidInput {
		t.Fatalf("expected KindInvalidInput, got %v", engine.KindOf(err))
	}
	if engine.ExitCode(err) != 2 {
		t.Fatalf("expected exit code 2, got %d", engine.ExitCode(err))
	}
}

// TestPackPersistsSnapshotAndSearchDoesNot confirms Pack records a pack
// snapshot (explainable via ExplainPack) while Search, scoring the exact
// same query, leaves no snapshot behind.
func TestPackPersistsSnapshotAndSearchDoesNot(t *testing.T) {
	e := openEngine(t)
	res := recordEpisode(t, e, "ep_3", "retry network calls with backoff")
	if _, err := e.Consolidate(context.Background(), res.EpisodeID); err != nil {
		t.Fatalf("consolidate: %v", err)
	}

	in := retrieval.PackInput{
		EpisodeID:   res.EpisodeID,
		QueryText:   "how should network calls retry",
		DesiredTier: types.ScopeRepo,
		ScopeID:     "repo_1",
		Channel:     types.ChannelAutoPack,
	}
	packRes, err := e.Pack(context.Background(), in)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}

	snap, err := e.ExplainPack(context.Background(), res.EpisodeID, packRes.PackID)
	if err != nil {
		t.Fatalf("explain-pack: %v", err)
	}
	if snap.PackID != packRes.PackID {
		t.Fatalf("expected snapshot %s, got %s", packRes.PackID, snap.PackID)
	}

	in.Channel = types.ChannelSearch
	if _, err := e.Search(context.Background(), in, 10, false); err != nil {
		t.Fatalf("search: %v", err)
	}

	_, err = e.ExplainPack(context.Background(), res.EpisodeID, "")
	if err != nil {
		t.Fatalf("explain-pack after search: %v", err)
	}
	// the most recent pack for the episode is still the one Pack recorded,
	// since Search never writes a snapshot.
	latest, err := e.ExplainPack(context.Background(), res.EpisodeID, "")
	if err != nil {
		t.Fatalf("explain-pack latest: %v", err)
	}
	if latest.PackID != packRes.PackID {
		t.Fatalf("expected latest pack to still be %s, got %s (Search must not persist)", packRes.PackID, latest.PackID)
	}
}

// TestExportEventsOrderedBySeqNo confirms the literal spec.md §6 export
// shape: one event per seq_no, ascending, with no card-trail fields.
func TestExportEventsOrderedBySeqNo(t *testing.T) {
	e := openEngine(t)
	res := recordEpisode(t, e, "ep_4", "document the rollback procedure")

	events, err := e.ExportEvents(context.Background(), res.EpisodeID)
	if err != nil {
		t.Fatalf("export-events: %v", err)
	}
	if len(events) == 0 {
		t.Fatal("expected at least one exported event")
	}
	for i := 1; i < len(events); i++ {
		if events[i].SeqNo <= events[i-1].SeqNo {
			t.Fatalf("expected ascending seq_no, got %d then %d", events[i-1].SeqNo, events[i].SeqNo)
		}
	}
}

// TestExportCardRequiresCardID confirms ExportCard rejects an empty card id
// with KindInvalidInput rather than silently falling back to an episode scan.
func TestExportCardRequiresCardID(t *testing.T) {
	e := openEngine(t)
	_, err := e.ExportCard(context.Background(), "")
	if engine.KindOf(err) != engine.KindInvalidInput {
		t.Fatalf("expected KindInvalidInput, got %v", engine.KindOf(err))
	}
}

// TestExportCardUnknownIsNotFound confirms a well-formed but unknown card id
// surfaces as KindNotFound.
func TestExportCardUnknownIsNotFound(t *testing.T) {
	e := openEngine(t)
	_, err := e.ExportCard(context.Background(), "card_does_not_exist")
	if engine.KindOf(err) != engine.KindNotFound {
		t.Fatalf("expected KindNotFound, got %v", engine.KindOf(err))
	}
}

// TestFullRebuildPreservesLedgerAdmittedCount exercises the rebuild/ops
// surface through the façade: replaying the log from scratch must not change
// the episode's ledger outcome.
func TestFullRebuildPreservesLedgerAdmittedCount(t *testing.T) {
	e := openEngine(t)
	res := recordEpisode(t, e, "ep_5", "use context.Context for cancellation")
	if _, err := e.Consolidate(context.Background(), res.EpisodeID); err != nil {
		t.Fatalf("consolidate: %v", err)
	}

	before, err := e.Ledger(context.Background(), res.EpisodeID)
	if err != nil {
		t.Fatalf("ledger before rebuild: %v", err)
	}

	if _, err := e.FullRebuild(context.Background(), true); err != nil {
		t.Fatalf("full-rebuild: %v", err)
	}

	after, err := e.Ledger(context.Background(), res.EpisodeID)
	if err != nil {
		t.Fatalf("ledger after rebuild: %v", err)
	}
	beforeAdmitted := before.Counts[string(types.EventCardAdmitted)]
	afterAdmitted := after.Counts[string(types.EventCardAdmitted)]
	if beforeAdmitted != afterAdmitted {
		t.Fatalf("expected stable admitted count across rebuild, got %d then %d", beforeAdmitted, afterAdmitted)
	}
}

// TestStatusCombinesGatesAndHealth confirms Status surfaces both reports
// rather than duplicating the bare Gates view.
func TestStatusCombinesGatesAndHealth(t *testing.T) {
	e := openEngine(t)
	recordEpisode(t, e, "ep_6", "avoid global mutable state")

	report, err := e.Status(context.Background(), 30)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if report.Gates == nil || report.Health == nil {
		t.Fatal("expected both a gate report and a health report")
	}
}
