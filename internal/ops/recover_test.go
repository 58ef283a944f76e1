package ops_test

import (
	"context"
	"testing"
	"time"

	"github.com/memlogd/memlog/internal/hashutil"
	"github.com/memlogd/memlog/internal/ops"
	"github.com/memlogd/memlog/internal/storage/sqlite"
	"github.com/memlogd/memlog/internal/types"
)

// TestRecoverRepairsEpisodeMissingRecordedEvent simulates a crash between
// internal/ingest's row insert and its matching event append: the episode
// row exists but created_event_id was never stamped, so its episode_recorded
// event was never written either.
func TestRecoverRepairsEpisodeMissingRecordedEvent(t *testing.T) {
	store, log := newHarness(t)
	ctx := context.Background()

	started := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	payloadRecord := map[string]interface{}{
		"episode_id":     "ep_orphan",
		"user_text":      "orphaned turn",
		"assistant_text": "",
		"model_name":     "",
		"scope_tier":     "repo",
		"scope_id":       "repo_1",
		"metadata_json":  "{}",
		"started_at":     started,
		"ended_at":       started,
	}
	_, payloadHash, err := hashutil.HashJSON(payloadRecord)
	if err != nil {
		t.Fatalf("hash payload: %v", err)
	}

	inserted, err := sqlite.InsertEpisodeIfAbsent(ctx, store.DB(), &types.Episode{
		EpisodeID:    "ep_orphan",
		UserText:     "orphaned turn",
		ScopeTier:    types.ScopeRepo,
		ScopeID:      "repo_1",
		MetadataJSON: "{}",
		StartedAt:    started,
		EndedAt:      started,
		PayloadHash:  payloadHash,
	})
	if err != nil {
		t.Fatalf("insert orphan episode: %v", err)
	}
	if !inserted {
		t.Fatalf("expected the orphan episode row to be freshly inserted")
	}

	before, err := sqlite.EventRowByIdempotencyKey(ctx, store.DB(), "episode_recorded:ep_orphan:"+payloadHash)
	if err != nil {
		t.Fatalf("check pre-recover event: %v", err)
	}
	if before != nil {
		t.Fatalf("episode_recorded event should not exist before recovery")
	}

	res, err := ops.Recover(ctx, store, log, false)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if len(res.EpisodesRepaired) != 1 || res.EpisodesRepaired[0] != "ep_orphan" {
		t.Fatalf("expected ep_orphan to be listed as repaired, got %+v", res.EpisodesRepaired)
	}

	after, err := sqlite.EventRowByIdempotencyKey(ctx, store.DB(), "episode_recorded:ep_orphan:"+payloadHash)
	if err != nil {
		t.Fatalf("check post-recover event: %v", err)
	}
	if after == nil {
		t.Fatalf("expected episode_recorded event to exist after recovery")
	}

	ep, err := sqlite.GetEpisode(ctx, store.DB(), "ep_orphan")
	if err != nil {
		t.Fatalf("get episode: %v", err)
	}
	if ep.CreatedEventID != after.EventID {
		t.Fatalf("expected episode created_event_id to be stamped to %d, got %d", after.EventID, ep.CreatedEventID)
	}

	// Running recover again must be a no-op: the row now has its event.
	res2, err := ops.Recover(ctx, store, log, false)
	if err != nil {
		t.Fatalf("recover again: %v", err)
	}
	if len(res2.EpisodesRepaired) != 0 {
		t.Fatalf("expected no further episode repairs, got %+v", res2.EpisodesRepaired)
	}
}

func TestRecoverSkipsEpisodesThatAlreadyHaveConsolidationTriggered(t *testing.T) {
	store, log := newHarness(t)
	ctx := context.Background()
	_, _ = seedEpisode(t, store, log, "ep_recover_consolidated", "always pin the dependency versions")

	// Delete the consolidation_triggered event's projection footprint isn't
	// needed here -- ep_recover_consolidated already has one from ingest, so
	// recover should find zero untouched episodes.
	res, err := ops.Recover(ctx, store, log, false)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if len(res.ConsolidationTriggered) != 0 {
		t.Fatalf("expected no missing consolidation_triggered events, got %+v", res.ConsolidationTriggered)
	}
}
