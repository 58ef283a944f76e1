package ops_test

import (
	"context"
	"testing"

	"github.com/memlogd/memlog/internal/ops"
	"github.com/memlogd/memlog/internal/reducer"
	"github.com/memlogd/memlog/internal/storage/sqlite"
)

func TestFullRebuildPreservesActiveCardSet(t *testing.T) {
	store, log := newHarness(t)
	_, cardID := seedEpisode(t, store, log, "ep_rebuild_1", "always pin the dependency versions")

	ctx := context.Background()
	cardBefore, err := sqlite.GetCard(ctx, store.DB(), cardID)
	if err != nil {
		t.Fatalf("get card before: %v", err)
	}

	res, err := ops.FullRebuild(ctx, store, log, reducer.New(), true)
	if err != nil {
		t.Fatalf("full rebuild: %v", err)
	}
	if !res.Stable {
		t.Fatalf("expected a stable rebuild, digests: before=%s after=%s", res.DigestBefore, res.DigestAfter)
	}

	cardAfter, err := sqlite.GetCard(ctx, store.DB(), cardID)
	if err != nil {
		t.Fatalf("get card after: %v", err)
	}
	if cardAfter == nil {
		t.Fatalf("expected card %s to survive rebuild", cardID)
	}
	if cardAfter.Status != cardBefore.Status {
		t.Fatalf("rebuild changed card status: %s -> %s", cardBefore.Status, cardAfter.Status)
	}
}

func TestFullRebuildWithoutStabilityCheckSkipsSecondReplay(t *testing.T) {
	store, log := newHarness(t)
	seedEpisode(t, store, log, "ep_rebuild_2", "always pin the dependency versions")

	res, err := ops.FullRebuild(context.Background(), store, log, reducer.New(), false)
	if err != nil {
		t.Fatalf("full rebuild: %v", err)
	}
	if res.StabilityChecked {
		t.Fatalf("expected stability check to be skipped")
	}
	if res.DigestBefore != res.DigestAfter {
		t.Fatalf("a single rebuild of an unchanged log must reproduce the same digest")
	}
}
