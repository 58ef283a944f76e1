package ops_test

import (
	"context"
	"testing"

	"github.com/memlogd/memlog/internal/ops"
	"github.com/memlogd/memlog/internal/reducer"
)

func TestDigestStableAcrossRepeatedCalls(t *testing.T) {
	store, log := newHarness(t)
	seedEpisode(t, store, log, "ep_digest_1", "always pin the dependency versions")

	ctx := context.Background()
	d1, err := ops.Digest(ctx, store)
	if err != nil {
		t.Fatalf("digest 1: %v", err)
	}
	d2, err := ops.Digest(ctx, store)
	if err != nil {
		t.Fatalf("digest 2: %v", err)
	}
	if d1 != d2 {
		t.Fatalf("digest must be stable across calls against unchanged projections: %s vs %s", d1, d2)
	}
}

func TestDigestChangesWithNewContent(t *testing.T) {
	store, log := newHarness(t)
	seedEpisode(t, store, log, "ep_digest_2", "always pin the dependency versions")

	ctx := context.Background()
	before, err := ops.Digest(ctx, store)
	if err != nil {
		t.Fatalf("digest before: %v", err)
	}

	seedEpisode(t, store, log, "ep_digest_3", "never hardcode the staging credentials")

	after, err := ops.Digest(ctx, store)
	if err != nil {
		t.Fatalf("digest after: %v", err)
	}
	if before == after {
		t.Fatalf("digest must change when new cards are admitted")
	}
}

func TestDigestEqualAfterReplay(t *testing.T) {
	store, log := newHarness(t)
	seedEpisode(t, store, log, "ep_digest_replay", "always pin the dependency versions")

	ctx := context.Background()
	before, err := ops.Digest(ctx, store)
	if err != nil {
		t.Fatalf("digest before replay: %v", err)
	}

	if err := log.Replay(ctx, reducer.New()); err != nil {
		t.Fatalf("replay: %v", err)
	}

	after, err := ops.Digest(ctx, store)
	if err != nil {
		t.Fatalf("digest after replay: %v", err)
	}
	if before != after {
		t.Fatalf("digest(projection) must equal digest(replay(projection)): %s vs %s", before, after)
	}
}
