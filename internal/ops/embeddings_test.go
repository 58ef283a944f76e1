package ops_test

import (
	"context"
	"testing"

	"github.com/memlogd/memlog/internal/ops"
	"github.com/memlogd/memlog/internal/storage/sqlite"
)

func TestMigrateEmbeddingsRecomputesForNewModel(t *testing.T) {
	store, log := newHarness(t)
	_, cardID := seedEpisode(t, store, log, "ep_embed_1", "always pin the dependency versions")

	ctx := context.Background()
	before, err := sqlite.GetCardEmbedding(ctx, store.DB(), cardID)
	if err != nil {
		t.Fatalf("get embedding before: %v", err)
	}
	if before.Model == "pseudo-v2" {
		t.Fatalf("test setup assumption broken: card already tagged pseudo-v2")
	}

	res, err := ops.MigrateEmbeddings(ctx, store, "pseudo-v2", "", 0)
	if err != nil {
		t.Fatalf("migrate embeddings: %v", err)
	}
	if len(res.Recomputed) != 1 || res.Recomputed[0] != cardID {
		t.Fatalf("expected exactly %s to be recomputed, got %+v", cardID, res.Recomputed)
	}

	after, err := sqlite.GetCardEmbedding(ctx, store.DB(), cardID)
	if err != nil {
		t.Fatalf("get embedding after: %v", err)
	}
	if after.Model != "pseudo-v2" {
		t.Fatalf("expected model tag pseudo-v2, got %s", after.Model)
	}
	if len(after.Vector) != before.Dim {
		t.Fatalf("expected unchanged default dimension %d, got %d", before.Dim, len(after.Vector))
	}
}

func TestMigrateEmbeddingsFiltersByFromModel(t *testing.T) {
	store, log := newHarness(t)
	_, cardID := seedEpisode(t, store, log, "ep_embed_2", "always pin the dependency versions")

	ctx := context.Background()
	res, err := ops.MigrateEmbeddings(ctx, store, "pseudo-v2", "model_nobody_has", 0)
	if err != nil {
		t.Fatalf("migrate embeddings: %v", err)
	}
	if len(res.Recomputed) != 0 {
		t.Fatalf("expected no cards tagged with the nonexistent from-model, got %+v", res.Recomputed)
	}

	emb, err := sqlite.GetCardEmbedding(ctx, store.DB(), cardID)
	if err != nil {
		t.Fatalf("get embedding: %v", err)
	}
	if emb.Model == "pseudo-v2" {
		t.Fatalf("card should not have been touched by an unmatched from-model filter")
	}
}
