package ops

import (
	"context"
	"fmt"

	"github.com/memlogd/memlog/internal/hashutil"
	"github.com/memlogd/memlog/internal/storage/sqlite"
	"github.com/memlogd/memlog/internal/types"
)

// MigrateEmbeddingsResult summarizes one embedding migration run.
type MigrateEmbeddingsResult struct {
	ToModel    string   `json:"to_model"`
	Dim        int      `json:"dim"`
	Recomputed []string `json:"recomputed"`
}

// MigrateEmbeddings recomputes the pseudo-embedding for every card (spec.md
// §7 migration path), tagging rows with toModel and, when set, using dim in
// place of the library default. When fromModel is non-empty, only cards
// currently tagged with that model are touched -- an incremental migration
// rather than a full recompute.
func MigrateEmbeddings(ctx context.Context, store *sqlite.Store, toModel, fromModel string, dim int) (*MigrateEmbeddingsResult, error) {
	if dim <= 0 {
		dim = hashutil.PseudoEmbeddingDim
	}
	db := store.DB()

	var cardIDs []string
	if fromModel != "" {
		existing, err := sqlite.ListEmbeddingsByModel(ctx, db, fromModel)
		if err != nil {
			return nil, fmt.Errorf("ops: migrate-embeddings failed to list embeddings for model %q: %w", fromModel, err)
		}
		for _, e := range existing {
			cardIDs = append(cardIDs, e.CardID)
		}
	} else {
		cards, err := sqlite.ListAllCards(ctx, db)
		if err != nil {
			return nil, fmt.Errorf("ops: migrate-embeddings failed to list cards: %w", err)
		}
		for _, c := range cards {
			cardIDs = append(cardIDs, c.CardID)
		}
	}

	res := &MigrateEmbeddingsResult{ToModel: toModel, Dim: dim}
	for _, cardID := range cardIDs {
		card, err := sqlite.GetCard(ctx, db, cardID)
		if err != nil {
			return nil, fmt.Errorf("ops: migrate-embeddings failed to load card %s: %w", cardID, err)
		}
		if card == nil {
			continue
		}
		vec := hashutil.PseudoEmbedding(card.Statement, toModel)
		if dim != hashutil.PseudoEmbeddingDim {
			vec = resizeVector(vec, dim)
		}
		err = sqlite.UpsertCardEmbedding(ctx, db, &types.CardEmbedding{
			CardID:         card.CardID,
			Model:          toModel,
			Dim:            dim,
			Vector:         vec,
			UpdatedEventID: card.UpdatedEventID,
		})
		if err != nil {
			return nil, fmt.Errorf("ops: migrate-embeddings failed to upsert embedding for %s: %w", cardID, err)
		}
		res.Recomputed = append(res.Recomputed, cardID)
	}
	return res, nil
}

// resizeVector truncates or zero-pads a pseudo-embedding to a requested
// dimension; the default PseudoEmbeddingDim is chosen to exercise the
// common case without ever needing this path.
func resizeVector(vec []float64, dim int) []float64 {
	out := make([]float64, dim)
	copy(out, vec)
	return out
}
