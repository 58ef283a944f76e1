package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/memlogd/memlog/internal/types"
)

// UpsertCardEmbedding replaces a card's pseudo-embedding, used when a card is
// admitted and by embedding migration (spec.md §7 migration path).
func UpsertCardEmbedding(ctx context.Context, tx DBTX, e *types.CardEmbedding) error {
	vecJSON, err := json.Marshal(e.Vector)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding vector: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO card_embeddings (card_id, model, dim, vector_json, updated_event_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(card_id) DO UPDATE SET
			model = excluded.model,
			dim = excluded.dim,
			vector_json = excluded.vector_json,
			updated_event_id = excluded.updated_event_id
	`, e.CardID, e.Model, e.Dim, string(vecJSON), e.UpdatedEventID)
	if err != nil {
		return fmt.Errorf("failed to upsert card embedding: %w", err)
	}
	return nil
}

// GetCardEmbedding loads one card's embedding, or nil if not yet computed.
func GetCardEmbedding(ctx context.Context, q DBTX, cardID string) (*types.CardEmbedding, error) {
	var e types.CardEmbedding
	var vecJSON string
	err := q.QueryRowContext(ctx, `
		SELECT card_id, model, dim, vector_json, updated_event_id
		FROM card_embeddings WHERE card_id = ?
	`, cardID).Scan(&e.CardID, &e.Model, &e.Dim, &vecJSON, &e.UpdatedEventID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get card embedding: %w", err)
	}
	if err := json.Unmarshal([]byte(vecJSON), &e.Vector); err != nil {
		return nil, fmt.Errorf("failed to unmarshal embedding vector: %w", err)
	}
	return &e, nil
}

// ListEmbeddingsByModel returns every embedding tagged with a given model,
// used by migration to find stale vectors that still need recomputation.
func ListEmbeddingsByModel(ctx context.Context, q DBTX, model string) ([]*types.CardEmbedding, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT card_id, model, dim, vector_json, updated_event_id
		FROM card_embeddings WHERE model = ?
	`, model)
	if err != nil {
		return nil, fmt.Errorf("failed to list embeddings by model: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*types.CardEmbedding
	for rows.Next() {
		var e types.CardEmbedding
		var vecJSON string
		if err := rows.Scan(&e.CardID, &e.Model, &e.Dim, &vecJSON, &e.UpdatedEventID); err != nil {
			return nil, fmt.Errorf("failed to scan embedding: %w", err)
		}
		if err := json.Unmarshal([]byte(vecJSON), &e.Vector); err != nil {
			return nil, fmt.Errorf("failed to unmarshal embedding vector: %w", err)
		}
		out = append(out, &e)
	}
	return out, nil
}

// ListAllCardEmbeddings returns every embedding, used for in-memory semantic
// scoring during retrieval (pseudo-embedding dimensionality keeps the whole
// store cheap to hold in memory per call; see internal/retrieval).
func ListAllCardEmbeddings(ctx context.Context, q DBTX) (map[string]*types.CardEmbedding, error) {
	rows, err := q.QueryContext(ctx, `SELECT card_id, model, dim, vector_json, updated_event_id FROM card_embeddings`)
	if err != nil {
		return nil, fmt.Errorf("failed to list all embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := map[string]*types.CardEmbedding{}
	for rows.Next() {
		var e types.CardEmbedding
		var vecJSON string
		if err := rows.Scan(&e.CardID, &e.Model, &e.Dim, &vecJSON, &e.UpdatedEventID); err != nil {
			return nil, fmt.Errorf("failed to scan embedding: %w", err)
		}
		if err := json.Unmarshal([]byte(vecJSON), &e.Vector); err != nil {
			return nil, fmt.Errorf("failed to unmarshal embedding vector: %w", err)
		}
		out[e.CardID] = &e
	}
	return out, nil
}
