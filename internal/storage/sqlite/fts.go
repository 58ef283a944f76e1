package sqlite

import (
	"context"
	"fmt"
	"strings"
)

// IndexCard (re)writes a card's row in fts_cards. Maintained explicitly by
// the reducer rather than by SQL triggers, matching the teacher's
// derive-from-the-handler style for denormalized indexes.
func IndexCard(ctx context.Context, tx DBTX, cardID, statement, topicKey string, tags []string) error {
	if err := DeindexCard(ctx, tx, cardID); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO fts_cards (card_id, statement, topic_key, tags) VALUES (?, ?, ?, ?)
	`, cardID, statement, topicKey, strings.Join(tags, " "))
	if err != nil {
		return fmt.Errorf("failed to index card: %w", err)
	}
	return nil
}

// DeindexCard removes a card's row from fts_cards, if present.
func DeindexCard(ctx context.Context, tx DBTX, cardID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM fts_cards WHERE card_id = ?`, cardID)
	if err != nil {
		return fmt.Errorf("failed to deindex card: %w", err)
	}
	return nil
}

// SearchCards runs a full-text query over statement/topic_key/tags and
// returns matching card_ids ordered by FTS5 bm25 rank (best match first).
func SearchCards(ctx context.Context, q DBTX, query string, limit int) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT card_id FROM fts_cards WHERE fts_cards MATCH ? ORDER BY rank LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search cards: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		out = append(out, id)
	}
	return out, nil
}
