package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/memlogd/memlog/internal/types"
)

// ClearUtilityStats empties the utility projection before a full recompute
// (spec.md §4.6 step 1).
func ClearUtilityStats(ctx context.Context, tx DBTX) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM utility_stats`); err != nil {
		return fmt.Errorf("failed to clear utility stats: %w", err)
	}
	return nil
}

// UpsertUtilityStats overwrites a card's utility projection wholesale; the
// caller recomputes wins/losses/reuse from the full exposure/outcome history
// each time, matching the "clear and re-derive" pattern spec.md §4.6 uses
// for utility rather than incrementing counters in place.
func UpsertUtilityStats(ctx context.Context, tx DBTX, u *types.UtilityStats) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO utility_stats (card_id, wins, losses, reuse, updated_event_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(card_id) DO UPDATE SET
			wins = excluded.wins,
			losses = excluded.losses,
			reuse = excluded.reuse,
			updated_event_id = excluded.updated_event_id
	`, u.CardID, u.Wins, u.Losses, u.Reuse, u.UpdatedEventID)
	if err != nil {
		return fmt.Errorf("failed to upsert utility stats: %w", err)
	}
	return nil
}

// GetUtilityStats loads one card's utility projection, or a zero-value
// struct if none exists yet (never-exposed tactics score utility 0).
func GetUtilityStats(ctx context.Context, q DBTX, cardID string) (*types.UtilityStats, error) {
	var u types.UtilityStats
	err := q.QueryRowContext(ctx, `
		SELECT card_id, wins, losses, reuse, updated_event_id FROM utility_stats WHERE card_id = ?
	`, cardID).Scan(&u.CardID, &u.Wins, &u.Losses, &u.Reuse, &u.UpdatedEventID)
	if err != nil {
		if err == sql.ErrNoRows {
			return &types.UtilityStats{CardID: cardID}, nil
		}
		return nil, fmt.Errorf("failed to get utility stats: %w", err)
	}
	return &u, nil
}

// ListAllUtilityStats returns every card's utility projection, used for
// in-memory scoring during retrieval.
func ListAllUtilityStats(ctx context.Context, q DBTX) (map[string]*types.UtilityStats, error) {
	rows, err := q.QueryContext(ctx, `SELECT card_id, wins, losses, reuse, updated_event_id FROM utility_stats`)
	if err != nil {
		return nil, fmt.Errorf("failed to list utility stats: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := map[string]*types.UtilityStats{}
	for rows.Next() {
		var u types.UtilityStats
		if err := rows.Scan(&u.CardID, &u.Wins, &u.Losses, &u.Reuse, &u.UpdatedEventID); err != nil {
			return nil, fmt.Errorf("failed to scan utility stats: %w", err)
		}
		out[u.CardID] = &u
	}
	return out, nil
}
