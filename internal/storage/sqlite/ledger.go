package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// EpisodeLedger is the per-episode consolidation summary: counts by decision
// type and a histogram of rejection reason codes (spec.md §4.4 ledger).
type EpisodeLedger struct {
	EpisodeID      string
	Counts         map[string]int
	Reasons        map[string]int
	UpdatedEventID int64
}

// UpsertEpisodeLedger overwrites the ledger row for an episode wholesale;
// the caller recomputes Counts/Reasons from the episode's full event list
// each time a new decision lands, so there is no incremental-update race.
func UpsertEpisodeLedger(ctx context.Context, tx DBTX, l *EpisodeLedger) error {
	countsJSON, err := json.Marshal(l.Counts)
	if err != nil {
		return fmt.Errorf("failed to marshal ledger counts: %w", err)
	}
	reasonsJSON, err := json.Marshal(l.Reasons)
	if err != nil {
		return fmt.Errorf("failed to marshal ledger reasons: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO episode_ledgers (episode_id, counts_json, reasons_json, updated_event_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(episode_id) DO UPDATE SET
			counts_json = excluded.counts_json,
			reasons_json = excluded.reasons_json,
			updated_event_id = excluded.updated_event_id
	`, l.EpisodeID, string(countsJSON), string(reasonsJSON), l.UpdatedEventID)
	if err != nil {
		return fmt.Errorf("failed to upsert episode ledger: %w", err)
	}
	return nil
}

// ListAllEpisodeLedgers returns every episode ledger ordered by episode_id,
// used by internal/ops for the projection digest.
func ListAllEpisodeLedgers(ctx context.Context, q DBTX) ([]*EpisodeLedger, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT episode_id, counts_json, reasons_json, updated_event_id
		FROM episode_ledgers ORDER BY episode_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list all episode ledgers: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*EpisodeLedger
	for rows.Next() {
		var l EpisodeLedger
		var countsJSON, reasonsJSON string
		if err := rows.Scan(&l.EpisodeID, &countsJSON, &reasonsJSON, &l.UpdatedEventID); err != nil {
			return nil, fmt.Errorf("failed to scan episode ledger: %w", err)
		}
		l.Counts = map[string]int{}
		l.Reasons = map[string]int{}
		_ = json.Unmarshal([]byte(countsJSON), &l.Counts)
		_ = json.Unmarshal([]byte(reasonsJSON), &l.Reasons)
		out = append(out, &l)
	}
	return out, nil
}

// GetEpisodeLedger loads the ledger for an episode, or nil if none exists yet.
func GetEpisodeLedger(ctx context.Context, q DBTX, episodeID string) (*EpisodeLedger, error) {
	var l EpisodeLedger
	var countsJSON, reasonsJSON string
	err := q.QueryRowContext(ctx, `
		SELECT episode_id, counts_json, reasons_json, updated_event_id
		FROM episode_ledgers WHERE episode_id = ?
	`, episodeID).Scan(&l.EpisodeID, &countsJSON, &reasonsJSON, &l.UpdatedEventID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get episode ledger: %w", err)
	}
	l.Counts = map[string]int{}
	l.Reasons = map[string]int{}
	_ = json.Unmarshal([]byte(countsJSON), &l.Counts)
	_ = json.Unmarshal([]byte(reasonsJSON), &l.Reasons)
	return &l, nil
}
