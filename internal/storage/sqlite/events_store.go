package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/memlogd/memlog/internal/types"
)

// EventRowByIdempotencyKey returns the existing event for an idempotency key,
// or nil if none exists.
func EventRowByIdempotencyKey(ctx context.Context, q DBTX, key string) (*types.Event, error) {
	var e types.Event
	var eventType string
	err := q.QueryRowContext(ctx, `
		SELECT event_id, episode_id, seq_no, event_type, payload_json, payload_hash,
		       idempotency_key, producer, rule_version, created_at
		FROM events WHERE idempotency_key = ?
	`, key).Scan(&e.EventID, &e.EpisodeID, &e.SeqNo, &eventType, &e.PayloadJSON, &e.PayloadHash,
		&e.IdempotencyKey, &e.Producer, &e.RuleVersion, &e.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up event by idempotency key: %w", err)
	}
	e.EventType = types.EventType(eventType)
	return &e, nil
}

// NextSeqNo returns max(seq_no)+1 for an episode, starting at 1.
func NextSeqNo(ctx context.Context, q DBTX, episodeID string) (int64, error) {
	var max sql.NullInt64
	err := q.QueryRowContext(ctx, `SELECT MAX(seq_no) FROM events WHERE episode_id = ?`, episodeID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("failed to compute next seq_no: %w", err)
	}
	if !max.Valid {
		return 1, nil
	}
	return max.Int64 + 1, nil
}

// InsertEvent appends a new event row and returns its assigned event_id.
func InsertEvent(ctx context.Context, tx DBTX, e *types.Event) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO events
			(episode_id, seq_no, event_type, payload_json, payload_hash,
			 idempotency_key, producer, rule_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.EpisodeID, e.SeqNo, string(e.EventType), e.PayloadJSON, e.PayloadHash,
		e.IdempotencyKey, e.Producer, e.RuleVersion)
	if err != nil {
		return 0, fmt.Errorf("failed to insert event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get inserted event id: %w", err)
	}
	return id, nil
}

// GetEventByID loads one event row by its event_id.
func GetEventByID(ctx context.Context, q DBTX, eventID int64) (*types.Event, error) {
	var e types.Event
	var eventType string
	err := q.QueryRowContext(ctx, `
		SELECT event_id, episode_id, seq_no, event_type, payload_json, payload_hash,
		       idempotency_key, producer, rule_version, created_at
		FROM events WHERE event_id = ?
	`, eventID).Scan(&e.EventID, &e.EpisodeID, &e.SeqNo, &eventType, &e.PayloadJSON, &e.PayloadHash,
		&e.IdempotencyKey, &e.Producer, &e.RuleVersion, &e.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	e.EventType = types.EventType(eventType)
	return &e, nil
}

// ListEventsByEpisode returns all events for an episode ordered by seq_no.
func ListEventsByEpisode(ctx context.Context, q DBTX, episodeID string) ([]*types.Event, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT event_id, episode_id, seq_no, event_type, payload_json, payload_hash,
		       idempotency_key, producer, rule_version, created_at
		FROM events WHERE episode_id = ? ORDER BY seq_no ASC
	`, episodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Event
	for rows.Next() {
		var e types.Event
		var eventType string
		if err := rows.Scan(&e.EventID, &e.EpisodeID, &e.SeqNo, &eventType, &e.PayloadJSON, &e.PayloadHash,
			&e.IdempotencyKey, &e.Producer, &e.RuleVersion, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.EventType = types.EventType(eventType)
		out = append(out, &e)
	}
	return out, nil
}

// ListAllEvents returns every event ordered by event_id, for replay/export.
func ListAllEvents(ctx context.Context, q DBTX) ([]*types.Event, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT event_id, episode_id, seq_no, event_type, payload_json, payload_hash,
		       idempotency_key, producer, rule_version, created_at
		FROM events ORDER BY event_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list all events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Event
	for rows.Next() {
		var e types.Event
		var eventType string
		if err := rows.Scan(&e.EventID, &e.EpisodeID, &e.SeqNo, &eventType, &e.PayloadJSON, &e.PayloadHash,
			&e.IdempotencyKey, &e.Producer, &e.RuleVersion, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.EventType = types.EventType(eventType)
		out = append(out, &e)
	}
	return out, nil
}

// MaxEventID returns the highest assigned event_id, or 0 if the log is empty.
func MaxEventID(ctx context.Context, q DBTX) (int64, error) {
	var max sql.NullInt64
	err := q.QueryRowContext(ctx, `SELECT MAX(event_id) FROM events`).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("failed to compute max event id: %w", err)
	}
	if !max.Valid {
		return 0, nil
	}
	return max.Int64, nil
}

// CheckEpisodeSeqGapFree verifies that seq_no values for episodeID are
// exactly 1..N with no gaps (spec.md §8 quantified invariant).
func CheckEpisodeSeqGapFree(ctx context.Context, q DBTX, episodeID string) (bool, error) {
	rows, err := q.QueryContext(ctx, `SELECT seq_no FROM events WHERE episode_id = ? ORDER BY seq_no ASC`, episodeID)
	if err != nil {
		return false, fmt.Errorf("failed to list seq_no values: %w", err)
	}
	defer func() { _ = rows.Close() }()

	expected := int64(1)
	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return false, fmt.Errorf("failed to scan seq_no: %w", err)
		}
		if seq != expected {
			return false, nil
		}
		expected++
	}
	return true, nil
}

// DistinctEpisodeIDsWithEvents returns every episode_id that has at least one event.
func DistinctEpisodeIDsWithEvents(ctx context.Context, q DBTX) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT DISTINCT episode_id FROM events`)
	if err != nil {
		return nil, fmt.Errorf("failed to list distinct episode ids: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan episode id: %w", err)
		}
		out = append(out, id)
	}
	return out, nil
}

// CountIdempotencyKeyDuplicates returns the count of idempotency_key values
// that appear more than once (should always be 0; used by health checks).
func CountIdempotencyKeyDuplicates(ctx context.Context, q DBTX) (int, error) {
	var count int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM (
			SELECT idempotency_key FROM events GROUP BY idempotency_key HAVING COUNT(*) > 1
		)
	`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count idempotency key duplicates: %w", err)
	}
	return count, nil
}

// CountEventsSince returns the number of events created at or after since,
// used by the rollout gates' event-volume check (spec.md §8).
func CountEventsSince(ctx context.Context, q DBTX, since time.Time) (int, error) {
	var count int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE created_at >= ?`, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count events since %s: %w", since, err)
	}
	return count, nil
}

// CountEventsByTypesSince returns the number of events of any of the given
// types created at or after since, used by the store-boundedness gate to
// compute admitted vs. archived/deprecated/superseded counts over a window.
func CountEventsByTypesSince(ctx context.Context, q DBTX, eventTypes []types.EventType, since time.Time) (int, error) {
	if len(eventTypes) == 0 {
		return 0, nil
	}
	placeholders := ""
	args := make([]interface{}, 0, len(eventTypes)+1)
	args = append(args, since)
	for i, t := range eventTypes {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args = append(args, string(t))
	}
	query := fmt.Sprintf(`SELECT COUNT(*) FROM events WHERE created_at >= ? AND event_type IN (%s)`, placeholders)
	var count int
	if err := q.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count events by type since %s: %w", since, err)
	}
	return count, nil
}

// TruncateProjections deletes every row from every derived-projection table
// (everything except episodes/artifacts/evidence_refs/events, which are
// append-only source-of-truth) in preparation for a full rebuild.
func TruncateProjections(ctx context.Context, tx DBTX) error {
	tables := []string{
		"cards", "card_evidence", "consolidation_decisions", "card_status_history",
		"card_embeddings", "fts_cards", "pack_snapshots", "exposures", "disputes",
		"outcomes", "utility_stats", "episode_ledgers",
	}
	for _, t := range tables {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", t)); err != nil {
			return fmt.Errorf("failed to truncate %s: %w", t, err)
		}
	}
	// Metadata keys that are themselves projections (e.g. last-touched
	// pointers) get cleared too; config (user settings) is left alone.
	if _, err := tx.ExecContext(ctx, `DELETE FROM metadata WHERE key LIKE 'last_touched_%'`); err != nil {
		return fmt.Errorf("failed to clear last-touched metadata: %w", err)
	}
	return nil
}
