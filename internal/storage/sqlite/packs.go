package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/memlogd/memlog/internal/types"
)

// InsertPackSnapshot records one retrieval/packing call.
func InsertPackSnapshot(ctx context.Context, tx DBTX, p *types.PackSnapshot) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO pack_snapshots
			(pack_id, episode_id, query_text, channel, policy_version, ranked_json,
			 selected_json, created_event_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, p.PackID, p.EpisodeID, p.QueryText, string(p.Channel), p.PolicyVersion, p.RankedJSON,
		p.SelectedJSON, p.CreatedEventID)
	if err != nil {
		return fmt.Errorf("failed to insert pack snapshot: %w", err)
	}
	return nil
}

func scanPackSnapshot(row interface {
	Scan(dest ...interface{}) error
}) (*types.PackSnapshot, error) {
	var p types.PackSnapshot
	var channel string
	err := row.Scan(&p.PackID, &p.EpisodeID, &p.QueryText, &channel, &p.PolicyVersion,
		&p.RankedJSON, &p.SelectedJSON, &p.CreatedEventID, &p.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan pack snapshot: %w", err)
	}
	p.Channel = types.Channel(channel)
	return &p, nil
}

const packColumns = `pack_id, episode_id, query_text, channel, policy_version, ranked_json,
	       selected_json, created_event_id, created_at`

// GetPackSnapshot loads one pack by id.
func GetPackSnapshot(ctx context.Context, q DBTX, packID string) (*types.PackSnapshot, error) {
	row := q.QueryRowContext(ctx, `SELECT `+packColumns+` FROM pack_snapshots WHERE pack_id = ?`, packID)
	return scanPackSnapshot(row)
}

// ListAllPackSnapshots returns every pack snapshot ordered by created_event_id,
// used by internal/ops for the projection digest.
func ListAllPackSnapshots(ctx context.Context, q DBTX) ([]*types.PackSnapshot, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+packColumns+` FROM pack_snapshots ORDER BY created_event_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list all pack snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*types.PackSnapshot
	for rows.Next() {
		p, err := scanPackSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// LatestPackForEpisode returns the most recently created pack for an
// episode, or nil if none exists.
func LatestPackForEpisode(ctx context.Context, q DBTX, episodeID string) (*types.PackSnapshot, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+packColumns+` FROM pack_snapshots
		WHERE episode_id = ? ORDER BY created_at DESC, pack_id DESC LIMIT 1
	`, episodeID)
	return scanPackSnapshot(row)
}

// InsertExposure records one card's appearance in a pack.
func InsertExposure(ctx context.Context, tx DBTX, e *types.Exposure) error {
	_, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO exposures
			(exposure_id, pack_id, card_id, rank_position, score_total, channel, source_event_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ExposureID, e.PackID, e.CardID, e.RankPosition, e.ScoreTotal, string(e.Channel), e.SourceEventID)
	if err != nil {
		return fmt.Errorf("failed to insert exposure: %w", err)
	}
	return nil
}

// ListExposuresByPack returns every exposure recorded for a pack.
func ListExposuresByPack(ctx context.Context, q DBTX, packID string) ([]*types.Exposure, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT exposure_id, pack_id, card_id, rank_position, score_total, channel, source_event_id
		FROM exposures WHERE pack_id = ? ORDER BY rank_position ASC
	`, packID)
	if err != nil {
		return nil, fmt.Errorf("failed to list exposures by pack: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*types.Exposure
	for rows.Next() {
		var e types.Exposure
		var channel string
		if err := rows.Scan(&e.ExposureID, &e.PackID, &e.CardID, &e.RankPosition, &e.ScoreTotal,
			&channel, &e.SourceEventID); err != nil {
			return nil, fmt.Errorf("failed to scan exposure: %w", err)
		}
		e.Channel = types.Channel(channel)
		out = append(out, &e)
	}
	return out, nil
}

// ListExposuresByCard returns every exposure of a card ordered by
// source_event_id ascending, used by archive hygiene (days-since-last-
// exposure) and utility attribution (top-2 pre-outcome tactic exposures).
func ListExposuresByCard(ctx context.Context, q DBTX, cardID string) ([]*types.Exposure, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT exposure_id, pack_id, card_id, rank_position, score_total, channel, source_event_id
		FROM exposures WHERE card_id = ? ORDER BY source_event_id ASC
	`, cardID)
	if err != nil {
		return nil, fmt.Errorf("failed to list exposures by card: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*types.Exposure
	for rows.Next() {
		var e types.Exposure
		var channel string
		if err := rows.Scan(&e.ExposureID, &e.PackID, &e.CardID, &e.RankPosition, &e.ScoreTotal,
			&channel, &e.SourceEventID); err != nil {
			return nil, fmt.Errorf("failed to scan exposure: %w", err)
		}
		e.Channel = types.Channel(channel)
		out = append(out, &e)
	}
	return out, nil
}

// ListAllExposures returns every exposure ordered by source_event_id, used
// by internal/ops for the projection digest.
func ListAllExposures(ctx context.Context, q DBTX) ([]*types.Exposure, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT exposure_id, pack_id, card_id, rank_position, score_total, channel, source_event_id
		FROM exposures ORDER BY source_event_id ASC, exposure_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list all exposures: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*types.Exposure
	for rows.Next() {
		var e types.Exposure
		var channel string
		if err := rows.Scan(&e.ExposureID, &e.PackID, &e.CardID, &e.RankPosition, &e.ScoreTotal,
			&channel, &e.SourceEventID); err != nil {
			return nil, fmt.Errorf("failed to scan exposure: %w", err)
		}
		e.Channel = types.Channel(channel)
		out = append(out, &e)
	}
	return out, nil
}

// LastExposureTime returns the created_at of the pack containing a card's
// most recent exposure, or the zero value if the card was never exposed.
func LastExposureTime(ctx context.Context, q DBTX, cardID string) (sql.NullTime, error) {
	var t sql.NullTime
	err := q.QueryRowContext(ctx, `
		SELECT MAX(ps.created_at)
		FROM exposures e
		JOIN pack_snapshots ps ON ps.pack_id = e.pack_id
		WHERE e.card_id = ?
	`, cardID).Scan(&t)
	if err != nil {
		return t, fmt.Errorf("failed to get last exposure time: %w", err)
	}
	return t, nil
}

// ExposuresForEpisodeBeforeEvent returns exposures whose pack belongs to the
// given episode and whose source_event_id is strictly before beforeEventID,
// ordered by source_event_id descending (most recent first) — used to find
// the "top-2 pre-outcome" auto_pack tactic exposures for utility attribution.
func ExposuresForEpisodeBeforeEvent(ctx context.Context, q DBTX, episodeID string, beforeEventID int64, channel types.Channel) ([]*types.Exposure, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT e.exposure_id, e.pack_id, e.card_id, e.rank_position, e.score_total, e.channel, e.source_event_id
		FROM exposures e
		JOIN pack_snapshots ps ON ps.pack_id = e.pack_id
		WHERE ps.episode_id = ? AND e.source_event_id < ? AND e.channel = ?
		ORDER BY e.source_event_id DESC, e.rank_position ASC
	`, episodeID, beforeEventID, string(channel))
	if err != nil {
		return nil, fmt.Errorf("failed to list pre-outcome exposures: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*types.Exposure
	for rows.Next() {
		var e types.Exposure
		var ch string
		if err := rows.Scan(&e.ExposureID, &e.PackID, &e.CardID, &e.RankPosition, &e.ScoreTotal,
			&ch, &e.SourceEventID); err != nil {
			return nil, fmt.Errorf("failed to scan exposure: %w", err)
		}
		e.Channel = types.Channel(ch)
		out = append(out, &e)
	}
	return out, nil
}
