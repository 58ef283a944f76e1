package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/memlogd/memlog/internal/types"
)

// InsertOutcome records one terminal episode signal.
func InsertOutcome(ctx context.Context, tx DBTX, o *types.Outcome) error {
	refsJSON, err := json.Marshal(o.EvidenceRefIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal outcome evidence refs: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO outcomes
			(outcome_id, episode_id, outcome_type, evidence_ref_ids_json, metadata_json,
			 seq_no, source_event_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, o.OutcomeID, o.EpisodeID, string(o.OutcomeType), string(refsJSON), o.MetadataJSON,
		o.SeqNo, o.SourceEventID)
	if err != nil {
		return fmt.Errorf("failed to insert outcome: %w", err)
	}
	return nil
}

// GetOutcome loads one outcome by id, or nil if absent.
func GetOutcome(ctx context.Context, q DBTX, outcomeID string) (*types.Outcome, error) {
	var o types.Outcome
	var outcomeType, refsJSON string
	err := q.QueryRowContext(ctx, `
		SELECT outcome_id, episode_id, outcome_type, evidence_ref_ids_json, metadata_json,
		       seq_no, source_event_id, created_at
		FROM outcomes WHERE outcome_id = ?
	`, outcomeID).Scan(&o.OutcomeID, &o.EpisodeID, &outcomeType, &refsJSON, &o.MetadataJSON,
		&o.SeqNo, &o.SourceEventID, &o.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get outcome: %w", err)
	}
	o.OutcomeType = types.OutcomeType(outcomeType)
	_ = json.Unmarshal([]byte(refsJSON), &o.EvidenceRefIDs)
	return &o, nil
}

// ListOutcomesByEpisode returns every outcome for an episode ordered by seq_no.
func ListOutcomesByEpisode(ctx context.Context, q DBTX, episodeID string) ([]*types.Outcome, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT outcome_id, episode_id, outcome_type, evidence_ref_ids_json, metadata_json,
		       seq_no, source_event_id, created_at
		FROM outcomes WHERE episode_id = ? ORDER BY seq_no ASC
	`, episodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list outcomes: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*types.Outcome
	for rows.Next() {
		var o types.Outcome
		var outcomeType, refsJSON string
		if err := rows.Scan(&o.OutcomeID, &o.EpisodeID, &outcomeType, &refsJSON, &o.MetadataJSON,
			&o.SeqNo, &o.SourceEventID, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		o.OutcomeType = types.OutcomeType(outcomeType)
		_ = json.Unmarshal([]byte(refsJSON), &o.EvidenceRefIDs)
		out = append(out, &o)
	}
	return out, nil
}

// ListAllOutcomes returns every outcome ordered by source_event_id, used by
// rollout gates (§8 event-volume and utility-plateau gates).
func ListAllOutcomes(ctx context.Context, q DBTX) ([]*types.Outcome, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT outcome_id, episode_id, outcome_type, evidence_ref_ids_json, metadata_json,
		       seq_no, source_event_id, created_at
		FROM outcomes ORDER BY source_event_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list all outcomes: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*types.Outcome
	for rows.Next() {
		var o types.Outcome
		var outcomeType, refsJSON string
		if err := rows.Scan(&o.OutcomeID, &o.EpisodeID, &outcomeType, &refsJSON, &o.MetadataJSON,
			&o.SeqNo, &o.SourceEventID, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		o.OutcomeType = types.OutcomeType(outcomeType)
		_ = json.Unmarshal([]byte(refsJSON), &o.EvidenceRefIDs)
		out = append(out, &o)
	}
	return out, nil
}
