package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/memlogd/memlog/internal/types"
)

// InsertDispute records one evidence-weighted challenge, idempotent on
// dispute_id (content-derived from card_id + evidence_ref_id).
func InsertDispute(ctx context.Context, tx DBTX, d *types.Dispute) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO disputes (dispute_id, card_id, evidence_ref_id, weight, source_event_id)
		VALUES (?, ?, ?, ?, ?)
	`, d.DisputeID, d.CardID, d.EvidenceRefID, d.Weight, d.SourceEventID)
	if err != nil {
		return false, fmt.Errorf("failed to insert dispute: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// SumDisputeWeight returns the total dispute mass accumulated against a card.
func SumDisputeWeight(ctx context.Context, q DBTX, cardID string) (float64, error) {
	var sum sql.NullFloat64
	err := q.QueryRowContext(ctx, `SELECT SUM(weight) FROM disputes WHERE card_id = ?`, cardID).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("failed to sum dispute weight: %w", err)
	}
	if !sum.Valid {
		return 0, nil
	}
	return sum.Float64, nil
}

// ListAllDisputes returns every dispute ordered by source_event_id, used by
// internal/ops for the projection digest.
func ListAllDisputes(ctx context.Context, q DBTX) ([]*types.Dispute, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT dispute_id, card_id, evidence_ref_id, weight, source_event_id, created_at
		FROM disputes ORDER BY source_event_id ASC, dispute_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list all disputes: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*types.Dispute
	for rows.Next() {
		var d types.Dispute
		if err := rows.Scan(&d.DisputeID, &d.CardID, &d.EvidenceRefID, &d.Weight, &d.SourceEventID, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan dispute: %w", err)
		}
		out = append(out, &d)
	}
	return out, nil
}

// ListDisputesByCard returns every dispute recorded against a card.
func ListDisputesByCard(ctx context.Context, q DBTX, cardID string) ([]*types.Dispute, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT dispute_id, card_id, evidence_ref_id, weight, source_event_id, created_at
		FROM disputes WHERE card_id = ? ORDER BY created_at ASC
	`, cardID)
	if err != nil {
		return nil, fmt.Errorf("failed to list disputes: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*types.Dispute
	for rows.Next() {
		var d types.Dispute
		if err := rows.Scan(&d.DisputeID, &d.CardID, &d.EvidenceRefID, &d.Weight, &d.SourceEventID, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan dispute: %w", err)
		}
		out = append(out, &d)
	}
	return out, nil
}
