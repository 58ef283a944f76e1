package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/memlogd/memlog/internal/types"
)

// UpsertCard inserts a new card or updates an existing one in place,
// overwriting statement/topic/tags/status/updated_event_id. Used both by
// card_admitted (insert) and by merge/supersede/status-change handlers
// (update).
func UpsertCard(ctx context.Context, tx DBTX, c *types.Card) error {
	tagsJSON, err := json.Marshal(c.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}
	var archivedAt interface{}
	if c.ArchivedAt != nil {
		archivedAt = *c.ArchivedAt
	}
	var supersedes interface{}
	if c.SupersedesCardID != nil {
		supersedes = *c.SupersedesCardID
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO cards
			(card_id, kind, statement, scope_tier, scope_id, topic_key, tags_json,
			 status, supersedes_card_id, created_event_id, updated_event_id, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(card_id) DO UPDATE SET
			statement = excluded.statement,
			topic_key = excluded.topic_key,
			tags_json = excluded.tags_json,
			status = excluded.status,
			supersedes_card_id = excluded.supersedes_card_id,
			updated_event_id = excluded.updated_event_id,
			archived_at = excluded.archived_at
	`, c.CardID, string(c.Kind), c.Statement, string(c.ScopeTier), c.ScopeID, c.TopicKey, string(tagsJSON),
		string(c.Status), supersedes, c.CreatedEventID, c.UpdatedEventID, archivedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert card: %w", err)
	}
	return nil
}

// SetCardStatus updates a card's status (and archived_at if archiving).
func SetCardStatus(ctx context.Context, tx DBTX, cardID string, status types.CardStatus, archivedAt interface{}, eventID int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE cards SET status = ?, archived_at = ?, updated_event_id = ?
		WHERE card_id = ?
	`, string(status), archivedAt, eventID, cardID)
	if err != nil {
		return fmt.Errorf("failed to set card status: %w", err)
	}
	return nil
}

func scanCard(row interface {
	Scan(dest ...interface{}) error
}) (*types.Card, error) {
	var c types.Card
	var kind, scopeTier, status, tagsJSON string
	var supersedes sql.NullString
	var archivedAt sql.NullTime
	err := row.Scan(&c.CardID, &kind, &c.Statement, &scopeTier, &c.ScopeID, &c.TopicKey, &tagsJSON,
		&status, &supersedes, &c.CreatedEventID, &c.UpdatedEventID, &archivedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan card: %w", err)
	}
	c.Kind = types.CardKind(kind)
	c.ScopeTier = types.ScopeTier(scopeTier)
	c.Status = types.CardStatus(status)
	if supersedes.Valid {
		c.SupersedesCardID = &supersedes.String
	}
	if archivedAt.Valid {
		c.ArchivedAt = &archivedAt.Time
	}
	if tagsJSON != "" {
		_ = json.Unmarshal([]byte(tagsJSON), &c.Tags)
	}
	return &c, nil
}

const cardColumns = `card_id, kind, statement, scope_tier, scope_id, topic_key, tags_json,
	       status, supersedes_card_id, created_event_id, updated_event_id, archived_at`

// GetCard loads one card by id.
func GetCard(ctx context.Context, q DBTX, cardID string) (*types.Card, error) {
	row := q.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM cards WHERE card_id = ?`, cardID)
	return scanCard(row)
}

// FindCardByExactStatement looks up an existing card with the same
// normalized statement in the same scope/kind, used for exact-duplicate
// merge detection during admission. Restricted to active/needs_recheck so a
// deprecated card's old wording is never chosen as a merge target.
func FindCardByExactStatement(ctx context.Context, q DBTX, kind types.CardKind, scopeTier types.ScopeTier, scopeID, statement string) (*types.Card, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+cardColumns+` FROM cards
		WHERE kind = ? AND scope_tier = ? AND scope_id = ? AND lower(statement) = lower(?)
		AND status IN ('active', 'needs_recheck')
		LIMIT 1
	`, string(kind), string(scopeTier), scopeID, statement)
	return scanCard(row)
}

// FindNormativeCardByTopic looks up an active normative-kind card with the
// same topic in the same scope, used for supersession on admission.
func FindNormativeCardByTopic(ctx context.Context, q DBTX, kind types.CardKind, scopeTier types.ScopeTier, scopeID, topicKey string) (*types.Card, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+cardColumns+` FROM cards
		WHERE kind = ? AND scope_tier = ? AND scope_id = ? AND topic_key = ?
		AND status IN ('active', 'needs_recheck')
		ORDER BY updated_event_id DESC
		LIMIT 1
	`, string(kind), string(scopeTier), scopeID, topicKey)
	return scanCard(row)
}

// ListCardsByScopeKind returns every live (active/needs_recheck) card in a
// scope_id/kind bucket, used as the comparison set for the duplicate (gate 2)
// and novelty (gate 3) similarity gates during consolidation.
func ListCardsByScopeKind(ctx context.Context, q DBTX, scopeTier types.ScopeTier, scopeID string, kind types.CardKind) ([]*types.Card, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+cardColumns+` FROM cards
		WHERE scope_tier = ? AND scope_id = ? AND kind = ?
		AND status IN ('active', 'needs_recheck')
	`, string(scopeTier), scopeID, string(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to list cards by scope/kind: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*types.Card
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// CountCardsByScopeTierKind counts every live (active/needs_recheck) card for
// a (scope_tier, kind) pair across all scope_ids, used by the scope x kind
// budget-matrix gate (gate 6) during consolidation. Unlike
// ListCardsByScopeKind, this is deliberately not scoped to one scope_id: the
// budget matrix is keyed on (scope_tier, kind) alone.
func CountCardsByScopeTierKind(ctx context.Context, q DBTX, scopeTier types.ScopeTier, kind types.CardKind) (int, error) {
	var count int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM cards
		WHERE scope_tier = ? AND kind = ?
		AND status IN ('active', 'needs_recheck')
	`, string(scopeTier), string(kind)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count cards by scope_tier/kind: %w", err)
	}
	return count, nil
}

// ListCardsByStatus returns cards filtered by one or more statuses, used by
// retrieval's mode-dependent status filter.
func ListCardsByStatus(ctx context.Context, q DBTX, statuses []types.CardStatus) ([]*types.Card, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := ""
	args := make([]interface{}, 0, len(statuses))
	for i, s := range statuses {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args = append(args, string(s))
	}
	rows, err := q.QueryContext(ctx, `SELECT `+cardColumns+` FROM cards WHERE status IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list cards by status: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*types.Card
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// ListAllCards returns every card, used by projection digests and full rebuild.
func ListAllCards(ctx context.Context, q DBTX) ([]*types.Card, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+cardColumns+` FROM cards ORDER BY card_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list all cards: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*types.Card
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// ListAllCardEvidenceLinks returns every (card_id, evidence_ref_id) link,
// ordered for digest stability, used by internal/ops.
func ListAllCardEvidenceLinks(ctx context.Context, q DBTX) ([][2]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT card_id, evidence_ref_id FROM card_evidence ORDER BY card_id ASC, evidence_ref_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list all card evidence links: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out [][2]string
	for rows.Next() {
		var cardID, evidenceRefID string
		if err := rows.Scan(&cardID, &evidenceRefID); err != nil {
			return nil, fmt.Errorf("failed to scan card evidence link: %w", err)
		}
		out = append(out, [2]string{cardID, evidenceRefID})
	}
	return out, nil
}

// LinkCardEvidence attaches an evidence ref to a card, idempotently.
func LinkCardEvidence(ctx context.Context, tx DBTX, cardID, evidenceRefID string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO card_evidence (card_id, evidence_ref_id) VALUES (?, ?)
	`, cardID, evidenceRefID)
	if err != nil {
		return fmt.Errorf("failed to link card evidence: %w", err)
	}
	return nil
}

// ListCardEvidence returns the evidence_ref_ids linked to a card.
func ListCardEvidence(ctx context.Context, q DBTX, cardID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT evidence_ref_id FROM card_evidence WHERE card_id = ?`, cardID)
	if err != nil {
		return nil, fmt.Errorf("failed to list card evidence: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan evidence ref id: %w", err)
		}
		out = append(out, id)
	}
	return out, nil
}

// CountCardEvidence returns how many distinct evidence refs back a card,
// used as the dedup-sweep winner tiebreak (evidence_count desc).
func CountCardEvidence(ctx context.Context, q DBTX, cardID string) (int, error) {
	var count int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM card_evidence WHERE card_id = ?`, cardID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count card evidence: %w", err)
	}
	return count, nil
}

// InsertStatusHistory records one status transition.
func InsertStatusHistory(ctx context.Context, tx DBTX, h *types.StatusHistoryEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO card_status_history (card_id, old_status, new_status, reason, event_id)
		VALUES (?, ?, ?, ?, ?)
	`, h.CardID, string(h.OldStatus), string(h.NewStatus), h.Reason, h.EventID)
	if err != nil {
		return fmt.Errorf("failed to insert status history: %w", err)
	}
	return nil
}

// ListStatusHistory returns a card's status history ordered oldest-first.
func ListStatusHistory(ctx context.Context, q DBTX, cardID string) ([]*types.StatusHistoryEntry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, card_id, old_status, new_status, reason, event_id, created_at
		FROM card_status_history WHERE card_id = ? ORDER BY created_at ASC, id ASC
	`, cardID)
	if err != nil {
		return nil, fmt.Errorf("failed to list status history: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*types.StatusHistoryEntry
	for rows.Next() {
		var h types.StatusHistoryEntry
		var oldStatus, newStatus string
		if err := rows.Scan(&h.ID, &h.CardID, &oldStatus, &newStatus, &h.Reason, &h.EventID, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan status history: %w", err)
		}
		h.OldStatus = types.CardStatus(oldStatus)
		h.NewStatus = types.CardStatus(newStatus)
		out = append(out, &h)
	}
	return out, nil
}

// ListAllStatusHistory returns every status transition, used by
// internal/ops for the projection digest.
func ListAllStatusHistory(ctx context.Context, q DBTX) ([]*types.StatusHistoryEntry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, card_id, old_status, new_status, reason, event_id, created_at
		FROM card_status_history ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list all status history: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*types.StatusHistoryEntry
	for rows.Next() {
		var h types.StatusHistoryEntry
		var oldStatus, newStatus string
		if err := rows.Scan(&h.ID, &h.CardID, &oldStatus, &newStatus, &h.Reason, &h.EventID, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan status history: %w", err)
		}
		h.OldStatus = types.CardStatus(oldStatus)
		h.NewStatus = types.CardStatus(newStatus)
		out = append(out, &h)
	}
	return out, nil
}

// InsertDecision records one consolidation gate outcome.
func InsertDecision(ctx context.Context, tx DBTX, d *types.ConsolidationDecision) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO consolidation_decisions
			(episode_id, candidate_id, decision_type, card_id, reason_code, detail_json, event_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, d.EpisodeID, d.CandidateID, string(d.DecisionType), d.CardID, d.ReasonCode, d.DetailJSON, d.EventID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert consolidation decision: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get inserted decision id: %w", err)
	}
	return id, nil
}

// ListDecisionsByEpisode returns every decision recorded for an episode.
func ListDecisionsByEpisode(ctx context.Context, q DBTX, episodeID string) ([]*types.ConsolidationDecision, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT decision_id, episode_id, candidate_id, decision_type, card_id, reason_code,
		       detail_json, event_id, created_at
		FROM consolidation_decisions WHERE episode_id = ? ORDER BY decision_id ASC
	`, episodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*types.ConsolidationDecision
	for rows.Next() {
		var d types.ConsolidationDecision
		var decisionType string
		if err := rows.Scan(&d.DecisionID, &d.EpisodeID, &d.CandidateID, &decisionType, &d.CardID,
			&d.ReasonCode, &d.DetailJSON, &d.EventID, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		d.DecisionType = types.EventType(decisionType)
		out = append(out, &d)
	}
	return out, nil
}

// ListAllDecisions returns every consolidation decision ordered by
// decision_id, used by internal/ops for the projection digest (which strips
// decision_id itself as an unstable surrogate key before hashing).
func ListAllDecisions(ctx context.Context, q DBTX) ([]*types.ConsolidationDecision, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT decision_id, episode_id, candidate_id, decision_type, card_id, reason_code,
		       detail_json, event_id, created_at
		FROM consolidation_decisions ORDER BY decision_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list all decisions: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*types.ConsolidationDecision
	for rows.Next() {
		var d types.ConsolidationDecision
		var decisionType string
		if err := rows.Scan(&d.DecisionID, &d.EpisodeID, &d.CandidateID, &decisionType, &d.CardID,
			&d.ReasonCode, &d.DetailJSON, &d.EventID, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		d.DecisionType = types.EventType(decisionType)
		out = append(out, &d)
	}
	return out, nil
}
