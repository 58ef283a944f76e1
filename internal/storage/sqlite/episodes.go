package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/memlogd/memlog/internal/types"
)

// InsertEpisodeIfAbsent inserts episode if its episode_id is not already
// present, returning whether a row was inserted.
func InsertEpisodeIfAbsent(ctx context.Context, tx DBTX, ep *types.Episode) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO episodes
			(episode_id, user_text, assistant_text, model_name, scope_tier, scope_id,
			 metadata_json, started_at, ended_at, payload_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ep.EpisodeID, ep.UserText, ep.AssistantText, ep.ModelName, string(ep.ScopeTier), ep.ScopeID,
		ep.MetadataJSON, ep.StartedAt, ep.EndedAt, ep.PayloadHash)
	if err != nil {
		return false, fmt.Errorf("failed to insert episode: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// SetEpisodeCreatedEvent stamps the created_event_id once the episode_recorded
// event has been assigned an event_id.
func SetEpisodeCreatedEvent(ctx context.Context, tx DBTX, episodeID string, eventID int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE episodes SET created_event_id = ?
		WHERE episode_id = ? AND created_event_id IS NULL
	`, eventID, episodeID)
	if err != nil {
		return fmt.Errorf("failed to stamp episode created_event_id: %w", err)
	}
	return nil
}

// GetEpisode loads one episode by id.
func GetEpisode(ctx context.Context, q DBTX, episodeID string) (*types.Episode, error) {
	var ep types.Episode
	var scopeTier string
	var createdEventID sql.NullInt64
	err := q.QueryRowContext(ctx, `
		SELECT episode_id, user_text, assistant_text, model_name, scope_tier, scope_id,
		       metadata_json, started_at, ended_at, payload_hash, created_event_id
		FROM episodes WHERE episode_id = ?
	`, episodeID).Scan(&ep.EpisodeID, &ep.UserText, &ep.AssistantText, &ep.ModelName, &scopeTier,
		&ep.ScopeID, &ep.MetadataJSON, &ep.StartedAt, &ep.EndedAt, &ep.PayloadHash, &createdEventID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get episode: %w", err)
	}
	ep.ScopeTier = types.ScopeTier(scopeTier)
	if createdEventID.Valid {
		ep.CreatedEventID = createdEventID.Int64
	}
	return &ep, nil
}

// ListEpisodeIDsMissingCreatedEvent returns episode_ids whose episode row
// exists but whose episode_recorded event was never stamped back onto it --
// the signature of a crash between the row insert and the event append
// (spec.md §4.7 "Partial-write recovery").
func ListEpisodeIDsMissingCreatedEvent(ctx context.Context, q DBTX) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT episode_id FROM episodes WHERE created_event_id IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("failed to list episodes missing created_event_id: %w", err)
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

// ListAllEpisodeIDs returns every episode_id in the store, used by
// internal/ops to find episodes missing a consolidation_triggered event.
func ListAllEpisodeIDs(ctx context.Context, q DBTX) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT episode_id FROM episodes ORDER BY episode_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list all episode ids: %w", err)
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

// EpisodeExists reports whether an episode row exists.
func EpisodeExists(ctx context.Context, q DBTX, episodeID string) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM episodes WHERE episode_id = ?`, episodeID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check episode existence: %w", err)
	}
	return count > 0, nil
}

// InsertArtifactIfAbsent inserts the artifact row if absent.
func InsertArtifactIfAbsent(ctx context.Context, tx DBTX, a *types.Artifact) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO artifacts
			(artifact_id, episode_id, artifact_kind, path, content_hash, mime_type, metadata_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, a.ArtifactID, a.EpisodeID, string(a.ArtifactKind), a.Path, a.ContentHash, a.MimeType, a.MetadataJSON)
	if err != nil {
		return false, fmt.Errorf("failed to insert artifact: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// SetArtifactCreatedEvent stamps created_event_id on an artifact row.
func SetArtifactCreatedEvent(ctx context.Context, tx DBTX, artifactID string, eventID int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE artifacts SET created_event_id = ?
		WHERE artifact_id = ? AND created_event_id IS NULL
	`, eventID, artifactID)
	if err != nil {
		return fmt.Errorf("failed to stamp artifact created_event_id: %w", err)
	}
	return nil
}

// ListArtifactIDsMissingCreatedEvent returns artifact_ids whose row exists
// but whose artifact_recorded event was never stamped back onto it.
func ListArtifactIDsMissingCreatedEvent(ctx context.Context, q DBTX) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT artifact_id FROM artifacts WHERE created_event_id IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts missing created_event_id: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan artifact id: %w", err)
		}
		out = append(out, id)
	}
	return out, nil
}

// GetArtifact loads one artifact by id.
func GetArtifact(ctx context.Context, q DBTX, artifactID string) (*types.Artifact, error) {
	var a types.Artifact
	var kind string
	err := q.QueryRowContext(ctx, `
		SELECT artifact_id, episode_id, artifact_kind, path, content_hash, mime_type, metadata_json
		FROM artifacts WHERE artifact_id = ?
	`, artifactID).Scan(&a.ArtifactID, &a.EpisodeID, &kind, &a.Path, &a.ContentHash, &a.MimeType, &a.MetadataJSON)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get artifact: %w", err)
	}
	a.ArtifactKind = types.ArtifactKind(kind)
	return &a, nil
}

// InsertEvidenceRefIfAbsent inserts the evidence ref row if absent.
func InsertEvidenceRefIfAbsent(ctx context.Context, tx DBTX, e *types.EvidenceRef) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO evidence_refs
			(evidence_ref_id, episode_id, ref_kind, artifact_id, target_id,
			 start_offset, end_offset, line_start, line_end, excerpt_text, ref_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.EvidenceRefID, e.EpisodeID, string(e.RefKind), e.ArtifactID, e.TargetID,
		e.StartOffset, e.EndOffset, e.LineStart, e.LineEnd, e.ExcerptText, e.RefHash)
	if err != nil {
		return false, fmt.Errorf("failed to insert evidence ref: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// SetEvidenceRefCreatedEvent stamps created_event_id on an evidence ref row.
func SetEvidenceRefCreatedEvent(ctx context.Context, tx DBTX, evidenceRefID string, eventID int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE evidence_refs SET created_event_id = ?
		WHERE evidence_ref_id = ? AND created_event_id IS NULL
	`, eventID, evidenceRefID)
	if err != nil {
		return fmt.Errorf("failed to stamp evidence ref created_event_id: %w", err)
	}
	return nil
}

// ListEvidenceRefIDsMissingCreatedEvent returns evidence_ref_ids whose row
// exists but whose evidence_ref_recorded event was never stamped back onto it.
func ListEvidenceRefIDsMissingCreatedEvent(ctx context.Context, q DBTX) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT evidence_ref_id FROM evidence_refs WHERE created_event_id IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("failed to list evidence refs missing created_event_id: %w", err)
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

// GetEvidenceRef loads one evidence ref by id.
func GetEvidenceRef(ctx context.Context, q DBTX, evidenceRefID string) (*types.EvidenceRef, error) {
	var e types.EvidenceRef
	var kind string
	var artifactID sql.NullString
	err := q.QueryRowContext(ctx, `
		SELECT evidence_ref_id, episode_id, ref_kind, artifact_id, target_id,
		       start_offset, end_offset, line_start, line_end, excerpt_text, ref_hash, created_at
		FROM evidence_refs WHERE evidence_ref_id = ?
	`, evidenceRefID).Scan(&e.EvidenceRefID, &e.EpisodeID, &kind, &artifactID, &e.TargetID,
		&e.StartOffset, &e.EndOffset, &e.LineStart, &e.LineEnd, &e.ExcerptText, &e.RefHash, &e.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get evidence ref: %w", err)
	}
	e.RefKind = types.RefKind(kind)
	if artifactID.Valid {
		e.ArtifactID = &artifactID.String
	}
	return &e, nil
}

// ListEvidenceRefsByEpisode returns evidence refs for an episode ordered by
// (created_at, evidence_ref_id) as required by consolidation candidate
// generation (spec.md §4.4).
func ListEvidenceRefsByEpisode(ctx context.Context, q DBTX, episodeID string) ([]*types.EvidenceRef, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT evidence_ref_id, episode_id, ref_kind, artifact_id, target_id,
		       start_offset, end_offset, line_start, line_end, excerpt_text, ref_hash, created_at
		FROM evidence_refs
		WHERE episode_id = ?
		ORDER BY created_at ASC, evidence_ref_id ASC
	`, episodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list evidence refs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.EvidenceRef
	for rows.Next() {
		var e types.EvidenceRef
		var kind string
		var artifactID sql.NullString
		if err := rows.Scan(&e.EvidenceRefID, &e.EpisodeID, &kind, &artifactID, &e.TargetID,
			&e.StartOffset, &e.EndOffset, &e.LineStart, &e.LineEnd, &e.ExcerptText, &e.RefHash, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan evidence ref: %w", err)
		}
		e.RefKind = types.RefKind(kind)
		if artifactID.Valid {
			e.ArtifactID = &artifactID.String
		}
		out = append(out, &e)
	}
	return out, nil
}
