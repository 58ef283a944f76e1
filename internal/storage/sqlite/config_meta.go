package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// SetConfig writes a user-facing setting.
func SetConfig(ctx context.Context, tx DBTX, key, value string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set config %q: %w", key, err)
	}
	return nil
}

// GetConfig reads a user-facing setting, returning ("", false) if unset.
func GetConfig(ctx context.Context, q DBTX, key string) (string, bool, error) {
	var value string
	err := q.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get config %q: %w", key, err)
	}
	return value, true, nil
}

// SetMetadata writes an internal bookkeeping key, e.g. a last-touched pointer.
func SetMetadata(ctx context.Context, tx DBTX, key, value string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set metadata %q: %w", key, err)
	}
	return nil
}

// GetMetadata reads an internal bookkeeping key, returning ("", false) if unset.
func GetMetadata(ctx context.Context, q DBTX, key string) (string, bool, error) {
	var value string
	err := q.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get metadata %q: %w", key, err)
	}
	return value, true, nil
}

// Metadata keys for the "last touched" pointers (original_source/
// memory_cli.py's get_last_touched_id, adapted from a single "last id"
// pointer to one pointer per kind). The reducer records the pack pointer and
// ingest records the episode pointer; no command reads either back.
const (
	MetaLastTouchedPack    = "last_touched_pack_id"
	MetaLastTouchedEpisode = "last_touched_episode_id"
)

// SetLastTouchedPack stamps the most recently produced pack id.
func SetLastTouchedPack(ctx context.Context, tx DBTX, packID string) error {
	return SetMetadata(ctx, tx, MetaLastTouchedPack, packID)
}

// GetLastTouchedPack returns the most recently produced pack id, if any.
func GetLastTouchedPack(ctx context.Context, q DBTX) (string, bool, error) {
	return GetMetadata(ctx, q, MetaLastTouchedPack)
}

// SetLastTouchedEpisode stamps the most recently ingested episode id.
func SetLastTouchedEpisode(ctx context.Context, tx DBTX, episodeID string) error {
	return SetMetadata(ctx, tx, MetaLastTouchedEpisode, episodeID)
}

// GetLastTouchedEpisode returns the most recently ingested episode id, if any.
func GetLastTouchedEpisode(ctx context.Context, q DBTX) (string, bool, error) {
	return GetMetadata(ctx, q, MetaLastTouchedEpisode)
}
