package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// RunMigrations applies the schema under an EXCLUSIVE lock, grounded on the
// teacher's migrations.go pattern: schema version is 1 (spec.md §6), so
// there is a single idempotent CREATE-IF-NOT-EXISTS pass rather than a
// numbered migration list. The exclusive lock still matters: it serializes
// first-run schema creation across processes racing to initialize the same
// fresh database file.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, "BEGIN EXCLUSIVE"); err != nil {
		return fmt.Errorf("failed to acquire exclusive lock for schema init: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_, _ = db.ExecContext(ctx, "ROLLBACK")
		}
	}()

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	if _, err := db.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("failed to commit schema init: %w", err)
	}
	committed = true
	return nil
}
