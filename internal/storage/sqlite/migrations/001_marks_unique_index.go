package migrations

import (
	"database/sql"
	"fmt"
)

// MigrateMarksUniqueIndex enforces at most one mark per (base_id, row_id, grupo).
// Databases written before the index existed may hold duplicates from
// interrupted estorno runs; the lowest id wins, matching the first-insert
// authority rule the pipeline applies.
func MigrateMarksUniqueIndex(db *sql.DB) error {
	// Check if the index already exists
	var indexExists bool
	err := db.QueryRow(`
		SELECT COUNT(*) > 0
		FROM sqlite_master
		WHERE type = 'index' AND name = 'idx_marks_base_row_grupo'
	`).Scan(&indexExists)
	if err != nil {
		return fmt.Errorf("failed to check marks unique index: %w", err)
	}
	if indexExists {
		return nil
	}

	// Drop duplicate marks before the unique index can be created.
	_, err = db.Exec(`
		DELETE FROM conciliacao_marks
		WHERE id NOT IN (
			SELECT MIN(id) FROM conciliacao_marks GROUP BY base_id, row_id, grupo
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to deduplicate marks: %w", err)
	}

	_, err = db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_marks_base_row_grupo
		ON conciliacao_marks(base_id, row_id, grupo)
	`)
	if err != nil {
		return fmt.Errorf("failed to create marks unique index: %w", err)
	}

	return nil
}
