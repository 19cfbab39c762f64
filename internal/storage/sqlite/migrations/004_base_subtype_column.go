package migrations

import (
	"database/sql"
	"fmt"
)

// MigrateBaseSubtypeColumn adds the subtype column to bases. Subtype is a
// free-form refinement of tipo (e.g. which ledger a CONTABIL base came from)
// used for display and filtering only.
func MigrateBaseSubtypeColumn(db *sql.DB) error {
	var columnExists bool
	err := db.QueryRow(`
		SELECT COUNT(*) > 0
		FROM pragma_table_info('bases')
		WHERE name = 'subtype'
	`).Scan(&columnExists)
	if err != nil {
		return fmt.Errorf("failed to check subtype column: %w", err)
	}
	if columnExists {
		return nil
	}

	_, err = db.Exec(`ALTER TABLE bases ADD COLUMN subtype TEXT NOT NULL DEFAULT ''`)
	if err != nil {
		return fmt.Errorf("failed to add subtype column: %w", err)
	}

	return nil
}
