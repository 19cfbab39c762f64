package migrations

import (
	"database/sql"
	"fmt"
)

// MigrateJobExportColumns adds export bookkeeping to jobs_conciliacao.
// Export runs after a job is DONE and tracks its own status/progress,
// independent of the pipeline columns.
func MigrateJobExportColumns(db *sql.DB) error {
	columns := []struct {
		name string
		ddl  string
	}{
		{"export_status", "ALTER TABLE jobs_conciliacao ADD COLUMN export_status TEXT"},
		{"export_progress", "ALTER TABLE jobs_conciliacao ADD COLUMN export_progress INTEGER NOT NULL DEFAULT 0"},
		{"arquivo_exportado", "ALTER TABLE jobs_conciliacao ADD COLUMN arquivo_exportado TEXT"},
	}

	for _, col := range columns {
		var columnExists bool
		err := db.QueryRow(`
			SELECT COUNT(*) > 0
			FROM pragma_table_info('jobs_conciliacao')
			WHERE name = ?
		`, col.name).Scan(&columnExists)
		if err != nil {
			return fmt.Errorf("failed to check %s column: %w", col.name, err)
		}
		if columnExists {
			continue
		}

		if _, err := db.Exec(col.ddl); err != nil {
			return fmt.Errorf("failed to add %s column: %w", col.name, err)
		}
	}

	return nil
}
