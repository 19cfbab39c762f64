package migrations

import (
	"database/sql"
	"fmt"
)

// MigrateJobSnapshotColumns adds the display snapshot columns the API layer
// writes on job submission (config names at submit time, plus the mapeamento
// pair shared with the sibling attribution pipeline). The core never reads
// them; they are carried so both pipelines can share jobs_conciliacao.
func MigrateJobSnapshotColumns(db *sql.DB) error {
	columns := []struct {
		name string
		ddl  string
	}{
		{"config_estorno_nome", "ALTER TABLE jobs_conciliacao ADD COLUMN config_estorno_nome TEXT"},
		{"config_cancelamento_nome", "ALTER TABLE jobs_conciliacao ADD COLUMN config_cancelamento_nome TEXT"},
		{"config_mapeamento_id", "ALTER TABLE jobs_conciliacao ADD COLUMN config_mapeamento_id INTEGER"},
		{"config_mapeamento_nome", "ALTER TABLE jobs_conciliacao ADD COLUMN config_mapeamento_nome TEXT"},
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
