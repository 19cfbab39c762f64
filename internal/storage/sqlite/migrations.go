// Package sqlite - database migrations
package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/concilia/concilia/internal/storage/sqlite/migrations"
)

// Migration represents a single database migration
type Migration struct {
	Name string
	Func func(*sql.DB) error
}

// migrationsList is the ordered list of all migrations to run
// Migrations are run in order during database initialization
var migrationsList = []Migration{
	{"marks_unique_index", migrations.MigrateMarksUniqueIndex},
	{"job_snapshot_columns", migrations.MigrateJobSnapshotColumns},
	{"job_export_columns", migrations.MigrateJobExportColumns},
	{"base_subtype_column", migrations.MigrateBaseSubtypeColumn},
}

// MigrationInfo contains metadata about a migration for inspection
type MigrationInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ListMigrations returns list of all registered migrations with descriptions
// Note: This returns ALL registered migrations, not just pending ones (all are idempotent)
func ListMigrations() []MigrationInfo {
	result := make([]MigrationInfo, len(migrationsList))
	for i, m := range migrationsList {
		result[i] = MigrationInfo{
			Name:        m.Name,
			Description: getMigrationDescription(m.Name),
		}
	}
	return result
}

// getMigrationDescription returns a human-readable description for a migration
func getMigrationDescription(name string) string {
	descriptions := map[string]string{
		"marks_unique_index":   "Deduplicates conciliacao_marks and adds the unique (base_id, row_id, grupo) index",
		"job_snapshot_columns": "Adds display snapshot columns (config_estorno_nome, config_cancelamento_nome, config_mapeamento_id/nome) to jobs_conciliacao",
		"job_export_columns":   "Adds export bookkeeping columns (export_status, export_progress, arquivo_exportado) to jobs_conciliacao",
		"base_subtype_column":  "Adds the subtype column to bases",
	}

	if desc, ok := descriptions[name]; ok {
		return desc
	}
	return "Unknown migration"
}

// RunMigrations executes all registered migrations in order.
// Uses an EXCLUSIVE transaction to prevent race conditions when multiple
// processes (CLI and worker) open the database simultaneously.
func RunMigrations(db *sql.DB) error {
	// Disable foreign keys BEFORE starting the transaction.
	// PRAGMA foreign_keys must be called when no transaction is active
	// (SQLite limitation). Migrations that rewrite rows must not trigger
	// ON DELETE CASCADE on related data.
	_, err := db.Exec("PRAGMA foreign_keys = OFF")
	if err != nil {
		return fmt.Errorf("failed to disable foreign keys for migrations: %w", err)
	}
	defer func() { _, _ = db.Exec("PRAGMA foreign_keys = ON") }()

	// Acquire EXCLUSIVE lock to serialize migrations across processes.
	// Without this, parallel processes can race on check-then-modify operations
	// (e.g., checking if a column exists then adding it), causing "duplicate column" errors.
	_, err = db.Exec("BEGIN EXCLUSIVE")
	if err != nil {
		return fmt.Errorf("failed to acquire exclusive lock for migrations: %w", err)
	}

	// Ensure we release the lock on any exit path
	committed := false
	defer func() {
		if !committed {
			_, _ = db.Exec("ROLLBACK")
		}
	}()

	for _, migration := range migrationsList {
		if err := migration.Func(db); err != nil {
			return fmt.Errorf("migration %s failed: %w", migration.Name, err)
		}
	}

	// Commit the transaction
	if _, err := db.Exec("COMMIT"); err != nil {
		return fmt.Errorf("failed to commit migrations: %w", err)
	}
	committed = true

	return nil
}
