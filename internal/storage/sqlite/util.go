package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/concilia/concilia/internal/types"
)

// execer is the query surface shared by *sql.DB, *sql.Conn and *sql.Tx.
// Write paths that must work both on the pool and inside RunInTransaction
// (mark inserts, result batches, job progress) are written against it once.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// QueryContext exposes the underlying database QueryContext method for advanced queries
func (s *SQLiteStorage) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, query, args...)
}

// BeginTx starts a new database transaction
// This is used by commands that need to perform multiple operations atomically
func (s *SQLiteStorage) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

// withTx executes a function within a database transaction.
// If the function returns an error, the transaction is rolled back.
// Otherwise, the transaction is committed.
func (s *SQLiteStorage) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapDBError("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return wrapDBError("commit transaction", err)
	}

	return nil
}

// IsUniqueConstraintError checks if an error is a UNIQUE constraint violation
func IsUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// IsForeignKeyConstraintError checks if an error is a FOREIGN KEY constraint violation
// This occurs when deleting a base that a config or job still references
func IsForeignKeyConstraintError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "FOREIGN KEY constraint failed") ||
		strings.Contains(errStr, "foreign key constraint failed")
}

// quoteIdent returns the identifier wrapped in double quotes with embedded
// quotes doubled, for interpolation into dynamic SQL. Callers must validate
// identifiers with checkIdent first; quoting alone is not sufficient for
// values that come from outside the configuration tables.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// checkIdent rejects column names that do not look like identifiers.
// Column names reach dynamic SQL only from configuration records, but those
// records are user-written, so they are still validated before interpolation.
func checkIdent(name string) error {
	if !types.ValidIdent(name) {
		return fmt.Errorf("invalid column identifier: %q", name)
	}
	return nil
}

// checkIdents validates a list of column names.
func checkIdents(names []string) error {
	for _, name := range names {
		if err := checkIdent(name); err != nil {
			return err
		}
	}
	return nil
}

// baseTableName returns the data table name for a base.
func baseTableName(baseID int64) string {
	return fmt.Sprintf("base_%d", baseID)
}

// resultTableName returns the per-job result table name.
func resultTableName(jobID int64) string {
	return fmt.Sprintf("conciliacao_result_%d", jobID)
}

// keyIndexName returns the deterministic index name for a key column on a
// base table: idx_base_<baseId>_<sanitized_column>.
func keyIndexName(baseID int64, column string) string {
	return fmt.Sprintf("idx_base_%d_%s", baseID, sanitizeIndexPart(column))
}

// sanitizeIndexPart lowercases a column name and folds anything outside
// [a-z0-9] to underscores, keeping index names stable across runs.
func sanitizeIndexPart(column string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(column) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// chaveColumnNames maps key identifiers (CHAVE_1, ...) to result-table
// column names after validation.
func chaveColumnNames(keyIDs []string) ([]string, error) {
	if err := checkIdents(keyIDs); err != nil {
		return nil, err
	}
	out := make([]string, len(keyIDs))
	copy(out, keyIDs)
	return out, nil
}

// placeholders returns "?, ?, ..." with n markers.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

// int64Args converts ids to driver args for IN clauses.
func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
