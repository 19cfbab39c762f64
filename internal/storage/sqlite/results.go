package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/concilia/concilia/internal/storage"
	"github.com/concilia/concilia/internal/types"
)

// resultBaseColumns are the fixed columns of every per-job result table.
// Key identifier columns (CHAVE_1, ...) are appended per configuration.
const resultBaseColumns = `
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id INTEGER NOT NULL,
	chave TEXT,
	status TEXT NOT NULL,
	grupo TEXT NOT NULL,
	a_row_id INTEGER,
	b_row_id INTEGER,
	a_values TEXT,
	b_values TEXT,
	value_a REAL NOT NULL DEFAULT 0,
	value_b REAL NOT NULL DEFAULT 0,
	difference REAL NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	CHECK ((a_row_id IS NULL) <> (b_row_id IS NULL))`

// EnsureResultTable creates the per-job result table if absent and adds one
// nullable TEXT column per key identifier that the table does not yet have.
// Safe to call repeatedly; an existing table keeps its rows.
func (s *SQLiteStorage) EnsureResultTable(ctx context.Context, jobID int64, keyIDs []string) error {
	keyCols, err := chaveColumnNames(keyIDs)
	if err != nil {
		return err
	}

	table := resultTableName(jobID)
	quoted := quoteIdent(table)
	return s.withRetry(ctx, func() error {
		if _, err := s.db.ExecContext(ctx,
			fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s\n)", quoted, resultBaseColumns)); err != nil {
			return wrapDBErrorf(err, "create result table for job %d", jobID)
		}

		// Row-id indexes back the export left joins.
		for _, col := range []string{"a_row_id", "b_row_id"} {
			idx := fmt.Sprintf("idx_%s_%s", table, col)
			if _, err := s.db.ExecContext(ctx,
				fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", quoteIdent(idx), quoted, col)); err != nil {
				return wrapDBErrorf(err, "index result table for job %d", jobID)
			}
		}

		for _, col := range keyCols {
			var count int
			err := s.db.QueryRowContext(ctx,
				"SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?",
				table, col).Scan(&count)
			if err != nil {
				return wrapDBErrorf(err, "inspect result table for job %d", jobID)
			}
			if count > 0 {
				continue
			}
			if _, err := s.db.ExecContext(ctx,
				fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s TEXT", quoted, quoteIdent(col))); err != nil {
				return wrapDBErrorf(err, "add key column %s to result table for job %d", col, jobID)
			}
		}
		return nil
	})
}

// DropResultTable removes the per-job result table. Missing tables are not
// an error; requeue and delete paths call this unconditionally.
func (s *SQLiteStorage) DropResultTable(ctx context.Context, jobID int64) error {
	_, err := s.execContext(ctx,
		fmt.Sprintf("DROP TABLE IF EXISTS %s", quoteIdent(resultTableName(jobID))))
	if err != nil {
		return wrapDBErrorf(err, "drop result table for job %d", jobID)
	}
	return nil
}

// insertResults writes result entries in chunks of insertChunkSize rows.
// Callers provide the transaction boundary; the key identifier list must
// match the columns previously ensured on the table.
func insertResults(ctx context.Context, q execer, jobID int64, keyIDs []string, entries []*types.ResultEntry) error {
	if len(entries) == 0 {
		return nil
	}
	keyCols, err := chaveColumnNames(keyIDs)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := entry.Validate(); err != nil {
			return fmt.Errorf("result entry for job %d: %w", jobID, err)
		}
	}

	cols := []string{"job_id", "chave", "status", "grupo", "a_row_id", "b_row_id",
		"a_values", "b_values", "value_a", "value_b", "difference"}
	colList := strings.Join(cols, ", ")
	for _, col := range keyCols {
		colList += ", " + quoteIdent(col)
	}
	perRow := len(cols) + len(keyCols)
	rowTuple := "(" + placeholders(perRow) + ")"
	table := quoteIdent(resultTableName(jobID))

	for start := 0; start < len(entries); start += insertChunkSize {
		end := start + insertChunkSize
		if end > len(entries) {
			end = len(entries)
		}
		chunk := entries[start:end]

		tuples := make([]string, len(chunk))
		args := make([]any, 0, len(chunk)*perRow)
		for i, entry := range chunk {
			tuples[i] = rowTuple
			args = append(args, jobID, entry.Chave, entry.Status, entry.Grupo,
				entry.ARowID, entry.BRowID,
				nullIfEmpty(entry.AValues), nullIfEmpty(entry.BValues),
				entry.ValueA, entry.ValueB, entry.Difference)
			for _, keyID := range keyIDs {
				if val, ok := entry.KeyValues[keyID]; ok {
					args = append(args, val)
				} else {
					args = append(args, nil)
				}
			}
		}

		query := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
			table, colList, strings.Join(tuples, ", "))
		if _, err := q.ExecContext(ctx, query, args...); err != nil {
			return wrapDBErrorf(err, "insert results for job %d", jobID)
		}
	}
	return nil
}

// InsertResults writes a batch of result entries atomically.
func (s *SQLiteStorage) InsertResults(ctx context.Context, jobID int64, keyIDs []string, entries []*types.ResultEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return s.RunInTransaction(ctx, func(tx storage.Transaction) error {
		return tx.InsertResults(ctx, jobID, keyIDs, entries)
	})
}

// ResultSummary counts result rows per grupo for a job.
func (s *SQLiteStorage) ResultSummary(ctx context.Context, jobID int64) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT grupo, COUNT(*) FROM %s GROUP BY grupo ORDER BY grupo",
		quoteIdent(resultTableName(jobID))))
	if err != nil {
		return nil, wrapDBErrorf(err, "summarize results for job %d", jobID)
	}
	defer rows.Close()

	summary := make(map[string]int64)
	for rows.Next() {
		var grupo string
		var count int64
		if err := rows.Scan(&grupo, &count); err != nil {
			return nil, wrapDBError("scan result summary", err)
		}
		summary[grupo] = count
	}
	return summary, rows.Err()
}

// StreamExportRows walks one side of an export sheet: every row of the base
// data table in id order, with the job's result columns (status, chave,
// grupo) appended via a left join on a_row_id (side A) or b_row_id (side B).
// The column list excludes the ingest bookkeeping columns (id, created_at,
// updated_at) so the sheet reproduces the original layout. fn receives the
// same columns slice on every call.
func (s *SQLiteStorage) StreamExportRows(ctx context.Context, jobID int64, baseID int64, sideA bool, fn func(columns, values []string) error) error {
	baseCols, err := s.BaseColumns(ctx, baseID)
	if err != nil {
		return err
	}
	var dataCols []string
	for _, col := range baseCols {
		switch col.Name {
		case "id", "created_at", "updated_at":
			continue
		}
		dataCols = append(dataCols, col.Name)
	}

	selects := make([]string, 0, len(dataCols)+3)
	for _, col := range dataCols {
		selects = append(selects, "t."+quoteIdent(col))
	}
	selects = append(selects, "r.status", "r.chave", "r.grupo")

	joinCol := "a_row_id"
	if !sideA {
		joinCol = "b_row_id"
	}
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s t
		LEFT JOIN %s r ON r.%s = t.id
		ORDER BY t.id
	`, strings.Join(selects, ", "),
		quoteIdent(baseTableName(baseID)), quoteIdent(resultTableName(jobID)), joinCol)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return wrapDBErrorf(err, "stream export rows for job %d base %d", jobID, baseID)
	}
	defer rows.Close()

	columns := append(append([]string{}, dataCols...), "status", "chave", "grupo")
	cells := make([]sql.NullString, len(columns))
	dest := make([]any, len(columns))
	for i := range cells {
		dest[i] = &cells[i]
	}
	values := make([]string, len(columns))

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return wrapDBError("scan export row", err)
		}
		for i := range cells {
			values[i] = cells[i].String
		}
		if err := fn(columns, values); err != nil {
			return err
		}
	}
	return rows.Err()
}
