package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/concilia/concilia/internal/types"
)

// insertChunkSize bounds the rows packed into one multi-row INSERT.
const insertChunkSize = 200

// columnTypeRe accepts SQLite type declarations (TEXT, INTEGER, DECIMAL(10,2), ...).
var columnTypeRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9(), ]*$`)

// CreateBase registers a base and creates its data table. The data table is
// named base_<id>; columns beyond the supplied ones are id (rowid alias),
// created_at and updated_at. The supplied base is updated with the assigned
// id, table name and timestamps.
func (s *SQLiteStorage) CreateBase(ctx context.Context, base *types.Base, columns []types.ColumnInfo) error {
	if base == nil {
		return fmt.Errorf("base is required")
	}
	if !base.Tipo.IsValid() {
		return fmt.Errorf("invalid base tipo: %s", base.Tipo)
	}
	if base.Nome == "" {
		return fmt.Errorf("base nome is required")
	}
	if len(columns) == 0 {
		return fmt.Errorf("at least one column is required")
	}
	for _, col := range columns {
		if err := checkIdent(col.Name); err != nil {
			return err
		}
		if col.DeclaredType != "" && !columnTypeRe.MatchString(col.DeclaredType) {
			return fmt.Errorf("invalid column type for %s: %q", col.Name, col.DeclaredType)
		}
	}

	now := time.Now()
	base.CreatedAt = now
	base.UpdatedAt = now

	return s.withTx(ctx, func(tx *sql.Tx) error {
		// The table name embeds the assigned id, so insert first and patch.
		res, err := tx.ExecContext(ctx, `
			INSERT INTO bases (nome, tipo, tabela_sqlite, subtype, created_at, updated_at)
			VALUES (?, ?, '', ?, ?, ?)
		`, base.Nome, string(base.Tipo), base.Subtype, base.CreatedAt, base.UpdatedAt)
		if err != nil {
			return wrapDBError("insert base", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return wrapDBError("base id", err)
		}
		base.ID = id
		base.TabelaSQLite = baseTableName(id)

		if _, err := tx.ExecContext(ctx,
			`UPDATE bases SET tabela_sqlite = ? WHERE id = ?`, base.TabelaSQLite, id); err != nil {
			return wrapDBError("set base table name", err)
		}

		var ddl strings.Builder
		ddl.WriteString("CREATE TABLE ")
		ddl.WriteString(quoteIdent(base.TabelaSQLite))
		ddl.WriteString(" (\n    id INTEGER PRIMARY KEY AUTOINCREMENT")
		for _, col := range columns {
			declared := col.DeclaredType
			if declared == "" {
				declared = "TEXT"
			}
			ddl.WriteString(",\n    ")
			ddl.WriteString(quoteIdent(col.Name))
			ddl.WriteString(" ")
			ddl.WriteString(declared)
		}
		ddl.WriteString(",\n    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP")
		ddl.WriteString(",\n    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP\n)")

		if _, err := tx.ExecContext(ctx, ddl.String()); err != nil {
			return wrapDBErrorf(err, "create data table %s", base.TabelaSQLite)
		}
		return nil
	})
}

// GetBase returns the base with the given id.
func (s *SQLiteStorage) GetBase(ctx context.Context, id int64) (*types.Base, error) {
	base := &types.Base{}
	var tipo string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, nome, tipo, tabela_sqlite, subtype, created_at, updated_at
		FROM bases WHERE id = ?
	`, id).Scan(&base.ID, &base.Nome, &tipo, &base.TabelaSQLite, &base.Subtype,
		&base.CreatedAt, &base.UpdatedAt)
	if err != nil {
		return nil, wrapDBErrorf(err, "get base %d", id)
	}
	base.Tipo = types.BaseTipo(tipo)
	return base, nil
}

// ListBases returns all registered bases ordered by id.
func (s *SQLiteStorage) ListBases(ctx context.Context) ([]*types.Base, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, nome, tipo, tabela_sqlite, subtype, created_at, updated_at
		FROM bases ORDER BY id
	`)
	if err != nil {
		return nil, wrapDBError("list bases", err)
	}
	defer rows.Close()

	var bases []*types.Base
	for rows.Next() {
		base := &types.Base{}
		var tipo string
		if err := rows.Scan(&base.ID, &base.Nome, &tipo, &base.TabelaSQLite,
			&base.Subtype, &base.CreatedAt, &base.UpdatedAt); err != nil {
			return nil, wrapDBError("scan base", err)
		}
		base.Tipo = types.BaseTipo(tipo)
		bases = append(bases, base)
	}
	return bases, rows.Err()
}

// DeleteBase removes a base and drops its data table. Bases still referenced
// by a config (and therefore reachable from jobs) are protected by foreign
// keys and cannot be deleted.
func (s *SQLiteStorage) DeleteBase(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var table string
		err := tx.QueryRowContext(ctx,
			`SELECT tabela_sqlite FROM bases WHERE id = ?`, id).Scan(&table)
		if err != nil {
			return wrapDBErrorf(err, "get base %d", id)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM bases WHERE id = ?`, id); err != nil {
			if IsForeignKeyConstraintError(err) {
				return fmt.Errorf("base %d is still referenced by a config or job", id)
			}
			return wrapDBErrorf(err, "delete base %d", id)
		}

		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(table)); err != nil {
			return wrapDBErrorf(err, "drop data table %s", table)
		}
		return nil
	})
}

// BaseColumns returns the base data table's columns in declaration order.
func (s *SQLiteStorage) BaseColumns(ctx context.Context, baseID int64) ([]types.ColumnInfo, error) {
	table := baseTableName(baseID)
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table)))
	if err != nil {
		return nil, wrapDBErrorf(err, "table info %s", table)
	}
	defer rows.Close()

	var cols []types.ColumnInfo
	for rows.Next() {
		var (
			cid, notnull, pk int
			name, typ        string
			dflt             *string
		)
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dflt, &pk); err != nil {
			return nil, wrapDBError("scan column info", err)
		}
		cols = append(cols, types.ColumnInfo{
			Name:         name,
			DeclaredType: typ,
			PrimaryKey:   pk > 0,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErrorf(err, "table info %s", table)
	}
	if len(cols) == 0 {
		// PRAGMA table_info returns no rows (and no error) for missing tables.
		return nil, fmt.Errorf("base %d: data table %s does not exist", baseID, table)
	}
	return cols, nil
}

// CountBaseRows returns the number of rows in the base data table.
func (s *SQLiteStorage) CountBaseRows(ctx context.Context, baseID int64) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM "+quoteIdent(baseTableName(baseID))).Scan(&n)
	if err != nil {
		return 0, wrapDBErrorf(err, "count base %d rows", baseID)
	}
	return n, nil
}

// InsertBaseRows bulk-loads rows into a base data table. Values are inserted
// positionally against the supplied columns in chunks of insertChunkSize,
// all chunks inside one transaction. Returns the number of rows inserted.
func (s *SQLiteStorage) InsertBaseRows(ctx context.Context, baseID int64, columns []string, rows [][]string) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := checkIdents(columns); err != nil {
		return 0, err
	}
	for i, row := range rows {
		if len(row) != len(columns) {
			return 0, fmt.Errorf("row %d has %d values, want %d", i, len(row), len(columns))
		}
	}

	table := quoteIdent(baseTableName(baseID))
	quoted := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = quoteIdent(col)
	}
	prefix := fmt.Sprintf("INSERT INTO %s (%s) VALUES ", table, strings.Join(quoted, ", "))
	rowMark := "(" + placeholders(len(columns)) + ")"

	var inserted int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for start := 0; start < len(rows); start += insertChunkSize {
			end := start + insertChunkSize
			if end > len(rows) {
				end = len(rows)
			}
			chunk := rows[start:end]

			marks := make([]string, len(chunk))
			args := make([]any, 0, len(chunk)*len(columns))
			for i, row := range chunk {
				marks[i] = rowMark
				for _, v := range row {
					args = append(args, v)
				}
			}

			res, err := tx.ExecContext(ctx, prefix+strings.Join(marks, ", "), args...)
			if err != nil {
				return wrapDBErrorf(err, "insert rows into base %d", baseID)
			}
			n, _ := res.RowsAffected()
			inserted += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}
