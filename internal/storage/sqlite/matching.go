package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/concilia/concilia/internal/types"
)

// loadRowsChunkSize bounds the IN clause of LoadRowsByID. SQLite caps bound
// parameters per statement, so large id sets are fetched in slices.
const loadRowsChunkSize = 500

// NormalizeNulls rewrites NULL and empty-string cells in a base data table:
// numeric columns become 0, textual columns become the literal 'NULL'.
// Runs one UPDATE per column kind inside a single transaction and returns
// the number of rows touched. Re-running on a normalized base touches zero
// rows.
func (s *SQLiteStorage) NormalizeNulls(ctx context.Context, baseID int64, numericCols, textCols []string) (int64, error) {
	if err := checkIdents(numericCols); err != nil {
		return 0, err
	}
	if err := checkIdents(textCols); err != nil {
		return 0, err
	}

	table := quoteIdent(baseTableName(baseID))
	var total int64
	err := s.withRetry(ctx, func() error {
		total = 0
		return s.withTx(ctx, func(tx *sql.Tx) error {
			for _, upd := range []struct {
				cols        []string
				replacement string
			}{
				{numericCols, "0"},
				{textCols, "'NULL'"},
			} {
				if len(upd.cols) == 0 {
					continue
				}
				res, err := tx.ExecContext(ctx, normalizeUpdateSQL(table, upd.cols, upd.replacement))
				if err != nil {
					return wrapDBErrorf(err, "normalize nulls in base %d", baseID)
				}
				affected, err := res.RowsAffected()
				if err != nil {
					return wrapDBErrorf(err, "normalize nulls in base %d", baseID)
				}
				total += affected
			}
			return nil
		})
	})
	return total, err
}

// normalizeUpdateSQL builds one UPDATE that rewrites every listed column via
// CASE, restricted by WHERE to rows that actually hold a NULL or empty cell
// so that repeat runs report zero affected rows.
func normalizeUpdateSQL(table string, cols []string, replacement string) string {
	sets := make([]string, len(cols))
	conds := make([]string, len(cols))
	for i, col := range cols {
		q := quoteIdent(col)
		sets[i] = fmt.Sprintf("%s = CASE WHEN %s IS NULL OR %s = '' THEN %s ELSE %s END", q, q, q, replacement, q)
		conds[i] = fmt.Sprintf("%s IS NULL OR %s = ''", q, q)
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s",
		table, strings.Join(sets, ", "), strings.Join(conds, " OR "))
}

// ListRowIDs returns every row id of a base data table in ascending order.
func (s *SQLiteStorage) ListRowIDs(ctx context.Context, baseID int64) ([]int64, error) {
	table := quoteIdent(baseTableName(baseID))
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT id FROM %s ORDER BY id", table))
	if err != nil {
		return nil, wrapDBErrorf(err, "list row ids for base %d", baseID)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, wrapDBError("scan row id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LoadRowsByID fetches the named columns for a set of row ids, chunking the
// IN clause. Cell values come back as strings; NULL cells come back empty.
// Ids absent from the table are silently missing from the result map.
func (s *SQLiteStorage) LoadRowsByID(ctx context.Context, baseID int64, cols []string, ids []int64) (map[int64]*types.BaseRow, error) {
	if err := checkIdents(cols); err != nil {
		return nil, err
	}
	out := make(map[int64]*types.BaseRow, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	// Duplicate column requests collapse to one select expression.
	seen := make(map[string]bool, len(cols))
	distinct := make([]string, 0, len(cols))
	for _, col := range cols {
		if !seen[col] {
			seen[col] = true
			distinct = append(distinct, col)
		}
	}

	selectCols := make([]string, 0, len(distinct)+1)
	selectCols = append(selectCols, "id")
	for _, col := range distinct {
		selectCols = append(selectCols, quoteIdent(col))
	}
	table := quoteIdent(baseTableName(baseID))

	for start := 0; start < len(ids); start += loadRowsChunkSize {
		end := start + loadRowsChunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		query := fmt.Sprintf("SELECT %s FROM %s WHERE id IN (%s)",
			strings.Join(selectCols, ", "), table, placeholders(len(chunk)))
		rows, err := s.db.QueryContext(ctx, query, int64Args(chunk)...)
		if err != nil {
			return nil, wrapDBErrorf(err, "load rows for base %d", baseID)
		}

		for rows.Next() {
			var id int64
			cells := make([]sql.NullString, len(distinct))
			dest := make([]any, 0, len(distinct)+1)
			dest = append(dest, &id)
			for i := range cells {
				dest = append(dest, &cells[i])
			}
			if err := rows.Scan(dest...); err != nil {
				rows.Close()
				return nil, wrapDBError("scan base row", err)
			}
			values := make(map[string]string, len(distinct))
			for i, col := range distinct {
				values[col] = cells[i].String
			}
			out[id] = &types.BaseRow{ID: id, Values: values}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, wrapDBErrorf(err, "load rows for base %d", baseID)
		}
		rows.Close()
	}
	return out, nil
}

// JoinPairs inner-joins two base data tables on pairwise column equality and
// returns the matching (a_row_id, b_row_id) pairs ordered by a.id then b.id.
// When the column lists differ in length, the shorter list cycles from its
// start, mirroring how configured key arities are interpreted.
func (s *SQLiteStorage) JoinPairs(ctx context.Context, baseAID, baseBID int64, aCols, bCols []string) ([]*types.JoinPair, error) {
	if len(aCols) == 0 || len(bCols) == 0 {
		return nil, nil
	}
	if err := checkIdents(aCols); err != nil {
		return nil, err
	}
	if err := checkIdents(bCols); err != nil {
		return nil, err
	}

	n := len(aCols)
	if len(bCols) > n {
		n = len(bCols)
	}
	conds := make([]string, n)
	for i := 0; i < n; i++ {
		conds[i] = fmt.Sprintf("a.%s = b.%s",
			quoteIdent(aCols[i%len(aCols)]), quoteIdent(bCols[i%len(bCols)]))
	}

	query := fmt.Sprintf(`
		SELECT a.id, b.id
		FROM %s a
		JOIN %s b ON %s
		ORDER BY a.id, b.id
	`, quoteIdent(baseTableName(baseAID)), quoteIdent(baseTableName(baseBID)),
		strings.Join(conds, " AND "))

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, wrapDBErrorf(err, "join bases %d x %d", baseAID, baseBID)
	}
	defer rows.Close()

	var pairs []*types.JoinPair
	for rows.Next() {
		pair := &types.JoinPair{}
		if err := rows.Scan(&pair.AID, &pair.BID); err != nil {
			return nil, wrapDBError("scan join pair", err)
		}
		pairs = append(pairs, pair)
	}
	return pairs, rows.Err()
}

// LoadMarkedRows returns one entry per marked row of a base, joined against
// the data table for the amount column. A row carrying several marks yields
// its oldest mark: the first mark written is authoritative.
func (s *SQLiteStorage) LoadMarkedRows(ctx context.Context, baseID int64, amountCol string) ([]*types.MarkedRow, error) {
	if err := checkIdent(amountCol); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT m.row_id, m.status, m.grupo, m.chave, t.%s
		FROM conciliacao_marks m
		JOIN %s t ON t.id = m.row_id
		WHERE m.base_id = ?
		  AND m.id = (
			SELECT MIN(m2.id) FROM conciliacao_marks m2
			WHERE m2.base_id = m.base_id AND m2.row_id = m.row_id
		  )
		ORDER BY m.row_id
	`, quoteIdent(amountCol), quoteIdent(baseTableName(baseID)))

	rows, err := s.db.QueryContext(ctx, query, baseID)
	if err != nil {
		return nil, wrapDBErrorf(err, "load marked rows for base %d", baseID)
	}
	defer rows.Close()

	var marked []*types.MarkedRow
	for rows.Next() {
		row := &types.MarkedRow{}
		var amount sql.NullString
		if err := rows.Scan(&row.RowID, &row.Status, &row.Grupo, &row.Chave, &amount); err != nil {
			return nil, wrapDBError("scan marked row", err)
		}
		row.Amount = types.ParseAmount(amount.String)
		marked = append(marked, row)
	}
	return marked, rows.Err()
}

// EstornoCandidates self-joins a base on coluna_a = coluna_b to find row
// pairs whose coluna_soma values cancel out within limite_zero. Rows already
// holding an estorno mark are excluded on both sides of the join. Candidates
// come back ordered by (a.id, b.id); the caller applies the greedy pairing
// over that order.
func (s *SQLiteStorage) EstornoCandidates(ctx context.Context, baseID int64, cfg *types.ConfigEstorno) ([]*types.EstornoPair, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	table := quoteIdent(baseTableName(baseID))
	colA := quoteIdent(cfg.ColunaA)
	colB := quoteIdent(cfg.ColunaB)
	colSoma := quoteIdent(cfg.ColunaSoma)

	query := fmt.Sprintf(`
		SELECT a.id, b.id, a.%[1]s,
		       CAST(a.%[3]s AS REAL), CAST(b.%[3]s AS REAL)
		FROM %[4]s a
		JOIN %[4]s b ON a.%[1]s = b.%[2]s AND a.id <> b.id
		WHERE ABS(CAST(a.%[3]s AS REAL) + CAST(b.%[3]s AS REAL)) <= ?
		  AND NOT EXISTS (
			SELECT 1 FROM conciliacao_marks m
			WHERE m.base_id = ? AND m.row_id = a.id AND m.grupo = ?
		  )
		  AND NOT EXISTS (
			SELECT 1 FROM conciliacao_marks m
			WHERE m.base_id = ? AND m.row_id = b.id AND m.grupo = ?
		  )
		ORDER BY a.id, b.id
	`, colA, colB, colSoma, table)

	rows, err := s.db.QueryContext(ctx, query,
		cfg.LimiteZero,
		baseID, types.GrupoConciliadoEstorno,
		baseID, types.GrupoConciliadoEstorno)
	if err != nil {
		return nil, wrapDBErrorf(err, "estorno candidates for base %d", baseID)
	}
	defer rows.Close()

	var pairs []*types.EstornoPair
	for rows.Next() {
		pair := &types.EstornoPair{}
		var chave sql.NullString
		var somaA, somaB sql.NullFloat64
		if err := rows.Scan(&pair.AID, &pair.BID, &chave, &somaA, &somaB); err != nil {
			return nil, wrapDBError("scan estorno candidate", err)
		}
		pair.Chave = chave.String
		pair.SomaA = somaA.Float64
		pair.SomaB = somaB.Float64
		pairs = append(pairs, pair)
	}
	return pairs, rows.Err()
}

// MarkCancelledRows marks every base row whose indicator column equals the
// configured cancelled value. One set-based INSERT with a NOT-EXISTS guard;
// returns how many new marks landed. Re-running adds nothing.
func (s *SQLiteStorage) MarkCancelledRows(ctx context.Context, baseID int64, cfg *types.ConfigCancelamento) (int64, error) {
	if err := cfg.Validate(); err != nil {
		return 0, err
	}

	table := quoteIdent(baseTableName(baseID))
	indicator := quoteIdent(cfg.ColunaIndicador)

	query := fmt.Sprintf(`
		INSERT INTO conciliacao_marks (base_id, row_id, status, grupo, chave, created_at)
		SELECT ?, t.id, ?, ?, NULL, ?
		FROM %s t
		WHERE t.%s = ?
		  AND NOT EXISTS (
			SELECT 1 FROM conciliacao_marks m
			WHERE m.base_id = ? AND m.row_id = t.id AND m.grupo = ?
		  )
	`, table, indicator)

	res, err := s.execContext(ctx, query,
		baseID, types.StatusNaoAvaliado, types.GrupoNFCancelada, time.Now(),
		cfg.ValorCancelado,
		baseID, types.GrupoNFCancelada)
	if err != nil {
		return 0, wrapDBErrorf(err, "mark cancelled rows in base %d", baseID)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, wrapDBErrorf(err, "mark cancelled rows in base %d", baseID)
	}
	return affected, nil
}
