package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/concilia/concilia/internal/storage"
	"github.com/concilia/concilia/internal/types"
)

// insertMark performs the guarded mark insert. The NOT-EXISTS guard (plus
// the unique index behind it) makes re-running a pipeline step a no-op for
// rows that already carry the mark: the first mark is authoritative.
// Returns true when a row was inserted.
func insertMark(ctx context.Context, q execer, mark *types.Mark) (bool, error) {
	if mark.BaseID <= 0 || mark.RowID <= 0 {
		return false, fmt.Errorf("mark requires base_id and row_id")
	}
	if mark.Status == "" || mark.Grupo == "" {
		return false, fmt.Errorf("mark requires status and grupo")
	}
	if mark.CreatedAt.IsZero() {
		mark.CreatedAt = time.Now()
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO conciliacao_marks (base_id, row_id, status, grupo, chave, created_at)
		SELECT ?, ?, ?, ?, ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM conciliacao_marks WHERE base_id = ? AND row_id = ? AND grupo = ?
		)
	`, mark.BaseID, mark.RowID, mark.Status, mark.Grupo, mark.Chave, mark.CreatedAt,
		mark.BaseID, mark.RowID, mark.Grupo)
	if err != nil {
		return false, wrapDBError("insert mark", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, wrapDBError("insert mark", err)
	}
	if affected == 0 {
		return false, nil
	}
	if id, err := res.LastInsertId(); err == nil {
		mark.ID = id
	}
	return true, nil
}

// insertMarks inserts a batch of guarded marks, returning how many landed.
func insertMarks(ctx context.Context, q execer, marks []*types.Mark) (int, error) {
	inserted := 0
	for _, mark := range marks {
		ok, err := insertMark(ctx, q, mark)
		if err != nil {
			return inserted, err
		}
		if ok {
			inserted++
		}
	}
	return inserted, nil
}

// AddMark inserts a mark unless the (base_id, row_id, grupo) slot is taken.
func (s *SQLiteStorage) AddMark(ctx context.Context, mark *types.Mark) error {
	return s.withRetry(ctx, func() error {
		_, err := insertMark(ctx, s.db, mark)
		return err
	})
}

// AddMarks inserts a batch of marks in one transaction, returning how many
// were new. Existing marks are skipped, not overwritten.
func (s *SQLiteStorage) AddMarks(ctx context.Context, marks []*types.Mark) (int, error) {
	if len(marks) == 0 {
		return 0, nil
	}
	var inserted int
	err := s.RunInTransaction(ctx, func(tx storage.Transaction) error {
		var err error
		inserted, err = tx.AddMarks(ctx, marks)
		return err
	})
	return inserted, err
}

// GetMarks returns all marks for a base ordered by id.
func (s *SQLiteStorage) GetMarks(ctx context.Context, baseID int64) ([]*types.Mark, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, base_id, row_id, status, grupo, chave, created_at
		FROM conciliacao_marks WHERE base_id = ? ORDER BY id
	`, baseID)
	if err != nil {
		return nil, wrapDBErrorf(err, "get marks for base %d", baseID)
	}
	defer rows.Close()

	var marks []*types.Mark
	for rows.Next() {
		mark := &types.Mark{}
		if err := rows.Scan(&mark.ID, &mark.BaseID, &mark.RowID,
			&mark.Status, &mark.Grupo, &mark.Chave, &mark.CreatedAt); err != nil {
			return nil, wrapDBError("scan mark", err)
		}
		marks = append(marks, mark)
	}
	return marks, rows.Err()
}

// DeleteMark removes a mark by id.
func (s *SQLiteStorage) DeleteMark(ctx context.Context, id int64) error {
	res, err := s.execContext(ctx, `DELETE FROM conciliacao_marks WHERE id = ?`, id)
	if err != nil {
		return wrapDBErrorf(err, "delete mark %d", id)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return wrapDBErrorf(err, "delete mark %d", id)
	}
	if affected == 0 {
		return fmt.Errorf("mark %d: %w", id, storage.ErrNotFound)
	}
	return nil
}
