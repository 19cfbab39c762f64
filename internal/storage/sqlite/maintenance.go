package sqlite

import (
	"context"
	"slices"
	"strconv"
	"strings"

	"github.com/concilia/concilia/internal/types"
)

// Statistics gathers row counts and table inventory for concilia doctor.
func (s *SQLiteStorage) Statistics(ctx context.Context) (*types.Statistics, error) {
	stats := &types.Statistics{JobsByStatus: make(map[string]int64)}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM bases").Scan(&stats.Bases); err != nil {
		return nil, wrapDBError("count bases", err)
	}
	for _, table := range []string{"config_conciliacao", "config_estorno", "config_cancelamento"} {
		var n int64
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return nil, wrapDBError("count "+table, err)
		}
		stats.Configs += n
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM conciliacao_marks").Scan(&stats.Marks); err != nil {
		return nil, wrapDBError("count marks", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM jobs_conciliacao GROUP BY status")
	if err != nil {
		return nil, wrapDBError("count jobs", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, wrapDBError("scan job counts", err)
		}
		stats.JobsByStatus[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("count jobs", err)
	}

	ids, err := s.ListResultTables(ctx)
	if err != nil {
		return nil, err
	}
	stats.ResultTables = int64(len(ids))

	// A result table whose job row is gone is an orphan: it survives failed
	// deletes and manual job cleanup, and doctor reports it.
	for _, id := range ids {
		var n int
		if err := s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM jobs_conciliacao WHERE id = ?", id).Scan(&n); err != nil {
			return nil, wrapDBError("check result table owner", err)
		}
		if n == 0 {
			stats.OrphanedTables = append(stats.OrphanedTables, id)
		}
	}
	return stats, nil
}

// IntegrityCheck runs PRAGMA integrity_check and returns its report.
// A healthy database yields "ok".
func (s *SQLiteStorage) IntegrityCheck(ctx context.Context) (string, error) {
	rows, err := s.db.QueryContext(ctx, "PRAGMA integrity_check")
	if err != nil {
		return "", wrapDBError("integrity check", err)
	}
	defer rows.Close()

	var lines []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return "", wrapDBError("integrity check", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return "", wrapDBError("integrity check", err)
	}
	return strings.Join(lines, "\n"), nil
}

// ListResultTables returns the job ids of every per-job result table present
// in the database, ascending.
func (s *SQLiteStorage) ListResultTables(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name LIKE 'conciliacao_result_%'
	`)
	if err != nil {
		return nil, wrapDBError("list result tables", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, wrapDBError("scan result table name", err)
		}
		suffix := strings.TrimPrefix(name, "conciliacao_result_")
		id, err := strconv.ParseInt(suffix, 10, 64)
		if err != nil {
			continue // unrelated table that happens to share the prefix
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("list result tables", err)
	}
	slices.Sort(ids)
	return ids, nil
}

// Analyze refreshes the query planner statistics. Best-effort callers may
// ignore the error.
func (s *SQLiteStorage) Analyze(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "ANALYZE"); err != nil {
		return wrapDBError("analyze", err)
	}
	return nil
}
