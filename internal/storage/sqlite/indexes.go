package sqlite

import (
	"context"
	"fmt"
)

// EnsureKeyIndexes creates one single-column index per listed column on the
// base data table, named idx_base_<baseId>_<sanitized_column>. Existing
// indexes are left alone. Returns the index names ensured, in column order;
// on failure the names created before the failing column are still returned.
func (s *SQLiteStorage) EnsureKeyIndexes(ctx context.Context, baseID int64, cols []string) ([]string, error) {
	table := quoteIdent(baseTableName(baseID))
	ensured := make([]string, 0, len(cols))
	for _, col := range cols {
		if err := checkIdent(col); err != nil {
			return ensured, err
		}
		name := keyIndexName(baseID, col)
		stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
			quoteIdent(name), table, quoteIdent(col))
		if _, err := s.execContext(ctx, stmt); err != nil {
			return ensured, wrapDBErrorf(err, "create index %s", name)
		}
		ensured = append(ensured, name)
	}
	return ensured, nil
}
