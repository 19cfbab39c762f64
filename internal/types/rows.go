package types

// ColumnInfo describes one column of a base data table, as reported by
// PRAGMA table_info.
type ColumnInfo struct {
	Name         string `json:"name"`
	DeclaredType string `json:"declared_type"`
	PrimaryKey   bool   `json:"primary_key"`
}

// BaseRow is one base-table row with the requested column values, keyed by
// column name. Values are raw table text; amount columns are parsed with
// ParseAmount at the point of use.
type BaseRow struct {
	ID     int64
	Values map[string]string
}

// JoinPair is one (A row, B row) hit from a key-identifier join, ordered by
// ascending (AID, BID).
type JoinPair struct {
	AID int64
	BID int64
}

// MarkedRow is a mark joined with the amount of the row it covers.
type MarkedRow struct {
	RowID  int64
	Amount float64
	Status string
	Grupo  string
	Chave  *string
}

// EstornoPair is a candidate reversal pair from the estorno self-join:
// row AID's coluna_a equals row BID's coluna_b and the somas cancel within
// the configured limit. Chave carries the shared join value.
type EstornoPair struct {
	AID   int64
	BID   int64
	Chave string
	SomaA float64
	SomaB float64
}

// Statistics summarizes database contents for status and doctor output.
type Statistics struct {
	Bases          int64            `json:"bases"`
	Configs        int64            `json:"configs"`
	Marks          int64            `json:"marks"`
	JobsByStatus   map[string]int64 `json:"jobs_by_status"`
	ResultTables   int64            `json:"result_tables"`
	OrphanedTables []int64          `json:"orphaned_tables,omitempty"`
}
