// Package indexer is the index advisor: it ensures secondary indexes on the
// base-data columns an active configuration joins or filters on, so the
// matcher's self-joins and key joins stay off full table scans.
//
// Every operation is idempotent (CREATE INDEX IF NOT EXISTS with
// deterministic names) and best-effort: a column that cannot be indexed is
// logged and skipped, never aborting the advisor.
package indexer

import (
	"context"

	"github.com/concilia/concilia/internal/debug"
	"github.com/concilia/concilia/internal/storage"
	"github.com/concilia/concilia/internal/types"
)

// Advisor creates secondary indexes for active configurations.
type Advisor struct {
	store storage.Storage
}

// New returns an advisor backed by the given store.
func New(store storage.Storage) *Advisor {
	return &Advisor{store: store}
}

// EnsureForConciliacao indexes every column a matching contract touches:
// all chaves columns plus the amount column, on each side's effective base.
func (a *Advisor) EnsureForConciliacao(ctx context.Context, cfg *types.ConfigConciliacao, baseAID, baseBID int64) {
	aCols := append(cfg.ChavesContabil.AllColumns(), cfg.ColunaConciliacaoContabil)
	bCols := append(cfg.ChavesFiscal.AllColumns(), cfg.ColunaConciliacaoFiscal)
	a.ensure(ctx, baseAID, aCols)
	a.ensure(ctx, baseBID, bCols)
}

// EnsureForEstorno indexes the pair-join columns of an estorno rule.
func (a *Advisor) EnsureForEstorno(ctx context.Context, cfg *types.ConfigEstorno, baseID int64) {
	a.ensure(ctx, baseID, []string{cfg.ColunaA, cfg.ColunaB})
}

// EnsureForCancelamento indexes the indicator column of a cancellation rule.
func (a *Advisor) EnsureForCancelamento(ctx context.Context, cfg *types.ConfigCancelamento, baseID int64) {
	a.ensure(ctx, baseID, []string{cfg.ColunaIndicador})
}

// Analyze refreshes the query planner statistics after bulk index creation.
// Best-effort; failures are logged only.
func (a *Advisor) Analyze(ctx context.Context) {
	if err := a.store.Analyze(ctx); err != nil {
		debug.Logf("[indexer] analyze failed: %v\n", err)
	}
}

// ensure creates the indexes one column at a time so a single bad column
// (dropped from the base, invalid name) does not block the rest.
func (a *Advisor) ensure(ctx context.Context, baseID int64, cols []string) {
	seen := make(map[string]bool, len(cols))
	for _, col := range cols {
		if col == "" || seen[col] {
			continue
		}
		seen[col] = true
		if _, err := a.store.EnsureKeyIndexes(ctx, baseID, []string{col}); err != nil {
			debug.Logf("[indexer] base %d column %q: %v\n", baseID, col, err)
		}
	}
}
