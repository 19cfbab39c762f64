package pipeline

import (
	"context"
	"fmt"

	"github.com/concilia/concilia/internal/debug"
	"github.com/concilia/concilia/internal/storage"
	"github.com/concilia/concilia/internal/types"
)

// EstornoStep neutralizes internal reversals in Base A. Two rows pair up
// when one row's coluna_a equals the other's coluna_b and their coluna_soma
// values cancel within limite_zero. Both rows of a pair are marked
// 01_Conciliado / Conciliado_Estorno with a shared group key
// "<chave_val>_<aId>_<bId>" and skip ordinary matching.
//
// Candidates arrive ordered by (a.id, b.id); pairing is greedy over that
// order, so a row that could close several pairs lands in the lexicographically
// lowest one. Marks insert with a NOT-EXISTS guard: re-running changes nothing.
type EstornoStep struct{}

func (EstornoStep) Name() string { return StepEstorno }

func (EstornoStep) Run(ctx context.Context, pc *Context) error {
	if pc.ConfigEstornoID == nil {
		return nil
	}
	cfg, err := pc.ConfigEstorno(ctx, *pc.ConfigEstornoID)
	if err != nil {
		return err
	}

	baseID := pc.BaseContabilID
	pairs, err := pc.Store.EstornoCandidates(ctx, baseID, cfg)
	if err != nil {
		return wrapSchemaError(err)
	}

	consumed := make(map[int64]bool)
	var marks []*types.Mark
	for _, pair := range pairs {
		if consumed[pair.AID] || consumed[pair.BID] {
			continue
		}
		chave := fmt.Sprintf("%s_%d_%d", pair.Chave, pair.AID, pair.BID)
		for _, rowID := range []int64{pair.AID, pair.BID} {
			marks = append(marks, &types.Mark{
				BaseID: baseID,
				RowID:  rowID,
				Status: types.StatusConciliado,
				Grupo:  types.GrupoConciliadoEstorno,
				Chave:  &chave,
			})
		}
		consumed[pair.AID] = true
		consumed[pair.BID] = true
	}
	if len(marks) == 0 {
		return nil
	}

	// Pairs land atomically: a crash cannot leave one half of a reversal marked.
	var inserted int
	err = pc.Store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		var txErr error
		inserted, txErr = tx.AddMarks(ctx, marks)
		return txErr
	})
	if err != nil {
		return wrapSchemaError(err)
	}
	debug.Logf("[pipeline] job %d: estorno marked %d rows (%d pairs) in base %d\n",
		pc.JobID, inserted, len(marks)/2, baseID)
	return nil
}
