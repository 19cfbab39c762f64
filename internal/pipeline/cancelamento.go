package pipeline

import (
	"context"

	"github.com/concilia/concilia/internal/debug"
)

// CancelamentoStep suppresses cancelled rows of Base B: every row whose
// coluna_indicador equals valor_cancelado is marked 04_Não avaliado /
// NF Cancelada before the matcher runs. One set-based guarded insert;
// idempotent.
type CancelamentoStep struct{}

func (CancelamentoStep) Name() string { return StepCancelamento }

func (CancelamentoStep) Run(ctx context.Context, pc *Context) error {
	if pc.ConfigCancelamentoID == nil {
		return nil
	}
	cfg, err := pc.ConfigCancelamento(ctx, *pc.ConfigCancelamentoID)
	if err != nil {
		return err
	}

	marked, err := pc.Store.MarkCancelledRows(ctx, pc.BaseFiscalID, cfg)
	if err != nil {
		return wrapSchemaError(err)
	}
	debug.Logf("[pipeline] job %d: cancelamento marked %d rows in base %d\n",
		pc.JobID, marked, pc.BaseFiscalID)
	return nil
}
