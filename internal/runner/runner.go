// Package runner executes one reconciliation job end to end: it resolves the
// effective configuration, ensures indexes, drives the pipeline with stage
// reporting and writes the terminal job status.
package runner

import (
	"context"
	"fmt"
	"math"

	"github.com/concilia/concilia/internal/config"
	"github.com/concilia/concilia/internal/debug"
	"github.com/concilia/concilia/internal/indexer"
	"github.com/concilia/concilia/internal/pipeline"
	"github.com/concilia/concilia/internal/storage"
	"github.com/concilia/concilia/internal/types"
)

// Runner executes jobs against one store.
type Runner struct {
	store    storage.Storage
	settings config.WorkerSettings
}

// New returns a runner with the given worker tuning.
func New(store storage.Storage, settings config.WorkerSettings) *Runner {
	return &Runner{store: store, settings: settings}
}

// Run executes the job with the given id. The terminal job status (DONE or
// FAILED plus erro) is written before returning; the returned error mirrors
// a FAILED outcome for the caller's exit code. A job id that does not exist
// cannot be failed in place and only returns the error.
func (r *Runner) Run(ctx context.Context, jobID int64) error {
	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %d: %w", jobID, err)
	}
	if job.Status.Terminal() {
		return fmt.Errorf("job %d: %w", jobID, storage.ErrTerminalJob)
	}

	if err := r.execute(ctx, job); err != nil {
		if failErr := r.store.FailJob(ctx, jobID, err.Error()); failErr != nil {
			debug.Logf("[runner] job %d: writing FAILED: %v\n", jobID, failErr)
		}
		return err
	}
	return r.store.CompleteJob(ctx, jobID)
}

// execute runs the pipeline body; any error (or recovered panic) becomes the
// job's failure message.
func (r *Runner) execute(ctx context.Context, job *types.Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("internal error: %v", rec)
		}
	}()

	cfg, err := r.store.GetConfigConciliacao(ctx, job.ConfigConciliacaoID)
	if err != nil {
		return fmt.Errorf("%w: config_conciliacao %d: %v", pipeline.ErrConfig, job.ConfigConciliacaoID, err)
	}

	// Per-job overrides replace the config's default bases. Type
	// compatibility was enforced when the job was created.
	baseA := cfg.BaseContabilID
	if job.BaseContabilID != nil {
		baseA = *job.BaseContabilID
	}
	baseB := cfg.BaseFiscalID
	if job.BaseFiscalID != nil {
		baseB = *job.BaseFiscalID
	}

	r.ensureIndexes(ctx, job, cfg, baseA, baseB)

	pc := &pipeline.Context{
		JobID:                job.ID,
		BaseContabilID:       baseA,
		BaseFiscalID:         baseB,
		ConfigConciliacaoID:  job.ConfigConciliacaoID,
		ConfigEstornoID:      job.ConfigEstornoID,
		ConfigCancelamentoID: job.ConfigCancelamentoID,
		Store:                r.store,
		Settings:             r.settings,
		ReportStage:          r.stageReporter(ctx, job.ID),
	}

	if err := r.store.UpdateJobProgress(ctx, job.ID, types.StagePreparando, 5, types.LabelPreparando); err != nil {
		return err
	}
	return pipeline.Default().Run(ctx, pc)
}

// ensureIndexes runs the index advisor for the effective configuration.
// Advisor failures never fail the job.
func (r *Runner) ensureIndexes(ctx context.Context, job *types.Job, cfg *types.ConfigConciliacao, baseA, baseB int64) {
	adv := indexer.New(r.store)
	adv.EnsureForConciliacao(ctx, cfg, baseA, baseB)
	if job.ConfigEstornoID != nil {
		if estorno, err := r.store.GetConfigEstorno(ctx, *job.ConfigEstornoID); err == nil {
			adv.EnsureForEstorno(ctx, estorno, baseA)
		}
	}
	if job.ConfigCancelamentoID != nil {
		if cancel, err := r.store.GetConfigCancelamento(ctx, *job.ConfigCancelamentoID); err == nil {
			adv.EnsureForCancelamento(ctx, cancel, baseB)
		}
	}
	adv.Analyze(ctx)
}

// stageReporter publishes human-readable pipeline progress. Reporting is
// best-effort: a progress write failure is logged, not fatal.
func (r *Runner) stageReporter(ctx context.Context, jobID int64) func(string, int, int) {
	return func(stepName string, stepIndex, totalSteps int) {
		stage, label := stageFor(stepName)
		progress := stepProgress(stepIndex, totalSteps)
		if err := r.store.UpdateJobProgress(ctx, jobID, stage, progress, label); err != nil {
			debug.Logf("[runner] job %d: report stage %s: %v\n", jobID, stage, err)
		}
	}
}

// stageFor maps a pipeline step name to its observable stage code and label.
func stageFor(stepName string) (code, label string) {
	switch stepName {
	case pipeline.StepNullsA:
		return types.StageNormalizandoBaseA, types.LabelNullsA
	case pipeline.StepEstorno:
		return types.StageAplicandoEstorno, types.LabelEstorno
	case pipeline.StepNullsB:
		return types.StageNormalizandoBaseB, types.LabelNullsB
	case pipeline.StepCancelamento:
		return types.StageAplicandoCancel, types.LabelCancelamento
	case pipeline.StepConciliacao:
		return types.StageConciliando, types.LabelConciliacao
	}
	return stepName, stepName
}

// stepProgress maps a 0-based step index to the published progress:
// clamp(round(i/N*100), 10, 99). The 99 cap leaves 100 to finalizando.
func stepProgress(stepIndex, totalSteps int) int {
	if totalSteps <= 0 {
		return 10
	}
	p := int(math.Round(float64(stepIndex) / float64(totalSteps) * 100))
	if p < 10 {
		p = 10
	}
	if p > 99 {
		p = 99
	}
	return p
}
