package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/concilia/concilia/internal/storage"
	"github.com/concilia/concilia/internal/types"
)

// jobColumns is the column list every job query selects, in scanJob order.
const jobColumns = `id, nome, status, config_conciliacao_id, config_estorno_id,
	config_cancelamento_id, base_contabil_id, base_fiscal_id,
	pipeline_stage, pipeline_progress, pipeline_stage_label,
	erro, arquivo_exportado, export_status, export_progress,
	config_estorno_nome, config_cancelamento_nome, config_mapeamento_id, config_mapeamento_nome,
	created_at, updated_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanJob reads one jobs_conciliacao row in jobColumns order.
func scanJob(row rowScanner) (*types.Job, error) {
	job := &types.Job{}
	var (
		status                              string
		erro, arquivo, exportStatus         sql.NullString
		estornoNome, cancelNome, mapeamNome sql.NullString
	)
	err := row.Scan(&job.ID, &job.Nome, &status, &job.ConfigConciliacaoID,
		&job.ConfigEstornoID, &job.ConfigCancelamentoID,
		&job.BaseContabilID, &job.BaseFiscalID,
		&job.PipelineStage, &job.PipelineProgress, &job.PipelineStageLabel,
		&erro, &arquivo, &exportStatus, &job.ExportProgress,
		&estornoNome, &cancelNome, &job.ConfigMapeamentoID, &mapeamNome,
		&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}
	job.Status = types.JobStatus(status)
	job.Erro = erro.String
	job.ArquivoExportado = arquivo.String
	job.ExportStatus = exportStatus.String
	job.ConfigEstornoNome = estornoNome.String
	job.ConfigCancelamentoNome = cancelNome.String
	job.ConfigMapeamentoNome = mapeamNome.String
	return job, nil
}

// CreateJob validates and enqueues a job. Base overrides must match the
// side they replace (CONTABIL for A, FISCAL for B). The job starts PENDING
// at stage queued; the supplied struct gets the assigned id and timestamps.
func (s *SQLiteStorage) CreateJob(ctx context.Context, job *types.Job) error {
	if job == nil {
		return fmt.Errorf("job is required")
	}
	if _, err := s.GetConfigConciliacao(ctx, job.ConfigConciliacaoID); err != nil {
		return err
	}
	if job.ConfigEstornoID != nil {
		if _, err := s.GetConfigEstorno(ctx, *job.ConfigEstornoID); err != nil {
			return err
		}
	}
	if job.ConfigCancelamentoID != nil {
		if _, err := s.GetConfigCancelamento(ctx, *job.ConfigCancelamentoID); err != nil {
			return err
		}
	}
	if job.BaseContabilID != nil {
		if err := s.checkBaseTipo(ctx, *job.BaseContabilID, types.TipoContabil); err != nil {
			return err
		}
	}
	if job.BaseFiscalID != nil {
		if err := s.checkBaseTipo(ctx, *job.BaseFiscalID, types.TipoFiscal); err != nil {
			return err
		}
	}

	now := time.Now()
	job.Status = types.JobPending
	job.PipelineStage = types.StageQueued
	job.PipelineProgress = 0
	job.PipelineStageLabel = ""
	job.CreatedAt = now
	job.UpdatedAt = now

	res, err := s.execContext(ctx, `
		INSERT INTO jobs_conciliacao (
			nome, status, config_conciliacao_id, config_estorno_id, config_cancelamento_id,
			base_contabil_id, base_fiscal_id, pipeline_stage, pipeline_progress, pipeline_stage_label,
			export_progress, config_estorno_nome, config_cancelamento_nome,
			config_mapeamento_id, config_mapeamento_nome, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?, ?)
	`, job.Nome, string(job.Status), job.ConfigConciliacaoID,
		job.ConfigEstornoID, job.ConfigCancelamentoID,
		job.BaseContabilID, job.BaseFiscalID,
		job.PipelineStage, job.PipelineProgress, job.PipelineStageLabel,
		nullIfEmpty(job.ConfigEstornoNome), nullIfEmpty(job.ConfigCancelamentoNome),
		job.ConfigMapeamentoID, nullIfEmpty(job.ConfigMapeamentoNome),
		job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return wrapDBError("insert job", err)
	}
	job.ID, err = res.LastInsertId()
	if err != nil {
		return wrapDBError("job id", err)
	}
	return nil
}

// GetJob returns the job with the given id.
func (s *SQLiteStorage) GetJob(ctx context.Context, id int64) (*types.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs_conciliacao WHERE id = ?`, id)
	job, err := scanJob(row)
	if err != nil {
		return nil, wrapDBErrorf(err, "get job %d", id)
	}
	return job, nil
}

// ListJobs returns jobs matching the filter, ordered by the sort options
// (default: newest first).
func (s *SQLiteStorage) ListJobs(ctx context.Context, filter types.JobFilter, sort []types.JobSortOption) ([]*types.Job, error) {
	var where []string
	var args []any
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if !filter.CreatedAfter.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, filter.CreatedAfter)
	}

	query := `SELECT ` + jobColumns + ` FROM jobs_conciliacao`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	if len(sort) == 0 {
		sort = types.DefaultJobSortOptions()
	}
	order := make([]string, len(sort))
	for i, opt := range sort {
		order[i] = opt.Field.SQLColumn() + " " + strings.ToUpper(string(opt.Direction))
	}
	query += " ORDER BY " + strings.Join(order, ", ")

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("list jobs", err)
	}
	defer rows.Close()

	var jobs []*types.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, wrapDBError("scan job", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ClaimNextJob atomically claims the oldest PENDING job, moving it to
// RUNNING. Returns (nil, nil) when the queue is empty. The conditional
// UPDATE makes the claim safe against concurrent pollers; losing a race
// simply advances to the next candidate.
func (s *SQLiteStorage) ClaimNextJob(ctx context.Context) (*types.Job, error) {
	for {
		var id int64
		err := s.db.QueryRowContext(ctx, `
			SELECT id FROM jobs_conciliacao
			WHERE status = ? ORDER BY created_at, id LIMIT 1
		`, string(types.JobPending)).Scan(&id)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		if err != nil {
			return nil, wrapDBError("select pending job", err)
		}

		res, err := s.execContext(ctx, `
			UPDATE jobs_conciliacao SET status = ?, updated_at = ?
			WHERE id = ? AND status = ?
		`, string(types.JobRunning), time.Now(), id, string(types.JobPending))
		if err != nil {
			return nil, wrapDBErrorf(err, "claim job %d", id)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, wrapDBErrorf(err, "claim job %d", id)
		}
		if affected == 1 {
			return s.GetJob(ctx, id)
		}
		// Another poller claimed it between the select and the update.
	}
}

// updateJobProgress writes the pipeline stage triple. Shared between the
// pooled method and the transaction view.
func updateJobProgress(ctx context.Context, q execer, id int64, stage string, progress int, label string) error {
	if progress < 0 || progress > 100 {
		return fmt.Errorf("pipeline progress %d out of range", progress)
	}
	res, err := q.ExecContext(ctx, `
		UPDATE jobs_conciliacao
		SET pipeline_stage = ?, pipeline_progress = ?, pipeline_stage_label = ?, updated_at = ?
		WHERE id = ?
	`, stage, progress, label, time.Now(), id)
	if err != nil {
		return wrapDBErrorf(err, "update job %d progress", id)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return wrapDBErrorf(err, "update job %d progress", id)
	}
	if affected == 0 {
		return fmt.Errorf("job %d: %w", id, storage.ErrNotFound)
	}
	return nil
}

// UpdateJobProgress writes pipeline_stage, pipeline_progress and
// pipeline_stage_label for a job.
func (s *SQLiteStorage) UpdateJobProgress(ctx context.Context, id int64, stage string, progress int, label string) error {
	return s.withRetry(ctx, func() error {
		return updateJobProgress(ctx, s.db, id, stage, progress, label)
	})
}

// CompleteJob marks a job DONE at stage finalizando / 100%. Terminal jobs
// are never rewritten.
func (s *SQLiteStorage) CompleteJob(ctx context.Context, id int64) error {
	res, err := s.execContext(ctx, `
		UPDATE jobs_conciliacao
		SET status = ?, pipeline_stage = ?, pipeline_progress = 100,
		    pipeline_stage_label = ?, updated_at = ?
		WHERE id = ? AND status NOT IN (?, ?)
	`, string(types.JobDone), types.StageFinalizando, types.LabelFinalizando,
		time.Now(), id, string(types.JobDone), string(types.JobFailed))
	if err != nil {
		return wrapDBErrorf(err, "complete job %d", id)
	}
	return s.checkJobTransition(ctx, res, id)
}

// FailJob marks a job FAILED with the given error message. Terminal jobs
// are never rewritten.
func (s *SQLiteStorage) FailJob(ctx context.Context, id int64, errMsg string) error {
	res, err := s.execContext(ctx, `
		UPDATE jobs_conciliacao
		SET status = ?, erro = ?, pipeline_stage = ?, pipeline_stage_label = ?, updated_at = ?
		WHERE id = ? AND status NOT IN (?, ?)
	`, string(types.JobFailed), errMsg, types.StageFailed, types.LabelFailed,
		time.Now(), id, string(types.JobDone), string(types.JobFailed))
	if err != nil {
		return wrapDBErrorf(err, "fail job %d", id)
	}
	return s.checkJobTransition(ctx, res, id)
}

// FailJobIfRunning marks a job FAILED only when it is still RUNNING.
// Reports whether the write happened. The worker uses this to translate an
// abnormal runner exit without clobbering a status the runner already wrote.
func (s *SQLiteStorage) FailJobIfRunning(ctx context.Context, id int64, errMsg string) (bool, error) {
	res, err := s.execContext(ctx, `
		UPDATE jobs_conciliacao
		SET status = ?, erro = ?, pipeline_stage = ?, pipeline_stage_label = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(types.JobFailed), errMsg, types.StageFailed, types.LabelFailed,
		time.Now(), id, string(types.JobRunning))
	if err != nil {
		return false, wrapDBErrorf(err, "fail job %d", id)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, wrapDBErrorf(err, "fail job %d", id)
	}
	return affected == 1, nil
}

// RequeueJob drops the job's result table and resets it to PENDING.
// This is the documented recovery path after a failed or interrupted run.
// RUNNING jobs cannot be requeued.
func (s *SQLiteStorage) RequeueJob(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM jobs_conciliacao WHERE id = ?`, id).Scan(&status)
		if err != nil {
			return wrapDBErrorf(err, "get job %d", id)
		}
		if types.JobStatus(status) == types.JobRunning {
			return fmt.Errorf("job %d is running and cannot be requeued", id)
		}

		if _, err := tx.ExecContext(ctx,
			"DROP TABLE IF EXISTS "+quoteIdent(resultTableName(id))); err != nil {
			return wrapDBErrorf(err, "drop result table for job %d", id)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE jobs_conciliacao
			SET status = ?, pipeline_stage = ?, pipeline_progress = 0, pipeline_stage_label = '',
			    erro = NULL, export_status = NULL, export_progress = 0, arquivo_exportado = NULL,
			    updated_at = ?
			WHERE id = ?
		`, string(types.JobPending), types.StageQueued, time.Now(), id)
		if err != nil {
			return wrapDBErrorf(err, "requeue job %d", id)
		}
		return nil
	})
}

// UpdateJobExport writes export bookkeeping. An empty file leaves
// arquivo_exportado untouched so progress updates do not erase the path.
func (s *SQLiteStorage) UpdateJobExport(ctx context.Context, id int64, status string, progress int, file string) error {
	res, err := s.execContext(ctx, `
		UPDATE jobs_conciliacao
		SET export_status = ?, export_progress = ?,
		    arquivo_exportado = COALESCE(NULLIF(?, ''), arquivo_exportado),
		    updated_at = ?
		WHERE id = ?
	`, status, progress, file, time.Now(), id)
	if err != nil {
		return wrapDBErrorf(err, "update job %d export", id)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return wrapDBErrorf(err, "update job %d export", id)
	}
	if affected == 0 {
		return fmt.Errorf("job %d: %w", id, storage.ErrNotFound)
	}
	return nil
}

// checkJobTransition distinguishes "job missing" from "job already terminal"
// after a guarded status UPDATE affected no rows.
func (s *SQLiteStorage) checkJobTransition(ctx context.Context, res sql.Result, id int64) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return wrapDBErrorf(err, "job %d transition", id)
	}
	if affected == 1 {
		return nil
	}
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs_conciliacao WHERE id = ?`, id).Scan(&n); err != nil {
		return wrapDBErrorf(err, "job %d transition", id)
	}
	if n == 0 {
		return fmt.Errorf("job %d: %w", id, storage.ErrNotFound)
	}
	return fmt.Errorf("job %d: %w", id, storage.ErrTerminalJob)
}

// nullIfEmpty maps "" to NULL for optional text columns.
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
