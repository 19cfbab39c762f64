// Package export assembles the two-sheet result archive: a zip holding
// Base_A.csv and Base_B.csv, each reproducing the base's original column
// order with status, chave and grupo appended from the job's result table.
package export

import (
	"archive/zip"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/concilia/concilia/internal/debug"
	"github.com/concilia/concilia/internal/storage"
	"github.com/concilia/concilia/internal/types"
)

// Sheet names inside the archive.
const (
	SheetBaseA = "Base_A.csv"
	SheetBaseB = "Base_B.csv"
)

// Exporter writes result archives for finished jobs.
type Exporter struct {
	store storage.Storage
}

// New returns an exporter backed by the given store.
func New(store storage.Storage) *Exporter {
	return &Exporter{store: store}
}

// Export writes conciliacao_<jobId>.zip into dir and returns its path.
// The job must be DONE. Export bookkeeping (export_status, export_progress,
// arquivo_exportado) is updated as the sheets stream out.
func (e *Exporter) Export(ctx context.Context, jobID int64, dir string) (string, error) {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return "", fmt.Errorf("load job %d: %w", jobID, err)
	}
	if job.Status != types.JobDone {
		return "", fmt.Errorf("job %d is %s; only DONE jobs can be exported", jobID, job.Status)
	}
	cfg, err := e.store.GetConfigConciliacao(ctx, job.ConfigConciliacaoID)
	if err != nil {
		return "", fmt.Errorf("load config for job %d: %w", jobID, err)
	}
	baseA := cfg.BaseContabilID
	if job.BaseContabilID != nil {
		baseA = *job.BaseContabilID
	}
	baseB := cfg.BaseFiscalID
	if job.BaseFiscalID != nil {
		baseB = *job.BaseFiscalID
	}

	path, err := e.write(ctx, jobID, baseA, baseB, dir)
	if err != nil {
		if upErr := e.store.UpdateJobExport(ctx, jobID, types.ExportFailed, 0, ""); upErr != nil {
			debug.Logf("[export] job %d: export status: %v\n", jobID, upErr)
		}
		return "", err
	}
	if err := e.store.UpdateJobExport(ctx, jobID, types.ExportDone, 100, path); err != nil {
		return "", err
	}
	return path, nil
}

func (e *Exporter) write(ctx context.Context, jobID, baseA, baseB int64, dir string) (string, error) {
	if err := e.store.UpdateJobExport(ctx, jobID, types.ExportRunning, 0, ""); err != nil {
		return "", err
	}
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("conciliacao_%d.zip", jobID))

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create archive: %w", err)
	}
	defer f.Close()
	zw := zip.NewWriter(f)

	if err := e.writeSheet(ctx, zw, SheetBaseA, jobID, baseA, true); err != nil {
		zw.Close()
		return "", fmt.Errorf("sheet %s: %w", SheetBaseA, err)
	}
	if err := e.store.UpdateJobExport(ctx, jobID, types.ExportRunning, 50, ""); err != nil {
		zw.Close()
		return "", err
	}
	if err := e.writeSheet(ctx, zw, SheetBaseB, jobID, baseB, false); err != nil {
		zw.Close()
		return "", fmt.Errorf("sheet %s: %w", SheetBaseB, err)
	}

	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("finalize archive: %w", err)
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("flush archive: %w", err)
	}
	debug.Logf("[export] job %d: wrote %s\n", jobID, path)
	return path, nil
}

// writeSheet streams one side of the archive. The header always lands, even
// for an empty base.
func (e *Exporter) writeSheet(ctx context.Context, zw *zip.Writer, name string, jobID, baseID int64, sideA bool) error {
	w, err := zw.Create(name)
	if err != nil {
		return err
	}
	cw := csv.NewWriter(w)

	wroteHeader := false
	err = e.store.StreamExportRows(ctx, jobID, baseID, sideA, func(columns, values []string) error {
		if !wroteHeader {
			if err := cw.Write(columns); err != nil {
				return err
			}
			wroteHeader = true
		}
		return cw.Write(values)
	})
	if err != nil {
		return err
	}
	if !wroteHeader {
		header, err := e.emptySheetHeader(ctx, baseID)
		if err != nil {
			return err
		}
		if err := cw.Write(header); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// emptySheetHeader rebuilds the column header for a base with no rows:
// original columns minus ingest bookkeeping, plus the appended result columns.
func (e *Exporter) emptySheetHeader(ctx context.Context, baseID int64) ([]string, error) {
	cols, err := e.store.BaseColumns(ctx, baseID)
	if err != nil {
		return nil, err
	}
	var header []string
	for _, col := range cols {
		switch col.Name {
		case "id", "created_at", "updated_at":
			continue
		}
		header = append(header, col.Name)
	}
	return append(header, "status", "chave", "grupo"), nil
}
