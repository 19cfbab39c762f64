package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/concilia/concilia/internal/storage"
	"github.com/concilia/concilia/internal/types"
)

// TestRunInTransactionCommit verifies work inside the callback lands
// atomically on success.
func TestRunInTransactionCommit(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, "")
	base := seedContabil(t, store, [][]string{{"C1", "D1", "10"}, {"C2", "D1", "-10"}})

	err := store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		for rowID := int64(1); rowID <= 2; rowID++ {
			mark := &types.Mark{BaseID: base.ID, RowID: rowID,
				Status: types.StatusConciliado, Grupo: types.GrupoConciliadoEstorno}
			if err := tx.AddMark(ctx, mark); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunInTransaction failed: %v", err)
	}

	marks, err := store.GetMarks(ctx, base.ID)
	if err != nil {
		t.Fatalf("GetMarks failed: %v", err)
	}
	if len(marks) != 2 {
		t.Errorf("expected 2 marks after commit, got %d", len(marks))
	}
}

// TestRunInTransactionRollbackOnError verifies a callback error undoes all
// writes.
func TestRunInTransactionRollbackOnError(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, "")
	base := seedContabil(t, store, [][]string{{"C1", "D1", "10"}})

	sentinel := errors.New("pairing aborted")
	err := store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		mark := &types.Mark{BaseID: base.ID, RowID: 1,
			Status: types.StatusConciliado, Grupo: types.GrupoConciliado}
		if err := tx.AddMark(ctx, mark); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected callback error returned, got %v", err)
	}

	marks, err := store.GetMarks(ctx, base.ID)
	if err != nil {
		t.Fatalf("GetMarks failed: %v", err)
	}
	if len(marks) != 0 {
		t.Errorf("expected no marks after rollback, got %d", len(marks))
	}
}

// TestRunInTransactionRollbackOnPanic verifies a panicking callback rolls
// back and the panic reaches the caller.
func TestRunInTransactionRollbackOnPanic(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, "")
	base := seedContabil(t, store, [][]string{{"C1", "D1", "10"}})

	recovered := func() (r any) {
		defer func() { r = recover() }()
		_ = store.RunInTransaction(ctx, func(tx storage.Transaction) error {
			mark := &types.Mark{BaseID: base.ID, RowID: 1,
				Status: types.StatusConciliado, Grupo: types.GrupoConciliado}
			if err := tx.AddMark(ctx, mark); err != nil {
				return err
			}
			panic("pipeline bug")
		})
		return nil
	}()
	if recovered != "pipeline bug" {
		t.Fatalf("expected panic to propagate, got %v", recovered)
	}

	marks, err := store.GetMarks(ctx, base.ID)
	if err != nil {
		t.Fatalf("GetMarks failed: %v", err)
	}
	if len(marks) != 0 {
		t.Errorf("expected no marks after panic rollback, got %d", len(marks))
	}
}

// TestRunInTransactionMixedWrites verifies marks, results and job progress
// commit together the way the pipeline stages use them.
func TestRunInTransactionMixedWrites(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, "")
	a := seedContabil(t, store, [][]string{{"C1", "D1", "10"}})
	b := seedFiscal(t, store, [][]string{{"F1", "D1", "10", "01"}})
	cfg := seedConfig(t, store, a, b)
	job := seedJob(t, store, cfg.ID)
	if err := store.EnsureResultTable(ctx, job.ID, nil); err != nil {
		t.Fatalf("EnsureResultTable failed: %v", err)
	}

	err := store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		marks := []*types.Mark{
			{BaseID: a.ID, RowID: 1, Status: types.StatusConciliado, Grupo: types.GrupoConciliado},
			{BaseID: b.ID, RowID: 1, Status: types.StatusConciliado, Grupo: types.GrupoConciliado},
		}
		if _, err := tx.AddMarks(ctx, marks); err != nil {
			return err
		}
		entries := []*types.ResultEntry{
			{ARowID: ptrInt64(1), Status: types.StatusConciliado, Grupo: types.GrupoConciliado, ValueA: 10, ValueB: 10},
			{BRowID: ptrInt64(1), Status: types.StatusConciliado, Grupo: types.GrupoConciliado, ValueA: 10, ValueB: 10},
		}
		if err := tx.InsertResults(ctx, job.ID, nil, entries); err != nil {
			return err
		}
		return tx.UpdateJobProgress(ctx, job.ID, types.StageConciliando, 60, types.LabelConciliacao)
	})
	if err != nil {
		t.Fatalf("RunInTransaction failed: %v", err)
	}

	summary, err := store.ResultSummary(ctx, job.ID)
	if err != nil {
		t.Fatalf("ResultSummary failed: %v", err)
	}
	if summary[types.GrupoConciliado] != 2 {
		t.Errorf("expected 2 result rows, got %d", summary[types.GrupoConciliado])
	}
	jobAfter, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if jobAfter.PipelineProgress != 60 {
		t.Errorf("expected progress 60, got %d", jobAfter.PipelineProgress)
	}
}
