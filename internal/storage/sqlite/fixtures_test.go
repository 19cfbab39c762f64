package sqlite

import (
	"context"
	"testing"

	"github.com/concilia/concilia/internal/types"
)

// Shared fixtures for the package tests. The standard pair is a CONTABIL
// base with (conta, documento, valor) and a FISCAL base with the same
// columns plus a cancellation indicator (situacao).

func seedBase(t *testing.T, store *SQLiteStorage, nome string, tipo types.BaseTipo,
	cols []types.ColumnInfo, rowCols []string, rows [][]string) *types.Base {
	t.Helper()
	ctx := context.Background()

	base := &types.Base{Nome: nome, Tipo: tipo}
	if err := store.CreateBase(ctx, base, cols); err != nil {
		t.Fatalf("CreateBase(%s) failed: %v", nome, err)
	}
	if len(rows) > 0 {
		if _, err := store.InsertBaseRows(ctx, base.ID, rowCols, rows); err != nil {
			t.Fatalf("InsertBaseRows(%s) failed: %v", nome, err)
		}
	}
	return base
}

func contabilColumns() []types.ColumnInfo {
	return []types.ColumnInfo{
		{Name: "conta", DeclaredType: "TEXT"},
		{Name: "documento", DeclaredType: "TEXT"},
		{Name: "valor", DeclaredType: "REAL"},
	}
}

func fiscalColumns() []types.ColumnInfo {
	return []types.ColumnInfo{
		{Name: "conta", DeclaredType: "TEXT"},
		{Name: "documento", DeclaredType: "TEXT"},
		{Name: "valor", DeclaredType: "REAL"},
		{Name: "situacao", DeclaredType: "TEXT"},
	}
}

// seedContabil creates a CONTABIL base with the standard columns.
func seedContabil(t *testing.T, store *SQLiteStorage, rows [][]string) *types.Base {
	t.Helper()
	return seedBase(t, store, "Razão Contábil", types.TipoContabil,
		contabilColumns(), []string{"conta", "documento", "valor"}, rows)
}

// seedFiscal creates a FISCAL base with the standard columns.
func seedFiscal(t *testing.T, store *SQLiteStorage, rows [][]string) *types.Base {
	t.Helper()
	return seedBase(t, store, "Notas Fiscais", types.TipoFiscal,
		fiscalColumns(), []string{"conta", "documento", "valor", "situacao"}, rows)
}

// seedConfig creates a single-key reconciliation config joining the pair on
// documento and comparing valor on both sides.
func seedConfig(t *testing.T, store *SQLiteStorage, baseA, baseB *types.Base) *types.ConfigConciliacao {
	t.Helper()
	ctx := context.Background()

	cfg := &types.ConfigConciliacao{
		Nome:                      "Conciliação padrão",
		BaseContabilID:            baseA.ID,
		BaseFiscalID:              baseB.ID,
		ChavesContabil:            types.NewChavesMap("CHAVE_1", []string{"documento"}),
		ChavesFiscal:              types.NewChavesMap("CHAVE_1", []string{"documento"}),
		ColunaConciliacaoContabil: "valor",
		ColunaConciliacaoFiscal:   "valor",
	}
	if err := store.CreateConfigConciliacao(ctx, cfg); err != nil {
		t.Fatalf("CreateConfigConciliacao failed: %v", err)
	}
	return cfg
}

// seedJob creates a PENDING job for the given config.
func seedJob(t *testing.T, store *SQLiteStorage, cfgID int64) *types.Job {
	t.Helper()
	ctx := context.Background()

	job := &types.Job{ConfigConciliacaoID: cfgID}
	if err := store.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	return job
}
