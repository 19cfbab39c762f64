// Package teststore provides SQLite-backed test helpers shared by the
// pipeline, runner, worker and export tests.
//
// Each Env wraps an isolated temp-file store plus seeding helpers for the
// standard fixture pair: a CONTABIL base with (conta, documento, valor) and
// a FISCAL base with the same columns plus a cancellation indicator
// (situacao). All helpers operate through the storage.Storage interface
// where possible; result read-back goes through the raw connection because
// per-job result tables are dynamic.
//
// Usage:
//
//	func TestSomething(t *testing.T) {
//	    env := teststore.NewEnv(t)
//	    baseA := env.SeedContabil([][]string{{"1.1.01", "D1", "100"}})
//	    ...
//	}
package teststore

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/concilia/concilia/internal/config"
	"github.com/concilia/concilia/internal/storage"
	"github.com/concilia/concilia/internal/storage/sqlite"
	"github.com/concilia/concilia/internal/types"
)

// New creates an isolated temp-file store for a single test or benchmark.
// Pragmas are pinned to the defaults so a developer's SQLITE_* variables
// cannot change test behavior. The store closes when the test completes.
func New(t testing.TB) *sqlite.SQLiteStorage {
	t.Helper()

	store, err := sqlite.NewWithPragmas(context.Background(),
		t.TempDir()+"/test.db", config.DefaultPragmas())
	if err != nil {
		t.Fatalf("teststore: failed to create store: %v", err)
	}
	t.Cleanup(func() {
		if cerr := store.Close(); cerr != nil {
			t.Errorf("teststore: failed to close store: %v", cerr)
		}
	})
	return store
}

// Env bundles a store with a context and fixture helpers.
type Env struct {
	T     testing.TB
	Ctx   context.Context
	Store *sqlite.SQLiteStorage
}

// NewEnv creates a fresh store wrapped in an Env.
func NewEnv(t testing.TB) *Env {
	t.Helper()
	return &Env{T: t, Ctx: context.Background(), Store: New(t)}
}

// SeedContabil creates a CONTABIL base with columns
// (conta TEXT, documento TEXT, valor REAL) and the given rows.
func (e *Env) SeedContabil(rows [][]string) *types.Base {
	e.T.Helper()
	return e.seedBase("Razão Contábil", types.TipoContabil,
		[]types.ColumnInfo{
			{Name: "conta", DeclaredType: "TEXT"},
			{Name: "documento", DeclaredType: "TEXT"},
			{Name: "valor", DeclaredType: "REAL"},
		},
		[]string{"conta", "documento", "valor"}, rows)
}

// SeedFiscal creates a FISCAL base with columns
// (conta TEXT, documento TEXT, valor REAL, situacao TEXT) and the given rows.
func (e *Env) SeedFiscal(rows [][]string) *types.Base {
	e.T.Helper()
	return e.seedBase("Notas Fiscais", types.TipoFiscal,
		[]types.ColumnInfo{
			{Name: "conta", DeclaredType: "TEXT"},
			{Name: "documento", DeclaredType: "TEXT"},
			{Name: "valor", DeclaredType: "REAL"},
			{Name: "situacao", DeclaredType: "TEXT"},
		},
		[]string{"conta", "documento", "valor", "situacao"}, rows)
}

func (e *Env) seedBase(nome string, tipo types.BaseTipo, cols []types.ColumnInfo,
	rowCols []string, rows [][]string) *types.Base {
	e.T.Helper()

	base := &types.Base{Nome: nome, Tipo: tipo}
	if err := e.Store.CreateBase(e.Ctx, base, cols); err != nil {
		e.T.Fatalf("teststore: CreateBase(%s): %v", nome, err)
	}
	if len(rows) > 0 {
		if _, err := e.Store.InsertBaseRows(e.Ctx, base.ID, rowCols, rows); err != nil {
			e.T.Fatalf("teststore: InsertBaseRows(%s): %v", nome, err)
		}
	}
	return base
}

// SeedConfig creates a single-key matching contract joining the fixture pair
// on documento and comparing valor. Mutators adjust it before persisting.
func (e *Env) SeedConfig(baseA, baseB *types.Base, mutate ...func(*types.ConfigConciliacao)) *types.ConfigConciliacao {
	e.T.Helper()

	cfg := &types.ConfigConciliacao{
		Nome:                      "Conciliação padrão",
		BaseContabilID:            baseA.ID,
		BaseFiscalID:              baseB.ID,
		ChavesContabil:            types.NewChavesMap("CHAVE_1", []string{"documento"}),
		ChavesFiscal:              types.NewChavesMap("CHAVE_1", []string{"documento"}),
		ColunaConciliacaoContabil: "valor",
		ColunaConciliacaoFiscal:   "valor",
	}
	for _, fn := range mutate {
		fn(cfg)
	}
	if err := e.Store.CreateConfigConciliacao(e.Ctx, cfg); err != nil {
		e.T.Fatalf("teststore: CreateConfigConciliacao: %v", err)
	}
	return cfg
}

// SeedEstorno creates an estorno rule pairing rows of the base on documento
// with valor sums cancelling exactly.
func (e *Env) SeedEstorno(base *types.Base, mutate ...func(*types.ConfigEstorno)) *types.ConfigEstorno {
	e.T.Helper()

	cfg := &types.ConfigEstorno{
		Nome:       "Estorno padrão",
		BaseID:     base.ID,
		ColunaA:    "documento",
		ColunaB:    "documento",
		ColunaSoma: "valor",
		LimiteZero: 0,
	}
	for _, fn := range mutate {
		fn(cfg)
	}
	if err := e.Store.CreateConfigEstorno(e.Ctx, cfg); err != nil {
		e.T.Fatalf("teststore: CreateConfigEstorno: %v", err)
	}
	return cfg
}

// SeedCancelamento creates a cancellation rule on situacao with
// CANCELADA / ATIVA values.
func (e *Env) SeedCancelamento(base *types.Base, mutate ...func(*types.ConfigCancelamento)) *types.ConfigCancelamento {
	e.T.Helper()

	cfg := &types.ConfigCancelamento{
		Nome:              "Cancelamento padrão",
		BaseID:            base.ID,
		ColunaIndicador:   "situacao",
		ValorCancelado:    "CANCELADA",
		ValorNaoCancelado: "ATIVA",
	}
	for _, fn := range mutate {
		fn(cfg)
	}
	if err := e.Store.CreateConfigCancelamento(e.Ctx, cfg); err != nil {
		e.T.Fatalf("teststore: CreateConfigCancelamento: %v", err)
	}
	return cfg
}

// SeedJob enqueues a PENDING job for the config.
func (e *Env) SeedJob(cfg *types.ConfigConciliacao, mutate ...func(*types.Job)) *types.Job {
	e.T.Helper()

	job := &types.Job{ConfigConciliacaoID: cfg.ID}
	for _, fn := range mutate {
		fn(job)
	}
	if err := e.Store.CreateJob(e.Ctx, job); err != nil {
		e.T.Fatalf("teststore: CreateJob: %v", err)
	}
	return job
}

// SyncSettings returns worker tuning with parallel group processing off, for
// deterministic single-threaded pipeline runs.
func SyncSettings() config.WorkerSettings {
	s := config.DefaultWorkerSettings()
	s.ThreadsEnabled = false
	return s
}

// Result is one read-back row of a per-job result table.
type Result struct {
	ID         int64
	Chave      *string
	Status     string
	Grupo      string
	ARowID     *int64
	BRowID     *int64
	AValues    string
	BValues    string
	ValueA     float64
	ValueB     float64
	Difference float64
	Keys       map[string]string
}

// Results reads every row of the job's result table ordered by id, including
// the requested key-identifier columns.
func (e *Env) Results(jobID int64, keyIDs ...string) []Result {
	e.T.Helper()

	cols := "id, chave, status, grupo, a_row_id, b_row_id, a_values, b_values, value_a, value_b, difference"
	for _, keyID := range keyIDs {
		cols += fmt.Sprintf(", %q", keyID)
	}
	query := fmt.Sprintf("SELECT %s FROM %q ORDER BY id", cols,
		fmt.Sprintf("conciliacao_result_%d", jobID))

	rows, err := e.Store.UnderlyingDB().QueryContext(e.Ctx, query)
	if err != nil {
		e.T.Fatalf("teststore: read results for job %d: %v", jobID, err)
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var r Result
		var chave, aValues, bValues sql.NullString
		keyCells := make([]sql.NullString, len(keyIDs))
		dest := []any{&r.ID, &chave, &r.Status, &r.Grupo, &r.ARowID, &r.BRowID,
			&aValues, &bValues, &r.ValueA, &r.ValueB, &r.Difference}
		for i := range keyCells {
			dest = append(dest, &keyCells[i])
		}
		if err := rows.Scan(dest...); err != nil {
			e.T.Fatalf("teststore: scan result row: %v", err)
		}
		if chave.Valid {
			r.Chave = &chave.String
		}
		r.AValues = aValues.String
		r.BValues = bValues.String
		r.Keys = make(map[string]string, len(keyIDs))
		for i, keyID := range keyIDs {
			if keyCells[i].Valid {
				r.Keys[keyID] = keyCells[i].String
			}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		e.T.Fatalf("teststore: read results for job %d: %v", jobID, err)
	}
	return out
}

// ResultFor returns the single result row referencing the given base row.
func (e *Env) ResultFor(results []Result, sideA bool, rowID int64) Result {
	e.T.Helper()

	var found []Result
	for _, r := range results {
		if sideA && r.ARowID != nil && *r.ARowID == rowID {
			found = append(found, r)
		}
		if !sideA && r.BRowID != nil && *r.BRowID == rowID {
			found = append(found, r)
		}
	}
	side := "a"
	if !sideA {
		side = "b"
	}
	if len(found) != 1 {
		e.T.Fatalf("teststore: expected exactly one result for %s_row_id=%d, got %d", side, rowID, len(found))
	}
	return found[0]
}

var _ storage.Storage = (*sqlite.SQLiteStorage)(nil)
