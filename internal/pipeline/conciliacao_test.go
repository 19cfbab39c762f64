package pipeline

import (
	"errors"
	"testing"

	"github.com/concilia/concilia/internal/testutil/teststore"
	"github.com/concilia/concilia/internal/types"
)

// fullContext wires a complete pipeline context for a seeded job, with
// parallel group processing off for determinism.
func fullContext(env *teststore.Env, job *types.Job, cfg *types.ConfigConciliacao) *Context {
	pc := &Context{
		JobID:               job.ID,
		BaseContabilID:      cfg.BaseContabilID,
		BaseFiscalID:        cfg.BaseFiscalID,
		ConfigConciliacaoID: cfg.ID,
		Store:               env.Store,
		Settings:            teststore.SyncSettings(),
	}
	return pc
}

// TestConciliacaoExactMatch: two single-row groups join on documento with
// equal valores and land as 01_Conciliado (scenario: exact match, single key).
func TestConciliacaoExactMatch(t *testing.T) {
	env := teststore.NewEnv(t)
	baseA := env.SeedContabil([][]string{
		{"1.1", "X", "100"},
		{"1.1", "Y", "50"},
	})
	baseB := env.SeedFiscal([][]string{
		{"2.1", "X", "100", "ATIVA"},
		{"2.1", "Y", "50", "ATIVA"},
	})
	cfg := env.SeedConfig(baseA, baseB)
	job := env.SeedJob(cfg)

	if err := Default().Run(env.Ctx, fullContext(env, job, cfg)); err != nil {
		t.Fatalf("pipeline failed: %v", err)
	}

	results := env.Results(job.ID, "CHAVE_1")
	if len(results) != 4 {
		t.Fatalf("expected 4 result rows, got %d", len(results))
	}
	for rowID := int64(1); rowID <= 2; rowID++ {
		for _, sideA := range []bool{true, false} {
			r := env.ResultFor(results, sideA, rowID)
			if r.Status != types.StatusConciliado || r.Grupo != types.GrupoConciliado {
				t.Errorf("row %d classified %s/%s", rowID, r.Status, r.Grupo)
			}
			if r.Difference != 0 {
				t.Errorf("row %d difference = %v, want 0", rowID, r.Difference)
			}
		}
	}
	x := env.ResultFor(results, true, 1)
	if x.ValueA != 100 || x.ValueB != 100 {
		t.Errorf("X group sums = (%v, %v), want (100, 100)", x.ValueA, x.ValueB)
	}
	if x.Keys["CHAVE_1"] != "X" {
		t.Errorf("X key value = %q", x.Keys["CHAVE_1"])
	}
}

// TestConciliacaoImmaterialDifference: |diff| within the limite lands in the
// Diferença Imaterial bucket with the signed difference preserved.
func TestConciliacaoImmaterialDifference(t *testing.T) {
	env := teststore.NewEnv(t)
	baseA := env.SeedContabil([][]string{{"1.1", "K", "100"}})
	baseB := env.SeedFiscal([][]string{{"2.1", "K", "100.005", "ATIVA"}})
	cfg := env.SeedConfig(baseA, baseB, func(c *types.ConfigConciliacao) {
		c.LimiteDiferencaImaterial = 0.01
	})
	job := env.SeedJob(cfg)

	if err := Default().Run(env.Ctx, fullContext(env, job, cfg)); err != nil {
		t.Fatalf("pipeline failed: %v", err)
	}

	results := env.Results(job.ID)
	if len(results) != 2 {
		t.Fatalf("expected 2 result rows, got %d", len(results))
	}
	for _, r := range results {
		if r.Status != types.StatusComDiferenca || r.Grupo != types.GrupoDiferencaImaterial {
			t.Errorf("classified %s/%s", r.Status, r.Grupo)
		}
		if r.ValueA != 100 || r.ValueB != 100.005 || r.Difference != -0.005 {
			t.Errorf("sums = (%v, %v, %v)", r.ValueA, r.ValueB, r.Difference)
		}
	}
}

// TestConciliacaoBaseAMaior: a material positive difference.
func TestConciliacaoBaseAMaior(t *testing.T) {
	env := teststore.NewEnv(t)
	baseA := env.SeedContabil([][]string{{"1.1", "K", "200"}})
	baseB := env.SeedFiscal([][]string{{"2.1", "K", "150", "ATIVA"}})
	cfg := env.SeedConfig(baseA, baseB)
	job := env.SeedJob(cfg)

	if err := Default().Run(env.Ctx, fullContext(env, job, cfg)); err != nil {
		t.Fatalf("pipeline failed: %v", err)
	}

	results := env.Results(job.ID)
	r := env.ResultFor(results, true, 1)
	if r.Status != types.StatusComDiferenca || r.Grupo != types.GrupoBaseAMaior {
		t.Errorf("classified %s/%s", r.Status, r.Grupo)
	}
	if r.Difference != 50 {
		t.Errorf("difference = %v, want 50", r.Difference)
	}
}

// TestConciliacaoSignInversion: with inverter_sinal_fiscal a negative fiscal
// amount flips before summation and the pair reconciles exactly.
func TestConciliacaoSignInversion(t *testing.T) {
	env := teststore.NewEnv(t)
	baseA := env.SeedContabil([][]string{{"1.1", "K", "100"}})
	baseB := env.SeedFiscal([][]string{{"2.1", "K", "-100", "ATIVA"}})
	cfg := env.SeedConfig(baseA, baseB, func(c *types.ConfigConciliacao) {
		c.InverterSinalFiscal = true
	})
	job := env.SeedJob(cfg)

	if err := Default().Run(env.Ctx, fullContext(env, job, cfg)); err != nil {
		t.Fatalf("pipeline failed: %v", err)
	}

	results := env.Results(job.ID)
	r := env.ResultFor(results, false, 1)
	if r.Status != types.StatusConciliado {
		t.Errorf("classified %s/%s", r.Status, r.Grupo)
	}
	if r.ValueB != 100 || r.Difference != 0 {
		t.Errorf("value_b = %v, difference = %v; want 100, 0", r.ValueB, r.Difference)
	}
}

// TestConciliacaoAfterEstorno: estorno marks carry into the result table and
// the surviving row still matches (scenario: estorno then reconciliation).
func TestConciliacaoAfterEstorno(t *testing.T) {
	env := teststore.NewEnv(t)
	baseA := env.SeedContabil([][]string{
		{"1.1", "X", "100"},
		{"1.1", "X", "-100"},
		{"1.1", "Y", "50"},
	})
	baseB := env.SeedFiscal([][]string{
		{"2.1", "Y", "50", "ATIVA"},
	})
	cfg := env.SeedConfig(baseA, baseB)
	estorno := env.SeedEstorno(baseA)
	job := env.SeedJob(cfg)

	pc := fullContext(env, job, cfg)
	pc.ConfigEstornoID = &estorno.ID
	if err := Default().Run(env.Ctx, pc); err != nil {
		t.Fatalf("pipeline failed: %v", err)
	}

	results := env.Results(job.ID)
	if len(results) != 4 {
		t.Fatalf("expected 4 result rows, got %d", len(results))
	}
	for rowID := int64(1); rowID <= 2; rowID++ {
		r := env.ResultFor(results, true, rowID)
		if r.Status != types.StatusConciliado || r.Grupo != types.GrupoConciliadoEstorno {
			t.Errorf("estorno row %d classified %s/%s", rowID, r.Status, r.Grupo)
		}
		if r.Chave == nil || *r.Chave != "X_1_2" {
			t.Errorf("estorno row %d chave = %v", rowID, r.Chave)
		}
	}
	y := env.ResultFor(results, true, 3)
	if y.Status != types.StatusConciliado || y.Grupo != types.GrupoConciliado {
		t.Errorf("surviving row classified %s/%s", y.Status, y.Grupo)
	}
}

// TestConciliacaoAfterCancelamento: the cancelled fiscal row is suppressed
// before matching and lands as 04_Não avaliado / NF Cancelada.
func TestConciliacaoAfterCancelamento(t *testing.T) {
	env := teststore.NewEnv(t)
	baseA := env.SeedContabil([][]string{
		{"1.1", "K", "200"},
	})
	baseB := env.SeedFiscal([][]string{
		{"2.1", "K", "100", "CANCELADA"},
		{"2.1", "K", "200", "ATIVA"},
	})
	cfg := env.SeedConfig(baseA, baseB)
	cancel := env.SeedCancelamento(baseB)
	job := env.SeedJob(cfg)

	pc := fullContext(env, job, cfg)
	pc.ConfigCancelamentoID = &cancel.ID
	if err := Default().Run(env.Ctx, pc); err != nil {
		t.Fatalf("pipeline failed: %v", err)
	}

	results := env.Results(job.ID)
	if len(results) != 3 {
		t.Fatalf("expected 3 result rows, got %d", len(results))
	}
	cancelled := env.ResultFor(results, false, 1)
	if cancelled.Status != types.StatusNaoAvaliado || cancelled.Grupo != types.GrupoNFCancelada {
		t.Errorf("cancelled row classified %s/%s", cancelled.Status, cancelled.Grupo)
	}
	matched := env.ResultFor(results, false, 2)
	if matched.Status != types.StatusConciliado || matched.Grupo != types.GrupoConciliado {
		t.Errorf("active row classified %s/%s", matched.Status, matched.Grupo)
	}
	a := env.ResultFor(results, true, 1)
	if a.Status != types.StatusConciliado {
		t.Errorf("base A row classified %s/%s", a.Status, a.Grupo)
	}
}

// TestConciliacaoResiduals: rows that never match land as 03_Não Encontrado
// carrying the first key identifier.
func TestConciliacaoResiduals(t *testing.T) {
	env := teststore.NewEnv(t)
	baseA := env.SeedContabil([][]string{{"1.1", "ONLY_A", "10"}})
	baseB := env.SeedFiscal([][]string{{"2.1", "ONLY_B", "20", "ATIVA"}})
	cfg := env.SeedConfig(baseA, baseB)
	job := env.SeedJob(cfg)

	if err := Default().Run(env.Ctx, fullContext(env, job, cfg)); err != nil {
		t.Fatalf("pipeline failed: %v", err)
	}

	results := env.Results(job.ID)
	if len(results) != 2 {
		t.Fatalf("expected 2 result rows, got %d", len(results))
	}
	a := env.ResultFor(results, true, 1)
	if a.Status != types.StatusNaoEncontrado || a.Grupo != types.GrupoNaoEncontrado {
		t.Errorf("A residual classified %s/%s", a.Status, a.Grupo)
	}
	if a.ValueA != 10 || a.ValueB != 0 || a.Difference != 10 {
		t.Errorf("A residual sums = (%v, %v, %v)", a.ValueA, a.ValueB, a.Difference)
	}
	if a.Chave == nil || *a.Chave != "CHAVE_1" {
		t.Errorf("A residual chave = %v", a.Chave)
	}
	b := env.ResultFor(results, false, 1)
	if b.ValueA != 0 || b.ValueB != 20 || b.Difference != -20 {
		t.Errorf("B residual sums = (%v, %v, %v)", b.ValueA, b.ValueB, b.Difference)
	}
}

// TestConciliacaoEmptyBases: the result table exists and is empty.
func TestConciliacaoEmptyBases(t *testing.T) {
	env := teststore.NewEnv(t)
	baseA := env.SeedContabil(nil)
	baseB := env.SeedFiscal(nil)
	cfg := env.SeedConfig(baseA, baseB)
	job := env.SeedJob(cfg)

	if err := Default().Run(env.Ctx, fullContext(env, job, cfg)); err != nil {
		t.Fatalf("pipeline failed: %v", err)
	}
	if results := env.Results(job.ID); len(results) != 0 {
		t.Errorf("expected empty result table, got %d rows", len(results))
	}
}

// TestConciliacaoJoinsOnNullLiteral: missing key cells normalize to the
// textual 'NULL' and then join like any other value.
func TestConciliacaoJoinsOnNullLiteral(t *testing.T) {
	env := teststore.NewEnv(t)
	baseA := env.SeedContabil(nil)
	baseB := env.SeedFiscal(nil)
	db := env.Store.UnderlyingDB()
	if _, err := db.Exec(
		`INSERT INTO base_`+itoa(baseA.ID)+` (conta, documento, valor) VALUES ('1.1', NULL, '100')`); err != nil {
		t.Fatalf("seed A: %v", err)
	}
	if _, err := db.Exec(
		`INSERT INTO base_`+itoa(baseB.ID)+` (conta, documento, valor, situacao) VALUES ('2.1', NULL, '100', 'ATIVA')`); err != nil {
		t.Fatalf("seed B: %v", err)
	}
	cfg := env.SeedConfig(baseA, baseB)
	job := env.SeedJob(cfg)

	if err := Default().Run(env.Ctx, fullContext(env, job, cfg)); err != nil {
		t.Fatalf("pipeline failed: %v", err)
	}

	results := env.Results(job.ID, "CHAVE_1")
	if len(results) != 2 {
		t.Fatalf("expected 2 result rows, got %d", len(results))
	}
	for _, r := range results {
		if r.Status != types.StatusConciliado {
			t.Errorf("classified %s/%s", r.Status, r.Grupo)
		}
		if r.Keys["CHAVE_1"] != "NULL" {
			t.Errorf("key value = %q, want NULL literal", r.Keys["CHAVE_1"])
		}
	}
}

// TestConciliacaoMultiKeyFirstMatchWins: rows claimed by CHAVE_1 never rejoin
// under CHAVE_2; leftovers get their shot on the next key.
func TestConciliacaoMultiKeyFirstMatchWins(t *testing.T) {
	env := teststore.NewEnv(t)
	baseA := env.SeedContabil([][]string{
		{"C1", "D1", "100"},
		{"C2", "DX", "50"},
	})
	baseB := env.SeedFiscal([][]string{
		{"C9", "D1", "100", "ATIVA"},
		{"C2", "DY", "50", "ATIVA"},
	})
	cfg := env.SeedConfig(baseA, baseB, func(c *types.ConfigConciliacao) {
		c.ChavesContabil = types.NewChavesMap(
			"CHAVE_1", []string{"documento"},
			"CHAVE_2", []string{"conta"},
		)
		c.ChavesFiscal = types.NewChavesMap(
			"CHAVE_1", []string{"documento"},
			"CHAVE_2", []string{"conta"},
		)
	})
	job := env.SeedJob(cfg)

	if err := Default().Run(env.Ctx, fullContext(env, job, cfg)); err != nil {
		t.Fatalf("pipeline failed: %v", err)
	}

	results := env.Results(job.ID, "CHAVE_1", "CHAVE_2")
	if len(results) != 4 {
		t.Fatalf("expected 4 result rows, got %d", len(results))
	}
	first := env.ResultFor(results, true, 1)
	if first.Chave == nil || *first.Chave != "CHAVE_1" {
		t.Errorf("row 1 matched under %v, want CHAVE_1", first.Chave)
	}
	if first.Status != types.StatusConciliado {
		t.Errorf("row 1 classified %s", first.Status)
	}
	second := env.ResultFor(results, true, 2)
	if second.Chave == nil || *second.Chave != "CHAVE_2" {
		t.Errorf("row 2 matched under %v, want CHAVE_2", second.Chave)
	}
	if second.Status != types.StatusConciliado {
		t.Errorf("row 2 classified %s", second.Status)
	}
	if second.Keys["CHAVE_2"] != "C2" {
		t.Errorf("row 2 CHAVE_2 value = %q", second.Keys["CHAVE_2"])
	}
}

// TestConciliacaoRerunIdentity: drop the result table and run again; the
// rebuilt table matches row for row (ids aside).
func TestConciliacaoRerunIdentity(t *testing.T) {
	env := teststore.NewEnv(t)
	baseA := env.SeedContabil([][]string{
		{"1.1", "X", "100"},
		{"1.1", "X", "-100"},
		{"1.1", "Y", "50"},
		{"1.1", "Z", "75"},
	})
	baseB := env.SeedFiscal([][]string{
		{"2.1", "Y", "49", "ATIVA"},
		{"2.1", "W", "10", "CANCELADA"},
	})
	cfg := env.SeedConfig(baseA, baseB)
	estorno := env.SeedEstorno(baseA)
	cancel := env.SeedCancelamento(baseB)
	job := env.SeedJob(cfg)

	pc := fullContext(env, job, cfg)
	pc.ConfigEstornoID = &estorno.ID
	pc.ConfigCancelamentoID = &cancel.ID
	if err := Default().Run(env.Ctx, pc); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	first := env.Results(job.ID, "CHAVE_1")

	if err := env.Store.DropResultTable(env.Ctx, job.ID); err != nil {
		t.Fatalf("DropResultTable failed: %v", err)
	}
	if err := Default().Run(env.Ctx, pc); err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	second := env.Results(job.ID, "CHAVE_1")

	if len(first) != len(second) {
		t.Fatalf("run sizes differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		f, s := first[i], second[i]
		f.ID, s.ID = 0, 0
		if f.Status != s.Status || f.Grupo != s.Grupo ||
			f.ValueA != s.ValueA || f.ValueB != s.ValueB || f.Difference != s.Difference {
			t.Fatalf("row %d differs: %+v vs %+v", i, f, s)
		}
		if (f.ARowID == nil) != (s.ARowID == nil) || (f.ARowID != nil && *f.ARowID != *s.ARowID) {
			t.Fatalf("row %d a_row_id differs", i)
		}
		if (f.BRowID == nil) != (s.BRowID == nil) || (f.BRowID != nil && *f.BRowID != *s.BRowID) {
			t.Fatalf("row %d b_row_id differs", i)
		}
	}
}

// TestConciliacaoRejectsEmptyKeys: a config without key identifiers is a
// configuration error, not a crash.
func TestConciliacaoRejectsEmptyKeys(t *testing.T) {
	env := teststore.NewEnv(t)
	baseA := env.SeedContabil(nil)
	baseB := env.SeedFiscal(nil)
	cfg := env.SeedConfig(baseA, baseB)
	job := env.SeedJob(cfg)
	// Validation rejects keyless configs at creation; simulate a legacy row.
	if _, err := env.Store.UnderlyingDB().Exec(
		`UPDATE config_conciliacao SET chaves_contabil = '{}', chaves_fiscal = '{}' WHERE id = ?`,
		cfg.ID); err != nil {
		t.Fatalf("strip keys: %v", err)
	}

	err := (ConciliacaoStep{}).Run(env.Ctx, fullContext(env, job, cfg))
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}
