package pipeline

import (
	"math"
	"testing"

	"github.com/concilia/concilia/internal/testutil/teststore"
	"github.com/concilia/concilia/internal/types"
)

func estornoContext(env *teststore.Env, baseA *types.Base, estornoID int64) *Context {
	return &Context{
		BaseContabilID:  baseA.ID,
		ConfigEstornoID: &estornoID,
		Store:           env.Store,
	}
}

// TestEstornoStepMarksPairs covers the Base A half of scenario S5: two rows
// with equal documento and cancelling valores pair up, the third survives.
func TestEstornoStepMarksPairs(t *testing.T) {
	env := teststore.NewEnv(t)
	baseA := env.SeedContabil([][]string{
		{"1.1.01", "X", "100"},
		{"1.1.01", "X", "-100"},
		{"1.1.02", "Y", "50"},
	})
	estorno := env.SeedEstorno(baseA)

	pc := estornoContext(env, baseA, estorno.ID)
	if err := (EstornoStep{}).Run(env.Ctx, pc); err != nil {
		t.Fatalf("EstornoStep failed: %v", err)
	}

	marks, err := env.Store.GetMarks(env.Ctx, baseA.ID)
	if err != nil {
		t.Fatalf("GetMarks failed: %v", err)
	}
	if len(marks) != 2 {
		t.Fatalf("expected 2 marks, got %d", len(marks))
	}
	wantChave := "X_1_2"
	for _, mark := range marks {
		if mark.Status != types.StatusConciliado {
			t.Errorf("mark status = %s, want %s", mark.Status, types.StatusConciliado)
		}
		if mark.Grupo != types.GrupoConciliadoEstorno {
			t.Errorf("mark grupo = %s, want %s", mark.Grupo, types.GrupoConciliadoEstorno)
		}
		if mark.Chave == nil || *mark.Chave != wantChave {
			t.Errorf("mark chave = %v, want %s", mark.Chave, wantChave)
		}
	}
	if marks[0].RowID == marks[1].RowID {
		t.Error("expected two distinct rows marked")
	}
	if marks[0].RowID != 1 && marks[1].RowID != 1 {
		t.Error("expected row 1 marked")
	}
}

// TestEstornoStepSumWithinLimit asserts P2: marked pairs sharing a chave sum
// within limite_zero.
func TestEstornoStepSumWithinLimit(t *testing.T) {
	env := teststore.NewEnv(t)
	baseA := env.SeedContabil([][]string{
		{"1.1.01", "X", "100.004"},
		{"1.1.01", "X", "-100"},
		{"1.1.01", "Z", "200"},
		{"1.1.01", "Z", "-150"},
	})
	estorno := env.SeedEstorno(baseA, func(c *types.ConfigEstorno) {
		c.LimiteZero = 0.01
	})

	pc := estornoContext(env, baseA, estorno.ID)
	if err := (EstornoStep{}).Run(env.Ctx, pc); err != nil {
		t.Fatalf("EstornoStep failed: %v", err)
	}

	marks, err := env.Store.GetMarks(env.Ctx, baseA.ID)
	if err != nil {
		t.Fatalf("GetMarks failed: %v", err)
	}
	// Only the X pair cancels within limit; the Z pair misses by 50.
	if len(marks) != 2 {
		t.Fatalf("expected 2 marks, got %d", len(marks))
	}

	byChave := make(map[string][]int64)
	for _, mark := range marks {
		byChave[*mark.Chave] = append(byChave[*mark.Chave], mark.RowID)
	}
	for chave, rowIDs := range byChave {
		if len(rowIDs) != 2 {
			t.Fatalf("chave %s has %d rows, want 2", chave, len(rowIDs))
		}
		rows, err := env.Store.LoadRowsByID(env.Ctx, baseA.ID, []string{"valor"}, rowIDs)
		if err != nil {
			t.Fatalf("LoadRowsByID failed: %v", err)
		}
		var sum float64
		for _, row := range rows {
			sum += types.ParseAmount(row.Values["valor"])
		}
		if math.Abs(sum) > 0.01 {
			t.Errorf("chave %s sums to %v, beyond limite_zero", chave, sum)
		}
	}
}

// TestEstornoStepIdempotent re-runs the step; the guarded insert leaves the
// mark count unchanged.
func TestEstornoStepIdempotent(t *testing.T) {
	env := teststore.NewEnv(t)
	baseA := env.SeedContabil([][]string{
		{"1.1.01", "X", "100"},
		{"1.1.01", "X", "-100"},
	})
	estorno := env.SeedEstorno(baseA)
	pc := estornoContext(env, baseA, estorno.ID)

	for i := 0; i < 2; i++ {
		if err := (EstornoStep{}).Run(env.Ctx, pc); err != nil {
			t.Fatalf("run %d failed: %v", i+1, err)
		}
	}
	marks, err := env.Store.GetMarks(env.Ctx, baseA.ID)
	if err != nil {
		t.Fatalf("GetMarks failed: %v", err)
	}
	if len(marks) != 2 {
		t.Errorf("expected 2 marks after re-run, got %d", len(marks))
	}
}

// TestEstornoStepGreedyTieBreak: three rows could pair in several ways; the
// lexicographically lowest (aId, bId) pair wins and the leftover row stays
// unmarked.
func TestEstornoStepGreedyTieBreak(t *testing.T) {
	env := teststore.NewEnv(t)
	baseA := env.SeedContabil([][]string{
		{"1.1.01", "X", "100"},
		{"1.1.01", "X", "-100"},
		{"1.1.01", "X", "-100"},
	})
	estorno := env.SeedEstorno(baseA)
	pc := estornoContext(env, baseA, estorno.ID)

	if err := (EstornoStep{}).Run(env.Ctx, pc); err != nil {
		t.Fatalf("EstornoStep failed: %v", err)
	}
	marks, err := env.Store.GetMarks(env.Ctx, baseA.ID)
	if err != nil {
		t.Fatalf("GetMarks failed: %v", err)
	}
	if len(marks) != 2 {
		t.Fatalf("expected 2 marks, got %d", len(marks))
	}
	marked := map[int64]bool{}
	for _, mark := range marks {
		marked[mark.RowID] = true
		if *mark.Chave != "X_1_2" {
			t.Errorf("chave = %s, want X_1_2 (lowest pair)", *mark.Chave)
		}
	}
	if !marked[1] || !marked[2] || marked[3] {
		t.Errorf("marked rows %v, want {1,2}", marked)
	}
}

// TestEstornoStepNoConfigIsNoop: without a config id the step does nothing.
func TestEstornoStepNoConfigIsNoop(t *testing.T) {
	env := teststore.NewEnv(t)
	baseA := env.SeedContabil([][]string{
		{"1.1.01", "X", "100"},
		{"1.1.01", "X", "-100"},
	})

	pc := &Context{BaseContabilID: baseA.ID, Store: env.Store}
	if err := (EstornoStep{}).Run(env.Ctx, pc); err != nil {
		t.Fatalf("EstornoStep failed: %v", err)
	}
	marks, err := env.Store.GetMarks(env.Ctx, baseA.ID)
	if err != nil {
		t.Fatalf("GetMarks failed: %v", err)
	}
	if len(marks) != 0 {
		t.Errorf("expected no marks, got %d", len(marks))
	}
}
