package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/concilia/concilia/internal/config"
	"github.com/concilia/concilia/internal/types"
)

func testRow(id int64, values map[string]string) *types.BaseRow {
	return &types.BaseRow{ID: id, Values: values}
}

func singleKeyOpts() ProcessOptions {
	chaves := types.NewChavesMap("CHAVE_1", []string{"documento"})
	return ProcessOptions{
		JobID:          1,
		ValueColA:      "valor",
		ValueColB:      "valor",
		KeyIdentifiers: []string{"CHAVE_1"},
		ChavesContabil: chaves,
		ChavesFiscal:   chaves,
		AllAKeyCols:    []string{"documento"},
		AllBKeyCols:    []string{"documento"},
	}
}

func TestClassifyGroup(t *testing.T) {
	aRows := map[int64]*types.BaseRow{
		1: testRow(1, map[string]string{"documento": "D1", "valor": "100"}),
		2: testRow(2, map[string]string{"documento": "D1", "valor": "50"}),
	}
	bRows := map[int64]*types.BaseRow{
		10: testRow(10, map[string]string{"documento": "D1", "valor": "150"}),
		11: testRow(11, map[string]string{"documento": "D1", "valor": "149.5"}),
		12: testRow(12, map[string]string{"documento": "D1", "valor": "151"}),
		13: testRow(13, map[string]string{"documento": "D1", "valor": "-150"}),
	}

	tests := []struct {
		name       string
		group      *Group
		opts       func(ProcessOptions) ProcessOptions
		status     string
		grupo      string
		difference float64
	}{
		{
			name:   "exact match",
			group:  &Group{KeyID: "CHAVE_1", Composite: "D1", AIDs: []int64{1, 2}, BIDs: []int64{10}},
			status: types.StatusConciliado,
			grupo:  types.GrupoConciliado,
		},
		{
			name:  "immaterial difference",
			group: &Group{KeyID: "CHAVE_1", Composite: "D1", AIDs: []int64{1, 2}, BIDs: []int64{11}},
			opts: func(o ProcessOptions) ProcessOptions {
				o.Limite = 1
				return o
			},
			status:     types.StatusComDiferenca,
			grupo:      types.GrupoDiferencaImaterial,
			difference: 0.5,
		},
		{
			name:       "base A larger",
			group:      &Group{KeyID: "CHAVE_1", Composite: "D1", AIDs: []int64{1, 2}, BIDs: []int64{11}},
			status:     types.StatusComDiferenca,
			grupo:      types.GrupoBaseAMaior,
			difference: 0.5,
		},
		{
			name:       "base B larger",
			group:      &Group{KeyID: "CHAVE_1", Composite: "D1", AIDs: []int64{1, 2}, BIDs: []int64{12}},
			status:     types.StatusComDiferenca,
			grupo:      types.GrupoBaseBMaior,
			difference: -1,
		},
		{
			name:       "A-only residual",
			group:      &Group{KeyID: "CHAVE_1", AIDs: []int64{1}},
			status:     types.StatusNaoEncontrado,
			grupo:      types.GrupoNaoEncontrado,
			difference: 100,
		},
		{
			name:       "B-only residual",
			group:      &Group{KeyID: "CHAVE_1", BIDs: []int64{10}},
			status:     types.StatusNaoEncontrado,
			grupo:      types.GrupoNaoEncontrado,
			difference: -150,
		},
		{
			name:  "inverted fiscal sign",
			group: &Group{KeyID: "CHAVE_1", Composite: "D1", AIDs: []int64{1, 2}, BIDs: []int64{13}},
			opts: func(o ProcessOptions) ProcessOptions {
				o.Inverter = true
				return o
			},
			status: types.StatusConciliado,
			grupo:  types.GrupoConciliado,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := singleKeyOpts()
			if tt.opts != nil {
				opts = tt.opts(opts)
			}
			entries := classifyGroup(tt.group, aRows, bRows, opts)
			want := len(tt.group.AIDs) + len(tt.group.BIDs)
			if len(entries) != want {
				t.Fatalf("expected %d entries, got %d", want, len(entries))
			}
			for _, e := range entries {
				if e.Status != tt.status || e.Grupo != tt.grupo {
					t.Errorf("entry classified %s/%s, want %s/%s", e.Status, e.Grupo, tt.status, tt.grupo)
				}
				if e.Difference != tt.difference {
					t.Errorf("difference = %v, want %v", e.Difference, tt.difference)
				}
				if e.Chave == nil || *e.Chave != "CHAVE_1" {
					t.Errorf("chave = %v, want CHAVE_1", e.Chave)
				}
				if got := e.KeyValues["CHAVE_1"]; got != "D1" {
					t.Errorf("key value = %q, want D1", got)
				}
			}
		})
	}
}

// TestClassifyGroupLimiteBoundary: |diff| exactly at the limite is still
// immaterial; just beyond is a real difference.
func TestClassifyGroupLimiteBoundary(t *testing.T) {
	aRows := map[int64]*types.BaseRow{
		1: testRow(1, map[string]string{"documento": "D1", "valor": "100"}),
	}
	bRows := map[int64]*types.BaseRow{
		10: testRow(10, map[string]string{"documento": "D1", "valor": "99.99"}),
	}
	opts := singleKeyOpts()
	opts.Limite = 0.01
	g := &Group{KeyID: "CHAVE_1", Composite: "D1", AIDs: []int64{1}, BIDs: []int64{10}}

	entries := classifyGroup(g, aRows, bRows, opts)
	if entries[0].Grupo != types.GrupoDiferencaImaterial {
		t.Errorf("at-limit diff classified %s, want %s", entries[0].Grupo, types.GrupoDiferencaImaterial)
	}

	bRows[10].Values["valor"] = "99.98"
	entries = classifyGroup(g, aRows, bRows, opts)
	if entries[0].Grupo != types.GrupoBaseAMaior {
		t.Errorf("beyond-limit diff classified %s, want %s", entries[0].Grupo, types.GrupoBaseAMaior)
	}
}

// TestClassifyGroupZeroLimiteNoImmaterial: limite 0 disables the immaterial
// band entirely; any visible diff is a real difference.
func TestClassifyGroupZeroLimiteNoImmaterial(t *testing.T) {
	aRows := map[int64]*types.BaseRow{
		1: testRow(1, map[string]string{"documento": "D1", "valor": "100.000001"}),
	}
	bRows := map[int64]*types.BaseRow{
		10: testRow(10, map[string]string{"documento": "D1", "valor": "100"}),
	}
	g := &Group{KeyID: "CHAVE_1", Composite: "D1", AIDs: []int64{1}, BIDs: []int64{10}}

	entries := classifyGroup(g, aRows, bRows, singleKeyOpts())
	if entries[0].Status != types.StatusConciliado {
		t.Errorf("sub-epsilon diff classified %s, want %s", entries[0].Status, types.StatusConciliado)
	}

	aRows[1].Values["valor"] = "100.01"
	entries = classifyGroup(g, aRows, bRows, singleKeyOpts())
	if entries[0].Grupo != types.GrupoBaseAMaior {
		t.Errorf("visible diff classified %s, want %s", entries[0].Grupo, types.GrupoBaseAMaior)
	}
}

func TestRowSnapshot(t *testing.T) {
	row := testRow(7, map[string]string{"documento": "D9", "valor": "42.5", "conta": "1.1"})
	snap := rowSnapshot(row, []string{"documento"}, "valor")

	var decoded map[string]any
	if err := json.Unmarshal([]byte(snap), &decoded); err != nil {
		t.Fatalf("snapshot is not JSON: %v", err)
	}
	if decoded["id"] != float64(7) {
		t.Errorf("id = %v, want 7", decoded["id"])
	}
	if decoded["documento"] != "D9" || decoded["valor"] != "42.5" {
		t.Errorf("snapshot = %v", decoded)
	}
	if _, ok := decoded["conta"]; ok {
		t.Error("snapshot leaked a non-key column")
	}
}

func TestCompositeKeyJoinsInOrder(t *testing.T) {
	row := testRow(1, map[string]string{"conta": "1.1", "documento": "D1"})
	if got := compositeKey(row, []string{"conta", "documento"}); got != "1.1_D1" {
		t.Errorf("composite = %q, want 1.1_D1", got)
	}
	if got := compositeKey(row, []string{"documento", "conta"}); got != "D1_1.1" {
		t.Errorf("composite = %q, want D1_1.1", got)
	}
}

// TestProcessGroupsParallelMatchesSync runs the same workload through both
// paths and expects identical entry multisets and membership deltas.
func TestProcessGroupsParallelMatchesSync(t *testing.T) {
	aRows := make(map[int64]*types.BaseRow)
	bRows := make(map[int64]*types.BaseRow)
	var groups []*Group
	for i := int64(0); i < 2000; i++ {
		doc := fmt.Sprintf("D%d", i)
		aRows[i] = testRow(i, map[string]string{"documento": doc, "valor": fmt.Sprintf("%d", i)})
		bRows[i] = testRow(i, map[string]string{"documento": doc, "valor": fmt.Sprintf("%d", i%7)})
		groups = append(groups, &Group{
			KeyID: "CHAVE_1", Composite: doc, AIDs: []int64{i}, BIDs: []int64{i},
		})
	}
	opts := singleKeyOpts()

	sync := config.DefaultWorkerSettings()
	sync.ThreadsEnabled = false
	par := config.DefaultWorkerSettings()
	par.ThreadsEnabled = true
	par.PoolSize = 4
	par.Threshold = 100
	par.BatchSize = 128
	par.TaskTimeout = time.Minute

	syncRes := ProcessGroups(context.Background(), groups, aRows, bRows, opts, sync)
	parRes := ProcessGroups(context.Background(), groups, aRows, bRows, opts, par)

	if len(parRes.Entries) != len(syncRes.Entries) {
		t.Fatalf("parallel produced %d entries, sync %d", len(parRes.Entries), len(syncRes.Entries))
	}
	for i := range syncRes.Entries {
		se, pe := syncRes.Entries[i], parRes.Entries[i]
		if se.Status != pe.Status || se.Grupo != pe.Grupo || se.Difference != pe.Difference {
			t.Fatalf("entry %d differs: sync %+v parallel %+v", i, se, pe)
		}
		if (se.ARowID == nil) != (pe.ARowID == nil) || (se.ARowID != nil && *se.ARowID != *pe.ARowID) {
			t.Fatalf("entry %d row differs", i)
		}
	}

	sortIDs := func(ids []int64) []int64 {
		out := append([]int64{}, ids...)
		sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
		return out
	}
	sa, pa := sortIDs(syncRes.MatchedA), sortIDs(parRes.MatchedA)
	if len(sa) != len(pa) {
		t.Fatalf("matchedA sizes differ: %d vs %d", len(sa), len(pa))
	}
	for i := range sa {
		if sa[i] != pa[i] {
			t.Fatalf("matchedA differs at %d", i)
		}
	}
}

// TestProcessGroupsBelowThresholdStaysSync: with a high threshold the parallel
// gate never opens, regardless of pool size.
func TestProcessGroupsBelowThresholdStaysSync(t *testing.T) {
	aRows := map[int64]*types.BaseRow{
		1: testRow(1, map[string]string{"documento": "D1", "valor": "10"}),
	}
	groups := []*Group{{KeyID: "CHAVE_1", AIDs: []int64{1}}}

	ws := config.DefaultWorkerSettings()
	ws.ThreadsEnabled = true
	ws.PoolSize = 8
	ws.Threshold = 500

	res := ProcessGroups(context.Background(), groups, aRows, nil, singleKeyOpts(), ws)
	if len(res.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(res.Entries))
	}
	if res.Entries[0].Status != types.StatusNaoEncontrado {
		t.Errorf("status = %s", res.Entries[0].Status)
	}
}

// TestProcessGroupsTimeoutFallsBack: an already-expired deadline fails the
// parallel path; the caller still gets the full synchronous result.
func TestProcessGroupsTimeoutFallsBack(t *testing.T) {
	aRows := make(map[int64]*types.BaseRow)
	var groups []*Group
	for i := int64(0); i < 600; i++ {
		aRows[i] = testRow(i, map[string]string{"documento": fmt.Sprintf("D%d", i), "valor": "1"})
		groups = append(groups, &Group{KeyID: "CHAVE_1", AIDs: []int64{i}})
	}

	ws := config.DefaultWorkerSettings()
	ws.ThreadsEnabled = true
	ws.PoolSize = 4
	ws.Threshold = 100
	ws.TaskTimeout = time.Nanosecond

	res := ProcessGroups(context.Background(), groups, aRows, nil, singleKeyOpts(), ws)
	if len(res.Entries) != len(groups) {
		t.Fatalf("fallback produced %d entries, want %d", len(res.Entries), len(groups))
	}
}
