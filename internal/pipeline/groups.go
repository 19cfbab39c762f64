package pipeline

import (
	"context"
	"encoding/json"
	"math"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/concilia/concilia/internal/config"
	"github.com/concilia/concilia/internal/debug"
	"github.com/concilia/concilia/internal/types"
)

// epsilon is the float tolerance below which a group difference counts as
// exactly zero.
const epsilon = 1e-6

// Group is the set of Base A and Base B rows sharing one
// (key identifier, composite key value) after mark exclusion. Residuals are
// modelled as singleton one-sided groups.
type Group struct {
	KeyID     string
	Composite string
	AIDs      []int64
	BIDs      []int64
}

// ProcessOptions carries the matching parameters the group processor needs.
// All fields are read-only during processing.
type ProcessOptions struct {
	JobID          int64
	ValueColA      string
	ValueColB      string
	Inverter       bool
	Limite         float64
	KeyIdentifiers []string
	ChavesContabil types.ChavesMap
	ChavesFiscal   types.ChavesMap
	// AllAKeyCols / AllBKeyCols are the unions of every configured key column
	// per side, used for the a_values/b_values row snapshots.
	AllAKeyCols []string
	AllBKeyCols []string
}

// ProcessResult is the merged output of group classification: one result
// entry per member row plus the membership deltas.
type ProcessResult struct {
	Entries  []*types.ResultEntry
	MatchedA []int64
	MatchedB []int64
}

// ProcessGroups classifies groups and builds their result entries. It is
// pure with respect to its inputs: the row maps are only read.
//
// When worker threads are enabled and the group count reaches the configured
// threshold, groups are partitioned into even chunks and classified on a
// bounded goroutine pool; chunk outputs are concatenated in dispatch order,
// so the result is identical to the synchronous path. Any parallel failure
// (including the per-run timeout) falls back to the synchronous path.
func ProcessGroups(ctx context.Context, groups []*Group, aRows, bRows map[int64]*types.BaseRow,
	opts ProcessOptions, ws config.WorkerSettings) *ProcessResult {

	if !ws.ThreadsEnabled || ws.PoolSize <= 1 || len(groups) < ws.Threshold {
		return processSync(groups, aRows, bRows, opts)
	}

	res, err := processParallel(ctx, groups, aRows, bRows, opts, ws)
	if err != nil {
		debug.Logf("[pipeline] job %d: parallel group processing failed (%v), falling back to sync\n",
			opts.JobID, err)
		return processSync(groups, aRows, bRows, opts)
	}
	return res
}

// processSync classifies every group on the calling goroutine.
func processSync(groups []*Group, aRows, bRows map[int64]*types.BaseRow, opts ProcessOptions) *ProcessResult {
	res := &ProcessResult{}
	for _, g := range groups {
		res.Entries = append(res.Entries, classifyGroup(g, aRows, bRows, opts)...)
		res.MatchedA = append(res.MatchedA, g.AIDs...)
		res.MatchedB = append(res.MatchedB, g.BIDs...)
	}
	return res
}

// processParallel fans the groups out over ws.PoolSize workers in chunks and
// merges the per-chunk results in dispatch order.
func processParallel(ctx context.Context, groups []*Group, aRows, bRows map[int64]*types.BaseRow,
	opts ProcessOptions, ws config.WorkerSettings) (*ProcessResult, error) {

	chunkSize := (len(groups) + ws.PoolSize - 1) / ws.PoolSize
	if ws.BatchSize > 0 && chunkSize > ws.BatchSize {
		chunkSize = ws.BatchSize
	}
	if chunkSize < 1 {
		chunkSize = 1
	}

	var chunks [][]*Group
	for start := 0; start < len(groups); start += chunkSize {
		end := start + chunkSize
		if end > len(groups) {
			end = len(groups)
		}
		chunks = append(chunks, groups[start:end])
	}

	runCtx := ctx
	if ws.TaskTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, ws.TaskTimeout)
		defer cancel()
	}

	results := make([]*ProcessResult, len(chunks))
	eg, egCtx := errgroup.WithContext(runCtx)
	eg.SetLimit(ws.PoolSize)
	for i, chunk := range chunks {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			results[i] = processSync(chunk, aRows, bRows, opts)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	merged := &ProcessResult{}
	for _, r := range results {
		merged.Entries = append(merged.Entries, r.Entries...)
		merged.MatchedA = append(merged.MatchedA, r.MatchedA...)
		merged.MatchedB = append(merged.MatchedB, r.MatchedB...)
	}
	return merged, nil
}

// classifyGroup computes the group sums, classifies the group and emits one
// result entry per member row.
//
// Classification (ε = 1e-6, L = max(limite, ε)):
//
//	both sides, |diff| ≤ ε          → 01_Conciliado / Conciliado
//	both sides, limite>0, |diff| ≤ L → 02 / Diferença Imaterial
//	both sides, diff > 0             → 02 / BASE A MAIOR
//	both sides, diff < 0             → 02 / BASE B MAIOR
//	one side only                    → 03_Não Encontrado / Não encontrado
func classifyGroup(g *Group, aRows, bRows map[int64]*types.BaseRow, opts ProcessOptions) []*types.ResultEntry {
	var somaA, somaB float64
	for _, id := range g.AIDs {
		if row := aRows[id]; row != nil {
			somaA += types.ParseAmount(row.Values[opts.ValueColA])
		}
	}
	for _, id := range g.BIDs {
		row := bRows[id]
		if row == nil {
			continue
		}
		v := types.ParseAmount(row.Values[opts.ValueColB])
		if opts.Inverter {
			v = -v
		}
		somaB += v
	}
	somaA = types.Round6(somaA)
	somaB = types.Round6(somaB)
	diff := types.Round6(somaA - somaB)
	absDiff := math.Abs(diff)

	hasA := len(g.AIDs) > 0
	hasB := len(g.BIDs) > 0
	limite := opts.Limite
	if limite < epsilon {
		limite = epsilon
	}

	var status, grupo string
	switch {
	case hasA && hasB && absDiff <= epsilon:
		status, grupo = types.StatusConciliado, types.GrupoConciliado
	case hasA && hasB && opts.Limite > 0 && absDiff <= limite:
		status, grupo = types.StatusComDiferenca, types.GrupoDiferencaImaterial
	case hasA && hasB && diff > 0:
		status, grupo = types.StatusComDiferenca, types.GrupoBaseAMaior
	case hasA && hasB:
		status, grupo = types.StatusComDiferenca, types.GrupoBaseBMaior
	default:
		status, grupo = types.StatusNaoEncontrado, types.GrupoNaoEncontrado
	}

	var chave *string
	if g.KeyID != "" {
		keyID := g.KeyID
		chave = &keyID
	}

	entries := make([]*types.ResultEntry, 0, len(g.AIDs)+len(g.BIDs))
	for _, id := range g.AIDs {
		row := aRows[id]
		if row == nil {
			continue
		}
		rowID := id
		entries = append(entries, &types.ResultEntry{
			JobID:      opts.JobID,
			Chave:      chave,
			Status:     status,
			Grupo:      grupo,
			ARowID:     &rowID,
			AValues:    rowSnapshot(row, opts.AllAKeyCols, opts.ValueColA),
			ValueA:     somaA,
			ValueB:     somaB,
			Difference: diff,
			KeyValues:  keyValues(row, opts.ChavesContabil, opts.KeyIdentifiers),
		})
	}
	for _, id := range g.BIDs {
		row := bRows[id]
		if row == nil {
			continue
		}
		rowID := id
		entries = append(entries, &types.ResultEntry{
			JobID:      opts.JobID,
			Chave:      chave,
			Status:     status,
			Grupo:      grupo,
			BRowID:     &rowID,
			BValues:    rowSnapshot(row, opts.AllBKeyCols, opts.ValueColB),
			ValueA:     somaA,
			ValueB:     somaB,
			Difference: diff,
			KeyValues:  keyValues(row, opts.ChavesFiscal, opts.KeyIdentifiers),
		})
	}
	return entries
}

// compositeKey joins the stringified column values of one row with
// underscores, in configured column order.
func compositeKey(row *types.BaseRow, cols []string) string {
	parts := make([]string, len(cols))
	for i, col := range cols {
		parts[i] = row.Values[col]
	}
	return strings.Join(parts, "_")
}

// keyValues computes the per-key composite columns for one row from its
// side's chaves lists. Keys the side does not configure stay absent.
func keyValues(row *types.BaseRow, chaves types.ChavesMap, keyIDs []string) map[string]string {
	out := make(map[string]string, len(keyIDs))
	for _, keyID := range keyIDs {
		cols := chaves.Cols(keyID)
		if len(cols) == 0 {
			continue
		}
		out[keyID] = compositeKey(row, cols)
	}
	return out
}

// rowSnapshot serializes the row's id, key columns and amount column to the
// JSON stored in a_values / b_values.
func rowSnapshot(row *types.BaseRow, keyCols []string, valueCol string) string {
	snap := make(map[string]any, len(keyCols)+2)
	snap["id"] = row.ID
	for _, col := range keyCols {
		snap[col] = row.Values[col]
	}
	snap[valueCol] = row.Values[valueCol]
	data, err := json.Marshal(snap)
	if err != nil {
		return ""
	}
	return string(data)
}
