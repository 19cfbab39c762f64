package pipeline

import (
	"context"
	"fmt"

	"github.com/concilia/concilia/internal/config"
	"github.com/concilia/concilia/internal/debug"
	"github.com/concilia/concilia/internal/storage"
	"github.com/concilia/concilia/internal/types"
)

// ConciliacaoStep is the core matcher. It materializes the per-job result
// table in three write phases, in order:
//
//  1. marked rows (estorno / cancelamento decisions carried over),
//  2. matched groups, one key identifier at a time (first-match-wins),
//  3. residuals — every row neither marked nor matched.
//
// After the step every participating base row appears in exactly one result
// row. The step is not crash-safe mid-execution: a failed run leaves a
// partial result table, and the recovery path is requeue (which drops it).
type ConciliacaoStep struct{}

func (ConciliacaoStep) Name() string { return StepConciliacao }

func (ConciliacaoStep) Run(ctx context.Context, pc *Context) error {
	cfg, err := pc.ConfigConciliacao(ctx, pc.ConfigConciliacaoID)
	if err != nil {
		return err
	}
	keyIDs := cfg.KeyIdentifiers()
	if len(keyIDs) == 0 {
		return fmt.Errorf("%w: config_conciliacao %d has no key identifiers", ErrConfig, cfg.ID)
	}

	if err := pc.Store.EnsureResultTable(ctx, pc.JobID, keyIDs); err != nil {
		return wrapSchemaError(err)
	}

	m := &matcher{
		store:    pc.Store,
		settings: pc.Settings,
		jobID:    pc.JobID,
		baseA:    pc.BaseContabilID,
		baseB:    pc.BaseFiscalID,
		cfg:      cfg,
		keyIDs:   keyIDs,
		opts: ProcessOptions{
			JobID:          pc.JobID,
			ValueColA:      cfg.ColunaConciliacaoContabil,
			ValueColB:      cfg.ColunaConciliacaoFiscal,
			Inverter:       cfg.InverterSinalFiscal,
			Limite:         cfg.LimiteDiferencaImaterial,
			KeyIdentifiers: keyIDs,
			ChavesContabil: cfg.ChavesContabil,
			ChavesFiscal:   cfg.ChavesFiscal,
			AllAKeyCols:    cfg.ChavesContabil.AllColumns(),
			AllBKeyCols:    cfg.ChavesFiscal.AllColumns(),
		},
		aRows:    make(map[int64]*types.BaseRow),
		bRows:    make(map[int64]*types.BaseRow),
		matchedA: make(map[int64]bool),
		matchedB: make(map[int64]bool),
	}
	return m.run(ctx)
}

// matcher holds the per-run state of one Conciliação-AB execution. Row
// caches are bounded to the rows touched by joins and residuals and are
// discarded with the matcher at end of step.
type matcher struct {
	store    storage.Storage
	settings config.WorkerSettings
	jobID    int64
	baseA    int64
	baseB    int64
	cfg      *types.ConfigConciliacao
	keyIDs   []string
	opts     ProcessOptions

	aRows    map[int64]*types.BaseRow
	bRows    map[int64]*types.BaseRow
	matchedA map[int64]bool
	matchedB map[int64]bool
}

func (m *matcher) run(ctx context.Context) error {
	if err := m.ingestMarks(ctx); err != nil {
		return err
	}
	for _, keyID := range m.keyIDs {
		if err := m.matchKey(ctx, keyID); err != nil {
			return err
		}
	}
	return m.writeResiduals(ctx)
}

// ingestMarks copies pre-reconciliation decisions into the result table.
// Each marked row becomes one result row carrying its own amount; marked ids
// join the membership sets so later phases skip them.
func (m *matcher) ingestMarks(ctx context.Context) error {
	markedA, err := m.store.LoadMarkedRows(ctx, m.baseA, m.cfg.ColunaConciliacaoContabil)
	if err != nil {
		return wrapSchemaError(err)
	}
	markedB, err := m.store.LoadMarkedRows(ctx, m.baseB, m.cfg.ColunaConciliacaoFiscal)
	if err != nil {
		return wrapSchemaError(err)
	}

	entries := make([]*types.ResultEntry, 0, len(markedA)+len(markedB))
	for _, mr := range markedA {
		rowID := mr.RowID
		entries = append(entries, &types.ResultEntry{
			JobID:      m.jobID,
			Chave:      mr.Chave,
			Status:     mr.Status,
			Grupo:      mr.Grupo,
			ARowID:     &rowID,
			ValueA:     types.Round6(mr.Amount),
			ValueB:     0,
			Difference: types.Round6(mr.Amount),
		})
		m.matchedA[mr.RowID] = true
	}
	for _, mr := range markedB {
		amount := mr.Amount
		if m.cfg.InverterSinalFiscal {
			amount = -amount
		}
		rowID := mr.RowID
		entries = append(entries, &types.ResultEntry{
			JobID:      m.jobID,
			Chave:      mr.Chave,
			Status:     mr.Status,
			Grupo:      mr.Grupo,
			BRowID:     &rowID,
			ValueA:     0,
			ValueB:     types.Round6(amount),
			Difference: types.Round6(-amount),
		})
		m.matchedB[mr.RowID] = true
	}
	if len(entries) == 0 {
		return nil
	}
	debug.Logf("[pipeline] job %d: carrying %d marked rows into results\n", m.jobID, len(entries))
	return m.store.InsertResults(ctx, m.jobID, m.keyIDs, entries)
}

// matchKey runs one key-identifier iteration: join, group, classify, write.
//
// Join pairs arrive ordered by (a.id, b.id). A row is assigned to the first
// (key, composite) group it appears in on this iteration; later pairs naming
// it under a different composite are dropped. Groups keep first-encounter
// order, so the output is deterministic for a given database.
func (m *matcher) matchKey(ctx context.Context, keyID string) error {
	aCols := m.cfg.ChavesContabil.Cols(keyID)
	bCols := m.cfg.ChavesFiscal.Cols(keyID)
	if len(aCols) == 0 || len(bCols) == 0 {
		// Key configured on one side only; nothing can join.
		return nil
	}

	pairs, err := m.store.JoinPairs(ctx, m.baseA, m.baseB, aCols, bCols)
	if err != nil {
		return wrapSchemaError(err)
	}

	// Survivors only, then cache their rows before grouping.
	var needA, needB []int64
	for _, p := range pairs {
		if m.matchedA[p.AID] || m.matchedB[p.BID] {
			continue
		}
		if _, ok := m.aRows[p.AID]; !ok {
			needA = append(needA, p.AID)
		}
		if _, ok := m.bRows[p.BID]; !ok {
			needB = append(needB, p.BID)
		}
	}
	if err := m.cacheRows(ctx, needA, needB); err != nil {
		return err
	}

	groupsByComposite := make(map[string]*Group)
	var groups []*Group
	assignedA := make(map[int64]string)
	assignedB := make(map[int64]string)
	for _, p := range pairs {
		if m.matchedA[p.AID] || m.matchedB[p.BID] {
			continue
		}
		row := m.aRows[p.AID]
		if row == nil {
			continue
		}
		composite := compositeKey(row, aCols)
		if prev, ok := assignedA[p.AID]; ok && prev != composite {
			continue
		}
		if prev, ok := assignedB[p.BID]; ok && prev != composite {
			continue
		}
		g := groupsByComposite[composite]
		if g == nil {
			g = &Group{KeyID: keyID, Composite: composite}
			groupsByComposite[composite] = g
			groups = append(groups, g)
		}
		if _, ok := assignedA[p.AID]; !ok {
			g.AIDs = append(g.AIDs, p.AID)
			assignedA[p.AID] = composite
		}
		if _, ok := assignedB[p.BID]; !ok {
			g.BIDs = append(g.BIDs, p.BID)
			assignedB[p.BID] = composite
		}
	}
	if len(groups) == 0 {
		return nil
	}

	res := ProcessGroups(ctx, groups, m.aRows, m.bRows, m.opts, m.settings)
	for _, id := range res.MatchedA {
		m.matchedA[id] = true
	}
	for _, id := range res.MatchedB {
		m.matchedB[id] = true
	}
	debug.Logf("[pipeline] job %d: key %s matched %d groups (%d entries)\n",
		m.jobID, keyID, len(groups), len(res.Entries))
	return m.store.InsertResults(ctx, m.jobID, m.keyIDs, res.Entries)
}

// writeResiduals emits one 03_Não Encontrado row for every base row that
// reached the end of matching unclaimed. Residuals are singleton one-sided
// groups carrying the first configured key identifier as chave.
func (m *matcher) writeResiduals(ctx context.Context) error {
	residualKey := ""
	if len(m.keyIDs) > 0 {
		residualKey = m.keyIDs[0]
	}

	aIDs, err := m.store.ListRowIDs(ctx, m.baseA)
	if err != nil {
		return wrapSchemaError(err)
	}
	bIDs, err := m.store.ListRowIDs(ctx, m.baseB)
	if err != nil {
		return wrapSchemaError(err)
	}

	var needA, needB []int64
	var groups []*Group
	for _, id := range aIDs {
		if m.matchedA[id] {
			continue
		}
		if _, ok := m.aRows[id]; !ok {
			needA = append(needA, id)
		}
		groups = append(groups, &Group{KeyID: residualKey, AIDs: []int64{id}})
	}
	for _, id := range bIDs {
		if m.matchedB[id] {
			continue
		}
		if _, ok := m.bRows[id]; !ok {
			needB = append(needB, id)
		}
		groups = append(groups, &Group{KeyID: residualKey, BIDs: []int64{id}})
	}
	if len(groups) == 0 {
		return nil
	}
	if err := m.cacheRows(ctx, needA, needB); err != nil {
		return err
	}

	res := ProcessGroups(ctx, groups, m.aRows, m.bRows, m.opts, m.settings)
	debug.Logf("[pipeline] job %d: %d residual rows\n", m.jobID, len(res.Entries))
	return m.store.InsertResults(ctx, m.jobID, m.keyIDs, res.Entries)
}

// cacheRows loads the key and amount columns for not-yet-cached row ids on
// each side. Rows stay cached across key iterations.
func (m *matcher) cacheRows(ctx context.Context, aIDs, bIDs []int64) error {
	if len(aIDs) > 0 {
		cols := append(append([]string{}, m.opts.AllAKeyCols...), m.cfg.ColunaConciliacaoContabil)
		loaded, err := m.store.LoadRowsByID(ctx, m.baseA, cols, aIDs)
		if err != nil {
			return fmt.Errorf("load base %d rows: %w", m.baseA, err)
		}
		for id, row := range loaded {
			m.aRows[id] = row
		}
	}
	if len(bIDs) > 0 {
		cols := append(append([]string{}, m.opts.AllBKeyCols...), m.cfg.ColunaConciliacaoFiscal)
		loaded, err := m.store.LoadRowsByID(ctx, m.baseB, cols, bIDs)
		if err != nil {
			return fmt.Errorf("load base %d rows: %w", m.baseB, err)
		}
		for id, row := range loaded {
			m.bRows[id] = row
		}
	}
	return nil
}
