package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/concilia/concilia/internal/config"
	"github.com/concilia/concilia/internal/storage"
	"github.com/concilia/concilia/internal/types"
)

// Context carries one job's identity and configuration through the pipeline.
//
// The lookup methods memoize: each base or config is fetched from storage at
// most once per run, no matter how many steps ask for it. The cache is
// guarded so the parallel group processor can resolve configs safely, though
// in practice every lookup happens on the step goroutine.
type Context struct {
	JobID                int64
	BaseContabilID       int64
	BaseFiscalID         int64
	ConfigConciliacaoID  int64
	ConfigEstornoID      *int64
	ConfigCancelamentoID *int64

	Store    storage.Storage
	Settings config.WorkerSettings

	// ReportStage, when set, is called before each step with the step name,
	// its 0-based index and the total step count.
	ReportStage func(stepName string, stepIndex, totalSteps int)

	mu            sync.Mutex
	bases         map[int64]*types.Base
	conciliacoes  map[int64]*types.ConfigConciliacao
	estornos      map[int64]*types.ConfigEstorno
	cancelamentos map[int64]*types.ConfigCancelamento
}

// Base returns base metadata, cached after the first load.
func (pc *Context) Base(ctx context.Context, id int64) (*types.Base, error) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if base, ok := pc.bases[id]; ok {
		return base, nil
	}
	base, err := pc.Store.GetBase(ctx, id)
	if err != nil {
		return nil, wrapConfigLookup(err, "base %d", id)
	}
	if pc.bases == nil {
		pc.bases = make(map[int64]*types.Base)
	}
	pc.bases[id] = base
	return base, nil
}

// ConfigConciliacao returns the matching contract, cached after the first load.
func (pc *Context) ConfigConciliacao(ctx context.Context, id int64) (*types.ConfigConciliacao, error) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if cfg, ok := pc.conciliacoes[id]; ok {
		return cfg, nil
	}
	cfg, err := pc.Store.GetConfigConciliacao(ctx, id)
	if err != nil {
		return nil, wrapConfigLookup(err, "config_conciliacao %d", id)
	}
	if pc.conciliacoes == nil {
		pc.conciliacoes = make(map[int64]*types.ConfigConciliacao)
	}
	pc.conciliacoes[id] = cfg
	return cfg, nil
}

// ConfigEstorno returns the estorno rule, cached after the first load.
func (pc *Context) ConfigEstorno(ctx context.Context, id int64) (*types.ConfigEstorno, error) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if cfg, ok := pc.estornos[id]; ok {
		return cfg, nil
	}
	cfg, err := pc.Store.GetConfigEstorno(ctx, id)
	if err != nil {
		return nil, wrapConfigLookup(err, "config_estorno %d", id)
	}
	if pc.estornos == nil {
		pc.estornos = make(map[int64]*types.ConfigEstorno)
	}
	pc.estornos[id] = cfg
	return cfg, nil
}

// ConfigCancelamento returns the cancellation rule, cached after the first load.
func (pc *Context) ConfigCancelamento(ctx context.Context, id int64) (*types.ConfigCancelamento, error) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if cfg, ok := pc.cancelamentos[id]; ok {
		return cfg, nil
	}
	cfg, err := pc.Store.GetConfigCancelamento(ctx, id)
	if err != nil {
		return nil, wrapConfigLookup(err, "config_cancelamento %d", id)
	}
	if pc.cancelamentos == nil {
		pc.cancelamentos = make(map[int64]*types.ConfigCancelamento)
	}
	pc.cancelamentos[id] = cfg
	return cfg, nil
}

// wrapConfigLookup maps a missing entity to ErrConfig so the job surfaces a
// configuration failure rather than a bare not-found.
func wrapConfigLookup(err error, format string, args ...any) error {
	what := fmt.Sprintf(format, args...)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s not found", ErrConfig, what)
	}
	return fmt.Errorf("%s: %w", what, err)
}
