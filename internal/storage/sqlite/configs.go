package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/concilia/concilia/internal/types"
)

// CreateConfigConciliacao validates and stores a reconciliation config.
// The referenced bases must exist and carry the expected tipos.
func (s *SQLiteStorage) CreateConfigConciliacao(ctx context.Context, cfg *types.ConfigConciliacao) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if err := s.checkBaseTipo(ctx, cfg.BaseContabilID, types.TipoContabil); err != nil {
		return err
	}
	if err := s.checkBaseTipo(ctx, cfg.BaseFiscalID, types.TipoFiscal); err != nil {
		return err
	}

	chavesContabil, err := json.Marshal(cfg.ChavesContabil)
	if err != nil {
		return fmt.Errorf("encode chaves_contabil: %w", err)
	}
	chavesFiscal, err := json.Marshal(cfg.ChavesFiscal)
	if err != nil {
		return fmt.Errorf("encode chaves_fiscal: %w", err)
	}

	now := time.Now()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now

	res, err := s.execContext(ctx, `
		INSERT INTO config_conciliacao (
			nome, base_contabil_id, base_fiscal_id, chaves_contabil, chaves_fiscal,
			coluna_conciliacao_contabil, coluna_conciliacao_fiscal,
			inverter_sinal_fiscal, limite_diferenca_imaterial, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, cfg.Nome, cfg.BaseContabilID, cfg.BaseFiscalID, string(chavesContabil), string(chavesFiscal),
		cfg.ColunaConciliacaoContabil, cfg.ColunaConciliacaoFiscal,
		cfg.InverterSinalFiscal, cfg.LimiteDiferencaImaterial, cfg.CreatedAt, cfg.UpdatedAt)
	if err != nil {
		return wrapDBError("insert config_conciliacao", err)
	}
	cfg.ID, err = res.LastInsertId()
	if err != nil {
		return wrapDBError("config_conciliacao id", err)
	}
	return nil
}

// GetConfigConciliacao returns the reconciliation config with the given id.
func (s *SQLiteStorage) GetConfigConciliacao(ctx context.Context, id int64) (*types.ConfigConciliacao, error) {
	cfg := &types.ConfigConciliacao{}
	var chavesContabil, chavesFiscal string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, nome, base_contabil_id, base_fiscal_id, chaves_contabil, chaves_fiscal,
		       coluna_conciliacao_contabil, coluna_conciliacao_fiscal,
		       inverter_sinal_fiscal, limite_diferenca_imaterial, created_at, updated_at
		FROM config_conciliacao WHERE id = ?
	`, id).Scan(&cfg.ID, &cfg.Nome, &cfg.BaseContabilID, &cfg.BaseFiscalID,
		&chavesContabil, &chavesFiscal,
		&cfg.ColunaConciliacaoContabil, &cfg.ColunaConciliacaoFiscal,
		&cfg.InverterSinalFiscal, &cfg.LimiteDiferencaImaterial,
		&cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		return nil, wrapDBErrorf(err, "get config_conciliacao %d", id)
	}
	if err := decodeChaves(chavesContabil, &cfg.ChavesContabil); err != nil {
		return nil, fmt.Errorf("config_conciliacao %d chaves_contabil: %w", id, err)
	}
	if err := decodeChaves(chavesFiscal, &cfg.ChavesFiscal); err != nil {
		return nil, fmt.Errorf("config_conciliacao %d chaves_fiscal: %w", id, err)
	}
	return cfg, nil
}

// ListConfigsConciliacao returns all reconciliation configs ordered by id.
func (s *SQLiteStorage) ListConfigsConciliacao(ctx context.Context) ([]*types.ConfigConciliacao, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, nome, base_contabil_id, base_fiscal_id, chaves_contabil, chaves_fiscal,
		       coluna_conciliacao_contabil, coluna_conciliacao_fiscal,
		       inverter_sinal_fiscal, limite_diferenca_imaterial, created_at, updated_at
		FROM config_conciliacao ORDER BY id
	`)
	if err != nil {
		return nil, wrapDBError("list config_conciliacao", err)
	}
	defer rows.Close()

	var out []*types.ConfigConciliacao
	for rows.Next() {
		cfg := &types.ConfigConciliacao{}
		var chavesContabil, chavesFiscal string
		if err := rows.Scan(&cfg.ID, &cfg.Nome, &cfg.BaseContabilID, &cfg.BaseFiscalID,
			&chavesContabil, &chavesFiscal,
			&cfg.ColunaConciliacaoContabil, &cfg.ColunaConciliacaoFiscal,
			&cfg.InverterSinalFiscal, &cfg.LimiteDiferencaImaterial,
			&cfg.CreatedAt, &cfg.UpdatedAt); err != nil {
			return nil, wrapDBError("scan config_conciliacao", err)
		}
		if err := decodeChaves(chavesContabil, &cfg.ChavesContabil); err != nil {
			return nil, fmt.Errorf("config_conciliacao %d chaves_contabil: %w", cfg.ID, err)
		}
		if err := decodeChaves(chavesFiscal, &cfg.ChavesFiscal); err != nil {
			return nil, fmt.Errorf("config_conciliacao %d chaves_fiscal: %w", cfg.ID, err)
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

// CreateConfigEstorno validates and stores an estorno config.
func (s *SQLiteStorage) CreateConfigEstorno(ctx context.Context, cfg *types.ConfigEstorno) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if _, err := s.GetBase(ctx, cfg.BaseID); err != nil {
		return err
	}

	now := time.Now()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now

	res, err := s.execContext(ctx, `
		INSERT INTO config_estorno (nome, base_id, coluna_a, coluna_b, coluna_soma, limite_zero, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, cfg.Nome, cfg.BaseID, cfg.ColunaA, cfg.ColunaB, cfg.ColunaSoma, cfg.LimiteZero,
		cfg.CreatedAt, cfg.UpdatedAt)
	if err != nil {
		return wrapDBError("insert config_estorno", err)
	}
	cfg.ID, err = res.LastInsertId()
	if err != nil {
		return wrapDBError("config_estorno id", err)
	}
	return nil
}

// GetConfigEstorno returns the estorno config with the given id.
func (s *SQLiteStorage) GetConfigEstorno(ctx context.Context, id int64) (*types.ConfigEstorno, error) {
	cfg := &types.ConfigEstorno{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, nome, base_id, coluna_a, coluna_b, coluna_soma, limite_zero, created_at, updated_at
		FROM config_estorno WHERE id = ?
	`, id).Scan(&cfg.ID, &cfg.Nome, &cfg.BaseID, &cfg.ColunaA, &cfg.ColunaB,
		&cfg.ColunaSoma, &cfg.LimiteZero, &cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		return nil, wrapDBErrorf(err, "get config_estorno %d", id)
	}
	return cfg, nil
}

// CreateConfigCancelamento validates and stores a cancelamento config.
func (s *SQLiteStorage) CreateConfigCancelamento(ctx context.Context, cfg *types.ConfigCancelamento) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if _, err := s.GetBase(ctx, cfg.BaseID); err != nil {
		return err
	}

	now := time.Now()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now

	res, err := s.execContext(ctx, `
		INSERT INTO config_cancelamento (nome, base_id, coluna_indicador, valor_cancelado, valor_nao_cancelado, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, cfg.Nome, cfg.BaseID, cfg.ColunaIndicador, cfg.ValorCancelado, cfg.ValorNaoCancelado,
		cfg.CreatedAt, cfg.UpdatedAt)
	if err != nil {
		return wrapDBError("insert config_cancelamento", err)
	}
	cfg.ID, err = res.LastInsertId()
	if err != nil {
		return wrapDBError("config_cancelamento id", err)
	}
	return nil
}

// GetConfigCancelamento returns the cancelamento config with the given id.
func (s *SQLiteStorage) GetConfigCancelamento(ctx context.Context, id int64) (*types.ConfigCancelamento, error) {
	cfg := &types.ConfigCancelamento{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, nome, base_id, coluna_indicador, valor_cancelado, valor_nao_cancelado, created_at, updated_at
		FROM config_cancelamento WHERE id = ?
	`, id).Scan(&cfg.ID, &cfg.Nome, &cfg.BaseID, &cfg.ColunaIndicador,
		&cfg.ValorCancelado, &cfg.ValorNaoCancelado, &cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		return nil, wrapDBErrorf(err, "get config_cancelamento %d", id)
	}
	return cfg, nil
}

// checkBaseTipo verifies that the base exists and has the expected tipo.
func (s *SQLiteStorage) checkBaseTipo(ctx context.Context, baseID int64, want types.BaseTipo) error {
	base, err := s.GetBase(ctx, baseID)
	if err != nil {
		return err
	}
	if base.Tipo != want {
		return fmt.Errorf("base %d has tipo %s, want %s", baseID, base.Tipo, want)
	}
	return nil
}

// decodeChaves parses a persisted chaves JSON value. Both the object form
// and the legacy array form are accepted (see types.ChavesMap).
func decodeChaves(raw string, dst *types.ChavesMap) error {
	if raw == "" {
		*dst = types.ChavesMap{}
		return nil
	}
	return json.Unmarshal([]byte(raw), dst)
}
