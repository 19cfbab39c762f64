// Package types defines core data structures for the concilia reconciliation engine.
package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

// BaseTipo distinguishes the two sides of a reconciliation.
type BaseTipo string

// Base type constants
const (
	TipoContabil BaseTipo = "CONTABIL"
	TipoFiscal   BaseTipo = "FISCAL"
)

// IsValid checks if the base type value is valid
func (t BaseTipo) IsValid() bool {
	return t == TipoContabil || t == TipoFiscal
}

// Base is the metadata record for one ingested dataset. The row data itself
// lives in the physical table named by TabelaSQLite (base_<id>).
type Base struct {
	ID           int64     `json:"id"`
	Nome         string    `json:"nome"`
	Tipo         BaseTipo  `json:"tipo"`
	TabelaSQLite string    `json:"tabela_sqlite"`
	Subtype      string    `json:"subtype,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

/// identRe accepts column names drawn from configuration: unicode letters,
// digits, underscore, space, dot and hyphen, starting with a letter or
// underscore. Names are still quote-escaped on SQL interpolation; this check
// exists to reject anything that was never a spreadsheet column header.
var identRe = regexp.MustCompile(`^[\p{L}_][\p{L}\p{N}_ .\-]*$`)

// ValidIdent reports whether s is acceptable as a configured column name.
func ValidIdent(s string) bool {
	return s != "" && len(s) <= 128 && identRe.MatchString(s)
}

// ChavesMap is an insertion-ordered mapping from key identifier (CHAVE_1,
// CHAVE_2, ...) to the list of columns composing that key on one side.
//
// Persisted as JSON text. Two wire forms are accepted:
//   - object form: {"CHAVE_1": ["col_a","col_b"], "CHAVE_2": [...]}  (order kept)
//   - sequence form: ["col_a","col_b"] which is shorthand for {"CHAVE_1": [...]}
//
// Key iteration order is the insertion order of the persisted object; the
// matcher depends on it (first-match-wins across key identifiers).
type ChavesMap struct {
	keys []string
	cols map[string][]string
}

// NewChavesMap builds a ChavesMap from alternating key / column-list pairs.
func NewChavesMap(pairs ...any) ChavesMap {
	var m ChavesMap
	for i := 0; i+1 < len(pairs); i += 2 {
		key, _ := pairs[i].(string)
		cols, _ := pairs[i+1].([]string)
		m.Set(key, cols)
	}
	return m
}

// Set adds or replaces the column list for a key identifier, preserving the
// position of an existing key.
func (m *ChavesMap) Set(key string, cols []string) {
	if m.cols == nil {
		m.cols = make(map[string][]string)
	}
	if _, ok := m.cols[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.cols[key] = cols
}

// Keys returns the key identifiers in insertion order.
func (m ChavesMap) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Cols returns the column list for a key identifier (nil when absent).
func (m ChavesMap) Cols(key string) []string {
	return m.cols[key]
}

// Len returns the number of key identifiers.
func (m ChavesMap) Len() int {
	return len(m.keys)
}

// AllColumns returns the deduplicated union of every column referenced by any
// key, in first-appearance order.
func (m ChavesMap) AllColumns() []string {
	seen := make(map[string]bool)
	var out []string
	for _, k := range m.keys {
		for _, c := range m.cols[k] {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	return out
}

// UnmarshalJSON accepts both the object form (order-preserving) and the
// sequence-of-strings shorthand.
func (m *ChavesMap) UnmarshalJSON(data []byte) error {
	*m = ChavesMap{}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if trimmed[0] == '[' {
		var cols []string
		if err := json.Unmarshal(trimmed, &cols); err != nil {
			return fmt.Errorf("chaves sequence form: %w", err)
		}
		if len(cols) > 0 {
			m.Set("CHAVE_1", cols)
		}
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("chaves object form: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("chaves must be a JSON object or array, got %v", tok)
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("chaves key: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("chaves key must be a string, got %v", keyTok)
		}
		var cols []string
		if err := dec.Decode(&cols); err != nil {
			return fmt.Errorf("chaves columns for %s: %w", key, err)
		}
		m.Set(key, cols)
	}
	// Consume the closing brace.
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("chaves object form: %w", err)
	}
	return nil
}

// MarshalJSON emits the object form with keys in insertion order.
func (m ChavesMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		cb, err := json.Marshal(m.cols[k])
		if err != nil {
			return nil, err
		}
		buf.Write(cb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ConfigConciliacao is the matching contract between a CONTABIL and a FISCAL base.
type ConfigConciliacao struct {
	ID                        int64     `json:"id"`
	Nome                      string    `json:"nome"`
	BaseContabilID            int64     `json:"base_contabil_id"`
	BaseFiscalID              int64     `json:"base_fiscal_id"`
	ChavesContabil            ChavesMap `json:"chaves_contabil"`
	ChavesFiscal              ChavesMap `json:"chaves_fiscal"`
	ColunaConciliacaoContabil string    `json:"coluna_conciliacao_contabil"`
	ColunaConciliacaoFiscal   string    `json:"coluna_conciliacao_fiscal"`
	InverterSinalFiscal       bool      `json:"inverter_sinal_fiscal"`
	LimiteDiferencaImaterial  float64   `json:"limite_diferenca_imaterial"`
	CreatedAt                 time.Time `json:"created_at"`
	UpdatedAt                 time.Time `json:"updated_at"`
}

// KeyIdentifiers returns the ordered union of the key identifiers configured
// on either side, insertion order preserved, contábil side first.
func (c *ConfigConciliacao) KeyIdentifiers() []string {
	seen := make(map[string]bool)
	var out []string
	for _, k := range c.ChavesContabil.Keys() {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	for _, k := range c.ChavesFiscal.Keys() {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}

// Validate checks the config for structural problems. Mismatched key arities
// are rejected here; the matcher retains a defensive fallback for configs that
// predate this validation.
func (c *ConfigConciliacao) Validate() error {
	if c.BaseContabilID <= 0 {
		return fmt.Errorf("base_contabil_id is required")
	}
	if c.BaseFiscalID <= 0 {
		return fmt.Errorf("base_fiscal_id is required")
	}
	if !ValidIdent(c.ColunaConciliacaoContabil) {
		return fmt.Errorf("coluna_conciliacao_contabil %q is not a valid column name", c.ColunaConciliacaoContabil)
	}
	if !ValidIdent(c.ColunaConciliacaoFiscal) {
		return fmt.Errorf("coluna_conciliacao_fiscal %q is not a valid column name", c.ColunaConciliacaoFiscal)
	}
	if c.LimiteDiferencaImaterial < 0 {
		return fmt.Errorf("limite_diferenca_imaterial cannot be negative")
	}
	keys := c.KeyIdentifiers()
	if len(keys) == 0 {
		return fmt.Errorf("at least one key identifier is required")
	}
	for _, k := range keys {
		aCols := c.ChavesContabil.Cols(k)
		bCols := c.ChavesFiscal.Cols(k)
		if len(aCols) == 0 {
			return fmt.Errorf("key %s missing on the contábil side", k)
		}
		if len(bCols) == 0 {
			return fmt.Errorf("key %s missing on the fiscal side", k)
		}
		if len(aCols) != len(bCols) {
			return fmt.Errorf("key %s has mismatched arity: %d contábil vs %d fiscal columns", k, len(aCols), len(bCols))
		}
		for _, col := range aCols {
			if !ValidIdent(col) {
				return fmt.Errorf("key %s: %q is not a valid column name", k, col)
			}
		}
		for _, col := range bCols {
			if !ValidIdent(col) {
				return fmt.Errorf("key %s: %q is not a valid column name", k, col)
			}
		}
	}
	return nil
}

// ConfigEstorno is the pair-cancellation rule applied to Base A: two rows
// whose coluna_a/coluna_b values cross-match and whose coluna_soma values sum
// to (approximately) zero neutralize each other.
type ConfigEstorno struct {
	ID         int64     `json:"id"`
	Nome       string    `json:"nome"`
	BaseID     int64     `json:"base_id"`
	ColunaA    string    `json:"coluna_a"`
	ColunaB    string    `json:"coluna_b"`
	ColunaSoma string    `json:"coluna_soma"`
	LimiteZero float64   `json:"limite_zero"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Validate checks the estorno config for structural problems.
func (c *ConfigEstorno) Validate() error {
	if c.BaseID <= 0 {
		return fmt.Errorf("base_id is required")
	}
	for _, col := range []struct{ name, val string }{
		{"coluna_a", c.ColunaA},
		{"coluna_b", c.ColunaB},
		{"coluna_soma", c.ColunaSoma},
	} {
		if !ValidIdent(col.val) {
			return fmt.Errorf("%s %q is not a valid column name", col.name, col.val)
		}
	}
	if c.LimiteZero < 0 {
		return fmt.Errorf("limite_zero cannot be negative")
	}
	return nil
}

// ConfigCancelamento is the row-exclusion rule applied to Base B.
type ConfigCancelamento struct {
	ID                int64     `json:"id"`
	Nome              string    `json:"nome"`
	BaseID            int64     `json:"base_id"`
	ColunaIndicador   string    `json:"coluna_indicador"`
	ValorCancelado    string    `json:"valor_cancelado"`
	ValorNaoCancelado string    `json:"valor_nao_cancelado"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Validate checks the cancelamento config for structural problems.
func (c *ConfigCancelamento) Validate() error {
	if c.BaseID <= 0 {
		return fmt.Errorf("base_id is required")
	}
	if !ValidIdent(c.ColunaIndicador) {
		return fmt.Errorf("coluna_indicador %q is not a valid column name", c.ColunaIndicador)
	}
	if c.ValorCancelado == "" {
		return fmt.Errorf("valor_cancelado is required")
	}
	return nil
}

// JobStatus represents the lifecycle state of a reconciliation job.
type JobStatus string

// Job status constants. PENDING→RUNNING is an atomic claim; DONE and FAILED
// are terminal and never revert.
const (
	JobPending JobStatus = "PENDING"
	JobRunning JobStatus = "RUNNING"
	JobDone    JobStatus = "DONE"
	JobFailed  JobStatus = "FAILED"
)

// IsValid checks if the job status value is valid
func (s JobStatus) IsValid() bool {
	switch s {
	case JobPending, JobRunning, JobDone, JobFailed:
		return true
	}
	return false
}

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	return s == JobDone || s == JobFailed
}

// Pipeline stage codes — the closed set observable through the job row.
const (
	StageQueued            = "queued"
	StageStartingWorker    = "starting_worker"
	StagePreparando        = "preparando"
	StageNormalizandoBaseA = "normalizando_base_a"
	StageAplicandoEstorno  = "aplicando_estorno"
	StageNormalizandoBaseB = "normalizando_base_b"
	StageAplicandoCancel   = "aplicando_cancelamento"
	StageConciliando       = "conciliando"
	StageFinalizando       = "finalizando"
	StageFailed            = "failed"
)

// Stage labels shown alongside each pipeline stage code.
const (
	LabelStartingWorker = "Iniciando processamento"
	LabelPreparando     = "Preparando bases para conciliação"
	LabelNullsA         = "Normalizando campos da Base Contábil"
	LabelEstorno        = "Aplicando regras de estorno"
	LabelNullsB         = "Normalizando campos da Base Fiscal"
	LabelCancelamento   = "Aplicando regras de cancelamento"
	LabelConciliacao    = "Conciliando bases A x B"
	LabelFinalizando    = "Conciliação finalizada"
	LabelFailed         = "Conciliação interrompida"
)

// Export status values mirror the job lifecycle.
const (
	ExportRunning = "RUNNING"
	ExportDone    = "DONE"
	ExportFailed  = "FAILED"
)

// Job is one reconciliation request, claimed and executed by the worker.
type Job struct {
	ID                   int64     `json:"id"`
	Nome                 string    `json:"nome,omitempty"`
	Status               JobStatus `json:"status"`
	ConfigConciliacaoID  int64     `json:"config_conciliacao_id"`
	ConfigEstornoID      *int64    `json:"config_estorno_id,omitempty"`
	ConfigCancelamentoID *int64    `json:"config_cancelamento_id,omitempty"`
	BaseContabilID       *int64    `json:"base_contabil_id,omitempty"`
	BaseFiscalID         *int64    `json:"base_fiscal_id,omitempty"`
	PipelineStage        string    `json:"pipeline_stage,omitempty"`
	PipelineProgress     int       `json:"pipeline_progress"`
	PipelineStageLabel   string    `json:"pipeline_stage_label,omitempty"`
	Erro                 string    `json:"erro,omitempty"`
	ArquivoExportado     string    `json:"arquivo_exportado,omitempty"`
	ExportStatus         string    `json:"export_status,omitempty"`
	ExportProgress       int       `json:"export_progress"`
	// Snapshot columns written by the API layer for display; the sibling
	// attribution pipeline shares this table. The core never reads them.
	ConfigEstornoNome      string    `json:"config_estorno_nome,omitempty"`
	ConfigCancelamentoNome string    `json:"config_cancelamento_nome,omitempty"`
	ConfigMapeamentoID     *int64    `json:"config_mapeamento_id,omitempty"`
	ConfigMapeamentoNome   string    `json:"config_mapeamento_nome,omitempty"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// Result statuses — the closed domain persisted in result rows and marks.
const (
	StatusConciliado    = "01_Conciliado"
	StatusComDiferenca  = "02_Encontrado c/Diferença"
	StatusNaoEncontrado = "03_Não Encontrado"
	StatusNaoAvaliado   = "04_Não avaliado"
)

// Grupo labels persisted alongside result statuses.
const (
	GrupoConciliado         = "Conciliado"
	GrupoConciliadoEstorno  = "Conciliado_Estorno"
	GrupoDiferencaImaterial = "Diferença Imaterial"
	GrupoBaseAMaior         = "Encontrado com diferença, BASE A MAIOR"
	GrupoBaseBMaior         = "Encontrado com diferença, BASE B MAIOR"
	GrupoNaoEncontrado      = "Não encontrado"
	GrupoNFCancelada        = "NF Cancelada"
)

// Mark is a pre-reconciliation decision attached to a base row. Marks are
// shared across jobs and idempotent by (base_id, row_id, grupo).
type Mark struct {
	ID        int64     `json:"id"`
	BaseID    int64     `json:"base_id"`
	RowID     int64     `json:"row_id"`
	Status    string    `json:"status"`
	Grupo     string    `json:"grupo"`
	Chave     *string   `json:"chave,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ResultEntry is one row bound for a conciliacao_result_<jobId> table.
// Exactly one of ARowID / BRowID is set. AValues/BValues hold the JSON
// snapshot of the source row (id, key columns, amount column) for the
// side the entry references.
type ResultEntry struct {
	JobID      int64             `json:"job_id"`
	Chave      *string           `json:"chave,omitempty"`
	Status     string            `json:"status"`
	Grupo      string            `json:"grupo"`
	ARowID     *int64            `json:"a_row_id,omitempty"`
	BRowID     *int64            `json:"b_row_id,omitempty"`
	AValues    string            `json:"a_values,omitempty"`
	BValues    string            `json:"b_values,omitempty"`
	ValueA     float64           `json:"value_a"`
	ValueB     float64           `json:"value_b"`
	Difference float64           `json:"difference"`
	KeyValues  map[string]string `json:"key_values,omitempty"` // CHAVE_n -> composite value
}

// Validate enforces the one-sided row rule and the status domain.
func (e *ResultEntry) Validate() error {
	if (e.ARowID == nil) == (e.BRowID == nil) {
		return fmt.Errorf("result entry must reference exactly one of a_row_id, b_row_id")
	}
	switch e.Status {
	case StatusConciliado, StatusComDiferenca, StatusNaoEncontrado, StatusNaoAvaliado:
	default:
		return fmt.Errorf("invalid result status: %s", e.Status)
	}
	if e.Grupo == "" {
		return fmt.Errorf("grupo is required")
	}
	return nil
}

// JobFilter narrows job listings.
type JobFilter struct {
	Status       JobStatus
	CreatedAfter time.Time
	Limit        int
}
