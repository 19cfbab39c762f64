package sqlite

import (
	"database/sql"
	"fmt"
)

const schema = `
-- Base registry. Row data lives in per-base tables named base_<id>,
-- created when the base is registered (see bases.go).
CREATE TABLE IF NOT EXISTS bases (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    nome TEXT NOT NULL,
    tipo TEXT NOT NULL CHECK(tipo IN ('CONTABIL', 'FISCAL')),
    tabela_sqlite TEXT NOT NULL UNIQUE,
    subtype TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_bases_tipo ON bases(tipo);

-- Reconciliation configs. Chaves columns hold the JSON mapping
-- CHAVE_n -> [columns], object key order significant.
CREATE TABLE IF NOT EXISTS config_conciliacao (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    nome TEXT NOT NULL DEFAULT '',
    base_contabil_id INTEGER NOT NULL,
    base_fiscal_id INTEGER NOT NULL,
    chaves_contabil TEXT NOT NULL DEFAULT '{}',
    chaves_fiscal TEXT NOT NULL DEFAULT '{}',
    coluna_conciliacao_contabil TEXT NOT NULL,
    coluna_conciliacao_fiscal TEXT NOT NULL,
    inverter_sinal_fiscal INTEGER NOT NULL DEFAULT 0,
    limite_diferenca_imaterial REAL NOT NULL DEFAULT 0 CHECK(limite_diferenca_imaterial >= 0),
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (base_contabil_id) REFERENCES bases(id),
    FOREIGN KEY (base_fiscal_id) REFERENCES bases(id)
);

CREATE INDEX IF NOT EXISTS idx_config_conciliacao_bases ON config_conciliacao(base_contabil_id, base_fiscal_id);

-- Reversal-pair configs (estorno). coluna_a/coluna_b are the cross-matched
-- document columns, coluna_soma the amount summed per pair.
CREATE TABLE IF NOT EXISTS config_estorno (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    nome TEXT NOT NULL DEFAULT '',
    base_id INTEGER NOT NULL,
    coluna_a TEXT NOT NULL,
    coluna_b TEXT NOT NULL,
    coluna_soma TEXT NOT NULL,
    limite_zero REAL NOT NULL DEFAULT 0 CHECK(limite_zero >= 0),
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (base_id) REFERENCES bases(id)
);

-- Cancelled-document configs (cancelamento).
CREATE TABLE IF NOT EXISTS config_cancelamento (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    nome TEXT NOT NULL DEFAULT '',
    base_id INTEGER NOT NULL,
    coluna_indicador TEXT NOT NULL,
    valor_cancelado TEXT NOT NULL,
    valor_nao_cancelado TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (base_id) REFERENCES bases(id)
);

-- Job queue and lifecycle. PENDING -> RUNNING is an atomic claim;
-- DONE and FAILED are terminal.
CREATE TABLE IF NOT EXISTS jobs_conciliacao (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    nome TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'PENDING' CHECK(status IN ('PENDING', 'RUNNING', 'DONE', 'FAILED')),
    config_conciliacao_id INTEGER NOT NULL,
    config_estorno_id INTEGER,
    config_cancelamento_id INTEGER,
    base_contabil_id INTEGER,
    base_fiscal_id INTEGER,
    pipeline_stage TEXT NOT NULL DEFAULT 'queued',
    pipeline_progress INTEGER NOT NULL DEFAULT 0 CHECK(pipeline_progress >= 0 AND pipeline_progress <= 100),
    pipeline_stage_label TEXT NOT NULL DEFAULT '',
    erro TEXT,
    arquivo_exportado TEXT,
    export_status TEXT,
    export_progress INTEGER NOT NULL DEFAULT 0,
    -- Snapshot columns written by the API layer for display; the sibling
    -- attribution pipeline shares this table. The core never reads them.
    config_estorno_nome TEXT,
    config_cancelamento_nome TEXT,
    config_mapeamento_id INTEGER,
    config_mapeamento_nome TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (config_conciliacao_id) REFERENCES config_conciliacao(id),
    FOREIGN KEY (config_estorno_id) REFERENCES config_estorno(id),
    FOREIGN KEY (config_cancelamento_id) REFERENCES config_cancelamento(id),
    FOREIGN KEY (base_contabil_id) REFERENCES bases(id),
    FOREIGN KEY (base_fiscal_id) REFERENCES bases(id)
);

CREATE INDEX IF NOT EXISTS idx_jobs_conciliacao_status ON jobs_conciliacao(status, created_at);
CREATE INDEX IF NOT EXISTS idx_jobs_conciliacao_created_at ON jobs_conciliacao(created_at);

-- Pre-reconciliation row marks (estorno pairs, cancelled documents).
-- At most one mark per (base_id, row_id, grupo); the unique index is kept
-- in migration 001 for databases created before it existed.
CREATE TABLE IF NOT EXISTS conciliacao_marks (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    base_id INTEGER NOT NULL,
    row_id INTEGER NOT NULL,
    status TEXT NOT NULL,
    grupo TEXT NOT NULL,
    chave TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (base_id) REFERENCES bases(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_marks_base ON conciliacao_marks(base_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_marks_base_row_grupo ON conciliacao_marks(base_id, row_id, grupo);
`

// requiredTables are the fixed-schema tables every initialized database has.
// Per-base and per-job tables are dynamic and not listed here.
var requiredTables = []string{
	"bases",
	"config_conciliacao",
	"config_estorno",
	"config_cancelamento",
	"jobs_conciliacao",
	"conciliacao_marks",
}

// schemaProbes select every column the storage layer reads or writes.
// LIMIT 0 keeps them free: a missing table or column fails the prepare,
// catching databases from incompatible versions before any operation runs.
var schemaProbes = []string{
	`SELECT id, nome, tipo, tabela_sqlite, subtype, created_at, updated_at FROM bases LIMIT 0`,
	`SELECT id, nome, base_contabil_id, base_fiscal_id, chaves_contabil, chaves_fiscal,
	        coluna_conciliacao_contabil, coluna_conciliacao_fiscal, inverter_sinal_fiscal,
	        limite_diferenca_imaterial, created_at, updated_at FROM config_conciliacao LIMIT 0`,
	`SELECT id, nome, base_id, coluna_a, coluna_b, coluna_soma, limite_zero, created_at, updated_at
	   FROM config_estorno LIMIT 0`,
	`SELECT id, nome, base_id, coluna_indicador, valor_cancelado, valor_nao_cancelado, created_at, updated_at
	   FROM config_cancelamento LIMIT 0`,
	`SELECT id, nome, status, config_conciliacao_id, config_estorno_id, config_cancelamento_id,
	        base_contabil_id, base_fiscal_id, pipeline_stage, pipeline_progress, pipeline_stage_label,
	        erro, arquivo_exportado, export_status, export_progress,
	        config_estorno_nome, config_cancelamento_nome, config_mapeamento_id, config_mapeamento_nome,
	        created_at, updated_at FROM jobs_conciliacao LIMIT 0`,
	`SELECT id, base_id, row_id, status, grupo, chave, created_at FROM conciliacao_marks LIMIT 0`,
}

// verifySchemaCompatibility probes every column the code depends on.
// Returns an error naming the first failing probe so the retry path in
// New can re-run migrations before giving up.
func verifySchemaCompatibility(db *sql.DB) error {
	for _, probe := range schemaProbes {
		if _, err := db.Exec(probe); err != nil {
			return fmt.Errorf("schema probe failed: %w", err)
		}
	}
	return nil
}

// TableExists reports whether a table with the given name exists.
func TableExists(db *sql.DB, name string) (bool, error) {
	var n int
	err := db.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check table %s: %w", name, err)
	}
	return n > 0, nil
}

// RequiredTables returns the fixed table names an initialized database
// must contain. Doctor uses this for its presence checks.
func RequiredTables() []string {
	out := make([]string, len(requiredTables))
	copy(out, requiredTables)
	return out
}
