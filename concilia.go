// Package concilia provides a minimal public API for driving the
// reconciliation engine programmatically.
//
// Most integrations should go through the concilia CLI or direct SQL
// queries against the database. This package exports only the types and
// the storage constructor needed to submit jobs and read results from Go.
package concilia

import (
	"context"

	"github.com/concilia/concilia/internal/storage"
	"github.com/concilia/concilia/internal/storage/sqlite"
	"github.com/concilia/concilia/internal/types"
)

// Core domain types
type (
	Base               = types.Base
	BaseTipo           = types.BaseTipo
	ChavesMap          = types.ChavesMap
	ConfigConciliacao  = types.ConfigConciliacao
	ConfigEstorno      = types.ConfigEstorno
	ConfigCancelamento = types.ConfigCancelamento
	Job                = types.Job
	JobStatus          = types.JobStatus
	JobFilter          = types.JobFilter
	Mark               = types.Mark
	ResultEntry        = types.ResultEntry
)

// Base tipo constants
const (
	TipoContabil = types.TipoContabil
	TipoFiscal   = types.TipoFiscal
)

// Job status constants
const (
	JobPending = types.JobPending
	JobRunning = types.JobRunning
	JobDone    = types.JobDone
	JobFailed  = types.JobFailed
)

// Result status constants
const (
	StatusConciliado    = types.StatusConciliado
	StatusComDiferenca  = types.StatusComDiferenca
	StatusNaoEncontrado = types.StatusNaoEncontrado
	StatusNaoAvaliado   = types.StatusNaoAvaliado
)

// Storage is the interface every command and pipeline step works against.
type Storage = storage.Storage

// ErrNotFound is returned by lookups whose target row does not exist.
var ErrNotFound = storage.ErrNotFound

// NewSQLiteStorage opens (creating and migrating if needed) a concilia
// database for programmatic access.
func NewSQLiteStorage(ctx context.Context, dbPath string) (Storage, error) {
	return sqlite.New(ctx, dbPath)
}
