// Package storage provides shared types for reconciliation storage.
//
// The concrete storage implementation lives in the sqlite sub-package.
// This package holds interface and value types that are referenced by
// both the sqlite implementation and its consumers (cmd/concilia, the
// pipeline, the worker).
package storage

import (
	"context"
	"errors"

	"github.com/concilia/concilia/internal/types"
)

// ErrAlreadyClaimed is returned when attempting to claim a job that another
// worker claimed first.
var ErrAlreadyClaimed = errors.New("job already claimed")

// ErrNotFound is returned when a requested entity does not exist in the database.
var ErrNotFound = errors.New("not found")

// ErrNotInitialized is returned when the database has not been initialized
// (schema missing or migrations never ran).
var ErrNotInitialized = errors.New("database not initialized")

// ErrTerminalJob is returned when a lifecycle transition targets a job that
// already reached DONE or FAILED.
var ErrTerminalJob = errors.New("job already in a terminal state")

// Storage is the interface satisfied by *sqlite.SQLiteStorage.
// Consumers depend on this interface rather than on the concrete type so that
// alternative implementations (mocks, proxies, etc.) can be substituted.
type Storage interface {
	// Bases
	CreateBase(ctx context.Context, base *types.Base, columns []types.ColumnInfo) error
	GetBase(ctx context.Context, id int64) (*types.Base, error)
	ListBases(ctx context.Context) ([]*types.Base, error)
	DeleteBase(ctx context.Context, id int64) error
	BaseColumns(ctx context.Context, baseID int64) ([]types.ColumnInfo, error)
	CountBaseRows(ctx context.Context, baseID int64) (int64, error)
	InsertBaseRows(ctx context.Context, baseID int64, columns []string, rows [][]string) (int64, error)

	// Reconciliation configs
	CreateConfigConciliacao(ctx context.Context, cfg *types.ConfigConciliacao) error
	GetConfigConciliacao(ctx context.Context, id int64) (*types.ConfigConciliacao, error)
	ListConfigsConciliacao(ctx context.Context) ([]*types.ConfigConciliacao, error)
	CreateConfigEstorno(ctx context.Context, cfg *types.ConfigEstorno) error
	GetConfigEstorno(ctx context.Context, id int64) (*types.ConfigEstorno, error)
	CreateConfigCancelamento(ctx context.Context, cfg *types.ConfigCancelamento) error
	GetConfigCancelamento(ctx context.Context, id int64) (*types.ConfigCancelamento, error)

	// Jobs
	CreateJob(ctx context.Context, job *types.Job) error
	GetJob(ctx context.Context, id int64) (*types.Job, error)
	ListJobs(ctx context.Context, filter types.JobFilter, sort []types.JobSortOption) ([]*types.Job, error)
	ClaimNextJob(ctx context.Context) (*types.Job, error)
	UpdateJobProgress(ctx context.Context, id int64, stage string, progress int, label string) error
	CompleteJob(ctx context.Context, id int64) error
	FailJob(ctx context.Context, id int64, errMsg string) error
	FailJobIfRunning(ctx context.Context, id int64, errMsg string) (bool, error)
	RequeueJob(ctx context.Context, id int64) error
	UpdateJobExport(ctx context.Context, id int64, status string, progress int, file string) error

	// Marks
	AddMark(ctx context.Context, mark *types.Mark) error
	AddMarks(ctx context.Context, marks []*types.Mark) (int, error)
	GetMarks(ctx context.Context, baseID int64) ([]*types.Mark, error)
	DeleteMark(ctx context.Context, id int64) error

	// Matching reads and base mutations used by the pipeline
	NormalizeNulls(ctx context.Context, baseID int64, numericCols, textCols []string) (int64, error)
	ListRowIDs(ctx context.Context, baseID int64) ([]int64, error)
	LoadRowsByID(ctx context.Context, baseID int64, cols []string, ids []int64) (map[int64]*types.BaseRow, error)
	JoinPairs(ctx context.Context, baseAID, baseBID int64, aCols, bCols []string) ([]*types.JoinPair, error)
	LoadMarkedRows(ctx context.Context, baseID int64, amountCol string) ([]*types.MarkedRow, error)
	EstornoCandidates(ctx context.Context, baseID int64, cfg *types.ConfigEstorno) ([]*types.EstornoPair, error)
	MarkCancelledRows(ctx context.Context, baseID int64, cfg *types.ConfigCancelamento) (int64, error)

	// Key column indexes
	EnsureKeyIndexes(ctx context.Context, baseID int64, cols []string) ([]string, error)

	// Results
	EnsureResultTable(ctx context.Context, jobID int64, keyIDs []string) error
	DropResultTable(ctx context.Context, jobID int64) error
	InsertResults(ctx context.Context, jobID int64, keyIDs []string, entries []*types.ResultEntry) error
	ResultSummary(ctx context.Context, jobID int64) (map[string]int64, error)
	StreamExportRows(ctx context.Context, jobID int64, baseID int64, sideA bool, fn func(columns, values []string) error) error

	// Maintenance
	Statistics(ctx context.Context) (*types.Statistics, error)
	IntegrityCheck(ctx context.Context) (string, error)
	ListResultTables(ctx context.Context) ([]int64, error)
	Analyze(ctx context.Context) error

	// Transactions
	RunInTransaction(ctx context.Context, fn func(tx Transaction) error) error

	// Lifecycle
	Close() error
}

// Transaction provides atomic multi-operation support within a single database
// transaction.
//
// The Transaction interface exposes the subset of storage methods that the
// pipeline groups atomically: estorno marks land pairwise or not at all, and
// each result batch commits as a unit.
//
//   - All operations within the transaction share the same connection
//   - Changes are not visible to other connections until commit
//   - If any operation returns an error, the transaction is rolled back
//   - If the callback function panics, the transaction is rolled back
//   - On successful return from the callback, the transaction is committed
type Transaction interface {
	AddMark(ctx context.Context, mark *types.Mark) error
	AddMarks(ctx context.Context, marks []*types.Mark) (int, error)
	InsertResults(ctx context.Context, jobID int64, keyIDs []string, entries []*types.ResultEntry) error
	UpdateJobProgress(ctx context.Context, id int64, stage string, progress int, label string) error
}
