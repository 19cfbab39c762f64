// Package sqlite implements the storage interface using SQLite.
//
// This package is split into focused files:
//
// Core storage components:
//   - store.go: SQLiteStorage struct, New() constructor, initialization logic,
//     retry helpers, and database utility methods (Close, Path, IsClosed,
//     UnderlyingDB, etc.)
//   - bases.go: Base registry and per-base data tables (CreateBase, GetBase,
//     InsertBaseRows, BaseColumns, ...)
//   - configs.go: Reconciliation, reversal and cancellation config records
//   - jobs.go: Job lifecycle (CreateJob, ClaimNextJob, progress and terminal
//     status updates, export bookkeeping)
//   - marks.go: Pre-reconciliation row marks with guarded inserts
//   - matching.go: Base-table reads and mutations used by the pipeline
//     (NormalizeNulls, JoinPairs, LoadRowsByID, EstornoCandidates,
//     MarkCancelledRows)
//   - results.go: Per-job result tables (EnsureResultTable, InsertResults,
//     ResultSummary, StreamExportRows)
//   - indexes.go: Key-column index creation on base tables
//
// Supporting components:
//   - schema.go: Database schema definitions and the compatibility probe
//   - migrations.go: Schema migration framework
//   - transaction.go: RunInTransaction and the transaction-scoped storage view
//   - maintenance.go: Statistics, IntegrityCheck, ListResultTables, Analyze
//   - errors.go: Sentinel wrapping helpers
//   - util.go: Identifier quoting and dynamic table name builders
package sqlite
