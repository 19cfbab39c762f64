// Package sqlite implements the storage interface using SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	// Import SQLite driver
	sqlite3 "github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/tetratelabs/wazero"

	"github.com/concilia/concilia/internal/config"
	"github.com/concilia/concilia/internal/storage"
)

// Verify SQLiteStorage implements storage.Storage at compile time
var _ storage.Storage = (*SQLiteStorage)(nil)

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db      *sql.DB
	dbPath  string
	pragmas config.Pragmas
	closed  atomic.Bool // Tracks whether Close() has been called
}

// setupWASMCache configures WASM compilation caching to reduce SQLite startup time.
// Returns the cache directory path (empty string if using in-memory cache).
//
// Cache behavior:
//   - Location: ~/.cache/concilia/wasm/ (platform-specific via os.UserCacheDir)
//   - Version management: wazero automatically keys cache by its version
//   - Cleanup: Old versions remain harmless (~5-10MB each); manual cleanup if needed
//   - Fallback: Uses in-memory cache if filesystem cache creation fails
//
// Performance impact:
//   - First run: ~220ms (compile + cache)
//   - Subsequent runs: ~20ms (load from cache)
func setupWASMCache() string {
	cacheDir := ""
	if userCache, err := os.UserCacheDir(); err == nil {
		cacheDir = filepath.Join(userCache, "concilia", "wasm")
	}

	var cache wazero.CompilationCache
	if cacheDir != "" {
		// Try file-system cache first (persistent across runs)
		if c, err := wazero.NewCompilationCacheWithDir(cacheDir); err == nil {
			cache = c
		}
	}

	// Fallback to in-memory cache if dir creation failed
	if cache == nil {
		cache = wazero.NewCompilationCache()
		cacheDir = "" // Indicate in-memory fallback
	}

	// Configure go-sqlite3's wazero runtime to use the cache
	sqlite3.RuntimeConfig = wazero.NewRuntimeConfig().WithCompilationCache(cache)

	return cacheDir
}

func init() {
	// Setup WASM compilation cache to avoid 220ms JIT compilation overhead on every process start
	_ = setupWASMCache()
}

// New creates a new SQLite storage backend. Tuning pragmas are read from the
// SQLITE_* environment once; see config.PragmasFromEnv.
func New(ctx context.Context, path string) (*SQLiteStorage, error) {
	return NewWithPragmas(ctx, path, config.PragmasFromEnv())
}

// NewWithPragmas creates a new SQLite storage backend with explicit pragma
// tuning. Tests use this to pin settings independent of the environment.
func NewWithPragmas(ctx context.Context, path string, pragmas config.Pragmas) (*SQLiteStorage, error) {
	// Build connection string with proper URI syntax.
	// For :memory: databases, use shared cache so multiple connections see the same data.
	var connStr string
	if path == ":memory:" {
		connStr = storage.MemoryConnString(pragmas)
	} else if strings.HasPrefix(path, "file:") {
		connStr = storage.SQLiteConnString(path, pragmas, false)
	} else {
		// Ensure directory exists for file-based databases
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		connStr = storage.SQLiteConnString(path, pragmas, false)
	}

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// For all in-memory databases (including file::memory:), force single connection.
	// SQLite's in-memory databases are isolated per connection by default.
	// Without this, different connections in the pool can't see each other's writes.
	isInMemory := path == ":memory:" ||
		(strings.HasPrefix(path, "file:") && strings.Contains(path, "mode=memory"))
	if isInMemory {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		// For file-based databases, limit the connection pool to prevent
		// connection exhaustion under concurrent load. SQLite WAL mode supports
		// 1 writer + unlimited readers, but we limit to prevent goroutine
		// pile-up on write lock contention.
		maxConns := runtime.NumCPU() + 1 // 1 writer + N readers
		db.SetMaxOpenConns(maxConns)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(0) // SQLite doesn't need connection recycling
	}

	// For file-based databases, set the journal mode once after opening.
	// The pragma also rides the connection string; this guards against a
	// pre-existing database opened earlier in a different mode.
	if !isInMemory {
		if _, err := db.Exec("PRAGMA journal_mode=" + pragmas.JournalMode); err != nil {
			return nil, fmt.Errorf("failed to set journal mode: %w", err)
		}
	}

	// Test connection
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Initialize schema
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	// Run all migrations
	if err := RunMigrations(db); err != nil {
		return nil, err
	}

	// Verify schema compatibility after migrations.
	// First attempt
	if err := verifySchemaCompatibility(db); err != nil {
		// Schema probe failed - retry migrations once
		if retryErr := RunMigrations(db); retryErr != nil {
			return nil, fmt.Errorf("migration retry failed after schema probe failure: %w (original: %w)", retryErr, err)
		}

		// Probe again after retry
		if err := verifySchemaCompatibility(db); err != nil {
			// Still failing - return fatal error with clear message
			return nil, fmt.Errorf("schema probe failed after migration retry: %w. Database may be corrupted or from incompatible version. Run 'concilia doctor' to diagnose", err)
		}
	}

	// Convert to absolute path for consistency (but keep :memory: as-is)
	absPath := path
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		var err error
		absPath, err = filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to get absolute path: %w", err)
		}
	}

	return &SQLiteStorage{
		db:      db,
		dbPath:  absPath,
		pragmas: pragmas,
	}, nil
}

// Close closes the database connection.
// It checkpoints the WAL to ensure all writes are flushed to the main database file.
func (s *SQLiteStorage) Close() error {
	s.closed.Store(true)
	// Checkpoint WAL to ensure all writes are persisted to the main database file.
	// Without this, writes may be stranded in the WAL and lost between CLI invocations.
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// Path returns the absolute path to the database file
func (s *SQLiteStorage) Path() string {
	return s.dbPath
}

// IsClosed returns true if Close() has been called on this storage
func (s *SQLiteStorage) IsClosed() bool {
	return s.closed.Load()
}

// UnderlyingDB returns the underlying *sql.DB connection pool.
//
// Callers that need raw SQL access (the export writer streams joined rows,
// doctor probes table presence) share the pool and its transaction isolation
// with the core operations.
//
// Do NOT call Close() on the returned *sql.DB; the SQLiteStorage owns the
// connection lifecycle. Do not change pool sizing or PRAGMAs either; the
// store has already configured both.
func (s *SQLiteStorage) UnderlyingDB() *sql.DB {
	return s.db
}

// UnderlyingConn returns a single connection from the pool for scoped use.
//
// Useful for one-time DDL or operations that need connection-level state.
// The caller MUST close the connection when done:
//
//	conn, err := store.UnderlyingConn(ctx)
//	if err != nil {
//	    return err
//	}
//	defer conn.Close()
//
// For general queries and transactions, prefer UnderlyingDB() which manages
// the connection pool automatically.
func (s *SQLiteStorage) UnderlyingConn(ctx context.Context) (*sql.Conn, error) {
	return s.db.Conn(ctx)
}

// CheckpointWAL checkpoints the WAL file to flush changes to the main database file.
// In WAL mode, writes go to the -wal file, leaving the main .db file untouched.
// Checkpointing:
// - Ensures data persistence by flushing WAL to main database
// - Reduces WAL file size
// - Makes database safe for backup/copy operations
func (s *SQLiteStorage) CheckpointWAL(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(FULL)")
	return err
}

// Write retry configuration.
// SQLite WAL admits a single writer; when several processes (CLI + worker)
// contend for the write lock, busy_timeout covers short waits and this
// backoff covers the rest.
const writeRetryMaxElapsed = 10 * time.Second

func newWriteRetryBackoff() backoff.BackOff {
	// BackOff implementations are stateful; always return a fresh instance.
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxElapsedTime = writeRetryMaxElapsed
	return bo
}

// isRetryableError returns true if the error is a transient lock error
// that a later attempt can succeed on.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "database is locked") {
		return true
	}
	if strings.Contains(errStr, "database table is locked") {
		return true
	}
	// SQLITE_BUSY surfaced by the driver without the message text
	if strings.Contains(errStr, "sqlite_busy") {
		return true
	}
	return false
}

// withRetry executes an operation with retry for transient lock errors.
func (s *SQLiteStorage) withRetry(ctx context.Context, op func() error) error {
	bo := newWriteRetryBackoff()
	return backoff.Retry(func() error {
		err := op()
		if err != nil && isRetryableError(err) {
			return err // Retryable - backoff will retry
		}
		if err != nil {
			return backoff.Permanent(err) // Non-retryable - stop immediately
		}
		return nil
	}, backoff.WithContext(bo, ctx))
}

// execContext wraps s.db.ExecContext with retry for transient lock errors.
func (s *SQLiteStorage) execContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var result sql.Result
	err := s.withRetry(ctx, func() error {
		var execErr error
		result, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	})
	return result, err
}
