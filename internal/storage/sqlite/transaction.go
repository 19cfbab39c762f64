package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/concilia/concilia/internal/storage"
	"github.com/concilia/concilia/internal/types"
)

// Verify sqliteTxStorage implements storage.Transaction at compile time
var _ storage.Transaction = (*sqliteTxStorage)(nil)

// sqliteTxStorage implements the storage.Transaction interface for SQLite.
// It wraps a dedicated database connection with an active transaction.
type sqliteTxStorage struct {
	conn   *sql.Conn      // Dedicated connection for the transaction
	parent *SQLiteStorage // Parent storage for accessing shared state
}

// beginImmediateWithRetry starts a BEGIN IMMEDIATE transaction on conn,
// retrying on SQLITE_BUSY with doubling sleeps. busy_timeout covers lock
// waits inside a statement, but BEGIN IMMEDIATE can still fail immediately
// when another connection holds the write lock at submission time.
func beginImmediateWithRetry(ctx context.Context, conn *sql.Conn, attempts int, initialDelay time.Duration) error {
	delay := initialDelay
	var err error
	for i := 0; i < attempts; i++ {
		_, err = conn.ExecContext(ctx, "BEGIN IMMEDIATE")
		if err == nil {
			return nil
		}
		if !strings.Contains(strings.ToLower(err.Error()), "database is locked") {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

// RunInTransaction executes a function within a database transaction.
//
// The transaction uses BEGIN IMMEDIATE to acquire a write lock early,
// preventing deadlocks when multiple goroutines compete for the same lock.
//
// Transaction lifecycle:
//  1. Acquire dedicated connection from pool
//  2. Begin IMMEDIATE transaction with retry on SQLITE_BUSY
//  3. Execute user function with Transaction interface
//  4. On success: COMMIT
//  5. On error or panic: ROLLBACK
//
// Panic safety: If the callback panics, the transaction is rolled back
// and the panic is re-raised to the caller.
func (s *SQLiteStorage) RunInTransaction(ctx context.Context, fn func(tx storage.Transaction) error) error {
	// Acquire a dedicated connection for the transaction.
	// This ensures all operations in the transaction use the same connection.
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection for transaction: %w", err)
	}
	defer func() { _ = conn.Close() }()

	// Start IMMEDIATE transaction to acquire write lock early.
	if err := beginImmediateWithRetry(ctx, conn, 5, 10*time.Millisecond); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	// Track commit state for cleanup
	committed := false
	defer func() {
		if !committed {
			// Use background context to ensure rollback completes even if ctx is cancelled
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	// Handle panics: rollback and re-raise
	defer func() {
		if r := recover(); r != nil {
			// Rollback will happen via the committed=false check above
			panic(r) // Re-raise the panic
		}
	}()

	// Create transaction wrapper
	txStorage := &sqliteTxStorage{
		conn:   conn,
		parent: s,
	}

	// Execute user function
	if err := fn(txStorage); err != nil {
		return err // Rollback happens in defer
	}

	// Commit the transaction
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

// AddMark inserts a mark within the transaction, guarded against duplicates.
func (t *sqliteTxStorage) AddMark(ctx context.Context, mark *types.Mark) error {
	_, err := insertMark(ctx, t.conn, mark)
	return err
}

// AddMarks inserts marks within the transaction, returning how many landed.
func (t *sqliteTxStorage) AddMarks(ctx context.Context, marks []*types.Mark) (int, error) {
	return insertMarks(ctx, t.conn, marks)
}

// InsertResults writes result entries within the transaction.
func (t *sqliteTxStorage) InsertResults(ctx context.Context, jobID int64, keyIDs []string, entries []*types.ResultEntry) error {
	return insertResults(ctx, t.conn, jobID, keyIDs, entries)
}

// UpdateJobProgress updates pipeline stage fields within the transaction.
func (t *sqliteTxStorage) UpdateJobProgress(ctx context.Context, id int64, stage string, progress int, label string) error {
	return updateJobProgress(ctx, t.conn, id, stage, progress, label)
}
