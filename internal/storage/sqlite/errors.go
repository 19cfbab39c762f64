package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/concilia/concilia/internal/storage"
)

// wrapDBError wraps a database error with operation context
// It converts sql.ErrNoRows to storage.ErrNotFound for consistent error handling
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// wrapDBErrorf wraps a database error with formatted operation context
// It converts sql.ErrNoRows to storage.ErrNotFound for consistent error handling
func wrapDBErrorf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	op := fmt.Sprintf(format, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// isNotFound checks if an error is or wraps storage.ErrNotFound
func isNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}
