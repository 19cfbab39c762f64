package storage

import (
	"fmt"
	"strings"

	"github.com/concilia/concilia/internal/config"
)

// SQLiteConnString builds a SQLite connection string carrying the full pragma
// tuning. Pragmas ride in the URI so every pooled connection gets them, not
// just the first one opened.
//
// Includes busy_timeout (prevents "database is locked" under concurrency),
// journal_mode/synchronous/cache_size/temp_store from the SQLITE_* env
// contract, and foreign_keys. If readOnly is true, the connection is opened
// in read-only mode. If path is already a file: URI, pragmas are appended
// only if absent.
func SQLiteConnString(path string, p config.Pragmas, readOnly bool) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}

	pragmas := []string{
		fmt.Sprintf("_pragma=busy_timeout(%d)", p.BusyTimeoutMS),
		fmt.Sprintf("_pragma=journal_mode(%s)", p.JournalMode),
		fmt.Sprintf("_pragma=synchronous(%s)", p.Synchronous),
		fmt.Sprintf("_pragma=cache_size(%d)", p.CacheSize),
		fmt.Sprintf("_pragma=temp_store(%s)", p.TempStore),
		"_pragma=foreign_keys(ON)",
	}

	if strings.HasPrefix(path, "file:") {
		conn := path
		sep := "?"
		if strings.Contains(conn, "?") {
			sep = "&"
		}
		if readOnly && !strings.Contains(conn, "mode=") {
			conn += sep + "mode=ro"
			sep = "&"
		}
		for _, pragma := range pragmas {
			name := pragma[:strings.Index(pragma, "(")]
			if !strings.Contains(conn, name) {
				conn += sep + pragma
				sep = "&"
			}
		}
		if !strings.Contains(conn, "_time_format=") {
			conn += sep + "_time_format=sqlite"
		}
		return conn
	}

	params := strings.Join(pragmas, "&") + "&_time_format=sqlite"
	if readOnly {
		return fmt.Sprintf("file:%s?mode=ro&%s", path, params)
	}
	return fmt.Sprintf("file:%s?%s", path, params)
}

// MemoryConnString returns the connection string for a shared in-memory
// database, used by tests and ephemeral runs. The named identifier plus
// cache=shared keeps every pool connection on the same database; WAL does
// not apply to in-memory databases, so journal_mode is omitted.
func MemoryConnString(p config.Pragmas) string {
	pragmas := []string{
		fmt.Sprintf("_pragma=busy_timeout(%d)", p.BusyTimeoutMS),
		fmt.Sprintf("_pragma=synchronous(%s)", p.Synchronous),
		fmt.Sprintf("_pragma=cache_size(%d)", p.CacheSize),
		"_pragma=foreign_keys(ON)",
	}
	return "file:memdb?mode=memory&cache=shared&" + strings.Join(pragmas, "&") + "&_time_format=sqlite"
}
