package config

import (
	"os"
	"strconv"
	"strings"
)

// Pragmas holds the SQLite tuning applied to every pooled connection. The
// environment variable names are exact (no CONCILIA_ prefix); they are a
// contract shared with the hosting application.
type Pragmas struct {
	JournalMode   string // SQLITE_JOURNAL_MODE
	Synchronous   string // SQLITE_SYNCHRONOUS
	CacheSize     int    // SQLITE_CACHE_SIZE (negative = KiB)
	TempStore     string // SQLITE_TEMP_STORE
	BusyTimeoutMS int    // SQLITE_BUSY_TIMEOUT
}

// DefaultPragmas returns the tuning used when no environment override is set.
func DefaultPragmas() Pragmas {
	return Pragmas{
		JournalMode:   "WAL",
		Synchronous:   "NORMAL",
		CacheSize:     -2000,
		TempStore:     "MEMORY",
		BusyTimeoutMS: 5000,
	}
}

var (
	journalModes = map[string]bool{
		"DELETE": true, "TRUNCATE": true, "PERSIST": true,
		"MEMORY": true, "WAL": true, "OFF": true,
	}
	synchronousModes = map[string]bool{
		"OFF": true, "NORMAL": true, "FULL": true, "EXTRA": true,
	}
	tempStoreModes = map[string]bool{
		"DEFAULT": true, "FILE": true, "MEMORY": true,
	}
)

// PragmasFromEnv reads the SQLITE_* environment variables and returns the
// resulting tuning. Unset, empty or unrecognised values fall back to the
// defaults; pragma values are whitelisted because they end up interpolated
// into the connection string.
func PragmasFromEnv() Pragmas {
	p := DefaultPragmas()

	if raw := strings.ToUpper(strings.TrimSpace(os.Getenv("SQLITE_JOURNAL_MODE"))); journalModes[raw] {
		p.JournalMode = raw
	}
	if raw := strings.ToUpper(strings.TrimSpace(os.Getenv("SQLITE_SYNCHRONOUS"))); synchronousModes[raw] {
		p.Synchronous = raw
	}
	if raw := strings.TrimSpace(os.Getenv("SQLITE_CACHE_SIZE")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			p.CacheSize = n
		}
	}
	if raw := strings.ToUpper(strings.TrimSpace(os.Getenv("SQLITE_TEMP_STORE"))); tempStoreModes[raw] {
		p.TempStore = raw
	}
	if raw := strings.TrimSpace(os.Getenv("SQLITE_BUSY_TIMEOUT")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			p.BusyTimeoutMS = n
		}
	}

	return p
}
