package config

import (
	"os"
	"runtime"
	"strconv"
	"time"
)

// WorkerSettings holds the polling and parallelism tuning for the job worker.
// Like the SQLite pragmas, these use exact-name environment variables.
type WorkerSettings struct {
	PollInterval   time.Duration // WORKER_POLL_SECONDS (seconds, min 1)
	Threshold      int           // WORKER_CONCILIACAO_THRESHOLD (rows)
	PoolSize       int           // WORKER_CONCILIACAO_POOL_SIZE (goroutines, min 1)
	BatchSize      int           // WORKER_CONCILIACAO_BATCH_SIZE (groups per unit)
	TaskTimeout    time.Duration // WORKER_TASK_TIMEOUT (milliseconds)
	ThreadsEnabled bool          // WORKER_THREADS_ENABLED
}

// DefaultWorkerSettings returns the tuning used when no environment override
// is set. Pool size and threads-enabled scale with the host CPU count.
func DefaultWorkerSettings() WorkerSettings {
	cpus := runtime.NumCPU()
	poolSize := cpus - 1
	if poolSize < 1 {
		poolSize = 1
	}
	return WorkerSettings{
		PollInterval:   5 * time.Second,
		Threshold:      500,
		PoolSize:       poolSize,
		BatchSize:      1000,
		TaskTimeout:    300000 * time.Millisecond,
		ThreadsEnabled: cpus > 2,
	}
}

// WorkerSettingsFromEnv reads the WORKER_* environment variables. Values that
// fail to parse keep their defaults; poll interval clamps to 1s and the pool,
// batch and threshold sizes clamp to their minimums.
func WorkerSettingsFromEnv() WorkerSettings {
	s := DefaultWorkerSettings()

	if n, ok := envInt("WORKER_POLL_SECONDS"); ok {
		if n < 1 {
			n = 1
		}
		s.PollInterval = time.Duration(n) * time.Second
	}
	if n, ok := envInt("WORKER_CONCILIACAO_THRESHOLD"); ok && n >= 0 {
		s.Threshold = n
	}
	if n, ok := envInt("WORKER_CONCILIACAO_POOL_SIZE"); ok {
		if n < 1 {
			n = 1
		}
		s.PoolSize = n
	}
	if n, ok := envInt("WORKER_CONCILIACAO_BATCH_SIZE"); ok {
		if n < 1 {
			n = 1
		}
		s.BatchSize = n
	}
	if n, ok := envInt("WORKER_TASK_TIMEOUT"); ok && n > 0 {
		s.TaskTimeout = time.Duration(n) * time.Millisecond
	}
	if raw := os.Getenv("WORKER_THREADS_ENABLED"); raw != "" {
		if b, err := strconv.ParseBool(raw); err == nil {
			s.ThreadsEnabled = b
		}
	}

	return s
}

func envInt(name string) (int, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}
