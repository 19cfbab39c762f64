package config

import (
	"runtime"
	"testing"
	"time"
)

func clearWorkerEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"WORKER_POLL_SECONDS", "WORKER_CONCILIACAO_THRESHOLD",
		"WORKER_CONCILIACAO_POOL_SIZE", "WORKER_CONCILIACAO_BATCH_SIZE",
		"WORKER_TASK_TIMEOUT", "WORKER_THREADS_ENABLED",
	} {
		t.Setenv(name, "")
	}
}

func TestWorkerSettingsDefaults(t *testing.T) {
	clearWorkerEnv(t)

	s := WorkerSettingsFromEnv()
	if s.PollInterval != 5*time.Second {
		t.Errorf("PollInterval = %v, want 5s", s.PollInterval)
	}
	if s.Threshold != 500 {
		t.Errorf("Threshold = %d, want 500", s.Threshold)
	}
	wantPool := runtime.NumCPU() - 1
	if wantPool < 1 {
		wantPool = 1
	}
	if s.PoolSize != wantPool {
		t.Errorf("PoolSize = %d, want %d", s.PoolSize, wantPool)
	}
	if s.BatchSize != 1000 {
		t.Errorf("BatchSize = %d, want 1000", s.BatchSize)
	}
	if s.TaskTimeout != 5*time.Minute {
		t.Errorf("TaskTimeout = %v, want 5m", s.TaskTimeout)
	}
	if want := runtime.NumCPU() > 2; s.ThreadsEnabled != want {
		t.Errorf("ThreadsEnabled = %v, want %v", s.ThreadsEnabled, want)
	}
}

func TestWorkerSettingsFromEnv(t *testing.T) {
	clearWorkerEnv(t)
	t.Setenv("WORKER_POLL_SECONDS", "30")
	t.Setenv("WORKER_CONCILIACAO_THRESHOLD", "100")
	t.Setenv("WORKER_CONCILIACAO_POOL_SIZE", "4")
	t.Setenv("WORKER_CONCILIACAO_BATCH_SIZE", "250")
	t.Setenv("WORKER_TASK_TIMEOUT", "60000")
	t.Setenv("WORKER_THREADS_ENABLED", "false")

	s := WorkerSettingsFromEnv()
	if s.PollInterval != 30*time.Second {
		t.Errorf("PollInterval = %v, want 30s", s.PollInterval)
	}
	if s.Threshold != 100 {
		t.Errorf("Threshold = %d, want 100", s.Threshold)
	}
	if s.PoolSize != 4 {
		t.Errorf("PoolSize = %d, want 4", s.PoolSize)
	}
	if s.BatchSize != 250 {
		t.Errorf("BatchSize = %d, want 250", s.BatchSize)
	}
	if s.TaskTimeout != time.Minute {
		t.Errorf("TaskTimeout = %v, want 1m", s.TaskTimeout)
	}
	if s.ThreadsEnabled {
		t.Error("ThreadsEnabled = true, want false")
	}
}

func TestWorkerSettingsClamps(t *testing.T) {
	clearWorkerEnv(t)
	t.Setenv("WORKER_POLL_SECONDS", "0")
	t.Setenv("WORKER_CONCILIACAO_POOL_SIZE", "-3")
	t.Setenv("WORKER_CONCILIACAO_BATCH_SIZE", "0")

	s := WorkerSettingsFromEnv()
	if s.PollInterval != time.Second {
		t.Errorf("PollInterval = %v, want clamp to 1s", s.PollInterval)
	}
	if s.PoolSize != 1 {
		t.Errorf("PoolSize = %d, want clamp to 1", s.PoolSize)
	}
	if s.BatchSize != 1 {
		t.Errorf("BatchSize = %d, want clamp to 1", s.BatchSize)
	}
}

func TestWorkerSettingsIgnoresGarbage(t *testing.T) {
	clearWorkerEnv(t)
	t.Setenv("WORKER_POLL_SECONDS", "soon")
	t.Setenv("WORKER_CONCILIACAO_THRESHOLD", "many")
	t.Setenv("WORKER_TASK_TIMEOUT", "-5")
	t.Setenv("WORKER_THREADS_ENABLED", "maybe")

	s := WorkerSettingsFromEnv()
	def := DefaultWorkerSettings()
	if s != def {
		t.Errorf("unparseable values must fall back to defaults, got %+v want %+v", s, def)
	}
}
