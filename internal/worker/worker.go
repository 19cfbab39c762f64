// Package worker implements the queue poller: a single background loop that
// claims the oldest pending job on each tick and runs it through the job
// runner.
//
// Correctness rests on the SQL claim (a conditional UPDATE on status), not on
// the loop: several pollers may run against one database and each job is
// still executed once.
package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/concilia/concilia/internal/config"
	"github.com/concilia/concilia/internal/debug"
	"github.com/concilia/concilia/internal/runner"
	"github.com/concilia/concilia/internal/storage"
	"github.com/concilia/concilia/internal/telemetry"
	"github.com/concilia/concilia/internal/types"
)

// Worker polls the job queue and executes claimed jobs in-process,
// sequentially.
type Worker struct {
	store    storage.Storage
	settings config.WorkerSettings
	metrics  *telemetry.WorkerMetrics

	// inFlight guards against overlapping ticks when a job outlives the
	// poll interval.
	inFlight atomic.Bool

	// runJob executes one claimed job. Defaults to the job runner; tests
	// substitute it to simulate runner outcomes.
	runJob func(ctx context.Context, jobID int64) error
}

// New builds a worker over the store with the given tuning.
func New(store storage.Storage, settings config.WorkerSettings) *Worker {
	w := &Worker{
		store:    store,
		settings: settings,
		metrics:  telemetry.NewWorkerMetrics(),
	}
	w.runJob = runner.New(store, settings).Run
	return w
}

// Run polls until the context is cancelled. The first poll happens
// immediately; subsequent polls follow the configured interval.
func (w *Worker) Run(ctx context.Context) error {
	interval := w.settings.PollInterval
	if interval < time.Second {
		interval = time.Second
	}
	debug.Logf("[worker] polling every %s\n", interval)

	w.Tick(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick performs one poll: claim the oldest pending job and run it. Returns
// true when a job was claimed. A tick that finds the previous one still in
// flight returns immediately.
func (w *Worker) Tick(ctx context.Context) bool {
	if !w.inFlight.CompareAndSwap(false, true) {
		return false
	}
	defer w.inFlight.Store(false)

	job, err := w.store.ClaimNextJob(ctx)
	if err != nil {
		debug.Logf("[worker] claim failed: %v\n", err)
		return false
	}
	if job == nil {
		return false
	}
	w.metrics.JobClaimed(ctx)
	debug.Logf("[worker] claimed job %d\n", job.ID)
	debug.LogEvent("job_claimed", job.ID, "")

	// Best-effort visibility before the runner takes over.
	if err := w.store.UpdateJobProgress(ctx, job.ID,
		types.StageStartingWorker, 8, types.LabelStartingWorker); err != nil {
		debug.Logf("[worker] job %d: starting_worker stage: %v\n", job.ID, err)
	}

	start := time.Now()
	runErr := w.runClaimed(ctx, job.ID)

	// The runner writes the terminal status itself; a job still RUNNING here
	// means it died before doing so (panic outside the runner's recovery,
	// cancelled context). Translate that to FAILED.
	msg := "job runner exited without writing a terminal status"
	if runErr != nil {
		msg = runErr.Error()
	}
	if translated, err := w.store.FailJobIfRunning(ctx, job.ID, msg); err != nil {
		debug.Logf("[worker] job %d: abnormal-exit translation: %v\n", job.ID, err)
	} else if translated {
		debug.Logf("[worker] job %d: marked FAILED after abnormal runner exit\n", job.ID)
	}

	elapsed := time.Since(start)
	if runErr != nil {
		w.metrics.JobFailed(ctx, job.ID, elapsed)
		debug.Logf("[worker] job %d failed after %s: %v\n", job.ID, elapsed, runErr)
		debug.LogEvent("job_failed", job.ID, runErr.Error())
	} else {
		w.metrics.JobDone(ctx, job.ID, elapsed)
		debug.Logf("[worker] job %d done in %s\n", job.ID, elapsed)
		debug.LogEvent("job_done", job.ID, elapsed.String())
	}
	return true
}

// runClaimed shields the poll loop from a panicking runner.
func (w *Worker) runClaimed(ctx context.Context, jobID int64) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("job runner panic: %v", rec)
		}
	}()
	return w.runJob(ctx, jobID)
}
