package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const workerScopeName = "github.com/concilia/concilia/worker"

// WorkerMetrics counts job claims and outcomes and records pipeline run
// duration. Construct with NewWorkerMetrics; when telemetry is disabled every
// method is a no-op.
type WorkerMetrics struct {
	enabled  bool
	claimed  metric.Int64Counter
	done     metric.Int64Counter
	failed   metric.Int64Counter
	duration metric.Float64Histogram
}

// NewWorkerMetrics builds the worker instrument set.
func NewWorkerMetrics() *WorkerMetrics {
	if !Enabled() {
		return &WorkerMetrics{}
	}
	m := Meter(workerScopeName)
	claimed, _ := m.Int64Counter("concilia.worker.jobs.claimed",
		metric.WithDescription("Jobs claimed by this worker"),
	)
	done, _ := m.Int64Counter("concilia.worker.jobs.done",
		metric.WithDescription("Jobs finished DONE"),
	)
	failed, _ := m.Int64Counter("concilia.worker.jobs.failed",
		metric.WithDescription("Jobs finished FAILED"),
	)
	duration, _ := m.Float64Histogram("concilia.worker.pipeline.duration",
		metric.WithDescription("Pipeline run duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	return &WorkerMetrics{
		enabled:  true,
		claimed:  claimed,
		done:     done,
		failed:   failed,
		duration: duration,
	}
}

// JobClaimed counts one successful claim.
func (w *WorkerMetrics) JobClaimed(ctx context.Context) {
	if !w.enabled {
		return
	}
	w.claimed.Add(ctx, 1)
}

// JobDone counts a successful run and records its duration.
func (w *WorkerMetrics) JobDone(ctx context.Context, jobID int64, elapsed time.Duration) {
	if !w.enabled {
		return
	}
	attrs := metric.WithAttributes(attribute.Int64("concilia.job.id", jobID))
	w.done.Add(ctx, 1, attrs)
	w.duration.Record(ctx, float64(elapsed.Milliseconds()), attrs)
}

// JobFailed counts a failed run and records its duration.
func (w *WorkerMetrics) JobFailed(ctx context.Context, jobID int64, elapsed time.Duration) {
	if !w.enabled {
		return
	}
	attrs := metric.WithAttributes(attribute.Int64("concilia.job.id", jobID))
	w.failed.Add(ctx, 1, attrs)
	w.duration.Record(ctx, float64(elapsed.Milliseconds()), attrs)
}
