// Package worker implements the job execution loop.
package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/avelasco/imagesort/internal/classify"
	"github.com/avelasco/imagesort/internal/metrics"
	"github.com/avelasco/imagesort/internal/pipeline"
)

// Worker consumes queued jobs and runs each batch through the
// classification pool.
type Worker struct {
	id     int
	queue  classify.Queue
	jobs   classify.JobStore
	pool   *pipeline.Pool
	logger *zap.Logger
}

// New constructs a Worker.
func New(id int, queue classify.Queue, jobs classify.JobStore, pool *pipeline.Pool, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:     id,
		queue:  queue,
		jobs:   jobs,
		pool:   pool,
		logger: logger.With(zap.Int("worker", id)),
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		w.processJob(ctx, item)
	}
}

func (w *Worker) processJob(ctx context.Context, item classify.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("panic while processing job",
				zap.String("job_id", item.JobID), zap.Any("panic", r))
			if err := w.jobs.Fail(ctx, item.JobID, fmt.Sprintf("internal error: %v", r)); err != nil {
				w.logger.Error("failed to mark panicked job as failed",
					zap.String("job_id", item.JobID), zap.Error(err))
			}
			metrics.ObserveJob(string(classify.JobStatusFailure))
		}
	}()

	if err := w.jobs.MarkStarted(ctx, item.JobID); err != nil {
		// The job may have expired; the records still want their results.
		w.logger.Warn("failed to mark job started",
			zap.String("job_id", item.JobID), zap.Error(err))
	}

	results := w.pool.Process(ctx, item.URLs)

	if err := w.jobs.Complete(ctx, item.JobID, results); err != nil {
		w.logger.Error("failed to complete job",
			zap.String("job_id", item.JobID), zap.Error(err))
		metrics.ObserveJob(string(classify.JobStatusFailure))
		return
	}
	metrics.ObserveJob(string(classify.JobStatusSuccess))
	w.logger.Info("job finished",
		zap.String("job_id", item.JobID), zap.Int("urls", len(item.URLs)))
}
