package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/avelasco/imagesort/internal/classify"
)

// ErrNoURLs is returned when a submission contains no URLs.
var ErrNoURLs = errors.New("at least one url is required")

// Manager coordinates job submission and status lookup. Submission is a
// two-phase write: placeholder records first, then the job handle attached
// to each record. The second phase is best effort.
type Manager struct {
	records classify.RecordStore
	jobs    classify.JobStore
	queue   classify.Queue
	ids     classify.IDGenerator
	clock   classify.Clock
	logger  *zap.Logger
}

// NewManager returns a Manager wired to the given stores and queue.
func NewManager(records classify.RecordStore, jobs classify.JobStore, queue classify.Queue, ids classify.IDGenerator, clock classify.Clock, logger *zap.Logger) *Manager {
	return &Manager{
		records: records,
		jobs:    jobs,
		queue:   queue,
		ids:     ids,
		clock:   clock,
		logger:  logger,
	}
}

// Submit validates urls, registers a pending job, writes placeholder records
// and enqueues the work. It returns the job handle without waiting for any
// classification to happen.
func (m *Manager) Submit(ctx context.Context, urls []string) (string, error) {
	if len(urls) == 0 {
		return "", ErrNoURLs
	}
	for _, u := range urls {
		if err := classify.ValidateURL(u); err != nil {
			return "", err
		}
	}

	handle, err := m.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("minting job handle: %w", err)
	}
	now := m.clock.Now()

	job := classify.Job{
		Handle:    handle,
		Status:    classify.JobStatusPending,
		URLs:      urls,
		Submitted: now,
	}
	if err := m.jobs.Create(ctx, job); err != nil {
		return "", fmt.Errorf("creating job: %w", err)
	}

	for _, u := range urls {
		m.registerURL(ctx, u, handle, now)
	}

	item := classify.QueueItem{
		JobID:     handle,
		URLs:      urls,
		Submitted: now.Unix(),
	}
	if err := m.queue.Enqueue(ctx, item); err != nil {
		if failErr := m.jobs.Fail(ctx, handle, "enqueue failed"); failErr != nil {
			m.logger.Error("failed to mark unenqueued job as failed",
				zap.String("job_id", handle), zap.Error(failErr))
		}
		return "", fmt.Errorf("enqueuing job %s: %w", handle, err)
	}

	m.logger.Info("job submitted",
		zap.String("job_id", handle), zap.Int("urls", len(urls)))
	return handle, nil
}

// registerURL performs the two-phase placeholder write for one URL. Phase
// one creates a pending record when the URL is new; phase two attaches the
// job handle either way. Neither phase failing aborts the submission, but a
// phase-two failure leaves a record without a job link, so it is logged
// loudly enough to reconcile by hand.
func (m *Manager) registerURL(ctx context.Context, u, handle string, now time.Time) {
	record := classify.ImageRecord{
		URL:       u,
		ImageType: classify.ImageTypeURL,
		Status:    classify.RecordStatusPending,
		JobID:     &handle,
		CreatedAt: now,
	}
	err := m.records.Create(ctx, record)
	switch {
	case err == nil:
		return
	case errors.Is(err, classify.ErrDuplicateRecord):
		// Known URL; just point it at the new job.
	default:
		m.logger.Error("failed to create placeholder record",
			zap.String("url", u), zap.String("job_id", handle), zap.Error(err))
		return
	}

	if err := m.records.AttachJob(ctx, u, handle); err != nil {
		m.logger.Error("record left without job link, needs reconciliation",
			zap.String("url", u), zap.String("job_id", handle), zap.Error(err))
	}
}

// Status returns the job for handle. Expired and unknown handles both yield
// classify.ErrJobNotFound.
func (m *Manager) Status(ctx context.Context, handle string) (classify.Job, error) {
	return m.jobs.Get(ctx, handle)
}
