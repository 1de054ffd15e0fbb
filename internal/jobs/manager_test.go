package jobs

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/avelasco/imagesort/internal/classify"
	"github.com/avelasco/imagesort/internal/clock/system"
	queuemem "github.com/avelasco/imagesort/internal/queue/memory"
	storemem "github.com/avelasco/imagesort/internal/storage/memory"
)

type seqIDs struct{ n int }

func (s *seqIDs) NewID() (string, error) {
	s.n++
	return fmt.Sprintf("id-%04d", s.n), nil
}

type failingQueue struct{}

func (failingQueue) Enqueue(ctx context.Context, item classify.QueueItem) error {
	return errors.New("broker down")
}

func (failingQueue) Dequeue(ctx context.Context) (classify.QueueItem, error) {
	return classify.QueueItem{}, errors.New("broker down")
}

func newTestManager(t *testing.T, q classify.Queue) (*Manager, *storemem.RecordStore, *Store) {
	t.Helper()
	records := storemem.NewRecordStore()
	jobs := NewStore(15*time.Minute, system.New())
	m := NewManager(records, jobs, q, &seqIDs{}, system.New(), zap.NewNop())
	return m, records, jobs
}

func TestSubmitCreatesJobAndRecords(t *testing.T) {
	ctx := context.Background()
	q := queuemem.New(4)
	m, records, jobs := newTestManager(t, q)

	urls := []string{"https://example.com/a.jpg", "https://example.com/b.jpg"}
	handle, err := m.Submit(ctx, urls)
	require.NoError(t, err)
	assert.Equal(t, "id-0001", handle)

	job, err := jobs.Get(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, classify.JobStatusPending, job.Status)
	assert.Equal(t, urls, job.URLs)

	for _, u := range urls {
		rec, err := records.FindByURL(ctx, u)
		require.NoError(t, err)
		assert.Equal(t, classify.RecordStatusPending, rec.Status)
		require.NotNil(t, rec.JobID)
		assert.Equal(t, handle, *rec.JobID)
	}

	item, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, handle, item.JobID)
	assert.Equal(t, urls, item.URLs)
}

func TestSubmitAttachesJobToExistingRecord(t *testing.T) {
	ctx := context.Background()
	m, records, _ := newTestManager(t, queuemem.New(4))

	old := "old-job"
	existing := classify.ImageRecord{
		URL:       "https://example.com/seen.jpg",
		ImageType: classify.ImageTypeURL,
		Status:    classify.RecordStatusSuccess,
		JobID:     &old,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, records.Create(ctx, existing))

	handle, err := m.Submit(ctx, []string{"https://example.com/seen.jpg"})
	require.NoError(t, err)

	rec, err := records.FindByURL(ctx, "https://example.com/seen.jpg")
	require.NoError(t, err)
	require.NotNil(t, rec.JobID)
	assert.Equal(t, handle, *rec.JobID)
	// The cached classification outcome survives resubmission.
	assert.Equal(t, classify.RecordStatusSuccess, rec.Status)
}

func TestSubmitValidation(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t, queuemem.New(4))

	_, err := m.Submit(ctx, nil)
	assert.ErrorIs(t, err, ErrNoURLs)

	_, err = m.Submit(ctx, []string{"not-a-url"})
	assert.Error(t, err)

	_, err = m.Submit(ctx, []string{"ftp://example.com/a.jpg"})
	assert.Error(t, err)

	_, err = m.Submit(ctx, []string{"https://example.com/ok.jpg", ""})
	assert.Error(t, err)
}

func TestSubmitEnqueueFailureFailsJob(t *testing.T) {
	ctx := context.Background()
	m, _, jobs := newTestManager(t, failingQueue{})

	_, err := m.Submit(ctx, []string{"https://example.com/a.jpg"})
	require.Error(t, err)

	job, err := jobs.Get(ctx, "id-0001")
	require.NoError(t, err)
	assert.Equal(t, classify.JobStatusFailure, job.Status)
}

func TestStatusUnknownHandle(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t, queuemem.New(4))

	_, err := m.Status(ctx, "nope")
	assert.ErrorIs(t, err, classify.ErrJobNotFound)
}
