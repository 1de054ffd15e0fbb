// Package jobs tracks classification jobs from submission to expiry.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/avelasco/imagesort/internal/classify"
)

// Store holds job state in memory. Jobs live indefinitely while running
// and are evicted a fixed retention period after they reach a terminal
// status.
type Store struct {
	mu        sync.Mutex
	items     *gocache.Cache
	retention time.Duration
	clock     classify.Clock
}

// NewStore returns a Store that keeps finished jobs for retention before
// evicting them.
func NewStore(retention time.Duration, clock classify.Clock) *Store {
	sweep := retention / 4
	if sweep < time.Second {
		sweep = time.Second
	}
	return &Store{
		items:     gocache.New(gocache.NoExpiration, sweep),
		retention: retention,
		clock:     clock,
	}
}

func (s *Store) Create(ctx context.Context, job classify.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, found := s.items.Get(job.Handle); found {
		return fmt.Errorf("job %s already exists", job.Handle)
	}
	s.items.Set(job.Handle, job, gocache.NoExpiration)
	return nil
}

func (s *Store) MarkStarted(ctx context.Context, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, err := s.get(handle)
	if err != nil {
		return err
	}
	now := s.clock.Now()
	job.Status = classify.JobStatusStarted
	job.Started = &now
	s.items.Set(handle, job, gocache.NoExpiration)
	return nil
}

func (s *Store) Complete(ctx context.Context, handle string, results []classify.ClassificationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, err := s.get(handle)
	if err != nil {
		return err
	}
	now := s.clock.Now()
	job.Status = classify.JobStatusSuccess
	job.Results = results
	job.Finished = &now
	s.items.Set(handle, job, s.retention)
	return nil
}

func (s *Store) Fail(ctx context.Context, handle string, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, err := s.get(handle)
	if err != nil {
		return err
	}
	now := s.clock.Now()
	job.Status = classify.JobStatusFailure
	job.Detail = detail
	job.Finished = &now
	s.items.Set(handle, job, s.retention)
	return nil
}

func (s *Store) Get(ctx context.Context, handle string) (classify.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(handle)
}

func (s *Store) get(handle string) (classify.Job, error) {
	v, found := s.items.Get(handle)
	if !found {
		return classify.Job{}, classify.ErrJobNotFound
	}
	return v.(classify.Job), nil
}
