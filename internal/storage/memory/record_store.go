// Package memory provides in-memory store implementations for development
// and testing.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/avelasco/imagesort/internal/classify"
)

// RecordStore is an in-memory classify.RecordStore. It mirrors the Postgres
// store's semantics, including deterministic duplicate rejection.
type RecordStore struct {
	mu      sync.RWMutex
	records map[string]classify.ImageRecord
}

// NewRecordStore constructs a RecordStore.
func NewRecordStore() *RecordStore {
	return &RecordStore{records: make(map[string]classify.ImageRecord)}
}

// FindByURL returns the record for url, or classify.ErrRecordNotFound.
func (s *RecordStore) FindByURL(_ context.Context, url string) (classify.ImageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[url]
	if !ok {
		return classify.ImageRecord{}, classify.ErrRecordNotFound
	}
	return rec, nil
}

// Create inserts a new record, rejecting duplicates.
func (s *RecordStore) Create(_ context.Context, rec classify.ImageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.URL]; exists {
		return classify.ErrDuplicateRecord
	}
	s.records[rec.URL] = rec
	return nil
}

// Update replaces an existing record.
func (s *RecordStore) Update(_ context.Context, rec classify.ImageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.records[rec.URL]
	if !ok {
		return classify.ErrRecordNotFound
	}
	// created_at is set once and never rewritten.
	rec.CreatedAt = prev.CreatedAt
	s.records[rec.URL] = rec
	return nil
}

// AttachJob links a job handle to an existing record.
func (s *RecordStore) AttachJob(_ context.Context, url, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[url]
	if !ok {
		return classify.ErrRecordNotFound
	}
	rec.JobID = &jobID
	s.records[url] = rec
	return nil
}

// ListPendingReview returns successful records awaiting admin review.
func (s *RecordStore) ListPendingReview(_ context.Context) ([]classify.ImageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []classify.ImageRecord
	for _, rec := range s.records {
		if rec.Status == classify.RecordStatusSuccess && !rec.AdminReviewed {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// MarkReviewed flags a record as reviewed.
func (s *RecordStore) MarkReviewed(_ context.Context, url string, reLabel bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[url]
	if !ok {
		return classify.ErrRecordNotFound
	}
	rec.AdminReviewed = true
	rec.ReLabel = reLabel
	s.records[url] = rec
	return nil
}
