package classify

import (
	"context"
	"time"
)

// RecordStore persists per-URL classification state. It is the single source
// of truth for "has this URL ever been classified" and is consulted as a
// cache before any network fetch.
type RecordStore interface {
	// FindByURL returns the record for url, or ErrRecordNotFound.
	FindByURL(ctx context.Context, url string) (ImageRecord, error)
	// Create inserts a new record. Returns ErrDuplicateRecord when the URL
	// already exists; callers resolve the benign check-then-create race by
	// re-reading.
	Create(ctx context.Context, record ImageRecord) error
	// Update replaces the mutable fields of an existing record in one
	// transactional write.
	Update(ctx context.Context, record ImageRecord) error
	// AttachJob links a job handle to an existing record. This is the second
	// phase of submission; a failure here never rolls back record creation.
	AttachJob(ctx context.Context, url, jobID string) error
	// ListPendingReview returns successfully classified records not yet
	// reviewed by an admin.
	ListPendingReview(ctx context.Context) ([]ImageRecord, error)
	// MarkReviewed flags a record as reviewed; reLabel additionally queues it
	// for re-labeling.
	MarkReviewed(ctx context.Context, url string, reLabel bool) error
}

// JobStore tracks transient job state and enforces the retention window.
type JobStore interface {
	Create(ctx context.Context, job Job) error
	MarkStarted(ctx context.Context, handle string) error
	Complete(ctx context.Context, handle string, results []ClassificationResult) error
	Fail(ctx context.Context, handle, detail string) error
	// Get returns ErrJobNotFound for unknown and expired handles alike.
	Get(ctx context.Context, handle string) (Job, error)
}

// BlobStore writes raw image bytes and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Queue provides enqueue/dequeue semantics for classification jobs. The
// Pub/Sub implementation decouples submitter and worker lifetimes; the
// memory implementation serves single-process deployments.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Scorer is the opaque binary model: a 224x224x3 RGB tensor in, a sigmoid
// score in [0,1] out. Implementations must be safe for concurrent callers
// and must return ErrModelUnavailable once a load attempt has failed.
type Scorer interface {
	Score(ctx context.Context, pixels []float32) (float64, error)
	Version() string
}

// Hasher computes digests for stored image bytes.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job handles and filename tokens.
type IDGenerator interface {
	NewID() (string, error)
}
