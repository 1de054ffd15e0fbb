// Package memory implements an in-process job queue.
package memory

import (
	"context"
	"fmt"

	"github.com/avelasco/imagesort/internal/classify"
)

// Queue is a buffered-channel classify.Queue for single-process deployments
// and tests. Submitter and workers share the process lifetime; use the
// pubsub queue when they must not.
type Queue struct {
	items chan classify.QueueItem
}

// New constructs a Queue with the given buffer depth.
func New(depth int) *Queue {
	if depth <= 0 {
		depth = 64
	}
	return &Queue{items: make(chan classify.QueueItem, depth)}
}

// Enqueue adds an item, failing fast when the buffer is full rather than
// blocking the submitting request.
func (q *Queue) Enqueue(ctx context.Context, item classify.QueueItem) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	select {
	case q.items <- item:
		return nil
	default:
		return fmt.Errorf("enqueue: queue is full")
	}
}

// Dequeue blocks until an item is available or the context finishes.
func (q *Queue) Dequeue(ctx context.Context) (classify.QueueItem, error) {
	select {
	case item := <-q.items:
		return item, nil
	case <-ctx.Done():
		return classify.QueueItem{}, ctx.Err()
	}
}
