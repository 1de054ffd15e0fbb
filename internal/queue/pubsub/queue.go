// Package pubsub implements the job queue on Google Cloud Pub/Sub, giving
// submitter and workers independent lifetimes.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/avelasco/imagesort/internal/classify"
)

// Config identifies the Pub/Sub resources used for job hand-off.
type Config struct {
	ProjectID      string
	TopicID        string
	SubscriptionID string
}

// Queue publishes queue items to a topic and, on the worker side, receives
// them from a subscription.
type Queue struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	logger *zap.Logger

	startOnce sync.Once
	items     chan classify.QueueItem
}

// New creates a Pub/Sub client and verifies the topic exists. It
// authenticates using Application Default Credentials.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Queue, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}

	topic := client.Topic(cfg.TopicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("close pubsub client after topic check failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("check topic existence: %w", err)
	}
	if !exists {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("close pubsub client after missing topic", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("pubsub topic %q does not exist in project %q", cfg.TopicID, cfg.ProjectID)
	}

	return NewWithClient(client, topic, client.Subscription(cfg.SubscriptionID), logger), nil
}

// NewWithClient constructs a Queue from existing Pub/Sub handles (primarily
// for testing against pstest).
func NewWithClient(client *pubsub.Client, topic *pubsub.Topic, sub *pubsub.Subscription, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		client: client,
		topic:  topic,
		sub:    sub,
		logger: logger,
		items:  make(chan classify.QueueItem, 64),
	}
}

// Enqueue publishes the item and waits for the broker's acknowledgment, so
// a returned handle always refers to a durably queued job.
func (q *Queue) Enqueue(ctx context.Context, item classify.QueueItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal queue item: %w", err)
	}
	result := q.topic.Publish(ctx, &pubsub.Message{Data: data})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish queue item: %w", err)
	}
	return nil
}

// Dequeue blocks until an item arrives from the subscription or the context
// finishes. The first call starts the receive loop.
func (q *Queue) Dequeue(ctx context.Context) (classify.QueueItem, error) {
	q.startOnce.Do(func() {
		go q.receive(ctx)
	})
	select {
	case item := <-q.items:
		return item, nil
	case <-ctx.Done():
		return classify.QueueItem{}, ctx.Err()
	}
}

func (q *Queue) receive(ctx context.Context) {
	err := q.sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		var item classify.QueueItem
		if err := json.Unmarshal(msg.Data, &item); err != nil {
			q.logger.Error("drop malformed queue message", zap.Error(err))
			msg.Ack()
			return
		}
		select {
		case q.items <- item:
			msg.Ack()
		case <-ctx.Done():
			msg.Nack()
		}
	})
	if err != nil && ctx.Err() == nil {
		q.logger.Error("pubsub receive stopped", zap.Error(err))
	}
}

// Close stops the publisher and closes the underlying client connection.
func (q *Queue) Close() error {
	q.topic.Stop()
	if err := q.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
