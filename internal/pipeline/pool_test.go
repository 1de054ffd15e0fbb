package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avelasco/imagesort/internal/classify"
)

type countingClassifier struct {
	active  atomic.Int32
	peak    atomic.Int32
	failURL string
}

func (c *countingClassifier) ClassifyURL(ctx context.Context, url string) classify.ClassificationResult {
	n := c.active.Add(1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	c.active.Add(-1)

	if url == c.failURL {
		return classify.ErrorResult(url, classify.ErrKindFetchFailed)
	}
	return classify.ClassificationResult{
		URL:             url,
		Status:          "success",
		PredictedClass:  classify.ClassStudio,
		ConfidenceLevel: "90.00",
	}
}

func TestPoolPreservesOrder(t *testing.T) {
	urls := make([]string, 20)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://example.com/%d.jpg", i)
	}

	pool := NewPool(&countingClassifier{}, 4)
	results := pool.Process(context.Background(), urls)

	require.Len(t, results, len(urls))
	for i, res := range results {
		assert.Equal(t, urls[i], res.URL)
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	urls := make([]string, 32)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://example.com/%d.jpg", i)
	}

	c := &countingClassifier{}
	pool := NewPool(c, 5)
	pool.Process(context.Background(), urls)

	assert.LessOrEqual(t, c.peak.Load(), int32(5))
	assert.Positive(t, c.peak.Load())
}

func TestPoolIsolatesItemFailures(t *testing.T) {
	urls := []string{
		"https://example.com/ok1.jpg",
		"https://example.com/bad.jpg",
		"https://example.com/ok2.jpg",
	}

	pool := NewPool(&countingClassifier{failURL: urls[1]}, 2)
	results := pool.Process(context.Background(), urls)

	require.Len(t, results, 3)
	assert.Equal(t, "success", results[0].Status)
	assert.Equal(t, "error: fetch-failed", results[1].Status)
	assert.Equal(t, "success", results[2].Status)
}

func TestPoolSizeOneIsSequential(t *testing.T) {
	urls := []string{
		"https://example.com/1.jpg",
		"https://example.com/2.jpg",
		"https://example.com/3.jpg",
	}

	c := &countingClassifier{}
	pool := NewPool(c, 1)
	results := pool.Process(context.Background(), urls)

	require.Len(t, results, 3)
	assert.Equal(t, int32(1), c.peak.Load())
	for i, res := range results {
		assert.Equal(t, urls[i], res.URL)
	}
}

func TestPoolEmptyBatch(t *testing.T) {
	pool := NewPool(&countingClassifier{}, 3)
	results := pool.Process(context.Background(), nil)
	assert.Empty(t, results)
}
