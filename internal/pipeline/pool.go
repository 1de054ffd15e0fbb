package pipeline

import (
	"context"
	"sync"

	"github.com/avelasco/imagesort/internal/classify"
)

// DefaultPoolSize bounds how many images a batch classifies at once.
const DefaultPoolSize = 5

// Classifier classifies one URL. Satisfied by *Unit.
type Classifier interface {
	ClassifyURL(ctx context.Context, url string) classify.ClassificationResult
}

// Pool fans a batch of URLs out over a bounded number of goroutines and
// collects one result per URL in submission order.
type Pool struct {
	classifier Classifier
	size       int
}

// NewPool returns a Pool running at most size classifications concurrently.
func NewPool(classifier Classifier, size int) *Pool {
	if size <= 0 {
		size = DefaultPoolSize
	}
	return &Pool{classifier: classifier, size: size}
}

// Process classifies every URL and returns results indexed like urls. Item
// failures surface as error-status results, never as a short slice.
func (p *Pool) Process(ctx context.Context, urls []string) []classify.ClassificationResult {
	results := make([]classify.ClassificationResult, len(urls))
	sem := make(chan struct{}, p.size)
	var wg sync.WaitGroup
	for i, u := range urls {
		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = p.classifier.ClassifyURL(ctx, u)
		}(i, u)
	}
	wg.Wait()
	return results
}
