package model

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/avelasco/imagesort/internal/classify"
)

func TestScoreMissingArtifactFailsFast(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "missing.tflite")
	svc := New(Config{Path: path, Version: "test-v1"}, zap.NewNop())

	pixels := make([]float32, InputSize*InputSize*3)

	_, err := svc.Score(context.Background(), pixels)
	require.ErrorIs(t, err, classify.ErrModelUnavailable)

	// Dropping a valid-looking file in place afterwards must not help: the
	// first failed load is terminal for the process lifetime.
	require.NoError(t, os.WriteFile(path, []byte("not a real model"), 0o600))

	_, err = svc.Score(context.Background(), pixels)
	require.ErrorIs(t, err, classify.ErrModelUnavailable)
}

func TestScoreConcurrentCallersSeeSingleLoadAttempt(t *testing.T) {
	t.Parallel()

	svc := New(Config{Path: filepath.Join(t.TempDir(), "absent.tflite")}, zap.NewNop())
	pixels := make([]float32, InputSize*InputSize*3)

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Score(context.Background(), pixels)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.ErrorIs(t, err, classify.ErrModelUnavailable)
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	require.True(t, svc.attempted)
	require.Error(t, svc.loadErr)
}

func TestScoreRejectsWrongTensorLength(t *testing.T) {
	t.Parallel()

	svc := New(Config{Path: "irrelevant"}, zap.NewNop())
	_, err := svc.Score(context.Background(), make([]float32, 7))
	require.Error(t, err)
	require.NotErrorIs(t, err, classify.ErrModelUnavailable)
}

func TestScoreHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	svc := New(Config{Path: "irrelevant"}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Score(ctx, make([]float32, InputSize*InputSize*3))
	require.ErrorIs(t, err, context.Canceled)
}
