// Package model implements the binary image scorer on TensorFlow Lite.
package model

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"sync/atomic"

	tflite "github.com/tphakala/go-tflite"
	"go.uber.org/zap"

	"github.com/avelasco/imagesort/internal/classify"
)

// InputSize is the square resolution the model expects.
const InputSize = 224

// Config locates the model artifact.
type Config struct {
	Path    string
	Version string
}

// Service is a lazily loaded TFLite scorer. The artifact is loaded at most
// once per process: the first Score call triggers the load, concurrent
// callers race through a double-checked mutex, and a failed load is terminal
// so later calls fail fast instead of retrying.
type Service struct {
	cfg    Config
	logger *zap.Logger

	runtime atomic.Pointer[runtimeModel]

	mu        sync.Mutex
	attempted bool
	loadErr   error
}

// runtimeModel holds the live interpreter. Invocations serialize on invokeMu
// because TFLite interpreters are not reentrant.
type runtimeModel struct {
	interpreter *tflite.Interpreter
	tfModel     *tflite.Model
	invokeMu    sync.Mutex
}

// New constructs a Service. The artifact is not touched until the first
// Score call.
func New(cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{cfg: cfg, logger: logger}
}

// Version returns the configured model version tag.
func (s *Service) Version() string {
	return s.cfg.Version
}

// Score runs one inference over a 224x224x3 RGB tensor and returns the
// sigmoid output in [0,1]. Safe for concurrent callers.
func (s *Service) Score(ctx context.Context, pixels []float32) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("score: %w", err)
	}
	if want := InputSize * InputSize * 3; len(pixels) != want {
		return 0, fmt.Errorf("score: tensor length %d, want %d", len(pixels), want)
	}

	rt, err := s.ensureLoaded()
	if err != nil {
		return 0, err
	}

	rt.invokeMu.Lock()
	defer rt.invokeMu.Unlock()

	input := rt.interpreter.GetInputTensor(0)
	if input == nil {
		return 0, fmt.Errorf("score: cannot get input tensor")
	}
	copy(input.Float32s(), pixels)

	if status := rt.interpreter.Invoke(); status != tflite.OK {
		return 0, fmt.Errorf("score: tensor invoke failed: %v", status)
	}

	output := rt.interpreter.GetOutputTensor(0)
	if output == nil {
		return 0, fmt.Errorf("score: cannot get output tensor")
	}
	score := float64(output.Float32s()[0])
	switch {
	case score < 0:
		score = 0
	case score > 1:
		score = 1
	}
	return score, nil
}

// ensureLoaded returns the live model, loading it on first use. The fast
// path is a single atomic read; the slow path holds the mutex and records
// the outcome of the one load attempt this process gets.
func (s *Service) ensureLoaded() (*runtimeModel, error) {
	if rt := s.runtime.Load(); rt != nil {
		return rt, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if rt := s.runtime.Load(); rt != nil {
		return rt, nil
	}
	if s.attempted {
		return nil, fmt.Errorf("%w: %v", classify.ErrModelUnavailable, s.loadErr)
	}
	s.attempted = true

	rt, err := s.load()
	if err != nil {
		s.loadErr = err
		s.logger.Error("model load failed; scorer is unavailable for this process",
			zap.String("path", s.cfg.Path),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", classify.ErrModelUnavailable, err)
	}

	s.runtime.Store(rt)
	s.logger.Info("model loaded",
		zap.String("path", s.cfg.Path),
		zap.String("version", s.cfg.Version),
	)
	return rt, nil
}

func (s *Service) load() (*runtimeModel, error) {
	data, err := os.ReadFile(s.cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("read model artifact: %w", err)
	}

	tfModel := tflite.NewModel(data)
	if tfModel == nil {
		return nil, fmt.Errorf("cannot parse TensorFlow Lite model")
	}

	options := tflite.NewInterpreterOptions()
	options.SetNumThread(runtime.NumCPU())

	interpreter := tflite.NewInterpreter(tfModel, options)
	if interpreter == nil {
		return nil, fmt.Errorf("cannot create interpreter")
	}
	if status := interpreter.AllocateTensors(); status != tflite.OK {
		return nil, fmt.Errorf("tensor allocation failed: %v", status)
	}

	rt := &runtimeModel{interpreter: interpreter, tfModel: tfModel}

	// Warm-up invoke so the first real request does not pay initialization
	// cost inside the worker pool.
	input := interpreter.GetInputTensor(0)
	if input == nil {
		return nil, fmt.Errorf("cannot get input tensor")
	}
	warm := make([]float32, InputSize*InputSize*3)
	copy(input.Float32s(), warm)
	if status := interpreter.Invoke(); status != tflite.OK {
		return nil, fmt.Errorf("warm-up invoke failed: %v", status)
	}

	return rt, nil
}
