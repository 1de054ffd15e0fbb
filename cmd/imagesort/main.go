// Package main wires together the image classification service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/avelasco/imagesort/internal/api"
	"github.com/avelasco/imagesort/internal/classify"
	"github.com/avelasco/imagesort/internal/clock/system"
	"github.com/avelasco/imagesort/internal/config"
	"github.com/avelasco/imagesort/internal/dispatcher"
	"github.com/avelasco/imagesort/internal/hash/sha256"
	"github.com/avelasco/imagesort/internal/id/uuid"
	"github.com/avelasco/imagesort/internal/jobs"
	"github.com/avelasco/imagesort/internal/logging"
	"github.com/avelasco/imagesort/internal/metrics"
	"github.com/avelasco/imagesort/internal/model"
	"github.com/avelasco/imagesort/internal/pipeline"
	queuememory "github.com/avelasco/imagesort/internal/queue/memory"
	queuepubsub "github.com/avelasco/imagesort/internal/queue/pubsub"
	storagegcs "github.com/avelasco/imagesort/internal/storage/gcs"
	storagelocal "github.com/avelasco/imagesort/internal/storage/local"
	storagememory "github.com/avelasco/imagesort/internal/storage/memory"
	storagenoop "github.com/avelasco/imagesort/internal/storage/noop"
	storagepostgres "github.com/avelasco/imagesort/internal/storage/postgres"
	"github.com/avelasco/imagesort/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	records, err := newRecordStore(ctx, cfg)
	if err != nil {
		logger.Fatal("record store init failed", zap.Error(err))
	}
	blobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		logger.Fatal("blob store init failed", zap.Error(err))
	}
	queue, err := newQueue(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("queue init failed", zap.Error(err))
	}

	clock := system.New()
	hasher := sha256.New()
	idGen := uuid.New()
	jobStore := jobs.NewStore(cfg.Jobs.Retention(), clock)

	scorer := model.New(model.Config{
		Path:    cfg.Model.Path,
		Version: cfg.Model.Version,
	}, logger.Named("model"))

	unit := pipeline.NewUnit(pipeline.Config{
		FetchTimeout: cfg.HTTP.Timeout(),
		UserAgent:    cfg.HTTP.UserAgent,
		SaveImages:   cfg.Storage.SaveImages,
	}, records, blobs, scorer, hasher, idGen, clock, logger.Named("pipeline"))
	pool := pipeline.NewPool(unit, cfg.Workers.PoolSize)

	workers := make([]*worker.Worker, 0, cfg.Workers.Count)
	for i := 0; i < cfg.Workers.Count; i++ {
		workers = append(workers, worker.New(i+1, queue, jobStore, pool, logger.Named("worker")))
	}
	dispatch := dispatcher.New(workers)

	manager := jobs.NewManager(records, jobStore, queue, idGen, clock, logger.Named("jobs"))
	apiServer := api.NewServer(manager, unit, records, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("dispatcher started", zap.Int("workers", cfg.Workers.Count))
		dispatch.Run(ctx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if closer, ok := queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Error("queue close error", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}

func newRecordStore(ctx context.Context, cfg config.Config) (classify.RecordStore, error) {
	switch cfg.DB.Provider {
	case "postgres":
		return storagepostgres.NewRecordStore(ctx, storagepostgres.RecordStoreConfig{
			DSN:             cfg.DB.DSN,
			Table:           cfg.DB.Table,
			MaxConns:        cfg.DB.MaxConns,
			MinConns:        cfg.DB.MinConns,
			MaxConnLifetime: time.Duration(cfg.DB.ConnLifetimeMin) * time.Minute,
		})
	case "memory":
		return storagememory.NewRecordStore(), nil
	default:
		return nil, fmt.Errorf("unknown db.provider %q", cfg.DB.Provider)
	}
}

func newBlobStore(ctx context.Context, cfg config.Config) (classify.BlobStore, error) {
	switch cfg.Storage.Provider {
	case "local":
		return storagelocal.New(storagelocal.Config{BaseDir: cfg.Storage.BaseDir})
	case "gcs":
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		return storagegcs.New(client, storagegcs.Config{Bucket: cfg.Storage.GCSBucket})
	case "noop":
		return storagenoop.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage.provider %q", cfg.Storage.Provider)
	}
}

func newQueue(ctx context.Context, cfg config.Config, logger *zap.Logger) (classify.Queue, error) {
	switch cfg.Queue.Provider {
	case "pubsub":
		return queuepubsub.New(ctx, queuepubsub.Config{
			ProjectID:      cfg.Queue.ProjectID,
			TopicID:        cfg.Queue.TopicID,
			SubscriptionID: cfg.Queue.SubscriptionID,
		}, logger.Named("pubsub"))
	case "memory":
		return queuememory.New(cfg.Workers.QueueDepth), nil
	default:
		return nil, fmt.Errorf("unknown queue.provider %q", cfg.Queue.Provider)
	}
}
