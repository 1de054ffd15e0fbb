// Package main hosts the image classification service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, batch submission, synchronous
//     single-URL classification, job polling and the admin review endpoints. Batch submissions
//     are validated, registered with the job store and placeholder records, then enqueued.
//   - Dispatcher & queue: jobs flow through the configured queue (in-memory channel or Google
//     Cloud Pub/Sub) and are fanned out to a fixed worker fleet sized by config.Workers.Count.
//     Context cancellation stops workers cleanly on shutdown.
//   - Classification pipeline: each worker runs its job's URLs through a bounded pool
//     (config.Workers.PoolSize). Per URL the pipeline consults the record store as a cache,
//     downloads the image with a hard timeout, decodes and resizes it to the model input shape,
//     runs the TFLite binary classifier and persists the outcome in a single record write.
//   - Persistence: URL-keyed image records live in Postgres (or memory for single-process
//     deployments); classified image bytes are optionally written to the configured BlobStore
//     (local/GCS/noop) under date-partitioned paths.
//   - Configuration & plumbing: Viper populates config from env/files; zap provides structured
//     logging; Prometheus counters and histograms are exported on /metrics.
//
// Operational notes:
//   - Concurrency model: fixed worker fleet consuming the queue, each with a bounded
//     classification pool; TFLite interpreter invocations serialize internally. Shutdown is
//     coordinated via context cancellation propagated from main through the dispatcher.
//   - Job results are transient: they expire a configurable retention window (default 15
//     minutes) after the job finishes. The record store remains the durable source of truth.
//   - The model artifact loads lazily on first inference; a load failure marks the scorer
//     unavailable for the process lifetime and items fail fast with a model error status.
//
// Quick checklist:
//   - Configure env vars with the IMAGESORT_ prefix: IMAGESORT_SERVER_PORT,
//     IMAGESORT_MODEL_PATH, IMAGESORT_DB_PROVIDER/IMAGESORT_DB_DSN, IMAGESORT_QUEUE_PROVIDER
//     and IMAGESORT_STORAGE_* when persistence beyond memory is required.
//   - Run locally: go run ./cmd/imagesort -config config.yaml (or rely solely on env overrides).
package main
