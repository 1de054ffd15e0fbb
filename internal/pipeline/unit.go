// Package pipeline implements the per-image classification flow and the
// bounded pool that runs it for batches.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/avelasco/imagesort/internal/classify"
	"github.com/avelasco/imagesort/internal/imaging"
	"github.com/avelasco/imagesort/internal/metrics"
	"github.com/avelasco/imagesort/internal/model"
)

// DefaultFetchTimeout bounds a single image download.
const DefaultFetchTimeout = 15 * time.Second

// Config tunes a Unit.
type Config struct {
	// FetchTimeout bounds each image download. Zero means DefaultFetchTimeout.
	FetchTimeout time.Duration
	// UserAgent is sent on every fetch.
	UserAgent string
	// SaveImages enables writing fetched bytes to the blob store.
	SaveImages bool
	// HTTPClient overrides the fetch client; nil builds one from FetchTimeout.
	HTTPClient *http.Client
}

// Unit classifies a single image URL end to end: record-store cache check,
// download, preprocessing, inference and the one transactional record write
// that captures the outcome. A Unit is safe for concurrent use.
type Unit struct {
	records    classify.RecordStore
	blobs      classify.BlobStore
	scorer     classify.Scorer
	hasher     classify.Hasher
	ids        classify.IDGenerator
	clock      classify.Clock
	client     *http.Client
	userAgent  string
	saveImages bool
	logger     *zap.Logger
}

// NewUnit returns a Unit wired to the given collaborators.
func NewUnit(cfg Config, records classify.RecordStore, blobs classify.BlobStore, scorer classify.Scorer, hasher classify.Hasher, ids classify.IDGenerator, clock classify.Clock, logger *zap.Logger) *Unit {
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Unit{
		records:    records,
		blobs:      blobs,
		scorer:     scorer,
		hasher:     hasher,
		ids:        ids,
		clock:      clock,
		client:     client,
		userAgent:  cfg.UserAgent,
		saveImages: cfg.SaveImages,
		logger:     logger,
	}
}

// ClassifyURL runs the full flow for one URL. It never returns an error;
// every failure mode collapses into an error-status result so that one bad
// item cannot take down its batch siblings.
func (u *Unit) ClassifyURL(ctx context.Context, rawURL string) (res classify.ClassificationResult) {
	rec := classify.ImageRecord{
		URL:       rawURL,
		ImageType: classify.ImageTypeURL,
		Status:    classify.RecordStatusProcessing,
		CreatedAt: u.clock.Now(),
	}
	defer func() {
		if r := recover(); r != nil {
			u.logger.Error("panic while classifying image",
				zap.String("url", rawURL), zap.Any("panic", r))
			res = u.failRecord(ctx, rec, classify.ErrKindInternal)
		}
	}()

	existing, err := u.records.FindByURL(ctx, rawURL)
	switch {
	case err == nil:
		if existing.Status == classify.RecordStatusSuccess {
			metrics.ObserveCacheHit()
			return resultFromRecord(existing)
		}
		// Pending placeholders and prior failures get a fresh attempt.
		rec = existing
	case errors.Is(err, classify.ErrRecordNotFound):
		if createErr := u.records.Create(ctx, rec); createErr != nil {
			if !errors.Is(createErr, classify.ErrDuplicateRecord) {
				u.logger.Error("failed to create image record",
					zap.String("url", rawURL), zap.Error(createErr))
				break
			}
			// Lost the create race; the winner's row is the one to use.
			again, readErr := u.records.FindByURL(ctx, rawURL)
			if readErr != nil {
				u.logger.Error("failed to re-read image record after duplicate",
					zap.String("url", rawURL), zap.Error(readErr))
				break
			}
			if again.Status == classify.RecordStatusSuccess {
				metrics.ObserveCacheHit()
				return resultFromRecord(again)
			}
			rec = again
		}
	default:
		u.logger.Error("record lookup failed",
			zap.String("url", rawURL), zap.Error(err))
	}

	data, contentType, kind, err := u.fetch(ctx, rawURL)
	if err != nil {
		u.logger.Warn("image fetch failed",
			zap.String("url", rawURL), zap.String("kind", kind), zap.Error(err))
		return u.failRecord(ctx, rec, kind)
	}

	tensor, err := imaging.Preprocess(data, model.InputSize)
	if err != nil {
		u.logger.Warn("image decode failed",
			zap.String("url", rawURL), zap.Error(err))
		return u.failRecord(ctx, rec, classify.ErrKindDecodeFailed)
	}

	start := u.clock.Now()
	score, err := u.scorer.Score(ctx, tensor)
	metrics.ObserveInference(u.clock.Now().Sub(start))
	if err != nil {
		kind := classify.ErrKindInternal
		if errors.Is(err, classify.ErrModelUnavailable) {
			kind = classify.ErrKindModelUnavailable
		}
		u.logger.Error("inference failed",
			zap.String("url", rawURL), zap.Error(err))
		return u.failRecord(ctx, rec, kind)
	}

	class, confidence := classify.Decide(score)
	version := u.scorer.Version()

	rec.Status = classify.RecordStatusSuccess
	rec.PredictedClass = &class
	rec.ConfidenceLevel = &confidence
	rec.ModelVersion = &version

	if u.saveImages {
		if saveErr := u.saveImage(ctx, &rec, data, contentType, class, confidence); saveErr != nil {
			u.logger.Error("failed to store image bytes",
				zap.String("url", rawURL), zap.Error(saveErr))
			return u.failRecord(ctx, rec, classify.ErrKindStorageFailed)
		}
	}

	if err := u.records.Update(ctx, rec); err != nil {
		u.logger.Error("failed to persist classification outcome",
			zap.String("url", rawURL), zap.Error(err))
		metrics.ObserveImage(classify.ClassUnknown, string(classify.ErrorStatus(classify.ErrKindInternal)))
		return classify.ErrorResult(rawURL, classify.ErrKindInternal)
	}

	metrics.ObserveImage(class, string(classify.RecordStatusSuccess))
	return classify.ClassificationResult{
		URL:             rawURL,
		Status:          string(classify.RecordStatusSuccess),
		PredictedClass:  class,
		ConfidenceLevel: classify.FormatConfidence(confidence),
	}
}

// fetch downloads the image bytes. The returned kind names the error status
// to record when err is non-nil.
func (u *Unit) fetch(ctx context.Context, rawURL string) (data []byte, contentType, kind string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", classify.ErrKindFetchFailed, fmt.Errorf("building request: %w", err)
	}
	if u.userAgent != "" {
		req.Header.Set("User-Agent", u.userAgent)
	}

	start := u.clock.Now()
	resp, err := u.client.Do(req)
	metrics.ObserveFetch(u.clock.Now().Sub(start))
	if err != nil {
		return nil, "", classify.ErrKindFetchFailed, fmt.Errorf("fetching image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", classify.ErrKindNotAnImage, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	contentType = resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return nil, "", classify.ErrKindNotAnImage, fmt.Errorf("content type %q is not an image", contentType)
	}

	data, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", classify.ErrKindFetchFailed, fmt.Errorf("reading image body: %w", err)
	}
	return data, contentType, "", nil
}

// saveImage writes the raw bytes to the blob store under a date-partitioned
// path and records the object location and digest on rec.
func (u *Unit) saveImage(ctx context.Context, rec *classify.ImageRecord, data []byte, contentType, class string, confidence float64) error {
	digest, err := u.hasher.Hash(data)
	if err != nil {
		return fmt.Errorf("hashing image bytes: %w", err)
	}
	token, err := u.ids.NewID()
	if err != nil {
		return fmt.Errorf("minting filename token: %w", err)
	}

	folder := u.clock.Now().Format("20060102")
	filename := fmt.Sprintf("%s_%s_%.0f.%s", token, class, confidence*100, extensionFor(contentType))
	if _, err := u.blobs.PutObject(ctx, folder+"/"+filename, contentType, data); err != nil {
		return fmt.Errorf("writing image object: %w", err)
	}

	rec.StorageFolder = &folder
	rec.StorageFilename = &filename
	rec.ContentHash = &digest
	return nil
}

// failRecord writes the error status onto the record and returns the
// matching per-item result.
func (u *Unit) failRecord(ctx context.Context, rec classify.ImageRecord, kind string) classify.ClassificationResult {
	rec.Status = classify.ErrorStatus(kind)
	rec.PredictedClass = nil
	rec.ConfidenceLevel = nil
	if err := u.records.Update(ctx, rec); err != nil {
		u.logger.Error("failed to persist error status",
			zap.String("url", rec.URL), zap.String("kind", kind), zap.Error(err))
	}
	metrics.ObserveImage(classify.ClassUnknown, string(rec.Status))
	return classify.ErrorResult(rec.URL, kind)
}

func resultFromRecord(rec classify.ImageRecord) classify.ClassificationResult {
	class := classify.ClassUnknown
	if rec.PredictedClass != nil {
		class = *rec.PredictedClass
	}
	confidence := "0"
	if rec.ConfidenceLevel != nil {
		confidence = classify.FormatConfidence(*rec.ConfidenceLevel)
	}
	return classify.ClassificationResult{
		URL:             rec.URL,
		Status:          string(rec.Status),
		PredictedClass:  class,
		ConfidenceLevel: confidence,
	}
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return "jpg"
	case "image/png":
		return "png"
	case "image/gif":
		return "gif"
	case "image/webp":
		return "webp"
	default:
		return "img"
	}
}
