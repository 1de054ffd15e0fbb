package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/avelasco/imagesort/internal/classify"
	"github.com/avelasco/imagesort/internal/clock/system"
	"github.com/avelasco/imagesort/internal/config"
	"github.com/avelasco/imagesort/internal/jobs"
	"github.com/avelasco/imagesort/internal/metrics"
	queuemem "github.com/avelasco/imagesort/internal/queue/memory"
	storemem "github.com/avelasco/imagesort/internal/storage/memory"
)

type fakeIDGen struct{ n int }

func (g *fakeIDGen) NewID() (string, error) {
	g.n++
	return fmt.Sprintf("job-%04d", g.n), nil
}

type fakeClassifier struct{}

func (fakeClassifier) ClassifyURL(ctx context.Context, url string) classify.ClassificationResult {
	return classify.ClassificationResult{
		URL:             url,
		Status:          "success",
		PredictedClass:  classify.ClassStudio,
		ConfidenceLevel: "93.10",
	}
}

type serverFixture struct {
	server  *Server
	records *storemem.RecordStore
	jobs    *jobs.Store
	queue   *queuemem.Queue
}

func newServerFixture(t *testing.T, cfg config.Config) serverFixture {
	t.Helper()
	metrics.Init()

	records := storemem.NewRecordStore()
	jobStore := jobs.NewStore(15*time.Minute, system.New())
	q := queuemem.New(16)
	manager := jobs.NewManager(records, jobStore, q, &fakeIDGen{}, system.New(), zap.NewNop())
	server := NewServer(manager, fakeClassifier{}, records, cfg, zap.NewNop())
	return serverFixture{server: server, records: records, jobs: jobStore, queue: q}
}

func TestServer_SubmitBatch_Accepted(t *testing.T) {
	fx := newServerFixture(t, config.Config{})

	body := []byte(`{"urls":["https://example.com/a.jpg","https://example.com/b.jpg"]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/classify", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	fx.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "job-0001", resp["job_id"])

	item, err := fx.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "job-0001", item.JobID)
	require.Len(t, item.URLs, 2)
}

func TestServer_SubmitBatch_InvalidJSON(t *testing.T) {
	fx := newServerFixture(t, config.Config{})

	req := httptest.NewRequest(http.MethodPost, "/v1/classify", bytes.NewBufferString("{invalid"))
	rec := httptest.NewRecorder()

	fx.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_SubmitBatch_NoURLs(t *testing.T) {
	fx := newServerFixture(t, config.Config{})

	req := httptest.NewRequest(http.MethodPost, "/v1/classify", bytes.NewBufferString(`{"urls":[]}`))
	rec := httptest.NewRecorder()

	fx.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "url")
}

func TestServer_SubmitBatch_RejectsRelativeURL(t *testing.T) {
	fx := newServerFixture(t, config.Config{})

	req := httptest.NewRequest(http.MethodPost, "/v1/classify", bytes.NewBufferString(`{"urls":["/images/a.jpg"]}`))
	rec := httptest.NewRecorder()

	fx.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ClassifySingle_ReturnsResult(t *testing.T) {
	fx := newServerFixture(t, config.Config{})

	body := []byte(`{"image_url":"https://example.com/now.jpg"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/classify/url", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	fx.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var res classify.ClassificationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Equal(t, "https://example.com/now.jpg", res.URL)
	require.Equal(t, classify.ClassStudio, res.PredictedClass)
	require.Equal(t, "93.10", res.ConfidenceLevel)
}

func TestServer_GetJob_PendingHidesResults(t *testing.T) {
	fx := newServerFixture(t, config.Config{})
	ctx := context.Background()

	require.NoError(t, fx.jobs.Create(ctx, classify.Job{
		Handle: "job-wip",
		Status: classify.JobStatusStarted,
		URLs:   []string{"https://example.com/a.jpg"},
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/job-wip", nil)
	rec := httptest.NewRecorder()

	fx.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "job-wip", resp["job_id"])
	require.Equal(t, "started", resp["status"])
	require.Nil(t, resp["result"])
}

func TestServer_GetJob_FinishedIncludesResults(t *testing.T) {
	fx := newServerFixture(t, config.Config{})
	ctx := context.Background()

	require.NoError(t, fx.jobs.Create(ctx, classify.Job{Handle: "job-done", Status: classify.JobStatusPending}))
	require.NoError(t, fx.jobs.Complete(ctx, "job-done", []classify.ClassificationResult{
		{URL: "https://example.com/a.jpg", Status: "success", PredictedClass: classify.ClassEnvironment, ConfidenceLevel: "80.00"},
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/job-done", nil)
	rec := httptest.NewRecorder()

	fx.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp jobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "success", resp.Status)
	require.Len(t, resp.Result, 1)
	require.Equal(t, "80.00", resp.Result[0].ConfidenceLevel)
}

func TestServer_GetJob_UnknownHandle(t *testing.T) {
	fx := newServerFixture(t, config.Config{})

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/nope", nil)
	rec := httptest.NewRecorder()

	fx.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ReviewFlow(t *testing.T) {
	fx := newServerFixture(t, config.Config{})
	ctx := context.Background()

	class := classify.ClassStudio
	confidence := 0.91
	require.NoError(t, fx.records.Create(ctx, classify.ImageRecord{
		URL:             "https://example.com/review.jpg",
		ImageType:       classify.ImageTypeURL,
		Status:          classify.RecordStatusSuccess,
		PredictedClass:  &class,
		ConfidenceLevel: &confidence,
		CreatedAt:       time.Now().UTC(),
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/records/review", nil)
	rec := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "review.jpg")

	body := []byte(`{"url":"https://example.com/review.jpg","re_label":true}`)
	req = httptest.NewRequest(http.MethodPost, "/v1/records/review", bytes.NewReader(body))
	rec = httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	record, err := fx.records.FindByURL(ctx, "https://example.com/review.jpg")
	require.NoError(t, err)
	require.True(t, record.AdminReviewed)
	require.True(t, record.ReLabel)

	// Reviewed records drop out of the pending listing.
	req = httptest.NewRequest(http.MethodGet, "/v1/records/review", nil)
	rec = httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, rec.Body.String(), "review.jpg")
}

func TestServer_MarkReviewed_UnknownRecord(t *testing.T) {
	fx := newServerFixture(t, config.Config{})

	body := []byte(`{"url":"https://example.com/ghost.jpg"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/records/review", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	fx.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_APIKeyGuardsV1(t *testing.T) {
	cfg := config.Config{Auth: config.AuthConfig{Enabled: true, APIKey: "sekrit"}}
	fx := newServerFixture(t, cfg)

	req := httptest.NewRequest(http.MethodPost, "/v1/classify", bytes.NewBufferString(`{"urls":["https://example.com/a.jpg"]}`))
	rec := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/v1/classify", bytes.NewBufferString(`{"urls":["https://example.com/a.jpg"]}`))
	req.Header.Set("X-API-Key", "sekrit")
	rec = httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	// Health endpoints stay open.
	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec = httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_RequestIDHeader(t *testing.T) {
	fx := newServerFixture(t, config.Config{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	fx.server.Handler().ServeHTTP(rec, req)

	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
