package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dunamismax/pixelvariant/internal/config"
	"github.com/dunamismax/pixelvariant/internal/domain"
	"github.com/dunamismax/pixelvariant/internal/queue"
	"github.com/dunamismax/pixelvariant/internal/ratelimit"
	"github.com/dunamismax/pixelvariant/internal/raster"
	"github.com/dunamismax/pixelvariant/internal/store"
	"github.com/hibiken/asynq"
	"github.com/klauspost/compress/zip"
)

type upload struct {
	name string
	data []byte
}

func TestHealthAndRoot(t *testing.T) {
	srv := newTestServer(t, Options{})

	rec := doRequest(t, srv, http.MethodGet, "/health", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var health map[string]string
	decodeBody(t, rec, &health)
	if health["status"] != "ok" || health["service"] != "image-processing" || health["version"] != "1.0.0" {
		t.Fatalf("unexpected health body: %v", health)
	}

	rec = doRequest(t, srv, http.MethodGet, "/", nil, "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "/process/batch/all") {
		t.Fatalf("unexpected root response %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, srv, http.MethodGet, "/nope", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown path, got %d", rec.Code)
	}
}

func TestOpacityReturnsPNGAttachment(t *testing.T) {
	srv := newTestServer(t, Options{})
	body, ctype := multipartBody(t, "file", upload{"photo.png", testPNG(t, 12, 9)})

	rec := doRequest(t, srv, http.MethodPost, "/process/opacity?opacity=0.25", body, ctype)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "image/png" {
		t.Fatalf("expected image/png, got %s", got)
	}
	if got := rec.Header().Get("Content-Disposition"); got != "attachment; filename=opacity_photo.png" {
		t.Fatalf("unexpected content disposition %q", got)
	}

	img, err := raster.Decode(rec.Body.Bytes())
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if img.Width != 12 || img.Height != 9 {
		t.Fatalf("expected 12x9, got %dx%d", img.Width, img.Height)
	}
	if img.Pix[3] != 63 {
		t.Fatalf("expected alpha 63, got %d", img.Pix[3])
	}
}

func TestOpacityOutOfRangeIsRejectedBeforeDecoding(t *testing.T) {
	srv := newTestServer(t, Options{})

	for _, raw := range []string{"1.5", "-0.1", "abc"} {
		body, ctype := multipartBody(t, "file", upload{"junk.png", []byte("not an image")})
		rec := doRequest(t, srv, http.MethodPost, "/process/opacity?opacity="+raw, body, ctype)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("opacity=%s: expected 400, got %d", raw, rec.Code)
		}
	}

	body, ctype := multipartBody(t, "file", upload{"junk.png", []byte("not an image")})
	rec := doRequest(t, srv, http.MethodPost, "/process/opacity?opacity=1.5", body, ctype)
	var errBody map[string]string
	decodeBody(t, rec, &errBody)
	if errBody["error"] != "Opacity must be between 0 and 1" {
		t.Fatalf("unexpected error message %q", errBody["error"])
	}
}

func TestGrayscaleInvalidFileIs500(t *testing.T) {
	srv := newTestServer(t, Options{})
	body, ctype := multipartBody(t, "file", upload{"notes.txt", []byte("plain text")})

	rec := doRequest(t, srv, http.MethodPost, "/process/grayscale", body, ctype)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var errBody map[string]string
	decodeBody(t, rec, &errBody)
	if !strings.HasPrefix(errBody["error"], "Image processing failed: ") {
		t.Fatalf("unexpected error message %q", errBody["error"])
	}
}

func TestGrayscaleRequiresFile(t *testing.T) {
	srv := newTestServer(t, Options{})
	body, ctype := multipartBody(t, "other", upload{"a.png", testPNG(t, 2, 2)})

	rec := doRequest(t, srv, http.MethodPost, "/process/grayscale", body, ctype)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodPost, "/process/grayscale", strings.NewReader("{}"), "application/json")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-multipart body, got %d", rec.Code)
	}
}

func TestCircularCustomParams(t *testing.T) {
	srv := newTestServer(t, Options{})
	body, ctype := multipartBody(t, "file", upload{"face.png", testPNG(t, 50, 60)})

	rec := doRequest(t, srv, http.MethodPost, "/process/circular?crop_width=40&crop_height=30&zoom_factor=0.5&y_shift=-5", body, ctype)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Disposition"); got != "attachment; filename=circular_face.png" {
		t.Fatalf("unexpected content disposition %q", got)
	}
	img, err := raster.Decode(rec.Body.Bytes())
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if img.Width != 40 || img.Height != 30 || img.Model != raster.RGBA {
		t.Fatalf("expected 40x30 RGBA, got %dx%d %s", img.Width, img.Height, img.Model)
	}

	for _, q := range []string{"crop_width=wide", "zoom_factor=0", "crop_height=-3"} {
		body, ctype := multipartBody(t, "file", upload{"face.png", testPNG(t, 4, 4)})
		rec := doRequest(t, srv, http.MethodPost, "/process/circular?"+q, body, ctype)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", q, rec.Code)
		}
	}
}

func TestCircularRejectsOversizedOutput(t *testing.T) {
	srv := newTestServer(t, Options{})

	for _, q := range []string{
		"crop_width=1099511627776&crop_height=2",
		"crop_width=100000&crop_height=100000",
		"crop_width=1000&crop_height=1000&zoom_factor=100000",
	} {
		body, ctype := multipartBody(t, "file", upload{"face.png", testPNG(t, 4, 4)})
		rec := doRequest(t, srv, http.MethodPost, "/process/circular?"+q, body, ctype)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", q, rec.Code)
		}
	}

	body, ctype := multipartBody(t, "files", upload{"face.png", testPNG(t, 4, 4)})
	rec := doRequest(t, srv, http.MethodPost, "/process/batch/circular?crop_width=1099511627776&crop_height=2", body, ctype)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("batch: expected 400, got %d", rec.Code)
	}

	// the service keeps serving after the rejections
	body, ctype = multipartBody(t, "file", upload{"face.png", testPNG(t, 4, 4)})
	rec = doRequest(t, srv, http.MethodPost, "/process/circular?crop_width=8&crop_height=8", body, ctype)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 after rejections, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestConfiguredPixelLimit(t *testing.T) {
	srv := NewServer(log.New(io.Discard, "", 0), config.APIConfig{MaxConcurrentWork: 1, MaxPixels: 400}, Options{})

	body, ctype := multipartBody(t, "file", upload{"face.png", testPNG(t, 4, 4)})
	rec := doRequest(t, srv, http.MethodPost, "/process/circular?crop_width=21&crop_height=20", body, ctype)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for crop over the configured limit, got %d", rec.Code)
	}

	body, ctype = multipartBody(t, "file", upload{"big.png", testPNG(t, 30, 30)})
	rec = doRequest(t, srv, http.MethodPost, "/process/grayscale", body, ctype)
	if rec.Code != http.StatusInternalServerError || !strings.Contains(rec.Body.String(), "pixel limit") {
		t.Fatalf("expected oversized upload to fail decoding, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAllReturnsManifest(t *testing.T) {
	srv := newTestServer(t, Options{})
	body, ctype := multipartBody(t, "file", upload{"x.png", testPNG(t, 20, 20)})

	rec := doRequest(t, srv, http.MethodPost, "/process/all", body, ctype)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Message  string `json:"message"`
		Variants map[string]struct {
			Size   int    `json:"size"`
			Format string `json:"format"`
		} `json:"variants"`
	}
	decodeBody(t, rec, &resp)
	if len(resp.Variants) != 3 {
		t.Fatalf("expected 3 variants, got %d", len(resp.Variants))
	}
	for _, name := range []string{"opacity", "grayscale", "circular"} {
		v, ok := resp.Variants[name]
		if !ok || v.Size <= 0 || v.Format != "PNG" {
			t.Fatalf("unexpected manifest entry %s: %+v", name, v)
		}
	}
}

func TestBatchReturnsOrderedZip(t *testing.T) {
	srv := newTestServer(t, Options{})
	body, ctype := multipartBody(t, "files",
		upload{"c.png", testPNG(t, 6, 6)},
		upload{"a.png", testPNG(t, 5, 7)},
		upload{"b.png", testPNG(t, 3, 3)},
	)

	rec := doRequest(t, srv, http.MethodPost, "/process/batch/grayscale", body, ctype)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "application/zip" {
		t.Fatalf("expected application/zip, got %s", got)
	}
	if got := rec.Header().Get("Content-Disposition"); got != "attachment; filename=batch_grayscale.zip" {
		t.Fatalf("unexpected content disposition %q", got)
	}

	archive := rec.Body.Bytes()
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	want := []string{"bw_c.png", "bw_a.png", "bw_b.png"}
	if len(zr.File) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(zr.File))
	}
	for i, f := range zr.File {
		if f.Name != want[i] {
			t.Fatalf("entry %d: expected %s, got %s", i, want[i], f.Name)
		}
	}
}

func TestBatchAbortsOnCorruptFile(t *testing.T) {
	srv := newTestServer(t, Options{})
	body, ctype := multipartBody(t, "files",
		upload{"good.png", testPNG(t, 4, 4)},
		upload{"bad.png", []byte("broken")},
		upload{"good2.png", testPNG(t, 4, 4)},
	)

	rec := doRequest(t, srv, http.MethodPost, "/process/batch/opacity", body, ctype)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if rec.Header().Get("Content-Type") == "application/zip" {
		t.Fatal("expected no archive for an aborted batch")
	}
	var errBody map[string]string
	decodeBody(t, rec, &errBody)
	if !strings.HasPrefix(errBody["error"], "Batch processing failed: ") {
		t.Fatalf("unexpected error message %q", errBody["error"])
	}
}

func TestBatchRejectsBadRequests(t *testing.T) {
	srv := newTestServer(t, Options{})

	body, ctype := multipartBody(t, "files", upload{"a.png", testPNG(t, 2, 2)})
	if rec := doRequest(t, srv, http.MethodPost, "/process/batch/sepia", body, ctype); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown variant, got %d", rec.Code)
	}

	body, ctype = multipartBody(t, "files", upload{"a.png", testPNG(t, 2, 2)})
	if rec := doRequest(t, srv, http.MethodPost, "/process/batch/all?opacity=2", body, ctype); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad opacity, got %d", rec.Code)
	}

	body, ctype = multipartBody(t, "file", upload{"a.png", testPNG(t, 2, 2)})
	rec := doRequest(t, srv, http.MethodPost, "/process/batch/grayscale", body, ctype)
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "at least one file is required") {
		t.Fatalf("expected 400 for empty batch, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUploadLimit(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	srv := NewServer(logger, config.APIConfig{MaxUploadBytes: 512, MaxConcurrentWork: 1}, Options{})
	body, ctype := multipartBody(t, "file", upload{"big.png", bytes.Repeat([]byte{1}, 4096)})

	rec := doRequest(t, srv, http.MethodPost, "/process/grayscale", body, ctype)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}

func TestJobLifecycle(t *testing.T) {
	objects := newFakeStorage()
	jobs := store.NewMemoryJobStore()
	enqueuer := &fakeQueue{}
	srv := newTestServer(t, Options{Queue: enqueuer, JobStore: jobs, Storage: objects})

	rec := doJSON(t, srv, http.MethodPost, "/v1/jobs", `{"variant":"grayscale","items":[{"name":"a.png"},{"name":"b.png"}]}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		JobID   string       `json:"job_id"`
		Status  string       `json:"status"`
		Uploads []uploadSlot `json:"uploads"`
	}
	decodeBody(t, rec, &created)
	if created.Status != domain.JobStatusCreated || len(created.Uploads) != 2 {
		t.Fatalf("unexpected create response: %+v", created)
	}
	if created.Uploads[1].ObjectKey != "uploads/"+created.JobID+"/0001" || created.Uploads[1].PresignedPutURL == "" {
		t.Fatalf("unexpected upload slot: %+v", created.Uploads[1])
	}

	objects.put(created.Uploads[0].ObjectKey)
	rec = doJSON(t, srv, http.MethodPost, "/v1/jobs/"+created.JobID+"/start", "")
	if rec.Code != http.StatusConflict || !strings.Contains(rec.Body.String(), "b.png") {
		t.Fatalf("expected 409 naming the missing upload, got %d: %s", rec.Code, rec.Body.String())
	}

	objects.put(created.Uploads[1].ObjectKey)
	rec = doJSON(t, srv, http.MethodPost, "/v1/jobs/"+created.JobID+"/start", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(enqueuer.payloads) != 1 || enqueuer.payloads[0].JobID != created.JobID || enqueuer.payloads[0].Variant != "grayscale" {
		t.Fatalf("unexpected enqueued payloads: %+v", enqueuer.payloads)
	}

	rec = doJSON(t, srv, http.MethodPost, "/v1/jobs/"+created.JobID+"/start", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on second start, got %d", rec.Code)
	}

	if _, err := jobs.Finish(context.Background(), created.JobID, domain.JobStatusSucceeded, "outputs/"+created.JobID+"/batch_grayscale.zip", ""); err != nil {
		t.Fatalf("finish: %v", err)
	}
	rec = doJSON(t, srv, http.MethodGet, "/v1/jobs/"+created.JobID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got jobResponse
	decodeBody(t, rec, &got)
	if got.Status != domain.JobStatusSucceeded || !strings.Contains(got.DownloadURL, "batch_grayscale.zip") {
		t.Fatalf("unexpected job response: %+v", got)
	}
}

func TestCreateJobValidation(t *testing.T) {
	srv := newTestServer(t, Options{Queue: &fakeQueue{}, JobStore: store.NewMemoryJobStore(), Storage: newFakeStorage()})

	cases := []string{
		`{"variant":"sepia","items":[{"name":"a.png"}]}`,
		`{"variant":"opacity","opacity":3,"items":[{"name":"a.png"}]}`,
		`{"variant":"grayscale","items":[]}`,
		`{"variant":"grayscale","items":[{"name":"../a.png"}]}`,
		`{"variant":"grayscale","items":[{"name":"a.png"}],"unknown":true}`,
		`{"variant":"circular","circular":{"crop_width":1099511627776,"crop_height":2,"zoom_factor":0.5},"items":[{"name":"a.png"}]}`,
	}
	for _, body := range cases {
		if rec := doJSON(t, srv, http.MethodPost, "/v1/jobs", body); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", body, rec.Code)
		}
	}

	if rec := doJSON(t, srv, http.MethodGet, "/v1/jobs/not-a-job", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown job, got %d", rec.Code)
	}
}

func TestJobsUnavailableWithoutCollaborators(t *testing.T) {
	srv := newTestServer(t, Options{})
	rec := doJSON(t, srv, http.MethodPost, "/v1/jobs", `{"variant":"grayscale","items":[{"name":"a.png"}]}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestRateLimitRejectsPosts(t *testing.T) {
	limiter := &fakeLimiter{allow: false}
	srv := newTestServer(t, Options{RateLimiter: limiter})

	body, ctype := multipartBody(t, "files", upload{"a.png", testPNG(t, 2, 2)})
	rec := doRequest(t, srv, http.MethodPost, "/process/batch/grayscale", body, ctype)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "2" {
		t.Fatalf("expected Retry-After 2, got %q", rec.Header().Get("Retry-After"))
	}
	if limiter.lastCost != 5 || limiter.lastSubject != "anonymous:/process/batch/{variant}" {
		t.Fatalf("unexpected limiter call subject=%s cost=%d", limiter.lastSubject, limiter.lastCost)
	}

	rec = doRequest(t, srv, http.MethodGet, "/health", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected GET to bypass rate limiting, got %d", rec.Code)
	}
}

func TestRouteLabel(t *testing.T) {
	cases := map[string]string{
		"/v1/jobs":               "/v1/jobs",
		"/v1/jobs/abc":           "/v1/jobs/{id}",
		"/v1/jobs/abc/start":     "/v1/jobs/{id}/start",
		"/process/batch/opacity": "/process/batch/{variant}",
		"/process/grayscale":     "/process/grayscale",
		"/process/../../etc":     "other",
		"/health":                "/health",
		"/favicon.ico":           "other",
	}
	for path, want := range cases {
		if got := routeLabel(path); got != want {
			t.Fatalf("routeLabel(%q): expected %s, got %s", path, want, got)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, Options{})
	doRequest(t, srv, http.MethodGet, "/health", nil, "")

	rec := doRequest(t, srv, http.MethodGet, "/metrics", nil, "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "pixelvariant_api_requests_total") {
		t.Fatalf("expected request counter in metrics output, got %d", rec.Code)
	}
}

type fakeQueue struct {
	mu       sync.Mutex
	payloads []queue.BatchPayload
}

func (q *fakeQueue) EnqueueBatch(_ context.Context, payload queue.BatchPayload) (*asynq.TaskInfo, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.payloads = append(q.payloads, payload)
	return &asynq.TaskInfo{ID: payload.JobID, Queue: "default", State: asynq.TaskStatePending, NextProcessAt: time.Now()}, nil
}

type fakeStorage struct {
	mu      sync.Mutex
	objects map[string]bool
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: make(map[string]bool)}
}

func (s *fakeStorage) put(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = true
}

func (s *fakeStorage) PresignedPutURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "http://minio.test/put/" + key, nil
}

func (s *fakeStorage) PresignedGetURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "http://minio.test/get/" + key, nil
}

func (s *fakeStorage) ObjectExists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.objects[key], nil
}

type fakeLimiter struct {
	allow       bool
	lastSubject string
	lastCost    int
}

func (l *fakeLimiter) AllowN(_ context.Context, subject string, cost int) (ratelimit.Decision, error) {
	l.lastSubject = subject
	l.lastCost = cost
	return ratelimit.Decision{Allowed: l.allow, RetryAfter: 1600 * time.Millisecond}, nil
}

func newTestServer(t *testing.T, opts Options) *Server {
	t.Helper()
	return NewServer(log.New(io.Discard, "", 0), config.APIConfig{MaxConcurrentWork: 2}, opts)
}

func doRequest(t *testing.T, srv *Server, method, target string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func doJSON(t *testing.T, srv *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	return doRequest(t, srv, method, target, reader, "application/json")
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, into any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), into); err != nil {
		t.Fatalf("decode response body %q: %v", rec.Body.String(), err)
	}
}

func multipartBody(t *testing.T, field string, files ...upload) (io.Reader, string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		part, err := mw.CreateFormFile(field, f.name)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := part.Write(f.data); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(20 * x), G: uint8(10 * y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}
