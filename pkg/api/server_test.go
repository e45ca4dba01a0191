package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapgate/snapgate/pkg/blob"
	"github.com/snapgate/snapgate/pkg/config"
	"github.com/snapgate/snapgate/pkg/presign"
	"github.com/snapgate/snapgate/pkg/ratelimit"
	"github.com/snapgate/snapgate/pkg/render"
)

// stubLimiter scripts one admission decision.
type stubLimiter struct {
	allow      bool
	retryAfter time.Duration
}

func (l *stubLimiter) Allow(context.Context, string) (bool, time.Duration, error) {
	return l.allow, l.retryAfter, nil
}

type fixture struct {
	server *Server
	queue  *render.Queue
	store  *blob.FSStore
	http   http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	store, err := blob.NewFSStore(root, "/static", "token-a")
	require.NoError(t, err)

	cfg := &config.Config{
		HTTP: config.HTTPConfig{
			Listen:     "127.0.0.1:0",
			StaticRoot: root,
		},
		Buckets: map[string]config.Bucket{
			"teama": {
				AccessToken:          "token-a",
				ScreenshotTaskParams: config.DefaultScreenshotParams(),
				PDFTaskParams:        config.DefaultPDFParams(),
			},
		},
	}

	queue := render.NewQueue()
	ip, err := ratelimit.NewLimiter(ratelimit.Quota{Type: ratelimit.QPS, Times: 1000})
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	server := NewServer(cfg, queue, map[string]blob.Store{"teama": store},
		ip, map[string]ratelimit.Store{"teama": &stubLimiter{allow: true}},
		nil, logger)
	return &fixture{
		server: server,
		queue:  queue,
		store:  store,
		http:   server.Routes(),
	}
}

func (f *fixture) get(path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "192.0.2.1:9999"
	rec := httptest.NewRecorder()
	f.http.ServeHTTP(rec, req)
	return rec
}

// respond drains one task off the queue and answers it in place of a
// worker.
func (f *fixture) respond(res render.Result) {
	go func() {
		task, ok := f.queue.Pop()
		if !ok {
			return
		}
		if res.OK && res.URL == "" {
			res.URL = "/static/" + task.Path + "?sig=x"
		}
		task.Finish(res)
	}()
}

func TestScreenshot_MissEnqueuesAndRedirects(t *testing.T) {
	f := newFixture(t)
	f.respond(render.Result{OK: true})

	rec := f.get("/screenshot/teama?url=https://example.com")
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "/static/")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestScreenshot_FreshCacheSkipsQueue(t *testing.T) {
	f := newFixture(t)

	req := render.Request{
		Kind:    render.KindScreenshot,
		URL:     "https://example.com",
		Format:  render.FormatJPEG,
		Quality: 40, Width: 1920, Height: 1080, Scale: 5,
	}
	path, err := req.Path()
	require.NoError(t, err)
	require.NoError(t, f.store.Write(context.Background(), path, []byte("cached")))

	rec := f.get("/screenshot/teama?url=https://example.com")
	require.Equal(t, http.StatusFound, rec.Code)

	location := rec.Header().Get("Location")
	assert.Contains(t, location, path)
	assert.Contains(t, location, "X-Amz-Signature=")
	assert.Equal(t, 0, f.queue.Depth())
}

func TestScreenshot_StaleCacheRendersAgain(t *testing.T) {
	f := newFixture(t)
	f.server.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	f.respond(render.Result{OK: true})

	req := render.Request{
		Kind:    render.KindScreenshot,
		URL:     "https://example.com",
		Format:  render.FormatJPEG,
		Quality: 40, Width: 1920, Height: 1080, Scale: 5,
	}
	path, err := req.Path()
	require.NoError(t, err)
	require.NoError(t, f.store.Write(context.Background(), path, []byte("stale")))

	rec := f.get("/screenshot/teama?url=https://example.com")
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "sig=x")
}

func TestScreenshot_UnknownBucket404(t *testing.T) {
	f := newFixture(t)
	rec := f.get("/screenshot/ghost?url=https://example.com")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestScreenshot_UnknownParam400(t *testing.T) {
	f := newFixture(t)
	rec := f.get("/screenshot/teama?url=https://example.com&detail=high")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScreenshot_InvalidOverride400(t *testing.T) {
	f := newFixture(t)
	for _, q := range []string{
		"url=https://example.com&quality=0",
		"url=https://example.com&quality=abc",
		"url=https://example.com&scale=99",
		"url=https://example.com&format=bmp",
		"url=", // missing url
	} {
		rec := f.get("/screenshot/teama?" + q)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestScreenshot_BucketQuotaExceeded429(t *testing.T) {
	f := newFixture(t)
	f.server.nsLimiters["teama"] = &stubLimiter{allow: false, retryAfter: 42 * time.Second}

	rec := f.get("/screenshot/teama?url=https://example.com")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "42", rec.Header().Get("Retry-After"))
}

func TestScreenshot_ClosedQueue503(t *testing.T) {
	f := newFixture(t)
	f.queue.Close()
	rec := f.get("/screenshot/teama?url=https://example.com")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPDF_EnqueuesWithSettle(t *testing.T) {
	f := newFixture(t)

	got := make(chan *render.Task, 1)
	go func() {
		task, ok := f.queue.Pop()
		if ok {
			got <- task
			task.Finish(render.Result{URL: "/static/x.pdf?sig=x", OK: true})
		}
	}()

	rec := f.get("/pdf/teama?url=https://example.com/doc")
	require.Equal(t, http.StatusFound, rec.Code)

	task := <-got
	assert.Equal(t, render.KindPDF, task.Request.Kind)
	assert.Equal(t, 10*time.Second, task.Settle)
}

func TestStatic_RejectsUnsignedRequests(t *testing.T) {
	f := newFixture(t)
	rec := f.get("/static/aa/bb.jpg")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStatic_ServesPresignedArtifact(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Write(context.Background(), "aa/bb.jpg", []byte("artifact")))

	location, err := f.store.PresignRead(context.Background(), "aa/bb.jpg", presign.DefaultExpiry)
	require.NoError(t, err)

	rec := f.get(location)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "artifact", rec.Body.String())
}

func TestStatic_RejectsUnknownCredential(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Write(context.Background(), "aa/bb.jpg", []byte("artifact")))

	signed := presign.Sign("/static/aa/bb.jpg", "wrong-token")
	rec := f.get(signed.String())
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStatic_RejectsSignatureForOtherPath(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Write(context.Background(), "aa/bb.jpg", []byte("artifact")))
	require.NoError(t, f.store.Write(context.Background(), "aa/cc.jpg", []byte("other")))

	signed := presign.Sign("/static/aa/bb.jpg", "token-a")
	rec := f.get("/static/aa/cc.jpg?" + signed.QueryString())
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	rec := f.get("/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok\n", rec.Body.String())
}

func TestStats_RendersProcessTree(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("procfs only")
	}
	f := newFixture(t)
	rec := f.get("/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "- ")
}

func TestIPRateLimit_Denies(t *testing.T) {
	handler := RequestID(IPRateLimit(&stubLimiter{allow: false, retryAfter: 3 * time.Second},
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "192.0.2.7:1234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "3", rec.Header().Get("Retry-After"))
}

func TestRejectUnknownParams(t *testing.T) {
	q := url.Values{"url": {"x"}, "bogus": {"1"}}
	assert.Error(t, rejectUnknownParams(q, screenshotParams))
	delete(q, "bogus")
	assert.NoError(t, rejectUnknownParams(q, screenshotParams))
}
