package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/snapgate/snapgate/pkg/blob"
	"github.com/snapgate/snapgate/pkg/config"
	"github.com/snapgate/snapgate/pkg/observability"
	"github.com/snapgate/snapgate/pkg/ratelimit"
	"github.com/snapgate/snapgate/pkg/render"
)

// Server holds the handler dependencies.
type Server struct {
	cfg        *config.Config
	queue      *render.Queue
	stores     map[string]blob.Store
	ipLimiter  ratelimit.Store
	nsLimiters map[string]ratelimit.Store
	metrics    *observability.Metrics
	logger     *slog.Logger

	now func() time.Time // injectable clock for cache freshness tests
}

// NewServer wires the HTTP surface. stores and nsLimiters must carry
// one entry per configured bucket.
func NewServer(cfg *config.Config, queue *render.Queue, stores map[string]blob.Store,
	ipLimiter ratelimit.Store, nsLimiters map[string]ratelimit.Store,
	metrics *observability.Metrics, logger *slog.Logger) *Server {
	return &Server{
		cfg:        cfg,
		queue:      queue,
		stores:     stores,
		ipLimiter:  ipLimiter,
		nsLimiters: nsLimiters,
		metrics:    metrics,
		logger:     logger,
		now:        time.Now,
	}
}

// Routes builds the request mux. The global IP limiter and request-id
// middleware wrap everything; the static route additionally verifies
// presigned query parameters.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /screenshot/{bucket}", s.handleScreenshot)
	mux.HandleFunc("GET /screenshot/{bucket}/{$}", s.handleScreenshot)
	mux.HandleFunc("GET /pdf/{bucket}", s.handlePDF)
	mux.HandleFunc("GET /pdf/{bucket}/{$}", s.handlePDF)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	static := http.StripPrefix("/static/",
		http.FileServer(http.Dir(s.cfg.HTTP.StaticRoot)))
	mux.Handle("GET /static/", AccessControl(s.knownCredential, static))

	return RequestID(IPRateLimit(s.ipLimiter, mux))
}

// knownCredential reports whether credential is the access token of
// any configured bucket. Artifacts are shared across buckets, so any
// valid token opens the static route.
func (s *Server) knownCredential(credential string) bool {
	for _, bucket := range s.cfg.Buckets {
		if bucket.AccessToken == credential {
			return true
		}
	}
	return false
}
