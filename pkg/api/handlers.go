package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/snapgate/snapgate/pkg/blob"
	"github.com/snapgate/snapgate/pkg/config"
	"github.com/snapgate/snapgate/pkg/presign"
	"github.com/snapgate/snapgate/pkg/pstree"
	"github.com/snapgate/snapgate/pkg/render"
)

var screenshotParams = map[string]bool{
	"url": true, "format": true, "quality": true, "width": true,
	"height": true, "scale": true, "full_page": true,
	"omit_background": true, "ttl": true,
}

var pdfParams = map[string]bool{
	"url": true, "scale": true, "omit_background": true, "ttl": true,
}

func (s *Server) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	bucketName, bucket, ok := s.admit(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	if err := rejectUnknownParams(query, screenshotParams); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}

	params := bucket.ScreenshotTaskParams
	req := render.Request{
		Kind:       render.KindScreenshot,
		URL:        query.Get("url"),
		Format:     render.Format(*params.Format),
		Quality:    *params.Quality,
		Width:      *params.Width,
		Height:     *params.Height,
		Scale:      *params.Scale,
		TTLSeconds: *params.TTL,
	}
	if params.FullPage != nil {
		req.FullPage = *params.FullPage
	}
	if params.OmitBackground != nil {
		req.OmitBackground = *params.OmitBackground
	}

	var err error
	if v := query.Get("format"); v != "" {
		if req.Format, err = render.ParseFormat(v); err != nil {
			WriteBadRequest(w, err.Error())
			return
		}
	}
	if err := overrideInt(query, "quality", &req.Quality); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	if err := overrideInt(query, "width", &req.Width); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	if err := overrideInt(query, "height", &req.Height); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	if err := overrideInt(query, "scale", &req.Scale); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	if err := overrideBool(query, "full_page", &req.FullPage); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	if err := overrideBool(query, "omit_background", &req.OmitBackground); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	if err := overrideUint64(query, "ttl", &req.TTLSeconds); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}

	s.serveRender(w, r, bucketName, req, 0)
}

func (s *Server) handlePDF(w http.ResponseWriter, r *http.Request) {
	bucketName, bucket, ok := s.admit(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	if err := rejectUnknownParams(query, pdfParams); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}

	params := bucket.PDFTaskParams
	req := render.Request{
		Kind:       render.KindPDF,
		URL:        query.Get("url"),
		Scale:      *params.Scale,
		TTLSeconds: *params.TTL,
	}
	if params.OmitBackground != nil {
		req.OmitBackground = *params.OmitBackground
	}

	if err := overrideInt(query, "scale", &req.Scale); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	if err := overrideBool(query, "omit_background", &req.OmitBackground); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	if err := overrideUint64(query, "ttl", &req.TTLSeconds); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}

	settle := time.Duration(*params.SettleSeconds) * time.Second
	s.serveRender(w, r, bucketName, req, settle)
}

// admit resolves the bucket from the path and applies its quota.
func (s *Server) admit(w http.ResponseWriter, r *http.Request) (string, config.Bucket, bool) {
	name := r.PathValue("bucket")
	bucket, ok := s.cfg.Buckets[name]
	if !ok {
		WriteNotFound(w, fmt.Sprintf("unknown bucket %q", name))
		return "", config.Bucket{}, false
	}
	if limiter, ok := s.nsLimiters[name]; ok {
		allowed, retryAfter, err := limiter.Allow(r.Context(), name)
		if err != nil {
			WriteInternal(w, s.logger, err)
			return "", config.Bucket{}, false
		}
		if !allowed {
			WriteTooManyRequests(w, retrySeconds(retryAfter))
			return "", config.Bucket{}, false
		}
	}
	return name, bucket, true
}

// serveRender answers from cache when the artifact is still fresh,
// otherwise queues a render task and waits for the worker's reply.
func (s *Server) serveRender(w http.ResponseWriter, r *http.Request, bucketName string, req render.Request, settle time.Duration) {
	if err := req.Validate(); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	path, err := req.Path()
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	store, ok := s.stores[bucketName]
	if !ok {
		WriteInternal(w, s.logger, fmt.Errorf("no store for bucket %q", bucketName))
		return
	}

	ctx := r.Context()
	if location, ok := s.cachedLocation(ctx, store, path, req.TTLSeconds); ok {
		s.metrics.RecordCacheHit(ctx, bucketName, string(req.Kind))
		s.logger.Debug("cache hit", "bucket", bucketName, "path", path)
		http.Redirect(w, r, location, http.StatusFound)
		return
	}

	task := render.NewTask(bucketName, req, path, settle)
	if err := s.queue.Push(task); err != nil {
		WriteServiceUnavailable(w, "service is shutting down")
		return
	}

	select {
	case res := <-task.Done():
		if !res.OK {
			WriteInternal(w, s.logger, fmt.Errorf("render failed for %s", req.URL))
			return
		}
		http.Redirect(w, r, res.URL, http.StatusFound)
	case <-ctx.Done():
		// Client went away; the worker will still render and cache.
	}
}

// cachedLocation probes the store and presigns the artifact when it is
// younger than ttl.
func (s *Server) cachedLocation(ctx context.Context, store blob.Store, path string, ttlSeconds uint64) (string, bool) {
	exists, err := store.Exists(ctx, path)
	if err != nil || !exists {
		return "", false
	}
	info, err := store.Stat(ctx, path)
	if err != nil {
		if !errors.Is(err, blob.ErrNotExist) {
			s.logger.Warn("cache stat failed", "path", path, "err", err)
		}
		return "", false
	}
	if s.now().After(info.LastModified.Add(time.Duration(ttlSeconds) * time.Second)) {
		return "", false
	}
	location, err := store.PresignRead(ctx, path, presign.DefaultExpiry)
	if err != nil {
		s.logger.Warn("presign failed", "path", path, "err", err)
		return "", false
	}
	return location, true
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	tree, err := pstree.Self()
	if err != nil {
		WriteInternal(w, s.logger, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(tree))
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func rejectUnknownParams(query url.Values, allowed map[string]bool) error {
	for key := range query {
		if !allowed[key] {
			return fmt.Errorf("unknown parameter %q", key)
		}
	}
	return nil
}

func overrideInt(query url.Values, key string, dst *int) error {
	v := query.Get(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("parameter %q: %w", key, err)
	}
	*dst = n
	return nil
}

func overrideUint64(query url.Values, key string, dst *uint64) error {
	v := query.Get(key)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return fmt.Errorf("parameter %q: %w", key, err)
	}
	*dst = n
	return nil
}

func overrideBool(query url.Values, key string, dst *bool) error {
	v := query.Get(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("parameter %q: %w", key, err)
	}
	*dst = b
	return nil
}
