package render

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/snapgate/snapgate/pkg/blob"
	"github.com/snapgate/snapgate/pkg/browser"
	"github.com/snapgate/snapgate/pkg/observability"
	"github.com/snapgate/snapgate/pkg/presign"
)

// Page is the browser surface a worker drives. *browser.Page
// implements it; tests substitute fakes.
type Page interface {
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	Screenshot(ctx context.Context, opts browser.ScreenshotOptions) ([]byte, error)
	PDF(ctx context.Context, opts browser.PDFOptions) ([]byte, error)
	Reset(ctx context.Context) error
	Close()
}

// PageFactory opens pages for workers. The supervisor uses it to
// replace crashed pages.
type PageFactory interface {
	NewPage(ctx context.Context) (Page, error)
}

// PageFactoryFunc adapts a function to PageFactory.
type PageFactoryFunc func(ctx context.Context) (Page, error)

func (f PageFactoryFunc) NewPage(ctx context.Context) (Page, error) {
	return f(ctx)
}

// StoreResolver maps a bucket name to its blob store.
type StoreResolver func(bucket string) (blob.Store, bool)

// Class labels a worker for pool sizing and metric attributes. Workers
// of either class pop from the same queue.
type Class string

const (
	ClassScreenshot Class = "screenshot"
	ClassPDF        Class = "pdf"
)

type worker struct {
	id      int
	class   Class
	page    Page
	queue   *Queue
	stores  StoreResolver
	metrics *observability.Metrics
	logger  *slog.Logger

	navTimeout time.Duration
	sleep      func(ctx context.Context, d time.Duration) // injectable for tests
}

// run pops tasks until the queue drains or the page dies. A navigation
// timeout poisons the page, so the worker closes it and returns true
// to ask for a replacement. Returning false means a clean exit.
func (w *worker) run(ctx context.Context) (replace bool) {
	for {
		task, ok := w.queue.Pop()
		if !ok {
			return false
		}
		if err := ctx.Err(); err != nil {
			task.Finish(Result{})
			return false
		}

		start := time.Now()
		url, err := w.render(ctx, task)
		w.metrics.RecordRender(ctx, task.Bucket, string(task.Request.Kind), err == nil, time.Since(start))

		if err != nil {
			task.Finish(Result{})
			if errors.Is(err, browser.ErrNavigationTimeout) {
				w.logger.Warn("navigation timed out, replacing page",
					"worker", w.id, "bucket", task.Bucket, "url", task.Request.URL)
				w.page.Close()
				return true
			}
			w.logger.Error("render failed",
				"worker", w.id, "bucket", task.Bucket, "kind", task.Request.Kind, "err", err)
			if rerr := w.page.Reset(ctx); rerr != nil {
				w.page.Close()
				return true
			}
			continue
		}

		task.Finish(Result{URL: url, OK: true})

		if err := w.page.Reset(ctx); err != nil {
			w.logger.Warn("page reset failed, replacing page", "worker", w.id, "err", err)
			w.page.Close()
			return true
		}
	}
}

// render navigates, captures, persists and presigns one task.
func (w *worker) render(ctx context.Context, task *Task) (string, error) {
	req := &task.Request
	start := time.Now()

	if err := w.page.Navigate(ctx, req.URL, w.navTimeout); err != nil {
		return "", err
	}
	if task.Settle > 0 {
		w.sleep(ctx, task.Settle)
		if err := ctx.Err(); err != nil {
			return "", err
		}
	}
	navigated := time.Now()

	var data []byte
	var err error
	switch req.Kind {
	case KindPDF:
		data, err = w.page.PDF(ctx, browser.PDFOptions{
			Scale:           float64(req.Scale) / 10,
			PrintBackground: !req.OmitBackground,
		})
	default:
		data, err = w.page.Screenshot(ctx, browser.ScreenshotOptions{
			Format:         string(req.Format),
			Quality:        int64(req.Quality),
			Width:          int64(req.Width),
			Height:         int64(req.Height),
			Scale:          float64(req.Scale) / 10,
			FullPage:       req.FullPage,
			OmitBackground: req.OmitBackground,
		})
	}
	if err != nil {
		return "", err
	}
	captured := time.Now()

	store, ok := w.stores(task.Bucket)
	if !ok {
		return "", errors.New("render: no store for bucket " + task.Bucket)
	}
	if err := store.Write(ctx, task.Path, data); err != nil {
		return "", err
	}
	url, err := store.PresignRead(ctx, task.Path, presign.DefaultExpiry)
	if err != nil {
		return "", err
	}

	w.logger.Debug("render complete",
		"worker", w.id, "bucket", task.Bucket, "kind", req.Kind, "path", task.Path,
		"queued", start.Sub(task.EnqueuedAt),
		"navigate", navigated.Sub(start),
		"capture", captured.Sub(navigated),
		"store", time.Since(captured))
	return url, nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
