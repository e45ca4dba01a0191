package browser

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// deviceScaleFactor matches the forced factor in the default launch
// args; the metrics override keeps captures crisp on low-DPI hosts.
const deviceScaleFactor = 2.0

// ScreenshotOptions parameterize one capture. Scale is the clip scale
// (the request's tenths value divided by 10).
type ScreenshotOptions struct {
	Format         string // "png", "jpeg" or "webp"
	Quality        int64  // 1..100, ignored for png
	Width          int64
	Height         int64
	Scale          float64
	FullPage       bool
	OmitBackground bool
}

// PDFOptions parameterize one print-to-PDF.
type PDFOptions struct {
	Scale           float64
	PrintBackground bool
}

// Page is one browser target, owned by a single render worker.
type Page struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// Navigate drives the page to url within timeout. A deadline overrun
// maps to ErrNavigationTimeout.
func (p *Page) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	runCtx := p.ctx
	cancel := func() {}
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(p.ctx, timeout)
	}
	defer cancel()

	if err := chromedp.Run(runCtx, chromedp.Navigate(url)); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrNavigationTimeout
		}
		return err
	}
	return ctx.Err()
}

// Screenshot overrides device metrics to the clip size at DSF 2 and
// captures the requested region.
func (p *Page) Screenshot(_ context.Context, opts ScreenshotOptions) ([]byte, error) {
	var buf []byte

	actions := []chromedp.Action{
		emulation.SetDeviceMetricsOverride(opts.Width, opts.Height, deviceScaleFactor, false),
	}
	if opts.OmitBackground {
		actions = append(actions,
			emulation.SetDefaultBackgroundColorOverride().
				WithColor(&cdp.RGBA{R: 0, G: 0, B: 0, A: 0}))
	}
	actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
		var contentSize *dom.Rect
		if opts.FullPage {
			var err error
			_, _, _, _, _, contentSize, err = page.GetLayoutMetrics().Do(ctx)
			if err != nil {
				return err
			}
		}
		params := page.CaptureScreenshot().
			WithFormat(captureFormat(opts.Format)).
			WithClip(captureClip(opts, contentSize))
		if opts.Format != "png" {
			params = params.WithQuality(opts.Quality)
		}
		if opts.FullPage {
			params = params.WithCaptureBeyondViewport(true)
		}
		var err error
		buf, err = params.Do(ctx)
		return err
	}))
	if opts.OmitBackground {
		// Restore the default background for subsequent tasks.
		actions = append(actions, emulation.SetDefaultBackgroundColorOverride())
	}

	if err := chromedp.Run(p.ctx, actions...); err != nil {
		return nil, err
	}
	return buf, nil
}

// PDF prints the current page.
func (p *Page) PDF(_ context.Context, opts PDFOptions) ([]byte, error) {
	var buf []byte
	err := chromedp.Run(p.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, _, err = page.PrintToPDF().
			WithScale(opts.Scale).
			WithPrintBackground(opts.PrintBackground).
			Do(ctx)
		return err
	}))
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// Reset returns the page to about:blank between tasks.
func (p *Page) Reset(_ context.Context) error {
	return chromedp.Run(p.ctx, chromedp.Navigate("about:blank"))
}

// Close destroys the target.
func (p *Page) Close() {
	p.cancel()
}

// captureClip sizes the capture region. A full-page capture expands
// the clip to the document's CSS content size from layout metrics;
// otherwise the clip is the requested viewport. The request's clip
// scale applies either way.
func captureClip(opts ScreenshotOptions, contentSize *dom.Rect) *page.Viewport {
	clip := &page.Viewport{
		X:      0,
		Y:      0,
		Width:  float64(opts.Width),
		Height: float64(opts.Height),
		Scale:  opts.Scale,
	}
	if opts.FullPage && contentSize != nil {
		clip.X = contentSize.X
		clip.Y = contentSize.Y
		clip.Width = math.Ceil(contentSize.Width)
		clip.Height = math.Ceil(contentSize.Height)
	}
	return clip
}

func captureFormat(format string) page.CaptureScreenshotFormat {
	switch format {
	case "jpeg":
		return page.CaptureScreenshotFormatJpeg
	case "webp":
		return page.CaptureScreenshotFormatWebp
	default:
		return page.CaptureScreenshotFormatPng
	}
}
