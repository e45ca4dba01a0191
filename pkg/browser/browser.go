// Package browser wraps chromedp with the small page surface the
// render workers need: launch one shared Chromium process, open pages,
// navigate, capture screenshots and PDFs.
//
// A Page is not safe for concurrent use; each render worker owns
// exactly one.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/chromedp/chromedp"
)

// ErrNavigationTimeout reports that a navigation did not complete
// within the configured deadline. Workers treat it as fatal for their
// page and ask the supervisor for a replacement.
var ErrNavigationTimeout = errors.New("browser: navigation timeout")

// Config controls the Chromium launch.
type Config struct {
	Args     []string // raw command-line flags, "--name" or "--name=value"
	Width    int
	Height   int
	Port     int    // remote debugging port, 0 lets Chromium pick
	ExecPath string // optional explicit binary path
}

// Browser owns the shared Chromium process. Only the supervisor
// creates pages from it.
type Browser struct {
	ctx           context.Context
	allocCancel   context.CancelFunc
	browserCancel context.CancelFunc
	logger        *slog.Logger
}

// Launch starts Chromium with the configured flags and waits for the
// devtools connection to come up.
func Launch(ctx context.Context, cfg Config, logger *slog.Logger) (*Browser, error) {
	opts := make([]chromedp.ExecAllocatorOption, 0, len(cfg.Args)+4)
	for _, arg := range cfg.Args {
		name, value := splitFlag(arg)
		opts = append(opts, chromedp.Flag(name, value))
	}
	if cfg.Width > 0 && cfg.Height > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.Width, cfg.Height))
	}
	if cfg.Port > 0 {
		opts = append(opts, chromedp.Flag("remote-debugging-port", strconv.Itoa(cfg.Port)))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// The first Run starts the browser process.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	logger.Debug("browser launched", "args", len(cfg.Args), "port", cfg.Port)
	return &Browser{
		ctx:           browserCtx,
		allocCancel:   allocCancel,
		browserCancel: browserCancel,
		logger:        logger,
	}, nil
}

// NewPage opens a fresh blank page (a new browser target).
func (b *Browser) NewPage(ctx context.Context) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pageCtx, cancel := chromedp.NewContext(b.ctx)
	if err := chromedp.Run(pageCtx, chromedp.Navigate("about:blank")); err != nil {
		cancel()
		return nil, fmt.Errorf("open page: %w", err)
	}
	return &Page{ctx: pageCtx, cancel: cancel}, nil
}

// Close shuts down the browser process and all remaining pages.
func (b *Browser) Close() {
	b.browserCancel()
	b.allocCancel()
}

// splitFlag turns "--name=value" / "--name" into a chromedp flag pair.
func splitFlag(arg string) (string, any) {
	arg = strings.TrimLeft(arg, "-")
	if name, value, ok := strings.Cut(arg, "="); ok {
		return name, value
	}
	return arg, true
}
