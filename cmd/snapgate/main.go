// Command snapgate serves screenshot and PDF renders of web pages. It
// drives a shared headless Chromium through a worker pool, stores the
// artifacts per tenant bucket and redirects clients to presigned URLs.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/snapgate/snapgate/pkg/api"
	"github.com/snapgate/snapgate/pkg/blob"
	"github.com/snapgate/snapgate/pkg/browser"
	"github.com/snapgate/snapgate/pkg/config"
	"github.com/snapgate/snapgate/pkg/observability"
	"github.com/snapgate/snapgate/pkg/ratelimit"
	"github.com/snapgate/snapgate/pkg/render"
)

const version = "0.3.0"

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to the JSON config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.LogLevel(),
	}))
	slog.SetDefault(logger)

	if err := run(*configPath, logger); err != nil {
		logger.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listen := os.Getenv("SNAPGATE_LISTEN"); listen != "" {
		cfg.HTTP.Listen = listen
	}
	if err := os.MkdirAll(cfg.HTTP.StaticRoot, 0o755); err != nil {
		return fmt.Errorf("ensure static root: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics, err := observability.New(ctx, observability.Config{
		ServiceName:    "snapgate",
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Insecure:       cfg.Telemetry.Insecure,
	})
	if err != nil {
		return err
	}

	// The browser outlives the signal context: shutdown drains the
	// worker pool first and closes the browser explicitly.
	b, err := browser.Launch(context.Background(), browser.Config{
		Args:     cfg.Browser.Args,
		Width:    cfg.Browser.Width,
		Height:   cfg.Browser.Height,
		Port:     cfg.Browser.Port,
		ExecPath: cfg.Browser.ExecPath,
	}, logger.With("component", "browser"))
	if err != nil {
		return err
	}
	defer b.Close()

	stores, err := buildStores(ctx, cfg)
	if err != nil {
		return err
	}
	ipLimiter, nsLimiters, err := buildLimiters(cfg)
	if err != nil {
		return err
	}

	queue := render.NewQueue()
	if err := metrics.RegisterQueueDepth(func() int64 { return int64(queue.Depth()) }); err != nil {
		return err
	}
	supervisor := render.NewSupervisor(render.SupervisorConfig{
		Screenshots:       cfg.Browser.PoolSize,
		PDFs:              cfg.Browser.PDFPoolSize,
		NavigationTimeout: time.Duration(cfg.Browser.NavigationTimeoutSecs) * time.Second,
	}, queue, pageFactory(b), storeResolver(stores), metrics, logger.With("component", "pool"))
	if err := supervisor.Start(); err != nil {
		return err
	}

	server := api.NewServer(cfg, queue, stores, ipLimiter, nsLimiters, metrics, logger.With("component", "http"))
	httpServer := &http.Server{
		Addr:    cfg.HTTP.Listen,
		Handler: server.Routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.HTTP.Listen)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var fatalErr error
	select {
	case err := <-errCh:
		return err
	case fatalErr = <-supervisor.Fatal():
		logger.Error("worker pool lost, exiting", "err", fatalErr)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "err", err)
	}
	supervisor.Stop()
	if err := metrics.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics shutdown", "err", err)
	}
	return fatalErr
}

// pageFactory adapts the browser to the pool's page interface.
func pageFactory(b *browser.Browser) render.PageFactory {
	return render.PageFactoryFunc(func(ctx context.Context) (render.Page, error) {
		return b.NewPage(ctx)
	})
}

func storeResolver(stores map[string]blob.Store) render.StoreResolver {
	return func(bucket string) (blob.Store, bool) {
		s, ok := stores[bucket]
		return s, ok
	}
}

// buildStores constructs one blob store per configured bucket from its
// dal settings.
func buildStores(ctx context.Context, cfg *config.Config) (map[string]blob.Store, error) {
	stores := make(map[string]blob.Store, len(cfg.Buckets))
	for name, bucket := range cfg.Buckets {
		switch bucket.DAL["type"] {
		case "s3":
			store, err := blob.NewS3Store(ctx, blob.S3Config{
				Bucket:   bucket.DAL["bucket"],
				Region:   bucket.DAL["region"],
				Endpoint: bucket.DAL["endpoint"],
				Prefix:   bucket.DAL["prefix"],
			})
			if err != nil {
				return nil, fmt.Errorf("bucket %s: %w", name, err)
			}
			stores[name] = store
		default:
			root := bucket.DAL["root"]
			if root == "" {
				root = cfg.HTTP.StaticRoot
			}
			store, err := blob.NewFSStore(root, publicPrefix(cfg.HTTP.StaticRoot, root), bucket.AccessToken)
			if err != nil {
				return nil, fmt.Errorf("bucket %s: %w", name, err)
			}
			stores[name] = store
		}
	}
	return stores, nil
}

// publicPrefix maps a filesystem root onto the /static/ URL space. A
// root nested under the served static directory keeps its relative
// path in the prefix.
func publicPrefix(staticRoot, root string) string {
	rel, err := filepath.Rel(staticRoot, root)
	if err != nil || rel == "." {
		return "/static"
	}
	if strings.HasPrefix(rel, "..") {
		return "/static"
	}
	return "/static/" + filepath.ToSlash(rel)
}

// buildLimiters constructs the global IP limiter and the per-bucket
// namespace limiters on the configured store backend.
func buildLimiters(cfg *config.Config) (ratelimit.Store, map[string]ratelimit.Store, error) {
	var client *redis.Client
	if ls := cfg.HTTP.LimiterStore; ls != nil && ls.Type == "redis" {
		client = redis.NewClient(&redis.Options{
			Addr:     ls.Addr,
			Password: ls.Password,
			DB:       ls.DB,
		})
	}

	newStore := func(scope string, q ratelimit.Quota) (ratelimit.Store, error) {
		if client != nil {
			return ratelimit.NewRedisStore(client, scope, q)
		}
		return ratelimit.NewLimiter(q)
	}

	ipLimiter, err := newStore("ip", cfg.HTTP.RateLimiting)
	if err != nil {
		return nil, nil, err
	}
	nsLimiters := make(map[string]ratelimit.Store, len(cfg.Buckets))
	for name, bucket := range cfg.Buckets {
		limiter, err := newStore("bucket", bucket.RateLimiting)
		if err != nil {
			return nil, nil, fmt.Errorf("bucket %s: %w", name, err)
		}
		nsLimiters[name] = limiter
	}
	return ipLimiter, nsLimiters, nil
}
