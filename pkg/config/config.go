// Package config holds the typed server configuration. The config
// file is JSON, loaded from disk at startup and written back with
// defaults on first run. After load the configuration is read-only.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/snapgate/snapgate/pkg/ratelimit"
)

// DefaultPath is where the server looks for its configuration.
const DefaultPath = "./config.json"

// Config is the root configuration.
type Config struct {
	Browser   BrowserConfig     `json:"browser"`
	HTTP      HTTPConfig        `json:"http"`
	Telemetry TelemetryConfig   `json:"telemetry"`
	Buckets   map[string]Bucket `json:"buckets"`
}

// BrowserConfig controls the shared Chromium process and the worker
// pool sizes.
type BrowserConfig struct {
	Args                  []string `json:"args"`
	Width                 int      `json:"width"`
	Height                int      `json:"height"`
	Port                  int      `json:"port"`
	PoolSize              int      `json:"pool_size"`     // screenshot workers
	PDFPoolSize           int      `json:"pdf_pool_size"` // pdf workers
	NavigationTimeoutSecs int      `json:"navigation_timeout_seconds"`
	ExecPath              string   `json:"exec_path,omitempty"`
}

// HTTPConfig controls the listener and global admission control.
type HTTPConfig struct {
	Listen       string              `json:"listen"`
	RateLimiting ratelimit.Quota     `json:"rate_limiting"`
	StaticRoot   string              `json:"static_root"`
	LimiterStore *LimiterStoreConfig `json:"limiter_store,omitempty"`
}

// LimiterStoreConfig selects the backing store for the per-bucket
// namespace limiters. "memory" is the default; "redis" shares state
// across instances.
type LimiterStoreConfig struct {
	Type     string `json:"type"`
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
}

// TelemetryConfig controls OTLP metric export. Empty endpoint
// disables export.
type TelemetryConfig struct {
	OTLPEndpoint string `json:"otlp_endpoint,omitempty"`
	Insecure     bool   `json:"insecure,omitempty"`
}

// Bucket is one tenant namespace.
type Bucket struct {
	AccessToken          string            `json:"access_token"`
	RateLimiting         ratelimit.Quota   `json:"rate_limiting"`
	DAL                  map[string]string `json:"dal"`
	ScreenshotTaskParams *ScreenshotParams `json:"screenshot_task_params,omitempty"`
	PDFTaskParams        *PDFParams        `json:"pdf_task_params,omitempty"`
}

// ScreenshotParams are per-bucket defaults for screenshot requests.
// Nil fields fall back to the built-in defaults.
type ScreenshotParams struct {
	Format         *string `json:"format,omitempty"`
	Quality        *int    `json:"quality,omitempty"`
	Width          *int    `json:"width,omitempty"`
	Height         *int    `json:"height,omitempty"`
	Scale          *int    `json:"scale,omitempty"` // tenths
	TTL            *uint64 `json:"ttl,omitempty"`   // seconds
	FullPage       *bool   `json:"full_page,omitempty"`
	OmitBackground *bool   `json:"omit_background,omitempty"`
}

// PDFParams are per-bucket defaults for PDF requests.
type PDFParams struct {
	Scale          *int    `json:"scale,omitempty"` // tenths
	TTL            *uint64 `json:"ttl,omitempty"`   // seconds
	OmitBackground *bool   `json:"omit_background,omitempty"`
	SettleSeconds  *int    `json:"settle_seconds,omitempty"`
}

// Load reads the config file at path. A missing file is created with
// defaults (pretty-printed) and the defaults returned. Loaded configs
// are normalized: zero values fall back to defaults, and quotas are
// validated.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg := Default()
		data, merr := json.MarshalIndent(cfg, "", "  ")
		if merr != nil {
			return nil, merr
		}
		if werr := os.WriteFile(path, append(data, '\n'), 0o644); werr != nil {
			return nil, fmt.Errorf("write default config: %w", werr)
		}
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration: one "default" bucket
// with an open token, filesystem storage under ./static and a QPM(15)
// quota.
func Default() *Config {
	return &Config{
		Browser: BrowserConfig{
			Args:                  DefaultBrowserArgs(),
			Width:                 1920,
			Height:                1080,
			Port:                  0,
			PoolSize:              2,
			PDFPoolSize:           1,
			NavigationTimeoutSecs: 30,
		},
		HTTP: HTTPConfig{
			Listen:       "0.0.0.0:2023",
			RateLimiting: ratelimit.Quota{Type: ratelimit.QPS, Times: 100},
			StaticRoot:   "./static",
		},
		Buckets: map[string]Bucket{
			"default": defaultBucket(),
		},
	}
}

func defaultBucket() Bucket {
	return Bucket{
		AccessToken:          "",
		RateLimiting:         ratelimit.Quota{Type: ratelimit.QPM, Times: 15},
		DAL:                  map[string]string{"type": "fs", "root": "./static"},
		ScreenshotTaskParams: DefaultScreenshotParams(),
		PDFTaskParams:        DefaultPDFParams(),
	}
}

// DefaultScreenshotParams returns jpeg q40 1920x1080 scale 5 ttl 60.
func DefaultScreenshotParams() *ScreenshotParams {
	return &ScreenshotParams{
		Format:  ptr("jpeg"),
		Quality: ptr(40),
		Width:   ptr(1920),
		Height:  ptr(1080),
		Scale:   ptr(5),
		TTL:     ptr(uint64(60)),
	}
}

// DefaultPDFParams returns scale 5, ttl 60, 10s settle.
func DefaultPDFParams() *PDFParams {
	return &PDFParams{
		Scale:         ptr(5),
		TTL:           ptr(uint64(60)),
		SettleSeconds: ptr(10),
	}
}

func (c *Config) normalize() {
	def := Default()
	b := &c.Browser
	if len(b.Args) == 0 {
		b.Args = DefaultBrowserArgs()
	}
	if b.Width == 0 {
		b.Width = def.Browser.Width
	}
	if b.Height == 0 {
		b.Height = def.Browser.Height
	}
	if b.PoolSize == 0 {
		b.PoolSize = def.Browser.PoolSize
	}
	if b.PDFPoolSize == 0 {
		b.PDFPoolSize = def.Browser.PDFPoolSize
	}
	if b.NavigationTimeoutSecs == 0 {
		b.NavigationTimeoutSecs = def.Browser.NavigationTimeoutSecs
	}

	if c.HTTP.Listen == "" {
		c.HTTP.Listen = def.HTTP.Listen
	}
	if c.HTTP.RateLimiting.Type == "" {
		c.HTTP.RateLimiting = def.HTTP.RateLimiting
	}
	if c.HTTP.StaticRoot == "" {
		c.HTTP.StaticRoot = def.HTTP.StaticRoot
	}

	if len(c.Buckets) == 0 {
		c.Buckets = map[string]Bucket{"default": defaultBucket()}
	}
	for name, bucket := range c.Buckets {
		if bucket.RateLimiting.Type == "" {
			bucket.RateLimiting = ratelimit.Quota{Type: ratelimit.QPM, Times: 15}
		}
		if len(bucket.DAL) == 0 {
			bucket.DAL = map[string]string{"type": "fs", "root": "./static"}
		}
		if bucket.DAL["type"] == "" {
			bucket.DAL["type"] = "fs"
		}
		bucket.ScreenshotTaskParams = mergeScreenshot(bucket.ScreenshotTaskParams)
		bucket.PDFTaskParams = mergePDF(bucket.PDFTaskParams)
		c.Buckets[name] = bucket
	}
}

func mergeScreenshot(p *ScreenshotParams) *ScreenshotParams {
	def := DefaultScreenshotParams()
	if p == nil {
		return def
	}
	if p.Format == nil {
		p.Format = def.Format
	}
	if p.Quality == nil {
		p.Quality = def.Quality
	}
	if p.Width == nil {
		p.Width = def.Width
	}
	if p.Height == nil {
		p.Height = def.Height
	}
	if p.Scale == nil {
		p.Scale = def.Scale
	}
	if p.TTL == nil {
		p.TTL = def.TTL
	}
	return p
}

func mergePDF(p *PDFParams) *PDFParams {
	def := DefaultPDFParams()
	if p == nil {
		return def
	}
	if p.Scale == nil {
		p.Scale = def.Scale
	}
	if p.TTL == nil {
		p.TTL = def.TTL
	}
	if p.SettleSeconds == nil {
		p.SettleSeconds = def.SettleSeconds
	}
	return p
}

func (c *Config) validate() error {
	if err := c.HTTP.RateLimiting.Validate(); err != nil {
		return fmt.Errorf("http.rate_limiting: %w", err)
	}
	for name, bucket := range c.Buckets {
		if err := bucket.RateLimiting.Validate(); err != nil {
			return fmt.Errorf("buckets.%s.rate_limiting: %w", name, err)
		}
		switch bucket.DAL["type"] {
		case "fs":
			// Presigned fs URLs resolve through the /static/ file
			// server rooted at static_root, so the bucket root must
			// nest under it.
			if root := bucket.DAL["root"]; root != "" {
				rel, err := filepath.Rel(c.HTTP.StaticRoot, root)
				if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
					return fmt.Errorf("buckets.%s.dal: root %q is outside http.static_root %q",
						name, root, c.HTTP.StaticRoot)
				}
			}
		case "s3":
		default:
			return fmt.Errorf("buckets.%s.dal: unknown backend type %q", name, bucket.DAL["type"])
		}
	}
	if ls := c.HTTP.LimiterStore; ls != nil {
		switch ls.Type {
		case "", "memory":
		case "redis":
			if ls.Addr == "" {
				return fmt.Errorf("http.limiter_store: redis requires addr")
			}
		default:
			return fmt.Errorf("http.limiter_store: unknown type %q", ls.Type)
		}
	}
	return nil
}

// LogLevel reads the conventional verbosity env var
// (SNAPGATE_LOG=debug|info|warn|error), defaulting to info.
func LogLevel() slog.Level {
	switch strings.ToLower(os.Getenv("SNAPGATE_LOG")) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func ptr[T any](v T) *T { return &v }
