// Package render owns the task queue and the worker pool that drive
// the shared browser. Handlers enqueue tasks; workers pop them, render
// through their page, write the artifact to the bucket's blob store and
// answer with a presigned URL.
package render

import (
	"fmt"

	"github.com/snapgate/snapgate/pkg/fingerprint"
)

// Kind discriminates the two task flavours.
type Kind string

const (
	KindScreenshot Kind = "screenshot"
	KindPDF        Kind = "pdf"
)

// Format is the artifact image format. PDFs always use FormatPDF.
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
	FormatWebP Format = "webp"
	FormatPDF  Format = "pdf"
)

// ParseFormat validates a user-supplied screenshot format.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatPNG, FormatJPEG, FormatWebP:
		return Format(s), nil
	}
	return "", fmt.Errorf("unknown format %q", s)
}

// Ext returns the artifact file extension including the dot.
func (f Format) Ext() string {
	switch f {
	case FormatJPEG:
		return ".jpg"
	case FormatWebP:
		return ".webp"
	case FormatPDF:
		return ".pdf"
	default:
		return ".png"
	}
}

// Request is a fully resolved render request: user parameters merged
// with the bucket's defaults. Scale is in tenths (5 means 0.5).
type Request struct {
	Kind           Kind
	URL            string
	Format         Format
	Quality        int
	Width          int
	Height         int
	Scale          int
	FullPage       bool
	OmitBackground bool
	TTLSeconds     uint64
}

// Validate checks ranges after merging defaults.
func (r *Request) Validate() error {
	if r.URL == "" {
		return fmt.Errorf("url is required")
	}
	if r.Scale < 1 || r.Scale > 20 {
		return fmt.Errorf("scale %d out of range [1,20]", r.Scale)
	}
	switch r.Kind {
	case KindScreenshot:
		if r.Format == FormatPDF {
			return fmt.Errorf("format pdf is not a screenshot format")
		}
		if _, err := ParseFormat(string(r.Format)); err != nil {
			return err
		}
		if r.Quality < 1 || r.Quality > 100 {
			return fmt.Errorf("quality %d out of range [1,100]", r.Quality)
		}
		if r.Width < 1 || r.Height < 1 {
			return fmt.Errorf("viewport %dx%d is degenerate", r.Width, r.Height)
		}
	case KindPDF:
	default:
		return fmt.Errorf("unknown task kind %q", r.Kind)
	}
	return nil
}

// Key derives the artifact key for the request. Fields are hashed in a
// fixed order; ttl is excluded so freshness changes never move the
// artifact.
func (r *Request) Key() (string, error) {
	var fields []fingerprint.Field
	switch r.Kind {
	case KindPDF:
		fields = []fingerprint.Field{
			fingerprint.String("url", r.URL),
			fingerprint.Int("scale", r.Scale),
			fingerprint.Bool("omit_background", r.OmitBackground),
		}
	default:
		fields = []fingerprint.Field{
			fingerprint.String("url", r.URL),
			fingerprint.String("format", string(r.Format)),
			fingerprint.Int("quality", r.Quality),
			fingerprint.Int("width", r.Width),
			fingerprint.Int("height", r.Height),
			fingerprint.Int("scale", r.Scale),
			fingerprint.Bool("full_page", r.FullPage),
			fingerprint.Bool("omit_background", r.OmitBackground),
		}
	}
	return fingerprint.Key(r.URL, fields)
}

// Ext returns the artifact extension for the request.
func (r *Request) Ext() string {
	if r.Kind == KindPDF {
		return FormatPDF.Ext()
	}
	return r.Format.Ext()
}

// Path returns the blob store path for the request's artifact.
func (r *Request) Path() (string, error) {
	key, err := r.Key()
	if err != nil {
		return "", err
	}
	return key + r.Ext(), nil
}
