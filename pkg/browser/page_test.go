package browser

import (
	"testing"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/page"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCaptureClip_ViewportByDefault(t *testing.T) {
	clip := captureClip(ScreenshotOptions{Width: 1920, Height: 1080, Scale: 0.5}, nil)
	assert.Equal(t, &page.Viewport{Width: 1920, Height: 1080, Scale: 0.5}, clip)
}

func TestCaptureClip_FullPageExpandsToContentSize(t *testing.T) {
	opts := ScreenshotOptions{Width: 1920, Height: 1080, Scale: 0.5, FullPage: true}
	content := &dom.Rect{X: 0, Y: 0, Width: 1920, Height: 8437.5}

	clip := captureClip(opts, content)
	assert.Equal(t, 8438.0, clip.Height, "clip must cover the whole document, rounded up")
	assert.Equal(t, 1920.0, clip.Width)
	assert.Equal(t, 0.5, clip.Scale)

	viewport := captureClip(ScreenshotOptions{Width: 1920, Height: 1080, Scale: 0.5}, content)
	require.NotEqual(t, viewport.Height, clip.Height)
}

func TestCaptureClip_FullPageWithoutMetricsFallsBack(t *testing.T) {
	opts := ScreenshotOptions{Width: 800, Height: 600, Scale: 1, FullPage: true}
	clip := captureClip(opts, nil)
	assert.Equal(t, 600.0, clip.Height)
}

func TestCaptureFormat(t *testing.T) {
	assert.Equal(t, page.CaptureScreenshotFormatJpeg, captureFormat("jpeg"))
	assert.Equal(t, page.CaptureScreenshotFormatWebp, captureFormat("webp"))
	assert.Equal(t, page.CaptureScreenshotFormatPng, captureFormat("png"))
	assert.Equal(t, page.CaptureScreenshotFormatPng, captureFormat(""))
}

func TestSplitFlag(t *testing.T) {
	name, value := splitFlag("--headless")
	assert.Equal(t, "headless", name)
	assert.Equal(t, true, value)

	name, value = splitFlag("--lang=en_US")
	assert.Equal(t, "lang", name)
	assert.Equal(t, "en_US", value)
}
