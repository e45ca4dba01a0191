package config

// puppeteerArgs is the flag set Puppeteer passes to Chromium by
// default; see
// https://github.com/puppeteer/puppeteer/blob/4846b872/src/node/Launcher.ts#L157
var puppeteerArgs = []string{
	"--disable-background-networking",
	"--enable-features=NetworkService,NetworkServiceInProcess",
	"--disable-background-timer-throttling",
	"--disable-backgrounding-occluded-windows",
	"--disable-breakpad",
	"--disable-client-side-phishing-detection",
	"--disable-component-extensions-with-background-pages",
	"--disable-default-apps",
	"--disable-dev-shm-usage",
	"--disable-extensions",
	"--disable-features=TranslateUI",
	"--disable-hang-monitor",
	"--disable-ipc-flooding-protection",
	"--disable-popup-blocking",
	"--disable-prompt-on-repost",
	"--disable-renderer-backgrounding",
	"--disable-sync",
	"--force-color-profile=srgb",
	"--metrics-recording-only",
	"--no-first-run",
	"--enable-automation",
	"--password-store=basic",
	"--use-mock-keychain",
	"--enable-blink-features=IdleDetection",
	"--lang=en_US",
}

// serviceArgs are the additional flags this service needs. Sandbox is
// disabled; acceptable only inside a container.
var serviceArgs = []string{
	"--disable-gpu",
	"--no-default-browser-check",
	"--hide-scrollbars",
	"--no-sandbox",
	"--disable-namespace-sandbox",
	"--disable-setuid-sandbox",
	"--block-new-web-contents",
	"--force-device-scale-factor=2",
	"--headless",
	"--single-process",
}

// DefaultBrowserArgs returns the full default Chromium flag list.
func DefaultBrowserArgs() []string {
	args := make([]string, 0, len(puppeteerArgs)+len(serviceArgs))
	args = append(args, puppeteerArgs...)
	args = append(args, serviceArgs...)
	return args
}
