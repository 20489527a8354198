// Package browser loads pages in headless Chrome for providers that block
// plain HTTP clients.
package browser

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/chromedp/chromedp"

	"flat-notifier/scraper"
	"flat-notifier/utils"
)

// Loader starts a fresh headless browser for every page.
type Loader struct {
	chromeBin string
	timeout   time.Duration
	logger    *utils.Logger
}

// New creates a Loader. An empty chromeBin is looked up on PATH and in the
// usual install locations.
func New(chromeBin string, timeout time.Duration, logger *utils.Logger) *Loader {
	if chromeBin == "" {
		chromeBin = findChromeBinary()
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Loader{chromeBin: chromeBin, timeout: timeout, logger: logger}
}

func (l *Loader) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.UserAgent(scraper.UserAgent),
	)
	if l.chromeBin != "" {
		opts = append(opts, chromedp.ExecPath(l.chromeBin))
	}
	return opts
}

// LoadText navigates to url and returns document.body.innerText. For a JSON
// endpoint that is the raw JSON document.
func (l *Loader) LoadText(ctx context.Context, url string) (string, error) {
	l.logger.Info("[browser] Loading %s with %s", url, l.binaryName())

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, l.allocatorOptions()...)
	defer cancelAlloc()

	// Suppress chromedp log noise
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
	defer cancelBrowser()

	runCtx, cancelTimeout := context.WithTimeout(browserCtx, l.timeout)
	defer cancelTimeout()

	var text string
	err := chromedp.Run(runCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Evaluate(`document.body ? document.body.innerText : ""`, &text),
	)
	if err != nil {
		return "", fmt.Errorf("browser: load %s: %w", url, err)
	}
	if text == "" {
		return "", fmt.Errorf("browser: load %s: empty page", url)
	}
	l.logger.Debug("[browser] Loaded %d bytes", len(text))
	return text, nil
}

func (l *Loader) binaryName() string {
	if l.chromeBin == "" {
		return "default browser"
	}
	return l.chromeBin
}

func findChromeBinary() string {
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
