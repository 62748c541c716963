package ingest

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"property-sync/utils"
)

const browserPageTimeout = 60 * time.Second

// BrowserSource loads a page in headless Chrome and returns its rendered text.
// It is meant for published spreadsheets that only render their CSV view
// through JavaScript.
type BrowserSource struct {
	URL       string
	ChromeBin string
	Retry     *utils.RetryConfig
	Logger    *utils.Logger
}

func (s *BrowserSource) Name() string { return "browser+" + s.URL }

func (s *BrowserSource) Fetch(ctx context.Context) (string, error) {
	logger := s.Logger
	if logger == nil {
		logger = utils.NewNopLogger()
	}

	chromeBin := s.ChromeBin
	if chromeBin == "" {
		chromeBin = findChromeBinary()
	}
	logger.Debug("[browser] Using browser binary: %q", chromeBin)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent("Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 "+
			"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
	)
	if chromeBin != "" {
		opts = append(opts, chromedp.ExecPath(chromeBin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	// Suppress chromedp log noise
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
	defer cancelBrowser()

	retry := s.Retry
	if retry == nil {
		retry = &utils.RetryConfig{MaxAttempts: 1}
	}

	var text string
	err := retry.Do(ctx, "render "+s.URL, func(context.Context) error {
		tabCtx, cancel := chromedp.NewContext(browserCtx)
		defer cancel()

		tabCtx, cancelTimeout := context.WithTimeout(tabCtx, browserPageTimeout)
		defer cancelTimeout()

		var body string
		if err := chromedp.Run(tabCtx,
			chromedp.Navigate(s.URL),
			chromedp.WaitReady("body", chromedp.ByQuery),
			chromedp.Evaluate(`document.body ? document.body.innerText : ""`, &body),
		); err != nil {
			return err
		}

		if strings.TrimSpace(body) == "" {
			return fmt.Errorf("page %s rendered no text", s.URL)
		}
		text = body
		return nil
	})
	if err != nil {
		return "", err
	}

	logger.Info("[browser] Rendered %s (%d bytes)", s.URL, len(text))
	return text, nil
}

// findChromeBinary looks for a Chrome or Chromium executable, honouring
// CHROME_BIN first.
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
