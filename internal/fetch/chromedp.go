package fetch

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
)

// RenderedFetcher drives a headless browser for marketplaces that only
// populate listings client-side. Configured per host via the policy's
// fetcher field.
type RenderedFetcher struct {
	Timeout   time.Duration
	UserAgent string
}

// NewRenderedFetcher builds a headless-browser fetcher.
func NewRenderedFetcher(timeout time.Duration) *RenderedFetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &RenderedFetcher{Timeout: timeout, UserAgent: defaultUserAgent}
}

func (f *RenderedFetcher) Fetch(ctx context.Context, url string) (string, error) {
	if strings.TrimSpace(url) == "" {
		return "", errors.New("invalid url")
	}
	ctx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.UserAgent(f.UserAgent),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var html string
	err := chromedp.Run(bctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", err
	}
	return html, nil
}
