package vintagemart

import (
	"context"
	"fmt"
	"net/url"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// browserFetcher loads seller-area pages through a headless browser for the
// views the marketplace renders client-side
type browserFetcher struct {
	logger *zap.Logger
}

func newBrowserFetcher(logger *zap.Logger) *browserFetcher {
	return &browserFetcher{logger: logger.Named("browser")}
}

// FetchRenderedPage navigates to pageURL with the session cookie installed
// and returns the DOM after the listings table has rendered
func (f *browserFetcher) FetchRenderedPage(ctx context.Context, pageURL, sessionCookie string) (string, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("invalid page url: %w", err)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	var html string
	err = chromedp.Run(browserCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			if sessionCookie == "" {
				return nil
			}
			return network.SetCookie(sessionCookieName, sessionCookie).
				WithDomain(parsed.Hostname()).
				WithPath("/").
				Do(ctx)
		}),
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("table.listings", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("headless fetch of %s failed: %w", pageURL, err)
	}

	f.logger.Debug("rendered page fetched", zap.String("url", pageURL), zap.Int("bytes", len(html)))
	return html, nil
}
