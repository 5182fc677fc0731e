package vintagemart

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/oakvale/gearsync/internal/models"
	"github.com/oakvale/gearsync/internal/platform"
)

// Config holds vintage-mart seller-area credentials
type Config struct {
	BaseURL       string
	Username      string
	Password      string
	SessionCookie string
	UseBrowser    bool
}

// Adapter implements platform.Adapter for the vintage-goods marketplace.
// The marketplace has no API: state is read by scraping the seller area's
// HTML and written by replaying its management forms. When the seller area
// renders listings client-side, a headless-browser path fetches the page
// instead.
type Adapter struct {
	config      Config
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	logger      *zap.Logger
	browser     pageFetcher
}

// pageFetcher loads a fully rendered page. The default implementation
// drives a headless browser; tests substitute a stub.
type pageFetcher interface {
	FetchRenderedPage(ctx context.Context, pageURL, sessionCookie string) (string, error)
}

// New creates a vintage-mart adapter
func New(cfg Config, logger *zap.Logger) *Adapter {
	jar, _ := cookiejar.New(nil)
	a := &Adapter{
		config: cfg,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
			Jar:     jar,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// A redirect to the login page means the session died;
				// surface it instead of following into the form
				if strings.Contains(req.URL.Path, "/login") {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		rateLimiter: rate.NewLimiter(rate.Limit(1), 1),
		logger:      logger.Named("vintagemart"),
	}
	a.browser = newBrowserFetcher(a.logger)
	if cfg.SessionCookie != "" {
		a.seedSessionCookie(cfg.SessionCookie)
	}
	return a
}

func (a *Adapter) seedSessionCookie(value string) {
	base, err := url.Parse(a.config.BaseURL)
	if err != nil {
		return
	}
	a.httpClient.Jar.SetCookies(base, []*http.Cookie{{Name: sessionCookieName, Value: value, Path: "/"}})
}

// Name returns the platform tag
func (a *Adapter) Name() models.PlatformTag {
	return models.PlatformVintageMart
}

// SupportsMultiQuantity reports false: every vintage-mart listing is a
// one-off item
func (a *Adapter) SupportsMultiQuantity() bool {
	return false
}

const sessionCookieName = "vm_session"

// FetchAll scrapes the seller listings pages until the last page
func (a *Adapter) FetchAll(ctx context.Context) ([]platform.RemoteListing, error) {
	var out []platform.RemoteListing
	page := 1
	for {
		if err := ctx.Err(); err != nil {
			return nil, platform.Transient("vintagemart fetch", err)
		}

		html, err := a.fetchListingsPage(ctx, page)
		if err != nil {
			return nil, err
		}
		listings, totalPages, err := parseListingsPage(html)
		if err != nil {
			return nil, platform.Transient("vintagemart fetch", err)
		}
		for _, scraped := range listings {
			out = append(out, scraped.toRemoteListing())
		}
		if page >= totalPages || len(listings) == 0 {
			break
		}
		page++
	}
	return out, nil
}

func (a *Adapter) fetchListingsPage(ctx context.Context, page int) (string, error) {
	pageURL := fmt.Sprintf("%s/account/listings?page=%d", strings.TrimRight(a.config.BaseURL, "/"), page)

	if a.config.UseBrowser {
		if err := a.rateLimiter.Wait(ctx); err != nil {
			return "", platform.Transient("vintagemart fetch", err)
		}
		html, err := a.browser.FetchRenderedPage(ctx, pageURL, a.config.SessionCookie)
		if err != nil {
			return "", platform.Transient("vintagemart fetch", err)
		}
		return html, nil
	}

	resp, err := a.get(ctx, pageURL)
	if err != nil {
		return "", err
	}
	return resp, nil
}

// MarkAsSold posts the status form. The marketplace answers with a banner
// rather than a status code, so the response HTML decides the outcome.
func (a *Adapter) MarkAsSold(ctx context.Context, externalID string) (bool, error) {
	form := url.Values{}
	form.Set("status", "sold")

	html, err := a.postForm(ctx, "vintagemart mark sold",
		fmt.Sprintf("/account/listings/%s/status", externalID), form)
	if err != nil {
		return false, err
	}
	if pageHasBanner(html, "already sold") || pageHasBanner(html, "no longer for sale") {
		return true, nil
	}
	if !pageHasBanner(html, "updated") && !pageHasBanner(html, "marked as sold") {
		return false, platform.Permanent("vintagemart mark sold", "unexpected_response",
			fmt.Errorf("no confirmation banner for listing %s", externalID))
	}
	return false, nil
}

// UpdatePrice replays the edit form with a new price
func (a *Adapter) UpdatePrice(ctx context.Context, externalID string, newPrice decimal.Decimal) error {
	form := url.Values{}
	form.Set("price", newPrice.StringFixed(2))
	form.Set("currency", "GBP")

	html, err := a.postForm(ctx, "vintagemart update price",
		fmt.Sprintf("/account/listings/%s/edit", externalID), form)
	if err != nil {
		return err
	}
	if !pageHasBanner(html, "updated") {
		return platform.Permanent("vintagemart update price", "unexpected_response",
			fmt.Errorf("no confirmation banner for listing %s", externalID))
	}
	return nil
}

// UpdateQuantity accepts only the end-listing case
func (a *Adapter) UpdateQuantity(ctx context.Context, externalID string, newQty int, hints platform.QuantityHints) error {
	if newQty > 0 {
		return platform.Permanent("vintagemart update quantity", "single_quantity_only",
			fmt.Errorf("cannot set quantity %d on a one-off listing", newQty))
	}
	_, err := a.MarkAsSold(ctx, externalID)
	return err
}

// CreateListing posts the new-listing form
func (a *Adapter) CreateListing(ctx context.Context, product *models.Product, enriched *platform.CreateContext) (*platform.CreateResult, error) {
	form := url.Values{}
	form.Set("title", product.Title)
	form.Set("description", product.Description)
	form.Set("maker", product.Brand)
	form.Set("model", product.Model)
	form.Set("year", product.Year)
	form.Set("price", product.CanonicalPrice().StringFixed(2))
	form.Set("currency", "GBP")
	form.Set("condition", strings.ToLower(string(product.Condition)))
	if enriched != nil {
		form.Set("category", enriched.CategoryID)
		for i, pic := range enriched.Pictures {
			form.Set(fmt.Sprintf("image_url_%d", i+1), pic)
		}
	}

	html, err := a.postForm(ctx, "vintagemart create", "/account/listings/new", form)
	if err != nil {
		return nil, err
	}
	externalID, listingURL, ok := parseCreatedListing(html)
	if !ok {
		return nil, platform.Permanent("vintagemart create", "unexpected_response",
			fmt.Errorf("created listing id not found in response for %s", product.SKU))
	}
	return &platform.CreateResult{
		ExternalID: externalID,
		ListingURL: listingURL,
		Details:    models.JSONB{"createdVia": "form"},
	}, nil
}

// ApplyProductEdit replays the edit form for changed fields
func (a *Adapter) ApplyProductEdit(ctx context.Context, product *models.Product, link *models.PlatformLink, changedFields []string) (*platform.EditResult, error) {
	if link.ExternalID == nil {
		return nil, platform.Permanent("vintagemart edit", "missing_external_id", nil)
	}

	form := url.Values{}
	var applied []string
	for _, field := range changedFields {
		switch field {
		case "title":
			form.Set("title", product.Title)
			applied = append(applied, field)
		case "description":
			form.Set("description", product.Description)
			applied = append(applied, field)
		case "price":
			form.Set("price", product.CanonicalPrice().StringFixed(2))
			applied = append(applied, field)
		}
	}
	if len(applied) == 0 {
		return &platform.EditResult{}, nil
	}

	html, err := a.postForm(ctx, "vintagemart edit",
		fmt.Sprintf("/account/listings/%s/edit", *link.ExternalID), form)
	if err != nil {
		return nil, err
	}
	if !pageHasBanner(html, "updated") {
		return nil, platform.Permanent("vintagemart edit", "unexpected_response",
			fmt.Errorf("no confirmation banner for listing %s", *link.ExternalID))
	}
	return &platform.EditResult{UpdatedFields: applied}, nil
}

// get fetches a seller-area page, classifying the response
func (a *Adapter) get(ctx context.Context, pageURL string) (string, error) {
	const op = "vintagemart fetch"
	if err := a.rateLimiter.Wait(ctx); err != nil {
		return "", platform.Transient(op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", platform.Permanent(op, "bad_request", err)
	}
	return a.do(op, req)
}

// postForm submits a seller-area form, classifying the response
func (a *Adapter) postForm(ctx context.Context, op, path string, form url.Values) (string, error) {
	if err := a.rateLimiter.Wait(ctx); err != nil {
		return "", platform.Transient(op, err)
	}

	target := strings.TrimRight(a.config.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		return "", platform.Permanent(op, "bad_request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return a.do(op, req)
}

func (a *Adapter) do(op string, req *http.Request) (string, error) {
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", platform.Transient(op, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", &platform.TransientError{
			Op:         op,
			Err:        fmt.Errorf("http %d", resp.StatusCode),
			RetryAfter: platform.ParseRetryAfter(resp),
		}
	case resp.StatusCode == http.StatusNotFound:
		return "", platform.NotFound(op, "")
	case resp.StatusCode == http.StatusFound || resp.StatusCode == http.StatusSeeOther:
		// Only login redirects survive CheckRedirect
		return "", platform.Permanent(op, "bad_credentials", fmt.Errorf("session expired"))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", platform.Permanent(op, "bad_credentials", fmt.Errorf("http %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return "", platform.Permanent(op, "rejected", fmt.Errorf("http %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", platform.Transient(op, err)
	}
	html := string(body)
	if pageHasBanner(html, "listing not found") {
		return "", platform.NotFound(op, "")
	}
	return html, nil
}
