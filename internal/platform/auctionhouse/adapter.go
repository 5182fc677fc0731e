package auctionhouse

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/oakvale/gearsync/internal/models"
	"github.com/oakvale/gearsync/internal/platform"
)

// Config holds auction-house API credentials and endpoints
type Config struct {
	APIURL      string
	AppID       string
	CertID      string
	DevID       string
	AuthToken   string
	SiteID      string
	RateLimitPS int
}

// Adapter implements platform.Adapter for the auction marketplace's legacy
// trading-call XML API. Every operation is one POST whose call name travels
// in a header and whose body is an XML envelope.
type Adapter struct {
	config      Config
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	logger      *zap.Logger
}

// New creates an auction-house adapter
func New(cfg Config, logger *zap.Logger) *Adapter {
	rps := cfg.RateLimitPS
	if rps <= 0 {
		rps = 5
	}
	return &Adapter{
		config:      cfg,
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		rateLimiter: rate.NewLimiter(rate.Limit(rps), 1),
		logger:      logger.Named("auctionhouse"),
	}
}

// Name returns the platform tag
func (a *Adapter) Name() models.PlatformTag {
	return models.PlatformAuctionHouse
}

// SupportsMultiQuantity reports false: auction lots are single items
func (a *Adapter) SupportsMultiQuantity() bool {
	return false
}

// statusTable translates native listing states into the universal set
var statusTable = map[string]models.ListingStatus{
	"active":    models.ListingActive,
	"completed": models.ListingEnded,
	"ended":     models.ListingEnded,
	"custom":    models.ListingDraft,
}

// FetchAll pages through GetSellerListings until the remote reports the last
// page
func (a *Adapter) FetchAll(ctx context.Context) ([]platform.RemoteListing, error) {
	var out []platform.RemoteListing
	page := 1
	for {
		if err := ctx.Err(); err != nil {
			return nil, platform.Transient("auctionhouse fetch", err)
		}

		resp, err := a.fetchPage(ctx, page)
		if err != nil {
			return nil, err
		}
		for _, item := range resp.Items {
			out = append(out, a.toRemoteListing(item))
		}
		if page >= resp.Pagination.TotalPages || len(resp.Items) == 0 {
			break
		}
		page++
	}
	return out, nil
}

func (a *Adapter) toRemoteListing(item sellerItem) platform.RemoteListing {
	status := platform.MapStatus(item.SellingStatus.ListingStatus, statusTable, models.ListingRemoved)
	// A completed lot with a sale recorded is sold, not merely ended
	if status == models.ListingEnded && item.SellingStatus.QuantitySold > 0 {
		status = models.ListingSold
	}

	raw, _ := json.Marshal(item)
	available := item.Quantity - item.SellingStatus.QuantitySold
	if available < 0 {
		available = 0
	}
	return platform.RemoteListing{
		ExternalID:        item.ItemID,
		Status:            status,
		Price:             platform.NormalizePrice(decimal.NewFromFloat(item.SellingStatus.CurrentPrice.Value)),
		QuantityTotal:     platform.IntPtr(item.Quantity),
		QuantityAvailable: platform.IntPtr(available),
		QuantitySold:      platform.IntPtr(item.SellingStatus.QuantitySold),
		Title:             item.Title,
		ListingURL:        item.ListingDetails.ViewItemURL,
		Raw:               raw,
	}
}

// MarkAsSold ends the lot with reason Sold. An already-ended lot counts as
// success.
func (a *Adapter) MarkAsSold(ctx context.Context, externalID string) (bool, error) {
	req := endListingRequest{
		Credentials: a.credentials(),
		ItemID:      externalID,
		Reason:      "Sold",
	}
	var resp callResponse
	err := a.call(ctx, "EndListing", &req, &resp)
	if err != nil {
		if isAlreadyEnded(err) {
			return true, nil
		}
		return false, err
	}
	return false, nil
}

// UpdatePrice revises the lot's start price
func (a *Adapter) UpdatePrice(ctx context.Context, externalID string, newPrice decimal.Decimal) error {
	req := reviseListingRequest{
		Credentials: a.credentials(),
		Item: reviseItem{
			ItemID:     externalID,
			StartPrice: &amount{CurrencyID: "GBP", Value: newPrice.InexactFloat64()},
		},
	}
	var resp callResponse
	return a.call(ctx, "ReviseListing", &req, &resp)
}

// UpdateQuantity accepts only the end-listing case; auction lots cannot
// carry stock
func (a *Adapter) UpdateQuantity(ctx context.Context, externalID string, newQty int, hints platform.QuantityHints) error {
	if newQty > 0 {
		return platform.Permanent("auctionhouse update quantity", "single_quantity_only",
			fmt.Errorf("cannot set quantity %d on a single-item lot", newQty))
	}
	_, err := a.MarkAsSold(ctx, externalID)
	return err
}

// CreateListing publishes a product as a new lot
func (a *Adapter) CreateListing(ctx context.Context, product *models.Product, enriched *platform.CreateContext) (*platform.CreateResult, error) {
	if enriched == nil || enriched.CategoryID == "" {
		return nil, platform.Permanent("auctionhouse create", "category_mapping_missing",
			fmt.Errorf("product %s has no auction category", product.SKU))
	}

	pictures := make([]pictureURL, 0, len(enriched.Pictures))
	for _, p := range enriched.Pictures {
		pictures = append(pictures, pictureURL{URL: p})
	}

	req := addListingRequest{
		Credentials: a.credentials(),
		Item: addItem{
			Title:              truncate(product.Title, 80),
			Description:        product.Description,
			CategoryID:         enriched.CategoryID,
			StartPrice:         amount{CurrencyID: "GBP", Value: product.CanonicalPrice().InexactFloat64()},
			Quantity:           1,
			ConditionID:        conditionID(product.Condition),
			Country:            "GB",
			Currency:           "GBP",
			ListingDuration:    "GTC",
			ShippingProfileID:  enriched.ShippingPolicyID,
			SellerProfileID:    enriched.SellerProfileID,
			PictureDetails:     pictureDetails{URLs: pictures},
		},
	}

	var resp addListingResponse
	if err := a.call(ctx, "AddListing", &req, &resp); err != nil {
		return nil, err
	}
	return &platform.CreateResult{
		ExternalID: resp.ItemID,
		ListingURL: resp.ListingURL,
		Details: models.JSONB{
			"listingDuration": "GTC",
			"fees":            resp.Fees.Total.Value,
		},
	}, nil
}

// ApplyProductEdit pushes changed canonical fields via ReviseListing
func (a *Adapter) ApplyProductEdit(ctx context.Context, product *models.Product, link *models.PlatformLink, changedFields []string) (*platform.EditResult, error) {
	if link.ExternalID == nil {
		return nil, platform.Permanent("auctionhouse edit", "missing_external_id", nil)
	}

	item := reviseItem{ItemID: *link.ExternalID}
	var applied []string
	for _, field := range changedFields {
		switch field {
		case "title":
			item.Title = truncate(product.Title, 80)
			applied = append(applied, field)
		case "description":
			item.Description = product.Description
			applied = append(applied, field)
		case "price":
			item.StartPrice = &amount{CurrencyID: "GBP", Value: product.CanonicalPrice().InexactFloat64()}
			applied = append(applied, field)
		}
	}
	if len(applied) == 0 {
		return &platform.EditResult{}, nil
	}

	req := reviseListingRequest{Credentials: a.credentials(), Item: item}
	var resp callResponse
	if err := a.call(ctx, "ReviseListing", &req, &resp); err != nil {
		return nil, err
	}
	return &platform.EditResult{UpdatedFields: applied}, nil
}

// call executes one trading call: rate-limit, marshal the envelope, POST,
// then translate HTTP and in-band failures into the taxonomy
func (a *Adapter) call(ctx context.Context, callName string, reqBody, respBody interface{}) error {
	op := "auctionhouse " + callName

	if err := a.rateLimiter.Wait(ctx); err != nil {
		return platform.Transient(op, err)
	}

	payload, err := xml.Marshal(reqBody)
	if err != nil {
		return platform.Permanent(op, "marshal_failed", err)
	}
	body := append([]byte(xml.Header), payload...)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.APIURL, bytes.NewReader(body))
	if err != nil {
		return platform.Permanent(op, "bad_request", err)
	}
	httpReq.Header.Set("Content-Type", "text/xml")
	httpReq.Header.Set("X-TRADING-API-CALL-NAME", callName)
	httpReq.Header.Set("X-TRADING-API-APP-ID", a.config.AppID)
	httpReq.Header.Set("X-TRADING-API-CERT-ID", a.config.CertID)
	httpReq.Header.Set("X-TRADING-API-DEV-ID", a.config.DevID)
	httpReq.Header.Set("X-TRADING-API-SITE-ID", a.config.SiteID)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return platform.Transient(op, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return &platform.TransientError{
			Op:         op,
			Err:        fmt.Errorf("http %d", resp.StatusCode),
			RetryAfter: platform.ParseRetryAfter(resp),
		}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return platform.Permanent(op, "bad_credentials", fmt.Errorf("http %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return platform.Permanent(op, "rejected", fmt.Errorf("http %d", resp.StatusCode))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return platform.Transient(op, err)
	}
	if err := xml.Unmarshal(data, respBody); err != nil {
		return platform.Transient(op, fmt.Errorf("failed to decode response: %w", err))
	}

	return a.checkAck(op, respBody)
}

// checkAck inspects the in-band Ack/Errors block every trading response
// carries
func (a *Adapter) checkAck(op string, respBody interface{}) error {
	acked, ok := respBody.(acknowledged)
	if !ok {
		return nil
	}
	ack, callErrors := acked.ack()
	if strings.EqualFold(ack, "Success") || strings.EqualFold(ack, "Warning") {
		return nil
	}
	for _, e := range callErrors {
		switch e.Code {
		case errCodeAlreadyEnded:
			return platform.Permanent(op, reasonAlreadyEnded, fmt.Errorf("%s", e.LongMessage))
		case errCodeItemNotFound:
			return platform.NotFound(op, "")
		case errCodeCallLimit:
			return platform.Transient(op, fmt.Errorf("%s", e.LongMessage))
		}
	}
	if len(callErrors) > 0 {
		return platform.Permanent(op, "api_error_"+callErrors[0].Code, fmt.Errorf("%s", callErrors[0].LongMessage))
	}
	return platform.Permanent(op, "api_failure", fmt.Errorf("ack=%s", ack))
}

func (a *Adapter) fetchPage(ctx context.Context, page int) (*sellerListingsResponse, error) {
	req := sellerListingsRequest{
		Credentials:    a.credentials(),
		EntriesPerPage: 200,
		PageNumber:     page,
		IncludeDetails: true,
	}
	var resp sellerListingsResponse
	if err := a.call(ctx, "GetSellerListings", &req, &resp); err != nil {
		return nil, err
	}
	a.logger.Debug("fetched page",
		zap.Int("page", page),
		zap.Int("items", len(resp.Items)),
		zap.Int("totalPages", resp.Pagination.TotalPages))
	return &resp, nil
}

func (a *Adapter) credentials() requesterCredentials {
	return requesterCredentials{AuthToken: a.config.AuthToken}
}

const (
	errCodeAlreadyEnded = "1047"
	errCodeItemNotFound = "17"
	errCodeCallLimit    = "218050"

	reasonAlreadyEnded = "already_ended"
)

func isAlreadyEnded(err error) bool {
	return platform.PermanentReason(err) == reasonAlreadyEnded
}

// conditionID maps canonical condition onto the marketplace's numeric scheme
func conditionID(c models.Condition) int {
	switch c {
	case models.ConditionNew:
		return 1000
	case models.ConditionExcellent:
		return 2990
	case models.ConditionVeryGood:
		return 3000
	case models.ConditionGood:
		return 4000
	case models.ConditionFair:
		return 5000
	default:
		return 6000
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
