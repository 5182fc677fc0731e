package gearexchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/oakvale/gearsync/internal/models"
	"github.com/oakvale/gearsync/internal/platform"
)

// Config holds gear-exchange API credentials
type Config struct {
	APIURL   string
	APIToken string
	ShopSlug string
}

// Adapter implements platform.Adapter for the music-gear marketplace's JSON
// REST API
type Adapter struct {
	config Config
	client *resty.Client
	logger *zap.Logger
}

// New creates a gear-exchange adapter
func New(cfg Config, logger *zap.Logger) *Adapter {
	client := resty.New().
		SetBaseURL(cfg.APIURL).
		SetTimeout(60 * time.Second).
		SetAuthToken(cfg.APIToken).
		SetHeader("Accept", "application/hal+json").
		SetHeader("Content-Type", "application/hal+json")

	return &Adapter{
		config: cfg,
		client: client,
		logger: logger.Named("gearexchange"),
	}
}

// Name returns the platform tag
func (a *Adapter) Name() models.PlatformTag {
	return models.PlatformGearExchange
}

// SupportsMultiQuantity reports true: the marketplace carries an inventory
// count per listing
func (a *Adapter) SupportsMultiQuantity() bool {
	return true
}

// statusTable translates native listing states into the universal set
var statusTable = map[string]models.ListingStatus{
	"live":              models.ListingActive,
	"sold_out":          models.ListingSold,
	"ended":             models.ListingEnded,
	"draft":             models.ListingDraft,
	"suspended":         models.ListingRemoved,
	"seller_unavailable": models.ListingRemoved,
}

// listing is one entry of the paged /my/listings feed
type listing struct {
	ID    json.Number `json:"id"`
	State struct {
		Slug string `json:"slug"`
	} `json:"state"`
	Price struct {
		Amount   string `json:"amount"`
		Currency string `json:"currency"`
	} `json:"price"`
	Inventory int    `json:"inventory"`
	SoldCount int    `json:"sold_count"`
	Title     string `json:"title"`
	Links     struct {
		Web struct {
			Href string `json:"href"`
		} `json:"web"`
	} `json:"_links"`
}

type listingsPage struct {
	Listings   []listing `json:"listings"`
	TotalPages int       `json:"total_pages"`
}

// FetchAll pages through the seller's listings feed
func (a *Adapter) FetchAll(ctx context.Context) ([]platform.RemoteListing, error) {
	var out []platform.RemoteListing
	page := 1
	for {
		if err := ctx.Err(); err != nil {
			return nil, platform.Transient("gearexchange fetch", err)
		}

		var body listingsPage
		resp, err := a.client.R().
			SetContext(ctx).
			SetQueryParam("page", fmt.Sprintf("%d", page)).
			SetQueryParam("per_page", "50").
			SetQueryParam("state", "all").
			SetResult(&body).
			Get("/my/listings")
		if err := a.checkResponse("gearexchange fetch", resp, err); err != nil {
			return nil, err
		}

		for _, l := range body.Listings {
			remote, err := a.toRemoteListing(l)
			if err != nil {
				a.logger.Warn("skipping malformed listing", zap.String("id", l.ID.String()), zap.Error(err))
				continue
			}
			out = append(out, remote)
		}
		if page >= body.TotalPages || len(body.Listings) == 0 {
			break
		}
		page++
	}
	return out, nil
}

func (a *Adapter) toRemoteListing(l listing) (platform.RemoteListing, error) {
	price, err := decimal.NewFromString(l.Price.Amount)
	if err != nil {
		return platform.RemoteListing{}, fmt.Errorf("unparseable price %q: %w", l.Price.Amount, err)
	}

	raw, _ := json.Marshal(l)
	return platform.RemoteListing{
		ExternalID:        l.ID.String(),
		Status:            platform.MapStatus(l.State.Slug, statusTable, models.ListingRemoved),
		Price:             platform.NormalizePrice(price),
		QuantityAvailable: platform.IntPtr(l.Inventory),
		QuantitySold:      platform.IntPtr(l.SoldCount),
		Title:             l.Title,
		ListingURL:        l.Links.Web.Href,
		Raw:               raw,
	}, nil
}

// MarkAsSold ends the listing with reason sold. A listing the remote already
// closed counts as success.
func (a *Adapter) MarkAsSold(ctx context.Context, externalID string) (bool, error) {
	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"reason": "sold"}).
		Put(fmt.Sprintf("/my/listings/%s/state/end", externalID))
	if err := a.checkResponse("gearexchange mark sold", resp, err); err != nil {
		if platform.PermanentReason(err) == "already_ended" {
			return true, nil
		}
		return false, err
	}
	return false, nil
}

// UpdatePrice sets the listing price
func (a *Adapter) UpdatePrice(ctx context.Context, externalID string, newPrice decimal.Decimal) error {
	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"price": map[string]string{
				"amount":   newPrice.StringFixed(2),
				"currency": "GBP",
			},
		}).
		Put(fmt.Sprintf("/listings/%s", externalID))
	return a.checkResponse("gearexchange update price", resp, err)
}

// UpdateQuantity sets the available inventory; zero ends the listing
func (a *Adapter) UpdateQuantity(ctx context.Context, externalID string, newQty int, hints platform.QuantityHints) error {
	if newQty == 0 {
		_, err := a.MarkAsSold(ctx, externalID)
		return err
	}
	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"has_inventory": true,
			"inventory":     newQty,
		}).
		Put(fmt.Sprintf("/listings/%s", externalID))
	return a.checkResponse("gearexchange update quantity", resp, err)
}

// CreateListing publishes a product
func (a *Adapter) CreateListing(ctx context.Context, product *models.Product, enriched *platform.CreateContext) (*platform.CreateResult, error) {
	if enriched == nil || enriched.CategoryID == "" {
		return nil, platform.Permanent("gearexchange create", "category_mapping_missing",
			fmt.Errorf("product %s has no gear category", product.SKU))
	}

	payload := map[string]interface{}{
		"title":       product.Title,
		"description": product.Description,
		"make":        product.Brand,
		"model":       product.Model,
		"finish":      product.Finish,
		"year":        product.Year,
		"sku":         product.SKU,
		"condition":   map[string]string{"uuid": conditionUUID(product.Condition)},
		"categories":  []map[string]string{{"uuid": enriched.CategoryID}},
		"price": map[string]string{
			"amount":   product.CanonicalPrice().StringFixed(2),
			"currency": "GBP",
		},
		"has_inventory": product.IsStockedItem,
		"inventory":     product.Quantity,
		"photos":        enriched.Pictures,
		"shipping":      map[string]string{"profile_id": enriched.ShippingPolicyID},
		"publish":       true,
	}

	var created struct {
		ID    json.Number `json:"id"`
		Links struct {
			Web struct {
				Href string `json:"href"`
			} `json:"web"`
		} `json:"_links"`
	}
	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&created).
		Post("/listings")
	if err := a.checkResponse("gearexchange create", resp, err); err != nil {
		return nil, err
	}
	return &platform.CreateResult{
		ExternalID: created.ID.String(),
		ListingURL: created.Links.Web.Href,
		Details:    models.JSONB{"shopSlug": a.config.ShopSlug},
	}, nil
}

// ApplyProductEdit pushes changed canonical fields to an existing listing
func (a *Adapter) ApplyProductEdit(ctx context.Context, product *models.Product, link *models.PlatformLink, changedFields []string) (*platform.EditResult, error) {
	if link.ExternalID == nil {
		return nil, platform.Permanent("gearexchange edit", "missing_external_id", nil)
	}

	payload := map[string]interface{}{}
	var applied []string
	for _, field := range changedFields {
		switch field {
		case "title":
			payload["title"] = product.Title
			applied = append(applied, field)
		case "description":
			payload["description"] = product.Description
			applied = append(applied, field)
		case "price":
			payload["price"] = map[string]string{
				"amount":   product.CanonicalPrice().StringFixed(2),
				"currency": "GBP",
			}
			applied = append(applied, field)
		case "images":
			payload["photos"] = imageURLs(product)
			applied = append(applied, field)
		}
	}
	if len(applied) == 0 {
		return &platform.EditResult{}, nil
	}

	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(payload).
		Put(fmt.Sprintf("/listings/%s", *link.ExternalID))
	if err := a.checkResponse("gearexchange edit", resp, err); err != nil {
		return nil, err
	}
	return &platform.EditResult{UpdatedFields: applied}, nil
}

// apiError is the marketplace's JSON error body
type apiError struct {
	Message string `json:"message"`
	Code    string `json:"error_code"`
}

// checkResponse translates transport and HTTP failures into the taxonomy
func (a *Adapter) checkResponse(op string, resp *resty.Response, err error) error {
	if err != nil {
		return platform.Transient(op, err)
	}
	if resp.IsSuccess() {
		return nil
	}

	var body apiError
	_ = json.Unmarshal(resp.Body(), &body)

	switch {
	case resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= 500:
		return &platform.TransientError{
			Op:         op,
			Err:        fmt.Errorf("http %d: %s", resp.StatusCode(), body.Message),
			RetryAfter: platform.ParseRetryAfter(resp.RawResponse),
		}
	case resp.StatusCode() == http.StatusNotFound:
		return platform.NotFound(op, "")
	case resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden:
		return platform.Permanent(op, "bad_credentials", fmt.Errorf("http %d", resp.StatusCode()))
	case resp.StatusCode() == http.StatusConflict && body.Code == "listing_not_live":
		return platform.Permanent(op, "already_ended", fmt.Errorf("%s", body.Message))
	default:
		reason := body.Code
		if reason == "" {
			reason = "rejected"
		}
		return platform.Permanent(op, reason, fmt.Errorf("http %d: %s", resp.StatusCode(), body.Message))
	}
}

// conditionUUID maps canonical condition onto the marketplace's fixed
// condition identifiers
func conditionUUID(c models.Condition) string {
	switch c {
	case models.ConditionNew:
		return "7c3f45de-2ae0-4c81-8400-fdb6b1d74890"
	case models.ConditionExcellent:
		return "df268ad1-c462-4ba6-b6db-e007e23922ea"
	case models.ConditionVeryGood:
		return "ae4d9114-1bd7-4ec5-a4ba-6653af5ac84d"
	case models.ConditionGood:
		return "f7a3f48c-972a-44c6-b01a-0cd27488d3f6"
	case models.ConditionFair:
		return "98777886-76d0-44c8-865e-bb40e669e934"
	default:
		return "6a9dfcad-600b-46c8-9e08-ce6e5057921e"
	}
}

func imageURLs(product *models.Product) []string {
	urls := []string{}
	if product.PrimaryImage != "" {
		urls = append(urls, product.PrimaryImage)
	}
	if extra, ok := product.AdditionalImages["urls"].([]interface{}); ok {
		for _, u := range extra {
			if s, ok := u.(string); ok {
				urls = append(urls, s)
			}
		}
	}
	return urls
}
