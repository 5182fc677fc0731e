package webstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/oakvale/gearsync/internal/models"
	"github.com/oakvale/gearsync/internal/platform"
)

// Config holds web-store admin API credentials
type Config struct {
	GraphQLURL string
	AdminToken string
}

// Adapter implements platform.Adapter for the storefront's GraphQL admin
// API. Every operation is one POST to the GraphQL endpoint; cursor
// pagination drives FetchAll.
type Adapter struct {
	config Config
	client *resty.Client
	logger *zap.Logger
}

// New creates a web-store adapter
func New(cfg Config, logger *zap.Logger) *Adapter {
	client := resty.New().
		SetBaseURL(cfg.GraphQLURL).
		SetTimeout(60 * time.Second).
		SetHeader("X-Admin-Access-Token", cfg.AdminToken).
		SetHeader("Content-Type", "application/json")

	return &Adapter{
		config: cfg,
		client: client,
		logger: logger.Named("webstore"),
	}
}

// Name returns the platform tag
func (a *Adapter) Name() models.PlatformTag {
	return models.PlatformWebStore
}

// SupportsMultiQuantity reports true: the storefront tracks inventory per
// product
func (a *Adapter) SupportsMultiQuantity() bool {
	return true
}

// statusTable translates native product statuses into the universal set
var statusTable = map[string]models.ListingStatus{
	"active":   models.ListingActive,
	"archived": models.ListingRemoved,
	"draft":    models.ListingDraft,
	"sold_out": models.ListingSold,
}

const productsQuery = `
query SellerProducts($cursor: String) {
  products(first: 100, after: $cursor) {
    pageInfo { hasNextPage endCursor }
    nodes {
      id
      legacyResourceId
      title
      status
      onlineStoreUrl
      totalInventory
      variants(first: 1) {
        nodes { id price sku }
      }
    }
  }
}`

type productNode struct {
	ID               string `json:"id"`
	LegacyResourceID string `json:"legacyResourceId"`
	Title            string `json:"title"`
	Status           string `json:"status"`
	OnlineStoreURL   string `json:"onlineStoreUrl"`
	TotalInventory   int    `json:"totalInventory"`
	Variants         struct {
		Nodes []struct {
			ID    string `json:"id"`
			Price string `json:"price"`
			SKU   string `json:"sku"`
		} `json:"nodes"`
	} `json:"variants"`
}

type productsResult struct {
	Products struct {
		PageInfo struct {
			HasNextPage bool   `json:"hasNextPage"`
			EndCursor   string `json:"endCursor"`
		} `json:"pageInfo"`
		Nodes []productNode `json:"nodes"`
	} `json:"products"`
}

// FetchAll walks the product connection cursor by cursor
func (a *Adapter) FetchAll(ctx context.Context) ([]platform.RemoteListing, error) {
	var out []platform.RemoteListing
	var cursor *string
	for {
		if err := ctx.Err(); err != nil {
			return nil, platform.Transient("webstore fetch", err)
		}

		var result productsResult
		if err := a.execute(ctx, "webstore fetch", productsQuery, map[string]interface{}{"cursor": cursor}, &result); err != nil {
			return nil, err
		}

		for _, node := range result.Products.Nodes {
			remote, err := a.toRemoteListing(node)
			if err != nil {
				a.logger.Warn("skipping malformed product", zap.String("id", node.ID), zap.Error(err))
				continue
			}
			out = append(out, remote)
		}
		if !result.Products.PageInfo.HasNextPage {
			break
		}
		cursor = &result.Products.PageInfo.EndCursor
	}
	return out, nil
}

func (a *Adapter) toRemoteListing(node productNode) (platform.RemoteListing, error) {
	if len(node.Variants.Nodes) == 0 {
		return platform.RemoteListing{}, fmt.Errorf("product %s has no variants", node.ID)
	}
	price, err := decimal.NewFromString(node.Variants.Nodes[0].Price)
	if err != nil {
		return platform.RemoteListing{}, fmt.Errorf("unparseable price %q: %w", node.Variants.Nodes[0].Price, err)
	}

	status := platform.MapStatus(node.Status, statusTable, models.ListingRemoved)
	// An active product with nothing in stock is effectively sold out
	if status == models.ListingActive && node.TotalInventory <= 0 {
		status = models.ListingSold
	}

	raw, _ := json.Marshal(node)
	return platform.RemoteListing{
		ExternalID:        node.LegacyResourceID,
		Status:            status,
		Price:             platform.NormalizePrice(price),
		QuantityAvailable: platform.IntPtr(node.TotalInventory),
		Title:             node.Title,
		ListingURL:        node.OnlineStoreURL,
		Raw:               raw,
	}, nil
}

const archiveMutation = `
mutation ArchiveProduct($id: ID!) {
  productUpdate(input: {id: $id, status: ARCHIVED}) {
    product { id status }
    userErrors { field message code }
  }
}`

// MarkAsSold archives the product so the storefront stops selling it. An
// already-archived product counts as success.
func (a *Adapter) MarkAsSold(ctx context.Context, externalID string) (bool, error) {
	var result struct {
		ProductUpdate mutationPayload `json:"productUpdate"`
	}
	err := a.execute(ctx, "webstore mark sold", archiveMutation,
		map[string]interface{}{"id": productGID(externalID)}, &result)
	if err != nil {
		return false, err
	}
	if err := result.ProductUpdate.check("webstore mark sold"); err != nil {
		if platform.PermanentReason(err) == "already_archived" {
			return true, nil
		}
		return false, err
	}
	return false, nil
}

const priceMutation = `
mutation UpdatePrice($id: ID!, $price: Money!) {
  productVariantUpdate(input: {id: $id, price: $price}) {
    productVariant { id price }
    userErrors { field message code }
  }
}`

// UpdatePrice sets the price on the product's variant
func (a *Adapter) UpdatePrice(ctx context.Context, externalID string, newPrice decimal.Decimal) error {
	variantID, err := a.primaryVariantID(ctx, externalID)
	if err != nil {
		return err
	}

	var result struct {
		ProductVariantUpdate mutationPayload `json:"productVariantUpdate"`
	}
	err = a.execute(ctx, "webstore update price", priceMutation, map[string]interface{}{
		"id":    variantID,
		"price": newPrice.StringFixed(2),
	}, &result)
	if err != nil {
		return err
	}
	return result.ProductVariantUpdate.check("webstore update price")
}

const quantityMutation = `
mutation SetInventory($id: ID!, $quantity: Int!) {
  inventorySetQuantity(input: {variantId: $id, quantity: $quantity}) {
    inventoryLevel { available }
    userErrors { field message code }
  }
}`

// UpdateQuantity sets the available inventory for the product's variant
func (a *Adapter) UpdateQuantity(ctx context.Context, externalID string, newQty int, hints platform.QuantityHints) error {
	variantID, err := a.primaryVariantID(ctx, externalID)
	if err != nil {
		return err
	}

	var result struct {
		InventorySetQuantity mutationPayload `json:"inventorySetQuantity"`
	}
	err = a.execute(ctx, "webstore update quantity", quantityMutation, map[string]interface{}{
		"id":       variantID,
		"quantity": newQty,
	}, &result)
	if err != nil {
		return err
	}
	return result.InventorySetQuantity.check("webstore update quantity")
}

const createMutation = `
mutation CreateProduct($input: ProductInput!) {
  productCreate(input: $input) {
    product { id legacyResourceId onlineStoreUrl }
    userErrors { field message code }
  }
}`

// CreateListing publishes a product on the storefront
func (a *Adapter) CreateListing(ctx context.Context, product *models.Product, enriched *platform.CreateContext) (*platform.CreateResult, error) {
	input := map[string]interface{}{
		"title":           product.Title,
		"descriptionHtml": product.Description,
		"vendor":          product.Brand,
		"status":          "ACTIVE",
		"variants": []map[string]interface{}{{
			"price":             product.CanonicalPrice().StringFixed(2),
			"sku":               product.SKU,
			"inventoryQuantity": product.Quantity,
		}},
	}
	if enriched != nil {
		if enriched.CategoryID != "" {
			input["productCategory"] = map[string]string{"id": enriched.CategoryID}
		}
		if len(enriched.Pictures) > 0 {
			images := make([]map[string]string, 0, len(enriched.Pictures))
			for _, p := range enriched.Pictures {
				images = append(images, map[string]string{"src": p})
			}
			input["images"] = images
		}
	}

	var result struct {
		ProductCreate struct {
			mutationPayload
			Product struct {
				ID               string `json:"id"`
				LegacyResourceID string `json:"legacyResourceId"`
				OnlineStoreURL   string `json:"onlineStoreUrl"`
			} `json:"product"`
		} `json:"productCreate"`
	}
	err := a.execute(ctx, "webstore create", createMutation, map[string]interface{}{"input": input}, &result)
	if err != nil {
		return nil, err
	}
	if err := result.ProductCreate.check("webstore create"); err != nil {
		return nil, err
	}
	return &platform.CreateResult{
		ExternalID: result.ProductCreate.Product.LegacyResourceID,
		ListingURL: result.ProductCreate.Product.OnlineStoreURL,
		Details:    models.JSONB{"gid": result.ProductCreate.Product.ID},
	}, nil
}

const editMutation = `
mutation EditProduct($input: ProductInput!) {
  productUpdate(input: $input) {
    product { id }
    userErrors { field message code }
  }
}`

// ApplyProductEdit pushes changed canonical fields to the storefront
func (a *Adapter) ApplyProductEdit(ctx context.Context, product *models.Product, link *models.PlatformLink, changedFields []string) (*platform.EditResult, error) {
	if link.ExternalID == nil {
		return nil, platform.Permanent("webstore edit", "missing_external_id", nil)
	}

	input := map[string]interface{}{"id": productGID(*link.ExternalID)}
	var applied []string
	for _, field := range changedFields {
		switch field {
		case "title":
			input["title"] = product.Title
			applied = append(applied, field)
		case "description":
			input["descriptionHtml"] = product.Description
			applied = append(applied, field)
		case "brand":
			input["vendor"] = product.Brand
			applied = append(applied, field)
		}
	}
	if len(applied) == 0 {
		return &platform.EditResult{}, nil
	}

	var result struct {
		ProductUpdate mutationPayload `json:"productUpdate"`
	}
	err := a.execute(ctx, "webstore edit", editMutation, map[string]interface{}{"input": input}, &result)
	if err != nil {
		return nil, err
	}
	if err := result.ProductUpdate.check("webstore edit"); err != nil {
		return nil, err
	}
	return &platform.EditResult{UpdatedFields: applied}, nil
}

// primaryVariantID resolves the variant GID price/quantity mutations need
func (a *Adapter) primaryVariantID(ctx context.Context, externalID string) (string, error) {
	const query = `
query ProductVariant($id: ID!) {
  product(id: $id) {
    variants(first: 1) { nodes { id } }
  }
}`
	var result struct {
		Product *struct {
			Variants struct {
				Nodes []struct {
					ID string `json:"id"`
				} `json:"nodes"`
			} `json:"variants"`
		} `json:"product"`
	}
	err := a.execute(ctx, "webstore variant lookup", query,
		map[string]interface{}{"id": productGID(externalID)}, &result)
	if err != nil {
		return "", err
	}
	if result.Product == nil || len(result.Product.Variants.Nodes) == 0 {
		return "", platform.NotFound("webstore variant lookup", externalID)
	}
	return result.Product.Variants.Nodes[0].ID, nil
}

// graphqlError is one entry of the top-level errors array
type graphqlError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

// mutationPayload is the shared userErrors envelope every mutation returns
type mutationPayload struct {
	UserErrors []struct {
		Field   []string `json:"field"`
		Message string   `json:"message"`
		Code    string   `json:"code"`
	} `json:"userErrors"`
}

// check converts userErrors into permanent failures; a mutation that
// reaches userErrors was understood and rejected, never retryable
func (p mutationPayload) check(op string) error {
	if len(p.UserErrors) == 0 {
		return nil
	}
	first := p.UserErrors[0]
	reason := strings.ToLower(first.Code)
	if reason == "" {
		reason = "rejected"
	}
	return platform.Permanent(op, reason, fmt.Errorf("%s", first.Message))
}

// execute POSTs one GraphQL document and decodes data into result
func (a *Adapter) execute(ctx context.Context, op, query string, variables map[string]interface{}, result interface{}) error {
	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []graphqlError  `json:"errors"`
	}
	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{"query": query, "variables": variables}).
		SetResult(&envelope).
		Post("")
	if err != nil {
		return platform.Transient(op, err)
	}

	switch {
	case resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= 500:
		return &platform.TransientError{
			Op:         op,
			Err:        fmt.Errorf("http %d", resp.StatusCode()),
			RetryAfter: platform.ParseRetryAfter(resp.RawResponse),
		}
	case resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden:
		return platform.Permanent(op, "bad_credentials", fmt.Errorf("http %d", resp.StatusCode()))
	case resp.StatusCode() >= 400:
		return platform.Permanent(op, "rejected", fmt.Errorf("http %d", resp.StatusCode()))
	}

	for _, e := range envelope.Errors {
		switch e.Extensions.Code {
		case "THROTTLED":
			return platform.Transient(op, fmt.Errorf("%s", e.Message))
		case "NOT_FOUND":
			return platform.NotFound(op, "")
		}
	}
	if len(envelope.Errors) > 0 {
		return platform.Permanent(op, "graphql_error", fmt.Errorf("%s", envelope.Errors[0].Message))
	}

	if result != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, result); err != nil {
			return platform.Transient(op, fmt.Errorf("failed to decode response: %w", err))
		}
	}
	return nil
}

// productGID rebuilds the global ID the GraphQL API expects from the
// numeric external id we store
func productGID(externalID string) string {
	if strings.HasPrefix(externalID, "gid://") {
		return externalID
	}
	return "gid://store/Product/" + externalID
}
