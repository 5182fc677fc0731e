package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/oakvale/gearsync/internal/models"
	"github.com/oakvale/gearsync/internal/repository"
)

// MatchCandidate is the best local product a rogue remote listing might
// correspond to, with the score that produced it
type MatchCandidate struct {
	ProductID  uint   `json:"product_id"`
	SKU        string `json:"sku"`
	Confidence int    `json:"confidence"`
	Reason     string `json:"reason"`
}

// Matcher scores rogue remote listings against the local catalog. Scores
// are additive: brand, model, year and price each contribute, a SKU spotted
// in the listing text is near-conclusive, and operator-confirmed mapping
// hints add their stored confidence.
type Matcher struct {
	products  *repository.ProductRepository
	threshold int
	logger    *zap.Logger
}

// NewMatcher creates a matcher with the given confidence threshold
func NewMatcher(products *repository.ProductRepository, threshold int, logger *zap.Logger) *Matcher {
	return &Matcher{
		products:  products,
		threshold: threshold,
		logger:    logger.Named("matcher"),
	}
}

// Score weights. A brand+model match alone clears the default threshold.
const (
	scoreBrand   = 25
	scoreModel   = 25
	scoreYear    = 10
	scoreFinish  = 10
	scorePrice   = 25
	scoreSKUSeen = 40
)

// Suggest returns the best candidate at or above the threshold, or nil when
// nothing scores high enough
func (m *Matcher) Suggest(ctx context.Context, platformName models.PlatformTag, externalID, title string, price decimal.Decimal) (*MatchCandidate, error) {
	candidates, err := m.products.ListCandidatesForMatching(ctx)
	if err != nil {
		return nil, err
	}

	hint, err := m.products.GetMappingHint(ctx, platformName, externalID)
	if err != nil {
		return nil, err
	}

	var best *MatchCandidate
	haystack := strings.ToLower(title)

	for i := range candidates {
		product := &candidates[i]
		if hasLinkFor(product, platformName) {
			continue
		}

		score, reasons := m.score(product, haystack, price)
		if hint != nil && hint.ProductID == product.ID {
			score += hint.Confidence
			reasons = append(reasons, "mapping_hint")
		}
		if score <= 0 {
			continue
		}
		if best == nil || score > best.Confidence {
			best = &MatchCandidate{
				ProductID:  product.ID,
				SKU:        product.SKU,
				Confidence: score,
				Reason:     strings.Join(reasons, "+"),
			}
		}
	}

	if best == nil || best.Confidence < m.threshold {
		if best != nil {
			m.logger.Debug("best match below threshold",
				zap.String("externalId", externalID),
				zap.Int("confidence", best.Confidence))
		}
		return nil, nil
	}
	return best, nil
}

func (m *Matcher) score(product *models.Product, haystack string, price decimal.Decimal) (int, []string) {
	score := 0
	var reasons []string

	if contains(haystack, product.Brand) {
		score += scoreBrand
		reasons = append(reasons, "brand")
	}
	if contains(haystack, product.Model) {
		score += scoreModel
		reasons = append(reasons, "model")
	}
	if contains(haystack, product.Year) {
		score += scoreYear
		reasons = append(reasons, "year")
	}
	if contains(haystack, product.Finish) {
		score += scoreFinish
		reasons = append(reasons, "finish")
	}
	if contains(haystack, product.SKU) {
		score += scoreSKUSeen
		reasons = append(reasons, "sku")
	}
	if !price.IsZero() && priceWithin(price, product.CanonicalPrice(), decimal.NewFromFloat(0.01)) {
		score += scorePrice
		reasons = append(reasons, "price")
	}

	return score, reasons
}

// ToJSONB renders the candidate for storage in change_data.match_candidate
func (c *MatchCandidate) ToJSONB() models.JSONB {
	return models.JSONB{
		"product_id": c.ProductID,
		"sku":        c.SKU,
		"confidence": c.Confidence,
		"reason":     c.Reason,
	}
}

// RecordHint persists the suggestion so later runs and operators see it
func (m *Matcher) RecordHint(ctx context.Context, platformName models.PlatformTag, externalID string, candidate *MatchCandidate) error {
	if candidate == nil {
		return nil
	}
	return m.products.SaveMappingHint(ctx, &models.ProductMapping{
		ProductID:    candidate.ProductID,
		PlatformName: platformName,
		ExternalID:   externalID,
		Confidence:   candidate.Confidence,
	})
}

func hasLinkFor(product *models.Product, platformName models.PlatformTag) bool {
	for _, link := range product.Links {
		if link.PlatformName == platformName && !link.Status.IsOffMarket() {
			return true
		}
	}
	return false
}

func contains(haystack, needle string) bool {
	needle = strings.TrimSpace(strings.ToLower(needle))
	if needle == "" {
		return false
	}
	return strings.Contains(haystack, needle)
}

func priceWithin(a, b, epsilon decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(epsilon)
}

// Describe renders a one-line summary for CLI output
func (c *MatchCandidate) Describe() string {
	return fmt.Sprintf("product %d (%s) confidence %d via %s", c.ProductID, c.SKU, c.Confidence, c.Reason)
}
