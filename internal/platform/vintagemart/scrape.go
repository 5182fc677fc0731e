package vintagemart

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/oakvale/gearsync/internal/models"
	"github.com/oakvale/gearsync/internal/platform"
)

// The seller area renders listings as table rows carrying data attributes.
// Parsing leans on those attributes rather than the surrounding markup,
// which the marketplace restyles often.

var (
	rowPattern        = regexp.MustCompile(`(?s)<tr[^>]*class="[^"]*listing-row[^"]*"[^>]*>.*?</tr>`)
	attrPattern       = regexp.MustCompile(`data-([a-z-]+)="([^"]*)"`)
	titleLinkPattern  = regexp.MustCompile(`(?s)<a[^>]*href="([^"]+)"[^>]*class="[^"]*listing-title[^"]*"[^>]*>(.*?)</a>`)
	pricePattern      = regexp.MustCompile(`(?s)<td[^>]*class="[^"]*listing-price[^"]*"[^>]*>(.*?)</td>`)
	totalPagesPattern = regexp.MustCompile(`data-total-pages="(\d+)"`)
	createdIDPattern  = regexp.MustCompile(`data-created-listing-id="(\d+)"`)
	createdURLPattern = regexp.MustCompile(`data-created-listing-url="([^"]+)"`)
	tagPattern        = regexp.MustCompile(`<[^>]+>`)
)

// statusTable translates the seller area's status tokens into the
// universal set
var statusTable = map[string]models.ListingStatus{
	"for_sale":  models.ListingActive,
	"on_hold":   models.ListingActive,
	"sold":      models.ListingSold,
	"expired":   models.ListingEnded,
	"draft":     models.ListingDraft,
	"withdrawn": models.ListingRemoved,
}

// scrapedListing is one row of the seller listings table
type scrapedListing struct {
	ExternalID string `json:"externalId"`
	Status     string `json:"status"`
	PriceText  string `json:"priceText"`
	Title      string `json:"title"`
	URL        string `json:"url"`
}

func (s scrapedListing) toRemoteListing() platform.RemoteListing {
	raw, _ := json.Marshal(s)
	return platform.RemoteListing{
		ExternalID: s.ExternalID,
		Status:     platform.MapStatus(s.Status, statusTable, models.ListingRemoved),
		Price:      parsePrice(s.PriceText),
		Title:      s.Title,
		ListingURL: s.URL,
		Raw:        raw,
	}
}

// parseListingsPage extracts every listing row and the page count from one
// seller listings page
func parseListingsPage(html string) ([]scrapedListing, int, error) {
	if !strings.Contains(html, "listing-row") && !strings.Contains(html, "no-listings") {
		return nil, 0, fmt.Errorf("page does not look like the seller listings table")
	}

	var listings []scrapedListing
	for _, row := range rowPattern.FindAllString(html, -1) {
		attrs := map[string]string{}
		for _, m := range attrPattern.FindAllStringSubmatch(row, -1) {
			attrs[m[1]] = m[2]
		}
		id := attrs["listing-id"]
		if id == "" {
			continue
		}

		scraped := scrapedListing{
			ExternalID: id,
			Status:     attrs["status"],
		}
		if m := titleLinkPattern.FindStringSubmatch(row); m != nil {
			scraped.URL = m[1]
			scraped.Title = stripTags(m[2])
		}
		if m := pricePattern.FindStringSubmatch(row); m != nil {
			scraped.PriceText = stripTags(m[1])
		}
		listings = append(listings, scraped)
	}

	totalPages := 1
	if m := totalPagesPattern.FindStringSubmatch(html); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			totalPages = n
		}
	}
	return listings, totalPages, nil
}

// parseCreatedListing extracts the new listing's id and URL from the
// post-create confirmation page
func parseCreatedListing(html string) (externalID, listingURL string, ok bool) {
	idMatch := createdIDPattern.FindStringSubmatch(html)
	if idMatch == nil {
		return "", "", false
	}
	externalID = idMatch[1]
	if urlMatch := createdURLPattern.FindStringSubmatch(html); urlMatch != nil {
		listingURL = urlMatch[1]
	}
	return externalID, listingURL, true
}

// parsePrice turns a display price like "£4,999.00" into a normalized
// decimal; unparseable text yields zero rather than failing the whole page
func parsePrice(text string) decimal.Decimal {
	cleaned := strings.NewReplacer("£", "", "GBP", "", ",", "", " ", "", " ", "").
		Replace(strings.TrimSpace(text))
	if cleaned == "" {
		return decimal.Zero
	}
	price, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero
	}
	return platform.NormalizePrice(price)
}

// pageHasBanner reports whether the response contains a given flash banner
func pageHasBanner(html, text string) bool {
	return strings.Contains(strings.ToLower(html), strings.ToLower(text))
}

func stripTags(s string) string {
	return strings.TrimSpace(tagPattern.ReplaceAllString(s, ""))
}
