package auctionhouse

import "encoding/xml"

// Wire types for the trading-call XML envelopes. Field coverage is limited
// to what the sync engine reads; unknown elements are ignored by the
// decoder and preserved upstream in RemoteListing.Raw.

// requesterCredentials carries the per-seller auth token inside every call
type requesterCredentials struct {
	AuthToken string `xml:"AuthToken"`
}

// callError is one entry of a response's Errors block
type callError struct {
	Code         string `xml:"ErrorCode" json:"code"`
	ShortMessage string `xml:"ShortMessage" json:"shortMessage"`
	LongMessage  string `xml:"LongMessage" json:"longMessage"`
	Severity     string `xml:"SeverityCode" json:"severity"`
}

// acknowledged is implemented by every response type so the shared call
// path can inspect the in-band Ack/Errors block
type acknowledged interface {
	ack() (string, []callError)
}

// callResponse is the minimal envelope for calls whose payload we discard
type callResponse struct {
	XMLName xml.Name    `xml:""`
	Ack     string      `xml:"Ack"`
	Errors  []callError `xml:"Errors"`
}

func (r *callResponse) ack() (string, []callError) { return r.Ack, r.Errors }

// amount is a currency-tagged decimal as the trading API renders money
type amount struct {
	CurrencyID string  `xml:"currencyID,attr" json:"currencyId"`
	Value      float64 `xml:",chardata" json:"value"`
}

// sellerListingsRequest pages through the seller's listings
type sellerListingsRequest struct {
	XMLName        xml.Name             `xml:"GetSellerListingsRequest"`
	Credentials    requesterCredentials `xml:"RequesterCredentials"`
	EntriesPerPage int                  `xml:"Pagination>EntriesPerPage"`
	PageNumber     int                  `xml:"Pagination>PageNumber"`
	IncludeDetails bool                 `xml:"IncludeDetails"`
}

// paginationResult reports where the remote thinks the page cursor is
type paginationResult struct {
	TotalPages   int `xml:"TotalNumberOfPages" json:"totalPages"`
	TotalEntries int `xml:"TotalNumberOfEntries" json:"totalEntries"`
}

// sellingStatus is the remote's view of a lot's commercial state
type sellingStatus struct {
	ListingStatus string `xml:"ListingStatus" json:"listingStatus"`
	CurrentPrice  amount `xml:"CurrentPrice" json:"currentPrice"`
	QuantitySold  int    `xml:"QuantitySold" json:"quantitySold"`
}

// listingDetails carries per-lot URLs and timestamps
type listingDetails struct {
	ViewItemURL string `xml:"ViewItemURL" json:"viewItemUrl"`
	StartTime   string `xml:"StartTime" json:"startTime"`
	EndTime     string `xml:"EndTime" json:"endTime"`
}

// sellerItem is one lot in a GetSellerListings page
type sellerItem struct {
	ItemID         string         `xml:"ItemID" json:"itemId"`
	Title          string         `xml:"Title" json:"title"`
	Quantity       int            `xml:"Quantity" json:"quantity"`
	SellingStatus  sellingStatus  `xml:"SellingStatus" json:"sellingStatus"`
	ListingDetails listingDetails `xml:"ListingDetails" json:"listingDetails"`
	CategoryID     string         `xml:"PrimaryCategory>CategoryID" json:"categoryId"`
}

type sellerListingsResponse struct {
	XMLName    xml.Name         `xml:"GetSellerListingsResponse"`
	Ack        string           `xml:"Ack"`
	Errors     []callError      `xml:"Errors"`
	Items      []sellerItem     `xml:"ItemArray>Item"`
	Pagination paginationResult `xml:"PaginationResult"`
}

func (r *sellerListingsResponse) ack() (string, []callError) { return r.Ack, r.Errors }

// endListingRequest closes a lot
type endListingRequest struct {
	XMLName     xml.Name             `xml:"EndListingRequest"`
	Credentials requesterCredentials `xml:"RequesterCredentials"`
	ItemID      string               `xml:"ItemID"`
	Reason      string               `xml:"EndingReason"`
}

// reviseItem carries only the fields being changed; absent elements are
// left untouched by the remote
type reviseItem struct {
	ItemID      string  `xml:"ItemID"`
	Title       string  `xml:"Title,omitempty"`
	Description string  `xml:"Description,omitempty"`
	StartPrice  *amount `xml:"StartPrice,omitempty"`
	Quantity    *int    `xml:"Quantity,omitempty"`
}

type reviseListingRequest struct {
	XMLName     xml.Name             `xml:"ReviseListingRequest"`
	Credentials requesterCredentials `xml:"RequesterCredentials"`
	Item        reviseItem           `xml:"Item"`
}

type pictureURL struct {
	URL string `xml:",chardata"`
}

type pictureDetails struct {
	URLs []pictureURL `xml:"PictureURL"`
}

// addItem is the full lot description for AddListing
type addItem struct {
	Title             string         `xml:"Title"`
	Description       string         `xml:"Description"`
	CategoryID        string         `xml:"PrimaryCategory>CategoryID"`
	StartPrice        amount         `xml:"StartPrice"`
	Quantity          int            `xml:"Quantity"`
	ConditionID       int            `xml:"ConditionID"`
	Country           string         `xml:"Country"`
	Currency          string         `xml:"Currency"`
	ListingDuration   string         `xml:"ListingDuration"`
	ShippingProfileID string         `xml:"SellerProfiles>SellerShippingProfile>ShippingProfileID,omitempty"`
	SellerProfileID   string         `xml:"SellerProfiles>SellerPaymentProfile>PaymentProfileID,omitempty"`
	PictureDetails    pictureDetails `xml:"PictureDetails"`
}

type addListingRequest struct {
	XMLName     xml.Name             `xml:"AddListingRequest"`
	Credentials requesterCredentials `xml:"RequesterCredentials"`
	Item        addItem              `xml:"Item"`
}

type feeSummary struct {
	Total amount `xml:"Fee"`
}

type addListingResponse struct {
	XMLName    xml.Name    `xml:"AddListingResponse"`
	Ack        string      `xml:"Ack"`
	Errors     []callError `xml:"Errors"`
	ItemID     string      `xml:"ItemID"`
	ListingURL string      `xml:"ListingURL"`
	Fees       feeSummary  `xml:"Fees"`
}

func (r *addListingResponse) ack() (string, []callError) { return r.Ack, r.Errors }
