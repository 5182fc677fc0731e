package gearexchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/oakvale/gearsync/internal/models"
	"github.com/oakvale/gearsync/internal/platform"
)

func newTestAdapter(t *testing.T, handler http.Handler) *Adapter {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(server.Close)
	return New(Config{APIURL: server.URL, APIToken: "test-token"}, zap.NewNop())
}

func TestFetchAllPagesThroughListings(t *testing.T) {
	pages := map[string]string{
		"1": `{"total_pages": 2, "listings": [
			{"id": 1001, "state": {"slug": "live"}, "price": {"amount": "2500.00", "currency": "GBP"},
			 "inventory": 1, "sold_count": 0, "title": "Fender Jaguar",
			 "_links": {"web": {"href": "https://gx.example/item/1001"}}}
		]}`,
		"2": `{"total_pages": 2, "listings": [
			{"id": 1002, "state": {"slug": "sold_out"}, "price": {"amount": "999.99", "currency": "GBP"},
			 "inventory": 0, "sold_count": 1, "title": "Boss DS-1"}
		]}`,
	}

	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/my/listings", r.URL.Path)
		require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		fmt.Fprint(w, pages[r.URL.Query().Get("page")])
	}))

	listings, err := adapter.FetchAll(context.Background())
	require.NoError(t, err)
	require.Len(t, listings, 2)

	assert.Equal(t, "1001", listings[0].ExternalID)
	assert.Equal(t, models.ListingActive, listings[0].Status)
	assert.Equal(t, "2500.00", listings[0].Price.StringFixed(2))
	assert.Equal(t, "https://gx.example/item/1001", listings[0].ListingURL)

	assert.Equal(t, models.ListingSold, listings[1].Status)
	require.NotNil(t, listings[1].QuantitySold)
	assert.Equal(t, 1, *listings[1].QuantitySold)
}

func TestFetchAllSkipsMalformedListings(t *testing.T) {
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"total_pages": 1, "listings": [
			{"id": 1, "state": {"slug": "live"}, "price": {"amount": "not-a-price"}},
			{"id": 2, "state": {"slug": "live"}, "price": {"amount": "100.00"}}
		]}`)
	}))

	listings, err := adapter.FetchAll(context.Background())
	require.NoError(t, err)
	require.Len(t, listings, 1)
	assert.Equal(t, "2", listings[0].ExternalID)
}

func TestMarkAsSoldAlreadyEndedIsSuccess(t *testing.T) {
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/my/listings/1001/state/end", r.URL.Path)
		w.WriteHeader(http.StatusConflict)
		fmt.Fprint(w, `{"error_code": "listing_not_live", "message": "Listing is not live"}`)
	}))

	alreadyClosed, err := adapter.MarkAsSold(context.Background(), "1001")
	require.NoError(t, err)
	assert.True(t, alreadyClosed)
}

func TestUpdatePriceSendsTwoDecimalAmount(t *testing.T) {
	var body map[string]interface{}
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/listings/1001", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusOK)
	}))

	require.NoError(t, adapter.UpdatePrice(context.Background(), "1001", decimal.RequireFromString("2450.5")))
	price := body["price"].(map[string]interface{})
	assert.Equal(t, "2450.50", price["amount"])
	assert.Equal(t, "GBP", price["currency"])
}

func TestUpdateQuantityZeroEndsListing(t *testing.T) {
	var endCalled bool
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/my/listings/1001/state/end" {
			endCalled = true
		}
		w.WriteHeader(http.StatusOK)
	}))

	require.NoError(t, adapter.UpdateQuantity(context.Background(), "1001", 0, platform.QuantityHints{}))
	assert.True(t, endCalled)
}

func TestErrorTranslation(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			"rate limited", http.StatusTooManyRequests, `{"message": "slow down"}`,
			func(t *testing.T, err error) { assert.True(t, platform.IsTransient(err)) },
		},
		{
			"server error", http.StatusBadGateway, `upstream down`,
			func(t *testing.T, err error) { assert.True(t, platform.IsTransient(err)) },
		},
		{
			"gone", http.StatusNotFound, `{"message": "not found"}`,
			func(t *testing.T, err error) { assert.True(t, platform.IsNotFound(err)) },
		},
		{
			"bad token", http.StatusUnauthorized, `{}`,
			func(t *testing.T, err error) { assert.Equal(t, "bad_credentials", platform.PermanentReason(err)) },
		},
		{
			"validation", http.StatusUnprocessableEntity, `{"error_code": "price_too_low", "message": "nope"}`,
			func(t *testing.T, err error) { assert.Equal(t, "price_too_low", platform.PermanentReason(err)) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			err := adapter.UpdatePrice(context.Background(), "1001", decimal.NewFromInt(100))
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestRetryAfterIsCarried(t *testing.T) {
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	err := adapter.UpdatePrice(context.Background(), "1001", decimal.NewFromInt(100))
	require.Error(t, err)
	assert.Equal(t, float64(30), platform.RetryAfterOf(err).Seconds())
}
