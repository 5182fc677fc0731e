package services

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/oakvale/gearsync/internal/models"
	"github.com/oakvale/gearsync/internal/platform"
	"github.com/oakvale/gearsync/internal/repository"
)

// newTestDB opens an isolated in-memory database and migrates the schema
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, repository.Migrate(db))
	return db
}

func testLogger() *zap.Logger {
	return zap.NewNop()
}

// seedProduct inserts a product with sensible defaults
func seedProduct(t *testing.T, db *gorm.DB, p *models.Product) *models.Product {
	t.Helper()
	if p.SKU == "" {
		p.SKU = fmt.Sprintf("SKU-%s", t.Name())
	}
	if p.Title == "" {
		p.Title = "Test Instrument"
	}
	if p.Status == "" {
		p.Status = models.ProductActive
	}
	if p.BasePrice.IsZero() {
		p.BasePrice = decimal.NewFromInt(1000)
	}
	require.NoError(t, db.Create(p).Error)
	return p
}

// seedLink inserts a platform link
func seedLink(t *testing.T, db *gorm.DB, link *models.PlatformLink) *models.PlatformLink {
	t.Helper()
	if link.Status == "" {
		link.Status = models.ListingActive
	}
	require.NoError(t, db.Create(link).Error)
	return link
}

func strPtr(s string) *string {
	return &s
}

// MockAdapter is a testify mock for the adapter contract
type MockAdapter struct {
	mock.Mock
	tag models.PlatformTag

	mu    sync.Mutex
	calls []string
}

var _ platform.Adapter = (*MockAdapter)(nil)

func newMockAdapter(tag models.PlatformTag) *MockAdapter {
	return &MockAdapter{tag: tag}
}

// CallLog returns the external ids this adapter was asked to act on, in order
func (m *MockAdapter) CallLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *MockAdapter) logCall(externalID string) {
	m.mu.Lock()
	m.calls = append(m.calls, externalID)
	m.mu.Unlock()
}

func (m *MockAdapter) Name() models.PlatformTag {
	return m.tag
}

func (m *MockAdapter) FetchAll(ctx context.Context) ([]platform.RemoteListing, error) {
	args := m.Called(ctx)
	if listings, ok := args.Get(0).([]platform.RemoteListing); ok {
		return listings, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAdapter) MarkAsSold(ctx context.Context, externalID string) (bool, error) {
	m.logCall(externalID)
	args := m.Called(ctx, externalID)
	return args.Bool(0), args.Error(1)
}

func (m *MockAdapter) UpdatePrice(ctx context.Context, externalID string, newPrice decimal.Decimal) error {
	m.logCall(externalID)
	args := m.Called(ctx, externalID, newPrice)
	return args.Error(0)
}

func (m *MockAdapter) UpdateQuantity(ctx context.Context, externalID string, newQty int, hints platform.QuantityHints) error {
	m.logCall(externalID)
	args := m.Called(ctx, externalID, newQty, hints)
	return args.Error(0)
}

func (m *MockAdapter) CreateListing(ctx context.Context, product *models.Product, enriched *platform.CreateContext) (*platform.CreateResult, error) {
	args := m.Called(ctx, product, enriched)
	if result, ok := args.Get(0).(*platform.CreateResult); ok {
		return result, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAdapter) ApplyProductEdit(ctx context.Context, product *models.Product, link *models.PlatformLink, changedFields []string) (*platform.EditResult, error) {
	args := m.Called(ctx, product, link, changedFields)
	if result, ok := args.Get(0).(*platform.EditResult); ok {
		return result, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAdapter) SupportsMultiQuantity() bool {
	args := m.Called()
	return args.Bool(0)
}
