package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"counter-service/internal/models"
	"counter-service/internal/redisclient"
	"counter-service/internal/store"
	"counter-service/internal/util"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	statusReceived  int64 = 1
	statusQueued    int64 = 2
	statusPreparing int64 = 3
	statusDelivered int64 = 4
	statusCancelled int64 = 5

	taxStandard int64 = 1
	taxReduced  int64 = 2
	taxExpired  int64 = 3
	taxUpcoming int64 = 4

	cupSmall  int64 = 1
	cupMedium int64 = 2

	recipeMilk  int64 = 10
	recipeSyrup int64 = 11
)

var baseTime = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, expected string, actual decimal.Decimal) {
	t.Helper()
	assert.Truef(t, dec(expected).Equal(actual), "expected %s, got %s", expected, actual)
}

func newSeededStore() *store.MemoryStore {
	m := store.NewMemoryStore()

	m.AddStatus(models.OrderStatus{ID: statusReceived, Code: "RECEIVED", Name: "Received"})
	m.AddStatus(models.OrderStatus{ID: statusQueued, Code: "QUEUED", Name: "Queued"})
	m.AddStatus(models.OrderStatus{ID: statusPreparing, Code: "PREPARING", Name: "Preparing"})
	m.AddStatus(models.OrderStatus{ID: statusDelivered, Code: "DELIVERED", Name: "Delivered", Terminal: true})
	m.AddStatus(models.OrderStatus{ID: statusCancelled, Code: "CANCELLED", Name: "Cancelled", Terminal: true})

	m.AddTaxRate(models.TaxRate{ID: taxStandard, Rate: dec("22"), Description: "standard"})
	m.AddTaxRate(models.TaxRate{ID: taxReduced, Rate: dec("10"), Description: "reduced"})
	until := baseTime
	m.AddTaxRate(models.TaxRate{ID: taxExpired, Rate: dec("4"), Description: "superseded", ValidTo: &until})
	from := baseTime.Add(24 * time.Hour)
	m.AddTaxRate(models.TaxRate{ID: taxUpcoming, Rate: dec("5"), Description: "from tomorrow", ValidFrom: &from})

	m.AddCupSize(models.CupSize{ID: cupSmall, Name: "Small", BasePrice: dec("3.00")})
	m.AddCupSize(models.CupSize{ID: cupMedium, Name: "Medium", BasePrice: dec("3.50")})

	m.AddRecipeIngredient(models.RecipeIngredient{ID: recipeMilk, IngredientID: 100, Name: "Milk",
		BaseQuantity: dec("100"), AddedPrice: dec("0.01")})
	m.AddRecipeIngredient(models.RecipeIngredient{ID: recipeSyrup, IngredientID: 101, Name: "Syrup",
		BaseQuantity: dec("10"), AddedPrice: dec("0.05")})
	m.SetSizeMultiplier(recipeMilk, cupSmall, dec("1.0"))
	m.SetSizeMultiplier(recipeMilk, cupMedium, dec("1.3"))
	m.SetSizeMultiplier(recipeSyrup, cupSmall, dec("1.0"))

	m.SetBeveragePrice(1, cupSmall, dec("2.50"))
	m.SetDessertPrice(1, dec("4.00"))
	return m
}

// fakeCache is an in-memory ReferenceCache
type fakeCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	deletes []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string][]byte)}
}

func (c *fakeCache) GetJSON(ctx context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.entries[key]
	if !ok {
		return redisclient.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (c *fakeCache) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = raw
	return nil
}

func (c *fakeCache) Delete(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
		c.deletes = append(c.deletes, k)
	}
	return nil
}

func (c *fakeCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

// recordingPublisher keeps every published event
type recordingPublisher struct {
	mu            sync.Mutex
	orderCreated  []*models.OrderCreatedEvent
	statusChanged []*models.OrderStatusChangedEvent
	alerts        []*models.AlertEvent
}

func (p *recordingPublisher) PublishOrderCreated(ctx context.Context, e *models.OrderCreatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orderCreated = append(p.orderCreated, e)
	return nil
}

func (p *recordingPublisher) PublishOrderStatusChanged(ctx context.Context, e *models.OrderStatusChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statusChanged = append(p.statusChanged, e)
	return nil
}

func (p *recordingPublisher) PublishAlertEvent(ctx context.Context, e *models.AlertEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alerts = append(p.alerts, e)
	return nil
}

func (p *recordingPublisher) alertTypes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]string, 0, len(p.alerts))
	for _, e := range p.alerts {
		types = append(types, e.EventType)
	}
	return types
}

// fixture wires every service over one memory store
type fixture struct {
	store      *store.MemoryStore
	clock      *util.FakeClock
	cache      *fakeCache
	publisher  *recordingPublisher
	states     *OrderStateStore
	thresholds *ThresholdRegistry
	pricing    *PriceCalculator
	orders     *OrderService
	alerts     *AlertService
	monitor    *SLAMonitor
	payments   *PaymentService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:     newSeededStore(),
		clock:     util.NewFakeClock(baseTime),
		cache:     newFakeCache(),
		publisher: &recordingPublisher{},
	}
	f.states = NewOrderStateStore(f.store, f.cache, time.Minute)
	f.thresholds = NewThresholdRegistry(f.store, f.cache, time.Minute, f.clock)
	f.pricing = NewPriceCalculator(f.store, f.store, f.cache, time.Minute)
	f.orders = NewOrderService(f.store, f.states, f.pricing, f.publisher, f.clock)
	f.alerts = NewAlertService(f.store, f.publisher, f.clock)
	f.monitor = NewSLAMonitor(f.store, f.thresholds, f.publisher, f.clock)
	f.payments = NewPaymentService(f.store, f.store, f.publisher, f.clock)
	return f
}

func (f *fixture) createOrder(t *testing.T, statusID int64) *models.Order {
	t.Helper()
	resp, err := f.orders.CreateOrder(context.Background(), &CreateOrderRequest{
		CustomerID:      42,
		InitialStatusID: statusID,
		Priority:        5,
	})
	require.NoError(t, err)
	return resp.Order
}

func (f *fixture) setThreshold(t *testing.T, statusID int64, attention, critical int) {
	t.Helper()
	require.NoError(t, f.thresholds.Upsert(context.Background(), &models.ThresholdConfig{
		StatusID:         statusID,
		AttentionMinutes: attention,
		CriticalMinutes:  critical,
		UpdatedBy:        "test",
	}))
}

func (f *fixture) activeDelayAlerts(t *testing.T) []models.OperationalAlert {
	t.Helper()
	alerts, err := f.store.ListActiveAlerts(context.Background(), models.AlertCategoryStateDelay)
	require.NoError(t, err)
	return alerts
}
