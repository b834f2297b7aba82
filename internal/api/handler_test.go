package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"counter-service/internal/models"
	"counter-service/internal/service"
	"counter-service/internal/store"
	"counter-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var baseTime = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeMonitor struct {
	triggers int
	result   *service.CycleResult
}

func (m *fakeMonitor) RunOnce(ctx context.Context) (*service.CycleResult, error) {
	return m.result, nil
}

func (m *fakeMonitor) Trigger() { m.triggers++ }

type testServer struct {
	router  *gin.Engine
	store   *store.MemoryStore
	clock   *util.FakeClock
	monitor *fakeMonitor
	handler *Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	util.SetLogger(zap.NewNop())

	m := store.NewMemoryStore()
	m.AddStatus(models.OrderStatus{ID: 1, Code: "RECEIVED", Name: "Received"})
	m.AddStatus(models.OrderStatus{ID: 2, Code: "QUEUED", Name: "Queued"})
	m.AddStatus(models.OrderStatus{ID: 4, Code: "DELIVERED", Name: "Delivered", Terminal: true})
	m.AddTaxRate(models.TaxRate{ID: 1, Rate: decimal.RequireFromString("22"), Description: "standard"})
	m.AddCupSize(models.CupSize{ID: 2, Name: "Medium", BasePrice: decimal.RequireFromString("3.50")})
	m.AddRecipeIngredient(models.RecipeIngredient{ID: 10, IngredientID: 100, Name: "Milk",
		BaseQuantity: decimal.RequireFromString("100"), AddedPrice: decimal.RequireFromString("0.01")})
	m.SetSizeMultiplier(10, 2, decimal.RequireFromString("1.3"))

	clock := util.NewFakeClock(baseTime)
	states := service.NewOrderStateStore(m, nil, 0)
	thresholds := service.NewThresholdRegistry(m, nil, 0, clock)
	pricing := service.NewPriceCalculator(m, m, nil, 0)
	orders := service.NewOrderService(m, states, pricing, nil, clock)
	alerts := service.NewAlertService(m, nil, clock)
	payments := service.NewPaymentService(m, m, nil, clock)
	monitor := &fakeMonitor{result: &service.CycleResult{Created: 2}}

	h := NewHandler(orders, alerts, thresholds, pricing, payments, monitor)
	router := gin.New()
	h.SetupRoutes(router)

	return &testServer{router: router, store: m, clock: clock, monitor: monitor, handler: h}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), dest))
}

func (s *testServer) createOrder(t *testing.T) int64 {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/v1/orders", gin.H{"customer_id": 1, "initial_status_id": 1, "priority": 2})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp struct {
		Order models.Order `json:"order"`
	}
	decode(t, w, &resp)
	return resp.Order.ID
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestReadinessReportsFailingDependency(t *testing.T) {
	s := newTestServer(t)
	s.handler.AddReadinessCheck("redis", func(ctx context.Context) error { return errors.New("connection refused") })

	w := s.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestOrderLifecycle(t *testing.T) {
	s := newTestServer(t)
	id := s.createOrder(t)

	w := s.do(t, http.MethodGet, fmt.Sprintf("/api/v1/orders/%d", id), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	s.clock.Advance(3 * time.Minute)
	w = s.do(t, http.MethodPost, fmt.Sprintf("/api/v1/orders/%d/transitions", id), gin.H{"status_id": 2})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, fmt.Sprintf("/api/v1/orders/%d/transitions", id), gin.H{"status_id": 2})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = s.do(t, http.MethodGet, fmt.Sprintf("/api/v1/orders/%d/history", id), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var history struct {
		Intervals []models.StateInterval `json:"intervals"`
	}
	decode(t, w, &history)
	require.Len(t, history.Intervals, 2)
	assert.NotNil(t, history.Intervals[0].EndedAt)
	assert.Nil(t, history.Intervals[1].EndedAt)
}

func TestOrderErrors(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
	}{
		{"unknown order", http.MethodGet, "/api/v1/orders/99", nil, http.StatusNotFound},
		{"bad id", http.MethodGet, "/api/v1/orders/abc", nil, http.StatusBadRequest},
		{"missing fields", http.MethodPost, "/api/v1/orders", gin.H{"priority": 1}, http.StatusBadRequest},
		{"terminal initial status", http.MethodPost, "/api/v1/orders",
			gin.H{"customer_id": 1, "initial_status_id": 4}, http.StatusUnprocessableEntity},
		{"priority out of range", http.MethodPost, "/api/v1/orders",
			gin.H{"customer_id": 1, "initial_status_id": 1, "priority": 42}, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
}

func TestAddItemAndTotals(t *testing.T) {
	s := newTestServer(t)
	id := s.createOrder(t)

	body := gin.H{
		"item": gin.H{
			"kind":        "custom_beverage",
			"cup_size_id": 2,
			"selections":  []gin.H{{"recipe_ingredient_id": 10, "quantity": "1"}},
		},
		"count":       1,
		"tax_rate_id": 1,
	}
	w := s.do(t, http.MethodPost, fmt.Sprintf("/api/v1/orders/%d/items", id), body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Item      models.OrderItem     `json:"item"`
		Breakdown models.ItemBreakdown `json:"breakdown"`
	}
	decode(t, w, &resp)
	assert.True(t, decimal.RequireFromString("4.80").Equal(resp.Breakdown.UnitPrice))
	assert.True(t, decimal.RequireFromString("1.06").Equal(resp.Breakdown.TaxAmount))

	w = s.do(t, http.MethodGet, fmt.Sprintf("/api/v1/orders/%d/total", id), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var total models.OrderTotal
	decode(t, w, &total)
	assert.True(t, decimal.RequireFromString("5.86").Equal(total.GrandTotal))

	w = s.do(t, http.MethodPost, fmt.Sprintf("/api/v1/order-items/%d/validate-price", resp.Item.ID),
		gin.H{"claimed_price": "4.80"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, fmt.Sprintf(`{"item_id": %d, "valid": true}`, resp.Item.ID), w.Body.String())
}

func TestAddItemRejections(t *testing.T) {
	s := newTestServer(t)
	id := s.createOrder(t)
	path := fmt.Sprintf("/api/v1/orders/%d/items", id)

	w := s.do(t, http.MethodPost, path, gin.H{"item": gin.H{"kind": "sandwich"}, "count": 1, "tax_rate_id": 1})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = s.do(t, http.MethodPost, path, gin.H{
		"item":  gin.H{"kind": "custom_beverage", "cup_size_id": 2, "selections": []gin.H{{"recipe_ingredient_id": 10, "quantity": "1"}}},
		"count": 1, "tax_rate_id": 9,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "unknown tax rate")

	w = s.do(t, http.MethodPost, path, gin.H{
		"item": gin.H{"kind": "custom_beverage", "cup_size_id": 2, "selections": []gin.H{
			{"recipe_ingredient_id": 10, "quantity": "1"},
			{"recipe_ingredient_id": 10, "quantity": "1"},
		}},
		"count": 1, "tax_rate_id": 1,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "selected more than once")
}

func TestQuote(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodPost, "/api/v1/pricing/quote", gin.H{
		"item":         gin.H{"kind": "custom_beverage", "cup_size_id": 2, "selections": []gin.H{{"recipe_ingredient_id": 10, "quantity": "1"}}},
		"count":        2,
		"tax_rate_id":  1,
		"discount_pct": "50",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var quote models.ItemBreakdown
	decode(t, w, &quote)
	assert.True(t, decimal.RequireFromString("4.80").Equal(quote.TaxableAmount))
	assert.Equal(t, models.KindCustomBeverage, quote.Kind)
}

func TestThresholdEndpoints(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/v1/thresholds/2", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPut, "/api/v1/thresholds/2", gin.H{"attention_minutes": 10, "critical_minutes": 5})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = s.do(t, http.MethodPut, "/api/v1/thresholds/2", gin.H{"attention_minutes": 5, "critical_minutes": 10, "updated_by": "ops"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodGet, "/api/v1/thresholds/2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var cfg models.ThresholdConfig
	decode(t, w, &cfg)
	assert.Equal(t, 10, cfg.CriticalMinutes)
	assert.Equal(t, "ops", cfg.UpdatedBy)
	assert.True(t, cfg.UpdatedAt.Equal(baseTime))
}

func TestAlertEndpoints(t *testing.T) {
	s := newTestServer(t)
	alert := &models.OperationalAlert{
		CreatedAt: baseTime,
		OrderIDs:  []int64{7},
		Message:   "Order 7 is late",
		State:     models.AlertStateActive,
		Severity:  models.SeverityCritical,
		Priority:  models.AlertPriorityCritical,
		Category:  models.AlertCategoryStateDelay,
	}
	require.NoError(t, s.store.CreateAlert(context.Background(), alert))

	w := s.do(t, http.MethodGet, "/api/v1/alerts/active?min_priority=10&page_size=500", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page models.AlertPage
	decode(t, w, &page)
	assert.Equal(t, 1, page.TotalItems)
	assert.Equal(t, service.MaxAlertPageSize, page.PageSize)

	w = s.do(t, http.MethodGet, "/api/v1/alerts?page=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/alerts?from=2024-03-02T00:00:00Z&to=2024-03-01T00:00:00Z", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, fmt.Sprintf("/api/v1/alerts/%d/acknowledge", alert.ID), gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, fmt.Sprintf("/api/v1/alerts/%d/acknowledge", alert.ID), gin.H{"by": "manager"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPost, fmt.Sprintf("/api/v1/alerts/%d/resolve", alert.ID), gin.H{"resolver": "barista"})
	require.Equal(t, http.StatusOK, w.Code)
	var resolved models.OperationalAlert
	decode(t, w, &resolved)
	assert.Equal(t, models.AlertStateResolved, resolved.State)

	w = s.do(t, http.MethodGet, "/api/v1/alerts/summary", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var summary models.AlertSummary
	decode(t, w, &summary)
	assert.Equal(t, 1, summary.ByState[models.AlertStateResolved])

	w = s.do(t, http.MethodGet, "/api/v1/alerts/404", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPaymentOutcome(t *testing.T) {
	s := newTestServer(t)
	id := s.createOrder(t)

	w := s.do(t, http.MethodPost, fmt.Sprintf("/api/v1/orders/%d/payment", id), gin.H{"payment_status_id": 3, "reason": "declined"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodGet, "/api/v1/alerts?category=payment-issue", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page models.AlertPage
	decode(t, w, &page)
	assert.Equal(t, 1, page.TotalItems)

	w = s.do(t, http.MethodPost, fmt.Sprintf("/api/v1/orders/%d/payment", id), gin.H{"payment_status_id": 8})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunMonitor(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/monitor/run", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var result service.CycleResult
	decode(t, w, &result)
	assert.Equal(t, 2, result.Created)

	w = s.do(t, http.MethodPost, "/api/v1/monitor/run?async=true", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, 1, s.monitor.triggers)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("load: %w", models.ErrNotFound), http.StatusNotFound},
		{models.ErrConcurrentTransitionConflict, http.StatusConflict},
		{models.ErrInvalidTransition, http.StatusUnprocessableEntity},
		{models.ErrMissingMultiplier, http.StatusUnprocessableEntity},
		{models.ErrInvalidArgument, http.StatusBadRequest},
		{fmt.Errorf("list: %w: %w", models.ErrDependencyUnavailable, errors.New("eof")), http.StatusServiceUnavailable},
		{models.ErrDataCorruption, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, statusFor(tt.err), tt.err.Error())
	}
}
