package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"counter-service/internal/models"

	"github.com/shopspring/decimal"
)

// MemoryStore is an in-process implementation of the Store contracts, used by
// tests and local runs without Postgres. SwapOpenInterval keeps the same
// compare-and-swap semantics the partial unique index gives in Postgres.
type MemoryStore struct {
	mu sync.RWMutex

	nextOrderID    int64
	nextIntervalID int64
	nextAlertID    int64
	nextItemID     int64

	statuses       map[int64]models.OrderStatus
	orders         map[int64]models.Order
	intervals      map[int64][]models.StateInterval
	thresholds     map[int64]models.ThresholdConfig
	alerts         map[int64]models.OperationalAlert
	items          map[int64]models.OrderItem
	taxRates       map[int64]models.TaxRate
	cupSizes       map[int64]models.CupSize
	beveragePrices map[[2]int64]decimal.Decimal
	dessertPrices  map[int64]decimal.Decimal
	recipe         map[int64]models.RecipeIngredient
	multipliers    map[[2]int64]decimal.Decimal
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextOrderID:    1,
		nextIntervalID: 1,
		nextAlertID:    1,
		nextItemID:     1,
		statuses:       make(map[int64]models.OrderStatus),
		orders:         make(map[int64]models.Order),
		intervals:      make(map[int64][]models.StateInterval),
		thresholds:     make(map[int64]models.ThresholdConfig),
		alerts:         make(map[int64]models.OperationalAlert),
		items:          make(map[int64]models.OrderItem),
		taxRates:       make(map[int64]models.TaxRate),
		cupSizes:       make(map[int64]models.CupSize),
		beveragePrices: make(map[[2]int64]decimal.Decimal),
		dessertPrices:  make(map[int64]decimal.Decimal),
		recipe:         make(map[int64]models.RecipeIngredient),
		multipliers:    make(map[[2]int64]decimal.Decimal),
	}
}

// Reference data loaders

func (m *MemoryStore) AddStatus(s models.OrderStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[s.ID] = s
}

func (m *MemoryStore) AddTaxRate(r models.TaxRate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.taxRates[r.ID] = r
}

func (m *MemoryStore) AddCupSize(c models.CupSize) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cupSizes[c.ID] = c
}

func (m *MemoryStore) SetBeveragePrice(beverageID, sizeID int64, price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.beveragePrices[[2]int64{beverageID, sizeID}] = price
}

func (m *MemoryStore) SetDessertPrice(dessertID int64, price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dessertPrices[dessertID] = price
}

func (m *MemoryStore) AddRecipeIngredient(r models.RecipeIngredient) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recipe[r.ID] = r
}

func (m *MemoryStore) SetSizeMultiplier(recipeIngredientID, cupSizeID int64, multiplier decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.multipliers[[2]int64{recipeIngredientID, cupSizeID}] = multiplier
}

// InsertRawInterval appends an interval without any checks. Tests use it to
// simulate storage that lost its uniqueness guarantee.
func (m *MemoryStore) InsertRawInterval(iv models.StateInterval) {
	m.mu.Lock()
	defer m.mu.Unlock()
	iv.ID = m.nextIntervalID
	m.nextIntervalID++
	m.intervals[iv.OrderID] = append(m.intervals[iv.OrderID], iv)
}

// Orders and intervals

func (m *MemoryStore) CreateOrder(ctx context.Context, order *models.Order, startedAt time.Time) (*models.StateInterval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.statuses[order.StatusID]; !ok {
		return nil, fmt.Errorf("%w: unknown status reference", models.ErrInvalidOrder)
	}

	order.ID = m.nextOrderID
	m.nextOrderID++
	order.CreatedAt = startedAt
	order.UpdatedAt = startedAt
	m.orders[order.ID] = *order

	iv := models.StateInterval{
		ID:        m.nextIntervalID,
		OrderID:   order.ID,
		StatusID:  order.StatusID,
		StartedAt: startedAt,
	}
	m.nextIntervalID++
	m.intervals[order.ID] = append(m.intervals[order.ID], iv)
	return &iv, nil
}

func (m *MemoryStore) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, models.ErrNotFound)
	}
	return &o, nil
}

func (m *MemoryStore) UpdateOrderTotal(ctx context.Context, orderID int64, total decimal.Decimal, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return fmt.Errorf("order %d: %w", orderID, models.ErrNotFound)
	}
	o.TotalAmount = total
	o.UpdatedAt = at
	m.orders[orderID] = o
	return nil
}

func (m *MemoryStore) UpdatePaymentStatus(ctx context.Context, orderID, paymentStatusID int64, at time.Time) error {
	if paymentStatusID < models.PaymentStatusPending || paymentStatusID > models.PaymentStatusFailed {
		return fmt.Errorf("payment status %d: %w", paymentStatusID, models.ErrInvalidArgument)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return fmt.Errorf("order %d: %w", orderID, models.ErrNotFound)
	}
	o.PaymentStatusID = paymentStatusID
	o.UpdatedAt = at
	m.orders[orderID] = o
	return nil
}

func (m *MemoryStore) GetOpenIntervals(ctx context.Context, orderID int64) ([]models.StateInterval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var open []models.StateInterval
	for _, iv := range m.intervals[orderID] {
		if iv.IsOpen() {
			open = append(open, iv)
		}
	}
	return open, nil
}

func (m *MemoryStore) GetIntervalHistory(ctx context.Context, orderID int64) ([]models.StateInterval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	history := make([]models.StateInterval, len(m.intervals[orderID]))
	copy(history, m.intervals[orderID])
	sort.SliceStable(history, func(i, j int) bool {
		if history[i].StartedAt.Equal(history[j].StartedAt) {
			return history[i].ID < history[j].ID
		}
		return history[i].StartedAt.Before(history[j].StartedAt)
	})
	return history, nil
}

func (m *MemoryStore) SwapOpenInterval(ctx context.Context, orderID, expectedOpenID int64, next *models.StateInterval) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok {
		return fmt.Errorf("order %d: %w", orderID, models.ErrNotFound)
	}

	list := m.intervals[orderID]
	openIdx := -1
	for i, iv := range list {
		if iv.IsOpen() {
			openIdx = i
			break
		}
	}

	switch {
	case expectedOpenID == 0 && openIdx >= 0:
		return fmt.Errorf("order %d: open interval exists: %w", orderID, models.ErrConcurrentTransitionConflict)
	case expectedOpenID != 0 && (openIdx < 0 || list[openIdx].ID != expectedOpenID):
		return fmt.Errorf("order %d: interval %d already closed: %w",
			orderID, expectedOpenID, models.ErrConcurrentTransitionConflict)
	}

	if openIdx >= 0 {
		end := next.StartedAt
		list[openIdx].EndedAt = &end
	}

	next.ID = m.nextIntervalID
	m.nextIntervalID++
	next.OrderID = orderID
	next.EndedAt = nil
	m.intervals[orderID] = append(list, *next)

	o.StatusID = next.StatusID
	o.UpdatedAt = next.StartedAt
	m.orders[orderID] = o
	return nil
}

func (m *MemoryStore) ListOpenIntervals(ctx context.Context) ([]models.OpenInterval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var open []models.OpenInterval
	for _, list := range m.intervals {
		for _, iv := range list {
			if !iv.IsOpen() {
				continue
			}
			st, ok := m.statuses[iv.StatusID]
			if !ok || st.Terminal {
				continue
			}
			open = append(open, models.OpenInterval{StateInterval: iv, StatusCode: st.Code, StatusName: st.Name})
		}
	}
	sort.Slice(open, func(i, j int) bool {
		if open[i].OrderID == open[j].OrderID {
			return open[i].StartedAt.Before(open[j].StartedAt)
		}
		return open[i].OrderID < open[j].OrderID
	})
	return open, nil
}

// Order items

func (m *MemoryStore) CreateOrderItem(ctx context.Context, item *models.OrderItem) error {
	if item.Item == nil {
		return fmt.Errorf("%w: missing item", models.ErrInvalidItem)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[item.OrderID]; !ok {
		return fmt.Errorf("order %d: %w", item.OrderID, models.ErrNotFound)
	}
	item.ID = m.nextItemID
	m.nextItemID++
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}
	m.items[item.ID] = *item
	return nil
}

func (m *MemoryStore) GetOrderItem(ctx context.Context, id int64) (*models.OrderItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, ok := m.items[id]
	if !ok {
		return nil, fmt.Errorf("order item %d: %w", id, models.ErrNotFound)
	}
	return &it, nil
}

func (m *MemoryStore) GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := []models.OrderItem{}
	for _, it := range m.items {
		if it.OrderID == orderID {
			items = append(items, it)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

// Thresholds

func (m *MemoryStore) GetThreshold(ctx context.Context, statusID int64) (*models.ThresholdConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.thresholds[statusID]
	if !ok {
		return nil, nil
	}
	return &cfg, nil
}

func (m *MemoryStore) GetThresholds(ctx context.Context, statusIDs []int64) ([]models.ThresholdConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	configs := []models.ThresholdConfig{}
	for _, id := range statusIDs {
		if cfg, ok := m.thresholds[id]; ok {
			configs = append(configs, cfg)
		}
	}
	return configs, nil
}

func (m *MemoryStore) UpsertThreshold(ctx context.Context, cfg *models.ThresholdConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.statuses[cfg.StatusID]; !ok {
		return fmt.Errorf("status %d: %w", cfg.StatusID, models.ErrNotFound)
	}
	m.thresholds[cfg.StatusID] = *cfg
	return nil
}

// Alerts

func (m *MemoryStore) CreateAlert(ctx context.Context, alert *models.OperationalAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	alert.ID = m.nextAlertID
	m.nextAlertID++
	alert.UpdatedAt = alert.CreatedAt
	cp := *alert
	cp.OrderIDs = append([]int64(nil), alert.OrderIDs...)
	m.alerts[alert.ID] = cp
	return nil
}

func (m *MemoryStore) GetAlert(ctx context.Context, id int64) (*models.OperationalAlert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.alerts[id]
	if !ok {
		return nil, fmt.Errorf("alert %d: %w", id, models.ErrNotFound)
	}
	return &a, nil
}

func (m *MemoryStore) ListActiveAlerts(ctx context.Context, category string) ([]models.OperationalAlert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	alerts := []models.OperationalAlert{}
	for _, a := range m.alerts {
		if a.State == models.AlertStateActive && a.Category == category {
			alerts = append(alerts, a)
		}
	}
	sort.Slice(alerts, func(i, j int) bool { return alerts[i].ID < alerts[j].ID })
	return alerts, nil
}

func (m *MemoryStore) UpdateAlertSeverity(ctx context.Context, id int64, severity models.Severity, priority int, message string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok || a.State != models.AlertStateActive {
		return fmt.Errorf("active alert %d: %w", id, models.ErrNotFound)
	}
	a.Severity = severity
	a.Priority = priority
	a.Message = message
	a.UpdatedAt = at
	m.alerts[id] = a
	return nil
}

func (m *MemoryStore) ResolveAlert(ctx context.Context, id int64, at time.Time, resolver *string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok {
		return false, fmt.Errorf("alert %d: %w", id, models.ErrNotFound)
	}
	if a.State != models.AlertStateActive {
		return false, nil
	}
	resolvedAt := at
	a.State = models.AlertStateResolved
	a.ResolvedAt = &resolvedAt
	a.ResolvedBy = resolver
	a.UpdatedAt = at
	m.alerts[id] = a
	return true, nil
}

func (m *MemoryStore) AcknowledgeAlert(ctx context.Context, id int64, at time.Time, by string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok {
		return fmt.Errorf("alert %d: %w", id, models.ErrNotFound)
	}
	ackAt, ackBy := at, by
	a.AcknowledgedAt = &ackAt
	a.AcknowledgedBy = &ackBy
	a.UpdatedAt = at
	m.alerts[id] = a
	return nil
}

func (m *MemoryStore) ListAlerts(ctx context.Context, f models.AlertFilter) ([]models.OperationalAlert, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []models.OperationalAlert
	for _, a := range m.alerts {
		switch {
		case a.Archived:
		case f.State != "" && a.State != f.State:
		case f.Category != "" && a.Category != f.Category:
		case f.MinPriority > 0 && a.Priority < f.MinPriority:
		case f.From != nil && a.CreatedAt.Before(*f.From):
		case f.To != nil && !a.CreatedAt.Before(*f.To):
		default:
			matched = append(matched, a)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	start := (f.Page - 1) * f.PageSize
	if start > total {
		start = total
	}
	end := start + f.PageSize
	if end > total {
		end = total
	}
	page := make([]models.OperationalAlert, end-start)
	copy(page, matched[start:end])
	return page, total, nil
}

func (m *MemoryStore) AlertSummary(ctx context.Context) (*models.AlertSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	summary := &models.AlertSummary{
		ByState:    make(map[models.AlertState]int),
		ByCategory: make(map[string]int),
		ByPriority: make(map[int]int),
	}
	for _, a := range m.alerts {
		if a.Archived {
			continue
		}
		summary.ByState[a.State]++
		summary.ByCategory[a.Category]++
		summary.ByPriority[a.Priority]++
	}
	return summary, nil
}

func (m *MemoryStore) ArchiveResolvedAlerts(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, a := range m.alerts {
		if a.State == models.AlertStateResolved && !a.Archived && a.ResolvedAt != nil && a.ResolvedAt.Before(before) {
			a.Archived = true
			m.alerts[id] = a
			n++
		}
	}
	return n, nil
}

// Reference data

func (m *MemoryStore) GetStatus(ctx context.Context, id int64) (*models.OrderStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.statuses[id]
	if !ok {
		return nil, fmt.Errorf("status %d: %w", id, models.ErrNotFound)
	}
	return &s, nil
}

func (m *MemoryStore) ListStatuses(ctx context.Context) ([]models.OrderStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	statuses := make([]models.OrderStatus, 0, len(m.statuses))
	for _, s := range m.statuses {
		statuses = append(statuses, s)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].ID < statuses[j].ID })
	return statuses, nil
}

func (m *MemoryStore) GetTaxRate(ctx context.Context, id int64) (*models.TaxRate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.taxRates[id]
	if !ok {
		return nil, fmt.Errorf("tax rate %d: %w", id, models.ErrNotFound)
	}
	return &r, nil
}

func (m *MemoryStore) GetCupSize(ctx context.Context, id int64) (*models.CupSize, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cupSizes[id]
	if !ok {
		return nil, fmt.Errorf("cup size %d: %w", id, models.ErrNotFound)
	}
	return &c, nil
}

func (m *MemoryStore) GetBeveragePrice(ctx context.Context, beverageID, sizeID int64) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.beveragePrices[[2]int64{beverageID, sizeID}]
	if !ok {
		return decimal.Zero, fmt.Errorf("beverage %d size %d: %w", beverageID, sizeID, models.ErrNotFound)
	}
	return p, nil
}

func (m *MemoryStore) GetDessertPrice(ctx context.Context, dessertID int64) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.dessertPrices[dessertID]
	if !ok {
		return decimal.Zero, fmt.Errorf("dessert %d: %w", dessertID, models.ErrNotFound)
	}
	return p, nil
}

func (m *MemoryStore) GetRecipeIngredients(ctx context.Context, ids []int64) ([]models.RecipeIngredient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lines := []models.RecipeIngredient{}
	for _, id := range ids {
		if r, ok := m.recipe[id]; ok {
			lines = append(lines, r)
		}
	}
	return lines, nil
}

func (m *MemoryStore) GetSizeMultipliers(ctx context.Context, cupSizeID int64, recipeIngredientIDs []int64) ([]models.SizeMultiplier, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.SizeMultiplier{}
	for _, id := range recipeIngredientIDs {
		if mult, ok := m.multipliers[[2]int64{id, cupSizeID}]; ok {
			out = append(out, models.SizeMultiplier{RecipeIngredientID: id, CupSizeID: cupSizeID, Multiplier: mult})
		}
	}
	return out, nil
}
