package service

import (
	"context"
	"errors"
	"fmt"

	"counter-service/internal/broker"
	"counter-service/internal/models"
	"counter-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderService handles order business logic
type OrderService struct {
	repo           OrderRepository
	states         *OrderStateStore
	pricing        *PriceCalculator
	eventPublisher EventPublisher
	clock          util.Clock
	logger         *zap.Logger
}

// NewOrderService creates a new order service. eventPublisher may be nil.
func NewOrderService(
	repo OrderRepository,
	states *OrderStateStore,
	pricing *PriceCalculator,
	eventPublisher EventPublisher,
	clock util.Clock,
) *OrderService {
	if eventPublisher == nil {
		eventPublisher = noopPublisher{}
	}
	return &OrderService{
		repo:           repo,
		states:         states,
		pricing:        pricing,
		eventPublisher: eventPublisher,
		clock:          clock,
		logger:         util.GetLogger(),
	}
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	CustomerID      int64  `json:"customer_id" binding:"required"`
	InitialStatusID int64  `json:"initial_status_id" binding:"required"`
	Priority        int    `json:"priority"`
	SessionID       *int64 `json:"session_id,omitempty"`
}

// CreateOrderResponse represents the response after creating an order
type CreateOrderResponse struct {
	Order    *models.Order         `json:"order"`
	Interval *models.StateInterval `json:"interval"`
}

// CreateOrder stores the order together with its first open interval
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*CreateOrderResponse, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	if req.Priority == 0 {
		req.Priority = models.MinOrderPriority
	}
	if req.Priority < models.MinOrderPriority || req.Priority > models.MaxOrderPriority {
		return nil, fmt.Errorf("%w: priority %d outside %d-%d",
			models.ErrInvalidOrder, req.Priority, models.MinOrderPriority, models.MaxOrderPriority)
	}

	status, err := s.states.Status(ctx, req.InitialStatusID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown initial status %d", models.ErrInvalidOrder, req.InitialStatusID)
	}
	if err != nil {
		return nil, storageErr("load initial status", err)
	}
	if status.Terminal {
		return nil, fmt.Errorf("%w: initial status %s is terminal", models.ErrInvalidOrder, status.Code)
	}

	now := s.clock.Now()
	order := &models.Order{
		CustomerID:      req.CustomerID,
		StatusID:        status.ID,
		PaymentStatusID: models.PaymentStatusPending,
		TotalAmount:     decimal.Zero,
		Priority:        req.Priority,
		SessionID:       req.SessionID,
	}

	interval, err := s.repo.CreateOrder(ctx, order, now)
	if err != nil {
		return nil, storageErr("create order", err)
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.Int64("status_id", order.StatusID))

	event := &models.OrderCreatedEvent{
		BaseEvent:  broker.NewBaseEvent(models.EventTypeOrderCreated, now),
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		StatusID:   order.StatusID,
		Priority:   order.Priority,
	}
	if err := s.eventPublisher.PublishOrderCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCreated event",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
	}

	return &CreateOrderResponse{Order: order, Interval: interval}, nil
}

// GetOrder retrieves an order by ID
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, storageErr("load order", err)
	}
	return order, nil
}

// ListStatuses returns the status reference data
func (s *OrderService) ListStatuses(ctx context.Context) ([]models.OrderStatus, error) {
	statuses, err := s.repo.ListStatuses(ctx)
	if err != nil {
		return nil, storageErr("list statuses", err)
	}
	return statuses, nil
}

// TransitionOrder moves an order to a new status now and announces the change.
// ErrConcurrentTransitionConflict is returned as is; callers re-read and retry.
func (s *OrderService) TransitionOrder(ctx context.Context, orderID, newStatusID int64) (*models.StateInterval, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.TransitionOrder")
	defer span.End()

	previous, err := s.states.GetOpenInterval(ctx, orderID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	interval, err := s.states.TransitionTo(ctx, orderID, newStatusID, now)
	if err != nil {
		return nil, err
	}

	event := &models.OrderStatusChangedEvent{
		BaseEvent:  broker.NewBaseEvent(models.EventTypeOrderStatusChanged, now),
		OrderID:    orderID,
		ToStatusID: newStatusID,
		At:         now,
	}
	if previous != nil {
		event.FromStatusID = previous.StatusID
	}
	if status, err := s.states.Status(ctx, newStatusID); err == nil {
		event.Terminal = status.Terminal
	}
	if err := s.eventPublisher.PublishOrderStatusChanged(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderStatusChanged event",
			zap.Int64("order_id", orderID),
			zap.Error(err))
	}

	return interval, nil
}

// GetOrderHistory returns the order's state intervals, oldest first
func (s *OrderService) GetOrderHistory(ctx context.Context, orderID int64) ([]models.StateInterval, error) {
	return s.states.GetHistory(ctx, orderID)
}

// AddItemRequest describes one priced line to add to an order
type AddItemRequest struct {
	Item        models.PricedItem
	Count       int
	TaxRateID   int64
	DiscountPct *decimal.Decimal
}

// AddItemResponse carries the stored item and its priced line
type AddItemResponse struct {
	Item      *models.OrderItem     `json:"item"`
	Breakdown *models.ItemBreakdown `json:"breakdown"`
	Total     *models.OrderTotal    `json:"order_total"`
}

// AddItem prices an item, stores it and refreshes the order total
func (s *OrderService) AddItem(ctx context.Context, orderID int64, req *AddItemRequest) (*AddItemResponse, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.AddItem")
	defer span.End()

	if req.Count < 1 {
		return nil, fmt.Errorf("%w: count must be at least 1", models.ErrInvalidQuantity)
	}

	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, storageErr("load order", err)
	}
	status, err := s.states.Status(ctx, order.StatusID)
	if err != nil {
		return nil, storageErr("load order status", err)
	}
	if status.Terminal {
		return nil, fmt.Errorf("%w: order %d is in terminal status %s", models.ErrInvalidOrder, orderID, status.Code)
	}

	unit, err := s.pricing.PriceItem(ctx, req.Item)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	line := LineAmount(unit, req.Count, req.DiscountPct)
	tax, err := s.pricing.ComputeTaxAt(ctx, line, req.TaxRateID, now)
	if err != nil {
		return nil, err
	}

	item := &models.OrderItem{
		OrderID:     orderID,
		Item:        req.Item,
		Count:       req.Count,
		UnitPrice:   unit,
		TaxRateID:   req.TaxRateID,
		DiscountPct: req.DiscountPct,
		CreatedAt:   now,
	}
	if err := s.repo.CreateOrderItem(ctx, item); err != nil {
		return nil, storageErr("create order item", err)
	}

	s.logger.Info("Order item added",
		zap.Int64("order_id", orderID),
		zap.Int64("item_id", item.ID),
		zap.String("kind", string(req.Item.Kind())),
		zap.String("unit_price", unit.String()))

	total, err := s.RecomputeOrderTotal(ctx, orderID)
	if err != nil {
		return nil, err
	}

	return &AddItemResponse{
		Item: item,
		Breakdown: &models.ItemBreakdown{
			ItemID:       item.ID,
			Kind:         req.Item.Kind(),
			UnitPrice:    unit,
			Count:        req.Count,
			TaxRateID:    req.TaxRateID,
			TaxBreakdown: *tax,
		},
		Total: total,
	}, nil
}

// ComputeOrderTotal returns the order total without storing it
func (s *OrderService) ComputeOrderTotal(ctx context.Context, orderID int64) (*models.OrderTotal, error) {
	return s.pricing.ComputeOrderTotal(ctx, orderID)
}

// RecomputeOrderTotal computes the order total and stores the grand total on the order
func (s *OrderService) RecomputeOrderTotal(ctx context.Context, orderID int64) (*models.OrderTotal, error) {
	total, err := s.pricing.ComputeOrderTotal(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpdateOrderTotal(ctx, orderID, total.GrandTotal.Round(2), s.clock.Now()); err != nil {
		return nil, storageErr("update order total", err)
	}
	return total, nil
}

// ValidateCalculatedPrice checks a claimed line amount against a fresh calculation
func (s *OrderService) ValidateCalculatedPrice(ctx context.Context, itemID int64, claimed decimal.Decimal) (bool, error) {
	return s.pricing.ValidateCalculatedPrice(ctx, itemID, claimed)
}
