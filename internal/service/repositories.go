package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"counter-service/internal/models"

	"github.com/shopspring/decimal"
)

// StatusReader resolves order statuses
type StatusReader interface {
	GetStatus(ctx context.Context, id int64) (*models.OrderStatus, error)
	ListStatuses(ctx context.Context) ([]models.OrderStatus, error)
}

// StateRepository persists state intervals. SwapOpenInterval must fail with
// models.ErrConcurrentTransitionConflict when expectedOpenID is no longer the open interval.
type StateRepository interface {
	StatusReader
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOpenIntervals(ctx context.Context, orderID int64) ([]models.StateInterval, error)
	GetIntervalHistory(ctx context.Context, orderID int64) ([]models.StateInterval, error)
	SwapOpenInterval(ctx context.Context, orderID, expectedOpenID int64, next *models.StateInterval) error
}

type ThresholdRepository interface {
	GetThreshold(ctx context.Context, statusID int64) (*models.ThresholdConfig, error)
	GetThresholds(ctx context.Context, statusIDs []int64) ([]models.ThresholdConfig, error)
	UpsertThreshold(ctx context.Context, cfg *models.ThresholdConfig) error
}

type AlertRepository interface {
	CreateAlert(ctx context.Context, alert *models.OperationalAlert) error
	GetAlert(ctx context.Context, id int64) (*models.OperationalAlert, error)
	ListActiveAlerts(ctx context.Context, category string) ([]models.OperationalAlert, error)
	UpdateAlertSeverity(ctx context.Context, id int64, severity models.Severity, priority int, message string, at time.Time) error
	ResolveAlert(ctx context.Context, id int64, at time.Time, resolver *string) (bool, error)
	AcknowledgeAlert(ctx context.Context, id int64, at time.Time, by string) error
	ListAlerts(ctx context.Context, f models.AlertFilter) ([]models.OperationalAlert, int, error)
	AlertSummary(ctx context.Context) (*models.AlertSummary, error)
	ArchiveResolvedAlerts(ctx context.Context, before time.Time) (int64, error)
}

// MonitorRepository is what a monitoring cycle reads and writes
type MonitorRepository interface {
	AlertRepository
	ListOpenIntervals(ctx context.Context) ([]models.OpenInterval, error)
}

type CatalogRepository interface {
	GetTaxRate(ctx context.Context, id int64) (*models.TaxRate, error)
	GetCupSize(ctx context.Context, id int64) (*models.CupSize, error)
	GetBeveragePrice(ctx context.Context, beverageID, sizeID int64) (decimal.Decimal, error)
	GetDessertPrice(ctx context.Context, dessertID int64) (decimal.Decimal, error)
	GetRecipeIngredients(ctx context.Context, ids []int64) ([]models.RecipeIngredient, error)
	GetSizeMultipliers(ctx context.Context, cupSizeID int64, recipeIngredientIDs []int64) ([]models.SizeMultiplier, error)
}

type OrderItemReader interface {
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderItem(ctx context.Context, id int64) (*models.OrderItem, error)
	GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error)
}

type OrderRepository interface {
	OrderItemReader
	StatusReader
	CreateOrder(ctx context.Context, order *models.Order, startedAt time.Time) (*models.StateInterval, error)
	UpdateOrderTotal(ctx context.Context, orderID int64, total decimal.Decimal, at time.Time) error
	CreateOrderItem(ctx context.Context, item *models.OrderItem) error
}

// ReferenceCache is a TTL cache for read-mostly reference data
type ReferenceCache interface {
	GetJSON(ctx context.Context, key string, dest interface{}) error
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// EventPublisher is implemented by *broker.EventPublisher
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
	PublishAlertEvent(ctx context.Context, event *models.AlertEvent) error
}

type noopPublisher struct{}

func (noopPublisher) PublishOrderCreated(context.Context, *models.OrderCreatedEvent) error {
	return nil
}

func (noopPublisher) PublishOrderStatusChanged(context.Context, *models.OrderStatusChangedEvent) error {
	return nil
}

func (noopPublisher) PublishAlertEvent(context.Context, *models.AlertEvent) error { return nil }

var domainErrors = []error{
	models.ErrInvalidTransition,
	models.ErrInvalidThreshold,
	models.ErrInvalidQuantity,
	models.ErrUnknownTaxRate,
	models.ErrMissingMultiplier,
	models.ErrInvalidItem,
	models.ErrInvalidOrder,
	models.ErrInvalidArgument,
	models.ErrConcurrentTransitionConflict,
	models.ErrDependencyUnavailable,
	models.ErrDataCorruption,
	models.ErrNotFound,
}

// storageErr passes domain errors through and classifies anything else as a
// dependency failure, keeping the cause in the chain.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, d := range domainErrors {
		if errors.Is(err, d) {
			return err
		}
	}
	return fmt.Errorf("%s: %w: %w", op, models.ErrDependencyUnavailable, err)
}
