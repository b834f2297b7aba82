package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"counter-service/internal/models"
	"counter-service/internal/util"

	"go.uber.org/zap"
)

// OrderStateStore owns the state-interval history of orders. It is the only
// writer of intervals; the storage partial unique index is the safety net.
type OrderStateStore struct {
	repo     StateRepository
	cache    ReferenceCache
	cacheTTL time.Duration
	logger   *zap.Logger
}

// NewOrderStateStore creates a state store. cache may be nil.
func NewOrderStateStore(repo StateRepository, cache ReferenceCache, cacheTTL time.Duration) *OrderStateStore {
	return &OrderStateStore{
		repo:     repo,
		cache:    cache,
		cacheTTL: cacheTTL,
		logger:   util.GetLogger(),
	}
}

// Status resolves a status through the reference cache
func (s *OrderStateStore) Status(ctx context.Context, id int64) (*models.OrderStatus, error) {
	status, err := cachedLookup(ctx, s.cache, fmt.Sprintf("status:%d", id), s.cacheTTL,
		func() (models.OrderStatus, error) {
			st, err := s.repo.GetStatus(ctx, id)
			if err != nil {
				return models.OrderStatus{}, err
			}
			return *st, nil
		})
	if err != nil {
		return nil, err
	}
	return &status, nil
}

// TransitionTo closes the order's open interval at `at` and opens one for newStatusID.
func (s *OrderStateStore) TransitionTo(ctx context.Context, orderID, newStatusID int64, at time.Time) (_ *models.StateInterval, err error) {
	ctx, span := util.StartSpan(ctx, "OrderStateStore.TransitionTo")
	defer func() { util.EndSpan(span, err) }()

	target, err := s.Status(ctx, newStatusID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("%w: status %d does not exist", models.ErrInvalidTransition, newStatusID)
	}
	if err != nil {
		return nil, storageErr("load target status", err)
	}

	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, storageErr("load order", err)
	}

	open, err := s.GetOpenInterval(ctx, orderID)
	if err != nil {
		return nil, err
	}

	currentStatusID := order.StatusID
	var expectedOpenID int64
	if open != nil {
		currentStatusID = open.StatusID
		expectedOpenID = open.ID
	}

	current, err := s.Status(ctx, currentStatusID)
	if err != nil {
		return nil, storageErr("load current status", err)
	}

	switch {
	case current.Terminal:
		return nil, fmt.Errorf("%w: order %d is in terminal status %s", models.ErrInvalidTransition, orderID, current.Code)
	case open != nil && open.StatusID == target.ID:
		return nil, fmt.Errorf("%w: order %d is already in status %s", models.ErrInvalidTransition, orderID, target.Code)
	case open != nil && at.Before(open.StartedAt):
		return nil, fmt.Errorf("%w: transition at %s precedes current interval start %s",
			models.ErrInvalidTransition, at.Format(time.RFC3339), open.StartedAt.Format(time.RFC3339))
	}

	next := &models.StateInterval{
		OrderID:   orderID,
		StatusID:  target.ID,
		StartedAt: at,
	}
	if err := s.repo.SwapOpenInterval(ctx, orderID, expectedOpenID, next); err != nil {
		if errors.Is(err, models.ErrConcurrentTransitionConflict) {
			util.OrderTransitionsTotal.WithLabelValues("conflict").Inc()
			s.logger.Info("Concurrent transition lost",
				zap.Int64("order_id", orderID),
				zap.Int64("expected_open_id", expectedOpenID))
			return nil, err
		}
		util.OrderTransitionsTotal.WithLabelValues("error").Inc()
		return nil, storageErr("swap open interval", err)
	}

	util.OrderTransitionsTotal.WithLabelValues("ok").Inc()
	s.logger.Info("Order transitioned",
		zap.Int64("order_id", orderID),
		zap.Int64("from_status_id", currentStatusID),
		zap.Int64("to_status_id", target.ID))

	return next, nil
}

// GetOpenInterval returns the open interval, or nil if the order has no history.
// More than one open interval is reported as data corruption.
func (s *OrderStateStore) GetOpenInterval(ctx context.Context, orderID int64) (*models.StateInterval, error) {
	open, err := s.repo.GetOpenIntervals(ctx, orderID)
	if err != nil {
		return nil, storageErr("load open intervals", err)
	}

	switch len(open) {
	case 0:
		return nil, nil
	case 1:
		return &open[0], nil
	default:
		s.logger.Error("Multiple open intervals for order",
			zap.Int64("order_id", orderID),
			zap.Int("open_intervals", len(open)))
		return nil, fmt.Errorf("%w: order %d has %d open intervals", models.ErrDataCorruption, orderID, len(open))
	}
}

// GetHistory returns the order's intervals, oldest first
func (s *OrderStateStore) GetHistory(ctx context.Context, orderID int64) ([]models.StateInterval, error) {
	ctx, span := util.StartSpan(ctx, "OrderStateStore.GetHistory")
	defer span.End()

	if _, err := s.repo.GetOrderByID(ctx, orderID); err != nil {
		return nil, storageErr("load order", err)
	}

	history, err := s.repo.GetIntervalHistory(ctx, orderID)
	if err != nil {
		return nil, storageErr("load interval history", err)
	}
	return history, nil
}
