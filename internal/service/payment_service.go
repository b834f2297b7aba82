package service

import (
	"context"
	"fmt"
	"time"

	"counter-service/internal/models"
	"counter-service/internal/util"

	"go.uber.org/zap"
)

// PaymentRepository records payment outcomes on orders
type PaymentRepository interface {
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	UpdatePaymentStatus(ctx context.Context, orderID, paymentStatusID int64, at time.Time) error
}

// PaymentService records payment outcomes reported by the payment gateway and
// keeps one payment-issue alert per order in step with them. The payment-issue
// category has its own dedup and resolve cycle, independent of state-delay alerts.
type PaymentService struct {
	repo      PaymentRepository
	alerts    AlertRepository
	publisher EventPublisher
	clock     util.Clock
	logger    *zap.Logger
}

// NewPaymentService creates a new payment service. publisher may be nil.
func NewPaymentService(repo PaymentRepository, alerts AlertRepository, publisher EventPublisher, clock util.Clock) *PaymentService {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	return &PaymentService{
		repo:      repo,
		alerts:    alerts,
		publisher: publisher,
		clock:     clock,
		logger:    util.GetLogger(),
	}
}

// RecordPaymentOutcome stores the payment status and raises or resolves the
// order's payment-issue alert.
func (ps *PaymentService) RecordPaymentOutcome(ctx context.Context, orderID, paymentStatusID int64, reason string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.RecordPaymentOutcome")
	defer span.End()

	switch paymentStatusID {
	case models.PaymentStatusPending, models.PaymentStatusPaid, models.PaymentStatusFailed:
	default:
		return nil, fmt.Errorf("%w: unknown payment status %d", models.ErrInvalidArgument, paymentStatusID)
	}

	now := ps.clock.Now()
	if err := ps.repo.UpdatePaymentStatus(ctx, orderID, paymentStatusID, now); err != nil {
		return nil, storageErr("update payment status", err)
	}

	ps.logger.Info("Payment outcome recorded",
		zap.Int64("order_id", orderID),
		zap.Int64("payment_status_id", paymentStatusID))

	active, err := ps.alerts.ListActiveAlerts(ctx, models.AlertCategoryPaymentIssue)
	if err != nil {
		return nil, storageErr("list payment alerts", err)
	}
	var current *models.OperationalAlert
	for i := range active {
		if id, ok := alertOrderID(active[i]); ok && id == orderID {
			current = &active[i]
			break
		}
	}

	switch {
	case paymentStatusID == models.PaymentStatusFailed && current == nil:
		alert := &models.OperationalAlert{
			CreatedAt: now,
			OrderIDs:  []int64{orderID},
			Message:   paymentMessage(orderID, reason),
			State:     models.AlertStateActive,
			Severity:  models.SeverityCritical,
			Priority:  models.PriorityForSeverity(models.SeverityCritical),
			Category:  models.AlertCategoryPaymentIssue,
		}
		if err := ps.alerts.CreateAlert(ctx, alert); err != nil {
			return nil, storageErr("create payment alert", err)
		}
		ps.logger.Warn("Payment failed", zap.Int64("order_id", orderID), zap.String("reason", reason))
		publishAlert(ctx, ps.publisher, ps.logger, models.EventTypeAlertRaised, alert, now)

	case paymentStatusID == models.PaymentStatusPaid && current != nil:
		changed, err := ps.alerts.ResolveAlert(ctx, current.ID, now, nil)
		if err != nil {
			return nil, storageErr("resolve payment alert", err)
		}
		if changed {
			current.State = models.AlertStateResolved
			current.ResolvedAt = &now
			publishAlert(ctx, ps.publisher, ps.logger, models.EventTypeAlertResolved, current, now)
		}
	}

	order, err := ps.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, storageErr("load order", err)
	}
	return order, nil
}

func paymentMessage(orderID int64, reason string) string {
	if reason == "" {
		return fmt.Sprintf("Payment failed for order %d", orderID)
	}
	return fmt.Sprintf("Payment failed for order %d: %s", orderID, reason)
}
