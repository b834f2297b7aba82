package service

import (
	"context"
	"fmt"
	"time"

	"counter-service/internal/broker"
	"counter-service/internal/models"
	"counter-service/internal/util"

	"go.uber.org/zap"
)

const (
	DefaultAlertPageSize = 20
	MaxAlertPageSize     = 100
)

// AlertService exposes alert queries and operator actions
type AlertService struct {
	repo      AlertRepository
	publisher EventPublisher
	clock     util.Clock
	logger    *zap.Logger
}

// NewAlertService creates an alert service. publisher may be nil.
func NewAlertService(repo AlertRepository, publisher EventPublisher, clock util.Clock) *AlertService {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	return &AlertService{
		repo:      repo,
		publisher: publisher,
		clock:     clock,
		logger:    util.GetLogger(),
	}
}

// NormalizeAlertFilter applies paging defaults and bounds
func NormalizeAlertFilter(f models.AlertFilter) models.AlertFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = DefaultAlertPageSize
	}
	if f.PageSize > MaxAlertPageSize {
		f.PageSize = MaxAlertPageSize
	}
	return f
}

// ListAlerts returns one page of non-archived alerts, newest first
func (s *AlertService) ListAlerts(ctx context.Context, filter models.AlertFilter) (*models.AlertPage, error) {
	ctx, span := util.StartSpan(ctx, "AlertService.ListAlerts")
	defer span.End()

	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, fmt.Errorf("%w: period ends before it starts", models.ErrInvalidArgument)
	}

	filter = NormalizeAlertFilter(filter)
	items, total, err := s.repo.ListAlerts(ctx, filter)
	if err != nil {
		return nil, storageErr("list alerts", err)
	}

	return &models.AlertPage{
		Items:      items,
		Page:       filter.Page,
		PageSize:   filter.PageSize,
		TotalItems: total,
		TotalPages: (total + filter.PageSize - 1) / filter.PageSize,
	}, nil
}

// GetActiveAlerts lists active alerts only
func (s *AlertService) GetActiveAlerts(ctx context.Context, filter models.AlertFilter) (*models.AlertPage, error) {
	filter.State = models.AlertStateActive
	return s.ListAlerts(ctx, filter)
}

// GetAlert returns one alert
func (s *AlertService) GetAlert(ctx context.Context, id int64) (*models.OperationalAlert, error) {
	alert, err := s.repo.GetAlert(ctx, id)
	if err != nil {
		return nil, storageErr("load alert", err)
	}
	return alert, nil
}

// Resolve marks an alert resolved by an operator. Resolving twice is a no-op.
func (s *AlertService) Resolve(ctx context.Context, id int64, resolver string) (*models.OperationalAlert, error) {
	ctx, span := util.StartSpan(ctx, "AlertService.Resolve")
	defer span.End()

	var by *string
	if resolver != "" {
		by = &resolver
	}

	changed, err := s.repo.ResolveAlert(ctx, id, s.clock.Now(), by)
	if err != nil {
		return nil, storageErr("resolve alert", err)
	}

	alert, err := s.repo.GetAlert(ctx, id)
	if err != nil {
		return nil, storageErr("load alert", err)
	}

	if changed {
		s.logger.Info("Alert resolved by operator",
			zap.Int64("alert_id", id),
			zap.String("resolver", resolver))
		publishAlert(ctx, s.publisher, s.logger, models.EventTypeAlertResolved, alert, s.clock.Now())
	}
	return alert, nil
}

// Acknowledge records that an operator has seen an alert
func (s *AlertService) Acknowledge(ctx context.Context, id int64, by string) (*models.OperationalAlert, error) {
	ctx, span := util.StartSpan(ctx, "AlertService.Acknowledge")
	defer span.End()

	if by == "" {
		return nil, fmt.Errorf("%w: acknowledger is required", models.ErrInvalidArgument)
	}

	if err := s.repo.AcknowledgeAlert(ctx, id, s.clock.Now(), by); err != nil {
		return nil, storageErr("acknowledge alert", err)
	}
	alert, err := s.repo.GetAlert(ctx, id)
	if err != nil {
		return nil, storageErr("load alert", err)
	}
	return alert, nil
}

// Summary counts non-archived alerts by state, category and priority
func (s *AlertService) Summary(ctx context.Context) (*models.AlertSummary, error) {
	summary, err := s.repo.AlertSummary(ctx)
	if err != nil {
		return nil, storageErr("alert summary", err)
	}
	return summary, nil
}

// ArchiveResolved archives alerts resolved more than olderThan ago
func (s *AlertService) ArchiveResolved(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.clock.Now().Add(-olderThan)
	n, err := s.repo.ArchiveResolvedAlerts(ctx, cutoff)
	if err != nil {
		return 0, storageErr("archive alerts", err)
	}
	if n > 0 {
		s.logger.Info("Archived resolved alerts", zap.Int64("count", n), zap.Time("cutoff", cutoff))
	}
	return n, nil
}

// publishAlert emits an alert event. Publishing is best effort: the next
// monitoring cycle re-derives alert state regardless.
func publishAlert(ctx context.Context, publisher EventPublisher, logger *zap.Logger, eventType string, alert *models.OperationalAlert, at time.Time) {
	event := &models.AlertEvent{
		BaseEvent: broker.NewBaseEvent(eventType, at),
		AlertID:   alert.ID,
		Category:  alert.Category,
		OrderIDs:  alert.OrderIDs,
		Severity:  alert.Severity,
		Priority:  alert.Priority,
		State:     alert.State,
		Message:   alert.Message,
	}
	if err := publisher.PublishAlertEvent(ctx, event); err != nil {
		logger.Warn("Failed to publish alert event",
			zap.Int64("alert_id", alert.ID),
			zap.String("event_type", eventType),
			zap.Error(err))
	}
}
