package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"counter-service/internal/models"
	"counter-service/internal/util"

	"go.uber.org/zap"
)

// CycleResult counts what one monitoring cycle did
type CycleResult struct {
	Created       int  `json:"created"`
	Updated       int  `json:"updated"`
	Resolved      int  `json:"resolved"`
	Unchanged     int  `json:"unchanged"`
	Failed        int  `json:"failed"`
	SkippedOrders int  `json:"skipped_orders"`
	Corrupted     int  `json:"corrupted"`
	Skipped       bool `json:"skipped"`
}

// Classify maps elapsed minutes in a status to a severity. A nil threshold is never alertable.
func Classify(elapsedMinutes int64, cfg *models.ThresholdConfig) models.Severity {
	switch {
	case cfg == nil:
		return models.SeverityNormal
	case elapsedMinutes >= int64(cfg.CriticalMinutes):
		return models.SeverityCritical
	case elapsedMinutes >= int64(cfg.AttentionMinutes):
		return models.SeverityAttention
	default:
		return models.SeverityNormal
	}
}

// ElapsedMinutes is the whole number of minutes between start and now, never negative
func ElapsedMinutes(start, now time.Time) int64 {
	d := now.Sub(start)
	if d < 0 {
		return 0
	}
	return int64(d / time.Minute)
}

// SLAMonitor keeps state-delay alerts consistent with the open intervals.
// Every cycle re-derives the full alert set, so a failed or cancelled cycle is
// repaired by the next one.
type SLAMonitor struct {
	repo       MonitorRepository
	thresholds *ThresholdRegistry
	publisher  EventPublisher
	clock      util.Clock
	logger     *zap.Logger
}

// NewSLAMonitor creates a monitor. publisher may be nil.
func NewSLAMonitor(repo MonitorRepository, thresholds *ThresholdRegistry, publisher EventPublisher, clock util.Clock) *SLAMonitor {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	return &SLAMonitor{
		repo:       repo,
		thresholds: thresholds,
		publisher:  publisher,
		clock:      clock,
		logger:     util.GetLogger(),
	}
}

type classification struct {
	interval models.OpenInterval
	severity models.Severity
	config   models.ThresholdConfig
	elapsed  int64
}

// RunCycle runs one monitoring pass
func (m *SLAMonitor) RunCycle(ctx context.Context) (result *CycleResult, err error) {
	ctx, span := util.StartSpan(ctx, "SLAMonitor.RunCycle")
	defer func() { util.EndSpan(span, err) }()

	start := time.Now()
	defer func() {
		util.SLACycleDuration.Observe(time.Since(start).Seconds())
	}()

	result = &CycleResult{}
	now := m.clock.Now()

	open, err := m.repo.ListOpenIntervals(ctx)
	if err != nil {
		util.SLACyclesTotal.WithLabelValues("error").Inc()
		return result, storageErr("list open intervals", err)
	}

	// One open interval per order; anything else is left for an operator.
	byOrder := make(map[int64][]models.OpenInterval)
	for _, iv := range open {
		byOrder[iv.OrderID] = append(byOrder[iv.OrderID], iv)
	}
	skipped := make(map[int64]bool)
	statusSet := make(map[int64]bool)
	var candidates []models.OpenInterval
	for orderID, ivs := range byOrder {
		if len(ivs) > 1 {
			result.Corrupted++
			skipped[orderID] = true
			util.SLAOrdersSkippedTotal.WithLabelValues("corrupted").Inc()
			m.logger.Error("Data corruption: multiple open intervals",
				zap.Int64("order_id", orderID),
				zap.Int("open_intervals", len(ivs)))
			continue
		}
		candidates = append(candidates, ivs[0])
		statusSet[ivs[0].StatusID] = true
	}

	configs, failedStatuses := m.loadThresholds(ctx, statusSet)

	desired := make(map[int64]classification)
	for _, iv := range candidates {
		if failedStatuses[iv.StatusID] {
			skipped[iv.OrderID] = true
			result.SkippedOrders++
			util.SLAOrdersSkippedTotal.WithLabelValues("threshold_unavailable").Inc()
			continue
		}
		var cfg *models.ThresholdConfig
		if c, ok := configs[iv.StatusID]; ok {
			cfg = &c
		}
		elapsed := ElapsedMinutes(iv.StartedAt, now)
		severity := Classify(elapsed, cfg)
		if severity == models.SeverityNormal {
			continue
		}
		desired[iv.OrderID] = classification{interval: iv, severity: severity, config: *cfg, elapsed: elapsed}
	}

	active, err := m.repo.ListActiveAlerts(ctx, models.AlertCategoryStateDelay)
	if err != nil {
		util.SLACyclesTotal.WithLabelValues("error").Inc()
		return result, storageErr("list active alerts", err)
	}

	// The oldest active alert per order is kept; duplicates get resolved below.
	existing := make(map[int64]models.OperationalAlert)
	for _, a := range active {
		orderID, ok := alertOrderID(a)
		if !ok {
			continue
		}
		if _, dup := existing[orderID]; !dup {
			existing[orderID] = a
		}
	}

	orderIDs := make([]int64, 0, len(desired))
	for id := range desired {
		orderIDs = append(orderIDs, id)
	}
	sort.Slice(orderIDs, func(i, j int) bool { return orderIDs[i] < orderIDs[j] })

	for _, orderID := range orderIDs {
		if err := ctx.Err(); err != nil {
			return m.abort(result, err)
		}
		c := desired[orderID]
		if alert, ok := existing[orderID]; ok {
			m.refreshAlert(ctx, result, alert, c, now)
		} else {
			m.raiseAlert(ctx, result, c, now)
		}
	}

	for _, a := range active {
		orderID, ok := alertOrderID(a)
		if !ok || skipped[orderID] {
			continue
		}
		if _, still := desired[orderID]; still && existing[orderID].ID == a.ID {
			continue
		}
		if err := ctx.Err(); err != nil {
			return m.abort(result, err)
		}
		m.resolveAlert(ctx, result, a, now)
	}

	m.updateGauges(desired)
	util.SLACyclesTotal.WithLabelValues("ok").Inc()
	m.logger.Info("SLA cycle finished",
		zap.Int("open_intervals", len(open)),
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
		zap.Int("resolved", result.Resolved),
		zap.Int("unchanged", result.Unchanged),
		zap.Int("failed", result.Failed),
		zap.Int("skipped_orders", result.SkippedOrders),
		zap.Int("corrupted", result.Corrupted))
	return result, nil
}

// loadThresholds bulk-reads thresholds and falls back to per-status reads when
// the bulk read fails. Statuses that still cannot be read are returned as failed.
func (m *SLAMonitor) loadThresholds(ctx context.Context, statusSet map[int64]bool) (map[int64]models.ThresholdConfig, map[int64]bool) {
	ids := make([]int64, 0, len(statusSet))
	for id := range statusSet {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	failed := make(map[int64]bool)
	configs, err := m.thresholds.GetMany(ctx, ids)
	if err == nil {
		return configs, failed
	}

	m.logger.Warn("Bulk threshold read failed, falling back to per-status reads", zap.Error(err))
	configs = make(map[int64]models.ThresholdConfig, len(ids))
	for _, id := range ids {
		cfg, err := m.thresholds.Get(ctx, id)
		if err != nil {
			failed[id] = true
			m.logger.Warn("Threshold unavailable, skipping status for this cycle",
				zap.Int64("status_id", id),
				zap.Error(err))
			continue
		}
		if cfg != nil {
			configs[id] = *cfg
		}
	}
	return configs, failed
}

func (m *SLAMonitor) raiseAlert(ctx context.Context, result *CycleResult, c classification, now time.Time) {
	alert := &models.OperationalAlert{
		CreatedAt: now,
		OrderIDs:  []int64{c.interval.OrderID},
		Message:   delayMessage(c),
		State:     models.AlertStateActive,
		Severity:  c.severity,
		Priority:  models.PriorityForSeverity(c.severity),
		Category:  models.AlertCategoryStateDelay,
	}
	if err := m.repo.CreateAlert(ctx, alert); err != nil {
		result.Failed++
		m.logger.Warn("Failed to create alert",
			zap.Int64("order_id", c.interval.OrderID),
			zap.Error(err))
		return
	}
	result.Created++
	util.SLAAlertChangesTotal.WithLabelValues("created").Inc()
	publishAlert(ctx, m.publisher, m.logger, models.EventTypeAlertRaised, alert, now)
}

func (m *SLAMonitor) refreshAlert(ctx context.Context, result *CycleResult, alert models.OperationalAlert, c classification, now time.Time) {
	message := delayMessage(c)
	if alert.Severity == c.severity && alert.Message == message {
		result.Unchanged++
		return
	}

	priority := models.PriorityForSeverity(c.severity)
	if err := m.repo.UpdateAlertSeverity(ctx, alert.ID, c.severity, priority, message, now); err != nil {
		result.Failed++
		m.logger.Warn("Failed to update alert",
			zap.Int64("alert_id", alert.ID),
			zap.Int64("order_id", c.interval.OrderID),
			zap.Error(err))
		return
	}
	result.Updated++
	util.SLAAlertChangesTotal.WithLabelValues("updated").Inc()

	alert.Severity = c.severity
	alert.Priority = priority
	alert.Message = message
	alert.UpdatedAt = now
	publishAlert(ctx, m.publisher, m.logger, models.EventTypeAlertUpdated, &alert, now)
}

func (m *SLAMonitor) resolveAlert(ctx context.Context, result *CycleResult, alert models.OperationalAlert, now time.Time) {
	changed, err := m.repo.ResolveAlert(ctx, alert.ID, now, nil)
	if err != nil {
		result.Failed++
		m.logger.Warn("Failed to resolve alert", zap.Int64("alert_id", alert.ID), zap.Error(err))
		return
	}
	if !changed {
		return
	}
	result.Resolved++
	util.SLAAlertChangesTotal.WithLabelValues("resolved").Inc()

	alert.State = models.AlertStateResolved
	alert.ResolvedAt = &now
	publishAlert(ctx, m.publisher, m.logger, models.EventTypeAlertResolved, &alert, now)
}

func (m *SLAMonitor) abort(result *CycleResult, err error) (*CycleResult, error) {
	util.SLACyclesTotal.WithLabelValues("cancelled").Inc()
	m.logger.Warn("SLA cycle cancelled, partial results discarded",
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
		zap.Int("resolved", result.Resolved),
		zap.Error(err))
	return result, err
}

func (m *SLAMonitor) updateGauges(desired map[int64]classification) {
	counts := map[models.Severity]int{models.SeverityAttention: 0, models.SeverityCritical: 0}
	for _, c := range desired {
		counts[c.severity]++
	}
	for sev, n := range counts {
		util.ActiveAlerts.WithLabelValues(string(sev)).Set(float64(n))
	}
}

// delayMessage depends only on stable inputs so repeated cycles leave alerts untouched
func delayMessage(c classification) string {
	limit := c.config.AttentionMinutes
	if c.severity == models.SeverityCritical {
		limit = c.config.CriticalMinutes
	}
	return fmt.Sprintf("Order %d has been in %s beyond the %s threshold of %d minutes",
		c.interval.OrderID, c.interval.StatusName, c.severity, limit)
}

func alertOrderID(a models.OperationalAlert) (int64, bool) {
	if len(a.OrderIDs) == 0 {
		return 0, false
	}
	return a.OrderIDs[0], true
}
