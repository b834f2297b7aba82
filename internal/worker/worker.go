package worker

import (
	"context"
	"sync"
	"time"

	"counter-service/internal/broker"
	"counter-service/internal/models"
	"counter-service/internal/service"
	"counter-service/internal/util"

	"go.uber.org/zap"
)

// MonitorLockKey serialises monitoring cycles across replicas
const MonitorLockKey = "sla-monitor"

// CycleRunner runs one SLA monitoring pass
type CycleRunner interface {
	RunCycle(ctx context.Context) (*service.CycleResult, error)
}

// AlertArchiver archives resolved alerts past the retention window
type AlertArchiver interface {
	ArchiveResolved(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Locker is a distributed mutex with a TTL
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ExtendLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
}

// MonitorConfig controls the monitor schedule
type MonitorConfig struct {
	Interval          time.Duration
	CycleTimeout      time.Duration
	LockTTL           time.Duration
	Retention         time.Duration
	RetentionInterval time.Duration
}

// MonitorWorker runs SLA monitoring cycles on a ticker and on demand
type MonitorWorker struct {
	runner   CycleRunner
	archiver AlertArchiver
	locker   Locker
	cfg      MonitorConfig

	trigger  chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	logger   *zap.Logger
}

// NewMonitorWorker creates a monitor worker. archiver and locker may be nil.
func NewMonitorWorker(runner CycleRunner, archiver AlertArchiver, locker Locker, cfg MonitorConfig) *MonitorWorker {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = cfg.Interval
	}
	if cfg.RetentionInterval <= 0 {
		cfg.RetentionInterval = time.Hour
	}
	return &MonitorWorker{
		runner:   runner,
		archiver: archiver,
		locker:   locker,
		cfg:      cfg,
		trigger:  make(chan struct{}, 1),
		stop:     make(chan struct{}),
		logger:   util.GetLogger(),
	}
}

// Start runs cycles until ctx is cancelled or Stop is called
func (w *MonitorWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting SLA monitor worker",
		zap.Duration("interval", w.cfg.Interval),
		zap.Duration("cycle_timeout", w.cfg.CycleTimeout))

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	var retention <-chan time.Time
	if w.archiver != nil && w.cfg.Retention > 0 {
		rt := time.NewTicker(w.cfg.RetentionInterval)
		defer rt.Stop()
		retention = rt.C
	}

	w.runLogged(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.stop:
			return nil
		case <-ticker.C:
			w.runLogged(ctx)
		case <-w.trigger:
			w.runLogged(ctx)
		case <-retention:
			w.archive(ctx)
		}
	}
}

// Stop stops the worker
func (w *MonitorWorker) Stop() error {
	w.stopOnce.Do(func() {
		w.logger.Info("Stopping SLA monitor worker...")
		close(w.stop)
	})
	return nil
}

// Trigger requests an extra cycle. Requests made while one is pending are merged.
func (w *MonitorWorker) Trigger() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// RunOnce runs a single cycle under the monitor lock and the cycle timeout.
// A cycle that cannot take the lock is reported as skipped.
func (w *MonitorWorker) RunOnce(ctx context.Context) (*service.CycleResult, error) {
	if w.cfg.CycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.CycleTimeout)
		defer cancel()
	}

	if w.locker != nil {
		acquired, err := w.locker.AcquireLock(ctx, MonitorLockKey, w.cfg.LockTTL)
		switch {
		case err != nil:
			// the next cycle resolves any duplicate alert an unguarded run produces
			w.logger.Warn("Monitor lock unavailable, running unguarded", zap.Error(err))
		case !acquired:
			util.SLACyclesTotal.WithLabelValues("skipped").Inc()
			w.logger.Debug("Monitor cycle held by another replica")
			return &service.CycleResult{Skipped: true}, nil
		default:
			stopHeartbeat := w.holdLock(ctx)
			defer func() {
				stopHeartbeat()
				w.release()
			}()
		}
	}

	return w.runner.RunCycle(ctx)
}

// holdLock extends the lock every half TTL until the returned func is called
func (w *MonitorWorker) holdLock(ctx context.Context) func() {
	every := w.cfg.LockTTL / 2
	if every <= 0 {
		every = w.cfg.LockTTL
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				held, err := w.locker.ExtendLock(ctx, MonitorLockKey, w.cfg.LockTTL)
				if err != nil || !held {
					w.logger.Warn("Monitor lock lost during cycle", zap.Bool("held", held), zap.Error(err))
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func (w *MonitorWorker) release() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := w.locker.ReleaseLock(ctx, MonitorLockKey); err != nil {
		w.logger.Warn("Failed to release monitor lock", zap.Error(err))
	}
}

func (w *MonitorWorker) runLogged(ctx context.Context) {
	if _, err := w.RunOnce(ctx); err != nil {
		w.logger.Error("SLA cycle failed", zap.Error(err))
	}
}

func (w *MonitorWorker) archive(ctx context.Context) {
	n, err := w.archiver.ArchiveResolved(ctx, w.cfg.Retention)
	if err != nil {
		w.logger.Error("Alert archiving failed", zap.Error(err))
		return
	}
	w.logger.Debug("Alert archiving pass", zap.Int64("archived", n))
}

// MessageSource is the part of a Kafka consumer the event worker needs
type MessageSource interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// OrderEventWorker consumes order events and requests monitoring cycles
// when orders change status
type OrderEventWorker struct {
	consumer     MessageSource
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewOrderEventWorker creates a new order event worker
func NewOrderEventWorker(consumer MessageSource, monitor *MonitorWorker) *OrderEventWorker {
	w := &OrderEventWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		logger:       util.GetLogger(),
	}

	w.eventHandler.OnOrderStatusChanged(func(ctx context.Context, e *models.OrderStatusChangedEvent) error {
		w.logger.Debug("Order status changed, requesting SLA cycle",
			zap.Int64("order_id", e.OrderID),
			zap.Int64("to_status_id", e.ToStatusID))
		monitor.Trigger()
		return nil
	})

	return w
}

// Start starts the worker
func (w *OrderEventWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting order event worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *OrderEventWorker) Stop() error {
	w.logger.Info("Stopping order event worker...")
	return w.consumer.Close()
}
