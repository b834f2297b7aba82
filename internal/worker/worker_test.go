package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"counter-service/internal/broker"
	"counter-service/internal/models"
	"counter-service/internal/service"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	mu       sync.Mutex
	calls    int
	deadline bool
	ran      chan struct{}
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{ran: make(chan struct{}, 16)}
}

func (r *fakeRunner) RunCycle(ctx context.Context) (*service.CycleResult, error) {
	r.mu.Lock()
	r.calls++
	_, r.deadline = ctx.Deadline()
	r.mu.Unlock()
	r.ran <- struct{}{}
	return &service.CycleResult{Created: 1}, nil
}

func (r *fakeRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type fakeLocker struct {
	mu       sync.Mutex
	held     bool
	err      error
	extends  int
	releases int
}

func (l *fakeLocker) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return false, l.err
	}
	if l.held {
		return false, nil
	}
	l.held = true
	return true, nil
}

func (l *fakeLocker) ExtendLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.extends++
	return l.held, nil
}

func (l *fakeLocker) extendCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.extends
}

func (l *fakeLocker) ReleaseLock(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = false
	l.releases++
	return nil
}

type fakeArchiver struct {
	archived chan time.Duration
}

func (a *fakeArchiver) ArchiveResolved(ctx context.Context, olderThan time.Duration) (int64, error) {
	a.archived <- olderThan
	return 1, nil
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for cycle")
	}
}

func TestRunOnceHoldsLock(t *testing.T) {
	runner := newFakeRunner()
	locker := &fakeLocker{}
	w := NewMonitorWorker(runner, nil, locker, MonitorConfig{Interval: time.Hour, CycleTimeout: time.Second})

	result, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 1, locker.releases)
	assert.True(t, runner.deadline, "cycle runs under a timeout")
}

type slowRunner struct {
	delay time.Duration
}

func (r slowRunner) RunCycle(ctx context.Context) (*service.CycleResult, error) {
	select {
	case <-time.After(r.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &service.CycleResult{}, nil
}

func TestRunOnceExtendsLockDuringLongCycle(t *testing.T) {
	locker := &fakeLocker{}
	w := NewMonitorWorker(slowRunner{delay: 100 * time.Millisecond}, nil, locker, MonitorConfig{
		Interval: time.Hour,
		LockTTL:  20 * time.Millisecond,
	})

	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, locker.extendCount(), 1)
	assert.Equal(t, 1, locker.releases)
}

func TestRunOnceSkipsWhenLockHeld(t *testing.T) {
	runner := newFakeRunner()
	locker := &fakeLocker{held: true}
	w := NewMonitorWorker(runner, nil, locker, MonitorConfig{Interval: time.Hour})

	result, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Zero(t, runner.callCount())
	assert.Zero(t, locker.releases)
}

func TestRunOnceRunsWhenLockUnavailable(t *testing.T) {
	runner := newFakeRunner()
	locker := &fakeLocker{err: errors.New("redis down")}
	w := NewMonitorWorker(runner, nil, locker, MonitorConfig{Interval: time.Hour})

	result, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.Equal(t, 1, runner.callCount())
}

func TestTriggerCoalesces(t *testing.T) {
	w := NewMonitorWorker(newFakeRunner(), nil, nil, MonitorConfig{Interval: time.Hour})
	w.Trigger()
	w.Trigger()
	w.Trigger()
	assert.Len(t, w.trigger, 1)
}

func TestStartRunsOnTrigger(t *testing.T) {
	runner := newFakeRunner()
	w := NewMonitorWorker(runner, nil, nil, MonitorConfig{Interval: time.Hour})

	done := make(chan error, 1)
	go func() { done <- w.Start(context.Background()) }()

	waitFor(t, runner.ran) // startup cycle
	w.Trigger()
	waitFor(t, runner.ran)

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
	assert.Equal(t, 2, runner.callCount())
}

func TestStartArchivesResolvedAlerts(t *testing.T) {
	archiver := &fakeArchiver{archived: make(chan time.Duration, 4)}
	w := NewMonitorWorker(newFakeRunner(), archiver, nil, MonitorConfig{
		Interval:          time.Hour,
		Retention:         72 * time.Hour,
		RetentionInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Start(ctx) }()

	select {
	case d := <-archiver.archived:
		assert.Equal(t, 72*time.Hour, d)
	case <-time.After(2 * time.Second):
		t.Fatal("archiver never ran")
	}
}

type fakeSource struct {
	messages []kafka.Message
	closed   bool
}

func (s *fakeSource) StartConsuming(ctx context.Context, handler broker.MessageHandler) error {
	for _, msg := range s.messages {
		if err := handler(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (s *fakeSource) Close() error {
	s.closed = true
	return nil
}

func TestOrderEventWorkerTriggersCycle(t *testing.T) {
	raw, err := json.Marshal(models.OrderStatusChangedEvent{
		BaseEvent:  models.BaseEvent{EventID: "e1", EventType: models.EventTypeOrderStatusChanged},
		OrderID:    9,
		ToStatusID: 2,
	})
	require.NoError(t, err)
	created, err := json.Marshal(models.OrderCreatedEvent{
		BaseEvent: models.BaseEvent{EventID: "e2", EventType: models.EventTypeOrderCreated},
		OrderID:   10,
	})
	require.NoError(t, err)

	monitor := NewMonitorWorker(newFakeRunner(), nil, nil, MonitorConfig{Interval: time.Hour})
	source := &fakeSource{messages: []kafka.Message{{Value: created}, {Value: raw}}}
	w := NewOrderEventWorker(source, monitor)

	require.NoError(t, w.Start(context.Background()))
	assert.Len(t, monitor.trigger, 1)

	require.NoError(t, w.Stop())
	assert.True(t, source.closed)
}
