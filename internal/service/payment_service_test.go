package service

import (
	"context"
	"testing"

	"counter-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentFailureRaisesOneAlert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.createOrder(t, statusReceived)

	updated, err := f.payments.RecordPaymentOutcome(ctx, order.ID, models.PaymentStatusFailed, "card declined")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, updated.PaymentStatusID)

	_, err = f.payments.RecordPaymentOutcome(ctx, order.ID, models.PaymentStatusFailed, "card declined")
	require.NoError(t, err)

	alerts, err := f.store.ListActiveAlerts(ctx, models.AlertCategoryPaymentIssue)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Contains(t, alerts[0].Message, "card declined")

	// state-delay alerts are a separate lifecycle
	assert.Empty(t, f.activeDelayAlerts(t))

	_, err = f.payments.RecordPaymentOutcome(ctx, order.ID, models.PaymentStatusPaid, "")
	require.NoError(t, err)

	alerts, err = f.store.ListActiveAlerts(ctx, models.AlertCategoryPaymentIssue)
	require.NoError(t, err)
	assert.Empty(t, alerts)
	assert.Equal(t, []string{models.EventTypeAlertRaised, models.EventTypeAlertResolved}, f.publisher.alertTypes())
}

func TestPaymentOutcomeValidation(t *testing.T) {
	f := newFixture(t)
	order := f.createOrder(t, statusReceived)

	_, err := f.payments.RecordPaymentOutcome(context.Background(), order.ID, 9, "")
	assert.ErrorIs(t, err, models.ErrInvalidArgument)

	_, err = f.payments.RecordPaymentOutcome(context.Background(), 404, models.PaymentStatusPaid, "")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestMonitorLeavesPaymentAlertsAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.createOrder(t, statusReceived)

	_, err := f.payments.RecordPaymentOutcome(ctx, order.ID, models.PaymentStatusFailed, "")
	require.NoError(t, err)

	_, err = f.monitor.RunCycle(ctx)
	require.NoError(t, err)

	alerts, err := f.store.ListActiveAlerts(ctx, models.AlertCategoryPaymentIssue)
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}
