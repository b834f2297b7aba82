package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"counter-service/internal/models"
	"counter-service/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockThresholdRepo struct {
	mock.Mock
}

func (m *mockThresholdRepo) GetThreshold(ctx context.Context, statusID int64) (*models.ThresholdConfig, error) {
	args := m.Called(ctx, statusID)
	cfg, _ := args.Get(0).(*models.ThresholdConfig)
	return cfg, args.Error(1)
}

func (m *mockThresholdRepo) GetThresholds(ctx context.Context, statusIDs []int64) ([]models.ThresholdConfig, error) {
	args := m.Called(ctx, statusIDs)
	configs, _ := args.Get(0).([]models.ThresholdConfig)
	return configs, args.Error(1)
}

func (m *mockThresholdRepo) UpsertThreshold(ctx context.Context, cfg *models.ThresholdConfig) error {
	return m.Called(ctx, cfg).Error(0)
}

func TestValidateThreshold(t *testing.T) {
	tests := []struct {
		name      string
		attention int
		critical  int
		valid     bool
	}{
		{"ordered", 5, 10, true},
		{"zero attention", 0, 1, true},
		{"equal", 5, 5, false},
		{"inverted", 10, 5, false},
		{"negative attention", -1, 5, false},
		{"negative critical", 0, -5, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateThreshold(&models.ThresholdConfig{AttentionMinutes: tt.attention, CriticalMinutes: tt.critical})
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, models.ErrInvalidThreshold)
			}
		})
	}
}

func TestThresholdUpsertInvalidatesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cfg, err := f.thresholds.Get(ctx, statusQueued)
	require.NoError(t, err)
	assert.Nil(t, cfg)
	assert.True(t, f.cache.has("threshold:2"), "absence is cached too")

	f.setThreshold(t, statusQueued, 5, 10)
	assert.Contains(t, f.cache.deletes, "threshold:2")

	cfg, err = f.thresholds.Get(ctx, statusQueued)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, 5, cfg.AttentionMinutes)
	assert.Equal(t, 10, cfg.CriticalMinutes)
	assert.Equal(t, "test", cfg.UpdatedBy)
	assert.True(t, cfg.UpdatedAt.Equal(baseTime))
}

func TestThresholdUpsertRejectsInvalid(t *testing.T) {
	f := newFixture(t)
	err := f.thresholds.Upsert(context.Background(), &models.ThresholdConfig{
		StatusID: statusQueued, AttentionMinutes: 10, CriticalMinutes: 10,
	})
	assert.ErrorIs(t, err, models.ErrInvalidThreshold)

	err = f.thresholds.Upsert(context.Background(), &models.ThresholdConfig{
		StatusID: 99, AttentionMinutes: 1, CriticalMinutes: 2,
	})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestThresholdGetManyMixesCacheAndStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.setThreshold(t, statusQueued, 5, 10)
	f.setThreshold(t, statusPreparing, 3, 6)

	// warm one entry
	_, err := f.thresholds.Get(ctx, statusQueued)
	require.NoError(t, err)

	configs, err := f.thresholds.GetMany(ctx, []int64{statusReceived, statusQueued, statusPreparing})
	require.NoError(t, err)
	assert.Len(t, configs, 2)
	assert.Equal(t, 3, configs[statusPreparing].AttentionMinutes)
	_, ok := configs[statusReceived]
	assert.False(t, ok)
}

func TestThresholdStorageFailureIsDependencyError(t *testing.T) {
	repo := &mockThresholdRepo{}
	repo.On("GetThreshold", mock.Anything, int64(1)).Return(nil, errors.New("connection refused"))
	repo.On("GetThresholds", mock.Anything, []int64{1}).Return(nil, errors.New("connection refused"))

	registry := NewThresholdRegistry(repo, nil, time.Minute, util.NewFakeClock(baseTime))

	_, err := registry.Get(context.Background(), 1)
	assert.ErrorIs(t, err, models.ErrDependencyUnavailable)

	_, err = registry.GetMany(context.Background(), []int64{1})
	assert.ErrorIs(t, err, models.ErrDependencyUnavailable)

	repo.AssertExpectations(t)
}
