package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"counter-service/internal/models"
	"counter-service/internal/redisclient"
	"counter-service/internal/util"

	"go.uber.org/zap"
)

// thresholdEntry caches absence as well as configuration
type thresholdEntry struct {
	Configured bool                   `json:"configured"`
	Config     models.ThresholdConfig `json:"config"`
}

// ThresholdRegistry serves per-status SLA thresholds through a TTL cache
// that is invalidated on every write.
type ThresholdRegistry struct {
	repo     ThresholdRepository
	cache    ReferenceCache
	cacheTTL time.Duration
	clock    util.Clock
	logger   *zap.Logger
}

// NewThresholdRegistry creates a registry. cache may be nil.
func NewThresholdRegistry(repo ThresholdRepository, cache ReferenceCache, cacheTTL time.Duration, clock util.Clock) *ThresholdRegistry {
	return &ThresholdRegistry{
		repo:     repo,
		cache:    cache,
		cacheTTL: cacheTTL,
		clock:    clock,
		logger:   util.GetLogger(),
	}
}

func thresholdKey(statusID int64) string {
	return fmt.Sprintf("threshold:%d", statusID)
}

// Get returns the threshold for a status, or nil when the status has no SLA
func (r *ThresholdRegistry) Get(ctx context.Context, statusID int64) (*models.ThresholdConfig, error) {
	entry, err := cachedLookup(ctx, r.cache, thresholdKey(statusID), r.cacheTTL,
		func() (thresholdEntry, error) {
			cfg, err := r.repo.GetThreshold(ctx, statusID)
			if err != nil {
				return thresholdEntry{}, err
			}
			if cfg == nil {
				return thresholdEntry{}, nil
			}
			return thresholdEntry{Configured: true, Config: *cfg}, nil
		})
	if err != nil {
		return nil, storageErr("load threshold", err)
	}
	if !entry.Configured {
		return nil, nil
	}
	return &entry.Config, nil
}

// GetMany bulk-fetches thresholds. Statuses without configuration are absent from the map.
func (r *ThresholdRegistry) GetMany(ctx context.Context, statusIDs []int64) (map[int64]models.ThresholdConfig, error) {
	result := make(map[int64]models.ThresholdConfig, len(statusIDs))
	var misses []int64

	for _, id := range statusIDs {
		if r.cache == nil {
			misses = append(misses, id)
			continue
		}
		var entry thresholdEntry
		if err := r.cache.GetJSON(ctx, thresholdKey(id), &entry); err != nil {
			if !errors.Is(err, redisclient.ErrCacheMiss) {
				r.logger.Warn("Threshold cache read failed", zap.Int64("status_id", id), zap.Error(err))
			}
			util.ReferenceCacheTotal.WithLabelValues("miss").Inc()
			misses = append(misses, id)
			continue
		}
		util.ReferenceCacheTotal.WithLabelValues("hit").Inc()
		if entry.Configured {
			result[id] = entry.Config
		}
	}

	if len(misses) == 0 {
		return result, nil
	}

	configs, err := r.repo.GetThresholds(ctx, misses)
	if err != nil {
		return nil, storageErr("load thresholds", err)
	}

	loaded := make(map[int64]models.ThresholdConfig, len(configs))
	for _, cfg := range configs {
		loaded[cfg.StatusID] = cfg
		result[cfg.StatusID] = cfg
	}

	if r.cache != nil {
		for _, id := range misses {
			cfg, ok := loaded[id]
			entry := thresholdEntry{Configured: ok, Config: cfg}
			if err := r.cache.SetJSON(ctx, thresholdKey(id), entry, r.cacheTTL); err != nil {
				r.logger.Warn("Threshold cache write failed", zap.Int64("status_id", id), zap.Error(err))
			}
		}
	}

	return result, nil
}

// Upsert validates and stores a threshold, then drops its cache entry
func (r *ThresholdRegistry) Upsert(ctx context.Context, cfg *models.ThresholdConfig) error {
	ctx, span := util.StartSpan(ctx, "ThresholdRegistry.Upsert")
	defer span.End()

	if err := ValidateThreshold(cfg); err != nil {
		return err
	}

	cfg.UpdatedAt = r.clock.Now()
	if err := r.repo.UpsertThreshold(ctx, cfg); err != nil {
		return storageErr("upsert threshold", err)
	}

	if r.cache != nil {
		if err := r.cache.Delete(ctx, thresholdKey(cfg.StatusID)); err != nil {
			r.logger.Warn("Threshold cache invalidation failed",
				zap.Int64("status_id", cfg.StatusID),
				zap.Error(err))
		}
	}

	r.logger.Info("Threshold updated",
		zap.Int64("status_id", cfg.StatusID),
		zap.Int("attention_minutes", cfg.AttentionMinutes),
		zap.Int("critical_minutes", cfg.CriticalMinutes),
		zap.String("updated_by", cfg.UpdatedBy))
	return nil
}

// ValidateThreshold enforces critical > attention >= 0
func ValidateThreshold(cfg *models.ThresholdConfig) error {
	if cfg.AttentionMinutes < 0 || cfg.CriticalMinutes < 0 {
		return fmt.Errorf("%w: thresholds must not be negative", models.ErrInvalidThreshold)
	}
	if cfg.CriticalMinutes <= cfg.AttentionMinutes {
		return fmt.Errorf("%w: critical (%d) must exceed attention (%d)",
			models.ErrInvalidThreshold, cfg.CriticalMinutes, cfg.AttentionMinutes)
	}
	return nil
}
