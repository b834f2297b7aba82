package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"counter-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// GetThreshold returns the threshold for a status, or nil when none is configured
func (s *Store) GetThreshold(ctx context.Context, statusID int64) (*models.ThresholdConfig, error) {
	var cfg models.ThresholdConfig
	err := s.db.GetContext(ctx, &cfg, "SELECT * FROM sla_thresholds WHERE status_id = $1", statusID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// GetThresholds bulk-fetches thresholds. Statuses without configuration are absent from the result.
func (s *Store) GetThresholds(ctx context.Context, statusIDs []int64) ([]models.ThresholdConfig, error) {
	if len(statusIDs) == 0 {
		return []models.ThresholdConfig{}, nil
	}

	query, args, err := sqlx.In("SELECT * FROM sla_thresholds WHERE status_id IN (?)", statusIDs)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var configs []models.ThresholdConfig
	err = s.db.SelectContext(ctx, &configs, query, args...)
	return configs, err
}

// UpsertThreshold inserts or replaces the single threshold row of a status
func (s *Store) UpsertThreshold(ctx context.Context, cfg *models.ThresholdConfig) error {
	query := `
		INSERT INTO sla_thresholds (status_id, attention_minutes, critical_minutes, updated_at, updated_by)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (status_id) DO UPDATE
		SET attention_minutes = EXCLUDED.attention_minutes,
		    critical_minutes  = EXCLUDED.critical_minutes,
		    updated_at        = EXCLUDED.updated_at,
		    updated_by        = EXCLUDED.updated_by`

	_, err := s.db.ExecContext(ctx, query,
		cfg.StatusID, cfg.AttentionMinutes, cfg.CriticalMinutes, cfg.UpdatedAt, cfg.UpdatedBy)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("status %d: %w", cfg.StatusID, models.ErrNotFound)
		}
		return err
	}
	return nil
}
