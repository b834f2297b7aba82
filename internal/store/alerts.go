package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"counter-service/internal/models"

	"github.com/lib/pq"
)

type alertRow struct {
	ID             int64             `db:"id"`
	CreatedAt      time.Time         `db:"created_at"`
	UpdatedAt      time.Time         `db:"updated_at"`
	OrderIDs       pq.Int64Array     `db:"order_ids"`
	Message        string            `db:"message"`
	State          models.AlertState `db:"state"`
	Severity       models.Severity   `db:"severity"`
	Priority       int               `db:"priority"`
	Category       string            `db:"category"`
	ResolvedAt     sql.NullTime      `db:"resolved_at"`
	ResolvedBy     sql.NullString    `db:"resolved_by"`
	AcknowledgedAt sql.NullTime      `db:"acknowledged_at"`
	AcknowledgedBy sql.NullString    `db:"acknowledged_by"`
	Archived       bool              `db:"archived"`
}

func (r alertRow) toModel() models.OperationalAlert {
	a := models.OperationalAlert{
		ID:        r.ID,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
		OrderIDs:  []int64(r.OrderIDs),
		Message:   r.Message,
		State:     r.State,
		Severity:  r.Severity,
		Priority:  r.Priority,
		Category:  r.Category,
		Archived:  r.Archived,
	}
	if r.ResolvedAt.Valid {
		t := r.ResolvedAt.Time
		a.ResolvedAt = &t
	}
	if r.ResolvedBy.Valid {
		s := r.ResolvedBy.String
		a.ResolvedBy = &s
	}
	if r.AcknowledgedAt.Valid {
		t := r.AcknowledgedAt.Time
		a.AcknowledgedAt = &t
	}
	if r.AcknowledgedBy.Valid {
		s := r.AcknowledgedBy.String
		a.AcknowledgedBy = &s
	}
	return a
}

// CreateAlert inserts a new alert
func (s *Store) CreateAlert(ctx context.Context, alert *models.OperationalAlert) error {
	query := `
		INSERT INTO operational_alerts (created_at, updated_at, order_ids, message, state, severity, priority, category)
		VALUES ($1, $1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	return s.db.GetContext(ctx, &alert.ID, query,
		alert.CreatedAt, pq.Int64Array(alert.OrderIDs), alert.Message,
		alert.State, alert.Severity, alert.Priority, alert.Category)
}

// GetAlert retrieves an alert by ID
func (s *Store) GetAlert(ctx context.Context, id int64) (*models.OperationalAlert, error) {
	var row alertRow
	err := s.db.GetContext(ctx, &row, "SELECT * FROM operational_alerts WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("alert %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	a := row.toModel()
	return &a, nil
}

// ListActiveAlerts returns the active alerts of one category
func (s *Store) ListActiveAlerts(ctx context.Context, category string) ([]models.OperationalAlert, error) {
	var rows []alertRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT * FROM operational_alerts WHERE state = $1 AND category = $2 ORDER BY id",
		models.AlertStateActive, category)
	if err != nil {
		return nil, err
	}

	alerts := make([]models.OperationalAlert, 0, len(rows))
	for _, r := range rows {
		alerts = append(alerts, r.toModel())
	}
	return alerts, nil
}

// UpdateAlertSeverity rewrites severity, priority and message of an active alert in place
func (s *Store) UpdateAlertSeverity(ctx context.Context, id int64, severity models.Severity, priority int, message string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE operational_alerts
		SET severity = $1, priority = $2, message = $3, updated_at = $4
		WHERE id = $5 AND state = $6`,
		severity, priority, message, at, id, models.AlertStateActive)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("active alert %d: %w", id, models.ErrNotFound)
	}
	return nil
}

// ResolveAlert moves an active alert to RESOLVED. It reports false when the alert was already resolved.
func (s *Store) ResolveAlert(ctx context.Context, id int64, at time.Time, resolver *string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE operational_alerts
		SET state = $1, resolved_at = $2, resolved_by = $3, updated_at = $2
		WHERE id = $4 AND state = $5`,
		models.AlertStateResolved, at, resolver, id, models.AlertStateActive)
	if err != nil {
		return false, err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}

	var exists bool
	if err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM operational_alerts WHERE id = $1)", id); err != nil {
		return false, err
	}
	if !exists {
		return false, fmt.Errorf("alert %d: %w", id, models.ErrNotFound)
	}
	return false, nil
}

// AcknowledgeAlert records who acknowledged an alert
func (s *Store) AcknowledgeAlert(ctx context.Context, id int64, at time.Time, by string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE operational_alerts
		SET acknowledged_at = $1, acknowledged_by = $2, updated_at = $1
		WHERE id = $3`,
		at, by, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("alert %d: %w", id, models.ErrNotFound)
	}
	return nil
}

// ListAlerts returns one page of non-archived alerts matching the filter, newest first
func (s *Store) ListAlerts(ctx context.Context, f models.AlertFilter) ([]models.OperationalAlert, int, error) {
	conds := []string{"archived = FALSE"}
	var args []interface{}
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.State != "" {
		add("state = $%d", f.State)
	}
	if f.Category != "" {
		add("category = $%d", f.Category)
	}
	if f.MinPriority > 0 {
		add("priority >= $%d", f.MinPriority)
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at < $%d", *f.To)
	}
	where := strings.Join(conds, " AND ")

	var total int
	if err := s.db.GetContext(ctx, &total,
		"SELECT COUNT(*) FROM operational_alerts WHERE "+where, args...); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(
		"SELECT * FROM operational_alerts WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d",
		where, len(args)+1, len(args)+2)
	args = append(args, f.PageSize, (f.Page-1)*f.PageSize)

	var rows []alertRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, err
	}

	alerts := make([]models.OperationalAlert, 0, len(rows))
	for _, r := range rows {
		alerts = append(alerts, r.toModel())
	}
	return alerts, total, nil
}

// AlertSummary counts non-archived alerts by state, category and priority
func (s *Store) AlertSummary(ctx context.Context) (*models.AlertSummary, error) {
	summary := &models.AlertSummary{
		ByState:    make(map[models.AlertState]int),
		ByCategory: make(map[string]int),
		ByPriority: make(map[int]int),
	}

	var byState []struct {
		State models.AlertState `db:"state"`
		Count int               `db:"count"`
	}
	if err := s.db.SelectContext(ctx, &byState,
		"SELECT state, COUNT(*) AS count FROM operational_alerts WHERE NOT archived GROUP BY state"); err != nil {
		return nil, err
	}
	for _, r := range byState {
		summary.ByState[r.State] = r.Count
	}

	var byCategory []struct {
		Category string `db:"category"`
		Count    int    `db:"count"`
	}
	if err := s.db.SelectContext(ctx, &byCategory,
		"SELECT category, COUNT(*) AS count FROM operational_alerts WHERE NOT archived GROUP BY category"); err != nil {
		return nil, err
	}
	for _, r := range byCategory {
		summary.ByCategory[r.Category] = r.Count
	}

	var byPriority []struct {
		Priority int `db:"priority"`
		Count    int `db:"count"`
	}
	if err := s.db.SelectContext(ctx, &byPriority,
		"SELECT priority, COUNT(*) AS count FROM operational_alerts WHERE NOT archived GROUP BY priority"); err != nil {
		return nil, err
	}
	for _, r := range byPriority {
		summary.ByPriority[r.Priority] = r.Count
	}

	return summary, nil
}

// ArchiveResolvedAlerts archives alerts resolved before the cutoff
func (s *Store) ArchiveResolvedAlerts(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE operational_alerts
		SET archived = TRUE
		WHERE state = $1 AND NOT archived AND resolved_at < $2`,
		models.AlertStateResolved, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
