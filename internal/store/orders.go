package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"counter-service/internal/models"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// CreateOrder inserts the order and its first open interval in one transaction
func (s *Store) CreateOrder(ctx context.Context, order *models.Order, startedAt time.Time) (*models.StateInterval, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO orders (customer_id, status_id, payment_status_id, total_amount, priority, session_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		RETURNING id, created_at, updated_at`

	err = tx.QueryRowxContext(ctx, query,
		order.CustomerID, order.StatusID, order.PaymentStatusID, order.TotalAmount,
		order.Priority, order.SessionID, startedAt,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: unknown status reference", models.ErrInvalidOrder)
		}
		return nil, fmt.Errorf("failed to insert order: %w", err)
	}

	interval := &models.StateInterval{
		OrderID:   order.ID,
		StatusID:  order.StatusID,
		StartedAt: startedAt,
	}
	err = tx.GetContext(ctx, &interval.ID,
		"INSERT INTO state_intervals (order_id, status_id, started_at) VALUES ($1, $2, $3) RETURNING id",
		interval.OrderID, interval.StatusID, interval.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert initial interval: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return interval, nil
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateOrderTotal stores a recomputed order total
func (s *Store) UpdateOrderTotal(ctx context.Context, orderID int64, total decimal.Decimal, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE orders SET total_amount = $1, updated_at = $2 WHERE id = $3",
		total, at, orderID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("order %d: %w", orderID, models.ErrNotFound)
	}
	return nil
}

// UpdatePaymentStatus records the payment outcome reported for an order
func (s *Store) UpdatePaymentStatus(ctx context.Context, orderID, paymentStatusID int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE orders SET payment_status_id = $1, updated_at = $2 WHERE id = $3",
		paymentStatusID, at, orderID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("payment status %d: %w", paymentStatusID, models.ErrInvalidArgument)
		}
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("order %d: %w", orderID, models.ErrNotFound)
	}
	return nil
}

// GetOpenIntervals returns every open interval of an order. More than one means corruption.
func (s *Store) GetOpenIntervals(ctx context.Context, orderID int64) ([]models.StateInterval, error) {
	var intervals []models.StateInterval
	err := s.db.SelectContext(ctx, &intervals,
		"SELECT * FROM state_intervals WHERE order_id = $1 AND ended_at IS NULL ORDER BY started_at, id",
		orderID)
	return intervals, err
}

// GetIntervalHistory returns an order's intervals, oldest first
func (s *Store) GetIntervalHistory(ctx context.Context, orderID int64) ([]models.StateInterval, error) {
	var intervals []models.StateInterval
	err := s.db.SelectContext(ctx, &intervals,
		"SELECT * FROM state_intervals WHERE order_id = $1 ORDER BY started_at, id",
		orderID)
	return intervals, err
}

// SwapOpenInterval closes the expected open interval at next.StartedAt and opens next.
// expectedOpenID is zero when the order has no open interval.
func (s *Store) SwapOpenInterval(ctx context.Context, orderID, expectedOpenID int64, next *models.StateInterval) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if expectedOpenID != 0 {
		res, err := tx.ExecContext(ctx,
			"UPDATE state_intervals SET ended_at = $1 WHERE id = $2 AND order_id = $3 AND ended_at IS NULL",
			next.StartedAt, expectedOpenID, orderID)
		if err != nil {
			return fmt.Errorf("failed to close interval: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("order %d: interval %d already closed: %w",
				orderID, expectedOpenID, models.ErrConcurrentTransitionConflict)
		}
	}

	err = tx.GetContext(ctx, &next.ID,
		"INSERT INTO state_intervals (order_id, status_id, started_at) VALUES ($1, $2, $3) RETURNING id",
		orderID, next.StatusID, next.StartedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("order %d: open interval exists: %w", orderID, models.ErrConcurrentTransitionConflict)
		}
		return fmt.Errorf("failed to open interval: %w", err)
	}
	next.OrderID = orderID
	next.EndedAt = nil

	_, err = tx.ExecContext(ctx,
		"UPDATE orders SET status_id = $1, updated_at = $2 WHERE id = $3",
		next.StatusID, next.StartedAt, orderID)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}

	return tx.Commit()
}

// ListOpenIntervals returns the open intervals of all orders in non-terminal statuses
func (s *Store) ListOpenIntervals(ctx context.Context) ([]models.OpenInterval, error) {
	query := `
		SELECT si.id, si.order_id, si.status_id, si.started_at, si.ended_at,
		       os.code AS status_code, os.name AS status_name
		FROM state_intervals si
		JOIN order_statuses os ON os.id = si.status_id
		WHERE si.ended_at IS NULL AND NOT os.terminal
		ORDER BY si.order_id, si.started_at`

	var intervals []models.OpenInterval
	err := s.db.SelectContext(ctx, &intervals, query)
	return intervals, err
}

type orderItemRow struct {
	ID          int64               `db:"id"`
	OrderID     int64               `db:"order_id"`
	Kind        string              `db:"kind"`
	Count       int                 `db:"count"`
	UnitPrice   decimal.Decimal     `db:"unit_price"`
	TaxRateID   int64               `db:"tax_rate_id"`
	DiscountPct decimal.NullDecimal `db:"discount_pct"`
	BeverageID  sql.NullInt64       `db:"beverage_id"`
	SizeID      sql.NullInt64       `db:"size_id"`
	DessertID   sql.NullInt64       `db:"dessert_id"`
	CreatedAt   time.Time           `db:"created_at"`
}

type orderItemIngredientRow struct {
	OrderItemID        int64           `db:"order_item_id"`
	RecipeIngredientID int64           `db:"recipe_ingredient_id"`
	Quantity           decimal.Decimal `db:"quantity"`
}

// CreateOrderItem persists a priced item with its variant columns and selections
func (s *Store) CreateOrderItem(ctx context.Context, item *models.OrderItem) error {
	if item.Item == nil {
		return fmt.Errorf("%w: missing item", models.ErrInvalidItem)
	}
	row := orderItemRow{
		OrderID:   item.OrderID,
		Kind:      string(item.Item.Kind()),
		Count:     item.Count,
		UnitPrice: item.UnitPrice,
		TaxRateID: item.TaxRateID,
	}
	if item.DiscountPct != nil {
		row.DiscountPct = decimal.NullDecimal{Decimal: *item.DiscountPct, Valid: true}
	}

	var selections []models.IngredientSelection
	switch it := item.Item.(type) {
	case models.StandardBeverage:
		row.BeverageID = sql.NullInt64{Int64: it.BeverageID, Valid: true}
		row.SizeID = sql.NullInt64{Int64: it.SizeID, Valid: true}
	case models.CustomBeverage:
		row.SizeID = sql.NullInt64{Int64: it.CupSizeID, Valid: true}
		selections = it.Selections
	case models.Dessert:
		row.DessertID = sql.NullInt64{Int64: it.DessertID, Valid: true}
	default:
		return fmt.Errorf("%w: unsupported item %T", models.ErrInvalidItem, item.Item)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO order_items (order_id, kind, count, unit_price, tax_rate_id, discount_pct, beverage_id, size_id, dessert_id)
		VALUES (:order_id, :kind, :count, :unit_price, :tax_rate_id, :discount_pct, :beverage_id, :size_id, :dessert_id)
		RETURNING id, created_at`

	stmt, err := tx.PrepareNamedContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	if err := stmt.QueryRowxContext(ctx, row).Scan(&item.ID, &item.CreatedAt); err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: unknown catalog reference", models.ErrInvalidItem)
		}
		return fmt.Errorf("failed to insert order item: %w", err)
	}

	for _, sel := range selections {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO order_item_ingredients (order_item_id, recipe_ingredient_id, quantity) VALUES ($1, $2, $3)",
			item.ID, sel.RecipeIngredientID, sel.Quantity)
		if err != nil {
			return fmt.Errorf("failed to insert item ingredient: %w", err)
		}
	}

	return tx.Commit()
}

// GetOrderItem retrieves one order item
func (s *Store) GetOrderItem(ctx context.Context, id int64) (*models.OrderItem, error) {
	var row orderItemRow
	err := s.db.GetContext(ctx, &row, "SELECT * FROM order_items WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order item %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	items, err := s.hydrateItems(ctx, []orderItemRow{row})
	if err != nil {
		return nil, err
	}
	return &items[0], nil
}

// GetOrderItemsByOrderID retrieves all items for an order
func (s *Store) GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	var rows []orderItemRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	if err != nil {
		return nil, err
	}
	return s.hydrateItems(ctx, rows)
}

func (s *Store) hydrateItems(ctx context.Context, rows []orderItemRow) ([]models.OrderItem, error) {
	if len(rows) == 0 {
		return []models.OrderItem{}, nil
	}

	var customIDs []int64
	for _, r := range rows {
		if models.ItemKind(r.Kind) == models.KindCustomBeverage {
			customIDs = append(customIDs, r.ID)
		}
	}

	selections := make(map[int64][]models.IngredientSelection)
	if len(customIDs) > 0 {
		var ingredientRows []orderItemIngredientRow
		err := s.db.SelectContext(ctx, &ingredientRows,
			"SELECT * FROM order_item_ingredients WHERE order_item_id = ANY($1) ORDER BY order_item_id, recipe_ingredient_id",
			pq.Array(customIDs))
		if err != nil {
			return nil, err
		}
		for _, ir := range ingredientRows {
			selections[ir.OrderItemID] = append(selections[ir.OrderItemID], models.IngredientSelection{
				RecipeIngredientID: ir.RecipeIngredientID,
				Quantity:           ir.Quantity,
			})
		}
	}

	items := make([]models.OrderItem, 0, len(rows))
	for _, r := range rows {
		item := models.OrderItem{
			ID:        r.ID,
			OrderID:   r.OrderID,
			Count:     r.Count,
			UnitPrice: r.UnitPrice,
			TaxRateID: r.TaxRateID,
			CreatedAt: r.CreatedAt,
		}
		if r.DiscountPct.Valid {
			d := r.DiscountPct.Decimal
			item.DiscountPct = &d
		}

		switch models.ItemKind(r.Kind) {
		case models.KindStandardBeverage:
			item.Item = models.StandardBeverage{BeverageID: r.BeverageID.Int64, SizeID: r.SizeID.Int64}
		case models.KindCustomBeverage:
			item.Item = models.CustomBeverage{CupSizeID: r.SizeID.Int64, Selections: selections[r.ID]}
		case models.KindDessert:
			item.Item = models.Dessert{DessertID: r.DessertID.Int64}
		default:
			return nil, fmt.Errorf("order item %d has kind %q: %w", r.ID, r.Kind, models.ErrDataCorruption)
		}
		items = append(items, item)
	}
	return items, nil
}
