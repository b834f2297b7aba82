package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"counter-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// GetStatus retrieves an order status by ID
func (s *Store) GetStatus(ctx context.Context, id int64) (*models.OrderStatus, error) {
	var status models.OrderStatus
	err := s.db.GetContext(ctx, &status, "SELECT * FROM order_statuses WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("status %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &status, nil
}

// ListStatuses retrieves all order statuses
func (s *Store) ListStatuses(ctx context.Context) ([]models.OrderStatus, error) {
	var statuses []models.OrderStatus
	err := s.db.SelectContext(ctx, &statuses, "SELECT * FROM order_statuses ORDER BY id")
	return statuses, err
}

// GetTaxRate retrieves a tax rate by ID
func (s *Store) GetTaxRate(ctx context.Context, id int64) (*models.TaxRate, error) {
	var rate models.TaxRate
	err := s.db.GetContext(ctx, &rate, "SELECT * FROM tax_rates WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tax rate %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &rate, nil
}

// GetCupSize retrieves a cup size by ID
func (s *Store) GetCupSize(ctx context.Context, id int64) (*models.CupSize, error) {
	var size models.CupSize
	err := s.db.GetContext(ctx, &size, "SELECT * FROM cup_sizes WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cup size %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &size, nil
}

// GetBeveragePrice retrieves the configured price of a beverage in a size
func (s *Store) GetBeveragePrice(ctx context.Context, beverageID, sizeID int64) (decimal.Decimal, error) {
	var price decimal.Decimal
	err := s.db.GetContext(ctx, &price,
		"SELECT price FROM beverage_prices WHERE beverage_id = $1 AND size_id = $2",
		beverageID, sizeID)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("beverage %d size %d: %w", beverageID, sizeID, models.ErrNotFound)
	}
	return price, err
}

// GetDessertPrice retrieves the base price of a dessert
func (s *Store) GetDessertPrice(ctx context.Context, dessertID int64) (decimal.Decimal, error) {
	var price decimal.Decimal
	err := s.db.GetContext(ctx, &price, "SELECT base_price FROM desserts WHERE id = $1", dessertID)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("dessert %d: %w", dessertID, models.ErrNotFound)
	}
	return price, err
}

// GetRecipeIngredients retrieves recipe lines joined with their ingredient's added price
func (s *Store) GetRecipeIngredients(ctx context.Context, ids []int64) ([]models.RecipeIngredient, error) {
	if len(ids) == 0 {
		return []models.RecipeIngredient{}, nil
	}

	query, args, err := sqlx.In(`
		SELECT ri.id, ri.ingredient_id, i.name, ri.base_quantity, i.added_price
		FROM recipe_ingredients ri
		JOIN ingredients i ON i.id = ri.ingredient_id
		WHERE ri.id IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var lines []models.RecipeIngredient
	err = s.db.SelectContext(ctx, &lines, query, args...)
	return lines, err
}

// GetSizeMultipliers retrieves the multipliers registered for a cup size and recipe lines
func (s *Store) GetSizeMultipliers(ctx context.Context, cupSizeID int64, recipeIngredientIDs []int64) ([]models.SizeMultiplier, error) {
	if len(recipeIngredientIDs) == 0 {
		return []models.SizeMultiplier{}, nil
	}

	query, args, err := sqlx.In(
		"SELECT * FROM size_multipliers WHERE cup_size_id = ? AND recipe_ingredient_id IN (?)",
		cupSizeID, recipeIngredientIDs)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var multipliers []models.SizeMultiplier
	err = s.db.SelectContext(ctx, &multipliers, query, args...)
	return multipliers, err
}
