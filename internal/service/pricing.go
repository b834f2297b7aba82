package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"counter-service/internal/models"
	"counter-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	hundred        = decimal.NewFromInt(100)
	priceTolerance = decimal.RequireFromString("0.01")
)

// PriceCalculator prices sellable items and orders
type PriceCalculator struct {
	catalog  CatalogRepository
	items    OrderItemReader
	cache    ReferenceCache
	cacheTTL time.Duration
	logger   *zap.Logger
}

// NewPriceCalculator creates a calculator. cache may be nil.
func NewPriceCalculator(catalog CatalogRepository, items OrderItemReader, cache ReferenceCache, cacheTTL time.Duration) *PriceCalculator {
	return &PriceCalculator{
		catalog:  catalog,
		items:    items,
		cache:    cache,
		cacheTTL: cacheTTL,
		logger:   util.GetLogger(),
	}
}

// PriceItem returns the pre-tax unit price of any item variant
func (c *PriceCalculator) PriceItem(ctx context.Context, item models.PricedItem) (decimal.Decimal, error) {
	var (
		price decimal.Decimal
		err   error
	)
	switch it := item.(type) {
	case models.StandardBeverage:
		price, err = c.PriceStandard(ctx, it)
	case models.CustomBeverage:
		price, err = c.PriceCustom(ctx, it)
	case models.Dessert:
		price, err = c.PriceDessert(ctx, it)
	case nil:
		err = fmt.Errorf("%w: missing item", models.ErrInvalidItem)
	default:
		err = fmt.Errorf("%w: unsupported item type %T", models.ErrInvalidItem, item)
	}
	if err != nil {
		util.PricingFailuresTotal.WithLabelValues(failureReason(err)).Inc()
		return decimal.Zero, err
	}
	util.OrderItemsPricedTotal.WithLabelValues(string(item.Kind())).Inc()
	return price, nil
}

// PriceStandard looks up the configured price of a beverage in its size
func (c *PriceCalculator) PriceStandard(ctx context.Context, item models.StandardBeverage) (decimal.Decimal, error) {
	price, err := c.catalog.GetBeveragePrice(ctx, item.BeverageID, item.SizeID)
	if errors.Is(err, models.ErrNotFound) {
		return decimal.Zero, fmt.Errorf("%w: no price for beverage %d in size %d",
			models.ErrInvalidItem, item.BeverageID, item.SizeID)
	}
	if err != nil {
		return decimal.Zero, storageErr("load beverage price", err)
	}
	return price, nil
}

// PriceDessert looks up a dessert's base price
func (c *PriceCalculator) PriceDessert(ctx context.Context, item models.Dessert) (decimal.Decimal, error) {
	price, err := c.catalog.GetDessertPrice(ctx, item.DessertID)
	if errors.Is(err, models.ErrNotFound) {
		return decimal.Zero, fmt.Errorf("%w: unknown dessert %d", models.ErrInvalidItem, item.DessertID)
	}
	if err != nil {
		return decimal.Zero, storageErr("load dessert price", err)
	}
	return price, nil
}

// PriceCustom sums, over the selections, added price times the recipe's base
// quantity scaled by the cup-size multiplier and the selected portion, plus the
// cup's base price. No rounding happens here.
func (c *PriceCalculator) PriceCustom(ctx context.Context, item models.CustomBeverage) (decimal.Decimal, error) {
	ids := make([]int64, 0, len(item.Selections))
	seen := make(map[int64]bool, len(item.Selections))
	for _, sel := range item.Selections {
		if sel.Quantity.IsNegative() {
			return decimal.Zero, fmt.Errorf("%w: negative quantity %s for recipe ingredient %d",
				models.ErrInvalidQuantity, sel.Quantity, sel.RecipeIngredientID)
		}
		// order_item_ingredients.quantity is NUMERIC(10, 3)
		if !sel.Quantity.Equal(sel.Quantity.Truncate(models.QuantityPlaces)) {
			return decimal.Zero, fmt.Errorf("%w: quantity %s for recipe ingredient %d has more than %d decimal places",
				models.ErrInvalidQuantity, sel.Quantity, sel.RecipeIngredientID, models.QuantityPlaces)
		}
		if seen[sel.RecipeIngredientID] {
			return decimal.Zero, fmt.Errorf("%w: recipe ingredient %d selected more than once",
				models.ErrInvalidItem, sel.RecipeIngredientID)
		}
		seen[sel.RecipeIngredientID] = true
		ids = append(ids, sel.RecipeIngredientID)
	}

	cup, err := c.catalog.GetCupSize(ctx, item.CupSizeID)
	if errors.Is(err, models.ErrNotFound) {
		return decimal.Zero, fmt.Errorf("%w: unknown cup size %d", models.ErrInvalidItem, item.CupSizeID)
	}
	if err != nil {
		return decimal.Zero, storageErr("load cup size", err)
	}

	lines, err := c.catalog.GetRecipeIngredients(ctx, ids)
	if err != nil {
		return decimal.Zero, storageErr("load recipe ingredients", err)
	}
	recipe := make(map[int64]models.RecipeIngredient, len(lines))
	for _, l := range lines {
		recipe[l.ID] = l
	}

	multipliers, err := c.catalog.GetSizeMultipliers(ctx, item.CupSizeID, ids)
	if err != nil {
		return decimal.Zero, storageErr("load size multipliers", err)
	}
	scale := make(map[int64]decimal.Decimal, len(multipliers))
	for _, m := range multipliers {
		scale[m.RecipeIngredientID] = m.Multiplier
	}

	total := cup.BasePrice
	for _, sel := range item.Selections {
		line, ok := recipe[sel.RecipeIngredientID]
		if !ok {
			return decimal.Zero, fmt.Errorf("%w: unknown recipe ingredient %d", models.ErrInvalidItem, sel.RecipeIngredientID)
		}
		multiplier, ok := scale[sel.RecipeIngredientID]
		if !ok {
			return decimal.Zero, fmt.Errorf("%w: recipe ingredient %d, cup size %s",
				models.ErrMissingMultiplier, sel.RecipeIngredientID, cup.Name)
		}
		scaled := line.BaseQuantity.Mul(multiplier).Mul(sel.Quantity)
		total = total.Add(line.AddedPrice.Mul(scaled))
	}
	return total, nil
}

// TaxRate resolves a rate through the reference cache
func (c *PriceCalculator) TaxRate(ctx context.Context, taxRateID int64) (*models.TaxRate, error) {
	rate, err := cachedLookup(ctx, c.cache, fmt.Sprintf("tax_rate:%d", taxRateID), c.cacheTTL,
		func() (models.TaxRate, error) {
			r, err := c.catalog.GetTaxRate(ctx, taxRateID)
			if err != nil {
				return models.TaxRate{}, err
			}
			return *r, nil
		})
	if errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", models.ErrUnknownTaxRate, taxRateID)
	}
	if err != nil {
		return nil, storageErr("load tax rate", err)
	}
	return &rate, nil
}

// ComputeTax applies a tax rate. The tax amount is the only rounded figure.
// The rate's validity window is not checked: stored items keep the rate they
// were priced with.
func (c *PriceCalculator) ComputeTax(ctx context.Context, taxable decimal.Decimal, taxRateID int64) (*models.TaxBreakdown, error) {
	rate, err := c.TaxRate(ctx, taxRateID)
	if err != nil {
		util.PricingFailuresTotal.WithLabelValues(failureReason(err)).Inc()
		return nil, err
	}
	return applyTax(taxable, rate.Rate), nil
}

// ComputeTaxAt is ComputeTax for a new sale at the given time. A rate outside
// its validity window is unknown.
func (c *PriceCalculator) ComputeTaxAt(ctx context.Context, taxable decimal.Decimal, taxRateID int64, at time.Time) (*models.TaxBreakdown, error) {
	rate, err := c.TaxRate(ctx, taxRateID)
	if err == nil && !rate.ActiveAt(at) {
		err = fmt.Errorf("%w: %d is not valid at %s", models.ErrUnknownTaxRate, taxRateID, at.Format(time.RFC3339))
	}
	if err != nil {
		util.PricingFailuresTotal.WithLabelValues(failureReason(err)).Inc()
		return nil, err
	}
	return applyTax(taxable, rate.Rate), nil
}

func applyTax(taxable, ratePct decimal.Decimal) *models.TaxBreakdown {
	tax := taxable.Mul(ratePct).Div(hundred).Round(2)
	return &models.TaxBreakdown{
		TaxableAmount: taxable,
		TaxAmount:     tax,
		TotalAmount:   taxable.Add(tax),
	}
}

// LineAmount is unit price times count, less a discount clamped to [0, 100]
func LineAmount(unitPrice decimal.Decimal, count int, discountPct *decimal.Decimal) decimal.Decimal {
	amount := unitPrice.Mul(decimal.NewFromInt(int64(count)))
	if discountPct == nil {
		return amount
	}
	d := *discountPct
	if d.IsNegative() {
		d = decimal.Zero
	}
	if d.GreaterThan(hundred) {
		d = hundred
	}
	return amount.Mul(hundred.Sub(d)).Div(hundred)
}

// ComputeOrderTotal sums per-item taxable and tax amounts independently
func (c *PriceCalculator) ComputeOrderTotal(ctx context.Context, orderID int64) (*models.OrderTotal, error) {
	ctx, span := util.StartSpan(ctx, "PriceCalculator.ComputeOrderTotal")
	defer span.End()

	if _, err := c.items.GetOrderByID(ctx, orderID); err != nil {
		return nil, storageErr("load order", err)
	}

	items, err := c.items.GetOrderItemsByOrderID(ctx, orderID)
	if err != nil {
		return nil, storageErr("load order items", err)
	}

	total := &models.OrderTotal{
		OrderID:  orderID,
		Subtotal: decimal.Zero,
		TaxTotal: decimal.Zero,
		Items:    make([]models.ItemBreakdown, 0, len(items)),
	}
	for _, it := range items {
		line := LineAmount(it.UnitPrice, it.Count, it.DiscountPct)
		tax, err := c.ComputeTax(ctx, line, it.TaxRateID)
		if err != nil {
			return nil, err
		}
		total.Subtotal = total.Subtotal.Add(tax.TaxableAmount)
		total.TaxTotal = total.TaxTotal.Add(tax.TaxAmount)
		total.Items = append(total.Items, models.ItemBreakdown{
			ItemID:       it.ID,
			Kind:         it.Item.Kind(),
			UnitPrice:    it.UnitPrice,
			Count:        it.Count,
			TaxRateID:    it.TaxRateID,
			TaxBreakdown: *tax,
		})
	}
	total.GrandTotal = total.Subtotal.Add(total.TaxTotal)
	return total, nil
}

// ValidateCalculatedPrice recomputes an item's pre-tax line amount from the
// current catalog and compares it with claimed within 0.01.
func (c *PriceCalculator) ValidateCalculatedPrice(ctx context.Context, itemID int64, claimed decimal.Decimal) (bool, error) {
	ctx, span := util.StartSpan(ctx, "PriceCalculator.ValidateCalculatedPrice")
	defer span.End()

	item, err := c.items.GetOrderItem(ctx, itemID)
	if err != nil {
		return false, storageErr("load order item", err)
	}

	unit, err := c.PriceItem(ctx, item.Item)
	if err != nil {
		return false, err
	}

	expected := LineAmount(unit, item.Count, item.DiscountPct)
	ok := expected.Sub(claimed).Abs().LessThanOrEqual(priceTolerance)
	if !ok {
		c.logger.Info("Claimed price differs from calculated price",
			zap.Int64("item_id", itemID),
			zap.String("claimed", claimed.String()),
			zap.String("calculated", expected.String()))
	}
	return ok, nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, models.ErrMissingMultiplier):
		return "missing_multiplier"
	case errors.Is(err, models.ErrInvalidQuantity):
		return "invalid_quantity"
	case errors.Is(err, models.ErrUnknownTaxRate):
		return "unknown_tax_rate"
	case errors.Is(err, models.ErrInvalidItem):
		return "invalid_item"
	default:
		return "dependency"
	}
}
