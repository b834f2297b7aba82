package api

import (
	"fmt"
	"net/http"
	"time"

	"counter-service/internal/models"
	"counter-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// itemPayload is the wire form of a PricedItem, discriminated by kind
type itemPayload struct {
	Kind       models.ItemKind              `json:"kind" binding:"required"`
	BeverageID int64                        `json:"beverage_id"`
	SizeID     int64                        `json:"size_id"`
	CupSizeID  int64                        `json:"cup_size_id"`
	Selections []models.IngredientSelection `json:"selections"`
	DessertID  int64                        `json:"dessert_id"`
}

func (p itemPayload) toItem() (models.PricedItem, error) {
	switch p.Kind {
	case models.KindStandardBeverage:
		return models.StandardBeverage{BeverageID: p.BeverageID, SizeID: p.SizeID}, nil
	case models.KindCustomBeverage:
		return models.CustomBeverage{CupSizeID: p.CupSizeID, Selections: p.Selections}, nil
	case models.KindDessert:
		return models.Dessert{DessertID: p.DessertID}, nil
	default:
		return nil, fmt.Errorf("%w: unknown item kind %q", models.ErrInvalidItem, p.Kind)
	}
}

type itemRequest struct {
	Item        itemPayload      `json:"item"`
	Count       int              `json:"count"`
	TaxRateID   int64            `json:"tax_rate_id" binding:"required"`
	DiscountPct *decimal.Decimal `json:"discount_pct,omitempty"`
}

func (h *Handler) addItem(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req itemRequest
	if !bindJSON(c, &req) {
		return
	}
	item, err := req.Item.toItem()
	if err != nil {
		h.writeError(c, err)
		return
	}

	resp, err := h.orders.AddItem(c.Request.Context(), orderID, &service.AddItemRequest{
		Item:        item,
		Count:       req.Count,
		TaxRateID:   req.TaxRateID,
		DiscountPct: req.DiscountPct,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// quote prices an item without touching any order
func (h *Handler) quote(c *gin.Context) {
	var req itemRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.Count == 0 {
		req.Count = 1
	}
	if req.Count < 0 {
		h.writeError(c, fmt.Errorf("%w: count must be positive", models.ErrInvalidQuantity))
		return
	}
	item, err := req.Item.toItem()
	if err != nil {
		h.writeError(c, err)
		return
	}

	ctx := c.Request.Context()
	unit, err := h.pricing.PriceItem(ctx, item)
	if err != nil {
		h.writeError(c, err)
		return
	}
	tax, err := h.pricing.ComputeTaxAt(ctx, service.LineAmount(unit, req.Count, req.DiscountPct), req.TaxRateID, time.Now())
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.ItemBreakdown{
		Kind:         item.Kind(),
		UnitPrice:    unit,
		Count:        req.Count,
		TaxRateID:    req.TaxRateID,
		TaxBreakdown: *tax,
	})
}
