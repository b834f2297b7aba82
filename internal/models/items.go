package models

import "github.com/shopspring/decimal"

// ItemKind discriminates the PricedItem variants
type ItemKind string

const (
	KindStandardBeverage ItemKind = "standard_beverage"
	KindCustomBeverage   ItemKind = "custom_beverage"
	KindDessert          ItemKind = "dessert"
)

// PricedItem is one of StandardBeverage, CustomBeverage or Dessert.
// The unexported method closes the set to this package.
type PricedItem interface {
	Kind() ItemKind
	pricedItem()
}

// StandardBeverage is a menu beverage sold at a fixed price per size
type StandardBeverage struct {
	BeverageID int64 `json:"beverage_id"`
	SizeID     int64 `json:"size_id"`
}

// CustomBeverage is a build-your-own beverage priced from its ingredients
type CustomBeverage struct {
	CupSizeID  int64                 `json:"cup_size_id"`
	Selections []IngredientSelection `json:"selections"`
}

// QuantityPlaces is the precision selection quantities are stored with
const QuantityPlaces = 3

// IngredientSelection picks a portion of one recipe ingredient. Quantity is a
// multiple of the recipe's base quantity: 1 is the standard amount, 0 leaves it out.
type IngredientSelection struct {
	RecipeIngredientID int64           `json:"recipe_ingredient_id"`
	Quantity           decimal.Decimal `json:"quantity"`
}

// Dessert is sold at its base price
type Dessert struct {
	DessertID int64 `json:"dessert_id"`
}

func (StandardBeverage) Kind() ItemKind { return KindStandardBeverage }
func (CustomBeverage) Kind() ItemKind   { return KindCustomBeverage }
func (Dessert) Kind() ItemKind          { return KindDessert }

func (StandardBeverage) pricedItem() {}
func (CustomBeverage) pricedItem()   {}
func (Dessert) pricedItem()          {}
