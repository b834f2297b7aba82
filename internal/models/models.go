package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is a fulfillment state loaded as reference data
type OrderStatus struct {
	ID       int64  `db:"id" json:"id"`
	Code     string `db:"code" json:"code"`
	Name     string `db:"name" json:"name"`
	Terminal bool   `db:"terminal" json:"terminal"`
}

// Order represents a customer purchase at the counter
type Order struct {
	ID              int64           `db:"id" json:"id"`
	CustomerID      int64           `db:"customer_id" json:"customer_id"`
	StatusID        int64           `db:"status_id" json:"status_id"`
	PaymentStatusID int64           `db:"payment_status_id" json:"payment_status_id"`
	TotalAmount     decimal.Decimal `db:"total_amount" json:"total_amount"`
	Priority        int             `db:"priority" json:"priority"`
	SessionID       *int64          `db:"session_id" json:"session_id,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// Order priority bounds
const (
	MinOrderPriority = 1
	MaxOrderPriority = 10
)

// Payment statuses
const (
	PaymentStatusPending int64 = 1
	PaymentStatusPaid    int64 = 2
	PaymentStatusFailed  int64 = 3
)

// StateInterval is one contiguous period an order spent in one status.
// EndedAt is nil while the order is still in that status.
type StateInterval struct {
	ID        int64      `db:"id" json:"id"`
	OrderID   int64      `db:"order_id" json:"order_id"`
	StatusID  int64      `db:"status_id" json:"status_id"`
	StartedAt time.Time  `db:"started_at" json:"started_at"`
	EndedAt   *time.Time `db:"ended_at" json:"ended_at,omitempty"`
}

// IsOpen reports whether the order is currently in this interval's status
func (i StateInterval) IsOpen() bool {
	return i.EndedAt == nil
}

// OpenInterval is an open interval joined with its status, as read by the SLA monitor
type OpenInterval struct {
	StateInterval
	StatusCode string `db:"status_code" json:"status_code"`
	StatusName string `db:"status_name" json:"status_name"`
}

// ThresholdConfig holds the SLA limits, in minutes, for one status
type ThresholdConfig struct {
	StatusID         int64     `db:"status_id" json:"status_id"`
	AttentionMinutes int       `db:"attention_minutes" json:"attention_minutes"`
	CriticalMinutes  int       `db:"critical_minutes" json:"critical_minutes"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
	UpdatedBy        string    `db:"updated_by" json:"updated_by"`
}

// Severity is the SLA classification of an open interval
type Severity string

const (
	SeverityNormal    Severity = "NORMAL"
	SeverityAttention Severity = "ATTENTION"
	SeverityCritical  Severity = "CRITICAL"
)

// AlertState is the lifecycle state of an operational alert
type AlertState string

const (
	AlertStateActive   AlertState = "ACTIVE"
	AlertStateResolved AlertState = "RESOLVED"
)

// Alert categories
const (
	AlertCategoryStateDelay   = "state-delay"
	AlertCategoryLowStock     = "low-stock"
	AlertCategoryPaymentIssue = "payment-issue"
)

// Alert priorities, derived from severity
const (
	AlertPriorityAttention = 5
	AlertPriorityCritical  = 10
)

// PriorityForSeverity maps a severity to an alert priority
func PriorityForSeverity(s Severity) int {
	switch s {
	case SeverityCritical:
		return AlertPriorityCritical
	case SeverityAttention:
		return AlertPriorityAttention
	default:
		return 0
	}
}

// OperationalAlert is a detected SLA risk or other operational concern
type OperationalAlert struct {
	ID             int64      `json:"id"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	OrderIDs       []int64    `json:"order_ids"`
	Message        string     `json:"message"`
	State          AlertState `json:"state"`
	Severity       Severity   `json:"severity"`
	Priority       int        `json:"priority"`
	Category       string     `json:"category"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy     *string    `json:"resolved_by,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	AcknowledgedBy *string    `json:"acknowledged_by,omitempty"`
	Archived       bool       `json:"archived"`
}

// AlertFilter narrows an alert listing. Zero values mean "any".
type AlertFilter struct {
	State       AlertState
	Category    string
	MinPriority int
	From        *time.Time
	To          *time.Time
	Page        int
	PageSize    int
}

// AlertPage is one page of an alert listing
type AlertPage struct {
	Items      []OperationalAlert `json:"items"`
	Page       int                `json:"page"`
	PageSize   int                `json:"page_size"`
	TotalItems int                `json:"total_items"`
	TotalPages int                `json:"total_pages"`
}

// AlertSummary counts non-archived alerts
type AlertSummary struct {
	ByState    map[AlertState]int `json:"by_state"`
	ByCategory map[string]int     `json:"by_category"`
	ByPriority map[int]int        `json:"by_priority"`
}

// TaxRate is read-only from the pricing engine's perspective
type TaxRate struct {
	ID          int64           `db:"id" json:"id"`
	Rate        decimal.Decimal `db:"rate" json:"rate"`
	Description string          `db:"description" json:"description"`
	ValidFrom   *time.Time      `db:"valid_from" json:"valid_from,omitempty"`
	ValidTo     *time.Time      `db:"valid_to" json:"valid_to,omitempty"`
}

// ActiveAt reports whether the rate applies at t. ValidTo is exclusive.
func (r TaxRate) ActiveAt(t time.Time) bool {
	if r.ValidFrom != nil && t.Before(*r.ValidFrom) {
		return false
	}
	if r.ValidTo != nil && !t.Before(*r.ValidTo) {
		return false
	}
	return true
}

// CupSize is a serving size with its own base price
type CupSize struct {
	ID        int64           `db:"id" json:"id"`
	Name      string          `db:"name" json:"name"`
	BasePrice decimal.Decimal `db:"base_price" json:"base_price"`
}

// RecipeIngredient is an ingredient line of the build-your-own recipe
type RecipeIngredient struct {
	ID           int64           `db:"id" json:"id"`
	IngredientID int64           `db:"ingredient_id" json:"ingredient_id"`
	Name         string          `db:"name" json:"name"`
	BaseQuantity decimal.Decimal `db:"base_quantity" json:"base_quantity"`
	AddedPrice   decimal.Decimal `db:"added_price" json:"added_price"`
}

// SizeMultiplier scales a recipe ingredient's quantity for a cup size
type SizeMultiplier struct {
	RecipeIngredientID int64           `db:"recipe_ingredient_id" json:"recipe_ingredient_id"`
	CupSizeID          int64           `db:"cup_size_id" json:"cup_size_id"`
	Multiplier         decimal.Decimal `db:"multiplier" json:"multiplier"`
}

// OrderItem is a priced line of an order
type OrderItem struct {
	ID          int64            `json:"id"`
	OrderID     int64            `json:"order_id"`
	Item        PricedItem       `json:"-"`
	Count       int              `json:"count"`
	UnitPrice   decimal.Decimal  `json:"unit_price"`
	TaxRateID   int64            `json:"tax_rate_id"`
	DiscountPct *decimal.Decimal `json:"discount_pct,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// TaxBreakdown is the result of applying a tax rate to a taxable amount
type TaxBreakdown struct {
	TaxableAmount decimal.Decimal `json:"taxable_amount"`
	TaxAmount     decimal.Decimal `json:"tax_amount"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
}

// ItemBreakdown is one line of an order total
type ItemBreakdown struct {
	ItemID    int64           `json:"item_id"`
	Kind      ItemKind        `json:"kind"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Count     int             `json:"count"`
	TaxRateID int64           `json:"tax_rate_id"`
	TaxBreakdown
}

// OrderTotal sums per-item taxable and tax amounts independently
type OrderTotal struct {
	OrderID    int64           `json:"order_id"`
	Subtotal   decimal.Decimal `json:"subtotal"`
	TaxTotal   decimal.Decimal `json:"tax_total"`
	GrandTotal decimal.Decimal `json:"grand_total"`
	Items      []ItemBreakdown `json:"items"`
}
