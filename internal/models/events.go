package models

import "time"

// Event types
const (
	EventTypeOrderCreated       = "ORDER_CREATED"
	EventTypeOrderStatusChanged = "ORDER_STATUS_CHANGED"
	EventTypeAlertRaised        = "ALERT_RAISED"
	EventTypeAlertUpdated       = "ALERT_UPDATED"
	EventTypeAlertResolved      = "ALERT_RESOLVED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published when an order and its first interval are stored
type OrderCreatedEvent struct {
	BaseEvent
	OrderID    int64 `json:"order_id"`
	CustomerID int64 `json:"customer_id"`
	StatusID   int64 `json:"status_id"`
	Priority   int   `json:"priority"`
}

// OrderStatusChangedEvent published after a successful transition
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID      int64     `json:"order_id"`
	FromStatusID int64     `json:"from_status_id,omitempty"`
	ToStatusID   int64     `json:"to_status_id"`
	Terminal     bool      `json:"terminal"`
	At           time.Time `json:"at"`
}

// AlertEvent published when an alert is raised, updated or resolved
type AlertEvent struct {
	BaseEvent
	AlertID  int64      `json:"alert_id"`
	Category string     `json:"category"`
	OrderIDs []int64    `json:"order_ids"`
	Severity Severity   `json:"severity"`
	Priority int        `json:"priority"`
	State    AlertState `json:"state"`
	Message  string     `json:"message"`
}
