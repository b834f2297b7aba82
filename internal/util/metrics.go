package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created",
	})

	OrderTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_transitions_total",
		Help: "Total number of order status transitions by outcome",
	}, []string{"outcome"})

	OrderItemsPricedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_items_priced_total",
		Help: "Total number of priced order items by kind",
	}, []string{"kind"})

	PricingFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricing_failures_total",
		Help: "Total number of pricing failures",
	}, []string{"reason"})

	SLACycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sla_cycle_duration_seconds",
		Help:    "Duration of SLA monitor cycles",
		Buckets: prometheus.DefBuckets,
	})

	SLACyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sla_cycles_total",
		Help: "Total number of SLA monitor cycles by outcome",
	}, []string{"outcome"})

	SLAAlertChangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sla_alert_changes_total",
		Help: "Alerts created, updated or resolved by the SLA monitor",
	}, []string{"change"})

	SLAOrdersSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sla_orders_skipped_total",
		Help: "Orders skipped during SLA evaluation",
	}, []string{"reason"})

	ActiveAlerts = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "operational_alerts_active",
		Help: "Active operational alerts by severity after the last SLA cycle",
	}, []string{"severity"})

	ReferenceCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reference_cache_lookups_total",
		Help: "Reference data cache lookups by result",
	}, []string{"result"})

	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "events_published_total",
		Help: "Total number of events published",
	}, []string{"topic"})

	EventsPublishFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "events_publish_failed_total",
		Help: "Total number of events that failed to publish",
	}, []string{"topic"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
