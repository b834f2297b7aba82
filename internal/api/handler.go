package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"counter-service/internal/models"
	"counter-service/internal/service"
	"counter-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Monitor runs SLA cycles on demand
type Monitor interface {
	RunOnce(ctx context.Context) (*service.CycleResult, error)
	Trigger()
}

// ReadinessCheck reports whether a dependency is reachable
type ReadinessCheck func(ctx context.Context) error

// Handler contains HTTP handlers
type Handler struct {
	orders     *service.OrderService
	alerts     *service.AlertService
	thresholds *service.ThresholdRegistry
	pricing    *service.PriceCalculator
	payments   *service.PaymentService
	monitor    Monitor
	checks     map[string]ReadinessCheck
	logger     *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	orders *service.OrderService,
	alerts *service.AlertService,
	thresholds *service.ThresholdRegistry,
	pricing *service.PriceCalculator,
	payments *service.PaymentService,
	monitor Monitor,
) *Handler {
	return &Handler{
		orders:     orders,
		alerts:     alerts,
		thresholds: thresholds,
		pricing:    pricing,
		payments:   payments,
		monitor:    monitor,
		checks:     make(map[string]ReadinessCheck),
		logger:     util.GetLogger(),
	}
}

// AddReadinessCheck registers a dependency probed by /ready
func (h *Handler) AddReadinessCheck(name string, check ReadinessCheck) {
	h.checks[name] = check
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/statuses", h.listStatuses)

		v1.POST("/orders", h.createOrder)
		v1.GET("/orders/:id", h.getOrder)
		v1.GET("/orders/:id/history", h.getOrderHistory)
		v1.POST("/orders/:id/transitions", h.transitionOrder)
		v1.POST("/orders/:id/items", h.addItem)
		v1.GET("/orders/:id/total", h.getOrderTotal)
		v1.POST("/orders/:id/total", h.recomputeOrderTotal)
		v1.POST("/orders/:id/payment", h.recordPayment)
		v1.POST("/order-items/:id/validate-price", h.validatePrice)

		v1.POST("/pricing/quote", h.quote)

		v1.GET("/alerts", h.listAlerts)
		v1.GET("/alerts/active", h.activeAlerts)
		v1.GET("/alerts/summary", h.alertSummary)
		v1.GET("/alerts/:id", h.getAlert)
		v1.POST("/alerts/:id/resolve", h.resolveAlert)
		v1.POST("/alerts/:id/acknowledge", h.acknowledgeAlert)

		v1.GET("/thresholds/:status_id", h.getThreshold)
		v1.PUT("/thresholds/:status_id", h.putThreshold)

		v1.POST("/monitor/run", h.runMonitor)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck probes every registered dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failing := gin.H{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			failing[name] = err.Error()
		}
	}
	if len(failing) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not ready",
			"failing": failing,
			"time":    time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

func (h *Handler) listStatuses(c *gin.Context) {
	statuses, err := h.orders.ListStatuses(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"statuses": statuses})
}

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest
	if !bindJSON(c, &req) {
		return
	}

	resp, err := h.orders.CreateOrder(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": order})
}

func (h *Handler) getOrderHistory(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}

	history, err := h.orders.GetOrderHistory(c.Request.Context(), orderID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"order_id": orderID, "intervals": history})
}

type transitionRequest struct {
	StatusID int64 `json:"status_id" binding:"required"`
}

func (h *Handler) transitionOrder(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req transitionRequest
	if !bindJSON(c, &req) {
		return
	}

	interval, err := h.orders.TransitionOrder(c.Request.Context(), orderID, req.StatusID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"interval": interval})
}

func (h *Handler) getOrderTotal(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}

	total, err := h.orders.ComputeOrderTotal(c.Request.Context(), orderID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, total)
}

func (h *Handler) recomputeOrderTotal(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}

	total, err := h.orders.RecomputeOrderTotal(c.Request.Context(), orderID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, total)
}

type paymentRequest struct {
	PaymentStatusID int64  `json:"payment_status_id" binding:"required"`
	Reason          string `json:"reason"`
}

func (h *Handler) recordPayment(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req paymentRequest
	if !bindJSON(c, &req) {
		return
	}

	order, err := h.payments.RecordPaymentOutcome(c.Request.Context(), orderID, req.PaymentStatusID, req.Reason)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

type validatePriceRequest struct {
	ClaimedPrice decimal.Decimal `json:"claimed_price"`
}

func (h *Handler) validatePrice(c *gin.Context) {
	itemID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req validatePriceRequest
	if !bindJSON(c, &req) {
		return
	}

	valid, err := h.orders.ValidateCalculatedPrice(c.Request.Context(), itemID, req.ClaimedPrice)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"item_id": itemID, "valid": valid})
}

// writeError maps domain errors to HTTP status codes
func (h *Handler) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Error(err))
	}
	c.JSON(status, gin.H{
		"error":   http.StatusText(status),
		"details": err.Error(),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrConcurrentTransitionConflict):
		return http.StatusConflict
	case errors.Is(err, models.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrInvalidThreshold),
		errors.Is(err, models.ErrInvalidQuantity),
		errors.Is(err, models.ErrUnknownTaxRate),
		errors.Is(err, models.ErrMissingMultiplier),
		errors.Is(err, models.ErrInvalidItem),
		errors.Is(err, models.ErrInvalidOrder):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrDependencyUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func bindJSON(c *gin.Context, dest interface{}) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return false
	}
	return true
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid " + name,
		})
		return 0, false
	}
	return id, true
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			path,
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			path,
			status,
		).Inc()
	}
}
