package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"counter-service/internal/models"

	"github.com/gin-gonic/gin"
)

// alertFilter reads the alert listing query: state, category, min_priority,
// from and to (RFC 3339), page and page_size
func alertFilter(c *gin.Context) (models.AlertFilter, error) {
	f := models.AlertFilter{
		State:    models.AlertState(c.Query("state")),
		Category: c.Query("category"),
	}

	ints := []struct {
		name string
		dest *int
	}{
		{"min_priority", &f.MinPriority},
		{"page", &f.Page},
		{"page_size", &f.PageSize},
	}
	for _, q := range ints {
		raw := c.Query(q.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return f, fmt.Errorf("%w: %s must be an integer", models.ErrInvalidArgument, q.name)
		}
		*q.dest = n
	}

	times := []struct {
		name string
		dest **time.Time
	}{
		{"from", &f.From},
		{"to", &f.To},
	}
	for _, q := range times {
		raw := c.Query(q.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, fmt.Errorf("%w: %s must be RFC 3339", models.ErrInvalidArgument, q.name)
		}
		*q.dest = &t
	}

	switch f.State {
	case "", models.AlertStateActive, models.AlertStateResolved:
	default:
		return f, fmt.Errorf("%w: unknown alert state %q", models.ErrInvalidArgument, f.State)
	}
	return f, nil
}

func (h *Handler) listAlerts(c *gin.Context) {
	filter, err := alertFilter(c)
	if err != nil {
		h.writeError(c, err)
		return
	}

	page, err := h.alerts.ListAlerts(c.Request.Context(), filter)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handler) activeAlerts(c *gin.Context) {
	filter, err := alertFilter(c)
	if err != nil {
		h.writeError(c, err)
		return
	}

	page, err := h.alerts.GetActiveAlerts(c.Request.Context(), filter)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handler) alertSummary(c *gin.Context) {
	summary, err := h.alerts.Summary(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) getAlert(c *gin.Context) {
	alertID, ok := pathID(c, "id")
	if !ok {
		return
	}

	alert, err := h.alerts.GetAlert(c.Request.Context(), alertID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

type resolveRequest struct {
	Resolver string `json:"resolver"`
}

func (h *Handler) resolveAlert(c *gin.Context) {
	alertID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req resolveRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}

	alert, err := h.alerts.Resolve(c.Request.Context(), alertID, req.Resolver)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

type acknowledgeRequest struct {
	By string `json:"by" binding:"required"`
}

func (h *Handler) acknowledgeAlert(c *gin.Context) {
	alertID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req acknowledgeRequest
	if !bindJSON(c, &req) {
		return
	}

	alert, err := h.alerts.Acknowledge(c.Request.Context(), alertID, req.By)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

func (h *Handler) getThreshold(c *gin.Context) {
	statusID, ok := pathID(c, "status_id")
	if !ok {
		return
	}

	cfg, err := h.thresholds.Get(c.Request.Context(), statusID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if cfg == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   http.StatusText(http.StatusNotFound),
			"details": fmt.Sprintf("status %d has no threshold", statusID),
		})
		return
	}
	c.JSON(http.StatusOK, cfg)
}

type thresholdRequest struct {
	AttentionMinutes int    `json:"attention_minutes"`
	CriticalMinutes  int    `json:"critical_minutes"`
	UpdatedBy        string `json:"updated_by"`
}

func (h *Handler) putThreshold(c *gin.Context) {
	statusID, ok := pathID(c, "status_id")
	if !ok {
		return
	}
	var req thresholdRequest
	if !bindJSON(c, &req) {
		return
	}

	cfg := &models.ThresholdConfig{
		StatusID:         statusID,
		AttentionMinutes: req.AttentionMinutes,
		CriticalMinutes:  req.CriticalMinutes,
		UpdatedBy:        req.UpdatedBy,
	}
	if err := h.thresholds.Upsert(c.Request.Context(), cfg); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// runMonitor runs a cycle and returns its result. With async=true the cycle
// is queued on the worker instead.
func (h *Handler) runMonitor(c *gin.Context) {
	if c.Query("async") == "true" {
		h.monitor.Trigger()
		c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
		return
	}

	result, err := h.monitor.RunOnce(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
