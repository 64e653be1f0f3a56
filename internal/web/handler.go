package web

import (
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lereldarion/xstalker/internal/classify"
	"github.com/lereldarion/xstalker/internal/query"
	"github.com/lereldarion/xstalker/internal/reporter"
	"github.com/lereldarion/xstalker/internal/tracker"
)

// StatusSource reports live engine state. A nil source means the
// server runs without an engine and status comes from the store alone.
type StatusSource interface {
	Status() tracker.Status
}

type Handler struct {
	query      *query.Service
	reporter   *reporter.Reporter
	classifier *classify.Classifier
	engine     StatusSource
}

func NewHandler(q *query.Service, classifier *classify.Classifier, engine StatusSource) *Handler {
	return &Handler{
		query:      q,
		reporter:   reporter.New(q),
		classifier: classifier,
		engine:     engine,
	}
}

func (h *Handler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.GET("/buckets", h.handleBuckets)
		api.GET("/report", h.handleReport)
		api.GET("/categories", h.handleCategories)
		api.GET("/status", h.handleStatus)
	}

	router.GET("/health", h.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

type bucketDTO struct {
	Slot     time.Time `json:"slot"`
	Category string    `json:"category"`
	Seconds  float64   `json:"seconds"`
}

// handleBuckets returns the slot series over [from, to). Defaults to
// the last 24 hours.
func (h *Handler) handleBuckets(c *gin.Context) {
	now := time.Now().UTC()
	from := now.Add(-24 * time.Hour)
	to := now

	var err error
	if raw := c.Query("from"); raw != "" {
		if from, err = time.Parse(time.RFC3339, raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from: " + err.Error()})
			return
		}
	}
	if raw := c.Query("to"); raw != "" {
		if to, err = time.Parse(time.RFC3339, raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to: " + err.Error()})
			return
		}
	}
	if !from.Before(to) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from must be before to"})
		return
	}

	buckets, err := h.query.Buckets(from, to, c.Query("category"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]bucketDTO, len(buckets))
	for i, b := range buckets {
		out[i] = bucketDTO{Slot: b.Slot, Category: b.Category, Seconds: b.Duration.Seconds()}
	}
	c.JSON(http.StatusOK, gin.H{
		"from":       from.UTC(),
		"to":         to.UTC(),
		"slot_width": h.query.SlotWidth().String(),
		"buckets":    out,
	})
}

func (h *Handler) handleReport(c *gin.Context) {
	periodType := c.DefaultQuery("period", "day")

	report, err := h.reporter.GenerateReport(periodType)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

// handleCategories lists configured rule categories first, then any
// extra categories observed in the store (from earlier rule files).
func (h *Handler) handleCategories(c *gin.Context) {
	var categories []string
	seen := make(map[string]bool)
	if h.classifier != nil {
		for _, cat := range h.classifier.Categories() {
			categories = append(categories, cat)
			seen[cat] = true
		}
	}

	observed, err := h.query.Categories()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	var extra []string
	for _, cat := range observed {
		if !seen[cat] {
			extra = append(extra, cat)
		}
	}
	sort.Strings(extra)
	categories = append(categories, extra...)

	c.JSON(http.StatusOK, gin.H{"categories": categories})
}

func (h *Handler) handleStatus(c *gin.Context) {
	stats, err := h.query.Stats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := gin.H{"store": stats}
	if h.engine != nil {
		resp["engine"] = h.engine.Status()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}
