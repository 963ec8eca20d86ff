package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"shopsync/internal/inventory"
	"shopsync/internal/models"
	"shopsync/internal/protocol"
	"shopsync/internal/reconcile"
	"shopsync/internal/redisclient"
	"shopsync/internal/store"
	"shopsync/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultTenant = "default"

// Handler contains HTTP handlers for the authoritative server.
type Handler struct {
	reconciler *reconcile.Reconciler
	store      *store.Store
	cache      *redisclient.Client
}

// NewHandler creates a new HTTP handler. cache may be nil.
func NewHandler(reconciler *reconcile.Reconciler, st *store.Store, cache *redisclient.Client) *Handler {
	return &Handler{
		reconciler: reconciler,
		store:      st,
		cache:      cache,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.HEAD("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/sync", h.sync)
		v1.POST("/products", h.createProduct)
		v1.GET("/products", h.listProducts)
		v1.GET("/products/:sku", h.getProduct)
	}
}

func tenantID(c *gin.Context) string {
	if t := c.GetHeader("X-Tenant-ID"); t != "" {
		return t
	}
	return defaultTenant
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	if err := h.store.GetDB().PingContext(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not ready",
			"details": err.Error(),
		})
		return
	}
	if h.cache != nil {
		if err := h.cache.GetClient().Ping(c.Request.Context()).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not ready",
				"details": err.Error(),
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// sync applies a batch of queued client mutations. The response always
// carries one result per submitted mutation, in the submitted order, so
// replays of the same batch are safe.
func (h *Handler) sync(c *gin.Context) {
	var req protocol.SyncRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	resp := h.reconciler.Reconcile(c.Request.Context(), tenantID(c), &req)
	c.JSON(http.StatusOK, resp)
}

// createProduct creates a product directly on the server. It runs through
// the same at-most-once apply path as synced mutations, keyed by the
// caller's Idempotency-Key header when present.
func (h *Handler) createProduct(c *gin.Context) {
	var payload models.CreatePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	key := c.GetHeader("Idempotency-Key")
	if key == "" {
		key = uuid.New().String()
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to encode payload"})
		return
	}

	req := &protocol.SyncRequest{
		Mutations: []models.MutationRecord{{
			IdempotencyKey: key,
			EntityType:     models.EntityProduct,
			EntityID:       uuid.New().String(),
			Operation:      models.OpCreate,
			Payload:        raw,
			CreatedAt:      time.Now(),
		}},
	}

	resp := h.reconciler.Reconcile(c.Request.Context(), tenantID(c), req)
	result := resp.Results[0]
	if result.Status == protocol.StatusRejected {
		c.JSON(http.StatusConflict, gin.H{
			"error":  "Product creation rejected",
			"reason": result.Reason,
		})
		return
	}

	item, err := h.store.GetItem(c.Request.Context(), tenantID(c), req.Mutations[0].EntityID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to load created product",
			"details": err.Error(),
		})
		return
	}
	c.JSON(http.StatusCreated, item)
}

// getProduct handles exact-match SKU lookup
func (h *Handler) getProduct(c *gin.Context) {
	tenant := tenantID(c)
	sku := inventory.NormalizeSKU(c.Param("sku"))

	item, err := h.store.GetItemBySKU(c.Request.Context(), tenant, sku)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Product not found",
			"sku":   sku,
		})
		return
	}

	// The cache is advisory; the ledger row already gave us the count, but
	// serving it keeps the cached value observable for debugging.
	if h.cache != nil {
		if cached, err := h.cache.GetStock(c.Request.Context(), tenant, item.SKU); err == nil {
			c.Header("X-Cached-Stock", strconv.Itoa(cached))
		} else if !errors.Is(err, redisclient.ErrCacheMiss) {
			util.GetLogger().Warn("Stock cache read failed")
		}
	}

	c.JSON(http.StatusOK, item)
}

// listProducts lists active products for the tenant
func (h *Handler) listProducts(c *gin.Context) {
	items, err := h.store.ListItems(c.Request.Context(), tenantID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to list products",
			"details": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": items})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
