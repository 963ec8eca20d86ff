package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"shopsync/internal/inventory"
	"shopsync/internal/models"
	"shopsync/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// AgentHandler exposes the register-facing API on the agent. Every write
// answers as soon as the mutation is durable locally; the sync engine
// reconciles with the server in the background.
type AgentHandler struct {
	pos *service.POSService
}

// NewAgentHandler creates a new agent HTTP handler
func NewAgentHandler(pos *service.POSService) *AgentHandler {
	return &AgentHandler{pos: pos}
}

// SetupRoutes sets up HTTP routes
func (h *AgentHandler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/sale", h.sale)
		v1.POST("/refund", h.refund)
		v1.POST("/restock", h.restock)
		v1.POST("/products", h.createProduct)
		v1.PATCH("/products/:id", h.updateProduct)
		v1.DELETE("/products/:id", h.deleteProduct)
		v1.GET("/products/:sku", h.lookupSKU)
		v1.GET("/status", h.status)
		v1.DELETE("/errors", h.clearErrors)
	}
}

// healthCheck handles health check requests
func (h *AgentHandler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

func (h *AgentHandler) sale(c *gin.Context) {
	h.adjust(c, h.pos.Sale)
}

func (h *AgentHandler) refund(c *gin.Context) {
	h.adjust(c, h.pos.Refund)
}

func (h *AgentHandler) restock(c *gin.Context) {
	h.adjust(c, h.pos.Restock)
}

func (h *AgentHandler) adjust(c *gin.Context, op func(ctx context.Context, req *service.AdjustRequest) (*models.InventoryItem, error)) {
	var req service.AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	item, err := op(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// createProduct registers a product locally
func (h *AgentHandler) createProduct(c *gin.Context) {
	var req service.CreateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	item, err := h.pos.CreateProduct(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

func (h *AgentHandler) updateProduct(c *gin.Context) {
	var req models.UpdatePayload
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	item, err := h.pos.UpdateProduct(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *AgentHandler) deleteProduct(c *gin.Context) {
	if err := h.pos.DeleteProduct(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// lookupSKU handles exact-match SKU lookup against the local snapshot
func (h *AgentHandler) lookupSKU(c *gin.Context) {
	item, err := h.pos.LookupSKU(c.Request.Context(), c.Param("sku"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// status reports connectivity, queue depth and surfaced sync errors
func (h *AgentHandler) status(c *gin.Context) {
	c.JSON(http.StatusOK, h.pos.Status(c.Request.Context()))
}

func (h *AgentHandler) clearErrors(c *gin.Context) {
	h.pos.ClearErrors()
	c.Status(http.StatusNoContent)
}

// writeError maps a validation rejection to a client-facing status. Any
// other error is a local storage problem.
func writeError(c *gin.Context, err error) {
	var verr *inventory.ValidationError
	if errors.As(err, &verr) {
		status := http.StatusConflict
		switch verr.Reason {
		case inventory.ReasonUnknownItem:
			status = http.StatusNotFound
		case inventory.ReasonMalformedPayload:
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{
			"error":  verr.Message,
			"reason": verr.Reason,
		})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "Request failed",
		"details": err.Error(),
	})
}
