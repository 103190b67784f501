package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/henry-banana/tkob-qrorder/middleware"
	"github.com/henry-banana/tkob-qrorder/models"
	"github.com/henry-banana/tkob-qrorder/services"
)

type OrdersHandler struct {
	svc    *services.OrderService
	logger *zap.Logger
}

func NewOrdersHandler(svc *services.OrderService, logger *zap.Logger) *OrdersHandler {
	return &OrdersHandler{svc: svc, logger: logger}
}

// Checkout places a new order for the caller's table session.
func (h *OrdersHandler) Checkout(c *gin.Context) {
	var req models.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.PaymentMethod.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payment method"})
		return
	}

	order, err := h.svc.Checkout(
		c.Request.Context(),
		middleware.TenantID(c),
		c.GetInt("table_id"),
		c.GetString("session_key"),
		req.PaymentMethod,
		req.Items,
	)
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

// Mergeable reports whether the caller's table already has an open
// bill-to-table order that new items can be added to.
func (h *OrdersHandler) Mergeable(c *gin.Context) {
	order, err := h.svc.CheckMergeable(c.Request.Context(), middleware.TenantID(c), c.GetString("session_key"))
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, models.MergeableResponse{
		HasMergeableOrder: order != nil,
		Order:             order,
	})
}

func (h *OrdersHandler) AppendItems(c *gin.Context) {
	orderID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}

	var req models.AppendItemsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := h.svc.AppendItems(c.Request.Context(), middleware.TenantID(c), orderID, req.Items)
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *OrdersHandler) GetOrder(c *gin.Context) {
	orderID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}

	order, err := h.svc.GetOrder(c.Request.Context(), middleware.TenantID(c), orderID)
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// ListOrders serves the kitchen and management views, optionally filtered
// by status via ?status=.
func (h *OrdersHandler) ListOrders(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = n
	}

	orders, err := h.svc.ListOrders(
		c.Request.Context(),
		middleware.TenantID(c),
		models.OrderStatus(c.Query("status")),
		limit,
	)
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

func (h *OrdersHandler) UpdateStatus(c *gin.Context) {
	orderID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}

	var req models.UpdateOrderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := h.svc.UpdateStatus(c.Request.Context(), middleware.TenantID(c), orderID, req.Status)
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, order)
}
