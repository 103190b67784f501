package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/henry-banana/tkob-qrorder/middleware"
	"github.com/henry-banana/tkob-qrorder/services"
)

type PaymentsHandler struct {
	svc    *services.PaymentService
	logger *zap.Logger
}

func NewPaymentsHandler(svc *services.PaymentService, logger *zap.Logger) *PaymentsHandler {
	return &PaymentsHandler{svc: svc, logger: logger}
}

// CreateIntent quotes the order in VND and returns the transfer content the
// customer puts in the bank transfer memo.
func (h *PaymentsHandler) CreateIntent(c *gin.Context) {
	orderID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}

	payment, err := h.svc.CreateIntent(c.Request.Context(), middleware.TenantID(c), orderID)
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, payment)
}

// CheckPayment polls the gateway for a fresh pending intent, then reports
// the payment's current state.
func (h *PaymentsHandler) CheckPayment(c *gin.Context) {
	paymentID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payment ID"})
		return
	}

	result, err := h.svc.CheckPayment(c.Request.Context(), middleware.TenantID(c), paymentID)
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type pollRequest struct {
	TransferContent string `json:"transfer_content" binding:"required"`
	Limit           int    `json:"limit"`
}

// Poll lets staff reconcile a specific transfer against recent gateway
// transactions, for when the customer says they paid but the order still
// shows pending.
func (h *PaymentsHandler) Poll(c *gin.Context) {
	var req pollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.svc.Poll(c.Request.Context(), req.TransferContent, req.Limit)
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
