package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/henry-banana/tkob-qrorder/middleware"
	"github.com/henry-banana/tkob-qrorder/models"
)

// SessionHandler exchanges a scanned table QR code for a customer session
// token. The QR code doubles as the session key, so every scan at the same
// table lands on the same mergeable bill.
type SessionHandler struct {
	db        *sql.DB
	jwtSecret []byte
	tokenTTL  time.Duration
	logger    *zap.Logger
}

func NewSessionHandler(db *sql.DB, jwtSecret []byte, tokenTTL time.Duration, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{
		db:        db,
		jwtSecret: jwtSecret,
		tokenTTL:  tokenTTL,
		logger:    logger,
	}
}

func (h *SessionHandler) CreateSession(c *gin.Context) {
	var req models.SessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var table models.DiningTable
	err := h.db.QueryRowContext(c.Request.Context(),
		"SELECT id, tenant_id, name, qr_code, active FROM tables WHERE qr_code = $1",
		req.QRCode,
	).Scan(&table.ID, &table.TenantID, &table.Name, &table.QRCode, &table.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Unknown QR code"})
			return
		}
		h.logger.Error("Database error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if !table.Active {
		c.JSON(http.StatusForbidden, gin.H{"error": "Table is not accepting orders"})
		return
	}

	token, err := middleware.IssueSessionToken(h.jwtSecret, table.TenantID, table.ID, table.QRCode, h.tokenTTL)
	if err != nil {
		h.logger.Error("Failed to generate session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	h.logger.Info("Table session started",
		zap.Int("tenant_id", table.TenantID),
		zap.Int("table_id", table.ID),
	)
	c.JSON(http.StatusOK, models.SessionResponse{
		Token:    token,
		TenantID: table.TenantID,
		TableID:  table.ID,
		Table:    table.Name,
	})
}
