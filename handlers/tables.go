package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/henry-banana/tkob-qrorder/middleware"
	"github.com/henry-banana/tkob-qrorder/models"
)

type TablesHandler struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewTablesHandler(db *sql.DB, logger *zap.Logger) *TablesHandler {
	return &TablesHandler{db: db, logger: logger}
}

func (h *TablesHandler) ListTables(c *gin.Context) {
	rows, err := h.db.QueryContext(c.Request.Context(), `
		SELECT id, tenant_id, name, qr_code, active, created_at
		FROM tables WHERE tenant_id = $1 ORDER BY name`,
		middleware.TenantID(c),
	)
	if err != nil {
		h.logger.Error("Failed to fetch tables", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	defer rows.Close()

	tables := []models.DiningTable{}
	for rows.Next() {
		var t models.DiningTable
		if err := rows.Scan(&t.ID, &t.TenantID, &t.Name, &t.QRCode, &t.Active, &t.CreatedAt); err != nil {
			h.logger.Error("Failed to scan table", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
		tables = append(tables, t)
	}
	c.JSON(http.StatusOK, tables)
}

// CreateTable registers a table and mints the QR code customers scan to
// start a session.
func (h *TablesHandler) CreateTable(c *gin.Context) {
	var req models.CreateTableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var t models.DiningTable
	err := h.db.QueryRowContext(c.Request.Context(), `
		INSERT INTO tables (tenant_id, name, qr_code, active)
		VALUES ($1, $2, $3, TRUE)
		RETURNING id, tenant_id, name, qr_code, active, created_at`,
		middleware.TenantID(c), req.Name, uuid.NewString(),
	).Scan(&t.ID, &t.TenantID, &t.Name, &t.QRCode, &t.Active, &t.CreatedAt)
	if err != nil {
		h.logger.Error("Failed to create table", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (h *TablesHandler) UpdateTable(c *gin.Context) {
	tableID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid table ID"})
		return
	}

	var req models.UpdateTableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var t models.DiningTable
	err = h.db.QueryRowContext(c.Request.Context(), `
		UPDATE tables SET
			name = COALESCE($1, name),
			active = COALESCE($2, active)
		WHERE id = $3 AND tenant_id = $4
		RETURNING id, tenant_id, name, qr_code, active, created_at`,
		req.Name, req.Active, tableID, middleware.TenantID(c),
	).Scan(&t.ID, &t.TenantID, &t.Name, &t.QRCode, &t.Active, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Table not found"})
			return
		}
		h.logger.Error("Failed to update table", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *TablesHandler) DeleteTable(c *gin.Context) {
	tableID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid table ID"})
		return
	}

	result, err := h.db.ExecContext(c.Request.Context(),
		"DELETE FROM tables WHERE id = $1 AND tenant_id = $2",
		tableID, middleware.TenantID(c),
	)
	if err != nil {
		h.logger.Error("Failed to delete table", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Table not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": tableID})
}
