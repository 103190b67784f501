package handlers

import (
	"database/sql"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/henry-banana/tkob-qrorder/middleware"
	"github.com/henry-banana/tkob-qrorder/models"
)

type StaffHandler struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewStaffHandler(db *sql.DB, logger *zap.Logger) *StaffHandler {
	return &StaffHandler{db: db, logger: logger}
}

func (h *StaffHandler) ListStaff(c *gin.Context) {
	rows, err := h.db.QueryContext(c.Request.Context(), `
		SELECT id, tenant_id, name, email, role, created_at
		FROM staff WHERE tenant_id = $1 ORDER BY name`,
		middleware.TenantID(c),
	)
	if err != nil {
		h.logger.Error("Failed to fetch staff", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	defer rows.Close()

	staff := []models.Staff{}
	for rows.Next() {
		var s models.Staff
		if err := rows.Scan(&s.ID, &s.TenantID, &s.Name, &s.Email, &s.Role, &s.CreatedAt); err != nil {
			h.logger.Error("Failed to scan staff", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
		staff = append(staff, s)
	}
	c.JSON(http.StatusOK, staff)
}

// DeleteStaff removes a staff account. Admins cannot remove themselves so a
// tenant always keeps at least one admin.
func (h *StaffHandler) DeleteStaff(c *gin.Context) {
	staffID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid staff ID"})
		return
	}
	if staffID == c.GetInt("staff_id") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot delete your own account"})
		return
	}

	result, err := h.db.ExecContext(c.Request.Context(),
		"DELETE FROM staff WHERE id = $1 AND tenant_id = $2",
		staffID, middleware.TenantID(c),
	)
	if err != nil {
		h.logger.Error("Failed to delete staff", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Staff member not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": staffID})
}
