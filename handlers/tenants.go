package handlers

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/henry-banana/tkob-qrorder/middleware"
	"github.com/henry-banana/tkob-qrorder/models"
)

type TenantsHandler struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewTenantsHandler(db *sql.DB, logger *zap.Logger) *TenantsHandler {
	return &TenantsHandler{db: db, logger: logger}
}

// CreateTenant onboards a restaurant. It is unauthenticated so a new
// restaurant can sign up, then register its first staff account.
func (h *TenantsHandler) CreateTenant(c *gin.Context) {
	var req models.CreateTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Currency == "" {
		req.Currency = "USD"
	}

	var tenant models.Tenant
	err := h.db.QueryRowContext(c.Request.Context(), `
		INSERT INTO tenants (name, slug, currency, tax_rate, service_rate)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, name, slug, currency, tax_rate, service_rate, created_at`,
		req.Name, req.Slug, req.Currency, req.TaxRate, req.ServiceRate,
	).Scan(&tenant.ID, &tenant.Name, &tenant.Slug, &tenant.Currency,
		&tenant.TaxRate, &tenant.ServiceRate, &tenant.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			c.JSON(http.StatusConflict, gin.H{"error": "Slug already taken"})
			return
		}
		h.logger.Error("Failed to create tenant", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusCreated, tenant)
}

func (h *TenantsHandler) GetSettings(c *gin.Context) {
	var tenant models.Tenant
	err := h.db.QueryRowContext(c.Request.Context(), `
		SELECT id, name, slug, currency, tax_rate, service_rate, created_at
		FROM tenants WHERE id = $1`,
		middleware.TenantID(c),
	).Scan(&tenant.ID, &tenant.Name, &tenant.Slug, &tenant.Currency,
		&tenant.TaxRate, &tenant.ServiceRate, &tenant.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Tenant not found"})
			return
		}
		h.logger.Error("Failed to fetch tenant", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, tenant)
}

// UpdateSettings changes the rates applied to new orders. Existing orders
// keep the totals computed at checkout time.
func (h *TenantsHandler) UpdateSettings(c *gin.Context) {
	var req models.UpdateTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var tenant models.Tenant
	err := h.db.QueryRowContext(c.Request.Context(), `
		UPDATE tenants SET
			name = COALESCE($1, name),
			tax_rate = COALESCE($2, tax_rate),
			service_rate = COALESCE($3, service_rate)
		WHERE id = $4
		RETURNING id, name, slug, currency, tax_rate, service_rate, created_at`,
		req.Name, req.TaxRate, req.ServiceRate, middleware.TenantID(c),
	).Scan(&tenant.ID, &tenant.Name, &tenant.Slug, &tenant.Currency,
		&tenant.TaxRate, &tenant.ServiceRate, &tenant.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Tenant not found"})
			return
		}
		h.logger.Error("Failed to update tenant", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, tenant)
}
