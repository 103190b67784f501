package handlers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/henry-banana/tkob-qrorder/middleware"
	"github.com/henry-banana/tkob-qrorder/models"
)

const (
	menuCacheTTL     = 5 * time.Minute
	maxPhotoSize     = 5 << 20 // 5 MiB
	photoURLPrefix   = "/uploads"
	defaultAvailable = true
)

// menuCache is the keyed store backing the public menu read path. The
// Redis-backed cache.Store implements it.
type menuCache interface {
	GetJSON(ctx context.Context, key string, v any) error
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type MenuHandler struct {
	db        *sql.DB
	cache     menuCache
	uploadDir string
	logger    *zap.Logger
}

func NewMenuHandler(db *sql.DB, cache menuCache, uploadDir string, logger *zap.Logger) *MenuHandler {
	return &MenuHandler{
		db:        db,
		cache:     cache,
		uploadDir: uploadDir,
		logger:    logger,
	}
}

func menuCacheKey(tenantID int) string {
	return fmt.Sprintf("menu:%d", tenantID)
}

// GetMenu serves the customer-facing menu, read through the cache.
func (h *MenuHandler) GetMenu(c *gin.Context) {
	ctx := c.Request.Context()
	tenantID := middleware.TenantID(c)

	var cached []models.MenuItem
	if h.cache != nil {
		if err := h.cache.GetJSON(ctx, menuCacheKey(tenantID), &cached); err == nil {
			c.JSON(http.StatusOK, cached)
			return
		}
	}

	items, err := h.queryMenu(ctx, tenantID, true)
	if err != nil {
		h.logger.Error("Failed to fetch menu", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if h.cache != nil {
		if err := h.cache.SetJSON(ctx, menuCacheKey(tenantID), items, menuCacheTTL); err != nil {
			h.logger.Warn("Failed to cache menu", zap.Int("tenant_id", tenantID), zap.Error(err))
		}
	}
	c.JSON(http.StatusOK, items)
}

// ListMenuItems serves the management portal, including unavailable items.
func (h *MenuHandler) ListMenuItems(c *gin.Context) {
	items, err := h.queryMenu(c.Request.Context(), middleware.TenantID(c), false)
	if err != nil {
		h.logger.Error("Failed to fetch menu items", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, items)
}

func (h *MenuHandler) queryMenu(ctx context.Context, tenantID int, onlyAvailable bool) ([]models.MenuItem, error) {
	query := `
		SELECT id, tenant_id, name, description, price, category, photo_url, modifiers, available, created_at, updated_at
		FROM menu_items WHERE tenant_id = $1`
	if onlyAvailable {
		query += " AND available = TRUE"
	}
	query += " ORDER BY category, name"

	rows, err := h.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []models.MenuItem{}
	for rows.Next() {
		var item models.MenuItem
		if err := rows.Scan(
			&item.ID, &item.TenantID, &item.Name, &item.Description, &item.Price,
			&item.Category, &item.PhotoURL, &item.Modifiers, &item.Available,
			&item.CreatedAt, &item.UpdatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (h *MenuHandler) CreateMenuItem(c *gin.Context) {
	var req models.CreateMenuItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tenantID := middleware.TenantID(c)
	available := defaultAvailable
	if req.Available != nil {
		available = *req.Available
	}
	if req.Modifiers == nil {
		req.Modifiers = models.Modifiers{}
	}

	var item models.MenuItem
	err := h.db.QueryRowContext(c.Request.Context(), `
		INSERT INTO menu_items (tenant_id, name, description, price, category, modifiers, available)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, tenant_id, name, description, price, category, photo_url, modifiers, available, created_at, updated_at`,
		tenantID, req.Name, req.Description, req.Price, req.Category, req.Modifiers, available,
	).Scan(
		&item.ID, &item.TenantID, &item.Name, &item.Description, &item.Price,
		&item.Category, &item.PhotoURL, &item.Modifiers, &item.Available,
		&item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		h.logger.Error("Failed to create menu item", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	h.invalidateMenu(c.Request.Context(), tenantID)
	c.JSON(http.StatusCreated, item)
}

func (h *MenuHandler) UpdateMenuItem(c *gin.Context) {
	itemID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid menu item ID"})
		return
	}

	var req models.UpdateMenuItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tenantID := middleware.TenantID(c)

	var item models.MenuItem
	err = h.db.QueryRowContext(c.Request.Context(), `
		UPDATE menu_items SET
			name = COALESCE($1, name),
			description = COALESCE($2, description),
			price = COALESCE($3, price),
			category = COALESCE($4, category),
			modifiers = COALESCE($5, modifiers),
			available = COALESCE($6, available),
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $7 AND tenant_id = $8
		RETURNING id, tenant_id, name, description, price, category, photo_url, modifiers, available, created_at, updated_at`,
		req.Name, req.Description, req.Price, req.Category, req.Modifiers, req.Available,
		itemID, tenantID,
	).Scan(
		&item.ID, &item.TenantID, &item.Name, &item.Description, &item.Price,
		&item.Category, &item.PhotoURL, &item.Modifiers, &item.Available,
		&item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Menu item not found"})
			return
		}
		h.logger.Error("Failed to update menu item", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	h.invalidateMenu(c.Request.Context(), tenantID)
	c.JSON(http.StatusOK, item)
}

func (h *MenuHandler) DeleteMenuItem(c *gin.Context) {
	itemID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid menu item ID"})
		return
	}

	tenantID := middleware.TenantID(c)
	result, err := h.db.ExecContext(c.Request.Context(),
		"DELETE FROM menu_items WHERE id = $1 AND tenant_id = $2",
		itemID, tenantID,
	)
	if err != nil {
		h.logger.Error("Failed to delete menu item", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Menu item not found"})
		return
	}

	h.invalidateMenu(c.Request.Context(), tenantID)
	c.JSON(http.StatusOK, gin.H{"deleted": itemID})
}

// UploadPhoto stores a menu photo on local disk and records its URL.
func (h *MenuHandler) UploadPhoto(c *gin.Context) {
	itemID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid menu item ID"})
		return
	}

	file, err := c.FormFile("photo")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing photo file"})
		return
	}
	if file.Size > maxPhotoSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Photo exceeds 5MB limit"})
		return
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".webp":
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unsupported photo format"})
		return
	}

	tenantID := middleware.TenantID(c)
	dir := filepath.Join(h.uploadDir, strconv.Itoa(tenantID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		h.logger.Error("Failed to create upload directory", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	filename := uuid.NewString() + ext
	if err := c.SaveUploadedFile(file, filepath.Join(dir, filename)); err != nil {
		h.logger.Error("Failed to save photo", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	photoURL := fmt.Sprintf("%s/%d/%s", photoURLPrefix, tenantID, filename)
	result, err := h.db.ExecContext(c.Request.Context(),
		"UPDATE menu_items SET photo_url = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2 AND tenant_id = $3",
		photoURL, itemID, tenantID,
	)
	if err != nil {
		h.logger.Error("Failed to record photo URL", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Menu item not found"})
		return
	}

	h.invalidateMenu(c.Request.Context(), tenantID)
	c.JSON(http.StatusOK, gin.H{"photo_url": photoURL})
}

func (h *MenuHandler) invalidateMenu(ctx context.Context, tenantID int) {
	if h.cache == nil {
		return
	}
	if err := h.cache.Delete(ctx, menuCacheKey(tenantID)); err != nil {
		h.logger.Warn("Failed to invalidate menu cache", zap.Int("tenant_id", tenantID), zap.Error(err))
	}
}
