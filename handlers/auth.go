package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/henry-banana/tkob-qrorder/middleware"
	"github.com/henry-banana/tkob-qrorder/models"
)

type AuthHandler struct {
	db        *sql.DB
	jwtSecret []byte
	tokenTTL  time.Duration
	logger    *zap.Logger
}

func NewAuthHandler(db *sql.DB, jwtSecret []byte, tokenTTL time.Duration, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		db:        db,
		jwtSecret: jwtSecret,
		tokenTTL:  tokenTTL,
		logger:    logger,
	}
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	role := req.Role
	if role == "" {
		role = models.RoleWaiter
	}

	// Check if staff already exists
	var existingID int
	err := h.db.QueryRowContext(c.Request.Context(),
		"SELECT id FROM staff WHERE email = $1", req.Email,
	).Scan(&existingID)
	if err == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "Staff member already exists"})
		return
	} else if !errors.Is(err, sql.ErrNoRows) {
		h.logger.Error("Database error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.logger.Error("Failed to hash password", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	var staff models.Staff
	err = h.db.QueryRowContext(c.Request.Context(), `
		INSERT INTO staff (tenant_id, name, email, password_hash, role)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, tenant_id, name, email, role, created_at`,
		req.TenantID, req.Name, req.Email, string(hashedPassword), role,
	).Scan(&staff.ID, &staff.TenantID, &staff.Name, &staff.Email, &staff.Role, &staff.CreatedAt)
	if err != nil {
		h.logger.Error("Failed to create staff member", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	h.logger.Info("Staff member registered",
		zap.String("email", req.Email),
		zap.Int("tenant_id", req.TenantID),
	)
	c.JSON(http.StatusCreated, staff)
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var staff models.Staff
	err := h.db.QueryRowContext(c.Request.Context(),
		"SELECT id, tenant_id, name, email, password_hash, role, created_at FROM staff WHERE email = $1",
		req.Email,
	).Scan(&staff.ID, &staff.TenantID, &staff.Name, &staff.Email, &staff.PasswordHash, &staff.Role, &staff.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
			return
		}
		h.logger.Error("Database error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(staff.PasswordHash), []byte(req.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	tokenString, err := middleware.IssueStaffToken(h.jwtSecret, staff, h.tokenTTL)
	if err != nil {
		h.logger.Error("Failed to generate token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	h.logger.Info("Staff member logged in",
		zap.String("email", req.Email),
		zap.Int("tenant_id", staff.TenantID),
	)
	c.JSON(http.StatusOK, models.LoginResponse{
		Token: tokenString,
		Staff: staff,
	})
}
