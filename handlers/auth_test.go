package handlers

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"github.com/henry-banana/tkob-qrorder/models"
)

func setupAuthRouter(t *testing.T) (*gin.Engine, sqlmock.Sqlmock, func()) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %v", err)
	}

	h := NewAuthHandler(db, []byte("test-secret"), time.Hour, zaptest.NewLogger(t))
	router := gin.New()
	router.POST("/auth/register", h.Register)
	router.POST("/auth/login", h.Login)

	return router, mock, func() { db.Close() }
}

func TestAuthHandler_Register(t *testing.T) {
	router, mock, cleanup := setupAuthRouter(t)
	defer cleanup()

	mock.ExpectQuery("SELECT id FROM staff WHERE email").
		WithArgs("ana@bistro.test").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("INSERT INTO staff").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "name", "email", "role", "created_at"}).
			AddRow(7, 1, "Ana", "ana@bistro.test", "waiter", time.Now()))

	body, _ := json.Marshal(models.RegisterRequest{
		TenantID: 1,
		Name:     "Ana",
		Email:    "ana@bistro.test",
		Password: "correct-horse",
	})
	req := httptest.NewRequest(http.MethodPost, "/auth/register", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var staff models.Staff
	if err := json.Unmarshal(w.Body.Bytes(), &staff); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if staff.Role != models.RoleWaiter {
		t.Errorf("expected default role waiter, got %s", staff.Role)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestAuthHandler_Register_DuplicateEmail(t *testing.T) {
	router, mock, cleanup := setupAuthRouter(t)
	defer cleanup()

	mock.ExpectQuery("SELECT id FROM staff WHERE email").
		WithArgs("ana@bistro.test").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

	body, _ := json.Marshal(models.RegisterRequest{
		TenantID: 1,
		Name:     "Ana",
		Email:    "ana@bistro.test",
		Password: "correct-horse",
	})
	req := httptest.NewRequest(http.MethodPost, "/auth/register", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestAuthHandler_Login(t *testing.T) {
	router, mock, cleanup := setupAuthRouter(t)
	defer cleanup()

	hash, _ := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.MinCost)
	mock.ExpectQuery("SELECT id, tenant_id, name, email, password_hash, role, created_at FROM staff").
		WithArgs("ana@bistro.test").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "name", "email", "password_hash", "role", "created_at"}).
			AddRow(7, 1, "Ana", "ana@bistro.test", string(hash), "manager", time.Now()))

	body, _ := json.Marshal(models.LoginRequest{Email: "ana@bistro.test", Password: "correct-horse"})
	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp models.LoginResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Token == "" {
		t.Error("expected a token in the response")
	}
	if resp.Staff.PasswordHash != "" {
		t.Error("password hash must not be serialized")
	}
}

func TestAuthHandler_Login_WrongPassword(t *testing.T) {
	router, mock, cleanup := setupAuthRouter(t)
	defer cleanup()

	hash, _ := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.MinCost)
	mock.ExpectQuery("SELECT id, tenant_id, name, email, password_hash, role, created_at FROM staff").
		WithArgs("ana@bistro.test").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "name", "email", "password_hash", "role", "created_at"}).
			AddRow(7, 1, "Ana", "ana@bistro.test", string(hash), "manager", time.Now()))

	body, _ := json.Marshal(models.LoginRequest{Email: "ana@bistro.test", Password: "wrong"})
	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}
