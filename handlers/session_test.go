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

	"github.com/henry-banana/tkob-qrorder/models"
)

func setupSessionRouter(t *testing.T) (*gin.Engine, sqlmock.Sqlmock, func()) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %v", err)
	}

	h := NewSessionHandler(db, []byte("test-secret"), 4*time.Hour, zaptest.NewLogger(t))
	router := gin.New()
	router.POST("/session", h.CreateSession)

	return router, mock, func() { db.Close() }
}

func postSession(router *gin.Engine, qrCode string) *httptest.ResponseRecorder {
	body, _ := json.Marshal(models.SessionRequest{QRCode: qrCode})
	req := httptest.NewRequest(http.MethodPost, "/session", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestSessionHandler_CreateSession(t *testing.T) {
	router, mock, cleanup := setupSessionRouter(t)
	defer cleanup()

	mock.ExpectQuery("SELECT id, tenant_id, name, qr_code, active FROM tables").
		WithArgs("qr-t5").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "name", "qr_code", "active"}).
			AddRow(5, 1, "Table 5", "qr-t5", true))

	w := postSession(router, "qr-t5")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp models.SessionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Token == "" {
		t.Error("expected a session token")
	}
	if resp.TableID != 5 || resp.TenantID != 1 {
		t.Errorf("unexpected session scope: tenant %d table %d", resp.TenantID, resp.TableID)
	}
}

func TestSessionHandler_UnknownQRCode(t *testing.T) {
	router, mock, cleanup := setupSessionRouter(t)
	defer cleanup()

	mock.ExpectQuery("SELECT id, tenant_id, name, qr_code, active FROM tables").
		WithArgs("nope").
		WillReturnError(sql.ErrNoRows)

	w := postSession(router, "nope")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestSessionHandler_InactiveTable(t *testing.T) {
	router, mock, cleanup := setupSessionRouter(t)
	defer cleanup()

	mock.ExpectQuery("SELECT id, tenant_id, name, qr_code, active FROM tables").
		WithArgs("qr-t5").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "name", "qr_code", "active"}).
			AddRow(5, 1, "Table 5", "qr-t5", false))

	w := postSession(router, "qr-t5")
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}
