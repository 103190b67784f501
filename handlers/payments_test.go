package handlers

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"

	"github.com/henry-banana/tkob-qrorder/currency"
	"github.com/henry-banana/tkob-qrorder/sepay"
	"github.com/henry-banana/tkob-qrorder/services"
)

type emptyGateway struct{}

func (emptyGateway) ListTransactions(context.Context, sepay.ListOptions) ([]sepay.Transaction, error) {
	return nil, nil
}

func setupPaymentsRouter(t *testing.T) (*gin.Engine, sqlmock.Sqlmock, func()) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %v", err)
	}

	logger := zaptest.NewLogger(t)
	converter := currency.NewConverter(missCache{}, "http://unused", "", 25000, time.Hour, logger)
	svc := services.NewPaymentService(db, converter, emptyGateway{}, noopPublisher{}, "order_events", "TKOB", 15*time.Minute, logger)
	h := NewPaymentsHandler(svc, logger)

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set("tenant_id", 1)
		c.Next()
	})
	router.POST("/orders/:id/payment-intent", h.CreateIntent)
	router.GET("/payments/:id", h.CheckPayment)
	router.POST("/admin/payments/poll", h.Poll)

	return router, mock, func() { db.Close() }
}

type missCache struct{}

func (missCache) GetJSON(context.Context, string, any) error { return sql.ErrNoRows }

func (missCache) SetJSON(context.Context, string, any, time.Duration) error { return nil }

func TestPaymentsHandler_CreateIntent_InvalidOrderID(t *testing.T) {
	router, _, cleanup := setupPaymentsRouter(t)
	defer cleanup()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/orders/abc/payment-intent", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestPaymentsHandler_CreateIntent_OrderNotFound(t *testing.T) {
	router, mock, cleanup := setupPaymentsRouter(t)
	defer cleanup()

	mock.ExpectQuery("SELECT total, payment_status FROM orders").
		WithArgs(42, 1).
		WillReturnError(sql.ErrNoRows)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/orders/42/payment-intent", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestPaymentsHandler_CheckPayment_NotFound(t *testing.T) {
	router, mock, cleanup := setupPaymentsRouter(t)
	defer cleanup()

	mock.ExpectQuery("FROM payments").
		WillReturnError(sql.ErrNoRows)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/payments/42", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestPaymentsHandler_Poll_RequiresTransferContent(t *testing.T) {
	router, _, cleanup := setupPaymentsRouter(t)
	defer cleanup()

	body, _ := json.Marshal(map[string]any{"limit": 20})
	req := httptest.NewRequest(http.MethodPost, "/admin/payments/poll", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
