package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"go.uber.org/zap/zaptest"

	"github.com/henry-banana/tkob-qrorder/currency"
	"github.com/henry-banana/tkob-qrorder/models"
	"github.com/henry-banana/tkob-qrorder/sepay"
)

type missRateCache struct{}

func (missRateCache) GetJSON(ctx context.Context, key string, v any) error {
	return errors.New("cache miss")
}

func (missRateCache) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	return nil
}

type fakeGateway struct {
	txs   []sepay.Transaction
	err   error
	calls int
}

func (f *fakeGateway) ListTransactions(ctx context.Context, opts sepay.ListOptions) ([]sepay.Transaction, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if opts.TransferContent == "" {
		return f.txs, nil
	}
	var matched []sepay.Transaction
	for _, tx := range f.txs {
		if strings.Contains(tx.Content, opts.TransferContent) {
			matched = append(matched, tx)
		}
	}
	return matched, nil
}

func setupPaymentService(t *testing.T, gateway sepay.Client) (*PaymentService, sqlmock.Sqlmock, *fakePublisher, *sql.DB) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}

	// No API key configured, so conversion always uses the fallback rate.
	converter := currency.NewConverter(missRateCache{}, "http://unused", "", 25000, time.Hour, zaptest.NewLogger(t))
	publisher := &fakePublisher{}
	svc := NewPaymentService(db, converter, gateway, publisher, "order_events", "TKOB", 15*time.Minute, zaptest.NewLogger(t))
	return svc, mock, publisher, db
}

func paymentColumns() []string {
	return []string{
		"id", "order_id", "tenant_id", "amount", "currency", "transfer_content",
		"status", "expires_at", "created_at", "updated_at",
	}
}

func TestPaymentService_CreateIntent(t *testing.T) {
	svc, mock, _, db := setupPaymentService(t, &fakeGateway{})
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery("SELECT total, payment_status FROM orders").
		WithArgs(9, 1).
		WillReturnRows(sqlmock.NewRows([]string{"total", "payment_status"}).AddRow(10.40, models.PaymentStatusPending))
	mock.ExpectQuery("FROM payments").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("INSERT INTO payments").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(5, now, now))

	payment, err := svc.CreateIntent(context.Background(), 1, 9)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 10.40 USD at the fallback rate of 25000.
	if payment.Amount != 260000 {
		t.Errorf("expected amount 260000 VND, got %d", payment.Amount)
	}
	if !strings.HasPrefix(payment.TransferContent, "TKOB9") {
		t.Errorf("expected transfer content tied to order 9, got %q", payment.TransferContent)
	}
	if payment.Status != models.PaymentStatusPending {
		t.Errorf("expected pending status, got %s", payment.Status)
	}
	if remaining := time.Until(payment.ExpiresAt); remaining < 14*time.Minute || remaining > 15*time.Minute {
		t.Errorf("expected ~15m expiry, got %v", remaining)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestPaymentService_CreateIntent_RejectsPaidOrder(t *testing.T) {
	svc, mock, _, db := setupPaymentService(t, &fakeGateway{})
	defer db.Close()

	mock.ExpectQuery("SELECT total, payment_status FROM orders").
		WithArgs(9, 1).
		WillReturnRows(sqlmock.NewRows([]string{"total", "payment_status"}).AddRow(10.40, models.PaymentStatusCompleted))

	_, err := svc.CreateIntent(context.Background(), 1, 9)
	if !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestPaymentService_CreateIntent_ReusesPendingIntent(t *testing.T) {
	svc, mock, _, db := setupPaymentService(t, &fakeGateway{})
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery("SELECT total, payment_status FROM orders").
		WillReturnRows(sqlmock.NewRows([]string{"total", "payment_status"}).AddRow(10.40, models.PaymentStatusPending))
	mock.ExpectQuery("FROM payments").
		WillReturnRows(sqlmock.NewRows(paymentColumns()).
			AddRow(5, 9, 1, 260000, "VND", "TKOB9AAAAAA", models.PaymentStatusPending, now.Add(10*time.Minute), now, now))

	payment, err := svc.CreateIntent(context.Background(), 1, 9)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payment.ID != 5 || payment.TransferContent != "TKOB9AAAAAA" {
		t.Errorf("expected the existing intent back, got %+v", payment)
	}
}

func TestPaymentService_CreateIntent_LostInsertRaceReturnsWinner(t *testing.T) {
	// Only one PENDING payment may exist per order (partial unique index),
	// so a concurrent intent that inserted first surfaces here as a unique
	// violation; the caller gets the winning intent, not an error.
	svc, mock, _, db := setupPaymentService(t, &fakeGateway{})
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery("SELECT total, payment_status FROM orders").
		WillReturnRows(sqlmock.NewRows([]string{"total", "payment_status"}).AddRow(10.40, models.PaymentStatusPending))
	mock.ExpectQuery("FROM payments").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("INSERT INTO payments").
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectQuery("FROM payments").
		WillReturnRows(sqlmock.NewRows(paymentColumns()).
			AddRow(5, 9, 1, 260000, "VND", "TKOB9AAAAAA", models.PaymentStatusPending, now.Add(10*time.Minute), now, now))

	payment, err := svc.CreateIntent(context.Background(), 1, 9)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payment.ID != 5 || payment.TransferContent != "TKOB9AAAAAA" {
		t.Errorf("expected the winning intent back, got %+v", payment)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestPaymentService_Poll_CompletesMatchedPayment(t *testing.T) {
	gateway := &fakeGateway{txs: []sepay.Transaction{
		{ID: "1001", AmountIn: "260000.00", Content: "TKOB9AAAAAA thanh toan"},
	}}
	svc, mock, publisher, db := setupPaymentService(t, gateway)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery("FROM payments WHERE transfer_content").
		WithArgs("TKOB9AAAAAA").
		WillReturnRows(sqlmock.NewRows(paymentColumns()).
			AddRow(5, 9, 1, 260000, "VND", "TKOB9AAAAAA", models.PaymentStatusPending, now.Add(10*time.Minute), now, now))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE payments SET status").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE orders SET payment_status").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := svc.Poll(context.Background(), "TKOB9AAAAAA", 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Processed {
		t.Error("expected payment to be processed")
	}
	if result.Matched == nil || result.Matched.ID != "1001" {
		t.Errorf("expected matched transaction 1001, got %+v", result.Matched)
	}
	if len(publisher.messages) != 1 {
		t.Errorf("expected payment_completed event, got %d messages", len(publisher.messages))
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestPaymentService_Poll_CompletesNonFirstExactMatch(t *testing.T) {
	// A botched transfer and the real one carry the same memo; the wrong
	// amount coming back first must not mask the exact match behind it.
	gateway := &fakeGateway{txs: []sepay.Transaction{
		{ID: "1001", AmountIn: "100000.00", Content: "TKOB9AAAAAA thanh toan"},
		{ID: "1002", AmountIn: "260000.00", Content: "TKOB9AAAAAA thanh toan lai"},
	}}
	svc, mock, publisher, db := setupPaymentService(t, gateway)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery("FROM payments WHERE transfer_content").
		WithArgs("TKOB9AAAAAA").
		WillReturnRows(sqlmock.NewRows(paymentColumns()).
			AddRow(5, 9, 1, 260000, "VND", "TKOB9AAAAAA", models.PaymentStatusPending, now.Add(10*time.Minute), now, now))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE payments SET status").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE orders SET payment_status").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := svc.Poll(context.Background(), "TKOB9AAAAAA", 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Processed {
		t.Error("expected the exact-amount transaction to complete the payment")
	}
	if result.Matched == nil || result.Matched.ID != "1002" {
		t.Errorf("expected matched transaction 1002, got %+v", result.Matched)
	}
	if len(publisher.messages) != 1 {
		t.Errorf("expected payment_completed event, got %d messages", len(publisher.messages))
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestPaymentService_Poll_IdempotentWhenAlreadyCompleted(t *testing.T) {
	gateway := &fakeGateway{txs: []sepay.Transaction{
		{ID: "1001", AmountIn: "260000.00", Content: "TKOB9AAAAAA thanh toan"},
	}}
	svc, mock, publisher, db := setupPaymentService(t, gateway)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery("FROM payments WHERE transfer_content").
		WillReturnRows(sqlmock.NewRows(paymentColumns()).
			AddRow(5, 9, 1, 260000, "VND", "TKOB9AAAAAA", models.PaymentStatusCompleted, now.Add(10*time.Minute), now, now))

	result, err := svc.Poll(context.Background(), "TKOB9AAAAAA", 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Processed {
		t.Error("re-polling a completed payment must be a no-op")
	}
	if len(publisher.messages) != 0 {
		t.Errorf("expected no events, got %d", len(publisher.messages))
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestPaymentService_Poll_AmountMismatchLeavesPending(t *testing.T) {
	gateway := &fakeGateway{txs: []sepay.Transaction{
		{ID: "1001", AmountIn: "100000.00", Content: "TKOB9AAAAAA thanh toan"},
	}}
	svc, mock, publisher, db := setupPaymentService(t, gateway)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery("FROM payments WHERE transfer_content").
		WillReturnRows(sqlmock.NewRows(paymentColumns()).
			AddRow(5, 9, 1, 260000, "VND", "TKOB9AAAAAA", models.PaymentStatusPending, now.Add(10*time.Minute), now, now))

	result, err := svc.Poll(context.Background(), "TKOB9AAAAAA", 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Processed {
		t.Error("mismatched amount must not complete the payment")
	}
	if len(publisher.messages) != 0 {
		t.Errorf("expected no events, got %d", len(publisher.messages))
	}
}

func TestPaymentService_Poll_UpstreamFailure(t *testing.T) {
	gateway := &fakeGateway{err: errors.New("gateway timeout")}
	svc, _, _, db := setupPaymentService(t, gateway)
	defer db.Close()

	_, err := svc.Poll(context.Background(), "TKOB9AAAAAA", 20)
	if !errors.Is(err, ErrUpstream) {
		t.Errorf("expected ErrUpstream, got %v", err)
	}
}

func TestPaymentService_CheckPayment_PollsFreshPending(t *testing.T) {
	gateway := &fakeGateway{}
	svc, mock, _, db := setupPaymentService(t, gateway)
	defer db.Close()

	now := time.Now()
	pending := sqlmock.NewRows(paymentColumns()).
		AddRow(5, 9, 1, 260000, "VND", "TKOB9AAAAAA", models.PaymentStatusPending, now.Add(10*time.Minute), now, now)
	mock.ExpectQuery("FROM payments WHERE id").
		WithArgs(5, 1).
		WillReturnRows(pending)
	mock.ExpectQuery("FROM payments WHERE id").
		WithArgs(5, 1).
		WillReturnRows(sqlmock.NewRows(paymentColumns()).
			AddRow(5, 9, 1, 260000, "VND", "TKOB9AAAAAA", models.PaymentStatusPending, now.Add(10*time.Minute), now, now))

	result, err := svc.CheckPayment(context.Background(), 1, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gateway.calls != 1 {
		t.Errorf("expected a live gateway poll, got %d calls", gateway.calls)
	}
	if result.Completed || result.Expired {
		t.Errorf("expected pending result, got %+v", result)
	}
}

func TestPaymentService_CheckPayment_ExpiredSkipsPoll(t *testing.T) {
	gateway := &fakeGateway{}
	svc, mock, _, db := setupPaymentService(t, gateway)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery("FROM payments WHERE id").
		WithArgs(5, 1).
		WillReturnRows(sqlmock.NewRows(paymentColumns()).
			AddRow(5, 9, 1, 260000, "VND", "TKOB9AAAAAA", models.PaymentStatusPending, now.Add(-time.Minute), now, now))

	result, err := svc.CheckPayment(context.Background(), 1, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gateway.calls != 0 {
		t.Errorf("expected no gateway poll for an expired payment, got %d calls", gateway.calls)
	}
	if !result.Expired || result.Completed {
		t.Errorf("expected expired result, got %+v", result)
	}
}

func TestPaymentService_CheckPayment_NotFound(t *testing.T) {
	svc, mock, _, db := setupPaymentService(t, &fakeGateway{})
	defer db.Close()

	mock.ExpectQuery("FROM payments WHERE id").
		WillReturnError(sql.ErrNoRows)

	_, err := svc.CheckPayment(context.Background(), 1, 999)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPaymentService_ExpireStale(t *testing.T) {
	svc, mock, publisher, db := setupPaymentService(t, &fakeGateway{})
	defer db.Close()

	mock.ExpectQuery("UPDATE payments SET status").
		WillReturnRows(sqlmock.NewRows([]string{"id", "order_id", "tenant_id", "amount", "transfer_content"}).
			AddRow(1, 9, 1, int64(260000), "TKOB9AAAAAA").
			AddRow(2, 10, 1, int64(115000), "TKOB10BBBBBB"))

	count, err := svc.ExpireStale(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 expired payments, got %d", count)
	}
	if len(publisher.messages) != 2 {
		t.Fatalf("expected 2 payment_failed events, got %d", len(publisher.messages))
	}

	raw, _ := publisher.messages[0].Value.Encode()
	var event models.PaymentEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		t.Fatalf("failed to decode event: %v", err)
	}
	if event.EventType != "payment_failed" || event.Status != models.PaymentStatusFailed {
		t.Errorf("unexpected event: %+v", event)
	}
}
