package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/henry-banana/tkob-qrorder/currency"
	"github.com/henry-banana/tkob-qrorder/kafka"
	"github.com/henry-banana/tkob-qrorder/middleware"
	"github.com/henry-banana/tkob-qrorder/models"
	"github.com/henry-banana/tkob-qrorder/sepay"
)

type PaymentService struct {
	db        *sql.DB
	converter *currency.Converter
	gateway   sepay.Client
	producer  kafka.Publisher
	topic     string
	prefix    string
	expiry    time.Duration
	logger    *zap.Logger
}

func NewPaymentService(db *sql.DB, converter *currency.Converter, gateway sepay.Client, producer kafka.Publisher, topic, prefix string, expiry time.Duration, logger *zap.Logger) *PaymentService {
	return &PaymentService{
		db:        db,
		converter: converter,
		gateway:   gateway,
		producer:  producer,
		topic:     topic,
		prefix:    prefix,
		expiry:    expiry,
		logger:    logger,
	}
}

// PollResult reports one reconciliation pass against the gateway.
type PollResult struct {
	Transactions []sepay.Transaction `json:"transactions"`
	Matched      *sepay.Transaction  `json:"matched_transaction,omitempty"`
	Processed    bool                `json:"payment_processed"`
}

// CheckResult reports a payment's current state after a poll-then-check.
type CheckResult struct {
	Payment   *models.Payment `json:"payment"`
	Completed bool            `json:"completed"`
	Expired   bool            `json:"expired"`
}

// CreateIntent quotes the order total in VND and records a pending payment
// with a unique transfer-content token the customer puts in the bank
// transfer memo. An unexpired pending intent for the same order is reused
// so repeated checkouts do not mint competing tokens.
func (s *PaymentService) CreateIntent(ctx context.Context, tenantID, orderID int) (*models.Payment, error) {
	var (
		total         float64
		paymentStatus models.PaymentStatus
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT total, payment_status FROM orders WHERE id = $1 AND tenant_id = $2",
		orderID, tenantID,
	).Scan(&total, &paymentStatus)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: order %d", ErrNotFound, orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	if paymentStatus == models.PaymentStatusCompleted {
		return nil, fmt.Errorf("%w: order %d is already paid", ErrValidation, orderID)
	}

	if existing, err := s.pendingIntent(ctx, orderID); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	conv, err := s.converter.Convert(ctx, total, "USD", "VND")
	if err != nil {
		return nil, fmt.Errorf("%w: convert order total: %v", ErrUpstream, err)
	}

	payment := &models.Payment{
		OrderID:         orderID,
		TenantID:        tenantID,
		Amount:          int64(conv.Amount),
		Currency:        "VND",
		TransferContent: s.newTransferContent(orderID),
		Status:          models.PaymentStatusPending,
		ExpiresAt:       time.Now().Add(s.expiry),
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO payments (order_id, tenant_id, amount, currency, transfer_content, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`,
		payment.OrderID, payment.TenantID, payment.Amount, payment.Currency,
		payment.TransferContent, payment.Status, payment.ExpiresAt,
	).Scan(&payment.ID, &payment.CreatedAt, &payment.UpdatedAt)
	if err != nil {
		// A partial unique index allows one PENDING payment per order, so a
		// concurrent CreateIntent that won the race trips a unique violation
		// here; hand its intent back instead of failing.
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			if existing, lookupErr := s.pendingIntent(ctx, orderID); lookupErr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("insert payment: %w", err)
	}

	s.logger.Info("Payment intent created",
		zap.Int("payment_id", payment.ID),
		zap.Int("order_id", orderID),
		zap.Int64("amount_vnd", payment.Amount),
		zap.String("transfer_content", payment.TransferContent),
		zap.Float64("rate", conv.Rate),
	)
	return payment, nil
}

// newTransferContent ties the token to the order while keeping it unique
// per payment; the suffix disambiguates repeated intents.
func (s *PaymentService) newTransferContent(orderID int) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return fmt.Sprintf("%s%d%s", s.prefix, orderID, suffix)
}

func (s *PaymentService) pendingIntent(ctx context.Context, orderID int) (*models.Payment, error) {
	payment := &models.Payment{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, order_id, tenant_id, amount, currency, transfer_content, status, expires_at, created_at, updated_at
		FROM payments
		WHERE order_id = $1 AND status = $2 AND expires_at > CURRENT_TIMESTAMP
		ORDER BY created_at DESC
		LIMIT 1`,
		orderID, models.PaymentStatusPending,
	).Scan(
		&payment.ID, &payment.OrderID, &payment.TenantID, &payment.Amount, &payment.Currency,
		&payment.TransferContent, &payment.Status, &payment.ExpiresAt, &payment.CreatedAt, &payment.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query pending intent: %w", err)
	}
	return payment, nil
}

// Poll lists recent gateway transactions and, when one carries a pending
// payment's transfer content with the exact expected amount, marks the
// payment and its order COMPLETED. Re-polling a completed payment is a
// no-op, so the operation is safe to repeat.
func (s *PaymentService) Poll(ctx context.Context, transferContent string, limit int) (*PollResult, error) {
	txs, err := s.gateway.ListTransactions(ctx, sepay.ListOptions{
		TransferContent: transferContent,
		Limit:           limit,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	result := &PollResult{Transactions: txs}
	if transferContent == "" || len(txs) == 0 {
		return result, nil
	}
	result.Matched = &txs[0]

	payment, err := s.paymentByTransferContent(ctx, transferContent)
	if err != nil {
		return nil, err
	}
	if payment == nil || payment.Status != models.PaymentStatusPending {
		return result, nil
	}

	// Exact-match policy: only a transfer for the exact amount completes
	// the payment. The same memo can appear on several transfers (a
	// botched transfer followed by the real one), so every candidate is
	// examined before declaring a mismatch.
	for i := range txs {
		if txs[i].AmountVND() != payment.Amount {
			continue
		}
		result.Matched = &txs[i]
		processed, err := s.completePayment(ctx, payment)
		if err != nil {
			return nil, err
		}
		result.Processed = processed
		return result, nil
	}

	middleware.RecordPaymentReconciled("amount_mismatch")
	s.logger.Warn("No transaction matches the expected payment amount",
		zap.Int("payment_id", payment.ID),
		zap.Int64("expected", payment.Amount),
		zap.Int64("received", result.Matched.AmountVND()),
		zap.Int("candidates", len(txs)),
		zap.String("transfer_content", transferContent),
	)
	return result, nil
}

// completePayment flips payment and order to COMPLETED in one transaction.
// The status guard on the payment row makes repeated completion idempotent.
func (s *PaymentService) completePayment(ctx context.Context, payment *models.Payment) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE payments SET status = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2 AND status = $3",
		models.PaymentStatusCompleted, payment.ID, models.PaymentStatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("update payment: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		// Lost the race with another poller; nothing left to do.
		return false, tx.Commit()
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE orders SET payment_status = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2",
		models.PaymentStatusCompleted, payment.OrderID,
	); err != nil {
		return false, fmt.Errorf("update order payment status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit payment completion: %w", err)
	}

	middleware.RecordPaymentReconciled("completed")
	s.publish(ctx, models.PaymentEvent{
		EventType:       "payment_completed",
		PaymentID:       payment.ID,
		OrderID:         payment.OrderID,
		TenantID:        payment.TenantID,
		Amount:          payment.Amount,
		Status:          models.PaymentStatusCompleted,
		TransferContent: payment.TransferContent,
	})

	s.logger.Info("Payment completed",
		zap.Int("payment_id", payment.ID),
		zap.Int("order_id", payment.OrderID),
		zap.Int64("amount_vnd", payment.Amount),
	)
	return true, nil
}

// CheckPayment reports a payment's status, polling the gateway first for
// freshness when the payment is still pending and unexpired.
func (s *PaymentService) CheckPayment(ctx context.Context, tenantID, paymentID int) (*CheckResult, error) {
	payment, err := s.paymentByID(ctx, tenantID, paymentID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if payment.Status == models.PaymentStatusPending && !payment.Expired(now) {
		if _, err := s.Poll(ctx, payment.TransferContent, 20); err != nil {
			// A gateway hiccup must not hide the payment's current state.
			s.logger.Warn("Gateway poll during check failed",
				zap.Int("payment_id", paymentID),
				zap.Error(err),
			)
		}
		if payment, err = s.paymentByID(ctx, tenantID, paymentID); err != nil {
			return nil, err
		}
	}

	return &CheckResult{
		Payment:   payment,
		Completed: payment.Status == models.PaymentStatusCompleted,
		Expired:   payment.Expired(now),
	}, nil
}

// ExpireStale fails pending payments past their expiry and emits a
// payment_failed event per payment. Run periodically.
func (s *PaymentService) ExpireStale(ctx context.Context) (int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE payments SET status = $1, updated_at = CURRENT_TIMESTAMP
		WHERE status = $2 AND expires_at < CURRENT_TIMESTAMP
		RETURNING id, order_id, tenant_id, amount, transfer_content`,
		models.PaymentStatusFailed, models.PaymentStatusPending,
	)
	if err != nil {
		return 0, fmt.Errorf("expire payments: %w", err)
	}
	defer rows.Close()

	var count int64
	for rows.Next() {
		event := models.PaymentEvent{
			EventType: "payment_failed",
			Status:    models.PaymentStatusFailed,
		}
		if err := rows.Scan(&event.PaymentID, &event.OrderID, &event.TenantID,
			&event.Amount, &event.TransferContent); err != nil {
			return count, fmt.Errorf("scan expired payment: %w", err)
		}
		s.publish(ctx, event)
		count++
	}
	if err := rows.Err(); err != nil {
		return count, fmt.Errorf("expire payments: %w", err)
	}

	if count > 0 {
		middleware.RecordPaymentReconciled("expired")
		s.logger.Info("Expired stale payment intents", zap.Int64("count", count))
	}
	return count, nil
}

func (s *PaymentService) paymentByID(ctx context.Context, tenantID, paymentID int) (*models.Payment, error) {
	payment := &models.Payment{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, order_id, tenant_id, amount, currency, transfer_content, status, expires_at, created_at, updated_at
		FROM payments WHERE id = $1 AND tenant_id = $2`,
		paymentID, tenantID,
	).Scan(
		&payment.ID, &payment.OrderID, &payment.TenantID, &payment.Amount, &payment.Currency,
		&payment.TransferContent, &payment.Status, &payment.ExpiresAt, &payment.CreatedAt, &payment.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: payment %d", ErrNotFound, paymentID)
	}
	if err != nil {
		return nil, fmt.Errorf("query payment: %w", err)
	}
	return payment, nil
}

func (s *PaymentService) paymentByTransferContent(ctx context.Context, transferContent string) (*models.Payment, error) {
	payment := &models.Payment{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, order_id, tenant_id, amount, currency, transfer_content, status, expires_at, created_at, updated_at
		FROM payments WHERE transfer_content = $1`,
		transferContent,
	).Scan(
		&payment.ID, &payment.OrderID, &payment.TenantID, &payment.Amount, &payment.Currency,
		&payment.TransferContent, &payment.Status, &payment.ExpiresAt, &payment.CreatedAt, &payment.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query payment by transfer content: %w", err)
	}
	return payment, nil
}

func (s *PaymentService) publish(ctx context.Context, event models.PaymentEvent) {
	if s.producer == nil {
		return
	}
	if err := kafka.PublishEvent(ctx, s.producer, s.topic, event, s.logger); err != nil {
		s.logger.Error("Failed to publish payment event",
			zap.String("event_type", event.EventType),
			zap.Int("payment_id", event.PaymentID),
			zap.Error(err),
		)
	}
}
