package models

import "time"

// Payment is a pending transfer the customer is expected to make through the
// gateway. Amount is in whole VND, the gateway settlement currency.
type Payment struct {
	ID              int           `json:"id"`
	OrderID         int           `json:"order_id"`
	TenantID        int           `json:"tenant_id"`
	Amount          int64         `json:"amount"`
	Currency        string        `json:"currency"`
	TransferContent string        `json:"transfer_content"`
	Status          PaymentStatus `json:"status"`
	ExpiresAt       time.Time     `json:"expires_at"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

func (p *Payment) Expired(now time.Time) bool {
	return p.Status == PaymentStatusPending && now.After(p.ExpiresAt)
}

type PaymentEvent struct {
	EventType       string        `json:"event_type"`
	PaymentID       int           `json:"payment_id"`
	OrderID         int           `json:"order_id"`
	TenantID        int           `json:"tenant_id"`
	Amount          int64         `json:"amount"`
	Status          PaymentStatus `json:"status"`
	TransferContent string        `json:"transfer_content"`
}
