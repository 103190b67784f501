package models

import (
	"math"
	"time"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusReceived  OrderStatus = "RECEIVED"
	OrderStatusPreparing OrderStatus = "PREPARING"
	OrderStatusReady     OrderStatus = "READY"
	OrderStatusServed    OrderStatus = "SERVED"
	OrderStatusCompleted OrderStatus = "COMPLETED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// Terminal reports whether no further status transition is allowed.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

type PaymentMethod string

const (
	PaymentMethodBillToTable PaymentMethod = "BILL_TO_TABLE"
	PaymentMethodSePayQR     PaymentMethod = "SEPAY_QR"
	PaymentMethodCardOnline  PaymentMethod = "CARD_ONLINE"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodBillToTable, PaymentMethodSePayQR, PaymentMethodCardOnline:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusRefunded  PaymentStatus = "REFUNDED"
)

type Order struct {
	ID            int           `json:"id"`
	TenantID      int           `json:"tenant_id"`
	TableID       int           `json:"table_id"`
	SessionKey    string        `json:"session_key"`
	Status        OrderStatus   `json:"status"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	Subtotal      float64       `json:"subtotal"`
	Tax           float64       `json:"tax"`
	ServiceCharge float64       `json:"service_charge"`
	Total         float64       `json:"total"`
	Items         []OrderItem   `json:"items,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Mergeable reports whether additional items may still be appended.
func (o *Order) Mergeable() bool {
	return o.PaymentMethod == PaymentMethodBillToTable &&
		o.PaymentStatus != PaymentStatusCompleted &&
		!o.Status.Terminal()
}

type OrderItem struct {
	ID         int       `json:"id"`
	OrderID    int       `json:"order_id"`
	MenuItemID int       `json:"menu_item_id"`
	Name       string    `json:"name"`
	Quantity   int       `json:"quantity"`
	UnitPrice  float64   `json:"unit_price"`
	Modifiers  Modifiers `json:"modifiers"`
	ItemTotal  float64   `json:"item_total"`
	CreatedAt  time.Time `json:"created_at"`
}

type CheckoutItem struct {
	MenuItemID int      `json:"menu_item_id" binding:"required"`
	Quantity   int      `json:"quantity" binding:"required,gte=1"`
	Modifiers  []string `json:"modifiers"`
}

type CheckoutRequest struct {
	PaymentMethod PaymentMethod  `json:"payment_method" binding:"required"`
	Items         []CheckoutItem `json:"items" binding:"required,min=1"`
}

type AppendItemsRequest struct {
	Items []CheckoutItem `json:"items" binding:"required,min=1"`
}

type UpdateOrderStatusRequest struct {
	Status OrderStatus `json:"status" binding:"required"`
}

type MergeableResponse struct {
	HasMergeableOrder bool   `json:"has_mergeable_order"`
	Order             *Order `json:"order,omitempty"`
}

type OrderEvent struct {
	EventType     string        `json:"event_type"`
	OrderID       int           `json:"order_id"`
	TenantID      int           `json:"tenant_id"`
	TableID       int           `json:"table_id"`
	Status        OrderStatus   `json:"status"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	Total         float64       `json:"total"`
}

// Round2 rounds monetary amounts to cents.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
