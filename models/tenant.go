package models

import "time"

type Tenant struct {
	ID          int       `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Currency    string    `json:"currency"`
	TaxRate     float64   `json:"tax_rate"`
	ServiceRate float64   `json:"service_rate"`
	CreatedAt   time.Time `json:"created_at"`
}

type CreateTenantRequest struct {
	Name        string  `json:"name" binding:"required"`
	Slug        string  `json:"slug" binding:"required"`
	Currency    string  `json:"currency"`
	TaxRate     float64 `json:"tax_rate" binding:"gte=0"`
	ServiceRate float64 `json:"service_rate" binding:"gte=0"`
}

type UpdateTenantRequest struct {
	Name        *string  `json:"name"`
	TaxRate     *float64 `json:"tax_rate"`
	ServiceRate *float64 `json:"service_rate"`
}

// DiningTable is a physical table identified by the QR code printed on it.
type DiningTable struct {
	ID        int       `json:"id"`
	TenantID  int       `json:"tenant_id"`
	Name      string    `json:"name"`
	QRCode    string    `json:"qr_code"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type CreateTableRequest struct {
	Name string `json:"name" binding:"required"`
}

type UpdateTableRequest struct {
	Name   *string `json:"name"`
	Active *bool   `json:"active"`
}

type SessionRequest struct {
	QRCode string `json:"qr_code" binding:"required"`
}

type SessionResponse struct {
	Token    string `json:"token"`
	TenantID int    `json:"tenant_id"`
	TableID  int    `json:"table_id"`
	Table    string `json:"table"`
}
