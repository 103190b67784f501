package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Modifier is an optional add-on for a menu item (e.g. extra cheese).
type Modifier struct {
	Name       string  `json:"name"`
	PriceDelta float64 `json:"price_delta"`
}

// Modifiers is stored as a jsonb column.
type Modifiers []Modifier

func (m Modifiers) Value() (driver.Value, error) {
	if m == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(m)
}

func (m *Modifiers) Scan(src any) error {
	if src == nil {
		*m = nil
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported modifiers column type %T", src)
	}
	return json.Unmarshal(data, m)
}

type MenuItem struct {
	ID          int       `json:"id"`
	TenantID    int       `json:"tenant_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Price       float64   `json:"price"`
	Category    string    `json:"category"`
	PhotoURL    string    `json:"photo_url"`
	Modifiers   Modifiers `json:"modifiers"`
	Available   bool      `json:"available"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type CreateMenuItemRequest struct {
	Name        string    `json:"name" binding:"required"`
	Description string    `json:"description"`
	Price       float64   `json:"price" binding:"required,gt=0"`
	Category    string    `json:"category"`
	Modifiers   Modifiers `json:"modifiers"`
	Available   *bool     `json:"available"`
}

type UpdateMenuItemRequest struct {
	Name        *string    `json:"name"`
	Description *string    `json:"description"`
	Price       *float64   `json:"price"`
	Category    *string    `json:"category"`
	Modifiers   *Modifiers `json:"modifiers"`
	Available   *bool      `json:"available"`
}
