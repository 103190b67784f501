package database

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/henry-banana/tkob-qrorder/config"
)

func InitDB(cfg *config.Config, logger *zap.Logger) (*sql.DB, error) {
	psqlInfo := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName)

	db, err := sql.Open("postgres", psqlInfo)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := createSchema(db); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	logger.Info("Database connection established")
	return db, nil
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS tenants (
		id SERIAL PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		slug VARCHAR(100) NOT NULL UNIQUE,
		currency VARCHAR(3) NOT NULL DEFAULT 'USD',
		tax_rate DECIMAL(5, 4) NOT NULL DEFAULT 0,
		service_rate DECIMAL(5, 4) NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS staff (
		id SERIAL PRIMARY KEY,
		tenant_id INTEGER NOT NULL REFERENCES tenants(id),
		name VARCHAR(255) NOT NULL,
		email VARCHAR(255) NOT NULL UNIQUE,
		password_hash VARCHAR(255) NOT NULL,
		role VARCHAR(20) NOT NULL DEFAULT 'waiter',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS tables (
		id SERIAL PRIMARY KEY,
		tenant_id INTEGER NOT NULL REFERENCES tenants(id),
		name VARCHAR(100) NOT NULL,
		qr_code VARCHAR(64) NOT NULL UNIQUE,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS menu_items (
		id SERIAL PRIMARY KEY,
		tenant_id INTEGER NOT NULL REFERENCES tenants(id),
		name VARCHAR(255) NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		price DECIMAL(10, 2) NOT NULL,
		category VARCHAR(100) NOT NULL DEFAULT '',
		photo_url VARCHAR(512) NOT NULL DEFAULT '',
		modifiers JSONB NOT NULL DEFAULT '[]',
		available BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS orders (
		id SERIAL PRIMARY KEY,
		tenant_id INTEGER NOT NULL REFERENCES tenants(id),
		table_id INTEGER NOT NULL REFERENCES tables(id),
		session_key VARCHAR(128) NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'PENDING',
		payment_method VARCHAR(20) NOT NULL,
		payment_status VARCHAR(20) NOT NULL DEFAULT 'PENDING',
		subtotal DECIMAL(10, 2) NOT NULL DEFAULT 0,
		tax DECIMAL(10, 2) NOT NULL DEFAULT 0,
		service_charge DECIMAL(10, 2) NOT NULL DEFAULT 0,
		total DECIMAL(10, 2) NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_orders_session ON orders (tenant_id, session_key, created_at DESC);

	CREATE TABLE IF NOT EXISTS order_items (
		id SERIAL PRIMARY KEY,
		order_id INTEGER NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		menu_item_id INTEGER NOT NULL REFERENCES menu_items(id),
		name VARCHAR(255) NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity >= 1),
		unit_price DECIMAL(10, 2) NOT NULL,
		modifiers JSONB NOT NULL DEFAULT '[]',
		item_total DECIMAL(10, 2) NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_order_items_order ON order_items (order_id);

	CREATE TABLE IF NOT EXISTS payments (
		id SERIAL PRIMARY KEY,
		order_id INTEGER NOT NULL REFERENCES orders(id),
		tenant_id INTEGER NOT NULL REFERENCES tenants(id),
		amount BIGINT NOT NULL,
		currency VARCHAR(3) NOT NULL DEFAULT 'VND',
		transfer_content VARCHAR(64) NOT NULL UNIQUE,
		status VARCHAR(20) NOT NULL DEFAULT 'PENDING',
		expires_at TIMESTAMP NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_payments_order ON payments (order_id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_pending_order ON payments (order_id) WHERE status = 'PENDING';
	`

	_, err := db.Exec(schema)
	return err
}
