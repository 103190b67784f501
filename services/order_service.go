package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/henry-banana/tkob-qrorder/kafka"
	"github.com/henry-banana/tkob-qrorder/middleware"
	"github.com/henry-banana/tkob-qrorder/models"
)

// allowedTransitions is the staff/kitchen order lifecycle. Terminal states
// have no outgoing edges.
var allowedTransitions = map[models.OrderStatus][]models.OrderStatus{
	models.OrderStatusPending:   {models.OrderStatusReceived, models.OrderStatusCancelled},
	models.OrderStatusReceived:  {models.OrderStatusPreparing, models.OrderStatusCancelled},
	models.OrderStatusPreparing: {models.OrderStatusReady, models.OrderStatusCancelled},
	models.OrderStatusReady:     {models.OrderStatusServed, models.OrderStatusCancelled},
	models.OrderStatusServed:    {models.OrderStatusCompleted},
}

type OrderService struct {
	db       *sql.DB
	producer kafka.Publisher
	topic    string
	logger   *zap.Logger
}

func NewOrderService(db *sql.DB, producer kafka.Publisher, topic string, logger *zap.Logger) *OrderService {
	return &OrderService{
		db:       db,
		producer: producer,
		topic:    topic,
		logger:   logger,
	}
}

// Checkout creates a new order with snapshot prices and server-computed
// totals. The client never supplies amounts.
func (s *OrderService) Checkout(ctx context.Context, tenantID, tableID int, sessionKey string, method models.PaymentMethod, items []models.CheckoutItem) (*models.Order, error) {
	if !method.Valid() {
		return nil, fmt.Errorf("%w: unknown payment method %q", ErrValidation, method)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: order has no items", ErrValidation)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	taxRate, serviceRate, err := tenantRates(ctx, tx, tenantID)
	if err != nil {
		return nil, err
	}

	snapshot, err := snapshotItems(ctx, tx, tenantID, items)
	if err != nil {
		return nil, err
	}

	subtotal, taxAmt, serviceAmt, total := computeTotals(snapshot, taxRate, serviceRate)

	order := &models.Order{
		TenantID:      tenantID,
		TableID:       tableID,
		SessionKey:    sessionKey,
		Status:        models.OrderStatusPending,
		PaymentMethod: method,
		PaymentStatus: models.PaymentStatusPending,
		Subtotal:      subtotal,
		Tax:           taxAmt,
		ServiceCharge: serviceAmt,
		Total:         total,
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO orders (tenant_id, table_id, session_key, status, payment_method, payment_status, subtotal, tax, service_charge, total)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at`,
		order.TenantID, order.TableID, order.SessionKey, order.Status, order.PaymentMethod,
		order.PaymentStatus, order.Subtotal, order.Tax, order.ServiceCharge, order.Total,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}

	if err := insertItems(ctx, tx, order.ID, snapshot); err != nil {
		return nil, err
	}
	order.Items = snapshot

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit checkout: %w", err)
	}

	middleware.RecordOrderCreated(string(method))
	s.publish(ctx, models.OrderEvent{
		EventType:     "order_created",
		OrderID:       order.ID,
		TenantID:      order.TenantID,
		TableID:       order.TableID,
		Status:        order.Status,
		PaymentStatus: order.PaymentStatus,
		Total:         order.Total,
	})

	s.logger.Info("Order created",
		zap.Int("order_id", order.ID),
		zap.Int("tenant_id", tenantID),
		zap.String("payment_method", string(method)),
		zap.Float64("total", order.Total),
	)
	return order, nil
}

// CheckMergeable returns the latest order for the session that can still
// receive appended items, or nil when the cart must become a new order.
func (s *OrderService) CheckMergeable(ctx context.Context, tenantID int, sessionKey string) (*models.Order, error) {
	order := &models.Order{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, table_id, session_key, status, payment_method, payment_status, subtotal, tax, service_charge, total, created_at, updated_at
		FROM orders
		WHERE tenant_id = $1 AND session_key = $2
		  AND payment_method = $3 AND payment_status != $4
		  AND status NOT IN ($5, $6)
		ORDER BY created_at DESC
		LIMIT 1`,
		tenantID, sessionKey,
		models.PaymentMethodBillToTable, models.PaymentStatusCompleted,
		models.OrderStatusCompleted, models.OrderStatusCancelled,
	).Scan(
		&order.ID, &order.TenantID, &order.TableID, &order.SessionKey, &order.Status,
		&order.PaymentMethod, &order.PaymentStatus, &order.Subtotal, &order.Tax,
		&order.ServiceCharge, &order.Total, &order.CreatedAt, &order.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query mergeable order: %w", err)
	}

	order.Items, err = loadItems(ctx, s.db, order.ID)
	if err != nil {
		return nil, err
	}
	return order, nil
}

// AppendItems merges new cart items into an existing bill-to-table order.
// The order row is locked for the whole read-modify-write so concurrent
// appends serialize and totals always match the final item list.
func (s *OrderService) AppendItems(ctx context.Context, tenantID, orderID int, items []models.CheckoutItem) (*models.Order, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no items to append", ErrValidation)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	order := &models.Order{}
	err = tx.QueryRowContext(ctx, `
		SELECT id, tenant_id, table_id, session_key, status, payment_method, payment_status, subtotal, tax, service_charge, total, created_at, updated_at
		FROM orders
		WHERE id = $1 AND tenant_id = $2
		FOR UPDATE`,
		orderID, tenantID,
	).Scan(
		&order.ID, &order.TenantID, &order.TableID, &order.SessionKey, &order.Status,
		&order.PaymentMethod, &order.PaymentStatus, &order.Subtotal, &order.Tax,
		&order.ServiceCharge, &order.Total, &order.CreatedAt, &order.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: order %d", ErrNotFound, orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("lock order: %w", err)
	}

	// Re-check under the lock: the order may have been paid or cancelled
	// between the caller's mergeable check and now.
	if !order.Mergeable() {
		return nil, fmt.Errorf("%w: order %d is no longer mergeable", ErrConflict, orderID)
	}

	snapshot, err := snapshotItems(ctx, tx, tenantID, items)
	if err != nil {
		return nil, err
	}
	if err := insertItems(ctx, tx, order.ID, snapshot); err != nil {
		return nil, err
	}

	// Recompute from the full persisted item list, not by adding deltas.
	var subtotal float64
	if err := tx.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(item_total), 0) FROM order_items WHERE order_id = $1",
		order.ID,
	).Scan(&subtotal); err != nil {
		return nil, fmt.Errorf("sum order items: %w", err)
	}

	taxRate, serviceRate, err := tenantRates(ctx, tx, tenantID)
	if err != nil {
		return nil, err
	}

	order.Subtotal = models.Round2(subtotal)
	order.Tax = models.Round2(subtotal * taxRate)
	order.ServiceCharge = models.Round2(subtotal * serviceRate)
	order.Total = models.Round2(order.Subtotal + order.Tax + order.ServiceCharge)

	if _, err := tx.ExecContext(ctx, `
		UPDATE orders SET subtotal = $1, tax = $2, service_charge = $3, total = $4, updated_at = CURRENT_TIMESTAMP
		WHERE id = $5`,
		order.Subtotal, order.Tax, order.ServiceCharge, order.Total, order.ID,
	); err != nil {
		return nil, fmt.Errorf("update order totals: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit append: %w", err)
	}

	order.Items, err = loadItems(ctx, s.db, order.ID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Items appended to order",
		zap.Int("order_id", order.ID),
		zap.Int("appended", len(snapshot)),
		zap.Float64("total", order.Total),
	)
	return order, nil
}

func (s *OrderService) GetOrder(ctx context.Context, tenantID, orderID int) (*models.Order, error) {
	order := &models.Order{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, table_id, session_key, status, payment_method, payment_status, subtotal, tax, service_charge, total, created_at, updated_at
		FROM orders WHERE id = $1 AND tenant_id = $2`,
		orderID, tenantID,
	).Scan(
		&order.ID, &order.TenantID, &order.TableID, &order.SessionKey, &order.Status,
		&order.PaymentMethod, &order.PaymentStatus, &order.Subtotal, &order.Tax,
		&order.ServiceCharge, &order.Total, &order.CreatedAt, &order.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: order %d", ErrNotFound, orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}

	order.Items, err = loadItems(ctx, s.db, order.ID)
	if err != nil {
		return nil, err
	}
	return order, nil
}

// ListOrders returns recent tenant orders for the management portal,
// optionally filtered by status.
func (s *OrderService) ListOrders(ctx context.Context, tenantID int, status models.OrderStatus, limit int) ([]models.Order, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `
		SELECT id, tenant_id, table_id, session_key, status, payment_method, payment_status, subtotal, tax, service_charge, total, created_at, updated_at
		FROM orders WHERE tenant_id = $1`
	args := []any{tenantID}
	if status != "" {
		query += " AND status = $2"
		args = append(args, status)
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT %d", limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		var o models.Order
		if err := rows.Scan(
			&o.ID, &o.TenantID, &o.TableID, &o.SessionKey, &o.Status,
			&o.PaymentMethod, &o.PaymentStatus, &o.Subtotal, &o.Tax,
			&o.ServiceCharge, &o.Total, &o.CreatedAt, &o.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// UpdateStatus applies a staff/kitchen lifecycle transition.
func (s *OrderService) UpdateStatus(ctx context.Context, tenantID, orderID int, next models.OrderStatus) (*models.Order, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var current models.OrderStatus
	err = tx.QueryRowContext(ctx,
		"SELECT status FROM orders WHERE id = $1 AND tenant_id = $2 FOR UPDATE",
		orderID, tenantID,
	).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: order %d", ErrNotFound, orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("lock order: %w", err)
	}

	if !transitionAllowed(current, next) {
		return nil, fmt.Errorf("%w: cannot transition order from %s to %s", ErrConflict, current, next)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2",
		next, orderID,
	); err != nil {
		return nil, fmt.Errorf("update order status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit status update: %w", err)
	}

	order, err := s.GetOrder(ctx, tenantID, orderID)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, models.OrderEvent{
		EventType:     "order_status_changed",
		OrderID:       order.ID,
		TenantID:      order.TenantID,
		TableID:       order.TableID,
		Status:        order.Status,
		PaymentStatus: order.PaymentStatus,
		Total:         order.Total,
	})
	return order, nil
}

func transitionAllowed(from, to models.OrderStatus) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func (s *OrderService) publish(ctx context.Context, event models.OrderEvent) {
	if s.producer == nil {
		return
	}
	if err := kafka.PublishEvent(ctx, s.producer, s.topic, event, s.logger); err != nil {
		// Event delivery never fails the request.
		s.logger.Error("Failed to publish order event",
			zap.String("event_type", event.EventType),
			zap.Int("order_id", event.OrderID),
			zap.Error(err),
		)
	}
}

func tenantRates(ctx context.Context, tx *sql.Tx, tenantID int) (taxRate, serviceRate float64, err error) {
	err = tx.QueryRowContext(ctx,
		"SELECT tax_rate, service_rate FROM tenants WHERE id = $1",
		tenantID,
	).Scan(&taxRate, &serviceRate)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, fmt.Errorf("%w: tenant %d", ErrNotFound, tenantID)
	}
	if err != nil {
		return 0, 0, fmt.Errorf("query tenant rates: %w", err)
	}
	return taxRate, serviceRate, nil
}

// snapshotItems validates cart items against the current menu and freezes
// unit prices and modifier deltas at order time.
func snapshotItems(ctx context.Context, tx *sql.Tx, tenantID int, items []models.CheckoutItem) ([]models.OrderItem, error) {
	snapshot := make([]models.OrderItem, 0, len(items))
	for _, item := range items {
		if item.Quantity < 1 {
			return nil, fmt.Errorf("%w: quantity must be at least 1", ErrValidation)
		}

		var (
			menuItem  models.MenuItem
			available bool
		)
		err := tx.QueryRowContext(ctx,
			"SELECT id, name, price, modifiers, available FROM menu_items WHERE id = $1 AND tenant_id = $2",
			item.MenuItemID, tenantID,
		).Scan(&menuItem.ID, &menuItem.Name, &menuItem.Price, &menuItem.Modifiers, &available)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: menu item %d not found", ErrValidation, item.MenuItemID)
		}
		if err != nil {
			return nil, fmt.Errorf("query menu item: %w", err)
		}
		if !available {
			return nil, fmt.Errorf("%w: menu item %q is not available", ErrValidation, menuItem.Name)
		}

		selected, err := resolveModifiers(menuItem, item.Modifiers)
		if err != nil {
			return nil, err
		}

		unit := menuItem.Price
		for _, m := range selected {
			unit += m.PriceDelta
		}

		snapshot = append(snapshot, models.OrderItem{
			MenuItemID: menuItem.ID,
			Name:       menuItem.Name,
			Quantity:   item.Quantity,
			UnitPrice:  menuItem.Price,
			Modifiers:  selected,
			ItemTotal:  models.Round2(unit * float64(item.Quantity)),
		})
	}
	return snapshot, nil
}

func resolveModifiers(menuItem models.MenuItem, names []string) (models.Modifiers, error) {
	if len(names) == 0 {
		return nil, nil
	}
	byName := make(map[string]models.Modifier, len(menuItem.Modifiers))
	for _, m := range menuItem.Modifiers {
		byName[m.Name] = m
	}

	selected := make(models.Modifiers, 0, len(names))
	for _, name := range names {
		m, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown modifier %q for item %q", ErrValidation, name, menuItem.Name)
		}
		selected = append(selected, m)
	}
	return selected, nil
}

func insertItems(ctx context.Context, tx *sql.Tx, orderID int, items []models.OrderItem) error {
	for i := range items {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO order_items (order_id, menu_item_id, name, quantity, unit_price, modifiers, item_total)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id, created_at`,
			orderID, items[i].MenuItemID, items[i].Name, items[i].Quantity,
			items[i].UnitPrice, items[i].Modifiers, items[i].ItemTotal,
		).Scan(&items[i].ID, &items[i].CreatedAt)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
		items[i].OrderID = orderID
	}
	return nil
}

func computeTotals(items []models.OrderItem, taxRate, serviceRate float64) (subtotal, tax, service, total float64) {
	for _, item := range items {
		subtotal += item.ItemTotal
	}
	subtotal = models.Round2(subtotal)
	tax = models.Round2(subtotal * taxRate)
	service = models.Round2(subtotal * serviceRate)
	total = models.Round2(subtotal + tax + service)
	return subtotal, tax, service, total
}

func loadItems(ctx context.Context, db *sql.DB, orderID int) ([]models.OrderItem, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, order_id, menu_item_id, name, quantity, unit_price, modifiers, item_total, created_at
		FROM order_items WHERE order_id = $1 ORDER BY id`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		if err := rows.Scan(
			&item.ID, &item.OrderID, &item.MenuItemID, &item.Name, &item.Quantity,
			&item.UnitPrice, &item.Modifiers, &item.ItemTotal, &item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
