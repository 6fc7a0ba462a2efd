package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/aurelia-commerce/fulfillment/internal/domain"
	"github.com/aurelia-commerce/fulfillment/internal/repository"
	"github.com/aurelia-commerce/fulfillment/pkg/database"
	apperrors "github.com/aurelia-commerce/fulfillment/pkg/errors"
)

// maxOrderNumberAttempts bounds order-number collision regeneration.
const maxOrderNumberAttempts = 5

// OrderRepository implements repository.OrderRepository using PostgreSQL.
type OrderRepository struct {
	pool database.DBTX
}

// NewOrderRepository creates a new PostgreSQL-backed order repository.
func NewOrderRepository(pool database.DBTX) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// isUniqueViolation reports whether err is a unique-constraint violation on
// the given constraint.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == constraint
}

// Create inserts a new order with its items, taxes, and the initial
// status-history record atomically. Order numbers come from a sequence; a
// duplicate number aborts the attempt and a fresh number is drawn.
func (r *OrderRepository) Create(ctx context.Context, o *domain.Order) error {
	var lastErr error
	for attempt := 0; attempt < maxOrderNumberAttempts; attempt++ {
		err := r.create(ctx, o)
		if err == nil {
			return nil
		}
		if isUniqueViolation(err, "orders_order_number_key") {
			lastErr = err
			continue
		}
		return err
	}
	return fmt.Errorf("assign order number after %d attempts: %w", maxOrderNumberAttempts, lastErr)
}

func (r *OrderRepository) create(ctx context.Context, o *domain.Order) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var seq int64
	if err := tx.QueryRow(ctx, `SELECT nextval('order_number_seq')`).Scan(&seq); err != nil {
		return fmt.Errorf("next order number: %w", err)
	}
	o.OrderNumber = domain.FormatOrderNumber(seq)

	var shippingJSON []byte
	if o.ShippingAddress != nil {
		shippingJSON, err = json.Marshal(o.ShippingAddress)
		if err != nil {
			return fmt.Errorf("marshal shipping address: %w", err)
		}
	}

	orderQuery := `
		INSERT INTO orders (id, order_number, user_id, status, coupon_code, discount_amount, shipping_cost, total_amount, currency, shipping_address, notes, cancel_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err = tx.Exec(ctx, orderQuery,
		o.ID,
		o.OrderNumber,
		o.UserID,
		o.Status,
		o.CouponCode,
		o.DiscountAmount,
		o.ShippingCost,
		o.TotalAmount,
		o.Currency,
		shippingJSON,
		o.Notes,
		o.CancelReason,
		o.CreatedAt,
		o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	itemQuery := `
		INSERT INTO order_items (id, order_id, product_id, variant_id, name, sku, unit_price, quantity, weight_kg, total_price, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, '')::uuid, $5, $6, $7, $8, $9, $10, $11, $12)`

	for _, item := range o.Items {
		_, err = tx.Exec(ctx, itemQuery,
			item.ID,
			item.OrderID,
			item.ProductID,
			item.VariantID,
			item.Name,
			item.SKU,
			item.UnitPrice,
			item.Quantity,
			item.WeightKg,
			item.TotalPrice(),
			o.CreatedAt,
			o.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	taxQuery := `
		INSERT INTO order_taxes (id, order_id, name, rate, amount, tax_value, amount_with_taxes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	for _, tax := range o.Taxes {
		_, err = tx.Exec(ctx, taxQuery,
			tax.ID,
			tax.OrderID,
			tax.Name,
			tax.Rate,
			tax.Amount,
			tax.TaxValue,
			tax.AmountWithTaxes,
			o.CreatedAt,
			o.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert order tax: %w", err)
		}
	}

	historyQuery := `
		INSERT INTO order_status_history (id, order_id, status, note, actor, created_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5)`

	if _, err = tx.Exec(ctx, historyQuery, o.ID, o.Status, "order created", o.UserID, o.CreatedAt); err != nil {
		return fmt.Errorf("insert status history: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// GetByID retrieves a non-deleted order with its items and taxes in a single
// query using JSONB aggregation.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	query := `
		SELECT
			o.id, o.order_number, o.user_id, o.status, o.coupon_code,
			o.discount_amount, o.shipping_cost, o.total_amount, o.currency,
			o.shipping_address, o.notes, o.cancel_reason,
			o.created_at, o.updated_at, o.is_deleted, o.deleted_at,
			COALESCE(
				(SELECT JSONB_AGG(
					JSONB_BUILD_OBJECT(
						'id', oi.id,
						'order_id', oi.order_id,
						'product_id', oi.product_id,
						'variant_id', oi.variant_id,
						'name', oi.name,
						'sku', oi.sku,
						'unit_price', oi.unit_price,
						'quantity', oi.quantity,
						'weight_kg', oi.weight_kg,
						'is_deleted', oi.is_deleted
					) ORDER BY oi.created_at
				) FROM order_items oi WHERE oi.order_id = o.id),
				'[]'::jsonb
			) AS items,
			COALESCE(
				(SELECT JSONB_AGG(
					JSONB_BUILD_OBJECT(
						'id', ot.id,
						'order_id', ot.order_id,
						'name', ot.name,
						'rate', ot.rate,
						'amount', ot.amount,
						'tax_value', ot.tax_value,
						'amount_with_taxes', ot.amount_with_taxes
					) ORDER BY ot.created_at
				) FROM order_taxes ot WHERE ot.order_id = o.id),
				'[]'::jsonb
			) AS taxes
		FROM orders o
		WHERE o.id = $1 AND o.is_deleted = FALSE`

	var (
		o            domain.Order
		shippingJSON []byte
		itemsJSON    []byte
		taxesJSON    []byte
	)

	err := r.pool.QueryRow(ctx, query, id).Scan(
		&o.ID,
		&o.OrderNumber,
		&o.UserID,
		&o.Status,
		&o.CouponCode,
		&o.DiscountAmount,
		&o.ShippingCost,
		&o.TotalAmount,
		&o.Currency,
		&shippingJSON,
		&o.Notes,
		&o.CancelReason,
		&o.CreatedAt,
		&o.UpdatedAt,
		&o.IsDeleted,
		&o.DeletedAt,
		&itemsJSON,
		&taxesJSON,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("order", id)
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}

	if len(shippingJSON) > 0 && string(shippingJSON) != "null" {
		var addr domain.Address
		if err := json.Unmarshal(shippingJSON, &addr); err != nil {
			return nil, fmt.Errorf("unmarshal shipping address: %w", err)
		}
		o.ShippingAddress = &addr
	}

	if err := unmarshalAgg(itemsJSON, &o.Items); err != nil {
		return nil, fmt.Errorf("unmarshal order items: %w", err)
	}
	if err := unmarshalAgg(taxesJSON, &o.Taxes); err != nil {
		return nil, fmt.Errorf("unmarshal order taxes: %w", err)
	}

	return &o, nil
}

// unmarshalAgg decodes a JSONB_AGG column, leaving target empty for null/[]
// payloads.
func unmarshalAgg[T any](raw []byte, target *[]T) error {
	if len(raw) == 0 || string(raw) == "null" || string(raw) == "[]" {
		*target = []T{}
		return nil
	}
	return json.Unmarshal(raw, target)
}

// List returns non-deleted orders matching the filter with the total count.
func (r *OrderRepository) List(ctx context.Context, filter repository.OrderFilter) ([]domain.Order, int, error) {
	conditions := []string{"is_deleted = FALSE"}
	args := []any{}
	argIndex := 1

	if filter.UserID != nil {
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", argIndex))
		args = append(args, *filter.UserID)
		argIndex++
	}

	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIndex))
		args = append(args, *filter.Status)
		argIndex++
	}

	query := fmt.Sprintf(`
		SELECT id, order_number, user_id, status, coupon_code, discount_amount, shipping_cost, total_amount, currency, notes, cancel_reason, created_at, updated_at,
			   count(*) OVER() AS total_count
		FROM orders
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`,
		strings.Join(conditions, " AND "), argIndex, argIndex+1,
	)

	limit := filter.PerPage
	if limit <= 0 {
		limit = 20
	}
	offset := 0
	if filter.Page > 1 {
		offset = (filter.Page - 1) * limit
	}
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var totalCount int
	orders := make([]domain.Order, 0)

	for rows.Next() {
		var o domain.Order
		if err := rows.Scan(
			&o.ID,
			&o.OrderNumber,
			&o.UserID,
			&o.Status,
			&o.CouponCode,
			&o.DiscountAmount,
			&o.ShippingCost,
			&o.TotalAmount,
			&o.Currency,
			&o.Notes,
			&o.CancelReason,
			&o.CreatedAt,
			&o.UpdatedAt,
			&totalCount,
		); err != nil {
			return nil, 0, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, o)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate order rows: %w", err)
	}

	return orders, totalCount, nil
}

// UpdateStatus changes the order status and appends the status-history record
// in the same transaction, so a changed status without its history row can
// never be observed.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id, status, note, actor string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()

	var ct pgconn.CommandTag
	if status == domain.OrderStatusCancelled {
		ct, err = tx.Exec(ctx, `
			UPDATE orders SET status = $1, cancel_reason = $2, updated_at = $3
			WHERE id = $4 AND is_deleted = FALSE`,
			status, note, now, id)
	} else {
		ct, err = tx.Exec(ctx, `
			UPDATE orders SET status = $1, updated_at = $2
			WHERE id = $3 AND is_deleted = FALSE`,
			status, now, id)
	}
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("order", id)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO order_status_history (id, order_id, status, note, actor, created_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5)`,
		id, status, note, actor, now)
	if err != nil {
		return fmt.Errorf("insert status history: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// ListStatusHistory returns the status-history records for an order, most
// recent first.
func (r *OrderRepository) ListStatusHistory(ctx context.Context, orderID string) ([]domain.OrderStatusHistory, error) {
	query := `
		SELECT id, order_id, status, note, actor, created_at
		FROM order_status_history
		WHERE order_id = $1
		ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("list status history: %w", err)
	}
	defer rows.Close()

	history := make([]domain.OrderStatusHistory, 0)
	for rows.Next() {
		var h domain.OrderStatusHistory
		if err := rows.Scan(&h.ID, &h.OrderID, &h.Status, &h.Note, &h.Actor, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan status history row: %w", err)
		}
		history = append(history, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status history rows: %w", err)
	}

	return history, nil
}

// SaveTax inserts or updates a tax line with its derived fields in one
// statement, so tax_value and amount_with_taxes always match amount and rate.
func (r *OrderRepository) SaveTax(ctx context.Context, tax *domain.OrderTax) error {
	query := `
		INSERT INTO order_taxes (id, order_id, name, rate, amount, tax_value, amount_with_taxes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			rate = EXCLUDED.rate,
			amount = EXCLUDED.amount,
			tax_value = EXCLUDED.tax_value,
			amount_with_taxes = EXCLUDED.amount_with_taxes,
			updated_at = EXCLUDED.updated_at`

	now := time.Now().UTC()
	_, err := r.pool.Exec(ctx, query,
		tax.ID,
		tax.OrderID,
		tax.Name,
		tax.Rate,
		tax.Amount,
		tax.TaxValue,
		tax.AmountWithTaxes,
		now,
	)
	if err != nil {
		return fmt.Errorf("save order tax: %w", err)
	}
	return nil
}

// UpdateTotals persists recomputed discount, shipping, and total amounts.
func (r *OrderRepository) UpdateTotals(ctx context.Context, id string, discount, shipping, total decimal.Decimal) error {
	ct, err := r.pool.Exec(ctx, `
		UPDATE orders SET discount_amount = $1, shipping_cost = $2, total_amount = $3, updated_at = $4
		WHERE id = $5 AND is_deleted = FALSE`,
		discount, shipping, total, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update order totals: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("order", id)
	}
	return nil
}

// SoftDelete marks the order as deleted.
func (r *OrderRepository) SoftDelete(ctx context.Context, id string) error {
	now := time.Now().UTC()
	ct, err := r.pool.Exec(ctx, `
		UPDATE orders SET is_deleted = TRUE, deleted_at = $1, updated_at = $1
		WHERE id = $2 AND is_deleted = FALSE`,
		now, id)
	if err != nil {
		return fmt.Errorf("soft delete order: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("order", id)
	}
	return nil
}

// SoftDeleteItem marks one order item as deleted.
func (r *OrderRepository) SoftDeleteItem(ctx context.Context, orderID, itemID string) error {
	now := time.Now().UTC()
	ct, err := r.pool.Exec(ctx, `
		UPDATE order_items SET is_deleted = TRUE, deleted_at = $1, updated_at = $1
		WHERE id = $2 AND order_id = $3 AND is_deleted = FALSE`,
		now, itemID, orderID)
	if err != nil {
		return fmt.Errorf("soft delete order item: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("order item", itemID)
	}
	return nil
}

// HasShipments reports whether the order carries a shipment reference.
func (r *OrderRepository) HasShipments(ctx context.Context, orderID string) (bool, error) {
	var has bool
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(shipment_reference, '') <> ''
		FROM orders WHERE id = $1`,
		orderID).Scan(&has)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, apperrors.NotFound("order", orderID)
		}
		return false, fmt.Errorf("check shipments: %w", err)
	}
	return has, nil
}
