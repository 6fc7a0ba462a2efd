package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/aurelia-commerce/fulfillment/internal/domain"
	"github.com/aurelia-commerce/fulfillment/internal/repository"
	"github.com/aurelia-commerce/fulfillment/pkg/database"
	apperrors "github.com/aurelia-commerce/fulfillment/pkg/errors"
)

// RefundRepository implements repository.RefundRepository using PostgreSQL.
type RefundRepository struct {
	pool database.DBTX
}

// NewRefundRepository creates a new PostgreSQL-backed refund repository.
func NewRefundRepository(pool database.DBTX) *RefundRepository {
	return &RefundRepository{pool: pool}
}

// WithTx returns a repository bound to the given transaction.
func (r *RefundRepository) WithTx(tx database.DBTX) repository.RefundRepository {
	return &RefundRepository{pool: tx}
}

// siblingClaimQuery sums quantities claimed for one order item across all
// refunds that still count (pending, processing, approved, completed),
// excluding the refund being written.
const siblingClaimQuery = `
	SELECT COALESCE(SUM(ri.quantity), 0)
	FROM refund_items ri
	JOIN refunds r ON r.id = ri.refund_id
	WHERE ri.order_item_id = $1
	  AND ri.is_deleted = FALSE
	  AND r.is_deleted = FALSE
	  AND r.status NOT IN ('rejected', 'cancelled')
	  AND r.id <> $2`

// checkItemClaims locks the order item row and verifies the reconciliation
// invariant for one refund item within the given transaction.
func checkItemClaims(ctx context.Context, tx database.DBTX, refundID string, item *domain.RefundItem) error {
	var orderItemQuantity int
	err := tx.QueryRow(ctx,
		`SELECT quantity FROM order_items WHERE id = $1 AND is_deleted = FALSE FOR UPDATE`,
		item.OrderItemID).Scan(&orderItemQuantity)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NotFound("order item", item.OrderItemID)
	}
	if err != nil {
		return fmt.Errorf("lock order item: %w", err)
	}

	var siblingClaimed int
	if err := tx.QueryRow(ctx, siblingClaimQuery, item.OrderItemID, refundID).Scan(&siblingClaimed); err != nil {
		return fmt.Errorf("sum sibling refund claims: %w", err)
	}

	if err := domain.CheckReconciliation(orderItemQuantity, siblingClaimed, item.Quantity); err != nil {
		return apperrors.InvalidInput(err.Error())
	}
	return nil
}

// Create inserts a refund with its items. Order item rows are locked and the
// per-item claim sums re-checked inside the transaction, so two refunds racing
// for the same units cannot both commit.
func (r *RefundRepository) Create(ctx context.Context, refund *domain.Refund) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for i := range refund.Items {
		if err := checkItemClaims(ctx, tx, refund.ID, &refund.Items[i]); err != nil {
			return err
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO refunds (id, refund_number, order_id, payment_id, requested_by, status, reason, reason_detail, method, amount_requested, amount_approved, amount_refunded, requested_at, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		refund.ID,
		refund.RefundNumber,
		refund.OrderID,
		refund.PaymentID,
		refund.RequestedBy,
		refund.Status,
		refund.Reason,
		refund.ReasonDetail,
		refund.Method,
		refund.AmountRequested,
		refund.AmountApproved,
		refund.AmountRefunded,
		refund.RequestedAt,
		refund.CreatedAt,
		refund.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "refunds_refund_number_key") {
			return apperrors.AlreadyExists("refund", "refund_number", refund.RefundNumber)
		}
		return fmt.Errorf("insert refund: %w", err)
	}

	for i := range refund.Items {
		item := &refund.Items[i]
		_, err := tx.Exec(ctx, `
			INSERT INTO refund_items (id, refund_id, order_item_id, quantity, unit_price, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			item.ID, refund.ID, item.OrderItemID, item.Quantity, item.UnitPrice,
			refund.CreatedAt, refund.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert refund item: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

const refundSelectColumns = `
	r.id, r.refund_number, r.order_id, COALESCE(r.payment_id::text, ''), r.requested_by,
	r.status, r.reason, COALESCE(r.reason_detail, ''), r.method,
	r.amount_requested, r.amount_approved, r.amount_refunded,
	r.requested_at, r.processed_at, COALESCE(r.processed_by, ''),
	r.created_at, r.updated_at, r.is_deleted, r.deleted_at`

func scanRefund(row pgx.Row, itemsRaw *[]byte) (*domain.Refund, error) {
	var ref domain.Refund
	dest := []any{
		&ref.ID, &ref.RefundNumber, &ref.OrderID, &ref.PaymentID, &ref.RequestedBy,
		&ref.Status, &ref.Reason, &ref.ReasonDetail, &ref.Method,
		&ref.AmountRequested, &ref.AmountApproved, &ref.AmountRefunded,
		&ref.RequestedAt, &ref.ProcessedAt, &ref.ProcessedBy,
		&ref.CreatedAt, &ref.UpdatedAt, &ref.IsDeleted, &ref.DeletedAt,
	}
	if itemsRaw != nil {
		dest = append(dest, itemsRaw)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &ref, nil
}

// GetByID retrieves a non-deleted refund by ID with its items.
func (r *RefundRepository) GetByID(ctx context.Context, id string) (*domain.Refund, error) {
	query := fmt.Sprintf(`
		SELECT %s,
			COALESCE((
				SELECT JSONB_AGG(JSONB_BUILD_OBJECT(
					'id', ri.id,
					'refund_id', ri.refund_id,
					'order_item_id', ri.order_item_id,
					'quantity', ri.quantity,
					'unit_price', ri.unit_price
				) ORDER BY ri.created_at)
				FROM refund_items ri
				WHERE ri.refund_id = r.id AND ri.is_deleted = FALSE
			), '[]') AS items
		FROM refunds r
		WHERE r.id = $1 AND r.is_deleted = FALSE`, refundSelectColumns)

	var itemsRaw []byte
	ref, err := scanRefund(r.pool.QueryRow(ctx, query, id), &itemsRaw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("refund", id)
		}
		return nil, fmt.Errorf("scan refund: %w", err)
	}

	if err := unmarshalAgg(itemsRaw, &ref.Items); err != nil {
		return nil, fmt.Errorf("decode refund items: %w", err)
	}

	return ref, nil
}

// List returns non-deleted refunds matching the filter, most recent first,
// with the total count. Items are not loaded for list views.
func (r *RefundRepository) List(ctx context.Context, filter repository.RefundFilter) ([]domain.Refund, int, error) {
	conditions := []string{"r.is_deleted = FALSE"}
	args := []any{}
	argIndex := 1

	if filter.OrderID != nil {
		conditions = append(conditions, fmt.Sprintf("r.order_id = $%d", argIndex))
		args = append(args, *filter.OrderID)
		argIndex++
	}

	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("r.status = $%d", argIndex))
		args = append(args, *filter.Status)
		argIndex++
	}

	query := fmt.Sprintf(`
		SELECT %s, count(*) OVER() AS total_count
		FROM refunds r
		WHERE %s
		ORDER BY r.requested_at DESC
		LIMIT $%d OFFSET $%d`,
		refundSelectColumns, strings.Join(conditions, " AND "), argIndex, argIndex+1,
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
		return nil, 0, fmt.Errorf("list refunds: %w", err)
	}
	defer rows.Close()

	var totalCount int
	refunds := make([]domain.Refund, 0)

	for rows.Next() {
		var ref domain.Refund
		if err := rows.Scan(
			&ref.ID, &ref.RefundNumber, &ref.OrderID, &ref.PaymentID, &ref.RequestedBy,
			&ref.Status, &ref.Reason, &ref.ReasonDetail, &ref.Method,
			&ref.AmountRequested, &ref.AmountApproved, &ref.AmountRefunded,
			&ref.RequestedAt, &ref.ProcessedAt, &ref.ProcessedBy,
			&ref.CreatedAt, &ref.UpdatedAt, &ref.IsDeleted, &ref.DeletedAt,
			&totalCount,
		); err != nil {
			return nil, 0, fmt.Errorf("scan refund row: %w", err)
		}
		refunds = append(refunds, ref)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate refund rows: %w", err)
	}

	return refunds, totalCount, nil
}

// Save persists the refund's status, amounts, and processing metadata.
func (r *RefundRepository) Save(ctx context.Context, refund *domain.Refund) error {
	ct, err := r.pool.Exec(ctx, `
		UPDATE refunds
		SET status = $1, reason_detail = $2,
			amount_requested = $3, amount_approved = $4, amount_refunded = $5,
			processed_at = $6, processed_by = NULLIF($7, ''),
			updated_at = $8, is_deleted = $9, deleted_at = $10
		WHERE id = $11`,
		refund.Status,
		refund.ReasonDetail,
		refund.AmountRequested,
		refund.AmountApproved,
		refund.AmountRefunded,
		refund.ProcessedAt,
		refund.ProcessedBy,
		refund.UpdatedAt,
		refund.IsDeleted,
		refund.DeletedAt,
		refund.ID,
	)
	if err != nil {
		return fmt.Errorf("update refund: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("refund", refund.ID)
	}
	return nil
}

// SoftDeleteItem marks one refund item as deleted.
func (r *RefundRepository) SoftDeleteItem(ctx context.Context, refundID, itemID string) error {
	now := time.Now().UTC()
	ct, err := r.pool.Exec(ctx, `
		UPDATE refund_items SET is_deleted = TRUE, deleted_at = $1, updated_at = $1
		WHERE id = $2 AND refund_id = $3 AND is_deleted = FALSE`,
		now, itemID, refundID)
	if err != nil {
		return fmt.Errorf("soft delete refund item: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("refund item", itemID)
	}
	return nil
}

// Reconcile re-verifies the per-item claim sums for the refund's non-deleted
// items, locking the order item rows. Useful before approving a refund whose
// siblings may have changed since it was created.
func (r *RefundRepository) Reconcile(ctx context.Context, refund *domain.Refund) error {
	for i := range refund.Items {
		if refund.Items[i].IsDeleted {
			continue
		}
		if err := checkItemClaims(ctx, r.pool, refund.ID, &refund.Items[i]); err != nil {
			return err
		}
	}
	return nil
}

// HasOpenRefund reports whether the order has a pending or processing refund
// other than excludeID.
func (r *RefundRepository) HasOpenRefund(ctx context.Context, orderID, excludeID string) (bool, error) {
	var exists bool
	var err error
	if excludeID == "" {
		err = r.pool.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM refunds
				WHERE order_id = $1
				  AND status IN ('pending', 'processing')
				  AND is_deleted = FALSE
			)`, orderID).Scan(&exists)
	} else {
		err = r.pool.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM refunds
				WHERE order_id = $1 AND id <> $2
				  AND status IN ('pending', 'processing')
				  AND is_deleted = FALSE
			)`, orderID, excludeID).Scan(&exists)
	}
	if err != nil {
		return false, fmt.Errorf("check open refunds: %w", err)
	}
	return exists, nil
}

// ExistsForOrder reports whether any non-deleted refund exists for the order.
func (r *RefundRepository) ExistsForOrder(ctx context.Context, orderID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM refunds WHERE order_id = $1 AND is_deleted = FALSE)`,
		orderID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check refunds for order: %w", err)
	}
	return exists, nil
}
