package repository

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/aurelia-commerce/fulfillment/internal/domain"
	"github.com/aurelia-commerce/fulfillment/pkg/database"
)

// OrderFilter defines filter criteria for listing orders.
type OrderFilter struct {
	UserID  *string
	Status  *string
	Page    int
	PerPage int
}

// MovementFilter defines filter criteria for listing stock movements.
type MovementFilter struct {
	InventoryID  *string
	MovementType *string
	Page         int
	PerPage      int
}

// RefundFilter defines filter criteria for listing refunds.
type RefundFilter struct {
	OrderID *string
	Status  *string
	Page    int
	PerPage int
}

// OrderRepository defines the interface for order persistence operations.
type OrderRepository interface {
	// Create inserts a new order with its items, taxes, and the initial
	// status-history record atomically. The order number is drawn from the
	// order number sequence; a collision regenerates until unique.
	Create(ctx context.Context, order *domain.Order) error

	// GetByID retrieves a non-deleted order by ID, including items and taxes.
	GetByID(ctx context.Context, id string) (*domain.Order, error)

	// List returns non-deleted orders matching the filter with the total count.
	List(ctx context.Context, filter OrderFilter) ([]domain.Order, int, error)

	// UpdateStatus changes the order status and appends the status-history
	// record in the same transaction.
	UpdateStatus(ctx context.Context, id, status, note, actor string) error

	// ListStatusHistory returns the status-history records for an order,
	// most recent first.
	ListStatusHistory(ctx context.Context, orderID string) ([]domain.OrderStatusHistory, error)

	// SaveTax inserts or updates a tax line with its recomputed derived
	// fields in one statement.
	SaveTax(ctx context.Context, tax *domain.OrderTax) error

	// UpdateTotals persists recomputed discount, shipping, and total amounts.
	UpdateTotals(ctx context.Context, id string, discount, shipping, total decimal.Decimal) error

	// SoftDelete marks the order as deleted. The caller is responsible for
	// the guard checks.
	SoftDelete(ctx context.Context, id string) error

	// SoftDeleteItem marks one order item as deleted. The caller is
	// responsible for the guard checks and the totals recompute.
	SoftDeleteItem(ctx context.Context, orderID, itemID string) error

	// HasShipments reports whether the order carries a shipment reference.
	HasShipments(ctx context.Context, orderID string) (bool, error)
}

// InventoryRepository defines the interface for inventory and stock movement
// persistence operations.
type InventoryRepository interface {
	// CreateInventory inserts a new inventory row.
	CreateInventory(ctx context.Context, inv *domain.Inventory) error

	// GetInventory retrieves an inventory row by ID.
	GetInventory(ctx context.Context, id string) (*domain.Inventory, error)

	// GetBalance retrieves the inventory row for a variant in a warehouse.
	GetBalance(ctx context.Context, variantID, warehouseID string) (*domain.Inventory, error)

	// RecordMovement appends a movement and applies its quantity to the
	// inventory balance in one transaction. The balance update is a
	// conditional atomic UPDATE; zero rows affected on an existing row means
	// the balance would go negative. Returns the updated inventory row.
	RecordMovement(ctx context.Context, movement *domain.StockMovement) (*domain.Inventory, error)

	// DeleteMovement soft-deletes a movement and reverses its balance
	// effect, refusing when the reversal would drive the balance negative or
	// the movement belongs to an active transfer reference.
	DeleteMovement(ctx context.Context, movementID string) error

	// ListMovements returns movements matching the filter with the total count.
	ListMovements(ctx context.Context, filter MovementFilter) ([]domain.StockMovement, int, error)

	// CreateWarehouse inserts a new warehouse.
	CreateWarehouse(ctx context.Context, wh *domain.Warehouse) error

	// GetWarehouse retrieves a warehouse by ID.
	GetWarehouse(ctx context.Context, id string) (*domain.Warehouse, error)

	// ListWarehouses returns all non-deleted warehouses.
	ListWarehouses(ctx context.Context) ([]domain.Warehouse, error)
}

// RefundRepository defines the interface for refund persistence operations.
type RefundRepository interface {
	// Create inserts a refund with its items, verifying the per-item
	// reconciliation invariant against sibling refunds inside the same
	// transaction with the order item rows locked.
	Create(ctx context.Context, refund *domain.Refund) error

	// GetByID retrieves a non-deleted refund by ID, including items.
	GetByID(ctx context.Context, id string) (*domain.Refund, error)

	// List returns refunds matching the filter with the total count.
	List(ctx context.Context, filter RefundFilter) ([]domain.Refund, int, error)

	// Save persists the refund's status, amounts, and processing metadata.
	Save(ctx context.Context, refund *domain.Refund) error

	// SoftDeleteItem marks one refund item as deleted. The caller recomputes
	// amount_requested afterwards.
	SoftDeleteItem(ctx context.Context, refundID, itemID string) error

	// Reconcile re-verifies the per-item reconciliation invariant for the
	// refund's items, locking the order item rows for the duration of the
	// surrounding transaction.
	Reconcile(ctx context.Context, refund *domain.Refund) error

	// HasOpenRefund reports whether the order already has a pending or
	// processing refund other than excludeID.
	HasOpenRefund(ctx context.Context, orderID, excludeID string) (bool, error)

	// ExistsForOrder reports whether any refund exists for the order.
	ExistsForOrder(ctx context.Context, orderID string) (bool, error)

	// WithTx returns a repository bound to the given transaction or
	// connection, so a service can span repository calls and an external
	// collaborator call with one commit/rollback decision.
	WithTx(tx database.DBTX) RefundRepository
}

// CouponRepository defines the interface for coupon persistence operations.
type CouponRepository interface {
	// Create inserts a new coupon.
	Create(ctx context.Context, coupon *domain.Coupon) error

	// GetByCode retrieves a non-deleted coupon by its code.
	GetByCode(ctx context.Context, code string) (*domain.Coupon, error)

	// IncrementUsage atomically increments used_count, refusing when the
	// usage limit is already reached.
	IncrementUsage(ctx context.Context, id string) error
}
