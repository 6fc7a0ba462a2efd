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

// InventoryRepository implements repository.InventoryRepository using PostgreSQL.
type InventoryRepository struct {
	pool database.DBTX
}

// NewInventoryRepository creates a new PostgreSQL-backed inventory repository.
func NewInventoryRepository(pool database.DBTX) *InventoryRepository {
	return &InventoryRepository{pool: pool}
}

const inventoryColumns = `id, product_id, variant_id, warehouse_id, sku, quantity_available, quantity_reserved, reorder_level, unit_cost, batch_number, expiry_date, created_at, updated_at, is_deleted, deleted_at`

func scanInventory(row pgx.Row) (*domain.Inventory, error) {
	var inv domain.Inventory
	err := row.Scan(
		&inv.ID,
		&inv.ProductID,
		&inv.VariantID,
		&inv.WarehouseID,
		&inv.SKU,
		&inv.QuantityAvailable,
		&inv.QuantityReserved,
		&inv.ReorderLevel,
		&inv.UnitCost,
		&inv.BatchNumber,
		&inv.ExpiryDate,
		&inv.CreatedAt,
		&inv.UpdatedAt,
		&inv.IsDeleted,
		&inv.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// CreateInventory inserts a new inventory row.
func (r *InventoryRepository) CreateInventory(ctx context.Context, inv *domain.Inventory) error {
	query := `
		INSERT INTO inventory (id, product_id, variant_id, warehouse_id, sku, quantity_available, quantity_reserved, reorder_level, unit_cost, batch_number, expiry_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.pool.Exec(ctx, query,
		inv.ID,
		inv.ProductID,
		inv.VariantID,
		inv.WarehouseID,
		inv.SKU,
		inv.QuantityAvailable,
		inv.QuantityReserved,
		inv.ReorderLevel,
		inv.UnitCost,
		inv.BatchNumber,
		inv.ExpiryDate,
		inv.CreatedAt,
		inv.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "inventory_variant_warehouse_key") {
			return apperrors.AlreadyExists("inventory", "variant/warehouse", inv.VariantID+"/"+inv.WarehouseID)
		}
		return fmt.Errorf("insert inventory: %w", err)
	}
	return nil
}

// GetInventory retrieves a non-deleted inventory row by ID.
func (r *InventoryRepository) GetInventory(ctx context.Context, id string) (*domain.Inventory, error) {
	query := fmt.Sprintf(`SELECT %s FROM inventory WHERE id = $1 AND is_deleted = FALSE`, inventoryColumns)
	inv, err := scanInventory(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("inventory", id)
		}
		return nil, fmt.Errorf("scan inventory: %w", err)
	}
	return inv, nil
}

// GetBalance retrieves the inventory row for a variant in a warehouse.
func (r *InventoryRepository) GetBalance(ctx context.Context, variantID, warehouseID string) (*domain.Inventory, error) {
	query := fmt.Sprintf(`SELECT %s FROM inventory WHERE variant_id = $1 AND warehouse_id = $2 AND is_deleted = FALSE`, inventoryColumns)
	inv, err := scanInventory(r.pool.QueryRow(ctx, query, variantID, warehouseID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("inventory", variantID+"/"+warehouseID)
		}
		return nil, fmt.Errorf("scan inventory balance: %w", err)
	}
	return inv, nil
}

// RecordMovement appends a movement and applies its quantity to the balance
// in one transaction. The balance change is a single conditional UPDATE so
// two concurrent sales can never jointly drive the row negative.
func (r *InventoryRepository) RecordMovement(ctx context.Context, m *domain.StockMovement) (*domain.Inventory, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()

	ct, err := tx.Exec(ctx, `
		UPDATE inventory
		SET quantity_available = quantity_available + $1, updated_at = $2
		WHERE id = $3 AND is_deleted = FALSE AND quantity_available + $1 >= 0`,
		m.Quantity, now, m.InventoryID)
	if err != nil {
		return nil, fmt.Errorf("apply movement to balance: %w", err)
	}
	if ct.RowsAffected() == 0 {
		var available int
		err := tx.QueryRow(ctx,
			`SELECT quantity_available FROM inventory WHERE id = $1 AND is_deleted = FALSE`,
			m.InventoryID).Scan(&available)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("inventory", m.InventoryID)
		}
		if err != nil {
			return nil, fmt.Errorf("check inventory balance: %w", err)
		}
		return nil, apperrors.InsufficientStock(fmt.Sprintf(
			"inventory %s has %d available, movement of %d rejected",
			m.InventoryID, available, m.Quantity,
		))
	}

	m.CreatedAt = now
	_, err = tx.Exec(ctx, `
		INSERT INTO stock_movements (id, inventory_id, movement_type, quantity, unit_cost, total_value, source_warehouse_id, destination_warehouse_id, reference, notes, actor, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9, $10, $11, $12)`,
		m.ID,
		m.InventoryID,
		m.MovementType,
		m.Quantity,
		m.UnitCost,
		m.TotalValue,
		m.SourceID,
		m.DestinationID,
		m.Reference,
		m.Notes,
		m.Actor,
		m.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert stock movement: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM inventory WHERE id = $1`, inventoryColumns)
	inv, err := scanInventory(tx.QueryRow(ctx, query, m.InventoryID))
	if err != nil {
		return nil, fmt.Errorf("reload inventory: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return inv, nil
}

// DeleteMovement soft-deletes a movement and reverses its balance effect. The
// reversal uses the same conditional UPDATE as recording, so a deletion that
// would drive the balance negative is refused.
func (r *InventoryRepository) DeleteMovement(ctx context.Context, movementID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		inventoryID  string
		movementType string
		quantity     int
		reference    string
	)
	err = tx.QueryRow(ctx, `
		SELECT inventory_id, movement_type, quantity, COALESCE(reference, '')
		FROM stock_movements
		WHERE id = $1 AND is_deleted = FALSE
		FOR UPDATE`,
		movementID).Scan(&inventoryID, &movementType, &quantity, &reference)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NotFound("stock movement", movementID)
		}
		return fmt.Errorf("load stock movement: %w", err)
	}

	isTransfer := movementType == domain.MovementTypeTransferIn || movementType == domain.MovementTypeTransferOut
	if isTransfer && reference != "" {
		return apperrors.InvalidInput("movement is tied to an active transfer reference and cannot be deleted")
	}

	now := time.Now().UTC()
	ct, err := tx.Exec(ctx, `
		UPDATE inventory
		SET quantity_available = quantity_available - $1, updated_at = $2
		WHERE id = $3 AND is_deleted = FALSE AND quantity_available - $1 >= 0`,
		quantity, now, inventoryID)
	if err != nil {
		return fmt.Errorf("reverse movement balance: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.InvalidInput("deleting this movement would drive the inventory balance negative")
	}

	if _, err := tx.Exec(ctx, `
		UPDATE stock_movements SET is_deleted = TRUE, deleted_at = $1 WHERE id = $2`,
		now, movementID); err != nil {
		return fmt.Errorf("soft delete movement: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// ListMovements returns non-deleted movements matching the filter, most
// recent first, with the total count.
func (r *InventoryRepository) ListMovements(ctx context.Context, filter repository.MovementFilter) ([]domain.StockMovement, int, error) {
	conditions := []string{"is_deleted = FALSE"}
	args := []any{}
	argIndex := 1

	if filter.InventoryID != nil {
		conditions = append(conditions, fmt.Sprintf("inventory_id = $%d", argIndex))
		args = append(args, *filter.InventoryID)
		argIndex++
	}

	if filter.MovementType != nil {
		conditions = append(conditions, fmt.Sprintf("movement_type = $%d", argIndex))
		args = append(args, *filter.MovementType)
		argIndex++
	}

	query := fmt.Sprintf(`
		SELECT id, inventory_id, movement_type, quantity, unit_cost, total_value,
			   COALESCE(source_warehouse_id::text, ''), COALESCE(destination_warehouse_id::text, ''),
			   COALESCE(reference, ''), COALESCE(notes, ''), actor, created_at,
			   count(*) OVER() AS total_count
		FROM stock_movements
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
		return nil, 0, fmt.Errorf("list stock movements: %w", err)
	}
	defer rows.Close()

	var totalCount int
	movements := make([]domain.StockMovement, 0)

	for rows.Next() {
		var m domain.StockMovement
		if err := rows.Scan(
			&m.ID,
			&m.InventoryID,
			&m.MovementType,
			&m.Quantity,
			&m.UnitCost,
			&m.TotalValue,
			&m.SourceID,
			&m.DestinationID,
			&m.Reference,
			&m.Notes,
			&m.Actor,
			&m.CreatedAt,
			&totalCount,
		); err != nil {
			return nil, 0, fmt.Errorf("scan movement row: %w", err)
		}
		movements = append(movements, m)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate movement rows: %w", err)
	}

	return movements, totalCount, nil
}

// CreateWarehouse inserts a new warehouse.
func (r *InventoryRepository) CreateWarehouse(ctx context.Context, wh *domain.Warehouse) error {
	query := `
		INSERT INTO warehouses (id, name, code, address, is_active, is_default, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.pool.Exec(ctx, query,
		wh.ID, wh.Name, wh.Code, wh.Address, wh.IsActive, wh.IsDefault, wh.CreatedAt, wh.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "warehouses_code_key") {
			return apperrors.AlreadyExists("warehouse", "code", wh.Code)
		}
		return fmt.Errorf("insert warehouse: %w", err)
	}
	return nil
}

// GetWarehouse retrieves a non-deleted warehouse by ID.
func (r *InventoryRepository) GetWarehouse(ctx context.Context, id string) (*domain.Warehouse, error) {
	var wh domain.Warehouse
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, code, COALESCE(address, ''), is_active, is_default, created_at, updated_at, is_deleted, deleted_at
		FROM warehouses WHERE id = $1 AND is_deleted = FALSE`,
		id).Scan(
		&wh.ID, &wh.Name, &wh.Code, &wh.Address, &wh.IsActive, &wh.IsDefault,
		&wh.CreatedAt, &wh.UpdatedAt, &wh.IsDeleted, &wh.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("warehouse", id)
		}
		return nil, fmt.Errorf("scan warehouse: %w", err)
	}
	return &wh, nil
}

// ListWarehouses returns all non-deleted warehouses.
func (r *InventoryRepository) ListWarehouses(ctx context.Context) ([]domain.Warehouse, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, code, COALESCE(address, ''), is_active, is_default, created_at, updated_at, is_deleted, deleted_at
		FROM warehouses WHERE is_deleted = FALSE
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list warehouses: %w", err)
	}
	defer rows.Close()

	warehouses := make([]domain.Warehouse, 0)
	for rows.Next() {
		var wh domain.Warehouse
		if err := rows.Scan(
			&wh.ID, &wh.Name, &wh.Code, &wh.Address, &wh.IsActive, &wh.IsDefault,
			&wh.CreatedAt, &wh.UpdatedAt, &wh.IsDeleted, &wh.DeletedAt,
		); err != nil {
			return nil, fmt.Errorf("scan warehouse row: %w", err)
		}
		warehouses = append(warehouses, wh)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate warehouse rows: %w", err)
	}

	return warehouses, nil
}
