package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Stock movement types. Direction is fixed per type: inbound types require a
// positive quantity, outbound types a negative one, and adjustment/count may
// carry either sign. Zero quantity is always rejected.
const (
	MovementTypePurchase    = "purchase"
	MovementTypeSale        = "sale"
	MovementTypeReturn      = "return"
	MovementTypeAdjustment  = "adjustment"
	MovementTypeTransferIn  = "transfer_in"
	MovementTypeTransferOut = "transfer_out"
	MovementTypeLoss        = "loss"
	MovementTypeDamaged     = "damaged"
	MovementTypeExpire      = "expire"
	MovementTypeCount       = "count"
)

// movementDirection maps each movement type to its required quantity sign:
// +1 inbound, -1 outbound, 0 either sign.
var movementDirection = map[string]int{
	MovementTypePurchase:    +1,
	MovementTypeReturn:      +1,
	MovementTypeTransferIn:  +1,
	MovementTypeSale:        -1,
	MovementTypeLoss:        -1,
	MovementTypeDamaged:     -1,
	MovementTypeExpire:      -1,
	MovementTypeTransferOut: -1,
	MovementTypeAdjustment:  0,
	MovementTypeCount:       0,
}

// ValidMovementTypes returns all valid stock movement types.
func ValidMovementTypes() []string {
	return []string{
		MovementTypePurchase,
		MovementTypeSale,
		MovementTypeReturn,
		MovementTypeAdjustment,
		MovementTypeTransferIn,
		MovementTypeTransferOut,
		MovementTypeLoss,
		MovementTypeDamaged,
		MovementTypeExpire,
		MovementTypeCount,
	}
}

// IsValidMovementType checks whether the given type is a valid movement type.
func IsValidMovementType(movementType string) bool {
	_, ok := movementDirection[movementType]
	return ok
}

// SignedQuantity applies the movement type's direction to an unsigned
// quantity. Adjustment and count keep the caller-supplied sign.
func SignedQuantity(movementType string, quantity int) int {
	abs := quantity
	if abs < 0 {
		abs = -abs
	}
	switch movementDirection[movementType] {
	case +1:
		return abs
	case -1:
		return -abs
	default:
		return quantity
	}
}

// Warehouse is a physical stock location.
type Warehouse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Code      string `json:"code"`
	Address   string `json:"address,omitempty"`
	IsActive  bool   `json:"is_active"`
	IsDefault bool   `json:"is_default"`
	AuditRecord
}

// Inventory is the stock balance for a product variant in a warehouse.
// QuantityAvailable always equals the initial balance plus the signed sum of
// all recorded movements for the row, and never goes negative.
type Inventory struct {
	ID                string          `json:"id"`
	ProductID         string          `json:"product_id"`
	VariantID         string          `json:"variant_id"`
	WarehouseID       string          `json:"warehouse_id"`
	SKU               string          `json:"sku"`
	QuantityAvailable int             `json:"quantity_available"`
	QuantityReserved  int             `json:"quantity_reserved"`
	ReorderLevel      int             `json:"reorder_level"`
	UnitCost          decimal.Decimal `json:"unit_cost"`
	BatchNumber       string          `json:"batch_number,omitempty"`
	ExpiryDate        *time.Time      `json:"expiry_date,omitempty"`
	AuditRecord
}

// Sellable returns the quantity available for new orders.
func (i *Inventory) Sellable() int {
	return i.QuantityAvailable - i.QuantityReserved
}

// BelowReorderLevel reports whether available stock has reached the reorder
// threshold.
func (i *Inventory) BelowReorderLevel() bool {
	return i.ReorderLevel > 0 && i.QuantityAvailable <= i.ReorderLevel
}

// Expired reports whether the batch is past its expiry date at the given time.
func (i *Inventory) Expired(now time.Time) bool {
	return i.ExpiryDate != nil && i.ExpiryDate.Before(now)
}

// Validate checks inventory invariants.
func (i *Inventory) Validate() error {
	if i.ProductID == "" {
		return fmt.Errorf("inventory product_id is required")
	}
	if i.WarehouseID == "" {
		return fmt.Errorf("inventory warehouse_id is required")
	}
	if i.QuantityAvailable < 0 {
		return fmt.Errorf("quantity_available cannot be negative")
	}
	if i.QuantityReserved < 0 {
		return fmt.Errorf("quantity_reserved cannot be negative")
	}
	if i.QuantityReserved > i.QuantityAvailable {
		return fmt.Errorf("quantity_reserved cannot exceed quantity_available")
	}
	if i.Expired(time.Now().UTC()) && i.QuantityAvailable > 0 {
		return fmt.Errorf("expired batch cannot hold positive quantity")
	}
	return nil
}

// StockMovement is one append-only ledger entry. Movements are never mutated;
// corrections are expressed as new movements.
type StockMovement struct {
	ID            string           `json:"id"`
	InventoryID   string           `json:"inventory_id"`
	MovementType  string           `json:"movement_type"`
	Quantity      int              `json:"quantity"`
	UnitCost      *decimal.Decimal `json:"unit_cost,omitempty"`
	TotalValue    *decimal.Decimal `json:"total_value,omitempty"`
	SourceID      string           `json:"source_warehouse_id,omitempty"`
	DestinationID string           `json:"destination_warehouse_id,omitempty"`
	Reference     string           `json:"reference,omitempty"`
	Notes         string           `json:"notes,omitempty"`
	Actor         string           `json:"actor"`
	CreatedAt     time.Time        `json:"created_at"`
}

// Validate checks the movement's sign and transfer invariants.
func (m *StockMovement) Validate() error {
	direction, ok := movementDirection[m.MovementType]
	if !ok {
		return fmt.Errorf("invalid movement type %q", m.MovementType)
	}
	if m.Quantity == 0 {
		return fmt.Errorf("movement quantity cannot be zero")
	}
	if direction > 0 && m.Quantity < 0 {
		return fmt.Errorf("%s movement requires a positive quantity", m.MovementType)
	}
	if direction < 0 && m.Quantity > 0 {
		return fmt.Errorf("%s movement requires a negative quantity", m.MovementType)
	}

	switch m.MovementType {
	case MovementTypeTransferIn:
		if m.DestinationID == "" {
			return fmt.Errorf("transfer_in movement requires a destination warehouse")
		}
	case MovementTypeTransferOut:
		if m.SourceID == "" {
			return fmt.Errorf("transfer_out movement requires a source warehouse")
		}
	}
	if m.SourceID != "" && m.SourceID == m.DestinationID {
		return fmt.Errorf("transfer source and destination warehouses must differ")
	}

	return nil
}

// ComputeTotalValue derives total_value as |quantity| times unit cost when a
// unit cost is present.
func (m *StockMovement) ComputeTotalValue() {
	if m.UnitCost == nil {
		m.TotalValue = nil
		return
	}
	qty := m.Quantity
	if qty < 0 {
		qty = -qty
	}
	v := m.UnitCost.Mul(decimal.NewFromInt(int64(qty))).Round(2)
	m.TotalValue = &v
}

// IsTransfer reports whether the movement is one side of a warehouse transfer.
func (m *StockMovement) IsTransfer() bool {
	return m.MovementType == MovementTypeTransferIn || m.MovementType == MovementTypeTransferOut
}
