package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aurelia-commerce/fulfillment/internal/domain"
	"github.com/aurelia-commerce/fulfillment/internal/event"
	"github.com/aurelia-commerce/fulfillment/internal/repository"
	apperrors "github.com/aurelia-commerce/fulfillment/pkg/errors"
)

// InventoryService implements the stock movement ledger and balances.
type InventoryService struct {
	inventory          repository.InventoryRepository
	orders             repository.OrderRepository
	refunds            repository.RefundRepository
	producer           *event.Producer
	logger             *slog.Logger
	defaultWarehouseID string
}

// NewInventoryService creates a new inventory service. Sale and return
// movements derived from order and refund events book against the default
// warehouse.
func NewInventoryService(
	inventory repository.InventoryRepository,
	orders repository.OrderRepository,
	refunds repository.RefundRepository,
	producer *event.Producer,
	logger *slog.Logger,
	defaultWarehouseID string,
) *InventoryService {
	return &InventoryService{
		inventory:          inventory,
		orders:             orders,
		refunds:            refunds,
		producer:           producer,
		logger:             logger,
		defaultWarehouseID: defaultWarehouseID,
	}
}

// CreateInventoryInput holds the parameters for creating a balance row.
type CreateInventoryInput struct {
	ProductID    string          `json:"product_id" validate:"required"`
	VariantID    string          `json:"variant_id" validate:"required"`
	WarehouseID  string          `json:"warehouse_id" validate:"required"`
	SKU          string          `json:"sku" validate:"required"`
	Quantity     int             `json:"quantity" validate:"gte=0"`
	ReorderLevel int             `json:"reorder_level" validate:"gte=0"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
	BatchNumber  string          `json:"batch_number,omitempty"`
	ExpiryDate   *time.Time      `json:"expiry_date,omitempty"`
}

// CreateInventory creates a balance row for a variant in a warehouse.
func (s *InventoryService) CreateInventory(ctx context.Context, input *CreateInventoryInput) (*domain.Inventory, error) {
	if input == nil {
		return nil, apperrors.InvalidInput("inventory input is required")
	}

	if _, err := s.inventory.GetWarehouse(ctx, input.WarehouseID); err != nil {
		return nil, fmt.Errorf("get warehouse: %w", err)
	}

	now := time.Now().UTC()
	inv := &domain.Inventory{
		ID:                uuid.New().String(),
		ProductID:         input.ProductID,
		VariantID:         input.VariantID,
		WarehouseID:       input.WarehouseID,
		SKU:               input.SKU,
		QuantityAvailable: input.Quantity,
		ReorderLevel:      input.ReorderLevel,
		UnitCost:          input.UnitCost,
		BatchNumber:       input.BatchNumber,
		ExpiryDate:        input.ExpiryDate,
		AuditRecord:       domain.NewAuditRecord(now),
	}
	if err := inv.Validate(); err != nil {
		return nil, apperrors.InvalidInput(err.Error())
	}

	if err := s.inventory.CreateInventory(ctx, inv); err != nil {
		return nil, fmt.Errorf("create inventory: %w", err)
	}

	s.logger.InfoContext(ctx, "inventory created",
		slog.String("inventory_id", inv.ID),
		slog.String("variant_id", inv.VariantID),
		slog.String("warehouse_id", inv.WarehouseID),
		slog.Int("quantity", inv.QuantityAvailable),
	)

	return inv, nil
}

// GetBalance returns the balance row for a variant in a warehouse.
func (s *InventoryService) GetBalance(ctx context.Context, variantID, warehouseID string) (*domain.Inventory, error) {
	inv, err := s.inventory.GetBalance(ctx, variantID, warehouseID)
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	return inv, nil
}

// RecordMovementInput holds the parameters for appending a movement.
// Quantity is given unsigned; the movement type decides the sign, except for
// adjustment and count where the caller supplies it.
type RecordMovementInput struct {
	InventoryID   string           `json:"inventory_id" validate:"required"`
	MovementType  string           `json:"movement_type" validate:"required"`
	Quantity      int              `json:"quantity" validate:"required"`
	UnitCost      *decimal.Decimal `json:"unit_cost,omitempty"`
	SourceID      string           `json:"source_warehouse_id,omitempty"`
	DestinationID string           `json:"destination_warehouse_id,omitempty"`
	Reference     string           `json:"reference,omitempty"`
	Notes         string           `json:"notes,omitempty"`
}

// RecordMovement appends a ledger movement and applies it to the balance
// atomically. Returns the movement and the updated balance row.
func (s *InventoryService) RecordMovement(ctx context.Context, input *RecordMovementInput, actor string) (*domain.StockMovement, *domain.Inventory, error) {
	if input == nil {
		return nil, nil, apperrors.InvalidInput("movement input is required")
	}
	if actor == "" {
		return nil, nil, apperrors.InvalidInput("acting user is required")
	}
	if !domain.IsValidMovementType(input.MovementType) {
		return nil, nil, apperrors.InvalidInput(fmt.Sprintf("invalid movement type %q", input.MovementType))
	}

	movement := &domain.StockMovement{
		ID:            uuid.New().String(),
		InventoryID:   input.InventoryID,
		MovementType:  input.MovementType,
		Quantity:      domain.SignedQuantity(input.MovementType, input.Quantity),
		UnitCost:      input.UnitCost,
		SourceID:      input.SourceID,
		DestinationID: input.DestinationID,
		Reference:     input.Reference,
		Notes:         input.Notes,
		Actor:         actor,
	}
	movement.ComputeTotalValue()

	if err := movement.Validate(); err != nil {
		return nil, nil, apperrors.InvalidInput(err.Error())
	}

	inv, err := s.inventory.RecordMovement(ctx, movement)
	if err != nil {
		return nil, nil, fmt.Errorf("record movement: %w", err)
	}

	// Publish event; log but do not fail on error.
	if err := s.producer.PublishStockMovement(ctx, movement, inv); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish stock movement event",
			slog.String("movement_id", movement.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "stock movement recorded",
		slog.String("movement_id", movement.ID),
		slog.String("inventory_id", movement.InventoryID),
		slog.String("movement_type", movement.MovementType),
		slog.Int("quantity", movement.Quantity),
		slog.Int("balance", inv.QuantityAvailable),
	)

	return movement, inv, nil
}

// TransferInput holds the parameters for a warehouse-to-warehouse transfer.
type TransferInput struct {
	SourceInventoryID      string `json:"source_inventory_id" validate:"required"`
	DestinationInventoryID string `json:"destination_inventory_id" validate:"required"`
	Quantity               int    `json:"quantity" validate:"required,gt=0"`
	Reference              string `json:"reference,omitempty"`
	Notes                  string `json:"notes,omitempty"`
}

// Transfer moves stock between warehouses as a transfer_out/transfer_in
// movement pair sharing one reference. The out leg runs first so the pair
// can never create stock; if the in leg fails, a compensating inbound
// movement restores the source balance.
func (s *InventoryService) Transfer(ctx context.Context, input *TransferInput, actor string) error {
	if input == nil {
		return apperrors.InvalidInput("transfer input is required")
	}
	if input.SourceInventoryID == input.DestinationInventoryID {
		return apperrors.InvalidInput("source and destination inventory must differ")
	}
	if input.Quantity <= 0 {
		return apperrors.InvalidInput("transfer quantity must be positive")
	}

	source, err := s.inventory.GetInventory(ctx, input.SourceInventoryID)
	if err != nil {
		return fmt.Errorf("get source inventory: %w", err)
	}
	dest, err := s.inventory.GetInventory(ctx, input.DestinationInventoryID)
	if err != nil {
		return fmt.Errorf("get destination inventory: %w", err)
	}
	if source.WarehouseID == dest.WarehouseID {
		return apperrors.InvalidInput("transfer must cross warehouses")
	}

	reference := input.Reference
	if reference == "" {
		reference = "TRF-" + uuid.New().String()[:8]
	}

	outMovement := &domain.StockMovement{
		ID:           uuid.New().String(),
		InventoryID:  source.ID,
		MovementType: domain.MovementTypeTransferOut,
		Quantity:     -input.Quantity,
		SourceID:     source.WarehouseID,
		Reference:    reference,
		Notes:        input.Notes,
		Actor:        actor,
	}
	if err := outMovement.Validate(); err != nil {
		return apperrors.InvalidInput(err.Error())
	}

	if _, err := s.inventory.RecordMovement(ctx, outMovement); err != nil {
		return fmt.Errorf("record transfer out: %w", err)
	}

	inMovement := &domain.StockMovement{
		ID:            uuid.New().String(),
		InventoryID:   dest.ID,
		MovementType:  domain.MovementTypeTransferIn,
		Quantity:      input.Quantity,
		DestinationID: dest.WarehouseID,
		Reference:     reference,
		Notes:         input.Notes,
		Actor:         actor,
	}
	if err := inMovement.Validate(); err != nil {
		return apperrors.InvalidInput(err.Error())
	}
	if _, err := s.inventory.RecordMovement(ctx, inMovement); err != nil {
		compensation := &domain.StockMovement{
			ID:            uuid.New().String(),
			InventoryID:   source.ID,
			MovementType:  domain.MovementTypeTransferIn,
			Quantity:      input.Quantity,
			DestinationID: source.WarehouseID,
			Reference:     reference,
			Notes:         "transfer reversal: inbound leg failed",
			Actor:         actor,
		}
		if _, compErr := s.inventory.RecordMovement(ctx, compensation); compErr != nil {
			s.logger.ErrorContext(ctx, "transfer compensation failed, source balance diverged",
				slog.String("reference", reference),
				slog.String("error", compErr.Error()),
			)
		}
		return fmt.Errorf("record transfer in: %w", err)
	}

	s.logger.InfoContext(ctx, "stock transferred",
		slog.String("reference", reference),
		slog.String("source_inventory_id", source.ID),
		slog.String("destination_inventory_id", dest.ID),
		slog.Int("quantity", input.Quantity),
	)

	return nil
}

// DeleteMovement soft-deletes a movement and reverses its balance effect.
func (s *InventoryService) DeleteMovement(ctx context.Context, movementID string) error {
	if err := s.inventory.DeleteMovement(ctx, movementID); err != nil {
		return fmt.Errorf("delete movement: %w", err)
	}
	s.logger.InfoContext(ctx, "stock movement deleted", slog.String("movement_id", movementID))
	return nil
}

// ListMovements returns movements matching the filter with the total count.
func (s *InventoryService) ListMovements(ctx context.Context, filter repository.MovementFilter) ([]domain.StockMovement, int, error) {
	movements, total, err := s.inventory.ListMovements(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("list movements: %w", err)
	}
	return movements, total, nil
}

// CreateWarehouseInput holds the parameters for creating a warehouse.
type CreateWarehouseInput struct {
	Name      string `json:"name" validate:"required"`
	Code      string `json:"code" validate:"required"`
	Address   string `json:"address,omitempty"`
	IsActive  bool   `json:"is_active"`
	IsDefault bool   `json:"is_default"`
}

// CreateWarehouse creates a warehouse.
func (s *InventoryService) CreateWarehouse(ctx context.Context, input *CreateWarehouseInput) (*domain.Warehouse, error) {
	if input == nil {
		return nil, apperrors.InvalidInput("warehouse input is required")
	}
	if input.Name == "" || input.Code == "" {
		return nil, apperrors.InvalidInput("warehouse name and code are required")
	}

	now := time.Now().UTC()
	wh := &domain.Warehouse{
		ID:          uuid.New().String(),
		Name:        input.Name,
		Code:        input.Code,
		Address:     input.Address,
		IsActive:    input.IsActive,
		IsDefault:   input.IsDefault,
		AuditRecord: domain.NewAuditRecord(now),
	}

	if err := s.inventory.CreateWarehouse(ctx, wh); err != nil {
		return nil, fmt.Errorf("create warehouse: %w", err)
	}
	return wh, nil
}

// ListWarehouses returns all warehouses.
func (s *InventoryService) ListWarehouses(ctx context.Context) ([]domain.Warehouse, error) {
	warehouses, err := s.inventory.ListWarehouses(ctx)
	if err != nil {
		return nil, fmt.Errorf("list warehouses: %w", err)
	}
	return warehouses, nil
}

// RecordSaleForOrder books sale movements for every non-deleted line of a
// completed order against the default warehouse. Lines without a balance row
// are skipped with a warning rather than failing the whole order.
func (s *InventoryService) RecordSaleForOrder(ctx context.Context, orderID, actor string) error {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return fmt.Errorf("get order for sale movements: %w", err)
	}
	if actor == "" {
		actor = "system"
	}

	for i := range order.Items {
		item := &order.Items[i]
		if item.IsDeleted {
			continue
		}
		if err := s.bookMovement(ctx, item.VariantID, domain.MovementTypeSale, -item.Quantity, order.OrderNumber, actor); err != nil {
			return err
		}
	}

	return nil
}

// RecordReturnForRefund books return movements for every non-deleted item of
// a completed refund.
func (s *InventoryService) RecordReturnForRefund(ctx context.Context, refundID, actor string) error {
	refund, err := s.refunds.GetByID(ctx, refundID)
	if err != nil {
		return fmt.Errorf("get refund for return movements: %w", err)
	}
	order, err := s.orders.GetByID(ctx, refund.OrderID)
	if err != nil {
		return fmt.Errorf("get order for return movements: %w", err)
	}
	if actor == "" {
		actor = "system"
	}

	variantByItem := make(map[string]string, len(order.Items))
	for i := range order.Items {
		variantByItem[order.Items[i].ID] = order.Items[i].VariantID
	}

	for i := range refund.Items {
		item := &refund.Items[i]
		if item.IsDeleted {
			continue
		}
		variantID, ok := variantByItem[item.OrderItemID]
		if !ok {
			s.logger.WarnContext(ctx, "refund item references unknown order item, skipping return movement",
				slog.String("refund_id", refundID),
				slog.String("order_item_id", item.OrderItemID),
			)
			continue
		}
		if err := s.bookMovement(ctx, variantID, domain.MovementTypeReturn, item.Quantity, refund.RefundNumber, actor); err != nil {
			return err
		}
	}

	return nil
}

func (s *InventoryService) bookMovement(ctx context.Context, variantID, movementType string, quantity int, reference, actor string) error {
	inv, err := s.inventory.GetBalance(ctx, variantID, s.defaultWarehouseID)
	if err != nil {
		s.logger.WarnContext(ctx, "no balance row for variant, skipping movement",
			slog.String("variant_id", variantID),
			slog.String("movement_type", movementType),
			slog.String("reference", reference),
		)
		return nil
	}

	movement := &domain.StockMovement{
		ID:           uuid.New().String(),
		InventoryID:  inv.ID,
		MovementType: movementType,
		Quantity:     quantity,
		Reference:    reference,
		Actor:        actor,
	}
	if err := movement.Validate(); err != nil {
		return apperrors.InvalidInput(err.Error())
	}

	updated, err := s.inventory.RecordMovement(ctx, movement)
	if err != nil {
		return fmt.Errorf("record %s movement for variant %s: %w", movementType, variantID, err)
	}

	if err := s.producer.PublishStockMovement(ctx, movement, updated); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish stock movement event",
			slog.String("movement_id", movement.ID),
			slog.String("error", err.Error()),
		)
	}

	return nil
}
