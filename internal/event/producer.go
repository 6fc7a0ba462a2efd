package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/aurelia-commerce/fulfillment/internal/domain"
	pkgkafka "github.com/aurelia-commerce/fulfillment/pkg/kafka"
)

// Kafka topic constants for fulfillment domain events.
const (
	TopicOrderCreated       = "fulfillment.order.created"
	TopicOrderStatusChanged = "fulfillment.order.status_changed"
	TopicOrderCancelled     = "fulfillment.order.cancelled"
	TopicRefundRequested    = "fulfillment.refund.requested"
	TopicRefundCompleted    = "fulfillment.refund.completed"
	TopicStockMovement      = "fulfillment.stock.movement_recorded"
	TopicStockLow           = "fulfillment.stock.low"
)

// Aggregate type constants.
const (
	AggregateTypeOrder     = "order"
	AggregateTypeRefund    = "refund"
	AggregateTypeInventory = "inventory"
)

// Source identifier for events originating from this service.
const SourceFulfillment = "fulfillment-service"

// OrderCreatedData is the payload for an order.created event (full snapshot).
type OrderCreatedData struct {
	ID             string          `json:"id"`
	OrderNumber    string          `json:"order_number"`
	UserID         string          `json:"user_id"`
	Status         string          `json:"status"`
	Items          []OrderItemData `json:"items"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	ShippingCost   decimal.Decimal `json:"shipping_cost"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	Currency       string          `json:"currency"`
	CouponCode     string          `json:"coupon_code,omitempty"`
}

// OrderItemData is the event payload for an order item.
type OrderItemData struct {
	ID        string          `json:"id"`
	ProductID string          `json:"product_id"`
	VariantID string          `json:"variant_id"`
	Name      string          `json:"name"`
	SKU       string          `json:"sku"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
}

// OrderStatusChangedData is the payload for an order.status_changed event.
type OrderStatusChangedData struct {
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
	OldStatus   string `json:"old_status"`
	NewStatus   string `json:"new_status"`
	Actor       string `json:"actor"`
}

// RefundEventData is the payload for refund.requested and refund.completed.
type RefundEventData struct {
	RefundID     string          `json:"refund_id"`
	RefundNumber string          `json:"refund_number"`
	OrderID      string          `json:"order_id"`
	Status       string          `json:"status"`
	Amount       decimal.Decimal `json:"amount"`
	Method       string          `json:"method"`
}

// StockMovementData is the payload for stock.movement_recorded.
type StockMovementData struct {
	MovementID   string `json:"movement_id"`
	InventoryID  string `json:"inventory_id"`
	MovementType string `json:"movement_type"`
	Quantity     int    `json:"quantity"`
	Balance      int    `json:"balance"`
}

// StockLowData is the payload for stock.low.
type StockLowData struct {
	InventoryID  string `json:"inventory_id"`
	VariantID    string `json:"variant_id"`
	WarehouseID  string `json:"warehouse_id"`
	Balance      int    `json:"balance"`
	ReorderLevel int    `json:"reorder_level"`
}

// Producer publishes fulfillment domain events to Kafka.
type Producer struct {
	kafka  *pkgkafka.Producer
	logger *slog.Logger
}

// NewProducer creates a new event producer.
func NewProducer(kafka *pkgkafka.Producer, logger *slog.Logger) *Producer {
	return &Producer{kafka: kafka, logger: logger}
}

// PublishOrderCreated publishes an order.created event with the full order
// snapshot.
func (p *Producer) PublishOrderCreated(ctx context.Context, order *domain.Order) error {
	items := make([]OrderItemData, len(order.Items))
	for i, item := range order.Items {
		items[i] = OrderItemData{
			ID:        item.ID,
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Name:      item.Name,
			SKU:       item.SKU,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
		}
	}

	data := OrderCreatedData{
		ID:             order.ID,
		OrderNumber:    order.OrderNumber,
		UserID:         order.UserID,
		Status:         order.Status,
		Items:          items,
		DiscountAmount: order.DiscountAmount,
		ShippingCost:   order.ShippingCost,
		TotalAmount:    order.TotalAmount,
		Currency:       order.Currency,
		CouponCode:     order.CouponCode,
	}

	event, err := pkgkafka.NewEvent(TopicOrderCreated, order.ID, AggregateTypeOrder, SourceFulfillment, data)
	if err != nil {
		return fmt.Errorf("create order.created event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicOrderCreated, event); err != nil {
		return fmt.Errorf("publish order.created event: %w", err)
	}

	p.logger.DebugContext(ctx, "published order.created event",
		slog.String("order_id", order.ID),
		slog.String("order_number", order.OrderNumber),
	)

	return nil
}

// PublishOrderStatusChanged publishes an order.status_changed event. A
// transition to cancelled additionally goes out on the dedicated cancelled
// topic for consumers that only care about cancellations.
func (p *Producer) PublishOrderStatusChanged(ctx context.Context, order *domain.Order, oldStatus, actor string) error {
	data := OrderStatusChangedData{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		OldStatus:   oldStatus,
		NewStatus:   order.Status,
		Actor:       actor,
	}

	event, err := pkgkafka.NewEvent(TopicOrderStatusChanged, order.ID, AggregateTypeOrder, SourceFulfillment, data)
	if err != nil {
		return fmt.Errorf("create order.status_changed event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicOrderStatusChanged, event); err != nil {
		return fmt.Errorf("publish order.status_changed event: %w", err)
	}

	if order.Status == domain.OrderStatusCancelled {
		cancelEvent, err := pkgkafka.NewEvent(TopicOrderCancelled, order.ID, AggregateTypeOrder, SourceFulfillment, data)
		if err != nil {
			return fmt.Errorf("create order.cancelled event: %w", err)
		}
		if err := p.kafka.Publish(ctx, TopicOrderCancelled, cancelEvent); err != nil {
			return fmt.Errorf("publish order.cancelled event: %w", err)
		}
	}

	p.logger.DebugContext(ctx, "published order.status_changed event",
		slog.String("order_id", order.ID),
		slog.String("old_status", oldStatus),
		slog.String("new_status", order.Status),
	)

	return nil
}

// PublishRefundRequested publishes a refund.requested event.
func (p *Producer) PublishRefundRequested(ctx context.Context, refund *domain.Refund) error {
	return p.publishRefund(ctx, TopicRefundRequested, refund, refund.AmountRequested)
}

// PublishRefundCompleted publishes a refund.completed event.
func (p *Producer) PublishRefundCompleted(ctx context.Context, refund *domain.Refund) error {
	return p.publishRefund(ctx, TopicRefundCompleted, refund, refund.AmountRefunded)
}

func (p *Producer) publishRefund(ctx context.Context, topic string, refund *domain.Refund, amount decimal.Decimal) error {
	data := RefundEventData{
		RefundID:     refund.ID,
		RefundNumber: refund.RefundNumber,
		OrderID:      refund.OrderID,
		Status:       refund.Status,
		Amount:       amount,
		Method:       refund.Method,
	}

	event, err := pkgkafka.NewEvent(topic, refund.ID, AggregateTypeRefund, SourceFulfillment, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published refund event",
		slog.String("topic", topic),
		slog.String("refund_id", refund.ID),
		slog.String("order_id", refund.OrderID),
	)

	return nil
}

// PublishStockMovement publishes a stock.movement_recorded event, followed by
// a stock.low event when the updated balance has reached the reorder level.
func (p *Producer) PublishStockMovement(ctx context.Context, movement *domain.StockMovement, inv *domain.Inventory) error {
	data := StockMovementData{
		MovementID:   movement.ID,
		InventoryID:  movement.InventoryID,
		MovementType: movement.MovementType,
		Quantity:     movement.Quantity,
		Balance:      inv.QuantityAvailable,
	}

	event, err := pkgkafka.NewEvent(TopicStockMovement, movement.InventoryID, AggregateTypeInventory, SourceFulfillment, data)
	if err != nil {
		return fmt.Errorf("create stock.movement_recorded event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicStockMovement, event); err != nil {
		return fmt.Errorf("publish stock.movement_recorded event: %w", err)
	}

	if inv.BelowReorderLevel() {
		lowData := StockLowData{
			InventoryID:  inv.ID,
			VariantID:    inv.VariantID,
			WarehouseID:  inv.WarehouseID,
			Balance:      inv.QuantityAvailable,
			ReorderLevel: inv.ReorderLevel,
		}
		lowEvent, err := pkgkafka.NewEvent(TopicStockLow, inv.ID, AggregateTypeInventory, SourceFulfillment, lowData)
		if err != nil {
			return fmt.Errorf("create stock.low event: %w", err)
		}
		if err := p.kafka.Publish(ctx, TopicStockLow, lowEvent); err != nil {
			return fmt.Errorf("publish stock.low event: %w", err)
		}
		p.logger.WarnContext(ctx, "stock at or below reorder level",
			slog.String("inventory_id", inv.ID),
			slog.Int("balance", inv.QuantityAvailable),
			slog.Int("reorder_level", inv.ReorderLevel),
		)
	}

	return nil
}
