package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aurelia-commerce/fulfillment/internal/domain"
	pkgkafka "github.com/aurelia-commerce/fulfillment/pkg/kafka"
)

// StockService defines the ledger operations the event consumer needs.
type StockService interface {
	RecordSaleForOrder(ctx context.Context, orderID, actor string) error
	RecordReturnForRefund(ctx context.Context, refundID, actor string) error
}

// Consumer turns order and refund lifecycle events into ledger movements.
// A completed order deducts stock as sale movements and a completed refund
// puts it back as return movements.
type Consumer struct {
	service StockService
	logger  *slog.Logger
}

// NewConsumer creates a new event consumer.
func NewConsumer(service StockService, logger *slog.Logger) *Consumer {
	return &Consumer{service: service, logger: logger}
}

// HandleOrderStatusChanged records sale movements when an order completes.
// Other transitions are acknowledged without action.
func (c *Consumer) HandleOrderStatusChanged(ctx context.Context, event *pkgkafka.Event) error {
	var data OrderStatusChangedData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return fmt.Errorf("unmarshal order.status_changed data: %w", err)
	}

	if data.NewStatus != domain.OrderStatusCompleted {
		return nil
	}

	c.logger.InfoContext(ctx, "recording sale movements for completed order",
		slog.String("order_id", data.OrderID),
		slog.String("order_number", data.OrderNumber),
	)

	if err := c.service.RecordSaleForOrder(ctx, data.OrderID, data.Actor); err != nil {
		return fmt.Errorf("record sale movements for order %s: %w", data.OrderID, err)
	}

	return nil
}

// HandleRefundCompleted records return movements for a completed refund.
func (c *Consumer) HandleRefundCompleted(ctx context.Context, event *pkgkafka.Event) error {
	var data RefundEventData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return fmt.Errorf("unmarshal refund.completed data: %w", err)
	}

	c.logger.InfoContext(ctx, "recording return movements for completed refund",
		slog.String("refund_id", data.RefundID),
		slog.String("order_id", data.OrderID),
	)

	if err := c.service.RecordReturnForRefund(ctx, data.RefundID, "system"); err != nil {
		return fmt.Errorf("record return movements for refund %s: %w", data.RefundID, err)
	}

	return nil
}
