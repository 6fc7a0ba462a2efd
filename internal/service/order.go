package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aurelia-commerce/fulfillment/internal/cart"
	"github.com/aurelia-commerce/fulfillment/internal/domain"
	"github.com/aurelia-commerce/fulfillment/internal/event"
	"github.com/aurelia-commerce/fulfillment/internal/repository"
	"github.com/aurelia-commerce/fulfillment/internal/shipping"
	apperrors "github.com/aurelia-commerce/fulfillment/pkg/errors"
)

// OrderService implements order placement, status transitions, and totals.
type OrderService struct {
	orders   repository.OrderRepository
	refunds  repository.RefundRepository
	coupons  repository.CouponRepository
	carts    cart.Provider
	shipping shipping.Calculator
	producer *event.Producer
	logger   *slog.Logger
}

// NewOrderService creates a new order service.
func NewOrderService(
	orders repository.OrderRepository,
	refunds repository.RefundRepository,
	coupons repository.CouponRepository,
	carts cart.Provider,
	shippingCalc shipping.Calculator,
	producer *event.Producer,
	logger *slog.Logger,
) *OrderService {
	return &OrderService{
		orders:   orders,
		refunds:  refunds,
		coupons:  coupons,
		carts:    carts,
		shipping: shippingCalc,
		producer: producer,
		logger:   logger,
	}
}

// OrderItemInput is one order line in a place-order request.
type OrderItemInput struct {
	ProductID string          `json:"product_id" validate:"required"`
	VariantID string          `json:"variant_id" validate:"required"`
	Name      string          `json:"name" validate:"required"`
	SKU       string          `json:"sku" validate:"required"`
	UnitPrice decimal.Decimal `json:"unit_price" validate:"required"`
	Quantity  int             `json:"quantity" validate:"required,gt=0"`
	WeightKg  decimal.Decimal `json:"weight_kg"`
}

// TaxInput is one tax line in a place-order or save-tax request.
type TaxInput struct {
	ID     string          `json:"id,omitempty"`
	Name   string          `json:"name" validate:"required"`
	Rate   decimal.Decimal `json:"rate" validate:"required"`
	Amount decimal.Decimal `json:"amount"`
}

// PlaceOrderInput holds the parameters for placing an order. Items come
// either inline or from a cart snapshot; the snapshot wins when both are set.
type PlaceOrderInput struct {
	CartID          string           `json:"cart_id,omitempty"`
	Items           []OrderItemInput `json:"items,omitempty" validate:"dive"`
	Currency        string           `json:"currency" validate:"required,len=3"`
	CouponCode      string           `json:"coupon_code,omitempty"`
	ShippingAddress *domain.Address  `json:"shipping_address,omitempty"`
	Taxes           []TaxInput       `json:"taxes,omitempty" validate:"dive"`
	Notes           string           `json:"notes,omitempty"`
}

// PlaceOrder creates an order from a cart snapshot or inline items, applies
// the coupon discount and shipping cost, and persists the order with its
// initial status-history record.
func (s *OrderService) PlaceOrder(ctx context.Context, userID string, input *PlaceOrderInput) (*domain.Order, error) {
	if userID == "" {
		return nil, apperrors.InvalidInput("user id is required")
	}
	if input == nil {
		return nil, apperrors.InvalidInput("order input is required")
	}
	if len(input.Currency) != 3 {
		return nil, apperrors.InvalidInput("currency must be a 3-letter ISO code")
	}

	items, err := s.resolveItems(ctx, input)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, apperrors.InvalidInput("at least one item is required")
	}

	now := time.Now().UTC()
	orderID := uuid.New().String()

	order := &domain.Order{
		ID:              orderID,
		UserID:          userID,
		Status:          domain.OrderStatusPending,
		Currency:        strings.ToUpper(input.Currency),
		ShippingAddress: input.ShippingAddress,
		Notes:           input.Notes,
		AuditRecord:     domain.NewAuditRecord(now),
	}

	for i := range items {
		items[i].ID = uuid.New().String()
		items[i].OrderID = orderID
		if err := items[i].Validate(); err != nil {
			return nil, apperrors.InvalidInput(err.Error())
		}
	}
	order.Items = items

	for _, t := range input.Taxes {
		tax := domain.OrderTax{
			ID:      uuid.New().String(),
			OrderID: orderID,
			Name:    t.Name,
			Rate:    t.Rate,
			Amount:  t.Amount,
		}
		tax.Recompute()
		if err := tax.Validate(); err != nil {
			return nil, apperrors.InvalidInput(err.Error())
		}
		order.Taxes = append(order.Taxes, tax)
	}

	subtotal := order.SubtotalAmount()

	var coupon *domain.Coupon
	if input.CouponCode != "" {
		coupon, err = s.coupons.GetByCode(ctx, input.CouponCode)
		if err != nil {
			return nil, fmt.Errorf("look up coupon: %w", err)
		}
		discounted, err := coupon.ApplyDiscount(subtotal, now)
		if err != nil {
			return nil, apperrors.InvalidInput(err.Error())
		}
		order.CouponCode = coupon.Code
		order.DiscountAmount = subtotal.Sub(discounted)
	}

	cost, err := s.shipping.Cost(ctx, &shipping.Quote{
		WeightKg: order.TotalWeightKg(),
		Subtotal: subtotal,
		Country:  shippingCountry(input.ShippingAddress),
	})
	if err != nil {
		return nil, fmt.Errorf("price shipping: %w", err)
	}
	order.ShippingCost = cost

	order.ComputeTotal()
	if err := order.Validate(); err != nil {
		return nil, apperrors.InvalidInput(err.Error())
	}

	// Reserve the coupon use before the insert; the conditional increment is
	// what enforces the usage limit under concurrency.
	if coupon != nil {
		if err := s.coupons.IncrementUsage(ctx, coupon.ID); err != nil {
			return nil, fmt.Errorf("redeem coupon: %w", err)
		}
	}

	if err := s.orders.Create(ctx, order); err != nil {
		if coupon != nil {
			s.logger.ErrorContext(ctx, "order insert failed after coupon redemption",
				slog.String("coupon_code", coupon.Code),
				slog.String("error", err.Error()),
			)
		}
		return nil, fmt.Errorf("create order: %w", err)
	}

	// Publish event; log but do not fail on error.
	if err := s.producer.PublishOrderCreated(ctx, order); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish order.created event",
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "order placed",
		slog.String("order_id", order.ID),
		slog.String("order_number", order.OrderNumber),
		slog.String("user_id", userID),
		slog.String("total_amount", order.TotalAmount.StringFixed(2)),
	)

	return order, nil
}

// resolveItems returns the order lines, preferring a cart snapshot.
func (s *OrderService) resolveItems(ctx context.Context, input *PlaceOrderInput) ([]domain.OrderItem, error) {
	if input.CartID != "" {
		snapshot, err := s.carts.Snapshot(ctx, input.CartID)
		if err != nil {
			return nil, fmt.Errorf("fetch cart snapshot: %w", err)
		}
		items := make([]domain.OrderItem, len(snapshot.Items))
		for i, it := range snapshot.Items {
			items[i] = domain.OrderItem{
				ProductID: it.ProductID,
				VariantID: it.VariantID,
				Name:      it.Name,
				SKU:       it.SKU,
				UnitPrice: it.UnitPrice,
				Quantity:  it.Quantity,
				WeightKg:  it.WeightKg,
			}
		}
		return items, nil
	}

	items := make([]domain.OrderItem, len(input.Items))
	for i, it := range input.Items {
		items[i] = domain.OrderItem{
			ProductID: it.ProductID,
			VariantID: it.VariantID,
			Name:      it.Name,
			SKU:       it.SKU,
			UnitPrice: it.UnitPrice,
			Quantity:  it.Quantity,
			WeightKg:  it.WeightKg,
		}
	}
	return items, nil
}

func shippingCountry(addr *domain.Address) string {
	if addr == nil {
		return ""
	}
	return addr.Country
}

// GetOrder retrieves an order by ID.
func (s *OrderService) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	order, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	return order, nil
}

// ListOrders returns orders matching the filter with the total count.
func (s *OrderService) ListOrders(ctx context.Context, filter repository.OrderFilter) ([]domain.Order, int, error) {
	orders, total, err := s.orders.List(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	return orders, total, nil
}

// TransitionStatus moves the order to the target status. A same-status
// request is a no-op; an invalid transition is rejected naming both statuses.
func (s *OrderService) TransitionStatus(ctx context.Context, orderID, target, note, actor string) (*domain.Order, error) {
	if !domain.IsValidOrderStatus(target) {
		return nil, apperrors.InvalidInput(fmt.Sprintf("unknown order status %q", target))
	}
	if actor == "" {
		return nil, apperrors.InvalidInput("acting user is required")
	}

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order for transition: %w", err)
	}

	if order.Status == target {
		return order, nil
	}

	if !order.CanTransitionTo(target) {
		return nil, apperrors.InvalidInput(fmt.Sprintf(
			"order %s cannot move from %q to %q", order.OrderNumber, order.Status, target,
		))
	}

	if err := s.orders.UpdateStatus(ctx, orderID, target, note, actor); err != nil {
		return nil, fmt.Errorf("update order status: %w", err)
	}

	oldStatus := order.Status
	order.Status = target
	if target == domain.OrderStatusCancelled {
		order.CancelReason = note
	}

	// Publish event; log but do not fail on error.
	if err := s.producer.PublishOrderStatusChanged(ctx, order, oldStatus, actor); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish order.status_changed event",
			slog.String("order_id", orderID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "order status changed",
		slog.String("order_id", orderID),
		slog.String("old_status", oldStatus),
		slog.String("new_status", target),
		slog.String("actor", actor),
	)

	return order, nil
}

// ListStatusHistory returns the order's status-history records.
func (s *OrderService) ListStatusHistory(ctx context.Context, orderID string) ([]domain.OrderStatusHistory, error) {
	if _, err := s.orders.GetByID(ctx, orderID); err != nil {
		return nil, fmt.Errorf("get order for history: %w", err)
	}
	history, err := s.orders.ListStatusHistory(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("list status history: %w", err)
	}
	return history, nil
}

// SaveTax adds or updates a tax line and recomputes the order total in the
// same pass, so tax_value, amount_with_taxes, and total_amount stay
// consistent.
func (s *OrderService) SaveTax(ctx context.Context, orderID string, input *TaxInput) (*domain.Order, error) {
	if input == nil {
		return nil, apperrors.InvalidInput("tax input is required")
	}

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order for tax: %w", err)
	}

	tax := domain.OrderTax{
		ID:      input.ID,
		OrderID: orderID,
		Name:    input.Name,
		Rate:    input.Rate,
		Amount:  input.Amount,
	}
	if tax.ID == "" {
		tax.ID = uuid.New().String()
	}
	if tax.Amount.IsZero() {
		tax.Amount = order.SubtotalAmount()
	}
	tax.Recompute()
	if err := tax.Validate(); err != nil {
		return nil, apperrors.InvalidInput(err.Error())
	}

	if err := s.orders.SaveTax(ctx, &tax); err != nil {
		return nil, fmt.Errorf("save order tax: %w", err)
	}

	replaced := false
	for i := range order.Taxes {
		if order.Taxes[i].ID == tax.ID {
			order.Taxes[i] = tax
			replaced = true
			break
		}
	}
	if !replaced {
		order.Taxes = append(order.Taxes, tax)
	}

	order.ComputeTotal()
	if err := s.orders.UpdateTotals(ctx, orderID, order.DiscountAmount, order.ShippingCost, order.TotalAmount); err != nil {
		return nil, fmt.Errorf("update order totals: %w", err)
	}

	return order, nil
}

// DeleteOrder soft-deletes an order. Orders that are still active, carry
// refunds, or carry shipments are blocked; cancellation is a status change,
// not a deletion.
func (s *OrderService) DeleteOrder(ctx context.Context, orderID string) error {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return fmt.Errorf("get order for deletion: %w", err)
	}

	hasRefunds, err := s.refunds.ExistsForOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("check refunds for order: %w", err)
	}
	hasShipments, err := s.orders.HasShipments(ctx, orderID)
	if err != nil {
		return fmt.Errorf("check shipments for order: %w", err)
	}

	if reason := order.BlockReasonWith(hasRefunds, hasShipments); reason != "" {
		return apperrors.Conflict(reason)
	}

	if err := s.orders.SoftDelete(ctx, orderID); err != nil {
		return fmt.Errorf("soft delete order: %w", err)
	}

	s.logger.InfoContext(ctx, "order deleted", slog.String("order_id", orderID))
	return nil
}

// DeleteItem soft-deletes one order line and recomputes the totals. Lines
// are immutable once the order has left pending or gained shipments or
// refunds.
func (s *OrderService) DeleteItem(ctx context.Context, orderID, itemID string) (*domain.Order, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order for item deletion: %w", err)
	}

	if order.Status != domain.OrderStatusPending {
		return nil, apperrors.Conflict(fmt.Sprintf(
			"items cannot be removed once the order has left %q (current status %q)",
			domain.OrderStatusPending, order.Status,
		))
	}

	hasRefunds, err := s.refunds.ExistsForOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("check refunds for order: %w", err)
	}
	if hasRefunds {
		return nil, apperrors.Conflict("items cannot be removed from an order with refunds")
	}
	hasShipments, err := s.orders.HasShipments(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("check shipments for order: %w", err)
	}
	if hasShipments {
		return nil, apperrors.Conflict("items cannot be removed from an order with shipments")
	}

	if err := s.orders.SoftDeleteItem(ctx, orderID, itemID); err != nil {
		return nil, fmt.Errorf("soft delete order item: %w", err)
	}

	now := time.Now().UTC()
	for i := range order.Items {
		if order.Items[i].ID == itemID {
			order.Items[i].MarkDeleted(now)
		}
	}

	order.ComputeTotal()
	if err := s.orders.UpdateTotals(ctx, orderID, order.DiscountAmount, order.ShippingCost, order.TotalAmount); err != nil {
		return nil, fmt.Errorf("update order totals: %w", err)
	}

	return order, nil
}
