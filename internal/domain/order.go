package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Order status constants. The forward chain runs pending through completed;
// cancelled and refunded are escape states.
const (
	OrderStatusPending    = "pending"
	OrderStatusUnpaid     = "unpaid"
	OrderStatusPaid       = "paid"
	OrderStatusApproved   = "approved"
	OrderStatusProcessing = "processing"
	OrderStatusShipped    = "shipped"
	OrderStatusDelivered  = "delivered"
	OrderStatusCompleted  = "completed"
	OrderStatusCancelled  = "cancelled"
	OrderStatusRefunded   = "refunded"
)

// orderStatusRank assigns each forward-chain status its position. Escape
// states (cancelled, refunded) are intentionally absent.
var orderStatusRank = map[string]int{
	OrderStatusPending:    0,
	OrderStatusUnpaid:     1,
	OrderStatusPaid:       2,
	OrderStatusApproved:   3,
	OrderStatusProcessing: 4,
	OrderStatusShipped:    5,
	OrderStatusDelivered:  6,
	OrderStatusCompleted:  7,
}

// ValidOrderStatuses returns all valid order statuses in declaration order.
func ValidOrderStatuses() []string {
	return []string{
		OrderStatusPending,
		OrderStatusUnpaid,
		OrderStatusPaid,
		OrderStatusApproved,
		OrderStatusProcessing,
		OrderStatusShipped,
		OrderStatusDelivered,
		OrderStatusCompleted,
		OrderStatusCancelled,
		OrderStatusRefunded,
	}
}

// IsValidOrderStatus checks if a status string is valid.
func IsValidOrderStatus(status string) bool {
	if status == OrderStatusCancelled || status == OrderStatusRefunded {
		return true
	}
	_, ok := orderStatusRank[status]
	return ok
}

// IsTerminalOrderStatus reports whether no further transition is possible out
// of the status. Completed still admits refunded, so it is not terminal here.
func IsTerminalOrderStatus(status string) bool {
	return status == OrderStatusCancelled || status == OrderStatusRefunded
}

// Order represents a customer order.
type Order struct {
	ID              string          `json:"id"`
	OrderNumber     string          `json:"order_number"`
	UserID          string          `json:"user_id"`
	Status          string          `json:"status"`
	Items           []OrderItem     `json:"items"`
	Taxes           []OrderTax      `json:"taxes,omitempty"`
	CouponCode      string          `json:"coupon_code,omitempty"`
	DiscountAmount  decimal.Decimal `json:"discount_amount"`
	ShippingCost    decimal.Decimal `json:"shipping_cost"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	Currency        string          `json:"currency"`
	ShippingAddress *Address        `json:"shipping_address,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	CancelReason    string          `json:"cancel_reason,omitempty"`
	AuditRecord
}

// Address represents a shipping destination.
type Address struct {
	FullName    string `json:"full_name"`
	AddressLine string `json:"address_line"`
	City        string `json:"city"`
	PostalCode  string `json:"postal_code"`
	Country     string `json:"country"`
	Phone       string `json:"phone,omitempty"`
}

// CanTransitionTo checks whether the order may move to the target status.
// Forward moves are valid only to the immediate next status in the chain.
// Cancelled is reachable from any non-terminal status except completed;
// refunded only from delivered or completed. Re-entering the current status
// is a no-op and therefore allowed.
func (o *Order) CanTransitionTo(target string) bool {
	if target == o.Status {
		return true
	}

	switch target {
	case OrderStatusCancelled:
		return !IsTerminalOrderStatus(o.Status) && o.Status != OrderStatusCompleted
	case OrderStatusRefunded:
		return o.Status == OrderStatusDelivered || o.Status == OrderStatusCompleted
	}

	from, okFrom := orderStatusRank[o.Status]
	to, okTo := orderStatusRank[target]
	return okFrom && okTo && to == from+1
}

// SubtotalAmount returns the sum of all non-deleted item line totals.
func (o *Order) SubtotalAmount() decimal.Decimal {
	subtotal := decimal.Zero
	for i := range o.Items {
		if o.Items[i].IsDeleted {
			continue
		}
		subtotal = subtotal.Add(o.Items[i].TotalPrice())
	}
	return subtotal
}

// TaxTotal returns the sum of all tax values.
func (o *Order) TaxTotal() decimal.Decimal {
	total := decimal.Zero
	for i := range o.Taxes {
		total = total.Add(o.Taxes[i].TaxValue)
	}
	return total
}

// ComputeTotal derives the order total from items, discount, shipping cost,
// and taxes, quantized to 2 decimal places and clamped at zero. The result is
// also stored on the order.
func (o *Order) ComputeTotal() decimal.Decimal {
	total := o.SubtotalAmount().
		Sub(o.DiscountAmount).
		Add(o.ShippingCost).
		Add(o.TaxTotal()).
		Round(2)
	if total.IsNegative() {
		total = decimal.Zero.Round(2)
	}
	o.TotalAmount = total
	return total
}

// TotalWeightKg aggregates item weight times quantity across non-deleted items.
func (o *Order) TotalWeightKg() decimal.Decimal {
	weight := decimal.Zero
	for i := range o.Items {
		if o.Items[i].IsDeleted {
			continue
		}
		weight = weight.Add(o.Items[i].WeightKg.Mul(decimal.NewFromInt(int64(o.Items[i].Quantity))))
	}
	return weight
}

// BlockReason returns a non-empty reason when the order cannot be
// soft-deleted: an order still moving through fulfillment must be cancelled
// instead of removed. Refund and shipment references are checked by the
// service layer via BlockReasonWith.
func (o *Order) BlockReason() string {
	return o.BlockReasonWith(false, false)
}

// BlockReasonWith evaluates the soft-delete guard with the caller-supplied
// reference checks.
func (o *Order) BlockReasonWith(hasRefunds, hasShipments bool) string {
	switch {
	case !IsTerminalOrderStatus(o.Status) && o.Status != OrderStatusCompleted:
		return fmt.Sprintf("order is in active status %q; cancel it first", o.Status)
	case hasRefunds:
		return "order has refunds attached"
	case hasShipments:
		return "order has shipments attached"
	}
	return ""
}

// Validate checks order-level invariants.
func (o *Order) Validate() error {
	if o.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if !IsValidOrderStatus(o.Status) {
		return fmt.Errorf("invalid order status %q", o.Status)
	}
	if len(o.Items) == 0 {
		return fmt.Errorf("order must contain at least one item")
	}
	if o.DiscountAmount.IsNegative() {
		return fmt.Errorf("discount_amount cannot be negative")
	}
	if o.ShippingCost.IsNegative() {
		return fmt.Errorf("shipping_cost cannot be negative")
	}
	for i := range o.Items {
		if err := o.Items[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// FormatOrderNumber formats a sequential order number. Numbers are assigned once at
// first save and never reused; uniqueness collisions are resolved by drawing
// the next sequence value.
func FormatOrderNumber(seq int64) string {
	return fmt.Sprintf("ORD-%06d", seq)
}

// OrderItem represents a purchased line item. Items become immutable once the
// order leaves pending.
type OrderItem struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"order_id"`
	ProductID string          `json:"product_id"`
	VariantID string          `json:"variant_id,omitempty"`
	Name      string          `json:"name"`
	SKU       string          `json:"sku"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	WeightKg  decimal.Decimal `json:"weight_kg"`
	AuditRecord
}

// TotalPrice returns unit price times quantity.
func (i *OrderItem) TotalPrice() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Validate checks item-level invariants.
func (i *OrderItem) Validate() error {
	if i.ProductID == "" {
		return fmt.Errorf("order item product_id is required")
	}
	if i.Quantity <= 0 {
		return fmt.Errorf("order item quantity must be positive")
	}
	if i.UnitPrice.IsNegative() {
		return fmt.Errorf("order item unit_price cannot be negative")
	}
	return nil
}

// OrderTax is a named tax line applied to a base amount. TaxValue and
// AmountWithTaxes are derived fields persisted in the same transaction as the
// source fields.
type OrderTax struct {
	ID              string          `json:"id"`
	OrderID         string          `json:"order_id"`
	Name            string          `json:"name"`
	Rate            decimal.Decimal `json:"rate"`
	Amount          decimal.Decimal `json:"amount"`
	TaxValue        decimal.Decimal `json:"tax_value"`
	AmountWithTaxes decimal.Decimal `json:"amount_with_taxes"`
	AuditRecord
}

// Recompute derives tax_value and amount_with_taxes from amount and rate.
// Calling it repeatedly with unchanged inputs yields identical results.
func (t *OrderTax) Recompute() {
	t.TaxValue = t.Amount.Mul(t.Rate).Round(2)
	t.AmountWithTaxes = t.Amount.Add(t.TaxValue)
}

// Validate checks tax invariants. Rate is a fraction in [0, 1].
func (t *OrderTax) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("tax name is required")
	}
	if t.Rate.IsNegative() || t.Rate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("tax rate must be between 0 and 1")
	}
	if t.Amount.IsNegative() {
		return fmt.Errorf("tax amount cannot be negative")
	}
	return nil
}

// OrderStatusHistory is an immutable audit record of a status change. The
// most recent record for an order may never be deleted.
type OrderStatusHistory struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"order_id"`
	Status    string    `json:"status"`
	Note      string    `json:"note,omitempty"`
	Actor     string    `json:"actor"`
	CreatedAt time.Time `json:"created_at"`
}
