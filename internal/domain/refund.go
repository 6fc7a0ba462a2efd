package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Refund status constants.
const (
	RefundStatusPending    = "pending"
	RefundStatusProcessing = "processing"
	RefundStatusApproved   = "approved"
	RefundStatusCompleted  = "completed"
	RefundStatusRejected   = "rejected"
	RefundStatusCancelled  = "cancelled"
)

// Refund reasons.
const (
	RefundReasonCustomerRequest  = "customer_request"
	RefundReasonDefectiveProduct = "defective_product"
	RefundReasonWrongItem        = "wrong_item"
	RefundReasonDamaged          = "damaged"
	RefundReasonLateDelivery     = "late_delivery"
	RefundReasonQualityIssue     = "quality_issue"
	RefundReasonSizeIssue        = "size_issue"
	RefundReasonOther            = "other"
)

// Refund methods.
const (
	RefundMethodOriginalPayment = "original_payment"
	RefundMethodStoreCredit     = "store_credit"
	RefundMethodBankTransfer    = "bank_transfer"
	RefundMethodGiftCard        = "gift_card"
)

// ValidRefundStatuses returns all valid refund statuses.
func ValidRefundStatuses() []string {
	return []string{
		RefundStatusPending,
		RefundStatusProcessing,
		RefundStatusApproved,
		RefundStatusCompleted,
		RefundStatusRejected,
		RefundStatusCancelled,
	}
}

// ValidRefundReasons returns all valid refund reasons.
func ValidRefundReasons() []string {
	return []string{
		RefundReasonCustomerRequest,
		RefundReasonDefectiveProduct,
		RefundReasonWrongItem,
		RefundReasonDamaged,
		RefundReasonLateDelivery,
		RefundReasonQualityIssue,
		RefundReasonSizeIssue,
		RefundReasonOther,
	}
}

// ValidRefundMethods returns all valid refund payout methods.
func ValidRefundMethods() []string {
	return []string{
		RefundMethodOriginalPayment,
		RefundMethodStoreCredit,
		RefundMethodBankTransfer,
		RefundMethodGiftCard,
	}
}

// IsValidRefundReason checks whether the given reason is recognized.
func IsValidRefundReason(reason string) bool {
	for _, r := range ValidRefundReasons() {
		if r == reason {
			return true
		}
	}
	return false
}

// IsValidRefundMethod checks whether the given payout method is recognized.
func IsValidRefundMethod(method string) bool {
	for _, m := range ValidRefundMethods() {
		if m == method {
			return true
		}
	}
	return false
}

// IsTerminalRefundStatus reports whether the status admits no further
// transition.
func IsTerminalRefundStatus(status string) bool {
	return status == RefundStatusCompleted ||
		status == RefundStatusRejected ||
		status == RefundStatusCancelled
}

// IsActiveRefundStatus reports whether the refund still counts against the
// per-order and per-item reconciliation limits. Rejected and cancelled
// refunds release their claimed quantities.
func IsActiveRefundStatus(status string) bool {
	return !(status == RefundStatusRejected || status == RefundStatusCancelled)
}

// Refund is a request to return money for part or all of an order.
type Refund struct {
	ID              string          `json:"id"`
	RefundNumber    string          `json:"refund_number"`
	OrderID         string          `json:"order_id"`
	PaymentID       string          `json:"payment_id,omitempty"`
	RequestedBy     string          `json:"requested_by"`
	Status          string          `json:"status"`
	Reason          string          `json:"reason"`
	ReasonDetail    string          `json:"reason_detail,omitempty"`
	Method          string          `json:"method"`
	AmountRequested decimal.Decimal `json:"amount_requested"`
	AmountApproved  decimal.Decimal `json:"amount_approved"`
	AmountRefunded  decimal.Decimal `json:"amount_refunded"`
	Items           []RefundItem    `json:"items"`
	RequestedAt     time.Time       `json:"requested_at"`
	ProcessedAt     *time.Time      `json:"processed_at,omitempty"`
	ProcessedBy     string          `json:"processed_by,omitempty"`
	AuditRecord
}

// refundTransitions defines valid refund status transitions.
var refundTransitions = map[string][]string{
	RefundStatusPending:    {RefundStatusApproved, RefundStatusRejected, RefundStatusCancelled},
	RefundStatusProcessing: {RefundStatusApproved, RefundStatusRejected, RefundStatusCancelled},
	RefundStatusApproved:   {RefundStatusCompleted, RefundStatusCancelled},
	RefundStatusCompleted:  {},
	RefundStatusRejected:   {},
	RefundStatusCancelled:  {},
}

// CanTransitionTo checks whether the refund may move to the target status.
func (r *Refund) CanTransitionTo(target string) bool {
	allowed, ok := refundTransitions[r.Status]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == target {
			return true
		}
	}
	return false
}

// Approve validates and applies the pending -> approved transition.
func (r *Refund) Approve(amount decimal.Decimal, actor string, now time.Time) error {
	if r.Status != RefundStatusPending && r.Status != RefundStatusProcessing {
		return fmt.Errorf("refund %s cannot be approved from status %q", r.RefundNumber, r.Status)
	}
	if amount.IsNegative() || amount.IsZero() {
		return fmt.Errorf("approved amount must be positive")
	}
	if amount.GreaterThan(r.AmountRequested) {
		return fmt.Errorf("approved amount %s exceeds requested amount %s", amount.StringFixed(2), r.AmountRequested.StringFixed(2))
	}
	r.Status = RefundStatusApproved
	r.AmountApproved = amount
	r.ProcessedAt = &now
	r.ProcessedBy = actor
	r.UpdatedAt = now
	return nil
}

// Complete validates and applies the approved -> completed transition. The
// payment gateway call itself happens in the service layer; this only moves
// the state.
func (r *Refund) Complete(amount decimal.Decimal, actor string, now time.Time) error {
	if r.Status != RefundStatusApproved {
		return fmt.Errorf("refund %s cannot be completed from status %q", r.RefundNumber, r.Status)
	}
	if amount.IsNegative() || amount.IsZero() {
		return fmt.Errorf("refunded amount must be positive")
	}
	if amount.GreaterThan(r.AmountApproved) {
		return fmt.Errorf("refunded amount %s exceeds approved amount %s", amount.StringFixed(2), r.AmountApproved.StringFixed(2))
	}
	r.Status = RefundStatusCompleted
	r.AmountRefunded = amount
	r.ProcessedAt = &now
	r.ProcessedBy = actor
	r.UpdatedAt = now
	return nil
}

// Reject validates and applies the pending -> rejected transition.
func (r *Refund) Reject(reason, actor string, now time.Time) error {
	if r.Status != RefundStatusPending && r.Status != RefundStatusProcessing {
		return fmt.Errorf("refund %s cannot be rejected from status %q", r.RefundNumber, r.Status)
	}
	if strings.TrimSpace(reason) == "" {
		return fmt.Errorf("rejection reason is required")
	}
	r.Status = RefundStatusRejected
	r.ReasonDetail = reason
	r.ProcessedAt = &now
	r.ProcessedBy = actor
	r.UpdatedAt = now
	return nil
}

// Cancel validates and applies the pending/approved -> cancelled transition.
func (r *Refund) Cancel(actor string, now time.Time) error {
	if !r.CanTransitionTo(RefundStatusCancelled) {
		return fmt.Errorf("refund %s cannot be cancelled from status %q", r.RefundNumber, r.Status)
	}
	r.Status = RefundStatusCancelled
	r.ProcessedAt = &now
	r.ProcessedBy = actor
	r.UpdatedAt = now
	return nil
}

// RecomputeRequested derives amount_requested from the non-deleted refund
// items. A zero sum means there is nothing left to refund and the refund
// should auto-cancel; the caller checks the returned amount.
func (r *Refund) RecomputeRequested() decimal.Decimal {
	total := decimal.Zero
	for i := range r.Items {
		if r.Items[i].IsDeleted {
			continue
		}
		total = total.Add(r.Items[i].Amount())
	}
	r.AmountRequested = total.Round(2)
	return r.AmountRequested
}

// Validate checks refund-level invariants.
func (r *Refund) Validate() error {
	if r.OrderID == "" {
		return fmt.Errorf("refund order_id is required")
	}
	if !IsValidRefundReason(r.Reason) {
		return fmt.Errorf("invalid refund reason %q", r.Reason)
	}
	if !IsValidRefundMethod(r.Method) {
		return fmt.Errorf("invalid refund method %q", r.Method)
	}
	if r.AmountApproved.GreaterThan(r.AmountRequested) {
		return fmt.Errorf("amount_approved cannot exceed amount_requested")
	}
	if r.AmountRefunded.GreaterThan(r.AmountApproved) {
		return fmt.Errorf("amount_refunded cannot exceed amount_approved")
	}
	if r.ProcessedAt != nil && r.ProcessedAt.Before(r.RequestedAt) {
		return fmt.Errorf("processed_at cannot precede requested_at")
	}
	return nil
}

// GenerateRefundNumber produces a REF-YYYYMMDD-XXXXXXXX identifier with a
// random suffix.
func GenerateRefundNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
	return fmt.Sprintf("REF-%s-%s", now.Format("20060102"), suffix)
}

// RefundItem claims a quantity of one order item for refund. Across all
// active refunds for the same order item, claimed quantities may never exceed
// the item's original quantity.
type RefundItem struct {
	ID          string          `json:"id"`
	RefundID    string          `json:"refund_id"`
	OrderItemID string          `json:"order_item_id"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	AuditRecord
}

// Amount returns quantity times unit price.
func (i *RefundItem) Amount() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Validate checks refund item invariants.
func (i *RefundItem) Validate() error {
	if i.OrderItemID == "" {
		return fmt.Errorf("refund item order_item_id is required")
	}
	if i.Quantity <= 0 {
		return fmt.Errorf("refund item quantity must be positive")
	}
	if i.UnitPrice.IsNegative() {
		return fmt.Errorf("refund item unit_price cannot be negative")
	}
	return nil
}

// CheckReconciliation verifies that claiming quantity units of an order item
// stays within the item's original quantity, given the current sum claimed by
// sibling refund items on other active refunds. Violations are rejected,
// never clamped.
func CheckReconciliation(orderItemQuantity, siblingClaimed, quantity int) error {
	if siblingClaimed+quantity > orderItemQuantity {
		return fmt.Errorf(
			"refund quantity %d exceeds remaining refundable quantity %d",
			quantity, orderItemQuantity-siblingClaimed,
		)
	}
	return nil
}
