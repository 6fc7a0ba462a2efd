package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var oneHundred = decimal.NewFromInt(100)

// Coupon is a percentage discount code with a validity window, a minimum cart
// amount, and a bounded usage count.
type Coupon struct {
	ID                 string          `json:"id"`
	Code               string          `json:"code"`
	DiscountPercentage decimal.Decimal `json:"discount_percentage"`
	MinimumAmount      decimal.Decimal `json:"minimum_amount"`
	ExpirationDate     time.Time       `json:"expiration_date"`
	Expired            bool            `json:"expired"`
	UsageLimit         int             `json:"usage_limit"`
	UsedCount          int             `json:"used_count"`
	ProductID          string          `json:"product_id,omitempty"`
	ProductActive      bool            `json:"product_active"`
	AuditRecord
}

// Valid reports whether the coupon can be applied to a cart of the given
// total at the given time. An explicitly expired coupon is never valid
// regardless of its other fields.
func (c *Coupon) Valid(cartTotal decimal.Decimal, now time.Time) bool {
	return c.invalidReason(cartTotal, now) == ""
}

func (c *Coupon) invalidReason(cartTotal decimal.Decimal, now time.Time) string {
	switch {
	case c.Expired || c.IsDeleted:
		return "coupon is expired"
	case !c.ExpirationDate.IsZero() && c.ExpirationDate.Before(now):
		return "coupon expiration date has passed"
	case c.UsageLimit > 0 && c.UsedCount >= c.UsageLimit:
		return "coupon usage limit reached"
	case c.ProductID != "" && !c.ProductActive:
		return "coupon references an inactive product"
	case cartTotal.LessThan(c.MinimumAmount):
		return fmt.Sprintf("cart total is below the coupon minimum of %s", c.MinimumAmount.StringFixed(2))
	}
	return ""
}

// ApplyDiscount returns the amount after the percentage discount, rounded to
// 2 decimal places and clamped at zero. It fails if the coupon is not valid
// for the given amount.
func (c *Coupon) ApplyDiscount(amount decimal.Decimal, now time.Time) (decimal.Decimal, error) {
	if reason := c.invalidReason(amount, now); reason != "" {
		return decimal.Zero, fmt.Errorf("coupon %s not applicable: %s", c.Code, reason)
	}
	discount := amount.Mul(c.DiscountPercentage).Div(oneHundred).Round(2)
	result := amount.Sub(discount)
	if result.IsNegative() {
		result = decimal.Zero
	}
	return result, nil
}

// DiscountAmount returns just the discount value for the given amount,
// rounded to 2 decimal places.
func (c *Coupon) DiscountAmount(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(c.DiscountPercentage).Div(oneHundred).Round(2)
}

// Validate checks coupon invariants. The discount percentage lies in (0, 100]
// and used_count never exceeds usage_limit.
func (c *Coupon) Validate() error {
	if c.Code == "" {
		return fmt.Errorf("coupon code is required")
	}
	if !c.DiscountPercentage.IsPositive() || c.DiscountPercentage.GreaterThan(oneHundred) {
		return fmt.Errorf("discount percentage must be in (0, 100]")
	}
	if c.MinimumAmount.IsNegative() {
		return fmt.Errorf("minimum amount cannot be negative")
	}
	if c.UsageLimit < 0 {
		return fmt.Errorf("usage limit cannot be negative")
	}
	if c.UsageLimit > 0 && c.UsedCount > c.UsageLimit {
		return fmt.Errorf("used count cannot exceed usage limit")
	}
	return nil
}
