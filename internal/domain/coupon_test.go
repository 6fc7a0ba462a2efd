package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCoupon() Coupon {
	return Coupon{
		Code:               "SAVE10",
		DiscountPercentage: dec("10"),
		MinimumAmount:      dec("50.00"),
		ExpirationDate:     time.Now().UTC().Add(24 * time.Hour),
		UsageLimit:         100,
		UsedCount:          0,
		ProductActive:      true,
	}
}

// ============================================================================
// Coupon Validity Tests
// ============================================================================

func TestCoupon_Valid(t *testing.T) {
	c := testCoupon()
	assert.True(t, c.Valid(dec("70.00"), time.Now().UTC()))
}

func TestCoupon_Valid_ExpiredFlagAlwaysWins(t *testing.T) {
	c := testCoupon()
	c.Expired = true
	assert.False(t, c.Valid(dec("1000.00"), time.Now().UTC()))
}

func TestCoupon_Valid_PastExpirationDate(t *testing.T) {
	c := testCoupon()
	c.ExpirationDate = time.Now().UTC().Add(-time.Hour)
	assert.False(t, c.Valid(dec("70.00"), time.Now().UTC()))
}

func TestCoupon_Valid_UsageExhausted(t *testing.T) {
	c := testCoupon()
	c.UsageLimit = 5
	c.UsedCount = 5
	assert.False(t, c.Valid(dec("70.00"), time.Now().UTC()))
}

func TestCoupon_Valid_BelowMinimum(t *testing.T) {
	c := testCoupon()
	assert.False(t, c.Valid(dec("49.99"), time.Now().UTC()))
	assert.True(t, c.Valid(dec("50.00"), time.Now().UTC()))
}

func TestCoupon_Valid_InactiveProduct(t *testing.T) {
	c := testCoupon()
	c.ProductID = "p1"
	c.ProductActive = false
	assert.False(t, c.Valid(dec("70.00"), time.Now().UTC()))

	c.ProductActive = true
	assert.True(t, c.Valid(dec("70.00"), time.Now().UTC()))
}

func TestCoupon_Valid_DeletedCoupon(t *testing.T) {
	c := testCoupon()
	c.MarkDeleted(time.Now())
	assert.False(t, c.Valid(dec("70.00"), time.Now().UTC()))
}

// ============================================================================
// Discount Application Tests
// ============================================================================

func TestCoupon_ApplyDiscount_Scenario(t *testing.T) {
	// 2 @ $10 + 1 @ $50 = $70 cart with a 10% coupon, minimum $50.
	c := testCoupon()
	result, err := c.ApplyDiscount(dec("70.00"), time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, "63.00", result.StringFixed(2))
}

func TestCoupon_ApplyDiscount_InvalidForAmount(t *testing.T) {
	c := testCoupon()
	_, err := c.ApplyDiscount(dec("30.00"), time.Now().UTC())
	assert.Error(t, err)
}

func TestCoupon_ApplyDiscount_RoundsToTwoPlaces(t *testing.T) {
	c := testCoupon()
	c.DiscountPercentage = dec("7.5")
	c.MinimumAmount = decimal.Zero

	result, err := c.ApplyDiscount(dec("99.99"), time.Now().UTC())
	require.NoError(t, err)
	// 99.99 * 0.075 = 7.49925, rounds to 7.50.
	assert.Equal(t, "92.49", result.StringFixed(2))
}

func TestCoupon_ApplyDiscount_FullDiscountClampedAtZero(t *testing.T) {
	c := testCoupon()
	c.DiscountPercentage = dec("100")
	c.MinimumAmount = decimal.Zero

	result, err := c.ApplyDiscount(dec("25.00"), time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, result.IsZero())
}

func TestCoupon_ApplyDiscount_RoundTrip(t *testing.T) {
	// Reversing the percentage math recovers the original amount within
	// rounding tolerance.
	c := testCoupon()
	c.MinimumAmount = decimal.Zero
	original := dec("83.33")

	discounted, err := c.ApplyDiscount(original, time.Now().UTC())
	require.NoError(t, err)

	recovered := discounted.Div(decimal.NewFromInt(1).Sub(c.DiscountPercentage.Div(oneHundred))).Round(2)
	diff := recovered.Sub(original).Abs()
	assert.True(t, diff.LessThanOrEqual(dec("0.01")), "recovered %s from %s", recovered, original)
}

// ============================================================================
// Coupon Invariant Tests
// ============================================================================

func TestCoupon_Validate(t *testing.T) {
	c := testCoupon()
	require.NoError(t, c.Validate())

	noCode := c
	noCode.Code = ""
	assert.Error(t, noCode.Validate())

	zeroPct := c
	zeroPct.DiscountPercentage = decimal.Zero
	assert.Error(t, zeroPct.Validate())

	overPct := c
	overPct.DiscountPercentage = dec("100.01")
	assert.Error(t, overPct.Validate())

	hundredPct := c
	hundredPct.DiscountPercentage = dec("100")
	assert.NoError(t, hundredPct.Validate())

	overUsed := c
	overUsed.UsageLimit = 3
	overUsed.UsedCount = 4
	assert.Error(t, overUsed.Validate())
}

func TestCoupon_DiscountAmount(t *testing.T) {
	c := testCoupon()
	assert.Equal(t, "7.00", c.DiscountAmount(dec("70.00")).StringFixed(2))
}
