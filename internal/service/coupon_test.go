package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/aurelia-commerce/fulfillment/internal/domain"
	apperrors "github.com/aurelia-commerce/fulfillment/pkg/errors"
)

func newCouponService(coupons *mockCouponRepository) *CouponService {
	return NewCouponService(coupons, newTestLogger())
}

func TestCreateCoupon_UppercasesCode(t *testing.T) {
	coupons := new(mockCouponRepository)
	svc := newCouponService(coupons)
	ctx := context.Background()

	coupons.On("Create", ctx, mock.MatchedBy(func(c *domain.Coupon) bool {
		return c.Code == "SAVE10"
	})).Return(nil)

	coupon, err := svc.CreateCoupon(ctx, &CreateCouponInput{
		Code:               " save10 ",
		DiscountPercentage: mustDec("10"),
		UsageLimit:         100,
	})

	require.NoError(t, err)
	assert.Equal(t, "SAVE10", coupon.Code)
	assert.True(t, coupon.ProductActive)
	coupons.AssertExpectations(t)
}

func TestCreateCoupon_PercentageOutOfRange(t *testing.T) {
	coupons := new(mockCouponRepository)
	svc := newCouponService(coupons)

	_, err := svc.CreateCoupon(context.Background(), &CreateCouponInput{
		Code:               "TOOBIG",
		DiscountPercentage: mustDec("150"),
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	coupons.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestCreateCoupon_DuplicateCode(t *testing.T) {
	coupons := new(mockCouponRepository)
	svc := newCouponService(coupons)
	ctx := context.Background()

	coupons.On("Create", ctx, mock.AnythingOfType("*domain.Coupon")).
		Return(apperrors.AlreadyExists("coupon", "code", "SAVE10"))

	_, err := svc.CreateCoupon(ctx, &CreateCouponInput{
		Code:               "SAVE10",
		DiscountPercentage: mustDec("10"),
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrAlreadyExists)
}

func TestValidateCoupon_Valid(t *testing.T) {
	coupons := new(mockCouponRepository)
	svc := newCouponService(coupons)
	ctx := context.Background()

	coupon := &domain.Coupon{
		ID:                 "coupon-1",
		Code:               "SAVE10",
		DiscountPercentage: mustDec("10"),
		ProductActive:      true,
	}
	coupons.On("GetByCode", ctx, "SAVE10").Return(coupon, nil)

	result, err := svc.ValidateCoupon(ctx, "save10", mustDec("70.00"))

	require.NoError(t, err)
	assert.True(t, result.Valid)
	require.NotNil(t, result.DiscountAmount)
	assert.True(t, result.DiscountAmount.Equal(mustDec("7.00")), "discount: %s", result.DiscountAmount)
	assert.True(t, result.FinalAmount.Equal(mustDec("63.00")), "final: %s", result.FinalAmount)
}

func TestValidateCoupon_BelowMinimum(t *testing.T) {
	coupons := new(mockCouponRepository)
	svc := newCouponService(coupons)
	ctx := context.Background()

	coupon := &domain.Coupon{
		ID:                 "coupon-1",
		Code:               "BIGSPEND",
		DiscountPercentage: mustDec("15"),
		MinimumAmount:      mustDec("100.00"),
		ProductActive:      true,
	}
	coupons.On("GetByCode", ctx, "BIGSPEND").Return(coupon, nil)

	result, err := svc.ValidateCoupon(ctx, "BIGSPEND", mustDec("70.00"))

	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Contains(t, result.Reason, "below the coupon minimum")
	assert.Nil(t, result.DiscountAmount)
}

func TestValidateCoupon_UsageLimitReached(t *testing.T) {
	coupons := new(mockCouponRepository)
	svc := newCouponService(coupons)
	ctx := context.Background()

	coupon := &domain.Coupon{
		ID:                 "coupon-1",
		Code:               "SAVE10",
		DiscountPercentage: mustDec("10"),
		UsageLimit:         5,
		UsedCount:          5,
		ProductActive:      true,
	}
	coupons.On("GetByCode", ctx, "SAVE10").Return(coupon, nil)

	result, err := svc.ValidateCoupon(ctx, "SAVE10", mustDec("70.00"))

	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Contains(t, result.Reason, "usage limit reached")
}

func TestValidateCoupon_ExpiredDate(t *testing.T) {
	coupons := new(mockCouponRepository)
	svc := newCouponService(coupons)
	ctx := context.Background()

	coupon := &domain.Coupon{
		ID:                 "coupon-1",
		Code:               "OLD",
		DiscountPercentage: mustDec("10"),
		ExpirationDate:     time.Now().UTC().Add(-24 * time.Hour),
		ProductActive:      true,
	}
	coupons.On("GetByCode", ctx, "OLD").Return(coupon, nil)

	result, err := svc.ValidateCoupon(ctx, "OLD", mustDec("70.00"))

	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Contains(t, result.Reason, "expiration date has passed")
}

func TestValidateCoupon_UnknownCode(t *testing.T) {
	coupons := new(mockCouponRepository)
	svc := newCouponService(coupons)
	ctx := context.Background()

	coupons.On("GetByCode", ctx, "NOPE").Return(nil, apperrors.NotFound("coupon", "NOPE"))

	_, err := svc.ValidateCoupon(ctx, "NOPE", mustDec("70.00"))

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
