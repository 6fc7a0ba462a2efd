package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aurelia-commerce/fulfillment/internal/domain"
	"github.com/aurelia-commerce/fulfillment/internal/repository"
	apperrors "github.com/aurelia-commerce/fulfillment/pkg/errors"
)

// CouponService manages discount codes and their validation.
type CouponService struct {
	coupons repository.CouponRepository
	logger  *slog.Logger
}

// NewCouponService creates a new coupon service.
func NewCouponService(coupons repository.CouponRepository, logger *slog.Logger) *CouponService {
	return &CouponService{coupons: coupons, logger: logger}
}

// CreateCouponInput holds the parameters for creating a coupon.
type CreateCouponInput struct {
	Code               string          `json:"code" validate:"required"`
	DiscountPercentage decimal.Decimal `json:"discount_percentage" validate:"required"`
	MinimumAmount      decimal.Decimal `json:"minimum_amount,omitempty"`
	ExpirationDate     time.Time       `json:"expiration_date,omitempty"`
	UsageLimit         int             `json:"usage_limit,omitempty"`
	ProductID          string          `json:"product_id,omitempty"`
}

// CreateCoupon registers a new coupon code. Codes are stored uppercase.
func (s *CouponService) CreateCoupon(ctx context.Context, input *CreateCouponInput) (*domain.Coupon, error) {
	if input == nil {
		return nil, apperrors.InvalidInput("coupon input is required")
	}

	now := time.Now().UTC()
	coupon := &domain.Coupon{
		ID:                 uuid.New().String(),
		Code:               strings.ToUpper(strings.TrimSpace(input.Code)),
		DiscountPercentage: input.DiscountPercentage,
		MinimumAmount:      input.MinimumAmount,
		ExpirationDate:     input.ExpirationDate,
		UsageLimit:         input.UsageLimit,
		ProductID:          input.ProductID,
		ProductActive:      true,
		AuditRecord:        domain.NewAuditRecord(now),
	}
	if err := coupon.Validate(); err != nil {
		return nil, apperrors.InvalidInput(err.Error())
	}

	if err := s.coupons.Create(ctx, coupon); err != nil {
		return nil, fmt.Errorf("create coupon: %w", err)
	}

	s.logger.InfoContext(ctx, "coupon created",
		slog.String("coupon_id", coupon.ID),
		slog.String("code", coupon.Code),
		slog.String("discount_percentage", coupon.DiscountPercentage.StringFixed(2)),
	)

	return coupon, nil
}

// CouponValidation is the result of checking a code against a cart total.
type CouponValidation struct {
	Valid          bool             `json:"valid"`
	Reason         string           `json:"reason,omitempty"`
	Coupon         *domain.Coupon   `json:"coupon,omitempty"`
	DiscountAmount *decimal.Decimal `json:"discount_amount,omitempty"`
	FinalAmount    *decimal.Decimal `json:"final_amount,omitempty"`
}

// ValidateCoupon checks whether the code applies to the given cart total and
// returns the discounted amounts. An unknown code reports as not found; all
// other rejections come back as an invalid result rather than an error.
func (s *CouponService) ValidateCoupon(ctx context.Context, code string, cartTotal decimal.Decimal) (*CouponValidation, error) {
	coupon, err := s.coupons.GetByCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return nil, fmt.Errorf("get coupon: %w", err)
	}

	now := time.Now().UTC()
	final, err := coupon.ApplyDiscount(cartTotal, now)
	if err != nil {
		return &CouponValidation{Valid: false, Reason: err.Error(), Coupon: coupon}, nil
	}

	discount := coupon.DiscountAmount(cartTotal)
	return &CouponValidation{
		Valid:          true,
		Coupon:         coupon,
		DiscountAmount: &discount,
		FinalAmount:    &final,
	}, nil
}
