package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/aurelia-commerce/fulfillment/internal/domain"
	"github.com/aurelia-commerce/fulfillment/pkg/database"
	apperrors "github.com/aurelia-commerce/fulfillment/pkg/errors"
)

// CouponRepository implements repository.CouponRepository using PostgreSQL.
type CouponRepository struct {
	pool database.DBTX
}

// NewCouponRepository creates a new PostgreSQL-backed coupon repository.
func NewCouponRepository(pool database.DBTX) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// Create inserts a new coupon.
func (r *CouponRepository) Create(ctx context.Context, c *domain.Coupon) error {
	query := `
		INSERT INTO coupons (id, code, discount_percentage, minimum_amount, expiration_date, expired, usage_limit, used_count, product_id, product_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10, $11, $12)`

	_, err := r.pool.Exec(ctx, query,
		c.ID,
		c.Code,
		c.DiscountPercentage,
		c.MinimumAmount,
		c.ExpirationDate,
		c.Expired,
		c.UsageLimit,
		c.UsedCount,
		c.ProductID,
		c.ProductActive,
		c.CreatedAt,
		c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "coupons_code_key") {
			return apperrors.AlreadyExists("coupon", "code", c.Code)
		}
		return fmt.Errorf("insert coupon: %w", err)
	}
	return nil
}

// GetByCode retrieves a non-deleted coupon by its code.
func (r *CouponRepository) GetByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	var c domain.Coupon
	err := r.pool.QueryRow(ctx, `
		SELECT id, code, discount_percentage, minimum_amount, expiration_date, expired,
			   usage_limit, used_count, COALESCE(product_id::text, ''), product_active,
			   created_at, updated_at, is_deleted, deleted_at
		FROM coupons
		WHERE code = $1 AND is_deleted = FALSE`,
		code).Scan(
		&c.ID, &c.Code, &c.DiscountPercentage, &c.MinimumAmount, &c.ExpirationDate, &c.Expired,
		&c.UsageLimit, &c.UsedCount, &c.ProductID, &c.ProductActive,
		&c.CreatedAt, &c.UpdatedAt, &c.IsDeleted, &c.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("coupon", code)
		}
		return nil, fmt.Errorf("scan coupon: %w", err)
	}
	return &c, nil
}

// IncrementUsage bumps used_count with a conditional UPDATE so two concurrent
// redemptions of the last remaining use cannot both succeed.
func (r *CouponRepository) IncrementUsage(ctx context.Context, id string) error {
	ct, err := r.pool.Exec(ctx, `
		UPDATE coupons
		SET used_count = used_count + 1
		WHERE id = $1 AND is_deleted = FALSE
		  AND (usage_limit = 0 OR used_count < usage_limit)`,
		id)
	if err != nil {
		return fmt.Errorf("increment coupon usage: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.Conflict("coupon usage limit reached")
	}
	return nil
}
