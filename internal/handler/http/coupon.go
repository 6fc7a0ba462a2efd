package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aurelia-commerce/fulfillment/internal/service"
	"github.com/aurelia-commerce/fulfillment/pkg/httputil"
	"github.com/aurelia-commerce/fulfillment/pkg/validator"
)

// CouponHandler handles HTTP requests for coupon endpoints.
type CouponHandler struct {
	service *service.CouponService
	logger  *slog.Logger
}

// NewCouponHandler creates a new coupon HTTP handler.
func NewCouponHandler(svc *service.CouponService, logger *slog.Logger) *CouponHandler {
	return &CouponHandler{
		service: svc,
		logger:  logger,
	}
}

// --- Request DTOs ---

// CreateCouponRequest is the JSON request body for creating a coupon.
type CreateCouponRequest struct {
	Code               string          `json:"code" validate:"required,min=3,max=32"`
	DiscountPercentage decimal.Decimal `json:"discount_percentage" validate:"required"`
	MinimumAmount      decimal.Decimal `json:"minimum_amount"`
	ExpirationDate     time.Time       `json:"expiration_date"`
	UsageLimit         int             `json:"usage_limit" validate:"gte=0"`
	ProductID          string          `json:"product_id" validate:"omitempty,uuid"`
}

// ValidateCouponRequest is the JSON request body for validating a coupon
// against a cart total.
type ValidateCouponRequest struct {
	Code      string          `json:"code" validate:"required"`
	CartTotal decimal.Decimal `json:"cart_total" validate:"required"`
}

// --- Handlers ---

// CreateCoupon handles POST /api/v1/coupons
func (h *CouponHandler) CreateCoupon(w http.ResponseWriter, r *http.Request) {
	// Limit request body to 1MB to prevent DoS via large payloads.
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req CreateCouponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return
	}

	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	coupon, err := h.service.CreateCoupon(r.Context(), &service.CreateCouponInput{
		Code:               req.Code,
		DiscountPercentage: req.DiscountPercentage,
		MinimumAmount:      req.MinimumAmount,
		ExpirationDate:     req.ExpirationDate,
		UsageLimit:         req.UsageLimit,
		ProductID:          req.ProductID,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: coupon})
}

// ValidateCoupon handles POST /api/v1/coupons/validate
func (h *CouponHandler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req ValidateCouponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return
	}

	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	result, err := h.service.ValidateCoupon(r.Context(), req.Code, req.CartTotal)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: result})
}
