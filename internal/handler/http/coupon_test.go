package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/aurelia-commerce/fulfillment/internal/domain"
	"github.com/aurelia-commerce/fulfillment/internal/service"
	apperrors "github.com/aurelia-commerce/fulfillment/pkg/errors"
)

func setupCouponRouter(coupons *mockCouponRepository) *chi.Mux {
	logger := testLogger()
	handler := NewCouponHandler(service.NewCouponService(coupons, logger), logger)

	r := chi.NewRouter()
	r.Route("/api/v1/coupons", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Post("/", handler.CreateCoupon)
		r.Post("/validate", handler.ValidateCoupon)
	})
	return r
}

// ============================================================================
// POST /api/v1/coupons - CreateCoupon
// ============================================================================

func TestCreateCoupon_Success(t *testing.T) {
	coupons := new(mockCouponRepository)
	router := setupCouponRouter(coupons)

	coupons.On("Create", mock.Anything, mock.AnythingOfType("*domain.Coupon")).Return(nil)

	body, _ := json.Marshal(CreateCouponRequest{
		Code:               "save15",
		DiscountPercentage: decimal.RequireFromString("15"),
		MinimumAmount:      decimal.RequireFromString("25"),
		ExpirationDate:     time.Now().UTC().Add(30 * 24 * time.Hour),
		UsageLimit:         100,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/coupons", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Data)

	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "SAVE15", data["code"])
	assert.Equal(t, "15", data["discount_percentage"])
	assert.Equal(t, float64(100), data["usage_limit"])
	assert.Equal(t, true, data["product_active"])

	coupons.AssertExpectations(t)
}

func TestCreateCoupon_MissingCode(t *testing.T) {
	coupons := new(mockCouponRepository)
	router := setupCouponRouter(coupons)

	body, _ := json.Marshal(CreateCouponRequest{
		DiscountPercentage: decimal.RequireFromString("15"),
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/coupons", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)

	coupons.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestCreateCoupon_PercentageOutOfRange(t *testing.T) {
	coupons := new(mockCouponRepository)
	router := setupCouponRouter(coupons)

	body, _ := json.Marshal(CreateCouponRequest{
		Code:               "MEGA",
		DiscountPercentage: decimal.RequireFromString("150"),
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/coupons", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INVALID_INPUT", resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "discount percentage")

	coupons.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestCreateCoupon_DuplicateCode(t *testing.T) {
	coupons := new(mockCouponRepository)
	router := setupCouponRouter(coupons)

	coupons.On("Create", mock.Anything, mock.AnythingOfType("*domain.Coupon")).
		Return(apperrors.AlreadyExists("coupon", "code", "SAVE15"))

	body, _ := json.Marshal(CreateCouponRequest{
		Code:               "SAVE15",
		DiscountPercentage: decimal.RequireFromString("15"),
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/coupons", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "ALREADY_EXISTS", resp.Error.Code)

	coupons.AssertExpectations(t)
}

// ============================================================================
// POST /api/v1/coupons/validate - ValidateCoupon
// ============================================================================

func TestValidateCoupon_Valid(t *testing.T) {
	coupons := new(mockCouponRepository)
	router := setupCouponRouter(coupons)

	coupon := &domain.Coupon{
		ID:                 "550e8400-e29b-41d4-a716-446655440030",
		Code:               "SAVE10",
		DiscountPercentage: decimal.RequireFromString("10"),
		ExpirationDate:     time.Now().UTC().Add(24 * time.Hour),
		ProductActive:      true,
	}
	coupons.On("GetByCode", mock.Anything, "SAVE10").Return(coupon, nil)

	body, _ := json.Marshal(ValidateCouponRequest{
		Code:      "save10",
		CartTotal: decimal.RequireFromString("50"),
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/coupons/validate", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Data)

	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, data["valid"])
	assert.Equal(t, "5", data["discount_amount"])
	assert.Equal(t, "45", data["final_amount"])

	coupons.AssertExpectations(t)
}

func TestValidateCoupon_BelowMinimum(t *testing.T) {
	coupons := new(mockCouponRepository)
	router := setupCouponRouter(coupons)

	coupon := &domain.Coupon{
		ID:                 "550e8400-e29b-41d4-a716-446655440030",
		Code:               "BIGSPEND",
		DiscountPercentage: decimal.RequireFromString("20"),
		MinimumAmount:      decimal.RequireFromString("100"),
		ProductActive:      true,
	}
	coupons.On("GetByCode", mock.Anything, "BIGSPEND").Return(coupon, nil)

	body, _ := json.Marshal(ValidateCouponRequest{
		Code:      "BIGSPEND",
		CartTotal: decimal.RequireFromString("40"),
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/coupons/validate", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Data)

	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, false, data["valid"])
	assert.Contains(t, data["reason"], "below the coupon minimum")
	assert.Nil(t, data["discount_amount"])

	coupons.AssertExpectations(t)
}

func TestValidateCoupon_UnknownCode(t *testing.T) {
	coupons := new(mockCouponRepository)
	router := setupCouponRouter(coupons)

	coupons.On("GetByCode", mock.Anything, "NOPE").
		Return(nil, apperrors.NotFound("coupon", "NOPE"))

	body, _ := json.Marshal(ValidateCouponRequest{
		Code:      "NOPE",
		CartTotal: decimal.RequireFromString("40"),
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/coupons/validate", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)

	coupons.AssertExpectations(t)
}
