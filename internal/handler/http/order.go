package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/aurelia-commerce/fulfillment/internal/domain"
	"github.com/aurelia-commerce/fulfillment/internal/repository"
	"github.com/aurelia-commerce/fulfillment/internal/service"
	"github.com/aurelia-commerce/fulfillment/pkg/httputil"
	"github.com/aurelia-commerce/fulfillment/pkg/middleware"
	"github.com/aurelia-commerce/fulfillment/pkg/pagination"
	"github.com/aurelia-commerce/fulfillment/pkg/validator"
)

// OrderHandler handles HTTP requests for order endpoints.
type OrderHandler struct {
	service *service.OrderService
	logger  *slog.Logger
}

// NewOrderHandler creates a new order HTTP handler.
func NewOrderHandler(svc *service.OrderService, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		service: svc,
		logger:  logger,
	}
}

// --- Request DTOs ---

// PlaceOrderItemRequest is the JSON request body for an order line item.
type PlaceOrderItemRequest struct {
	ProductID string          `json:"product_id" validate:"required,uuid"`
	VariantID string          `json:"variant_id" validate:"omitempty,uuid"`
	Name      string          `json:"name" validate:"required"`
	SKU       string          `json:"sku"`
	UnitPrice decimal.Decimal `json:"unit_price" validate:"required"`
	Quantity  int             `json:"quantity" validate:"required,gte=1"`
	WeightKg  decimal.Decimal `json:"weight_kg"`
}

// PlaceOrderTaxRequest is the JSON request body for an order tax line.
type PlaceOrderTaxRequest struct {
	Name   string          `json:"name" validate:"required"`
	Rate   decimal.Decimal `json:"rate" validate:"required"`
	Amount decimal.Decimal `json:"amount"`
}

// PlaceOrderRequest is the JSON request body for placing an order. Items come
// either inline or via cart_id.
type PlaceOrderRequest struct {
	CartID          string                  `json:"cart_id" validate:"omitempty,uuid"`
	Items           []PlaceOrderItemRequest `json:"items" validate:"omitempty,dive"`
	Currency        string                  `json:"currency" validate:"required,len=3"`
	CouponCode      string                  `json:"coupon_code"`
	ShippingAddress *domain.Address         `json:"shipping_address"`
	Taxes           []PlaceOrderTaxRequest  `json:"taxes" validate:"omitempty,dive"`
	Notes           string                  `json:"notes"`
}

// TransitionStatusRequest is the JSON request body for a status transition.
type TransitionStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending unpaid paid approved processing shipped delivered completed cancelled refunded"`
	Note   string `json:"note"`
}

// SaveTaxRequest is the JSON request body for adding or updating a tax line.
type SaveTaxRequest struct {
	ID     string          `json:"id" validate:"omitempty,uuid"`
	Name   string          `json:"name" validate:"required"`
	Rate   decimal.Decimal `json:"rate" validate:"required"`
	Amount decimal.Decimal `json:"amount"`
}

// --- Handlers ---

// PlaceOrder handles POST /api/v1/orders
func (h *OrderHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	// Limit request body to 1MB to prevent DoS via large payloads.
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req PlaceOrderRequest
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

	items := make([]service.OrderItemInput, len(req.Items))
	for i, item := range req.Items {
		items[i] = service.OrderItemInput{
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Name:      item.Name,
			SKU:       item.SKU,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			WeightKg:  item.WeightKg,
		}
	}
	taxes := make([]service.TaxInput, len(req.Taxes))
	for i, tax := range req.Taxes {
		taxes[i] = service.TaxInput{
			Name:   tax.Name,
			Rate:   tax.Rate,
			Amount: tax.Amount,
		}
	}

	input := &service.PlaceOrderInput{
		CartID:          req.CartID,
		Items:           items,
		Currency:        req.Currency,
		CouponCode:      req.CouponCode,
		ShippingAddress: req.ShippingAddress,
		Taxes:           taxes,
		Notes:           req.Notes,
	}

	order, err := h.service.PlaceOrder(r.Context(), middleware.UserIDFromContext(r.Context()), input)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: order})
}

// ListOrders handles GET /api/v1/orders
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	params := pagination.FromRequest(r)
	filter := repository.OrderFilter{
		Page:    params.Page,
		PerPage: params.PerPage,
	}
	if v := r.URL.Query().Get("user_id"); v != "" {
		filter.UserID = &v
	}
	if v := r.URL.Query().Get("status"); v != "" {
		filter.Status = &v
	}

	orders, total, err := h.service.ListOrders(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.NewPaginatedResponse(orders, total, filter.Page, filter.PerPage))
}

// GetOrder handles GET /api/v1/orders/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	order, err := h.service.GetOrder(r.Context(), id.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: order})
}

// TransitionStatus handles PUT /api/v1/orders/{id}/status
func (h *OrderHandler) TransitionStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req TransitionStatusRequest
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

	actor := middleware.UserIDFromContext(r.Context())
	order, err := h.service.TransitionStatus(r.Context(), id.String(), req.Status, req.Note, actor)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: order})
}

// ListStatusHistory handles GET /api/v1/orders/{id}/history
func (h *OrderHandler) ListStatusHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	history, err := h.service.ListStatusHistory(r.Context(), id.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: history})
}

// SaveTax handles PUT /api/v1/orders/{id}/taxes
func (h *OrderHandler) SaveTax(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req SaveTaxRequest
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

	order, err := h.service.SaveTax(r.Context(), id.String(), &service.TaxInput{
		ID:     req.ID,
		Name:   req.Name,
		Rate:   req.Rate,
		Amount: req.Amount,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: order})
}

// DeleteOrder handles DELETE /api/v1/orders/{id}
func (h *OrderHandler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	if err := h.service.DeleteOrder(r.Context(), id.String()); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DeleteItem handles DELETE /api/v1/orders/{id}/items/{itemId}
func (h *OrderHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	itemID, ok := httputil.ParseUUID(w, chi.URLParam(r, "itemId"))
	if !ok {
		return
	}

	order, err := h.service.DeleteItem(r.Context(), id.String(), itemID.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: order})
}
