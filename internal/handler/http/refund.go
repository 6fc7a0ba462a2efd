package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/aurelia-commerce/fulfillment/internal/repository"
	"github.com/aurelia-commerce/fulfillment/internal/service"
	"github.com/aurelia-commerce/fulfillment/pkg/httputil"
	"github.com/aurelia-commerce/fulfillment/pkg/middleware"
	"github.com/aurelia-commerce/fulfillment/pkg/pagination"
	"github.com/aurelia-commerce/fulfillment/pkg/validator"
)

// RefundHandler handles HTTP requests for refund endpoints.
type RefundHandler struct {
	service *service.RefundService
	logger  *slog.Logger
}

// NewRefundHandler creates a new refund HTTP handler.
func NewRefundHandler(svc *service.RefundService, logger *slog.Logger) *RefundHandler {
	return &RefundHandler{
		service: svc,
		logger:  logger,
	}
}

// --- Request DTOs ---

// RefundItemRequest is the JSON request body for one refund item claim.
type RefundItemRequest struct {
	OrderItemID string `json:"order_item_id" validate:"required,uuid"`
	Quantity    int    `json:"quantity" validate:"required,gte=1"`
}

// RequestRefundRequest is the JSON request body for requesting a refund.
type RequestRefundRequest struct {
	OrderID      string              `json:"order_id" validate:"required,uuid"`
	PaymentID    string              `json:"payment_id" validate:"omitempty,uuid"`
	Reason       string              `json:"reason" validate:"required,oneof=customer_request defective_product wrong_item damaged late_delivery quality_issue size_issue other"`
	ReasonDetail string              `json:"reason_detail"`
	Method       string              `json:"method" validate:"required,oneof=original_payment store_credit bank_transfer gift_card"`
	Items        []RefundItemRequest `json:"items" validate:"required,min=1,dive"`
}

// ApproveRefundRequest is the JSON request body for approving a refund.
type ApproveRefundRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"required"`
}

// RejectRefundRequest is the JSON request body for rejecting a refund.
type RejectRefundRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// --- Handlers ---

// RequestRefund handles POST /api/v1/refunds
func (h *RefundHandler) RequestRefund(w http.ResponseWriter, r *http.Request) {
	// Limit request body to 1MB to prevent DoS via large payloads.
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req RequestRefundRequest
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

	items := make([]service.RefundItemInput, len(req.Items))
	for i, item := range req.Items {
		items[i] = service.RefundItemInput{
			OrderItemID: item.OrderItemID,
			Quantity:    item.Quantity,
		}
	}

	requestedBy := middleware.UserIDFromContext(r.Context())
	refund, err := h.service.RequestRefund(r.Context(), requestedBy, &service.RequestRefundInput{
		OrderID:      req.OrderID,
		PaymentID:    req.PaymentID,
		Reason:       req.Reason,
		ReasonDetail: req.ReasonDetail,
		Method:       req.Method,
		Items:        items,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: refund})
}

// GetRefund handles GET /api/v1/refunds/{id}
func (h *RefundHandler) GetRefund(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	refund, err := h.service.GetRefund(r.Context(), id.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: refund})
}

// ListRefunds handles GET /api/v1/refunds
func (h *RefundHandler) ListRefunds(w http.ResponseWriter, r *http.Request) {
	params := pagination.FromRequest(r)
	filter := repository.RefundFilter{
		Page:    params.Page,
		PerPage: params.PerPage,
	}
	if v := r.URL.Query().Get("order_id"); v != "" {
		filter.OrderID = &v
	}
	if v := r.URL.Query().Get("status"); v != "" {
		filter.Status = &v
	}

	refunds, total, err := h.service.ListRefunds(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.NewPaginatedResponse(refunds, total, filter.Page, filter.PerPage))
}

// Approve handles POST /api/v1/refunds/{id}/approve
func (h *RefundHandler) Approve(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req ApproveRefundRequest
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
	refund, err := h.service.Approve(r.Context(), id.String(), req.Amount, actor)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: refund})
}

// Complete handles POST /api/v1/refunds/{id}/complete
func (h *RefundHandler) Complete(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	actor := middleware.UserIDFromContext(r.Context())
	refund, err := h.service.Complete(r.Context(), id.String(), actor)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: refund})
}

// Reject handles POST /api/v1/refunds/{id}/reject
func (h *RefundHandler) Reject(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req RejectRefundRequest
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
	refund, err := h.service.Reject(r.Context(), id.String(), req.Reason, actor)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: refund})
}

// Cancel handles POST /api/v1/refunds/{id}/cancel
func (h *RefundHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	actor := middleware.UserIDFromContext(r.Context())
	refund, err := h.service.Cancel(r.Context(), id.String(), actor)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: refund})
}

// RemoveItem handles DELETE /api/v1/refunds/{id}/items/{itemId}
func (h *RefundHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	itemID, ok := httputil.ParseUUID(w, chi.URLParam(r, "itemId"))
	if !ok {
		return
	}

	actor := middleware.UserIDFromContext(r.Context())
	refund, err := h.service.RemoveItem(r.Context(), id.String(), itemID.String(), actor)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: refund})
}
