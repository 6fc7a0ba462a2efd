package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/aurelia-commerce/fulfillment/internal/repository"
	"github.com/aurelia-commerce/fulfillment/internal/service"
	"github.com/aurelia-commerce/fulfillment/pkg/httputil"
	"github.com/aurelia-commerce/fulfillment/pkg/middleware"
	"github.com/aurelia-commerce/fulfillment/pkg/pagination"
	"github.com/aurelia-commerce/fulfillment/pkg/validator"
)

// InventoryHandler handles HTTP requests for inventory and warehouse endpoints.
type InventoryHandler struct {
	service *service.InventoryService
	logger  *slog.Logger
}

// NewInventoryHandler creates a new inventory HTTP handler.
func NewInventoryHandler(svc *service.InventoryService, logger *slog.Logger) *InventoryHandler {
	return &InventoryHandler{
		service: svc,
		logger:  logger,
	}
}

// --- Request DTOs ---

// CreateInventoryRequest is the JSON request body for creating a balance row.
type CreateInventoryRequest struct {
	ProductID    string          `json:"product_id" validate:"required,uuid"`
	VariantID    string          `json:"variant_id" validate:"required,uuid"`
	WarehouseID  string          `json:"warehouse_id" validate:"required,uuid"`
	SKU          string          `json:"sku" validate:"required"`
	Quantity     int             `json:"quantity" validate:"gte=0"`
	ReorderLevel int             `json:"reorder_level" validate:"gte=0"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
	BatchNumber  string          `json:"batch_number"`
	ExpiryDate   *time.Time      `json:"expiry_date"`
}

// RecordMovementRequest is the JSON request body for appending a movement.
type RecordMovementRequest struct {
	InventoryID   string           `json:"inventory_id" validate:"required,uuid"`
	MovementType  string           `json:"movement_type" validate:"required"`
	Quantity      int              `json:"quantity" validate:"required"`
	UnitCost      *decimal.Decimal `json:"unit_cost"`
	SourceID      string           `json:"source_warehouse_id" validate:"omitempty,uuid"`
	DestinationID string           `json:"destination_warehouse_id" validate:"omitempty,uuid"`
	Reference     string           `json:"reference"`
	Notes         string           `json:"notes"`
}

// TransferRequest is the JSON request body for a warehouse transfer.
type TransferRequest struct {
	SourceInventoryID      string `json:"source_inventory_id" validate:"required,uuid"`
	DestinationInventoryID string `json:"destination_inventory_id" validate:"required,uuid"`
	Quantity               int    `json:"quantity" validate:"required,gte=1"`
	Reference              string `json:"reference"`
	Notes                  string `json:"notes"`
}

// CreateWarehouseRequest is the JSON request body for creating a warehouse.
type CreateWarehouseRequest struct {
	Name      string `json:"name" validate:"required"`
	Code      string `json:"code" validate:"required"`
	Address   string `json:"address"`
	IsActive  bool   `json:"is_active"`
	IsDefault bool   `json:"is_default"`
}

// --- Handlers ---

// CreateInventory handles POST /api/v1/inventory
func (h *InventoryHandler) CreateInventory(w http.ResponseWriter, r *http.Request) {
	// Limit request body to 1MB to prevent DoS via large payloads.
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req CreateInventoryRequest
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

	inv, err := h.service.CreateInventory(r.Context(), &service.CreateInventoryInput{
		ProductID:    req.ProductID,
		VariantID:    req.VariantID,
		WarehouseID:  req.WarehouseID,
		SKU:          req.SKU,
		Quantity:     req.Quantity,
		ReorderLevel: req.ReorderLevel,
		UnitCost:     req.UnitCost,
		BatchNumber:  req.BatchNumber,
		ExpiryDate:   req.ExpiryDate,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: inv})
}

// GetBalance handles GET /api/v1/inventory/{variantId}/warehouses/{warehouseId}
func (h *InventoryHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	variantID, ok := httputil.ParseUUID(w, chi.URLParam(r, "variantId"))
	if !ok {
		return
	}
	warehouseID, ok := httputil.ParseUUID(w, chi.URLParam(r, "warehouseId"))
	if !ok {
		return
	}

	inv, err := h.service.GetBalance(r.Context(), variantID.String(), warehouseID.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: inv})
}

// RecordMovement handles POST /api/v1/movements
func (h *InventoryHandler) RecordMovement(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req RecordMovementRequest
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
	movement, inv, err := h.service.RecordMovement(r.Context(), &service.RecordMovementInput{
		InventoryID:   req.InventoryID,
		MovementType:  req.MovementType,
		Quantity:      req.Quantity,
		UnitCost:      req.UnitCost,
		SourceID:      req.SourceID,
		DestinationID: req.DestinationID,
		Reference:     req.Reference,
		Notes:         req.Notes,
	}, actor)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: map[string]any{
		"movement":  movement,
		"inventory": inv,
	}})
}

// ListMovements handles GET /api/v1/movements
func (h *InventoryHandler) ListMovements(w http.ResponseWriter, r *http.Request) {
	params := pagination.FromRequest(r)
	filter := repository.MovementFilter{
		Page:    params.Page,
		PerPage: params.PerPage,
	}
	if v := r.URL.Query().Get("inventory_id"); v != "" {
		filter.InventoryID = &v
	}
	if v := r.URL.Query().Get("movement_type"); v != "" {
		filter.MovementType = &v
	}

	movements, total, err := h.service.ListMovements(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.NewPaginatedResponse(movements, total, filter.Page, filter.PerPage))
}

// DeleteMovement handles DELETE /api/v1/movements/{id}
func (h *InventoryHandler) DeleteMovement(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	if err := h.service.DeleteMovement(r.Context(), id.String()); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Transfer handles POST /api/v1/movements/transfers
func (h *InventoryHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req TransferRequest
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
	if err := h.service.Transfer(r.Context(), &service.TransferInput{
		SourceInventoryID:      req.SourceInventoryID,
		DestinationInventoryID: req.DestinationInventoryID,
		Quantity:               req.Quantity,
		Reference:              req.Reference,
		Notes:                  req.Notes,
	}, actor); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]string{
		"status": "transferred",
	}})
}

// CreateWarehouse handles POST /api/v1/warehouses
func (h *InventoryHandler) CreateWarehouse(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req CreateWarehouseRequest
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

	wh, err := h.service.CreateWarehouse(r.Context(), &service.CreateWarehouseInput{
		Name:      req.Name,
		Code:      req.Code,
		Address:   req.Address,
		IsActive:  req.IsActive,
		IsDefault: req.IsDefault,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: wh})
}

// ListWarehouses handles GET /api/v1/warehouses
func (h *InventoryHandler) ListWarehouses(w http.ResponseWriter, r *http.Request) {
	warehouses, err := h.service.ListWarehouses(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: warehouses})
}
