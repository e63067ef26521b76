package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/storeline/walkin/internal/domain"
	"github.com/storeline/walkin/internal/repository"
	"github.com/storeline/walkin/internal/service"
	"github.com/storeline/walkin/pkg/httputil"
	"github.com/storeline/walkin/pkg/pagination"
	"github.com/storeline/walkin/pkg/validator"
)

// StockHandler handles HTTP requests for stock endpoints.
type StockHandler struct {
	service *service.StockService
	logger  *slog.Logger
}

// NewStockHandler creates a new stock HTTP handler.
func NewStockHandler(svc *service.StockService, logger *slog.Logger) *StockHandler {
	return &StockHandler{
		service: svc,
		logger:  logger,
	}
}

// --- Request DTOs ---

// InitializeStockRequest is the JSON request body for seeding a stock entry.
type InitializeStockRequest struct {
	ProductID       string `json:"product_id" validate:"required,uuid"`
	Location        string `json:"location" validate:"omitempty,max=100"`
	Quantity        int    `json:"quantity" validate:"gte=0"`
	ReorderLevel    int    `json:"reorder_level" validate:"omitempty,gte=0"`
	ReorderQuantity int    `json:"reorder_quantity" validate:"omitempty,gte=0"`
}

// AdjustStockRequest is the JSON request body for a manual stock correction.
type AdjustStockRequest struct {
	ProductID    string `json:"product_id" validate:"required,uuid"`
	Location     string `json:"location" validate:"omitempty,max=100"`
	Delta        int    `json:"delta" validate:"required"`
	MovementType string `json:"movement_type" validate:"required,oneof=purchase return adjustment damage"`
	Notes        string `json:"notes" validate:"omitempty,max=1000"`
}

// TransferStockRequest is the JSON request body for moving stock between locations.
type TransferStockRequest struct {
	ProductID string `json:"product_id" validate:"required,uuid"`
	From      string `json:"from" validate:"required,max=100"`
	To        string `json:"to" validate:"required,max=100"`
	Quantity  int    `json:"quantity" validate:"required,gte=1"`
	Notes     string `json:"notes" validate:"omitempty,max=1000"`
}

// --- Handlers ---

// InitializeStock handles POST /api/v1/stock
func (h *StockHandler) InitializeStock(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req InitializeStockRequest
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

	location := req.Location
	if location == "" {
		location = h.service.DefaultLocation()
	}

	entry, err := h.service.InitializeStock(r.Context(), service.InitializeStockInput{
		ProductID:       req.ProductID,
		Location:        location,
		Quantity:        req.Quantity,
		ReorderLevel:    req.ReorderLevel,
		ReorderQuantity: req.ReorderQuantity,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: entry})
}

// GetStock handles GET /api/v1/stock/{productId}
// A location query parameter narrows the result to one entry; without it
// every location's entry for the product is returned.
func (h *StockHandler) GetStock(w http.ResponseWriter, r *http.Request) {
	productID, ok := httputil.ParseUUID(w, chi.URLParam(r, "productId"))
	if !ok {
		return
	}

	if location := r.URL.Query().Get("location"); location != "" {
		entry, err := h.service.GetStock(r.Context(), productID.String(), location)
		if err != nil {
			httputil.WriteError(w, r, err, h.logger)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: entry})
		return
	}

	entries, err := h.service.ListByProduct(r.Context(), productID.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	if entries == nil {
		entries = []domain.StockEntry{}
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: entries})
}

// AdjustStock handles POST /api/v1/stock/adjust
func (h *StockHandler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req AdjustStockRequest
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

	location := req.Location
	if location == "" {
		location = h.service.DefaultLocation()
	}

	entry, err := h.service.Adjust(r.Context(), service.AdjustStockInput{
		ProductID:    req.ProductID,
		Location:     location,
		Delta:        req.Delta,
		MovementType: req.MovementType,
		Notes:        req.Notes,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: entry})
}

// TransferStock handles POST /api/v1/stock/transfer
func (h *StockHandler) TransferStock(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req TransferStockRequest
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

	if err := h.service.Transfer(r.Context(), service.TransferStockInput{
		ProductID: req.ProductID,
		From:      req.From,
		To:        req.To,
		Quantity:  req.Quantity,
		Notes:     req.Notes,
	}); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]any{
		"product_id": req.ProductID,
		"from":       req.From,
		"to":         req.To,
		"quantity":   req.Quantity,
		"status":     "transferred",
	}})
}

// ListLowStock handles GET /api/v1/stock/low-stock
func (h *StockHandler) ListLowStock(w http.ResponseWriter, r *http.Request) {
	params := pagination.FromRequest(r)

	entries, total, err := h.service.ListLowStock(r.Context(), params.Page, params.PerPage)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.NewPaginatedResponse(entries, total, params.Page, params.PerPage))
}

// ListMovements handles GET /api/v1/stock/movements
func (h *StockHandler) ListMovements(w http.ResponseWriter, r *http.Request) {
	params := pagination.FromRequest(r)

	filter := repository.MovementFilter{
		Page:    params.Page,
		PerPage: params.PerPage,
	}
	if v := r.URL.Query().Get("product_id"); v != "" {
		filter.ProductID = &v
	}
	if v := r.URL.Query().Get("movement_type"); v != "" {
		if !domain.IsValidMovementType(v) {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
				Error: &httputil.ErrorResponse{Code: "INVALID_PARAMETER", Message: "unknown movement_type: " + v},
			})
			return
		}
		filter.MovementType = &v
	}
	if v := r.URL.Query().Get("reference_id"); v != "" {
		filter.ReferenceID = &v
	}

	movements, total, err := h.service.ListMovements(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.NewPaginatedResponse(movements, total, params.Page, params.PerPage))
}
