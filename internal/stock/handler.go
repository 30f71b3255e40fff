package stock

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/pos-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/pos-ledger/internal/shared"
)

// Handler wires HTTP endpoints for the stock ledger.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
	latest    singleflight.Group
}

// NewHandler constructs stock handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: httpx.NewValidator()}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/deliveries", h.handleCreateDelivery)
	r.Get("/latest", h.handleLatest)
	r.Get("/batches", h.handleListBatches)
	r.Get("/batches/{id}", h.handleGetBatch)
	r.Post("/batches/{id}/sales", h.handleRecordSale)
}

type deliveryRequest struct {
	ProductID          int64           `json:"product_id" validate:"required,gt=0"`
	SupplierID         int64           `json:"supplier_id" validate:"required,gt=0"`
	CumulativeQuantity decimal.Decimal `json:"cumulative_quantity"`
	UnitCost           decimal.Decimal `json:"unit_cost"`
}

type saleRequest struct {
	Quantity decimal.Decimal `json:"quantity"`
}

type batchResponse struct {
	Batch
	UtilizationPercentage decimal.Decimal `json:"utilization_percentage"`
}

type latestResponse struct {
	ProductID      int64           `json:"product_id"`
	SupplierID     int64           `json:"supplier_id"`
	RemainingStock decimal.Decimal `json:"remaining_stock"`
	Found          bool            `json:"found"`
}

func (h *Handler) handleCreateDelivery(w http.ResponseWriter, r *http.Request) {
	var req deliveryRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := httpx.Validate(h.validator, req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	batch, err := h.service.CreateDelivery(r.Context(), DeliveryInput{
		ProductID:          req.ProductID,
		SupplierID:         req.SupplierID,
		CumulativeQuantity: req.CumulativeQuantity,
		UnitCost:           req.UnitCost,
		Actor:              httpx.Actor(r),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResponse(batch))
}

func (h *Handler) handleLatest(w http.ResponseWriter, r *http.Request) {
	productID, err := queryID(r, "product_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	supplierID, err := queryID(r, "supplier_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	key := fmt.Sprintf("%d:%d", productID, supplierID)
	v, err, _ := h.latest.Do(key, func() (any, error) {
		remaining, found, err := h.service.LatestRemainingStock(r.Context(), productID, supplierID)
		if err != nil {
			return nil, err
		}
		return latestResponse{ProductID: productID, SupplierID: supplierID, RemainingStock: remaining, Found: found}, nil
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, v)
}

func (h *Handler) handleListBatches(w http.ResponseWriter, r *http.Request) {
	productID, err := queryID(r, "product_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter := BatchFilter{ProductID: productID}
	if raw := r.URL.Query().Get("supplier_id"); raw != "" {
		if filter.SupplierID, err = queryID(r, "supplier_id"); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, convErr := strconv.Atoi(raw)
		if convErr != nil {
			httpx.RespondError(w, shared.Validation("limit", "invalid limit %q", raw))
			return
		}
		filter.Limit = limit
	}
	batches, err := h.service.ListBatches(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]batchResponse, 0, len(batches))
	for _, b := range batches {
		out = append(out, toResponse(b))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	batch, err := h.service.GetBatch(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(batch))
}

func (h *Handler) handleRecordSale(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req saleRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	batch, err := h.service.RecordSale(r.Context(), id, req.Quantity, httpx.Actor(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(batch))
}

func toResponse(b Batch) batchResponse {
	return batchResponse{Batch: b, UtilizationPercentage: UtilizationPercentage(b).Round(2)}
}

func queryID(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, shared.Validation(name, "invalid id %q", raw)
	}
	return id, nil
}
