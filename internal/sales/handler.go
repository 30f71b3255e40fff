package sales

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/pos-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/pos-ledger/internal/shared"
)

// IdempotencyHeader carries the client key that deduplicates submissions.
const IdempotencyHeader = "Idempotency-Key"

// Handler wires HTTP endpoints for sales.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs sales handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: httpx.NewValidator()}
}

// MountRoutes registers sales routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Get("/{id}", h.handleGet)
}

type itemRequest struct {
	ProductID int64           `json:"product_id" validate:"required,gt=0"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type paymentRequest struct {
	Method PaymentMethod   `json:"method" validate:"required,oneof=cash transfer credit part_payment"`
	Amount decimal.Decimal `json:"amount"`
}

type createSaleRequest struct {
	CustomerID *int64           `json:"customer_id" validate:"omitempty,gt=0"`
	SaleType   SaleType         `json:"sale_type" validate:"required,oneof=retail wholesale"`
	Items      []itemRequest    `json:"items" validate:"required,min=1,dive"`
	Payments   []paymentRequest `json:"payments" validate:"dive"`
	Discount   decimal.Decimal  `json:"discount"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createSaleRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := httpx.Validate(h.validator, req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := CreateSaleInput{
		CustomerID:     req.CustomerID,
		Type:           req.SaleType,
		Discount:       req.Discount,
		IdempotencyKey: r.Header.Get(IdempotencyHeader),
		Actor:          httpx.Actor(r),
	}
	for _, it := range req.Items {
		input.Items = append(input.Items, ItemInput(it))
	}
	for _, p := range req.Payments {
		input.Payments = append(input.Payments, PaymentInput(p))
	}
	sale, err := h.service.CreateSale(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, sale)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if txid := q.Get("transaction_id"); txid != "" {
		sale, err := h.service.GetSaleByTransactionID(r.Context(), txid)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, []Sale{sale})
		return
	}
	filter := ListFilter{Type: SaleType(q.Get("sale_type"))}
	if raw := q.Get("customer_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.RespondError(w, shared.Validation("customer_id", "invalid id %q", raw))
			return
		}
		filter.CustomerID = id
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			httpx.RespondError(w, shared.Validation("limit", "invalid limit %q", raw))
			return
		}
		filter.Limit = limit
	}
	sales, err := h.service.ListSales(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if sales == nil {
		sales = []Sale{}
	}
	httpx.JSON(w, http.StatusOK, sales)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	sale, err := h.service.GetSale(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}
