package credit

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

// Handler wires HTTP endpoints for customer credit.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs credit handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: httpx.NewValidator()}
}

// MountRoutes registers routes under /customers/{id}.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/credits", h.handlePost)
	r.Get("/credits", h.handleHistory)
	r.Get("/balance", h.handleBalance)
	r.Get("/credits/verify", h.handleVerify)
}

type postRequest struct {
	Type        TransactionType `json:"transaction_type" validate:"required,oneof=credit_added credit_used credit_refund"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description" validate:"max=255"`
}

type balanceResponse struct {
	CustomerID int64           `json:"customer_id"`
	Balance    decimal.Decimal `json:"balance"`
}

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	customerID, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req postRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := httpx.Validate(h.validator, req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	entry, err := h.service.Post(r.Context(), PostInput{
		CustomerID:  customerID,
		Type:        req.Type,
		Amount:      req.Amount,
		Description: req.Description,
		Actor:       httpx.Actor(r),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	customerID, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil {
			httpx.RespondError(w, shared.Validation("limit", "invalid limit %q", raw))
			return
		}
	}
	entries, err := h.service.History(r.Context(), customerID, limit)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if entries == nil {
		entries = []Entry{}
	}
	httpx.JSON(w, http.StatusOK, entries)
}

func (h *Handler) handleBalance(w http.ResponseWriter, r *http.Request) {
	customerID, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	balance, err := h.service.CurrentBalance(r.Context(), customerID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, balanceResponse{CustomerID: customerID, Balance: balance})
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	customerID, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Verify(r.Context(), customerID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if !result.Consistent {
		h.logger.Error("credit ledger inconsistent", slog.Int64("customer_id", customerID), slog.String("detail", result.Detail))
	}
	httpx.JSON(w, http.StatusOK, result)
}
