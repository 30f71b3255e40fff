package returns

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

// Handler wires HTTP endpoints for returns.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs returns handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: httpx.NewValidator()}
}

// MountRoutes registers return routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Get("/{id}", h.handleGet)
	r.Post("/{id}/approve", h.handleApprove)
	r.Post("/{id}/reject", h.handleReject)
	r.Post("/{id}/complete", h.handleComplete)
}

type itemRequest struct {
	SaleItemID int64           `json:"sale_item_id" validate:"required,gt=0"`
	Quantity   decimal.Decimal `json:"quantity"`
}

type createRequest struct {
	SaleID int64         `json:"sale_id" validate:"required,gt=0"`
	Items  []itemRequest `json:"items" validate:"required,min=1,dive"`
	Reason string        `json:"reason" validate:"required,max=500"`
}

type decisionRequest struct {
	Note string `json:"note" validate:"max=500"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := httpx.Validate(h.validator, req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := CreateInput{SaleID: req.SaleID, Reason: req.Reason, Actor: httpx.Actor(r)}
	for _, it := range req.Items {
		input.Items = append(input.Items, ItemInput(it))
	}
	ret, err := h.service.CreateReturn(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, ret)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("sale_id")
	saleID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		httpx.RespondError(w, shared.Validation("sale_id", "invalid id %q", raw))
		return
	}
	out, err := h.service.ListReturns(r.Context(), saleID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if out == nil {
		out = []Return{}
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	ret, err := h.service.GetReturn(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ret)
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, func(id int64, note string) (Return, error) {
		return h.service.Approve(r.Context(), id, note, httpx.Actor(r))
	})
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, func(id int64, note string) (Return, error) {
		return h.service.Reject(r.Context(), id, note, httpx.Actor(r))
	})
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, func(id int64, _ string) (Return, error) {
		return h.service.Complete(r.Context(), id, httpx.Actor(r))
	})
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, fn func(id int64, note string) (Return, error)) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req decisionRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(w, r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
		if err := httpx.Validate(h.validator, req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	ret, err := fn(id, req.Note)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ret)
}
