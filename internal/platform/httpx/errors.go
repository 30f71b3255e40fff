// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/pos-ledger/internal/shared"
)

// stockProblem extends ProblemDetail with the stock shortfall.
type stockProblem struct {
	ProblemDetail
	ProductID int64  `json:"product_id"`
	Requested string `json:"requested"`
	Available string `json:"available"`
	Shortfall string `json:"shortfall"`
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var stockErr *shared.InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		JSON(w, http.StatusConflict, stockProblem{
			ProblemDetail: ProblemDetail{
				Type:   "insufficient-stock",
				Title:  "Insufficient Stock",
				Status: http.StatusConflict,
				Detail: stockErr.Error(),
			},
			ProductID: stockErr.ProductID,
			Requested: stockErr.Requested.String(),
			Available: stockErr.Available.String(),
			Shortfall: stockErr.Shortfall().String(),
		})
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrConflict):
		Problem(w, http.StatusConflict, "Conflict", "concurrent update, retry the request")
	case errors.Is(err, shared.ErrIdempotencyInFlight):
		Problem(w, http.StatusConflict, "Duplicate Request", err.Error())
	case errors.Is(err, shared.ErrInvariantViolation):
		slog.Error("invariant violation", slog.Any("error", err))
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	default:
		slog.Error("unhandled error", slog.Any("error", err))
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
