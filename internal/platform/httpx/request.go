package httpx

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/pos-ledger/internal/shared"
)

// ActorHeader names the operator performing the request.
const ActorHeader = "X-Actor"

// Actor returns the operator recorded in audit logs, "system" when unset.
func Actor(r *http.Request) string {
	if actor := strings.TrimSpace(r.Header.Get(ActorHeader)); actor != "" {
		return actor
	}
	return "system"
}

// PathID parses a positive int64 chi URL parameter.
func PathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, shared.Validation(name, "invalid id %q", raw)
	}
	return id, nil
}
