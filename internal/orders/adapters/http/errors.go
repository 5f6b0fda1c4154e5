package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/dejobratic/checkout/internal/orders/domain"
	"github.com/dejobratic/checkout/internal/orders/ports"
)

type errorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// statusFor maps an application error to its response. Unknown errors become a bare 500 so internals never leak.
func statusFor(err error) (int, errorResponse) {
	var (
		validation *domain.ValidationError
		cart       domain.CartErrors
		oos        *domain.OutOfStockError
		transition *domain.InvalidTransitionError
	)

	switch {
	case errors.As(err, &cart):
		return http.StatusUnprocessableEntity, errorResponse{Error: "invalid cart", Details: []domain.CartError(cart)}
	case errors.As(err, &validation):
		return http.StatusUnprocessableEntity, errorResponse{Error: "validation failed", Details: validation.Fields}
	case errors.As(err, &oos):
		return http.StatusConflict, errorResponse{Error: "out of stock", Details: map[string]any{
			"variant_id": oos.VariantID,
			"requested":  oos.Requested,
			"available":  oos.Available,
		}}
	case errors.Is(err, domain.ErrZoneNotFound):
		return http.StatusUnprocessableEntity, errorResponse{Error: "shipping destination not supported"}
	case errors.As(err, &transition):
		return http.StatusConflict, errorResponse{Error: "invalid state transition", Details: map[string]string{
			"from": string(transition.From),
			"to":   string(transition.To),
		}}
	case errors.Is(err, domain.ErrPaymentInProgress):
		return http.StatusConflict, errorResponse{Error: "payment in progress"}
	case errors.Is(err, ports.ErrIdempotencyConflict):
		return http.StatusConflict, errorResponse{Error: "idempotency key reused with a different request"}
	case errors.Is(err, ports.ErrIdempotencyInProgress):
		return http.StatusConflict, errorResponse{Error: "request with this idempotency key is in progress"}
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, errorResponse{Error: "forbidden"}
	case errors.Is(err, ports.ErrNotFound):
		return http.StatusNotFound, errorResponse{Error: "order not found"}
	case errors.Is(err, domain.ErrUnknownReference):
		return http.StatusNotFound, errorResponse{Error: "unknown payment reference"}
	case errors.Is(err, domain.ErrInvalidSignature):
		return http.StatusBadRequest, errorResponse{Error: "invalid signature"}
	case errors.Is(err, domain.ErrReconciliationMismatch):
		return http.StatusUnprocessableEntity, errorResponse{Error: "payment could not be reconciled"}
	case errors.Is(err, domain.ErrExternalService):
		return http.StatusBadGateway, errorResponse{Error: "payment provider unavailable"}
	default:
		return http.StatusInternalServerError, errorResponse{Error: "internal server error"}
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := statusFor(err)
	h.logFailure(r, status, err)
	writeJSON(w, status, body)
}

func (h *Handler) logFailure(r *http.Request, status int, err error) {
	level := slog.LevelInfo
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(r.Context(), level, "request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"error", err,
	)
}
