package http

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dejobratic/checkout/internal/auth"
	"github.com/dejobratic/checkout/internal/orders/app"
	"github.com/dejobratic/checkout/internal/orders/app/commands"
	"github.com/dejobratic/checkout/internal/orders/domain"
	"github.com/dejobratic/checkout/internal/orders/ports"
)

const (
	maxCheckoutBody = 1 << 20
	// Stripe caps event payloads well below this.
	maxWebhookBody = 64 << 10

	idempotencyHeader = "Idempotency-Key"
	signatureHeader   = "Stripe-Signature"
)

// Handler exposes HTTP endpoints for the checkout pipeline.
type Handler struct {
	service  *app.Service
	verifier *auth.Verifier
	logger   *slog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(service *app.Service, verifier *auth.Verifier, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, verifier: verifier, logger: logger}
}

// Register binds the checkout routes to the router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Get("/payments/return", h.paymentReturn)
		r.Post("/payments/webhook", h.webhook)

		r.Group(func(r chi.Router) {
			r.Use(auth.Authenticate(h.verifier))
			r.Post("/checkout", h.checkout)
			r.Get("/orders/{id}", h.getOrder)
			r.Post("/orders/{id}/payments", h.retryPayment)
			r.Post("/orders/{id}/cancel", h.transition(domain.StateCancelled))
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.Authenticate(h.verifier, auth.RoleAdmin))
			r.Get("/orders", h.listOrders)
			r.Post("/orders/{id}/ship", h.transition(domain.StateShipped))
			r.Post("/orders/{id}/deliver", h.transition(domain.StateDelivered))
		})
	})
}

type checkoutResponse struct {
	OrderID     string       `json:"order_id"`
	Code        string       `json:"code"`
	State       domain.State `json:"state"`
	Total       int64        `json:"total"`
	Currency    string       `json:"currency"`
	RedirectURL string       `json:"redirect_url,omitempty"`
	Error       string       `json:"error,omitempty"`
}

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := actorFrom(r)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCheckoutBody))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
		return
	}

	// Keys are scoped to the caller so two customers can never replay each other's responses.
	key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
	if key != "" {
		key = actor.CustomerID + ":" + key
	}
	requestHash := fingerprint(body)

	if key != "" {
		stored, err := h.service.ReserveIdempotencyKey(ctx, key, requestHash)
		if err != nil {
			h.writeError(w, r, fmt.Errorf("reserve idempotency key: %w", err))
			return
		}
		if stored != nil {
			switch {
			case stored.RequestHash != "" && stored.RequestHash != requestHash:
				h.writeError(w, r, ports.ErrIdempotencyConflict)
			case stored.Pending():
				h.writeError(w, r, ports.ErrIdempotencyInProgress)
			default:
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Idempotent-Replayed", "true")
				w.WriteHeader(stored.StatusCode)
				_, _ = w.Write(stored.Body)
			}
			return
		}
	}

	var input app.CheckoutInput
	if err := json.Unmarshal(body, &input); err != nil {
		h.releaseKey(r, key)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON payload"})
		return
	}

	result, err := h.service.Checkout(ctx, actor, input)
	if err != nil && result == nil {
		h.releaseKey(r, key)
		h.writeError(w, r, err)
		return
	}

	status := http.StatusCreated
	response := checkoutResponse{
		OrderID:     result.Order.ID,
		Code:        result.Order.Code,
		State:       result.Order.State,
		Total:       result.Order.Total,
		Currency:    result.Order.Currency,
		RedirectURL: result.RedirectURL,
	}
	if err != nil {
		// The order exists but has no payment yet; the client retries through /orders/{id}/payments.
		status = http.StatusBadGateway
		response.Error = "payment provider unavailable"
		h.logFailure(r, status, err)
	}

	payload, err := json.Marshal(response)
	if err != nil {
		h.releaseKey(r, key)
		h.writeError(w, r, err)
		return
	}

	if key != "" {
		saveErr := h.service.SaveIdempotentResponse(ctx, key, ports.StoredResponse{
			StatusCode:  status,
			Body:        payload,
			OrderID:     result.Order.ID,
			RequestHash: requestHash,
		})
		if saveErr != nil {
			h.logger.WarnContext(ctx, "failed to store idempotent response", "order_id", result.Order.ID, "error", saveErr)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Location", "/v1/orders/"+result.Order.ID)
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}

// releaseKey frees the idempotency key of a request that failed before creating an order.
func (h *Handler) releaseKey(r *http.Request, key string) {
	if key == "" {
		return
	}
	// The request context may already be cancelled; the key must still be freed.
	ctx := context.WithoutCancel(r.Context())
	if err := h.service.ReleaseIdempotencyKey(ctx, key); err != nil {
		h.logger.WarnContext(ctx, "failed to release idempotency key", "error", err)
	}
}

func fingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func (h *Handler) retryPayment(w http.ResponseWriter, r *http.Request) {
	initialized, err := h.service.InitializePayment(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, checkoutResponse{
		OrderID:     initialized.Order.ID,
		Code:        initialized.Order.Code,
		State:       initialized.Order.State,
		Total:       initialized.Order.Total,
		Currency:    initialized.Order.Currency,
		RedirectURL: initialized.RedirectURL,
	})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.GetOrder(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var state *domain.State
	if value := query.Get("state"); value != "" {
		s := domain.State(strings.ToUpper(value))
		state = &s
	}

	page, err := intParam(query.Get("page"), "page")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	pageSize, err := intParam(query.Get("page_size"), "page_size")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	orders, err := h.service.ListOrders(r.Context(), actorFrom(r), state, page, pageSize)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func intParam(value, name string) (int, error) {
	if value == "" {
		return 0, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, domain.NewValidationError(name, "must be an integer")
	}
	return parsed, nil
}

func (h *Handler) transition(target domain.State) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		order, err := h.service.TransitionOrder(r.Context(), actorFrom(r), chi.URLParam(r, "id"), target)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"order": order})
	}
}

func (h *Handler) paymentReturn(w http.ResponseWriter, r *http.Request) {
	ack, err := h.service.HandleReturn(r.Context(), r.URL.Query().Get("reference"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

// webhook answers 2xx only when the event needs no redelivery. Transient failures return 503 so the
// provider retries.
func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
		return
	}

	ack, err := h.service.HandleWebhook(r.Context(), payload, r.Header.Get(signatureHeader))
	if err != nil {
		status, body := statusFor(err)
		if errors.Is(err, domain.ErrExternalService) || status == http.StatusInternalServerError {
			status = http.StatusServiceUnavailable
		}
		h.logFailure(r, status, err)
		writeJSON(w, status, body)
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

func actorFrom(r *http.Request) commands.Actor {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return commands.Actor{}
	}
	return commands.Actor{
		CustomerID: identity.CustomerID,
		Email:      identity.Email,
		Admin:      identity.IsAdmin(),
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
