package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/fjod/go_cart/cart-service/internal/identity"
	"github.com/fjod/go_cart/cart-service/internal/service"
	"github.com/fjod/go_cart/pkg/domain"
	"github.com/fjod/go_cart/pkg/logger"
)

// CartService is what the handlers need from the cart service.
type CartService interface {
	GetCart(ctx context.Context, owner identity.Owner) (*domain.Cart, error)
	AddItem(ctx context.Context, owner identity.Owner, item domain.NewItem) (*domain.Cart, error)
	UpdateItem(ctx context.Context, owner identity.Owner, itemID string, quantity int) (*domain.Cart, error)
	RemoveItem(ctx context.Context, owner identity.Owner, itemID string) (*domain.Cart, error)
	ClearCart(ctx context.Context, owner identity.Owner) (*domain.Cart, error)
	Summary(ctx context.Context, owner identity.Owner) (*domain.Summary, error)
	Merge(ctx context.Context, owner identity.Owner, guestCartID string, items []domain.CartItem) (*domain.Cart, error)
}

type CartHandler struct {
	svc     CartService
	timeout time.Duration
}

func NewCartHandler(svc CartService, timeout time.Duration) *CartHandler {
	return &CartHandler{
		svc:     svc,
		timeout: timeout,
	}
}

type UpdateQuantityRequestDTO struct {
	Quantity int `json:"quantity"`
}

type MergeRequestDTO struct {
	GuestCartID string            `json:"guestCartId"`
	Items       []domain.CartItem `json:"items"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	h.serveCart(w, r, http.StatusOK, func(ctx context.Context, owner identity.Owner) (*domain.Cart, error) {
		return h.svc.GetCart(ctx, owner)
	})
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req domain.NewItem
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	if req.ProductID == "" {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "productId is required")
		return
	}
	if req.Price < 0 {
		respondError(w, http.StatusBadRequest, "invalid_price", "price must not be negative")
		return
	}
	if req.Quantity <= 0 || req.Quantity > service.MaxQuantity {
		respondError(w, http.StatusBadRequest, "invalid_quantity", fmt.Sprintf("quantity must be between 1 and %d", service.MaxQuantity))
		return
	}

	h.serveCart(w, r, http.StatusCreated, func(ctx context.Context, owner identity.Owner) (*domain.Cart, error) {
		return h.svc.AddItem(ctx, owner, req)
	})
}

// UpdateQuantity sets a line's quantity. Zero or less removes the line.
func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "item_id")

	var req UpdateQuantityRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Quantity > service.MaxQuantity {
		respondError(w, http.StatusBadRequest, "invalid_quantity", fmt.Sprintf("quantity must be at most %d", service.MaxQuantity))
		return
	}

	h.serveCart(w, r, http.StatusOK, func(ctx context.Context, owner identity.Owner) (*domain.Cart, error) {
		return h.svc.UpdateItem(ctx, owner, itemID, req.Quantity)
	})
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "item_id")
	h.serveCart(w, r, http.StatusOK, func(ctx context.Context, owner identity.Owner) (*domain.Cart, error) {
		return h.svc.RemoveItem(ctx, owner, itemID)
	})
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	h.serveCart(w, r, http.StatusOK, func(ctx context.Context, owner identity.Owner) (*domain.Cart, error) {
		return h.svc.ClearCart(ctx, owner)
	})
}

func (h *CartHandler) Summary(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	owner, ok := identity.FromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing cart identity")
		return
	}

	summary, err := h.svc.Summary(ctx, owner)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

func (h *CartHandler) Merge(w http.ResponseWriter, r *http.Request) {
	var req MergeRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	h.serveCart(w, r, http.StatusOK, func(ctx context.Context, owner identity.Owner) (*domain.Cart, error) {
		return h.svc.Merge(ctx, owner, req.GuestCartID, req.Items)
	})
}

func (h *CartHandler) serveCart(w http.ResponseWriter, r *http.Request, status int, call func(ctx context.Context, owner identity.Owner) (*domain.Cart, error)) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	owner, ok := identity.FromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing cart identity")
		return
	}

	cart, err := call(ctx, owner)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, status, cart)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("failed to encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		httpStatus int
		code       string
		message    = err.Error()
	)

	switch {
	case errors.Is(err, service.ErrInvalidItem):
		httpStatus, code = http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, service.ErrItemNotFound):
		httpStatus, code = http.StatusNotFound, "not_found"
	case errors.Is(err, service.ErrGuestMerge):
		httpStatus, code = http.StatusForbidden, "customer_required"
	case errors.Is(err, service.ErrNoOwner):
		httpStatus, code = http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, context.DeadlineExceeded):
		httpStatus, code, message = http.StatusGatewayTimeout, "timeout", "request timed out"
	default:
		logger.FromContext(r.Context()).Error("cart request failed", zap.Error(err))
		httpStatus, code, message = http.StatusInternalServerError, "internal_error", "internal server error"
	}

	respondError(w, httpStatus, code, message)
}
