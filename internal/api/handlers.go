package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/punchamoorthee/bookpay/internal/gateway"
	"github.com/punchamoorthee/bookpay/internal/models"
	"github.com/punchamoorthee/bookpay/internal/service"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Handler struct {
	topUp           *service.TopUpService
	checkout        *service.Checkout
	accounts        *service.Accounts
	balanceRedirect string
	logger          *zap.Logger
}

func NewHandler(topUp *service.TopUpService, checkout *service.Checkout, accounts *service.Accounts, balanceRedirect string, logger *zap.Logger) *Handler {
	return &Handler{
		topUp:           topUp,
		checkout:        checkout,
		accounts:        accounts,
		balanceRedirect: balanceRedirect,
		logger:          logger,
	}
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// TopUpHandler starts a balance replenishment and returns the gateway
// confirmation page for the browser to follow.
func (h *Handler) TopUpHandler(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	var req models.TopUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	if req.Hash != user.Hash {
		respondWithError(w, http.StatusNotFound, "User not found")
		return
	}

	amount, err := decimal.NewFromString(req.Sum)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid sum")
		return
	}

	requestedAt := time.Now()
	if req.Time > 0 {
		requestedAt = time.UnixMilli(req.Time)
	}

	uri, err := h.topUp.TopUp(r.Context(), service.TopUp{
		UserID:      user.ID,
		UserHash:    user.Hash,
		Amount:      amount,
		RequestedAt: requestedAt,
		RedirectURI: h.balanceRedirect,
	})
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, models.ResultResponse{Result: true, Redirect: true, RedirectURI: uri})
}

// CheckoutHandler pays the cart from the balance or redirects to a top-up for
// the missing amount.
func (h *Handler) CheckoutHandler(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	out, err := h.checkout.HandleCartPaid(r.Context(), user.ID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	if out.RedirectURI != "" {
		respondWithJSON(w, http.StatusOK, models.ResultResponse{Result: true, Redirect: true, RedirectURI: out.RedirectURI})
		return
	}
	respondWithJSON(w, http.StatusOK, models.ResultResponse{Result: true})
}

// TransactionsHandler lists balance history. offset is a page number.
func (h *Handler) TransactionsHandler(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	q := r.URL.Query()

	page, err := intParam(q.Get("offset"), 0)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid offset")
		return
	}
	limit, err := intParam(q.Get("limit"), service.DefaultHistoryLimit)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid limit")
		return
	}

	resp, err := h.accounts.History(r.Context(), user.ID, q.Get("sort"), page, limit)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, resp)
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrUserNotFound):
		respondWithError(w, http.StatusNotFound, "User not found")
	case errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrInvalidSort),
		errors.Is(err, service.ErrInvalidPage),
		errors.Is(err, gateway.ErrPaymentService):
		respondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		respondWithError(w, http.StatusGatewayTimeout, "Payment request still in progress")
	default:
		h.logger.Error("Request failed", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
	}
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, models.ResultResponse{Error: message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
