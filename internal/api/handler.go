package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/punchamoorthee/bookpay/internal/domain"
	"github.com/punchamoorthee/bookpay/internal/service"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// UserHashHeader identifies the calling user. Session handling lives in
// front of this service and forwards the resolved hash.
const UserHashHeader = "X-User-Hash"

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookpay_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bookpay_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"method", "endpoint"})
)

type userKey struct{}

// NewRouter mounts the payment endpoints under /api/v1 next to the
// operational endpoints.
func NewRouter(h *Handler) http.Handler {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.HealthCheckHandler).Methods(http.MethodGet)

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.Use(h.instrument, h.requireUser)
	apiV1.HandleFunc("/payment", h.TopUpHandler).Methods(http.MethodPost)
	apiV1.HandleFunc("/cart/checkout", h.CheckoutHandler).Methods(http.MethodPost)
	apiV1.HandleFunc("/transactions", h.TransactionsHandler).Methods(http.MethodGet)

	return otelhttp.NewHandler(r, "bookpay.http")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (h *Handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		httpRequestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
	})
}

func (h *Handler) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := h.accounts.UserByHash(r.Context(), r.Header.Get(UserHashHeader))
		if err != nil {
			if errors.Is(err, service.ErrUserNotFound) {
				respondWithError(w, http.StatusNotFound, "User not found")
				return
			}
			h.logger.Error("Failed to resolve user", zap.Error(err))
			respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, user)))
	})
}

func currentUser(r *http.Request) *domain.User {
	u, _ := r.Context().Value(userKey{}).(*domain.User)
	return u
}
