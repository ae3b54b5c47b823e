package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/punchamoorthee/bookpay/internal/domain"
	"github.com/punchamoorthee/bookpay/internal/telemetry"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// IdempotenceKeyHeader carries the caller-assigned key so the gateway
// deduplicates retried create calls on its side.
const IdempotenceKeyHeader = "Idempotence-Key"

const receiptDescription = "Replenishment of the user's balance "

// ErrPaymentService is returned for any create call that did not yield a
// pending payment. It is not safe to retry blindly.
var ErrPaymentService = errors.New("payment system error")

type Config struct {
	URI        string
	ShopID     string
	Secret     string
	Currency   string
	MethodType string
	Timeout    time.Duration
}

// Client talks to the external payment gateway. It holds no state besides
// its HTTP client.
type Client struct {
	cfg    Config
	http   *http.Client
	tracer trace.Tracer
	logger *zap.Logger
}

type ClientOption func(*Client)

// WithHTTPClient replaces the instrumented default HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.http = hc
	}
}

func WithTracer(tracer trace.Tracer) ClientOption {
	return func(c *Client) {
		c.tracer = tracer
	}
}

func NewClient(cfg Config, logger *zap.Logger, opts ...ClientOption) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		cfg: cfg,
		http: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   timeout,
		},
		tracer: noop.NewTracerProvider().Tracer(telemetry.ServiceName),
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreatePayment asks the gateway for a new redirect-confirmed payment. Only a
// 2xx response with status pending is a success.
func (c *Client) CreatePayment(ctx context.Context, amount decimal.Decimal, payerContact, idempotencyKey, redirectURI string) (*PaymentResponse, error) {
	ctx, span := c.tracer.Start(ctx, "gateway.create_payment")
	defer span.End()
	span.SetAttributes(
		attribute.String("payment.amount", FormatAmount(amount)),
		attribute.String("payment.idempotency_key", idempotencyKey),
	)

	body := PaymentRequest{
		Amount: Amount{
			Value:    FormatAmount(amount),
			Currency: c.cfg.Currency,
		},
		Confirmation: Confirmation{
			Type:      "redirect",
			ReturnURL: redirectURI,
		},
		Description: receiptDescription + payerContact,
		Capture:     true,
	}
	if c.cfg.MethodType != "" {
		body.PaymentMethodData = &PaymentMethodData{Type: c.cfg.MethodType}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode payment request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URI, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build payment request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(IdempotenceKeyHeader, idempotencyKey)

	resp, err := c.do(req, "create")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create payment failed")
		c.logger.Error("Payment gateway create call failed",
			zap.Error(err),
			zap.String("idempotency_key", idempotencyKey),
		)
		return nil, fmt.Errorf("%w: %v", ErrPaymentService, err)
	}

	if resp.OperationStatus() != domain.StatusPending {
		telemetry.GatewayRequestsTotal.WithLabelValues("create", "unexpected_status").Inc()
		span.SetStatus(codes.Error, "unexpected status")
		c.logger.Error("Payment gateway returned unexpected status for a new payment",
			zap.String("operation_id", resp.ID),
			zap.String("status", resp.Status),
			zap.String("idempotency_key", idempotencyKey),
		)
		return nil, fmt.Errorf("%w: payment %s has status %q", ErrPaymentService, resp.ID, resp.Status)
	}
	if resp.ConfirmationURL() == "" {
		telemetry.GatewayRequestsTotal.WithLabelValues("create", "malformed").Inc()
		span.SetStatus(codes.Error, "missing confirmation url")
		return nil, fmt.Errorf("%w: payment %s has no confirmation url", ErrPaymentService, resp.ID)
	}

	span.SetAttributes(attribute.String("payment.operation_id", resp.ID))
	c.logger.Info("Payment request sent to gateway",
		zap.String("operation_id", resp.ID),
		zap.String("contact", payerContact),
	)
	return resp, nil
}

// QueryPayment fetches the current state of an operation. Any error means
// "try again later" to the caller.
func (c *Client) QueryPayment(ctx context.Context, operationID string) (*PaymentResponse, error) {
	ctx, span := c.tracer.Start(ctx, "gateway.query_payment")
	defer span.End()
	span.SetAttributes(attribute.String("payment.operation_id", operationID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(c.cfg.URI, "/")+"/"+operationID, nil)
	if err != nil {
		return nil, fmt.Errorf("build status request: %w", err)
	}

	resp, err := c.do(req, "query")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query payment failed")
		return nil, err
	}
	span.SetAttributes(attribute.String("payment.status", resp.Status))
	return resp, nil
}

func (c *Client) do(req *http.Request, call string) (*PaymentResponse, error) {
	req.SetBasicAuth(c.cfg.ShopID, c.cfg.Secret)
	req.Header.Set("Accept", "application/json")

	timer := time.Now()
	resp, err := c.http.Do(req)
	telemetry.GatewayRequestDuration.WithLabelValues(call).Observe(time.Since(timer).Seconds())
	if err != nil {
		telemetry.GatewayRequestsTotal.WithLabelValues(call, "transport_error").Inc()
		return nil, fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		telemetry.GatewayRequestsTotal.WithLabelValues(call, "http_error").Inc()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out PaymentResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		telemetry.GatewayRequestsTotal.WithLabelValues(call, "malformed").Inc()
		return nil, fmt.Errorf("decode gateway response: %w", err)
	}
	if out.ID == "" {
		telemetry.GatewayRequestsTotal.WithLabelValues(call, "malformed").Inc()
		return nil, errors.New("gateway response has no payment id")
	}

	telemetry.GatewayRequestsTotal.WithLabelValues(call, "ok").Inc()
	return &out, nil
}
