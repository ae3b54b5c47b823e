package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/bookpay/internal/domain"
	"github.com/punchamoorthee/bookpay/internal/gateway"
	"github.com/punchamoorthee/bookpay/internal/idempotency"
	"github.com/punchamoorthee/bookpay/internal/logging"
	"github.com/punchamoorthee/bookpay/internal/store"
	"github.com/punchamoorthee/bookpay/internal/telemetry"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// TopUp describes one request to add funds through the gateway.
type TopUp struct {
	UserID      int64
	UserHash    string
	Amount      decimal.Decimal
	RequestedAt time.Time
	RedirectURI string
}

// TopUpService turns balance top-up requests into gateway payments. Requests
// sharing a fingerprint within one dedup bucket share one gateway call.
type TopUpService struct {
	db      TxRunner
	gateway Gateway
	cache   *idempotency.Cache
	queue   *PendingQueue
	tracer  trace.Tracer
	logger  *zap.Logger
	now     func() time.Time
	newKey  func() string

	inflight sync.WaitGroup
}

func NewTopUpService(db TxRunner, gw Gateway, cache *idempotency.Cache, queue *PendingQueue, tracer trace.Tracer, logger *zap.Logger) *TopUpService {
	return &TopUpService{
		db:      db,
		gateway: gw,
		cache:   cache,
		queue:   queue,
		tracer:  tracer,
		logger:  logger,
		now:     time.Now,
		newKey:  uuid.NewString,
	}
}

// TopUp returns the gateway confirmation URL for req. The caller blocks
// until the shared gateway call finishes or ctx is done; abandoning the wait
// does not cancel the gateway call or its ledger bookkeeping.
func (s *TopUpService) TopUp(ctx context.Context, req TopUp) (string, error) {
	ctx, span := s.tracer.Start(ctx, "topup")
	defer span.End()

	// Balances are whole units; a fractional charge could never be credited
	// in full.
	if !req.Amount.IsPositive() || !req.Amount.IsInteger() {
		return "", ErrInvalidAmount
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = s.now()
	}

	amount := gateway.FormatAmount(req.Amount)
	fp := idempotency.NewFingerprint(req.UserHash, amount, req.RequestedAt, s.cache.Window())
	span.SetAttributes(
		attribute.Int64("payment.user_id", req.UserID),
		attribute.String("payment.amount", amount),
		attribute.Int64("payment.bucket", fp.Bucket),
	)

	existing, h := s.cache.GetOrCreate(fp)
	if existing {
		telemetry.TopUpDedupTotal.WithLabelValues("cache").Inc()
		span.SetAttributes(attribute.Bool("payment.deduplicated", true))
		uri, err := h.Wait(ctx)
		if err == nil {
			logging.WithTraceContext(s.logger, span).Info("Returning cached payment uri",
				zap.Int64("user_id", req.UserID),
				zap.String("amount", amount),
			)
		}
		return uri, err
	}

	telemetry.TopUpDedupTotal.WithLabelValues("gateway").Inc()
	callCtx := context.WithoutCancel(ctx)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		h.Resolve(s.createPayment(callCtx, req))
	}()

	return h.Wait(ctx)
}

func (s *TopUpService) createPayment(ctx context.Context, req TopUp) (string, error) {
	var user *domain.User
	err := s.db.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		user, err = tx.GetUser(ctx, req.UserID)
		return err
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("%w: %d", ErrUserNotFound, req.UserID)
		}
		return "", fmt.Errorf("load user: %w", err)
	}
	if user.Hash != req.UserHash {
		return "", fmt.Errorf("%w: hash mismatch for user %d", ErrUserNotFound, req.UserID)
	}

	key := s.newKey()
	resp, err := s.gateway.CreatePayment(ctx, req.Amount, user.Contact, key, req.RedirectURI)
	if err != nil {
		return "", err
	}

	op, err := resp.Operation(key, user.ID, req.RequestedAt.UTC())
	if err != nil {
		s.logger.Error("Gateway accepted a payment the ledger cannot record",
			zap.String("operation_id", resp.ID),
			zap.String("idempotency_key", key),
			zap.Error(err),
		)
		return "", fmt.Errorf("%w: %v", gateway.ErrPaymentService, err)
	}

	err = s.db.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.UpsertOperation(ctx, op)
	})
	if errors.Is(err, store.ErrDuplicate) {
		// The key is already recorded under another id; keep tracking that row.
		err = s.db.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			existing, err := tx.GetOperationByIdempotencyKey(ctx, key)
			if err != nil {
				return err
			}
			op = *existing
			return nil
		})
		if err == nil {
			s.logger.Warn("Idempotency key already recorded, reusing ledger record",
				zap.String("operation_id", op.OperationID),
				zap.String("gateway_operation_id", resp.ID),
				zap.String("idempotency_key", key),
			)
		}
	}
	if err != nil {
		s.logger.Error("Failed to record gateway operation, manual reconciliation required",
			zap.String("operation_id", op.OperationID),
			zap.String("idempotency_key", key),
			zap.Int64("user_id", user.ID),
			zap.Error(err),
		)
		return "", fmt.Errorf("%w: record operation %s: %v", gateway.ErrPaymentService, op.OperationID, err)
	}

	if op.Status == domain.StatusPending {
		s.queue.Push(op.OperationID)
	}
	s.logger.Info("Payment created",
		zap.String("operation_id", op.OperationID),
		zap.String("idempotency_key", key),
		zap.String("confirmation_uri", resp.ConfirmationURL()),
	)
	return resp.ConfirmationURL(), nil
}

// Close waits for outstanding gateway calls and drops the dedup cache.
func (s *TopUpService) Close() {
	s.inflight.Wait()
	s.cache.Clear()
}
