package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/punchamoorthee/bookpay/internal/domain"
	"github.com/punchamoorthee/bookpay/internal/gateway"
	"github.com/punchamoorthee/bookpay/internal/store"
	"github.com/punchamoorthee/bookpay/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Poller reconciles pending gateway operations against the ledger on a
// fixed delay. Ticks never overlap.
type Poller struct {
	db          TxRunner
	gateway     Gateway
	queue       *PendingQueue
	settlement  *Settlement
	interval    time.Duration
	maxFailures int
	tracer      trace.Tracer
	logger      *zap.Logger

	tickMu   sync.Mutex
	failures map[string]int
}

type PollerConfig struct {
	Interval time.Duration
	// MaxFailures is how many consecutive failed status queries an operation
	// survives before it is dropped from the queue.
	MaxFailures int
}

func NewPoller(db TxRunner, gw Gateway, queue *PendingQueue, settlement *Settlement, cfg PollerConfig, tracer trace.Tracer, logger *zap.Logger) *Poller {
	if cfg.MaxFailures < 1 {
		cfg.MaxFailures = 1
	}
	return &Poller{
		db:          db,
		gateway:     gw,
		queue:       queue,
		settlement:  settlement,
		interval:    cfg.Interval,
		maxFailures: cfg.MaxFailures,
		tracer:      tracer,
		logger:      logger,
		failures:    make(map[string]int),
	}
}

// Recover enqueues every operation the ledger still holds as pending.
func (p *Poller) Recover(ctx context.Context) (int, error) {
	var ops []domain.GatewayOperation
	err := p.db.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		ops, err = tx.ListOperationsByStatus(ctx, domain.StatusPending)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("list pending operations: %w", err)
	}

	n := 0
	for _, op := range ops {
		if p.queue.Push(op.OperationID) {
			n++
		}
	}
	if n > 0 {
		p.logger.Info("Re-enqueued pending operations from ledger", zap.Int("count", n))
	}
	return n, nil
}

// Run ticks until ctx is done. The next tick is scheduled only after the
// previous one returns.
func (p *Poller) Run(ctx context.Context) error {
	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			p.Tick(ctx)
			timer.Reset(p.interval)
		}
	}
}

type pollResult string

const (
	resultKept     pollResult = "pending"
	resultSettled  pollResult = "settled"
	resultCanceled pollResult = "canceled"
	resultNoop     pollResult = "already_final"
	resultMissing  pollResult = "missing_record"
	resultFailed   pollResult = "query_failed"
	resultDropped  pollResult = "dropped"
	resultCapture  pollResult = "waiting_for_capture"
	resultError    pollResult = "error"
)

// Tick drains the queue once in FIFO order.
func (p *Poller) Tick(ctx context.Context) {
	p.tickMu.Lock()
	defer p.tickMu.Unlock()

	for _, id := range p.queue.Snapshot() {
		if ctx.Err() != nil {
			return
		}
		res := p.reconcile(ctx, id)
		telemetry.PollerReconciledTotal.WithLabelValues(string(res)).Inc()
	}
}

func (p *Poller) reconcile(ctx context.Context, id string) pollResult {
	ctx, span := p.tracer.Start(ctx, "poller.reconcile")
	defer span.End()
	span.SetAttributes(attribute.String("payment.operation_id", id))

	log := p.logger.With(zap.String("operation_id", id))

	var op *domain.GatewayOperation
	err := p.db.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		op, err = tx.GetOperation(ctx, id)
		return err
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		log.Error("No ledger record for queued payment, removed from processing queue")
		p.drop(id)
		return resultMissing
	case err != nil:
		log.Warn("Ledger lookup failed, keeping payment queued", zap.Error(err))
		return resultError
	case op.Status.Terminal():
		p.drop(id)
		return resultNoop
	}

	resp, err := p.gateway.QueryPayment(ctx, id)
	if err != nil {
		p.failures[id]++
		attempt := p.failures[id]
		if attempt >= p.maxFailures {
			log.Error("Invalid response from payment gateway, removed from processing queue",
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			p.drop(id)
			return resultDropped
		}
		log.Warn("Payment status query failed, will retry",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", p.maxFailures),
			zap.Error(err),
		)
		return resultFailed
	}
	delete(p.failures, id)

	status := resp.OperationStatus()
	span.SetAttributes(attribute.String("payment.status", string(status)))

	switch status {
	case domain.StatusPending:
		return resultKept
	case domain.StatusWaitingCapture:
		log.Warn("Payment gateway is misconfigured, payment moved to waiting_for_capture and was removed from processing queue")
		p.park(ctx, log, resp)
		return resultCapture
	case domain.StatusSucceeded, domain.StatusCanceled:
		return p.applyTransition(ctx, log, resp)
	default:
		log.Error("Unknown payment status, removed from processing queue", zap.String("status", resp.Status))
		p.park(ctx, log, resp)
		return resultError
	}
}

// park records a status the poller does not settle so that Recover stops
// picking the operation up, then drops it from the queue.
func (p *Poller) park(ctx context.Context, log *zap.Logger, resp *gateway.PaymentResponse) {
	err := p.db.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		op, err := tx.GetOperation(ctx, resp.ID)
		if err != nil {
			return err
		}
		if op.Status != domain.StatusPending {
			return nil
		}
		return tx.UpdateOperationStatus(ctx, resp.ID, resp.OperationStatus(), resp.MethodType())
	})
	if err != nil {
		log.Error("Failed to record payment status", zap.String("status", resp.Status), zap.Error(err))
	}
	p.drop(resp.ID)
}

// applyTransition updates the ledger and, for succeeded payments, credits
// the balance in the same serializable transaction.
func (p *Poller) applyTransition(ctx context.Context, log *zap.Logger, resp *gateway.PaymentResponse) pollResult {
	status := resp.OperationStatus()
	method := resp.MethodType()
	applied := false

	err := p.db.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		applied = false
		op, err := tx.GetOperation(ctx, resp.ID)
		if err != nil {
			return err
		}
		if op.Status.Terminal() {
			return nil
		}
		if err := tx.UpdateOperationStatus(ctx, resp.ID, status, method); err != nil {
			return err
		}
		if status == domain.StatusSucceeded {
			if err := p.settlement.CreditFromGatewayConfirmation(ctx, tx, op.UserID, op.Amount, method); err != nil {
				return err
			}
		}
		applied = true
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidCredit) || errors.Is(err, ErrUserNotFound) || errors.Is(err, store.ErrNotFound) {
			log.Error("Payment cannot be settled, removed from processing queue", zap.Error(err))
			p.drop(resp.ID)
			return resultError
		}
		log.Warn("Settlement transaction failed, keeping payment queued", zap.Error(err))
		return resultError
	}

	p.drop(resp.ID)
	if !applied {
		return resultNoop
	}
	log.Info("Payment confirmation received",
		zap.String("status", string(status)),
		zap.String("payment_method", method),
	)
	if status == domain.StatusCanceled {
		return resultCanceled
	}
	return resultSettled
}

func (p *Poller) drop(id string) {
	p.queue.Remove(id)
	delete(p.failures, id)
}
