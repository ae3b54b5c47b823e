package service

import (
	"context"
	"errors"

	"github.com/punchamoorthee/bookpay/internal/gateway"
	"github.com/punchamoorthee/bookpay/internal/store"
	"github.com/shopspring/decimal"
)

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrInvalidAmount = errors.New("amount must be a positive whole number")
	ErrInvalidSort   = errors.New("sort must be asc or desc")
	ErrInvalidPage   = errors.New("offset must be non-negative and limit positive")

	// ErrInvalidCredit marks a confirmed payment with a non-positive amount.
	// It indicates corrupted ledger data.
	ErrInvalidCredit = errors.New("credit amount must be positive")

	// ErrBalanceInvariant means a debit would drive a balance negative. The
	// surrounding transaction is rolled back and the error is not retried.
	ErrBalanceInvariant = errors.New("balance would become negative")
)

// TxRunner executes fn inside one serializable transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn store.TxFunc) error
}

// Gateway is the subset of the payment gateway client the core uses.
type Gateway interface {
	CreatePayment(ctx context.Context, amount decimal.Decimal, payerContact, idempotencyKey, redirectURI string) (*gateway.PaymentResponse, error)
	QueryPayment(ctx context.Context, operationID string) (*gateway.PaymentResponse, error)
}
