package store

import (
	"context"
	"errors"

	"github.com/punchamoorthee/bookpay/internal/domain"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrDuplicate     = errors.New("duplicate record")
	ErrSerialization = errors.New("serialization failure")
)

// Tx is the set of reads and writes the payment core performs inside one
// serializable transaction. Both the Postgres and in-memory backends
// implement it.
type Tx interface {
	GetUser(ctx context.Context, userID int64) (*domain.User, error)
	GetUserByHash(ctx context.Context, hash string) (*domain.User, error)
	GetBalance(ctx context.Context, userID int64) (int64, error)
	SetBalance(ctx context.Context, userID int64, balance int64) error

	ItemsByStatus(ctx context.Context, userID int64, status domain.ItemStatus) ([]domain.CartItem, error)
	SetItemStatus(ctx context.Context, userID, bookID int64, status domain.ItemStatus) error

	// UpsertOperation never rewrites a row that has left pending. A second
	// operation with the same idempotency key is ErrDuplicate.
	UpsertOperation(ctx context.Context, op domain.GatewayOperation) error
	GetOperation(ctx context.Context, operationID string) (*domain.GatewayOperation, error)
	GetOperationByIdempotencyKey(ctx context.Context, key string) (*domain.GatewayOperation, error)
	UpdateOperationStatus(ctx context.Context, operationID string, status domain.OperationStatus, method string) error
	ListOperationsByStatus(ctx context.Context, status domain.OperationStatus) ([]domain.GatewayOperation, error)

	InsertBalanceTransaction(ctx context.Context, bt *domain.BalanceTransaction) error
	ListBalanceTransactions(ctx context.Context, userID int64, ascending bool, page, limit int) ([]domain.BalanceTransaction, int, error)
}

// TxFunc runs inside a transaction. Returning an error rolls back.
type TxFunc func(ctx context.Context, tx Tx) error
