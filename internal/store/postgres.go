package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/bookpay/internal/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

//go:embed schema.sql
var schema string

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// Postgres runs every TxFunc under serializable isolation and retries
// serialization failures up to maxRetries extra times.
type Postgres struct {
	Db         *pgxpool.Pool
	maxRetries int
	logger     *zap.Logger
}

func NewPostgres(ctx context.Context, connString string, maxRetries int, logger *zap.Logger) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Postgres{Db: pool, maxRetries: maxRetries, logger: logger}, nil
}

func (s *Postgres) Close() {
	s.Db.Close()
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *Postgres) Migrate(ctx context.Context) error {
	if _, err := s.Db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Postgres) WithTx(ctx context.Context, fn TxFunc) error {
	var err error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		err = s.runTx(ctx, fn)
		if !errors.Is(err, ErrSerialization) {
			return err
		}
		s.logger.Warn("Serializable transaction aborted, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return err
}

func (s *Postgres) runTx(ctx context.Context, fn TxFunc) error {
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return mapErr(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", mapErr(err))
	}
	return nil
}

// mapErr folds driver errors into the package sentinels while keeping the
// original in the chain.
func mapErr(err error) error {
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicate) || errors.Is(err, ErrSerialization) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%w: %w", ErrDuplicate, err)
		case pgSerializationFailure, pgDeadlockDetected:
			return fmt.Errorf("%w: %w", ErrSerialization, err)
		}
	}
	return err
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) GetUser(ctx context.Context, userID int64) (*domain.User, error) {
	var u domain.User
	err := t.tx.QueryRow(ctx,
		"SELECT id, hash, contact, balance FROM users WHERE id = $1", userID,
	).Scan(&u.ID, &u.Hash, &u.Contact, &u.Balance)
	if err != nil {
		return nil, mapErr(err)
	}
	return &u, nil
}

func (t *pgTx) GetUserByHash(ctx context.Context, hash string) (*domain.User, error) {
	var u domain.User
	err := t.tx.QueryRow(ctx,
		"SELECT id, hash, contact, balance FROM users WHERE hash = $1", hash,
	).Scan(&u.ID, &u.Hash, &u.Contact, &u.Balance)
	if err != nil {
		return nil, mapErr(err)
	}
	return &u, nil
}

func (t *pgTx) GetBalance(ctx context.Context, userID int64) (int64, error) {
	var balance int64
	err := t.tx.QueryRow(ctx, "SELECT balance FROM users WHERE id = $1", userID).Scan(&balance)
	if err != nil {
		return 0, mapErr(err)
	}
	return balance, nil
}

func (t *pgTx) SetBalance(ctx context.Context, userID int64, balance int64) error {
	tag, err := t.tx.Exec(ctx, "UPDATE users SET balance = $1 WHERE id = $2", balance, userID)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) ItemsByStatus(ctx context.Context, userID int64, status domain.ItemStatus) ([]domain.CartItem, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT b.id, b.slug, b.title, b.price, b.discount
		   FROM book2user bu JOIN books b ON b.id = bu.book_id
		  WHERE bu.user_id = $1 AND bu.status = $2
		  ORDER BY bu.updated_at, b.id`,
		userID, string(status))
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var items []domain.CartItem
	for rows.Next() {
		var it domain.CartItem
		if err := rows.Scan(&it.BookID, &it.Slug, &it.Title, &it.Price, &it.Discount); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (t *pgTx) SetItemStatus(ctx context.Context, userID, bookID int64, status domain.ItemStatus) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO book2user (user_id, book_id, status) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, book_id) DO UPDATE SET status = EXCLUDED.status, updated_at = now()`,
		userID, bookID, string(status))
	return mapErr(err)
}

// UpsertOperation inserts op or refreshes a still-pending row with the same
// id. Rows the poller has already moved on are left untouched.
func (t *pgTx) UpsertOperation(ctx context.Context, op domain.GatewayOperation) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO gateway_operations
		     (operation_id, idempotency_key, amount, status, payment_method, user_id, created_at)
		 VALUES ($1, $2, $3::numeric, $4, $5, $6, $7)
		 ON CONFLICT (operation_id) DO UPDATE
		     SET amount = EXCLUDED.amount, status = EXCLUDED.status,
		         idempotency_key = EXCLUDED.idempotency_key, created_at = EXCLUDED.created_at
		   WHERE gateway_operations.status = 'pending'`,
		op.OperationID, op.IdempotencyKey, op.Amount.String(), string(op.Status),
		op.PaymentMethod, op.UserID, op.CreatedAt)
	return mapErr(err)
}

const operationColumns = "operation_id, idempotency_key, amount::text, status, payment_method, user_id, created_at"

func scanOperation(row pgx.Row) (*domain.GatewayOperation, error) {
	var (
		op     domain.GatewayOperation
		amount string
		status string
	)
	if err := row.Scan(&op.OperationID, &op.IdempotencyKey, &amount, &status, &op.PaymentMethod, &op.UserID, &op.CreatedAt); err != nil {
		return nil, mapErr(err)
	}
	v, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("operation %s has invalid amount %q: %w", op.OperationID, amount, err)
	}
	op.Amount = v
	op.Status = domain.OperationStatus(status)
	return &op, nil
}

func (t *pgTx) GetOperation(ctx context.Context, operationID string) (*domain.GatewayOperation, error) {
	return scanOperation(t.tx.QueryRow(ctx,
		"SELECT "+operationColumns+" FROM gateway_operations WHERE operation_id = $1", operationID))
}

func (t *pgTx) GetOperationByIdempotencyKey(ctx context.Context, key string) (*domain.GatewayOperation, error) {
	return scanOperation(t.tx.QueryRow(ctx,
		"SELECT "+operationColumns+" FROM gateway_operations WHERE idempotency_key = $1", key))
}

func (t *pgTx) UpdateOperationStatus(ctx context.Context, operationID string, status domain.OperationStatus, method string) error {
	tag, err := t.tx.Exec(ctx,
		"UPDATE gateway_operations SET status = $1, payment_method = $2 WHERE operation_id = $3",
		string(status), method, operationID)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) ListOperationsByStatus(ctx context.Context, status domain.OperationStatus) ([]domain.GatewayOperation, error) {
	rows, err := t.tx.Query(ctx,
		"SELECT "+operationColumns+" FROM gateway_operations WHERE status = $1 ORDER BY created_at, operation_id",
		string(status))
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var ops []domain.GatewayOperation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, *op)
	}
	return ops, rows.Err()
}

func (t *pgTx) InsertBalanceTransaction(ctx context.Context, bt *domain.BalanceTransaction) error {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO balance_transactions (user_id, book_id, value, description, created_at)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		bt.UserID, bt.BookID, bt.Value, bt.Description, bt.CreatedAt,
	).Scan(&bt.ID)
	return mapErr(err)
}

func (t *pgTx) ListBalanceTransactions(ctx context.Context, userID int64, ascending bool, page, limit int) ([]domain.BalanceTransaction, int, error) {
	var total int
	if err := t.tx.QueryRow(ctx,
		"SELECT COUNT(*) FROM balance_transactions WHERE user_id = $1", userID,
	).Scan(&total); err != nil {
		return nil, 0, mapErr(err)
	}

	order := "DESC"
	if ascending {
		order = "ASC"
	}
	rows, err := t.tx.Query(ctx,
		"SELECT id, user_id, book_id, value, description, created_at FROM balance_transactions"+
			" WHERE user_id = $1 ORDER BY created_at "+order+", id "+order+" LIMIT $2 OFFSET $3",
		userID, limit, page*limit)
	if err != nil {
		return nil, 0, mapErr(err)
	}
	defer rows.Close()

	var out []domain.BalanceTransaction
	for rows.Next() {
		var bt domain.BalanceTransaction
		if err := rows.Scan(&bt.ID, &bt.UserID, &bt.BookID, &bt.Value, &bt.Description, &bt.CreatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, bt)
	}
	return out, total, rows.Err()
}
