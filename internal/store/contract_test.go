package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/punchamoorthee/bookpay/internal/domain"
	"github.com/punchamoorthee/bookpay/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type backend interface {
	WithTx(ctx context.Context, fn store.TxFunc) error
}

// fixture is a backend seeded with one user (balance 500) and two books.
type fixture struct {
	backend backend
	user    domain.User
	books   []domain.CartItem
}

func runContract(t *testing.T, newFixture func(t *testing.T) fixture) {
	t.Run("ok, operation round-trips by id and idempotency key", func(t *testing.T) {
		f := newFixture(t)
		op := domain.GatewayOperation{
			OperationID:    "op-" + f.user.Hash,
			IdempotencyKey: "key-" + f.user.Hash,
			Amount:         decimal.RequireFromString("300.00"),
			Status:         domain.StatusPending,
			UserID:         f.user.ID,
			CreatedAt:      time.Now().UTC().Truncate(time.Millisecond),
		}

		err := f.backend.WithTx(t.Context(), func(ctx context.Context, tx store.Tx) error {
			return tx.UpsertOperation(ctx, op)
		})
		require.NoError(t, err)

		err = f.backend.WithTx(t.Context(), func(ctx context.Context, tx store.Tx) error {
			byID, err := tx.GetOperation(ctx, op.OperationID)
			require.NoError(t, err)
			require.Equal(t, op.IdempotencyKey, byID.IdempotencyKey)
			require.True(t, op.Amount.Equal(byID.Amount))
			require.Equal(t, domain.StatusPending, byID.Status)

			byKey, err := tx.GetOperationByIdempotencyKey(ctx, op.IdempotencyKey)
			require.NoError(t, err)
			require.Equal(t, op.OperationID, byKey.OperationID)

			pending, err := tx.ListOperationsByStatus(ctx, domain.StatusPending)
			require.NoError(t, err)
			require.NotEmpty(t, pending)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("fail, duplicate idempotency key", func(t *testing.T) {
		f := newFixture(t)
		op := domain.GatewayOperation{
			OperationID:    "dup-a-" + f.user.Hash,
			IdempotencyKey: "dup-key-" + f.user.Hash,
			Amount:         decimal.NewFromInt(10),
			Status:         domain.StatusPending,
			UserID:         f.user.ID,
			CreatedAt:      time.Now().UTC(),
		}
		require.NoError(t, f.backend.WithTx(t.Context(), func(ctx context.Context, tx store.Tx) error {
			return tx.UpsertOperation(ctx, op)
		}))

		op.OperationID = "dup-b-" + f.user.Hash
		err := f.backend.WithTx(t.Context(), func(ctx context.Context, tx store.Tx) error {
			return tx.UpsertOperation(ctx, op)
		})
		require.ErrorIs(t, err, store.ErrDuplicate)
	})

	t.Run("ok, upsert leaves a settled operation alone", func(t *testing.T) {
		f := newFixture(t)
		op := domain.GatewayOperation{
			OperationID:    "settled-" + f.user.Hash,
			IdempotencyKey: "settled-key-" + f.user.Hash,
			Amount:         decimal.NewFromInt(300),
			Status:         domain.StatusPending,
			UserID:         f.user.ID,
			CreatedAt:      time.Now().UTC(),
		}
		require.NoError(t, f.backend.WithTx(t.Context(), func(ctx context.Context, tx store.Tx) error {
			if err := tx.UpsertOperation(ctx, op); err != nil {
				return err
			}
			return tx.UpdateOperationStatus(ctx, op.OperationID, domain.StatusSucceeded, "bank_card")
		}))

		require.NoError(t, f.backend.WithTx(t.Context(), func(ctx context.Context, tx store.Tx) error {
			return tx.UpsertOperation(ctx, op)
		}))

		err := f.backend.WithTx(t.Context(), func(ctx context.Context, tx store.Tx) error {
			got, err := tx.GetOperation(ctx, op.OperationID)
			require.NoError(t, err)
			require.Equal(t, domain.StatusSucceeded, got.Status)
			require.Equal(t, "bank_card", got.PaymentMethod)

			pending, err := tx.ListOperationsByStatus(ctx, domain.StatusPending)
			require.NoError(t, err)
			for _, p := range pending {
				require.NotEqual(t, op.OperationID, p.OperationID)
			}
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("fail, missing operation", func(t *testing.T) {
		f := newFixture(t)
		err := f.backend.WithTx(t.Context(), func(ctx context.Context, tx store.Tx) error {
			_, err := tx.GetOperation(ctx, "does-not-exist")
			return err
		})
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("ok, error rolls back every write", func(t *testing.T) {
		f := newFixture(t)
		boom := errors.New("boom")

		err := f.backend.WithTx(t.Context(), func(ctx context.Context, tx store.Tx) error {
			require.NoError(t, tx.SetBalance(ctx, f.user.ID, 1))
			require.NoError(t, tx.SetItemStatus(ctx, f.user.ID, f.books[0].BookID, domain.ItemPaid))
			require.NoError(t, tx.InsertBalanceTransaction(ctx, &domain.BalanceTransaction{
				UserID: f.user.ID, Value: -499, Description: "rolled back", CreatedAt: time.Now().UTC(),
			}))
			return boom
		})
		require.ErrorIs(t, err, boom)

		err = f.backend.WithTx(t.Context(), func(ctx context.Context, tx store.Tx) error {
			balance, err := tx.GetBalance(ctx, f.user.ID)
			require.NoError(t, err)
			require.Equal(t, int64(500), balance)

			cart, err := tx.ItemsByStatus(ctx, f.user.ID, domain.ItemCart)
			require.NoError(t, err)
			require.Len(t, cart, len(f.books))

			_, total, err := tx.ListBalanceTransactions(ctx, f.user.ID, true, 0, 10)
			require.NoError(t, err)
			require.Zero(t, total)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("ok, cart items and status transitions", func(t *testing.T) {
		f := newFixture(t)
		err := f.backend.WithTx(t.Context(), func(ctx context.Context, tx store.Tx) error {
			cart, err := tx.ItemsByStatus(ctx, f.user.ID, domain.ItemCart)
			require.NoError(t, err)
			require.Len(t, cart, 2)

			require.NoError(t, tx.SetItemStatus(ctx, f.user.ID, cart[0].BookID, domain.ItemPaid))

			cart, err = tx.ItemsByStatus(ctx, f.user.ID, domain.ItemCart)
			require.NoError(t, err)
			require.Len(t, cart, 1)

			paid, err := tx.ItemsByStatus(ctx, f.user.ID, domain.ItemPaid)
			require.NoError(t, err)
			require.Len(t, paid, 1)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("ok, balance history pages", func(t *testing.T) {
		f := newFixture(t)
		base := time.Now().UTC().Truncate(time.Second)
		err := f.backend.WithTx(t.Context(), func(ctx context.Context, tx store.Tx) error {
			for i := 0; i < 3; i++ {
				require.NoError(t, tx.InsertBalanceTransaction(ctx, &domain.BalanceTransaction{
					UserID:      f.user.ID,
					Value:       int64(i + 1),
					Description: "entry",
					CreatedAt:   base.Add(time.Duration(i) * time.Second),
				}))
			}
			return nil
		})
		require.NoError(t, err)

		err = f.backend.WithTx(t.Context(), func(ctx context.Context, tx store.Tx) error {
			page, total, err := tx.ListBalanceTransactions(ctx, f.user.ID, true, 0, 2)
			require.NoError(t, err)
			require.Equal(t, 3, total)
			require.Len(t, page, 2)
			require.Equal(t, int64(1), page[0].Value)

			page, _, err = tx.ListBalanceTransactions(ctx, f.user.ID, false, 0, 2)
			require.NoError(t, err)
			require.Equal(t, int64(3), page[0].Value)

			page, _, err = tx.ListBalanceTransactions(ctx, f.user.ID, true, 1, 2)
			require.NoError(t, err)
			require.Len(t, page, 1)
			require.Equal(t, int64(3), page[0].Value)
			return nil
		})
		require.NoError(t, err)
	})
}
