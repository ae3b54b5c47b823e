package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/punchamoorthee/bookpay/internal/domain"
	"github.com/punchamoorthee/bookpay/internal/gateway"
	"github.com/punchamoorthee/bookpay/internal/service"
	"github.com/punchamoorthee/bookpay/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopUp(t *testing.T) {
	t.Run("ok, creates payment and records pending operation", func(t *testing.T) {
		h := newHarness(t, 0)

		uri, err := h.topUp.TopUp(t.Context(), h.topUpRequest(300, time.Now()))
		require.NoError(t, err)
		require.Equal(t, "https://pay.example/checkout/op-1", uri)

		call := h.gw.lastCreate()
		require.Equal(t, "300.00", gateway.FormatAmount(call.Amount))
		require.Equal(t, "reader@example.com", call.Contact)
		require.NotEmpty(t, call.Key)

		op := h.operation(t, "op-1")
		require.Equal(t, domain.StatusPending, op.Status)
		require.Equal(t, call.Key, op.IdempotencyKey)
		require.Equal(t, testUserID, op.UserID)
		require.True(t, h.queue.Contains("op-1"))
	})

	t.Run("ok, identical requests in one window share one gateway call", func(t *testing.T) {
		h := newHarness(t, 0)
		at := time.Now()

		first, err := h.topUp.TopUp(t.Context(), h.topUpRequest(300, at))
		require.NoError(t, err)
		second, err := h.topUp.TopUp(t.Context(), h.topUpRequest(300, at.Add(500*time.Millisecond)))
		require.NoError(t, err)

		require.Equal(t, first, second)
		require.Equal(t, 1, h.gw.createCount())
		require.Equal(t, 1, h.queue.Len())
	})

	t.Run("ok, concurrent callers observe the same uri", func(t *testing.T) {
		h := newHarness(t, 0)
		h.gw.gate = make(chan struct{})
		at := time.Now()

		const callers = 16
		uris := make([]string, callers)
		var wg sync.WaitGroup
		for i := range callers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				uri, err := h.topUp.TopUp(context.Background(), h.topUpRequest(300, at))
				assert.NoError(t, err)
				uris[i] = uri
			}()
		}
		time.Sleep(20 * time.Millisecond)
		close(h.gw.gate)
		wg.Wait()

		require.Equal(t, 1, h.gw.createCount())
		for _, uri := range uris {
			require.Equal(t, uris[0], uri)
		}
	})

	t.Run("ok, different amounts are not deduplicated", func(t *testing.T) {
		h := newHarness(t, 0)
		at := time.Now()

		_, err := h.topUp.TopUp(t.Context(), h.topUpRequest(300, at))
		require.NoError(t, err)
		_, err = h.topUp.TopUp(t.Context(), h.topUpRequest(301, at))
		require.NoError(t, err)

		require.Equal(t, 2, h.gw.createCount())
	})

	t.Run("ok, requests across a bucket boundary make two calls", func(t *testing.T) {
		h := newHarness(t, 0)
		window := h.cache.Window().Milliseconds()
		edge := (time.Now().UnixMilli()/window + 1) * window

		_, err := h.topUp.TopUp(t.Context(), h.topUpRequest(300, time.UnixMilli(edge-1)))
		require.NoError(t, err)
		_, err = h.topUp.TopUp(t.Context(), h.topUpRequest(300, time.UnixMilli(edge)))
		require.NoError(t, err)

		require.Equal(t, 2, h.gw.createCount())
	})

	t.Run("fail, gateway error is shared by all waiters", func(t *testing.T) {
		h := newHarness(t, 0)
		h.gw.createErr = errors.New("connection refused")
		at := time.Now()

		_, err := h.topUp.TopUp(t.Context(), h.topUpRequest(300, at))
		require.ErrorContains(t, err, "connection refused")
		_, err = h.topUp.TopUp(t.Context(), h.topUpRequest(300, at))
		require.ErrorContains(t, err, "connection refused")

		require.Equal(t, 1, h.gw.createCount())
		require.Zero(t, h.queue.Len())
	})

	t.Run("fail, non-positive amount", func(t *testing.T) {
		h := newHarness(t, 0)

		_, err := h.topUp.TopUp(t.Context(), h.topUpRequest(0, time.Now()))
		require.ErrorIs(t, err, service.ErrInvalidAmount)
		require.Zero(t, h.gw.createCount())
	})

	t.Run("fail, fractional amounts are rejected", func(t *testing.T) {
		h := newHarness(t, 0)

		for _, sum := range []string{"300.75", "0.50"} {
			req := h.topUpRequest(0, time.Now())
			req.Amount = decimal.RequireFromString(sum)

			_, err := h.topUp.TopUp(t.Context(), req)
			require.ErrorIs(t, err, service.ErrInvalidAmount, sum)
		}
		require.Zero(t, h.gw.createCount())
		require.Zero(t, h.queue.Len())
	})

	t.Run("ok, whole amount with trailing zeros is accepted", func(t *testing.T) {
		h := newHarness(t, 0)
		req := h.topUpRequest(0, time.Now())
		req.Amount = decimal.RequireFromString("300.00")

		_, err := h.topUp.TopUp(t.Context(), req)
		require.NoError(t, err)
		require.Equal(t, 1, h.gw.createCount())
	})

	t.Run("ok, already recorded idempotency key reuses the ledger row", func(t *testing.T) {
		h := newHarness(t, 0)
		err := h.db.WithTx(t.Context(), func(ctx context.Context, tx store.Tx) error {
			return tx.UpsertOperation(ctx, domain.GatewayOperation{
				OperationID:    "op-recorded",
				IdempotencyKey: "fixed-key",
				Amount:         decimal.NewFromInt(300),
				Status:         domain.StatusPending,
				UserID:         testUserID,
				CreatedAt:      time.Now(),
			})
		})
		require.NoError(t, err)
		service.SetKeyGenerator(h.topUp, func() string { return "fixed-key" })

		uri, err := h.topUp.TopUp(t.Context(), h.topUpRequest(300, time.Now()))
		require.NoError(t, err)
		require.NotEmpty(t, uri)

		require.Equal(t, []string{"op-recorded"}, h.queue.Snapshot())
		var op *domain.GatewayOperation
		err = h.db.WithTx(t.Context(), func(ctx context.Context, tx store.Tx) error {
			var err error
			op, err = tx.GetOperation(ctx, "op-1")
			return err
		})
		require.ErrorIs(t, err, store.ErrNotFound)
		require.Nil(t, op)
	})

	t.Run("fail, hash does not match user", func(t *testing.T) {
		h := newHarness(t, 0)
		req := h.topUpRequest(300, time.Now())
		req.UserHash = "someone-else"

		_, err := h.topUp.TopUp(t.Context(), req)
		require.ErrorIs(t, err, service.ErrUserNotFound)
		require.Zero(t, h.gw.createCount())
	})

	t.Run("ok, abandoned wait still records the operation", func(t *testing.T) {
		h := newHarness(t, 0)
		h.gw.gate = make(chan struct{})

		ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
		defer cancel()
		_, err := h.topUp.TopUp(ctx, h.topUpRequest(300, time.Now()))
		require.ErrorIs(t, err, context.DeadlineExceeded)

		close(h.gw.gate)
		h.topUp.Close()

		require.Equal(t, 1, h.gw.createCount())
		require.True(t, h.queue.Contains("op-1"))
		require.Equal(t, domain.StatusPending, h.operation(t, "op-1").Status)
	})

	t.Run("ok, close clears the cache", func(t *testing.T) {
		h := newHarness(t, 0)

		_, err := h.topUp.TopUp(t.Context(), h.topUpRequest(300, time.Now()))
		require.NoError(t, err)
		require.Equal(t, 1, h.cache.Len())

		h.topUp.Close()
		require.Zero(t, h.cache.Len())
	})
}
