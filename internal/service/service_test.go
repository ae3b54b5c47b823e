package service_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/punchamoorthee/bookpay/internal/domain"
	"github.com/punchamoorthee/bookpay/internal/gateway"
	"github.com/punchamoorthee/bookpay/internal/idempotency"
	"github.com/punchamoorthee/bookpay/internal/service"
	"github.com/punchamoorthee/bookpay/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

const (
	testUserID   = int64(1)
	testUserHash = "reader-hash"
	testRedirect = "https://shop.example/cart"
)

var tracer = noop.NewTracerProvider().Tracer("test")

type createCall struct {
	Amount      decimal.Decimal
	Contact     string
	Key         string
	RedirectURI string
}

// fakeGateway records create calls and serves scripted query results.
type fakeGateway struct {
	mu        sync.Mutex
	creates   []createCall
	createErr error
	gate      chan struct{}
	statuses  map[string]string
	methods   map[string]string
	queryErr  map[string]error
	queries   map[string]int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		statuses: make(map[string]string),
		methods:  make(map[string]string),
		queryErr: make(map[string]error),
		queries:  make(map[string]int),
	}
}

func (g *fakeGateway) CreatePayment(_ context.Context, amount decimal.Decimal, contact, key, redirectURI string) (*gateway.PaymentResponse, error) {
	if g.gate != nil {
		<-g.gate
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.creates = append(g.creates, createCall{Amount: amount, Contact: contact, Key: key, RedirectURI: redirectURI})
	if g.createErr != nil {
		return nil, g.createErr
	}
	id := fmt.Sprintf("op-%d", len(g.creates))
	g.statuses[id] = string(domain.StatusPending)
	return &gateway.PaymentResponse{
		ID:     id,
		Status: string(domain.StatusPending),
		Amount: gateway.Amount{Value: gateway.FormatAmount(amount), Currency: "RUB"},
		Confirmation: &gateway.Confirmation{
			Type:            "redirect",
			ConfirmationURL: "https://pay.example/checkout/" + id,
		},
	}, nil
}

func (g *fakeGateway) QueryPayment(_ context.Context, id string) (*gateway.PaymentResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.queries[id]++
	if err := g.queryErr[id]; err != nil {
		return nil, err
	}
	resp := &gateway.PaymentResponse{ID: id, Status: g.statuses[id]}
	if m := g.methods[id]; m != "" {
		resp.PaymentMethod = &gateway.PaymentMethod{Type: m}
	}
	return resp, nil
}

func (g *fakeGateway) setStatus(id string, status domain.OperationStatus, method string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses[id] = string(status)
	g.methods[id] = method
}

func (g *fakeGateway) createCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.creates)
}

func (g *fakeGateway) lastCreate() createCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.creates[len(g.creates)-1]
}

func (g *fakeGateway) queryCount(id string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.queries[id]
}

// harness wires the payment core against the in-memory store.
type harness struct {
	db         *store.Memory
	gw         *fakeGateway
	queue      *service.PendingQueue
	cache      *idempotency.Cache
	settlement *service.Settlement
	topUp      *service.TopUpService
	checkout   *service.Checkout
	poller     *service.Poller
	accounts   *service.Accounts
}

func newHarness(t *testing.T, balance int64, books ...domain.CartItem) *harness {
	t.Helper()

	logger := zap.NewNop()
	db := store.NewMemory()
	db.AddUser(domain.User{ID: testUserID, Hash: testUserHash, Contact: "reader@example.com", Balance: balance})
	for _, b := range books {
		db.AddBook(b)
	}
	err := db.WithTx(t.Context(), func(ctx context.Context, tx store.Tx) error {
		for _, b := range books {
			if err := tx.SetItemStatus(ctx, testUserID, b.BookID, domain.ItemCart); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	h := &harness{
		db:    db,
		gw:    newFakeGateway(),
		queue: service.NewPendingQueue(),
		cache: idempotency.NewCache(30 * time.Second),
	}
	h.settlement = service.NewSettlement(logger)
	h.topUp = service.NewTopUpService(db, h.gw, h.cache, h.queue, tracer, logger)
	h.checkout = service.NewCheckout(db, h.topUp, h.settlement, testRedirect, tracer, logger)
	h.poller = service.NewPoller(db, h.gw, h.queue, h.settlement,
		service.PollerConfig{Interval: 10 * time.Millisecond, MaxFailures: 3}, tracer, logger)
	h.accounts = service.NewAccounts(db)
	t.Cleanup(h.topUp.Close)
	return h
}

func (h *harness) balance(t *testing.T) int64 {
	t.Helper()
	var b int64
	err := h.db.WithTx(t.Context(), func(ctx context.Context, tx store.Tx) error {
		var err error
		b, err = tx.GetBalance(ctx, testUserID)
		return err
	})
	require.NoError(t, err)
	return b
}

func (h *harness) journal(t *testing.T) []domain.BalanceTransaction {
	t.Helper()
	var rows []domain.BalanceTransaction
	err := h.db.WithTx(t.Context(), func(ctx context.Context, tx store.Tx) error {
		var err error
		rows, _, err = tx.ListBalanceTransactions(ctx, testUserID, true, 0, 100)
		return err
	})
	require.NoError(t, err)
	return rows
}

func (h *harness) operation(t *testing.T, id string) *domain.GatewayOperation {
	t.Helper()
	var op *domain.GatewayOperation
	err := h.db.WithTx(t.Context(), func(ctx context.Context, tx store.Tx) error {
		var err error
		op, err = tx.GetOperation(ctx, id)
		return err
	})
	require.NoError(t, err)
	return op
}

func (h *harness) items(t *testing.T, status domain.ItemStatus) []domain.CartItem {
	t.Helper()
	var items []domain.CartItem
	err := h.db.WithTx(t.Context(), func(ctx context.Context, tx store.Tx) error {
		var err error
		items, err = tx.ItemsByStatus(ctx, testUserID, status)
		return err
	})
	require.NoError(t, err)
	return items
}

func (h *harness) topUpRequest(amount int64, at time.Time) service.TopUp {
	return service.TopUp{
		UserID:      testUserID,
		UserHash:    testUserHash,
		Amount:      decimal.NewFromInt(amount),
		RequestedAt: at,
		RedirectURI: "https://shop.example/balance",
	}
}

// cartBooks total 800 after discounts.
func cartBooks() []domain.CartItem {
	return []domain.CartItem{
		{BookID: 10, Slug: "dune", Title: "Dune", Price: 300},
		{BookID: 11, Slug: "solaris", Title: "Solaris", Price: 625, Discount: 20},
	}
}
