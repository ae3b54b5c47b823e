package store

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/punchamoorthee/bookpay/internal/domain"
)

type bookUserKey struct {
	userID int64
	bookID int64
}

type bookLink struct {
	status domain.ItemStatus
	seq    int64
}

type memState struct {
	users      map[int64]domain.User
	books      map[int64]domain.CartItem
	links      map[bookUserKey]bookLink
	operations map[string]domain.GatewayOperation
	journal    []domain.BalanceTransaction
	seq        int64
}

func (s *memState) clone() *memState {
	return &memState{
		users:      maps.Clone(s.users),
		books:      maps.Clone(s.books),
		links:      maps.Clone(s.links),
		operations: maps.Clone(s.operations),
		journal:    append([]domain.BalanceTransaction(nil), s.journal...),
		seq:        s.seq,
	}
}

// Memory is an in-process backend. Transactions run one at a time against a
// private copy of the state which replaces the shared state only on success,
// so every TxFunc is serializable and all-or-nothing.
type Memory struct {
	mu    sync.Mutex
	state *memState
	now   func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		state: &memState{
			users:      make(map[int64]domain.User),
			books:      make(map[int64]domain.CartItem),
			links:      make(map[bookUserKey]bookLink),
			operations: make(map[string]domain.GatewayOperation),
		},
		now: time.Now,
	}
}

func (m *Memory) WithTx(ctx context.Context, fn TxFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	working := m.state.clone()
	if err := fn(ctx, &memTx{s: working, now: m.now}); err != nil {
		return err
	}
	m.state = working
	return nil
}

// AddUser inserts or replaces a user record.
func (m *Memory) AddUser(u domain.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.users[u.ID] = u
}

// AddBook inserts or replaces a catalog entry.
func (m *Memory) AddBook(b domain.CartItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.books[b.BookID] = b
}

type memTx struct {
	s   *memState
	now func() time.Time
}

func (t *memTx) GetUser(_ context.Context, userID int64) (*domain.User, error) {
	u, ok := t.s.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (t *memTx) GetUserByHash(_ context.Context, hash string) (*domain.User, error) {
	for _, u := range t.s.users {
		if u.Hash == hash {
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) GetBalance(_ context.Context, userID int64) (int64, error) {
	u, ok := t.s.users[userID]
	if !ok {
		return 0, ErrNotFound
	}
	return u.Balance, nil
}

func (t *memTx) SetBalance(_ context.Context, userID int64, balance int64) error {
	u, ok := t.s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.Balance = balance
	t.s.users[userID] = u
	return nil
}

func (t *memTx) ItemsByStatus(_ context.Context, userID int64, status domain.ItemStatus) ([]domain.CartItem, error) {
	type ranked struct {
		item domain.CartItem
		seq  int64
	}
	var found []ranked
	for k, link := range t.s.links {
		if k.userID != userID || link.status != status {
			continue
		}
		b, ok := t.s.books[k.bookID]
		if !ok {
			continue
		}
		found = append(found, ranked{item: b, seq: link.seq})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].seq < found[j].seq })

	items := make([]domain.CartItem, 0, len(found))
	for _, r := range found {
		items = append(items, r.item)
	}
	return items, nil
}

func (t *memTx) SetItemStatus(_ context.Context, userID, bookID int64, status domain.ItemStatus) error {
	if _, ok := t.s.users[userID]; !ok {
		return ErrNotFound
	}
	if _, ok := t.s.books[bookID]; !ok {
		return ErrNotFound
	}
	t.s.seq++
	t.s.links[bookUserKey{userID: userID, bookID: bookID}] = bookLink{status: status, seq: t.s.seq}
	return nil
}

func (t *memTx) UpsertOperation(_ context.Context, op domain.GatewayOperation) error {
	for id, existing := range t.s.operations {
		if existing.IdempotencyKey == op.IdempotencyKey && id != op.OperationID {
			return ErrDuplicate
		}
	}
	if _, ok := t.s.users[op.UserID]; !ok {
		return ErrNotFound
	}
	if existing, ok := t.s.operations[op.OperationID]; ok {
		if existing.Status != domain.StatusPending {
			return nil
		}
		op.PaymentMethod = existing.PaymentMethod
	}
	t.s.operations[op.OperationID] = op
	return nil
}

func (t *memTx) GetOperation(_ context.Context, operationID string) (*domain.GatewayOperation, error) {
	op, ok := t.s.operations[operationID]
	if !ok {
		return nil, ErrNotFound
	}
	return &op, nil
}

func (t *memTx) GetOperationByIdempotencyKey(_ context.Context, key string) (*domain.GatewayOperation, error) {
	for _, op := range t.s.operations {
		if op.IdempotencyKey == key {
			return &op, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) UpdateOperationStatus(_ context.Context, operationID string, status domain.OperationStatus, method string) error {
	op, ok := t.s.operations[operationID]
	if !ok {
		return ErrNotFound
	}
	op.Status = status
	op.PaymentMethod = method
	t.s.operations[operationID] = op
	return nil
}

func (t *memTx) ListOperationsByStatus(_ context.Context, status domain.OperationStatus) ([]domain.GatewayOperation, error) {
	var ops []domain.GatewayOperation
	for _, op := range t.s.operations {
		if op.Status == status {
			ops = append(ops, op)
		}
	}
	sort.Slice(ops, func(i, j int) bool {
		if !ops[i].CreatedAt.Equal(ops[j].CreatedAt) {
			return ops[i].CreatedAt.Before(ops[j].CreatedAt)
		}
		return ops[i].OperationID < ops[j].OperationID
	})
	return ops, nil
}

func (t *memTx) InsertBalanceTransaction(_ context.Context, bt *domain.BalanceTransaction) error {
	if _, ok := t.s.users[bt.UserID]; !ok {
		return ErrNotFound
	}
	bt.ID = int64(len(t.s.journal) + 1)
	if bt.CreatedAt.IsZero() {
		bt.CreatedAt = t.now()
	}
	t.s.journal = append(t.s.journal, *bt)
	return nil
}

func (t *memTx) ListBalanceTransactions(_ context.Context, userID int64, ascending bool, page, limit int) ([]domain.BalanceTransaction, int, error) {
	var all []domain.BalanceTransaction
	for _, bt := range t.s.journal {
		if bt.UserID == userID {
			all = append(all, bt)
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		if ascending {
			return all[i].ID < all[j].ID
		}
		return all[i].ID > all[j].ID
	})

	start := page * limit
	if start >= len(all) {
		return nil, len(all), nil
	}
	end := min(start+limit, len(all))
	return all[start:end], len(all), nil
}
