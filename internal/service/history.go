package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/punchamoorthee/bookpay/internal/domain"
	"github.com/punchamoorthee/bookpay/internal/models"
	"github.com/punchamoorthee/bookpay/internal/store"
)

const DefaultHistoryLimit = 5

// Accounts exposes read-only views of user balances and their journal.
type Accounts struct {
	db TxRunner
}

func NewAccounts(db TxRunner) *Accounts {
	return &Accounts{db: db}
}

// UserByHash resolves the opaque user hash carried by API requests.
func (a *Accounts) UserByHash(ctx context.Context, hash string) (*domain.User, error) {
	if hash == "" {
		return nil, ErrUserNotFound
	}
	var user *domain.User
	err := a.db.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		user, err = tx.GetUserByHash(ctx, hash)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}

// History returns one page of the user's balance transactions. sort is
// "asc" or "desc"; page is zero-based.
func (a *Accounts) History(ctx context.Context, userID int64, sort string, page, limit int) (models.TransactionListResponse, error) {
	var ascending bool
	switch strings.ToLower(sort) {
	case "asc":
		ascending = true
	case "desc", "":
	default:
		return models.TransactionListResponse{}, ErrInvalidSort
	}
	if page < 0 || limit <= 0 {
		return models.TransactionListResponse{}, ErrInvalidPage
	}

	var (
		rows  []domain.BalanceTransaction
		total int
	)
	err := a.db.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		rows, total, err = tx.ListBalanceTransactions(ctx, userID, ascending, page, limit)
		return err
	})
	if err != nil {
		return models.TransactionListResponse{}, fmt.Errorf("list transactions: %w", err)
	}

	resp := models.TransactionListResponse{
		Count:        total,
		Transactions: make([]models.TransactionView, 0, len(rows)),
	}
	for _, bt := range rows {
		resp.Transactions = append(resp.Transactions, models.TransactionView{
			Value:       bt.Value,
			Description: bt.Description,
			Time:        bt.CreatedAt,
		})
	}
	return resp, nil
}
