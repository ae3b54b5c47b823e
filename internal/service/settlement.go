package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/punchamoorthee/bookpay/internal/domain"
	"github.com/punchamoorthee/bookpay/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	creditDescription = "Replenishment of the user's balance: "
	debitDescription  = "Buying a book: "
)

// Settlement applies confirmed payment outcomes to balances. Both entry
// points run inside a caller-owned transaction; any returned error must
// roll that transaction back.
type Settlement struct {
	logger *zap.Logger
	now    func() time.Time
}

func NewSettlement(logger *zap.Logger) *Settlement {
	return &Settlement{logger: logger, now: time.Now}
}

// CreditFromGatewayConfirmation adds the whole-unit part of amount to the
// user's balance and journals a positive entry.
func (s *Settlement) CreditFromGatewayConfirmation(ctx context.Context, tx store.Tx, userID int64, amount decimal.Decimal, method string) error {
	value := amount.IntPart()
	if value <= 0 {
		return fmt.Errorf("%w: user %d amount %s", ErrInvalidCredit, userID, amount)
	}

	balance, err := tx.GetBalance(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %d", ErrUserNotFound, userID)
		}
		return fmt.Errorf("read balance: %w", err)
	}

	if err := tx.SetBalance(ctx, userID, balance+value); err != nil {
		return fmt.Errorf("write balance: %w", err)
	}

	entry := &domain.BalanceTransaction{
		UserID:      userID,
		Value:       value,
		Description: creditDescription + method,
		CreatedAt:   s.now().UTC(),
	}
	if err := tx.InsertBalanceTransaction(ctx, entry); err != nil {
		return fmt.Errorf("journal credit: %w", err)
	}

	s.logger.Info("Balance credited",
		zap.Int64("user_id", userID),
		zap.Int64("value", value),
		zap.Int64("balance", balance+value),
		zap.String("payment_method", method),
	)
	return nil
}

// DebitForCartPurchase marks every item PAID and subtracts its discounted
// price. A negative running balance aborts with ErrBalanceInvariant.
func (s *Settlement) DebitForCartPurchase(ctx context.Context, tx store.Tx, userID int64, items []domain.CartItem) error {
	balance, err := tx.GetBalance(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %d", ErrUserNotFound, userID)
		}
		return fmt.Errorf("read balance: %w", err)
	}

	for _, it := range items {
		if err := tx.SetItemStatus(ctx, userID, it.BookID, domain.ItemPaid); err != nil {
			return fmt.Errorf("mark book %d paid: %w", it.BookID, err)
		}
		balance -= it.DiscountedPrice()
		if balance < 0 {
			s.logger.Error("Cart debit would overdraw balance",
				zap.Int64("user_id", userID),
				zap.Int64("book_id", it.BookID),
				zap.Int64("balance", balance),
			)
			return fmt.Errorf("%w: user %d at book %d", ErrBalanceInvariant, userID, it.BookID)
		}
	}

	if err := tx.SetBalance(ctx, userID, balance); err != nil {
		return fmt.Errorf("write balance: %w", err)
	}
	return nil
}

// journalPurchase records one negative entry per purchased item.
func (s *Settlement) journalPurchase(ctx context.Context, tx store.Tx, userID int64, items []domain.CartItem) error {
	now := s.now().UTC()
	for _, it := range items {
		bookID := it.BookID
		entry := &domain.BalanceTransaction{
			UserID:      userID,
			BookID:      &bookID,
			Value:       -it.DiscountedPrice(),
			Description: debitDescription + it.Title,
			CreatedAt:   now,
		}
		if err := tx.InsertBalanceTransaction(ctx, entry); err != nil {
			return fmt.Errorf("journal purchase of book %d: %w", it.BookID, err)
		}
	}
	return nil
}
