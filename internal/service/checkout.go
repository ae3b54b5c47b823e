package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/punchamoorthee/bookpay/internal/domain"
	"github.com/punchamoorthee/bookpay/internal/store"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// CheckoutOutcome reports what HandleCartPaid did. RedirectURI is empty when
// the cart was paid from the balance.
type CheckoutOutcome struct {
	RedirectURI string
	Paid        bool
	Shortfall   int64
	Items       int
}

// Checkout pays a user's cart from the in-app balance, or asks the gateway
// for a top-up covering the shortfall.
type Checkout struct {
	db          TxRunner
	topUp       *TopUpService
	settlement  *Settlement
	redirectURI string
	now         func() time.Time
	tracer      trace.Tracer
	logger      *zap.Logger
}

func NewCheckout(db TxRunner, topUp *TopUpService, settlement *Settlement, redirectURI string, tracer trace.Tracer, logger *zap.Logger) *Checkout {
	return &Checkout{
		db:          db,
		topUp:       topUp,
		settlement:  settlement,
		redirectURI: redirectURI,
		now:         time.Now,
		tracer:      tracer,
		logger:      logger,
	}
}

// HandleCartPaid settles the CART items of userID. Calling it again after a
// successful debit finds an empty cart and owes nothing.
func (c *Checkout) HandleCartPaid(ctx context.Context, userID int64) (CheckoutOutcome, error) {
	ctx, span := c.tracer.Start(ctx, "checkout.cart_paid")
	defer span.End()
	span.SetAttributes(attribute.Int64("payment.user_id", userID))

	var (
		out  CheckoutOutcome
		user domain.User
	)
	err := c.db.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		out = CheckoutOutcome{}

		u, err := tx.GetUser(ctx, userID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("%w: %d", ErrUserNotFound, userID)
			}
			return fmt.Errorf("load user: %w", err)
		}
		items, err := tx.ItemsByStatus(ctx, userID, domain.ItemCart)
		if err != nil {
			return fmt.Errorf("load cart: %w", err)
		}

		cart := domain.NewCartSettlement(*u, items)
		user = cart.User
		out.Items = len(cart.Items)

		if cart.Total > user.Balance {
			out.Shortfall = cart.Total - user.Balance
			return nil
		}
		if len(cart.Items) == 0 {
			return nil
		}

		if err := c.settlement.DebitForCartPurchase(ctx, tx, userID, cart.Items); err != nil {
			return err
		}
		if err := c.settlement.journalPurchase(ctx, tx, userID, cart.Items); err != nil {
			return err
		}
		out.Paid = true
		return nil
	})
	if err != nil {
		return CheckoutOutcome{}, err
	}

	if out.Paid {
		c.logger.Info("Cart paid from balance",
			zap.Int64("user_id", userID),
			zap.Int("items", out.Items),
		)
		return out, nil
	}
	if out.Shortfall == 0 {
		return out, nil
	}

	span.SetAttributes(attribute.Int64("payment.shortfall", out.Shortfall))
	uri, err := c.topUp.TopUp(ctx, TopUp{
		UserID:      user.ID,
		UserHash:    user.Hash,
		Amount:      decimal.NewFromInt(out.Shortfall),
		RequestedAt: c.now(),
		RedirectURI: c.redirectURI,
	})
	if err != nil {
		return CheckoutOutcome{}, err
	}
	out.RedirectURI = uri
	return out, nil
}
