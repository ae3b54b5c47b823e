package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OperationStatus is the gateway-reported state of a payment operation.
type OperationStatus string

const (
	StatusPending        OperationStatus = "pending"
	StatusSucceeded      OperationStatus = "succeeded"
	StatusCanceled       OperationStatus = "canceled"
	StatusWaitingCapture OperationStatus = "waiting_for_capture"
)

// Terminal reports whether no further transitions are expected.
func (s OperationStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusCanceled
}

// ItemStatus is the relation between a user and a catalog book.
type ItemStatus string

const (
	ItemCart     ItemStatus = "CART"
	ItemKept     ItemStatus = "KEPT"
	ItemPaid     ItemStatus = "PAID"
	ItemArchived ItemStatus = "ARCHIVED"
)

// User is the slice of the account record the payment core needs.
type User struct {
	ID      int64  `json:"id"`
	Hash    string `json:"hash"`
	Contact string `json:"contact"`
	Balance int64  `json:"balance"`
}

// GatewayOperation is the durable ledger record of one gateway payment.
// Rows are never deleted.
type GatewayOperation struct {
	OperationID    string          `json:"operation_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	Amount         decimal.Decimal `json:"amount"`
	Status         OperationStatus `json:"status"`
	PaymentMethod  string          `json:"payment_method,omitempty"`
	UserID         int64           `json:"user_id"`
	CreatedAt      time.Time       `json:"created_at"`
}

// BalanceTransaction is one immutable settlement entry.
// The sum of a user's Values must equal the user's balance.
type BalanceTransaction struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	BookID      *int64    `json:"book_id,omitempty"`
	Value       int64     `json:"value"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// CartItem is a book currently linked to a user with a given status.
type CartItem struct {
	BookID   int64  `json:"id"`
	Slug     string `json:"slug"`
	Title    string `json:"title"`
	Price    int64  `json:"price"`
	Discount int64  `json:"discount"`
}

// DiscountedPrice is price minus the discount percentage, rounded half up.
func (c CartItem) DiscountedPrice() int64 {
	return DiscountPrice(c.Price, c.Discount)
}

// DiscountPrice applies a whole-percent discount to a price.
func DiscountPrice(price, discount int64) int64 {
	return price - decimal.NewFromInt(price*discount).Div(decimal.NewFromInt(100)).Round(0).IntPart()
}

// CartSettlement is the ephemeral view of a user's cart at checkout time.
type CartSettlement struct {
	User  User
	Items []CartItem
	Total int64
}

// NewCartSettlement sums the discounted prices of items.
func NewCartSettlement(u User, items []CartItem) CartSettlement {
	var total int64
	for _, it := range items {
		total += it.DiscountedPrice()
	}
	return CartSettlement{User: u, Items: items, Total: total}
}
