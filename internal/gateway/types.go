package gateway

import (
	"fmt"
	"time"

	"github.com/punchamoorthee/bookpay/internal/domain"
	"github.com/shopspring/decimal"
)

// Amount is a money value as the gateway encodes it: a fixed two-decimal
// string plus an ISO currency code.
type Amount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type PaymentMethodData struct {
	Type string `json:"type"`
}

type Confirmation struct {
	Type            string `json:"type"`
	ReturnURL       string `json:"return_url,omitempty"`
	ConfirmationURL string `json:"confirmation_url,omitempty"`
}

type PaymentMethod struct {
	Type  string `json:"type"`
	ID    string `json:"id,omitempty"`
	Saved bool   `json:"saved,omitempty"`
	Title string `json:"title,omitempty"`
}

type Recipient struct {
	AccountID string `json:"account_id,omitempty"`
	GatewayID string `json:"gateway_id,omitempty"`
}

// PaymentRequest is the body of a create-payment call.
type PaymentRequest struct {
	Amount            Amount             `json:"amount"`
	PaymentMethodData *PaymentMethodData `json:"payment_method_data,omitempty"`
	Confirmation      Confirmation       `json:"confirmation"`
	Description       string             `json:"description,omitempty"`
	Capture           bool               `json:"capture"`
}

// PaymentResponse is returned by both create and query calls.
type PaymentResponse struct {
	ID            string            `json:"id"`
	Status        string            `json:"status"`
	Paid          bool              `json:"paid"`
	Amount        Amount            `json:"amount"`
	Confirmation  *Confirmation     `json:"confirmation,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	Description   string            `json:"description,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	PaymentMethod *PaymentMethod    `json:"payment_method,omitempty"`
	Recipient     *Recipient        `json:"recipient,omitempty"`
	Refundable    bool              `json:"refundable"`
	Test          bool              `json:"test"`
}

// OperationStatus maps the wire status onto the ledger status type.
func (r *PaymentResponse) OperationStatus() domain.OperationStatus {
	return domain.OperationStatus(r.Status)
}

// ConfirmationURL is the redirect target for the payer, or "" when absent.
func (r *PaymentResponse) ConfirmationURL() string {
	if r.Confirmation == nil {
		return ""
	}
	return r.Confirmation.ConfirmationURL
}

// MethodType is the payment method reported by the gateway, or "" when absent.
func (r *PaymentResponse) MethodType() string {
	if r.PaymentMethod == nil {
		return ""
	}
	return r.PaymentMethod.Type
}

// Operation builds the ledger record for a freshly created payment.
func (r *PaymentResponse) Operation(idempotencyKey string, userID int64, createdAt time.Time) (domain.GatewayOperation, error) {
	amount, err := decimal.NewFromString(r.Amount.Value)
	if err != nil {
		return domain.GatewayOperation{}, fmt.Errorf("invalid amount %q in payment %s: %w", r.Amount.Value, r.ID, err)
	}
	return domain.GatewayOperation{
		OperationID:    r.ID,
		IdempotencyKey: idempotencyKey,
		Amount:         amount,
		Status:         r.OperationStatus(),
		PaymentMethod:  r.MethodType(),
		UserID:         userID,
		CreatedAt:      createdAt,
	}, nil
}

// FormatAmount renders a value in the gateway's two-decimal form.
func FormatAmount(v decimal.Decimal) string {
	return v.StringFixed(2)
}
