package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

type CreatePaypalOrderRequest struct {
	OrderID  string          `json:"orderId" validate:"required"`
	Amount   decimal.Decimal `json:"amount"`
	EventID  string          `json:"eventId,omitempty"`
	Currency string          `json:"currency,omitempty"`
}

type CreatePaypalOrderResponse struct {
	PaypalOrderID string `json:"paypalOrderId"`
	ApproveURL    string `json:"approveUrl,omitempty"`
}

type CaptureRequest struct {
	OrderID       string `json:"orderId" validate:"required"`
	PaypalOrderID string `json:"paypalOrderId" validate:"required"`
}

// CaptureResponse is a PaymentRecord in status pending plus the gateway fields the
// checkout forwards to process.
type CaptureResponse struct {
	PaymentRecord
	PaypalOrderID string `json:"paypalOrderId"`
	PayerID       string `json:"payerId"`
}

type ProcessPaymentRequest struct {
	OrderID       string          `json:"orderId" validate:"required"`
	PaymentMethod string          `json:"paymentMethod" validate:"required,oneof=paypal card"`
	Amount        decimal.Decimal `json:"amount"`
	PaypalOrderID string          `json:"paypalOrderId,omitempty"`
	PaypalPayerID string          `json:"paypalPayerId,omitempty"`
	PaymentNonce  string          `json:"paymentNonce,omitempty"` // braintree nonce when paymentMethod is card
}

type ConfirmPaymentRequest struct {
	PaypalOrderID string `json:"paypalOrderId" validate:"required"`
	OrderID       string `json:"orderId" validate:"required"`
}

type PaymentRecord struct {
	TransactionID string          `json:"transactionId"`
	OrderID       string          `json:"orderId"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	PaymentMethod string          `json:"paymentMethod"`
	Status        string          `json:"status"`
	EventID       string          `json:"eventId"`
	CreatedAt     time.Time       `json:"createdAt"`
}

type ErrorResponse struct {
	Message string `json:"message"`
}
