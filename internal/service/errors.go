package service

import "errors"

var (
	ErrInvalidAmount        = errors.New("amount must be greater than zero")
	ErrAmountMismatch       = errors.New("amount does not match order total")
	ErrMissingOrderID       = errors.New("order id is required")
	ErrMissingPaypalOrderID = errors.New("paypal order id is required")
	ErrPaypalOrderMismatch  = errors.New("paypal order does not belong to this order")
	ErrPaymentNotCompleted  = errors.New("payment has not been completed at paypal")
	ErrUnsupportedMethod    = errors.New("unsupported payment method")
	ErrMissingNonce         = errors.New("payment nonce is required for card payments")
	ErrForbidden            = errors.New("order belongs to another user")
	ErrInvalidWebhook       = errors.New("invalid webhook")
)
