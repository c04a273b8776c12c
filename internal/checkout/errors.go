package checkout

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"ticket-payments/internal/paymentapi"
)

type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindInvalidAmount
	KindOrderContextMissing
	KindNotReady
	KindSupportRequired
	KindAlreadyPaid
	KindPopupClosed
	KindTimeout
	KindCancelled
	KindBackend
	KindGateway
	KindStorage
)

var kindNames = map[ErrorKind]string{
	KindNone:                "none",
	KindInvalidAmount:       "invalid_amount",
	KindOrderContextMissing: "order_context_missing",
	KindNotReady:            "not_ready",
	KindSupportRequired:     "support_required",
	KindAlreadyPaid:         "already_paid",
	KindPopupClosed:         "popup_closed",
	KindTimeout:             "timeout",
	KindCancelled:           "cancelled",
	KindBackend:             "backend",
	KindGateway:             "gateway",
	KindStorage:             "storage",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Messages shown to the payer.
const (
	msgInvalidAmount   = "Order total must be greater than zero."
	msgOrderMissing    = "We couldn't find your order. Please start your booking again."
	msgNotReady        = "Checking a previous payment, please wait."
	msgAlreadyPaid     = "This order is already paid."
	msgPopupClosed     = "The payment window was closed. We'll check whether your payment went through."
	msgTimeout         = "Payment confirmation is taking longer than expected. Please check your email or contact support before trying again."
	msgGatewayFailed   = "Payment failed. Please try again or use a different payment method."
	msgCancelled       = "Payment was cancelled. You can try again when you're ready."
	msgRetry           = "Something went wrong with the payment. Please try again."
	msgConfirmFallback = "Payment could not be confirmed. Please try again."
	msgRecoveryFailed  = "We couldn't verify your previous payment. Please contact support."
	msgStorage         = "Could not save your payment progress. Please try again."
)

// Error is what every checkout operation returns on failure.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Kind.String() + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Kind.String() + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of a checkout error, or KindNone.
func KindOf(err error) ErrorKind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindNone
}

// classify is the only place gateway and widget failures are turned into kinds.
func classify(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	if kind := KindOf(err); kind != KindNone {
		return kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	var apiErr *paymentapi.APIError
	if errors.As(err, &apiErr) {
		return KindBackend
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "window closed") ||
		strings.Contains(msg, "closed before") ||
		strings.Contains(msg, "popup closed") ||
		strings.Contains(msg, "popup_closed") {
		return KindPopupClosed
	}
	return KindGateway
}

// backendMessage is the backend's message field, or fallback.
func backendMessage(err error, fallback string) string {
	var apiErr *paymentapi.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return fallback
}

// notCompleted reports a backend answer meaning PayPal never completed the order.
func notCompleted(err error) bool {
	var apiErr *paymentapi.APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict
}
