package service

import (
	"bytes"
	"context"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"ticket-payments/internal/client"
	"ticket-payments/internal/config"
	"ticket-payments/internal/dto"
	"ticket-payments/internal/model"
	"ticket-payments/internal/repository"
)

type MockPaypalClient struct {
	mock.Mock
}

func (m *MockPaypalClient) CreateOrder(ctx context.Context, params client.CreateOrderParams) (*model.PaypalOrder, error) {
	args := m.Called(ctx, params)
	order, _ := args.Get(0).(*model.PaypalOrder)
	return order, args.Error(1)
}

func (m *MockPaypalClient) CaptureOrder(ctx context.Context, paypalOrderID string) (*model.PaypalOrder, error) {
	args := m.Called(ctx, paypalOrderID)
	order, _ := args.Get(0).(*model.PaypalOrder)
	return order, args.Error(1)
}

func (m *MockPaypalClient) GetOrder(ctx context.Context, paypalOrderID string) (*model.PaypalOrder, error) {
	args := m.Called(ctx, paypalOrderID)
	order, _ := args.Get(0).(*model.PaypalOrder)
	return order, args.Error(1)
}

func (m *MockPaypalClient) VerifyWebhookSignature(ctx context.Context, headers http.Header, body []byte) error {
	args := m.Called(ctx, headers, body)
	return args.Error(0)
}

type MockBraintreeClient struct {
	mock.Mock
}

func (m *MockBraintreeClient) ChargeNonce(ctx context.Context, nonce string, amount decimal.Decimal, orderID string) (string, error) {
	args := m.Called(ctx, nonce, amount, orderID)
	return args.String(0), args.Error(1)
}

func completedPaypalOrder(id, payerID, captureID string) *model.PaypalOrder {
	return &model.PaypalOrder{
		ID:     id,
		Status: "COMPLETED",
		Payer:  model.Payer{PayerID: payerID},
		PurchaseUnits: []model.PurchaseUnit{{
			Payments: model.Payments{Captures: []model.Capture{{ID: captureID, Status: "COMPLETED"}}},
		}},
	}
}

type testEnv struct {
	db        *gorm.DB
	svc       PaymentService
	paypal    *MockPaypalClient
	braintree *MockBraintreeClient
}

func setupTestPaymentService(t *testing.T) *testEnv {
	t.Helper()

	db, err := client.OpenPaymentsDB(config.Database{Driver: "sqlite", URL: ":memory:"})
	require.NoError(t, err)

	paypal := &MockPaypalClient{}
	braintree := &MockBraintreeClient{}
	svc := NewPaymentService(
		db, paypal, braintree,
		"http://localhost:8080", "USD",
		repository.NewOrderRepository(db),
		repository.NewPaymentRepository(db),
		repository.NewWebhookEventRepository(db),
		zap.NewNop(),
	)

	return &testEnv{db: db, svc: svc, paypal: paypal, braintree: braintree}
}

var amount4999 = decimal.RequireFromString("49.99")

func (e *testEnv) createOrder(t *testing.T, userID, orderID, paypalOrderID string) {
	t.Helper()
	e.paypal.On("CreateOrder", mock.Anything, mock.MatchedBy(func(p client.CreateOrderParams) bool {
		return p.ReferenceID == orderID
	})).Return(&model.PaypalOrder{
		ID:    paypalOrderID,
		Links: []model.PaypalLink{{Rel: "approve", Href: "https://paypal/approve/" + paypalOrderID}},
	}, nil).Once()

	resp, err := e.svc.CreatePaypalOrder(context.Background(), userID, &dto.CreatePaypalOrderRequest{
		OrderID: orderID,
		Amount:  amount4999,
		EventID: "E1",
	})
	require.NoError(t, err)
	require.Equal(t, paypalOrderID, resp.PaypalOrderID)
}

func TestPaymentService_CreatePaypalOrder_InvalidAmount(t *testing.T) {
	env := setupTestPaymentService(t)

	for _, amt := range []decimal.Decimal{decimal.Zero, decimal.NewFromInt(-5)} {
		_, err := env.svc.CreatePaypalOrder(context.Background(), "u1", &dto.CreatePaypalOrderRequest{
			OrderID: "O1",
			Amount:  amt,
		})
		assert.ErrorIs(t, err, ErrInvalidAmount)
	}
	env.paypal.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything)
}

func TestPaymentService_CreatePaypalOrder_Success(t *testing.T) {
	env := setupTestPaymentService(t)
	env.paypal.On("CreateOrder", mock.Anything, mock.MatchedBy(func(p client.CreateOrderParams) bool {
		return p.ReferenceID == "O1" && p.Amount.Equal(amount4999) && p.Currency == "USD" &&
			p.ReturnURL == "http://localhost:8080/api/paypal/success"
	})).Return(&model.PaypalOrder{
		ID:    "PP1",
		Links: []model.PaypalLink{{Rel: "approve", Href: "https://paypal/approve"}},
	}, nil)

	resp, err := env.svc.CreatePaypalOrder(context.Background(), "u1", &dto.CreatePaypalOrderRequest{
		OrderID: "O1",
		Amount:  amount4999,
		EventID: "E1",
	})
	require.NoError(t, err)
	assert.Equal(t, "PP1", resp.PaypalOrderID)
	assert.Equal(t, "https://paypal/approve", resp.ApproveURL)

	order, err := repository.NewOrderRepository(env.db).FindByOrderID(context.Background(), "O1")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCreated, order.Status)
	assert.Equal(t, "u1", order.UserID)
	assert.Equal(t, "E1", order.EventID)
}

func TestPaymentService_CaptureThenProcess(t *testing.T) {
	env := setupTestPaymentService(t)
	ctx := context.Background()
	env.createOrder(t, "u1", "O1", "PP1")

	env.paypal.On("CaptureOrder", mock.Anything, "PP1").
		Return(completedPaypalOrder("PP1", "PAYER1", "CAP1"), nil).Once()

	capture, err := env.svc.CapturePaypalOrder(ctx, "u1", &dto.CaptureRequest{OrderID: "O1", PaypalOrderID: "PP1"})
	require.NoError(t, err)
	assert.Equal(t, "CAP1", capture.TransactionID)
	assert.Equal(t, "PAYER1", capture.PayerID)
	assert.Equal(t, "pending", capture.Status)

	// capture replays from the db
	again, err := env.svc.CapturePaypalOrder(ctx, "u1", &dto.CaptureRequest{OrderID: "O1", PaypalOrderID: "PP1"})
	require.NoError(t, err)
	assert.Equal(t, "CAP1", again.TransactionID)

	req := &dto.ProcessPaymentRequest{
		OrderID:       "O1",
		PaymentMethod: "paypal",
		Amount:        amount4999,
		PaypalOrderID: "PP1",
		PaypalPayerID: "PAYER1",
	}
	rec, err := env.svc.ProcessPayment(ctx, "u1", req)
	require.NoError(t, err)
	assert.Equal(t, "CAP1", rec.TransactionID)
	assert.Equal(t, "completed", rec.Status)
	assert.Equal(t, "E1", rec.EventID)
	assert.True(t, rec.Amount.Equal(amount4999))

	dup, err := env.svc.ProcessPayment(ctx, "u1", req)
	require.NoError(t, err)
	assert.Equal(t, rec.TransactionID, dup.TransactionID)

	history, err := env.svc.History(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, history, 1)

	env.paypal.AssertNumberOfCalls(t, "CaptureOrder", 1)
	env.paypal.AssertNotCalled(t, "GetOrder", mock.Anything, mock.Anything)
}

func TestPaymentService_Process_AmountMismatch(t *testing.T) {
	env := setupTestPaymentService(t)
	env.createOrder(t, "u1", "O1", "PP1")

	_, err := env.svc.ProcessPayment(context.Background(), "u1", &dto.ProcessPaymentRequest{
		OrderID:       "O1",
		PaymentMethod: "paypal",
		Amount:        decimal.NewFromInt(1),
		PaypalOrderID: "PP1",
	})
	assert.ErrorIs(t, err, ErrAmountMismatch)
}

func TestPaymentService_Process_UnsupportedMethod(t *testing.T) {
	env := setupTestPaymentService(t)

	_, err := env.svc.ProcessPayment(context.Background(), "u1", &dto.ProcessPaymentRequest{
		OrderID:       "O1",
		PaymentMethod: "crypto",
		Amount:        amount4999,
	})
	assert.ErrorIs(t, err, ErrUnsupportedMethod)
}

func TestPaymentService_Confirm_CapturesApprovedOrderOnce(t *testing.T) {
	env := setupTestPaymentService(t)
	ctx := context.Background()
	env.createOrder(t, "u1", "O1", "PP1")

	env.paypal.On("GetOrder", mock.Anything, "PP1").
		Return(&model.PaypalOrder{ID: "PP1", Status: "APPROVED"}, nil).Once()
	env.paypal.On("CaptureOrder", mock.Anything, "PP1").
		Return(completedPaypalOrder("PP1", "PAYER1", "CAP1"), nil).Once()

	req := &dto.ConfirmPaymentRequest{PaypalOrderID: "PP1", OrderID: "O1"}
	rec, err := env.svc.ConfirmPayment(ctx, "u1", req)
	require.NoError(t, err)
	assert.Equal(t, "CAP1", rec.TransactionID)

	dup, err := env.svc.ConfirmPayment(ctx, "u1", req)
	require.NoError(t, err)
	assert.Equal(t, "CAP1", dup.TransactionID)

	history, err := env.svc.History(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, history, 1)

	env.paypal.AssertExpectations(t)
}

func TestPaymentService_Confirm_NotCompleted(t *testing.T) {
	env := setupTestPaymentService(t)
	env.createOrder(t, "u1", "O1", "PP1")

	env.paypal.On("GetOrder", mock.Anything, "PP1").
		Return(&model.PaypalOrder{ID: "PP1", Status: "CREATED"}, nil)

	_, err := env.svc.ConfirmPayment(context.Background(), "u1", &dto.ConfirmPaymentRequest{PaypalOrderID: "PP1", OrderID: "O1"})
	assert.ErrorIs(t, err, ErrPaymentNotCompleted)
}

func TestPaymentService_Confirm_OtherUser(t *testing.T) {
	env := setupTestPaymentService(t)
	env.createOrder(t, "u1", "O1", "PP1")

	_, err := env.svc.ConfirmPayment(context.Background(), "u2", &dto.ConfirmPaymentRequest{PaypalOrderID: "PP1", OrderID: "O1"})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestPaymentService_Confirm_WrongPaypalOrder(t *testing.T) {
	env := setupTestPaymentService(t)
	env.createOrder(t, "u1", "O1", "PP1")

	_, err := env.svc.ConfirmPayment(context.Background(), "u1", &dto.ConfirmPaymentRequest{PaypalOrderID: "PP9", OrderID: "O1"})
	assert.ErrorIs(t, err, ErrPaypalOrderMismatch)
}

func TestPaymentService_Card(t *testing.T) {
	env := setupTestPaymentService(t)
	ctx := context.Background()

	env.braintree.On("ChargeNonce", mock.Anything, "nonce-1", mock.MatchedBy(func(d decimal.Decimal) bool {
		return d.Equal(amount4999)
	}), "O2").Return("BT-TX-1", nil).Once()

	req := &dto.ProcessPaymentRequest{
		OrderID:       "O2",
		PaymentMethod: "card",
		Amount:        amount4999,
		PaymentNonce:  "nonce-1",
	}
	rec, err := env.svc.ProcessPayment(ctx, "u1", req)
	require.NoError(t, err)
	assert.Equal(t, "BT-TX-1", rec.TransactionID)
	assert.Equal(t, "card", rec.PaymentMethod)

	dup, err := env.svc.ProcessPayment(ctx, "u1", req)
	require.NoError(t, err)
	assert.Equal(t, "BT-TX-1", dup.TransactionID)

	env.braintree.AssertNumberOfCalls(t, "ChargeNonce", 1)

	_, err = env.svc.ProcessPayment(ctx, "u1", &dto.ProcessPaymentRequest{
		OrderID: "O3", PaymentMethod: "card", Amount: amount4999,
	})
	assert.ErrorIs(t, err, ErrMissingNonce)
}

func TestPaymentService_Receipt(t *testing.T) {
	env := setupTestPaymentService(t)
	ctx := context.Background()
	env.createOrder(t, "u1", "O1", "PP1")

	env.paypal.On("GetOrder", mock.Anything, "PP1").
		Return(completedPaypalOrder("PP1", "PAYER1", "CAP1"), nil).Once()

	_, err := env.svc.ConfirmPayment(ctx, "u1", &dto.ConfirmPaymentRequest{PaypalOrderID: "PP1", OrderID: "O1"})
	require.NoError(t, err)

	pdf, err := env.svc.Receipt(ctx, "u1", "CAP1")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(pdf, []byte("%PDF")))

	_, err = env.svc.Receipt(ctx, "u2", "CAP1")
	assert.ErrorIs(t, err, repository.ErrPaymentNotFound)

	_, err = env.svc.Receipt(ctx, "u1", "missing")
	assert.ErrorIs(t, err, repository.ErrPaymentNotFound)
}

func TestPaymentService_Webhook_CaptureCompleted(t *testing.T) {
	env := setupTestPaymentService(t)
	ctx := context.Background()
	env.createOrder(t, "u1", "O1", "PP1")

	body := []byte(`{
		"id": "WH-1",
		"event_type": "PAYMENT.CAPTURE.COMPLETED",
		"resource": {
			"id": "CAP1",
			"status": "COMPLETED",
			"supplementary_data": {"related_ids": {"order_id": "PP1"}}
		}
	}`)
	env.paypal.On("VerifyWebhookSignature", mock.Anything, mock.Anything, body).Return(nil)

	require.NoError(t, env.svc.HandleWebhook(ctx, http.Header{}, body))
	require.NoError(t, env.svc.HandleWebhook(ctx, http.Header{}, body))

	history, err := env.svc.History(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "CAP1", history[0].TransactionID)

	// the checkout's confirm after the webhook replays the same record
	rec, err := env.svc.ConfirmPayment(ctx, "u1", &dto.ConfirmPaymentRequest{PaypalOrderID: "PP1", OrderID: "O1"})
	require.NoError(t, err)
	assert.Equal(t, "CAP1", rec.TransactionID)
	env.paypal.AssertNotCalled(t, "GetOrder", mock.Anything, mock.Anything)
}

func TestPaymentService_Webhook_BadSignature(t *testing.T) {
	env := setupTestPaymentService(t)
	body := []byte(`{"id":"WH-2","event_type":"PAYMENT.CAPTURE.COMPLETED"}`)
	env.paypal.On("VerifyWebhookSignature", mock.Anything, mock.Anything, body).Return(assert.AnError)

	err := env.svc.HandleWebhook(context.Background(), http.Header{}, body)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestPaymentService_Card_OrderAlreadyPaidByPaypal(t *testing.T) {
	env := setupTestPaymentService(t)
	ctx := context.Background()
	env.createOrder(t, "u1", "O1", "PP1")

	env.paypal.On("GetOrder", mock.Anything, "PP1").
		Return(completedPaypalOrder("PP1", "PAYER1", "CAP1"), nil).Once()
	_, err := env.svc.ConfirmPayment(ctx, "u1", &dto.ConfirmPaymentRequest{PaypalOrderID: "PP1", OrderID: "O1"})
	require.NoError(t, err)

	_, err = env.svc.ProcessPayment(ctx, "u1", &dto.ProcessPaymentRequest{
		OrderID:       "O1",
		PaymentMethod: "card",
		Amount:        amount4999,
		PaymentNonce:  "nonce-1",
	})
	assert.ErrorIs(t, err, ErrOrderAlreadyPaid)
	env.braintree.AssertNotCalled(t, "ChargeNonce", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	history, err := env.svc.History(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestPaymentService_Webhook_Rejected(t *testing.T) {
	env := setupTestPaymentService(t)
	ctx := context.Background()

	unverified := []byte(`{"id":"WH-3","event_type":"PAYMENT.CAPTURE.COMPLETED"}`)
	env.paypal.On("VerifyWebhookSignature", mock.Anything, mock.Anything, unverified).
		Return(client.ErrWebhookSignatureInvalid)
	err := env.svc.HandleWebhook(ctx, http.Header{}, unverified)
	assert.ErrorIs(t, err, ErrInvalidWebhook)

	malformed := []byte(`{not json`)
	env.paypal.On("VerifyWebhookSignature", mock.Anything, mock.Anything, malformed).Return(nil)
	err = env.svc.HandleWebhook(ctx, http.Header{}, malformed)
	assert.ErrorIs(t, err, ErrInvalidWebhook)
}
