package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"ticket-payments/internal/client"
	"ticket-payments/internal/dto"
	"ticket-payments/internal/logger"
	"ticket-payments/internal/metrics"
	"ticket-payments/internal/model"
	"ticket-payments/internal/repository"
)

// ErrOrderAlreadyPaid is returned when a new gateway order is requested for a completed order.
var ErrOrderAlreadyPaid = errors.New("order is already paid")

type PaymentService interface {
	CreatePaypalOrder(ctx context.Context, userID string, req *dto.CreatePaypalOrderRequest) (*dto.CreatePaypalOrderResponse, error)
	CapturePaypalOrder(ctx context.Context, userID string, req *dto.CaptureRequest) (*dto.CaptureResponse, error)
	ProcessPayment(ctx context.Context, userID string, req *dto.ProcessPaymentRequest) (*dto.PaymentRecord, error)
	ConfirmPayment(ctx context.Context, userID string, req *dto.ConfirmPaymentRequest) (*dto.PaymentRecord, error)
	History(ctx context.Context, userID string) ([]*dto.PaymentRecord, error)
	Receipt(ctx context.Context, userID, transactionID string) ([]byte, error)
	HandleWebhook(ctx context.Context, headers http.Header, body []byte) error
}

type paymentServiceImpl struct {
	db               *gorm.DB
	paypalClient     client.PaypalClient
	braintreeClient  client.BraintreeClient
	serviceBaseUrl   string
	currency         string
	orderRepo        repository.OrderRepository
	paymentRepo      repository.PaymentRepository
	webhookEventRepo repository.WebhookEventRepository
	logger           *zap.Logger
}

func NewPaymentService(
	db *gorm.DB,
	paypalClient client.PaypalClient,
	braintreeClient client.BraintreeClient,
	serviceBaseUrl string,
	currency string,
	orderRepo repository.OrderRepository,
	paymentRepo repository.PaymentRepository,
	webhookEventRepo repository.WebhookEventRepository,
	logger *zap.Logger,
) PaymentService {
	if currency == "" {
		currency = "USD"
	}
	return &paymentServiceImpl{
		db:               db,
		paypalClient:     paypalClient,
		braintreeClient:  braintreeClient,
		serviceBaseUrl:   serviceBaseUrl,
		currency:         currency,
		orderRepo:        orderRepo,
		paymentRepo:      paymentRepo,
		webhookEventRepo: webhookEventRepo,
		logger:           logger,
	}
}

func paypalKey(paypalOrderID string) string { return "paypal:" + paypalOrderID }
func cardKey(orderID string) string         { return "card:" + orderID }

func (s *paymentServiceImpl) CreatePaypalOrder(ctx context.Context, userID string, req *dto.CreatePaypalOrderRequest) (resp *dto.CreatePaypalOrderResponse, err error) {
	defer func() { metrics.RecordOperation("create_paypal_order", err) }()

	if req.OrderID == "" {
		return nil, ErrMissingOrderID
	}
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	existing, err := s.orderRepo.FindByOrderID(ctx, req.OrderID)
	switch {
	case errors.Is(err, repository.ErrOrderNotFound):
	case err != nil:
		return nil, fmt.Errorf("find order: %w", err)
	default:
		if err := checkOwner(existing, userID); err != nil {
			return nil, err
		}
		if existing.Status == model.OrderStatusCompleted {
			return nil, ErrOrderAlreadyPaid
		}
	}

	currency := req.Currency
	if currency == "" {
		currency = s.currency
	}

	paypalOrder, err := s.paypalClient.CreateOrder(ctx, client.CreateOrderParams{
		ReferenceID: req.OrderID,
		Amount:      req.Amount,
		Currency:    currency,
		ReturnURL:   fmt.Sprintf("%s/api/paypal/success", s.serviceBaseUrl),
		CancelURL:   fmt.Sprintf("%s/api/paypal/cancel", s.serviceBaseUrl),
	})
	if err != nil {
		return nil, fmt.Errorf("paypal api create order: %w", err)
	}

	err = s.orderRepo.Upsert(ctx, &model.Order{
		OrderID:       req.OrderID,
		UserID:        userID,
		EventID:       req.EventID,
		PaypalOrderID: paypalOrder.ID,
		Status:        model.OrderStatusCreated,
		Amount:        req.Amount,
		Currency:      currency,
	})
	if err != nil {
		return nil, fmt.Errorf("store order in db: %w", err)
	}

	s.logger.Info("paypal order created",
		logger.OrderID(req.OrderID),
		logger.PaypalOrderID(paypalOrder.ID),
		logger.UserID(userID),
	)

	return &dto.CreatePaypalOrderResponse{
		PaypalOrderID: paypalOrder.ID,
		ApproveURL:    paypalOrder.ApproveURL(),
	}, nil
}

func (s *paymentServiceImpl) CapturePaypalOrder(ctx context.Context, userID string, req *dto.CaptureRequest) (resp *dto.CaptureResponse, err error) {
	defer func() { metrics.RecordOperation("capture_paypal_order", err) }()

	order, err := s.loadPaypalOrder(ctx, userID, req.OrderID, req.PaypalOrderID)
	if err != nil {
		return nil, err
	}

	if order.Status == model.OrderStatusCreated {
		paypalOrder, err := s.paypalClient.CaptureOrder(ctx, order.PaypalOrderID)
		if errors.Is(err, client.ErrPaypalUnprocessable) {
			// already captured, or not approved yet; PayPal's view decides
			paypalOrder, err = s.paypalClient.GetOrder(ctx, order.PaypalOrderID)
		}
		if err != nil {
			return nil, fmt.Errorf("paypal api capture order: %w", err)
		}
		if err := s.applyCapture(ctx, order, paypalOrder); err != nil {
			return nil, err
		}
	}

	return &dto.CaptureResponse{
		PaymentRecord: dto.PaymentRecord{
			TransactionID: order.CaptureID,
			OrderID:       order.OrderID,
			Amount:        order.Amount,
			Currency:      order.Currency,
			PaymentMethod: string(model.PaymentMethodPaypal),
			Status:        string(model.PaymentStatusPending),
			EventID:       order.EventID,
			CreatedAt:     order.UpdatedAt,
		},
		PaypalOrderID: order.PaypalOrderID,
		PayerID:       order.PayerID,
	}, nil
}

func (s *paymentServiceImpl) ProcessPayment(ctx context.Context, userID string, req *dto.ProcessPaymentRequest) (rec *dto.PaymentRecord, err error) {
	defer func() { metrics.RecordOperation("process", err) }()

	if req.OrderID == "" {
		return nil, ErrMissingOrderID
	}
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	switch model.PaymentMethod(req.PaymentMethod) {
	case model.PaymentMethodPaypal:
		return s.processPaypal(ctx, userID, req)
	case model.PaymentMethodCard:
		return s.processCard(ctx, userID, req)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMethod, req.PaymentMethod)
	}
}

func (s *paymentServiceImpl) processPaypal(ctx context.Context, userID string, req *dto.ProcessPaymentRequest) (*dto.PaymentRecord, error) {
	if existing, ok, err := s.replay(ctx, userID, "process", paypalKey(req.PaypalOrderID)); err != nil || ok {
		return existing, err
	}

	order, err := s.loadPaypalOrder(ctx, userID, req.OrderID, req.PaypalOrderID)
	if err != nil {
		return nil, err
	}
	if !order.Amount.Equal(req.Amount) {
		return nil, ErrAmountMismatch
	}

	if err := s.ensureCaptured(ctx, order); err != nil {
		return nil, err
	}

	payerID := req.PaypalPayerID
	if payerID == "" {
		payerID = order.PayerID
	}

	return s.recordPayment(ctx, order, &model.Payment{
		TransactionID:  transactionIDFor(order.CaptureID),
		IdempotencyKey: paypalKey(order.PaypalOrderID),
		PaypalOrderID:  order.PaypalOrderID,
		PayerID:        payerID,
		Method:         model.PaymentMethodPaypal,
	})
}

func (s *paymentServiceImpl) processCard(ctx context.Context, userID string, req *dto.ProcessPaymentRequest) (*dto.PaymentRecord, error) {
	if req.PaymentNonce == "" {
		return nil, ErrMissingNonce
	}
	if existing, ok, err := s.replay(ctx, userID, "process", cardKey(req.OrderID)); err != nil || ok {
		return existing, err
	}

	order, err := s.orderRepo.FindByOrderID(ctx, req.OrderID)
	if errors.Is(err, repository.ErrOrderNotFound) {
		// card checkouts never went through create-paypal-order
		order = &model.Order{
			OrderID:  req.OrderID,
			UserID:   userID,
			Status:   model.OrderStatusCreated,
			Amount:   req.Amount,
			Currency: s.currency,
		}
		if err := s.orderRepo.Upsert(ctx, order); err != nil {
			return nil, fmt.Errorf("store order in db: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("find order: %w", err)
	}
	if err := checkOwner(order, userID); err != nil {
		return nil, err
	}
	if order.Status == model.OrderStatusCompleted {
		// paid through another method; its record is not keyed by the card key
		return nil, ErrOrderAlreadyPaid
	}
	if !order.Amount.Equal(req.Amount) {
		return nil, ErrAmountMismatch
	}

	txID, err := s.braintreeClient.ChargeNonce(ctx, req.PaymentNonce, req.Amount, req.OrderID)
	if err != nil {
		return nil, fmt.Errorf("braintree charge: %w", err)
	}

	return s.recordPayment(ctx, order, &model.Payment{
		TransactionID:  txID,
		IdempotencyKey: cardKey(order.OrderID),
		Method:         model.PaymentMethodCard,
	})
}

func (s *paymentServiceImpl) ConfirmPayment(ctx context.Context, userID string, req *dto.ConfirmPaymentRequest) (rec *dto.PaymentRecord, err error) {
	defer func() { metrics.RecordOperation("confirm", err) }()

	if req.PaypalOrderID == "" {
		return nil, ErrMissingPaypalOrderID
	}
	if existing, ok, err := s.replay(ctx, userID, "confirm", paypalKey(req.PaypalOrderID)); err != nil || ok {
		return existing, err
	}

	order, err := s.loadPaypalOrder(ctx, userID, req.OrderID, req.PaypalOrderID)
	if err != nil {
		return nil, err
	}

	if err := s.ensureCaptured(ctx, order); err != nil {
		return nil, err
	}

	return s.recordPayment(ctx, order, &model.Payment{
		TransactionID:  transactionIDFor(order.CaptureID),
		IdempotencyKey: paypalKey(order.PaypalOrderID),
		PaypalOrderID:  order.PaypalOrderID,
		PayerID:        order.PayerID,
		Method:         model.PaymentMethodPaypal,
	})
}

func (s *paymentServiceImpl) History(ctx context.Context, userID string) ([]*dto.PaymentRecord, error) {
	payments, err := s.paymentRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}

	records := make([]*dto.PaymentRecord, len(payments))
	for i, p := range payments {
		records[i] = toRecord(p)
	}
	return records, nil
}

func (s *paymentServiceImpl) Receipt(ctx context.Context, userID, transactionID string) ([]byte, error) {
	payment, err := s.paymentRepo.FindByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if payment.UserID != "" && payment.UserID != userID {
		// do not leak other users' transaction ids
		return nil, repository.ErrPaymentNotFound
	}
	return renderReceipt(payment)
}

func (s *paymentServiceImpl) HandleWebhook(ctx context.Context, headers http.Header, body []byte) error {
	err := s.paypalClient.VerifyWebhookSignature(ctx, headers, body)
	if errors.Is(err, client.ErrWebhookSignatureInvalid) {
		return fmt.Errorf("%w: %w", ErrInvalidWebhook, err)
	}
	if err != nil {
		return fmt.Errorf("verify webhook signature: %w", err)
	}

	var eventPayload model.PayPalWebhookEvent
	if err := json.Unmarshal(body, &eventPayload); err != nil {
		return fmt.Errorf("%w: decode payload: %w", ErrInvalidWebhook, err)
	}

	seen, err := s.webhookEventRepo.Exists(ctx, eventPayload.ID)
	if err != nil {
		return fmt.Errorf("check webhook event: %w", err)
	}
	if seen {
		return nil
	}

	s.logger.Info("paypal webhook received",
		zap.String("event_id", eventPayload.ID),
		zap.String("event_type", eventPayload.EventType),
	)

	switch eventPayload.EventType {
	case "PAYMENT.CAPTURE.COMPLETED":
		return s.handleCaptureCompleted(ctx, &eventPayload)
	default:
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return s.webhookEventRepo.MarkProcessed(ctx, tx, eventPayload.ID, eventPayload.EventType)
		})
	}
}

func (s *paymentServiceImpl) handleCaptureCompleted(ctx context.Context, event *model.PayPalWebhookEvent) error {
	paypalOrderID := event.Resource.SupplementaryData.RelatedIDs.OrderID
	if paypalOrderID == "" {
		return fmt.Errorf("could not find order_id in webhook payload")
	}

	order, err := s.orderRepo.FindByPaypalOrderID(ctx, paypalOrderID)
	if err != nil {
		return fmt.Errorf("find order for paypal order %s: %w", paypalOrderID, err)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.orderRepo.MarkCaptured(ctx, tx, order.OrderID, order.PayerID, event.Resource.ID); err != nil {
			return fmt.Errorf("mark order captured: %w", err)
		}

		payment := newPayment(order, &model.Payment{
			TransactionID:  transactionIDFor(event.Resource.ID),
			IdempotencyKey: paypalKey(paypalOrderID),
			PaypalOrderID:  paypalOrderID,
			PayerID:        order.PayerID,
			Method:         model.PaymentMethodPaypal,
		})
		if _, _, err := s.paymentRepo.CreateIfAbsent(ctx, tx, payment); err != nil {
			return fmt.Errorf("store payment: %w", err)
		}
		if err := s.orderRepo.MarkCompleted(ctx, tx, order.OrderID); err != nil {
			return fmt.Errorf("mark order completed: %w", err)
		}

		return s.webhookEventRepo.MarkProcessed(ctx, tx, event.ID, event.EventType)
	})
}

// loadPaypalOrder fetches the local order and checks it is owned by userID and tied to paypalOrderID.
func (s *paymentServiceImpl) loadPaypalOrder(ctx context.Context, userID, orderID, paypalOrderID string) (*model.Order, error) {
	if orderID == "" {
		return nil, ErrMissingOrderID
	}
	if paypalOrderID == "" {
		return nil, ErrMissingPaypalOrderID
	}

	order, err := s.orderRepo.FindByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := checkOwner(order, userID); err != nil {
		return nil, err
	}
	if order.PaypalOrderID != paypalOrderID {
		return nil, ErrPaypalOrderMismatch
	}
	return order, nil
}

// ensureCaptured makes sure PayPal holds a completed capture for the order, capturing an
// approved order on the way. The order is updated in place.
func (s *paymentServiceImpl) ensureCaptured(ctx context.Context, order *model.Order) error {
	if order.Status == model.OrderStatusCaptured || order.Status == model.OrderStatusCompleted {
		return nil
	}

	paypalOrder, err := s.paypalClient.GetOrder(ctx, order.PaypalOrderID)
	if err != nil {
		return fmt.Errorf("paypal api get order: %w", err)
	}

	if paypalOrder.Status == "APPROVED" {
		paypalOrder, err = s.paypalClient.CaptureOrder(ctx, order.PaypalOrderID)
		if err != nil {
			return fmt.Errorf("paypal api capture order: %w", err)
		}
	}

	return s.applyCapture(ctx, order, paypalOrder)
}

func (s *paymentServiceImpl) applyCapture(ctx context.Context, order *model.Order, paypalOrder *model.PaypalOrder) error {
	if paypalOrder.Status != "COMPLETED" {
		return fmt.Errorf("%w: status %s", ErrPaymentNotCompleted, paypalOrder.Status)
	}

	captureID := ""
	if capture := paypalOrder.FirstCapture(); capture != nil {
		captureID = capture.ID
	}
	payerID := paypalOrder.Payer.PayerID

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.orderRepo.MarkCaptured(ctx, tx, order.OrderID, payerID, captureID)
	})
	if err != nil {
		return fmt.Errorf("mark order captured: %w", err)
	}

	order.Status = model.OrderStatusCaptured
	order.PayerID = payerID
	order.CaptureID = captureID
	return nil
}

func (s *paymentServiceImpl) recordPayment(ctx context.Context, order *model.Order, p *model.Payment) (*dto.PaymentRecord, error) {
	payment := newPayment(order, p)

	var stored *model.Payment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		stored, _, err = s.paymentRepo.CreateIfAbsent(ctx, tx, payment)
		if err != nil {
			return fmt.Errorf("store payment: %w", err)
		}
		return s.orderRepo.MarkCompleted(ctx, tx, order.OrderID)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("payment recorded",
		logger.OrderID(order.OrderID),
		zap.String("transaction_id", stored.TransactionID),
		zap.String("method", string(stored.Method)),
	)
	return toRecord(stored), nil
}

// replay returns the stored payment for an idempotency key, if there is one.
func (s *paymentServiceImpl) replay(ctx context.Context, userID, operation, key string) (*dto.PaymentRecord, bool, error) {
	payment, err := s.paymentRepo.FindByIdempotencyKey(ctx, key)
	if errors.Is(err, repository.ErrPaymentNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("find payment: %w", err)
	}
	if payment.UserID != "" && payment.UserID != userID {
		return nil, false, ErrForbidden
	}

	metrics.RecordIdempotentReplay(operation)
	return toRecord(payment), true, nil
}

func newPayment(order *model.Order, p *model.Payment) *model.Payment {
	p.OrderID = order.OrderID
	p.UserID = order.UserID
	p.EventID = order.EventID
	p.Status = model.PaymentStatusCompleted
	p.Amount = order.Amount
	p.Currency = order.Currency
	return p
}

func transactionIDFor(captureID string) string {
	if captureID != "" {
		return captureID
	}
	return uuid.NewString()
}

func checkOwner(order *model.Order, userID string) error {
	if order.UserID != "" && order.UserID != userID {
		return ErrForbidden
	}
	return nil
}

func toRecord(p *model.Payment) *dto.PaymentRecord {
	return &dto.PaymentRecord{
		TransactionID: p.TransactionID,
		OrderID:       p.OrderID,
		Amount:        p.Amount,
		Currency:      p.Currency,
		PaymentMethod: string(p.Method),
		Status:        string(p.Status),
		EventID:       p.EventID,
		CreatedAt:     p.CreatedAt,
	}
}
