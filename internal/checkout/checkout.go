// Package checkout runs the payment confirmation handshake for one order: it creates the
// gateway order, captures and confirms it with the payments backend, and reconciles
// payments left pending by an earlier session.
package checkout

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"ticket-payments/internal/dto"
	"ticket-payments/internal/logger"
	"ticket-payments/internal/model"
)

const (
	DefaultCaptureTimeout = 30 * time.Second
	DefaultRecheckDelay   = 2 * time.Second
)

// Backend is the part of the payments API the checkout drives.
type Backend interface {
	CreatePaypalOrder(ctx context.Context, req *dto.CreatePaypalOrderRequest) (*dto.CreatePaypalOrderResponse, error)
	CapturePaypalOrder(ctx context.Context, req *dto.CaptureRequest) (*dto.CaptureResponse, error)
	ProcessPayment(ctx context.Context, req *dto.ProcessPaymentRequest) (*dto.PaymentRecord, error)
	ConfirmPayment(ctx context.Context, req *dto.ConfirmPaymentRequest) (*dto.PaymentRecord, error)
	History(ctx context.Context) ([]*dto.PaymentRecord, error)
}

type Phase string

const (
	PhaseUnmounted        Phase = "unmounted"
	PhaseIdle             Phase = "idle"
	PhaseReconciling      Phase = "reconciling"
	PhaseAwaitingApproval Phase = "awaiting_approval"
	PhaseCapturing        Phase = "capturing"
	PhaseProcessing       Phase = "processing"
	PhaseSucceeded        Phase = "succeeded"
	PhaseFailed           Phase = "failed"
	PhaseSupportRequired  Phase = "support_required"
)

// SweepState is the recovery sweep's own state.
type SweepState string

const (
	SweepIdle        SweepState = "idle"
	SweepReconciling SweepState = "reconciling"
)

// State is a snapshot of what the payment page shows.
type State struct {
	Phase         Phase
	Sweep         SweepState
	OrderID       string
	Order         *PendingOrder
	PaypalOrderID string
	ApproveURL    string
	TransactionID string
	Message       string
	ErrorKind     ErrorKind
	History       []dto.PaymentRecord
}

// ApproveData is what the gateway hands back once the payer approves.
type ApproveData struct {
	OrderID string
	PayerID string
}

type Options struct {
	CaptureTimeout time.Duration
	RecheckDelay   time.Duration
	// OnSuccess receives the transaction id of every confirmed payment.
	OnSuccess func(transactionID string)
	Logger    *zap.Logger
}

type Checkout struct {
	orderID        string
	backend        Backend
	intents        *IntentStore
	log            *zap.Logger
	captureTimeout time.Duration
	recheckDelay   time.Duration
	onSuccess      func(string)
	after          func(time.Duration) <-chan time.Time

	wg sync.WaitGroup

	mu            sync.Mutex
	state         State
	order         *PendingOrder
	history       []dto.PaymentRecord
	historyIndex  map[string]int
	attempt       uint64
	cancelCapture context.CancelFunc
}

func New(orderID string, backend Backend, intents *IntentStore, opts Options) *Checkout {
	if opts.CaptureTimeout <= 0 {
		opts.CaptureTimeout = DefaultCaptureTimeout
	}
	if opts.RecheckDelay <= 0 {
		opts.RecheckDelay = DefaultRecheckDelay
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Checkout{
		orderID:        orderID,
		backend:        backend,
		intents:        intents,
		log:            opts.Logger.With(logger.OrderID(orderID)),
		captureTimeout: opts.CaptureTimeout,
		recheckDelay:   opts.RecheckDelay,
		onSuccess:      opts.OnSuccess,
		after:          time.After,
		state: State{
			Phase:   PhaseUnmounted,
			Sweep:   SweepIdle,
			OrderID: orderID,
		},
		historyIndex: make(map[string]int),
	}
}

// Mount loads the order context and runs the recovery sweep. No gateway order can be
// created before it returns.
func (c *Checkout) Mount(ctx context.Context) error {
	order, err := c.intents.LoadPendingOrder(ctx)
	if err != nil {
		c.mu.Lock()
		c.surfaceLocked(PhaseFailed, KindStorage, msgStorage)
		c.mu.Unlock()
		return newError(KindStorage, msgStorage, err)
	}

	c.mu.Lock()
	if order == nil || order.OrderID != c.orderID {
		c.order = nil
		c.state.Order = nil
		c.surfaceLocked(PhaseFailed, KindOrderContextMissing, msgOrderMissing)
		c.log.Warn("order context missing")
	} else {
		c.order = order
		c.state.Order = order
		c.surfaceLocked(PhaseIdle, KindNone, "")
	}
	c.state.Sweep = SweepReconciling
	c.mu.Unlock()

	return c.sweep(ctx, true)
}

// RecheckPending reconciles the stored pending payment once, if it belongs to this order.
func (c *Checkout) RecheckPending(ctx context.Context) error {
	return c.sweep(ctx, false)
}

func (c *Checkout) sweep(ctx context.Context, atMount bool) error {
	pending, err := c.intents.LoadPendingPayment(ctx)
	if err != nil {
		c.endSweep()
		return newError(KindStorage, msgStorage, err)
	}
	if pending == nil || pending.OrderID != c.orderID {
		c.endSweep()
		return nil
	}

	c.mu.Lock()
	c.state.Sweep = SweepReconciling
	c.state.Phase = PhaseReconciling
	c.state.PaypalOrderID = pending.PaypalOrderID
	c.mu.Unlock()

	c.log.Info("reconciling pending payment", logger.PaypalOrderID(pending.PaypalOrderID))
	record, err := c.backend.ConfirmPayment(ctx, &dto.ConfirmPaymentRequest{
		PaypalOrderID: pending.PaypalOrderID,
		OrderID:       c.orderID,
	})
	if err == nil {
		return c.settle(ctx, record)
	}

	// cleared either way so a broken confirm cannot loop
	if clearErr := c.intents.ClearPendingPayment(ctx); clearErr != nil {
		c.log.Warn("failed to clear pending payment", zap.Error(clearErr))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Sweep = SweepIdle

	if !atMount && notCompleted(err) && c.order != nil {
		msg := backendMessage(err, msgConfirmFallback)
		c.surfaceLocked(PhaseIdle, KindBackend, msg)
		c.state.PaypalOrderID = ""
		return newError(KindBackend, msg, err)
	}

	c.log.Error("pending payment could not be verified",
		logger.PaypalOrderID(pending.PaypalOrderID), zap.Error(err))
	c.surfaceLocked(PhaseSupportRequired, KindSupportRequired, msgRecoveryFailed)
	return newError(KindSupportRequired, msgRecoveryFailed, err)
}

func (c *Checkout) endSweep() {
	c.mu.Lock()
	c.state.Sweep = SweepIdle
	c.mu.Unlock()
}

// CreateOrder asks the backend for a gateway order for the order total and records it
// as pending. It returns the gateway order id.
func (c *Checkout) CreateOrder(ctx context.Context) (string, error) {
	c.mu.Lock()
	order, err := c.creatableLocked()
	if err == nil && !order.TotalAmount.IsPositive() {
		err = newError(KindInvalidAmount, msgInvalidAmount, nil)
		c.state.Message = msgInvalidAmount
		c.state.ErrorKind = KindInvalidAmount
	}
	c.mu.Unlock()
	if err != nil {
		return "", err
	}

	resp, err := c.backend.CreatePaypalOrder(ctx, &dto.CreatePaypalOrderRequest{
		OrderID: c.orderID,
		Amount:  order.TotalAmount,
		EventID: order.EventID,
	})
	if err == nil && resp.PaypalOrderID == "" {
		err = errors.New("backend returned no paypal order id")
	}
	if err != nil {
		kind, msg := classify(err), backendMessage(err, msgRetry)
		c.mu.Lock()
		c.state.Message = msg
		c.state.ErrorKind = kind
		c.mu.Unlock()
		return "", newError(kind, msg, err)
	}

	if _, err := c.intents.SavePendingPayment(ctx, c.orderID, resp.PaypalOrderID); err != nil {
		c.mu.Lock()
		c.state.Message = msgStorage
		c.state.ErrorKind = KindStorage
		c.mu.Unlock()
		return "", newError(KindStorage, msgStorage, err)
	}

	c.mu.Lock()
	c.surfaceLocked(PhaseAwaitingApproval, KindNone, "")
	c.state.PaypalOrderID = resp.PaypalOrderID
	c.state.ApproveURL = resp.ApproveURL
	c.mu.Unlock()

	c.log.Info("gateway order created", logger.PaypalOrderID(resp.PaypalOrderID))
	return resp.PaypalOrderID, nil
}

func (c *Checkout) creatableLocked() (*PendingOrder, error) {
	switch {
	case c.state.Phase == PhaseUnmounted || c.state.Sweep == SweepReconciling:
		return nil, newError(KindNotReady, msgNotReady, nil)
	case c.state.Phase == PhaseSupportRequired:
		return nil, newError(KindSupportRequired, msgRecoveryFailed, nil)
	case c.order == nil:
		return nil, newError(KindOrderContextMissing, msgOrderMissing, nil)
	case c.state.Phase == PhaseSucceeded:
		return nil, newError(KindAlreadyPaid, msgAlreadyPaid, nil)
	case c.state.Phase == PhaseCapturing || c.state.Phase == PhaseProcessing:
		return nil, newError(KindNotReady, msgNotReady, nil)
	}
	return c.order, nil
}

// OnApprove captures the approved gateway order and hands it to ProcessPayment. The
// capture is bounded by the capture timeout; a result arriving after a newer capture,
// a cancel or a reset is dropped.
func (c *Checkout) OnApprove(ctx context.Context, data ApproveData) error {
	if data.OrderID == "" {
		return newError(KindGateway, msgGatewayFailed, errors.New("approval carried no order id"))
	}

	c.mu.Lock()
	order, phase := c.order, c.state.Phase
	c.mu.Unlock()
	switch {
	case phase == PhaseSupportRequired:
		return newError(KindSupportRequired, msgRecoveryFailed, nil)
	case phase == PhaseSucceeded:
		return newError(KindAlreadyPaid, msgAlreadyPaid, nil)
	case order == nil:
		return newError(KindOrderContextMissing, msgOrderMissing, nil)
	}

	if _, err := c.intents.SavePendingPayment(ctx, c.orderID, data.OrderID); err != nil {
		return newError(KindStorage, msgStorage, err)
	}

	captureCtx, cancel := context.WithTimeout(ctx, c.captureTimeout)
	defer cancel()

	c.mu.Lock()
	c.abortCaptureLocked()
	attempt := c.attempt
	c.cancelCapture = cancel
	c.surfaceLocked(PhaseCapturing, KindNone, "")
	c.state.PaypalOrderID = data.OrderID
	c.mu.Unlock()

	resp, err := c.capture(captureCtx, &dto.CaptureRequest{
		OrderID:       c.orderID,
		PaypalOrderID: data.OrderID,
	})

	c.mu.Lock()
	current := attempt == c.attempt
	if current {
		c.cancelCapture = nil
	}
	c.mu.Unlock()
	if !current {
		c.log.Info("dropping superseded capture result", logger.PaypalOrderID(data.OrderID))
		return newError(KindCancelled, msgCancelled, context.Canceled)
	}
	if err != nil {
		return c.captureFailed(data.OrderID, err)
	}

	paypalOrderID := resp.PaypalOrderID
	if paypalOrderID == "" {
		paypalOrderID = data.OrderID
	}
	payerID := resp.PayerID
	if payerID == "" {
		payerID = data.PayerID
	}

	return c.ProcessPayment(ctx, &dto.ProcessPaymentRequest{
		OrderID:       c.orderID,
		PaymentMethod: string(model.PaymentMethodPaypal),
		Amount:        order.TotalAmount,
		PaypalOrderID: paypalOrderID,
		PaypalPayerID: payerID,
	})
}

type captureResult struct {
	resp *dto.CaptureResponse
	err  error
}

func (c *Checkout) capture(ctx context.Context, req *dto.CaptureRequest) (*dto.CaptureResponse, error) {
	done := make(chan captureResult, 1)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		resp, err := c.backend.CapturePaypalOrder(ctx, req)
		done <- captureResult{resp: resp, err: err}
	}()

	select {
	case res := <-done:
		return res.resp, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// captureFailed keeps the pending record so the payment can still be reconciled later.
func (c *Checkout) captureFailed(paypalOrderID string, err error) error {
	kind := classify(err)

	var msg string
	phase := PhaseFailed
	switch kind {
	case KindPopupClosed:
		msg = msgPopupClosed
		phase = PhaseIdle
	case KindTimeout:
		msg = msgTimeout
	default:
		msg = backendMessage(err, msgGatewayFailed)
	}

	c.log.Warn("capture failed",
		logger.PaypalOrderID(paypalOrderID),
		zap.Stringer("kind", kind),
		zap.Error(err),
	)

	c.mu.Lock()
	c.surfaceLocked(phase, kind, msg)
	c.mu.Unlock()
	return newError(kind, msg, err)
}

// OnCancel is the payer backing out of the gateway. The pending record is dropped.
func (c *Checkout) OnCancel(ctx context.Context) error {
	c.mu.Lock()
	c.abortCaptureLocked()
	c.mu.Unlock()

	if err := c.intents.ClearPendingPayment(ctx); err != nil {
		return newError(KindStorage, msgStorage, err)
	}

	c.mu.Lock()
	if c.retryableLocked() {
		c.state.Phase = PhaseIdle
	}
	c.state.Message = msgCancelled
	c.state.ErrorKind = KindCancelled
	c.clearGatewayLocked()
	c.mu.Unlock()
	return nil
}

// OnError handles a failure reported by the gateway widget. A closed popup keeps the
// record and rechecks it after the recheck delay; anything else drops it.
func (c *Checkout) OnError(ctx context.Context, widgetErr error) error {
	kind := classify(widgetErr)

	if kind == KindPopupClosed {
		c.mu.Lock()
		if c.retryableLocked() {
			c.state.Phase = PhaseIdle
		}
		c.state.Message = msgPopupClosed
		c.state.ErrorKind = KindPopupClosed
		c.mu.Unlock()

		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			select {
			case <-c.after(c.recheckDelay):
			case <-ctx.Done():
				return
			}
			if err := c.RecheckPending(ctx); err != nil {
				c.log.Warn("deferred payment recheck failed", zap.Error(err))
			}
		}()
		return newError(KindPopupClosed, msgPopupClosed, widgetErr)
	}

	c.log.Warn("gateway reported an error", zap.Stringer("kind", kind), zap.Error(widgetErr))
	if err := c.intents.ClearPendingPayment(ctx); err != nil {
		return newError(KindStorage, msgStorage, err)
	}

	c.mu.Lock()
	if c.retryableLocked() {
		c.state.Phase = PhaseIdle
	}
	c.state.Message = msgRetry
	c.state.ErrorKind = kind
	c.clearGatewayLocked()
	c.mu.Unlock()
	return newError(kind, msgRetry, widgetErr)
}

// Reset is the payer choosing to start over.
func (c *Checkout) Reset(ctx context.Context) error {
	c.mu.Lock()
	c.abortCaptureLocked()
	c.mu.Unlock()

	if err := c.intents.ClearPendingPayment(ctx); err != nil {
		return newError(KindStorage, msgStorage, err)
	}

	c.mu.Lock()
	if c.retryableLocked() {
		c.surfaceLocked(PhaseIdle, KindNone, "")
	}
	c.clearGatewayLocked()
	c.mu.Unlock()
	return nil
}

// ProcessPayment settles a freshly captured payment with the backend.
func (c *Checkout) ProcessPayment(ctx context.Context, req *dto.ProcessPaymentRequest) error {
	c.setPhase(PhaseProcessing)

	record, err := c.backend.ProcessPayment(ctx, req)
	if err != nil {
		return c.reconcileFailed(err)
	}
	return c.settle(ctx, record)
}

// ConfirmPayment settles a payment captured in an earlier session.
func (c *Checkout) ConfirmPayment(ctx context.Context, req *dto.ConfirmPaymentRequest) error {
	c.setPhase(PhaseProcessing)

	record, err := c.backend.ConfirmPayment(ctx, req)
	if err != nil {
		return c.reconcileFailed(err)
	}
	return c.settle(ctx, record)
}

func (c *Checkout) reconcileFailed(err error) error {
	msg := backendMessage(err, msgConfirmFallback)
	c.log.Warn("payment confirmation failed", zap.Error(err))

	c.mu.Lock()
	c.surfaceLocked(PhaseFailed, KindBackend, msg)
	c.mu.Unlock()
	return newError(KindBackend, msg, err)
}

func (c *Checkout) settle(ctx context.Context, record *dto.PaymentRecord) error {
	c.mu.Lock()
	c.surfaceLocked(PhaseSucceeded, KindNone, "")
	c.state.Sweep = SweepIdle
	c.state.TransactionID = record.TransactionID
	c.mergeLocked(*record)
	c.mu.Unlock()

	if err := c.intents.ClearPendingPayment(ctx); err != nil {
		c.log.Warn("failed to clear pending payment", zap.Error(err))
	}

	c.log.Info("payment confirmed", zap.String("transaction_id", record.TransactionID))
	if c.onSuccess != nil {
		c.onSuccess(record.TransactionID)
	}
	return nil
}

// LoadHistory merges the payer's backend history into the local view.
func (c *Checkout) LoadHistory(ctx context.Context) ([]dto.PaymentRecord, error) {
	records, err := c.backend.History(ctx)
	if err != nil {
		return nil, newError(classify(err), backendMessage(err, msgRetry), err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range records {
		c.mergeLocked(*r)
	}
	return append([]dto.PaymentRecord(nil), c.history...), nil
}

// Wait blocks until background captures and deferred rechecks have finished.
func (c *Checkout) Wait() {
	c.wg.Wait()
}

func (c *Checkout) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.state
	s.History = append([]dto.PaymentRecord(nil), c.history...)
	return s
}

func (c *Checkout) setPhase(phase Phase) {
	c.mu.Lock()
	c.state.Phase = phase
	c.mu.Unlock()
}

func (c *Checkout) surfaceLocked(phase Phase, kind ErrorKind, msg string) {
	c.state.Phase = phase
	c.state.ErrorKind = kind
	c.state.Message = msg
}

func (c *Checkout) retryableLocked() bool {
	return c.order != nil &&
		c.state.Phase != PhaseSupportRequired &&
		c.state.Phase != PhaseSucceeded
}

func (c *Checkout) clearGatewayLocked() {
	c.state.PaypalOrderID = ""
	c.state.ApproveURL = ""
}

// abortCaptureLocked cancels the in-flight capture and invalidates its result.
func (c *Checkout) abortCaptureLocked() {
	c.attempt++
	if c.cancelCapture != nil {
		c.cancelCapture()
		c.cancelCapture = nil
	}
}

func (c *Checkout) mergeLocked(r dto.PaymentRecord) {
	if i, ok := c.historyIndex[r.TransactionID]; ok {
		c.history[i] = r
		return
	}
	c.historyIndex[r.TransactionID] = len(c.history)
	c.history = append(c.history, r)
}
