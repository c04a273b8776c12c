package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"ticket-payments/internal/kvstore"
)

const (
	pendingPaymentKey = "pendingPayment"
	pendingOrderKey   = "pendingOrder"
)

// PendingPayment marks a gateway order that was issued but not yet confirmed.
type PendingPayment struct {
	OrderID       string    `json:"orderId"`
	PaypalOrderID string    `json:"paypalOrderId"`
	Timestamp     time.Time `json:"timestamp"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

type TicketType struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Available int             `json:"available"`
}

// PendingOrder is the booking draft handed from the booking step to the payment step.
type PendingOrder struct {
	OrderID          string          `json:"orderId"`
	EventID          string          `json:"eventId"`
	EventName        string          `json:"eventName"`
	TicketSelections map[string]int  `json:"ticketSelections"`
	TotalAmount      decimal.Decimal `json:"totalAmount"`
	TicketTypes      []TicketType    `json:"ticketTypes"`
	ExpiresAt        time.Time       `json:"expiresAt"`
}

// Total prices the selections against the ticket types. Unknown types price at zero.
func (o *PendingOrder) Total() decimal.Decimal {
	prices := make(map[string]decimal.Decimal, len(o.TicketTypes))
	for _, tt := range o.TicketTypes {
		prices[tt.ID] = tt.Price
	}

	total := decimal.Zero
	for id, qty := range o.TicketSelections {
		total = total.Add(prices[id].Mul(decimal.NewFromInt(int64(qty))))
	}
	return total
}

// IntentStore is typed access to the checkout's persisted intents under one namespace.
// There is a single pendingPayment slot per namespace; writes overwrite it.
type IntentStore struct {
	kv        kvstore.Store
	namespace string
	ttl       time.Duration
	now       func() time.Time
}

func NewIntentStore(kv kvstore.Store, namespace string, ttl time.Duration) *IntentStore {
	if namespace == "" {
		namespace = "default"
	}
	return &IntentStore{
		kv:        kv,
		namespace: namespace,
		ttl:       ttl,
		now:       time.Now,
	}
}

func (s *IntentStore) key(name string) string {
	return s.namespace + ":" + name
}

func (s *IntentStore) expiry() time.Time {
	if s.ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(s.ttl)
}

func (s *IntentStore) SavePendingPayment(ctx context.Context, orderID, paypalOrderID string) (*PendingPayment, error) {
	p := &PendingPayment{
		OrderID:       orderID,
		PaypalOrderID: paypalOrderID,
		Timestamp:     s.now(),
		ExpiresAt:     s.expiry(),
	}
	if err := s.put(ctx, pendingPaymentKey, p); err != nil {
		return nil, fmt.Errorf("save pending payment: %w", err)
	}
	return p, nil
}

// LoadPendingPayment returns nil when there is no live record.
func (s *IntentStore) LoadPendingPayment(ctx context.Context) (*PendingPayment, error) {
	var p PendingPayment
	ok, err := s.get(ctx, pendingPaymentKey, &p)
	if err != nil || !ok {
		return nil, err
	}
	if s.expired(p.ExpiresAt) {
		return nil, s.kv.Delete(ctx, s.key(pendingPaymentKey))
	}
	return &p, nil
}

func (s *IntentStore) ClearPendingPayment(ctx context.Context) error {
	if err := s.kv.Delete(ctx, s.key(pendingPaymentKey)); err != nil {
		return fmt.Errorf("clear pending payment: %w", err)
	}
	return nil
}

func (s *IntentStore) SavePendingOrder(ctx context.Context, order *PendingOrder) error {
	order.ExpiresAt = s.expiry()
	if err := s.put(ctx, pendingOrderKey, order); err != nil {
		return fmt.Errorf("save pending order: %w", err)
	}
	return nil
}

// LoadPendingOrder returns nil when there is no live record.
func (s *IntentStore) LoadPendingOrder(ctx context.Context) (*PendingOrder, error) {
	var o PendingOrder
	ok, err := s.get(ctx, pendingOrderKey, &o)
	if err != nil || !ok {
		return nil, err
	}
	if s.expired(o.ExpiresAt) {
		return nil, s.kv.Delete(ctx, s.key(pendingOrderKey))
	}
	return &o, nil
}

func (s *IntentStore) expired(expiresAt time.Time) bool {
	return !expiresAt.IsZero() && !s.now().Before(expiresAt)
}

func (s *IntentStore) put(ctx context.Context, name string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	return s.kv.Set(ctx, s.key(name), b, s.ttl)
}

// get reports false for a missing key. An unreadable record is dropped and reads as missing.
func (s *IntentStore) get(ctx context.Context, name string, v any) (bool, error) {
	b, err := s.kv.Get(ctx, s.key(name))
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("load %s: %w", name, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return false, s.kv.Delete(ctx, s.key(name))
	}
	return true, nil
}
