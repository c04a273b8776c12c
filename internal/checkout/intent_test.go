package checkout

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticket-payments/internal/kvstore"
)

func TestIntentStore_PendingPaymentRoundTrip(t *testing.T) {
	kv := kvstore.NewMemoryStore()
	store := NewIntentStore(kv, "profile-a", time.Hour)
	ctx := context.Background()

	p, err := store.LoadPendingPayment(ctx)
	require.NoError(t, err)
	assert.Nil(t, p)

	_, err = store.SavePendingPayment(ctx, "O1", "PP1")
	require.NoError(t, err)
	_, err = store.SavePendingPayment(ctx, "O1", "PP2")
	require.NoError(t, err)

	p, err = store.LoadPendingPayment(ctx)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "PP2", p.PaypalOrderID)

	// namespaces do not see each other
	other := NewIntentStore(kv, "profile-b", time.Hour)
	p, err = other.LoadPendingPayment(ctx)
	require.NoError(t, err)
	assert.Nil(t, p)

	raw, err := kv.Get(ctx, "profile-a:pendingPayment")
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"paypalOrderId":"PP2"`)

	require.NoError(t, store.ClearPendingPayment(ctx))
	p, err = store.LoadPendingPayment(ctx)
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestIntentStore_ExpiredRecordReadsAsAbsent(t *testing.T) {
	store := NewIntentStore(kvstore.NewMemoryStore(), "ns", 0)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	store.ttl = 24 * time.Hour

	_, err := store.SavePendingPayment(ctx, "O1", "PP1")
	require.NoError(t, err)

	now = now.Add(25 * time.Hour)
	p, err := store.LoadPendingPayment(ctx)
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestIntentStore_CorruptRecordReadsAsAbsent(t *testing.T) {
	kv := kvstore.NewMemoryStore()
	store := NewIntentStore(kv, "ns", time.Hour)
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "ns:pendingOrder", []byte("{not json"), 0))

	o, err := store.LoadPendingOrder(ctx)
	require.NoError(t, err)
	assert.Nil(t, o)

	_, err = kv.Get(ctx, "ns:pendingOrder")
	assert.ErrorIs(t, err, kvstore.ErrNotFound)
}

func TestPendingOrder_Total(t *testing.T) {
	order := &PendingOrder{
		TicketSelections: map[string]int{"vip": 1, "ga": 2, "gone": 3},
		TicketTypes: []TicketType{
			{ID: "vip", Price: decimal.RequireFromString("29.99")},
			{ID: "ga", Price: decimal.RequireFromString("10.00")},
		},
	}

	assert.True(t, order.Total().Equal(decimal.RequireFromString("49.99")))
}
