package kvstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStore_SetGetDelete(t *testing.T) {
	db, mock := redismock.NewClientMock()
	defer mock.ClearExpect()
	store := NewRedisStore(db)
	ctx := context.Background()

	mock.ExpectSet("ns:pendingPayment", []byte(`{"orderId":"O1"}`), 24*time.Hour).SetVal("OK")
	mock.ExpectGet("ns:pendingPayment").SetVal(`{"orderId":"O1"}`)
	mock.ExpectDel("ns:pendingPayment").SetVal(1)

	require.NoError(t, store.Set(ctx, "ns:pendingPayment", []byte(`{"orderId":"O1"}`), 24*time.Hour))

	value, err := store.Get(ctx, "ns:pendingPayment")
	require.NoError(t, err)
	assert.JSONEq(t, `{"orderId":"O1"}`, string(value))

	require.NoError(t, store.Delete(ctx, "ns:pendingPayment"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_MissingKey(t *testing.T) {
	db, mock := redismock.NewClientMock()
	defer mock.ClearExpect()
	store := NewRedisStore(db)

	mock.ExpectGet("ns:pendingOrder").RedisNil()

	_, err := store.Get(context.Background(), "ns:pendingOrder")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_Error(t *testing.T) {
	db, mock := redismock.NewClientMock()
	defer mock.ClearExpect()
	store := NewRedisStore(db)

	mock.ExpectGet("k").SetErr(errors.New("connection refused"))

	_, err := store.Get(context.Background(), "k")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "redis get")
}
