package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticket-payments/internal/config"
)

func newFakePaypal(t *testing.T, handler http.HandlerFunc) PaypalClient {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "id", user)
		assert.Equal(t, "secret", pass)
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "tok"})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		handler(w, r)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return NewPaypalClient(&config.Paypal{
		BaseApiURL:   srv.URL,
		ClientID:     "id",
		ClientSecret: "secret",
		WebhookID:    "WH-1",
	})
}

func TestPaypalClient_CreateOrder(t *testing.T) {
	c := newFakePaypal(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/checkout/orders", r.URL.Path)

		var body struct {
			Intent        string `json:"intent"`
			PurchaseUnits []struct {
				ReferenceID string `json:"reference_id"`
				Amount      struct {
					Value string `json:"value"`
				} `json:"amount"`
			} `json:"purchase_units"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "CAPTURE", body.Intent)
		assert.Equal(t, "O1", body.PurchaseUnits[0].ReferenceID)
		assert.Equal(t, "49.99", body.PurchaseUnits[0].Amount.Value)

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"PP1","status":"CREATED","links":[{"rel":"approve","href":"https://paypal/approve"}]}`))
	})

	order, err := c.CreateOrder(context.Background(), CreateOrderParams{
		ReferenceID: "O1",
		Amount:      decimal.RequireFromString("49.99"),
	})
	require.NoError(t, err)
	assert.Equal(t, "PP1", order.ID)
	assert.Equal(t, "https://paypal/approve", order.ApproveURL())
}

func TestPaypalClient_CaptureOrder(t *testing.T) {
	c := newFakePaypal(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/checkout/orders/PP1/capture", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		_, _ = w.Write([]byte(`{"id":"PP1","status":"COMPLETED","payer":{"payer_id":"PAYER1"},
			"purchase_units":[{"payments":{"captures":[{"id":"CAP1","status":"COMPLETED"}]}}]}`))
	})

	order, err := c.CaptureOrder(context.Background(), "PP1")
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", order.Status)
	assert.Equal(t, "PAYER1", order.Payer.PayerID)
	assert.Equal(t, "CAP1", order.FirstCapture().ID)
}

func TestPaypalClient_CaptureUnprocessable(t *testing.T) {
	c := newFakePaypal(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"name":"UNPROCESSABLE_ENTITY"}`))
	})

	_, err := c.CaptureOrder(context.Background(), "PP1")
	assert.ErrorIs(t, err, ErrPaypalUnprocessable)
}

func TestPaypalClient_GetOrderError(t *testing.T) {
	c := newFakePaypal(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.GetOrder(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=404")
}

func TestPaypalClient_VerifyWebhookSignature(t *testing.T) {
	var status atomic.Value
	status.Store("SUCCESS")
	c := newFakePaypal(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/notifications/verify-webhook-signature", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "WH-1", body["webhook_id"])
		assert.Equal(t, "sig", body["transmission_sig"])
		_ = json.NewEncoder(w).Encode(map[string]string{"verification_status": status.Load().(string)})
	})

	headers := http.Header{}
	headers.Set("PAYPAL-TRANSMISSION-SIG", "sig")

	require.NoError(t, c.VerifyWebhookSignature(context.Background(), headers, []byte(`{"id":"WH-EVT"}`)))

	status.Store("FAILURE")
	assert.ErrorIs(t, c.VerifyWebhookSignature(context.Background(), headers, []byte(`{"id":"WH-EVT"}`)), ErrWebhookSignatureInvalid)
}
