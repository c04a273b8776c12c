package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"ticket-payments/internal/config"
	"ticket-payments/internal/metrics"
	"ticket-payments/internal/model"
)

// ErrPaypalUnprocessable is returned when PayPal rejects a capture with 422, e.g. the order
// was already captured or is not yet approved.
var ErrPaypalUnprocessable = errors.New("paypal unprocessable entity")

// ErrWebhookSignatureInvalid is returned when PayPal reports a webhook signature as not verified.
var ErrWebhookSignatureInvalid = errors.New("webhook signature not verified")

type PaypalClient interface {
	CreateOrder(ctx context.Context, params CreateOrderParams) (*model.PaypalOrder, error)
	CaptureOrder(ctx context.Context, paypalOrderID string) (*model.PaypalOrder, error)
	GetOrder(ctx context.Context, paypalOrderID string) (*model.PaypalOrder, error)
	VerifyWebhookSignature(ctx context.Context, headers http.Header, body []byte) error
}

type CreateOrderParams struct {
	ReferenceID string // local order id
	Amount      decimal.Decimal
	Currency    string
	ReturnURL   string
	CancelURL   string
}

type paypalClientImpl struct {
	httpClient         *http.Client
	baseApiURL         string
	paypalClientID     string
	paypalClientSecret string
	webhookID          string
}

func NewPaypalClient(paypalCfg *config.Paypal) PaypalClient {
	return &paypalClientImpl{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseApiURL:         paypalCfg.BaseApiURL,
		paypalClientID:     paypalCfg.ClientID,
		paypalClientSecret: paypalCfg.ClientSecret,
		webhookID:          paypalCfg.WebhookID,
	}
}

func (c *paypalClientImpl) getAccessToken(ctx context.Context) (string, error) {
	auth := base64.StdEncoding.EncodeToString(
		[]byte(c.paypalClientID + ":" + c.paypalClientSecret),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseApiURL+"/v1/oauth2/token",
		bytes.NewBufferString("grant_type=client_credentials"))
	if err != nil {
		return "", fmt.Errorf("http new request: %w", err)
	}
	req.Header.Set("Authorization", "Basic "+auth)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http client do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("paypal oauth error %d: %s", resp.StatusCode, string(b))
	}

	var res struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", fmt.Errorf("decode oauth response: %w", err)
	}
	if res.AccessToken == "" {
		return "", fmt.Errorf("empty paypal access token")
	}

	return res.AccessToken, nil
}

// do sends an authenticated JSON request and decodes a 2xx response into out.
func (c *paypalClientImpl) do(ctx context.Context, endpoint, method, path string, payload, out any) error {
	start := time.Now()
	defer func() { metrics.ObservePaypalRequest(endpoint, time.Since(start)) }()

	accessToken, err := c.getAccessToken(ctx)
	if err != nil {
		return fmt.Errorf("get paypal access token: %w", err)
	}

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal req payload: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseApiURL+path, body)
	if err != nil {
		return fmt.Errorf("http new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("paypal %s request failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode == http.StatusUnprocessableEntity {
		return fmt.Errorf("paypal %s: %w: %s", endpoint, ErrPaypalUnprocessable, string(respBody))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("paypal %s failed: status=%d body=%s", endpoint, resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode paypal %s response: %w", endpoint, err)
	}
	return nil
}

func (c *paypalClientImpl) CreateOrder(ctx context.Context, params CreateOrderParams) (*model.PaypalOrder, error) {
	currency := params.Currency
	if currency == "" {
		currency = "USD"
	}

	payload := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{
			{
				"reference_id": params.ReferenceID,
				"amount": map[string]string{
					"currency_code": currency,
					"value":         params.Amount.StringFixed(2),
				},
			},
		},
		"application_context": map[string]string{
			"return_url": params.ReturnURL,
			"cancel_url": params.CancelURL,
		},
	}

	var result model.PaypalOrder
	if err := c.do(ctx, "create_order", http.MethodPost, "/v2/checkout/orders", payload, &result); err != nil {
		return nil, err
	}
	if result.ID == "" {
		return nil, fmt.Errorf("paypal create order returned no id")
	}

	return &result, nil
}

func (c *paypalClientImpl) CaptureOrder(ctx context.Context, paypalOrderID string) (*model.PaypalOrder, error) {
	var result model.PaypalOrder
	path := fmt.Sprintf("/v2/checkout/orders/%s/capture", paypalOrderID)
	if err := c.do(ctx, "capture_order", http.MethodPost, path, map[string]any{}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *paypalClientImpl) GetOrder(ctx context.Context, paypalOrderID string) (*model.PaypalOrder, error) {
	var result model.PaypalOrder
	path := fmt.Sprintf("/v2/checkout/orders/%s", paypalOrderID)
	if err := c.do(ctx, "get_order", http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *paypalClientImpl) VerifyWebhookSignature(ctx context.Context, headers http.Header, body []byte) error {
	if c.webhookID == "" {
		// sandbox without a configured webhook
		return nil
	}

	payload := map[string]any{
		"auth_algo":         headers.Get("PAYPAL-AUTH-ALGO"),
		"cert_url":          headers.Get("PAYPAL-CERT-URL"),
		"transmission_id":   headers.Get("PAYPAL-TRANSMISSION-ID"),
		"transmission_sig":  headers.Get("PAYPAL-TRANSMISSION-SIG"),
		"transmission_time": headers.Get("PAYPAL-TRANSMISSION-TIME"),
		"webhook_id":        c.webhookID,
		"webhook_event":     json.RawMessage(body),
	}

	var result struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := c.do(ctx, "verify_webhook", http.MethodPost, "/v1/notifications/verify-webhook-signature", payload, &result); err != nil {
		return err
	}
	if result.VerificationStatus != "SUCCESS" {
		return fmt.Errorf("%w: status %q", ErrWebhookSignatureInvalid, result.VerificationStatus)
	}
	return nil
}
