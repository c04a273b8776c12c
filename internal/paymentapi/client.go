// Package paymentapi is the checkout's HTTP client for the payments backend.
package paymentapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ticket-payments/internal/dto"
)

// APIError is a non-2xx answer from the backend. Message is the backend's
// "message" field when it sent one.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("payments api: status %d", e.Status)
	}
	return fmt.Sprintf("payments api: status %d: %s", e.Status, e.Message)
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New returns a client for baseURL (the backend's /api root) sending token as a bearer.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *Client) CreatePaypalOrder(ctx context.Context, req *dto.CreatePaypalOrderRequest) (*dto.CreatePaypalOrderResponse, error) {
	var out dto.CreatePaypalOrderResponse
	if err := c.doJSON(ctx, http.MethodPost, "/payments/create-paypal-order", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CapturePaypalOrder(ctx context.Context, req *dto.CaptureRequest) (*dto.CaptureResponse, error) {
	var out dto.CaptureResponse
	if err := c.doJSON(ctx, http.MethodPost, "/payments/capture-paypal-order", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ProcessPayment(ctx context.Context, req *dto.ProcessPaymentRequest) (*dto.PaymentRecord, error) {
	var out dto.PaymentRecord
	if err := c.doJSON(ctx, http.MethodPost, "/payments/process", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ConfirmPayment(ctx context.Context, req *dto.ConfirmPaymentRequest) (*dto.PaymentRecord, error) {
	var out dto.PaymentRecord
	if err := c.doJSON(ctx, http.MethodPost, "/payments/confirm", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) History(ctx context.Context) ([]*dto.PaymentRecord, error) {
	var out []*dto.PaymentRecord
	if err := c.doJSON(ctx, http.MethodGet, "/payments/history", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Receipt returns the PDF bytes for transactionID.
func (c *Client) Receipt(ctx context.Context, transactionID string) ([]byte, error) {
	resp, err := c.send(ctx, http.MethodGet, "/payments/receipt/"+transactionID, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read receipt: %w", err)
	}
	return body, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload, out any) error {
	resp, err := c.send(ctx, method, path, payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// send performs the request and turns non-2xx answers into *APIError.
func (c *Client) send(ctx context.Context, method, path string, payload any) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal req payload: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("http new request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)

		var msg dto.ErrorResponse
		_ = json.Unmarshal(respBody, &msg)
		return nil, &APIError{Status: resp.StatusCode, Message: msg.Message}
	}
	return resp, nil
}
