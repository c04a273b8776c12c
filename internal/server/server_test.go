package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ticket-payments/internal/client"
	"ticket-payments/internal/config"
	"ticket-payments/internal/middleware"
	"ticket-payments/internal/repository"
	"ticket-payments/internal/service"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	db, err := client.OpenPaymentsDB(config.Database{Driver: "sqlite", URL: ":memory:"})
	require.NoError(t, err)

	svc := service.NewPaymentService(db, nil, nil, "http://localhost:8080", "USD",
		repository.NewOrderRepository(db),
		repository.NewPaymentRepository(db),
		repository.NewWebhookEventRepository(db),
		zap.NewNop(),
	)
	return NewServer(svc, []byte("test-secret"), zap.NewNop())
}

func TestServer_Health(t *testing.T) {
	srv := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServer_Metrics(t *testing.T) {
	srv := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestServer_PaymentsRequireToken(t *testing.T) {
	srv := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/payments/history", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServer_HistoryWithToken(t *testing.T) {
	srv := newTestServer(t)
	token, err := middleware.IssueToken([]byte("test-secret"), "u1", time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/payments/history", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}
