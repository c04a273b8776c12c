package server

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"ticket-payments/internal/handler"
	authmw "ticket-payments/internal/middleware"
	"ticket-payments/internal/service"
)

type Server struct {
	echo           *echo.Echo
	paymentHandler *handler.PaymentHandler
	jwtSecret      []byte
}

func NewServer(paymentService service.PaymentService, jwtSecret []byte, logger *zap.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewRequestValidator()

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogMethod:    true,
		LogStatus:    true,
		LogLatency:   true,
		LogError:     true,
		HandleError:  true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				logger.Warn("request failed", append(fields, zap.Error(v.Error))...)
				return nil
			}
			logger.Info("request", fields...)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s := &Server{
		echo:           e,
		paymentHandler: handler.NewPaymentHandler(paymentService),
		jwtSecret:      jwtSecret,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.echo.Group("/api")

	api.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	api.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// -------- payments --------
	payments := api.Group("/payments", authmw.AuthMiddleware(s.jwtSecret))
	payments.POST("/create-paypal-order", s.paymentHandler.CreatePaypalOrder)
	payments.POST("/capture-paypal-order", s.paymentHandler.CapturePaypalOrder)
	payments.POST("/process", s.paymentHandler.ProcessPayment)
	payments.POST("/confirm", s.paymentHandler.ConfirmPayment)
	payments.GET("/history", s.paymentHandler.History)
	payments.GET("/receipt/:transactionId", s.paymentHandler.Receipt)

	// -------- paypal webhooks / callbacks --------
	paypal := api.Group("/paypal")
	paypal.GET("/success", s.paymentHandler.HandleSuccess)
	paypal.GET("/cancel", s.paymentHandler.HandleCancel)
	paypal.POST("/webhook", s.paymentHandler.PayPalWebhook)
}

// Handler exposes the router for in-process tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start(address string) error {
	return s.echo.Start(address)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
