package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"ticket-payments/internal/dto"
	"ticket-payments/internal/middleware"
	"ticket-payments/internal/service"
)

type PaymentHandler struct {
	paymentService service.PaymentService
}

func NewPaymentHandler(paymentService service.PaymentService) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
	}
}

func (h *PaymentHandler) CreatePaypalOrder(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.CreatePaypalOrderRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	result, err := h.paymentService.CreatePaypalOrder(ctx, middleware.UserID(c), &req)
	if err != nil {
		return toHTTPError(err)
	}

	return c.JSON(http.StatusOK, result)
}

func (h *PaymentHandler) CapturePaypalOrder(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.CaptureRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	result, err := h.paymentService.CapturePaypalOrder(ctx, middleware.UserID(c), &req)
	if err != nil {
		return toHTTPError(err)
	}

	return c.JSON(http.StatusOK, result)
}

func (h *PaymentHandler) ProcessPayment(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.ProcessPaymentRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	result, err := h.paymentService.ProcessPayment(ctx, middleware.UserID(c), &req)
	if err != nil {
		return toHTTPError(err)
	}

	return c.JSON(http.StatusOK, result)
}

func (h *PaymentHandler) ConfirmPayment(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.ConfirmPaymentRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	result, err := h.paymentService.ConfirmPayment(ctx, middleware.UserID(c), &req)
	if err != nil {
		return toHTTPError(err)
	}

	return c.JSON(http.StatusOK, result)
}

func (h *PaymentHandler) History(c echo.Context) error {
	ctx := c.Request().Context()

	history, err := h.paymentService.History(ctx, middleware.UserID(c))
	if err != nil {
		return toHTTPError(err)
	}

	return c.JSON(http.StatusOK, history)
}

func (h *PaymentHandler) Receipt(c echo.Context) error {
	ctx := c.Request().Context()
	transactionID := c.Param("transactionId")

	pdf, err := h.paymentService.Receipt(ctx, middleware.UserID(c), transactionID)
	if err != nil {
		return toHTTPError(err)
	}

	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf(`attachment; filename="receipt-%s.pdf"`, transactionID))
	return c.Blob(http.StatusOK, "application/pdf", pdf)
}

func (h *PaymentHandler) PayPalWebhook(c echo.Context) error {
	ctx := c.Request().Context()

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.NoContent(http.StatusBadRequest)
	}

	err = h.paymentService.HandleWebhook(ctx, c.Request().Header, body)
	if errors.Is(err, service.ErrInvalidWebhook) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid webhook").SetInternal(err)
	}
	if err != nil {
		return fmt.Errorf("handle webhook: %w", err)
	}

	return c.NoContent(http.StatusOK)
}

// HandleSuccess is PayPal's return_url. Capture stays with the checkout client, which is
// still waiting on the approval.
func (h *PaymentHandler) HandleSuccess(c echo.Context) error {
	if c.QueryParam("token") == "" {
		return c.String(http.StatusBadRequest, "missing order token")
	}
	return c.HTML(http.StatusOK, resultPage("Payment approved",
		"Return to your checkout to finish the payment. Do not close it until it confirms."))
}

func (h *PaymentHandler) HandleCancel(c echo.Context) error {
	return c.HTML(http.StatusOK, resultPage("Payment cancelled",
		"No money was taken. You can start the payment again from your checkout."))
}

func resultPage(title, message string) string {
	return fmt.Sprintf(`
	<!DOCTYPE html>
	<html>
	<head>
		<meta charset="utf-8">
		<title>%[1]s</title>
		<style>
			body {
				font-family: Arial, sans-serif;
				text-align: center;
				margin-top: 80px;
			}
		</style>
	</head>
	<body>
		<h2>%[1]s</h2>
		<p>%[2]s</p>
	</body>
	</html>
	`, title, message)
}
