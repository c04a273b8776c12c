package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"ticket-payments/internal/repository"
	"ticket-payments/internal/service"
)

// toHTTPError maps service errors onto statuses; the message reaches the checkout verbatim.
func toHTTPError(err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrAmountMismatch),
		errors.Is(err, service.ErrMissingOrderID),
		errors.Is(err, service.ErrMissingPaypalOrderID),
		errors.Is(err, service.ErrPaypalOrderMismatch),
		errors.Is(err, service.ErrUnsupportedMethod),
		errors.Is(err, service.ErrMissingNonce):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, repository.ErrOrderNotFound),
		errors.Is(err, repository.ErrPaymentNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrPaymentNotCompleted),
		errors.Is(err, service.ErrOrderAlreadyPaid):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadGateway, "payment provider error, please try again").SetInternal(err)
	}
}
