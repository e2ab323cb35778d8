// Package handler exposes the checkout engine over HTTP.
package handler

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/dukerupert/saga/internal/checkout"
	"github.com/dukerupert/saga/internal/domain"
)

// CheckoutService is the aggregator behind POST /checkout.
type CheckoutService interface {
	Checkout(ctx context.Context, req domain.CheckoutRequest) (*domain.CheckoutResult, error)
}

// ConfirmService settles challenged purchases after out-of-band
// authentication.
type ConfirmService interface {
	Confirm(ctx context.Context, purchaseID uuid.UUID) (*checkout.ConfirmResult, error)
}

type Handler struct {
	checkout CheckoutService
	confirm  ConfirmService
	validate *validator.Validate
	logger   zerolog.Logger
}

func New(checkoutSvc CheckoutService, confirmSvc ConfirmService, logger zerolog.Logger) *Handler {
	return &Handler{
		checkout: checkoutSvc,
		confirm:  confirmSvc,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.With().Str("component", "handler").Logger(),
	}
}

// Register mounts all routes on the echo instance.
func (h *Handler) Register(e *echo.Echo) {
	e.POST("/checkout", h.HandleCheckout)
	e.POST("/purchases/:id/confirm", h.HandleConfirm)

	e.GET("/healthz", h.HandleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

func (h *Handler) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
