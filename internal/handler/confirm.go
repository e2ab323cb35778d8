package handler

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/dukerupert/saga/internal/domain"
)

type confirmResponse struct {
	PurchaseID string `json:"purchase_id"`
	Success    bool   `json:"success"`
	Pending    bool   `json:"pending,omitempty"`

	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// HandleConfirm handles POST /purchases/:id/confirm. Called after the
// buyer completes an out-of-band authentication challenge.
func (h *Handler) HandleConfirm(c echo.Context) error {
	purchaseID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return h.errorResponse(c, domain.Invalid("handler.confirm", "Purchase id must be a UUID"))
	}

	result, err := h.confirm.Confirm(c.Request().Context(), purchaseID)
	if err != nil {
		return h.errorResponse(c, err)
	}

	return c.JSON(http.StatusOK, confirmResponse{
		PurchaseID:   result.Purchase.ID.String(),
		Success:      result.Success,
		Pending:      result.Pending,
		ErrorCode:    result.ErrorCode,
		ErrorMessage: result.ErrorMessage,
	})
}
