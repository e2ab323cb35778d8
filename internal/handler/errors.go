package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/dukerupert/saga/internal/domain"
)

// errorBody is the JSON envelope for request-level failures. Per-item
// payment failures do not use it; they live inside the checkout result.
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// statusForCode maps stable application codes to HTTP statuses.
func statusForCode(code string) int {
	switch code {
	case domain.EValidation:
		return http.StatusBadRequest
	case domain.EProductNotFound:
		return http.StatusNotFound
	case domain.ECredential:
		return http.StatusUnprocessableEntity
	case domain.EDeclined, domain.EChargeFailed:
		return http.StatusPaymentRequired
	case domain.EInventory, domain.EConflict, domain.ENotRestartable:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) errorResponse(c echo.Context, err error) error {
	code := domain.ErrorCode(err)
	status := statusForCode(code)

	if status >= 500 {
		h.logger.Error().Err(err).Str("op", domain.ErrorOp(err)).Msg("request failed")
	}

	var body errorBody
	body.Error.Code = code
	body.Error.Message = domain.ErrorMessage(err)
	return c.JSON(status, body)
}
