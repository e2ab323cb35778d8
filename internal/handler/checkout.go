package handler

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/dukerupert/saga/internal/domain"
)

type checkoutItemRequest struct {
	UID                 string   `json:"uid" validate:"required"`
	ProductRef          string   `json:"product_ref" validate:"required"`
	Quantity            int32    `json:"quantity" validate:"required,min=1"`
	PerceivedPriceCents int64    `json:"perceived_price_cents" validate:"min=0"`
	DiscountCode        string   `json:"discount_code"`
	VariantIDs          []string `json:"variant_ids"`
	PricePlanID         string   `json:"price_plan_id"`
	Referrer            string   `json:"referrer"`
}

type credentialRequest struct {
	Token           string `json:"token"`
	SetupIntentID   string `json:"setup_intent_id"`
	PriorCustomerID string `json:"customer_id"`
}

type billingAddressRequest struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country" validate:"omitempty,iso3166_1_alpha2"`
}

type checkoutRequest struct {
	Items []checkoutItemRequest `json:"items" validate:"required,min=1,dive"`

	BuyerID    string `json:"buyer_id" validate:"omitempty,uuid4"`
	BuyerEmail string `json:"buyer_email" validate:"omitempty,email"`

	Credential     credentialRequest     `json:"credential"`
	BillingAddress billingAddressRequest `json:"billing_address"`

	BrowserSessionID string `json:"browser_session_id"`
}

type orderInfoResponse struct {
	ID                 string `json:"id"`
	ProcessorAccountID string `json:"processor_account_id,omitempty"`
}

type discountResponse struct {
	Code           string `json:"code"`
	Valid          bool   `json:"valid"`
	ErrorCode      string `json:"error_code,omitempty"`
	PercentOff     int32  `json:"percent_off,omitempty"`
	AmountOffCents int64  `json:"amount_off_cents,omitempty"`
}

type itemResponse struct {
	Success bool `json:"success"`

	PurchaseID string `json:"purchase_id,omitempty"`

	RequiresCardAction bool               `json:"requires_card_action,omitempty"`
	ClientSecret       string             `json:"client_secret,omitempty"`
	Order              *orderInfoResponse `json:"order,omitempty"`

	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	ProductName  string `json:"product_name,omitempty"`

	Discount *discountResponse `json:"discount,omitempty"`
}

type checkoutResponse struct {
	Items   map[string]itemResponse `json:"items"`
	OrderID string                  `json:"order_id,omitempty"`
}

// HandleCheckout handles POST /checkout.
func (h *Handler) HandleCheckout(c echo.Context) error {
	var req checkoutRequest
	if err := c.Bind(&req); err != nil {
		return h.errorResponse(c, domain.Invalid("handler.checkout", "Request body could not be parsed"))
	}
	if err := h.validate.Struct(req); err != nil {
		return h.errorResponse(c, domain.WrapError(err, domain.EValidation, "handler.checkout", "Request validation failed"))
	}

	result, err := h.checkout.Checkout(c.Request().Context(), toDomainRequest(req, c.RealIP()))
	if err != nil {
		return h.errorResponse(c, err)
	}

	return c.JSON(http.StatusOK, toCheckoutResponse(result))
}

func toDomainRequest(req checkoutRequest, ip string) domain.CheckoutRequest {
	out := domain.CheckoutRequest{
		BuyerEmail: req.BuyerEmail,
		Credential: domain.PaymentCredential{
			Token:              req.Credential.Token,
			PriorSetupIntentID: req.Credential.SetupIntentID,
			PriorCustomerID:    req.Credential.PriorCustomerID,
		},
		BillingAddress: domain.BillingAddress{
			Line1:      req.BillingAddress.Line1,
			Line2:      req.BillingAddress.Line2,
			City:       req.BillingAddress.City,
			State:      req.BillingAddress.State,
			PostalCode: req.BillingAddress.PostalCode,
			Country:    req.BillingAddress.Country,
		},
		BrowserSessionID: req.BrowserSessionID,
		IPAddress:        ip,
	}

	if req.BuyerID != "" {
		if id, err := uuid.Parse(req.BuyerID); err == nil {
			out.BuyerID = &id
		}
	}

	for _, item := range req.Items {
		out.LineItems = append(out.LineItems, domain.LineItem{
			UID:                 item.UID,
			ProductRef:          item.ProductRef,
			Quantity:            item.Quantity,
			PerceivedPriceCents: item.PerceivedPriceCents,
			DiscountCode:        item.DiscountCode,
			VariantIDs:          item.VariantIDs,
			PricePlanID:         item.PricePlanID,
			Referrer:            item.Referrer,
		})
	}

	return out
}

func toCheckoutResponse(result *domain.CheckoutResult) checkoutResponse {
	resp := checkoutResponse{Items: make(map[string]itemResponse, len(result.Items))}
	if result.Order != nil {
		resp.OrderID = result.Order.ID.String()
	}

	for uid, item := range result.Items {
		out := itemResponse{
			Success:            item.Success,
			RequiresCardAction: item.RequiresCardAction,
			ClientSecret:       item.ClientSecret,
			ErrorCode:          item.ErrorCode,
			ErrorMessage:       item.ErrorMessage,
			ProductName:        item.ProductName,
		}
		if item.Purchase != nil {
			out.PurchaseID = item.Purchase.ID.String()
		}
		if item.Order != nil {
			out.Order = &orderInfoResponse{
				ID:                 item.Order.ID.String(),
				ProcessorAccountID: item.Order.ProcessorAccountID,
			}
		}
		if item.Discount != nil {
			out.Discount = &discountResponse{
				Code:           item.Discount.Code,
				Valid:          item.Discount.Valid,
				ErrorCode:      item.Discount.ErrorCode,
				PercentOff:     item.Discount.PercentOff,
				AmountOffCents: item.Discount.AmountOffCents,
			}
		}
		resp.Items[uid] = out
	}

	return resp
}
