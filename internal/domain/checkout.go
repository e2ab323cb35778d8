package domain

import (
	"github.com/google/uuid"
)

// LineItem describes one requested product within a checkout call.
// Ephemeral: it exists only for the duration of one request. UID is a
// client-assigned correlation id keying the response map.
type LineItem struct {
	UID                 string
	ProductRef          string
	Quantity            int32
	PerceivedPriceCents int64
	DiscountCode        string
	VariantIDs          []string
	PricePlanID         string
	Referrer            string
}

// PaymentCredential is the client-supplied credential shared by every
// line item of a request, plus the processor metadata needed to decide
// authorization semantics.
type PaymentCredential struct {
	// Token is a saved or one-time payment method reference.
	Token string

	// PriorSetupIntentID is evidence of an already-authenticated setup;
	// when present, off-session charging is always permitted.
	PriorSetupIntentID string

	// PriorCustomerID is a previously authenticated processor customer.
	PriorCustomerID string
}

// Empty reports whether no credential was supplied at all.
func (c PaymentCredential) Empty() bool {
	return c.Token == "" && c.PriorSetupIntentID == ""
}

// BillingAddress is the buyer's billing address, validated at the edge.
type BillingAddress struct {
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
}

// CheckoutRequest is one inbound checkout call: a shared credential plus
// N independently chargeable line items.
type CheckoutRequest struct {
	LineItems []LineItem

	BuyerID    *uuid.UUID // nil for guest checkout
	BuyerEmail string

	Credential     PaymentCredential
	BillingAddress BillingAddress

	BrowserSessionID string
	IPAddress        string
}

// ItemOrderInfo is the order reference returned with a requires-challenge
// result so the client can drive the SCA flow.
type ItemOrderInfo struct {
	ID                 uuid.UUID
	ProcessorAccountID string
}

// ItemResult is one entry of the per-uid response map.
type ItemResult struct {
	Success bool

	Purchase *PurchaseAttempt

	RequiresCardAction bool
	ClientSecret       string
	Order              *ItemOrderInfo

	ErrorCode    string
	ErrorMessage string
	ProductName  string

	// Discount carries validity diagnostics for failed items that
	// supplied a discount code.
	Discount *DiscountDiagnostic
}

// CheckoutResult is the outcome of one checkout call.
type CheckoutResult struct {
	// Items maps line-item uid to its outcome. Always has one entry per
	// requested line item.
	Items map[string]ItemResult

	// Order is the persisted order, when the order invariant was met.
	Order *Order
}

// AllSucceeded reports whether every item reached terminal success
// (fresh purchase or subscription restart, challenges excluded).
func (r *CheckoutResult) AllSucceeded() bool {
	for _, item := range r.Items {
		if !item.Success || item.RequiresCardAction {
			return false
		}
	}
	return len(r.Items) > 0
}
