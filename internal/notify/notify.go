package notify

import (
	"context"

	"github.com/google/uuid"
)

// Kind identifies a notification template.
type Kind string

const (
	// KindReceipt is the buyer's purchase receipt for a completed order.
	KindReceipt Kind = "purchase_receipt"

	// KindSellerSale tells a seller one of their products sold.
	KindSellerSale Kind = "seller_sale"

	// KindRestartFailed tells a buyer their subscription restart charge
	// failed and the subscription was not revived.
	KindRestartFailed Kind = "subscription_restart_failed"

	// KindRestartPending tells a buyer their restart is awaiting card
	// authentication.
	KindRestartPending Kind = "subscription_restart_pending"

	// KindRestartSucceeded tells a buyer their subscription is active
	// again, whether or not a charge was needed.
	KindRestartSucceeded Kind = "subscription_restart_succeeded"
)

// ReceiptPayload is the message body for purchase receipts.
type ReceiptPayload struct {
	OrderID    uuid.UUID     `json:"order_id"`
	BuyerEmail string        `json:"buyer_email"`
	Items      []ReceiptItem `json:"items"`
	TotalCents int64         `json:"total_cents"`
	Currency   string        `json:"currency"`
}

// ReceiptItem is one line of a receipt.
type ReceiptItem struct {
	ProductName string `json:"product_name"`
	Quantity    int32  `json:"quantity"`
	AmountCents int64  `json:"amount_cents"`
}

// SellerSalePayload is the message body for seller sale notices.
type SellerSalePayload struct {
	SellerID    uuid.UUID `json:"seller_id"`
	SellerEmail string    `json:"seller_email"`
	ProductName string    `json:"product_name"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency"`
	PurchaseID  uuid.UUID `json:"purchase_id"`
}

// SubscriptionPayload is the message body for restart notices.
type SubscriptionPayload struct {
	SubscriptionID uuid.UUID `json:"subscription_id"`
	BuyerEmail     string    `json:"buyer_email"`
	ProductName    string    `json:"product_name"`
	ErrorMessage   string    `json:"error_message,omitempty"`
}

// Message is one outbound notification.
type Message struct {
	Kind    Kind        `json:"kind"`
	Payload interface{} `json:"payload"`
}

// Dispatcher hands notifications to the delivery pipeline. Delivery is
// asynchronous; Dispatch only guarantees the message was accepted by the
// broker. Dispatch failures are logged, never surfaced to buyers.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg Message) error
}

// OnceDispatcher extends Dispatcher with a dedupe window, so callers can
// silence repeats of the same notice for the same key.
type OnceDispatcher interface {
	Dispatcher
	DispatchOnce(ctx context.Context, dedupeKey string, msg Message) error
}
