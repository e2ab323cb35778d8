package domain

import (
	"time"

	"github.com/google/uuid"
)

// Cart is the pre-checkout staging area, keyed by buyer or browser
// identity. A cart is marked deleted exactly when it becomes linked to a
// persisted order, or when every line item of the checkout request
// reached terminal success; otherwise it survives for retry.
type Cart struct {
	ID          uuid.UUID
	BuyerID     *uuid.UUID
	BrowserGUID string

	Deleted bool

	// OrderID links the cart to the order it converted into, if any.
	OrderID *uuid.UUID

	CreatedAt time.Time
	UpdatedAt time.Time
}
