package checkout

import (
	"context"

	"github.com/google/uuid"

	"github.com/dukerupert/saga/internal/domain"
)

// Store is the persistence surface the checkout and restart flows need.
// Implemented by the postgres package; mocked in tests.
type Store interface {
	// CreatePurchase persists a new purchase attempt.
	CreatePurchase(ctx context.Context, p *domain.PurchaseAttempt) error

	// UpdatePurchase persists the attempt's current state and fields.
	UpdatePurchase(ctx context.Context, p *domain.PurchaseAttempt) error

	// GetPurchase returns the attempt, or ErrPurchaseNotFound.
	GetPurchase(ctx context.Context, id uuid.UUID) (*domain.PurchaseAttempt, error)

	// CreateOrder persists an order together with its purchase ids.
	CreateOrder(ctx context.Context, o *domain.Order) error

	// FindLapsedSubscription returns the buyer's restartable subscription
	// for a product, or nil when none exists. Only buyer-cancelled and
	// failed subscriptions qualify.
	FindLapsedSubscription(ctx context.Context, buyerID, productID uuid.UUID) (*domain.Subscription, error)

	// GetSubscription returns the subscription by id.
	GetSubscription(ctx context.Context, id uuid.UUID) (*domain.Subscription, error)

	// UpdateSubscription persists the subscription's current fields.
	UpdateSubscription(ctx context.Context, s *domain.Subscription) error

	// FindCart returns the open cart for a buyer or browser identity, or
	// nil when none exists. BuyerID wins when both are supplied.
	FindCart(ctx context.Context, buyerID *uuid.UUID, browserGUID string) (*domain.Cart, error)

	// UpdateCart persists the cart's current fields.
	UpdateCart(ctx context.Context, c *domain.Cart) error
}
