package checkout

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/saga/internal/domain"
	"github.com/dukerupert/saga/internal/notify"
	"github.com/dukerupert/saga/internal/payment"
)

func TestCheckoutValidation(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	t.Run("empty request rejected", func(t *testing.T) {
		_, err := env.svc.Checkout(ctx, domain.CheckoutRequest{})
		assert.Equal(t, domain.EValidation, domain.ErrorCode(err))
	})

	t.Run("duplicate uids rejected", func(t *testing.T) {
		_, err := env.svc.Checkout(ctx, domain.CheckoutRequest{
			LineItems: []domain.LineItem{
				{UID: "a", ProductRef: "x", Quantity: 1},
				{UID: "a", ProductRef: "y", Quantity: 1},
			},
		})
		assert.Equal(t, domain.EValidation, domain.ErrorCode(err))
	})
}

func TestCheckoutSingleItemSuccess(t *testing.T) {
	env := newTestEnv()
	seller := makeTestSeller()
	product := makeTestProduct(seller)
	env.addProduct(product, seller)

	cart := &domain.Cart{ID: uuid.New(), BrowserGUID: "browser-1"}
	env.store.Carts[cart.ID] = cart

	result, err := env.svc.Checkout(context.Background(), domain.CheckoutRequest{
		LineItems:        []domain.LineItem{makeTestItem(product)},
		BuyerEmail:       "buyer@example.com",
		Credential:       domain.PaymentCredential{Token: "pm_1"},
		BrowserSessionID: "browser-1",
	})
	require.NoError(t, err)

	item := result.Items["item-1"]
	assert.True(t, item.Success)
	assert.Equal(t, product.Name, item.ProductName)
	require.NotNil(t, item.Purchase)
	assert.Equal(t, domain.AttemptSuccessful, item.Purchase.State)

	require.NotNil(t, result.Order)
	assert.Equal(t, []uuid.UUID{item.Purchase.ID}, result.Order.PurchaseIDs)
	assert.True(t, result.AllSucceeded())

	// cart converted and linked to the order
	assert.True(t, cart.Deleted)
	require.NotNil(t, cart.OrderID)
	assert.Equal(t, result.Order.ID, *cart.OrderID)

	// receipt plus seller notice
	assert.Equal(t, 1, env.dispatcher.Sent(notify.KindReceipt))
	assert.Equal(t, 1, env.dispatcher.Sent(notify.KindSellerSale))
}

func TestCheckoutMixedOutcomes(t *testing.T) {
	// One item succeeds, one is declined: the order is still persisted
	// because a fresh attempt began charging, but it contains only the
	// successful purchase.
	env := newTestEnv()
	seller := makeTestSeller()
	good := makeTestProduct(seller)
	bad := makeTestProduct(seller)
	bad.Ref = "coffee-decaf-12oz"
	bad.Name = "Decaf 12oz"
	env.addProduct(good, seller)
	env.addProduct(bad, seller)

	env.chargeable.ChargeFunc = func(ctx context.Context, params payment.ChargeParams) (*payment.ChargeResult, error) {
		if params.Metadata["product_ref"] == bad.Ref {
			return &payment.ChargeResult{
				Status:       payment.ChargeFailed,
				ErrorCode:    "card_declined",
				ErrorMessage: "Your card was declined",
			}, nil
		}
		return &payment.ChargeResult{Status: payment.ChargeSucceeded, ChargeID: "ch_ok"}, nil
	}

	goodItem := makeTestItem(good)
	badItem := domain.LineItem{UID: "item-2", ProductRef: bad.Ref, Quantity: 1}

	result, err := env.svc.Checkout(context.Background(), domain.CheckoutRequest{
		LineItems:  []domain.LineItem{goodItem, badItem},
		BuyerEmail: "buyer@example.com",
		Credential: domain.PaymentCredential{Token: "pm_1"},
	})
	require.NoError(t, err)

	assert.True(t, result.Items["item-1"].Success)
	failed := result.Items["item-2"]
	assert.False(t, failed.Success)
	assert.Equal(t, domain.EDeclined, failed.ErrorCode)
	assert.Equal(t, "Your card was declined", failed.ErrorMessage)

	require.NotNil(t, result.Order)
	assert.Len(t, result.Order.PurchaseIDs, 1)
	assert.False(t, result.AllSucceeded())
}

func TestCheckoutNoOrderWithoutProgress(t *testing.T) {
	// Every item fails before charging: no attempt was persisted, so no
	// order exists and the cart survives for retry.
	env := newTestEnv()

	cart := &domain.Cart{ID: uuid.New(), BrowserGUID: "browser-1"}
	env.store.Carts[cart.ID] = cart

	result, err := env.svc.Checkout(context.Background(), domain.CheckoutRequest{
		LineItems:        []domain.LineItem{{UID: "item-1", ProductRef: "no-such-product", Quantity: 1}},
		BrowserSessionID: "browser-1",
	})
	require.NoError(t, err)

	item := result.Items["item-1"]
	assert.Equal(t, domain.EProductNotFound, item.ErrorCode)
	assert.Nil(t, result.Order)
	assert.Empty(t, env.store.Purchases)
	assert.False(t, cart.Deleted)
}

func TestCheckoutChallenge(t *testing.T) {
	env := newTestEnv()
	seller := makeTestSeller()
	product := makeTestProduct(seller)
	env.addProduct(product, seller)

	env.chargeable.ChargeFunc = func(ctx context.Context, params payment.ChargeParams) (*payment.ChargeResult, error) {
		return &payment.ChargeResult{
			Status:             payment.ChargeRequiresAction,
			ChargeID:           "pi_1",
			ClientSecret:       "pi_1_secret",
			ProcessorAccountID: seller.ProcessorAccountID,
		}, nil
	}

	result, err := env.svc.Checkout(context.Background(), domain.CheckoutRequest{
		LineItems:  []domain.LineItem{makeTestItem(product)},
		Credential: domain.PaymentCredential{Token: "pm_1"},
	})
	require.NoError(t, err)

	// a challenge is a success pending authentication, not a failure
	item := result.Items["item-1"]
	assert.True(t, item.Success)
	assert.True(t, item.RequiresCardAction)
	assert.Empty(t, item.ErrorCode)
	assert.Equal(t, "pi_1_secret", item.ClientSecret)

	// the challenge placeholder is part of the persisted order
	require.NotNil(t, result.Order)
	require.NotNil(t, item.Purchase)
	assert.Equal(t, []uuid.UUID{item.Purchase.ID}, result.Order.PurchaseIDs)
	require.NotNil(t, item.Order)
	assert.Equal(t, result.Order.ID, item.Order.ID)
	assert.Equal(t, seller.ProcessorAccountID, item.Order.ProcessorAccountID)
	assert.False(t, result.AllSucceeded())
}

func TestCheckoutRestartBranches(t *testing.T) {
	t.Run("restart success alone creates no order", func(t *testing.T) {
		env := newTestEnv()
		seller := makeTestSeller()
		product := makeTestProduct(seller)
		env.addProduct(product, seller)

		buyerID := uuid.New()
		sub := makeTestSubscription(buyerID, product)
		env.store.Subscriptions[sub.ID] = sub

		result, err := env.svc.Checkout(context.Background(), domain.CheckoutRequest{
			LineItems:  []domain.LineItem{makeTestItem(product)},
			BuyerID:    &buyerID,
			BuyerEmail: "buyer@example.com",
		})
		require.NoError(t, err)

		item := result.Items["item-1"]
		assert.True(t, item.Success)
		assert.Nil(t, result.Order)
		assert.Equal(t, domain.SubscriptionActive, sub.State)

		// the restart purchase exists but belongs to no order
		require.NotNil(t, item.Purchase)
		assert.Nil(t, item.Purchase.OrderID)

		// the buyer hears the subscription is live again, once
		assert.Equal(t, 1, env.dispatcher.Sent(notify.KindRestartSucceeded))
	})

	t.Run("restart revived without charge still notifies the buyer", func(t *testing.T) {
		env := newTestEnv()
		seller := makeTestSeller()
		product := makeTestProduct(seller)
		env.addProduct(product, seller)

		buyerID := uuid.New()
		sub := makeTestSubscription(buyerID, product)
		paidUntil := testNow.Add(10 * 24 * time.Hour)
		sub.PaidUntil = &paidUntil
		env.store.Subscriptions[sub.ID] = sub

		result, err := env.svc.Checkout(context.Background(), domain.CheckoutRequest{
			LineItems:  []domain.LineItem{makeTestItem(product)},
			BuyerID:    &buyerID,
			BuyerEmail: "buyer@example.com",
		})
		require.NoError(t, err)

		assert.True(t, result.Items["item-1"].Success)
		assert.Empty(t, env.chargeable.ChargeCalls)
		assert.Equal(t, 1, env.dispatcher.Sent(notify.KindRestartSucceeded))
	})

	t.Run("restart-only challenge persists an order for the placeholder", func(t *testing.T) {
		env := newTestEnv()
		seller := makeTestSeller()
		product := makeTestProduct(seller)
		env.addProduct(product, seller)

		buyerID := uuid.New()
		sub := makeTestSubscription(buyerID, product)
		env.store.Subscriptions[sub.ID] = sub

		env.chargeable.ChargeFunc = func(ctx context.Context, params payment.ChargeParams) (*payment.ChargeResult, error) {
			return &payment.ChargeResult{
				Status:             payment.ChargeRequiresAction,
				ChargeID:           "pi_restart",
				ClientSecret:       "pi_restart_secret",
				ProcessorAccountID: seller.ProcessorAccountID,
			}, nil
		}

		result, err := env.svc.Checkout(context.Background(), domain.CheckoutRequest{
			LineItems:  []domain.LineItem{makeTestItem(product)},
			BuyerID:    &buyerID,
			BuyerEmail: "buyer@example.com",
		})
		require.NoError(t, err)

		item := result.Items["item-1"]
		assert.True(t, item.Success)
		assert.True(t, item.RequiresCardAction)
		assert.Equal(t, "pi_restart_secret", item.ClientSecret)

		// the challenged restart earns an order holding only its placeholder
		require.NotNil(t, result.Order)
		require.NotNil(t, item.Purchase)
		assert.Equal(t, []uuid.UUID{item.Purchase.ID}, result.Order.PurchaseIDs)
		require.NotNil(t, item.Order)
		assert.Equal(t, result.Order.ID, item.Order.ID)
		assert.Equal(t, seller.ProcessorAccountID, item.Order.ProcessorAccountID)
		assert.True(t, sub.PendingConfirmation)
	})

	t.Run("restart success is excluded from a sibling order", func(t *testing.T) {
		env := newTestEnv()
		seller := makeTestSeller()
		subscribed := makeTestProduct(seller)
		fresh := makeTestProduct(seller)
		fresh.Ref = "coffee-guatemala-12oz"
		env.addProduct(subscribed, seller)
		env.addProduct(fresh, seller)

		buyerID := uuid.New()
		sub := makeTestSubscription(buyerID, subscribed)
		env.store.Subscriptions[sub.ID] = sub

		result, err := env.svc.Checkout(context.Background(), domain.CheckoutRequest{
			LineItems: []domain.LineItem{
				makeTestItem(subscribed),
				{UID: "item-2", ProductRef: fresh.Ref, Quantity: 1},
			},
			BuyerID:    &buyerID,
			Credential: domain.PaymentCredential{Token: "pm_1"},
		})
		require.NoError(t, err)

		assert.True(t, result.Items["item-1"].Success)
		assert.True(t, result.Items["item-2"].Success)

		require.NotNil(t, result.Order)
		require.Len(t, result.Order.PurchaseIDs, 1)
		assert.Equal(t, result.Items["item-2"].Purchase.ID, result.Order.PurchaseIDs[0])
	})

	t.Run("restart challenge placeholder is included in a sibling order", func(t *testing.T) {
		env := newTestEnv()
		seller := makeTestSeller()
		subscribed := makeTestProduct(seller)
		fresh := makeTestProduct(seller)
		fresh.Ref = "coffee-guatemala-12oz"
		env.addProduct(subscribed, seller)
		env.addProduct(fresh, seller)

		buyerID := uuid.New()
		sub := makeTestSubscription(buyerID, subscribed)
		env.store.Subscriptions[sub.ID] = sub

		env.chargeable.ChargeFunc = func(ctx context.Context, params payment.ChargeParams) (*payment.ChargeResult, error) {
			if params.Metadata["subscription_id"] == sub.ID.String() {
				return &payment.ChargeResult{
					Status:       payment.ChargeRequiresAction,
					ChargeID:     "pi_restart",
					ClientSecret: "pi_restart_secret",
				}, nil
			}
			return &payment.ChargeResult{Status: payment.ChargeSucceeded, ChargeID: "ch_ok"}, nil
		}

		result, err := env.svc.Checkout(context.Background(), domain.CheckoutRequest{
			LineItems: []domain.LineItem{
				makeTestItem(subscribed),
				{UID: "item-2", ProductRef: fresh.Ref, Quantity: 1},
			},
			BuyerID:    &buyerID,
			BuyerEmail: "buyer@example.com",
			Credential: domain.PaymentCredential{Token: "pm_1"},
		})
		require.NoError(t, err)

		restartItem := result.Items["item-1"]
		assert.True(t, restartItem.RequiresCardAction)
		assert.True(t, sub.PendingConfirmation)

		require.NotNil(t, result.Order)
		assert.Len(t, result.Order.PurchaseIDs, 2)
	})

	t.Run("restart failure surfaces charge_failed and notifies once", func(t *testing.T) {
		env := newTestEnv()
		seller := makeTestSeller()
		product := makeTestProduct(seller)
		env.addProduct(product, seller)

		buyerID := uuid.New()
		sub := makeTestSubscription(buyerID, product)
		env.store.Subscriptions[sub.ID] = sub

		env.chargeable.ChargeFunc = func(ctx context.Context, params payment.ChargeParams) (*payment.ChargeResult, error) {
			return &payment.ChargeResult{
				Status:       payment.ChargeFailed,
				ErrorCode:    "insufficient_funds",
				ErrorMessage: "Your card has insufficient funds",
			}, nil
		}

		req := domain.CheckoutRequest{
			LineItems:  []domain.LineItem{makeTestItem(product)},
			BuyerID:    &buyerID,
			BuyerEmail: "buyer@example.com",
		}

		result, err := env.svc.Checkout(context.Background(), req)
		require.NoError(t, err)

		item := result.Items["item-1"]
		assert.Equal(t, domain.EChargeFailed, item.ErrorCode)
		assert.Equal(t, domain.SubscriptionFailed, sub.State)
		assert.Equal(t, 1, env.dispatcher.Sent(notify.KindRestartFailed))

		// a retry inside the suppression window stays silent
		sub.State = domain.SubscriptionCancelledByBuyer
		_, err = env.svc.Checkout(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, 1, env.dispatcher.Sent(notify.KindRestartFailed))
	})
}

func TestCheckoutPanicIsolation(t *testing.T) {
	env := newTestEnv()
	seller := makeTestSeller()
	product := makeTestProduct(seller)
	env.addProduct(product, seller)

	env.catalog.FindProductByRefFunc = func(ctx context.Context, ref string) (*domain.Product, error) {
		if ref == "poison" {
			panic("boom")
		}
		p, ok := env.catalog.ProductsByRef[ref]
		if !ok {
			return nil, domain.NotFound("test", ref)
		}
		return p, nil
	}

	result, err := env.svc.Checkout(context.Background(), domain.CheckoutRequest{
		LineItems: []domain.LineItem{
			{UID: "item-1", ProductRef: "poison", Quantity: 1},
			{UID: "item-2", ProductRef: product.Ref, Quantity: 1},
		},
		Credential: domain.PaymentCredential{Token: "pm_1"},
	})
	require.NoError(t, err)

	poisoned := result.Items["item-1"]
	assert.Equal(t, domain.EUnexpected, poisoned.ErrorCode)
	assert.NotEmpty(t, poisoned.ErrorMessage)

	assert.True(t, result.Items["item-2"].Success)
	require.NotNil(t, result.Order)
}

func TestCheckoutBuyerEmailBackfill(t *testing.T) {
	env := newTestEnv()
	seller := makeTestSeller()
	product := makeTestProduct(seller)
	env.addProduct(product, seller)

	env.chargeable.ChargeFunc = func(ctx context.Context, params payment.ChargeParams) (*payment.ChargeResult, error) {
		return &payment.ChargeResult{Status: payment.ChargeFailed, ErrorCode: "card_declined", ErrorMessage: "declined"}, nil
	}

	// fresh attempts open anonymous; the request email is written onto
	// the persisted attempt after aggregation
	result, err := env.svc.Checkout(context.Background(), domain.CheckoutRequest{
		LineItems:  []domain.LineItem{makeTestItem(product)},
		Credential: domain.PaymentCredential{Token: "pm_1"},
		BuyerEmail: "late@example.com",
	})
	require.NoError(t, err)
	require.NotNil(t, result.Items["item-1"].Purchase)

	stored, err := env.store.GetPurchase(context.Background(), result.Items["item-1"].Purchase.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AttemptFailed, stored.State)
	assert.Equal(t, "late@example.com", stored.BuyerEmail)
}

func TestCheckoutDiscountDiagnostics(t *testing.T) {
	env := newTestEnv()
	seller := makeTestSeller()
	product := makeTestProduct(seller)
	env.addProduct(product, seller)

	pricing := &MockPricing{
		Diagnostic: &domain.DiscountDiagnostic{Code: "SPRING10", Valid: true, PercentOff: 10},
	}
	env.svc.pricing = pricing

	env.chargeable.ChargeFunc = func(ctx context.Context, params payment.ChargeParams) (*payment.ChargeResult, error) {
		return &payment.ChargeResult{Status: payment.ChargeFailed, ErrorCode: "card_declined", ErrorMessage: "declined"}, nil
	}

	item := makeTestItem(product)
	item.DiscountCode = "SPRING10"
	item2 := domain.LineItem{UID: "item-2", ProductRef: product.Ref, Quantity: 1, DiscountCode: "SPRING10"}

	result, err := env.svc.Checkout(context.Background(), domain.CheckoutRequest{
		LineItems:  []domain.LineItem{item, item2},
		Credential: domain.PaymentCredential{Token: "pm_1"},
	})
	require.NoError(t, err)

	// one evaluation serves both failed items carrying the code
	assert.Equal(t, 1, pricing.CallCount)
	require.NotNil(t, result.Items["item-1"].Discount)
	require.NotNil(t, result.Items["item-2"].Discount)
	assert.True(t, result.Items["item-1"].Discount.Valid)
}

func TestCheckoutCartIdempotency(t *testing.T) {
	env := newTestEnv()
	seller := makeTestSeller()
	product := makeTestProduct(seller)
	env.addProduct(product, seller)

	orderID := uuid.New()
	cart := &domain.Cart{ID: uuid.New(), BrowserGUID: "browser-1", Deleted: true, OrderID: &orderID}
	env.store.Carts[cart.ID] = cart

	_, err := env.svc.Checkout(context.Background(), domain.CheckoutRequest{
		LineItems:        []domain.LineItem{makeTestItem(product)},
		Credential:       domain.PaymentCredential{Token: "pm_1"},
		BrowserSessionID: "browser-1",
	})
	require.NoError(t, err)

	// the closed cart is left untouched
	assert.Equal(t, 0, env.store.Calls("UpdateCart"))
	assert.Equal(t, orderID, *cart.OrderID)
}
