package checkout

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dukerupert/saga/internal/domain"
	"github.com/dukerupert/saga/internal/notify"
	"github.com/dukerupert/saga/internal/payment"
)

// fixedClock returns the same instant on every call.
type fixedClock struct {
	t time.Time
}

func (c fixedClock) Now() time.Time { return c.t }

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func makeTestSeller() *domain.Seller {
	return &domain.Seller{
		ID:                 uuid.New(),
		Email:              "seller@example.com",
		Processor:          "stripe",
		ProcessorAccountID: "acct_test123",
	}
}

func makeTestProduct(seller *domain.Seller) *domain.Product {
	return &domain.Product{
		ID:                 uuid.New(),
		Ref:                "coffee-ethiopia-12oz",
		Name:               "Ethiopia Yirgacheffe 12oz",
		SellerID:           seller.ID,
		PriceCents:         1850,
		Currency:           "usd",
		InventoryRemaining: 10,
	}
}

func makeTestSubscription(buyerID uuid.UUID, product *domain.Product) *domain.Subscription {
	cancelled := testNow.Add(-30 * 24 * time.Hour)
	return &domain.Subscription{
		ID:                  uuid.New(),
		BuyerID:             buyerID,
		ProductID:           product.ID,
		SellerID:            product.SellerID,
		State:               domain.SubscriptionCancelledByBuyer,
		CancelledAt:         &cancelled,
		TierIDs:             []string{"tier-standard"},
		PricePlanID:         "plan-monthly",
		RecurringPriceCents: 1850,
		Currency:            "usd",
		PaymentMethodToken:  "pm_saved",
		CreatedAt:           testNow.Add(-90 * 24 * time.Hour),
		UpdatedAt:           testNow.Add(-30 * 24 * time.Hour),
	}
}

func makeTestItem(product *domain.Product) domain.LineItem {
	return domain.LineItem{
		UID:        "item-1",
		ProductRef: product.Ref,
		Quantity:   1,
	}
}

// testEnv bundles the service with its injected collaborators.
type testEnv struct {
	svc        *Service
	store      *MockStore
	catalog    *MockCatalog
	chargeable *payment.MockChargeable
	resolver   *payment.MockResolver
	dispatcher *notify.MockDispatcher
	clock      fixedClock
}

func newTestEnv() *testEnv {
	store := NewMockStore()
	clock := fixedClock{t: testNow}
	logger := zerolog.Nop()

	chargeable := &payment.MockChargeable{}
	resolver := &payment.MockResolver{Default: chargeable}
	dispatcher := &notify.MockDispatcher{}
	catalog := &MockCatalog{
		ProductsByRef: make(map[string]*domain.Product),
		Sellers:       make(map[uuid.UUID]*domain.Seller),
	}

	attempts := NewAttemptService(store, clock, logger, nil)
	restarts := NewRestartEngine(store, attempts, clock, logger, nil)

	svc := NewService(ServiceParams{
		Store:    store,
		Catalog:  catalog,
		Resolver: resolver,
		Attempts: attempts,
		Restarts: restarts,
		Notifier: dispatcher,
		Clock:    clock,
		Logger:   logger,
	})

	return &testEnv{
		svc:        svc,
		store:      store,
		catalog:    catalog,
		chargeable: chargeable,
		resolver:   resolver,
		dispatcher: dispatcher,
		clock:      clock,
	}
}

// addProduct registers a product and its seller with the catalog.
func (e *testEnv) addProduct(product *domain.Product, seller *domain.Seller) {
	e.catalog.ProductsByRef[product.Ref] = product
	e.catalog.Sellers[seller.ID] = seller
}

func (e *testEnv) newConfirm() *ConfirmService {
	return NewConfirmService(e.store, e.resolver, e.dispatcher, e.clock, zerolog.Nop(), nil)
}
