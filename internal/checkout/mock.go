package checkout

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/dukerupert/saga/internal/domain"
)

// MockStore implements Store in memory for testing. Override individual
// Func fields to inject failures; unset fields use the in-memory maps.
type MockStore struct {
	mu      sync.Mutex
	CallLog []string

	Purchases     map[uuid.UUID]*domain.PurchaseAttempt
	Orders        map[uuid.UUID]*domain.Order
	Subscriptions map[uuid.UUID]*domain.Subscription
	Carts         map[uuid.UUID]*domain.Cart

	CreatePurchaseFunc         func(ctx context.Context, p *domain.PurchaseAttempt) error
	UpdatePurchaseFunc         func(ctx context.Context, p *domain.PurchaseAttempt) error
	CreateOrderFunc            func(ctx context.Context, o *domain.Order) error
	FindLapsedSubscriptionFunc func(ctx context.Context, buyerID, productID uuid.UUID) (*domain.Subscription, error)
	FindCartFunc               func(ctx context.Context, buyerID *uuid.UUID, browserGUID string) (*domain.Cart, error)
	UpdateCartFunc             func(ctx context.Context, c *domain.Cart) error
	UpdateSubscriptionFunc     func(ctx context.Context, s *domain.Subscription) error
}

func NewMockStore() *MockStore {
	return &MockStore{
		Purchases:     make(map[uuid.UUID]*domain.PurchaseAttempt),
		Orders:        make(map[uuid.UUID]*domain.Order),
		Subscriptions: make(map[uuid.UUID]*domain.Subscription),
		Carts:         make(map[uuid.UUID]*domain.Cart),
	}
}

func (m *MockStore) logCall(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallLog = append(m.CallLog, method)
}

func (m *MockStore) CreatePurchase(ctx context.Context, p *domain.PurchaseAttempt) error {
	m.logCall("CreatePurchase")
	if m.CreatePurchaseFunc != nil {
		return m.CreatePurchaseFunc(ctx, p)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.Purchases[p.ID] = &cp
	return nil
}

func (m *MockStore) UpdatePurchase(ctx context.Context, p *domain.PurchaseAttempt) error {
	m.logCall("UpdatePurchase")
	if m.UpdatePurchaseFunc != nil {
		return m.UpdatePurchaseFunc(ctx, p)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.Purchases[p.ID] = &cp
	return nil
}

func (m *MockStore) GetPurchase(ctx context.Context, id uuid.UUID) (*domain.PurchaseAttempt, error) {
	m.logCall("GetPurchase")
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.Purchases[id]
	if !ok {
		return nil, domain.ErrPurchaseNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MockStore) CreateOrder(ctx context.Context, o *domain.Order) error {
	m.logCall("CreateOrder")
	if m.CreateOrderFunc != nil {
		return m.CreateOrderFunc(ctx, o)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *o
	cp.PurchaseIDs = append([]uuid.UUID(nil), o.PurchaseIDs...)
	m.Orders[o.ID] = &cp
	return nil
}

func (m *MockStore) FindLapsedSubscription(ctx context.Context, buyerID, productID uuid.UUID) (*domain.Subscription, error) {
	m.logCall("FindLapsedSubscription")
	if m.FindLapsedSubscriptionFunc != nil {
		return m.FindLapsedSubscriptionFunc(ctx, buyerID, productID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.Subscriptions {
		if s.BuyerID == buyerID && s.ProductID == productID && s.Lapsed() {
			return s, nil
		}
	}
	return nil, nil
}

func (m *MockStore) GetSubscription(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	m.logCall("GetSubscription")
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.Subscriptions[id]
	if !ok {
		return nil, domain.Errorf(domain.EProductNotFound, "mock.get_subscription", "Subscription not found")
	}
	return s, nil
}

func (m *MockStore) UpdateSubscription(ctx context.Context, s *domain.Subscription) error {
	m.logCall("UpdateSubscription")
	if m.UpdateSubscriptionFunc != nil {
		return m.UpdateSubscriptionFunc(ctx, s)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Subscriptions[s.ID] = s
	return nil
}

func (m *MockStore) FindCart(ctx context.Context, buyerID *uuid.UUID, browserGUID string) (*domain.Cart, error) {
	m.logCall("FindCart")
	if m.FindCartFunc != nil {
		return m.FindCartFunc(ctx, buyerID, browserGUID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.Carts {
		if buyerID != nil && c.BuyerID != nil && *c.BuyerID == *buyerID {
			return c, nil
		}
		if browserGUID != "" && c.BrowserGUID == browserGUID {
			return c, nil
		}
	}
	return nil, nil
}

func (m *MockStore) UpdateCart(ctx context.Context, c *domain.Cart) error {
	m.logCall("UpdateCart")
	if m.UpdateCartFunc != nil {
		return m.UpdateCartFunc(ctx, c)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Carts[c.ID] = c
	return nil
}

// Calls returns how many times method was invoked.
func (m *MockStore) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.CallLog {
		if c == method {
			n++
		}
	}
	return n
}

// MockCatalog implements domain.Catalog over fixed maps.
type MockCatalog struct {
	ProductsByRef map[string]*domain.Product
	Sellers       map[uuid.UUID]*domain.Seller

	FindProductByRefFunc func(ctx context.Context, ref string) (*domain.Product, error)
}

func (m *MockCatalog) FindProductByRef(ctx context.Context, ref string) (*domain.Product, error) {
	if m.FindProductByRefFunc != nil {
		return m.FindProductByRefFunc(ctx, ref)
	}
	p, ok := m.ProductsByRef[ref]
	if !ok {
		return nil, domain.NotFound("mock.find_product", ref)
	}
	return p, nil
}

func (m *MockCatalog) GetSeller(ctx context.Context, id uuid.UUID) (*domain.Seller, error) {
	s, ok := m.Sellers[id]
	if !ok {
		return nil, domain.Errorf(domain.EUnexpected, "mock.get_seller", "Seller not found")
	}
	return s, nil
}

// MockPricing implements domain.PricingEvaluator with a fixed diagnostic.
type MockPricing struct {
	Diagnostic *domain.DiscountDiagnostic
	CallCount  int

	ComputeDiscountFunc func(ctx context.Context, code string, products []domain.Product) (*domain.DiscountDiagnostic, error)
}

func (m *MockPricing) ComputeDiscount(ctx context.Context, code string, products []domain.Product) (*domain.DiscountDiagnostic, error) {
	m.CallCount++
	if m.ComputeDiscountFunc != nil {
		return m.ComputeDiscountFunc(ctx, code, products)
	}
	if m.Diagnostic != nil {
		return m.Diagnostic, nil
	}
	return &domain.DiscountDiagnostic{Code: code}, nil
}

// MockGeo implements domain.GeoLocator with a fixed location.
type MockGeo struct {
	Location domain.Geo
}

func (m *MockGeo) LookupGeo(ctx context.Context, ip string) (domain.Geo, error) {
	return m.Location, nil
}
