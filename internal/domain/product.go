package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Product is the catalog view this engine needs: enough to price, charge
// and validate a line item. Catalog management lives elsewhere.
type Product struct {
	ID       uuid.UUID
	Ref      string
	Name     string
	SellerID uuid.UUID

	PriceCents int64
	Currency   string

	// InventoryRemaining is the number of units still sellable.
	// A negative value means inventory is not tracked.
	InventoryRemaining int32

	Deleted bool
}

// HasInventory reports whether qty units can still be sold.
func (p *Product) HasInventory(qty int32) bool {
	return p.InventoryRemaining < 0 || qty <= p.InventoryRemaining
}

// Seller is a payee: the party credited by a purchase. Each seller's
// account is backed by exactly one payment processor, resolved once at
// the edge of a checkout call.
type Seller struct {
	ID    uuid.UUID
	Email string

	// Processor is the tag of the payment processor backing this seller
	// ("stripe", "paypal", "braintree").
	Processor string

	// ProcessorAccountID is the seller's account identifier at that
	// processor (e.g. a Stripe connected account).
	ProcessorAccountID string
}

// Catalog resolves product references. External collaborator.
type Catalog interface {
	// FindProductByRef returns the product for ref, or an EProductNotFound
	// error when no such product exists.
	FindProductByRef(ctx context.Context, ref string) (*Product, error)

	// GetSeller returns the payee for a product.
	GetSeller(ctx context.Context, id uuid.UUID) (*Seller, error)
}

// DiscountDiagnostic describes whether and how a discount code would
// apply to a product, computed for failed items so the client can explain
// code validity without a second round trip.
type DiscountDiagnostic struct {
	Code           string
	Valid          bool
	ErrorCode      string
	PercentOff     int32
	AmountOffCents int64
}

// PricingEvaluator computes discount validity. External collaborator.
type PricingEvaluator interface {
	ComputeDiscount(ctx context.Context, code string, products []Product) (*DiscountDiagnostic, error)
}

// Geo is a coarse location derived from the request IP.
type Geo struct {
	Country string
	Region  string
}

// GeoLocator resolves request IPs to locations. External collaborator.
type GeoLocator interface {
	LookupGeo(ctx context.Context, ip string) (Geo, error)
}

// Clock abstracts time for services that make period/trial decisions.
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }
