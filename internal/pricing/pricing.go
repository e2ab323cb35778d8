package pricing

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/saga/internal/domain"
)

// Discount is a stored discount code definition.
type Discount struct {
	Code           string
	PercentOff     int32
	AmountOffCents int64

	// SellerID scopes the code to one seller's products; nil means
	// platform-wide.
	SellerID *uuid.UUID

	ExpiresAt *time.Time
	Disabled  bool
}

// DiscountSource resolves discount codes. Implemented by the postgres
// store.
type DiscountSource interface {
	// GetDiscountByCode returns the discount, or nil when the code does
	// not exist.
	GetDiscountByCode(ctx context.Context, code string) (*Discount, error)
}

// Diagnostic error codes for invalid discount applications.
const (
	ReasonUnknownCode   = "unknown_code"
	ReasonExpired       = "expired"
	ReasonDisabled      = "disabled"
	ReasonWrongProducts = "not_applicable"
)

// Evaluator implements domain.PricingEvaluator against a DiscountSource.
type Evaluator struct {
	source DiscountSource
	clock  domain.Clock
}

func NewEvaluator(source DiscountSource, clock domain.Clock) *Evaluator {
	return &Evaluator{source: source, clock: clock}
}

// ComputeDiscount reports whether and how a code would apply to the
// given products. Diagnostic only: it never mutates prices.
func (e *Evaluator) ComputeDiscount(ctx context.Context, code string, products []domain.Product) (*domain.DiscountDiagnostic, error) {
	diag := &domain.DiscountDiagnostic{Code: code}

	d, err := e.source.GetDiscountByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if d == nil {
		diag.ErrorCode = ReasonUnknownCode
		return diag, nil
	}
	if d.Disabled {
		diag.ErrorCode = ReasonDisabled
		return diag, nil
	}
	if d.ExpiresAt != nil && e.clock.Now().After(*d.ExpiresAt) {
		diag.ErrorCode = ReasonExpired
		return diag, nil
	}
	if d.SellerID != nil && !anyFromSeller(products, *d.SellerID) {
		diag.ErrorCode = ReasonWrongProducts
		return diag, nil
	}

	diag.Valid = true
	diag.PercentOff = d.PercentOff
	diag.AmountOffCents = d.AmountOffCents
	return diag, nil
}

func anyFromSeller(products []domain.Product, sellerID uuid.UUID) bool {
	for _, p := range products {
		if p.SellerID == sellerID {
			return true
		}
	}
	return false
}
