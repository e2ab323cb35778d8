package checkout

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/dukerupert/saga/internal/domain"
	"github.com/dukerupert/saga/internal/payment"
)

// ChargePlan is the immutable per-item charge decision: amount, session
// mode and mandate request are fixed here, before any processor call, and
// never revisited mid-flow.
type ChargePlan struct {
	AmountCents      int64
	Currency         string
	OffSession       bool
	MandateRequested bool
	Description      string
	IdempotencyKey   string
	Metadata         map[string]string
}

// ValidateItem checks a line item against its resolved product. Returns
// a domain error naming the first violated constraint.
func ValidateItem(item domain.LineItem, product *domain.Product) error {
	const op = "checkout.validate_item"

	if item.Quantity < 1 {
		return domain.Invalid(op, "Quantity must be at least 1")
	}
	if product.Deleted {
		return domain.NotFound(op, item.ProductRef)
	}
	if !product.HasInventory(item.Quantity) {
		return domain.Errorf(domain.EInventory, op, "Only %d left in stock", product.InventoryRemaining)
	}
	if item.PerceivedPriceCents > 0 && item.PerceivedPriceCents != product.PriceCents {
		return domain.Invalid(op, "The price of this product has changed. Please review and try again")
	}
	return nil
}

// decideSession applies the off-session decision table. A prior
// authenticated setup always permits off-session charging; otherwise a
// credential that needs a recurring-payment mandate must charge
// on-session while requesting future authorization.
func decideSession(cred domain.PaymentCredential, requiresMandate bool) (offSession, mandateRequested bool) {
	if cred.PriorSetupIntentID != "" {
		return true, false
	}
	if requiresMandate {
		return false, true
	}
	return true, false
}

// PlanCharge fixes the charge decision for one fresh line item.
func PlanCharge(item domain.LineItem, product *domain.Product, cred domain.PaymentCredential, requiresMandate bool, attemptID uuid.UUID) ChargePlan {
	offSession, mandate := decideSession(cred, requiresMandate)

	return ChargePlan{
		AmountCents:      product.PriceCents * int64(item.Quantity),
		Currency:         product.Currency,
		OffSession:       offSession,
		MandateRequested: mandate,
		Description:      product.Name,
		IdempotencyKey:   fmt.Sprintf("purchase_%s", attemptID),
		Metadata: map[string]string{
			"purchase_id": attemptID.String(),
			"product_ref": item.ProductRef,
		},
	}
}

// restartAmount picks the restart charge amount: the buyer-perceived
// price when the item carries one, the recurring price otherwise.
func restartAmount(sub *domain.Subscription, item domain.LineItem) int64 {
	if item.PerceivedPriceCents > 0 {
		return item.PerceivedPriceCents
	}
	return sub.RecurringPriceCents
}

// PlanRestartCharge fixes the charge decision for a subscription restart.
func PlanRestartCharge(sub *domain.Subscription, item domain.LineItem, cred domain.PaymentCredential, requiresMandate bool, attemptID uuid.UUID) ChargePlan {
	offSession, mandate := decideSession(cred, requiresMandate)

	return ChargePlan{
		AmountCents:      restartAmount(sub, item),
		Currency:         sub.Currency,
		OffSession:       offSession,
		MandateRequested: mandate,
		Description:      "Subscription restart",
		IdempotencyKey:   fmt.Sprintf("restart_%s_%s", sub.ID, attemptID),
		Metadata: map[string]string{
			"purchase_id":     attemptID.String(),
			"subscription_id": sub.ID.String(),
		},
	}
}

// chargeParams converts a plan to processor call params.
func (p ChargePlan) chargeParams() payment.ChargeParams {
	return payment.ChargeParams{
		AmountCents:      p.AmountCents,
		Currency:         p.Currency,
		OffSession:       p.OffSession,
		MandateRequested: p.MandateRequested,
		Description:      p.Description,
		IdempotencyKey:   p.IdempotencyKey,
		Metadata:         p.Metadata,
	}
}
