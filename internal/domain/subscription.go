package domain

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionState is the lifecycle state of a recurring billing relationship.
type SubscriptionState string

const (
	SubscriptionActive              SubscriptionState = "active"
	SubscriptionCancelledByBuyer    SubscriptionState = "cancelled_by_buyer"
	SubscriptionCancelledBySeller   SubscriptionState = "cancelled_by_seller"
	SubscriptionCancelledByPlatform SubscriptionState = "cancelled_by_platform"
	SubscriptionFailed              SubscriptionState = "failed"
	SubscriptionEnded               SubscriptionState = "ended"
)

// InstallmentPlan tracks fixed-length payment plans. A plan with all
// installments collected cannot be restarted.
type InstallmentPlan struct {
	TotalInstallments     int32
	CollectedInstallments int32
}

// Complete reports whether every installment has been collected.
func (p *InstallmentPlan) Complete() bool {
	return p != nil && p.CollectedInstallments >= p.TotalInstallments
}

// Subscription is a recurring billing relationship between a buyer and a
// product. Tier and price-plan fields describe what the buyer currently
// receives; payment fields describe how the next charge is collected.
type Subscription struct {
	ID        uuid.UUID
	BuyerID   uuid.UUID
	ProductID uuid.UUID
	SellerID  uuid.UUID

	State         SubscriptionState
	CancelledAt   *time.Time
	DeactivatedAt *time.Time

	// TierIDs is the current variant/tier selection (order-insensitive set).
	TierIDs     []string
	PricePlanID string

	RecurringPriceCents int64
	Currency            string

	// PaymentMethodToken is the durable processor-side credential reference
	// used for off-session renewal charges.
	PaymentMethodToken string

	// PendingConfirmation is set while a restart charge awaits an SCA
	// challenge; cleared by the confirmation handler.
	PendingConfirmation bool

	Installments *InstallmentPlan

	// PaidUntil is the end of the already-paid billing period, if any.
	PaidUntil *time.Time

	// FreeTrialEndsAt is the end of an active free trial, if any.
	FreeTrialEndsAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Restart precondition errors, checked in order. Each is a distinct
// failure reason surfaced to the buyer.
var (
	ErrRestartSellerCancelled = &Error{Code: ENotRestartable, Message: "This subscription was cancelled by the seller and cannot be restarted"}
	ErrRestartProductDeleted  = &Error{Code: ENotRestartable, Message: "The product for this subscription is no longer available"}
	ErrRestartPlanComplete    = &Error{Code: ENotRestartable, Message: "All installments for this subscription have already been collected"}
)

// RestartBlocked returns the first violated restart precondition, or nil
// when the subscription may be restarted. productDeleted is supplied by
// the caller since product lookup lives outside the entity.
func (s *Subscription) RestartBlocked(productDeleted bool) error {
	if s.State == SubscriptionCancelledBySeller {
		return ErrRestartSellerCancelled
	}
	if productDeleted {
		return ErrRestartProductDeleted
	}
	if s.Installments.Complete() {
		return ErrRestartPlanComplete
	}
	return nil
}

// Lapsed reports whether the subscription is in a state that admits a
// restart at all (buyer-cancelled or failure-induced).
func (s *Subscription) Lapsed() bool {
	return s.State == SubscriptionCancelledByBuyer || s.State == SubscriptionFailed
}

// WithinPaidPeriod reports whether the buyer has already paid through now.
func (s *Subscription) WithinPaidPeriod(now time.Time) bool {
	return s.PaidUntil != nil && now.Before(*s.PaidUntil)
}

// InFreeTrial reports whether the subscription is inside an active trial.
func (s *Subscription) InFreeTrial(now time.Time) bool {
	return s.FreeTrialEndsAt != nil && now.Before(*s.FreeTrialEndsAt)
}

// SameTiers compares a tier selection against the subscription's current
// set, ignoring order.
func (s *Subscription) SameTiers(tierIDs []string) bool {
	if len(tierIDs) != len(s.TierIDs) {
		return false
	}
	current := make(map[string]int, len(s.TierIDs))
	for _, id := range s.TierIDs {
		current[id]++
	}
	for _, id := range tierIDs {
		current[id]--
		if current[id] < 0 {
			return false
		}
	}
	return true
}
