package domain

import (
	"time"

	"github.com/google/uuid"
)

// Order-related domain errors.
var (
	ErrPurchaseNotFound = &Error{Code: EProductNotFound, Message: "Purchase not found"}
	ErrNotConfirmable   = &Error{Code: EConflict, Message: "Purchase is not awaiting confirmation"}
)

// AttemptState is the lifecycle state of a purchase attempt.
type AttemptState string

const (
	AttemptCreated           AttemptState = "created"
	AttemptInProgress        AttemptState = "in_progress"
	AttemptSuccessful        AttemptState = "successful"
	AttemptFailed            AttemptState = "failed"
	AttemptRequiresChallenge AttemptState = "requires_challenge"
)

// attemptTransitions is the closed set of legal state transitions.
var attemptTransitions = map[AttemptState][]AttemptState{
	AttemptCreated:           {AttemptInProgress},
	AttemptInProgress:        {AttemptSuccessful, AttemptFailed, AttemptRequiresChallenge},
	AttemptRequiresChallenge: {AttemptSuccessful, AttemptFailed},
}

// CanTransition reports whether from -> to is a legal attempt transition.
func CanTransition(from, to AttemptState) bool {
	for _, s := range attemptTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the state admits no further transitions.
func (s AttemptState) Terminal() bool {
	return s == AttemptSuccessful || s == AttemptFailed
}

// PurchaseAttempt is the unit of charge: one line item's journey through
// the state machine. Failed attempts are never mutated back to life; a
// retry is always a fresh attempt.
type PurchaseAttempt struct {
	ID        uuid.UUID
	ProductID uuid.UUID
	SellerID  uuid.UUID

	AmountCents int64
	Currency    string
	Quantity    int32
	Processor   string

	State        AttemptState
	ErrorCode    string
	ErrorMessage string

	// ChargeID is the processor-side intent/charge identifier, set once a
	// charge has been issued. Required for SCA confirmation.
	ChargeID string

	// ClientSecret and ProcessorAccountID are populated only while the
	// attempt is in requires_challenge so the client can drive the
	// out-of-band authentication.
	ClientSecret       string
	ProcessorAccountID string

	// OrderID is nil until the attempt is appended to an order.
	OrderID *uuid.UUID

	// SubscriptionID links restart-originated attempts to their subscription.
	SubscriptionID *uuid.UUID

	BuyerEmail string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Transition moves the attempt to the target state, enforcing the machine.
func (p *PurchaseAttempt) Transition(to AttemptState) error {
	if !CanTransition(p.State, to) {
		return Errorf(EConflict, "attempt.transition", "illegal transition %s -> %s", p.State, to)
	}
	p.State = to
	return nil
}

// Fail transitions the attempt to failed with a stable code and message.
func (p *PurchaseAttempt) Fail(code, message string) error {
	if err := p.Transition(AttemptFailed); err != nil {
		return err
	}
	p.ErrorCode = code
	p.ErrorMessage = message
	p.ClientSecret = ""
	return nil
}

// Order aggregates the purchases created by one checkout call. It is
// never persisted unless at least one purchase attempt reached
// in-progress-or-better, and is immutable afterward except for appending
// an SCA-upgrade purchase.
type Order struct {
	ID        uuid.UUID
	BuyerID   *uuid.UUID // nil for guest checkout
	CreatedAt time.Time

	// PurchaseIDs are the attempts that belong to this order.
	PurchaseIDs []uuid.UUID
}
