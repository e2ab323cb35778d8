package payment

import (
	"context"
)

// Processor identifies which payment processor backs a seller's account.
// The set is closed: dispatch happens once at the edge of a checkout
// call and is never re-checked mid-flow.
type Processor string

const (
	ProcessorStripe    Processor = "stripe"
	ProcessorPayPal    Processor = "paypal"
	ProcessorBraintree Processor = "braintree"
)

// ChargeStatus is the outcome of a charge call.
type ChargeStatus string

const (
	// ChargeSucceeded means the processor captured the charge.
	ChargeSucceeded ChargeStatus = "succeeded"

	// ChargeRequiresAction means the charge is pending an out-of-band
	// authentication step the buyer must complete.
	ChargeRequiresAction ChargeStatus = "requires_action"

	// ChargeFailed means the processor declined or errored terminally.
	ChargeFailed ChargeStatus = "failed"
)

// ChargeParams are the normalized inputs to one charge call.
type ChargeParams struct {
	// AmountCents is the amount in the smallest currency unit.
	AmountCents int64

	// Currency code (ISO 4217 lowercase), e.g. "usd".
	Currency string

	// OffSession indicates the buyer is not actively present in the
	// authentication flow for this charge.
	OffSession bool

	// MandateRequested asks the processor to establish future-charge
	// authorization (a recurring-payment mandate) as part of this charge.
	MandateRequested bool

	// Description appears on the buyer's statement and processor dashboard.
	Description string

	// IdempotencyKey prevents duplicate charges on client retries.
	IdempotencyKey string

	// Metadata for reconciliation and reporting.
	Metadata map[string]string
}

// ChargeResult is the normalized outcome of a charge call. Exactly one
// of the three statuses applies; ClientSecret and ProcessorAccountID are
// populated only for ChargeRequiresAction, error fields only for
// ChargeFailed.
type ChargeResult struct {
	Status ChargeStatus

	// ChargeID is the processor-side intent/transaction identifier.
	ChargeID string

	// ClientSecret is the opaque token the client uses to drive the
	// authentication challenge.
	ClientSecret string

	// ProcessorAccountID identifies the seller's processor account the
	// challenge must be completed against.
	ProcessorAccountID string

	// ErrorCode is the processor-specific decline subcode.
	ErrorCode string

	// ErrorMessage is a buyer-safe description of the failure.
	ErrorMessage string
}

// Chargeable normalizes a payment credential from any processor into a
// uniform contract, so the purchase attempt machine stays
// processor-agnostic. A Chargeable is request-scoped and never persisted.
type Chargeable interface {
	// Prepare performs any processor-side lookup or validation needed
	// before charging. Fails with a credential_invalid domain error when
	// the token cannot be resolved.
	Prepare(ctx context.Context) error

	// Charge issues one charge and returns a terminal result or a
	// requires-action result. A non-nil error is reserved for transport
	// and credential failures; processor declines come back as a
	// ChargeFailed result.
	Charge(ctx context.Context, params ChargeParams) (*ChargeResult, error)

	// ReusableToken returns a durable processor-side reference that can
	// be reused for future off-session charges, creating one for owner
	// if it does not already exist.
	ReusableToken(ctx context.Context, owner string) (string, error)

	// Visual returns a non-sensitive display string, e.g. a masked card.
	Visual() string

	// RequiresMandate reports whether this credential needs an explicit
	// recurring-payment mandate before off-session charges are allowed.
	RequiresMandate() bool

	// Processor identifies the backing processor.
	Processor() Processor
}
