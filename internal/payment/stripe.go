package payment

import (
	"context"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/paymentmethod"
	"github.com/stripe/stripe-go/v82/setupintent"

	"github.com/dukerupert/saga/internal/domain"
)

// mandateCountries are card issuing countries whose regulators require an
// explicit recurring-payment mandate before off-session charges.
var mandateCountries = map[string]bool{
	"IN": true,
}

// StripeCard is the card-on-processor Chargeable. It resolves a payment
// method token (or a prior setup intent) against the Stripe API and
// charges through payment intents on the seller's connected account.
type StripeCard struct {
	token              string
	priorSetupIntentID string
	customerID         string
	accountID          string

	pm *stripe.PaymentMethod
}

// NewStripeCard builds a card Chargeable from a client credential. The
// credential is not touched until Prepare.
func NewStripeCard(cred domain.PaymentCredential, sellerAccountID string) *StripeCard {
	return &StripeCard{
		token:              cred.Token,
		priorSetupIntentID: cred.PriorSetupIntentID,
		customerID:         cred.PriorCustomerID,
		accountID:          sellerAccountID,
	}
}

// Prepare resolves the credential into a concrete payment method. When a
// prior setup intent is supplied it wins over the raw token, since it
// carries an already-authenticated method and customer.
func (c *StripeCard) Prepare(ctx context.Context) error {
	const op = "payment.stripe.prepare"

	if c.priorSetupIntentID != "" {
		siParams := &stripe.SetupIntentParams{}
		siParams.Context = ctx
		si, err := setupintent.Get(c.priorSetupIntentID, siParams)
		if err != nil {
			return mapStripeError(op, err)
		}
		if si.PaymentMethod == nil {
			return domain.Errorf(domain.ECredential, op, "We could not verify your payment method")
		}
		c.token = si.PaymentMethod.ID
		if si.Customer != nil {
			c.customerID = si.Customer.ID
		}
	}

	if c.token == "" {
		return domain.Errorf(domain.ECredential, op, "No payment method was provided")
	}

	pmParams := &stripe.PaymentMethodParams{}
	pmParams.Context = ctx
	pm, err := paymentmethod.Get(c.token, pmParams)
	if err != nil {
		return mapStripeError(op, err)
	}
	c.pm = pm

	return nil
}

// Charge creates and confirms a payment intent in one call. Declines come
// back as a failed result; requires_action surfaces the client secret and
// the connected account the challenge must run against.
func (c *StripeCard) Charge(ctx context.Context, params ChargeParams) (*ChargeResult, error) {
	const op = "payment.stripe.charge"

	piParams := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(params.AmountCents),
		Currency:      stripe.String(params.Currency),
		PaymentMethod: stripe.String(c.token),
		Confirm:       stripe.Bool(true),
		OffSession:    stripe.Bool(params.OffSession),
	}
	piParams.Context = ctx
	if c.customerID != "" {
		piParams.Customer = stripe.String(c.customerID)
	}
	if params.Description != "" {
		piParams.Description = stripe.String(params.Description)
	}
	if params.MandateRequested {
		piParams.SetupFutureUsage = stripe.String(string(stripe.PaymentIntentSetupFutureUsageOffSession))
	}
	if params.IdempotencyKey != "" {
		piParams.SetIdempotencyKey(params.IdempotencyKey)
	}
	if c.accountID != "" {
		piParams.SetStripeAccount(c.accountID)
	}
	for k, v := range params.Metadata {
		piParams.AddMetadata(k, v)
	}

	pi, err := paymentintent.New(piParams)
	if err != nil {
		mapped := mapStripeError(op, err)
		if domain.IsCode(mapped, domain.EDeclined) {
			return &ChargeResult{
				Status:       ChargeFailed,
				ErrorCode:    domain.ErrorSubcode(mapped),
				ErrorMessage: domain.ErrorMessage(mapped),
			}, nil
		}
		return nil, mapped
	}

	return stripeIntentResult(pi, c.accountID), nil
}

// ReusableToken attaches the payment method to a customer so it can be
// charged off-session later, creating the customer when none exists.
func (c *StripeCard) ReusableToken(ctx context.Context, owner string) (string, error) {
	const op = "payment.stripe.reusable_token"

	if c.pm == nil {
		return "", domain.Errorf(domain.ECredential, op, "payment method not prepared")
	}

	if c.customerID == "" {
		cusParams := &stripe.CustomerParams{
			Email: stripe.String(owner),
		}
		cusParams.Context = ctx
		if c.accountID != "" {
			cusParams.SetStripeAccount(c.accountID)
		}
		cus, err := customer.New(cusParams)
		if err != nil {
			return "", mapStripeError(op, err)
		}
		c.customerID = cus.ID
	}

	attachParams := &stripe.PaymentMethodAttachParams{
		Customer: stripe.String(c.customerID),
	}
	attachParams.Context = ctx
	if c.accountID != "" {
		attachParams.SetStripeAccount(c.accountID)
	}
	if _, err := paymentmethod.Attach(c.pm.ID, attachParams); err != nil {
		return "", mapStripeError(op, err)
	}

	return c.pm.ID, nil
}

// Visual returns a masked display string like "visa ****4242".
func (c *StripeCard) Visual() string {
	if c.pm == nil || c.pm.Card == nil {
		return "card"
	}
	return fmt.Sprintf("%s ****%s", strings.ToLower(string(c.pm.Card.Brand)), c.pm.Card.Last4)
}

// RequiresMandate reports whether the card's issuing country mandates an
// explicit recurring-payment authorization.
func (c *StripeCard) RequiresMandate() bool {
	if c.pm == nil || c.pm.Card == nil {
		return false
	}
	return mandateCountries[c.pm.Card.Country]
}

func (c *StripeCard) Processor() Processor { return ProcessorStripe }

// CustomerID exposes the resolved customer, if any, for persistence on
// successful mandate establishment.
func (c *StripeCard) CustomerID() string { return c.customerID }

// retrieveStripeIntent looks up an existing payment intent, used by the
// confirmation flow after the buyer completes an SCA challenge.
func retrieveStripeIntent(ctx context.Context, intentID, accountID string) (*ChargeResult, error) {
	const op = "payment.stripe.retrieve"

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	if accountID != "" {
		params.SetStripeAccount(accountID)
	}
	pi, err := paymentintent.Get(intentID, params)
	if err != nil {
		return nil, mapStripeError(op, err)
	}
	return stripeIntentResult(pi, accountID), nil
}

// stripeIntentResult maps an intent's status onto the normalized result.
func stripeIntentResult(pi *stripe.PaymentIntent, accountID string) *ChargeResult {
	res := &ChargeResult{ChargeID: pi.ID}

	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded,
		stripe.PaymentIntentStatusProcessing,
		stripe.PaymentIntentStatusRequiresCapture:
		res.Status = ChargeSucceeded

	case stripe.PaymentIntentStatusRequiresAction,
		stripe.PaymentIntentStatusRequiresConfirmation:
		res.Status = ChargeRequiresAction
		res.ClientSecret = pi.ClientSecret
		res.ProcessorAccountID = accountID

	default:
		res.Status = ChargeFailed
		if pi.LastPaymentError != nil {
			subcode := string(pi.LastPaymentError.DeclineCode)
			if subcode == "" {
				subcode = string(pi.LastPaymentError.Code)
			}
			res.ErrorCode = subcode
			res.ErrorMessage = declineMessage(subcode, pi.LastPaymentError.Msg)
		} else {
			res.ErrorCode = "card_declined"
			res.ErrorMessage = declineMessage("card_declined", "")
		}
	}

	return res
}
