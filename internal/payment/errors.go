package payment

import (
	"errors"

	"github.com/stripe/stripe-go/v82"

	"github.com/dukerupert/saga/internal/domain"
)

// declineMessages maps common processor decline subcodes to buyer-safe
// messages. Unknown subcodes fall back to the processor's own message.
var declineMessages = map[string]string{
	"insufficient_funds":      "Your card has insufficient funds",
	"card_declined":           "Your card was declined",
	"expired_card":            "Your card has expired",
	"incorrect_cvc":           "Your card's security code is incorrect",
	"processing_error":        "An error occurred while processing your card. Please try again",
	"authentication_required": "This charge requires additional authentication",
}

// declineMessage returns the buyer-safe message for a decline subcode.
func declineMessage(subcode, fallback string) string {
	if msg, ok := declineMessages[subcode]; ok {
		return msg
	}
	if fallback != "" {
		return fallback
	}
	return "Your payment was declined"
}

// mapStripeError converts a stripe API error into a domain error.
// Card errors become processor_declined with the decline subcode;
// everything else is unexpected and reported, never shown verbatim.
func mapStripeError(op string, err error) error {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return domain.Unexpected(err, op, "payment processor request failed")
	}

	switch stripeErr.Type {
	case stripe.ErrorTypeCard:
		subcode := string(stripeErr.DeclineCode)
		if subcode == "" {
			subcode = string(stripeErr.Code)
		}
		return domain.Declined(op, subcode, declineMessage(subcode, stripeErr.Msg))
	case stripe.ErrorTypeInvalidRequest:
		return domain.WrapError(err, domain.ECredential, op, "We could not verify your payment method")
	default:
		return domain.Unexpected(err, op, "payment processor request failed")
	}
}
