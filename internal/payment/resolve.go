package payment

import (
	"context"

	"github.com/dukerupert/saga/internal/domain"
)

// CredentialResolver turns a seller plus a client credential into a
// Chargeable, and retrieves prior charges for the confirmation flow.
type CredentialResolver interface {
	ChargeableFor(seller *domain.Seller, cred domain.PaymentCredential) (Chargeable, error)
	RetrieveCharge(ctx context.Context, processor, chargeID, accountID string) (*ChargeResult, error)
}

// Resolver is the production CredentialResolver. Dispatch happens once
// per line item on the seller's processor tag; the set of processors is
// closed.
type Resolver struct {
	wallet WalletClient
	vault  VaultClient
}

func NewResolver(wallet WalletClient, vault VaultClient) *Resolver {
	return &Resolver{
		wallet: wallet,
		vault:  vault,
	}
}

// ChargeableFor builds the Chargeable for one seller. The credential is
// shared across the request; the Chargeable is scoped to the seller's
// processor account.
func (r *Resolver) ChargeableFor(seller *domain.Seller, cred domain.PaymentCredential) (Chargeable, error) {
	const op = "payment.resolve"

	switch Processor(seller.Processor) {
	case ProcessorStripe:
		return NewStripeCard(cred, seller.ProcessorAccountID), nil
	case ProcessorPayPal:
		return NewWallet(r.wallet, cred, seller.ProcessorAccountID), nil
	case ProcessorBraintree:
		return NewVaultCard(r.vault, cred, seller.ProcessorAccountID), nil
	default:
		return nil, domain.Errorf(domain.EUnexpected, op, "unknown processor %q for seller %s", seller.Processor, seller.ID)
	}
}

// RetrieveCharge fetches the current state of a previously issued charge.
// Used after the buyer completes an out-of-band challenge; wallet charges
// never raise one, so a wallet lookup here is a state conflict.
func (r *Resolver) RetrieveCharge(ctx context.Context, processor, chargeID, accountID string) (*ChargeResult, error) {
	const op = "payment.retrieve"

	switch Processor(processor) {
	case ProcessorStripe:
		return retrieveStripeIntent(ctx, chargeID, accountID)
	case ProcessorBraintree:
		sale, err := r.vault.Transaction(ctx, chargeID)
		if err != nil {
			return nil, domain.Unexpected(err, op, "vault transaction lookup failed")
		}
		return vaultSaleResult(sale, accountID), nil
	default:
		return nil, domain.Errorf(domain.EConflict, op, "charges on %q do not require confirmation", processor)
	}
}
