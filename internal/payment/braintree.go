package payment

import (
	"context"
	"fmt"
	"strings"

	"github.com/dukerupert/saga/internal/domain"
)

// VaultClient is the narrow slice of the secondary card processor's API
// this engine needs.
type VaultClient interface {
	// FindPaymentMethod resolves a vaulted or one-time nonce into card detail.
	FindPaymentMethod(ctx context.Context, token string) (*VaultPaymentMethod, error)

	// Sale issues one transaction.
	Sale(ctx context.Context, params VaultSaleParams) (*VaultSale, error)

	// Transaction looks up an existing sale by id.
	Transaction(ctx context.Context, id string) (*VaultSale, error)

	// VaultToken stores the payment method for off-session reuse.
	VaultToken(ctx context.Context, token, owner string) (string, error)
}

// VaultPaymentMethod is a resolved card at the secondary processor.
type VaultPaymentMethod struct {
	CardType          string
	Last4             string
	CountryOfIssuance string
}

// VaultSaleParams are the inputs to one sale.
type VaultSaleParams struct {
	Token             string
	AmountCents       int64
	Currency          string
	OffSession        bool
	Description       string
	MerchantAccountID string
}

// Vault sale statuses.
const (
	VaultSaleAuthorized  = "authorized"
	VaultSaleRequires3DS = "requires_authentication"
	VaultSaleDeclined    = "declined"
)

// VaultSale is the outcome of one sale.
type VaultSale struct {
	TransactionID string
	Status        string

	// ChallengeToken drives the 3-D Secure flow when Status is
	// requires_authentication.
	ChallengeToken string

	ResponseCode    string
	ResponseMessage string
}

// VaultCard is the Chargeable over the secondary card processor. Its 3-D
// Secure challenges flow through the same requires_action contract as the
// primary processor's SCA challenges.
type VaultCard struct {
	client    VaultClient
	token     string
	accountID string

	pm *VaultPaymentMethod
}

func NewVaultCard(client VaultClient, cred domain.PaymentCredential, sellerAccountID string) *VaultCard {
	return &VaultCard{
		client:    client,
		token:     cred.Token,
		accountID: sellerAccountID,
	}
}

func (v *VaultCard) Prepare(ctx context.Context) error {
	const op = "payment.vault.prepare"

	if v.token == "" {
		return domain.Errorf(domain.ECredential, op, "No payment method was provided")
	}

	pm, err := v.client.FindPaymentMethod(ctx, v.token)
	if err != nil {
		return domain.WrapError(err, domain.ECredential, op, "We could not verify your payment method")
	}
	v.pm = pm

	return nil
}

func (v *VaultCard) Charge(ctx context.Context, params ChargeParams) (*ChargeResult, error) {
	const op = "payment.vault.charge"

	sale, err := v.client.Sale(ctx, VaultSaleParams{
		Token:             v.token,
		AmountCents:       params.AmountCents,
		Currency:          params.Currency,
		OffSession:        params.OffSession,
		Description:       params.Description,
		MerchantAccountID: v.accountID,
	})
	if err != nil {
		return nil, domain.Unexpected(err, op, "vault sale failed")
	}

	return vaultSaleResult(sale, v.accountID), nil
}

func (v *VaultCard) ReusableToken(ctx context.Context, owner string) (string, error) {
	const op = "payment.vault.reusable_token"

	stored, err := v.client.VaultToken(ctx, v.token, owner)
	if err != nil {
		return "", domain.WrapError(err, domain.ECredential, op, "We could not save your card for future payments")
	}
	return stored, nil
}

func (v *VaultCard) Visual() string {
	if v.pm == nil {
		return "card"
	}
	return fmt.Sprintf("%s ****%s", strings.ToLower(v.pm.CardType), v.pm.Last4)
}

func (v *VaultCard) RequiresMandate() bool {
	return v.pm != nil && mandateCountries[v.pm.CountryOfIssuance]
}

func (v *VaultCard) Processor() Processor { return ProcessorBraintree }

// vaultSaleResult maps a sale's status onto the normalized result.
func vaultSaleResult(sale *VaultSale, accountID string) *ChargeResult {
	res := &ChargeResult{ChargeID: sale.TransactionID}

	switch sale.Status {
	case VaultSaleAuthorized:
		res.Status = ChargeSucceeded
	case VaultSaleRequires3DS:
		res.Status = ChargeRequiresAction
		res.ClientSecret = sale.ChallengeToken
		res.ProcessorAccountID = accountID
	default:
		res.Status = ChargeFailed
		res.ErrorCode = sale.ResponseCode
		res.ErrorMessage = declineMessage(sale.ResponseCode, sale.ResponseMessage)
	}

	return res
}
