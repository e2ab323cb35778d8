package payment

import (
	"context"

	"github.com/dukerupert/saga/internal/domain"
)

// WalletClient is the narrow slice of a wallet processor's API this
// engine needs. The full client lives with the account-management code.
type WalletClient interface {
	// Authorization resolves a wallet approval token.
	Authorization(ctx context.Context, token string) (*WalletAuthorization, error)

	// Capture collects funds against an approved authorization.
	Capture(ctx context.Context, params WalletCaptureParams) (*WalletCapture, error)

	// BillingAgreement converts an approval into a durable agreement id
	// reusable for off-session charges.
	BillingAgreement(ctx context.Context, token, owner string) (string, error)
}

// WalletAuthorization is a resolved wallet approval.
type WalletAuthorization struct {
	PayerEmail string
	Valid      bool
}

// WalletCaptureParams are the inputs to one wallet capture.
type WalletCaptureParams struct {
	Token       string
	AmountCents int64
	Currency    string
	Description string
	MerchantID  string
}

// WalletCapture is the outcome of a wallet capture.
type WalletCapture struct {
	CaptureID      string
	Completed      bool
	DeclineCode    string
	DeclineMessage string
}

// Wallet is the wallet-backed Chargeable. The buyer authenticated inside
// the wallet's own approval flow, so a wallet charge never raises an SCA
// challenge and never needs a separate mandate.
type Wallet struct {
	client     WalletClient
	token      string
	accountID  string
	payerEmail string
}

func NewWallet(client WalletClient, cred domain.PaymentCredential, sellerAccountID string) *Wallet {
	return &Wallet{
		client:    client,
		token:     cred.Token,
		accountID: sellerAccountID,
	}
}

func (w *Wallet) Prepare(ctx context.Context) error {
	const op = "payment.wallet.prepare"

	if w.token == "" {
		return domain.Errorf(domain.ECredential, op, "No payment method was provided")
	}

	auth, err := w.client.Authorization(ctx, w.token)
	if err != nil {
		return domain.WrapError(err, domain.ECredential, op, "We could not verify your wallet approval")
	}
	if !auth.Valid {
		return domain.Errorf(domain.ECredential, op, "Your wallet approval has expired. Please approve the payment again")
	}
	w.payerEmail = auth.PayerEmail

	return nil
}

func (w *Wallet) Charge(ctx context.Context, params ChargeParams) (*ChargeResult, error) {
	const op = "payment.wallet.charge"

	capture, err := w.client.Capture(ctx, WalletCaptureParams{
		Token:       w.token,
		AmountCents: params.AmountCents,
		Currency:    params.Currency,
		Description: params.Description,
		MerchantID:  w.accountID,
	})
	if err != nil {
		return nil, domain.Unexpected(err, op, "wallet capture failed")
	}

	if !capture.Completed {
		msg := capture.DeclineMessage
		if msg == "" {
			msg = "Your wallet payment was declined"
		}
		return &ChargeResult{
			Status:       ChargeFailed,
			ChargeID:     capture.CaptureID,
			ErrorCode:    capture.DeclineCode,
			ErrorMessage: msg,
		}, nil
	}

	return &ChargeResult{
		Status:   ChargeSucceeded,
		ChargeID: capture.CaptureID,
	}, nil
}

func (w *Wallet) ReusableToken(ctx context.Context, owner string) (string, error) {
	const op = "payment.wallet.reusable_token"

	agreementID, err := w.client.BillingAgreement(ctx, w.token, owner)
	if err != nil {
		return "", domain.WrapError(err, domain.ECredential, op, "We could not save your wallet for future payments")
	}
	return agreementID, nil
}

func (w *Wallet) Visual() string {
	if w.payerEmail != "" {
		return "paypal " + w.payerEmail
	}
	return "paypal"
}

// RequiresMandate is always false: wallet approvals carry their own
// recurring authorization.
func (w *Wallet) RequiresMandate() bool { return false }

func (w *Wallet) Processor() Processor { return ProcessorPayPal }
