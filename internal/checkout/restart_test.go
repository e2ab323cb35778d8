package checkout

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/saga/internal/domain"
	"github.com/dukerupert/saga/internal/payment"
)

type restartFixture struct {
	engine  *RestartEngine
	store   *MockStore
	seller  *domain.Seller
	product *domain.Product
	sub     *domain.Subscription
}

func makeRestartFixture() *restartFixture {
	store := NewMockStore()
	clock := fixedClock{t: testNow}
	attempts := NewAttemptService(store, clock, zerolog.Nop(), nil)
	engine := NewRestartEngine(store, attempts, clock, zerolog.Nop(), nil)

	seller := makeTestSeller()
	product := makeTestProduct(seller)
	sub := makeTestSubscription(uuid.New(), product)
	store.Subscriptions[sub.ID] = sub

	return &restartFixture{
		engine:  engine,
		store:   store,
		seller:  seller,
		product: product,
		sub:     sub,
	}
}

func (f *restartFixture) params(chargeable payment.Chargeable) RestartParams {
	return RestartParams{
		Subscription: f.sub,
		Product:      f.product,
		Seller:       f.seller,
		Chargeable:   chargeable,
		Item:         makeTestItem(f.product),
		BuyerEmail:   "buyer@example.com",
	}
}

func TestRestartPreconditions(t *testing.T) {
	t.Run("seller-cancelled subscription is blocked", func(t *testing.T) {
		f := makeRestartFixture()
		f.sub.State = domain.SubscriptionCancelledBySeller

		_, err := f.engine.Restart(context.Background(), f.params(&payment.MockChargeable{}))
		require.ErrorIs(t, err, domain.ErrRestartSellerCancelled)
		assert.Equal(t, domain.SubscriptionCancelledBySeller, f.sub.State)
	})

	t.Run("deleted product is blocked", func(t *testing.T) {
		f := makeRestartFixture()
		f.product.Deleted = true

		_, err := f.engine.Restart(context.Background(), f.params(&payment.MockChargeable{}))
		require.ErrorIs(t, err, domain.ErrRestartProductDeleted)
	})

	t.Run("completed installment plan is blocked", func(t *testing.T) {
		f := makeRestartFixture()
		f.sub.Installments = &domain.InstallmentPlan{TotalInstallments: 6, CollectedInstallments: 6}

		_, err := f.engine.Restart(context.Background(), f.params(&payment.MockChargeable{}))
		require.ErrorIs(t, err, domain.ErrRestartPlanComplete)
	})

	t.Run("seller cancellation is checked before product deletion", func(t *testing.T) {
		f := makeRestartFixture()
		f.sub.State = domain.SubscriptionCancelledBySeller
		f.product.Deleted = true

		_, err := f.engine.Restart(context.Background(), f.params(&payment.MockChargeable{}))
		require.ErrorIs(t, err, domain.ErrRestartSellerCancelled)
	})
}

func TestRestartSuccess(t *testing.T) {
	t.Run("charge succeeds and subscription is revived", func(t *testing.T) {
		f := makeRestartFixture()

		outcome, err := f.engine.Restart(context.Background(), f.params(&payment.MockChargeable{}))
		require.NoError(t, err)

		assert.Equal(t, domain.SubscriptionActive, f.sub.State)
		assert.Nil(t, f.sub.CancelledAt)
		assert.True(t, outcome.Charged)
		require.NotNil(t, outcome.Purchase)
		assert.Equal(t, domain.AttemptSuccessful, outcome.Purchase.State)
		assert.Equal(t, f.sub.RecurringPriceCents, outcome.Purchase.AmountCents)
		assert.Equal(t, &f.sub.ID, outcome.Purchase.SubscriptionID)
	})

	t.Run("buyer-perceived price overrides the recurring amount", func(t *testing.T) {
		f := makeRestartFixture()
		f.sub.RecurringPriceCents = 1500
		chargeable := &payment.MockChargeable{}
		params := f.params(chargeable)
		params.Item.PerceivedPriceCents = 1850

		outcome, err := f.engine.Restart(context.Background(), params)
		require.NoError(t, err)

		require.Len(t, chargeable.ChargeCalls, 1)
		assert.Equal(t, int64(1850), chargeable.ChargeCalls[0].AmountCents)
		assert.Equal(t, int64(1850), outcome.Purchase.AmountCents)
	})

	t.Run("paid period still running skips the charge", func(t *testing.T) {
		f := makeRestartFixture()
		paidUntil := testNow.Add(10 * 24 * time.Hour)
		f.sub.PaidUntil = &paidUntil

		chargeable := &payment.MockChargeable{}
		outcome, err := f.engine.Restart(context.Background(), f.params(chargeable))
		require.NoError(t, err)

		assert.Equal(t, domain.SubscriptionActive, f.sub.State)
		assert.False(t, outcome.Charged)
		assert.Nil(t, outcome.Purchase)
		assert.Empty(t, chargeable.ChargeCalls)
	})

	t.Run("free trial still running skips the charge", func(t *testing.T) {
		f := makeRestartFixture()
		trialEnd := testNow.Add(3 * 24 * time.Hour)
		f.sub.FreeTrialEndsAt = &trialEnd

		chargeable := &payment.MockChargeable{}
		outcome, err := f.engine.Restart(context.Background(), f.params(chargeable))
		require.NoError(t, err)
		assert.False(t, outcome.Charged)
		assert.Empty(t, chargeable.ChargeCalls)
	})

	t.Run("new credential replaces the stored payment method", func(t *testing.T) {
		f := makeRestartFixture()
		chargeable := &payment.MockChargeable{
			ReusableTokenFunc: func(ctx context.Context, owner string) (string, error) {
				return "pm_fresh", nil
			},
		}
		params := f.params(chargeable)
		params.Credential = domain.PaymentCredential{Token: "tok_new"}

		_, err := f.engine.Restart(context.Background(), params)
		require.NoError(t, err)
		assert.Equal(t, "pm_fresh", f.sub.PaymentMethodToken)
	})

	t.Run("tier change requested with the restart is applied", func(t *testing.T) {
		f := makeRestartFixture()
		params := f.params(&payment.MockChargeable{})
		params.Item.VariantIDs = []string{"tier-premium"}

		_, err := f.engine.Restart(context.Background(), params)
		require.NoError(t, err)
		assert.Equal(t, []string{"tier-premium"}, f.sub.TierIDs)
	})
}

func TestRestartRollback(t *testing.T) {
	t.Run("declined charge unwinds mutations and fails the subscription", func(t *testing.T) {
		f := makeRestartFixture()
		chargeable := &payment.MockChargeable{
			ChargeFunc: func(ctx context.Context, params payment.ChargeParams) (*payment.ChargeResult, error) {
				return &payment.ChargeResult{
					Status:       payment.ChargeFailed,
					ErrorCode:    "insufficient_funds",
					ErrorMessage: "Your card has insufficient funds",
				}, nil
			},
			ReusableTokenFunc: func(ctx context.Context, owner string) (string, error) {
				return "pm_fresh", nil
			},
		}
		params := f.params(chargeable)
		params.Credential = domain.PaymentCredential{Token: "tok_new"}
		params.Item.VariantIDs = []string{"tier-premium"}

		_, err := f.engine.Restart(context.Background(), params)
		require.Error(t, err)
		assert.Equal(t, domain.EChargeFailed, domain.ErrorCode(err))
		assert.Equal(t, "insufficient_funds", domain.ErrorSubcode(err))

		// every mutation compensated, then the terminal failed state
		assert.Equal(t, domain.SubscriptionFailed, f.sub.State)
		assert.Equal(t, "pm_saved", f.sub.PaymentMethodToken)
		assert.Equal(t, []string{"tier-standard"}, f.sub.TierIDs)
		assert.NotNil(t, f.sub.DeactivatedAt)
	})

	t.Run("failed attempt survives the rollback", func(t *testing.T) {
		f := makeRestartFixture()
		chargeable := &payment.MockChargeable{
			ChargeFunc: func(ctx context.Context, params payment.ChargeParams) (*payment.ChargeResult, error) {
				return &payment.ChargeResult{Status: payment.ChargeFailed, ErrorCode: "card_declined", ErrorMessage: "declined"}, nil
			},
		}

		_, err := f.engine.Restart(context.Background(), f.params(chargeable))
		require.Error(t, err)

		failed := 0
		for _, p := range f.store.Purchases {
			if p.State == domain.AttemptFailed && p.SubscriptionID != nil {
				failed++
			}
		}
		assert.Equal(t, 1, failed)
	})

	t.Run("credential failure before the charge also rolls back", func(t *testing.T) {
		f := makeRestartFixture()
		chargeable := &payment.MockChargeable{
			PrepareFunc: func(ctx context.Context) error {
				return domain.Errorf(domain.ECredential, "test", "bad token")
			},
		}
		params := f.params(chargeable)
		params.Credential = domain.PaymentCredential{Token: "tok_bad"}

		_, err := f.engine.Restart(context.Background(), params)
		require.Error(t, err)
		assert.Equal(t, domain.ECredential, domain.ErrorCode(err))
		assert.Equal(t, domain.SubscriptionFailed, f.sub.State)
	})
}

func TestRestartChallenge(t *testing.T) {
	f := makeRestartFixture()
	chargeable := &payment.MockChargeable{
		ChargeFunc: func(ctx context.Context, params payment.ChargeParams) (*payment.ChargeResult, error) {
			return &payment.ChargeResult{
				Status:             payment.ChargeRequiresAction,
				ChargeID:           "pi_restart",
				ClientSecret:       "pi_restart_secret",
				ProcessorAccountID: "acct_test123",
			}, nil
		},
	}

	outcome, err := f.engine.Restart(context.Background(), f.params(chargeable))
	require.NoError(t, err)

	assert.True(t, outcome.RequiresCardAction)
	assert.Equal(t, "pi_restart_secret", outcome.ClientSecret)
	assert.True(t, f.sub.PendingConfirmation)
	assert.Equal(t, domain.SubscriptionActive, f.sub.State)
	require.NotNil(t, outcome.Purchase)
	assert.Equal(t, domain.AttemptRequiresChallenge, outcome.Purchase.State)
}
