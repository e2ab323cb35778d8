package checkout

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/dukerupert/saga/internal/domain"
)

func TestValidateItem(t *testing.T) {
	seller := makeTestSeller()
	product := makeTestProduct(seller)

	t.Run("valid item passes", func(t *testing.T) {
		item := makeTestItem(product)
		assert.NoError(t, ValidateItem(item, product))
	})

	t.Run("zero quantity rejected", func(t *testing.T) {
		item := makeTestItem(product)
		item.Quantity = 0
		err := ValidateItem(item, product)
		assert.Equal(t, domain.EValidation, domain.ErrorCode(err))
	})

	t.Run("deleted product rejected", func(t *testing.T) {
		deleted := *product
		deleted.Deleted = true
		err := ValidateItem(makeTestItem(product), &deleted)
		assert.Equal(t, domain.EProductNotFound, domain.ErrorCode(err))
	})

	t.Run("quantity over inventory rejected", func(t *testing.T) {
		item := makeTestItem(product)
		item.Quantity = 11
		err := ValidateItem(item, product)
		assert.Equal(t, domain.EInventory, domain.ErrorCode(err))
	})

	t.Run("untracked inventory allows any quantity", func(t *testing.T) {
		untracked := *product
		untracked.InventoryRemaining = -1
		item := makeTestItem(product)
		item.Quantity = 500
		assert.NoError(t, ValidateItem(item, &untracked))
	})

	t.Run("stale perceived price rejected", func(t *testing.T) {
		item := makeTestItem(product)
		item.PerceivedPriceCents = 1500
		err := ValidateItem(item, product)
		assert.Equal(t, domain.EValidation, domain.ErrorCode(err))
	})
}

func TestDecideSession(t *testing.T) {
	tests := []struct {
		name            string
		cred            domain.PaymentCredential
		requiresMandate bool
		wantOffSession  bool
		wantMandate     bool
	}{
		{
			name:           "prior setup intent always charges off-session",
			cred:           domain.PaymentCredential{PriorSetupIntentID: "seti_1"},
			wantOffSession: true,
		},
		{
			name:            "prior setup intent wins even when mandate country",
			cred:            domain.PaymentCredential{PriorSetupIntentID: "seti_1"},
			requiresMandate: true,
			wantOffSession:  true,
		},
		{
			name:            "mandate country charges on-session and requests future use",
			cred:            domain.PaymentCredential{Token: "pm_1"},
			requiresMandate: true,
			wantOffSession:  false,
			wantMandate:     true,
		},
		{
			name:           "plain token charges off-session",
			cred:           domain.PaymentCredential{Token: "pm_1"},
			wantOffSession: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			offSession, mandate := decideSession(tt.cred, tt.requiresMandate)
			assert.Equal(t, tt.wantOffSession, offSession)
			assert.Equal(t, tt.wantMandate, mandate)
		})
	}
}

func TestPlanCharge(t *testing.T) {
	seller := makeTestSeller()
	product := makeTestProduct(seller)
	item := makeTestItem(product)
	item.Quantity = 3
	attemptID := uuid.New()

	plan := PlanCharge(item, product, domain.PaymentCredential{Token: "pm_1"}, false, attemptID)

	assert.Equal(t, int64(5550), plan.AmountCents)
	assert.Equal(t, "usd", plan.Currency)
	assert.True(t, plan.OffSession)
	assert.False(t, plan.MandateRequested)
	assert.Equal(t, product.Name, plan.Description)
	assert.Equal(t, attemptID.String(), plan.Metadata["purchase_id"])
}

func TestPlanRestartCharge(t *testing.T) {
	seller := makeTestSeller()
	product := makeTestProduct(seller)
	sub := makeTestSubscription(uuid.New(), product)
	sub.RecurringPriceCents = 1500
	attemptID := uuid.New()

	t.Run("recurring price when the item carries no price", func(t *testing.T) {
		item := makeTestItem(product)

		plan := PlanRestartCharge(sub, item, domain.PaymentCredential{Token: "pm_1"}, true, attemptID)

		assert.Equal(t, int64(1500), plan.AmountCents)
		assert.False(t, plan.OffSession)
		assert.True(t, plan.MandateRequested)
		assert.Equal(t, sub.ID.String(), plan.Metadata["subscription_id"])
	})

	t.Run("buyer-perceived price wins when supplied", func(t *testing.T) {
		item := makeTestItem(product)
		item.PerceivedPriceCents = 1850

		plan := PlanRestartCharge(sub, item, domain.PaymentCredential{Token: "pm_1"}, false, attemptID)

		assert.Equal(t, int64(1850), plan.AmountCents)
	})
}
