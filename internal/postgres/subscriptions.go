package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/dukerupert/saga/internal/domain"
)

const subscriptionColumns = `
	id, buyer_id, product_id, seller_id, state, cancelled_at, deactivated_at,
	tier_ids, price_plan_id, recurring_price_cents, currency,
	payment_method_token, pending_confirmation,
	installments_total, installments_collected,
	paid_until, free_trial_ends_at, created_at, updated_at`

const getSubscriptionSQL = `
SELECT ` + subscriptionColumns + `
FROM subscriptions WHERE id = $1`

func (s *Store) GetSubscription(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	row := s.pool.QueryRow(ctx, getSubscriptionSQL, pgUUID(id))
	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.Errorf(domain.EProductNotFound, "postgres.get_subscription", "Subscription not found")
		}
		return nil, domain.Unexpected(err, "postgres.get_subscription", "failed to get subscription")
	}
	return sub, nil
}

const findLapsedSubscriptionSQL = `
SELECT ` + subscriptionColumns + `
FROM subscriptions
WHERE buyer_id = $1 AND product_id = $2
	AND state IN ('cancelled_by_buyer', 'failed')
ORDER BY updated_at DESC
LIMIT 1`

// FindLapsedSubscription returns the buyer's most recently touched
// restartable subscription for the product, or nil when none exists.
func (s *Store) FindLapsedSubscription(ctx context.Context, buyerID, productID uuid.UUID) (*domain.Subscription, error) {
	row := s.pool.QueryRow(ctx, findLapsedSubscriptionSQL, pgUUID(buyerID), pgUUID(productID))
	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, domain.Unexpected(err, "postgres.find_lapsed_subscription", "failed to find subscription")
	}
	return sub, nil
}

const updateSubscriptionSQL = `
UPDATE subscriptions SET
	state = $2, cancelled_at = $3, deactivated_at = $4,
	tier_ids = $5, price_plan_id = $6,
	payment_method_token = $7, pending_confirmation = $8,
	paid_until = $9, free_trial_ends_at = $10, updated_at = $11
WHERE id = $1`

func (s *Store) UpdateSubscription(ctx context.Context, sub *domain.Subscription) error {
	_, err := s.pool.Exec(ctx, updateSubscriptionSQL,
		pgUUID(sub.ID), string(sub.State),
		pgTimePtr(sub.CancelledAt), pgTimePtr(sub.DeactivatedAt),
		sub.TierIDs, sub.PricePlanID,
		sub.PaymentMethodToken, sub.PendingConfirmation,
		pgTimePtr(sub.PaidUntil), pgTimePtr(sub.FreeTrialEndsAt),
		pgTime(sub.UpdatedAt),
	)
	if err != nil {
		return domain.Unexpected(err, "postgres.update_subscription", "failed to update subscription")
	}
	return nil
}

func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	var (
		sub                  domain.Subscription
		id, buyerID          pgtype.UUID
		productID, sellerID  pgtype.UUID
		state                string
		cancelledAt          pgtype.Timestamptz
		deactivatedAt        pgtype.Timestamptz
		installmentsTotal    pgtype.Int4
		installmentsDone     pgtype.Int4
		paidUntil, trialEnds pgtype.Timestamptz
		createdAt, updatedAt pgtype.Timestamptz
	)
	err := row.Scan(
		&id, &buyerID, &productID, &sellerID, &state, &cancelledAt, &deactivatedAt,
		&sub.TierIDs, &sub.PricePlanID, &sub.RecurringPriceCents, &sub.Currency,
		&sub.PaymentMethodToken, &sub.PendingConfirmation,
		&installmentsTotal, &installmentsDone,
		&paidUntil, &trialEnds, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	sub.ID = fromPgUUID(id)
	sub.BuyerID = fromPgUUID(buyerID)
	sub.ProductID = fromPgUUID(productID)
	sub.SellerID = fromPgUUID(sellerID)
	sub.State = domain.SubscriptionState(state)
	sub.CancelledAt = fromPgTimePtr(cancelledAt)
	sub.DeactivatedAt = fromPgTimePtr(deactivatedAt)
	if installmentsTotal.Valid {
		sub.Installments = &domain.InstallmentPlan{
			TotalInstallments:     installmentsTotal.Int32,
			CollectedInstallments: installmentsDone.Int32,
		}
	}
	sub.PaidUntil = fromPgTimePtr(paidUntil)
	sub.FreeTrialEndsAt = fromPgTimePtr(trialEnds)
	sub.CreatedAt = fromPgTime(createdAt)
	sub.UpdatedAt = fromPgTime(updatedAt)
	return &sub, nil
}
