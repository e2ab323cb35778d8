package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/dukerupert/saga/internal/domain"
)

const createPurchaseSQL = `
INSERT INTO purchases (
	id, product_id, seller_id, amount_cents, currency, quantity, processor,
	state, error_code, error_message, charge_id, client_secret,
	processor_account_id, order_id, subscription_id, buyer_email,
	created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

func (s *Store) CreatePurchase(ctx context.Context, p *domain.PurchaseAttempt) error {
	_, err := s.pool.Exec(ctx, createPurchaseSQL,
		pgUUID(p.ID), pgUUID(p.ProductID), pgUUID(p.SellerID),
		p.AmountCents, p.Currency, p.Quantity, p.Processor,
		string(p.State), p.ErrorCode, p.ErrorMessage, p.ChargeID, p.ClientSecret,
		p.ProcessorAccountID, pgUUIDPtr(p.OrderID), pgUUIDPtr(p.SubscriptionID), p.BuyerEmail,
		pgTime(p.CreatedAt), pgTime(p.UpdatedAt),
	)
	if err != nil {
		return domain.Unexpected(err, "postgres.create_purchase", "failed to insert purchase")
	}
	return nil
}

const updatePurchaseSQL = `
UPDATE purchases SET
	state = $2, error_code = $3, error_message = $4, charge_id = $5,
	client_secret = $6, processor_account_id = $7, order_id = $8,
	buyer_email = $9, updated_at = $10
WHERE id = $1`

func (s *Store) UpdatePurchase(ctx context.Context, p *domain.PurchaseAttempt) error {
	_, err := s.pool.Exec(ctx, updatePurchaseSQL,
		pgUUID(p.ID), string(p.State), p.ErrorCode, p.ErrorMessage, p.ChargeID,
		p.ClientSecret, p.ProcessorAccountID, pgUUIDPtr(p.OrderID),
		p.BuyerEmail, pgTime(p.UpdatedAt),
	)
	if err != nil {
		return domain.Unexpected(err, "postgres.update_purchase", "failed to update purchase")
	}
	return nil
}

const getPurchaseSQL = `
SELECT id, product_id, seller_id, amount_cents, currency, quantity, processor,
	state, error_code, error_message, charge_id, client_secret,
	processor_account_id, order_id, subscription_id, buyer_email,
	created_at, updated_at
FROM purchases WHERE id = $1`

func (s *Store) GetPurchase(ctx context.Context, id uuid.UUID) (*domain.PurchaseAttempt, error) {
	row := s.pool.QueryRow(ctx, getPurchaseSQL, pgUUID(id))
	p, err := scanPurchase(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPurchaseNotFound
		}
		return nil, domain.Unexpected(err, "postgres.get_purchase", "failed to get purchase")
	}
	return p, nil
}

func scanPurchase(row pgx.Row) (*domain.PurchaseAttempt, error) {
	var (
		p         domain.PurchaseAttempt
		id        pgtype.UUID
		productID pgtype.UUID
		sellerID  pgtype.UUID
		state     string
		orderID   pgtype.UUID
		subID     pgtype.UUID
		createdAt pgtype.Timestamptz
		updatedAt pgtype.Timestamptz
	)
	err := row.Scan(
		&id, &productID, &sellerID, &p.AmountCents, &p.Currency, &p.Quantity, &p.Processor,
		&state, &p.ErrorCode, &p.ErrorMessage, &p.ChargeID, &p.ClientSecret,
		&p.ProcessorAccountID, &orderID, &subID, &p.BuyerEmail,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.ID = fromPgUUID(id)
	p.ProductID = fromPgUUID(productID)
	p.SellerID = fromPgUUID(sellerID)
	p.State = domain.AttemptState(state)
	p.OrderID = fromPgUUIDPtr(orderID)
	p.SubscriptionID = fromPgUUIDPtr(subID)
	p.CreatedAt = fromPgTime(createdAt)
	p.UpdatedAt = fromPgTime(updatedAt)
	return &p, nil
}
