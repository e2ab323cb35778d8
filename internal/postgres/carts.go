package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/dukerupert/saga/internal/domain"
)

const findCartSQL = `
SELECT id, buyer_id, browser_guid, deleted, order_id, created_at, updated_at
FROM carts
WHERE deleted = false
	AND (($1::uuid IS NOT NULL AND buyer_id = $1)
		OR ($1::uuid IS NULL AND $2 <> '' AND browser_guid = $2))
ORDER BY updated_at DESC
LIMIT 1`

// FindCart returns the open cart for a buyer or browser identity, or nil
// when none exists.
func (s *Store) FindCart(ctx context.Context, buyerID *uuid.UUID, browserGUID string) (*domain.Cart, error) {
	row := s.pool.QueryRow(ctx, findCartSQL, pgUUIDPtr(buyerID), browserGUID)

	var (
		c         domain.Cart
		id        pgtype.UUID
		cartBuyer pgtype.UUID
		orderID   pgtype.UUID
		createdAt pgtype.Timestamptz
		updatedAt pgtype.Timestamptz
	)
	err := row.Scan(&id, &cartBuyer, &c.BrowserGUID, &c.Deleted, &orderID, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, domain.Unexpected(err, "postgres.find_cart", "failed to find cart")
	}

	c.ID = fromPgUUID(id)
	c.BuyerID = fromPgUUIDPtr(cartBuyer)
	c.OrderID = fromPgUUIDPtr(orderID)
	c.CreatedAt = fromPgTime(createdAt)
	c.UpdatedAt = fromPgTime(updatedAt)
	return &c, nil
}

const updateCartSQL = `
UPDATE carts SET deleted = $2, order_id = $3, updated_at = $4
WHERE id = $1`

func (s *Store) UpdateCart(ctx context.Context, c *domain.Cart) error {
	_, err := s.pool.Exec(ctx, updateCartSQL,
		pgUUID(c.ID), c.Deleted, pgUUIDPtr(c.OrderID), pgTime(c.UpdatedAt),
	)
	if err != nil {
		return domain.Unexpected(err, "postgres.update_cart", "failed to update cart")
	}
	return nil
}
