package postgres

import (
	"context"

	"github.com/dukerupert/saga/internal/domain"
)

const createOrderSQL = `
INSERT INTO orders (id, buyer_id, created_at) VALUES ($1, $2, $3)`

// CreateOrder inserts the order row. Member purchases point back at the
// order through purchases.order_id, written by the caller.
func (s *Store) CreateOrder(ctx context.Context, o *domain.Order) error {
	_, err := s.pool.Exec(ctx, createOrderSQL,
		pgUUID(o.ID), pgUUIDPtr(o.BuyerID), pgTime(o.CreatedAt),
	)
	if err != nil {
		return domain.Unexpected(err, "postgres.create_order", "failed to insert order")
	}
	return nil
}
