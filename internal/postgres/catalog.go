package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/dukerupert/saga/internal/domain"
)

const findProductByRefSQL = `
SELECT id, ref, name, seller_id, price_cents, currency, inventory_remaining, deleted
FROM products WHERE ref = $1`

func (s *Store) FindProductByRef(ctx context.Context, ref string) (*domain.Product, error) {
	row := s.pool.QueryRow(ctx, findProductByRefSQL, ref)

	var (
		p        domain.Product
		id       pgtype.UUID
		sellerID pgtype.UUID
	)
	err := row.Scan(&id, &p.Ref, &p.Name, &sellerID, &p.PriceCents, &p.Currency, &p.InventoryRemaining, &p.Deleted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFound("postgres.find_product", ref)
		}
		return nil, domain.Unexpected(err, "postgres.find_product", "failed to find product")
	}

	p.ID = fromPgUUID(id)
	p.SellerID = fromPgUUID(sellerID)
	return &p, nil
}

const getSellerSQL = `
SELECT id, email, processor, processor_account_id
FROM sellers WHERE id = $1`

func (s *Store) GetSeller(ctx context.Context, id uuid.UUID) (*domain.Seller, error) {
	row := s.pool.QueryRow(ctx, getSellerSQL, pgUUID(id))

	var (
		seller domain.Seller
		sid    pgtype.UUID
	)
	err := row.Scan(&sid, &seller.Email, &seller.Processor, &seller.ProcessorAccountID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.Errorf(domain.EUnexpected, "postgres.get_seller", "seller %s not found", id)
		}
		return nil, domain.Unexpected(err, "postgres.get_seller", "failed to get seller")
	}

	seller.ID = fromPgUUID(sid)
	return &seller, nil
}
