package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/dukerupert/saga/internal/domain"
	"github.com/dukerupert/saga/internal/pricing"
)

const getDiscountSQL = `
SELECT code, percent_off, amount_off_cents, seller_id, expires_at, disabled
FROM discounts WHERE code = $1`

// GetDiscountByCode returns the discount definition, or nil when the
// code does not exist.
func (s *Store) GetDiscountByCode(ctx context.Context, code string) (*pricing.Discount, error) {
	row := s.pool.QueryRow(ctx, getDiscountSQL, code)

	var (
		d         pricing.Discount
		sellerID  pgtype.UUID
		expiresAt pgtype.Timestamptz
	)
	err := row.Scan(&d.Code, &d.PercentOff, &d.AmountOffCents, &sellerID, &expiresAt, &d.Disabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, domain.Unexpected(err, "postgres.get_discount", "failed to get discount")
	}

	d.SellerID = fromPgUUIDPtr(sellerID)
	d.ExpiresAt = fromPgTimePtr(expiresAt)
	return &d, nil
}
