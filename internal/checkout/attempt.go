package checkout

import (
	"context"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dukerupert/saga/internal/domain"
	"github.com/dukerupert/saga/internal/payment"
	"github.com/dukerupert/saga/internal/telemetry"
)

// AttemptService drives purchase attempts through their state machine.
// An attempt is persisted the moment charging begins; validation failures
// before that never create one. Failed attempts are never revived.
type AttemptService struct {
	store   Store
	clock   domain.Clock
	logger  zerolog.Logger
	metrics *telemetry.BusinessMetrics
}

func NewAttemptService(store Store, clock domain.Clock, logger zerolog.Logger, metrics *telemetry.BusinessMetrics) *AttemptService {
	return &AttemptService{
		store:   store,
		clock:   clock,
		logger:  logger.With().Str("component", "attempt").Logger(),
		metrics: metrics,
	}
}

// BeginAttemptParams describe the attempt to open.
type BeginAttemptParams struct {
	Product  *domain.Product
	Seller   *domain.Seller
	Quantity int32

	AmountCents int64
	Currency    string

	BuyerEmail string

	// SubscriptionID marks restart-originated attempts.
	SubscriptionID *uuid.UUID
}

// Begin creates and persists a new attempt in in_progress. From this
// point the attempt counts toward the order-persistence rule.
func (s *AttemptService) Begin(ctx context.Context, params BeginAttemptParams) (*domain.PurchaseAttempt, error) {
	now := s.clock.Now()
	attempt := &domain.PurchaseAttempt{
		ID:             uuid.New(),
		ProductID:      params.Product.ID,
		SellerID:       params.Seller.ID,
		AmountCents:    params.AmountCents,
		Currency:       params.Currency,
		Quantity:       params.Quantity,
		Processor:      params.Seller.Processor,
		State:          domain.AttemptCreated,
		SubscriptionID: params.SubscriptionID,
		BuyerEmail:     params.BuyerEmail,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := attempt.Transition(domain.AttemptInProgress); err != nil {
		return nil, err
	}
	if err := s.store.CreatePurchase(ctx, attempt); err != nil {
		return nil, domain.Unexpected(err, "attempt.begin", "could not persist purchase attempt")
	}

	return attempt, nil
}

// Execute prepares the credential, issues the charge, and applies the
// outcome to the attempt. The returned result is nil exactly when the
// returned error is non-nil; a declined charge is a result, not an error.
func (s *AttemptService) Execute(ctx context.Context, attempt *domain.PurchaseAttempt, chargeable payment.Chargeable, plan ChargePlan) (*payment.ChargeResult, error) {
	const op = "attempt.execute"

	processor := string(chargeable.Processor())

	if err := chargeable.Prepare(ctx); err != nil {
		s.fail(ctx, attempt, domain.ErrorCode(err), domain.ErrorMessage(err))
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.ChargeAttempts.WithLabelValues(processor, strconv.FormatBool(plan.OffSession)).Inc()
	}

	result, err := chargeable.Charge(ctx, plan.chargeParams())
	if err != nil {
		s.fail(ctx, attempt, domain.ErrorCode(err), domain.ErrorMessage(err))
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.ChargeOutcomes.WithLabelValues(processor, string(result.Status)).Inc()
	}

	attempt.ChargeID = result.ChargeID

	switch result.Status {
	case payment.ChargeSucceeded:
		if err := attempt.Transition(domain.AttemptSuccessful); err != nil {
			return nil, err
		}

	case payment.ChargeRequiresAction:
		if err := attempt.Transition(domain.AttemptRequiresChallenge); err != nil {
			return nil, err
		}
		attempt.ClientSecret = result.ClientSecret
		attempt.ProcessorAccountID = result.ProcessorAccountID

	case payment.ChargeFailed:
		if s.metrics != nil {
			s.metrics.ChargeDeclines.WithLabelValues(processor, result.ErrorCode).Inc()
		}
		if err := attempt.Fail(domain.EDeclined, result.ErrorMessage); err != nil {
			return nil, err
		}
	}

	attempt.UpdatedAt = s.clock.Now()
	if err := s.store.UpdatePurchase(ctx, attempt); err != nil {
		return nil, domain.Unexpected(err, op, "could not persist purchase attempt")
	}

	s.logger.Info().
		Str("purchase_id", attempt.ID.String()).
		Str("processor", processor).
		Str("state", string(attempt.State)).
		Int64("amount_cents", attempt.AmountCents).
		Msg("charge executed")

	return result, nil
}

// fail moves the attempt to failed and persists it, best effort. Called
// on prepare and transport errors where the caller already has the error
// to surface.
func (s *AttemptService) fail(ctx context.Context, attempt *domain.PurchaseAttempt, code, message string) {
	if err := attempt.Fail(code, message); err != nil {
		s.logger.Error().Err(err).Str("purchase_id", attempt.ID.String()).Msg("could not fail attempt")
		return
	}
	attempt.UpdatedAt = s.clock.Now()
	if err := s.store.UpdatePurchase(ctx, attempt); err != nil {
		s.logger.Error().Err(err).Str("purchase_id", attempt.ID.String()).Msg("could not persist failed attempt")
	}
}
