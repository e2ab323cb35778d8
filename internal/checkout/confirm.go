package checkout

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dukerupert/saga/internal/domain"
	"github.com/dukerupert/saga/internal/notify"
	"github.com/dukerupert/saga/internal/payment"
	"github.com/dukerupert/saga/internal/telemetry"
)

// ConfirmService settles purchase attempts parked in requires_challenge
// after the buyer finishes the processor's authentication flow. Confirm
// is idempotent: re-confirming an already-settled attempt returns its
// terminal outcome without touching the processor again.
type ConfirmService struct {
	store    Store
	resolver payment.CredentialResolver
	notifier notify.OnceDispatcher
	clock    domain.Clock
	logger   zerolog.Logger
	metrics  *telemetry.BusinessMetrics
}

func NewConfirmService(store Store, resolver payment.CredentialResolver, notifier notify.OnceDispatcher, clock domain.Clock, logger zerolog.Logger, metrics *telemetry.BusinessMetrics) *ConfirmService {
	return &ConfirmService{
		store:    store,
		resolver: resolver,
		notifier: notifier,
		clock:    clock,
		logger:   logger.With().Str("component", "confirm").Logger(),
		metrics:  metrics,
	}
}

// ConfirmResult is the outcome of one confirmation call.
type ConfirmResult struct {
	Purchase *domain.PurchaseAttempt

	Success bool

	// Pending means the processor still reports the challenge as open.
	Pending bool

	ErrorCode    string
	ErrorMessage string
}

// Confirm re-checks the charge behind an attempt and settles it.
func (s *ConfirmService) Confirm(ctx context.Context, purchaseID uuid.UUID) (*ConfirmResult, error) {
	const op = "confirm.run"

	attempt, err := s.store.GetPurchase(ctx, purchaseID)
	if err != nil {
		return nil, err
	}

	switch attempt.State {
	case domain.AttemptSuccessful:
		return &ConfirmResult{Purchase: attempt, Success: true}, nil
	case domain.AttemptFailed:
		return &ConfirmResult{
			Purchase:     attempt,
			ErrorCode:    attempt.ErrorCode,
			ErrorMessage: attempt.ErrorMessage,
		}, nil
	case domain.AttemptRequiresChallenge:
		// fall through to settlement
	default:
		return nil, domain.ErrNotConfirmable
	}

	result, err := s.resolver.RetrieveCharge(ctx, attempt.Processor, attempt.ChargeID, attempt.ProcessorAccountID)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.ChallengeResult.WithLabelValues(attempt.Processor, string(result.Status)).Inc()
	}

	switch result.Status {
	case payment.ChargeSucceeded:
		return s.settleSuccess(ctx, attempt)

	case payment.ChargeFailed:
		return s.settleFailure(ctx, attempt, result)

	default:
		return &ConfirmResult{Purchase: attempt, Pending: true}, nil
	}
}

func (s *ConfirmService) settleSuccess(ctx context.Context, attempt *domain.PurchaseAttempt) (*ConfirmResult, error) {
	const op = "confirm.success"

	if err := attempt.Transition(domain.AttemptSuccessful); err != nil {
		return nil, err
	}
	attempt.ClientSecret = ""
	attempt.UpdatedAt = s.clock.Now()
	if err := s.store.UpdatePurchase(ctx, attempt); err != nil {
		return nil, domain.Unexpected(err, op, "could not persist confirmed purchase")
	}

	if attempt.SubscriptionID != nil {
		if err := s.settleSubscription(ctx, *attempt.SubscriptionID, true); err != nil {
			telemetry.CaptureError(err, map[string]interface{}{"op": op})
			s.logger.Error().Err(err).Msg("could not settle subscription after confirmation")
		}
		s.notifyRestartSucceeded(ctx, attempt)
	}

	s.closeCartAfterConfirm(ctx, attempt)

	s.logger.Info().Str("purchase_id", attempt.ID.String()).Msg("challenge confirmed")
	return &ConfirmResult{Purchase: attempt, Success: true}, nil
}

func (s *ConfirmService) settleFailure(ctx context.Context, attempt *domain.PurchaseAttempt, result *payment.ChargeResult) (*ConfirmResult, error) {
	const op = "confirm.failure"

	if err := attempt.Fail(domain.EDeclined, result.ErrorMessage); err != nil {
		return nil, err
	}
	attempt.UpdatedAt = s.clock.Now()
	if err := s.store.UpdatePurchase(ctx, attempt); err != nil {
		return nil, domain.Unexpected(err, op, "could not persist failed purchase")
	}

	if attempt.SubscriptionID != nil {
		if err := s.settleSubscription(ctx, *attempt.SubscriptionID, false); err != nil {
			telemetry.CaptureError(err, map[string]interface{}{"op": op})
			s.logger.Error().Err(err).Msg("could not fail subscription after declined confirmation")
		}
		s.notifyRestartFailed(ctx, attempt, result.ErrorMessage)
	}

	return &ConfirmResult{
		Purchase:     attempt,
		ErrorCode:    attempt.ErrorCode,
		ErrorMessage: attempt.ErrorMessage,
	}, nil
}

// settleSubscription clears the pending flag and lands the subscription
// in active or failed depending on how the challenge resolved.
func (s *ConfirmService) settleSubscription(ctx context.Context, subID uuid.UUID, success bool) error {
	sub, err := s.store.GetSubscription(ctx, subID)
	if err != nil {
		return err
	}

	sub.PendingConfirmation = false
	if success {
		sub.State = domain.SubscriptionActive
	} else {
		now := s.clock.Now()
		sub.State = domain.SubscriptionFailed
		sub.DeactivatedAt = &now
	}
	sub.UpdatedAt = s.clock.Now()
	return s.store.UpdateSubscription(ctx, sub)
}

// closeCartAfterConfirm closes the buyer's cart for confirmed attempts
// that belong to no order, where checkout could not close it.
func (s *ConfirmService) closeCartAfterConfirm(ctx context.Context, attempt *domain.PurchaseAttempt) {
	if attempt.SubscriptionID == nil || attempt.OrderID != nil {
		return
	}
	sub, err := s.store.GetSubscription(ctx, *attempt.SubscriptionID)
	if err != nil {
		return
	}
	cart, err := s.store.FindCart(ctx, &sub.BuyerID, "")
	if err != nil || cart == nil || cart.Deleted {
		return
	}
	cart.Deleted = true
	cart.UpdatedAt = s.clock.Now()
	if err := s.store.UpdateCart(ctx, cart); err != nil {
		s.logger.Error().Err(err).Str("cart_id", cart.ID.String()).Msg("could not close cart after confirmation")
	}
}

func (s *ConfirmService) notifyRestartSucceeded(ctx context.Context, attempt *domain.PurchaseAttempt) {
	if s.notifier == nil || attempt.BuyerEmail == "" || attempt.SubscriptionID == nil {
		return
	}
	msg := notify.Message{
		Kind: notify.KindRestartSucceeded,
		Payload: notify.SubscriptionPayload{
			SubscriptionID: *attempt.SubscriptionID,
			BuyerEmail:     attempt.BuyerEmail,
		},
	}
	if err := s.notifier.DispatchOnce(ctx, attempt.SubscriptionID.String(), msg); err != nil {
		s.logger.Error().Err(err).Msg("restart success notice dispatch failed")
	}
}

func (s *ConfirmService) notifyRestartFailed(ctx context.Context, attempt *domain.PurchaseAttempt, message string) {
	if s.notifier == nil || attempt.BuyerEmail == "" || attempt.SubscriptionID == nil {
		return
	}
	msg := notify.Message{
		Kind: notify.KindRestartFailed,
		Payload: notify.SubscriptionPayload{
			SubscriptionID: *attempt.SubscriptionID,
			BuyerEmail:     attempt.BuyerEmail,
			ErrorMessage:   message,
		},
	}
	if err := s.notifier.DispatchOnce(ctx, attempt.SubscriptionID.String(), msg); err != nil {
		s.logger.Error().Err(err).Msg("restart failure notice dispatch failed")
	}
}
