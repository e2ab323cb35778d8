package checkout

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/dukerupert/saga/internal/domain"
	"github.com/dukerupert/saga/internal/payment"
	"github.com/dukerupert/saga/internal/telemetry"
)

// RestartEngine revives lapsed subscriptions during checkout. Each
// mutation is applied and persisted step by step with a compensating undo
// pushed onto a stack; a failed charge unwinds the stack in reverse and
// leaves the subscription in failed. There is no database transaction
// here: the charge happens between mutations, so compensation is the only
// rollback available.
type RestartEngine struct {
	store    Store
	attempts *AttemptService
	clock    domain.Clock
	logger   zerolog.Logger
	metrics  *telemetry.BusinessMetrics
}

func NewRestartEngine(store Store, attempts *AttemptService, clock domain.Clock, logger zerolog.Logger, metrics *telemetry.BusinessMetrics) *RestartEngine {
	return &RestartEngine{
		store:    store,
		attempts: attempts,
		clock:    clock,
		logger:   logger.With().Str("component", "restart").Logger(),
		metrics:  metrics,
	}
}

// RestartParams describe one restart attempt.
type RestartParams struct {
	Subscription *domain.Subscription
	Product      *domain.Product
	Seller       *domain.Seller
	Chargeable   payment.Chargeable
	Item         domain.LineItem
	Credential   domain.PaymentCredential
	BuyerEmail   string
}

// RestartOutcome is the result of a restart that was not rolled back.
type RestartOutcome struct {
	Subscription *domain.Subscription

	// Purchase is nil when the restart needed no charge (paid period or
	// free trial still running).
	Purchase *domain.PurchaseAttempt
	Charged  bool

	RequiresCardAction bool
	ClientSecret       string
	ProcessorAccountID string
}

// undoFn reverses one persisted mutation.
type undoFn func(ctx context.Context) error

// Restart checks preconditions in order, applies the revival mutations,
// and charges when the paid period has lapsed. On charge failure every
// applied mutation is compensated and the subscription ends in failed.
func (e *RestartEngine) Restart(ctx context.Context, params RestartParams) (*RestartOutcome, error) {
	const op = "restart.run"

	sub := params.Subscription
	log := e.logger.With().Str("subscription_id", sub.ID.String()).Logger()

	if err := sub.RestartBlocked(params.Product.Deleted); err != nil {
		e.countBlocked(err)
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.RestartAttempts.WithLabelValues(params.Seller.Processor).Inc()
	}

	var undos []undoFn

	// Step 1: apply a tier or plan change requested with the restart.
	if changed := e.applyPlanChange(sub, params.Item); changed != nil {
		if err := e.persist(ctx, sub); err != nil {
			return nil, err
		}
		undos = append(undos, changed)
	}

	// Step 2: swap the stored payment method when a new credential came
	// with the request.
	if !params.Credential.Empty() {
		if err := params.Chargeable.Prepare(ctx); err != nil {
			e.rollback(ctx, sub, undos, log)
			return nil, err
		}
		token, err := params.Chargeable.ReusableToken(ctx, params.BuyerEmail)
		if err != nil {
			e.rollback(ctx, sub, undos, log)
			return nil, err
		}
		prevToken := sub.PaymentMethodToken
		sub.PaymentMethodToken = token
		if err := e.persist(ctx, sub); err != nil {
			e.rollback(ctx, sub, undos, log)
			return nil, err
		}
		undos = append(undos, func(ctx context.Context) error {
			sub.PaymentMethodToken = prevToken
			return e.persist(ctx, sub)
		})
	}

	// Step 3: resubscribe.
	prevState, prevCancelledAt, prevDeactivatedAt := sub.State, sub.CancelledAt, sub.DeactivatedAt
	sub.State = domain.SubscriptionActive
	sub.CancelledAt = nil
	sub.DeactivatedAt = nil
	if err := e.persist(ctx, sub); err != nil {
		e.rollback(ctx, sub, undos, log)
		return nil, err
	}
	undos = append(undos, func(ctx context.Context) error {
		sub.State = prevState
		sub.CancelledAt = prevCancelledAt
		sub.DeactivatedAt = prevDeactivatedAt
		return e.persist(ctx, sub)
	})

	now := e.clock.Now()
	if sub.WithinPaidPeriod(now) || sub.InFreeTrial(now) {
		log.Info().Msg("subscription revived without charge")
		e.countOutcome("revived")
		return &RestartOutcome{Subscription: sub}, nil
	}

	// Step 4: charge.
	attempt, err := e.attempts.Begin(ctx, BeginAttemptParams{
		Product:        params.Product,
		Seller:         params.Seller,
		Quantity:       1,
		AmountCents:    restartAmount(sub, params.Item),
		Currency:       sub.Currency,
		BuyerEmail:     params.BuyerEmail,
		SubscriptionID: &sub.ID,
	})
	if err != nil {
		e.rollback(ctx, sub, undos, log)
		return nil, err
	}

	plan := PlanRestartCharge(sub, params.Item, params.Credential, params.Chargeable.RequiresMandate(), attempt.ID)
	result, err := e.attempts.Execute(ctx, attempt, params.Chargeable, plan)
	if err != nil {
		e.rollback(ctx, sub, undos, log)
		e.countOutcome("failed")
		return nil, e.chargeFailed(err, domain.ErrorMessage(err), domain.ErrorSubcode(err))
	}

	switch result.Status {
	case payment.ChargeSucceeded:
		log.Info().Str("purchase_id", attempt.ID.String()).Msg("subscription restarted")
		e.countOutcome("revived")
		return &RestartOutcome{
			Subscription: sub,
			Purchase:     attempt,
			Charged:      true,
		}, nil

	case payment.ChargeRequiresAction:
		sub.PendingConfirmation = true
		if err := e.persist(ctx, sub); err != nil {
			e.rollback(ctx, sub, undos, log)
			return nil, err
		}
		log.Info().Str("purchase_id", attempt.ID.String()).Msg("restart awaiting card authentication")
		e.countOutcome("pending_confirmation")
		return &RestartOutcome{
			Subscription:       sub,
			Purchase:           attempt,
			Charged:            true,
			RequiresCardAction: true,
			ClientSecret:       result.ClientSecret,
			ProcessorAccountID: result.ProcessorAccountID,
		}, nil

	default:
		e.rollback(ctx, sub, undos, log)
		e.countOutcome("failed")
		if e.metrics != nil {
			e.metrics.RestartRollbacks.WithLabelValues(params.Seller.Processor).Inc()
		}
		return nil, e.chargeFailed(nil, result.ErrorMessage, result.ErrorCode)
	}
}

// applyPlanChange mutates tiers and price plan in memory and returns the
// undo, or nil when the item requests no change.
func (e *RestartEngine) applyPlanChange(sub *domain.Subscription, item domain.LineItem) undoFn {
	tierChange := len(item.VariantIDs) > 0 && !sub.SameTiers(item.VariantIDs)
	planChange := item.PricePlanID != "" && item.PricePlanID != sub.PricePlanID
	if !tierChange && !planChange {
		return nil
	}

	prevTiers := append([]string(nil), sub.TierIDs...)
	prevPlan := sub.PricePlanID
	if tierChange {
		sub.TierIDs = append([]string(nil), item.VariantIDs...)
	}
	if planChange {
		sub.PricePlanID = item.PricePlanID
	}

	return func(ctx context.Context) error {
		sub.TierIDs = prevTiers
		sub.PricePlanID = prevPlan
		return e.persist(ctx, sub)
	}
}

// rollback unwinds applied mutations in reverse and leaves the
// subscription in failed. Undo failures are logged and skipped so the
// final failed state is still written.
func (e *RestartEngine) rollback(ctx context.Context, sub *domain.Subscription, undos []undoFn, log zerolog.Logger) {
	for i := len(undos) - 1; i >= 0; i-- {
		if err := undos[i](ctx); err != nil {
			log.Error().Err(err).Int("step", i).Msg("restart undo failed")
		}
	}

	now := e.clock.Now()
	sub.State = domain.SubscriptionFailed
	sub.PendingConfirmation = false
	sub.DeactivatedAt = &now
	if err := e.persist(ctx, sub); err != nil {
		log.Error().Err(err).Msg("could not persist failed subscription after rollback")
	}
	log.Warn().Msg("restart rolled back, subscription marked failed")
}

func (e *RestartEngine) persist(ctx context.Context, sub *domain.Subscription) error {
	sub.UpdatedAt = e.clock.Now()
	if err := e.store.UpdateSubscription(ctx, sub); err != nil {
		return domain.Unexpected(err, "restart.persist", "could not persist subscription")
	}
	return nil
}

// chargeFailed builds the buyer-facing restart failure error.
func (e *RestartEngine) chargeFailed(cause error, message, subcode string) error {
	if message == "" {
		message = "Your payment was declined and the subscription was not restarted"
	}
	return &domain.Error{
		Code:    domain.EChargeFailed,
		Op:      "restart.charge",
		Subcode: subcode,
		Message: message,
		Err:     cause,
	}
}

func (e *RestartEngine) countOutcome(status string) {
	if e.metrics != nil {
		e.metrics.RestartOutcomes.WithLabelValues(status).Inc()
	}
}

func (e *RestartEngine) countBlocked(err error) {
	if e.metrics == nil {
		return
	}
	reason := "other"
	switch {
	case errors.Is(err, domain.ErrRestartSellerCancelled):
		reason = "seller_cancelled"
	case errors.Is(err, domain.ErrRestartProductDeleted):
		reason = "product_deleted"
	case errors.Is(err, domain.ErrRestartPlanComplete):
		reason = "plan_complete"
	}
	e.metrics.RestartBlocked.WithLabelValues(reason).Inc()
}
