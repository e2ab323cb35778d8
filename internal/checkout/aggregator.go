package checkout

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dukerupert/saga/internal/domain"
	"github.com/dukerupert/saga/internal/notify"
	"github.com/dukerupert/saga/internal/payment"
	"github.com/dukerupert/saga/internal/telemetry"
)

// Service runs whole checkout calls: it fans a request out into per-item
// charges, aggregates their outcomes into an order when one is warranted,
// reconciles the buyer's cart, and dispatches notifications. Items are
// processed sequentially and isolated: a panic while handling one item
// fails that item alone.
type Service struct {
	store    Store
	catalog  domain.Catalog
	resolver payment.CredentialResolver
	attempts *AttemptService
	restarts *RestartEngine
	pricing  domain.PricingEvaluator
	geo      domain.GeoLocator
	notifier notify.OnceDispatcher
	clock    domain.Clock
	logger   zerolog.Logger
	metrics  *telemetry.BusinessMetrics
}

type ServiceParams struct {
	Store    Store
	Catalog  domain.Catalog
	Resolver payment.CredentialResolver
	Attempts *AttemptService
	Restarts *RestartEngine
	Pricing  domain.PricingEvaluator
	Geo      domain.GeoLocator
	Notifier notify.OnceDispatcher
	Clock    domain.Clock
	Logger   zerolog.Logger
	Metrics  *telemetry.BusinessMetrics
}

func NewService(p ServiceParams) *Service {
	return &Service{
		store:    p.Store,
		catalog:  p.Catalog,
		resolver: p.Resolver,
		attempts: p.Attempts,
		restarts: p.Restarts,
		pricing:  p.Pricing,
		geo:      p.Geo,
		notifier: p.Notifier,
		clock:    p.Clock,
		logger:   p.Logger.With().Str("component", "checkout").Logger(),
		metrics:  p.Metrics,
	}
}

// itemOutcome is the aggregator's working record for one line item.
type itemOutcome struct {
	result domain.ItemResult

	attempt *domain.PurchaseAttempt
	restart bool
	product *domain.Product
	seller  *domain.Seller

	// freshInProgress is true when a non-restart attempt was persisted,
	// which is what commits the request to an order.
	freshInProgress bool
}

// Checkout processes one request. It always returns a result with one
// entry per line item; the error return is reserved for requests that
// are malformed as a whole.
func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (*domain.CheckoutResult, error) {
	const op = "checkout.run"

	if len(req.LineItems) == 0 {
		return nil, domain.Invalid(op, "At least one item is required")
	}
	seen := make(map[string]bool, len(req.LineItems))
	for _, item := range req.LineItems {
		if item.UID == "" {
			return nil, domain.Invalid(op, "Every item needs a uid")
		}
		if seen[item.UID] {
			return nil, domain.Invalid(op, fmt.Sprintf("Duplicate item uid %q", item.UID))
		}
		seen[item.UID] = true
	}

	log := s.logger.With().Int("items", len(req.LineItems)).Logger()
	if s.metrics != nil {
		s.metrics.CheckoutRequests.WithLabelValues(buyerType(req.BuyerID)).Inc()
	}

	if req.IPAddress != "" && s.geo != nil {
		if loc, err := s.geo.LookupGeo(ctx, req.IPAddress); err == nil {
			log = log.With().Str("country", loc.Country).Logger()
		}
	}

	outcomes := make([]itemOutcome, len(req.LineItems))
	for i, item := range req.LineItems {
		outcomes[i] = s.processItemIsolated(ctx, req, item)
	}

	order := s.buildOrder(ctx, req, outcomes, log)

	result := &domain.CheckoutResult{
		Items: make(map[string]domain.ItemResult, len(req.LineItems)),
		Order: order,
	}
	for i, item := range req.LineItems {
		out := outcomes[i]
		if out.result.RequiresCardAction && order != nil && out.attempt != nil && out.attempt.OrderID != nil {
			out.result.Order = &domain.ItemOrderInfo{
				ID:                 order.ID,
				ProcessorAccountID: out.attempt.ProcessorAccountID,
			}
		}
		result.Items[item.UID] = out.result
	}

	s.backfillBuyerEmail(ctx, req, outcomes)
	s.attachDiscountDiagnostics(ctx, req, outcomes, result)
	s.reconcileCart(ctx, req, result, order, log)
	s.dispatchNotifications(ctx, req, outcomes, order)

	log.Info().
		Bool("order_created", order != nil).
		Msg("checkout complete")

	return result, nil
}

// processItemIsolated wraps processItem with a recover so one item's
// panic cannot take down the sibling items or the request.
func (s *Service) processItemIsolated(ctx context.Context, req domain.CheckoutRequest, item domain.LineItem) (out itemOutcome) {
	defer func() {
		if r := recover(); r != nil {
			if s.metrics != nil {
				s.metrics.ItemPanics.WithLabelValues(itemPath(out.restart)).Inc()
			}
			telemetry.CapturePanic(r, map[string]interface{}{
				"item_uid":    item.UID,
				"product_ref": item.ProductRef,
			})
			s.logger.Error().
				Interface("panic", r).
				Str("item_uid", item.UID).
				Msg("recovered panic while processing item")

			out = itemOutcome{
				attempt:         out.attempt,
				restart:         out.restart,
				freshInProgress: out.freshInProgress,
				result: domain.ItemResult{
					ErrorCode:    domain.EUnexpected,
					ErrorMessage: domain.ErrorMessage(domain.Unexpected(nil, "checkout.item", "panic")),
				},
			}
		}
	}()

	return s.processItem(ctx, req, item)
}

// processItem resolves, validates and charges one line item.
func (s *Service) processItem(ctx context.Context, req domain.CheckoutRequest, item domain.LineItem) itemOutcome {
	var out itemOutcome

	product, err := s.catalog.FindProductByRef(ctx, item.ProductRef)
	if err != nil {
		return s.failItem(out, err, "")
	}
	out.product = product

	if err := ValidateItem(item, product); err != nil {
		return s.failItem(out, err, product.Name)
	}

	seller, err := s.catalog.GetSeller(ctx, product.SellerID)
	if err != nil {
		return s.failItem(out, err, product.Name)
	}
	out.seller = seller

	chargeable, err := s.resolver.ChargeableFor(seller, req.Credential)
	if err != nil {
		return s.failItem(out, err, product.Name)
	}

	// A lapsed subscription for this buyer and product turns the item
	// into a restart instead of a fresh purchase.
	if req.BuyerID != nil {
		sub, err := s.store.FindLapsedSubscription(ctx, *req.BuyerID, product.ID)
		if err != nil {
			return s.failItem(out, err, product.Name)
		}
		if sub != nil {
			return s.processRestart(ctx, req, item, product, seller, sub, chargeable)
		}
	}

	return s.processFresh(ctx, req, item, product, seller, chargeable)
}

// processFresh runs the fresh-purchase path for one item.
func (s *Service) processFresh(ctx context.Context, req domain.CheckoutRequest, item domain.LineItem, product *domain.Product, seller *domain.Seller, chargeable payment.Chargeable) itemOutcome {
	out := itemOutcome{product: product, seller: seller}
	s.countItem("fresh", product.PriceCents*int64(item.Quantity))

	// Fresh attempts open anonymous; the request email is stamped onto
	// persisted attempts after aggregation.
	attempt, err := s.attempts.Begin(ctx, BeginAttemptParams{
		Product:     product,
		Seller:      seller,
		Quantity:    item.Quantity,
		AmountCents: product.PriceCents * int64(item.Quantity),
		Currency:    product.Currency,
	})
	if err != nil {
		return s.failItem(out, err, product.Name)
	}
	out.attempt = attempt
	out.freshInProgress = true

	plan := PlanCharge(item, product, req.Credential, chargeable.RequiresMandate(), attempt.ID)
	result, err := s.attempts.Execute(ctx, attempt, chargeable, plan)
	if err != nil {
		out.result = domain.ItemResult{
			Purchase:     attempt,
			ErrorCode:    domain.ErrorCode(err),
			ErrorMessage: domain.ErrorMessage(err),
			ProductName:  product.Name,
		}
		return out
	}

	switch result.Status {
	case payment.ChargeSucceeded:
		out.result = domain.ItemResult{
			Success:     true,
			Purchase:    attempt,
			ProductName: product.Name,
		}
	case payment.ChargeRequiresAction:
		s.countChallenge(seller.Processor, "fresh")
		out.result = domain.ItemResult{
			Success:            true,
			Purchase:           attempt,
			RequiresCardAction: true,
			ClientSecret:       result.ClientSecret,
			ProductName:        product.Name,
		}
	default:
		out.result = domain.ItemResult{
			Purchase:     attempt,
			ErrorCode:    domain.EDeclined,
			ErrorMessage: result.ErrorMessage,
			ProductName:  product.Name,
		}
	}

	return out
}

// processRestart runs the subscription-restart path for one item.
func (s *Service) processRestart(ctx context.Context, req domain.CheckoutRequest, item domain.LineItem, product *domain.Product, seller *domain.Seller, sub *domain.Subscription, chargeable payment.Chargeable) itemOutcome {
	out := itemOutcome{product: product, seller: seller, restart: true}
	s.countItem("restart", sub.RecurringPriceCents)

	// Without a fresh credential the restart charges the subscription's
	// saved payment method.
	if req.Credential.Empty() && sub.PaymentMethodToken != "" {
		saved, err := s.resolver.ChargeableFor(seller, domain.PaymentCredential{Token: sub.PaymentMethodToken})
		if err != nil {
			return s.failItem(out, err, product.Name)
		}
		chargeable = saved
	}

	outcome, err := s.restarts.Restart(ctx, RestartParams{
		Subscription: sub,
		Product:      product,
		Seller:       seller,
		Chargeable:   chargeable,
		Item:         item,
		Credential:   req.Credential,
		BuyerEmail:   req.BuyerEmail,
	})
	if err != nil {
		out.result = domain.ItemResult{
			ErrorCode:    domain.ErrorCode(err),
			ErrorMessage: domain.ErrorMessage(err),
			ProductName:  product.Name,
		}
		s.notifyRestartFailed(ctx, sub, product, req.BuyerEmail, domain.ErrorMessage(err))
		return out
	}

	out.attempt = outcome.Purchase

	if outcome.RequiresCardAction {
		s.countChallenge(seller.Processor, "restart")
		out.result = domain.ItemResult{
			Success:            true,
			Purchase:           outcome.Purchase,
			RequiresCardAction: true,
			ClientSecret:       outcome.ClientSecret,
			ProductName:        product.Name,
		}
		s.notifyRestartPending(ctx, sub, product, req.BuyerEmail)
		return out
	}

	out.result = domain.ItemResult{
		Success:     true,
		Purchase:    outcome.Purchase,
		ProductName: product.Name,
	}
	s.notifyRestartSucceeded(ctx, sub, product, req.BuyerEmail)
	return out
}

// failItem finishes an item with an error before any charge happened.
func (s *Service) failItem(out itemOutcome, err error, productName string) itemOutcome {
	s.countItem("rejected", 0)
	if domain.ErrorCode(err) == domain.EUnexpected {
		telemetry.CaptureError(err, map[string]interface{}{"op": domain.ErrorOp(err)})
		s.logger.Error().Err(err).Msg("item failed unexpectedly")
	}
	out.result = domain.ItemResult{
		ErrorCode:    domain.ErrorCode(err),
		ErrorMessage: domain.ErrorMessage(err),
		ProductName:  productName,
	}
	return out
}

// buildOrder persists an order when the request earned one and links the
// member purchases. An order exists when at least one fresh attempt began
// charging, or when a restart raised a challenge and needs an order to
// hang its placeholder on; it contains successful fresh purchases and any
// challenge placeholders, never failed attempts or restart successes.
func (s *Service) buildOrder(ctx context.Context, req domain.CheckoutRequest, outcomes []itemOutcome, log zerolog.Logger) *domain.Order {
	committed := false
	for _, out := range outcomes {
		if out.freshInProgress {
			committed = true
			break
		}
		if out.restart && out.attempt != nil && out.attempt.State == domain.AttemptRequiresChallenge {
			committed = true
			break
		}
	}
	if !committed {
		return nil
	}

	order := &domain.Order{
		ID:        uuid.New(),
		BuyerID:   req.BuyerID,
		CreatedAt: s.clock.Now(),
	}

	var members []*domain.PurchaseAttempt
	var totalCents int64
	for _, out := range outcomes {
		if out.attempt == nil {
			continue
		}
		switch out.attempt.State {
		case domain.AttemptSuccessful:
			if out.restart {
				continue // restart successes belong to the subscription, not the order
			}
			members = append(members, out.attempt)
			totalCents += out.attempt.AmountCents
		case domain.AttemptRequiresChallenge:
			members = append(members, out.attempt)
		}
	}

	for _, m := range members {
		order.PurchaseIDs = append(order.PurchaseIDs, m.ID)
	}

	if err := s.store.CreateOrder(ctx, order); err != nil {
		telemetry.CaptureError(err, map[string]interface{}{"op": "checkout.create_order"})
		log.Error().Err(err).Msg("could not persist order")
		return nil
	}

	for _, m := range members {
		m.OrderID = &order.ID
		m.UpdatedAt = s.clock.Now()
		if err := s.store.UpdatePurchase(ctx, m); err != nil {
			log.Error().Err(err).Str("purchase_id", m.ID.String()).Msg("could not link purchase to order")
		}
	}

	if s.metrics != nil {
		bt := buyerType(req.BuyerID)
		s.metrics.OrdersCreated.WithLabelValues(bt).Inc()
		s.metrics.OrderValue.WithLabelValues(bt).Observe(float64(totalCents))
		s.metrics.OrderItemCount.WithLabelValues(bt).Observe(float64(len(members)))
	}

	log.Info().Str("order_id", order.ID.String()).Int("purchases", len(members)).Msg("order created")
	return order
}

// backfillBuyerEmail writes the request email onto attempts persisted
// without one, failed attempts included, so support and the confirmation
// flow can reach the buyer later.
func (s *Service) backfillBuyerEmail(ctx context.Context, req domain.CheckoutRequest, outcomes []itemOutcome) {
	if req.BuyerEmail == "" {
		return
	}
	for _, out := range outcomes {
		if out.attempt == nil || out.attempt.BuyerEmail != "" {
			continue
		}
		out.attempt.BuyerEmail = req.BuyerEmail
		out.attempt.UpdatedAt = s.clock.Now()
		if err := s.store.UpdatePurchase(ctx, out.attempt); err != nil {
			s.logger.Error().Err(err).Str("purchase_id", out.attempt.ID.String()).Msg("could not backfill buyer email")
		}
	}
}

// attachDiscountDiagnostics computes discount validity once per code for
// the failed items that supplied one, and attaches the diagnostic to each
// of those items' results.
func (s *Service) attachDiscountDiagnostics(ctx context.Context, req domain.CheckoutRequest, outcomes []itemOutcome, result *domain.CheckoutResult) {
	if s.pricing == nil {
		return
	}

	byCode := make(map[string][]int)
	for i, item := range req.LineItems {
		out := outcomes[i]
		if item.DiscountCode == "" || out.result.Success || out.result.RequiresCardAction {
			continue
		}
		byCode[item.DiscountCode] = append(byCode[item.DiscountCode], i)
	}

	for code, idxs := range byCode {
		var products []domain.Product
		for _, i := range idxs {
			if outcomes[i].product != nil {
				products = append(products, *outcomes[i].product)
			}
		}
		diag, err := s.pricing.ComputeDiscount(ctx, code, products)
		if err != nil {
			s.logger.Warn().Err(err).Str("code", code).Msg("discount diagnostic failed")
			continue
		}
		for _, i := range idxs {
			uid := req.LineItems[i].UID
			res := result.Items[uid]
			res.Discount = diag
			result.Items[uid] = res
		}
	}
}

// reconcileCart closes the buyer's cart when checkout converted it. The
// operation is idempotent: an already-closed cart is left alone, so a
// client retry of the same request cannot flap cart state.
func (s *Service) reconcileCart(ctx context.Context, req domain.CheckoutRequest, result *domain.CheckoutResult, order *domain.Order, log zerolog.Logger) {
	cart, err := s.store.FindCart(ctx, req.BuyerID, req.BrowserSessionID)
	if err != nil {
		log.Error().Err(err).Msg("cart lookup failed")
		return
	}
	if cart == nil || cart.Deleted {
		return
	}

	reason := ""
	switch {
	case order != nil:
		cart.OrderID = &order.ID
		cart.Deleted = true
		reason = "order_linked"
	case result.AllSucceeded():
		cart.Deleted = true
		reason = "all_succeeded"
	default:
		return // keep the cart for retry
	}

	cart.UpdatedAt = s.clock.Now()
	if err := s.store.UpdateCart(ctx, cart); err != nil {
		log.Error().Err(err).Str("cart_id", cart.ID.String()).Msg("could not reconcile cart")
		return
	}
	if s.metrics != nil {
		s.metrics.CartsConverted.WithLabelValues(reason).Inc()
	}
}

// dispatchNotifications sends the order receipt and per-purchase seller
// notices. Failures are logged, never surfaced to the buyer.
func (s *Service) dispatchNotifications(ctx context.Context, req domain.CheckoutRequest, outcomes []itemOutcome, order *domain.Order) {
	if s.notifier == nil {
		return
	}

	var items []notify.ReceiptItem
	var totalCents int64
	currency := ""
	for _, out := range outcomes {
		if out.attempt == nil || out.attempt.State != domain.AttemptSuccessful || out.restart {
			continue
		}
		items = append(items, notify.ReceiptItem{
			ProductName: out.product.Name,
			Quantity:    out.attempt.Quantity,
			AmountCents: out.attempt.AmountCents,
		})
		totalCents += out.attempt.AmountCents
		currency = out.attempt.Currency

		if out.seller != nil && out.seller.Email != "" {
			msg := notify.Message{
				Kind: notify.KindSellerSale,
				Payload: notify.SellerSalePayload{
					SellerID:    out.seller.ID,
					SellerEmail: out.seller.Email,
					ProductName: out.product.Name,
					AmountCents: out.attempt.AmountCents,
					Currency:    out.attempt.Currency,
					PurchaseID:  out.attempt.ID,
				},
			}
			if err := s.notifier.Dispatch(ctx, msg); err != nil {
				s.logger.Error().Err(err).Msg("seller notice dispatch failed")
			} else if s.metrics != nil {
				s.metrics.NotificationsSent.WithLabelValues(string(notify.KindSellerSale)).Inc()
			}
		}
	}

	if order == nil || len(items) == 0 || req.BuyerEmail == "" {
		return
	}
	msg := notify.Message{
		Kind: notify.KindReceipt,
		Payload: notify.ReceiptPayload{
			OrderID:    order.ID,
			BuyerEmail: req.BuyerEmail,
			Items:      items,
			TotalCents: totalCents,
			Currency:   currency,
		},
	}
	if err := s.notifier.Dispatch(ctx, msg); err != nil {
		s.logger.Error().Err(err).Msg("receipt dispatch failed")
	} else if s.metrics != nil {
		s.metrics.NotificationsSent.WithLabelValues(string(notify.KindReceipt)).Inc()
	}
}

// notifyRestartFailed tells the buyer once per suppression window that
// the restart charge failed.
func (s *Service) notifyRestartFailed(ctx context.Context, sub *domain.Subscription, product *domain.Product, email, message string) {
	if s.notifier == nil || email == "" {
		return
	}
	msg := notify.Message{
		Kind: notify.KindRestartFailed,
		Payload: notify.SubscriptionPayload{
			SubscriptionID: sub.ID,
			BuyerEmail:     email,
			ProductName:    product.Name,
			ErrorMessage:   message,
		},
	}
	if err := s.notifier.DispatchOnce(ctx, sub.ID.String(), msg); err != nil {
		s.logger.Error().Err(err).Msg("restart failure notice dispatch failed")
	}
}

// notifyRestartSucceeded tells the buyer their subscription is live
// again, once per suppression window.
func (s *Service) notifyRestartSucceeded(ctx context.Context, sub *domain.Subscription, product *domain.Product, email string) {
	if s.notifier == nil || email == "" {
		return
	}
	msg := notify.Message{
		Kind: notify.KindRestartSucceeded,
		Payload: notify.SubscriptionPayload{
			SubscriptionID: sub.ID,
			BuyerEmail:     email,
			ProductName:    product.Name,
		},
	}
	if err := s.notifier.DispatchOnce(ctx, sub.ID.String(), msg); err != nil {
		s.logger.Error().Err(err).Msg("restart success notice dispatch failed")
	}
}

func (s *Service) notifyRestartPending(ctx context.Context, sub *domain.Subscription, product *domain.Product, email string) {
	if s.notifier == nil || email == "" {
		return
	}
	msg := notify.Message{
		Kind: notify.KindRestartPending,
		Payload: notify.SubscriptionPayload{
			SubscriptionID: sub.ID,
			BuyerEmail:     email,
			ProductName:    product.Name,
		},
	}
	if err := s.notifier.DispatchOnce(ctx, sub.ID.String(), msg); err != nil {
		s.logger.Error().Err(err).Msg("restart pending notice dispatch failed")
	}
}

func (s *Service) countItem(path string, valueCents int64) {
	if s.metrics == nil {
		return
	}
	s.metrics.CheckoutItems.WithLabelValues(path).Inc()
	if valueCents > 0 {
		s.metrics.CheckoutItemValue.WithLabelValues(path).Observe(float64(valueCents))
	}
}

func (s *Service) countChallenge(processor, origin string) {
	if s.metrics != nil {
		s.metrics.ChallengeRaised.WithLabelValues(processor, origin).Inc()
	}
}

func buyerType(buyerID *uuid.UUID) string {
	if buyerID != nil {
		return "account"
	}
	return "guest"
}

func itemPath(restart bool) string {
	if restart {
		return "restart"
	}
	return "fresh"
}
