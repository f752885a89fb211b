package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/kuitang/plansite/internal/errs"
	"github.com/kuitang/plansite/internal/obs"
	"github.com/kuitang/plansite/internal/terms"
)

// HandleWebhook verifies a Stripe event, skips events already processed, and
// routes the rest. Unhandled event types are recorded and ignored.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, sigHeader string) error {
	event, err := webhook.ConstructEvent(payload, sigHeader, s.config.WebhookSecret)
	if err != nil {
		return errs.Wrap(errs.InvalidArgument, "invalid webhook signature", fmt.Errorf("verify webhook signature: %w", err))
	}
	log := obs.From(ctx).With("event_id", event.ID, "event_type", string(event.Type))

	done, err := s.store.db.IsWebhookProcessed(ctx, event.ID)
	if err != nil {
		return fmt.Errorf("check webhook idempotency: %w", err)
	}
	if done {
		log.Info("webhook already processed")
		return nil
	}

	switch event.Type {
	case "checkout.session.completed":
		err = s.handleCheckoutCompleted(ctx, event)
	case "customer.subscription.updated":
		err = s.handleSubscriptionUpdated(ctx, event)
	case "customer.subscription.deleted":
		err = s.handleSubscriptionDeleted(ctx, event)
	case "invoice.payment_failed":
		err = s.handlePaymentFailed(ctx, event)
	default:
		log.Info("unhandled webhook event type")
	}
	if err != nil {
		return fmt.Errorf("handle %s: %w", event.Type, err)
	}

	if err := s.store.db.MarkWebhookProcessed(ctx, event.ID, time.Now()); err != nil {
		log.Warn("failed to mark webhook processed", "error", err)
	}
	return nil
}

// termFromMetadata reads the purchased term, defaulting to monthly for sessions
// created before the term was recorded.
func termFromMetadata(ctx context.Context, md map[string]string) terms.Term {
	t, err := terms.Parse(md[MetadataTermKey])
	if err != nil {
		obs.From(ctx).Warn("checkout without a valid term, assuming monthly", "term", md[MetadataTermKey])
		return terms.TermMonthly
	}
	return t
}

func (s *Service) handleCheckoutCompleted(ctx context.Context, event stripe.Event) error {
	var cs stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
		return fmt.Errorf("unmarshal checkout session: %w", err)
	}

	a := Activation{
		UserID: cs.ClientReferenceID,
		Term:   termFromMetadata(ctx, cs.Metadata),
		Start:  time.Unix(event.Created, 0),
	}
	if cs.Customer != nil {
		a.StripeCustomerID = cs.Customer.ID
	}
	if cs.Subscription != nil {
		a.StripeSubscriptionID = cs.Subscription.ID
	}
	email := ""
	if cs.CustomerDetails != nil {
		email = cs.CustomerDetails.Email
	}

	log := obs.From(ctx).With("stripe_customer_id", a.StripeCustomerID, "term", string(a.Term))
	switch {
	case a.UserID != "":
		if err := s.store.Activate(ctx, a); err != nil {
			return err
		}
		log.Info("checkout completed", "user_id", a.UserID)
	case email != "":
		if err := s.store.SavePending(ctx, email, a); err != nil {
			return fmt.Errorf("save pending subscription: %w", err)
		}
		log.Info("checkout completed without account, stored as pending")
	default:
		log.Warn("checkout completed with neither user nor email")
	}
	return nil
}

func (s *Service) handleSubscriptionUpdated(ctx context.Context, event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("unmarshal subscription: %w", err)
	}
	userID, err := s.userForSubscription(ctx, &sub)
	if err != nil || userID == "" {
		return err
	}

	status := string(sub.Status)
	if status != StatusActive && status != "trialing" {
		return s.setStatus(ctx, userID, status)
	}

	// Active again (renewal or term switch from the portal): restart the period.
	a := Activation{
		UserID:               userID,
		StripeCustomerID:     sub.Customer.ID,
		StripeSubscriptionID: sub.ID,
		Start:                time.Unix(event.Created, 0),
	}
	if t, err := terms.Parse(sub.Metadata[MetadataTermKey]); err == nil {
		a.Term = t
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		if item.Price != nil {
			if t, ok := s.config.TermForPrice(item.Price.ID); ok {
				a.Term = t
			}
		}
		if item.CurrentPeriodStart > 0 {
			a.Start = time.Unix(item.CurrentPeriodStart, 0)
		}
	}
	if a.Term == "" {
		a.Term = s.storedTerm(ctx, userID)
	}
	return s.store.Activate(ctx, a)
}

// storedTerm is the term userID already holds, or monthly when nothing is stored.
func (s *Service) storedTerm(ctx context.Context, userID string) terms.Term {
	current, err := s.store.Get(ctx, userID)
	if err != nil {
		obs.From(ctx).Warn("subscription update without a known term, assuming monthly", "user_id", userID, "error", err)
		return terms.TermMonthly
	}
	return current.Term
}

func (s *Service) handleSubscriptionDeleted(ctx context.Context, event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("unmarshal subscription: %w", err)
	}
	userID, err := s.userForSubscription(ctx, &sub)
	if err != nil {
		return err
	}
	if userID != "" {
		return s.setStatus(ctx, userID, StatusCanceled)
	}
	if sub.ID == "" {
		return nil
	}

	err = s.store.SetStatusByStripeID(ctx, sub.ID, StatusCanceled)
	if errors.Is(err, ErrNoSubscription) {
		obs.From(ctx).Info("deleted subscription not found", "stripe_subscription_id", sub.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("set subscription status: %w", err)
	}
	obs.From(ctx).Info("subscription canceled by stripe id", "stripe_subscription_id", sub.ID)
	return nil
}

func (s *Service) handlePaymentFailed(ctx context.Context, event stripe.Event) error {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return fmt.Errorf("unmarshal invoice: %w", err)
	}
	if invoice.Customer == nil || invoice.Customer.ID == "" {
		return nil
	}
	userID, err := s.store.UserForCustomer(ctx, invoice.Customer.ID)
	if err != nil {
		return fmt.Errorf("get stripe customer map: %w", err)
	}
	if userID == "" {
		obs.From(ctx).Info("payment failure for unmapped customer", "stripe_customer_id", invoice.Customer.ID)
		return nil
	}
	return s.setStatus(ctx, userID, StatusPastDue)
}

func (s *Service) userForSubscription(ctx context.Context, sub *stripe.Subscription) (string, error) {
	if sub.Customer == nil {
		return "", nil
	}
	userID, err := s.store.UserForCustomer(ctx, sub.Customer.ID)
	if err != nil {
		return "", fmt.Errorf("get stripe customer map: %w", err)
	}
	if userID == "" {
		obs.From(ctx).Info("no user mapping for stripe customer, skipping", "stripe_customer_id", sub.Customer.ID)
	}
	return userID, nil
}

func (s *Service) setStatus(ctx context.Context, userID, status string) error {
	err := s.store.SetStatus(ctx, userID, status)
	if errors.Is(err, ErrNoSubscription) {
		obs.From(ctx).Info("status change for user without subscription", "user_id", userID, "status", status)
		return nil
	}
	if err != nil {
		return fmt.Errorf("set subscription status: %w", err)
	}
	obs.From(ctx).Info("subscription status changed", "user_id", userID, "status", status)
	return nil
}
