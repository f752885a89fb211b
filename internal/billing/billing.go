// Package billing sells the plan terms through Stripe and tracks subscriptions.
package billing

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v82"
	portalsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"

	"github.com/kuitang/plansite/internal/errs"
	"github.com/kuitang/plansite/internal/obs"
	"github.com/kuitang/plansite/internal/terms"
)

// MetadataTermKey carries the purchased term on checkout sessions and subscriptions.
const MetadataTermKey = "term"

// BillingService defines the billing operations interface.
type BillingService interface {
	CreateCheckoutSession(ctx context.Context, userID, email string, term terms.Term, baseURL string) (clientSecret string, err error)
	CreatePortalSession(ctx context.Context, stripeCustomerID, returnURL string) (portalURL string, err error)
	GetSessionStatus(ctx context.Context, sessionID string) (status, customerEmail string, err error)
	HandleWebhook(ctx context.Context, payload []byte, sigHeader string) error
	PublishableKey() string
	IsMock() bool
}

// Config holds Stripe billing configuration.
type Config struct {
	SecretKey      string
	PublishableKey string
	WebhookSecret  string
	// Prices maps each sold term to its Stripe price ID.
	Prices map[terms.Term]string
}

// TermForPrice reverse-maps a Stripe price ID to its term.
func (c Config) TermForPrice(priceID string) (terms.Term, bool) {
	for t, id := range c.Prices {
		if id == priceID && id != "" {
			return t, true
		}
	}
	return "", false
}

// Service implements BillingService with real Stripe API calls.
type Service struct {
	config Config
	store  *SubscriptionStore
}

// NewService creates a real Stripe billing service.
func NewService(cfg Config, store *SubscriptionStore) *Service {
	stripe.Key = cfg.SecretKey
	obs.Pkg("billing").Info("stripe billing service initialized", "prices", len(cfg.Prices))
	return &Service{
		config: cfg,
		store:  store,
	}
}

// IsMock returns false for real service.
func (s *Service) IsMock() bool { return false }

// PublishableKey returns the Stripe publishable key for client-side JS.
func (s *Service) PublishableKey() string {
	return s.config.PublishableKey
}

// CreateCheckoutSession creates a Stripe Embedded Checkout session for term.
// userID may be empty for logged-out purchases.
func (s *Service) CreateCheckoutSession(ctx context.Context, userID, email string, term terms.Term, baseURL string) (string, error) {
	priceID := s.config.Prices[term]
	if !term.Valid() || priceID == "" {
		return "", errs.New(errs.InvalidArgument, fmt.Sprintf("invalid plan term: %q", term))
	}

	metadata := map[string]string{MetadataTermKey: string(term)}
	params := &stripe.CheckoutSessionParams{
		UIMode: stripe.String("embedded"),
		Mode:   stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		Metadata: metadata,
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: metadata,
		},
		RedirectOnCompletion: stripe.String("always"),
		ReturnURL:            stripe.String(baseURL + "/billing/success?session_id={CHECKOUT_SESSION_ID}"),
	}
	params.Context = ctx

	if userID != "" {
		params.ClientReferenceID = stripe.String(userID)
	}
	if email != "" {
		params.CustomerEmail = stripe.String(email)
	}

	sess, err := checkoutsession.New(params)
	if err != nil {
		return "", errs.Wrap(errs.Unavailable, "payment provider unavailable", fmt.Errorf("create checkout session: %w", err))
	}
	obs.From(ctx).Info("checkout session created", "term", string(term))
	return sess.ClientSecret, nil
}

// CreatePortalSession creates a Stripe Customer Portal session.
func (s *Service) CreatePortalSession(ctx context.Context, stripeCustomerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(stripeCustomerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx

	sess, err := portalsession.New(params)
	if err != nil {
		return "", errs.Wrap(errs.Unavailable, "payment provider unavailable", fmt.Errorf("create portal session: %w", err))
	}
	return sess.URL, nil
}

// GetSessionStatus retrieves the status of a checkout session.
func (s *Service) GetSessionStatus(ctx context.Context, sessionID string) (string, string, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	sess, err := checkoutsession.Get(sessionID, params)
	if err != nil {
		return "", "", errs.Wrap(errs.Unavailable, "payment provider unavailable", fmt.Errorf("get checkout session: %w", err))
	}

	var customerEmail string
	if sess.CustomerDetails != nil {
		customerEmail = sess.CustomerDetails.Email
	}
	return string(sess.Status), customerEmail, nil
}
