package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kuitang/plansite/internal/db"
	"github.com/kuitang/plansite/internal/errs"
	"github.com/kuitang/plansite/internal/obs"
	"github.com/kuitang/plansite/internal/terms"
)

// Subscription statuses stored in the subscriptions table.
const (
	StatusActive   = "active"
	StatusPastDue  = "past_due"
	StatusCanceled = "canceled"
	StatusExpired  = "expired"
)

// ErrNoSubscription is returned when a user has never subscribed.
var ErrNoSubscription = errs.New(errs.NotFound, "no subscription")

// Subscription is a user's current plan.
type Subscription struct {
	UserID               string
	Term                 terms.Term
	Status               string
	StripeCustomerID     string
	StripeSubscriptionID string
	PeriodStart          time.Time
	PeriodEnd            time.Time
}

// Active reports whether the subscription currently grants the subscribed tier.
func (s *Subscription) Active() bool {
	return s != nil && (s.Status == StatusActive || s.Status == "trialing")
}

// SubscriptionStore reads and writes subscriptions in the application database.
type SubscriptionStore struct {
	db  *db.DB
	now func() time.Time
}

// NewSubscriptionStore creates a store on database.
func NewSubscriptionStore(database *db.DB) *SubscriptionStore {
	return &SubscriptionStore{db: database, now: time.Now}
}

// Activation describes a completed purchase.
type Activation struct {
	UserID               string
	Term                 terms.Term
	StripeCustomerID     string
	StripeSubscriptionID string
	Start                time.Time
}

// Activate records an active subscription starting at a.Start, replacing any previous one.
// The period end is derived from the term.
func (s *SubscriptionStore) Activate(ctx context.Context, a Activation) error {
	if !a.Term.Valid() {
		return errs.New(errs.InvalidArgument, fmt.Sprintf("unknown billing term %q", a.Term))
	}
	if a.Start.IsZero() {
		a.Start = s.now()
	}
	err := s.db.UpsertSubscription(ctx, db.Subscription{
		UserID:               a.UserID,
		Term:                 string(a.Term),
		Status:               StatusActive,
		StripeCustomerID:     nullString(a.StripeCustomerID),
		StripeSubscriptionID: nullString(a.StripeSubscriptionID),
		PeriodStart:          a.Start.Unix(),
		PeriodEnd:            terms.PeriodEnd(a.Term, a.Start).Unix(),
		UpdatedAt:            s.now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	if a.StripeCustomerID != "" {
		if err := s.db.MapStripeCustomer(ctx, a.StripeCustomerID, a.UserID); err != nil {
			return fmt.Errorf("map stripe customer: %w", err)
		}
	}
	obs.From(ctx).Info("subscription activated", "user_id", a.UserID, "term", string(a.Term))
	return nil
}

// Get returns the user's subscription or ErrNoSubscription.
func (s *SubscriptionStore) Get(ctx context.Context, userID string) (*Subscription, error) {
	row, err := s.db.GetSubscription(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoSubscription
		}
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return fromRow(row), nil
}

// IsActive reports whether userID has an active subscription. Lookup errors count as inactive.
func (s *SubscriptionStore) IsActive(ctx context.Context, userID string) bool {
	if userID == "" {
		return false
	}
	sub, err := s.Get(ctx, userID)
	return err == nil && sub.Active()
}

// SetStatusByStripeID updates the status of the subscription with the Stripe ID.
func (s *SubscriptionStore) SetStatusByStripeID(ctx context.Context, stripeSubscriptionID, status string) error {
	err := s.db.UpdateSubscriptionStatus(ctx, stripeSubscriptionID, status, s.now())
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNoSubscription
	}
	return err
}

// SetStatus updates the status of userID's subscription.
func (s *SubscriptionStore) SetStatus(ctx context.Context, userID, status string) error {
	err := s.db.SetSubscriptionStatus(ctx, userID, status, s.now())
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNoSubscription
	}
	return err
}

// UserForCustomer maps a Stripe customer back to a user. Returns "" when unmapped.
func (s *SubscriptionStore) UserForCustomer(ctx context.Context, stripeCustomerID string) (string, error) {
	userID, err := s.db.UserIDForStripeCustomer(ctx, stripeCustomerID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return userID, err
}

// SavePending stores a purchase made before the buyer registered.
func (s *SubscriptionStore) SavePending(ctx context.Context, email string, a Activation) error {
	return s.db.UpsertPendingSubscription(ctx, db.PendingSubscription{
		Email:              email,
		Term:               string(a.Term),
		StripeCustomerID:   a.StripeCustomerID,
		SubscriptionID:     nullString(a.StripeSubscriptionID),
		SubscriptionStatus: StatusActive,
		CreatedAt:          a.Start.Unix(),
	})
}

// ClaimPending attaches a pending purchase for email to userID.
// Returns false when nothing was pending.
func (s *SubscriptionStore) ClaimPending(ctx context.Context, userID, email string) (bool, error) {
	p, err := s.db.ClaimPendingSubscription(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("claim pending subscription: %w", err)
	}
	err = s.Activate(ctx, Activation{
		UserID:               userID,
		Term:                 terms.Term(p.Term),
		StripeCustomerID:     p.StripeCustomerID,
		StripeSubscriptionID: p.SubscriptionID.String,
		Start:                time.Unix(p.CreatedAt, 0),
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// ExpireLapsed marks active subscriptions whose period has run out as expired.
// Stripe renewals arrive as customer.subscription.updated and reactivate them.
func (s *SubscriptionStore) ExpireLapsed(ctx context.Context) (int, error) {
	lapsed, err := s.db.ListLapsedSubscriptions(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("list lapsed subscriptions: %w", err)
	}
	for _, row := range lapsed {
		if err := s.db.SetSubscriptionStatus(ctx, row.UserID, StatusExpired, s.now()); err != nil {
			return 0, fmt.Errorf("expire subscription for %s: %w", row.UserID, err)
		}
	}
	return len(lapsed), nil
}

func fromRow(row db.Subscription) *Subscription {
	return &Subscription{
		UserID:               row.UserID,
		Term:                 terms.Term(row.Term),
		Status:               row.Status,
		StripeCustomerID:     row.StripeCustomerID.String,
		StripeSubscriptionID: row.StripeSubscriptionID.String,
		PeriodStart:          time.Unix(row.PeriodStart, 0).UTC(),
		PeriodEnd:            time.Unix(row.PeriodEnd, 0).UTC(),
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
