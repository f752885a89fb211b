package db

import (
	"context"
	"database/sql"
	"time"
)

// User is a row of the users table.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    int64
}

// Session is a row of the sessions table.
type Session struct {
	SessionID string
	UserID    string
	ExpiresAt int64
	CreatedAt int64
}

// Subscription is a row of the subscriptions table.
type Subscription struct {
	UserID               string
	Term                 string
	Status               string
	StripeCustomerID     sql.NullString
	StripeSubscriptionID sql.NullString
	PeriodStart          int64
	PeriodEnd            int64
	UpdatedAt            int64
}

// PendingSubscription is a purchase waiting for its buyer to register.
type PendingSubscription struct {
	Email              string
	Term               string
	StripeCustomerID   string
	SubscriptionID     sql.NullString
	SubscriptionStatus string
	CreatedAt          int64
}

// Users

func (d *DB) CreateUser(ctx context.Context, u User) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		u.ID, u.Email, u.PasswordHash, u.CreatedAt)
	return err
}

func (d *DB) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return d.scanUser(d.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, created_at FROM users WHERE email = ?`, email))
}

func (d *DB) GetUserByID(ctx context.Context, id string) (User, error) {
	return d.scanUser(d.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, created_at FROM users WHERE id = ?`, id))
}

func (d *DB) scanUser(row *sql.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	return u, err
}

// Sessions

func (d *DB) UpsertSession(ctx context.Context, s Session) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, user_id, expires_at, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET user_id = excluded.user_id, expires_at = excluded.expires_at`,
		s.SessionID, s.UserID, s.ExpiresAt, s.CreatedAt)
	return err
}

// GetValidSession returns sql.ErrNoRows for unknown or expired sessions.
func (d *DB) GetValidSession(ctx context.Context, sessionID string, now time.Time) (Session, error) {
	var s Session
	err := d.db.QueryRowContext(ctx,
		`SELECT session_id, user_id, expires_at, created_at FROM sessions WHERE session_id = ? AND expires_at > ?`,
		sessionID, now.Unix()).Scan(&s.SessionID, &s.UserID, &s.ExpiresAt, &s.CreatedAt)
	return s, err
}

func (d *DB) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID)
	return err
}

func (d *DB) DeleteSessionsByUserID(ctx context.Context, userID string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = ?`, userID)
	return err
}

// DeleteExpiredSessions removes sessions expired at now and returns how many went.
func (d *DB) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := d.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, now.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Subscriptions

func (d *DB) UpsertSubscription(ctx context.Context, s Subscription) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO subscriptions (user_id, term, status, stripe_customer_id, stripe_subscription_id, period_start, period_end, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   term = excluded.term,
		   status = excluded.status,
		   stripe_customer_id = excluded.stripe_customer_id,
		   stripe_subscription_id = excluded.stripe_subscription_id,
		   period_start = excluded.period_start,
		   period_end = excluded.period_end,
		   updated_at = excluded.updated_at`,
		s.UserID, s.Term, s.Status, s.StripeCustomerID, s.StripeSubscriptionID, s.PeriodStart, s.PeriodEnd, s.UpdatedAt)
	return err
}

const subscriptionColumns = `user_id, term, status, stripe_customer_id, stripe_subscription_id, period_start, period_end, updated_at`

func scanSubscription(sc interface{ Scan(...any) error }) (Subscription, error) {
	var s Subscription
	err := sc.Scan(&s.UserID, &s.Term, &s.Status, &s.StripeCustomerID, &s.StripeSubscriptionID, &s.PeriodStart, &s.PeriodEnd, &s.UpdatedAt)
	return s, err
}

func (d *DB) GetSubscription(ctx context.Context, userID string) (Subscription, error) {
	return scanSubscription(d.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = ?`, userID))
}

func (d *DB) GetSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (Subscription, error) {
	return scanSubscription(d.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE stripe_subscription_id = ?`, stripeSubscriptionID))
}

// UpdateSubscriptionStatus returns sql.ErrNoRows when no subscription carries the Stripe ID.
func (d *DB) UpdateSubscriptionStatus(ctx context.Context, stripeSubscriptionID, status string, now time.Time) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE subscriptions SET status = ?, updated_at = ? WHERE stripe_subscription_id = ?`,
		status, now.Unix(), stripeSubscriptionID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SetSubscriptionStatus updates the status of userID's subscription.
func (d *DB) SetSubscriptionStatus(ctx context.Context, userID, status string, now time.Time) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE subscriptions SET status = ?, updated_at = ? WHERE user_id = ?`,
		status, now.Unix(), userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListLapsedSubscriptions returns active subscriptions whose term period,
// counted from period_start with the term_days SQL function, ended before now.
func (d *DB) ListLapsedSubscriptions(ctx context.Context, now time.Time) ([]Subscription, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE status = 'active' AND term_days(term) > 0
		   AND period_start + term_days(term) * 86400 < ?
		 ORDER BY user_id`, now.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Stripe customer map

func (d *DB) MapStripeCustomer(ctx context.Context, stripeCustomerID, userID string) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO stripe_customer_map (stripe_customer_id, user_id) VALUES (?, ?)
		 ON CONFLICT(stripe_customer_id) DO UPDATE SET user_id = excluded.user_id`,
		stripeCustomerID, userID)
	return err
}

func (d *DB) UserIDForStripeCustomer(ctx context.Context, stripeCustomerID string) (string, error) {
	var userID string
	err := d.db.QueryRowContext(ctx,
		`SELECT user_id FROM stripe_customer_map WHERE stripe_customer_id = ?`, stripeCustomerID).Scan(&userID)
	return userID, err
}

// Pending subscriptions

func (d *DB) UpsertPendingSubscription(ctx context.Context, p PendingSubscription) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO pending_subscriptions (email, term, stripe_customer_id, subscription_id, subscription_status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(email) DO UPDATE SET
		   term = excluded.term,
		   stripe_customer_id = excluded.stripe_customer_id,
		   subscription_id = excluded.subscription_id,
		   subscription_status = excluded.subscription_status`,
		p.Email, p.Term, p.StripeCustomerID, p.SubscriptionID, p.SubscriptionStatus, p.CreatedAt)
	return err
}

// ClaimPendingSubscription reads and deletes the pending row for email in one transaction.
// Returns sql.ErrNoRows when nothing is pending.
func (d *DB) ClaimPendingSubscription(ctx context.Context, email string) (PendingSubscription, error) {
	var p PendingSubscription
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	err = tx.QueryRowContext(ctx,
		`SELECT email, term, stripe_customer_id, subscription_id, subscription_status, created_at
		 FROM pending_subscriptions WHERE email = ?`, email).
		Scan(&p.Email, &p.Term, &p.StripeCustomerID, &p.SubscriptionID, &p.SubscriptionStatus, &p.CreatedAt)
	if err != nil {
		return p, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_subscriptions WHERE email = ?`, email); err != nil {
		return p, err
	}
	return p, tx.Commit()
}

// Webhook idempotency

func (d *DB) IsWebhookProcessed(ctx context.Context, eventID string) (bool, error) {
	var n int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM processed_webhook_events WHERE event_id = ?`, eventID).Scan(&n)
	return n > 0, err
}

// MarkWebhookProcessed records eventID; a repeated mark is a no-op.
func (d *DB) MarkWebhookProcessed(ctx context.Context, eventID string, now time.Time) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO processed_webhook_events (event_id, processed_at) VALUES (?, ?)`,
		eventID, now.Unix())
	return err
}
