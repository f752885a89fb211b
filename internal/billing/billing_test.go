package billing

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"
	"pgregory.net/rapid"

	"github.com/kuitang/plansite/internal/db"
	"github.com/kuitang/plansite/internal/errs"
	"github.com/kuitang/plansite/internal/terms"
	"github.com/kuitang/plansite/internal/testdb"
)

const testWebhookSecret = "whsec_plansite_test"

func newTestStore(t *testing.T) (*SubscriptionStore, *db.DB) {
	t.Helper()
	database := testdb.New(t)
	return NewSubscriptionStore(database), database
}

func createUser(t *testing.T, database *db.DB, id string) {
	t.Helper()
	testdb.CreateUser(t, database, id, id+"@example.com")
}

func newTestService(t *testing.T) (*Service, *SubscriptionStore, *db.DB) {
	t.Helper()
	store, database := newTestStore(t)
	svc := &Service{
		config: Config{
			WebhookSecret: testWebhookSecret,
			Prices: map[terms.Term]string{
				terms.TermMonthly:    "price_monthly",
				terms.TermAnnually:   "price_annual",
				terms.TermBiennially: "price_biennial",
			},
		},
		store: store,
	}
	return svc, store, database
}

func signedEvent(t *testing.T, id, eventType string, object map[string]any) ([]byte, string) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":          id,
		"object":      "event",
		"api_version": stripe.APIVersion,
		"type":        eventType,
		"created":     time.Now().Unix(),
		"data":        map[string]any{"object": object},
	})
	require.NoError(t, err)
	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	return payload, signed.Header
}

func testService_CreateCheckoutSession_InvalidTermRejected(t *rapid.T) {
	svc := &Service{config: Config{Prices: map[terms.Term]string{terms.TermMonthly: "price_monthly"}}}

	term := rapid.StringMatching(`[A-Z_]{1,24}`).Filter(func(s string) bool {
		return s != string(terms.TermMonthly)
	}).Draw(t, "term")
	_, err := svc.CreateCheckoutSession(context.Background(), "user-1", "user@example.com", terms.Term(term), "https://example.com")
	if err == nil {
		t.Fatal("expected invalid term error")
	}
	if errs.CodeOf(err) != errs.InvalidArgument {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestService_CreateCheckoutSession_InvalidTermRejected(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testService_CreateCheckoutSession_InvalidTermRejected)
}

func TestService_PublishableKeyAndIsMock(t *testing.T) {
	t.Parallel()
	svc := &Service{config: Config{PublishableKey: "pk_test_123"}}
	require.False(t, svc.IsMock())
	require.Equal(t, "pk_test_123", svc.PublishableKey())
	require.True(t, NewMockService(nil).IsMock())
}

func TestConfig_TermForPrice(t *testing.T) {
	cfg := Config{Prices: map[terms.Term]string{terms.TermAnnually: "price_a", terms.TermMonthly: ""}}
	got, ok := cfg.TermForPrice("price_a")
	require.True(t, ok)
	require.Equal(t, terms.TermAnnually, got)
	_, ok = cfg.TermForPrice("")
	require.False(t, ok)
}

func TestService_HandleWebhook_InvalidSignatureRejected(t *testing.T) {
	svc, _, _ := newTestService(t)
	err := svc.HandleWebhook(context.Background(), []byte(`{"id":"evt_invalid","object":"event"}`), "bad-header")
	require.Error(t, err)
	require.Equal(t, errs.InvalidArgument, errs.CodeOf(err))
	require.Equal(t, "invalid webhook signature", err.Error())
	require.ErrorContains(t, errors.Unwrap(err), "verify webhook signature")
}

func TestService_HandleWebhook_IdempotentForRepeatedEventID(t *testing.T) {
	svc, _, database := newTestService(t)
	ctx := context.Background()
	payload, header := signedEvent(t, "evt_repeat_1", "test.unhandled", map[string]any{})

	require.NoError(t, svc.HandleWebhook(ctx, payload, header))
	require.NoError(t, svc.HandleWebhook(ctx, payload, header))

	var count int
	require.NoError(t, database.DB().QueryRow(`SELECT COUNT(*) FROM processed_webhook_events WHERE event_id = ?`, "evt_repeat_1").Scan(&count))
	require.Equal(t, 1, count)
}

func TestService_HandleWebhook_CheckoutActivatesTerm(t *testing.T) {
	svc, store, database := newTestService(t)
	ctx := context.Background()
	createUser(t, database, "u1")

	payload, header := signedEvent(t, "evt_checkout_1", "checkout.session.completed", map[string]any{
		"id":                  "cs_1",
		"object":              "checkout.session",
		"client_reference_id": "u1",
		"customer":            "cus_1",
		"subscription":        "sub_1",
		"metadata":            map[string]string{MetadataTermKey: string(terms.TermAnnually)},
	})
	require.NoError(t, svc.HandleWebhook(ctx, payload, header))

	sub, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, terms.TermAnnually, sub.Term)
	require.True(t, sub.Active())
	require.Equal(t, "sub_1", sub.StripeSubscriptionID)
	require.Equal(t, 365*24*time.Hour, sub.PeriodEnd.Sub(sub.PeriodStart))

	userID, err := store.UserForCustomer(ctx, "cus_1")
	require.NoError(t, err)
	require.Equal(t, "u1", userID)
}

func TestService_HandleWebhook_LoggedOutCheckoutIsClaimable(t *testing.T) {
	svc, store, database := newTestService(t)
	ctx := context.Background()

	payload, header := signedEvent(t, "evt_checkout_2", "checkout.session.completed", map[string]any{
		"id":               "cs_2",
		"object":           "checkout.session",
		"customer":         "cus_2",
		"subscription":     "sub_2",
		"customer_details": map[string]any{"email": "later@example.com"},
		"metadata":         map[string]string{MetadataTermKey: "biennial"},
	})
	require.NoError(t, svc.HandleWebhook(ctx, payload, header))

	createUser(t, database, "u2")
	claimed, err := store.ClaimPending(ctx, "u2", "later@example.com")
	require.NoError(t, err)
	require.True(t, claimed)

	sub, err := store.Get(ctx, "u2")
	require.NoError(t, err)
	require.Equal(t, terms.TermBiennially, sub.Term)

	claimed, err = store.ClaimPending(ctx, "u2", "later@example.com")
	require.NoError(t, err)
	require.False(t, claimed)
}

func TestService_HandleWebhook_StatusTransitions(t *testing.T) {
	svc, store, database := newTestService(t)
	ctx := context.Background()
	createUser(t, database, "u3")
	require.NoError(t, store.Activate(ctx, Activation{
		UserID: "u3", Term: terms.TermMonthly, StripeCustomerID: "cus_3", StripeSubscriptionID: "sub_3",
	}))

	payload, header := signedEvent(t, "evt_fail_1", "invoice.payment_failed", map[string]any{
		"id": "in_1", "object": "invoice", "customer": "cus_3",
	})
	require.NoError(t, svc.HandleWebhook(ctx, payload, header))
	sub, err := store.Get(ctx, "u3")
	require.NoError(t, err)
	require.Equal(t, StatusPastDue, sub.Status)

	// Portal switch to the biennial price reactivates on the new term.
	payload, header = signedEvent(t, "evt_upd_1", "customer.subscription.updated", map[string]any{
		"id": "sub_3", "object": "subscription", "customer": "cus_3", "status": "active",
		"items": map[string]any{
			"object": "list",
			"data": []map[string]any{{
				"id": "si_1", "object": "subscription_item",
				"price":                map[string]any{"id": "price_biennial", "object": "price"},
				"current_period_start": 1_700_000_000,
			}},
		},
	})
	require.NoError(t, svc.HandleWebhook(ctx, payload, header))
	sub, err = store.Get(ctx, "u3")
	require.NoError(t, err)
	require.Equal(t, StatusActive, sub.Status)
	require.Equal(t, terms.TermBiennially, sub.Term)
	require.Equal(t, int64(1_700_000_000), sub.PeriodStart.Unix())

	payload, header = signedEvent(t, "evt_del_1", "customer.subscription.deleted", map[string]any{
		"id": "sub_3", "object": "subscription", "customer": "cus_3", "status": "canceled",
	})
	require.NoError(t, svc.HandleWebhook(ctx, payload, header))
	sub, err = store.Get(ctx, "u3")
	require.NoError(t, err)
	require.Equal(t, StatusCanceled, sub.Status)
	require.False(t, store.IsActive(ctx, "u3"))
}

func TestService_HandleWebhook_UnmappedCustomerIgnored(t *testing.T) {
	svc, _, _ := newTestService(t)
	payload, header := signedEvent(t, "evt_del_2", "customer.subscription.deleted", map[string]any{
		"id": "sub_x", "object": "subscription", "customer": "cus_unknown", "status": "canceled",
	})
	require.NoError(t, svc.HandleWebhook(context.Background(), payload, header))
}

func TestService_HandleWebhook_UpdateWithoutTermKeepsStoredTerm(t *testing.T) {
	svc, store, database := newTestService(t)
	ctx := context.Background()
	createUser(t, database, "u6")
	require.NoError(t, store.Activate(ctx, Activation{
		UserID: "u6", Term: terms.TermBiennially, StripeCustomerID: "cus_6", StripeSubscriptionID: "sub_6",
	}))

	payload, header := signedEvent(t, "evt_upd_6", "customer.subscription.updated", map[string]any{
		"id": "sub_6", "object": "subscription", "customer": "cus_6", "status": "active",
		"items": map[string]any{
			"object": "list",
			"data": []map[string]any{{
				"id": "si_6", "object": "subscription_item",
				"price":                map[string]any{"id": "price_retired", "object": "price"},
				"current_period_start": 1_700_000_000,
			}},
		},
	})
	require.NoError(t, svc.HandleWebhook(ctx, payload, header))

	sub, err := store.Get(ctx, "u6")
	require.NoError(t, err)
	require.Equal(t, terms.TermBiennially, sub.Term)
	require.Equal(t, 730*24*time.Hour, sub.PeriodEnd.Sub(sub.PeriodStart))
	require.Equal(t, int64(1_700_000_000), sub.PeriodStart.Unix())
}

func TestService_HandleWebhook_DeleteFallsBackToSubscriptionID(t *testing.T) {
	svc, store, database := newTestService(t)
	ctx := context.Background()
	createUser(t, database, "u7")
	require.NoError(t, store.Activate(ctx, Activation{
		UserID: "u7", Term: terms.TermAnnually, StripeCustomerID: "cus_7", StripeSubscriptionID: "sub_7",
	}))

	payload, header := signedEvent(t, "evt_del_7", "customer.subscription.deleted", map[string]any{
		"id": "sub_7", "object": "subscription", "customer": "cus_replaced", "status": "canceled",
	})
	require.NoError(t, svc.HandleWebhook(ctx, payload, header))

	sub, err := store.Get(ctx, "u7")
	require.NoError(t, err)
	require.Equal(t, StatusCanceled, sub.Status)
	require.False(t, store.IsActive(ctx, "u7"))
}

func TestSubscriptionStore_SetStatusByStripeIDUnknown(t *testing.T) {
	store, _ := newTestStore(t)
	err := store.SetStatusByStripeID(context.Background(), "sub_missing", StatusCanceled)
	require.ErrorIs(t, err, ErrNoSubscription)
}

func TestMockService_CheckoutActivatesSignedInUser(t *testing.T) {
	store, database := newTestStore(t)
	ctx := context.Background()
	createUser(t, database, "u4")
	mock := NewMockService(store)

	secret, err := mock.CreateCheckoutSession(ctx, "u4", "u4@example.com", terms.TermAnnually, "http://localhost")
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(secret, "_secret_annual"))
	require.True(t, store.IsActive(ctx, "u4"))

	status, email, err := mock.GetSessionStatus(ctx, strings.TrimSuffix(secret, "_secret_annual"))
	require.NoError(t, err)
	require.Equal(t, "complete", status)
	require.Equal(t, "u4@example.com", email)

	_, err = mock.CreateCheckoutSession(ctx, "u4", "", terms.Term("TERM_WEEKLY"), "")
	require.Equal(t, errs.InvalidArgument, errs.CodeOf(err))
}

func TestSubscriptionStore_ExpireLapsed(t *testing.T) {
	store, database := newTestStore(t)
	ctx := context.Background()
	createUser(t, database, "old")
	createUser(t, database, "fresh")

	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	require.NoError(t, store.Activate(ctx, Activation{UserID: "old", Term: terms.TermMonthly, Start: now.AddDate(0, 0, -40)}))
	require.NoError(t, store.Activate(ctx, Activation{UserID: "fresh", Term: terms.TermMonthly, Start: now.AddDate(0, 0, -10)}))

	n, err := store.ExpireLapsed(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.False(t, store.IsActive(ctx, "old"))
	require.True(t, store.IsActive(ctx, "fresh"))
}

func TestSubscriptionStore_ActivateRejectsUnknownTerm(t *testing.T) {
	store, database := newTestStore(t)
	createUser(t, database, "u5")
	err := store.Activate(context.Background(), Activation{UserID: "u5", Term: "TERM_WEEKLY"})
	require.Equal(t, errs.InvalidArgument, errs.CodeOf(err))

	_, err = store.Get(context.Background(), "u5")
	require.ErrorIs(t, err, ErrNoSubscription)
}
