package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kuitang/plansite/internal/billing"
	"github.com/kuitang/plansite/internal/config"
	"github.com/kuitang/plansite/internal/db"
	"github.com/kuitang/plansite/internal/ratelimit"
	"github.com/kuitang/plansite/internal/terms"
	"github.com/kuitang/plansite/internal/testdb"
)

func testConfig() *config.Config {
	return &config.Config{
		ListenAddr:      ":0",
		BaseURL:         "http://localhost:8080",
		TemplatesDir:    "../../web/templates",
		StaticDir:       "../../web/static",
		SessionDuration: time.Hour,
		RateLimitConfig: ratelimit.Config{
			FreeRPS:         0.001,
			FreeBurst:       2,
			SubscribedRPS:   100,
			SubscribedBurst: 200,
			CleanupInterval: time.Hour,
		},
		TestMode: true,
		PlanPriceCents: map[terms.Term]int{
			terms.TermMonthly:    1000,
			terms.TermAnnually:   9600,
			terms.TermBiennially: 16800,
		},
	}
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	database := testdb.New(t)

	a, err := New(testConfig(), database)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestNew_TestModeUsesMockBilling(t *testing.T) {
	a := newTestApp(t)
	require.True(t, a.Billing.IsMock())
	require.Len(t, a.Catalog.Plans(), 3)
}

func TestNew_MissingTemplatesFails(t *testing.T) {
	database, err := db.OpenInMemory()
	require.NoError(t, err)
	defer database.Close()

	cfg := testConfig()
	cfg.TemplatesDir = t.TempDir()
	_, err = New(cfg, database)
	require.Error(t, err)
}

func TestHandler_ServesPagesWithRequestID(t *testing.T) {
	a := newTestApp(t)

	rec := httptest.NewRecorder()
	a.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	rec = httptest.NewRecorder()
	a.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/pricing", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Biennial")
}

func TestHandler_LandingAndAuthRoutesCoexist(t *testing.T) {
	a := newTestApp(t)

	rec := httptest.NewRecorder()
	a.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `data-testid="login-link"`)

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"email":"nobody@example.com","password":"wrong-password"}`))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	a.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	a.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/whoami", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"authenticated":false}`, rec.Body.String())

	rec = httptest.NewRecorder()
	a.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/nowhere", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_AuthRoutesLimitedPerAddress(t *testing.T) {
	a := newTestApp(t)

	login := func() int {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"email":"a@example.com","password":"wrong-password"}`))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "203.0.113.7:5555"
		rec := httptest.NewRecorder()
		a.Handler.ServeHTTP(rec, req)
		return rec.Code
	}
	require.Equal(t, http.StatusUnauthorized, login())
	require.Equal(t, http.StatusUnauthorized, login())
	require.Equal(t, http.StatusTooManyRequests, login())
}

func TestRegister_ClaimsPendingPurchase(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	require.NoError(t, a.Store.SavePending(ctx, "buyer@example.com", billing.Activation{
		Term:             terms.TermAnnually,
		StripeCustomerID: "cus_pending",
		Start:            time.Now(),
	}))

	req := httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader(`{"email":"buyer@example.com","password":"password123"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.Handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	user, err := a.Users.Authenticate(ctx, "buyer@example.com", "password123")
	require.NoError(t, err)
	sub, err := a.Store.Get(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, terms.TermAnnually, sub.Term)
	require.True(t, a.Store.IsActive(ctx, user.ID))
}

func TestMaintain_RunsWithoutWork(t *testing.T) {
	a := newTestApp(t)
	a.Maintain(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a.RunMaintenance(ctx, time.Millisecond)
}
