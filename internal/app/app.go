// Package app assembles the plansite HTTP server from its services.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/kuitang/plansite/internal/auth"
	"github.com/kuitang/plansite/internal/billing"
	"github.com/kuitang/plansite/internal/config"
	"github.com/kuitang/plansite/internal/db"
	"github.com/kuitang/plansite/internal/obs"
	"github.com/kuitang/plansite/internal/ratelimit"
	"github.com/kuitang/plansite/internal/web"
)

// App is a fully wired server.
type App struct {
	Handler  http.Handler
	Users    *auth.UserService
	Sessions *auth.SessionService
	Store    *billing.SubscriptionStore
	Billing  billing.BillingService
	Catalog  *billing.Catalog
	Limiter  *ratelimit.RateLimiter
}

// New wires every service on database according to cfg. In test mode
// passwords use the fast fake hasher and billing is mocked.
func New(cfg *config.Config, database *db.DB) (*App, error) {
	var hasher auth.PasswordHasher = auth.Argon2Hasher{}
	if cfg.TestMode {
		hasher = auth.FakeInsecureHasher{}
	}

	a := &App{
		Users:    auth.NewUserService(database, hasher),
		Sessions: auth.NewSessionService(database, cfg.SessionDuration, cfg.RequireSecureCookies()),
		Store:    billing.NewSubscriptionStore(database),
		Catalog:  billing.NewCatalog(cfg.PlanPriceCents),
	}

	if cfg.NoStripe || cfg.TestMode {
		a.Billing = billing.NewMockService(a.Store)
	} else {
		a.Billing = billing.NewService(billing.Config{
			SecretKey:      cfg.StripeSecretKey,
			PublishableKey: cfg.StripePublishableKey,
			WebhookSecret:  cfg.StripeWebhookSecret,
			Prices:         cfg.StripePrices,
		}, a.Store)
	}

	renderer, err := web.NewRenderer(cfg.TemplatesDir)
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}

	a.Limiter = ratelimit.NewRateLimiter(cfg.RateLimitConfig)
	byIP := ratelimit.Middleware(a.Limiter, ratelimit.ClientIP, ratelimit.FreeTier)
	byUser := ratelimit.Middleware(a.Limiter, a.userKey, a.userTier)

	authMiddleware := auth.NewMiddleware(a.Sessions)
	mux := http.NewServeMux()

	webHandler := web.NewWebHandler(renderer, a.Users, a.Billing, a.Store, a.Catalog, cfg.BaseURL)
	webHandler.SetRateLimit(byUser)
	webHandler.RegisterRoutes(mux, authMiddleware)

	web.NewStaticHandler(renderer, a.Users, cfg.StaticDir).RegisterRoutes(mux, authMiddleware)

	authHandler := auth.NewHandler(a.Users, a.Sessions)
	authHandler.SetRegisterHook(a.claimPending)
	authMux := http.NewServeMux()
	authHandler.RegisterRoutes(authMux)
	limitedAuth := byIP(authMux)
	mux.Handle("POST /auth/", limitedAuth)
	mux.Handle("GET /auth/whoami", limitedAuth)

	a.Handler = obs.RequestContextMiddleware(obs.AccessLogMiddleware("http", mux))
	return a, nil
}

// userKey limits signed-in requests per user and everyone else per address.
func (a *App) userKey(r *http.Request) string {
	if id := auth.GetUserID(r.Context()); id != "" {
		return "user:" + id
	}
	return "ip:" + ratelimit.ClientIP(r)
}

func (a *App) userTier(r *http.Request) ratelimit.Tier {
	id := auth.GetUserID(r.Context())
	if id != "" && a.Store.IsActive(r.Context(), id) {
		return ratelimit.TierSubscribed
	}
	return ratelimit.TierFree
}

// claimPending attaches a plan bought while logged out to the new account.
func (a *App) claimPending(ctx context.Context, user *auth.User) error {
	claimed, err := a.Store.ClaimPending(ctx, user.ID, user.Email)
	if err != nil {
		return err
	}
	if claimed {
		obs.From(ctx).Info("claimed pending subscription", "user_id", user.ID)
	}
	return nil
}

// Maintain deletes expired sessions and expires lapsed subscriptions.
func (a *App) Maintain(ctx context.Context) {
	logger := obs.Pkg("app")
	if n, err := a.Sessions.Cleanup(ctx); err != nil {
		logger.Error("session cleanup failed", "error", err)
	} else if n > 0 {
		logger.Info("deleted expired sessions", "count", n)
	}
	if n, err := a.Store.ExpireLapsed(ctx); err != nil {
		logger.Error("subscription expiry failed", "error", err)
	} else if n > 0 {
		logger.Info("expired lapsed subscriptions", "count", n)
	}
}

// RunMaintenance calls Maintain every interval until ctx is done.
func (a *App) RunMaintenance(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Maintain(ctx)
		}
	}
}

// Close stops background work owned by the app.
func (a *App) Close() {
	a.Limiter.Stop()
}
