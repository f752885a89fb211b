// Package web provides HTTP handlers for the web UI.
package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kuitang/plansite/internal/auth"
	"github.com/kuitang/plansite/internal/billing"
	"github.com/kuitang/plansite/internal/errs"
	"github.com/kuitang/plansite/internal/logutil"
	"github.com/kuitang/plansite/internal/obs"
	"github.com/kuitang/plansite/internal/terms"
)

// maxWebhookBytes bounds the Stripe webhook body.
const maxWebhookBytes = 64 << 10

// WebHandler provides HTTP handlers for web UI pages.
type WebHandler struct {
	renderer       *Renderer
	users          *auth.UserService
	billingService billing.BillingService
	store          *billing.SubscriptionStore
	catalog        *billing.Catalog
	baseURL        string
	limit          func(http.Handler) http.Handler
	now            func() time.Time
}

// NewWebHandler creates a new web handler.
func NewWebHandler(
	renderer *Renderer,
	users *auth.UserService,
	billingService billing.BillingService,
	store *billing.SubscriptionStore,
	catalog *billing.Catalog,
	baseURL string,
) *WebHandler {
	if catalog == nil {
		catalog = billing.DefaultCatalog()
	}
	return &WebHandler{
		renderer:       renderer,
		users:          users,
		billingService: billingService,
		store:          store,
		catalog:        catalog,
		baseURL:        strings.TrimRight(baseURL, "/"),
		now:            time.Now,
	}
}

// SetRateLimit wraps the signed-in account and billing routes with mw.
// Must be called before RegisterRoutes.
func (h *WebHandler) SetRateLimit(mw func(http.Handler) http.Handler) {
	h.limit = mw
}

// SetClock replaces the time source used for quotes. Intended for testing.
func (h *WebHandler) SetClock(now func() time.Time) {
	h.now = now
}

func (h *WebHandler) limited(next http.Handler) http.Handler {
	if h.limit == nil {
		return next
	}
	return h.limit(next)
}

// RegisterRoutes registers all web UI routes on the given mux.
func (h *WebHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	// Public pages
	mux.Handle("GET /", authMiddleware.OptionalAuth(http.HandlerFunc(h.HandleLanding)))
	mux.Handle("GET /login", authMiddleware.OptionalAuth(http.HandlerFunc(h.HandleLoginPage)))
	mux.Handle("GET /register", authMiddleware.OptionalAuth(http.HandlerFunc(h.HandleRegisterPage)))
	mux.Handle("GET /pricing", authMiddleware.OptionalAuth(http.HandlerFunc(h.HandlePricing)))

	// Account (auth required; browsers are redirected to /login)
	mux.Handle("GET /account", authMiddleware.RequireAuth(h.limited(http.HandlerFunc(h.HandleAccount))))
	mux.Handle("GET /api/account/quote", authMiddleware.RequireAuth(h.limited(http.HandlerFunc(h.HandleQuote))))

	// Billing
	mux.Handle("POST /billing/checkout", authMiddleware.OptionalAuth(h.limited(http.HandlerFunc(h.HandleCreateCheckout))))
	mux.Handle("GET /billing/success", authMiddleware.OptionalAuth(http.HandlerFunc(h.HandleBillingSuccess)))
	mux.Handle("POST /billing/portal", authMiddleware.RequireAuth(h.limited(http.HandlerFunc(h.HandleBillingPortal))))
	mux.HandleFunc("POST /billing/webhook", h.HandleBillingWebhook)

	// Machine-readable
	mux.HandleFunc("GET /api/terms", h.HandleTermsAPI)
	mux.HandleFunc("GET /health", HandleHealth)
}

// PageData contains common data passed to all templates.
type PageData struct {
	Title        string
	User         *auth.User
	FlashMessage string
	FlashType    string // "success", "error", "info"
	Error        string
}

// ErrorPageData is rendered by error.html.
type ErrorPageData struct {
	PageData
	ErrorCode int
}

// AuthPageData is shared by the login and registration pages.
type AuthPageData struct {
	PageData
	Email string
	Next  string
}

// PricingPageData contains data for the pricing page.
type PricingPageData struct {
	PageData
	Plans                []billing.Plan
	CurrentTerm          terms.Term
	StripePublishableKey string
	IsMockBilling        bool
	AutoCheckout         string
}

// BillingSuccessData contains data for the checkout result page.
type BillingSuccessData struct {
	PageData
	SessionStatus string
	CustomerEmail string
}

// AccountPageData contains data for the account page.
type AccountPageData struct {
	PageData
	Subscription *billing.Subscription
	Plan         *billing.Plan
	Quotes       []billing.Quote
}

// currentUser returns the signed-in user, or nil.
func (h *WebHandler) currentUser(r *http.Request) *auth.User {
	userID := auth.GetUserID(r.Context())
	if userID == "" || h.users == nil {
		return nil
	}
	user, err := h.users.Get(r.Context(), userID)
	if err != nil {
		obs.From(r.Context()).Warn("load current user failed", "error", err)
		return &auth.User{ID: userID}
	}
	return user
}

func (h *WebHandler) render(w http.ResponseWriter, r *http.Request, name string, data interface{}) {
	if err := h.renderer.Render(w, name, data); err != nil {
		obs.From(r.Context()).Error("render failed", "template", name, "error", err)
		http.Error(w, "Failed to render page", http.StatusInternalServerError)
	}
}

// HandleLanding handles GET / - the landing page. Unknown paths get a 404 page.
func (h *WebHandler) HandleLanding(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		h.renderer.RenderError(w, http.StatusNotFound, "Page not found")
		return
	}
	data := PageData{
		Title: "Plans that fit how long you stay",
		User:  h.currentUser(r),
	}
	h.render(w, r, "landing.html", data)
}

// HandleLoginPage handles GET /login.
func (h *WebHandler) HandleLoginPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "auth/login.html", authPageData(r, "Log in", h.currentUser(r)))
}

// HandleRegisterPage handles GET /register.
func (h *WebHandler) HandleRegisterPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "auth/register.html", authPageData(r, "Create account", h.currentUser(r)))
}

func authPageData(r *http.Request, title string, user *auth.User) AuthPageData {
	q := r.URL.Query()
	data := AuthPageData{
		PageData: PageData{Title: title, User: user, Error: q.Get("error")},
		Email:    q.Get("email"),
		Next:     auth.SafeNext(q.Get("next"), ""),
	}
	if success := q.Get("success"); success != "" {
		data.FlashMessage = success
		data.FlashType = "success"
	}
	return data
}

// HandlePricing handles GET /pricing.
func (h *WebHandler) HandlePricing(w http.ResponseWriter, r *http.Request) {
	data := PricingPageData{
		PageData: PageData{Title: "Pricing", User: h.currentUser(r)},
		Plans:    h.catalog.Plans(),
	}
	if h.billingService != nil {
		data.StripePublishableKey = h.billingService.PublishableKey()
		data.IsMockBilling = h.billingService.IsMock()
	} else {
		data.IsMockBilling = true
	}
	if t, err := terms.Parse(r.URL.Query().Get("checkout")); err == nil {
		data.AutoCheckout = t.Slug()
	}
	if data.User != nil && h.store != nil {
		if sub, err := h.store.Get(r.Context(), data.User.ID); err == nil && sub.Active() {
			data.CurrentTerm = sub.Term
		}
	}
	h.render(w, r, "billing/pricing.html", data)
}

// checkoutRequest is the JSON body for POST /billing/checkout.
type checkoutRequest struct {
	Email string `json:"email"`
	Term  string `json:"term"`
}

// HandleCreateCheckout handles POST /billing/checkout. JSON callers get the
// embedded checkout client secret; form posts are redirected.
func (h *WebHandler) HandleCreateCheckout(w http.ResponseWriter, r *http.Request) {
	wantsJSON := strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
	if h.billingService == nil {
		h.checkoutError(w, r, wantsJSON, errs.New(errs.Unavailable, "billing not configured"))
		return
	}

	var req checkoutRequest
	if wantsJSON {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			errs.WriteJSON(w, errs.New(errs.InvalidArgument, "invalid request body"))
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			h.checkoutError(w, r, false, errs.New(errs.InvalidArgument, "invalid form"))
			return
		}
		req.Email = r.PostFormValue("email")
		req.Term = r.PostFormValue("term")
	}

	term, err := terms.Parse(req.Term)
	if err != nil {
		h.checkoutError(w, r, wantsJSON, err)
		return
	}

	userID := auth.GetUserID(r.Context())
	email := strings.TrimSpace(req.Email)
	if user := h.currentUser(r); user != nil {
		email = user.Email
	} else if email == "" {
		h.checkoutError(w, r, wantsJSON, errs.New(errs.InvalidArgument, "email is required"))
		return
	}

	clientSecret, err := h.billingService.CreateCheckoutSession(r.Context(), userID, email, term, h.baseURL)
	if err != nil {
		obs.From(r.Context()).Error("create checkout session failed", "term", string(term), "error", err)
		h.checkoutError(w, r, wantsJSON, err)
		return
	}

	if wantsJSON {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"clientSecret": clientSecret})
		return
	}
	if h.billingService.IsMock() {
		sessionID, _, _ := strings.Cut(clientSecret, "_secret_")
		http.Redirect(w, r, "/billing/success?session_id="+url.QueryEscape(sessionID), http.StatusSeeOther)
		return
	}
	// Real Stripe needs the embedded checkout script on the pricing page.
	http.Redirect(w, r, "/pricing?checkout="+term.Slug(), http.StatusSeeOther)
}

func (h *WebHandler) checkoutError(w http.ResponseWriter, r *http.Request, wantsJSON bool, err error) {
	if wantsJSON {
		errs.WriteJSON(w, err)
		return
	}
	h.renderer.RenderError(w, errs.HTTPStatus(errs.CodeOf(err)), errs.MessageOf(err))
}

// HandleBillingSuccess handles GET /billing/success.
func (h *WebHandler) HandleBillingSuccess(w http.ResponseWriter, r *http.Request) {
	data := BillingSuccessData{
		PageData: PageData{Title: "Payment result", User: h.currentUser(r)},
	}

	if sessionID := r.URL.Query().Get("session_id"); sessionID != "" && h.billingService != nil {
		status, customerEmail, err := h.billingService.GetSessionStatus(r.Context(), sessionID)
		if err != nil {
			obs.From(r.Context()).Warn("get checkout session status failed", "error", err)
		} else {
			data.SessionStatus = status
			data.CustomerEmail = customerEmail
		}
	}

	h.render(w, r, "billing/success.html", data)
}

// HandleBillingWebhook handles POST /billing/webhook - processes Stripe webhook events.
func (h *WebHandler) HandleBillingWebhook(w http.ResponseWriter, r *http.Request) {
	logger := obs.From(r.Context()).With("pkg", "web")
	if h.billingService == nil {
		http.Error(w, "billing not configured", http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes+1))
	if err != nil || len(body) > maxWebhookBytes {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	logger.Debug("webhook received", "bytes", len(body), "headers", logutil.FormatHeadersForLog(r.Header))

	if err := h.billingService.HandleWebhook(r.Context(), body, r.Header.Get("Stripe-Signature")); err != nil {
		code := errs.CodeOf(err)
		logger.Warn("webhook failed", "code", string(code), "error", err)
		http.Error(w, "webhook processing failed", errs.HTTPStatus(code))
		return
	}
	w.WriteHeader(http.StatusOK)
}

// HandleBillingPortal handles POST /billing/portal - redirects to the Stripe customer portal.
func (h *WebHandler) HandleBillingPortal(w http.ResponseWriter, r *http.Request) {
	if h.billingService == nil || h.store == nil {
		h.renderer.RenderError(w, http.StatusServiceUnavailable, "Billing is not configured")
		return
	}

	sub, err := h.store.Get(r.Context(), auth.GetUserID(r.Context()))
	if err != nil || sub.StripeCustomerID == "" {
		http.Redirect(w, r, "/pricing", http.StatusSeeOther)
		return
	}

	portalURL, err := h.billingService.CreatePortalSession(r.Context(), sub.StripeCustomerID, h.baseURL+"/account")
	if err != nil {
		obs.From(r.Context()).Error("create portal session failed", "error", err)
		h.renderer.RenderError(w, http.StatusInternalServerError, "Failed to create billing portal session")
		return
	}
	http.Redirect(w, r, portalURL, http.StatusSeeOther)
}

// HandleAccount handles GET /account: the user's plan and what switching would cost.
func (h *WebHandler) HandleAccount(w http.ResponseWriter, r *http.Request) {
	data := AccountPageData{
		PageData: PageData{Title: "Account", User: h.currentUser(r)},
	}
	if q := r.URL.Query(); q.Get("mock_portal") == "true" {
		data.FlashMessage = "Billing portal is mocked in test mode."
		data.FlashType = "info"
	}

	if h.store != nil {
		sub, err := h.store.Get(r.Context(), auth.GetUserID(r.Context()))
		switch {
		case err == nil:
			data.Subscription = sub
			if plan, ok := h.catalog.Plan(sub.Term); ok {
				data.Plan = &plan
			}
			if sub.Active() {
				now := h.now()
				for _, t := range terms.TermsList() {
					if t == sub.Term {
						continue
					}
					if quote, err := billing.ChangeTermQuote(h.catalog, sub, t, now); err == nil {
						data.Quotes = append(data.Quotes, quote)
					}
				}
			}
		case errors.Is(err, billing.ErrNoSubscription):
		default:
			obs.From(r.Context()).Error("load subscription failed", "error", err)
			h.renderer.RenderError(w, http.StatusInternalServerError, "Failed to load subscription")
			return
		}
	}

	h.render(w, r, "account.html", data)
}

// HandleQuote handles GET /api/account/quote?to=<term> and returns the price of
// switching the signed-in user's subscription to that term.
func (h *WebHandler) HandleQuote(w http.ResponseWriter, r *http.Request) {
	to, err := terms.Parse(r.URL.Query().Get("to"))
	if err != nil {
		errs.WriteJSON(w, err)
		return
	}
	if h.store == nil {
		errs.WriteJSON(w, errs.New(errs.Unavailable, "billing not configured"))
		return
	}
	sub, err := h.store.Get(r.Context(), auth.GetUserID(r.Context()))
	if err != nil {
		errs.WriteJSON(w, err)
		return
	}
	quote, err := billing.ChangeTermQuote(h.catalog, sub, to, h.now())
	if err != nil {
		errs.WriteJSON(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(quote)
}

// TermInfo is one row of GET /api/terms.
type TermInfo struct {
	Tag        terms.Term `json:"tag"`
	Slug       string     `json:"slug"`
	Label      string     `json:"label"`
	PeriodDays int        `json:"period_days"`
	PriceCents int        `json:"price_cents,omitempty"`
}

// HandleTermsAPI handles GET /api/terms: the billing-term table in display order.
func (h *WebHandler) HandleTermsAPI(w http.ResponseWriter, r *http.Request) {
	list := terms.TermsList()
	rows := make([]TermInfo, 0, len(list))
	for _, t := range list {
		row := TermInfo{Tag: t, Slug: t.Slug(), Label: t.Label(), PeriodDays: t.PeriodDays()}
		if plan, ok := h.catalog.Plan(t); ok {
			row.PriceCents = plan.PriceCents
		}
		rows = append(rows, row)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=300")
	json.NewEncoder(w).Encode(map[string]interface{}{"terms": rows})
}

// HandleHealth handles GET /health.
func HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"healthy"}`)
}
