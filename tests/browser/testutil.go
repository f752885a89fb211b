// Package browser contains Playwright E2E tests for the plansite pages.
// All tests share one server and one browser context; see internal/e2e.
//
// Prerequisites:
// - Install Playwright browsers: go run github.com/playwright-community/playwright-go/cmd/playwright install chromium
// - Run tests with: go test -v ./tests/browser/...
// - Tune the run with E2E_* variables, e.g. E2E_SCREEN_SIZE=mobile E2E_SAVE_ALL_SCREENSHOTS=true
package browser

import (
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/plansite/internal/app"
	"github.com/kuitang/plansite/internal/auth"
	"github.com/kuitang/plansite/internal/billing"
	"github.com/kuitang/plansite/internal/config"
	"github.com/kuitang/plansite/internal/db"
	"github.com/kuitang/plansite/internal/e2e"
	"github.com/kuitang/plansite/internal/ratelimit"
	"github.com/kuitang/plansite/internal/terms"
)

const testPassword = "correct-horse-battery"

var (
	suite *e2e.Suite
	env   *BrowserTestEnv
)

// BrowserTestEnv is the server every browser test talks to.
type BrowserTestEnv struct {
	Server  *httptest.Server
	BaseURL string
	DB      *db.DB
	App     *app.App
}

func startBrowserTestEnv() (*BrowserTestEnv, error) {
	database, err := db.OpenInMemory()
	if err != nil {
		return nil, err
	}

	srv := httptest.NewUnstartedServer(nil)
	baseURL := "http://" + srv.Listener.Addr().String()

	root := repositoryRoot()
	a, err := app.New(&config.Config{
		ListenAddr:      srv.Listener.Addr().String(),
		BaseURL:         baseURL,
		TemplatesDir:    filepath.Join(root, "web", "templates"),
		StaticDir:       filepath.Join(root, "web", "static"),
		SessionDuration: time.Hour,
		RateLimitConfig: ratelimit.Config{
			FreeRPS:         1000,
			FreeBurst:       1000,
			SubscribedRPS:   1000,
			SubscribedBurst: 1000,
		},
		TestMode: true,
		NoStripe: true,
		PlanPriceCents: map[terms.Term]int{
			terms.TermMonthly:    1000,
			terms.TermAnnually:   9600,
			terms.TermBiennially: 16800,
		},
	}, database)
	if err != nil {
		srv.Close()
		database.Close()
		return nil, err
	}

	srv.Config.Handler = a.Handler
	srv.Start()
	return &BrowserTestEnv{Server: srv, BaseURL: baseURL, DB: database, App: a}, nil
}

// Close stops the server and releases the database.
func (env *BrowserTestEnv) Close() {
	env.Server.Close()
	env.App.Close()
	_ = env.DB.Close()
}

func repositoryRoot() string {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		panic("Failed to resolve repository root for test utilities")
	}
	return filepath.Clean(filepath.Join(filepath.Dir(filename), "..", ".."))
}

// =============================================================================
// Navigation and wait helpers
// =============================================================================

// Navigate navigates to a path on the test server and waits for DOMContentLoaded.
func Navigate(t *testing.T, page playwright.Page, path string) {
	t.Helper()

	_, err := page.Goto(env.BaseURL+path, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	if err != nil {
		t.Fatalf("Failed to navigate to %s: %v", path, err)
	}
}

// WaitForSelector waits for an element to be visible and returns its locator.
func WaitForSelector(t *testing.T, page playwright.Page, selector string) playwright.Locator {
	t.Helper()

	first := page.Locator(selector).First()
	err := first.WaitFor(playwright.LocatorWaitForOptions{
		State: playwright.WaitForSelectorStateVisible,
	})
	if err != nil {
		title, _ := page.Title()
		content, _ := page.Content()
		if len(content) > 500 {
			content = content[:500] + "..."
		}
		t.Logf("Current URL: %s", page.URL())
		t.Logf("Current title: %s", title)
		t.Logf("Content preview: %s", content)
		t.Fatalf("Failed to wait for selector %s: %v", selector, err)
	}
	return first
}

// WaitForPath waits until the page URL ends with path.
func WaitForPath(t *testing.T, page playwright.Page, path string) {
	t.Helper()
	if err := page.WaitForURL("**" + path); err != nil {
		t.Fatalf("Expected to reach %s, still at %s: %v", path, page.URL(), err)
	}
}

// TextOf returns the trimmed inner text of the first element matching selector.
func TextOf(t *testing.T, page playwright.Page, selector string) string {
	t.Helper()
	text, err := WaitForSelector(t, page, selector).InnerText()
	if err != nil {
		t.Fatalf("Failed to read text of %s: %v", selector, err)
	}
	return text
}

// =============================================================================
// User/session helpers
// =============================================================================

// GenerateUniqueEmail generates a unique email for test isolation.
func GenerateUniqueEmail(prefix string) string {
	suffix := make([]byte, 8)
	if _, err := crand.Read(suffix); err != nil {
		panic(fmt.Sprintf("failed to generate unique email suffix: %v", err))
	}
	return fmt.Sprintf("%s-%s@example.com", prefix, hex.EncodeToString(suffix))
}

// CreateUser registers a user with testPassword and returns its ID.
func CreateUser(t *testing.T, emailAddr string) string {
	t.Helper()
	user, err := env.App.Users.Register(context.Background(), emailAddr, testPassword)
	if err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}
	return user.ID
}

// LoginUser creates a user, creates a session, and sets the session cookie on
// the page's context. Returns the user ID.
func LoginUser(t *testing.T, page playwright.Page, emailAddr string) string {
	t.Helper()
	userID := CreateUser(t, emailAddr)
	sessionID, err := env.App.Sessions.Create(context.Background(), userID)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	err = page.Context().AddCookies([]playwright.OptionalCookie{
		{
			Name:     auth.SessionCookieName,
			Value:    sessionID,
			Domain:   playwright.String("127.0.0.1"),
			Path:     playwright.String("/"),
			HttpOnly: playwright.Bool(true),
			Secure:   playwright.Bool(false),
			SameSite: playwright.SameSiteAttributeLax,
		},
	})
	if err != nil {
		t.Fatalf("Failed to set session cookie: %v", err)
	}
	return userID
}

// Subscribe activates term for userID as if checkout completed at start.
func Subscribe(t *testing.T, userID string, term terms.Term, start time.Time) {
	t.Helper()
	err := env.App.Store.Activate(context.Background(), billing.Activation{
		UserID:           userID,
		Term:             term,
		StripeCustomerID: "cus_browser_" + userID,
		Start:            start,
	})
	if err != nil {
		t.Fatalf("Failed to activate %s for %s: %v", term, userID, err)
	}
}
