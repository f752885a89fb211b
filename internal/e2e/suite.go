package e2e

import (
	"context"
	"errors"
	"flag"
	"testing"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/plansite/internal/obs"
	"github.com/kuitang/plansite/internal/s3client"
)

var errShortMode = errors.New("browser tests skipped in -short mode")

// Suite wires the before-all, before-each, after-each and after-all hooks of
// a browser test package. Tests in a suite share one browser context and
// must not call t.Parallel.
type Suite struct {
	cfg      Config
	store    ArtifactStore
	capturer *Capturer

	manager    *BrowserManager
	browserCtx playwright.BrowserContext
	launchErr  error
}

// Option configures a Suite.
type Option func(*Suite)

// WithArtifactStore uploads captured screenshots to store instead of the
// bucket named in the configuration.
func WithArtifactStore(store ArtifactStore) Option {
	return func(s *Suite) { s.store = store }
}

// NewSuite creates a suite for cfg.
func NewSuite(cfg Config, opts ...Option) *Suite {
	s := &Suite{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the suite configuration.
func (s *Suite) Config() Config { return s.cfg }

// Timeout is the per-test timeout.
func (s *Suite) Timeout() time.Duration { return s.cfg.Timeout() }

// LaunchErr reports why the browser is unavailable, or nil.
func (s *Suite) LaunchErr() error { return s.launchErr }

// Main launches the browser and opens the shared context, runs the tests,
// then closes the context and browser. Call it from TestMain:
//
//	func TestMain(m *testing.M) { os.Exit(suite.Main(m)) }
//
// A launch failure is recorded rather than fatal; every NewPage call then skips.
func (s *Suite) Main(m *testing.M) int {
	if !flag.Parsed() {
		flag.Parse()
	}
	logger := obs.Pkg("e2e")

	if s.store == nil && s.cfg.ArtifactBucket != "" {
		store, err := s3client.New(context.Background(), s3client.Config{
			Endpoint:     s.cfg.ArtifactEndpoint,
			Region:       s.cfg.ArtifactRegion,
			BucketName:   s.cfg.ArtifactBucket,
			UsePathStyle: s.cfg.ArtifactEndpoint != "",
		})
		if err != nil {
			logger.Warn("artifact upload disabled", "bucket", s.cfg.ArtifactBucket, "error", err)
		} else {
			s.store = store
		}
	}
	s.capturer = NewCapturer(s.cfg, s.store)

	if testing.Short() {
		s.launchErr = errShortMode
	} else {
		s.setUp()
	}

	code := m.Run()

	if err := s.tearDown(); err != nil {
		logger.Warn("browser teardown failed", "error", err)
	}
	return code
}

func (s *Suite) setUp() {
	manager, err := Launch(s.cfg)
	if err != nil {
		s.launchErr = err
		obs.Pkg("e2e").Warn("playwright not available", "error", err)
		return
	}
	bctx, err := manager.NewBrowserContext()
	if err != nil {
		s.launchErr = err
		_ = manager.Close()
		return
	}
	s.manager = manager
	s.browserCtx = bctx
}

func (s *Suite) tearDown() error {
	var errs []error
	if s.browserCtx != nil {
		if err := s.browserCtx.Close(); err != nil {
			errs = append(errs, err)
		}
		s.browserCtx = nil
	}
	if err := s.manager.Close(); err != nil {
		errs = append(errs, err)
	}
	s.manager = nil
	return errors.Join(errs...)
}

// NewPage opens a tab in the shared context with cookies cleared and the
// per-test timeout applied. When the test finishes, a screenshot is captured
// per ShouldCapture and the tab is closed.
func (s *Suite) NewPage(t *testing.T) playwright.Page {
	t.Helper()
	if s.browserCtx == nil {
		if s.launchErr != nil {
			t.Skip("Playwright not available:", s.launchErr)
		}
		t.Skip("Playwright not available: suite.Main was not run")
	}

	if err := s.browserCtx.ClearCookies(); err != nil {
		t.Fatalf("clear cookies: %v", err)
	}
	page, err := s.browserCtx.NewPage()
	if err != nil {
		t.Fatalf("could not create page: %v", err)
	}
	page.SetDefaultTimeout(float64(s.cfg.TimeoutMS))
	page.SetDefaultNavigationTimeout(float64(s.cfg.TimeoutMS))

	t.Cleanup(func() {
		info := &TestInfo{Title: t.Name(), State: StateOf(t)}
		path, err := s.capturer.Capture(context.Background(), info, page)
		if err != nil {
			t.Errorf("capture screenshot: %v", err)
		} else if path != "" {
			t.Logf("screenshot: %s", path)
		}
		_ = page.Close()
	})
	return page
}
