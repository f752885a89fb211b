package e2e

import (
	"errors"
	"fmt"

	"github.com/playwright-community/playwright-go"
)

// Screen sizes.
const (
	ScreenDesktop = "desktop"
	ScreenTablet  = "tablet"
	ScreenMobile  = "mobile"
)

// Browser engines.
const (
	BrowserChromium = "chromium"
	BrowserFirefox  = "firefox"
	BrowserWebKit   = "webkit"
)

// Viewports maps each screen size to its browser viewport.
var Viewports = map[string]playwright.Size{
	ScreenDesktop: {Width: 1440, Height: 1000},
	ScreenTablet:  {Width: 1024, Height: 1000},
	ScreenMobile:  {Width: 400, Height: 1000},
}

// BrowserManager owns the Playwright driver and one launched browser.
type BrowserManager struct {
	cfg     Config
	pw      *playwright.Playwright
	browser playwright.Browser
}

// Launch starts the Playwright driver and launches the configured browser.
// The driver and browser binaries must already be installed.
func Launch(cfg Config) (*BrowserManager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}
	m := &BrowserManager{cfg: cfg, pw: pw}

	var browserType playwright.BrowserType
	switch cfg.Browser {
	case BrowserFirefox:
		browserType = pw.Firefox
	case BrowserWebKit:
		browserType = pw.WebKit
	default:
		browserType = pw.Chromium
	}

	browser, err := browserType.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(cfg.Headless),
	})
	if err != nil {
		_ = m.Close()
		return nil, fmt.Errorf("launch %s: %w", cfg.Browser, err)
	}
	m.browser = browser
	return m, nil
}

// NewBrowserContext opens an isolated browser session with the configured
// locale and viewport.
func (m *BrowserManager) NewBrowserContext() (playwright.BrowserContext, error) {
	if m == nil || m.browser == nil {
		return nil, errors.New("e2e: browser not launched")
	}
	viewport := Viewports[m.cfg.ScreenSize]
	ctx, err := m.browser.NewContext(playwright.BrowserNewContextOptions{
		Locale:   playwright.String(m.cfg.Locale),
		Viewport: &viewport,
	})
	if err != nil {
		return nil, fmt.Errorf("new browser context: %w", err)
	}
	ctx.SetDefaultTimeout(float64(m.cfg.TimeoutMS))
	ctx.SetDefaultNavigationTimeout(float64(m.cfg.TimeoutMS))
	return ctx, nil
}

// TargetScreenSize returns the configured screen size name.
func (m *BrowserManager) TargetScreenSize() string { return m.cfg.ScreenSize }

// TargetLocale returns the configured locale.
func (m *BrowserManager) TargetLocale() string { return m.cfg.Locale }

// Close closes the browser and then stops the driver. It is safe to call on
// a nil or partially launched manager, and more than once.
func (m *BrowserManager) Close() error {
	if m == nil {
		return nil
	}
	var errs []error
	if m.browser != nil {
		if err := m.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close browser: %w", err))
		}
		m.browser = nil
	}
	if m.pw != nil {
		if err := m.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop playwright: %w", err))
		}
		m.pw = nil
	}
	return errors.Join(errs...)
}
