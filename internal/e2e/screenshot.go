package e2e

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/plansite/internal/obs"
)

// TestState is the outcome of a finished test.
type TestState string

const (
	StatePassed  TestState = "passed"
	StateFailed  TestState = "failed"
	StateSkipped TestState = "skipped"
)

// StateOf reports the outcome of t. A failure wins over a skip.
func StateOf(t testing.TB) TestState {
	switch {
	case t.Failed():
		return StateFailed
	case t.Skipped():
		return StateSkipped
	default:
		return StatePassed
	}
}

// ShouldCapture decides whether a finished test gets a screenshot.
func ShouldCapture(cfg Config, state TestState) bool {
	if cfg.NeverSaveScreenshots {
		return false
	}
	if state == StatePassed && !cfg.SaveAllScreenshots {
		return false
	}
	return true
}

// SanitizeTitle replaces every character outside [a-zA-Z0-9] with '-' and lowercases the result.
func SanitizeTitle(title string) string {
	var b strings.Builder
	b.Grow(len(title))
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}

// FileName builds STATE-LOCALE-SCREENSIZE-<sanitized title>-<date>, without extension.
func FileName(state TestState, locale, screenSize, title, date string) string {
	return strings.Join([]string{
		strings.ToUpper(string(state)),
		strings.ToUpper(locale),
		strings.ToUpper(screenSize),
		SanitizeTitle(title),
		date,
	}, "-")
}

// Shooter takes a screenshot. playwright.Page satisfies it.
type Shooter interface {
	Screenshot(options ...playwright.PageScreenshotOptions) ([]byte, error)
}

// ArtifactStore receives uploaded screenshots. *s3client.Client satisfies it.
type ArtifactStore interface {
	PutObject(ctx context.Context, key string, content []byte, contentType string) error
}

// ArtifactKey is the object key a screenshot named name is uploaded under.
func ArtifactKey(name string) string {
	return "screenshots/" + name + ".png"
}

// TestInfo identifies a finished test.
type TestInfo struct {
	Title string
	State TestState
}

// Capturer runs the teardown screenshot step.
type Capturer struct {
	cfg   Config
	store ArtifactStore
	now   func() time.Time
}

// NewCapturer creates a capturer. store may be nil.
func NewCapturer(cfg Config, store ArtifactStore) *Capturer {
	return &Capturer{cfg: cfg, store: store, now: time.Now}
}

// Capture screenshots page for a finished test when ShouldCapture allows it
// and returns the written path, or "" when nothing was captured. A nil info
// or page is a no-op. Screenshot and upload errors are returned unchanged.
func (c *Capturer) Capture(ctx context.Context, info *TestInfo, page Shooter) (string, error) {
	if info == nil || page == nil {
		return "", nil
	}
	if !ShouldCapture(c.cfg, info.State) {
		return "", nil
	}

	dir, err := ScreenshotDir(c.cfg)
	if err != nil {
		return "", err
	}
	name := FileName(info.State, c.cfg.Locale, c.cfg.ScreenSize, info.Title, DateString(c.now()))
	path := filepath.Join(dir, name+".png")

	png, err := page.Screenshot(playwright.PageScreenshotOptions{
		Path:     playwright.String(path),
		FullPage: playwright.Bool(true),
	})
	if err != nil {
		return "", err
	}

	if c.store != nil {
		if err := c.store.PutObject(ctx, ArtifactKey(name), png, "image/png"); err != nil {
			return path, fmt.Errorf("upload screenshot %s: %w", name, err)
		}
	}
	obs.Pkg("e2e").Debug("screenshot captured", "path", path, "state", string(info.State), "uploaded", c.store != nil)
	return path, nil
}
