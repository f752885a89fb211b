package e2e

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// DateString formats t as Unix milliseconds.
func DateString(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// ScreenshotDir returns the configured screenshot directory, creating it if needed.
func ScreenshotDir(cfg Config) (string, error) {
	if cfg.ScreenshotDir == "" {
		return "", fmt.Errorf("e2e: screenshot_dir is not set")
	}
	if err := os.MkdirAll(cfg.ScreenshotDir, 0755); err != nil {
		return "", fmt.Errorf("create screenshot dir: %w", err)
	}
	return cfg.ScreenshotDir, nil
}
