// Package e2e is the Playwright harness shared by the browser test suites:
// configuration, browser lifecycle, and screenshot capture on teardown.
package e2e

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/kuitang/plansite/internal/config"
)

// EnvPrefix prefixes every environment override, e.g. E2E_TIMEOUT_MS.
const EnvPrefix = "E2E"

// ConfigPathEnv names an optional YAML file layered under the environment.
const ConfigPathEnv = "E2E_CONFIG"

// Config controls a browser test run.
type Config struct {
	NeverSaveScreenshots bool   `mapstructure:"never_save_screenshots" json:"never_save_screenshots"`
	SaveAllScreenshots   bool   `mapstructure:"save_all_screenshots" json:"save_all_screenshots"`
	TimeoutMS            int    `mapstructure:"timeout_ms" json:"timeout_ms"`
	ScreenshotDir        string `mapstructure:"screenshot_dir" json:"screenshot_dir"`
	Locale               string `mapstructure:"locale" json:"locale"`
	ScreenSize           string `mapstructure:"screen_size" json:"screen_size"`
	Browser              string `mapstructure:"browser" json:"browser"`
	Headless             bool   `mapstructure:"headless" json:"headless"`

	// Captured screenshots are also uploaded here when ArtifactBucket is set.
	ArtifactBucket   string `mapstructure:"artifact_bucket" json:"artifact_bucket"`
	ArtifactEndpoint string `mapstructure:"artifact_endpoint" json:"artifact_endpoint"`
	ArtifactRegion   string `mapstructure:"artifact_region" json:"artifact_region"`
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		TimeoutMS:     5000,
		ScreenshotDir: filepath.Join(os.TempDir(), "plansite-screenshots"),
		Locale:        "en",
		ScreenSize:    ScreenDesktop,
		Browser:       BrowserChromium,
		Headless:      true,
	}
}

// Timeout is the per-test timeout.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// LoadConfig resolves defaults, then the YAML file named by E2E_CONFIG (if
// any), then E2E_* environment variables.
func LoadConfig() (Config, error) {
	return LoadConfigFile(os.Getenv(ConfigPathEnv))
}

// LoadConfigFile is LoadConfig with an explicit file path. An empty path skips the file.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, cfg)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read e2e config %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode e2e config: %w", err)
	}
	cfg.Locale = strings.TrimSpace(cfg.Locale)
	cfg.ScreenSize = strings.ToLower(strings.TrimSpace(cfg.ScreenSize))
	cfg.Browser = strings.ToLower(strings.TrimSpace(cfg.Browser))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("never_save_screenshots", cfg.NeverSaveScreenshots)
	v.SetDefault("save_all_screenshots", cfg.SaveAllScreenshots)
	v.SetDefault("timeout_ms", cfg.TimeoutMS)
	v.SetDefault("screenshot_dir", cfg.ScreenshotDir)
	v.SetDefault("locale", cfg.Locale)
	v.SetDefault("screen_size", cfg.ScreenSize)
	v.SetDefault("browser", cfg.Browser)
	v.SetDefault("headless", cfg.Headless)
	v.SetDefault("artifact_bucket", cfg.ArtifactBucket)
	v.SetDefault("artifact_endpoint", cfg.ArtifactEndpoint)
	v.SetDefault("artifact_region", cfg.ArtifactRegion)
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var problems []string

	if c.TimeoutMS <= 0 {
		problems = append(problems, "timeout_ms must be positive")
	}
	if _, ok := Viewports[c.ScreenSize]; !ok {
		problems = append(problems, fmt.Sprintf("screen_size %q must be one of desktop, tablet, mobile", c.ScreenSize))
	}
	switch c.Browser {
	case BrowserChromium, BrowserFirefox, BrowserWebKit:
	default:
		problems = append(problems, fmt.Sprintf("browser %q must be one of chromium, firefox, webkit", c.Browser))
	}
	if c.Locale == "" {
		problems = append(problems, "locale is required")
	}
	if c.ScreenshotDir == "" && !c.NeverSaveScreenshots {
		problems = append(problems, "screenshot_dir is required unless never_save_screenshots is set")
	}

	if len(problems) > 0 {
		return &config.ValidationError{Errors: problems}
	}
	return nil
}
