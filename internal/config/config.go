// Package config loads the server configuration from CLI flags and environment variables,
// validates required fields, and provides sensible defaults.
//
// CLI flags control which services are mocked (--no-stripe, --test).
// Environment variables provide secrets and service configuration.
package config

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kuitang/plansite/internal/ratelimit"
	"github.com/kuitang/plansite/internal/terms"
)

// Config holds all server configuration.
type Config struct {
	// Server settings
	ListenAddr   string
	BaseURL      string
	TemplatesDir string
	StaticDir    string

	// Database
	DatabasePath    string        // Directory holding plansite.db
	DatabaseKey     string        // 64 hex characters; empty leaves the database unencrypted
	SessionDuration time.Duration // How long sessions remain valid

	// Rate limiting
	RateLimitConfig ratelimit.Config

	// Mock service flags (controlled by CLI flags, not env vars)
	NoStripe bool // Use the mock billing service (--no-stripe)
	TestMode bool // --test: mock billing and cheap password hashing

	// Stripe
	StripeSecretKey      string
	StripePublishableKey string
	StripeWebhookSecret  string
	StripePrices         map[terms.Term]string // price ID per term

	// Displayed plan prices, in cents
	PlanPriceCents map[terms.Term]int
}

// Flags are the parsed CLI flags.
type Flags struct {
	NoStripe bool
	TestMode bool
	Addr     string
}

// ValidationError represents a configuration validation error with multiple issues.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// ParseFlags parses --no-stripe, --test, and --addr from args (without the program name).
func ParseFlags(args []string) (Flags, error) {
	var f Flags
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.BoolVar(&f.NoStripe, "no-stripe", false, "Use mock billing (checkout activates immediately)")
	fs.BoolVar(&f.TestMode, "test", false, "Shorthand for --no-stripe plus fast insecure password hashing")
	fs.StringVar(&f.Addr, "addr", "", "Listen address (default :8080, overrides LISTEN_ADDR env var)")
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}
	if f.TestMode {
		f.NoStripe = true
	}
	return f, nil
}

// LoadConfig loads configuration from environment variables and CLI flag values.
func LoadConfig(f Flags) (*Config, error) {
	cfg := &Config{
		NoStripe: f.NoStripe,
		TestMode: f.TestMode,
	}

	// Server settings
	cfg.ListenAddr = getEnvOrDefault("LISTEN_ADDR", ":8080")
	if f.Addr != "" {
		cfg.ListenAddr = f.Addr
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("BASE_URL")), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost" + cfg.ListenAddr
	}
	cfg.TemplatesDir = getEnvOrDefault("TEMPLATES_DIR", "./web/templates")
	cfg.StaticDir = getEnvOrDefault("STATIC_DIR", "./web/static")

	// Database
	cfg.DatabasePath = getEnvOrDefault("DATABASE_PATH", "/data")
	cfg.DatabaseKey = strings.TrimSpace(os.Getenv("DATABASE_KEY"))
	cfg.SessionDuration = parseDurationOrDefault("SESSION_DURATION", 30*24*time.Hour)

	// Rate limiting
	cfg.RateLimitConfig = ratelimit.Config{
		FreeRPS:         parseFloat64OrDefault("RATE_LIMIT_FREE_RPS", 10),
		FreeBurst:       parseIntOrDefault("RATE_LIMIT_FREE_BURST", 20),
		SubscribedRPS:   parseFloat64OrDefault("RATE_LIMIT_SUBSCRIBED_RPS", 100),
		SubscribedBurst: parseIntOrDefault("RATE_LIMIT_SUBSCRIBED_BURST", 200),
		CleanupInterval: parseDurationOrDefault("RATE_LIMIT_CLEANUP_INTERVAL", time.Hour),
	}

	// Stripe
	cfg.StripeSecretKey = strings.TrimSpace(os.Getenv("STRIPE_SECRET_KEY"))
	cfg.StripePublishableKey = strings.TrimSpace(os.Getenv("STRIPE_PUBLISHABLE_KEY"))
	cfg.StripeWebhookSecret = strings.TrimSpace(os.Getenv("STRIPE_WEBHOOK_SECRET"))
	cfg.StripePrices = make(map[terms.Term]string)
	cfg.PlanPriceCents = make(map[terms.Term]int)
	defaults := map[terms.Term]int{
		terms.TermMonthly:    1000,
		terms.TermAnnually:   9600,
		terms.TermBiennially: 16800,
	}
	for _, t := range terms.TermsList() {
		suffix := strings.ToUpper(t.Slug())
		if id := strings.TrimSpace(os.Getenv("STRIPE_PRICE_" + suffix)); id != "" {
			cfg.StripePrices[t] = id
		}
		cfg.PlanPriceCents[t] = parseIntOrDefault("PLAN_PRICE_CENTS_"+suffix, defaults[t])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that all required configuration is present and valid.
// Stripe secrets are required unless billing is mocked.
func (c *Config) Validate() error {
	var errs []string

	if !c.NoStripe {
		if c.StripeSecretKey == "" {
			errs = append(errs, "STRIPE_SECRET_KEY is required (set env var or use --no-stripe)")
		}
		if c.StripePublishableKey == "" {
			errs = append(errs, "STRIPE_PUBLISHABLE_KEY is required (set env var or use --no-stripe)")
		}
		if c.StripeWebhookSecret == "" {
			errs = append(errs, "STRIPE_WEBHOOK_SECRET is required (set env var or use --no-stripe)")
		}
		for _, t := range terms.TermsList() {
			if c.StripePrices[t] == "" {
				errs = append(errs, fmt.Sprintf("STRIPE_PRICE_%s is required (set env var or use --no-stripe)", strings.ToUpper(t.Slug())))
			}
		}
	}

	if c.DatabaseKey != "" {
		if _, err := hex.DecodeString(c.DatabaseKey); err != nil || len(c.DatabaseKey) != 64 {
			errs = append(errs, "DATABASE_KEY must be 64 hex characters (generate with: openssl rand -hex 32)")
		}
	} else if !c.TestMode {
		errs = append(errs, "DATABASE_KEY is required outside --test (generate with: openssl rand -hex 32)")
	}

	for _, t := range terms.TermsList() {
		if c.PlanPriceCents[t] <= 0 {
			errs = append(errs, fmt.Sprintf("PLAN_PRICE_CENTS_%s must be positive", strings.ToUpper(t.Slug())))
		}
	}

	if c.SessionDuration <= 0 {
		errs = append(errs, "SESSION_DURATION must be positive")
	}
	if c.RateLimitConfig.FreeRPS <= 0 {
		errs = append(errs, "RATE_LIMIT_FREE_RPS must be positive")
	}
	if c.RateLimitConfig.FreeBurst <= 0 {
		errs = append(errs, "RATE_LIMIT_FREE_BURST must be positive")
	}
	if c.RateLimitConfig.SubscribedRPS < c.RateLimitConfig.FreeRPS {
		errs = append(errs, "RATE_LIMIT_SUBSCRIBED_RPS must be at least RATE_LIMIT_FREE_RPS")
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// RequireSecureCookies returns true if secure cookies should be required.
// Returns false for localhost development URLs.
func (c *Config) RequireSecureCookies() bool {
	return !strings.HasPrefix(c.BaseURL, "http://localhost") &&
		!strings.HasPrefix(c.BaseURL, "http://127.0.0.1")
}

// PrintStartupSummary prints a human-readable summary of the configuration to w.
func (c *Config) PrintStartupSummary(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "plansite server starting...")

	switch {
	case c.TestMode:
		fmt.Fprintln(w, "  Billing:  Mock (--test)")
	case c.NoStripe:
		fmt.Fprintln(w, "  Billing:  Mock (--no-stripe)")
	default:
		fmt.Fprintf(w, "  Billing:  Stripe (real, %d prices)\n", len(c.StripePrices))
	}

	if c.DatabaseKey != "" {
		fmt.Fprintln(w, "  Database: SQLCipher (DATABASE_KEY)")
	} else {
		fmt.Fprintln(w, "  Database: unencrypted (--test)")
	}

	fmt.Fprintf(w, "  Listen:   %s\n", c.ListenAddr)
	fmt.Fprintf(w, "  Base:     %s\n", c.BaseURL)
	fmt.Fprintln(w, "")
}

// Helper functions for parsing environment variables

func getEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func parseIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseFloat64OrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// MustLoadConfig loads configuration and panics if validation fails.
func MustLoadConfig(f Flags) *Config {
	cfg, err := LoadConfig(f)
	if err != nil {
		var validationErr *ValidationError
		if errors.As(err, &validationErr) {
			panic(fmt.Sprintf("Configuration validation failed:\n  - %s", strings.Join(validationErr.Errors, "\n  - ")))
		}
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}
	return cfg
}
