package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (MESA_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (MESA_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Provider    ProviderConfig
	Checkout    CheckoutConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// ProviderConfig points at the hosted payment provider.
type ProviderConfig struct {
	BaseURL  string        `usage:"Payment provider API base URL (MESA_PROVIDER_BASE_URL)" flag:"provider-base-url"`
	APIKey   string        `usage:"Payment provider API key (MESA_PROVIDER_API_KEY)" flag:"provider-api-key"`
	Currency string        `default:"USD" usage:"ISO 4217 currency for payment sessions" flag:"provider-currency"`
	Timeout  time.Duration `default:"10s" usage:"Per-request provider timeout" flag:"provider-timeout"`
}

// CheckoutConfig holds the URLs customers return to after the hosted
// payment page.
type CheckoutConfig struct {
	SuccessURL string `usage:"URL the provider redirects to after payment (MESA_CHECKOUT_SUCCESS_URL)" flag:"success-url"`
	CancelURL  string `usage:"URL the provider redirects to on cancel (MESA_CHECKOUT_CANCEL_URL)" flag:"cancel-url"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "MESA",
		Files:     []string{"config.yaml", "/etc/mesa/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set MESA_DATABASE_URL or DATABASE_URL")
	}
	if cfg.Provider.BaseURL == "" {
		return nil, errors.New("provider base URL is required: set MESA_PROVIDER_BASE_URL")
	}
	if cfg.Checkout.SuccessURL == "" || cfg.Checkout.CancelURL == "" {
		return nil, errors.New("checkout return URLs are required: set MESA_CHECKOUT_SUCCESS_URL and MESA_CHECKOUT_CANCEL_URL")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables
// (Railway, Render, etc.) that use standard names like DATABASE_URL and
// PORT to the application's MESA_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
