package internal

import (
	"fmt"
	"os"
	"time"

	"github.com/mstoykov/envconfig"
)

// Config holds the extraction core's tunables. All values come from the
// environment; names are unprefixed because the core is meant to be embedded
// (a wrapping process owns its own namespace).
type Config struct {
	RequestTimeout        int     `envconfig:"REQUEST_TIMEOUT" default:"30"`
	MaxRetries            int     `envconfig:"MAX_RETRIES" default:"3"`
	CookieRefreshInterval int     `envconfig:"COOKIE_REFRESH_INTERVAL" default:"3600"`
	LogLevel              string  `envconfig:"LOG_LEVEL" default:"info"`
	LogFile               string  `envconfig:"LOG_FILE"`
	ProxyURL              string  `envconfig:"PROXY_URL"`
	TLSVerify             bool    `envconfig:"TLS_VERIFY" default:"false"`
	RateLimit             float64 `envconfig:"RATE_LIMIT" default:"0"`
	CookieFile            string  `envconfig:"COOKIE_FILE"`
	MetricsAddr           string  `envconfig:"METRICS_ADDR"`
}

// DefaultConfig returns the configuration with every default applied and
// nothing read from the environment.
func DefaultConfig() *Config {
	return &Config{
		RequestTimeout:        30,
		MaxRetries:            3,
		CookieRefreshInterval: 3600,
		LogLevel:              "info",
		TLSVerify:             false,
		RateLimit:             0,
	}
}

// LoadConfig reads the environment into a Config and validates it.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := envconfig.Process("", cfg, os.LookupEnv); err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration values
func (c *Config) Validate() error {
	if c.RequestTimeout < 1 {
		return fmt.Errorf("invalid REQUEST_TIMEOUT: %d (must be > 0)", c.RequestTimeout)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("invalid MAX_RETRIES: %d (must be >= 0)", c.MaxRetries)
	}
	if c.CookieRefreshInterval < 1 {
		return fmt.Errorf("invalid COOKIE_REFRESH_INTERVAL: %d (must be > 0)", c.CookieRefreshInterval)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("invalid RATE_LIMIT: %f (must be >= 0)", c.RateLimit)
	}
	return nil
}

// Timeout returns the per-request deadline as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

// RefreshTTL returns the session time-to-live as a duration.
func (c *Config) RefreshTTL() time.Duration {
	return time.Duration(c.CookieRefreshInterval) * time.Second
}
