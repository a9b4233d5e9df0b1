package internal

import (
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.RequestTimeout != 30 {
		t.Errorf("RequestTimeout = %d, want 30", cfg.RequestTimeout)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.MaxRetries)
	}
	if cfg.CookieRefreshInterval != 3600 {
		t.Errorf("CookieRefreshInterval = %d, want 3600", cfg.CookieRefreshInterval)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.TLSVerify {
		t.Error("TLSVerify should default to false")
	}
	if cfg.RateLimit != 0 {
		t.Errorf("RateLimit = %f, want 0", cfg.RateLimit)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("REQUEST_TIMEOUT", "12")
	t.Setenv("MAX_RETRIES", "5")
	t.Setenv("COOKIE_REFRESH_INTERVAL", "600")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("PROXY_URL", "socks5://127.0.0.1:1080")
	t.Setenv("TLS_VERIFY", "true")
	t.Setenv("RATE_LIMIT", "1048576")
	t.Setenv("COOKIE_FILE", "/tmp/cookies.txt")
	t.Setenv("METRICS_ADDR", "127.0.0.1:9090")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.RequestTimeout != 12 {
		t.Errorf("RequestTimeout = %d, want 12", cfg.RequestTimeout)
	}
	if cfg.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d, want 5", cfg.MaxRetries)
	}
	if cfg.CookieRefreshInterval != 600 {
		t.Errorf("CookieRefreshInterval = %d, want 600", cfg.CookieRefreshInterval)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.ProxyURL != "socks5://127.0.0.1:1080" {
		t.Errorf("ProxyURL = %q", cfg.ProxyURL)
	}
	if !cfg.TLSVerify {
		t.Error("TLSVerify should be true")
	}
	if cfg.RateLimit != 1048576 {
		t.Errorf("RateLimit = %f, want 1048576", cfg.RateLimit)
	}
	if cfg.CookieFile != "/tmp/cookies.txt" {
		t.Errorf("CookieFile = %q", cfg.CookieFile)
	}
	if cfg.MetricsAddr != "127.0.0.1:9090" {
		t.Errorf("MetricsAddr = %q", cfg.MetricsAddr)
	}
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	t.Run("zero_timeout", func(t *testing.T) {
		t.Setenv("REQUEST_TIMEOUT", "0")
		if _, err := LoadConfig(); err == nil {
			t.Error("expected error for REQUEST_TIMEOUT=0")
		}
	})

	t.Run("non_numeric_timeout", func(t *testing.T) {
		t.Setenv("REQUEST_TIMEOUT", "soon")
		if _, err := LoadConfig(); err == nil {
			t.Error("expected error for non-numeric REQUEST_TIMEOUT")
		}
	})

	t.Run("negative_retries", func(t *testing.T) {
		t.Setenv("MAX_RETRIES", "-1")
		if _, err := LoadConfig(); err == nil {
			t.Error("expected error for MAX_RETRIES=-1")
		}
	})
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		valid  bool
	}{
		{name: "defaults", mutate: func(c *Config) {}, valid: true},
		{name: "zero_retries_allowed", mutate: func(c *Config) { c.MaxRetries = 0 }, valid: true},
		{name: "zero_timeout", mutate: func(c *Config) { c.RequestTimeout = 0 }, valid: false},
		{name: "negative_retries", mutate: func(c *Config) { c.MaxRetries = -1 }, valid: false},
		{name: "zero_refresh_interval", mutate: func(c *Config) { c.CookieRefreshInterval = 0 }, valid: false},
		{name: "negative_rate_limit", mutate: func(c *Config) { c.RateLimit = -1 }, valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.valid && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
			if !tt.valid && err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestConfigDurations(t *testing.T) {
	cfg := &Config{RequestTimeout: 12, CookieRefreshInterval: 600}

	if got := cfg.Timeout(); got != 12*time.Second {
		t.Errorf("Timeout() = %v, want 12s", got)
	}
	if got := cfg.RefreshTTL(); got != 600*time.Second {
		t.Errorf("RefreshTTL() = %v, want 10m", got)
	}
}
