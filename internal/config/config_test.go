package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  api_key: secret
admission:
  max_concurrency: 5
  rate_limit_per_minute: 60
capture:
  default_timeout_ms: 45000
  default_wait_ms: 1000
  default_viewport_width: 1920
  default_viewport_height: 1080
  default_quality: 70
  max_screenshot_height: 20000
  max_url_length: 4096
browser:
  operation_timeout_ms: 90000
  recycle_requests: 25
security:
  allowed_domains: "example.com, Example.ORG ,"
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected api key to be loaded")
	}
	if cfg.Admission.MaxConcurrency != 5 || cfg.Admission.RateLimitPerMinute != 60 {
		t.Fatalf("expected admission overrides to apply: %+v", cfg.Admission)
	}
	if cfg.Capture.DefaultViewportWidth != 1920 || cfg.Capture.DefaultQuality != 70 {
		t.Fatalf("expected capture overrides to apply: %+v", cfg.Capture)
	}
	if cfg.Browser.RecycleRequests != 25 {
		t.Fatalf("expected recycle threshold 25, got %d", cfg.Browser.RecycleRequests)
	}
	domains := cfg.AllowedDomains()
	if len(domains) != 2 || domains[0] != "example.com" || domains[1] != "example.org" {
		t.Fatalf("expected normalized allowlist, got %v", domains)
	}
	if got := cfg.DefaultTimeout(); got != 45*time.Second {
		t.Fatalf("expected default timeout 45s, got %v", got)
	}
	if got := cfg.OperationTimeout(); got != 90*time.Second {
		t.Fatalf("expected operation timeout 90s, got %v", got)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PAGELENS_AUTH_API_KEY", "env-secret")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.APIKey != "env-secret" {
		t.Fatalf("expected api key from environment, got %q", cfg.Auth.APIKey)
	}
	if cfg.Admission.MaxConcurrency != 2 || cfg.Admission.RateLimitPerMinute != 30 {
		t.Fatalf("expected admission defaults, got %+v", cfg.Admission)
	}
	if cfg.Capture.DefaultViewportWidth != 1280 || cfg.Capture.DefaultViewportHeight != 720 {
		t.Fatalf("expected viewport defaults, got %+v", cfg.Capture)
	}
	if cfg.Browser.RecycleRequests != 50 {
		t.Fatalf("expected recycle default 50, got %d", cfg.Browser.RecycleRequests)
	}
	if cfg.AllowedDomains() != nil {
		t.Fatalf("expected empty allowlist by default")
	}
	if !cfg.Logging.Development {
		t.Fatalf("expected development logging by default")
	}
}

func TestLoadMissingAPIKey(t *testing.T) {
	t.Setenv("PAGELENS_AUTH_API_KEY", "")

	_, err := Load("")
	if err == nil || !strings.Contains(err.Error(), "auth.api_key") {
		t.Fatalf("expected api key validation error, got %v", err)
	}
}

func TestValidateRanges(t *testing.T) {
	t.Parallel()

	base := func() Config {
		return Config{
			Server:    ServerConfig{Port: 8080},
			Auth:      AuthConfig{APIKey: "k"},
			Admission: AdmissionConfig{MaxConcurrency: 2, RateLimitPerMinute: 30},
			Capture: CaptureConfig{
				DefaultTimeoutMs:      30000,
				DefaultWaitMs:         2000,
				DefaultViewportWidth:  1280,
				DefaultViewportHeight: 720,
				DefaultQuality:        85,
				MaxScreenshotHeight:   16384,
				MaxURLLength:          2048,
			},
			Browser: BrowserConfig{OperationTimeoutMs: 60000, RecycleRequests: 50},
		}
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("expected base config to validate, got %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"concurrency too high", func(c *Config) { c.Admission.MaxConcurrency = 11 }, "max_concurrency"},
		{"concurrency too low", func(c *Config) { c.Admission.MaxConcurrency = 0 }, "max_concurrency"},
		{"rate too high", func(c *Config) { c.Admission.RateLimitPerMinute = 101 }, "rate_limit_per_minute"},
		{"recycle too high", func(c *Config) { c.Browser.RecycleRequests = 501 }, "recycle_requests"},
		{"quality too low", func(c *Config) { c.Capture.DefaultQuality = 0 }, "default_quality"},
		{"viewport too wide", func(c *Config) { c.Capture.DefaultViewportWidth = 4000 }, "default_viewport_width"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := base()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}
