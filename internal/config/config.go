// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Admission AdmissionConfig `mapstructure:"admission"`
	Capture   CaptureConfig   `mapstructure:"capture"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Security  SecurityConfig  `mapstructure:"security"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig holds the shared API secret.
type AuthConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// AdmissionConfig bounds in-flight work and request rate.
type AdmissionConfig struct {
	MaxConcurrency     int `mapstructure:"max_concurrency"`
	RateLimitPerMinute int `mapstructure:"rate_limit_per_minute"`
}

// CaptureConfig supplies screenshot defaults and limits.
type CaptureConfig struct {
	DefaultTimeoutMs      int `mapstructure:"default_timeout_ms"`
	DefaultWaitMs         int `mapstructure:"default_wait_ms"`
	DefaultViewportWidth  int `mapstructure:"default_viewport_width"`
	DefaultViewportHeight int `mapstructure:"default_viewport_height"`
	DefaultQuality        int `mapstructure:"default_quality"`
	MaxScreenshotHeight   int `mapstructure:"max_screenshot_height"`
	MaxURLLength          int `mapstructure:"max_url_length"`
}

// BrowserConfig governs the browser lifecycle manager.
type BrowserConfig struct {
	OperationTimeoutMs int `mapstructure:"operation_timeout_ms"`
	RecycleRequests    int `mapstructure:"recycle_requests"`
}

// SecurityConfig carries the optional domain allowlist.
type SecurityConfig struct {
	AllowedDomains string `mapstructure:"allowed_domains"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PAGELENS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	// Registered so AutomaticEnv can see them without a config file.
	v.SetDefault("auth.api_key", "")
	v.SetDefault("security.allowed_domains", "")
	v.SetDefault("admission.max_concurrency", 2)
	v.SetDefault("admission.rate_limit_per_minute", 30)
	v.SetDefault("capture.default_timeout_ms", 30000)
	v.SetDefault("capture.default_wait_ms", 2000)
	v.SetDefault("capture.default_viewport_width", 1280)
	v.SetDefault("capture.default_viewport_height", 720)
	v.SetDefault("capture.default_quality", 85)
	v.SetDefault("capture.max_screenshot_height", 16384)
	v.SetDefault("capture.max_url_length", 2048)
	v.SetDefault("browser.operation_timeout_ms", 60000)
	v.SetDefault("browser.recycle_requests", 50)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set")
	}
	if c.Admission.MaxConcurrency < 1 || c.Admission.MaxConcurrency > 10 {
		return fmt.Errorf("admission.max_concurrency must be in [1,10]")
	}
	if c.Admission.RateLimitPerMinute < 1 || c.Admission.RateLimitPerMinute > 100 {
		return fmt.Errorf("admission.rate_limit_per_minute must be in [1,100]")
	}
	if c.Capture.DefaultTimeoutMs < 5000 || c.Capture.DefaultTimeoutMs > 300000 {
		return fmt.Errorf("capture.default_timeout_ms must be in [5000,300000]")
	}
	if c.Capture.DefaultWaitMs < 0 || c.Capture.DefaultWaitMs > 30000 {
		return fmt.Errorf("capture.default_wait_ms must be in [0,30000]")
	}
	if c.Capture.DefaultViewportWidth < 320 || c.Capture.DefaultViewportWidth > 3840 {
		return fmt.Errorf("capture.default_viewport_width must be in [320,3840]")
	}
	if c.Capture.DefaultViewportHeight < 240 || c.Capture.DefaultViewportHeight > 2160 {
		return fmt.Errorf("capture.default_viewport_height must be in [240,2160]")
	}
	if c.Capture.DefaultQuality < 1 || c.Capture.DefaultQuality > 100 {
		return fmt.Errorf("capture.default_quality must be in [1,100]")
	}
	if c.Capture.MaxScreenshotHeight < 768 || c.Capture.MaxScreenshotHeight > 32768 {
		return fmt.Errorf("capture.max_screenshot_height must be in [768,32768]")
	}
	if c.Capture.MaxURLLength < 100 || c.Capture.MaxURLLength > 8192 {
		return fmt.Errorf("capture.max_url_length must be in [100,8192]")
	}
	if c.Browser.OperationTimeoutMs < 10000 || c.Browser.OperationTimeoutMs > 300000 {
		return fmt.Errorf("browser.operation_timeout_ms must be in [10000,300000]")
	}
	if c.Browser.RecycleRequests < 1 || c.Browser.RecycleRequests > 500 {
		return fmt.Errorf("browser.recycle_requests must be in [1,500]")
	}
	return nil
}

// AllowedDomains parses the comma-separated allowlist into lowercase entries.
func (c Config) AllowedDomains() []string {
	if c.Security.AllowedDomains == "" {
		return nil
	}
	var domains []string
	for _, d := range strings.Split(c.Security.AllowedDomains, ",") {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			domains = append(domains, d)
		}
	}
	return domains
}

// DefaultTimeout converts the capture timeout into a duration.
func (c Config) DefaultTimeout() time.Duration {
	return time.Duration(c.Capture.DefaultTimeoutMs) * time.Millisecond
}

// OperationTimeout converts the browser operation timeout into a duration.
func (c Config) OperationTimeout() time.Duration {
	return time.Duration(c.Browser.OperationTimeoutMs) * time.Millisecond
}
