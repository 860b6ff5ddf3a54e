package config

import (
	"time"

	"github.com/milan604/netkit/pkg/errors"
	"github.com/milan604/netkit/pkg/validator"
)

// Pin modes accepted under tls.pins.<host>.mode.
const (
	PinModeCertificate = "certificate"
	PinModePublicKey   = "public_key"
	PinModeMixed       = "mixed"
)

// ClientConfig is the typed view of the client settings.
type ClientConfig struct {
	Timeout      time.Duration      `mapstructure:"timeout" validate:"gte=0"`
	LogRequests  bool               `mapstructure:"log_requests"`
	UserAgent    UserAgentConfig    `mapstructure:"user_agent"`
	Retry        RetryConfig        `mapstructure:"retry"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit"`
	Breaker      BreakerConfig      `mapstructure:"breaker"`
	TLS          TLSConfig          `mapstructure:"tls"`
	Reachability ReachabilityConfig `mapstructure:"reachability"`
	Tracing      TracingConfig      `mapstructure:"tracing"`
}

type UserAgentConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BundleID string `mapstructure:"bundle_id"`
}

type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" validate:"gte=0"`
	Policy      string        `mapstructure:"policy" validate:"omitempty,oneof=immediate constant exponential"`
	Initial     time.Duration `mapstructure:"initial" validate:"gte=0"`
	Multiplier  float64       `mapstructure:"multiplier" validate:"gte=1"`
	MaxDelay    time.Duration `mapstructure:"max_delay" validate:"gtefield=Initial"`
}

// RateLimitConfig throttles outgoing requests. RPS 0 disables limiting.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps" validate:"gte=0"`
	Burst int     `mapstructure:"burst" validate:"gte=0"`
}

type BreakerConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	MaxFailures uint32        `mapstructure:"max_failures" validate:"required_if=Enabled true"`
	Timeout     time.Duration `mapstructure:"timeout" validate:"gte=0"`
}

type TLSConfig struct {
	EvaluateAllHosts bool                 `mapstructure:"evaluate_all_hosts"`
	Pins             map[string]PinConfig `mapstructure:"pins" validate:"dive"`
}

// PinConfig pins one host. Certificates are file paths (PEM or DER); PublicKeys are
// base64-encoded DER SubjectPublicKeyInfo blobs.
type PinConfig struct {
	Mode         string   `mapstructure:"mode" validate:"oneof=certificate public_key mixed"`
	Certificates []string `mapstructure:"certificates"`
	PublicKeys   []string `mapstructure:"public_keys" validate:"dive,base64"`
}

type ReachabilityConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval" validate:"gte=0"`
}

// TracingConfig enables OTLP/HTTP span export when Endpoint is set.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio" validate:"gte=0,lte=1"`
}

// ClientDefaults returns the default value of every client key. Registering them with
// WithDefaults also makes each key visible to env overrides.
func ClientDefaults() map[string]any {
	return map[string]any{
		"timeout":                "60s",
		"log_requests":           false,
		"user_agent.enabled":     true,
		"user_agent.bundle_id":   "",
		"retry.max_attempts":     1,
		"retry.policy":           "immediate",
		"retry.initial":          "200ms",
		"retry.multiplier":       2.0,
		"retry.max_delay":        "10s",
		"rate_limit.rps":         0.0,
		"rate_limit.burst":       1,
		"breaker.enabled":        false,
		"breaker.max_failures":   5,
		"breaker.timeout":        "30s",
		"tls.evaluate_all_hosts": true,
		"tls.pins":               map[string]any{},
		"reachability.enabled":   false,
		"reachability.interval":  "2s",
		"tracing.endpoint":       "",
		"tracing.insecure":       false,
		"tracing.service_name":   "netkit",
		"tracing.sample_ratio":   1.0,
	}
}

// LoadClientConfig decodes and validates the client settings held by cfg.
func LoadClientConfig(cfg *Config) (*ClientConfig, error) {
	var cc ClientConfig
	if err := cfg.Unmarshal(&cc); err != nil {
		return nil, errors.Wrap(err, "config: decode client settings")
	}
	if err := validator.Default().Struct(&cc); err != nil {
		return nil, errors.Wrap(err, "config: invalid client settings")
	}
	return &cc, nil
}
