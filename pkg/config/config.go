// Package config wraps viper with functional options and exposes the typed client settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/milan604/netkit/pkg/errors"
	"github.com/milan604/netkit/pkg/logger"
)

// EnvPrefix is the environment variable prefix, NETKIT_RETRY_MAX_ATTEMPTS overrides retry.max_attempts.
const EnvPrefix = "NETKIT"

// Config is the wrapper around viper with extra helpers.
type Config struct {
	*viper.Viper

	// private
	log           logger.LogManager
	sensitiveKeys map[string]struct{}
	onChange      func()
}

// Option is a functional option for New.
type Option func(*Config) error

// New creates a Config instance. Use options to customize behavior.
// Example:
//
//	cfg, err := config.New(
//	  config.WithDefaults(config.ClientDefaults()),
//	  config.WithFile("netkit.yaml"),
//	  config.WithEnv(config.EnvPrefix),
//	  config.WithPFlags(cmd.Flags()),
//	)
//
// A missing config file is not an error; defaults, env and flags still apply.
func New(opts ...Option) (*Config, error) {
	cfg := &Config{
		Viper:         viper.New(),
		log:           logger.NewNop(),
		sensitiveKeys: map[string]struct{}{},
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("config: applying option: %w", err)
		}
	}

	if err := cfg.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case errors.As(err, &notFound):
		case os.IsNotExist(err):
			cfg.log.DebugF("config: file %s not found, using defaults", cfg.ConfigFileUsed())
		default:
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	return cfg, nil
}

/* ---------------------------
   Options
----------------------------*/

// WithLogger sets the logger used for reload and read notices.
func WithLogger(l logger.LogManager) Option {
	return func(c *Config) error {
		c.log = logger.OrNop(l)
		return nil
	}
}

// WithDefaults sets default values (applied first)
func WithDefaults(defaults map[string]any) Option {
	return func(c *Config) error {
		for k, v := range defaults {
			c.SetDefault(k, v)
		}
		return nil
	}
}

// WithFile sets an exact config file (absolute or relative).
// viper will use SetConfigFile(path) so the extension determines type.
func WithFile(path string) Option {
	return func(c *Config) error {
		if path == "" {
			return nil
		}
		c.SetConfigFile(path)
		ext := strings.TrimPrefix(filepath.Ext(path), ".")
		if ext != "" {
			c.SetConfigType(ext)
		}
		return nil
	}
}

// WithConfigNamePaths sets config name (without ext) and search paths.
func WithConfigNamePaths(name string, paths ...string) Option {
	return func(c *Config) error {
		if name != "" {
			c.SetConfigName(name)
		}
		if len(paths) == 0 {
			paths = []string{".", "$HOME/.config/netkit", "/etc/netkit"}
		}
		for _, p := range paths {
			c.AddConfigPath(os.ExpandEnv(p))
		}
		return nil
	}
}

// WithEnv enables environment variable overrides.
// prefix = "NETKIT" means NETKIT_TIMEOUT will override timeout.
// replacer maps dots/hyphens in keys to underscores in envs.
func WithEnv(prefix string) Option {
	return func(c *Config) error {
		if prefix != "" {
			c.SetEnvPrefix(prefix)
		}
		c.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
		c.AutomaticEnv()
		return nil
	}
}

// WithPFlags binds a pflag.FlagSet to viper. If flags are nil, we bind the default command line.
// Flag names are used as keys, so name flags after config keys (e.g. "retry.max_attempts").
func WithPFlags(flags *pflag.FlagSet) Option {
	return func(c *Config) error {
		if flags == nil {
			flags = pflag.CommandLine
		}
		return c.BindPFlags(flags)
	}
}

// WithWatch enables hot-reload. onChange will be called after a successful reload.
func WithWatch(onChange func()) Option {
	return func(c *Config) error {
		c.onChange = onChange
		c.OnConfigChange(func(e fsnotify.Event) {
			c.log.InfoF("config: file changed: %s", e.Name)
			if c.onChange != nil {
				c.onChange()
			}
		})
		c.WatchConfig()
		return nil
	}
}

// WithSensitiveKeys registers keys which should be redacted when printing/logging.
func WithSensitiveKeys(keys ...string) Option {
	return func(c *Config) error {
		for _, k := range keys {
			c.sensitiveKeys[strings.ToLower(k)] = struct{}{}
		}
		return nil
	}
}

/* ---------------------------
   Helpers / Actions
----------------------------*/

// MergeInFile merges another config file into the current config (keeps overrides)
func (c *Config) MergeInFile(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}
	tmp := viper.New()
	tmp.SetConfigFile(path)
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext != "" {
		tmp.SetConfigType(ext)
	}
	if err := tmp.ReadInConfig(); err != nil {
		return err
	}
	return c.MergeConfigMap(tmp.AllSettings())
}

/* ---------------------------
   Typed getters with defaults
----------------------------*/

// GetStringD returns string or def
func (c *Config) GetStringD(key, def string) string {
	if val := c.GetString(key); val != "" {
		return val
	}
	return def
}

// GetIntD returns int or def
func (c *Config) GetIntD(key string, def int) int {
	if c.IsSet(key) {
		return c.GetInt(key)
	}
	return def
}

// GetBoolD returns bool or def
func (c *Config) GetBoolD(key string, def bool) bool {
	if c.IsSet(key) {
		return c.GetBool(key)
	}
	return def
}

// GetDurationD returns time.Duration or def
func (c *Config) GetDurationD(key string, def time.Duration) time.Duration {
	if c.IsSet(key) {
		return c.GetDuration(key)
	}
	return def
}

/* ---------------------------
   Validation & Utilities
----------------------------*/

// ValidateRequired ensures keys exist and are non-empty.
func (c *Config) ValidateRequired(keys ...string) error {
	var missing []string
	for _, k := range keys {
		if !c.IsSet(k) || c.GetString(k) == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required keys: %v", strings.Join(missing, ", "))
	}
	return nil
}

// MaskedSettings returns a copy of AllSettings with sensitive keys redacted.
// Nested keys are matched by their dotted path.
func (c *Config) MaskedSettings() map[string]any {
	return c.mask("", c.AllSettings())
}

func (c *Config) mask(prefix string, in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if _, ok := c.sensitiveKeys[key]; ok {
			out[k] = "***REDACTED***"
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			out[k] = c.mask(key, nested)
			continue
		}
		out[k] = v
	}
	return out
}
