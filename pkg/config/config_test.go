package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadClientConfigDefaults(t *testing.T) {
	cfg, err := New(WithDefaults(ClientDefaults()))
	require.NoError(t, err)

	cc, err := LoadClientConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, cc.Timeout)
	assert.True(t, cc.UserAgent.Enabled)
	assert.Equal(t, 1, cc.Retry.MaxAttempts)
	assert.Equal(t, "immediate", cc.Retry.Policy)
	assert.True(t, cc.TLS.EvaluateAllHosts)
	assert.Equal(t, 2*time.Second, cc.Reachability.Interval)
}

func TestLoadClientConfigFromFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "netkit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
timeout: 5s
retry:
  max_attempts: 3
  policy: exponential
  initial: 100ms
  max_delay: 2s
tls:
  evaluate_all_hosts: false
  pins:
    api.example.com:
      mode: public_key
      public_keys: ["AAEC"]
`), 0o600))
	t.Setenv("NETKIT_RETRY_MAX_ATTEMPTS", "4")

	cfg, err := New(WithDefaults(ClientDefaults()), WithFile(path), WithEnv(EnvPrefix))
	require.NoError(t, err)
	cc, err := LoadClientConfig(cfg)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cc.Timeout)
	assert.Equal(t, 4, cc.Retry.MaxAttempts)
	assert.Equal(t, "exponential", cc.Retry.Policy)
	assert.Equal(t, 100*time.Millisecond, cc.Retry.Initial)
	assert.False(t, cc.TLS.EvaluateAllHosts)
	require.Contains(t, cc.TLS.Pins, "api.example.com")
	assert.Equal(t, PinModePublicKey, cc.TLS.Pins["api.example.com"].Mode)
}

func TestLoadClientConfigRejectsInvalid(t *testing.T) {
	cfg, err := New(WithDefaults(ClientDefaults()))
	require.NoError(t, err)
	cfg.Set("retry.policy", "fibonacci")

	_, err = LoadClientConfig(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "policy")
}

func TestMissingFileIsNotFatal(t *testing.T) {
	cfg, err := New(WithFile(filepath.Join(t.TempDir(), "absent.yaml")))
	require.NoError(t, err)
	assert.Equal(t, "fallback", cfg.GetStringD("nothing", "fallback"))
}

func TestPFlagsOverride(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.Duration("timeout", 0, "")
	require.NoError(t, fs.Parse([]string{"--timeout=3s"}))

	cfg, err := New(WithDefaults(ClientDefaults()), WithPFlags(fs))
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.GetDuration("timeout"))
}

func TestMaskedSettings(t *testing.T) {
	cfg, err := New(WithSensitiveKeys("auth.client_secret"))
	require.NoError(t, err)
	cfg.Set("auth.client_secret", "s3cr3t")
	cfg.Set("auth.client_id", "svc")

	masked := cfg.MaskedSettings()
	auth := masked["auth"].(map[string]any)
	assert.Equal(t, "***REDACTED***", auth["client_secret"])
	assert.Equal(t, "svc", auth["client_id"])
}

func TestValidateRequired(t *testing.T) {
	cfg, err := New()
	require.NoError(t, err)
	cfg.Set("a", "x")
	assert.NoError(t, cfg.ValidateRequired("a"))
	assert.ErrorContains(t, cfg.ValidateRequired("a", "b"), "b")
}

func TestTypedGettersWithDefaults(t *testing.T) {
	cfg, err := New(WithDefaults(ClientDefaults()))
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.GetIntD("retry.max_attempts", 9))
	assert.Equal(t, 9, cfg.GetIntD("retry.unknown", 9))
	assert.True(t, cfg.GetBoolD("tls.evaluate_all_hosts", false))
	assert.True(t, cfg.GetBoolD("missing.flag", true))
	assert.Equal(t, 60*time.Second, cfg.GetDurationD("timeout", time.Second))
	assert.Equal(t, time.Second, cfg.GetDurationD("missing.timeout", time.Second))
}

func TestMergeInFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "override.yaml")
	require.NoError(t, os.WriteFile(path, []byte("retry:\n  max_attempts: 5\n"), 0o600))

	cfg, err := New(WithDefaults(ClientDefaults()))
	require.NoError(t, err)
	require.NoError(t, cfg.MergeInFile(path))
	assert.Equal(t, 5, cfg.GetInt("retry.max_attempts"))
	assert.Equal(t, "immediate", cfg.GetString("retry.policy"))

	assert.Error(t, cfg.MergeInFile(""))
	assert.Error(t, cfg.MergeInFile(filepath.Join(dir, "absent.yaml")))
}

func TestWithWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netkit.yaml")
	require.NoError(t, os.WriteFile(path, []byte("timeout: 5s\n"), 0o600))

	var current atomic.Pointer[Config]
	seen := make(chan time.Duration, 16)
	cfg, err := New(WithFile(path), WithWatch(func() {
		if c := current.Load(); c != nil {
			select {
			case seen <- c.GetDuration("timeout"):
			default:
			}
		}
	}))
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.GetDuration("timeout"))
	current.Store(cfg)

	require.NoError(t, os.WriteFile(path, []byte("timeout: 7s\n"), 0o600))
	deadline := time.After(5 * time.Second)
	for {
		select {
		case d := <-seen:
			if d == 7*time.Second {
				return
			}
		case <-deadline:
			t.Fatal("no reload after file change")
		}
	}
}
