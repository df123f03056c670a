package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validConfig returns a configuration that passes Validate.
func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Platform.Org = "c360"
	cfg.Platform.ID = "pbx-east-1"
	cfg.Manager.Username = "gateway"
	cfg.Manager.Secret = "s3cret"
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "1.0.0", cfg.Version)
	assert.Equal(t, []string{"nats://localhost:4222"}, cfg.NATS.URLs)
	assert.Equal(t, -1, cfg.NATS.MaxReconnects)
	assert.Equal(t, "localhost:5038", cfg.Manager.Address)
	assert.Equal(t, 10, cfg.Manager.ConnectTimeout)
	assert.Equal(t, 256, cfg.Manager.EventQueueSize)
	assert.Equal(t, 10, cfg.Manager.Reconnect.MaxAttempts)
	assert.Equal(t, 500, cfg.Manager.Reconnect.InitialDelay)

	assert.True(t, cfg.Bridge.Enabled)
	assert.Equal(t, "ami.event", cfg.Bridge.SubjectPrefix)
	assert.True(t, cfg.History.Enabled)
	assert.Equal(t, "ami_calls", cfg.History.Bucket)
	assert.True(t, cfg.LiveFeed.Enabled)
	assert.Equal(t, 8088, cfg.LiveFeed.Port)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing version",
			mutate:  func(c *Config) { c.Version = "" },
			wantErr: "version is required",
		},
		{
			name:    "malformed version",
			mutate:  func(c *Config) { c.Version = "not-semver" },
			wantErr: "version",
		},
		{
			name:    "missing org",
			mutate:  func(c *Config) { c.Platform.Org = "" },
			wantErr: "platform.org is required",
		},
		{
			name:    "org with invalid characters",
			mutate:  func(c *Config) { c.Platform.Org = "bad org!" },
			wantErr: "not valid for NATS subjects",
		},
		{
			name:    "missing id",
			mutate:  func(c *Config) { c.Platform.ID = "" },
			wantErr: "platform.id is required",
		},
		{
			name:    "no nats urls",
			mutate:  func(c *Config) { c.NATS.URLs = nil },
			wantErr: "nats.urls",
		},
		{
			name:    "blank nats url",
			mutate:  func(c *Config) { c.NATS.URLs = []string{"  "} },
			wantErr: "nats.urls[0]",
		},
		{
			name:    "manager address without port",
			mutate:  func(c *Config) { c.Manager.Address = "localhost" },
			wantErr: "address must be host:port",
		},
		{
			name:    "missing manager username",
			mutate:  func(c *Config) { c.Manager.Username = "" },
			wantErr: "username is required",
		},
		{
			name:    "missing manager secret",
			mutate:  func(c *Config) { c.Manager.Secret = "" },
			wantErr: "secret is required",
		},
		{
			name:    "action timeout out of range",
			mutate:  func(c *Config) { c.Manager.ActionTimeout = 301 },
			wantErr: "action_timeout",
		},
		{
			name:    "jitter out of range",
			mutate:  func(c *Config) { c.Manager.Reconnect.Jitter = 1.5 },
			wantErr: "jitter",
		},
		{
			name:    "max delay below initial delay",
			mutate:  func(c *Config) { c.Manager.Reconnect.MaxDelay = 100 },
			wantErr: "max_delay_ms",
		},
		{
			name:    "invalid bridge prefix",
			mutate:  func(c *Config) { c.Bridge.SubjectPrefix = "ami.>" },
			wantErr: "bridge configuration",
		},
		{
			name:    "invalid history bucket",
			mutate:  func(c *Config) { c.History.Bucket = "" },
			wantErr: "history configuration",
		},
		{
			name:    "invalid livefeed port",
			mutate:  func(c *Config) { c.LiveFeed.Port = 70000 },
			wantErr: "livefeed configuration",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("valid config passes", func(t *testing.T) {
		require.NoError(t, validConfig().Validate())
	})

	t.Run("disabled section skips validation", func(t *testing.T) {
		cfg := validConfig()
		cfg.Bridge.Enabled = false
		cfg.Bridge.SubjectPrefix = ""
		require.NoError(t, cfg.Validate())
	})
}

func TestValidateNormalizesOrg(t *testing.T) {
	cfg := validConfig()
	cfg.Platform.Org = "C360"

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "c360", cfg.Platform.Org)
}

func TestConfigClone(t *testing.T) {
	cfg := validConfig()
	cfg.Manager.EventMask = "call,agent"
	cfg.Security.TLS.Client.CAFiles = []string{"ca.pem"}

	clone := cfg.Clone()
	if diff := cmp.Diff(cfg, clone); diff != "" {
		t.Fatalf("clone differs from original (-want +got):\n%s", diff)
	}

	// Mutating the clone must not leak into the original.
	clone.NATS.URLs[0] = "nats://other:4222"
	clone.Manager.Secret = "changed"
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URLs[0])
	assert.Equal(t, "s3cret", cfg.Manager.Secret)
}

func TestSectionsMarshalFlat(t *testing.T) {
	data, err := json.Marshal(validConfig())
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))

	bridgeSection, ok := m["bridge"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, bridgeSection["enabled"])
	assert.Equal(t, "ami.event", bridgeSection["subject_prefix"])

	feedSection, ok := m["livefeed"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(8088), feedSection["port"])
}

func TestSafeConfig(t *testing.T) {
	t.Run("get returns a copy", func(t *testing.T) {
		sc := NewSafeConfig(validConfig())

		got := sc.Get()
		got.Manager.Address = "evil.example.com:5038"

		assert.Equal(t, "localhost:5038", sc.Get().Manager.Address)
	})

	t.Run("update validates", func(t *testing.T) {
		sc := NewSafeConfig(validConfig())

		bad := validConfig()
		bad.Platform.Org = ""
		require.Error(t, sc.Update(bad))
		assert.Equal(t, "c360", sc.Get().Platform.Org)

		good := validConfig()
		good.Version = "1.1.0"
		require.NoError(t, sc.Update(good))
		assert.Equal(t, "1.1.0", sc.Get().Version)
	})

	t.Run("rejects nil update", func(t *testing.T) {
		sc := NewSafeConfig(validConfig())
		require.Error(t, sc.Update(nil))
	})

	t.Run("tolerates nil initial config", func(t *testing.T) {
		sc := NewSafeConfig(nil)
		require.NotNil(t, sc.Get())
	})
}

func TestReconnectConfigPolicy(t *testing.T) {
	policy := ReconnectConfig{
		MaxAttempts:  5,
		InitialDelay: 250,
		MaxDelay:     10000,
		Multiplier:   1.5,
		Jitter:       0.1,
	}.Policy()

	assert.Equal(t, 5, policy.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, policy.InitialDelay)
	assert.Equal(t, 10*time.Second, policy.MaxDelay)
	assert.Equal(t, 1.5, policy.Multiplier)
	assert.Equal(t, 0.1, policy.Jitter)
}

func TestGetPlatformPrefersInstanceID(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, "pbx-east-1", cfg.GetPlatform())

	cfg.Platform.InstanceID = "east-standby"
	assert.Equal(t, "east-standby", cfg.GetPlatform())
	assert.Equal(t, "c360", cfg.GetOrg())
}

func TestStringRedactsSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.NATS.Password = "nats-pass"
	cfg.NATS.Token = "nats-token"

	out := cfg.String()
	assert.NotContains(t, out, "s3cret")
	assert.NotContains(t, out, "nats-pass")
	assert.NotContains(t, out, "nats-token")
	assert.Contains(t, out, "[redacted]")

	// Redaction must not touch the config itself.
	assert.Equal(t, "s3cret", cfg.Manager.Secret)
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		name    string
		v1, v2  string
		want    int
		wantErr bool
	}{
		{name: "patch older", v1: "1.0.0", v2: "1.0.1", want: -1},
		{name: "major newer", v1: "2.0.0", v2: "1.9.9", want: 1},
		{name: "equal", v1: "1.2.3", v2: "1.2.3", want: 0},
		{name: "v prefix ignored", v1: "v1.2.3", v2: "1.2.3", want: 0},
		{name: "minor newer", v1: "1.3.0", v2: "1.2.9", want: 1},
		{name: "not semver", v1: "abc", v2: "1.0.0", wantErr: true},
		{name: "two part version", v1: "1.0", v2: "1.0.0", wantErr: true},
		{name: "empty version", v1: "", v2: "1.0.0", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CompareVersions(tt.v1, tt.v2)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
