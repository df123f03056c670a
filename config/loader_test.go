package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig writes content into a temp directory and returns the path.
func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadJSON(t *testing.T) {
	path := writeConfig(t, "gateway.json", `{
		"version": "1.2.0",
		"platform": {"org": "C360", "id": "pbx-east-1"},
		"nats": {"urls": ["nats://10.0.0.5:4222"]},
		"manager": {
			"address": "pbx.example.com:5038",
			"username": "gateway",
			"secret": "s3cret"
		},
		"livefeed": {"port": 9100}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "1.2.0", cfg.Version)
	assert.Equal(t, "c360", cfg.Platform.Org) // Normalized by Validate
	assert.Equal(t, []string{"nats://10.0.0.5:4222"}, cfg.NATS.URLs)
	assert.Equal(t, "pbx.example.com:5038", cfg.Manager.Address)

	// Fields absent from the file keep their defaults.
	assert.Equal(t, 10, cfg.Manager.ConnectTimeout)
	assert.Equal(t, 10, cfg.Manager.Reconnect.MaxAttempts)
	assert.True(t, cfg.Bridge.Enabled)
	assert.Equal(t, "ami.event", cfg.Bridge.SubjectPrefix)
	assert.Equal(t, 9100, cfg.LiveFeed.Port)
	assert.Equal(t, "/ws", cfg.LiveFeed.Path)
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "gateway.yaml", `
version: "1.1.0"
platform:
  org: c360
  id: pbx-west-2
manager:
  address: 127.0.0.1:5038
  username: gateway
  secret: s3cret
history:
  bucket: calls_west
livefeed:
  enabled: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "1.1.0", cfg.Version)
	assert.Equal(t, "pbx-west-2", cfg.Platform.ID)
	assert.Equal(t, "calls_west", cfg.History.Bucket)
	assert.Equal(t, 1000, cfg.History.MaxRecords) // Default preserved
	assert.False(t, cfg.LiveFeed.Enabled)
}

func TestLoadLayers(t *testing.T) {
	base := writeConfig(t, "base.json", `{
		"platform": {"org": "c360", "id": "pbx-east-1"},
		"manager": {
			"address": "pbx.example.com:5038",
			"username": "gateway",
			"secret": "s3cret"
		}
	}`)
	override := writeConfig(t, "production.json", `{
		"version": "1.3.0",
		"manager": {"address": "standby.example.com:5038"}
	}`)

	loader := NewLoader()
	loader.AddLayer(base)
	loader.AddLayer(override)
	loader.EnableValidation(true)

	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, "1.3.0", cfg.Version)
	assert.Equal(t, "standby.example.com:5038", cfg.Manager.Address)
	// The override layer does not name these, so the base layer wins.
	assert.Equal(t, "gateway", cfg.Manager.Username)
	assert.Equal(t, "s3cret", cfg.Manager.Secret)
}

func TestLoadExpandsEnvRefs(t *testing.T) {
	t.Setenv("TEST_AMI_SECRET", "hunter2")

	path := writeConfig(t, "gateway.json", `{
		"platform": {"org": "c360", "id": "pbx-east-1"},
		"manager": {
			"address": "pbx.example.com:5038",
			"username": "gateway",
			"secret": "${TEST_AMI_SECRET}"
		}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", cfg.Manager.Secret)
}

func TestLoadFailsOnUndefinedEnvRef(t *testing.T) {
	path := writeConfig(t, "gateway.json", `{
		"manager": {"secret": "${AMISTREAMS_TEST_UNSET_VAR}"}
	}`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AMISTREAMS_TEST_UNSET_VAR")
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("AMISTREAMS_NATS_URLS", "nats://a:4222,nats://b:4222")
	t.Setenv("AMISTREAMS_MANAGER_SECRET", "from-env")

	path := writeConfig(t, "gateway.json", `{
		"platform": {"org": "c360", "id": "pbx-east-1"},
		"manager": {
			"address": "pbx.example.com:5038",
			"username": "gateway",
			"secret": "from-file"
		}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"nats://a:4222", "nats://b:4222"}, cfg.NATS.URLs)
	assert.Equal(t, "from-env", cfg.Manager.Secret)
}

func TestLoadRejectsUnknownExtension(t *testing.T) {
	path := writeConfig(t, "gateway.txt", `{}`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only JSON and YAML")
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestLoadRejectsDeepJSON(t *testing.T) {
	content := strings.Repeat("[", 150) + strings.Repeat("]", 150)
	path := writeConfig(t, "deep.json", content)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nesting too deep")
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := writeConfig(t, "broken.yaml", "version: [unclosed")

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadValidatesResult(t *testing.T) {
	// Valid JSON, but no platform identity.
	path := writeConfig(t, "gateway.json", `{
		"manager": {
			"address": "pbx.example.com:5038",
			"username": "gateway",
			"secret": "s3cret"
		}
	}`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "platform.org")
}
