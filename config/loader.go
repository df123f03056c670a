package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Loader handles configuration loading with layers and overrides.
// Layers decode in order over the defaults, so a later layer only
// replaces the fields it actually names.
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		layers:    []string{},
		envPrefix: "AMISTREAMS",
	}
}

// AddLayer adds a configuration file layer
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load loads and merges all configuration layers
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	for _, path := range l.layers {
		if err := decodeLayer(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	l.applyEnvOverrides(cfg)

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Load reads a single configuration file with defaults, environment
// overrides and validation. This is the entry point the command-line
// binary uses.
func Load(path string) (*Config, error) {
	l := NewLoader()
	l.EnableValidation(true)
	return l.LoadFile(path)
}

// decodeLayer reads one config file, expands ${VAR} references and
// decodes the result over cfg. The file format follows the extension:
// .yaml and .yml parse as YAML, everything else as JSON.
func decodeLayer(path string, cfg *Config) error {
	data, err := safeReadFile(path)
	if err != nil {
		return err
	}

	data, err = expandEnvRefs(data)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		// YAML decodes through a generic map and re-encodes as JSON so
		// both formats share the json struct tags.
		var raw map[string]any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("parse YAML: %w", err)
		}
		jsonData, err := json.Marshal(raw)
		if err != nil {
			return fmt.Errorf("convert YAML: %w", err)
		}
		if err := json.Unmarshal(jsonData, cfg); err != nil {
			return fmt.Errorf("parse config: %w", err)
		}
	default:
		if err := validateJSONDepth(data); err != nil {
			return fmt.Errorf("invalid JSON structure: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse config: %w", err)
		}
	}

	return nil
}

// envRefPattern matches ${VAR} references with POSIX variable names.
var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvRefs substitutes ${VAR} references with environment values.
// Every referenced variable must be set. Values are inserted verbatim,
// so a secret containing JSON metacharacters must be quoted in the
// environment, not the file.
func expandEnvRefs(data []byte) ([]byte, error) {
	var missing []string
	var invalid error

	expanded := envRefPattern.ReplaceAllFunc(data, func(ref []byte) []byte {
		name := string(envRefPattern.FindSubmatch(ref)[1])
		value, ok := os.LookupEnv(name)
		if !ok {
			missing = append(missing, name)
			return ref
		}
		if err := validateEnvVar(name, value); err != nil {
			if invalid == nil {
				invalid = err
			}
			return ref
		}
		return []byte(value)
	})

	if len(missing) > 0 {
		return nil, fmt.Errorf("undefined environment variables referenced in config: %s",
			strings.Join(missing, ", "))
	}
	if invalid != nil {
		return nil, invalid
	}
	return expanded, nil
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) {
	// Platform overrides
	if val := os.Getenv(l.envPrefix + "_PLATFORM_ORG"); val != "" {
		cfg.Platform.Org = val
	}
	if val := os.Getenv(l.envPrefix + "_PLATFORM_ID"); val != "" {
		cfg.Platform.ID = val
	}

	// NATS overrides
	if val := os.Getenv(l.envPrefix + "_NATS_URLS"); val != "" {
		cfg.NATS.URLs = strings.Split(val, ",")
	}
	if val := os.Getenv(l.envPrefix + "_NATS_USERNAME"); val != "" {
		cfg.NATS.Username = val
	}
	if val := os.Getenv(l.envPrefix + "_NATS_PASSWORD"); val != "" {
		cfg.NATS.Password = val
	}
	if val := os.Getenv(l.envPrefix + "_NATS_TOKEN"); val != "" {
		cfg.NATS.Token = val
	}

	// Manager overrides
	if val := os.Getenv(l.envPrefix + "_MANAGER_ADDRESS"); val != "" {
		cfg.Manager.Address = val
	}
	if val := os.Getenv(l.envPrefix + "_MANAGER_USERNAME"); val != "" {
		cfg.Manager.Username = val
	}
	if val := os.Getenv(l.envPrefix + "_MANAGER_SECRET"); val != "" {
		cfg.Manager.Secret = val
	}
}
