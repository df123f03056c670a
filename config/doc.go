// Package config provides configuration management for the AMI
// gateway.
//
// This package handles loading, validation, and dynamic updates of
// application configuration from JSON or YAML files, environment
// variables, and the NATS KV store.
//
// # Core Components
//
// Config: Main configuration structure containing platform identity,
// the NATS and Asterisk Manager Interface connections, TLS settings,
// and the per-component sections (bridge, history, livefeed).
//
// SafeConfig: Thread-safe wrapper using RWMutex and deep cloning to
// prevent concurrent access issues and accidental mutations.
//
// Manager: Manages the runtime lifecycle of configuration including
// NATS KV synchronization, change notifications via channels, and
// graceful shutdown with timeout handling.
//
// Loader: Loads configuration with layer merging (base + overrides),
// ${VAR} substitution for secrets, and AMISTREAMS_* environment
// overrides.
//
// # Basic Usage
//
// Loading a single configuration file with validation:
//
//	cfg, err := config.Load("config/gateway.json")
//	if err != nil {
//		log.Fatal(err)
//	}
//
// Loading with layer merging for deployment overrides:
//
//	loader := config.NewLoader()
//	loader.AddLayer("config/base.yaml")
//	loader.AddLayer("config/production.yaml") // Overrides base
//	loader.EnableValidation(true)
//
//	cfg, err := loader.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// # File Format
//
// The extension picks the format: .yaml and .yml parse as YAML,
// everything else as JSON. Both formats share the same field names.
// Secrets reference environment variables with ${VAR} and loading
// fails when a referenced variable is unset:
//
//	{
//	  "version": "1.2.0",
//	  "platform": {"org": "c360", "id": "pbx-east-1"},
//	  "manager": {
//	    "address": "pbx.example.com:5038",
//	    "username": "gateway",
//	    "secret": "${AMI_SECRET}"
//	  }
//	}
//
// # Dynamic Configuration
//
// Using Manager for runtime updates via NATS KV:
//
//	cm, err := config.NewManager(cfg, natsClient, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := cm.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer cm.Stop(5 * time.Second)
//
//	for update := range cm.OnChange() {
//		applySettings(update.Config.Get())
//	}
//
// The whole configuration travels as one JSON document under the
// "config" key of the "ami_config" bucket. On boot the newer version
// wins: a newer file replaces the KV document, a newer or equal KV
// document replaces the in-memory config. Documents that fail
// validation are rejected and the previous configuration stays
// active.
package config
