package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/amistreams/natsclient"
)

// KV layout for runtime configuration. The whole config travels as a
// single JSON document so every update is atomic from a watcher's
// point of view.
const (
	configBucket  = "ami_config"
	configKey     = "config"
	configHistory = 5
)

// Update represents a configuration change notification
type Update struct {
	Revision uint64      // KV revision that carried the change
	Config   *SafeConfig // Full latest configuration
}

// Manager provides centralized configuration management with
// channel-based updates backed by a NATS KV bucket
type Manager struct {
	config      *SafeConfig
	kv          jetstream.KeyValue
	kvStore     *natsclient.KVStore
	watcher     jetstream.KeyWatcher
	subscribers []chan Update
	mu          sync.RWMutex // Protects subscribers
	logger      *slog.Logger

	// Lifecycle management
	shutdownCh chan struct{}
	wg         sync.WaitGroup
	stopped    atomic.Bool
}

// NewManager creates a configuration manager on top of a connected
// NATS client
func NewManager(cfg *Config, natsClient *natsclient.Client, logger *slog.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if natsClient == nil {
		return nil, fmt.Errorf("nats client cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx := context.Background()
	kv, err := natsClient.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      configBucket,
		Description: "amistreams runtime configuration",
		History:     configHistory,
	})
	if err != nil {
		return nil, fmt.Errorf("create/get KV bucket: %w", err)
	}

	return &Manager{
		config:  NewSafeConfig(cfg),
		kv:      kv,
		kvStore: natsClient.NewKVStore(kv),
		logger:  logger,
	}, nil
}

// GetConfig returns the current configuration
func (cm *Manager) GetConfig() *SafeConfig {
	return cm.config
}

// OnChange subscribes to configuration changes. The channel carries
// the current configuration immediately and every accepted KV update
// afterwards. Sends never block, so a slow subscriber misses
// intermediate updates rather than stall the watcher.
func (cm *Manager) OnChange() <-chan Update {
	ch := make(chan Update, 1)

	cm.mu.Lock()
	cm.subscribers = append(cm.subscribers, ch)
	cm.mu.Unlock()

	select {
	case ch <- Update{Config: cm.config}:
	default:
	}

	return ch
}

// Start reconciles the file configuration with the KV bucket and
// begins watching for updates.
//
// A missing KV document means first boot and the file config is
// pushed. Otherwise the newer version wins: a newer file replaces the
// KV document, a newer or equal KV document replaces the in-memory
// config because it may carry edits made through the control surface.
func (cm *Manager) Start(ctx context.Context) error {
	cm.shutdownCh = make(chan struct{})

	entry, err := cm.kv.Get(ctx, configKey)
	switch {
	case err != nil && natsclient.IsKVNotFoundError(err):
		cm.logger.Info("First boot detected, pushing config to KV")
		if err := cm.PushToKV(ctx); err != nil {
			// The bucket stays empty but the file config still works.
			cm.logger.Error("Failed to push initial config to KV", "error", err)
		}
	case err != nil:
		cm.logger.Warn("Failed to read KV config, keeping file config", "error", err)
	default:
		cm.syncOnBoot(ctx, entry)
	}

	// UpdatesOnly skips the replay of the current value, which the
	// boot sync above already handled.
	watcher, err := cm.kv.Watch(ctx, configKey, jetstream.UpdatesOnly())
	if err != nil {
		return fmt.Errorf("watch config key: %w", err)
	}
	cm.watcher = watcher

	cm.wg.Add(1)
	go cm.processWatcher(ctx)

	return nil
}

// syncOnBoot reconciles file and KV config on a non-first boot
func (cm *Manager) syncOnBoot(ctx context.Context, entry jetstream.KeyValueEntry) {
	fileVersion := cm.config.Get().Version
	kvVersion := versionOf(entry.Value())

	cmp, err := CompareVersions(fileVersion, kvVersion)
	if err != nil {
		cm.logger.Warn("Failed to compare config versions, using KV config",
			"file_version", fileVersion,
			"kv_version", kvVersion,
			"error", err)
		cm.adoptKV(entry)
		return
	}

	switch {
	case cmp > 0:
		cm.logger.Info("File config is newer than KV, updating KV",
			"file_version", fileVersion,
			"kv_version", kvVersion)
		if err := cm.PushToKV(ctx); err != nil {
			cm.logger.Error("Failed to update KV with newer config", "error", err)
		}
	case cmp < 0:
		cm.logger.Warn("File config is older than KV, using KV config",
			"file_version", fileVersion,
			"kv_version", kvVersion,
			"hint", "bump the file version to update KV")
		cm.adoptKV(entry)
	default:
		cm.logger.Info("File and KV versions match, using KV config",
			"version", fileVersion)
		cm.adoptKV(entry)
	}
}

// versionOf extracts the version field from a KV config document.
// Unparseable documents rank as 0.0.0 so a valid file config wins.
func versionOf(value []byte) string {
	var doc struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(value, &doc); err != nil || doc.Version == "" {
		return "0.0.0"
	}
	return doc.Version
}

// adoptKV replaces the in-memory config with a KV document, keeping
// the current config when the document fails to decode or validate
func (cm *Manager) adoptKV(entry jetstream.KeyValueEntry) {
	cfg, err := decodeKVConfig(entry.Value())
	if err != nil {
		cm.logger.Error("Rejected KV config document",
			"revision", entry.Revision(),
			"error", err)
		return
	}
	if err := cm.config.Update(cfg); err != nil {
		cm.logger.Error("Rejected KV config document",
			"revision", entry.Revision(),
			"error", err)
	}
}

// decodeKVConfig decodes a KV document over the defaults, mirroring
// how file layers decode
func decodeKVConfig(value []byte) (*Config, error) {
	if len(value) == 0 {
		return nil, fmt.Errorf("empty config document")
	}
	if len(value) > maxConfigSize {
		return nil, fmt.Errorf("config document too large: %d bytes > %d", len(value), maxConfigSize)
	}
	if err := validateJSONDepth(value); err != nil {
		return nil, fmt.Errorf("invalid JSON structure: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(value, cfg); err != nil {
		return nil, fmt.Errorf("parse config document: %w", err)
	}
	return cfg, nil
}

// Stop stops watching for configuration changes
func (cm *Manager) Stop(timeout time.Duration) error {
	if !cm.stopped.CompareAndSwap(false, true) {
		return nil // Already stopped
	}

	if cm.shutdownCh != nil {
		close(cm.shutdownCh)
	}

	if cm.watcher != nil {
		_ = cm.watcher.Stop() // Ignore errors during shutdown
	}

	// Wait for the watcher goroutine with timeout
	done := make(chan struct{})
	go func() {
		cm.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		cm.logger.Warn("Manager shutdown timeout", "timeout", timeout)
	}

	// Close subscriber channels only after the watcher goroutine has
	// stopped so nothing sends on a closed channel.
	cm.mu.Lock()
	for _, ch := range cm.subscribers {
		close(ch)
	}
	cm.subscribers = nil
	cm.mu.Unlock()

	return nil
}

// processWatcher handles incoming KV updates
func (cm *Manager) processWatcher(ctx context.Context) {
	defer cm.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case <-cm.shutdownCh:
			return

		case entry := <-cm.watcher.Updates():
			// With UpdatesOnly the watcher should not emit nil
			// entries, but check anyway
			if entry != nil {
				cm.handleUpdate(entry)
			}
		}
	}
}

// handleUpdate applies a single KV update and fans it out to
// subscribers
func (cm *Manager) handleUpdate(entry jetstream.KeyValueEntry) {
	if cm.stopped.Load() {
		return
	}

	if len(entry.Value()) == 0 {
		// Deletion. Keep running on the last accepted config.
		cm.logger.Warn("Config document deleted in KV, keeping current config",
			"revision", entry.Revision())
		return
	}

	cfg, err := decodeKVConfig(entry.Value())
	if err != nil {
		cm.logger.Error("Rejected KV config update",
			"revision", entry.Revision(),
			"error", err)
		return
	}
	if err := cm.config.Update(cfg); err != nil {
		cm.logger.Error("Rejected KV config update",
			"revision", entry.Revision(),
			"error", err)
		return
	}

	update := Update{
		Revision: entry.Revision(),
		Config:   cm.config,
	}

	cm.mu.RLock()
	defer cm.mu.RUnlock()

	for _, ch := range cm.subscribers {
		if cm.stopped.Load() {
			return
		}
		select {
		case ch <- update:
		default:
			// Subscriber not keeping up
		}
	}
}

// PushToKV writes the current configuration to the KV bucket as a
// single document
func (cm *Manager) PushToKV(ctx context.Context) error {
	data, err := json.Marshal(cm.config.Get())
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if _, err := cm.kvStore.Put(ctx, configKey, data); err != nil {
		return fmt.Errorf("push config: %w", err)
	}
	return nil
}
