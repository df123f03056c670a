package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/amistreams/amiclient"
	"github.com/c360/amistreams/component"
	"github.com/c360/amistreams/errors"
	"github.com/c360/amistreams/natsclient"
	"github.com/c360/amistreams/pkg/retry"
	"github.com/c360/amistreams/pkg/timestamp"
)

// callEvents are the manager events the journal folds, in the order
// the manager emits them over a call's life.
var callEvents = []string{
	"Newchannel",
	"Newstate",
	"DialBegin",
	"DialEnd",
	"BridgeEnter",
	"BridgeLeave",
	"Hangup",
}

// janitorInterval is how often stale active calls are swept.
const janitorInterval = time.Minute

var bucketNameRe = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Config holds configuration for the call journal.
type Config struct {
	Bucket       string `json:"bucket"`        // KV bucket for finished records
	MaxRecords   int    `json:"max_records"`   // In-memory recent window size
	StaleAfter   int    `json:"stale_after"`   // Seconds before an unfinished call is evicted, 0 disables
	WriteTimeout int    `json:"write_timeout"` // KV persist budget in seconds
}

// DefaultConfig returns default configuration for the call journal.
func DefaultConfig() Config {
	return Config{
		Bucket:       "ami_calls",
		MaxRecords:   1000,
		StaleAfter:   14400,
		WriteTimeout: 5,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"bucket is required")
	}
	if !bucketNameRe.MatchString(c.Bucket) {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"bucket may only contain letters, digits, dash and underscore")
	}
	if c.MaxRecords < 1 || c.MaxRecords > 100000 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"max_records must be between 1 and 100000")
	}
	if c.StaleAfter != 0 && (c.StaleAfter < 60 || c.StaleAfter > 604800) {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"stale_after must be 0 or between 60 and 604800 seconds")
	}
	if c.WriteTimeout < 0 || c.WriteTimeout > 300 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"write_timeout must be between 0 and 300 seconds")
	}
	return nil
}

// Journal folds call events into per-channel records and archives
// finished calls. With a NATS client it persists records to a
// JetStream KV bucket; without one it keeps the in-memory window only.
type Journal struct {
	name         string
	bucket       string
	maxRecords   int
	staleAfter   time.Duration
	writeTimeout time.Duration

	manager    *amiclient.Client
	natsClient *natsclient.Client
	logger     *slog.Logger

	// Lifecycle management
	handlerIDs  []amiclient.HandlerID
	shutdown    chan struct{}
	running     bool
	startTime   time.Time
	mu          sync.RWMutex
	lifecycleMu sync.Mutex
	wg          sync.WaitGroup

	// Call state, guarded by mu. kv is set once during Start.
	kv     *natsclient.KVStore
	active map[string]*CallRecord
	recent []CallRecord

	// Metrics
	started       int64
	completed     int64
	persistErrors int64
	staleEvicted  int64
	lastActivity  atomic.Int64 // timestamp ms

	activeGauge  prometheus.Gauge
	completedVec *prometheus.CounterVec
}

// New creates a call journal from configuration and dependencies. The
// NATS client is optional; without it finished records live only in
// the recent window.
func New(cfg Config, deps component.Dependencies) (*Journal, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Manager == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Journal", "New",
			"manager client required")
	}

	writeTimeout := time.Duration(cfg.WriteTimeout) * time.Second
	if writeTimeout == 0 {
		writeTimeout = 5 * time.Second
	}

	j := &Journal{
		name:         "call-journal",
		bucket:       cfg.Bucket,
		maxRecords:   cfg.MaxRecords,
		staleAfter:   time.Duration(cfg.StaleAfter) * time.Second,
		writeTimeout: writeTimeout,
		manager:      deps.Manager,
		natsClient:   deps.NATSClient,
		logger:       deps.GetLoggerWithComponent("call-journal"),
		shutdown:     make(chan struct{}),
		active:       make(map[string]*CallRecord),
		activeGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "amistreams",
			Subsystem: "history",
			Name:      "active_calls",
			Help:      "Calls currently being tracked",
		}),
		completedVec: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "amistreams",
			Subsystem: "history",
			Name:      "calls_completed_total",
			Help:      "Finished calls by disposition",
		}, []string{"disposition"}),
	}

	if deps.MetricsRegistry != nil {
		if err := deps.MetricsRegistry.RegisterGauge(j.name, "active_calls", j.activeGauge); err != nil {
			return nil, errors.Wrap(err, "Journal", "New", "register metrics")
		}
		if err := deps.MetricsRegistry.RegisterCounterVec(j.name, "calls_completed_total", j.completedVec); err != nil {
			return nil, errors.Wrap(err, "Journal", "New", "register metrics")
		}
	}

	return j, nil
}

// Initialize prepares the journal.
func (j *Journal) Initialize() error {
	return nil
}

// Start opens the KV bucket when NATS is configured and registers the
// call event handlers.
func (j *Journal) Start(ctx context.Context) error {
	j.lifecycleMu.Lock()
	defer j.lifecycleMu.Unlock()

	if j.running {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Journal", "Start", "check running state")
	}

	if j.natsClient != nil {
		// JetStream may still be settling when the orchestrator brings
		// the journal up, so the bucket open gets a short retry budget.
		bucket, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (jetstream.KeyValue, error) {
			return j.natsClient.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
				Bucket:      j.bucket,
				Description: "Finished call records",
			})
		})
		if err != nil {
			return errors.Wrap(err, "Journal", "Start", "open KV bucket")
		}
		j.mu.Lock()
		j.kv = j.natsClient.NewKVStore(bucket)
		j.mu.Unlock()
	}

	ids := make([]amiclient.HandlerID, 0, len(callEvents))
	for _, name := range callEvents {
		id, err := j.manager.OnEvent(name, j.handleEvent)
		if err != nil {
			for _, registered := range ids {
				j.manager.OffEvent(registered)
			}
			return errors.Wrap(err, "Journal", "Start", "register handlers")
		}
		ids = append(ids, id)
	}

	j.mu.Lock()
	j.handlerIDs = ids
	j.running = true
	j.startTime = time.Now()
	j.mu.Unlock()

	if j.staleAfter > 0 {
		j.wg.Add(1)
		go j.janitor()
	}

	j.logger.Info("Call journal started", "bucket", j.bucket, "persisting", j.natsClient != nil)
	return nil
}

// Stop detaches the handlers and waits for in-flight folding.
func (j *Journal) Stop(timeout time.Duration) error {
	j.lifecycleMu.Lock()
	defer j.lifecycleMu.Unlock()

	if !j.running {
		return nil
	}

	j.mu.Lock()
	for _, id := range j.handlerIDs {
		j.manager.OffEvent(id)
	}
	j.handlerIDs = nil
	j.mu.Unlock()

	close(j.shutdown)

	waitCh := make(chan struct{})
	go func() {
		j.wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
	case <-time.After(timeout):
		return errors.WrapTransient(
			fmt.Errorf("shutdown timeout after %v", timeout),
			"Journal", "Stop", "wait for handlers")
	}

	j.mu.Lock()
	j.running = false
	j.mu.Unlock()

	j.logger.Info("Call journal stopped",
		"completed", atomic.LoadInt64(&j.completed),
		"persist_errors", atomic.LoadInt64(&j.persistErrors))
	return nil
}

// handleEvent folds one call event. All call events share a category,
// so invocations arrive in order on a single worker.
func (j *Journal) handleEvent(ctx context.Context, evt amiclient.Event) error {
	select {
	case <-j.shutdown:
		return nil
	default:
	}
	j.wg.Add(1)
	defer j.wg.Done()

	at := timestamp.Now()
	j.lastActivity.Store(at)

	id := evt.Get("Uniqueid")
	if id == "" {
		return nil
	}

	switch evt.Name {
	case "Hangup":
		return j.closeCall(ctx, id, evt, at)
	case "Newchannel", "Newstate":
		j.mu.Lock()
		rec := j.ensureLocked(id, at)
		rec.applySnapshot(evt)
		rec.applyState(evt.Get("ChannelStateDesc"), at)
		j.mu.Unlock()
	case "DialBegin", "DialEnd":
		j.mu.Lock()
		rec := j.ensureLocked(id, at)
		rec.applySnapshot(evt)
		rec.applyDial(evt)
		j.mu.Unlock()
	case "BridgeEnter":
		j.mu.Lock()
		rec := j.ensureLocked(id, at)
		rec.applySnapshot(evt)
		if v := evt.Get("BridgeUniqueid"); v != "" {
			rec.BridgeID = v
		}
		j.mu.Unlock()
	case "BridgeLeave":
		// The record keeps the last bridge it saw.
	}
	return nil
}

// ensureLocked returns the active record for id, creating one when the
// journal attached mid-call. Callers hold mu.
func (j *Journal) ensureLocked(id string, at int64) *CallRecord {
	rec, ok := j.active[id]
	if !ok {
		rec = &CallRecord{UniqueID: id, StartedAt: at}
		j.active[id] = rec
		atomic.AddInt64(&j.started, 1)
		j.activeGauge.Inc()
	}
	return rec
}

// closeCall finalizes a record, moves it to the recent window and
// persists it.
func (j *Journal) closeCall(ctx context.Context, id string, evt amiclient.Event, at int64) error {
	j.mu.Lock()
	rec, wasActive := j.active[id]
	if wasActive {
		delete(j.active, id)
	} else {
		rec = &CallRecord{UniqueID: id, StartedAt: at}
	}
	rec.finalize(evt, at)

	j.recent = append(j.recent, *rec.clone())
	if len(j.recent) > j.maxRecords {
		j.recent = j.recent[len(j.recent)-j.maxRecords:]
	}
	kv := j.kv
	j.mu.Unlock()

	if wasActive {
		j.activeGauge.Dec()
	}
	atomic.AddInt64(&j.completed, 1)
	j.completedVec.WithLabelValues(rec.Disposition).Inc()

	if kv == nil {
		return nil
	}
	data, err := json.Marshal(rec)
	if err != nil {
		atomic.AddInt64(&j.persistErrors, 1)
		return errors.Wrap(err, "Journal", "closeCall", "marshal record")
	}
	putCtx, cancel := context.WithTimeout(ctx, j.writeTimeout)
	defer cancel()
	if _, err := kv.Put(putCtx, kvKey(id), data); err != nil {
		atomic.AddInt64(&j.persistErrors, 1)
		j.logger.Warn("Finished call record not persisted", "uniqueid", id, "error", err)
		return errors.WrapTransient(err, "Journal", "closeCall",
			fmt.Sprintf("persist call %s", id))
	}
	return nil
}

// janitor evicts active records that never saw their Hangup. Their
// events were lost, so the records are zombies, not calls.
func (j *Journal) janitor() {
	defer j.wg.Done()
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-j.shutdown:
			return
		case <-ticker.C:
			j.sweepStale()
		}
	}
}

func (j *Journal) sweepStale() {
	cutoff := timestamp.Sub(timestamp.Now(), j.staleAfter)

	j.mu.Lock()
	var evicted int
	for id, rec := range j.active {
		if rec.StartedAt < cutoff {
			delete(j.active, id)
			evicted++
		}
	}
	j.mu.Unlock()

	if evicted > 0 {
		atomic.AddInt64(&j.staleEvicted, int64(evicted))
		j.activeGauge.Sub(float64(evicted))
		j.logger.Debug("Evicted stale calls", "count", evicted)
	}
}

// kvKey maps a manager unique id onto the KV key charset.
func kvKey(uniqueID string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '_' || r == '-':
			return r
		default:
			return '_'
		}
	}, uniqueID)
}

// Get returns the record for a unique id, checking active calls, the
// recent window, then the KV bucket. Misses return ErrKeyNotFound.
func (j *Journal) Get(ctx context.Context, uniqueID string) (*CallRecord, error) {
	if uniqueID == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Journal", "Get",
			"unique id required")
	}

	j.mu.RLock()
	if rec, ok := j.active[uniqueID]; ok {
		cp := rec.clone()
		j.mu.RUnlock()
		return cp, nil
	}
	for i := len(j.recent) - 1; i >= 0; i-- {
		if j.recent[i].UniqueID == uniqueID {
			cp := j.recent[i].clone()
			j.mu.RUnlock()
			return cp, nil
		}
	}
	kv := j.kv
	j.mu.RUnlock()

	if kv == nil {
		return nil, fmt.Errorf("%w: call %s", errors.ErrKeyNotFound, uniqueID)
	}

	entry, err := kv.Get(ctx, kvKey(uniqueID))
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return nil, fmt.Errorf("%w: call %s", errors.ErrKeyNotFound, uniqueID)
		}
		return nil, errors.WrapTransient(err, "Journal", "Get", "read KV bucket")
	}

	var rec CallRecord
	if err := json.Unmarshal(entry.Value, &rec); err != nil {
		return nil, errors.Wrap(err, "Journal", "Get", "decode record")
	}
	return &rec, nil
}

// Recent returns up to n finished records, newest first.
func (j *Journal) Recent(n int) []CallRecord {
	if n <= 0 {
		return nil
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	if n > len(j.recent) {
		n = len(j.recent)
	}
	out := make([]CallRecord, 0, n)
	for i := len(j.recent) - 1; i >= len(j.recent)-n; i-- {
		out = append(out, *j.recent[i].clone())
	}
	return out
}

// Active returns a snapshot of in-progress calls, oldest first.
func (j *Journal) Active() []CallRecord {
	j.mu.RLock()
	out := make([]CallRecord, 0, len(j.active))
	for _, rec := range j.active {
		out = append(out, *rec.clone())
	}
	j.mu.RUnlock()

	sort.Slice(out, func(a, b int) bool {
		if out[a].StartedAt != out[b].StartedAt {
			return out[a].StartedAt < out[b].StartedAt
		}
		return out[a].UniqueID < out[b].UniqueID
	})
	return out
}

// Meta returns component metadata.
func (j *Journal) Meta() component.Metadata {
	return component.Metadata{
		Name:        j.name,
		Type:        "processor",
		Description: "Folds call events into per-channel journal records",
		Version:     "0.1.0",
	}
}

// InputPorts returns the manager event source description.
func (j *Journal) InputPorts() []component.Port {
	return []component.Port{}
}

// OutputPorts returns the KV archive description.
func (j *Journal) OutputPorts() []component.Port {
	return []component.Port{
		{
			Name:        "archive",
			Direction:   component.DirectionOutput,
			Required:    false,
			Description: "Finished call records as JSON, keyed by unique id",
			Config:      component.KVWritePort{Bucket: j.bucket},
		},
	}
}

// ConfigSchema returns the configuration schema.
func (j *Journal) ConfigSchema() component.ConfigSchema {
	return component.ConfigSchema{
		Properties: map[string]component.PropertySchema{
			"bucket": {
				Type:        "string",
				Description: "KV bucket finished records are written to",
				Default:     "ami_calls",
				Category:    "basic",
			},
			"max_records": {
				Type:        "int",
				Description: "Finished records kept in memory",
				Default:     1000,
				Category:    "basic",
			},
			"stale_after": {
				Type:        "int",
				Description: "Seconds before an unfinished call is evicted, 0 disables",
				Default:     14400,
				Category:    "advanced",
			},
			"write_timeout": {
				Type:        "int",
				Description: "KV persist budget in seconds",
				Default:     5,
				Category:    "advanced",
			},
		},
		Required: []string{"bucket"},
	}
}

// Health returns the current health status.
func (j *Journal) Health() component.HealthStatus {
	j.mu.RLock()
	running := j.running
	startTime := j.startTime
	j.mu.RUnlock()

	var uptime time.Duration
	if running {
		uptime = time.Since(startTime)
	}

	healthy := running
	if j.natsClient != nil {
		healthy = healthy && j.natsClient.IsHealthy()
	}

	return component.HealthStatus{
		Healthy:    healthy,
		LastCheck:  time.Now(),
		ErrorCount: int(atomic.LoadInt64(&j.persistErrors)),
		Uptime:     uptime,
	}
}

// DataFlow returns current data flow metrics.
func (j *Journal) DataFlow() component.FlowMetrics {
	completed := atomic.LoadInt64(&j.completed)
	errorCount := atomic.LoadInt64(&j.persistErrors)

	var errorRate float64
	if completed > 0 {
		errorRate = float64(errorCount) / float64(completed)
	}

	return component.FlowMetrics{
		ErrorRate:    errorRate,
		LastActivity: timestamp.ToTime(j.lastActivity.Load()),
	}
}

// Started returns how many calls the journal opened records for.
func (j *Journal) Started() int64 {
	return atomic.LoadInt64(&j.started)
}

// Completed returns how many calls finished.
func (j *Journal) Completed() int64 {
	return atomic.LoadInt64(&j.completed)
}

// PersistErrors returns how many finished records failed to reach KV.
func (j *Journal) PersistErrors() int64 {
	return atomic.LoadInt64(&j.persistErrors)
}

// StaleEvicted returns how many unfinished calls were swept.
func (j *Journal) StaleEvicted() int64 {
	return atomic.LoadInt64(&j.staleEvicted)
}
