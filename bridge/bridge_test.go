package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/amistreams/amiclient"
	"github.com/c360/amistreams/component"
	"github.com/c360/amistreams/errors"
	"github.com/c360/amistreams/metric"
	"github.com/c360/amistreams/natsclient"
)

// testDeps builds dependencies around unconnected clients. Registration
// and lifecycle paths work without any live server.
func testDeps(t *testing.T) component.Dependencies {
	t.Helper()

	manager, err := amiclient.NewClient("127.0.0.1:5038", "admin", "secret")
	require.NoError(t, err)

	nats, err := natsclient.NewClient("nats://127.0.0.1:4222",
		natsclient.WithHealthInterval(0))
	require.NoError(t, err)

	return component.Dependencies{
		Manager:    manager,
		NATSClient: nats,
	}
}

func testEvent(name string, fields map[string]string) amiclient.Event {
	var f amiclient.Frame
	for k, v := range fields {
		f.Add(k, v)
	}
	return amiclient.Event{
		Name:     name,
		Category: amiclient.CategoryOf(name),
		Seq:      1,
		Fields:   f,
	}
}

func TestBridge_Creation(t *testing.T) {
	b, err := New(DefaultConfig(), testDeps(t))
	require.NoError(t, err)
	require.NotNil(t, b)

	meta := b.Meta()
	assert.Equal(t, "event-bridge", meta.Name)
	assert.Equal(t, "output", meta.Type)
}

func TestBridge_CreationWithRegistry(t *testing.T) {
	deps := testDeps(t)
	deps.MetricsRegistry = metric.NewMetricsRegistry()

	b, err := New(DefaultConfig(), deps)
	require.NoError(t, err)
	require.NotNil(t, b)
}

func TestBridge_DefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "ami.event", cfg.SubjectPrefix)
	assert.Equal(t, "AMI_EVENTS", cfg.Stream)
	assert.Equal(t, 5, cfg.PublishTimeout)
	assert.Equal(t, 2, cfg.RetryCount)
	assert.NoError(t, cfg.Validate())
}

// coreOnlyConfig publishes on core NATS without ensuring a stream, so
// lifecycle tests run against an unconnected client.
func coreOnlyConfig() Config {
	cfg := DefaultConfig()
	cfg.Stream = ""
	return cfg
}

func TestBridge_ConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"empty prefix", func(c *Config) { c.SubjectPrefix = "" }, true},
		{"wildcard prefix", func(c *Config) { c.SubjectPrefix = "ami.*" }, true},
		{"full wildcard prefix", func(c *Config) { c.SubjectPrefix = "ami.>" }, true},
		{"space in prefix", func(c *Config) { c.SubjectPrefix = "ami events" }, true},
		{"no stream", func(c *Config) { c.Stream = "" }, false},
		{"dotted stream", func(c *Config) { c.Stream = "ami.events" }, true},
		{"wildcard stream", func(c *Config) { c.Stream = "AMI>" }, true},
		{"negative timeout", func(c *Config) { c.PublishTimeout = -1 }, true},
		{"excessive timeout", func(c *Config) { c.PublishTimeout = 301 }, true},
		{"negative retries", func(c *Config) { c.RetryCount = -1 }, true},
		{"excessive retries", func(c *Config) { c.RetryCount = 11 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsInvalid(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBridge_MissingDependencies(t *testing.T) {
	deps := testDeps(t)

	noManager := deps
	noManager.Manager = nil
	_, err := New(DefaultConfig(), noManager)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	noNATS := deps
	noNATS.NATSClient = nil
	_, err = New(DefaultConfig(), noNATS)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestBridge_Subject(t *testing.T) {
	b, err := New(DefaultConfig(), testDeps(t))
	require.NoError(t, err)

	tests := []struct {
		event   string
		subject string
	}{
		{"Newchannel", "ami.event.call.Newchannel"},
		{"QueueCallerJoin", "ami.event.queue.QueueCallerJoin"},
		{"PeerStatus", "ami.event.system.PeerStatus"},
		{"SomethingNovel", "ami.event.other.SomethingNovel"},
	}

	for _, tt := range tests {
		evt := testEvent(tt.event, nil)
		assert.Equal(t, tt.subject, b.Subject(evt))
	}
}

func TestBridge_SubjectToken(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Newchannel", "Newchannel"},
		{"", "unknown"},
		{"has.dots", "has_dots"},
		{"has space", "has_space"},
		{"star*full>", "star_full_"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, subjectToken(tt.in))
	}
}

func TestBridge_Lifecycle(t *testing.T) {
	b, err := New(coreOnlyConfig(), testDeps(t))
	require.NoError(t, err)

	// Not started yet
	health := b.Health()
	assert.False(t, health.Healthy)

	require.NoError(t, b.Initialize())
	require.NoError(t, b.Start(context.Background()))

	// Running, but the NATS connection is down
	health = b.Health()
	assert.False(t, health.Healthy)

	// Second start is refused
	err = b.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))

	require.NoError(t, b.Stop(time.Second))

	// Stop is idempotent
	assert.NoError(t, b.Stop(time.Second))
}

func TestBridge_PublishFailureCounts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetryCount = 0 // fail on the first attempt

	b, err := New(cfg, testDeps(t))
	require.NoError(t, err)

	evt := testEvent("Newchannel", map[string]string{
		"Channel": "PJSIP/1001-00000001",
	})

	err = b.handleEvent(context.Background(), evt)
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))

	assert.Equal(t, int64(0), b.Published())
	assert.Equal(t, int64(1), b.PublishErrors())

	flow := b.DataFlow()
	assert.Equal(t, 1.0, flow.ErrorRate)
	assert.False(t, flow.LastActivity.IsZero())
}

// Ensuring the configured stream is the first thing Start does; with
// the NATS connection down the bridge refuses to come up.
func TestBridge_StartRequiresNATSForStream(t *testing.T) {
	b, err := New(DefaultConfig(), testDeps(t))
	require.NoError(t, err)

	err = b.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, natsclient.ErrNotConnected)

	// Nothing was registered; the bridge can be started again once
	// NATS is reachable, or without a stream at all.
	health := b.Health()
	assert.False(t, health.Healthy)
}

func TestBridge_HandleEventAfterStop(t *testing.T) {
	b, err := New(coreOnlyConfig(), testDeps(t))
	require.NoError(t, err)

	require.NoError(t, b.Start(context.Background()))
	require.NoError(t, b.Stop(time.Second))

	// Late deliveries are ignored once shutdown began
	err = b.handleEvent(context.Background(), testEvent("Newchannel", nil))
	assert.NoError(t, err)
	assert.Equal(t, int64(0), b.Published())
	assert.Equal(t, int64(0), b.PublishErrors())
}

func TestBridge_Ports(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SubjectPrefix = "pbx.events"

	b, err := New(cfg, testDeps(t))
	require.NoError(t, err)

	assert.Empty(t, b.InputPorts())

	outputs := b.OutputPorts()
	require.Len(t, outputs, 1)
	natsPort, ok := outputs[0].Config.(component.NATSPort)
	require.True(t, ok)
	assert.Equal(t, "pbx.events.>", natsPort.Subject)

	schema := b.ConfigSchema()
	assert.Contains(t, schema.Properties, "subject_prefix")
	assert.Contains(t, schema.Required, "subject_prefix")
}
