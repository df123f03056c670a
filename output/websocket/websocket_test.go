package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/amistreams/component"
	"github.com/c360/amistreams/errors"
	"github.com/c360/amistreams/metric"
	"github.com/c360/amistreams/pkg/security"
)

// startFeed starts a live feed on the given port with no NATS client and
// registers cleanup. Frames are injected with deliver directly.
func startFeed(t *testing.T, cfg Config) *Output {
	t.Helper()

	feed, err := New(cfg, component.Dependencies{})
	require.NoError(t, err)
	require.NoError(t, feed.Initialize())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	require.NoError(t, feed.Start(ctx))
	t.Cleanup(func() { _ = feed.Stop(5 * time.Second) })

	// Give the server time to bind
	time.Sleep(100 * time.Millisecond)

	return feed
}

// dialFeed connects a WebSocket client to a running feed.
func dialFeed(t *testing.T, port int, path string) *websocket.Conn {
	t.Helper()

	u := url.URL{Scheme: "ws", Host: fmt.Sprintf("localhost:%d", port), Path: path}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

// readFrame reads one feed message from the connection.
func readFrame(t *testing.T, conn *websocket.Conn, timeout time.Duration) FeedMessage {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg FeedMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestOutput_Creation(t *testing.T) {
	feed, err := New(DefaultConfig(), component.Dependencies{})
	require.NoError(t, err)

	meta := feed.Meta()
	assert.Equal(t, "live-feed", meta.Name)
	assert.Equal(t, "output", meta.Type)
	assert.Equal(t, "1.0.0", meta.Version)

	assert.False(t, feed.Health().Healthy, "not healthy before start")
	assert.Zero(t, feed.MessagesSent())
	assert.Zero(t, feed.ClientCount())
}

func TestOutput_CreationWithRegistry(t *testing.T) {
	registry := metric.NewMetricsRegistry()

	feed, err := New(DefaultConfig(), component.Dependencies{MetricsRegistry: registry})
	require.NoError(t, err)
	require.NotNil(t, feed.metrics)
}

func TestOutput_DefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 8088, cfg.Port)
	assert.Equal(t, "/ws", cfg.Path)
	assert.Equal(t, []string{"ami.event.>"}, cfg.Subjects)
	assert.Equal(t, 200, cfg.RatePerSecond)
	assert.Equal(t, 50, cfg.RateBurst)
	assert.Equal(t, 256, cfg.QueueSize)
	require.NoError(t, cfg.Validate())
}

func TestOutput_ConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port too low", func(c *Config) { c.Port = 80 }},
		{"port too high", func(c *Config) { c.Port = 70000 }},
		{"empty path", func(c *Config) { c.Path = "" }},
		{"path without slash", func(c *Config) { c.Path = "ws" }},
		{"no subjects", func(c *Config) { c.Subjects = nil }},
		{"empty subject", func(c *Config) { c.Subjects = []string{""} }},
		{"negative rate", func(c *Config) { c.RatePerSecond = -1 }},
		{"zero burst with rate", func(c *Config) { c.RatePerSecond = 10; c.RateBurst = 0 }},
		{"zero queue", func(c *Config) { c.QueueSize = 0 }},
		{"ping interval too short", func(c *Config) { c.PingInterval = 1 }},
		{"write timeout too long", func(c *Config) { c.WriteTimeout = 120 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err), "expected invalid classification, got %v", err)

			_, err = New(cfg, component.Dependencies{})
			require.Error(t, err)
		})
	}
}

func TestSubjectMatch(t *testing.T) {
	tests := []struct {
		pattern string
		subject string
		want    bool
	}{
		{"ami.event.call.Hangup", "ami.event.call.Hangup", true},
		{"ami.event.call.Hangup", "ami.event.call.Newchannel", false},
		{"ami.event.*.Hangup", "ami.event.call.Hangup", true},
		{"ami.event.*", "ami.event.call", true},
		{"ami.event.*", "ami.event.call.Hangup", false},
		{"ami.event.>", "ami.event.call.Hangup", true},
		{"ami.event.>", "ami.event.call", true},
		{"ami.event.>", "ami.event", false},
		{"ami.event.>", "pbx.event.call.Hangup", false},
		{">", "anything.at.all", true},
		{"ami.event.call", "ami.event", false},
		{"ami.event", "ami.event.call", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"_"+tt.subject, func(t *testing.T) {
			assert.Equal(t, tt.want, subjectMatch(tt.pattern, tt.subject))
		})
	}
}

func TestOutput_Ports(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Port = 9201
	cfg.Subjects = []string{"ami.event.call.>", "ami.event.queue.>"}

	feed, err := New(cfg, component.Dependencies{})
	require.NoError(t, err)

	inputs := feed.InputPorts()
	require.Len(t, inputs, 2)
	natsPort, ok := inputs[0].Config.(component.NATSPort)
	require.True(t, ok)
	assert.Equal(t, "ami.event.call.>", natsPort.Subject)
	assert.Equal(t, component.DirectionInput, inputs[0].Direction)

	outputs := feed.OutputPorts()
	require.Len(t, outputs, 1)
	netPort, ok := outputs[0].Config.(component.NetworkPort)
	require.True(t, ok)
	assert.Equal(t, "websocket", netPort.Protocol)
	assert.Equal(t, 9201, netPort.Port)

	schema := feed.ConfigSchema()
	assert.Contains(t, schema.Properties, "port")
	assert.Contains(t, schema.Properties, "subjects")
	assert.Contains(t, schema.Properties, "rate_per_second")
	assert.Contains(t, schema.Required, "subjects")
}

func TestOutput_Lifecycle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Port = 8911

	feed := startFeed(t, cfg)

	assert.True(t, feed.Health().Healthy)

	// Starting a running feed is a no-op
	require.NoError(t, feed.Start(context.Background()))

	require.NoError(t, feed.Stop(5*time.Second))
	assert.False(t, feed.Health().Healthy)

	// Stop is idempotent
	require.NoError(t, feed.Stop(5*time.Second))

	// A stopped feed can be started again
	require.NoError(t, feed.Start(context.Background()))
	time.Sleep(100 * time.Millisecond)
	assert.True(t, feed.Health().Healthy)
	require.NoError(t, feed.Stop(5*time.Second))
}

func TestOutput_StartWithBadTLSConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Port = 8917

	feed, err := New(cfg, component.Dependencies{
		Security: security.Config{
			TLS: security.TLSConfig{
				Server: security.ServerTLSConfig{
					Enabled:  true,
					CertFile: "/nonexistent/cert.pem",
					KeyFile:  "/nonexistent/key.pem",
				},
			},
		},
	})
	require.NoError(t, err)

	err = feed.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err), "expected fatal classification, got %v", err)
	assert.False(t, feed.Health().Healthy)
}

func TestOutput_ClientReceivesFrames(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Port = 8912

	feed := startFeed(t, cfg)
	conn := dialFeed(t, cfg.Port, cfg.Path)

	require.Eventually(t, func() bool {
		return feed.ClientCount() == 1
	}, 5*time.Second, 50*time.Millisecond)

	payload := []byte(`{"name":"Newchannel","fields":{"Channel":"PJSIP/100-00000001"}}`)
	feed.deliver("ami.event.call.Newchannel", payload)

	msg := readFrame(t, conn, 5*time.Second)
	assert.Equal(t, "event", msg.Type)
	assert.Equal(t, "ami.event.call.Newchannel", msg.Subject)
	assert.NotEmpty(t, msg.ID)
	assert.NotZero(t, msg.Timestamp)
	assert.JSONEq(t, string(payload), string(msg.Payload))

	require.Eventually(t, func() bool {
		return feed.MessagesSent() == 1
	}, 5*time.Second, 50*time.Millisecond)
	assert.Zero(t, feed.Dropped())
}

func TestOutput_SubscribeFilters(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Port = 8913

	feed := startFeed(t, cfg)
	conn := dialFeed(t, cfg.Port, cfg.Path)

	require.Eventually(t, func() bool {
		return feed.ClientCount() == 1
	}, 5*time.Second, 50*time.Millisecond)

	filter := clientRequest{Type: "subscribe", Subjects: []string{"ami.event.queue.>"}}
	data, err := json.Marshal(filter)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))

	// Let the read loop apply the filter before delivering
	time.Sleep(200 * time.Millisecond)

	feed.deliver("ami.event.call.Hangup", []byte(`{"name":"Hangup"}`))
	feed.deliver("ami.event.queue.QueueCallerJoin", []byte(`{"name":"QueueCallerJoin"}`))

	msg := readFrame(t, conn, 5*time.Second)
	assert.Equal(t, "ami.event.queue.QueueCallerJoin", msg.Subject, "filtered subject must not arrive")

	// An empty subject list restores the full feed
	reset := clientRequest{Type: "subscribe"}
	data, err = json.Marshal(reset)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
	time.Sleep(200 * time.Millisecond)

	feed.deliver("ami.event.call.Hangup", []byte(`{"name":"Hangup"}`))
	msg = readFrame(t, conn, 5*time.Second)
	assert.Equal(t, "ami.event.call.Hangup", msg.Subject)
}

func TestOutput_NonJSONPayloadWrapped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Port = 8914

	feed := startFeed(t, cfg)
	conn := dialFeed(t, cfg.Port, cfg.Path)

	require.Eventually(t, func() bool {
		return feed.ClientCount() == 1
	}, 5*time.Second, 50*time.Millisecond)

	feed.deliver("ami.event.system.Reload", []byte("not json"))

	msg := readFrame(t, conn, 5*time.Second)
	var raw string
	require.NoError(t, json.Unmarshal(msg.Payload, &raw))
	assert.Equal(t, "not json", raw)
}

func TestOutput_SlowClientDropsOldest(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Port = 8915
	cfg.RatePerSecond = 1
	cfg.RateBurst = 1
	cfg.QueueSize = 4

	feed := startFeed(t, cfg)
	dialFeed(t, cfg.Port, cfg.Path)

	require.Eventually(t, func() bool {
		return feed.ClientCount() == 1
	}, 5*time.Second, 50*time.Millisecond)

	// Far more frames than the queue holds while the writer is pinned
	// at one frame per second.
	for i := 0; i < 50; i++ {
		feed.deliver("ami.event.call.Newchannel", []byte(fmt.Sprintf(`{"seq":%d}`, i)))
	}

	require.Eventually(t, func() bool {
		return feed.Dropped() > 0
	}, 5*time.Second, 50*time.Millisecond)

	health := feed.Health()
	assert.True(t, health.Healthy, "backpressure must not mark the feed unhealthy")
}

func TestOutput_StopDisconnectsClients(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Port = 8916

	feed := startFeed(t, cfg)
	conn := dialFeed(t, cfg.Port, cfg.Path)

	require.Eventually(t, func() bool {
		return feed.ClientCount() == 1
	}, 5*time.Second, 50*time.Millisecond)

	require.NoError(t, feed.Stop(5*time.Second))
	assert.Zero(t, feed.ClientCount())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "client read must fail after server stop")
}

func TestOutput_DeliverWhenStoppedIsNoop(t *testing.T) {
	feed, err := New(DefaultConfig(), component.Dependencies{})
	require.NoError(t, err)

	feed.deliver("ami.event.call.Hangup", []byte(`{"name":"Hangup"}`))
	assert.Zero(t, feed.MessagesSent())
}
