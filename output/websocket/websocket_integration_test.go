package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/amistreams/component"
	"github.com/c360/amistreams/natsclient"
)

// TestLiveFeed_NATSRoundTrip exercises the full path: a message published
// on NATS reaches a connected WebSocket client wrapped in a feed envelope.
func TestLiveFeed_NATSRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	tc := natsclient.NewTestClient(t)

	cfg := DefaultConfig()
	cfg.Port = 8921
	cfg.Subjects = []string{"feed.test.>"}

	feed, err := New(cfg, component.Dependencies{NATSClient: tc.Client})
	require.NoError(t, err)
	require.NoError(t, feed.Initialize())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	require.NoError(t, feed.Start(ctx))
	defer func() { _ = feed.Stop(5 * time.Second) }()

	// Make sure the subscriptions reached the server before publishing
	require.NoError(t, tc.GetNativeConnection().Flush())
	time.Sleep(100 * time.Millisecond)

	conn := dialFeed(t, cfg.Port, cfg.Path)
	require.Eventually(t, func() bool {
		return feed.ClientCount() == 1
	}, 5*time.Second, 50*time.Millisecond)

	payload := []byte(`{"name":"Hangup","category":"call","fields":{"Cause":"16"}}`)
	require.NoError(t, tc.Client.Publish(ctx, "feed.test.call.Hangup", payload))

	msg := readFrame(t, conn, 10*time.Second)
	assert.Equal(t, "event", msg.Type)
	assert.Equal(t, "feed.test.call.Hangup", msg.Subject)
	assert.JSONEq(t, string(payload), string(msg.Payload))

	require.Eventually(t, func() bool {
		return feed.MessagesSent() == 1
	}, 5*time.Second, 50*time.Millisecond)

	assert.True(t, feed.Health().Healthy)
}

// TestLiveFeed_TwoClientsWithFilters verifies fan-out and per-client
// filtering against a live NATS server.
func TestLiveFeed_TwoClientsWithFilters(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	tc := natsclient.NewTestClient(t)

	cfg := DefaultConfig()
	cfg.Port = 8922
	cfg.Subjects = []string{"feed.fanout.>"}

	feed, err := New(cfg, component.Dependencies{NATSClient: tc.Client})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	require.NoError(t, feed.Start(ctx))
	defer func() { _ = feed.Stop(5 * time.Second) }()

	require.NoError(t, tc.GetNativeConnection().Flush())
	time.Sleep(100 * time.Millisecond)

	all := dialFeed(t, cfg.Port, cfg.Path)
	queueOnly := dialFeed(t, cfg.Port, cfg.Path)

	require.Eventually(t, func() bool {
		return feed.ClientCount() == 2
	}, 5*time.Second, 50*time.Millisecond)

	filter, err := json.Marshal(clientRequest{Type: "subscribe", Subjects: []string{"feed.fanout.queue.>"}})
	require.NoError(t, err)
	require.NoError(t, queueOnly.WriteMessage(websocket.TextMessage, filter))
	time.Sleep(200 * time.Millisecond)

	require.NoError(t, tc.Client.Publish(ctx, "feed.fanout.call.Newchannel", []byte(`{"n":1}`)))
	require.NoError(t, tc.Client.Publish(ctx, "feed.fanout.queue.QueueCallerJoin", []byte(`{"n":2}`)))

	// The unfiltered client sees both frames in publish order
	first := readFrame(t, all, 10*time.Second)
	second := readFrame(t, all, 10*time.Second)
	assert.Equal(t, "feed.fanout.call.Newchannel", first.Subject)
	assert.Equal(t, "feed.fanout.queue.QueueCallerJoin", second.Subject)

	// The filtered client sees only the queue frame
	msg := readFrame(t, queueOnly, 10*time.Second)
	assert.Equal(t, "feed.fanout.queue.QueueCallerJoin", msg.Subject)
}
