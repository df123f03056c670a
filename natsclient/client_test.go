package natsclient

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_Defaults(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.Equal(t, "nats://localhost:4222", client.URL())
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.False(t, client.IsHealthy())
	assert.Equal(t, int32(0), client.Failures())
	assert.Equal(t, time.Second, client.Backoff())
}

func TestConnBreaker_OpensAtThreshold(t *testing.T) {
	b := newConnBreaker(5, time.Minute)

	for i := 0; i < 4; i++ {
		tripped, _ := b.record()
		assert.False(t, tripped, "failure %d must not trip", i+1)
		assert.False(t, b.isOpen())
	}

	tripped, wait := b.record()
	assert.True(t, tripped)
	assert.True(t, b.isOpen())
	assert.Equal(t, time.Second, wait, "first hold-off starts at one second")
	assert.Equal(t, int32(5), b.failureCount())
}

func TestConnBreaker_BackoffGrowsAndCaps(t *testing.T) {
	b := newConnBreaker(1, 4*time.Second)

	_, wait := b.record()
	assert.Equal(t, time.Second, wait)

	b.halfClose()
	_, wait = b.record()
	assert.Equal(t, 2*time.Second, wait)

	b.halfClose()
	_, wait = b.record()
	assert.Equal(t, 4*time.Second, wait)

	// Capped at maxBackoff from here on.
	b.halfClose()
	_, wait = b.record()
	assert.Equal(t, 4*time.Second, wait)
}

func TestConnBreaker_Reset(t *testing.T) {
	b := newConnBreaker(2, time.Minute)
	b.record()
	b.record()
	require.True(t, b.isOpen())

	b.reset()
	assert.False(t, b.isOpen())
	assert.Equal(t, int32(0), b.failureCount())
	assert.Equal(t, time.Second, b.currentBackoff())
}

func TestConnBreaker_FailuresWhileOpenGrowBackoff(t *testing.T) {
	b := newConnBreaker(2, time.Minute)

	tripped, _ := b.record()
	assert.False(t, tripped)
	tripped, _ = b.record()
	assert.True(t, tripped)

	// Two more failures while open: the breaker stays open and the
	// next hold-off keeps growing, but nothing re-trips.
	tripped, _ = b.record()
	assert.False(t, tripped)
	tripped, wait := b.record()
	assert.False(t, tripped)
	assert.Equal(t, 2*time.Second, wait)
	assert.True(t, b.isOpen())
}

func TestConnect_FailsFastWhenCircuitOpen(t *testing.T) {
	client, err := NewClient("nats://localhost:4222",
		WithBreakerThreshold(2),
		WithHealthInterval(0))
	require.NoError(t, err)

	client.recordDialFailure()
	assert.NotEqual(t, StatusCircuitOpen, client.Status())

	client.recordDialFailure()
	require.Equal(t, StatusCircuitOpen, client.Status())

	start := time.Now()
	err = client.Connect(context.Background())
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Less(t, time.Since(start), 50*time.Millisecond, "open circuit must not dial")
}

func TestCircuit_HalfClosesAfterHoldOff(t *testing.T) {
	client, err := NewClient("nats://localhost:4222",
		WithBreakerThreshold(1),
		WithHealthInterval(0))
	require.NoError(t, err)

	client.recordDialFailure()
	require.Equal(t, StatusCircuitOpen, client.Status())

	// The first hold-off is one second; once it elapses the breaker
	// lets the next attempt through.
	require.Eventually(t, func() bool {
		return !client.breaker.isOpen() && client.Status() == StatusDisconnected
	}, 3*time.Second, 20*time.Millisecond)
}

func TestStatus_Strings(t *testing.T) {
	cases := map[ConnectionStatus]string{
		StatusDisconnected: "disconnected",
		StatusConnecting:   "connecting",
		StatusConnected:    "connected",
		StatusReconnecting: "reconnecting",
		StatusCircuitOpen:  "circuit_open",
	}
	for status, want := range cases {
		assert.Equal(t, want, status.String())
	}
	assert.Equal(t, "unknown", ConnectionStatus(99).String())
}

func TestStatus_Transitions(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.Equal(t, StatusDisconnected, client.Status())

	client.setStatus(StatusConnecting)
	assert.Equal(t, StatusConnecting, client.Status())
	assert.False(t, client.IsHealthy())

	client.setStatus(StatusConnected)
	assert.Equal(t, StatusConnected, client.Status())
	assert.True(t, client.IsHealthy())

	client.setStatus(StatusReconnecting)
	assert.False(t, client.IsHealthy())
}

func TestWaitForConnection(t *testing.T) {
	t.Run("times out while disconnected", func(t *testing.T) {
		client, err := NewClient("nats://localhost:4222")
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		err = client.WaitForConnection(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("returns once healthy", func(t *testing.T) {
		client, err := NewClient("nats://localhost:4222")
		require.NoError(t, err)

		go func() {
			time.Sleep(30 * time.Millisecond)
			client.setStatus(StatusConnected)
		}()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		assert.NoError(t, client.WaitForConnection(ctx))
	})
}

func TestOperations_RequireConnection(t *testing.T) {
	client, err := NewClient("nats://localhost:4222", WithHealthInterval(0))
	require.NoError(t, err)

	ctx := context.Background()

	err = client.Publish(ctx, "ami.event.call.Newchannel", []byte("{}"))
	assert.ErrorIs(t, err, ErrNotConnected)

	err = client.Subscribe(ctx, "ami.event.>", func(context.Context, []byte) {})
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = client.EnsureStream(ctx, jetstream.StreamConfig{
		Name:     "AMI_EVENTS",
		Subjects: []string{"ami.event.>"},
	})
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: "ami_calls"})
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = client.GetKeyValueBucket(ctx, "ami_calls")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestClose_Idempotent(t *testing.T) {
	client, err := NewClient("nats://localhost:4222", WithHealthInterval(0))
	require.NoError(t, err)

	ctx := context.Background()
	assert.NoError(t, client.Close(ctx))
	assert.NoError(t, client.Close(ctx))
	assert.Equal(t, StatusDisconnected, client.Status())
}

func TestClose_ClearsCredentials(t *testing.T) {
	client, err := NewClient("nats://localhost:4222",
		WithCredentials("gateway", "secret"),
		WithToken("token"),
		WithHealthInterval(0))
	require.NoError(t, err)

	require.NoError(t, client.Close(context.Background()))

	assert.Empty(t, client.username)
	assert.Empty(t, client.password)
	assert.Empty(t, client.token)
}

func TestOptions_Applied(t *testing.T) {
	client, err := NewClient("nats://localhost:4222",
		WithName("amistreams-test"),
		WithMaxReconnects(3),
		WithReconnectWait(100*time.Millisecond),
		WithPingInterval(time.Second),
		WithTimeout(2*time.Second),
		WithDrainTimeout(5*time.Second),
		WithBreakerThreshold(7),
		WithMaxBackoff(30*time.Second),
		WithHealthInterval(0),
	)
	require.NoError(t, err)

	assert.Equal(t, "amistreams-test", client.clientName)
	assert.Equal(t, 3, client.maxReconnects)
	assert.Equal(t, 100*time.Millisecond, client.reconnectWait)
	assert.Equal(t, time.Second, client.pingInterval)
	assert.Equal(t, 2*time.Second, client.timeout)
	assert.Equal(t, 5*time.Second, client.drainTimeout)
	assert.Equal(t, int32(7), client.breaker.threshold)
	assert.Equal(t, 30*time.Second, client.breaker.maxBackoff)
	assert.Equal(t, time.Duration(0), client.healthInterval)
}

func TestOptions_BreakerGuardsBadValues(t *testing.T) {
	client, err := NewClient("nats://localhost:4222",
		WithBreakerThreshold(0),
		WithMaxBackoff(time.Millisecond))
	require.NoError(t, err)

	assert.Equal(t, int32(5), client.breaker.threshold)
	assert.Equal(t, time.Minute, client.breaker.maxBackoff)
}

func TestDialOptions_ReflectConfig(t *testing.T) {
	base, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	full, err := NewClient("nats://localhost:4222",
		WithName("gw"),
		WithCredentials("user", "pass"),
		WithToken("tok"),
		WithTLS("client.crt", "client.key", "ca.crt"))
	require.NoError(t, err)

	// Name, user/pass, token, client cert and CA each contribute one
	// option on top of the base set.
	assert.Len(t, full.dialOptions(), len(base.dialOptions())+5)
}

func TestConcurrentStatusAccess(t *testing.T) {
	client, err := NewClient("nats://localhost:4222",
		WithBreakerThreshold(100),
		WithHealthInterval(0))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = client.Status()
				_ = client.IsHealthy()
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = client.Failures()
				_ = client.Backoff()
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				client.recordDialFailure()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(100), client.Failures())
	assert.Equal(t, StatusCircuitOpen, client.Status())
}
