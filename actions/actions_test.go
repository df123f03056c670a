package actions

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/amistreams/amiclient"
	pkgerrors "github.com/c360/amistreams/errors"
)

// stubSender records the last action and replies with a canned
// response, keeping builder tests off the wire.
type stubSender struct {
	last amiclient.Action
	resp *amiclient.Response
	err  error
}

func (s *stubSender) Send(_ context.Context, action amiclient.Action) (*amiclient.Response, error) {
	s.last = action
	if s.err != nil {
		return nil, s.err
	}
	if s.resp != nil {
		return s.resp, nil
	}
	return &amiclient.Response{Status: amiclient.ResponseSuccess}, nil
}

func okSender() *stubSender {
	return &stubSender{}
}

// Test a dialplan originate assembles the canonical parameter set
func TestAPI_OriginateDialplan(t *testing.T) {
	sender := okSender()
	api := New(sender)

	resp, err := api.Originate(context.Background(), OriginateRequest{
		Channel:  "PJSIP/1001",
		Context:  "outbound",
		Exten:    "18005551234",
		Timeout:  30 * time.Second,
		CallerID: "Support <1001>",
		Account:  "acme",
		Async:    true,
		Variables: map[string]string{
			"TENANT": "acme",
		},
	})
	require.NoError(t, err)
	assert.True(t, resp.Succeeded())

	assert.Equal(t, "Originate", sender.last.Name)
	assert.Equal(t, "PJSIP/1001", sender.last.Params["Channel"])
	assert.Equal(t, "outbound", sender.last.Params["Context"])
	assert.Equal(t, "18005551234", sender.last.Params["Exten"])
	assert.Equal(t, "1", sender.last.Params["Priority"], "priority defaults to 1")
	assert.Equal(t, "30000", sender.last.Params["Timeout"], "timeout in milliseconds")
	assert.Equal(t, "Support <1001>", sender.last.Params["CallerID"])
	assert.Equal(t, "acme", sender.last.Params["Account"])
	assert.Equal(t, "true", sender.last.Params["Async"])
	assert.Equal(t, "acme", sender.last.Variables["TENANT"])
	assert.NotContains(t, sender.last.Params, "Application")
}

// Test an application originate carries Application and Data only
func TestAPI_OriginateApplication(t *testing.T) {
	sender := okSender()
	api := New(sender)

	_, err := api.Originate(context.Background(), OriginateRequest{
		Channel:     "PJSIP/1002",
		Application: "Playback",
		Data:        "tt-monkeys",
	})
	require.NoError(t, err)

	assert.Equal(t, "Playback", sender.last.Params["Application"])
	assert.Equal(t, "tt-monkeys", sender.last.Params["Data"])
	assert.NotContains(t, sender.last.Params, "Context")
	assert.NotContains(t, sender.last.Params, "Priority")
}

// Test originate validation rejects ambiguous or incomplete requests
func TestAPI_OriginateValidation(t *testing.T) {
	api := New(okSender())

	tests := []struct {
		name string
		req  OriginateRequest
	}{
		{"missing channel", OriginateRequest{Context: "a", Exten: "1"}},
		{"no destination", OriginateRequest{Channel: "PJSIP/1001"}},
		{"both destinations", OriginateRequest{
			Channel: "PJSIP/1001", Context: "a", Exten: "1", Application: "Playback",
		}},
		{"context without exten", OriginateRequest{Channel: "PJSIP/1001", Context: "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := api.Originate(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, pkgerrors.IsInvalid(err))
		})
	}
}

// Test hangup includes the cause code only when set
func TestAPI_Hangup(t *testing.T) {
	sender := okSender()
	api := New(sender)

	_, err := api.Hangup(context.Background(), "PJSIP/1001-00000001", 16)
	require.NoError(t, err)
	assert.Equal(t, "Hangup", sender.last.Name)
	assert.Equal(t, "16", sender.last.Params["Cause"])

	_, err = api.Hangup(context.Background(), "PJSIP/1001-00000001", 0)
	require.NoError(t, err)
	assert.NotContains(t, sender.last.Params, "Cause")

	_, err = api.Hangup(context.Background(), "", 0)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsInvalid(err))
}

// Test redirect defaults the priority and keeps ExtraChannel optional
func TestAPI_Redirect(t *testing.T) {
	sender := okSender()
	api := New(sender)

	_, err := api.Redirect(context.Background(), RedirectRequest{
		Channel: "PJSIP/1001-00000001",
		Context: "support",
		Exten:   "2000",
	})
	require.NoError(t, err)
	assert.Equal(t, "1", sender.last.Params["Priority"])
	assert.NotContains(t, sender.last.Params, "ExtraChannel")

	_, err = api.Redirect(context.Background(), RedirectRequest{
		Channel:      "PJSIP/1001-00000001",
		ExtraChannel: "PJSIP/1002-00000002",
		Context:      "support",
		Exten:        "2000",
		Priority:     3,
	})
	require.NoError(t, err)
	assert.Equal(t, "3", sender.last.Params["Priority"])
	assert.Equal(t, "PJSIP/1002-00000002", sender.last.Params["ExtraChannel"])

	_, err = api.Redirect(context.Background(), RedirectRequest{Channel: "x"})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsInvalid(err))
}

// Test queue membership builders
func TestAPI_QueueMembership(t *testing.T) {
	sender := okSender()
	api := New(sender)

	_, err := api.QueueAdd(context.Background(), QueueAddRequest{
		Queue:      "support",
		Interface:  "PJSIP/1001",
		Penalty:    2,
		Paused:     true,
		MemberName: "Alice",
	})
	require.NoError(t, err)
	assert.Equal(t, "QueueAdd", sender.last.Name)
	assert.Equal(t, "2", sender.last.Params["Penalty"])
	assert.Equal(t, "true", sender.last.Params["Paused"])
	assert.Equal(t, "Alice", sender.last.Params["MemberName"])

	_, err = api.QueueRemove(context.Background(), "support", "PJSIP/1001")
	require.NoError(t, err)
	assert.Equal(t, "QueueRemove", sender.last.Name)

	_, err = api.QueueRemove(context.Background(), "support", "")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsInvalid(err))
}

// Test pause always carries an explicit paused flag
func TestAPI_QueuePause(t *testing.T) {
	sender := okSender()
	api := New(sender)

	_, err := api.QueuePause(context.Background(), QueuePauseRequest{
		Interface: "PJSIP/1001",
		Paused:    false,
		Reason:    "lunch over",
	})
	require.NoError(t, err)
	assert.Equal(t, "false", sender.last.Params["Paused"])
	assert.Equal(t, "lunch over", sender.last.Params["Reason"])
	assert.NotContains(t, sender.last.Params, "Queue")

	_, err = api.QueuePause(context.Background(), QueuePauseRequest{
		Interface: "PJSIP/1001",
		Paused:    true,
		Queue:     "support",
	})
	require.NoError(t, err)
	assert.Equal(t, "true", sender.last.Params["Paused"])
	assert.Equal(t, "support", sender.last.Params["Queue"])
}

// Test the broadcast-style queries keep optional scoping parameters
func TestAPI_Queries(t *testing.T) {
	sender := okSender()
	api := New(sender)

	_, err := api.QueueStatus(context.Background(), "")
	require.NoError(t, err)
	assert.NotContains(t, sender.last.Params, "Queue")

	_, err = api.QueueStatus(context.Background(), "support")
	require.NoError(t, err)
	assert.Equal(t, "support", sender.last.Params["Queue"])

	_, err = api.Status(context.Background(), "PJSIP/1001-00000001")
	require.NoError(t, err)
	assert.Equal(t, "PJSIP/1001-00000001", sender.last.Params["Channel"])

	_, err = api.CoreShowChannels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "CoreShowChannels", sender.last.Name)
}

// Test command digests follows output and surfaces server rejection
func TestAPI_Command(t *testing.T) {
	sender := okSender()
	sender.resp = &amiclient.Response{
		Status: amiclient.ResponseFollows,
		Output: []string{"Name/username  Host", "1001/1001  10.0.0.5"},
	}
	api := New(sender)

	out, err := api.Command(context.Background(), "pjsip show endpoints")
	require.NoError(t, err)
	assert.Len(t, out, 2)
	assert.Equal(t, "pjsip show endpoints", sender.last.Params["Command"])

	sender.resp = &amiclient.Response{Status: amiclient.ResponseError, Message: "No such command"}
	_, err = api.Command(context.Background(), "bogus")
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, pkgerrors.ErrActionFailed))

	_, err = api.Command(context.Background(), "")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsInvalid(err))
}

// Test variable read and write, channel-scoped and global
func TestAPI_Variables(t *testing.T) {
	sender := okSender()
	api := New(sender)

	sender.resp = responseWithField("Value", "acme")

	val, err := api.GetVar(context.Background(), "PJSIP/1001-00000001", "TENANT")
	require.NoError(t, err)
	assert.Equal(t, "acme", val)
	assert.Equal(t, "Getvar", sender.last.Name)
	assert.Equal(t, "TENANT", sender.last.Params["Variable"])

	// Global read omits the channel
	_, err = api.GetVar(context.Background(), "", "GLOBAL_TENANT")
	require.NoError(t, err)
	assert.NotContains(t, sender.last.Params, "Channel")

	sender.resp = &amiclient.Response{Status: amiclient.ResponseError, Message: "No such variable"}
	_, err = api.GetVar(context.Background(), "", "MISSING")
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, pkgerrors.ErrActionFailed))

	sender.resp = nil
	_, err = api.SetVar(context.Background(), "PJSIP/1001-00000001", "TENANT", "acme")
	require.NoError(t, err)
	assert.Equal(t, "Setvar", sender.last.Name)
	assert.Equal(t, "acme", sender.last.Params["Value"])

	_, err = api.SetVar(context.Background(), "", "", "x")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsInvalid(err))
}

// Test extension state parses the numeric status code
func TestAPI_ExtensionState(t *testing.T) {
	sender := okSender()
	sender.resp = responseWithField("Status", "8")
	api := New(sender)

	state, err := api.ExtensionState(context.Background(), "2000", "support")
	require.NoError(t, err)
	assert.Equal(t, 8, state)

	sender.resp = responseWithField("Status", "ringing")
	_, err = api.ExtensionState(context.Background(), "2000", "support")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsInvalid(err))
}

// Test builders against a live client and scripted server
func TestAPI_RoundTrip(t *testing.T) {
	srv := amiclient.NewTestServer(t)
	client, err := amiclient.NewClient(srv.Addr(), "admin", "secret")
	require.NoError(t, err)
	require.NoError(t, client.Connect(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = client.Close(ctx)
	})

	api := New(client)

	resp, err := api.Ping(context.Background())
	require.NoError(t, err)
	assert.True(t, resp.Succeeded())

	_, err = api.QueueAdd(context.Background(), QueueAddRequest{
		Queue:     "support",
		Interface: "PJSIP/1001",
	})
	require.NoError(t, err)

	frame, ok := srv.WaitForAction("QueueAdd", time.Second)
	require.True(t, ok, "server should have received QueueAdd")
	assert.Equal(t, "support", frame.Value("Queue"))
	assert.Equal(t, "PJSIP/1001", frame.Value("Interface"))
}

// responseWithField builds a success response carrying one field.
func responseWithField(key, value string) *amiclient.Response {
	var f amiclient.Frame
	f.Add("Response", "Success")
	f.Add(key, value)
	return &amiclient.Response{Status: amiclient.ResponseSuccess, Fields: f}
}
