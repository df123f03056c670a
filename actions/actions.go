package actions

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/c360/amistreams/amiclient"
	"github.com/c360/amistreams/errors"
)

// Sender is the slice of the manager client the builders need. It is
// satisfied by *amiclient.Client.
type Sender interface {
	Send(ctx context.Context, action amiclient.Action) (*amiclient.Response, error)
}

// API exposes the typed action builders over one manager connection.
type API struct {
	sender Sender
}

// New creates an action API delegating to the given sender.
func New(sender Sender) *API {
	return &API{sender: sender}
}

// requireField rejects a builder call that is missing a mandatory
// request field.
func requireField(method, field, value string) error {
	if value != "" {
		return nil
	}
	return errors.WrapInvalid(
		fmt.Errorf("%s is required", field),
		"Actions", method, "validate request")
}

// Ping round-trips a Ping action.
func (a *API) Ping(ctx context.Context) (*amiclient.Response, error) {
	return a.sender.Send(ctx, amiclient.Action{Name: "Ping"})
}

// Status requests channel status. An empty channel asks for all
// channels; the server answers with a response followed by Status
// events, which arrive through the event router.
func (a *API) Status(ctx context.Context, channel string) (*amiclient.Response, error) {
	params := map[string]string{}
	if channel != "" {
		params["Channel"] = channel
	}
	return a.sender.Send(ctx, amiclient.Action{Name: "Status", Params: params})
}

// OriginateRequest describes an outbound call. Channel is mandatory.
// The call connects either to a dialplan position (Context, Exten,
// Priority) or directly to an Application; exactly one of the two
// destinations must be given.
type OriginateRequest struct {
	Channel     string
	Context     string
	Exten       string
	Priority    int
	Application string
	Data        string
	Timeout     time.Duration
	CallerID    string
	Account     string
	Async       bool
	Variables   map[string]string
}

// Originate places an outbound call.
func (a *API) Originate(ctx context.Context, req OriginateRequest) (*amiclient.Response, error) {
	if err := requireField("Originate", "channel", req.Channel); err != nil {
		return nil, err
	}
	toDialplan := req.Context != "" || req.Exten != ""
	toApplication := req.Application != ""
	if toDialplan == toApplication {
		return nil, errors.WrapInvalid(
			fmt.Errorf("exactly one destination required: context/exten or application"),
			"Actions", "Originate", "validate request")
	}
	if toDialplan {
		if err := requireField("Originate", "context", req.Context); err != nil {
			return nil, err
		}
		if err := requireField("Originate", "exten", req.Exten); err != nil {
			return nil, err
		}
	}

	params := map[string]string{"Channel": req.Channel}
	if toDialplan {
		params["Context"] = req.Context
		params["Exten"] = req.Exten
		priority := req.Priority
		if priority <= 0 {
			priority = 1
		}
		params["Priority"] = strconv.Itoa(priority)
	} else {
		params["Application"] = req.Application
		if req.Data != "" {
			params["Data"] = req.Data
		}
	}
	if req.Timeout > 0 {
		params["Timeout"] = strconv.FormatInt(req.Timeout.Milliseconds(), 10)
	}
	if req.CallerID != "" {
		params["CallerID"] = req.CallerID
	}
	if req.Account != "" {
		params["Account"] = req.Account
	}
	if req.Async {
		params["Async"] = "true"
	}

	return a.sender.Send(ctx, amiclient.Action{
		Name:      "Originate",
		Params:    params,
		Variables: req.Variables,
	})
}

// Hangup terminates a channel. A positive cause is sent as the
// telephony cause code; zero leaves the cause to the server.
func (a *API) Hangup(ctx context.Context, channel string, cause int) (*amiclient.Response, error) {
	if err := requireField("Hangup", "channel", channel); err != nil {
		return nil, err
	}
	params := map[string]string{"Channel": channel}
	if cause > 0 {
		params["Cause"] = strconv.Itoa(cause)
	}
	return a.sender.Send(ctx, amiclient.Action{Name: "Hangup", Params: params})
}

// RedirectRequest moves a live channel to a new dialplan position.
// ExtraChannel optionally redirects the bridged peer as well.
type RedirectRequest struct {
	Channel      string
	ExtraChannel string
	Context      string
	Exten        string
	Priority     int
}

// Redirect transfers one or two live channels to a dialplan position.
func (a *API) Redirect(ctx context.Context, req RedirectRequest) (*amiclient.Response, error) {
	if err := requireField("Redirect", "channel", req.Channel); err != nil {
		return nil, err
	}
	if err := requireField("Redirect", "context", req.Context); err != nil {
		return nil, err
	}
	if err := requireField("Redirect", "exten", req.Exten); err != nil {
		return nil, err
	}
	priority := req.Priority
	if priority <= 0 {
		priority = 1
	}

	params := map[string]string{
		"Channel":  req.Channel,
		"Context":  req.Context,
		"Exten":    req.Exten,
		"Priority": strconv.Itoa(priority),
	}
	if req.ExtraChannel != "" {
		params["ExtraChannel"] = req.ExtraChannel
	}
	return a.sender.Send(ctx, amiclient.Action{Name: "Redirect", Params: params})
}

// QueueAddRequest adds a member interface to a call queue.
type QueueAddRequest struct {
	Queue          string
	Interface      string
	Penalty        int
	Paused         bool
	MemberName     string
	StateInterface string
}

// QueueAdd adds a member to a queue.
func (a *API) QueueAdd(ctx context.Context, req QueueAddRequest) (*amiclient.Response, error) {
	if err := requireField("QueueAdd", "queue", req.Queue); err != nil {
		return nil, err
	}
	if err := requireField("QueueAdd", "interface", req.Interface); err != nil {
		return nil, err
	}

	params := map[string]string{
		"Queue":     req.Queue,
		"Interface": req.Interface,
	}
	if req.Penalty > 0 {
		params["Penalty"] = strconv.Itoa(req.Penalty)
	}
	if req.Paused {
		params["Paused"] = "true"
	}
	if req.MemberName != "" {
		params["MemberName"] = req.MemberName
	}
	if req.StateInterface != "" {
		params["StateInterface"] = req.StateInterface
	}
	return a.sender.Send(ctx, amiclient.Action{Name: "QueueAdd", Params: params})
}

// QueueRemove removes a member from a queue.
func (a *API) QueueRemove(ctx context.Context, queue, iface string) (*amiclient.Response, error) {
	if err := requireField("QueueRemove", "queue", queue); err != nil {
		return nil, err
	}
	if err := requireField("QueueRemove", "interface", iface); err != nil {
		return nil, err
	}
	return a.sender.Send(ctx, amiclient.Action{Name: "QueueRemove", Params: map[string]string{
		"Queue":     queue,
		"Interface": iface,
	}})
}

// QueuePauseRequest pauses or unpauses a queue member. An empty Queue
// applies to every queue the interface belongs to.
type QueuePauseRequest struct {
	Interface string
	Paused    bool
	Queue     string
	Reason    string
}

// QueuePause pauses or resumes a queue member.
func (a *API) QueuePause(ctx context.Context, req QueuePauseRequest) (*amiclient.Response, error) {
	if err := requireField("QueuePause", "interface", req.Interface); err != nil {
		return nil, err
	}
	params := map[string]string{
		"Interface": req.Interface,
		"Paused":    strconv.FormatBool(req.Paused),
	}
	if req.Queue != "" {
		params["Queue"] = req.Queue
	}
	if req.Reason != "" {
		params["Reason"] = req.Reason
	}
	return a.sender.Send(ctx, amiclient.Action{Name: "QueuePause", Params: params})
}

// QueueStatus requests queue state. An empty queue asks for all
// queues; details arrive as QueueParams, QueueMember, and QueueEntry
// events through the event router.
func (a *API) QueueStatus(ctx context.Context, queue string) (*amiclient.Response, error) {
	params := map[string]string{}
	if queue != "" {
		params["Queue"] = queue
	}
	return a.sender.Send(ctx, amiclient.Action{Name: "QueueStatus", Params: params})
}

// CoreShowChannels lists active channels; rows arrive as
// CoreShowChannel events through the event router.
func (a *API) CoreShowChannels(ctx context.Context) (*amiclient.Response, error) {
	return a.sender.Send(ctx, amiclient.Action{Name: "CoreShowChannels"})
}

// Command runs a CLI command on the server and returns its output
// lines from the follows-mode response.
func (a *API) Command(ctx context.Context, command string) ([]string, error) {
	if err := requireField("Command", "command", command); err != nil {
		return nil, err
	}
	resp, err := a.sender.Send(ctx, amiclient.Action{Name: "Command", Params: map[string]string{
		"Command": command,
	}})
	if err != nil {
		return nil, err
	}
	if !resp.Succeeded() {
		return nil, errors.Wrap(
			fmt.Errorf("%w: %s", errors.ErrActionFailed, resp.Message),
			"Actions", "Command", "run command")
	}
	return resp.Output, nil
}

// GetVar reads a channel variable, or a global variable when channel
// is empty.
func (a *API) GetVar(ctx context.Context, channel, variable string) (string, error) {
	if err := requireField("GetVar", "variable", variable); err != nil {
		return "", err
	}
	params := map[string]string{"Variable": variable}
	if channel != "" {
		params["Channel"] = channel
	}
	resp, err := a.sender.Send(ctx, amiclient.Action{Name: "Getvar", Params: params})
	if err != nil {
		return "", err
	}
	if !resp.Succeeded() {
		return "", errors.Wrap(
			fmt.Errorf("%w: %s", errors.ErrActionFailed, resp.Message),
			"Actions", "GetVar", "read variable")
	}
	return resp.Get("Value"), nil
}

// SetVar writes a channel variable, or a global variable when channel
// is empty.
func (a *API) SetVar(ctx context.Context, channel, variable, value string) (*amiclient.Response, error) {
	if err := requireField("SetVar", "variable", variable); err != nil {
		return nil, err
	}
	params := map[string]string{
		"Variable": variable,
		"Value":    value,
	}
	if channel != "" {
		params["Channel"] = channel
	}
	return a.sender.Send(ctx, amiclient.Action{Name: "Setvar", Params: params})
}

// ExtensionState reports the device state behind a dialplan extension
// as the numeric state code from the response.
func (a *API) ExtensionState(ctx context.Context, exten, dialplanContext string) (int, error) {
	if err := requireField("ExtensionState", "exten", exten); err != nil {
		return 0, err
	}
	if err := requireField("ExtensionState", "context", dialplanContext); err != nil {
		return 0, err
	}
	resp, err := a.sender.Send(ctx, amiclient.Action{Name: "ExtensionState", Params: map[string]string{
		"Exten":   exten,
		"Context": dialplanContext,
	}})
	if err != nil {
		return 0, err
	}
	if !resp.Succeeded() {
		return 0, errors.Wrap(
			fmt.Errorf("%w: %s", errors.ErrActionFailed, resp.Message),
			"Actions", "ExtensionState", "query state")
	}
	state, err := strconv.Atoi(resp.Get("Status"))
	if err != nil {
		return 0, errors.WrapInvalid(
			fmt.Errorf("unparseable state %q", resp.Get("Status")),
			"Actions", "ExtensionState", "parse response")
	}
	return state, nil
}
