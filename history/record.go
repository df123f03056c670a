package history

import (
	"strconv"
	"time"

	"github.com/c360/amistreams/amiclient"
	"github.com/c360/amistreams/pkg/timestamp"
)

// Channel state names as the manager reports them in ChannelStateDesc.
const stateUp = "Up"

// Q.931 hangup cause codes the disposition mapping cares about.
const (
	causeNormalClearing = 16
	causeUserBusy       = 17
	causeNoAnswer       = 19
)

// Call dispositions, derived at hangup time.
const (
	DispositionAnswered = "answered"
	DispositionBusy     = "busy"
	DispositionNoAnswer = "no_answer"
	DispositionFailed   = "failed"
)

// maxTransitions caps the state log per record. A channel cycling
// states faster than this is a misbehaving peer, not a call worth
// journaling in full.
const maxTransitions = 64

// Transition is one channel state change and when it was observed,
// in canonical milliseconds.
type Transition struct {
	State string `json:"state"`
	At    int64  `json:"at"`
}

// CallRecord is the folded journal entry for one channel, from
// Newchannel through Hangup.
type CallRecord struct {
	UniqueID      string `json:"unique_id"`
	LinkedID      string `json:"linked_id,omitempty"`
	Channel       string `json:"channel,omitempty"`
	CallerIDNum   string `json:"caller_id_num,omitempty"`
	CallerIDName  string `json:"caller_id_name,omitempty"`
	ConnectedNum  string `json:"connected_num,omitempty"`
	ConnectedName string `json:"connected_name,omitempty"`
	AccountCode   string `json:"account_code,omitempty"`
	Context       string `json:"context,omitempty"`
	Exten         string `json:"exten,omitempty"`

	DialedChannel string `json:"dialed_channel,omitempty"`
	DialedID      string `json:"dialed_id,omitempty"`
	DialString    string `json:"dial_string,omitempty"`
	DialStatus    string `json:"dial_status,omitempty"`
	BridgeID      string `json:"bridge_id,omitempty"`

	StartedAt  int64 `json:"started_at"`
	AnsweredAt int64 `json:"answered_at,omitempty"`
	EndedAt    int64 `json:"ended_at,omitempty"`

	HangupCause int    `json:"hangup_cause,omitempty"`
	HangupText  string `json:"hangup_text,omitempty"`
	Disposition string `json:"disposition,omitempty"`

	Transitions []Transition `json:"transitions,omitempty"`
}

// Finished reports whether the record saw its Hangup.
func (r *CallRecord) Finished() bool {
	return r.EndedAt != 0
}

// Duration returns wall time from first sight to hangup, zero while
// the call is still up.
func (r *CallRecord) Duration() time.Duration {
	if r.EndedAt < r.StartedAt {
		return 0
	}
	return timestamp.Between(r.StartedAt, r.EndedAt)
}

// TalkTime returns the answered portion of the call.
func (r *CallRecord) TalkTime() time.Duration {
	if r.EndedAt < r.AnsweredAt {
		return 0
	}
	return timestamp.Between(r.AnsweredAt, r.EndedAt)
}

// clone returns a copy safe to hand to callers.
func (r *CallRecord) clone() *CallRecord {
	cp := *r
	if len(r.Transitions) > 0 {
		cp.Transitions = make([]Transition, len(r.Transitions))
		copy(cp.Transitions, r.Transitions)
	}
	return &cp
}

// applySnapshot copies the channel identity fields present on an event
// into the record. Later events refresh earlier values; absent keys
// leave the record untouched.
func (r *CallRecord) applySnapshot(evt amiclient.Event) {
	set := func(dst *string, key string) {
		if v := evt.Get(key); v != "" {
			*dst = v
		}
	}
	set(&r.Channel, "Channel")
	set(&r.LinkedID, "Linkedid")
	set(&r.CallerIDNum, "CallerIDNum")
	set(&r.CallerIDName, "CallerIDName")
	set(&r.ConnectedNum, "ConnectedLineNum")
	set(&r.ConnectedName, "ConnectedLineName")
	set(&r.AccountCode, "AccountCode")
	set(&r.Context, "Context")
	set(&r.Exten, "Exten")
}

// applyState appends a transition when the state actually changed and
// stamps the answer time on the first Up.
func (r *CallRecord) applyState(desc string, at int64) {
	if desc == "" {
		return
	}
	n := len(r.Transitions)
	if n == 0 || r.Transitions[n-1].State != desc {
		if n < maxTransitions {
			r.Transitions = append(r.Transitions, Transition{State: desc, At: at})
		}
	}
	if desc == stateUp && r.AnsweredAt == 0 {
		r.AnsweredAt = at
	}
}

// applyDial folds DialBegin/DialEnd fields.
func (r *CallRecord) applyDial(evt amiclient.Event) {
	switch evt.Name {
	case "DialBegin":
		if v := evt.Get("DestChannel"); v != "" {
			r.DialedChannel = v
		}
		if v := evt.Get("DestUniqueid"); v != "" {
			r.DialedID = v
		}
		if v := evt.Get("DialString"); v != "" {
			r.DialString = v
		}
	case "DialEnd":
		if v := evt.Get("DialStatus"); v != "" {
			r.DialStatus = v
		}
	}
}

// finalize stamps the hangup and derives the disposition. The record
// keeps the last bridge it was in.
func (r *CallRecord) finalize(evt amiclient.Event, at int64) {
	r.applySnapshot(evt)
	r.EndedAt = at
	if v := evt.Get("Cause"); v != "" {
		if cause, err := strconv.Atoi(v); err == nil {
			r.HangupCause = cause
		}
	}
	if v := evt.Get("Cause-txt"); v != "" {
		r.HangupText = v
	}

	switch {
	case r.AnsweredAt != 0:
		r.Disposition = DispositionAnswered
	case r.HangupCause == causeUserBusy:
		r.Disposition = DispositionBusy
	case r.HangupCause == 0 || r.HangupCause == causeNormalClearing || r.HangupCause == causeNoAnswer:
		r.Disposition = DispositionNoAnswer
	default:
		r.Disposition = DispositionFailed
	}
}
