package amiclient

import (
	"bytes"
	"sort"
	"strings"
)

// Well-known frame keys. Keys on the wire are case-sensitive and the
// manager emits them in this exact form.
const (
	keyAction   = "Action"
	keyActionID = "ActionID"
	keyResponse = "Response"
	keyEvent    = "Event"
	keyMessage  = "Message"
	keyOutput   = "Output"
	keyVariable = "Variable"
)

// endCommandMarker terminates the raw payload of a "Response: Follows" reply.
const endCommandMarker = "--END COMMAND--"

// Pair is a single Key/Value line within a frame.
type Pair struct {
	Key   string
	Value string
}

// Frame is one protocol envelope: an ordered list of Key/Value pairs
// delimited on the wire by a blank line. Order and duplicate keys are
// preserved because the protocol allows repetition (list-style replies
// send the same key once per element).
type Frame struct {
	pairs []Pair
	raw   []string // lines without a key separator, kept for command output
}

// Add appends a Key/Value pair, preserving insertion order.
func (f *Frame) Add(key, value string) {
	f.pairs = append(f.pairs, Pair{Key: key, Value: value})
}

// Get returns the first value for key and whether the key was present.
func (f *Frame) Get(key string) (string, bool) {
	for _, p := range f.pairs {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// Value returns the first value for key, or "" when absent.
func (f *Frame) Value(key string) string {
	v, _ := f.Get(key)
	return v
}

// Values returns every value recorded for key, in arrival order.
func (f *Frame) Values(key string) []string {
	var vals []string
	for _, p := range f.pairs {
		if p.Key == key {
			vals = append(vals, p.Value)
		}
	}
	return vals
}

// Has reports whether key is present at least once.
func (f *Frame) Has(key string) bool {
	_, ok := f.Get(key)
	return ok
}

// Pairs returns a copy of all pairs in arrival order.
func (f *Frame) Pairs() []Pair {
	out := make([]Pair, len(f.pairs))
	copy(out, f.pairs)
	return out
}

// Len returns the number of Key/Value pairs in the frame.
func (f *Frame) Len() int {
	return len(f.pairs)
}

// Map flattens the frame into a map keyed by field name. Duplicate keys
// keep their first value; use Values for the full list.
func (f *Frame) Map() map[string]string {
	m := make(map[string]string, len(f.pairs))
	for _, p := range f.pairs {
		if _, exists := m[p.Key]; !exists {
			m[p.Key] = p.Value
		}
	}
	return m
}

// Action is a client-initiated request. Name is the manager action name,
// ID the correlation identifier echoed back in the matching response.
// A zero ID is assigned a generated one at send time.
type Action struct {
	Name      string
	ID        string
	Params    map[string]string
	Variables map[string]string
}

// NewAction builds an action with the given name and parameters.
func NewAction(name string, params map[string]string) Action {
	return Action{Name: name, Params: params}
}

// encode renders the action as wire bytes: one Key: Value line per field,
// a Variable line per channel variable, terminated by a blank line.
// Parameter order is sorted so encoding is deterministic.
func (a Action) encode() []byte {
	var buf bytes.Buffer
	writeLine(&buf, keyAction, a.Name)
	if a.ID != "" {
		writeLine(&buf, keyActionID, a.ID)
	}

	keys := make([]string, 0, len(a.Params))
	for k := range a.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeLine(&buf, k, a.Params[k])
	}

	vars := make([]string, 0, len(a.Variables))
	for k := range a.Variables {
		vars = append(vars, k)
	}
	sort.Strings(vars)
	for _, k := range vars {
		writeLine(&buf, keyVariable, k+"="+a.Variables[k])
	}

	buf.WriteString("\r\n")
	return buf.Bytes()
}

func writeLine(buf *bytes.Buffer, key, value string) {
	buf.WriteString(key)
	buf.WriteString(": ")
	buf.WriteString(sanitizeValue(value))
	buf.WriteString("\r\n")
}

// sanitizeValue strips CR/LF from outbound values so a caller-supplied
// parameter can never terminate a line or inject extra frame fields.
func sanitizeValue(v string) string {
	if !strings.ContainsAny(v, "\r\n") {
		return v
	}
	r := strings.NewReplacer("\r", " ", "\n", " ")
	return r.Replace(v)
}

// ResponseStatus is the typed outcome carried by the Response key.
// Classification happens once at the parse boundary; callers branch on
// this value instead of inspecting free-text messages.
type ResponseStatus int

// Response statuses in the order the protocol defines them.
const (
	ResponseUnknown ResponseStatus = iota
	ResponseSuccess
	ResponseError
	ResponseFollows
	ResponseGoodbye
)

// String returns the wire spelling of the status.
func (s ResponseStatus) String() string {
	switch s {
	case ResponseSuccess:
		return "Success"
	case ResponseError:
		return "Error"
	case ResponseFollows:
		return "Follows"
	case ResponseGoodbye:
		return "Goodbye"
	default:
		return "Unknown"
	}
}

// responseStatusFor maps the Response field value to a typed status.
// The lookup is total: anything unrecognized maps to ResponseUnknown.
func responseStatusFor(value string) ResponseStatus {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "success":
		return ResponseSuccess
	case "error":
		return ResponseError
	case "follows":
		return ResponseFollows
	case "goodbye":
		return ResponseGoodbye
	default:
		return ResponseUnknown
	}
}

// Response is the synchronous reply to one action, matched by ActionID.
type Response struct {
	Status   ResponseStatus
	ActionID string
	Message  string
	Fields   Frame
	Output   []string
}

// Succeeded reports whether the response indicates success. Follows and
// Goodbye are success variants: the first precedes a raw payload, the
// second acknowledges a Logoff.
func (r *Response) Succeeded() bool {
	switch r.Status {
	case ResponseSuccess, ResponseFollows, ResponseGoodbye:
		return true
	default:
		return false
	}
}

// Get returns the first value for key from the response payload.
func (r *Response) Get(key string) string {
	return r.Fields.Value(key)
}

// Event is an unsolicited notification pushed by the server. Seq is a
// per-connection arrival sequence number, monotonically increasing, so
// consumers can detect reordering introduced downstream.
type Event struct {
	Name     string
	Category Category
	Seq      uint64
	Fields   Frame
}

// Get returns the first value for key from the event payload.
func (e Event) Get(key string) string {
	return e.Fields.Value(key)
}

// parseResponse builds a typed Response from a frame carrying a
// Response key. Raw lines collected before the end-of-command marker
// become Output, as do any Output fields newer servers emit.
func parseResponse(f *Frame) *Response {
	r := &Response{
		Status:   responseStatusFor(f.Value(keyResponse)),
		ActionID: f.Value(keyActionID),
		Message:  f.Value(keyMessage),
		Fields:   *f,
	}

	if out := f.Values(keyOutput); len(out) > 0 {
		r.Output = append(r.Output, out...)
	}
	for _, line := range f.raw {
		if line == endCommandMarker {
			continue
		}
		r.Output = append(r.Output, line)
	}
	return r
}

// parseEvent builds a typed Event from a frame carrying an Event key.
func parseEvent(f *Frame, seq uint64) Event {
	name := f.Value(keyEvent)
	return Event{
		Name:     name,
		Category: CategoryOf(name),
		Seq:      seq,
		Fields:   *f,
	}
}
